// Package listing turns an issue's listing pages into ordered article stubs.
//
// Portal layouts differ, so parsing is a strategy chosen per page by
// detecting which layout the document uses. Every strategy honors the same
// contract: stubs in natural listing order, one error per unparseable row,
// and an optional link to the next page.
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Variant names a supported listing layout.
type Variant string

// Known variants.
const (
	VariantStandard  Variant = "standard"
	VariantAlternate Variant = "alternate"
)

// ErrUnknownLayout is returned when no strategy recognizes a page.
var ErrUnknownLayout = errors.New("unrecognized listing layout")

// Strategy parses one listing layout.
type Strategy interface {
	Variant() Variant
	// Matches reports whether doc uses this layout.
	Matches(doc *goquery.Document) bool
	// Rows returns the article rows in listing order.
	Rows(doc *goquery.Document) *goquery.Selection
	// Stub extracts one article from a row. Links are returned as found.
	Stub(row *goquery.Selection) (harvest.ArticleStub, error)
}

// Parser selects a strategy per page and extracts stubs with it.
type Parser struct {
	strategies []Strategy
}

// NewParser builds a parser trying strategies in order. With none given it
// uses the standard and alternate layouts.
func NewParser(strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = []Strategy{Standard{}, Alternate{}}
	}
	return &Parser{strategies: strategies}
}

// Page is one parsed listing page.
type Page struct {
	URL     string
	Variant Variant
	stubs   []harvest.ArticleStub
	errs    []error
	next    string
}

// Stubs returns the page's stubs in listing order along with the row-level
// parse errors, each a *harvest.ParseError carrying the row index.
func (p *Page) Stubs() ([]harvest.ArticleStub, []error) {
	return p.stubs, p.errs
}

// HasNextPage reports whether the page links to a following page.
func (p *Page) HasNextPage() bool {
	return p.next != ""
}

// NextPageRequest returns the request for the following page. Only valid
// when HasNextPage is true.
func (p *Page) NextPageRequest() harvest.FetchRequest {
	return harvest.FetchRequest{URL: p.next, Kind: harvest.PageListing}
}

// Parse extracts the stubs of one listing page. A page-level failure is a
// *harvest.ParseError with Index -1.
func (p *Parser) Parse(raw harvest.RawDocument) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, &harvest.ParseError{URL: raw.URL, Index: -1, Err: fmt.Errorf("parse document: %w", err)}
	}
	base, _ := url.Parse(raw.URL)

	strategy := p.detect(doc)
	if strategy == nil {
		return nil, &harvest.ParseError{URL: raw.URL, Index: -1, Err: ErrUnknownLayout}
	}

	page := &Page{URL: raw.URL, Variant: strategy.Variant()}
	strategy.Rows(doc).Each(func(i int, row *goquery.Selection) {
		stub, err := strategy.Stub(row)
		if err != nil {
			page.errs = append(page.errs, &harvest.ParseError{URL: raw.URL, Index: i, Err: err})
			return
		}
		stub.DetailURL = resolve(base, stub.DetailURL)
		page.stubs = append(page.stubs, stub)
	})
	page.next = resolve(base, nextLink(doc))
	if page.next == raw.URL {
		page.next = ""
	}
	return page, nil
}

func (p *Parser) detect(doc *goquery.Document) Strategy {
	for _, s := range p.strategies {
		if s.Matches(doc) {
			return s
		}
	}
	return nil
}

var nextSelectors = []string{"a#pageNext", "a.next", `a[rel="next"]`}

func nextLink(doc *goquery.Document) string {
	for _, sel := range nextSelectors {
		link := doc.Find(sel).First()
		if link.Length() == 0 {
			continue
		}
		if link.HasClass("disabled") {
			return ""
		}
		href, _ := link.Attr("href")
		return href
	}
	return ""
}

// resolve makes href absolute against base. Script and fragment-only links
// resolve to "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
