package listing

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/normalize"
)

var errMissingTitle = errors.New("row has no title link")

// Standard parses the issue catalogue layout: one dd.row per article with
// span.name, span.author and span.company (page range) children.
type Standard struct{}

// Variant implements Strategy.
func (Standard) Variant() Variant { return VariantStandard }

// Matches implements Strategy.
func (Standard) Matches(doc *goquery.Document) bool {
	return doc.Find("dd.row").Length() > 0
}

// Rows implements Strategy.
func (Standard) Rows(doc *goquery.Document) *goquery.Selection {
	return doc.Find("dd.row")
}

// Stub implements Strategy.
func (Standard) Stub(row *goquery.Selection) (harvest.ArticleStub, error) {
	link := row.Find("span.name a").First()
	title := normalize.CleanText(link.Text())
	if link.Length() == 0 || title == "" {
		return harvest.ArticleStub{}, errMissingTitle
	}
	href, _ := link.Attr("href")
	return harvest.ArticleStub{
		Title:     title,
		Authors:   normalize.SplitAuthors(row.Find("span.author").First().Text()),
		Pages:     normalize.CleanText(row.Find("span.company").First().Text()),
		DetailURL: href,
	}, nil
}

// Alternate parses the tabular search-result layout.
type Alternate struct{}

// Variant implements Strategy.
func (Alternate) Variant() Variant { return VariantAlternate }

// Matches implements Strategy.
func (Alternate) Matches(doc *goquery.Document) bool {
	return doc.Find("table.result-table-list").Length() > 0
}

// Rows implements Strategy.
func (Alternate) Rows(doc *goquery.Document) *goquery.Selection {
	return doc.Find("table.result-table-list tbody tr")
}

// Stub implements Strategy.
func (Alternate) Stub(row *goquery.Selection) (harvest.ArticleStub, error) {
	link := row.Find("td.name a").First()
	title := normalize.CleanText(link.Text())
	if link.Length() == 0 || title == "" {
		return harvest.ArticleStub{}, errMissingTitle
	}
	href, _ := link.Attr("href")

	cell := row.Find("td.author").First()
	var authors []string
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		if name := normalize.CleanText(a.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) == 0 {
		authors = normalize.SplitAuthors(cell.Text())
	}

	return harvest.ArticleStub{
		Title:     title,
		Authors:   authors,
		Pages:     normalize.CleanText(strings.TrimPrefix(strings.TrimSpace(row.Find("td.pages").First().Text()), "pp.")),
		DetailURL: href,
	}, nil
}
