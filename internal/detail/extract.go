package detail

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/normalize"
)

// ErrNoAbstract means the detail page parsed but carried no abstract.
var ErrNoAbstract = errors.New("detail page has no abstract")

var abstractSelectors = []string{"#ChDivSummary", "span.abstract-text", "div.abstract-text", "div.abstract"}

var abstractPrefixes = []string{"摘要：", "摘要:", "摘要", "Abstract:", "Abstract："}

// labeled rows ("DOI：10.x", "基金资助：...") keyed by their label prefix.
var (
	doiLabels  = []string{"DOI：", "DOI:"}
	fundLabels = []string{"基金资助：", "基金资助:", "基金：", "Fund:"}
)

// Extract pulls the abstract and optional extras out of a detail page.
// A page without an abstract is a *harvest.ParseError.
func Extract(raw harvest.RawDocument) (harvest.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return harvest.Detail{}, &harvest.ParseError{URL: raw.URL, Index: -1, Err: fmt.Errorf("parse document: %w", err)}
	}

	d := harvest.Detail{
		Abstract: abstract(doc),
		Keywords: keywords(doc),
		DOI:      labeled(doc, doiLabels, `meta[name="citation_doi"]`),
		Fund:     labeled(doc, fundLabels, ""),
	}
	if d.Abstract == "" {
		return harvest.Detail{}, &harvest.ParseError{URL: raw.URL, Index: -1, Err: ErrNoAbstract}
	}
	return d, nil
}

func abstract(doc *goquery.Document) string {
	for _, sel := range abstractSelectors {
		if text := normalize.CleanText(doc.Find(sel).First().Text()); text != "" {
			return trimPrefixes(text, abstractPrefixes)
		}
	}
	for _, name := range []string{"citation_abstract", "description"} {
		if content, ok := doc.Find(fmt.Sprintf(`meta[name=%q]`, name)).First().Attr("content"); ok {
			if text := normalize.CleanText(content); text != "" {
				return trimPrefixes(text, abstractPrefixes)
			}
		}
	}
	return ""
}

func keywords(doc *goquery.Document) string {
	var words []string
	doc.Find("p.keywords a, .keywords a").Each(func(_ int, a *goquery.Selection) {
		words = append(words, normalize.SplitKeywords(a.Text())...)
	})
	if len(words) == 0 {
		if content, ok := doc.Find(`meta[name="citation_keywords"]`).First().Attr("content"); ok {
			words = normalize.SplitKeywords(content)
		}
	}
	return normalize.JoinKeywords(words)
}

// labeled finds a "Label：value" row, falling back to a meta tag.
func labeled(doc *goquery.Document, labels []string, metaSelector string) string {
	var value string
	doc.Find("li, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := normalize.CleanText(s.Text())
		for _, label := range labels {
			if strings.HasPrefix(text, label) {
				value = strings.TrimSpace(strings.TrimPrefix(text, label))
				return false
			}
		}
		return true
	})
	if value == "" && metaSelector != "" {
		if content, ok := doc.Find(metaSelector).First().Attr("content"); ok {
			value = normalize.CleanText(content)
		}
	}
	return value
}

func trimPrefixes(text string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(strings.TrimPrefix(text, p))
		}
	}
	return text
}
