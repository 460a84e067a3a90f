// Package normalize maps article stubs and detail data onto the persisted
// Paper schema. Everything here is pure and idempotent.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// AuthorDelimiter joins author names in Paper.Author.
const AuthorDelimiter = ";"

// Normalizer stamps papers with their issue coordinates.
type Normalizer struct {
	Year  int
	Issue int
}

// Normalize builds the Paper for one stub. A nil or empty-abstract detail
// leaves the abstract absent. Annotation fields are never set.
func (n Normalizer) Normalize(stub harvest.ArticleStub, detail *harvest.Detail) harvest.Paper {
	p := harvest.Paper{
		Year:        n.Year,
		Issue:       n.Issue,
		Title:       CleanText(stub.Title),
		Author:      JoinAuthors(stub.Authors),
		Pages:       Pages(stub.Pages),
		AbstractURL: strings.TrimSpace(stub.DetailURL),
	}
	if detail == nil {
		return p
	}
	if abstract := CleanText(detail.Abstract); abstract != "" {
		p.Abstract = &abstract
	}
	p.Keywords = JoinKeywords(SplitKeywords(detail.Keywords))
	p.DOI = CleanText(detail.DOI)
	p.Fund = CleanText(detail.Fund)
	return p
}

// CleanText trims s and collapses every run of whitespace, including
// no-break and ideographic spaces, into one ASCII space.
func CleanText(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\u00a0' || r == '\u3000' || r == '\u200b' || r == '\ufeff'
}

// SplitAuthors splits a raw author field on ASCII or full-width semicolons,
// dropping empty names.
func SplitAuthors(raw string) []string {
	return splitOn(raw, func(r rune) bool { return r == ';' || r == '\uff1b' })
}

// JoinAuthors cleans each name and joins the non-empty ones with
// AuthorDelimiter. SplitAuthors(JoinAuthors(a)) returns the cleaned names.
func JoinAuthors(authors []string) string {
	cleaned := make([]string, 0, len(authors))
	for _, a := range authors {
		cleaned = append(cleaned, SplitAuthors(a)...)
	}
	return strings.Join(cleaned, AuthorDelimiter)
}

// SplitKeywords splits a keyword field on semicolons or commas of either width.
func SplitKeywords(raw string) []string {
	return splitOn(raw, func(r rune) bool {
		return r == ';' || r == '\uff1b' || r == ',' || r == '\uff0c'
	})
}

// JoinKeywords joins keywords with AuthorDelimiter.
func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, AuthorDelimiter)
}

var pageRangeSep = regexp.MustCompile(`\s*[-\x{2013}\x{2014}~]\s*`)

// Pages normalizes a page range: whitespace is cleaned and range
// separators become a bare "-".
func Pages(raw string) string {
	return pageRangeSep.ReplaceAllString(CleanText(raw), "-")
}

func splitOn(raw string, sep func(rune) bool) []string {
	parts := strings.FieldsFunc(raw, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if cleaned := CleanText(part); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// NormalizeAll maps stubs and their details, index for index, onto Papers.
// details may be shorter than stubs; missing entries mean no detail.
func (n Normalizer) NormalizeAll(stubs []harvest.ArticleStub, details []*harvest.Detail) []harvest.Paper {
	out := make([]harvest.Paper, len(stubs))
	for i, stub := range stubs {
		var d *harvest.Detail
		if i < len(details) {
			d = details[i]
		}
		out[i] = n.Normalize(stub, d)
	}
	return out
}
