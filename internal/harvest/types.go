package harvest

import (
	"fmt"
	"net/http"
	"time"
)

// PageKind tells the fetch layer which rendering strategy a page warrants.
type PageKind string

// Supported page kinds.
const (
	PageListing PageKind = "listing"
	PageDetail  PageKind = "detail"
)

// FetchRequest captures everything needed to fetch one portal page.
type FetchRequest struct {
	URL     string
	Kind    PageKind
	Headers http.Header
	// Interactions are JavaScript snippets evaluated in order after the page
	// loads. Only browser-backed transports honor them.
	Interactions []string
}

// RawDocument is the body of a fetched page plus transport metadata.
type RawDocument struct {
	URL        string
	Kind       PageKind
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// ArticleStub is the minimal article metadata scraped from a listing page.
type ArticleStub struct {
	Title     string
	Authors   []string
	Pages     string
	DetailURL string
}

// Detail holds what an article's detail page contributed.
type Detail struct {
	Abstract string
	Keywords string
	DOI      string
	Fund     string
}

// Paper is the persisted unit of an issue dataset.
type Paper struct {
	Year        int     `json:"year"`
	Issue       int     `json:"issue"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Pages       string  `json:"pages"`
	AbstractURL string  `json:"abstract_url"`
	Abstract    *string `json:"abstract,omitempty"`
	Keywords    string  `json:"keywords,omitempty"`
	DOI         string  `json:"doi,omitempty"`
	Fund        string  `json:"fund,omitempty"`

	// Owned by the external annotator.
	InterestMatch  *bool    `json:"interest_match,omitempty"`
	MatchReasons   []string `json:"match_reasons,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// Key identifies the same logical article across runs.
type Key struct {
	Year   int
	Issue  int
	Title  string
	Author string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d %q by %q", k.Year, k.Issue, k.Title, k.Author)
}

// Key returns the paper's identity key.
func (p Paper) Key() Key {
	return Key{Year: p.Year, Issue: p.Issue, Title: p.Title, Author: p.Author}
}

// HasAbstract reports whether enrichment produced an abstract for the paper.
func (p Paper) HasAbstract() bool {
	return p.Abstract != nil
}

// Annotated reports whether any annotation field is set.
func (p Paper) Annotated() bool {
	return p.InterestMatch != nil || p.MatchReasons != nil || p.RelevanceScore != nil
}

// IssueDataset is the ordered set of papers persisted for one journal issue.
type IssueDataset []Paper

// Validate enforces unique identity keys.
func (d IssueDataset) Validate() error {
	seen := make(map[Key]struct{}, len(d))
	for i, p := range d {
		k := p.Key()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("paper %d: duplicate identity key %s", i, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// AnnotationProblems lists annotation values outside their documented range.
// Annotation fields belong to the annotator, so these are reported, not
// rejected.
func (d IssueDataset) AnnotationProblems() []string {
	var out []string
	for i, p := range d {
		if p.RelevanceScore != nil && (*p.RelevanceScore < 0 || *p.RelevanceScore > 1) {
			out = append(out, fmt.Sprintf("paper %d (%s): relevance_score %v outside [0,1]", i, p.Key(), *p.RelevanceScore))
		}
	}
	return out
}

// DatasetRef addresses one persisted issue dataset.
type DatasetRef struct {
	Journal string
	Year    int
	Issue   int
}

func (r DatasetRef) String() string {
	return fmt.Sprintf("%s/%d/%02d", r.Journal, r.Year, r.Issue)
}
