// Package detector decides when a statically fetched listing page must be
// re-fetched through the headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// ListingMarkers are byte patterns that prove article rows were rendered
	// server side. Any match vetoes promotion.
	ListingMarkers [][]byte
}

// DefaultListingMarkers match the row containers of the supported listing layouts.
var DefaultListingMarkers = [][]byte{
	[]byte(`<dd class="row`),
	[]byte(`result-table-list`),
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, ListingMarkers: DefaultListingMarkers}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// issueNavMarkers appear on portals that load an issue's rows only after the
// year/issue navigation is clicked.
var issueNavMarkers = [][]byte{
	[]byte(`id="yq`),
	[]byte(`class="yearissuepage`),
}

var promotionMarkers = append(append([][]byte{}, spaMarkers...), issueNavMarkers...)

// ShouldPromote decides whether a rendered fetch is required.
func (h *Heuristic) ShouldPromote(doc harvest.RawDocument) bool {
	if doc.StatusCode != 200 || doc.Rendered {
		return false
	}
	body := doc.Body
	if len(body) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range h.ListingMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return false
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range promotionMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
