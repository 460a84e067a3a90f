// Package merge combines a fresh harvest of an issue with the previously
// persisted dataset without losing annotation work.
package merge

import (
	"slices"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Options tunes a merge.
type Options struct {
	// KeepUnmatched retains previous papers that the fresh harvest did not
	// produce instead of dropping them. Used when the listing was incomplete
	// so an unreachable page cannot delete its papers.
	KeepUnmatched bool
}

// Report describes what a merge did. Keys are listed in dataset order.
type Report struct {
	Inserted int `json:"inserted"`
	Matched  int `json:"matched"`
	// Drifted counts matched papers whose content fields changed.
	Drifted     int           `json:"drifted"`
	DriftedKeys []harvest.Key `json:"drifted_keys,omitempty"`
	// Dropped are previous papers absent from the fresh harvest.
	Dropped []harvest.Key `json:"dropped,omitempty"`
	// Retained are previous papers kept because of KeepUnmatched.
	Retained []harvest.Key `json:"retained,omitempty"`
	// Duplicates are fresh papers discarded because an earlier fresh paper
	// had the same identity key.
	Duplicates []harvest.Key `json:"duplicates,omitempty"`
}

// Merge returns the new dataset for an issue. Fresh papers keep their order.
// A fresh paper matching a previous one by identity key takes the previous
// annotation fields, and the previous abstract, keywords, DOI, fund and
// abstract URL wherever the fresh value is absent. Neither input is mutated.
func Merge(previous harvest.IssueDataset, fresh []harvest.Paper, opts Options) (harvest.IssueDataset, Report) {
	var report Report

	prevByKey := make(map[harvest.Key]int, len(previous))
	for i, p := range previous {
		if _, dup := prevByKey[p.Key()]; !dup {
			prevByKey[p.Key()] = i
		}
	}

	out := make(harvest.IssueDataset, 0, len(fresh))
	seen := make(map[harvest.Key]struct{}, len(fresh))
	for _, f := range fresh {
		key := f.Key()
		if _, dup := seen[key]; dup {
			report.Duplicates = append(report.Duplicates, key)
			continue
		}
		seen[key] = struct{}{}

		i, ok := prevByKey[key]
		if !ok {
			report.Inserted++
			out = append(out, clonePaper(f))
			continue
		}
		prev := previous[i]
		merged := mergePaper(prev, f)
		report.Matched++
		if drifted(prev, merged) {
			report.Drifted++
			report.DriftedKeys = append(report.DriftedKeys, key)
		}
		out = append(out, merged)
	}

	for _, p := range previous {
		key := p.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		// Mark handled so duplicate previous entries are reported once.
		seen[key] = struct{}{}
		if opts.KeepUnmatched {
			report.Retained = append(report.Retained, key)
			out = append(out, clonePaper(p))
			continue
		}
		report.Dropped = append(report.Dropped, key)
	}
	return out, report
}

func mergePaper(prev, fresh harvest.Paper) harvest.Paper {
	merged := clonePaper(fresh)
	merged.InterestMatch = cloneBool(prev.InterestMatch)
	merged.MatchReasons = slices.Clone(prev.MatchReasons)
	merged.RelevanceScore = cloneFloat(prev.RelevanceScore)

	if merged.Abstract == nil {
		merged.Abstract = cloneString(prev.Abstract)
	}
	merged.AbstractURL = orPrevious(merged.AbstractURL, prev.AbstractURL)
	merged.Keywords = orPrevious(merged.Keywords, prev.Keywords)
	merged.DOI = orPrevious(merged.DOI, prev.DOI)
	merged.Fund = orPrevious(merged.Fund, prev.Fund)
	return merged
}

// drifted reports whether a content field changed between prev and the
// merged result. Annotation fields are not content.
func drifted(prev, merged harvest.Paper) bool {
	return prev.Pages != merged.Pages ||
		prev.AbstractURL != merged.AbstractURL ||
		derefString(prev.Abstract) != derefString(merged.Abstract) ||
		prev.Keywords != merged.Keywords ||
		prev.DOI != merged.DOI ||
		prev.Fund != merged.Fund
}

func orPrevious(fresh, prev string) string {
	if fresh == "" {
		return prev
	}
	return fresh
}

func clonePaper(p harvest.Paper) harvest.Paper {
	p.Abstract = cloneString(p.Abstract)
	p.InterestMatch = cloneBool(p.InterestMatch)
	p.MatchReasons = slices.Clone(p.MatchReasons)
	p.RelevanceScore = cloneFloat(p.RelevanceScore)
	return p
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
