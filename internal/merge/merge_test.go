package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

func ptr[T any](v T) *T { return &v }

func paper(i int) harvest.Paper {
	return harvest.Paper{
		Year:        2025,
		Issue:       6,
		Title:       fmt.Sprintf("Paper %d", i),
		Author:      fmt.Sprintf("Author %d;Coauthor", i),
		Pages:       fmt.Sprintf("%d-%d", i*10, i*10+9),
		AbstractURL: fmt.Sprintf("https://journal.example.com/detail/%d", i),
	}
}

func annotated(p harvest.Paper, match bool) harvest.Paper {
	p.InterestMatch = ptr(match)
	p.MatchReasons = []string{"topic overlap"}
	p.RelevanceScore = ptr(0.8)
	return p
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	previous := harvest.IssueDataset{
		annotated(paper(1), true),
		paper(2),
		annotated(paper(3), false),
	}
	previous[1].Abstract = ptr("existing abstract")

	fresh := make([]harvest.Paper, len(previous))
	for i, p := range previous {
		fresh[i] = p
		fresh[i].InterestMatch, fresh[i].MatchReasons, fresh[i].RelevanceScore = nil, nil, nil
	}

	merged, report := Merge(previous, fresh, Options{})
	require.Equal(t, previous, merged)
	assert.Equal(t, 3, report.Matched)
	assert.Zero(t, report.Inserted)
	assert.Zero(t, report.Drifted)
	assert.Empty(t, report.Dropped)

	again, _ := Merge(merged, fresh, Options{})
	require.Equal(t, merged, again)
}

func TestMergePreservesAnnotationsAndAdoptsFreshAbstract(t *testing.T) {
	t.Parallel()

	prev := annotated(paper(1), true)
	prev.Abstract = ptr("old abstract")
	fresh := paper(1)
	fresh.Abstract = ptr("new abstract")

	merged, report := Merge(harvest.IssueDataset{prev}, []harvest.Paper{fresh}, Options{})
	require.Len(t, merged, 1)
	assert.Equal(t, "new abstract", *merged[0].Abstract)
	assert.Equal(t, true, *merged[0].InterestMatch)
	assert.Equal(t, []string{"topic overlap"}, merged[0].MatchReasons)
	assert.InDelta(t, 0.8, *merged[0].RelevanceScore, 1e-9)
	assert.Equal(t, 1, report.Drifted)
	assert.Equal(t, []harvest.Key{prev.Key()}, report.DriftedKeys)
}

func TestMergeNeverRegressesAbstract(t *testing.T) {
	t.Parallel()

	prev := paper(1)
	prev.Abstract = ptr("kept abstract")
	prev.Keywords = "a;b"
	prev.DOI = "10.1/x"
	fresh := paper(1)

	merged, report := Merge(harvest.IssueDataset{prev}, []harvest.Paper{fresh}, Options{})
	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].Abstract)
	assert.Equal(t, "kept abstract", *merged[0].Abstract)
	assert.Equal(t, "a;b", merged[0].Keywords)
	assert.Equal(t, "10.1/x", merged[0].DOI)
	assert.Zero(t, report.Drifted)
}

func TestMergeInsertsAndDrops(t *testing.T) {
	t.Parallel()

	previous := harvest.IssueDataset{annotated(paper(1), true), paper(2)}
	fresh := []harvest.Paper{paper(3), paper(1)}

	merged, report := Merge(previous, fresh, Options{})
	require.Len(t, merged, 2)
	assert.Equal(t, "Paper 3", merged[0].Title, "fresh order is canonical")
	assert.Nil(t, merged[0].InterestMatch)
	assert.True(t, *merged[1].InterestMatch)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, []harvest.Key{paper(2).Key()}, report.Dropped)
	require.NoError(t, merged.Validate())
}

func TestMergeKeepUnmatchedRetainsPrevious(t *testing.T) {
	t.Parallel()

	previous := harvest.IssueDataset{paper(1), annotated(paper(2), true)}
	merged, report := Merge(previous, []harvest.Paper{paper(1)}, Options{KeepUnmatched: true})

	require.Len(t, merged, 2)
	assert.Equal(t, previous[1], merged[1])
	assert.Empty(t, report.Dropped)
	assert.Equal(t, []harvest.Key{paper(2).Key()}, report.Retained)
}

func TestMergeDiscardsFreshDuplicates(t *testing.T) {
	t.Parallel()

	first := paper(1)
	first.Pages = "1-2"
	second := paper(1)
	second.Pages = "3-4"

	merged, report := Merge(nil, []harvest.Paper{first, second, paper(2)}, Options{})
	require.Len(t, merged, 2)
	assert.Equal(t, "1-2", merged[0].Pages)
	assert.Equal(t, []harvest.Key{first.Key()}, report.Duplicates)
	assert.Equal(t, 2, report.Inserted)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	t.Parallel()

	prev := annotated(paper(1), true)
	prev.Abstract = ptr("text")
	previous := harvest.IssueDataset{prev}

	merged, _ := Merge(previous, []harvest.Paper{paper(1)}, Options{})
	*merged[0].Abstract = "changed"
	merged[0].MatchReasons[0] = "changed"
	*merged[0].InterestMatch = false

	assert.Equal(t, "text", *previous[0].Abstract)
	assert.Equal(t, "topic overlap", previous[0].MatchReasons[0])
	assert.True(t, *previous[0].InterestMatch)
}

func TestMergeEmptyPrevious(t *testing.T) {
	t.Parallel()

	merged, report := Merge(nil, nil, Options{})
	assert.Empty(t, merged)
	assert.Equal(t, Report{}, report)
}
