package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	n := Normalizer{Year: 2025, Issue: 6}
	stub := harvest.ArticleStub{
		Title:     "  数字经济　与\n  产业升级 ",
		Authors:   []string{" 张三 ", "李四；王五", ""},
		Pages:     " 12 – 20 ",
		DetailURL: " https://journal.example.com/detail/1 ",
	}

	p := n.Normalize(stub, nil)
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, 6, p.Issue)
	assert.Equal(t, "数字经济 与 产业升级", p.Title)
	assert.Equal(t, "张三;李四;王五", p.Author)
	assert.Equal(t, "12-20", p.Pages)
	assert.Equal(t, "https://journal.example.com/detail/1", p.AbstractURL)
	assert.Nil(t, p.Abstract)
	assert.False(t, p.Annotated())

	p = n.Normalize(stub, &harvest.Detail{Abstract: "  摘要 正文 ", Keywords: "数字经济；产业升级, 创新", DOI: " 10.1000/x ", Fund: ""})
	require.NotNil(t, p.Abstract)
	assert.Equal(t, "摘要 正文", *p.Abstract)
	assert.Equal(t, "数字经济;产业升级;创新", p.Keywords)
	assert.Equal(t, "10.1000/x", p.DOI)
	assert.Empty(t, p.Fund)
}

func TestNormalizeEmptyAbstractIsAbsent(t *testing.T) {
	t.Parallel()

	p := Normalizer{Year: 2025, Issue: 1}.Normalize(harvest.ArticleStub{Title: "T"}, &harvest.Detail{Abstract: " \n "})
	assert.Nil(t, p.Abstract)
	assert.False(t, p.HasAbstract())
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	n := Normalizer{Year: 2024, Issue: 12}
	stub := harvest.ArticleStub{Title: "A\tB", Authors: []string{"X;Y"}, Pages: "1 - 2"}
	detail := &harvest.Detail{Abstract: "abc  def"}

	first := n.Normalize(stub, detail)
	second := n.Normalize(stub, detail)
	require.Equal(t, first, second)
	require.Equal(t, first.Key(), second.Key())

	// Feeding normalized output back in is a fixed point.
	again := n.Normalize(harvest.ArticleStub{
		Title:     first.Title,
		Authors:   SplitAuthors(first.Author),
		Pages:     first.Pages,
		DetailURL: first.AbstractURL,
	}, &harvest.Detail{Abstract: *first.Abstract})
	require.Equal(t, first, again)
}

func TestAuthorsRoundTrip(t *testing.T) {
	t.Parallel()

	authors := []string{"Smith, J.", "李四", "Ng A"}
	joined := JoinAuthors(authors)
	assert.Equal(t, "Smith, J.;李四;Ng A", joined)
	assert.Equal(t, authors, SplitAuthors(joined))
	assert.Empty(t, SplitAuthors(" ; ；"))
	assert.Empty(t, JoinAuthors(nil))
}

func TestCleanTextAndPages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", CleanText(" a \t b\u200bc "))
	assert.Equal(t, "", CleanText(" \u3000 "))
	assert.Equal(t, "101-118", Pages("101 ~ 118"))
	assert.Equal(t, "7", Pages(" 7 "))
}

func TestNormalizeAll(t *testing.T) {
	t.Parallel()

	stubs := []harvest.ArticleStub{{Title: "a"}, {Title: "b"}, {Title: "c"}}
	details := []*harvest.Detail{{Abstract: "x"}, nil}

	papers := Normalizer{Year: 2025, Issue: 2}.NormalizeAll(stubs, details)
	require.Len(t, papers, 3)
	assert.True(t, papers[0].HasAbstract())
	assert.False(t, papers[1].HasAbstract())
	assert.False(t, papers[2].HasAbstract())
	assert.Equal(t, "c", papers[2].Title)
}
