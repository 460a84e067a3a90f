package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(harvest.RawDocument{StatusCode: 200}))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	doc := harvest.RawDocument{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}
	require.True(t, h.ShouldPromote(doc))
}

func TestHeuristic_ShouldPromote_IssueNavigationWithoutRows(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	doc := harvest.RawDocument{
		StatusCode: 200,
		Body:       []byte(`<dl><dt>2025</dt><dd><a id="yq202506">No.06</a></dd></dl>`),
	}
	require.True(t, h.ShouldPromote(doc))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	doc := harvest.RawDocument{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}
	require.True(t, h.ShouldPromote(doc))
}

func TestHeuristic_ListingMarkersVetoPromotion(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(4096)
	doc := harvest.RawDocument{
		StatusCode: 200,
		Body:       []byte(`<div id="app"><script>x()</script><dd class="row"><span class="name"><a href="/a">T</a></span></dd></div>`),
	}
	require.False(t, h.ShouldPromote(doc))
}

func TestHeuristic_ShouldPromote_DisabledForNon200AndRendered(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.False(t, h.ShouldPromote(harvest.RawDocument{StatusCode: 404, Body: []byte("not found")}))
	require.False(t, h.ShouldPromote(harvest.RawDocument{StatusCode: 200, Rendered: true}))
}
