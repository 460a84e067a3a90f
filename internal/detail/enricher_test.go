package detail

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

type fetcherFunc func(ctx context.Context, req harvest.FetchRequest) (harvest.RawDocument, error)

func (f fetcherFunc) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
	return f(ctx, req)
}

func abstractPage(text string) []byte {
	return []byte(fmt.Sprintf(`<html><body><div id="ChDivSummary">%s</div></body></html>`, text))
}

func makeStubs(n int) []harvest.ArticleStub {
	stubs := make([]harvest.ArticleStub, n)
	for i := range stubs {
		stubs[i] = harvest.ArticleStub{
			Title:     fmt.Sprintf("paper-%d", i),
			DetailURL: fmt.Sprintf("https://journal.example.com/detail/%d", i),
		}
	}
	return stubs
}

func TestEnrichDisabledMakesNoCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := New(Config{Workers: 4}, fetcherFunc(func(context.Context, harvest.FetchRequest) (harvest.RawDocument, error) {
		calls.Add(1)
		return harvest.RawDocument{}, nil
	}), nil)

	stubs := makeStubs(5)
	diag := harvest.NewDiagnostics()
	results := e.Enrich(context.Background(), stubs, false, diag)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, stubs[i], r.Stub)
		assert.Nil(t, r.Detail)
	}
	assert.Zero(t, calls.Load())
	assert.Zero(t, diag.Len())
}

func TestEnrichPreservesOrderUnderRandomLatency(t *testing.T) {
	t.Parallel()

	e := New(Config{Workers: 6}, fetcherFunc(func(_ context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
		time.Sleep(time.Duration(rand.Intn(15)) * time.Millisecond)
		return harvest.RawDocument{URL: req.URL, StatusCode: 200, Body: abstractPage("abstract for " + req.URL)}, nil
	}), nil)

	stubs := makeStubs(40)
	results := e.Enrich(context.Background(), stubs, true, harvest.NewDiagnostics())

	require.Len(t, results, len(stubs))
	for i, r := range results {
		require.Equal(t, stubs[i], r.Stub)
		require.NotNil(t, r.Detail)
		require.Equal(t, "abstract for "+stubs[i].DetailURL, r.Detail.Abstract)
	}
}

func TestEnrichIsolatesFailingIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/3") {
			http.Error(w, "boom", http.StatusNotFound)
			return
		}
		_, _ = w.Write(abstractPage("ok " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	stubs := make([]harvest.ArticleStub, 10)
	for i := range stubs {
		stubs[i] = harvest.ArticleStub{Title: fmt.Sprint(i), DetailURL: fmt.Sprintf("%s/detail/%d", srv.URL, i)}
	}

	e := New(Config{Workers: 3}, httpFetcher(srv.Client()), nil)
	diag := harvest.NewDiagnostics()
	results := e.Enrich(context.Background(), stubs, true, diag)

	require.Len(t, results, 10)
	for i, r := range results {
		if i == 3 {
			assert.Nil(t, r.Detail)
			continue
		}
		require.NotNil(t, r.Detail, "index %d", i)
		assert.Equal(t, fmt.Sprintf("ok /detail/%d", i), r.Detail.Abstract)
	}
	failures := diag.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Index)
	assert.Equal(t, harvest.StageEnriching, failures[0].Stage)
	assert.Equal(t, harvest.CausePermanent, failures[0].Cause)
}

func TestEnrichSkipsStubsWithoutLink(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := New(Config{}, fetcherFunc(func(_ context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
		calls.Add(1)
		return harvest.RawDocument{URL: req.URL, StatusCode: 200, Body: abstractPage("x")}, nil
	}), nil)

	stubs := makeStubs(3)
	stubs[1].DetailURL = ""
	diag := harvest.NewDiagnostics()
	results := e.Enrich(context.Background(), stubs, true, diag)

	assert.NotNil(t, results[0].Detail)
	assert.Nil(t, results[1].Detail)
	assert.NotNil(t, results[2].Detail)
	assert.EqualValues(t, 2, calls.Load())
	require.Equal(t, []harvest.FailureCount{{Stage: harvest.StageEnriching, Cause: harvest.CauseNoDetailLink, Count: 1}}, diag.Summary())
}

func TestEnrichCancellationKeepsCompletedResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	e := New(Config{Workers: 1}, fetcherFunc(func(ctx context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
		if calls.Add(1) == 2 {
			cancel()
			return harvest.RawDocument{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		}
		return harvest.RawDocument{URL: req.URL, StatusCode: 200, Body: abstractPage("done")}, nil
	}), nil)

	stubs := makeStubs(5)
	diag := harvest.NewDiagnostics()
	results := e.Enrich(ctx, stubs, true, diag)

	require.Len(t, results, 5)
	require.NotNil(t, results[0].Detail)
	for _, r := range results[1:] {
		assert.Nil(t, r.Detail)
	}
	require.Equal(t, []harvest.FailureCount{{Stage: harvest.StageEnriching, Cause: harvest.CauseCanceled, Count: 4}}, diag.Summary())
}

// httpFetcher is a minimal transport that applies status classification.
func httpFetcher(client *http.Client) harvest.Fetcher {
	return fetcherFunc(func(ctx context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return harvest.RawDocument{}, err
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return harvest.RawDocument{}, &harvest.TransientFetchError{URL: req.URL, Err: err}
		}
		defer resp.Body.Close()
		if err := harvest.ClassifyStatus(req.URL, resp.StatusCode); err != nil {
			return harvest.RawDocument{}, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return harvest.RawDocument{}, &harvest.TransientFetchError{URL: req.URL, Err: err}
		}
		return harvest.RawDocument{URL: req.URL, StatusCode: resp.StatusCode, Body: body}, nil
	})
}
