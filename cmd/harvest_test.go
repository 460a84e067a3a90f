package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/config"
	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/pipeline"
)

type testPortal struct {
	listingStatus int
	detailHits    atomic.Int32
}

func (p *testPortal) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/journal", func(w http.ResponseWriter, r *http.Request) {
		if p.listingStatus != 0 {
			w.WriteHeader(p.listingStatus)
			_, _ = w.Write([]byte("gone"))
			return
		}
		fmt.Fprint(w, `<html><body>
<dd class="row"><span class="name"><a href="/detail/1">First</a></span><span class="author">Wang;Li</span><span class="company">1-12</span></dd>
<dd class="row"><span class="name"><a href="/detail/2">Second</a></span><span class="author">Zhao</span><span class="company">13-20</span></dd>
</body></html>`)
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, _ *http.Request) {
		p.detailHits.Add(1)
		fmt.Fprint(w, `<html><body><div id="ChDivSummary">An abstract.</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHarvestWritesDatasetAndSummary(t *testing.T) {
	t.Parallel()

	portal := &testPortal{}
	srv := portal.server(t)
	output := filepath.Join(t.TempDir(), "jwe.json")

	out, err := runCLI(t, "harvest", "-u", srv.URL+"/journal", "-j", "jwe", "-y", "2025", "-i", "6", "-o", output)
	require.NoError(t, err)
	require.Contains(t, out, "jwe 2025/06: persisted, 2 papers (2 with abstract), inserted 2")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	ds, err := harvest.DecodeDataset(data)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	require.Equal(t, "Wang;Li", ds[0].Author)
	require.Equal(t, "An abstract.", *ds[0].Abstract)
}

func TestHarvestNoDetailsSkipsDetailPages(t *testing.T) {
	t.Parallel()

	portal := &testPortal{}
	srv := portal.server(t)
	output := filepath.Join(t.TempDir(), "jwe.json")

	out, err := runCLI(t, "harvest", "-u", srv.URL+"/journal", "-y", "2025", "-i", "6", "-o", output, "--no-details", "--json")
	require.NoError(t, err)
	require.Zero(t, portal.detailHits.Load())

	var results []pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Equal(t, harvest.StagePersisted, results[0].State)
	require.Zero(t, results[0].Abstracts)
}

func TestHarvestReportsFailedIssues(t *testing.T) {
	t.Parallel()

	portal := &testPortal{listingStatus: http.StatusNotFound}
	srv := portal.server(t)
	output := filepath.Join(t.TempDir(), "jwe.json")

	out, err := runCLI(t, "harvest", "-u", srv.URL+"/journal", "-y", "2025", "-i", "1-2", "-o", output)
	require.ErrorContains(t, err, "2 of 2 issues failed")
	require.Contains(t, out, "journal 2025/01: failed")
	require.Contains(t, out, "journal 2025/02: failed")
	_, statErr := os.Stat(output)
	require.True(t, os.IsNotExist(statErr))
}

func TestHarvestRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "harvest", "-y", "2025")
	require.ErrorContains(t, err, "source.base_url is required")

	_, err = runCLI(t, "harvest", "-u", "https://example.com/j", "-y", "2025", "-i", "0")
	require.ErrorContains(t, err, "harvest.issues")
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

// closeTrackingApp wraps the real container and counts Close calls.
type closeTrackingApp struct {
	App
	closed *atomic.Int32
}

func (a closeTrackingApp) Close() {
	a.closed.Add(1)
	a.App.Close()
}

// trackClose swaps the app factory for the duration of a sequential test.
func trackClose(t *testing.T) *atomic.Int32 {
	t.Helper()
	var closed atomic.Int32
	original := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		inner, err := original(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return closeTrackingApp{App: inner, closed: &closed}, nil
	}
	t.Cleanup(func() { newApp = original })
	return &closed
}

func TestHarvestClosesAppWhenIssuesFail(t *testing.T) {
	closed := trackClose(t)

	portal := &testPortal{listingStatus: http.StatusNotFound}
	srv := portal.server(t)

	_, err := runCLI(t, "harvest", "-u", srv.URL+"/journal", "-y", "2025", "-i", "1", "-o", filepath.Join(t.TempDir(), "out.json"))
	require.ErrorContains(t, err, "1 of 1 issues failed")
	require.Equal(t, int32(1), closed.Load())
}

func TestHarvestClosesAppAfterSuccess(t *testing.T) {
	closed := trackClose(t)

	portal := &testPortal{}
	srv := portal.server(t)

	_, err := runCLI(t, "harvest", "-u", srv.URL+"/journal", "-y", "2025", "-i", "6", "--no-details", "-o", filepath.Join(t.TempDir(), "out.json"))
	require.NoError(t, err)
	require.Equal(t, int32(1), closed.Load())
}
