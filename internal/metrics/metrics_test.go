package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFetch(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(harvestFetchTotal.WithLabelValues("detail", "ok"))
	ObserveFetch("detail", "ok", "https://Journal.example.com/a", 512, 120*time.Millisecond)
	if val := testutil.ToFloat64(harvestFetchTotal.WithLabelValues("detail", "ok")); val != before+1 {
		t.Errorf("Expected harvest_fetch_total to grow by 1, got %f -> %f", before, val)
	}
	if val := testutil.ToFloat64(harvestFetchBytesTotal.WithLabelValues("journal.example.com")); val < 512 {
		t.Errorf("Expected harvest_fetch_bytes_total >= 512, got %f", val)
	}
}

func TestObservePapersIgnoresZero(t *testing.T) {
	Init()

	before := testutil.ToFloat64(harvestPapersTotal.WithLabelValues("inserted"))
	ObservePapers("inserted", 0)
	ObservePapers("inserted", 3)
	if val := testutil.ToFloat64(harvestPapersTotal.WithLabelValues("inserted")); val != before+3 {
		t.Errorf("Expected harvest_papers_total to grow by 3, got %f -> %f", before, val)
	}
}

func TestRunAndFailureCounters(t *testing.T) {
	Init()

	runs := testutil.ToFloat64(harvestRunsTotal.WithLabelValues("persisted"))
	failures := testutil.ToFloat64(harvestPartialFailuresTotal.WithLabelValues("enriching", "transient"))
	ObserveRun("persisted")
	ObservePartialFailure("enriching", "transient")
	ObserveRetry("listing")
	IncActiveWorkers()
	DecActiveWorkers()

	if val := testutil.ToFloat64(harvestRunsTotal.WithLabelValues("persisted")); val != runs+1 {
		t.Errorf("Expected harvest_runs_total to grow by 1, got %f", val)
	}
	if val := testutil.ToFloat64(harvestPartialFailuresTotal.WithLabelValues("enriching", "transient")); val != failures+1 {
		t.Errorf("Expected harvest_partial_failures_total to grow by 1, got %f", val)
	}
	if val := testutil.ToFloat64(harvestActiveWorkers); val != 0 {
		t.Errorf("Expected active workers gauge to return to 0, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
