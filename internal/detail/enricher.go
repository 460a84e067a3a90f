// Package detail enriches article stubs with data from their detail pages.
package detail

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/queue/memory"
)

// ErrNoDetailLink marks a stub that has nothing to fetch.
var ErrNoDetailLink = errors.New("stub has no detail link")

// Config controls Enricher behavior.
type Config struct {
	// Workers bounds concurrent detail fetches. The fetcher's own
	// concurrency cap still applies on top.
	Workers int
}

// Result pairs a stub with its detail. Detail is nil when enrichment was
// skipped or failed for that stub.
type Result struct {
	Stub   harvest.ArticleStub
	Detail *harvest.Detail
}

// Enricher fans detail fetches out over a worker pool and reassembles the
// results in stub order.
type Enricher struct {
	cfg     Config
	fetcher harvest.Fetcher
	logger  *zap.Logger
}

// New constructs an Enricher.
func New(cfg Config, fetcher harvest.Fetcher, logger *zap.Logger) *Enricher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Enrich returns one Result per stub, index for index. With enabled false no
// fetch happens. Failures for individual stubs are recorded in diag and
// leave that stub's Detail nil; they never fail the batch. On cancellation
// the stubs not yet enriched are recorded as canceled.
func (e *Enricher) Enrich(ctx context.Context, stubs []harvest.ArticleStub, enabled bool, diag *harvest.Diagnostics) []Result {
	results := make([]Result, len(stubs))
	for i, stub := range stubs {
		results[i].Stub = stub
	}
	if !enabled || len(stubs) == 0 {
		return results
	}

	pending := memory.NewQueue[int](len(stubs))
	for i := range stubs {
		// Capacity equals len(stubs), so this never blocks.
		_ = pending.Enqueue(context.Background(), i)
	}
	pending.Close()

	attempted := make([]bool, len(stubs))
	workers := min(e.cfg.Workers, len(stubs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx, err := pending.Dequeue(ctx)
				if err != nil {
					return
				}
				attempted[idx] = true
				results[idx].Detail = e.enrichOne(ctx, idx, stubs[idx], diag)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		for i, done := range attempted {
			if !done {
				diag.Record(harvest.StageEnriching, stubs[i].DetailURL, i, ctx.Err())
			}
		}
	}
	return results
}

func (e *Enricher) enrichOne(ctx context.Context, idx int, stub harvest.ArticleStub, diag *harvest.Diagnostics) *harvest.Detail {
	if stub.DetailURL == "" {
		diag.Add(harvest.PartialFailure{
			Stage: harvest.StageEnriching,
			Cause: harvest.CauseNoDetailLink,
			Index: idx,
			Error: ErrNoDetailLink.Error(),
		})
		return nil
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	doc, err := e.fetcher.Fetch(ctx, harvest.FetchRequest{URL: stub.DetailURL, Kind: harvest.PageDetail})
	if err == nil {
		var d harvest.Detail
		d, err = Extract(doc)
		if err == nil {
			return &d
		}
	}
	diag.Record(harvest.StageEnriching, stub.DetailURL, idx, err)
	e.logger.Warn("detail enrichment failed",
		zap.Int("index", idx),
		zap.String("url", stub.DetailURL),
		zap.String("cause", string(harvest.CauseOf(err))),
		zap.Error(err))
	return nil
}
