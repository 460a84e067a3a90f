// Package fetcher provides the rate-limited, retrying page client shared by
// the listing and detail stages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
)

// Limiter spaces requests to the same host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Detector decides whether a static listing page needs the renderer.
type Detector interface {
	ShouldPromote(doc harvest.RawDocument) bool
}

// Config controls Client behavior.
type Config struct {
	// MaxConcurrency caps in-flight requests across all callers.
	MaxConcurrency int
	Retry          harvest.RetryPolicy
	// RenderListings sends every listing page through the renderer.
	RenderListings bool
}

// Client fetches portal pages with bounded concurrency, per-host spacing and
// retry of transient failures. It is safe for concurrent use.
type Client struct {
	cfg      Config
	static   harvest.Fetcher
	renderer harvest.Fetcher
	detector Detector
	limiter  Limiter
	slots    chan struct{}
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Client. renderer, detector and limiter may be nil.
func New(
	cfg Config,
	static harvest.Fetcher,
	renderer harvest.Fetcher,
	detector Detector,
	limiter Limiter,
	logger *zap.Logger,
) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = harvest.NewExponentialRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		static:   static,
		renderer: renderer,
		detector: detector,
		limiter:  limiter,
		slots:    make(chan struct{}, cfg.MaxConcurrency),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Fetch retrieves one page. Failures are *harvest.TransientFetchError once the
// retry budget is spent, *harvest.PermanentFetchError, or a context error.
func (c *Client) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.RawDocument, error) {
	if err := validateURL(req.URL); err != nil {
		metrics.ObserveFetch(string(req.Kind), "permanent", req.URL, 0, 0)
		return harvest.RawDocument{}, err
	}
	if req.Kind == harvest.PageListing && c.renderer != nil && c.cfg.RenderListings {
		doc, err := c.fetchWithRetry(ctx, c.renderer, req)
		if err == nil || ctx.Err() != nil {
			return doc, err
		}
		c.logger.Warn("renderer failed, falling back to static fetch",
			zap.String("url", req.URL), zap.Error(err))
	}

	doc, err := c.fetchWithRetry(ctx, c.static, req)
	if err != nil {
		return harvest.RawDocument{}, err
	}
	if req.Kind == harvest.PageListing && c.shouldPromote(doc) {
		c.logger.Info("promoting listing page to renderer", zap.String("url", req.URL))
		rendered, rerr := c.fetchWithRetry(ctx, c.renderer, req)
		if rerr == nil {
			return rendered, nil
		}
		if ctx.Err() != nil {
			return harvest.RawDocument{}, rerr
		}
		c.logger.Warn("renderer promotion failed, keeping static document",
			zap.String("url", req.URL), zap.Error(rerr))
	}
	return doc, nil
}

func (c *Client) shouldPromote(doc harvest.RawDocument) bool {
	return c.renderer != nil && c.detector != nil && c.detector.ShouldPromote(doc)
}

func (c *Client) fetchWithRetry(ctx context.Context, backend harvest.Fetcher, req harvest.FetchRequest) (harvest.RawDocument, error) {
	kind := string(req.Kind)
	for attempt := 1; ; attempt++ {
		doc, err := c.attempt(ctx, backend, req)
		if err == nil {
			metrics.ObserveFetch(kind, "ok", req.URL, len(doc.Body), doc.Duration)
			return doc, nil
		}
		if ctx.Err() != nil {
			metrics.ObserveFetch(kind, "canceled", req.URL, 0, 0)
			return harvest.RawDocument{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		}
		if !c.cfg.Retry.ShouldRetry(err, attempt) {
			metrics.ObserveFetch(kind, outcome(err), req.URL, 0, 0)
			c.logger.Debug("fetch failed",
				zap.String("url", req.URL),
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return harvest.RawDocument{}, err
		}
		delay := c.cfg.Retry.NextDelay(attempt)
		metrics.ObserveRetry(kind)
		c.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if serr := c.sleep(ctx, delay); serr != nil {
			metrics.ObserveFetch(kind, "canceled", req.URL, 0, 0)
			return harvest.RawDocument{}, fmt.Errorf("fetch %s: %w", req.URL, serr)
		}
	}
}

// attempt holds a concurrency slot only while the request is in flight, so
// backoff sleeps never starve other callers.
func (c *Client) attempt(ctx context.Context, backend harvest.Fetcher, req harvest.FetchRequest) (harvest.RawDocument, error) {
	if err := c.acquire(ctx); err != nil {
		return harvest.RawDocument{}, err
	}
	defer c.release()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return harvest.RawDocument{}, err
		}
	}
	doc, err := backend.Fetch(ctx, req)
	if err != nil {
		return harvest.RawDocument{}, normalizeError(ctx, req.URL, err)
	}
	if err := harvest.ClassifyStatus(req.URL, doc.StatusCode); err != nil {
		return harvest.RawDocument{}, err
	}
	if len(doc.Body) == 0 {
		return harvest.RawDocument{}, &harvest.TransientFetchError{URL: req.URL, StatusCode: doc.StatusCode, Err: harvest.ErrEmptyBody}
	}
	if doc.Kind == "" {
		doc.Kind = req.Kind
	}
	return doc, nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch slot wait canceled: %w", ctx.Err())
	}
}

func (c *Client) release() {
	select {
	case <-c.slots:
	default:
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &harvest.PermanentFetchError{URL: raw, Err: fmt.Errorf("%w: %w", harvest.ErrMalformedURL, err)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &harvest.PermanentFetchError{URL: raw, Err: harvest.ErrMalformedURL}
	}
	return nil
}

// normalizeError keeps typed fetch errors as they are and treats anything
// else from a transport as transient, including a backend's own timeout while
// the caller's context is still live.
func normalizeError(ctx context.Context, rawURL string, err error) error {
	var (
		transient *harvest.TransientFetchError
		permanent *harvest.PermanentFetchError
	)
	switch {
	case errors.As(err, &transient), errors.As(err, &permanent):
		return err
	case ctx.Err() != nil:
		return err
	default:
		return &harvest.TransientFetchError{URL: rawURL, Err: err}
	}
}

func outcome(err error) string {
	if harvest.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
