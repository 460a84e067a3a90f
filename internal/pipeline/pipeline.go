// Package pipeline runs one harvest of a journal issue: paginate the listing,
// enrich, normalize, merge with the persisted dataset and persist.
//
// Precondition: no two runs may target the same (journal, year, issue) at the
// same time. Nothing in this package locks the dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/detail"
	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/listing"
	"github.com/JakeFAU/journal-harvester/internal/merge"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/normalize"
)

const (
	defaultMaxPages      = 50
	defaultNotifyTimeout = 10 * time.Second
)

// ListingParser turns a listing page into stubs plus pagination state.
type ListingParser interface {
	Parse(raw harvest.RawDocument) (*listing.Page, error)
}

// Enricher attaches detail-page data to stubs, index for index.
type Enricher interface {
	Enrich(ctx context.Context, stubs []harvest.ArticleStub, enabled bool, diag *harvest.Diagnostics) []detail.Result
}

// Config controls Orchestrator behavior.
type Config struct {
	// MaxPages bounds listing pagination per issue.
	MaxPages int
	// Topic receives the hand-off notification after a persist.
	Topic         string
	NotifyTimeout time.Duration
}

// Target names the issue a run harvests.
type Target struct {
	Journal string
	BaseURL string
	Year    int
	Issue   int
	// Enrich turns detail-page fetching on.
	Enrich bool
}

// Ref returns the dataset the target reads and writes.
func (t Target) Ref() harvest.DatasetRef {
	return harvest.DatasetRef{Journal: t.Journal, Year: t.Year, Issue: t.Issue}
}

// Result reports one run. State is always terminal.
type Result struct {
	RunID      string                   `json:"run_id"`
	Journal    string                   `json:"journal"`
	Year       int                      `json:"year"`
	Issue      int                      `json:"issue"`
	State      harvest.Stage            `json:"state"`
	Stages     []harvest.Stage          `json:"stages"`
	Pages      int                      `json:"pages"`
	Stubs      int                      `json:"stubs"`
	Papers     int                      `json:"papers"`
	Abstracts  int                      `json:"abstracts"`
	Complete   bool                     `json:"listing_complete"`
	Location   string                   `json:"location,omitempty"`
	Digest     string                   `json:"digest,omitempty"`
	Unchanged  bool                     `json:"unchanged"`
	Merge      merge.Report             `json:"merge"`
	Failures   []harvest.FailureCount   `json:"failures,omitempty"`
	Partial    []harvest.PartialFailure `json:"partial_failures,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Notification is published after a dataset is persisted.
type Notification struct {
	RunID    string `json:"run_id"`
	Journal  string `json:"journal"`
	Year     int    `json:"year"`
	Issue    int    `json:"issue"`
	Location string `json:"location"`
	Digest   string `json:"digest,omitempty"`
	// Unchanged is true when the persisted bytes equal the previous dataset.
	Unchanged bool `json:"unchanged"`
	Papers    int  `json:"papers"`
	Inserted  int  `json:"inserted"`
	Dropped   int  `json:"dropped"`
	Failures  int  `json:"partial_failures"`
}

// Orchestrator wires the harvest components into a run.
type Orchestrator struct {
	cfg       Config
	fetcher   harvest.Fetcher
	parser    ListingParser
	enricher  Enricher
	store     harvest.DatasetStore
	filtered  harvest.DatasetStore
	publisher harvest.Publisher
	hasher    harvest.Hasher
	clock     harvest.Clock
	ids       harvest.IDGenerator
	logger    *zap.Logger
}

// New constructs an Orchestrator. filtered, publisher and hasher may be nil.
func New(
	cfg Config,
	fetcher harvest.Fetcher,
	parser ListingParser,
	enricher Enricher,
	store harvest.DatasetStore,
	filtered harvest.DatasetStore,
	publisher harvest.Publisher,
	hasher harvest.Hasher,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		parser:    parser,
		enricher:  enricher,
		store:     store,
		filtered:  filtered,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// run carries the mutable state of one harvest.
type run struct {
	result Result
	diag   *harvest.Diagnostics
	logger *zap.Logger
}

func (r *run) advance(stage harvest.Stage) {
	r.result.Stages = append(r.result.Stages, stage)
	r.result.State = stage
	r.logger.Debug("stage", zap.String("stage", string(stage)))
}

func (r *run) current() harvest.Stage {
	return r.result.State
}

// Run harvests one issue. It returns a *harvest.FatalRunError when the run
// ends Failed; in that case nothing was persisted. Partial failures never
// fail the run and are reported in Result. Cancellation of ctx stops new
// fetches, but papers already gathered are still merged and persisted.
func (o *Orchestrator) Run(ctx context.Context, target Target) (Result, error) {
	r := &run{
		result: Result{
			Journal:   target.Journal,
			Year:      target.Year,
			Issue:     target.Issue,
			StartedAt: o.clock.Now(),
		},
		diag: harvest.NewDiagnostics(),
	}
	runID, err := o.ids.NewID()
	if err != nil {
		runID = fmt.Sprintf("%s-%d-%02d-%d", target.Journal, target.Year, target.Issue, r.result.StartedAt.UnixNano())
	}
	r.result.RunID = runID
	r.logger = o.logger.With(
		zap.String("run_id", runID),
		zap.String("journal", target.Journal),
		zap.Int("year", target.Year),
		zap.Int("issue", target.Issue),
	)
	r.advance(harvest.StageStart)
	r.logger.Info("harvest started", zap.Bool("enrich", target.Enrich))

	err = o.execute(ctx, r, target)
	return o.finish(r, err)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, target Target) error {
	r.advance(harvest.StageListing)
	stubs, err := o.collectStubs(ctx, r, target)
	if err != nil {
		return err
	}

	r.advance(harvest.StageEnriching)
	enriched := o.enricher.Enrich(ctx, stubs, target.Enrich, r.diag)

	r.advance(harvest.StageNormalizing)
	details := make([]*harvest.Detail, len(enriched))
	for i, res := range enriched {
		details[i] = res.Detail
	}
	papers := normalize.Normalizer{Year: target.Year, Issue: target.Issue}.NormalizeAll(stubs, details)
	for _, p := range papers {
		if p.HasAbstract() {
			r.result.Abstracts++
		}
	}

	// Persistence must finish even when the run is being canceled.
	persistCtx := context.WithoutCancel(ctx)
	ref := target.Ref()

	r.advance(harvest.StageMerging)
	previous, found, err := o.store.Load(persistCtx, ref)
	if err != nil {
		return &harvest.FatalRunError{Stage: harvest.StageMerging, Err: fmt.Errorf("load previous dataset: %w", err)}
	}
	if found {
		r.logger.Info("loaded previous dataset", zap.Int("papers", len(previous)))
	}
	o.checkFiltered(persistCtx, r, ref, previous)

	merged, report := merge.Merge(previous, papers, merge.Options{KeepUnmatched: !r.result.Complete})
	for _, key := range report.Duplicates {
		r.diag.Add(harvest.PartialFailure{
			Stage: harvest.StageMerging,
			Cause: harvest.CauseDuplicateKey,
			Index: -1,
			Error: "duplicate identity key " + key.String(),
		})
	}
	if len(report.Dropped) > 0 {
		r.logger.Warn("previous papers missing from the listing were dropped",
			zap.Int("dropped", len(report.Dropped)), zap.Stringers("keys", report.Dropped))
	}
	if len(report.Retained) > 0 {
		r.logger.Info("listing incomplete, unmatched previous papers retained",
			zap.Int("retained", len(report.Retained)))
	}
	if err := merged.Validate(); err != nil {
		return &harvest.FatalRunError{Stage: harvest.StageMerging, Err: err}
	}
	for _, problem := range merged.AnnotationProblems() {
		r.warn("annotation kept as-is: " + problem)
	}
	r.result.Merge = report
	r.result.Papers = len(merged)
	o.fingerprint(r, previous, found, merged)

	location, err := o.store.Save(persistCtx, ref, merged)
	if err != nil {
		return &harvest.FatalRunError{Stage: harvest.StageMerging, Err: fmt.Errorf("persist dataset: %w", err)}
	}
	r.result.Location = location
	r.advance(harvest.StagePersisted)

	o.notify(persistCtx, r)
	return nil
}

// collectStubs walks the listing pages in order. Only a failure of the first
// page is fatal; later failures end pagination and mark the listing
// incomplete.
func (o *Orchestrator) collectStubs(ctx context.Context, r *run, target Target) ([]harvest.ArticleStub, error) {
	req, err := listing.IssueRequest(target.BaseURL, target.Year, target.Issue)
	if err != nil {
		return nil, &harvest.FatalRunError{Stage: harvest.StageListing, Err: err}
	}

	var stubs []harvest.ArticleStub
	visited := make(map[string]struct{})
	complete := true
	for page := 0; ; page++ {
		if page >= o.cfg.MaxPages {
			r.logger.Warn("listing page limit reached", zap.Int("max_pages", o.cfg.MaxPages))
			complete = false
			break
		}
		if _, seen := visited[req.URL]; seen {
			r.logger.Warn("listing pagination loops, stopping", zap.String("url", req.URL))
			break
		}
		visited[req.URL] = struct{}{}

		parsed, err := o.fetchPage(ctx, req)
		if err != nil {
			if page == 0 {
				return nil, &harvest.FatalRunError{Stage: harvest.StageListing, Err: err}
			}
			r.diag.Record(harvest.StageListing, req.URL, page, err)
			r.logger.Warn("listing page failed, keeping earlier pages",
				zap.String("url", req.URL), zap.Int("page", page), zap.Error(err))
			complete = false
			break
		}

		pageStubs, rowErrs := parsed.Stubs()
		for _, rowErr := range rowErrs {
			index := -1
			var pe *harvest.ParseError
			if errors.As(rowErr, &pe) {
				index = pe.Index
			}
			r.diag.Record(harvest.StageListing, parsed.URL, index, rowErr)
			complete = false
		}
		stubs = append(stubs, pageStubs...)
		r.result.Pages++
		r.logger.Debug("listing page parsed",
			zap.String("url", parsed.URL),
			zap.String("variant", string(parsed.Variant)),
			zap.Int("stubs", len(pageStubs)))

		if !parsed.HasNextPage() {
			break
		}
		req = parsed.NextPageRequest()
		if ctx.Err() != nil {
			r.diag.Record(harvest.StageListing, req.URL, page+1, ctx.Err())
			complete = false
			break
		}
	}

	r.result.Stubs = len(stubs)
	r.result.Complete = complete
	if len(stubs) == 0 {
		// An empty issue would wipe the previous dataset; treat it as unreachable.
		return nil, &harvest.FatalRunError{Stage: harvest.StageListing, Err: harvest.ErrNoArticles}
	}
	return stubs, nil
}

func (o *Orchestrator) fetchPage(ctx context.Context, req harvest.FetchRequest) (*listing.Page, error) {
	raw, err := o.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.parser.Parse(raw)
}

// checkFiltered verifies the annotator's filtered subset against the
// previous dataset. Violations are warnings only.
func (o *Orchestrator) checkFiltered(ctx context.Context, r *run, ref harvest.DatasetRef, previous harvest.IssueDataset) {
	if o.filtered == nil {
		return
	}
	subset, found, err := o.filtered.Load(ctx, ref)
	if err != nil {
		r.warn("filtered dataset unreadable: " + err.Error())
		return
	}
	if !found {
		return
	}
	known := make(map[harvest.Key]struct{}, len(previous))
	for _, p := range previous {
		known[p.Key()] = struct{}{}
	}
	for i, p := range subset {
		if p.InterestMatch == nil || !*p.InterestMatch {
			r.warn(fmt.Sprintf("filtered record %d (%s) is not marked interest_match=true", i, p.Key()))
		}
		if _, ok := known[p.Key()]; !ok {
			r.warn(fmt.Sprintf("filtered record %d (%s) has no match in the previous dataset", i, p.Key()))
		}
	}
}

func (r *run) warn(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
	r.logger.Warn(msg)
}

// fingerprint records the merged dataset's digest and whether it equals the
// previous one.
func (o *Orchestrator) fingerprint(r *run, previous harvest.IssueDataset, found bool, merged harvest.IssueDataset) {
	if o.hasher == nil {
		return
	}
	digest, err := o.digest(merged)
	if err != nil {
		r.logger.Warn("dataset digest failed", zap.Error(err))
		return
	}
	r.result.Digest = digest
	if !found {
		return
	}
	if prev, err := o.digest(previous); err == nil {
		r.result.Unchanged = prev == digest
	}
}

func (o *Orchestrator) digest(ds harvest.IssueDataset) (string, error) {
	data, err := harvest.EncodeDataset(ds)
	if err != nil {
		return "", err
	}
	return o.hasher.Hash(data)
}

func (o *Orchestrator) notify(ctx context.Context, r *run) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.NotifyTimeout)
	defer cancel()

	payload := Notification{
		RunID:     r.result.RunID,
		Journal:   r.result.Journal,
		Year:      r.result.Year,
		Issue:     r.result.Issue,
		Location:  r.result.Location,
		Digest:    r.result.Digest,
		Unchanged: r.result.Unchanged,
		Papers:    r.result.Papers,
		Inserted:  r.result.Merge.Inserted,
		Dropped:   len(r.result.Merge.Dropped),
		Failures:  r.diag.Len(),
	}
	id, err := o.publisher.Publish(ctx, o.cfg.Topic, payload)
	if err != nil {
		r.diag.Add(harvest.PartialFailure{
			Stage: harvest.StagePersisted,
			Cause: harvest.CauseNotify,
			Index: -1,
			Error: err.Error(),
		})
		r.logger.Warn("hand-off notification failed", zap.Error(err))
		return
	}
	r.logger.Debug("hand-off notification published", zap.String("message_id", id))
}

func (o *Orchestrator) finish(r *run, err error) (Result, error) {
	if err != nil {
		var fatal *harvest.FatalRunError
		if !errors.As(err, &fatal) {
			fatal = &harvest.FatalRunError{Stage: r.current(), Err: err}
		}
		r.advance(harvest.StageFailed)
		r.result.Error = fatal.Error()
		err = fatal
	}
	r.result.FinishedAt = o.clock.Now()
	r.result.Failures = r.diag.Summary()
	r.result.Partial = r.diag.Failures()

	metrics.ObserveRun(string(r.result.State))
	for _, f := range r.result.Failures {
		for range f.Count {
			metrics.ObservePartialFailure(string(f.Stage), string(f.Cause))
		}
	}
	if err == nil {
		metrics.ObservePapers("inserted", r.result.Merge.Inserted)
		metrics.ObservePapers("matched", r.result.Merge.Matched)
		metrics.ObservePapers("dropped", len(r.result.Merge.Dropped))
		metrics.ObservePapers("retained", len(r.result.Merge.Retained))
	}

	fields := []zap.Field{
		zap.String("state", string(r.result.State)),
		zap.Int("papers", r.result.Papers),
		zap.Int("partial_failures", len(r.result.Partial)),
		zap.Duration("elapsed", r.result.FinishedAt.Sub(r.result.StartedAt)),
	}
	if err != nil {
		r.logger.Error("harvest failed", append(fields, zap.Error(err))...)
		return r.result, err
	}
	r.logger.Info("harvest finished", append(fields, zap.String("location", r.result.Location))...)
	return r.result, nil
}
