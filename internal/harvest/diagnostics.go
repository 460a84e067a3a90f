package harvest

import (
	"sort"
	"sync"
)

// Stage is a state of the harvest run state machine.
type Stage string

// Run stages. Persisted and Failed are terminal.
const (
	StageStart       Stage = "start"
	StageListing     Stage = "listing"
	StageEnriching   Stage = "enriching"
	StageNormalizing Stage = "normalizing"
	StageMerging     Stage = "merging"
	StagePersisted   Stage = "persisted"
	StageFailed      Stage = "failed"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StagePersisted || s == StageFailed
}

// PartialFailure is one tolerated failure. It never aborts a run.
type PartialFailure struct {
	Stage Stage  `json:"stage"`
	Cause Cause  `json:"cause"`
	URL   string `json:"url,omitempty"`
	Index int    `json:"index"`
	Error string `json:"error,omitempty"`
}

// FailureCount aggregates partial failures by stage and cause.
type FailureCount struct {
	Stage Stage `json:"stage"`
	Cause Cause `json:"cause"`
	Count int   `json:"count"`
}

// Diagnostics accumulates partial failures for one run. Safe for concurrent use.
type Diagnostics struct {
	mu       sync.Mutex
	failures []PartialFailure
}

// NewDiagnostics returns an empty report.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Record classifies err and stores it as a partial failure.
func (d *Diagnostics) Record(stage Stage, url string, index int, err error) {
	pf := PartialFailure{Stage: stage, Cause: CauseOf(err), URL: url, Index: index}
	if err != nil {
		pf.Error = err.Error()
	}
	d.Add(pf)
}

// Add stores a pre-built partial failure.
func (d *Diagnostics) Add(pf PartialFailure) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, pf)
}

// Len returns the number of recorded failures.
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.failures)
}

// Failures returns a copy of the recorded failures in recording order.
func (d *Diagnostics) Failures() []PartialFailure {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PartialFailure(nil), d.failures...)
}

// Summary counts failures by stage and cause, sorted by stage then cause.
func (d *Diagnostics) Summary() []FailureCount {
	counts := make(map[[2]string]int)
	for _, f := range d.Failures() {
		counts[[2]string{string(f.Stage), string(f.Cause)}]++
	}
	out := make([]FailureCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, FailureCount{Stage: Stage(k[0]), Cause: Cause(k[1]), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Cause < out[j].Cause
	})
	return out
}
