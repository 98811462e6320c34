// Package diagnostics aggregates editor diagnostics per file and throttles
// the `changed` event fan-out (spec.md §4.10): a minimum inter-emission gap,
// a short batch window that coalesces rapid bursts, and a batch-size cap
// that forces an immediate flush. Changes are never dropped, only delayed
// and merged.
package diagnostics

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
)

// DefaultMinInterval is the minimum gap between emissions (spec.md §4.10).
const DefaultMinInterval = 2 * time.Second

// DefaultBatchWindow coalesces rapid bursts before emitting.
const DefaultBatchWindow = 500 * time.Millisecond

// DefaultMaxBatch forces an immediate emission once this many changes have
// accumulated in the current batch.
const DefaultMaxBatch = 10

// DefaultSnapshotCacheSize bounds how many per-file snapshots are retained.
const DefaultSnapshotCacheSize = 2048

// Diagnostic is one editor diagnostic entry.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (d Diagnostic) key() diagnosticKey {
	return diagnosticKey{File: d.File, Line: d.Line, Column: d.Column, Code: d.Code}
}

// diagnosticKey identifies a diagnostic for diffing purposes. Identity is
// content-sensitive by {file,line,column,code} (SPEC_FULL.md §9 decision c):
// a diagnostic that moves line/column, or changes code, counts as a
// removal plus an addition rather than a mutation in place.
type diagnosticKey struct {
	File   string
	Line   int
	Column int
	Code   string
}

// Diff is the result of comparing one snapshot to the previous one.
type Diff struct {
	Added   []Diagnostic `json:"added"`
	Removed []Diagnostic `json:"removed"`
	Changed []Diagnostic `json:"changed"`
}

func (d Diff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Summary is the workspace-wide rollup returned by `getSummary`.
type Summary struct {
	TotalFiles  int `json:"totalFiles"`
	TotalIssues int `json:"totalIssues"`
	Errors      int `json:"errors"`
	Warnings    int `json:"warnings"`
}

// EventSink receives throttled `changed` emissions.
type EventSink interface {
	Emit(diff Diff)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(diff Diff)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(diff Diff) { f(diff) }

// Aggregator holds per-file diagnostic snapshots and throttles emission of
// their aggregate diff.
type Aggregator struct {
	mu    sync.Mutex
	files *lru.Cache // file path -> []Diagnostic
	clock clockwork.Clock

	minInterval time.Duration
	batchWindow time.Duration
	maxBatch    int

	lastEmit    time.Time
	pending     Diff
	timerActive bool
	sink        EventSink
}

// Config configures an Aggregator. Zero values fall back to the spec.md
// §4.10 defaults.
type Config struct {
	MinInterval time.Duration
	BatchWindow time.Duration
	MaxBatch    int
	CacheSize   int
	Clock       clockwork.Clock
	Sink        EventSink
}

// New constructs an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultSnapshotCacheSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = EventSinkFunc(func(Diff) {})
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		files:       cache,
		clock:       cfg.Clock,
		minInterval: cfg.MinInterval,
		batchWindow: cfg.BatchWindow,
		maxBatch:    cfg.MaxBatch,
		sink:        cfg.Sink,
	}, nil
}

// Update replaces the diagnostics for file, computes the diff against the
// previous snapshot, folds it into the current batch, and schedules or
// forces emission per the throttle rules.
func (a *Aggregator) Update(file string, diags []Diagnostic) Diff {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.snapshotLocked(file)
	diff := diffSnapshots(prev, diags)
	a.files.Add(file, diags)

	if diff.empty() {
		return diff
	}

	a.pending.Added = append(a.pending.Added, diff.Added...)
	a.pending.Removed = append(a.pending.Removed, diff.Removed...)
	a.pending.Changed = append(a.pending.Changed, diff.Changed...)

	a.scheduleLocked()
	return diff
}

func (a *Aggregator) snapshotLocked(file string) []Diagnostic {
	v, ok := a.files.Get(file)
	if !ok {
		return nil
	}
	return v.([]Diagnostic)
}

func diffSnapshots(prev, next []Diagnostic) Diff {
	prevByKey := make(map[diagnosticKey]Diagnostic, len(prev))
	for _, d := range prev {
		prevByKey[d.key()] = d
	}
	nextByKey := make(map[diagnosticKey]Diagnostic, len(next))
	for _, d := range next {
		nextByKey[d.key()] = d
	}

	var diff Diff
	for k, d := range nextByKey {
		if existing, ok := prevByKey[k]; !ok {
			diff.Added = append(diff.Added, d)
		} else if existing.Message != d.Message || existing.Severity != d.Severity {
			diff.Changed = append(diff.Changed, d)
		}
	}
	for k, d := range prevByKey {
		if _, ok := nextByKey[k]; !ok {
			diff.Removed = append(diff.Removed, d)
		}
	}
	return diff
}

// batchSize is the total pending change count across added/removed/changed.
func (a *Aggregator) batchSizeLocked() int {
	return len(a.pending.Added) + len(a.pending.Removed) + len(a.pending.Changed)
}

// scheduleLocked arms the throttle timer under a.mu if one isn't already
// running. The throttle never drops changes: every call either starts a
// timer that will eventually flush, or forces an immediate flush when the
// batch is full or enough time has passed since the last emission.
func (a *Aggregator) scheduleLocked() {
	now := a.clock.Now()

	if a.batchSizeLocked() >= a.maxBatch {
		a.flushLocked(now)
		return
	}
	if a.timerActive {
		return
	}

	wait := a.batchWindow
	if !a.lastEmit.IsZero() {
		if sinceLast := now.Sub(a.lastEmit); sinceLast < a.minInterval {
			if remaining := a.minInterval - sinceLast; remaining > wait {
				wait = remaining
			}
		}
	}

	a.timerActive = true
	timer := a.clock.NewTimer(wait)
	go func() {
		<-timer.Chan()
		a.onTimer()
	}()
}

func (a *Aggregator) onTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timerActive = false
	if !a.pending.empty() {
		a.flushLocked(a.clock.Now())
	}
}

func (a *Aggregator) flushLocked(now time.Time) {
	diff := a.pending
	a.pending = Diff{}
	a.lastEmit = now
	a.sink.Emit(diff)
}

// GetFile returns the last known diagnostics for file.
func (a *Aggregator) GetFile(file string) []Diagnostic {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(file)
}

// GetAll returns every file's current diagnostics.
func (a *Aggregator) GetAll() map[string][]Diagnostic {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]Diagnostic, a.files.Len())
	for _, k := range a.files.Keys() {
		v, ok := a.files.Get(k)
		if !ok {
			continue
		}
		out[k.(string)] = v.([]Diagnostic)
	}
	return out
}

// GetSummary rolls every tracked file's diagnostics into workspace totals.
func (a *Aggregator) GetSummary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Summary
	for _, k := range a.files.Keys() {
		v, ok := a.files.Get(k)
		if !ok {
			continue
		}
		diags := v.([]Diagnostic)
		if len(diags) == 0 {
			continue
		}
		s.TotalFiles++
		for _, d := range diags {
			s.TotalIssues++
			switch d.Severity {
			case "error":
				s.Errors++
			case "warning":
				s.Warnings++
			}
		}
	}
	return s
}
