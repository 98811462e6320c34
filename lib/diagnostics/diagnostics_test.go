package diagnostics

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	diffs []Diff
}

func (r *recordingSink) Emit(diff Diff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, diff)
}

func (r *recordingSink) snapshot() []Diff {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diff, len(r.diffs))
	copy(out, r.diffs)
	return out
}

func TestUpdateComputesAddedAndRemoved(t *testing.T) {
	agg, err := New(Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	d1 := agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Message: "bad"}})
	require.Len(t, d1.Added, 1)

	d2 := agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 2, Column: 1, Code: "E2", Message: "also bad"}})
	require.Len(t, d2.Added, 1)
	require.Len(t, d2.Removed, 1)
}

func TestUpdateDetectsChangedMessage(t *testing.T) {
	agg, err := New(Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Message: "bad"}})
	diff := agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Message: "worse"}})

	require.Empty(t, diff.Added)
	require.Empty(t, diff.Removed)
	require.Len(t, diff.Changed, 1)
}

func TestBatchCapForcesImmediateFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	agg, err := New(Config{Clock: clock, MaxBatch: 3, Sink: sink})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		agg.Update("f.go", []Diagnostic{
			{File: "f.go", Line: i, Column: 1, Code: "E1", Message: "x"},
		})
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, time.Second, time.Millisecond)
}

func TestBatchWindowCoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	agg, err := New(Config{Clock: clock, BatchWindow: 100 * time.Millisecond, MinInterval: time.Millisecond, Sink: sink})
	require.NoError(t, err)

	agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Message: "x"}})
	agg.Update("b.go", []Diagnostic{{File: "b.go", Line: 1, Column: 1, Code: "E2", Message: "y"}})

	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		diffs := sink.snapshot()
		if len(diffs) != 1 {
			return false
		}
		return len(diffs[0].Added) == 2
	}, time.Second, time.Millisecond)
}

func TestGetSummaryCountsBySeverity(t *testing.T) {
	agg, err := New(Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	agg.Update("a.go", []Diagnostic{
		{File: "a.go", Line: 1, Column: 1, Code: "E1", Severity: "error"},
		{File: "a.go", Line: 2, Column: 1, Code: "W1", Severity: "warning"},
	})

	summary := agg.GetSummary()
	require.Equal(t, 1, summary.TotalFiles)
	require.Equal(t, 2, summary.TotalIssues)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, 1, summary.Warnings)
}

func TestGetFileReturnsLatestSnapshot(t *testing.T) {
	agg, err := New(Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	agg.Update("a.go", []Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1"}})
	require.Len(t, agg.GetFile("a.go"), 1)
	require.Empty(t, agg.GetFile("missing.go"))
}
