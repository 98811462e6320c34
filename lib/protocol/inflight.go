package protocol

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Protocol})

// DefaultCommandDeadline is the default inflight command timeout (spec.md §4.3).
const DefaultCommandDeadline = 30 * time.Second

// result carries whatever resolves an inflight entry: a successful Data
// payload, or an error.
type result struct {
	data json.RawMessage
	err  error
}

// entry is one pending command. It is resolved exactly once, by whichever
// of {response, error, timeout, connection-close} happens first (testable
// property 3).
type entry struct {
	deadline time.Time
	done     chan result
	once     sync.Once
}

func (e *entry) resolve(r result) {
	e.once.Do(func() {
		e.done <- r
		close(e.done)
	})
}

// Table is the set of inflight commands for one connection (or, on the
// client side, one logical multi-transport session). It is safe for
// concurrent use: the sender registers a command, then either the receive
// loop or the deadline timer resolves it, whichever comes first.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   clockwork.Clock
}

// NewTable constructs an empty inflight table.
func NewTable(clock clockwork.Clock) *Table {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Table{
		entries: make(map[string]*entry),
		clock:   clock,
	}
}

// Register adds commandID to the table with the given deadline (relative to
// now) and returns a function that blocks until the command resolves.
//
// If deadline is reached before Resolve/Fail is called, the wait function
// returns a TIMEOUT error and the entry is removed.
func (t *Table) Register(commandID string, deadline time.Duration) func() (json.RawMessage, error) {
	if deadline <= 0 {
		deadline = DefaultCommandDeadline
	}
	e := &entry{
		deadline: t.clock.Now().Add(deadline),
		done:     make(chan result, 1),
	}

	t.mu.Lock()
	t.entries[commandID] = e
	t.mu.Unlock()

	timer := t.clock.NewTimer(deadline)

	return func() (json.RawMessage, error) {
		defer timer.Stop()
		select {
		case r := <-e.done:
			t.remove(commandID)
			return r.data, r.err
		case <-timer.Chan():
			e.resolve(result{err: trace.LimitExceeded("command %s timed out", commandID)})
			t.remove(commandID)
			return nil, trace.LimitExceeded("command %s timed out", commandID)
		}
	}
}

func (t *Table) remove(commandID string) {
	t.mu.Lock()
	delete(t.entries, commandID)
	t.mu.Unlock()
}

// take removes commandID from the table and returns its entry, so Resolve and
// Fail can each succeed at most once per command.
func (t *Table) take(commandID string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[commandID]
	if ok {
		delete(t.entries, commandID)
	}
	return e, ok
}

// Resolve completes commandID successfully with data. Returns false if no
// such command is pending (already resolved, or never registered).
func (t *Table) Resolve(commandID string, data json.RawMessage) bool {
	e, ok := t.take(commandID)
	if !ok {
		return false
	}
	e.resolve(result{data: data})
	return true
}

// Fail completes commandID with an error. Returns false if no such command
// is pending.
func (t *Table) Fail(commandID string, err error) bool {
	e, ok := t.take(commandID)
	if !ok {
		return false
	}
	e.resolve(result{err: err})
	return true
}

// CloseAll fails every still-pending command with CONNECTION_CLOSED. Used
// when the owning connection is lost or when the client switches transport
// mid-session, so outstanding inflights never ambiguously complete.
func (t *Table) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for id, e := range entries {
		log.WithField("command_id", id).Debug("failing inflight command: connection closed")
		e.resolve(result{err: trace.ConnectionProblem(nil, "connection closed")})
	}
}

// Len reports the number of still-pending commands, for tests/metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
