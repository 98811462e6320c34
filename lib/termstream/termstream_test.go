package termstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
}

func (r *recordingSink) Emit(eventType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func TestExecuteCapturesOutput(t *testing.T) {
	e := NewEngine(t.TempDir())
	res, err := e.Execute(context.Background(), "echo hello", ExecuteOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Stdout, "hello")
	require.Equal(t, 0, res.ExitCode)
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	e := NewEngine(t.TempDir())
	_, err := e.Execute(context.Background(), "   ", ExecuteOptions{})
	require.Error(t, err)
}

func TestExecuteHonorsTimeout(t *testing.T) {
	e := NewEngine(t.TempDir())
	_, err := e.Execute(context.Background(), "sleep 5", ExecuteOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
}

func TestExecuteStreamingEmitsStartOutputEnd(t *testing.T) {
	e := NewEngine(t.TempDir())
	sink := &recordingSink{}

	id, err := e.ExecuteStreaming("echo one", "", sink)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		events := sink.snapshot()
		if len(events) == 0 {
			return false
		}
		return events[len(events)-1] == "streamEnd"
	}, 2*time.Second, 10*time.Millisecond)

	events := sink.snapshot()
	require.Equal(t, "streamStart", events[0])
	require.Equal(t, "streamEnd", events[len(events)-1])
}

func TestKillStreamTerminatesProcess(t *testing.T) {
	e := NewEngine(t.TempDir())
	sink := &recordingSink{}

	id, err := e.ExecuteStreaming("sleep 10", "", sink)
	require.NoError(t, err)

	require.NoError(t, e.KillStream(id))

	require.Eventually(t, func() bool {
		events := sink.snapshot()
		return len(events) > 0 && events[len(events)-1] == "streamEnd"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetActiveStreamsTracksRunningCommands(t *testing.T) {
	e := NewEngine(t.TempDir())
	sink := &recordingSink{}

	id, err := e.ExecuteStreaming("sleep 2", "", sink)
	require.NoError(t, err)

	active := e.GetActiveStreams()
	require.Len(t, active, 1)
	require.Equal(t, id, active[0].ID)

	require.NoError(t, e.KillStream(id))
}

func TestCreateSendInputDispose(t *testing.T) {
	e := NewEngine(t.TempDir())
	info, err := e.Create("")
	require.NoError(t, err)
	require.NotEmpty(t, info.ID)

	require.NoError(t, e.SendInput(info.ID, "echo hi\n"))
	require.NoError(t, e.Dispose(info.ID))

	_, err = e.Show(info.ID)
	require.Error(t, err)
}

func TestShutdownKillsOwnedWork(t *testing.T) {
	e := NewEngine(t.TempDir())
	_, err := e.Create("")
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = e.ExecuteStreaming("sleep 10", "", sink)
	require.NoError(t, err)

	e.Shutdown()
	require.Empty(t, e.List())
	require.Empty(t, e.GetActiveStreams())
}
