package aibridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

type event struct {
	eventType string
	data      interface{}
}

func (r *recordingSink) Emit(eventType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{eventType, data})
}

func (r *recordingSink) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func TestGetStatusReportsAvailableBackends(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	status := e.GetStatus(context.Background())
	require.Equal(t, []string{"echo"}, status.Backends)
	require.Equal(t, "echo", status.DefaultBackend)
}

func TestCreateSessionDefaultsToDefaultBackend(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	info, err := e.CreateSession("")
	require.NoError(t, err)
	require.Equal(t, "echo", info.Backend)
}

func TestCreateSessionRejectsUnknownBackend(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	_, err := e.CreateSession("claude")
	require.Error(t, err)
}

func TestSendMessageStreamsChunksThenEnd(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	session, err := e.CreateSession("")
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = e.SendMessage(context.Background(), session.ID, "hello there", SendOptions{}, sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events := sink.snapshot()
		if len(events) == 0 {
			return false
		}
		return events[len(events)-1].eventType == "message"
	}, time.Second, time.Millisecond)

	events := sink.snapshot()
	require.Equal(t, "streamChunk", events[0].eventType)
	require.Equal(t, "streamEnd", events[len(events)-2].eventType)
	require.Equal(t, "message", events[len(events)-1].eventType)
}

func TestSendMessageGrowsSessionMessageCount(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	session, err := e.CreateSession("")
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = e.SendMessage(context.Background(), session.ID, "ping", SendOptions{}, sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := e.GetSession(session.ID)
		return err == nil && info.MessageCount == 2
	}, time.Second, time.Millisecond)
}

func TestSendMessageUnknownSession(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	sink := &recordingSink{}
	_, err := e.SendMessage(context.Background(), "missing", "hi", SendOptions{}, sink)
	require.Error(t, err)
}

func TestListAndDeleteSession(t *testing.T) {
	e := NewEngine("", nil, NewEchoBackend("echo"))
	session, err := e.CreateSession("")
	require.NoError(t, err)
	require.Len(t, e.ListSessions(), 1)

	require.NoError(t, e.DeleteSession(session.ID))
	require.Empty(t, e.ListSessions())
}

func TestGetExtensionsReturnsConfiguredList(t *testing.T) {
	e := NewEngine("", []string{"code-search", "file-context"}, NewEchoBackend("echo"))
	require.Equal(t, []string{"code-search", "file-context"}, e.GetExtensions())
}
