package ai

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/aibridge"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

func newConn() *connections.Connection {
	return &connections.Connection{SocketID: "s1", Kind: connections.KindMobile, WorkspaceID: "ws"}
}

func newReq(t *testing.T, conn *connections.Connection, action string, payload interface{}) *dispatch.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &dispatch.Request{
		Conn:    conn,
		Command: &protocol.Envelope{ID: "c1", Category: protocol.CategoryAI, Action: action, Payload: raw},
	}
}

func TestGetStatusAndExtensions(t *testing.T) {
	engine := aibridge.NewEngine("", []string{"code-search"}, aibridge.NewEchoBackend("echo"))
	h := New(engine)
	conn := newConn()

	status, err := h.getStatus(context.Background(), newReq(t, conn, "getStatus", nil))
	require.NoError(t, err)
	require.Equal(t, "echo", status.(aibridge.StatusInfo).DefaultBackend)

	ext, err := h.getExtensions(context.Background(), newReq(t, conn, "getExtensions", nil))
	require.NoError(t, err)
	m := ext.(map[string]interface{})
	require.Equal(t, []string{"code-search"}, m["extensions"])
}

func TestCreateGetListDeleteSession(t *testing.T) {
	engine := aibridge.NewEngine("", nil, aibridge.NewEchoBackend("echo"))
	h := New(engine)
	conn := newConn()

	data, err := h.createSession(context.Background(), newReq(t, conn, "createSession", createSessionParams{}))
	require.NoError(t, err)
	info := data.(aibridge.SessionInfo)

	got, err := h.getSession(context.Background(), newReq(t, conn, "getSession", sessionIDParams{SessionID: info.ID}))
	require.NoError(t, err)
	require.Equal(t, info.ID, got.(aibridge.SessionInfo).ID)

	listed, err := h.listSessions(context.Background(), newReq(t, conn, "listSessions", nil))
	require.NoError(t, err)
	require.Len(t, listed.(map[string]interface{})["sessions"].([]aibridge.SessionInfo), 1)

	_, err = h.deleteSession(context.Background(), newReq(t, conn, "deleteSession", sessionIDParams{SessionID: info.ID}))
	require.NoError(t, err)

	_, err = h.getSession(context.Background(), newReq(t, conn, "getSession", sessionIDParams{SessionID: info.ID}))
	require.Error(t, err)
}

func TestSendMessagePushesFramesToRequester(t *testing.T) {
	engine := aibridge.NewEngine("", nil, aibridge.NewEchoBackend("echo"))
	h := New(engine)

	var mu sync.Mutex
	var received []protocol.Envelope
	conn := newConn()
	conn.Send = func(frame []byte) error {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return err
		}
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		return nil
	}

	data, err := h.createSession(context.Background(), newReq(t, conn, "createSession", createSessionParams{}))
	require.NoError(t, err)
	info := data.(aibridge.SessionInfo)

	_, err = h.sendMessage(context.Background(), newReq(t, conn, "sendMessage", sendMessageParams{
		SessionID: info.ID, Text: "hi there",
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(received) == 0 {
			return false
		}
		return received[len(received)-1].EventType == "message"
	}, time.Second, time.Millisecond)
}
