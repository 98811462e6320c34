package bridgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/protocol"
	"github.com/editorbridge/bridge/lib/relay"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func toWS(httpURL string) string {
	u, _ := url.Parse(httpURL)
	u.Scheme = "ws"
	return u.String()
}

func rawEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				env, err := protocol.Decode(raw)
				if err != nil {
					continue
				}
				resp, _ := protocol.NewResponse(env.ID, map[string]string{"ok": "yes"}, time.Now())
				buf, _ := protocol.Encode(resp)
				conn.WriteMessage(websocket.TextMessage, buf)
			}
		}()
	}))
}

func relayEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame relay.Frame
				if json.Unmarshal(raw, &frame) != nil {
					continue
				}
				if frame.Event != relay.EventCommand {
					continue
				}
				var env protocol.Envelope
				json.Unmarshal(frame.Data, &env)
				resp, _ := protocol.NewResponse(env.ID, map[string]string{"ok": "relay"}, time.Now())
				respBuf, _ := protocol.Encode(resp)
				out, _ := json.Marshal(relay.Frame{Event: relay.EventResponse, Data: respBuf})
				conn.WriteMessage(websocket.TextMessage, out)
			}
		}()
	}))
}

func TestSendOverLocalTransport(t *testing.T) {
	srv := rawEchoServer(t)
	defer srv.Close()

	client, err := New(Config{
		LocalURL:   toWS(srv.URL),
		Preference: PreferenceLocal,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	data, err := client.Send(context.Background(), protocol.CategoryFile, "stat", map[string]string{"path": "a.txt"})
	require.NoError(t, err)
	require.Contains(t, string(data), "yes")
}

func TestSendOverRelayTransport(t *testing.T) {
	srv := relayEchoServer(t)
	defer srv.Close()

	client, err := New(Config{
		RelayURL:   toWS(srv.URL),
		Preference: PreferenceRelay,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	data, err := client.Send(context.Background(), protocol.CategoryFile, "stat", map[string]string{"path": "a.txt"})
	require.NoError(t, err)
	require.Contains(t, string(data), "relay")
}

func TestAutoFallsBackToRelayWhenLocalUnreachable(t *testing.T) {
	relaySrv := relayEchoServer(t)
	defer relaySrv.Close()

	client, err := New(Config{
		LocalURL:            "ws://127.0.0.1:1/ws",
		RelayURL:            toWS(relaySrv.URL),
		Preference:          PreferenceAuto,
		Clock:               clockwork.NewFakeClock(),
		LocalConnectTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, StateConnected, client.State())
}

func TestEventHandlerDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ev, _ := protocol.NewEvent("diagnostics:changed", map[string]int{"count": 3}, time.Now())
		buf, _ := protocol.Encode(ev)
		conn.WriteMessage(websocket.TextMessage, buf)
	}))
	defer srv.Close()

	client, err := New(Config{
		LocalURL:   toWS(srv.URL),
		Preference: PreferenceLocal,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	client.On("diagnostics:changed", func(data json.RawMessage) {
		received <- data
	})

	require.NoError(t, client.Connect(context.Background()))

	select {
	case data := <-received:
		require.Contains(t, string(data), "count")
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
