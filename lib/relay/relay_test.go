package relay

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/credentials"
)

func newTestRelay(t *testing.T) (*httptest.Server, *credentials.Service) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	creds, err := credentials.New(credentials.Config{Clock: clock})
	require.NoError(t, err)

	srv, err := New(Config{
		Connections: connections.New(clock),
		Credentials: creds,
		DevToken:    "dev-demo-token",
		Clock:       clock,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, creds
}

func dialRelay(t *testing.T, httpURL, token, workspaceID, deviceID, deviceName, deviceType string) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(httpURL)
	u.Scheme = "ws"
	u.Path = "/relay/device"
	q := u.Query()
	q.Set("token", token)
	q.Set("workspaceId", workspaceID)
	q.Set("deviceId", deviceID)
	q.Set("deviceName", deviceName)
	q.Set("deviceType", deviceType)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestCommandForwardedFromMobileToHost(t *testing.T) {
	ts, _ := newTestRelay(t)

	host := dialRelay(t, ts.URL, "dev-demo-token", "ws-1", "host-1", "vscode", string(DeviceTypeVSCode))
	defer host.Close()
	require.Equal(t, EventConnected, readFrame(t, host).Event)

	mobile := dialRelay(t, ts.URL, "dev-demo-token", "ws-1", "mobile-1", "phone", string(DeviceTypeMobile))
	defer mobile.Close()
	require.Equal(t, EventConnected, readFrame(t, mobile).Event)
	require.Equal(t, EventDeviceConnected, readFrame(t, host).Event)

	cmd := Frame{Event: EventCommand, Data: json.RawMessage(`{"id":"c1"}`)}
	buf, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, mobile.WriteMessage(websocket.TextMessage, buf))

	got := readFrame(t, host)
	require.Equal(t, EventCommand, got.Event)
}

func TestSecondEditorHostRejected(t *testing.T) {
	ts, _ := newTestRelay(t)

	host1 := dialRelay(t, ts.URL, "dev-demo-token", "ws-2", "host-1", "vscode", string(DeviceTypeVSCode))
	defer host1.Close()
	require.Equal(t, EventConnected, readFrame(t, host1).Event)

	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/relay/device"
	q := u.Query()
	q.Set("token", "dev-demo-token")
	q.Set("workspaceId", "ws-2")
	q.Set("deviceId", "host-2")
	q.Set("deviceType", string(DeviceTypeVSCode))
	u.RawQuery = q.Encode()

	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	require.Equal(t, 409, resp.StatusCode)
}

func TestPingGetsPong(t *testing.T) {
	ts, _ := newTestRelay(t)

	mobile := dialRelay(t, ts.URL, "dev-demo-token", "ws-3", "mobile-1", "phone", string(DeviceTypeMobile))
	defer mobile.Close()
	require.Equal(t, EventConnected, readFrame(t, mobile).Event)

	ping, err := json.Marshal(Frame{Event: EventPing})
	require.NoError(t, err)
	require.NoError(t, mobile.WriteMessage(websocket.TextMessage, ping))

	require.Equal(t, EventPong, readFrame(t, mobile).Event)
}
