// Package relay is the embedded, Socket.IO-style room relay (spec.md §4.5):
// a multi-party workspace room that forwards command/response/event traffic
// between an editor-host peer and one or more mobile peers, reachable over
// the LAN directly or fronted by the tunnel supervisor. Unlike wsserver it
// never calls the dispatch table itself — forwarding only, so the same
// process's editor-host participant (wired in lib/bridgeapp) can sit behind
// it exactly like a remote one would.
package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/credentials"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Relay})

// Event names forwarded across the relay (spec.md §6).
const (
	EventCommand            = "command"
	EventResponse           = "response"
	EventEvent              = "event"
	EventMessage            = "message"
	EventPing               = "ping"
	EventPong               = "pong"
	EventConnected          = "connected"
	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"
)

// DeviceType enumerates the handshake deviceType values (spec.md §6).
const (
	DeviceTypeVSCode DeviceType = "vscode"
	DeviceTypeMobile DeviceType = "mobile"
)

// DeviceType is the handshake-declared peer role.
type DeviceType string

// maxPortAttempts bounds the port-collision retry (spec.md §4.5: "a small
// bound").
const maxPortAttempts = 5

// Frame is the relay's wire shape: one named event plus its JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Config wires a Server's dependencies.
type Config struct {
	// Connections is the shared connection registry (spec.md §3). The same
	// registry may also back a co-located wsserver.
	Connections *connections.Registry
	// Credentials verifies bearer access tokens presented in the handshake.
	Credentials *credentials.Service
	// DevToken, if non-empty, is accepted in place of a verified token —
	// "in development, a well-known demo token is permitted" (spec.md §4.5).
	DevToken string
	// Clock is used for connection bookkeeping; swappable in tests.
	Clock clockwork.Clock
	// CheckOrigin overrides the websocket upgrader's origin check.
	CheckOrigin func(r *http.Request) bool
}

func (c *Config) checkAndSetDefaults() error {
	if c.Connections == nil {
		return trace.BadParameter("relay: Connections is required")
	}
	if c.Credentials == nil {
		return trace.BadParameter("relay: Credentials is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return nil
}

// Server hosts the /relay upgrade endpoint under the /device namespace.
type Server struct {
	cfg      Config
	router   *httprouter.Router
	upgrader websocket.Upgrader
}

// New constructs a Server from cfg.
func New(cfg Config) (*Server, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
	}
	s.router = httprouter.New()
	s.router.GET("/relay/device", s.handleConnect)
	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServeWithRetry binds to port, retrying on port+1 up to
// maxPortAttempts times on collision, and blocks serving until ctx is
// cancelled. It returns the port actually bound.
func (s *Server) ListenAndServeWithRetry(ctx context.Context, host string, port int) (int, error) {
	var listener net.Listener
	var boundPort int
	var err error

	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		candidate := port + attempt
		listener, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(candidate)))
		if err == nil {
			boundPort = candidate
			break
		}
		if !isAddrInUse(err) {
			return 0, trace.Wrap(err)
		}
		log.WithField("port", candidate).Debug("relay port in use, retrying")
	}
	if listener == nil {
		return 0, trace.Wrap(err, "no free port found after %d attempts starting at %d", maxPortAttempts, port)
	}

	httpServer := &http.Server{Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return boundPort, trace.Wrap(err)
		}
		return boundPort, nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return boundPort, trace.Wrap(httpServer.Shutdown(shutdownCtx))
	}
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	token := q.Get("token")
	workspaceID := q.Get("workspaceId")
	deviceID := q.Get("deviceId")
	deviceName := q.Get("deviceName")
	deviceType := DeviceType(q.Get("deviceType"))

	kind, err := kindFromDeviceType(deviceType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if workspaceID == "" {
		http.Error(w, "missing workspaceId", http.StatusBadRequest)
		return
	}

	resolvedDeviceID, err := s.authenticate(token, deviceID, workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	room := connections.RoomName(workspaceID)
	if kind == connections.KindEditorHost && s.cfg.Connections.HasEditorHost(room) {
		http.Error(w, "editor-host already connected for this workspace", http.StatusConflict)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("relay upgrade failed")
		return
	}

	var writeMu sync.Mutex
	send := func(frame Frame) error {
		buf, err := json.Marshal(frame)
		if err != nil {
			return trace.Wrap(err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, buf)
	}

	conn := &connections.Connection{
		SocketID:    uuid.NewString(),
		DeviceID:    resolvedDeviceID,
		Kind:        kind,
		WorkspaceID: workspaceID,
		Send: func(raw []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return ws.WriteMessage(websocket.TextMessage, raw)
		},
	}
	s.cfg.Connections.Add(conn)

	send(Frame{Event: EventConnected})
	s.announce(room, conn.SocketID, EventDeviceConnected, deviceName, resolvedDeviceID, kind)

	s.readLoop(ws, conn)

	s.cfg.Connections.Remove(conn.SocketID)
	s.announce(room, conn.SocketID, EventDeviceDisconnected, deviceName, resolvedDeviceID, kind)
}

func (s *Server) announce(room, exceptSocketID, event, deviceName, deviceID string, kind connections.Kind) {
	payload, err := json.Marshal(map[string]interface{}{
		"deviceId":   deviceID,
		"deviceName": deviceName,
		"deviceType": kind,
	})
	if err != nil {
		return
	}
	buf, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return
	}
	s.cfg.Connections.Broadcast(room, exceptSocketID, buf)
}

func (s *Server) readLoop(ws *websocket.Conn, conn *connections.Connection) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch(s.cfg.Clock.Now())

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.WithError(err).Debug("malformed relay frame")
			continue
		}

		switch frame.Event {
		case EventPing:
			pong, _ := json.Marshal(Frame{Event: EventPong})
			conn.Send(pong)
		case EventPong:
			// activity already recorded above; no forwarding.
		case EventCommand:
			if conn.Kind == connections.KindMobile {
				s.cfg.Connections.Broadcast(conn.Room(), conn.SocketID, raw)
			}
		case EventResponse, EventEvent:
			if conn.Kind == connections.KindEditorHost {
				s.cfg.Connections.Broadcast(conn.Room(), conn.SocketID, raw)
			}
		case EventMessage:
			s.cfg.Connections.Broadcast(conn.Room(), conn.SocketID, raw)
		default:
			log.WithField("event", frame.Event).Debug("unrecognized relay event")
		}
	}
}

func kindFromDeviceType(dt DeviceType) (connections.Kind, error) {
	switch dt {
	case DeviceTypeVSCode:
		return connections.KindEditorHost, nil
	case DeviceTypeMobile:
		return connections.KindMobile, nil
	default:
		return "", trace.BadParameter("unknown deviceType %q", dt)
	}
}

func (s *Server) authenticate(token, deviceID, workspaceID string) (string, error) {
	if token == "" {
		return "", trace.BadParameter("missing token")
	}
	if s.cfg.DevToken != "" && token == s.cfg.DevToken {
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		return deviceID, nil
	}

	claims, err := s.cfg.Credentials.VerifyAccess(token)
	if err != nil {
		return "", trace.AccessDenied("invalid token")
	}
	if claims.WorkspaceID != workspaceID {
		return "", trace.AccessDenied("token does not match workspace %q", workspaceID)
	}
	return claims.DeviceID, nil
}
