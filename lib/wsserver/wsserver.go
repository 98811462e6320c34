// Package wsserver is the local WebSocket server (spec.md §4.4): the single
// upgrade path mobile clients reach over the LAN, authenticated by URL
// query, registering into the shared connection registry and handing every
// decoded command straight to the dispatch table.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/credentials"
	"github.com/editorbridge/bridge/lib/devices"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/pairing"
	"github.com/editorbridge/bridge/lib/protocol"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.WSServer})

const (
	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
)

// Config wires the services a Server dispatches into.
type Config struct {
	// Credentials verifies bearer access tokens and issues new ones on
	// pairing redemption.
	Credentials *credentials.Service
	// Pairing looks up pending sessions by secret digest.
	Pairing pairing.Store
	// Devices records newly-paired devices and touches returning ones.
	Devices *devices.Registry
	// Connections is the shared connection registry (spec.md §3).
	Connections *connections.Registry
	// Dispatch routes decoded commands to their handlers.
	Dispatch *dispatch.Table
	// Clock is used for envelope timestamps; swappable in tests.
	Clock clockwork.Clock
	// CheckOrigin overrides the websocket upgrader's origin check. Defaults
	// to permitting any origin, since this server is reached over the LAN.
	CheckOrigin func(r *http.Request) bool
}

func (c *Config) checkAndSetDefaults() error {
	if c.Credentials == nil {
		return trace.BadParameter("wsserver: Credentials is required")
	}
	if c.Pairing == nil {
		return trace.BadParameter("wsserver: Pairing is required")
	}
	if c.Connections == nil {
		return trace.BadParameter("wsserver: Connections is required")
	}
	if c.Dispatch == nil {
		return trace.BadParameter("wsserver: Dispatch is required")
	}
	if c.Devices == nil {
		return trace.BadParameter("wsserver: Devices is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return nil
}

// Server hosts the /ws upgrade endpoint and the /health liveness endpoint.
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
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: cfg.CheckOrigin,
		},
	}
	s.router = httprouter.New()
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWS)
	return s, nil
}

// Handler returns the server's http.Handler, for embedding in a listener of
// the caller's choosing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving on addr until ctx is cancelled, then shuts
// the underlying http.Server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return trace.Wrap(httpServer.Shutdown(shutdownCtx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.cfg.Clock.Now().UnixMilli(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	token := query.Get("token")
	deviceName := query.Get("deviceName")

	deviceID, workspaceID, workspaceName, issued, err := s.authenticate(token, deviceName)
	if err != nil {
		status := apierrors.HTTPStatus(apierrors.CodeOf(err))
		if status == http.StatusInternalServerError {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]interface{}{
			"code":    string(apierrors.CodeOf(err)),
			"message": err.Error(),
		})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	var writeMu sync.Mutex
	conn := &connections.Connection{
		SocketID:    uuid.NewString(),
		DeviceID:    deviceID,
		Kind:        connections.KindMobile,
		WorkspaceID: workspaceID,
		Send: func(frame []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return ws.WriteMessage(websocket.TextMessage, frame)
		},
	}
	s.cfg.Connections.Add(conn)
	defer s.cfg.Connections.Remove(conn.SocketID)

	if issued != nil {
		event, err := protocol.NewEvent("connected", map[string]interface{}{
			"deviceId":      deviceID,
			"workspaceId":   workspaceID,
			"workspaceName": workspaceName,
			"accessToken":   issued.Access,
			"refreshToken":  issued.Refresh,
		}, s.cfg.Clock.Now())
		if err == nil {
			if buf, err := protocol.Encode(event); err == nil {
				conn.Send(buf)
			}
		}
	}

	s.readLoop(r.Context(), ws, conn)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *connections.Connection) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch(s.cfg.Clock.Now())

		envelope, err := protocol.Decode(raw)
		if err != nil {
			s.Error(conn, apierrors.CodeInvalidRequest, err.Error(), "")
			continue
		}
		if envelope.Type != protocol.TypeCommand {
			continue
		}

		s.cfg.Dispatch.Dispatch(ctx, &dispatch.Request{
			Conn:    conn,
			Command: envelope,
			Server:  s,
		})
	}
}

// authenticate validates the token query parameter, returning either the
// claims of a bearer access token or the result of redeeming a pairing
// secret. It never returns both a non-nil error and a non-empty deviceID.
func (s *Server) authenticate(token, deviceName string) (deviceID, workspaceID, workspaceName string, issued *credentials.TokenPair, err error) {
	if token == "" {
		return "", "", "", nil, apierrors.New(apierrors.CodeMissingToken, trace.BadParameter(errMissingToken))
	}

	digest := credentials.DigestSecret(token)
	session, lookupErr := s.cfg.Pairing.GetByDigest(digest)
	if lookupErr == nil {
		return s.redeemPairing(session, deviceName)
	}
	if !trace.IsNotFound(lookupErr) {
		return "", "", "", nil, trace.Wrap(lookupErr)
	}

	claims, verifyErr := s.cfg.Credentials.VerifyAccess(token)
	if verifyErr != nil {
		return "", "", "", nil, apierrors.New(apierrors.CodeInvalidToken, trace.BadParameter(errInvalidToken))
	}
	if err := s.cfg.Devices.Touch(claims.DeviceID); err != nil {
		log.WithField("device_id", claims.DeviceID).Debug("touch on unregistered device")
	}
	return claims.DeviceID, claims.WorkspaceID, claims.WorkspaceName, nil, nil
}

func (s *Server) redeemPairing(session *pairing.Session, deviceName string) (string, string, string, *credentials.TokenPair, error) {
	if err := s.cfg.Pairing.Complete(session.ID); err != nil {
		return "", "", "", nil, apierrors.New(apierrors.CodeInvalidToken, trace.Wrap(err))
	}

	deviceID := uuid.NewString()
	s.cfg.Devices.Register(deviceID, session.WorkspaceID, deviceName, "", "")

	tokens, err := s.cfg.Credentials.IssueTokens(deviceID, session.WorkspaceID, session.WorkspaceName)
	if err != nil {
		return "", "", "", nil, trace.Wrap(err)
	}

	log.WithField("device_id", deviceID).WithField("workspace_id", session.WorkspaceID).
		Info("pairing secret redeemed")
	return deviceID, session.WorkspaceID, session.WorkspaceName, tokens, nil
}

// Respond implements dispatch.Responder.
func (s *Server) Respond(conn *connections.Connection, commandID string, data interface{}) error {
	envelope, err := protocol.NewResponse(commandID, data, s.cfg.Clock.Now())
	if err != nil {
		return trace.Wrap(err)
	}
	buf, err := protocol.Encode(envelope)
	if err != nil {
		return trace.Wrap(err)
	}
	return conn.Send(buf)
}

// Error implements dispatch.Responder.
func (s *Server) Error(conn *connections.Connection, code apierrors.Code, message, commandID string) error {
	envelope := protocol.NewError(commandID, string(code), message, s.cfg.Clock.Now())
	buf, err := protocol.Encode(envelope)
	if err != nil {
		return trace.Wrap(err)
	}
	return conn.Send(buf)
}

// BroadcastEvent implements dispatch.Responder: it fans the event out to
// every other connection sharing conn's workspace room (spec.md §4.5 event
// forwarding semantics apply equally to the direct-WS path).
func (s *Server) BroadcastEvent(conn *connections.Connection, eventType string, data interface{}) {
	envelope, err := protocol.NewEvent(eventType, data, s.cfg.Clock.Now())
	if err != nil {
		log.WithError(err).WithField("event_type", eventType).Warn("failed to build broadcast event")
		return
	}
	buf, err := protocol.Encode(envelope)
	if err != nil {
		log.WithError(err).WithField("event_type", eventType).Warn("failed to encode broadcast event")
		return
	}
	s.cfg.Connections.Broadcast(conn.Room(), conn.SocketID, buf)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
