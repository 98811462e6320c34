// Package durablerelay is the optional external deployment of the Relay
// HTTP API (spec.md §4.12, §6 "Relay HTTP (optional external deployment)"):
// a stateless-process-friendly front door for pairing, auth, device, and
// notification management, backed by durable stores (redisstore,
// ratelimit.RedisLimiter) that replicas share; the devices.Registry and
// notify.History it is given are in-process and per replica. It never
// forwards WebSocket traffic itself — that's lib/relay's job — this is only
// the control-plane HTTP surface mobile clients and the editor-host CLI
// call before opening a relay connection.
package durablerelay

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/credentials"
	"github.com/editorbridge/bridge/lib/devices"
	"github.com/editorbridge/bridge/lib/notify"
	"github.com/editorbridge/bridge/lib/pairing"
	"github.com/editorbridge/bridge/lib/ratelimit"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.DurableRelay})

// RateLimiter abstracts the in-process ratelimit.Limiter and the durable
// ratelimit.RedisLimiter behind the one method each exposes with a matching
// shape, so Server doesn't care which backs a given deployment.
type RateLimiter interface {
	Allow(bucket ratelimit.Bucket, key string) (ratelimit.Result, error)
}

// localLimiter adapts *ratelimit.Limiter (whose Allow has no error return)
// to RateLimiter.
type localLimiter struct{ l *ratelimit.Limiter }

func (a localLimiter) Allow(bucket ratelimit.Bucket, key string) (ratelimit.Result, error) {
	return a.l.Allow(bucket, key), nil
}

// NewLocalRateLimiter wraps an in-process Limiter as a RateLimiter.
func NewLocalRateLimiter(l *ratelimit.Limiter) RateLimiter { return localLimiter{l} }

// Config wires the services a Server dispatches into.
type Config struct {
	Credentials   *credentials.Service
	Pairing       pairing.Store
	Devices       *devices.Registry
	Notify        notify.Sink
	Notifications *notify.History
	RateLimit     RateLimiter
	Clock         clockwork.Clock
	// PairingTTL is how long a pair/init session stays redeemable.
	PairingTTL time.Duration
	// OnlineWindow bounds GET /devices/online (last-seen within this long).
	OnlineWindow time.Duration
}

func (c *Config) checkAndSetDefaults() error {
	if c.Credentials == nil {
		return trace.BadParameter("durablerelay: Credentials is required")
	}
	if c.Pairing == nil {
		return trace.BadParameter("durablerelay: Pairing is required")
	}
	if c.Devices == nil {
		return trace.BadParameter("durablerelay: Devices is required")
	}
	if c.RateLimit == nil {
		return trace.BadParameter("durablerelay: RateLimit is required")
	}
	if c.Notify == nil {
		c.Notify = notify.NoopSink
	}
	if c.Notifications == nil {
		c.Notifications = notify.NewHistory(100)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PairingTTL == 0 {
		c.PairingTTL = pairing.DefaultTTL
	}
	if c.OnlineWindow == 0 {
		c.OnlineWindow = 5 * time.Minute
	}
	return nil
}

// Server hosts the Relay HTTP API.
type Server struct {
	cfg    Config
	router *httprouter.Router
}

// New constructs a Server from cfg.
func New(cfg Config) (*Server, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	s := &Server{cfg: cfg}
	s.router = httprouter.New()

	s.router.POST("/api/v1/pair/init", s.withRateLimit(ratelimit.BucketPairing, s.handlePairInit))
	s.router.POST("/api/v1/pair/complete", s.withRateLimit(ratelimit.BucketAuth, s.handlePairComplete))
	s.router.POST("/api/v1/auth/refresh", s.withRateLimit(ratelimit.BucketAuth, s.handleAuthRefresh))
	s.router.POST("/api/v1/auth/logout", s.withRateLimit(ratelimit.BucketAuth, s.requireAuth(s.handleAuthLogout)))
	s.router.GET("/api/v1/auth/me", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleAuthMe)))
	s.router.GET("/api/v1/devices", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleDevicesList)))
	s.router.GET("/api/v1/devices/online", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleDevicesOnline)))
	s.router.GET("/api/v1/devices/:id", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleDeviceGet)))
	s.router.DELETE("/api/v1/devices/:id", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleDeviceDelete)))
	s.router.POST("/api/v1/devices/:id/ping", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleDevicePing)))
	s.router.POST("/api/v1/notifications/send", s.withRateLimit(ratelimit.BucketNotifications, s.requireAuth(s.handleNotificationsSend)))
	s.router.POST("/api/v1/notifications/token", s.withRateLimit(ratelimit.BucketNotifications, s.requireAuth(s.handleNotificationsToken)))
	s.router.DELETE("/api/v1/notifications/token/:deviceId", s.withRateLimit(ratelimit.BucketNotifications, s.requireAuth(s.handleNotificationsTokenDelete)))
	s.router.GET("/api/v1/notifications/history/:workspaceId", s.withRateLimit(ratelimit.BucketGeneral, s.requireAuth(s.handleNotificationsHistory)))
	s.router.GET("/health", s.handleHealth)

	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving on addr until ctx is cancelled, then shuts
// the underlying http.Server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.router}

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
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": s.cfg.Clock.Now().UnixMilli()})
}

// withRateLimit enforces bucket against the caller's device id (if the
// request already carries a verified Bearer token) or its remote address
// otherwise, per spec.md §5/§7, setting the X-RateLimit-* headers on every
// allowed or rejected response and Retry-After on rejections.
func (s *Server) withRateLimit(bucket ratelimit.Bucket, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := s.rateLimitKey(r)
		result, err := s.cfg.RateLimit.Allow(bucket, key)
		if err != nil {
			writeError(w, apierrors.CodeInternalError, err.Error())
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeError(w, apierrors.CodeRateLimited, "rate limit exceeded")
			return
		}
		next(w, r, ps)
	}
}

// rateLimitKey prefers the bearer token's device id when present so a
// device's own limit follows it across addresses; falls back to the peer
// address for unauthenticated endpoints like pair/init, or when the token
// does not verify.
func (s *Server) rateLimitKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		if claims, err := s.cfg.Credentials.VerifyAccess(token); err == nil {
			return claims.DeviceID
		}
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

type deviceIDKey struct{}

// requireAuth validates the Bearer access token and threads the resolved
// device/workspace claims through the request context before calling next.
func (s *Server) requireAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierrors.CodeMissingToken, "missing bearer token")
			return
		}
		claims, err := s.cfg.Credentials.VerifyAccess(token)
		if err != nil {
			writeError(w, apierrors.CodeInvalidToken, "invalid or expired token")
			return
		}
		if err := s.cfg.Devices.Touch(claims.DeviceID); err != nil {
			log.WithField("device_id", claims.DeviceID).Debug("touch on unregistered device")
		}
		ctx := context.WithValue(r.Context(), deviceIDKey{}, claims)
		next(w, r.WithContext(ctx), ps)
	}
}

func claimsFrom(r *http.Request) *credentials.AccessClaims {
	claims, _ := r.Context().Value(deviceIDKey{}).(*credentials.AccessClaims)
	return claims
}

// --- pair/init, pair/complete ---

type pairInitRequest struct {
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName"`
	LocalAddress  string `json:"localAddress"`
	RelayURL      string `json:"relayUrl"`
	TokenHash     string `json:"tokenHash"`
	PIN           string `json:"pin"`
}

func (s *Server) handlePairInit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pairInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.CodeInvalidRequest, "malformed request body")
		return
	}
	if req.WorkspaceID == "" || req.TokenHash == "" || req.PIN == "" {
		writeError(w, apierrors.CodeInvalidRequest, "workspaceId, tokenHash, and pin are required")
		return
	}

	now := s.cfg.Clock.Now()
	session := &pairing.Session{
		ID:            uuid.NewString(),
		WorkspaceID:   req.WorkspaceID,
		WorkspaceName: req.WorkspaceName,
		PIN:           req.PIN,
		SecretDigest:  req.TokenHash,
		LocalAddress:  req.LocalAddress,
		RelayURL:      req.RelayURL,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.PairingTTL),
		Status:        pairing.StatusPending,
	}
	if err := s.cfg.Pairing.Create(session); err != nil {
		writeError(w, apierrors.FromTrace(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": session.ID,
		"expiresAt": session.ExpiresAt.UnixMilli(),
	})
}

type pairCompleteRequest struct {
	Token       string `json:"token"`
	PIN         string `json:"pin"`
	DeviceName  string `json:"deviceName"`
	Platform    string `json:"platform"`
	AppVersion  string `json:"appVersion"`
}

func (s *Server) handlePairComplete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pairCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.CodeInvalidRequest, "malformed request body")
		return
	}
	if req.Token == "" && req.PIN == "" {
		writeError(w, apierrors.CodeInvalidRequest, "one of token or pin is required")
		return
	}

	var (
		session *pairing.Session
		err     error
	)
	if req.Token != "" {
		session, err = s.cfg.Pairing.GetByDigest(credentials.DigestSecret(req.Token))
	} else {
		session, err = s.cfg.Pairing.GetByPIN(req.PIN)
	}
	if err != nil {
		writeError(w, apierrors.CodeSessionNotFound, "pairing session not found")
		return
	}
	if session.Expired(s.cfg.Clock.Now()) {
		writeError(w, apierrors.CodeSessionExpired, "pairing session expired")
		return
	}
	if err := s.cfg.Pairing.Complete(session.ID); err != nil {
		if err == pairing.ErrAlreadyPaired {
			writeError(w, apierrors.CodeAlreadyPaired, "pairing session already completed")
			return
		}
		writeError(w, apierrors.FromTrace(err), err.Error())
		return
	}

	device := s.cfg.Devices.Register(uuid.NewString(), session.WorkspaceID, req.DeviceName, req.Platform, req.AppVersion)

	tokens, err := s.cfg.Credentials.IssueTokens(device.ID, session.WorkspaceID, session.WorkspaceName)
	if err != nil {
		writeError(w, apierrors.CodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deviceId":     device.ID,
		"accessToken":  tokens.Access,
		"refreshToken": tokens.Refresh,
		"workspace": map[string]interface{}{
			"id":           session.WorkspaceID,
			"name":         session.WorkspaceName,
			"localAddress": session.LocalAddress,
			"relayUrl":     session.RelayURL,
		},
	})
}

// --- auth ---

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, apierrors.CodeInvalidRequest, "refreshToken is required")
		return
	}
	tokens, err := s.cfg.Credentials.Rotate(req.RefreshToken)
	if err != nil {
		writeError(w, apierrors.CodeInvalidToken, "invalid or expired refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  tokens.Access,
		"refreshToken": tokens.Refresh,
	})
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		_ = s.cfg.Credentials.RevokeRefresh(req.RefreshToken)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims := claimsFrom(r)
	device, err := s.cfg.Devices.Get(claims.DeviceID)
	if err != nil {
		writeError(w, apierrors.CodeNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceJSON(device))
}

// --- devices ---

func (s *Server) handleDevicesList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims := claimsFrom(r)
	out := make([]map[string]interface{}, 0)
	for _, d := range s.cfg.Devices.List(claims.WorkspaceID) {
		out = append(out, deviceJSON(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevicesOnline(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims := claimsFrom(r)
	out := make([]map[string]interface{}, 0)
	for _, d := range s.cfg.Devices.Online(claims.WorkspaceID, s.cfg.OnlineWindow) {
		out = append(out, deviceJSON(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d, err := s.cfg.Devices.Get(ps.ByName("id"))
	if err != nil {
		writeError(w, apierrors.CodeNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceJSON(d))
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.cfg.Devices.Remove(ps.ByName("id")); err != nil {
		writeError(w, apierrors.CodeNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleDevicePing(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.cfg.Devices.Touch(ps.ByName("id")); err != nil {
		writeError(w, apierrors.CodeNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// --- notifications ---

type notificationSendRequest struct {
	DeviceID string                 `json:"deviceId"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data"`
}

func (s *Server) handleNotificationsSend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims := claimsFrom(r)
	var req notificationSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Title == "" {
		writeError(w, apierrors.CodeInvalidRequest, "deviceId and title are required")
		return
	}

	n := notify.New(claims.WorkspaceID, req.DeviceID, req.Title, req.Body, req.Data, s.cfg.Clock.Now())
	if err := s.cfg.Notify.Send(r.Context(), n); err != nil {
		log.WithError(err).Warn("notification delivery failed")
	}
	s.cfg.Notifications.Append(n)

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": n.ID, "delivered": n.Delivered})
}

type notificationTokenRequest struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

func (s *Server) handleNotificationsToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req notificationTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Token == "" {
		writeError(w, apierrors.CodeInvalidRequest, "deviceId and token are required")
		return
	}
	// The push token is validated and acknowledged only; this server does not
	// store it or pass it to Notify.
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleNotificationsTokenDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleNotificationsHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	history := s.cfg.Notifications.List(ps.ByName("workspaceId"))
	writeJSON(w, http.StatusOK, history)
}

func deviceJSON(d *devices.Device) map[string]interface{} {
	return map[string]interface{}{
		"id":          d.ID,
		"displayName": d.DisplayName,
		"platform":    d.Platform,
		"appVersion":  d.AppVersion,
		"workspaceId": d.WorkspaceID,
		"createdAt":   d.CreatedAt.UnixMilli(),
		"lastSeenAt":  d.LastSeenAt.UnixMilli(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code apierrors.Code, message string) {
	writeJSON(w, apierrors.HTTPStatus(code), map[string]interface{}{
		"code":    string(code),
		"message": message,
	})
}
