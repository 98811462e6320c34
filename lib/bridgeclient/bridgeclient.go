// Package bridgeclient is the mobile-side multi-transport client (spec.md
// §4.7): one send(category, action, payload) -> response surface and a
// pub-sub event demux, regardless of which of {local WebSocket, embedded
// relay} is carrying the session. Both transports share the same inflight
// command table, so switching transports mid-session can never silently
// leave a command unresolved.
package bridgeclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/protocol"
	"github.com/editorbridge/bridge/lib/relay"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Client})

// State is the client's connection lifecycle state (spec.md §4.7).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Preference selects which transport(s) the client is willing to try.
type Preference string

const (
	PreferenceAuto  Preference = "auto"
	PreferenceLocal Preference = "local"
	PreferenceRelay Preference = "relay"
)

// transportKind identifies which wire shape is active.
type transportKind string

const (
	transportLocal transportKind = "local"
	transportRelay transportKind = "relay"
)

const (
	// DefaultLocalConnectTimeout bounds the local-WebSocket connect attempt
	// before falling back to the relay (spec.md §4.7).
	DefaultLocalConnectTimeout = 5 * time.Second
	// DefaultReconnectBaseDelay is the initial raw-WS reconnect backoff.
	DefaultReconnectBaseDelay = 2 * time.Second
	// DefaultReconnectMaxAttempts bounds raw-WS reconnect attempts. Not
	// otherwise specified by spec.md §4.7 beyond "a bounded attempt count";
	// chosen here and documented as an implementation decision.
	DefaultReconnectMaxAttempts = 8
)

// Event is delivered to state observers.
type Event struct {
	State     State
	Transport transportKind
	Err       error
}

// Config configures a Client.
type Config struct {
	// LocalURL is the full `ws://host:port/ws?token=...&deviceName=...` URL
	// for the direct LAN transport.
	LocalURL string
	// RelayURL is the full `ws://host:port/relay/device?...` URL for the
	// embedded-relay transport (reachable directly or via a tunnel).
	RelayURL string
	// Preference selects explicit transport or "auto" failover.
	Preference Preference
	// Dialer is used to open both transports; defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Clock is used for timestamps and reconnect backoff.
	Clock clockwork.Clock
	// LocalConnectTimeout overrides DefaultLocalConnectTimeout.
	LocalConnectTimeout time.Duration
	// ReconnectBaseDelay overrides DefaultReconnectBaseDelay.
	ReconnectBaseDelay time.Duration
	// ReconnectMaxAttempts overrides DefaultReconnectMaxAttempts.
	ReconnectMaxAttempts int
}

func (c *Config) checkAndSetDefaults() error {
	if c.Preference == "" {
		c.Preference = PreferenceAuto
	}
	if c.Preference != PreferenceAuto && c.LocalURL == "" && c.RelayURL == "" {
		return trace.BadParameter("bridgeclient: at least one of LocalURL/RelayURL is required")
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.LocalConnectTimeout == 0 {
		c.LocalConnectTimeout = DefaultLocalConnectTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	return nil
}

// Client is the mobile-side session surface.
type Client struct {
	cfg      Config
	inflight *protocol.Table

	mu        sync.Mutex
	state     State
	kind      transportKind
	conn      *websocket.Conn
	handlers  map[string][]func(json.RawMessage)
	observers []func(Event)
}

// New constructs a Client from cfg.
func New(cfg Config) (*Client, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{
		cfg:      cfg,
		inflight: protocol.NewTable(cfg.Clock),
		state:    StateDisconnected,
		handlers: make(map[string][]func(json.RawMessage)),
	}, nil
}

// OnEvent registers a connection-state observer.
func (c *Client) OnEvent(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// On registers a handler for eventType, demultiplexed from the generic
// `event` stream (spec.md §4.7).
func (c *Client) On(eventType string, handler func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect selects a transport per Preference and establishes the session.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting, "", nil)

	switch c.cfg.Preference {
	case PreferenceLocal:
		return c.connectLocal(ctx)
	case PreferenceRelay:
		return c.connectRelay(ctx)
	default:
		localCtx, cancel := context.WithTimeout(ctx, c.cfg.LocalConnectTimeout)
		defer cancel()
		if err := c.connectLocal(localCtx); err == nil {
			return nil
		}
		log.Debug("local transport unreachable, falling back to relay")
		return c.connectRelay(ctx)
	}
}

func (c *Client) connectLocal(ctx context.Context) error {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.LocalURL, nil)
	if err != nil {
		c.setState(StateError, transportLocal, err)
		return trace.Wrap(err)
	}
	c.adopt(transportLocal, conn)
	go c.runRawReadLoop(conn)
	return nil
}

func (c *Client) connectRelay(ctx context.Context) error {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.RelayURL, nil)
	if err != nil {
		c.setState(StateError, transportRelay, err)
		return trace.Wrap(err)
	}
	c.adopt(transportRelay, conn)
	go c.runRelayReadLoop(conn)
	return nil
}

// adopt installs conn as the active transport. If a previous transport was
// active, switching rejects every outstanding inflight with
// CONNECTION_CLOSED rather than risk an ambiguous completion (spec.md §4.7).
func (c *Client) adopt(kind transportKind, conn *websocket.Conn) {
	c.mu.Lock()
	previous := c.conn
	c.kind = kind
	c.conn = conn
	c.mu.Unlock()

	if previous != nil {
		c.inflight.CloseAll()
		previous.Close()
	}
	c.setState(StateConnected, kind, nil)
}

func (c *Client) runRawReadLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onTransportLost(conn, err)
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			log.WithError(err).Debug("malformed envelope from local transport")
			continue
		}
		c.onEnvelope(env)
	}
}

func (c *Client) runRelayReadLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onTransportLost(conn, err)
			return
		}
		var frame relay.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.WithError(err).Debug("malformed relay frame")
			continue
		}
		switch frame.Event {
		case relay.EventResponse, relay.EventEvent:
			var env protocol.Envelope
			if err := json.Unmarshal(frame.Data, &env); err != nil {
				log.WithError(err).Debug("malformed envelope inside relay frame")
				continue
			}
			c.onEnvelope(&env)
		case relay.EventPing:
			pong, _ := json.Marshal(relay.Frame{Event: relay.EventPong})
			conn.WriteMessage(websocket.TextMessage, pong)
		}
	}
}

func (c *Client) onTransportLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	isActive := conn == c.conn
	c.mu.Unlock()
	if !isActive {
		return
	}
	log.WithError(err).Debug("transport connection lost")
	kind := c.currentKind()
	c.setState(StateError, kind, err)
	c.inflight.CloseAll()
	go c.superviseReconnect(kind)
}

func (c *Client) currentKind() transportKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// superviseReconnect retries the raw local WebSocket transport after an
// unexpected loss, with exponential backoff (base 2 s, doubling, spec.md
// §4.7). The relay transport relies on the relay server's own session
// semantics and is not retried here; callers may call Connect again.
func (c *Client) superviseReconnect(kind transportKind) {
	if kind != transportLocal {
		return
	}

	delay := c.cfg.ReconnectBaseDelay
	for attempt := 1; attempt <= c.cfg.ReconnectMaxAttempts; attempt++ {
		timer := c.cfg.Clock.NewTimer(delay)
		<-timer.Chan()
		timer.Stop()

		if c.State() != StateError {
			return
		}

		conn, _, err := c.cfg.Dialer.Dial(c.cfg.LocalURL, nil)
		if err != nil {
			delay *= 2
			continue
		}
		c.adopt(transportLocal, conn)
		go c.runRawReadLoop(conn)
		return
	}
	log.Warn("local transport reconnect attempts exhausted")
}

func (c *Client) onEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeResponse:
		c.inflight.Resolve(env.CommandID, env.Data)
	case protocol.TypeError:
		c.inflight.Fail(env.CommandID, apierrors.New(apierrors.Code(env.Code), trace.Errorf("%s", env.Message)))
	case protocol.TypeEvent:
		c.dispatchEvent(env.EventType, env.Data)
	}
}

func (c *Client) dispatchEvent(eventType string, data json.RawMessage) {
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[eventType]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// Send issues category:action with payload and blocks until a response,
// error, timeout, or connection loss resolves it (testable property 3).
func (c *Client) Send(ctx context.Context, category protocol.Category, action string, payload interface{}) (json.RawMessage, error) {
	env, err := protocol.NewCommand(uuid.NewString(), category, action, payload, c.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	wait := c.inflight.Register(env.ID, protocol.DefaultCommandDeadline)

	if err := c.sendEnvelope(env); err != nil {
		c.inflight.Fail(env.ID, err)
		return wait()
	}

	type result struct {
		data json.RawMessage
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		data, err := wait()
		resCh <- result{data, err}
	}()

	select {
	case r := <-resCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, trace.Wrap(ctx.Err())
	}
}

func (c *Client) sendEnvelope(env *protocol.Envelope) error {
	c.mu.Lock()
	kind, conn := c.kind, c.conn
	c.mu.Unlock()

	if conn == nil {
		return trace.ConnectionProblem(nil, "not connected")
	}

	switch kind {
	case transportLocal:
		buf, err := protocol.Encode(env)
		if err != nil {
			return trace.Wrap(err)
		}
		return conn.WriteMessage(websocket.TextMessage, buf)
	case transportRelay:
		envBuf, err := protocol.Encode(env)
		if err != nil {
			return trace.Wrap(err)
		}
		frame, err := json.Marshal(relay.Frame{Event: relay.EventCommand, Data: envBuf})
		if err != nil {
			return trace.Wrap(err)
		}
		return conn.WriteMessage(websocket.TextMessage, frame)
	default:
		return trace.ConnectionProblem(nil, "not connected")
	}
}

func (c *Client) setState(state State, kind transportKind, err error) {
	c.mu.Lock()
	c.state = state
	observers := append([]func(Event){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(Event{State: state, Transport: kind, Err: err})
	}
}

// Close tears down the active transport and fails every outstanding
// inflight with CONNECTION_CLOSED.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.inflight.CloseAll()
	c.setState(StateDisconnected, "", nil)
	if conn == nil {
		return nil
	}
	return trace.Wrap(conn.Close())
}
