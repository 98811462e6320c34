// Package tunnel is the tunnel supervisor (spec.md §4.6): it owns a public
// ingress URL bound to the embedded relay's listening port and reconnects
// with exponential backoff on unexpected loss. No tunnel-vendor SDK exists
// anywhere in the pack, so the vendor boundary is the Provider interface
// below; wiring a concrete provider (ngrok, a custom reverse-proxy, etc.)
// is left to the caller.
package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Tunnel})

// State is the supervisor's lifecycle state (spec.md §4.6).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

const (
	// DefaultMaxAttempts is the default reconnect attempt bound.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the initial reconnect backoff.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps the reconnect backoff.
	DefaultMaxDelay = 30 * time.Second
)

// Provider opens a public ingress URL bound to a local port and reports
// when that binding is unexpectedly lost. Open blocks until the tunnel is
// established or ctx is cancelled; the returned channel closes exactly
// once, when the tunnel goes away for any reason other than a Close call.
type Provider interface {
	Open(ctx context.Context, port int) (url string, lost <-chan struct{}, err error)
	Close() error
}

// Event is delivered to observers on every state transition.
type Event struct {
	State State
	URL   string
	Err   error
}

// Config configures a Supervisor.
type Config struct {
	Provider    Provider
	Clock       clockwork.Clock
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c *Config) checkAndSetDefaults() error {
	if c.Provider == nil {
		return trace.BadParameter("tunnel: Provider is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return nil
}

// Supervisor manages one tunnel's lifecycle. The zero value is not usable;
// construct with New.
type Supervisor struct {
	cfg Config

	mu        sync.Mutex
	state     State
	url       string
	observers []func(Event)
	cancel    context.CancelFunc
}

// New constructs a Supervisor from cfg.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Supervisor{cfg: cfg, state: StateDisconnected}, nil
}

// OnEvent registers an observer notified of every state transition
// (status UI, QR payload regeneration per spec.md §4.6).
func (s *Supervisor) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the current public ingress URL, or "" if not connected.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Connect opens the tunnel for port and supervises it until Disconnect is
// called or the retry budget is exhausted. It returns once the first
// connection attempt resolves, with that attempt's error if it failed;
// retries and later reconnects continue in the background.
func (s *Supervisor) Connect(ctx context.Context, port int) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return trace.BadParameter("tunnel: already connecting or connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	first := make(chan error, 1)
	go s.run(runCtx, port, first)
	return <-first
}

// Disconnect tears the tunnel down and clears any pending reconnect.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return trace.Wrap(s.cfg.Provider.Close())
}

func (s *Supervisor) run(ctx context.Context, port int, first chan<- error) {
	attempt := 0
	reportedFirst := false

	for {
		s.setState(StateConnecting, "", nil)

		url, lost, err := s.cfg.Provider.Open(ctx, port)
		if err != nil {
			attempt++
			s.setState(StateError, "", err)
			if !reportedFirst {
				reportedFirst = true
				first <- err
			}
			if ctx.Err() != nil {
				return
			}
			if attempt >= s.cfg.MaxAttempts {
				log.WithError(err).Warn("tunnel reconnect attempts exhausted")
				return
			}
			if !s.sleep(ctx, backoffDelay(attempt, s.cfg.BaseDelay, s.cfg.MaxDelay)) {
				return
			}
			continue
		}

		attempt = 0
		s.setState(StateConnected, url, nil)
		if !reportedFirst {
			reportedFirst = true
			first <- nil
		}

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected, "", nil)
			return
		case <-lost:
			log.Warn("tunnel connection lost, reconnecting")
			s.setState(StateError, "", trace.ConnectionProblem(nil, "tunnel connection lost"))
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.cfg.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setState(state State, url string, err error) {
	s.mu.Lock()
	s.state = state
	if url != "" || state == StateDisconnected {
		s.url = url
	}
	observers := append([]func(Event){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(Event{State: state, URL: url, Err: err})
	}
}

// backoffDelay returns the delay before reconnect attempt n (1-indexed),
// doubling from base and capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
