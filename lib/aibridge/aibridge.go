// Package aibridge implements the AI bridge (spec.md §4.11): back-end
// detection, session lifecycle, and streamed responses. The AI back-end
// itself is an external collaborator (spec.md §1) reached through a host
// integration; this package only defines the uniform Backend boundary and
// drives sessions against whichever Backend is active.
package aibridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Message is one turn in a session's transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendOptions carries the optional editor context spec.md §4.11 allows a
// caller to attach to a message.
type SendOptions struct {
	IncludeContext bool   `json:"includeContext"`
	SelectedText   string `json:"selectedText"`
}

// Backend is one addressable AI integration. Only one Backend is active per
// session; switching back-ends means starting a new session (spec.md §4.11).
type Backend interface {
	// Name identifies this backend in getStatus/getExtensions responses.
	Name() string
	// Available reports whether this backend is currently reachable.
	Available(ctx context.Context) bool
	// Send invokes the backend with the session's transcript plus the new
	// user message, calling emit once per chunk of the assistant response
	// as it becomes available, and returns the complete response text.
	Send(ctx context.Context, transcript []Message, userMessage Message, opts SendOptions, emit func(chunk string)) (string, error)
}

// EventSink receives the streamed frames a session produces while
// sendMessage is in flight. Handlers wire this directly to the requesting
// connection, since these events must reach only the requester.
type EventSink interface {
	Emit(eventType string, data interface{})
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(eventType string, data interface{})

// Emit implements EventSink.
func (f EventSinkFunc) Emit(eventType string, data interface{}) { f(eventType, data) }

// Session holds one AI conversation bound to a single backend.
type Session struct {
	ID        string
	Backend   string
	CreatedAt time.Time

	mu       sync.Mutex
	messages []Message
}

// SessionInfo is the JSON-facing summary of a Session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Backend      string    `json:"backend"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{ID: s.ID, Backend: s.Backend, CreatedAt: s.CreatedAt, MessageCount: len(s.messages)}
}

func (s *Session) transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// StatusInfo is the result of getStatus: which backends were detected and
// which one new sessions default to.
type StatusInfo struct {
	Backends       []string `json:"backends"`
	DefaultBackend string   `json:"defaultBackend"`
}

// Engine owns every session and the set of detected backends.
type Engine struct {
	mu         sync.Mutex
	backends   map[string]Backend
	defaultB   string
	sessions   map[string]*Session
	extensions []string
}

// NewEngine constructs an Engine. The first backend registered becomes the
// default unless defaultBackend names one explicitly.
func NewEngine(defaultBackend string, extensions []string, backends ...Backend) *Engine {
	e := &Engine{
		backends:   make(map[string]Backend),
		sessions:   make(map[string]*Session),
		extensions: extensions,
	}
	for _, b := range backends {
		e.backends[b.Name()] = b
		if e.defaultB == "" {
			e.defaultB = b.Name()
		}
	}
	if defaultBackend != "" {
		e.defaultB = defaultBackend
	}
	return e
}

// GetStatus probes every registered backend and reports which are
// available (spec.md §4.11 "Detects available back-ends at startup").
func (e *Engine) GetStatus(ctx context.Context) StatusInfo {
	e.mu.Lock()
	backends := make([]Backend, 0, len(e.backends))
	for _, b := range e.backends {
		backends = append(backends, b)
	}
	defaultB := e.defaultB
	e.mu.Unlock()

	var available []string
	for _, b := range backends {
		if b.Available(ctx) {
			available = append(available, b.Name())
		}
	}
	return StatusInfo{Backends: available, DefaultBackend: defaultB}
}

// GetExtensions returns the host-integration extensions this bridge was
// configured to advertise (e.g. code-search, file-context).
func (e *Engine) GetExtensions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.extensions))
	copy(out, e.extensions)
	return out
}

// CreateSession starts a new session against backendName, or the default
// backend if backendName is empty.
func (e *Engine) CreateSession(backendName string) (SessionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if backendName == "" {
		backendName = e.defaultB
	}
	if _, ok := e.backends[backendName]; !ok {
		return SessionInfo{}, trace.NotFound("ai backend %q not registered", backendName)
	}

	s := &Session{ID: uuid.NewString(), Backend: backendName, CreatedAt: time.Now()}
	e.sessions[s.ID] = s
	return s.info(), nil
}

func (e *Engine) session(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, trace.NotFound("ai session %s not found", id)
	}
	return s, nil
}

// GetSession returns the summary for session id.
func (e *Engine) GetSession(id string) (SessionInfo, error) {
	s, err := e.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.info(), nil
}

// ListSessions returns a summary of every live session.
func (e *Engine) ListSessions() []SessionInfo {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	return out
}

// DeleteSession removes session id.
func (e *Engine) DeleteSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; !ok {
		return trace.NotFound("ai session %s not found", id)
	}
	delete(e.sessions, id)
	return nil
}

// SendMessage appends a user message to sessionID's transcript, invokes the
// session's backend, and streams the assistant response to sink as
// streamChunk frames followed by a streamEnd and a final message (spec.md
// §4.11). It returns the new message's id immediately; streaming happens on
// its own goroutine so callers don't block on the backend.
func (e *Engine) SendMessage(ctx context.Context, sessionID, text string, opts SendOptions, sink EventSink) (string, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	backend, ok := e.backends[s.Backend]
	e.mu.Unlock()
	if !ok {
		return "", trace.NotFound("ai backend %q not registered", s.Backend)
	}

	userMsg := Message{ID: uuid.NewString(), Role: "user", Content: text, CreatedAt: time.Now()}
	s.append(userMsg)

	assistantID := uuid.NewString()
	transcript := s.transcript()

	go func() {
		content, err := backend.Send(ctx, transcript, userMsg, opts, func(chunk string) {
			sink.Emit("streamChunk", map[string]interface{}{
				"sessionId": sessionID, "messageId": assistantID, "content": chunk,
			})
		})
		if err != nil {
			content = "error: " + err.Error()
		}

		sink.Emit("streamEnd", map[string]interface{}{"sessionId": sessionID, "messageId": assistantID})

		assistantMsg := Message{ID: assistantID, Role: "assistant", Content: content, CreatedAt: time.Now()}
		s.append(assistantMsg)
		sink.Emit("message", map[string]interface{}{"sessionId": sessionID, "message": assistantMsg})
	}()

	return assistantID, nil
}
