// Package notify is the push-notification boundary (spec.md §1: the push
// vendor API is an external collaborator, treated as a sink). Notification
// is the record both sides agree on; Sink is the uniform interface the
// durable relay calls from POST /api/v1/notifications/send (it sends nothing
// on device connection or pairing completion); HTTPSink is the one adapter
// implemented, a thin POST client against a generic push
// gateway rather than any particular vendor SDK.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Notification is one push message, and also the shape persisted into the
// per-workspace history ring (SPEC_FULL.md §3 `NotificationRecord`).
type Notification struct {
	ID          string                 `json:"id"`
	WorkspaceID string                 `json:"workspaceId"`
	DeviceID    string                 `json:"deviceId"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Data        map[string]interface{} `json:"data,omitempty"`
	SentAt      time.Time              `json:"sentAt"`
	Delivered   bool                   `json:"delivered"`
}

// Sink delivers a notification to whatever push vendor is configured.
type Sink interface {
	Send(ctx context.Context, n *Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n *Notification) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, n *Notification) error { return f(ctx, n) }

// NoopSink discards every notification; used when no gateway is configured,
// so the rest of the durable relay doesn't need a nil check.
var NoopSink Sink = SinkFunc(func(ctx context.Context, n *Notification) error { return nil })

// New builds a pending Notification with a fresh id, ready to pass to a Sink.
func New(workspaceID, deviceID, title, body string, data map[string]interface{}, now time.Time) *Notification {
	return &Notification{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		DeviceID:    deviceID,
		Title:       title,
		Body:        body,
		Data:        data,
		SentAt:      now,
	}
}

// HTTPSink posts notifications as JSON to a single configured gateway URL.
// The vendor's actual push API is out of scope (spec.md §1); this is the
// uniform shape every vendor adapter would sit behind.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

// NewHTTPSink constructs an HTTPSink posting to url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Send implements Sink by POSTing n as JSON to the configured gateway.
func (s *HTTPSink) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return trace.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return trace.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return trace.Errorf("notify: gateway returned status %d", resp.StatusCode)
	}
	n.Delivered = true
	return nil
}

// History is a bounded per-workspace ring of sent notifications, backing
// `GET /api/v1/notifications/history/:workspaceId` (SPEC_FULL.md §3).
type History struct {
	mu       sync.Mutex
	capacity int
	byWS     map[string][]*Notification
}

// NewHistory constructs a History retaining up to capacity entries per
// workspace.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{capacity: capacity, byWS: make(map[string][]*Notification)}
}

// Append records n, trimming the oldest entries past capacity.
func (h *History) Append(n *Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.byWS[n.WorkspaceID], n)
	if len(entries) > h.capacity {
		entries = entries[len(entries)-h.capacity:]
	}
	h.byWS[n.WorkspaceID] = entries
}

// List returns workspaceID's history, most recent last.
func (h *History) List(workspaceID string) []*Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Notification, len(h.byWS[workspaceID]))
	copy(out, h.byWS[workspaceID])
	return out
}
