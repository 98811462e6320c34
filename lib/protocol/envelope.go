// Package protocol defines the wire envelope shared by the local WebSocket
// server, the embedded room relay, and the multi-transport client, plus the
// inflight-command table used to correlate commands with their responses.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
)

// Type enumerates the four envelope kinds on the wire.
type Type string

const (
	TypeCommand  Type = "command"
	TypeResponse Type = "response"
	TypeError    Type = "error"
	TypeEvent    Type = "event"
)

// Category enumerates the command categories §4.8 recognizes.
type Category string

const (
	CategoryFile        Category = "file"
	CategoryEditor      Category = "editor"
	CategoryTerminal    Category = "terminal"
	CategoryAI          Category = "ai"
	CategoryWorkspace   Category = "workspace"
	CategoryDiagnostics Category = "diagnostics"
	CategoryGit         Category = "git"
	CategorySystem      Category = "system"
)

// Envelope is the single shape carried by every frame. Fields that don't
// apply to a given Type are omitted on the wire via `omitempty`.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Type      Type            `json:"type"`
	Category  Category        `json:"category,omitempty"`
	Action    string          `json:"action,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CommandID string          `json:"commandId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	EventType string          `json:"eventType,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Encode serializes e to its wire form.
func Encode(e *Envelope) ([]byte, error) {
	buf, err := json.Marshal(e)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return buf, nil
}

// Decode parses buf into an Envelope. Any structurally malformed envelope
// (bad JSON, or a known Type missing its required fields) returns a
// protocol error rather than panicking; callers are expected to report this
// as INVALID_REQUEST without tearing down the connection.
func Decode(buf []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(buf, &e); err != nil {
		return nil, trace.BadParameter("malformed envelope: %v", err)
	}
	switch e.Type {
	case TypeCommand:
		if e.ID == "" || e.Category == "" || e.Action == "" {
			return nil, trace.BadParameter("command envelope missing id/category/action")
		}
	case TypeResponse, TypeError:
		if e.CommandID == "" {
			return nil, trace.BadParameter("%s envelope missing commandId", e.Type)
		}
	case TypeEvent:
		if e.EventType == "" {
			return nil, trace.BadParameter("event envelope missing eventType")
		}
	default:
		return nil, trace.BadParameter("unknown envelope type %q", e.Type)
	}
	return &e, nil
}

// NewCommand builds a command envelope with the given id.
func NewCommand(id string, category Category, action string, payload interface{}, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Envelope{
		ID:        id,
		Timestamp: now.UnixMilli(),
		Type:      TypeCommand,
		Category:  category,
		Action:    action,
		Payload:   raw,
	}, nil
}

// NewResponse builds a response envelope for commandID.
func NewResponse(commandID string, data interface{}, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Envelope{
		ID:        commandID,
		Timestamp: now.UnixMilli(),
		Type:      TypeResponse,
		CommandID: commandID,
		Data:      raw,
	}, nil
}

// NewError builds an error envelope for commandID. commandID may be empty
// for a protocol-level error unrelated to any one command.
func NewError(commandID, code, message string, now time.Time) *Envelope {
	return &Envelope{
		ID:        commandID,
		Timestamp: now.UnixMilli(),
		Type:      TypeError,
		CommandID: commandID,
		Code:      code,
		Message:   message,
	}
}

// NewEvent builds an event envelope.
func NewEvent(eventType string, data interface{}, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Envelope{
		Timestamp: now.UnixMilli(),
		Type:      TypeEvent,
		EventType: eventType,
		Data:      raw,
	}, nil
}
