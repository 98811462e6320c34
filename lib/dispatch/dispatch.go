// Package dispatch is the (category, action) -> handler table (spec.md §4.8,
// §9): handlers are installed at startup, dispatch runs concurrently by
// default, and each handler decides for itself whether that's safe.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/protocol"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Dispatch})

// Responder is how a handler (or the dispatcher itself) replies to a
// command, regardless of which server (wsserver, relay, durable relay) is
// hosting the connection.
type Responder interface {
	// Respond sends a successful response for commandID.
	Respond(conn *connections.Connection, commandID string, data interface{}) error
	// Error sends a taxonomy error for commandID (or a bare protocol error
	// if commandID is empty).
	Error(conn *connections.Connection, code apierrors.Code, message string, commandID string) error
	// BroadcastEvent fans an event out to every other connection sharing
	// conn's workspace room.
	BroadcastEvent(conn *connections.Connection, eventType string, data interface{})
}

// Request is what a handler receives: the raw command plus the connection
// and server surface needed to respond or broadcast.
type Request struct {
	Conn    *connections.Connection
	Command *protocol.Envelope
	Server  Responder
}

// Payload unmarshals the command's payload into v.
func (r *Request) Payload(v interface{}) error {
	if len(r.Command.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Command.Payload, v); err != nil {
		return trace.BadParameter("invalid payload: %v", err)
	}
	return nil
}

// Handler implements one (category, action).
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// Table is the startup-populated dispatch table.
type Table struct {
	handlers map[protocol.Category]map[string]Handler
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{handlers: make(map[protocol.Category]map[string]Handler)}
}

// Register installs a handler for (category, action). Called at startup
// only; Register is not safe to call concurrently with Dispatch.
func (t *Table) Register(category protocol.Category, action string, h Handler) {
	if t.handlers[category] == nil {
		t.handlers[category] = make(map[string]Handler)
	}
	t.handlers[category][action] = h
}

func (t *Table) lookup(category protocol.Category, action string) (Handler, bool) {
	byAction, ok := t.handlers[category]
	if !ok {
		return nil, false
	}
	h, ok := byAction[action]
	return h, ok
}

// Dispatch routes one command envelope to its handler. It is called from
// the connection's receive loop; per spec.md §4.8 commands from the same
// connection may execute in parallel, so Dispatch spawns the handler on its
// own goroutine and returns immediately — it does not block the receive
// loop on slow handlers (e.g. `terminal.execute`).
func (t *Table) Dispatch(ctx context.Context, req *Request) {
	h, ok := t.lookup(req.Command.Category, req.Command.Action)
	if !ok {
		req.Server.Error(req.Conn, apierrors.CodeUnknownCommand,
			fmt.Sprintf("unknown command %s:%s", req.Command.Category, req.Command.Action), req.Command.ID)
		return
	}

	go t.run(ctx, h, req)
}

func (t *Table) run(ctx context.Context, h Handler, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("command_id", req.Command.ID).Errorf("handler panicked: %v", r)
			req.Server.Error(req.Conn, apierrors.CodeHandlerError, fmt.Sprintf("internal error: %v", r), req.Command.ID)
		}
	}()

	start := time.Now()
	data, err := h(ctx, req)
	if err != nil {
		code := apierrors.CodeOf(err)
		if code == "" {
			code = apierrors.FromTrace(err)
		}
		if code == "" {
			code = apierrors.CodeHandlerError
		}
		req.Server.Error(req.Conn, code, err.Error(), req.Command.ID)
		return
	}

	if err := req.Server.Respond(req.Conn, req.Command.ID, data); err != nil {
		log.WithError(err).WithField("command_id", req.Command.ID).
			WithField("elapsed", time.Since(start)).Debug("failed to send response")
	}
}
