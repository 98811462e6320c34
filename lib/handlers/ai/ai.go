// Package ai implements the `ai` command category (spec.md §4.8, §4.11):
// a single shared lib/aibridge.Engine queried for back-end status and
// driven for session lifecycle and streamed sendMessage.
package ai

import (
	"context"
	"time"

	"github.com/editorbridge/bridge/lib/aibridge"
	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

// Handlers wires the `ai` category onto a shared Engine.
type Handlers struct {
	Engine *aibridge.Engine
}

// New constructs Handlers over engine.
func New(engine *aibridge.Engine) *Handlers {
	return &Handlers{Engine: engine}
}

// connSink emits streamed AI frames directly to the requesting connection,
// not the whole room — an assistant reply belongs to whoever asked for it.
type connSink struct {
	conn *connections.Connection
}

func (s connSink) Emit(eventType string, data interface{}) {
	env, err := protocol.NewEvent(eventType, data, time.Now())
	if err != nil {
		return
	}
	buf, err := protocol.Encode(env)
	if err != nil {
		return
	}
	s.conn.Send(buf)
}

// Register installs every `ai` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryAI, "getStatus", h.getStatus)
	t.Register(protocol.CategoryAI, "getExtensions", h.getExtensions)
	t.Register(protocol.CategoryAI, "createSession", h.createSession)
	t.Register(protocol.CategoryAI, "getSession", h.getSession)
	t.Register(protocol.CategoryAI, "listSessions", h.listSessions)
	t.Register(protocol.CategoryAI, "deleteSession", h.deleteSession)
	t.Register(protocol.CategoryAI, "sendMessage", h.sendMessage)
}

func (h *Handlers) getStatus(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return h.Engine.GetStatus(ctx), nil
}

func (h *Handlers) getExtensions(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"extensions": h.Engine.GetExtensions()}, nil
}

type createSessionParams struct {
	Backend string `json:"backend"`
}

func (h *Handlers) createSession(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p createSessionParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	info, err := h.Engine.CreateSession(p.Backend)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeAIUnavailable, err)
	}
	return info, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func (h *Handlers) getSession(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p sessionIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	info, err := h.Engine.GetSession(p.SessionID)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeSessionNotFound, err)
	}
	return info, nil
}

func (h *Handlers) listSessions(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"sessions": h.Engine.ListSessions()}, nil
}

func (h *Handlers) deleteSession(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p sessionIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.Engine.DeleteSession(p.SessionID); err != nil {
		return nil, apierrors.New(apierrors.CodeSessionNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

type sendMessageParams struct {
	SessionID      string `json:"sessionId"`
	Text           string `json:"text"`
	IncludeContext bool   `json:"includeContext"`
	SelectedText   string `json:"selectedText"`
}

func (h *Handlers) sendMessage(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p sendMessageParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	messageID, err := h.Engine.SendMessage(ctx, p.SessionID, p.Text, aibridge.SendOptions{
		IncludeContext: p.IncludeContext,
		SelectedText:   p.SelectedText,
	}, connSink{conn: req.Conn})
	if err != nil {
		return nil, apierrors.New(apierrors.CodeSessionNotFound, err)
	}
	return map[string]interface{}{"messageId": messageID}, nil
}
