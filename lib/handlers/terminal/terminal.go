// Package terminal implements the `terminal` command category (spec.md
// §4.8, §4.9): one lib/termstream.Engine per connection, torn down when the
// connection disconnects.
package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
	"github.com/editorbridge/bridge/lib/termstream"
)

// Handlers owns one termstream.Engine per live connection.
type Handlers struct {
	mu         sync.Mutex
	engines    map[string]*termstream.Engine
	defaultCwd string
}

// New constructs Handlers and subscribes to registry for disconnect cleanup.
func New(defaultCwd string, registry *connections.Registry) *Handlers {
	h := &Handlers{engines: make(map[string]*termstream.Engine), defaultCwd: defaultCwd}
	registry.OnLeave(h.onLeave)
	return h
}

func (h *Handlers) onLeave(conn *connections.Connection) {
	h.mu.Lock()
	e, ok := h.engines[conn.SocketID]
	if ok {
		delete(h.engines, conn.SocketID)
	}
	h.mu.Unlock()
	if ok {
		e.Shutdown()
	}
}

func (h *Handlers) engineFor(conn *connections.Connection) *termstream.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.engines[conn.SocketID]
	if !ok {
		e = termstream.NewEngine(h.defaultCwd)
		h.engines[conn.SocketID] = e
	}
	return e
}

// connSink emits events directly to the requesting connection, not the
// whole room — terminal output belongs to whoever started the stream.
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

// Register installs every `terminal` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryTerminal, "list", h.list)
	t.Register(protocol.CategoryTerminal, "create", h.create)
	t.Register(protocol.CategoryTerminal, "execute", h.execute)
	t.Register(protocol.CategoryTerminal, "sendInput", h.sendInput)
	t.Register(protocol.CategoryTerminal, "interrupt", h.interrupt)
	t.Register(protocol.CategoryTerminal, "show", h.show)
	t.Register(protocol.CategoryTerminal, "dispose", h.dispose)
	t.Register(protocol.CategoryTerminal, "setCwd", h.setCwd)
	t.Register(protocol.CategoryTerminal, "getCwd", h.getCwd)
	t.Register(protocol.CategoryTerminal, "executeStreaming", h.executeStreaming)
	t.Register(protocol.CategoryTerminal, "killStream", h.killStream)
	t.Register(protocol.CategoryTerminal, "getActiveStreams", h.getActiveStreams)
}

func (h *Handlers) list(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"terminals": h.engineFor(req.Conn).List()}, nil
}

type createParams struct {
	Cwd string `json:"cwd"`
}

func (h *Handlers) create(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p createParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	info, err := h.engineFor(req.Conn).Create(p.Cwd)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeHandlerError, err)
	}
	return info, nil
}

type executeParams struct {
	Command       string `json:"command"`
	TerminalID    string `json:"terminalId"`
	CaptureOutput bool   `json:"captureOutput"`
	Cwd           string `json:"cwd"`
	TimeoutMS     int64  `json:"timeout"`
}

func (h *Handlers) execute(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p executeParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	var timeout time.Duration
	if p.TimeoutMS > 0 {
		timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	res, err := h.engineFor(req.Conn).Execute(ctx, p.Command, termstream.ExecuteOptions{
		TerminalID:    p.TerminalID,
		CaptureOutput: p.CaptureOutput,
		Cwd:           p.Cwd,
		Timeout:       timeout,
	})
	if err != nil {
		return nil, apierrors.New(apierrors.CodeHandlerError, err)
	}
	return res, nil
}

type terminalIDParams struct {
	TerminalID string `json:"terminalId"`
}

func (h *Handlers) sendInput(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p struct {
		TerminalID string `json:"terminalId"`
		Data       string `json:"data"`
	}
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.engineFor(req.Conn).SendInput(p.TerminalID, p.Data); err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) interrupt(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p terminalIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.engineFor(req.Conn).Interrupt(p.TerminalID); err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) show(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p terminalIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	info, err := h.engineFor(req.Conn).Show(p.TerminalID)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return info, nil
}

func (h *Handlers) dispose(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p terminalIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.engineFor(req.Conn).Dispose(p.TerminalID); err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) setCwd(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p struct {
		TerminalID string `json:"terminalId"`
		Cwd        string `json:"cwd"`
	}
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.engineFor(req.Conn).SetCwd(p.TerminalID, p.Cwd); err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) getCwd(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p terminalIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	cwd, err := h.engineFor(req.Conn).GetCwd(p.TerminalID)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeTerminalNotFound, err)
	}
	return map[string]interface{}{"cwd": cwd}, nil
}

type executeStreamingParams struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

func (h *Handlers) executeStreaming(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p executeStreamingParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	streamID, err := h.engineFor(req.Conn).ExecuteStreaming(p.Command, p.Cwd, connSink{conn: req.Conn})
	if err != nil {
		return nil, apierrors.New(apierrors.CodeHandlerError, err)
	}
	return map[string]interface{}{"streamId": streamID}, nil
}

type streamIDParams struct {
	StreamID string `json:"streamId"`
}

func (h *Handlers) killStream(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p streamIDParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.engineFor(req.Conn).KillStream(p.StreamID); err != nil {
		return nil, apierrors.New(apierrors.CodeNotFound, err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) getActiveStreams(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"streams": h.engineFor(req.Conn).GetActiveStreams()}, nil
}
