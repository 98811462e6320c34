// Package editor implements the `editor` command category (spec.md §4.8),
// a thin dispatch wrapper over the shared lib/editorstate singleton.
package editor

import (
	"context"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/editorstate"
	"github.com/editorbridge/bridge/lib/protocol"
)

// Handlers wraps the active document state shared with lib/handlers/file.
type Handlers struct {
	State *editorstate.State
}

// New constructs Handlers over state.
func New(state *editorstate.State) *Handlers {
	return &Handlers{State: state}
}

// Register installs every `editor` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryEditor, "getState", h.getState)
	t.Register(protocol.CategoryEditor, "goTo", h.goTo)
	t.Register(protocol.CategoryEditor, "setSelection", h.setSelection)
	t.Register(protocol.CategoryEditor, "getSelection", h.getSelection)
	t.Register(protocol.CategoryEditor, "insertText", h.insertText)
	t.Register(protocol.CategoryEditor, "replaceSelection", h.replaceSelection)
	t.Register(protocol.CategoryEditor, "getLine", h.getLine)
	t.Register(protocol.CategoryEditor, "getVisibleText", h.getVisibleText)
}

func (h *Handlers) getState(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return h.State.GetState(), nil
}

type goToParams struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

func (h *Handlers) goTo(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p goToParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.State.GoTo(p.Line, p.Col); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, err)
	}
	return h.State.GetState(), nil
}

type setSelectionParams struct {
	StartLine int `json:"sl"`
	StartCol  int `json:"sc"`
	EndLine   int `json:"el"`
	EndCol    int `json:"ec"`
}

func (h *Handlers) setSelection(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p setSelectionParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.State.SetSelection(p.StartLine, p.StartCol, p.EndLine, p.EndCol); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, err)
	}
	return h.State.GetSelection(), nil
}

func (h *Handlers) getSelection(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return h.State.GetSelection(), nil
}

type textParams struct {
	Text string `json:"text"`
}

func (h *Handlers) insertText(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p textParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.State.InsertText(p.Text); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, err)
	}
	return h.State.GetState(), nil
}

func (h *Handlers) replaceSelection(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p textParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if err := h.State.ReplaceSelection(p.Text); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, err)
	}
	return h.State.GetState(), nil
}

type lineParams struct {
	Line int `json:"line"`
}

func (h *Handlers) getLine(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p lineParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	line, err := h.State.GetLine(p.Line)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, err)
	}
	return map[string]interface{}{"line": line}, nil
}

func (h *Handlers) getVisibleText(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"text": h.State.GetVisibleText()}, nil
}
