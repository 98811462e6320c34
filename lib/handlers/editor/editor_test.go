package editor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/editorstate"
	"github.com/editorbridge/bridge/lib/protocol"
)

func newReq(t *testing.T, action string, payload interface{}) *dispatch.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &dispatch.Request{
		Command: &protocol.Envelope{ID: "c1", Category: protocol.CategoryEditor, Action: action, Payload: raw},
	}
}

func TestGoToAndGetSelection(t *testing.T) {
	state := editorstate.New()
	state.Open("a.txt", "hello\nworld", nil)
	h := New(state)

	_, err := h.goTo(context.Background(), newReq(t, "goTo", goToParams{Line: 1, Col: 2}))
	require.NoError(t, err)

	sel := state.GetSelection()
	require.Equal(t, 1, sel.StartLine)
	require.Equal(t, 2, sel.StartCol)
}

func TestInsertTextShiftsSelection(t *testing.T) {
	state := editorstate.New()
	state.Open("a.txt", "hello", nil)
	h := New(state)

	_, err := h.insertText(context.Background(), newReq(t, "insertText", textParams{Text: "X"}))
	require.NoError(t, err)

	require.Equal(t, "Xhello", state.GetVisibleText())
	require.Equal(t, 1, state.GetSelection().StartCol)
}

func TestGetLineOutOfRange(t *testing.T) {
	state := editorstate.New()
	state.Open("a.txt", "only one line", nil)
	h := New(state)

	_, err := h.getLine(context.Background(), newReq(t, "getLine", lineParams{Line: 5}))
	require.Error(t, err)
}

func TestReplaceSelection(t *testing.T) {
	state := editorstate.New()
	state.Open("a.txt", "hello world", nil)
	require.NoError(t, state.SetSelection(0, 0, 0, 5))
	h := New(state)

	_, err := h.replaceSelection(context.Background(), newReq(t, "replaceSelection", textParams{Text: "goodbye"}))
	require.NoError(t, err)
	require.Equal(t, "goodbye world", state.GetVisibleText())
}
