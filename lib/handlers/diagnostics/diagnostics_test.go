package diagnostics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	libdiag "github.com/editorbridge/bridge/lib/diagnostics"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

func newReq(t *testing.T, action string, payload interface{}) *dispatch.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &dispatch.Request{
		Command: &protocol.Envelope{ID: "c1", Category: protocol.CategoryDiagnostics, Action: action, Payload: raw},
	}
}

func TestGetFileRequiresFile(t *testing.T) {
	agg, err := libdiag.New(libdiag.Config{})
	require.NoError(t, err)
	h := New(agg)

	_, err = h.getFile(context.Background(), newReq(t, "getFile", fileParams{}))
	require.Error(t, err)
}

func TestGetFileReturnsTrackedDiagnostics(t *testing.T) {
	agg, err := libdiag.New(libdiag.Config{})
	require.NoError(t, err)
	agg.Update("a.go", []libdiag.Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Message: "bad"}})
	h := New(agg)

	data, err := h.getFile(context.Background(), newReq(t, "getFile", fileParams{File: "a.go"}))
	require.NoError(t, err)
	m := data.(map[string]interface{})
	diags := m["diagnostics"].([]libdiag.Diagnostic)
	require.Len(t, diags, 1)
}

func TestGetAllReturnsEveryFile(t *testing.T) {
	agg, err := libdiag.New(libdiag.Config{})
	require.NoError(t, err)
	agg.Update("a.go", []libdiag.Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1"}})
	agg.Update("b.go", []libdiag.Diagnostic{{File: "b.go", Line: 1, Column: 1, Code: "E2"}})
	h := New(agg)

	data, err := h.getAll(context.Background(), newReq(t, "getAll", nil))
	require.NoError(t, err)
	m := data.(map[string]interface{})
	files := m["files"].(map[string][]libdiag.Diagnostic)
	require.Len(t, files, 2)
}

func TestGetSummaryReturnsRollup(t *testing.T) {
	agg, err := libdiag.New(libdiag.Config{})
	require.NoError(t, err)
	agg.Update("a.go", []libdiag.Diagnostic{{File: "a.go", Line: 1, Column: 1, Code: "E1", Severity: "error"}})
	h := New(agg)

	data, err := h.getSummary(context.Background(), newReq(t, "getSummary", nil))
	require.NoError(t, err)
	summary := data.(libdiag.Summary)
	require.Equal(t, 1, summary.TotalIssues)
}
