// Package diagnostics implements the `diagnostics` command category
// (spec.md §4.10): read-only queries over a shared lib/diagnostics.Aggregator.
// The aggregator itself owns the throttle and the `changed` event fan-out;
// this package only answers getFile/getAll/getSummary.
package diagnostics

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/editorbridge/bridge/lib/apierrors"
	libdiag "github.com/editorbridge/bridge/lib/diagnostics"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

// Handlers serves diagnostics queries against a shared Aggregator.
type Handlers struct {
	Aggregator *libdiag.Aggregator
}

// New constructs Handlers over agg.
func New(agg *libdiag.Aggregator) *Handlers {
	return &Handlers{Aggregator: agg}
}

// Register installs every `diagnostics` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryDiagnostics, "getFile", h.getFile)
	t.Register(protocol.CategoryDiagnostics, "getAll", h.getAll)
	t.Register(protocol.CategoryDiagnostics, "getSummary", h.getSummary)
}

type fileParams struct {
	File string `json:"file"`
}

func (h *Handlers) getFile(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p fileParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.File == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("file is required"))
	}
	diags := h.Aggregator.GetFile(p.File)
	return map[string]interface{}{"file": p.File, "diagnostics": diags}, nil
}

func (h *Handlers) getAll(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return map[string]interface{}{"files": h.Aggregator.GetAll()}, nil
}

func (h *Handlers) getSummary(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return h.Aggregator.GetSummary(), nil
}
