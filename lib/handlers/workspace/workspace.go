// Package workspace implements the `workspace` command category's single
// action, `getInfo` (spec.md §4.8).
package workspace

import (
	"context"

	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

// Info is the static description of the workspace a bridge instance serves.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RootPath string `json:"rootPath"`
}

// Handlers serves workspace metadata fixed at startup.
type Handlers struct {
	Info Info
}

// New constructs Handlers for the given workspace identity.
func New(id, name, rootPath string) *Handlers {
	return &Handlers{Info: Info{ID: id, Name: name, RootPath: rootPath}}
}

// Register installs `workspace:getInfo` into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryWorkspace, "getInfo", h.getInfo)
}

func (h *Handlers) getInfo(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	return h.Info, nil
}
