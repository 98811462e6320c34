// Package git implements the `git` command category (spec.md §4.8) by
// shelling out to the system `git` binary. The SCM backend itself is an
// external collaborator (spec.md §1); invoking it through the command bus
// is the in-scope part.
package git

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"github.com/gravitational/trace"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/protocol"
)

// Handlers runs git against a single working tree root.
type Handlers struct {
	Root string
}

// New constructs Handlers rooted at root.
func New(root string) *Handlers {
	return &Handlers{Root: root}
}

// Register installs every `git` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryGit, "status", h.status)
	t.Register(protocol.CategoryGit, "diff", h.diff)
	t.Register(protocol.CategoryGit, "show", h.show)
	t.Register(protocol.CategoryGit, "stage", h.stage)
	t.Register(protocol.CategoryGit, "unstage", h.unstage)
	t.Register(protocol.CategoryGit, "discard", h.discard)
	t.Register(protocol.CategoryGit, "branch", h.branch)
}

func (h *Handlers) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", h.Root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", apierrors.New(apierrors.CodeHandlerError,
			trace.Wrap(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out))))
	}
	return string(out), nil
}

type statusEntry struct {
	Path     string `json:"path"`
	Staged   string `json:"staged"`
	Unstaged string `json:"unstaged"`
}

func (h *Handlers) status(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	out, err := h.run(ctx, "status", "--porcelain=v1", "-b")
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(strings.NewReader(out))
	var branch string
	var entries []statusEntry
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "##") {
			branch = strings.TrimSpace(strings.TrimPrefix(line, "##"))
			continue
		}
		if len(line) < 4 {
			continue
		}
		entries = append(entries, statusEntry{
			Staged:   string(line[0]),
			Unstaged: string(line[1]),
			Path:     strings.TrimSpace(line[3:]),
		})
	}
	return map[string]interface{}{"branch": branch, "files": entries}, nil
}

type diffParams struct {
	FilePath string `json:"filePath"`
	Staged   bool   `json:"staged"`
}

func (h *Handlers) diff(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p diffParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}

	args := []string{"diff"}
	if p.Staged {
		args = append(args, "--cached")
	}
	if p.FilePath != "" {
		args = append(args, "--", p.FilePath)
	}

	out, err := h.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"diff": out}, nil
}

type showParams struct {
	FilePath string `json:"filePath"`
	Ref      string `json:"ref"`
}

func (h *Handlers) show(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p showParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("filePath is required"))
	}
	ref := p.Ref
	if ref == "" {
		ref = "HEAD"
	}

	out, err := h.run(ctx, "show", ref+":"+p.FilePath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": out, "ref": ref}, nil
}

type filePathParams struct {
	FilePath string `json:"filePath"`
}

func (h *Handlers) stage(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p filePathParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("filePath is required"))
	}
	if _, err := h.run(ctx, "add", "--", p.FilePath); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) unstage(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p filePathParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("filePath is required"))
	}
	if _, err := h.run(ctx, "restore", "--staged", "--", p.FilePath); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handlers) discard(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p filePathParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("filePath is required"))
	}
	if _, err := h.run(ctx, "checkout", "--", p.FilePath); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

type branchInfo struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

func (h *Handlers) branch(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	out, err := h.run(ctx, "branch", "--list")
	if err != nil {
		return nil, err
	}

	var branches []branchInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		current := strings.HasPrefix(line, "*")
		name := strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if name == "" {
			continue
		}
		branches = append(branches, branchInfo{Name: name, Current: current})
	}
	return map[string]interface{}{"branches": branches}, nil
}
