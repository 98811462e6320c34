// Package file implements the `file` command category (spec.md §4.8):
// filesystem operations scoped to the workspace root, plus the `open`/`save`
// actions that hand off to lib/editorstate.
package file

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/editorstate"
	"github.com/editorbridge/bridge/lib/protocol"
)

// DefaultMaxReadBytes is the size guard from spec.md §4.8/§6 ("size ≤ 5 MiB").
const DefaultMaxReadBytes = 5 * 1024 * 1024

// Handlers holds the filesystem root every path is resolved against, and the
// shared editor state that `open`/`save` operate on.
type Handlers struct {
	Root        string
	MaxReadSize int64
	State       *editorstate.State
}

// New constructs Handlers rooted at root. A zero MaxReadSize falls back to
// DefaultMaxReadBytes.
func New(root string, maxReadSize int64, state *editorstate.State) *Handlers {
	if maxReadSize <= 0 {
		maxReadSize = DefaultMaxReadBytes
	}
	return &Handlers{Root: root, MaxReadSize: maxReadSize, State: state}
}

// Register installs every `file` action into t.
func (h *Handlers) Register(t *dispatch.Table) {
	t.Register(protocol.CategoryFile, "list", h.list)
	t.Register(protocol.CategoryFile, "read", h.read)
	t.Register(protocol.CategoryFile, "write", h.write)
	t.Register(protocol.CategoryFile, "open", h.open)
	t.Register(protocol.CategoryFile, "search", h.search)
	t.Register(protocol.CategoryFile, "stat", h.stat)
	t.Register(protocol.CategoryFile, "save", h.save)
}

// resolve validates path stays within h.Root and returns its absolute form.
// Rejects traversal outside the root even via `..` or symlink-free absolute
// paths (spec.md names the root as the sandbox boundary implicitly via the
// workspace concept in §3/§6).
func (h *Handlers) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	var abs string
	if filepath.IsAbs(clean) {
		abs = clean
	} else {
		abs = filepath.Join(h.Root, clean)
	}

	rel, err := filepath.Rel(h.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apierrors.New(apierrors.CodeForbidden, trace.AccessDenied("path %q escapes workspace root", path))
	}
	return abs, nil
}

type listEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

type listParams struct {
	Path string `json:"path"`
}

func (h *Handlers) list(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p listParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	abs, err := h.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapFSError(err)
	}

	out := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, listEntry{
			Name:  e.Name(),
			Path:  filepath.Join(p.Path, e.Name()),
			IsDir: e.IsDir(),
			Size:  size,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return map[string]interface{}{"entries": out}, nil
}

type readParams struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

func (h *Handlers) read(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p readParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	abs, err := h.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapFSError(err)
	}
	if info.Size() > h.MaxReadSize {
		return nil, apierrors.New(apierrors.CodeHandlerError, trace.BadParameter(
			"file %s is %s, exceeds the %s read limit", p.Path,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(h.MaxReadSize))))
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, mapFSError(err)
	}
	defer f.Close()

	var buf bytes.Buffer
	// +1 lets us detect a concurrent grow past the limit between Stat and Open.
	n, err := io.Copy(&buf, io.LimitReader(f, h.MaxReadSize+1))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if n > h.MaxReadSize {
		return nil, apierrors.New(apierrors.CodeHandlerError, trace.BadParameter(
			"file %s exceeds the %s read limit", p.Path, humanize.IBytes(uint64(h.MaxReadSize))))
	}

	encoding := p.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}
	return map[string]interface{}{
		"content":  buf.String(),
		"encoding": encoding,
	}, nil
}

type writeParams struct {
	Path         string `json:"path"`
	Content      string `json:"content"`
	CreateBackup bool   `json:"createBackup"`
}

func (h *Handlers) write(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p writeParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	abs, err := h.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	if p.CreateBackup {
		if _, err := os.Stat(abs); err == nil {
			if err := copyFile(abs, abs+".bak"); err != nil {
				return nil, trace.Wrap(err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.WriteFile(abs, []byte(p.Content), 0o644); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"bytesWritten": len(p.Content)}, nil
}

type openParams struct {
	Path      string                 `json:"path"`
	Selection *editorstate.Selection `json:"selection"`
}

func (h *Handlers) open(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p openParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	abs, err := h.resolve(p.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapFSError(err)
	}
	if info.Size() > h.MaxReadSize {
		return nil, apierrors.New(apierrors.CodeHandlerError, trace.BadParameter(
			"file %s is %s, exceeds the %s read limit", p.Path,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(h.MaxReadSize))))
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, mapFSError(err)
	}

	h.State.Open(p.Path, string(content), p.Selection)
	return h.State.GetState(), nil
}

func (h *Handlers) save(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	relPath, content, err := h.State.Save()
	if err != nil {
		return nil, apierrors.New(apierrors.CodeHandlerError, err)
	}
	abs, err := h.resolve(relPath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"path": relPath}, nil
}

type searchParams struct {
	Pattern    string `json:"pattern"`
	MaxResults int    `json:"maxResults"`
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (h *Handlers) search(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p searchParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	if p.Pattern == "" {
		return nil, apierrors.New(apierrors.CodeInvalidRequest, trace.BadParameter("pattern is required"))
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	errStop := trace.Errorf("search result limit reached")

	var matches []searchMatch
	walkErr := filepath.WalkDir(h.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= maxResults {
			return errStop
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(h.Root, path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(content), "\n") {
			if len(matches) >= maxResults {
				break
			}
			if strings.Contains(line, p.Pattern) {
				matches = append(matches, searchMatch{Path: rel, Line: i, Text: line})
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != errStop {
		return nil, trace.Wrap(walkErr)
	}

	return map[string]interface{}{"matches": matches, "truncated": len(matches) >= maxResults}, nil
}

type statParams struct {
	Path string `json:"path"`
}

func (h *Handlers) stat(ctx context.Context, req *dispatch.Request) (interface{}, error) {
	var p statParams
	if err := req.Payload(&p); err != nil {
		return nil, err
	}
	abs, err := h.resolve(p.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapFSError(err)
	}
	return map[string]interface{}{
		"size":    info.Size(),
		"isDir":   info.IsDir(),
		"modTime": info.ModTime(),
	}, nil
}

func mapFSError(err error) error {
	if os.IsNotExist(err) {
		return apierrors.New(apierrors.CodeNotFound, trace.NotFound("%v", err))
	}
	if os.IsPermission(err) {
		return apierrors.New(apierrors.CodeForbidden, trace.AccessDenied("%v", err))
	}
	return trace.Wrap(err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return trace.Wrap(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return trace.Wrap(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
