package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/apierrors"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/editorstate"
	"github.com/editorbridge/bridge/lib/protocol"
)

func newReq(t *testing.T, action string, payload interface{}) *dispatch.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &dispatch.Request{
		Command: &protocol.Envelope{ID: "c1", Category: protocol.CategoryFile, Action: action, Payload: raw},
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	h := New(root, 0, editorstate.New())

	data, err := h.read(context.Background(), newReq(t, "read", readParams{Path: "a.txt"}))
	require.NoError(t, err)
	m := data.(map[string]interface{})
	require.Equal(t, "hello", m["content"])

	_, err = h.write(context.Background(), newReq(t, "write", writeParams{Path: "b.txt", Content: "world"}))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "world", string(content))
}

func TestReadRejectsOversizeFile(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 10)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644))

	h := New(root, 5, editorstate.New())

	_, err := h.read(context.Background(), newReq(t, "read", readParams{Path: "big.bin"}))
	require.Error(t, err)
	require.Equal(t, apierrors.CodeHandlerError, apierrors.CodeOf(err))
	require.Contains(t, err.Error(), "exceeds")
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	h := New(root, 0, editorstate.New())

	_, err := h.resolve("../etc/passwd")
	require.Error(t, err)
	require.Equal(t, apierrors.CodeForbidden, apierrors.CodeOf(err))
}

func TestOpenPopulatesEditorState(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("line1\nline2"), 0o644))

	state := editorstate.New()
	h := New(root, 0, state)

	_, err := h.open(context.Background(), newReq(t, "open", openParams{Path: "a.txt"}))
	require.NoError(t, err)

	snap := state.GetState()
	require.Equal(t, "a.txt", snap.ActiveFile)
	require.Equal(t, 2, snap.LineCount)
}

func TestSaveWritesEditorStateToDisk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("original"), 0o644))

	state := editorstate.New()
	h := New(root, 0, state)

	_, err := h.open(context.Background(), newReq(t, "open", openParams{Path: "a.txt"}))
	require.NoError(t, err)
	require.NoError(t, state.SetSelection(0, 0, 0, len("original")))
	require.NoError(t, state.ReplaceSelection("changed"))

	_, err = h.save(context.Background(), &dispatch.Request{Command: &protocol.Envelope{ID: "c2"}})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "changed", string(content))
}

func TestSearchFindsMatches(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo\nbar\nfoobar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("nothing here"), 0o644))

	h := New(root, 0, editorstate.New())
	data, err := h.search(context.Background(), newReq(t, "search", searchParams{Pattern: "foo"}))
	require.NoError(t, err)

	m := data.(map[string]interface{})
	matches := m["matches"].([]searchMatch)
	require.Len(t, matches, 2)
}

func TestListReturnsSortedEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), nil, 0o644))

	h := New(root, 0, editorstate.New())
	data, err := h.list(context.Background(), newReq(t, "list", listParams{Path: "."}))
	require.NoError(t, err)

	m := data.(map[string]interface{})
	entries := m["entries"].([]listEntry)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, "b.txt", entries[1].Name)
}
