// Package editorstate is the in-process model of "the active editor" that
// the `editor` and `file` command categories both operate on (spec.md
// §4.8). Real editor-host UI is out of scope (spec.md §1 Non-goals); this
// is the headless state a command-bus caller can read and mutate, lifted
// out of the singleton the source keeps in its editor-integration layer
// into an explicit struct per spec.md §9.
package editorstate

import (
	"strings"
	"sync"

	"github.com/gravitational/trace"
)

// Selection is a zero-based line/column range.
type Selection struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// Snapshot is the result of getState.
type Snapshot struct {
	ActiveFile string    `json:"activeFile"`
	Selection  Selection `json:"selection"`
	LineCount  int       `json:"lineCount"`
	Dirty      bool      `json:"dirty"`
}

// State holds the single active document buffer. A workspace has exactly
// one active document at a time, mirroring a single-file editor focus.
type State struct {
	mu         sync.Mutex
	activeFile string
	lines      []string
	selection  Selection
	dirty      bool
}

// New constructs an empty State with no active file.
func New() *State {
	return &State{}
}

// Open loads content as the active document, optionally placing the
// selection (file.open, spec.md §4.8).
func (s *State) Open(path string, content string, selection *Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeFile = path
	s.lines = splitLines(content)
	s.dirty = false
	if selection != nil {
		s.selection = *selection
	} else {
		s.selection = Selection{}
	}
}

// GetState returns a snapshot of the active document.
func (s *State) GetState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ActiveFile: s.activeFile,
		Selection:  s.selection,
		LineCount:  len(s.lines),
		Dirty:      s.dirty,
	}
}

// GoTo moves the selection to a single point.
func (s *State) GoTo(line, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPointLocked(line, col); err != nil {
		return err
	}
	s.selection = Selection{StartLine: line, StartCol: col, EndLine: line, EndCol: col}
	return nil
}

// SetSelection sets an explicit range.
func (s *State) SetSelection(startLine, startCol, endLine, endCol int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPointLocked(startLine, startCol); err != nil {
		return err
	}
	if err := s.checkPointLocked(endLine, endCol); err != nil {
		return err
	}
	s.selection = Selection{StartLine: startLine, StartCol: startCol, EndLine: endLine, EndCol: endCol}
	return nil
}

// GetSelection returns the current selection.
func (s *State) GetSelection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// InsertText inserts text at the selection's start point, collapsing the
// selection to the point immediately after the inserted text.
func (s *State) InsertText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeFile == "" {
		return trace.BadParameter("no active file")
	}
	return s.replaceRangeLocked(s.selection.StartLine, s.selection.StartCol, s.selection.StartLine, s.selection.StartCol, text)
}

// ReplaceSelection replaces the current selection's content with text.
func (s *State) ReplaceSelection(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeFile == "" {
		return trace.BadParameter("no active file")
	}
	sel := s.selection
	return s.replaceRangeLocked(sel.StartLine, sel.StartCol, sel.EndLine, sel.EndCol, text)
}

// GetLine returns one zero-indexed line.
func (s *State) GetLine(line int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if line < 0 || line >= len(s.lines) {
		return "", trace.BadParameter("line %d out of range", line)
	}
	return s.lines[line], nil
}

// GetVisibleText returns the full buffer content. A headless host has no
// viewport, so "visible" is the whole document.
func (s *State) GetVisibleText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// Save returns the active file path and its serialized content, and clears
// the dirty flag. Returns an error if there is no active file.
func (s *State) Save() (path string, content string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeFile == "" {
		return "", "", trace.BadParameter("no active file")
	}
	content = strings.Join(s.lines, "\n")
	s.dirty = false
	return s.activeFile, content, nil
}

func (s *State) checkPointLocked(line, col int) error {
	if line < 0 || line >= len(s.lines) {
		return trace.BadParameter("line %d out of range", line)
	}
	if col < 0 || col > len(s.lines[line]) {
		return trace.BadParameter("column %d out of range on line %d", col, line)
	}
	return nil
}

func (s *State) replaceRangeLocked(startLine, startCol, endLine, endCol int, text string) error {
	if err := s.checkPointLocked(startLine, startCol); err != nil {
		return err
	}
	if err := s.checkPointLocked(endLine, endCol); err != nil {
		return err
	}

	before := s.lines[startLine][:startCol]
	after := s.lines[endLine][endCol:]
	replacement := splitLines(before + text + after)

	newLines := make([]string, 0, len(s.lines)-(endLine-startLine)+len(replacement))
	newLines = append(newLines, s.lines[:startLine]...)
	newLines = append(newLines, replacement...)
	newLines = append(newLines, s.lines[endLine+1:]...)
	s.lines = newLines
	s.dirty = true

	lastNewLine := startLine + len(replacement) - 1
	lastCol := len(replacement[len(replacement)-1]) - len(after)
	s.selection = Selection{StartLine: lastNewLine, StartCol: lastCol, EndLine: lastNewLine, EndCol: lastCol}
	return nil
}

func splitLines(content string) []string {
	if content == "" {
		return []string{""}
	}
	return strings.Split(content, "\n")
}
