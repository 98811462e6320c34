// Package termstream is the terminal engine behind the `terminal` command
// category (spec.md §4.9): persistent PTY-backed terminals for
// create/sendInput/interrupt/dispose, a bounded-buffer `execute` for
// one-shot capture, and an ephemeral Stream abstraction for
// `executeStreaming`/`killStream` that emits ordered stdout/stderr chunks.
package termstream

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// DefaultCaptureBufferBytes bounds the stdout captured by a non-streaming
// `execute` (spec.md §4.9 "1 MiB default").
const DefaultCaptureBufferBytes = 1 * 1024 * 1024

// DefaultExecuteTimeout is the overall timeout for a captured `execute`.
const DefaultExecuteTimeout = 30 * time.Second

// EventSink receives the ordered events a Stream or terminal produces.
// Handlers wire this directly to the owning connection's socket, since
// these events must reach the single caller, not the whole room.
type EventSink interface {
	Emit(eventType string, data interface{})
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(eventType string, data interface{})

// Emit implements EventSink.
func (f EventSinkFunc) Emit(eventType string, data interface{}) { f(eventType, data) }

// Terminal is a persistent PTY-backed session (spec.md §4.9's
// `create`/`sendInput`/`interrupt`/`show`/`dispose`/`setCwd`/`getCwd`).
type Terminal struct {
	ID  string
	cwd string

	mu   sync.Mutex
	ptmx *os.File
	cmd  *exec.Cmd
}

// Info is the JSON-facing summary of a Terminal.
type Info struct {
	ID  string `json:"id"`
	Cwd string `json:"cwd"`
	PID int    `json:"pid"`
}

func (t *Terminal) info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := 0
	if t.cmd != nil && t.cmd.Process != nil {
		pid = t.cmd.Process.Pid
	}
	return Info{ID: t.ID, Cwd: t.cwd, PID: pid}
}

// Stream is an ephemeral child process started by `executeStreaming`.
type Stream struct {
	ID      string
	Command string
	Cwd     string

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// StreamInfo is the JSON-facing summary of a Stream.
type StreamInfo struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// ExecuteOptions configures a non-streaming `execute`.
type ExecuteOptions struct {
	TerminalID     string
	CaptureOutput  bool
	Cwd            string
	Timeout        time.Duration
	CaptureBufSize int64
}

// ExecuteResult is the outcome of a captured `execute`.
type ExecuteResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Cwd      string `json:"cwd"`
}

// Engine owns the terminals and streams created by one connection. Callers
// create one Engine per connection and call Shutdown on disconnect (spec.md
// §4.9: "Streams survive only as long as their owning connection").
type Engine struct {
	mu         sync.Mutex
	terminals  map[string]*Terminal
	streams    map[string]*Stream
	defaultCwd string
}

// NewEngine constructs an Engine rooted at defaultCwd.
func NewEngine(defaultCwd string) *Engine {
	return &Engine{
		terminals:  make(map[string]*Terminal),
		streams:    make(map[string]*Stream),
		defaultCwd: defaultCwd,
	}
}

// List returns every live terminal owned by this engine.
func (e *Engine) List() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Info, 0, len(e.terminals))
	for _, t := range e.terminals {
		out = append(out, t.info())
	}
	return out
}

// Create spawns a new PTY-backed terminal.
func (e *Engine) Create(cwd string) (Info, error) {
	if cwd == "" {
		cwd = e.defaultCwd
	}
	name, args := shellInvocation()
	cmd := exec.Command(name, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Info{}, trace.Wrap(err)
	}

	t := &Terminal{ID: uuid.NewString(), cwd: cwd, ptmx: ptmx, cmd: cmd}

	e.mu.Lock()
	e.terminals[t.ID] = t
	e.mu.Unlock()

	return t.info(), nil
}

func (e *Engine) terminal(id string) (*Terminal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.terminals[id]
	if !ok {
		return nil, trace.NotFound("terminal %s not found", id)
	}
	return t, nil
}

// SendInput writes data to terminal id's PTY.
func (e *Engine) SendInput(id, data string) error {
	t, err := e.terminal(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.ptmx.Write([]byte(data)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Interrupt sends SIGINT to terminal id's foreground process.
func (e *Engine) Interrupt(id string) error {
	t, err := e.terminal(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd.Process == nil {
		return trace.BadParameter("terminal %s has no running process", id)
	}
	return trace.Wrap(interruptProcess(t.cmd.Process))
}

// Show returns the current info for terminal id; a headless host has no
// window to focus, so this is a liveness check the caller can act on.
func (e *Engine) Show(id string) (Info, error) {
	t, err := e.terminal(id)
	if err != nil {
		return Info{}, err
	}
	return t.info(), nil
}

// Dispose kills and removes terminal id.
func (e *Engine) Dispose(id string) error {
	e.mu.Lock()
	t, ok := e.terminals[id]
	if ok {
		delete(e.terminals, id)
	}
	e.mu.Unlock()
	if !ok {
		return trace.NotFound("terminal %s not found", id)
	}
	return killTerminal(t)
}

func killTerminal(t *Terminal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	return t.ptmx.Close()
}

// SetCwd changes terminal id's working directory bookkeeping. The live
// shell process isn't reparented; callers that need a new cwd to take
// effect send a `cd` through SendInput, matching how a real terminal works.
func (e *Engine) SetCwd(id, cwd string) error {
	t, err := e.terminal(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.cwd = cwd
	t.mu.Unlock()
	return nil
}

// GetCwd returns terminal id's recorded working directory.
func (e *Engine) GetCwd(id string) (string, error) {
	t, err := e.terminal(id)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd, nil
}

// Execute runs command to completion with a bounded stdout/stderr buffer
// and an overall timeout (spec.md §4.9).
func (e *Engine) Execute(ctx context.Context, command string, opts ExecuteOptions) (*ExecuteResult, error) {
	fields, err := tokenize(command)
	if err != nil {
		return nil, trace.BadParameter("invalid command: %v", err)
	}
	if len(fields) == 0 {
		return nil, trace.BadParameter("command is empty")
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = e.defaultCwd
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	bufSize := opts.CaptureBufSize
	if bufSize <= 0 {
		bufSize = DefaultCaptureBufferBytes
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := shellInvocationFor(command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd

	var stdout, stderr boundedBuffer
	stdout.limit = bufSize
	stderr.limit = bufSize
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, trace.LimitExceeded("command timed out after %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, trace.Wrap(err)
		}
	}

	return &ExecuteResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Cwd:      cwd,
	}, nil
}

// ExecuteStreaming starts command and emits streamStart/output/streamEnd
// events to sink in arrival order (spec.md §4.9). It returns immediately
// with the new stream's id.
func (e *Engine) ExecuteStreaming(command, cwd string, sink EventSink) (string, error) {
	fields, err := tokenize(command)
	if err != nil {
		return "", trace.BadParameter("invalid command: %v", err)
	}
	if len(fields) == 0 {
		return "", trace.BadParameter("command is empty")
	}
	if cwd == "" {
		cwd = e.defaultCwd
	}
	name, args := shellInvocationFor(command)

	streamCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(streamCtx, name, args...)
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", trace.Wrap(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return "", trace.Wrap(err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return "", trace.Wrap(err)
	}

	id := uuid.NewString()
	s := &Stream{ID: id, Command: command, Cwd: cwd, cmd: cmd, cancel: cancel}

	e.mu.Lock()
	e.streams[id] = s
	e.mu.Unlock()

	sink.Emit("streamStart", map[string]interface{}{"streamId": id, "command": command, "cwd": cwd})

	// Both pumps feed one channel; the goroutine below drains it and is the
	// only emitter of this stream's output and streamEnd events.
	chunks := make(chan interface{}, 16)
	toChunks := EventSinkFunc(func(_ string, data interface{}) { chunks <- data })

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpStream(&wg, id, "stdout", stdout, toChunks)
	go pumpStream(&wg, id, "stderr", stderr, toChunks)
	go func() {
		wg.Wait()
		close(chunks)
	}()

	go func() {
		for data := range chunks {
			sink.Emit("output", data)
		}
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		sink.Emit("streamEnd", map[string]interface{}{"streamId": id, "exitCode": exitCode})

		e.mu.Lock()
		delete(e.streams, id)
		e.mu.Unlock()
		cancel()
	}()

	return id, nil
}

func pumpStream(wg *sync.WaitGroup, streamID, kind string, r io.Reader, sink EventSink) {
	defer wg.Done()
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.Emit("output", map[string]interface{}{"streamId": streamID, "type": kind, "data": string(chunk)})
		}
		if err != nil {
			return
		}
	}
}

// KillStream sends SIGTERM to the process behind streamId.
func (e *Engine) KillStream(streamID string) error {
	e.mu.Lock()
	s, ok := e.streams[streamID]
	e.mu.Unlock()
	if !ok {
		return trace.NotFound("stream %s not found", streamID)
	}
	if s.cmd.Process == nil {
		return nil
	}
	return trace.Wrap(terminateProcess(s.cmd.Process))
}

// GetActiveStreams returns every stream still running.
func (e *Engine) GetActiveStreams() []StreamInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StreamInfo, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, StreamInfo{ID: s.ID, Command: s.Command, Cwd: s.Cwd})
	}
	return out
}

// Shutdown kills every terminal and stream this engine owns. Called when
// the owning connection disconnects.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	terminals := make([]*Terminal, 0, len(e.terminals))
	for _, t := range e.terminals {
		terminals = append(terminals, t)
	}
	e.terminals = make(map[string]*Terminal)

	streams := make([]*Stream, 0, len(e.streams))
	for _, s := range e.streams {
		streams = append(streams, s)
	}
	e.streams = make(map[string]*Stream)
	e.mu.Unlock()

	for _, t := range terminals {
		killTerminal(t)
	}
	for _, s := range streams {
		s.cancel()
	}
}

// boundedBuffer caps how much of a writer's output is retained, matching
// spec.md §4.9's "bounded stdout buffer" for non-streaming execute.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(b.buf.Len())
	if remaining > 0 {
		if int64(len(p)) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }

func interruptProcess(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Signal(os.Interrupt)
	}
	return p.Signal(syscall.SIGINT)
}

func terminateProcess(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(syscall.SIGTERM)
}

func shellInvocation() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", nil
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell, nil
}

func shellInvocationFor(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", command}
	}
	return "/bin/sh", []string{"-c", command}
}

// tokenize splits a command line with shell quoting rules; Execute and
// ExecuteStreaming use it to reject an empty or malformed command before
// running it.
func tokenize(command string) ([]string, error) {
	fields, err := shlex.Split(command)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return fields, nil
}
