package aibridge

import (
	"context"
	"strings"
)

// EchoBackend is a stand-in Backend used when no host AI integration is
// configured. It never fails Available, and its response streams the
// incoming message back word by word so the bridge's plumbing (sessions,
// streamChunk ordering, streamEnd/message framing) can be exercised without
// a real editor-side AI integration attached.
type EchoBackend struct {
	name string
}

// NewEchoBackend constructs an EchoBackend identified by name.
func NewEchoBackend(name string) *EchoBackend {
	if name == "" {
		name = "echo"
	}
	return &EchoBackend{name: name}
}

// Name implements Backend.
func (b *EchoBackend) Name() string { return b.name }

// Available implements Backend; the echo backend has nothing to probe.
func (b *EchoBackend) Available(ctx context.Context) bool { return true }

// Send implements Backend by streaming the user's own text back in chunks.
func (b *EchoBackend) Send(ctx context.Context, transcript []Message, userMessage Message, opts SendOptions, emit func(chunk string)) (string, error) {
	words := strings.Fields(userMessage.Content)
	if len(words) == 0 {
		return "", nil
	}

	var out strings.Builder
	for i, w := range words {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		default:
		}
		chunk := w
		if i < len(words)-1 {
			chunk += " "
		}
		out.WriteString(chunk)
		emit(chunk)
	}
	return out.String(), nil
}
