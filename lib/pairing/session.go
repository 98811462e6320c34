// Package pairing implements the short-lived PairingSession store
// (spec.md §3, §4.2): records indexed by session id with secondary indexes
// by PIN and by pairing-secret digest, redeemable at most once.
package pairing

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/editorbridge/bridge/lib/components"
)

// Status is the PairingSession lifecycle state. Transitions are monotonic:
// pending -> completed or pending -> expired, never back (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// DefaultTTL is the default pairing session lifetime (spec.md §3).
const DefaultTTL = 5 * time.Minute

// CompletionGrace is how long a completed session is retained so a
// redundant `complete` call on the same PIN/secret can be answered
// idempotently with ALREADY_PAIRED instead of SESSION_NOT_FOUND.
const CompletionGrace = 60 * time.Second

// Session is a PairingSession record.
type Session struct {
	ID            string
	WorkspaceID   string
	WorkspaceName string
	PIN           string
	SecretDigest  string
	LocalAddress  string
	RelayURL      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Status        Status
}

// Expired reports whether the session has passed its expiry at time now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// componentName is the logrus component field value for this package.
const componentName = components.Pairing

// ErrNotFound is returned by lookups that find no matching (and unexpired)
// record.
var ErrNotFound = trace.NotFound("pairing session not found")

// ErrAlreadyPaired is returned by Complete when the session has already
// been redeemed (testable property 2).
var ErrAlreadyPaired = trace.AlreadyExists("session already paired")
