package pairing

import "time"

// Store is the PairingSession backend contract. Two implementations exist:
// an in-process memstore for the local host, and a durable redisstore for
// the optional external relay deployment (spec.md §4.2). Both must honor
// TTL expiry and atomic multi-key updates: completing a session via either
// its PIN or its secret digest completes it for both lookups at once.
type Store interface {
	// Create persists a new pending session, valid until session.ExpiresAt.
	Create(session *Session) error

	// GetByID looks up a session by id, regardless of status.
	GetByID(id string) (*Session, error)

	// GetByPIN looks up a pending session by PIN.
	GetByPIN(pin string) (*Session, error)

	// GetByDigest looks up a pending session by secret digest.
	GetByDigest(digest string) (*Session, error)

	// Complete marks the session completed, atomically retiring both the
	// PIN and digest secondary indexes so neither can redeem it again. The
	// session record itself is kept for CompletionGrace so a second
	// `complete` call observes ALREADY_PAIRED rather than SESSION_NOT_FOUND.
	// Returns ErrAlreadyPaired if the session was already completed, or
	// ErrNotFound if it doesn't exist or has hard-expired past its grace
	// window.
	Complete(id string) error

	// Delete removes a session outright (used on explicit cancellation).
	Delete(id string) error
}

// now is overridable in tests via a clockwork.Clock passed to each backend's
// constructor; declared here only as a type alias for readability.
type clockFunc func() time.Time
