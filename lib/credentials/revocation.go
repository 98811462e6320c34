package credentials

import (
	"sync"
	"time"
)

// RevocationIndex tracks revoked refresh-token ids so logout invalidates a
// token immediately rather than waiting out its TTL.
type RevocationIndex interface {
	// Revoke marks tokenID as revoked for at least ttl.
	Revoke(tokenID string, ttl time.Duration)
	// IsRevoked reports whether tokenID has been revoked and not yet expired
	// out of the index.
	IsRevoked(tokenID string) bool
}

// memRevocationIndex is an in-process RevocationIndex backed by a mutex-guarded
// map, matching the teacher's plain-mutex idiom for shared in-memory state
// (see lib/restrictedsession's counters in the pack).
type memRevocationIndex struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	clock  func() time.Time
}

// NewMemRevocationIndex returns a process-local RevocationIndex.
func NewMemRevocationIndex() RevocationIndex {
	return &memRevocationIndex{
		expiry: make(map[string]time.Time),
		clock:  time.Now,
	}
}

func (m *memRevocationIndex) Revoke(tokenID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[tokenID] = m.clock().Add(ttl)
}

func (m *memRevocationIndex) IsRevoked(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiry[tokenID]
	if !ok {
		return false
	}
	if m.clock().After(exp) {
		delete(m.expiry, tokenID)
		return false
	}
	return true
}
