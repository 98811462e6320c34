// Package memstore is the in-process PairingSession backend used by the
// local editor host. It keeps one primary map (by id) and two secondary
// indexes (by PIN, by secret digest), mutating all three under a single
// lock so completion is atomic across indexes.
package memstore

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/pairing"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Pairing})

// Store is an in-process pairing.Store.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*pairing.Session
	byPIN map[string]string // PIN -> session id, only while pending
	byDig map[string]string // digest -> session id, only while pending
	clock clockwork.Clock

	completedAt map[string]time.Time // id -> completion time, for grace window
}

// New constructs an empty Store. clock defaults to the real clock if nil.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		byID:        make(map[string]*pairing.Session),
		byPIN:       make(map[string]string),
		byDig:       make(map[string]string),
		completedAt: make(map[string]time.Time),
		clock:       clock,
	}
}

func (s *Store) Create(session *pairing.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPIN[session.PIN]; exists {
		return trace.AlreadyExists("PIN %s is already pending", session.PIN)
	}

	session.Status = pairing.StatusPending
	s.byID[session.ID] = session
	s.byPIN[session.PIN] = session.ID
	s.byDig[session.SecretDigest] = session.ID
	return nil
}

func (s *Store) GetByID(id string) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (*pairing.Session, error) {
	session, ok := s.byID[id]
	if !ok {
		return nil, pairing.ErrNotFound
	}
	s.expireLocked(session)
	return session, nil
}

// expireLocked transitions a pending session past its TTL to expired and
// drops its secondary indexes, holding s.mu.
func (s *Store) expireLocked(session *pairing.Session) {
	if session.Status == pairing.StatusPending && session.Expired(s.clock.Now()) {
		session.Status = pairing.StatusExpired
		delete(s.byPIN, session.PIN)
		delete(s.byDig, session.SecretDigest)
	}
}

func (s *Store) GetByPIN(pin string) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPIN[pin]
	if !ok {
		return nil, pairing.ErrNotFound
	}
	session, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if session.Status != pairing.StatusPending {
		return nil, pairing.ErrNotFound
	}
	return session, nil
}

func (s *Store) GetByDigest(digest string) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDig[digest]
	if !ok {
		return nil, pairing.ErrNotFound
	}
	session, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if session.Status != pairing.StatusPending {
		return nil, pairing.ErrNotFound
	}
	return session, nil
}

func (s *Store) Complete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok {
		return pairing.ErrNotFound
	}

	switch session.Status {
	case pairing.StatusCompleted:
		return pairing.ErrAlreadyPaired
	case pairing.StatusExpired:
		return pairing.ErrNotFound
	}

	s.expireLocked(session)
	if session.Status == pairing.StatusExpired {
		return pairing.ErrNotFound
	}

	// Atomically retire both secondary indexes; the primary record is kept
	// for CompletionGrace so a redundant redeem attempt sees ALREADY_PAIRED.
	session.Status = pairing.StatusCompleted
	delete(s.byPIN, session.PIN)
	delete(s.byDig, session.SecretDigest)
	s.completedAt[id] = s.clock.Now()

	log.WithField("session_id", id).Debug("pairing session completed")
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byPIN, session.PIN)
	delete(s.byDig, session.SecretDigest)
	delete(s.byID, id)
	delete(s.completedAt, id)
	return nil
}

// Sweep removes completed sessions past their grace window and expired
// sessions once CompletionGrace has also passed since their expiry. Callers run this on a ticker; it is not required
// for correctness (lookups already self-expire) but bounds memory growth.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, session := range s.byID {
		s.expireLocked(session)
		if session.Status == pairing.StatusExpired && now.Sub(session.ExpiresAt) > pairing.CompletionGrace {
			delete(s.byID, id)
			continue
		}
		if completedAt, ok := s.completedAt[id]; ok && now.Sub(completedAt) > pairing.CompletionGrace {
			delete(s.byID, id)
			delete(s.completedAt, id)
		}
	}
}
