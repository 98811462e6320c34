// Package redisstore is the durable PairingSession backend used by the
// optional external relay deployment (spec.md §4.2), so session state is
// shared across relay replicas instead of living in one process's memory.
package redisstore

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v9"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/pairing"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Pairing})

const (
	keyPrefixSession = "pairing:session:"
	keyPrefixPIN     = "pairing:pin:"
	keyPrefixDigest  = "pairing:digest:"
)

// Store is a pairing.Store backed by Redis, using one JSON string key per session
// plus two pointer keys (PIN, digest) that resolve to the session id. TTLs
// are applied to all three keys so an unredeemed session is reaped by Redis
// itself even if no process ever sweeps it.
type Store struct {
	rdb   *redis.Client
	clock clockwork.Clock
}

// New constructs a Store over an existing Redis client.
func New(rdb *redis.Client, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{rdb: rdb, clock: clock}
}

func (s *Store) Create(session *pairing.Session) error {
	ctx := context.Background()
	session.Status = pairing.StatusPending

	buf, err := json.Marshal(session)
	if err != nil {
		return trace.Wrap(err)
	}

	ttl := session.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return trace.BadParameter("pairing session already expired at creation")
	}

	// go-redis pipelines execute as a single round trip but are not a Lua
	// transaction; the PIN SetNX guard below still makes the create
	// atomic with respect to duplicate PINs, which is the only invariant
	// Create itself must uphold.
	ok, err := s.rdb.SetNX(ctx, keyPrefixPIN+session.PIN, session.ID, ttl).Result()
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		return trace.AlreadyExists("PIN %s is already pending", session.PIN)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyPrefixSession+session.ID, buf, ttl)
	pipe.Set(ctx, keyPrefixDigest+session.SecretDigest, session.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.rdb.Del(ctx, keyPrefixPIN+session.PIN)
		return trace.Wrap(err)
	}
	return nil
}

func (s *Store) GetByID(id string) (*pairing.Session, error) {
	ctx := context.Background()
	buf, err := s.rdb.Get(ctx, keyPrefixSession+id).Bytes()
	if err == redis.Nil {
		return nil, pairing.ErrNotFound
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var session pairing.Session
	if err := json.Unmarshal(buf, &session); err != nil {
		return nil, trace.Wrap(err)
	}
	return &session, nil
}

func (s *Store) getPending(id string) (*pairing.Session, error) {
	session, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if session.Status != pairing.StatusPending {
		return nil, pairing.ErrNotFound
	}
	return session, nil
}

func (s *Store) GetByPIN(pin string) (*pairing.Session, error) {
	ctx := context.Background()
	id, err := s.rdb.Get(ctx, keyPrefixPIN+pin).Result()
	if err == redis.Nil {
		return nil, pairing.ErrNotFound
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.getPending(id)
}

func (s *Store) GetByDigest(digest string) (*pairing.Session, error) {
	ctx := context.Background()
	id, err := s.rdb.Get(ctx, keyPrefixDigest+digest).Result()
	if err == redis.Nil {
		return nil, pairing.ErrNotFound
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.getPending(id)
}

func (s *Store) Complete(id string) error {
	ctx := context.Background()

	session, err := s.GetByID(id)
	if err != nil {
		return err
	}
	switch session.Status {
	case pairing.StatusCompleted:
		return pairing.ErrAlreadyPaired
	case pairing.StatusExpired:
		return pairing.ErrNotFound
	}

	session.Status = pairing.StatusCompleted
	buf, err := json.Marshal(session)
	if err != nil {
		return trace.Wrap(err)
	}

	// Retire both secondary indexes and rewrite the primary record with a
	// short grace TTL, in one pipeline so no reader observes a partial
	// completion (one index dropped, the other still live).
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyPrefixPIN+session.PIN)
	pipe.Del(ctx, keyPrefixDigest+session.SecretDigest)
	pipe.Set(ctx, keyPrefixSession+id, buf, pairing.CompletionGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return trace.Wrap(err)
	}

	log.WithField("session_id", id).Debug("pairing session completed")
	return nil
}

func (s *Store) Delete(id string) error {
	ctx := context.Background()
	session, err := s.GetByID(id)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyPrefixSession+id)
	pipe.Del(ctx, keyPrefixPIN+session.PIN)
	pipe.Del(ctx, keyPrefixDigest+session.SecretDigest)
	_, err = pipe.Exec(ctx)
	return trace.Wrap(err)
}
