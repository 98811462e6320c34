package memstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/editorbridge/bridge/lib/pairing"
)

func newSession(clock clockwork.Clock, pin, digest string) *pairing.Session {
	return &pairing.Session{
		ID:            uuid.NewString(),
		WorkspaceID:   "ws-1",
		WorkspaceName: "demo",
		PIN:           pin,
		SecretDigest:  digest,
		CreatedAt:     clock.Now(),
		ExpiresAt:     clock.Now().Add(pairing.DefaultTTL),
	}
}

// TestCompleteAtMostOnce is testable property 2.
func TestCompleteAtMostOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(clock)

	session := newSession(clock, "123456", "digest-1")
	require.NoError(t, store.Create(session))

	require.NoError(t, store.Complete(session.ID))
	err := store.Complete(session.ID)
	require.ErrorIs(t, err, pairing.ErrAlreadyPaired)

	// Neither secondary index should still resolve after completion.
	_, err = store.GetByPIN("123456")
	require.Error(t, err)
	_, err = store.GetByDigest("digest-1")
	require.Error(t, err)
}

func TestDuplicatePINRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(clock)

	require.NoError(t, store.Create(newSession(clock, "111111", "d1")))
	err := store.Create(newSession(clock, "111111", "d2"))
	require.Error(t, err)
}

func TestExpiryTransitionsPendingOnly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(clock)

	session := newSession(clock, "222222", "d3")
	require.NoError(t, store.Create(session))

	clock.Advance(pairing.DefaultTTL + time.Second)

	_, err := store.GetByPIN("222222")
	require.Error(t, err, "expired session must not be redeemable by PIN")

	got, err := store.GetByID(session.ID)
	require.NoError(t, err)
	require.Equal(t, pairing.StatusExpired, got.Status)

	err = store.Complete(session.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, pairing.ErrAlreadyPaired)
}

func TestRedeemByEitherPINOrDigestCompletesBoth(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(clock)

	session := newSession(clock, "333333", "d4")
	require.NoError(t, store.Create(session))

	// Redeem via digest lookup, as the WebSocket auth path does.
	found, err := store.GetByDigest("d4")
	require.NoError(t, err)
	require.NoError(t, store.Complete(found.ID))

	// The PIN index must now be dead too.
	_, err = store.GetByPIN("333333")
	require.Error(t, err)
}
