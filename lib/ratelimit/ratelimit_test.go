package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// TestPairingBruteForce: the 21st pairing-bucket attempt from the same peer
// within the hour is rate limited, and the counter resets after the window
// elapses.
func TestPairingBruteForce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(nil, clock)

	for i := 0; i < 20; i++ {
		res := limiter.Allow(BucketPairing, "peer-1")
		require.True(t, res.Allowed, "attempt %d should be allowed", i+1)
	}

	res := limiter.Allow(BucketPairing, "peer-1")
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	clock.Advance(time.Hour + time.Second)
	res = limiter.Allow(BucketPairing, "peer-1")
	require.True(t, res.Allowed, "window should have reset")
}

func TestBucketsAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(nil, clock)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(BucketAuth, "peer-1").Allowed)
	}
	require.False(t, limiter.Allow(BucketAuth, "peer-1").Allowed)

	// A different bucket for the same key is unaffected.
	require.True(t, limiter.Allow(BucketGeneral, "peer-1").Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(map[Bucket]Limit{BucketGeneral: {Count: 1, Window: time.Minute}}, clock)

	require.True(t, limiter.Allow(BucketGeneral, "peer-a").Allowed)
	require.False(t, limiter.Allow(BucketGeneral, "peer-a").Allowed)
	require.True(t, limiter.Allow(BucketGeneral, "peer-b").Allowed)
}
