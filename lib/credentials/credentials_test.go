package credentials

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock clockwork.Clock) *Service {
	t.Helper()
	svc, err := New(Config{Clock: clock})
	require.NoError(t, err)
	return svc
}

// TestDigestRoundTrip is testable property 1: verifyDigest(secret, digest)
// holds for the producing secret and fails for any other.
func TestDigestRoundTrip(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())
	pair, err := svc.GeneratePair(5 * time.Minute)
	require.NoError(t, err)

	require.True(t, VerifyDigest(pair.Secret, pair.Digest))
	require.False(t, VerifyDigest(pair.Secret+"x", pair.Digest))
	require.False(t, VerifyDigest("totally-different", pair.Digest))
}

func TestGeneratePairPINShape(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())
	pair, err := svc.GeneratePair(5 * time.Minute)
	require.NoError(t, err)
	require.Len(t, pair.PIN, 6)
	for _, r := range pair.PIN {
		require.True(t, r >= '0' && r <= '9')
	}
}

func TestIssueAndVerifyAccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newTestService(t, clock)

	tokens, err := svc.IssueTokens("device-1", "ws-1", "demo")
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(tokens.Access)
	require.NoError(t, err)
	require.Equal(t, "device-1", claims.DeviceID)
	require.Equal(t, "ws-1", claims.WorkspaceID)
	require.Equal(t, "demo", claims.WorkspaceName)

	// A refresh token must not verify as an access token (kind mismatch).
	_, err = svc.VerifyAccess(tokens.Refresh)
	require.Error(t, err)
}

func TestAccessTokenExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newTestService(t, clock)
	svc.cfg.AccessTTL = time.Minute

	tokens, err := svc.IssueTokens("device-1", "ws-1", "demo")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(tokens.Access)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.VerifyAccess(tokens.Access)
	require.Error(t, err)
}

// TestRevokedRefreshRejected is testable property 7: a refresh call with a
// previously-revoked token is rejected.
func TestRevokedRefreshRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newTestService(t, clock)

	tokens, err := svc.IssueTokens("device-1", "ws-1", "demo")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefresh(tokens.Refresh))

	_, err = svc.VerifyRefresh(tokens.Refresh)
	require.Error(t, err)
}

func TestRotateRevokesOldIssuesNew(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := newTestService(t, clock)

	tokens, err := svc.IssueTokens("device-1", "ws-1", "demo")
	require.NoError(t, err)

	fresh, err := svc.Rotate(tokens.Refresh)
	require.NoError(t, err)
	require.NotEqual(t, tokens.Refresh, fresh.Refresh)

	_, err = svc.VerifyRefresh(tokens.Refresh)
	require.Error(t, err, "old refresh token should be revoked")

	_, err = svc.VerifyRefresh(fresh.Refresh)
	require.NoError(t, err)
}
