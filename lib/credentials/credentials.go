// Package credentials generates and verifies the three kinds of secrets the
// bridge hands out: pairing secrets, pairing PINs, and bearer token pairs.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/components"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.Credentials})

const (
	// pairingSecretBytes is the amount of entropy in a pairing secret.
	pairingSecretBytes = 32
	// pinDigits is the number of decimal digits in a pairing PIN.
	pinDigits = 6

	// DefaultAccessTTL is the default bearer access token lifetime.
	DefaultAccessTTL = 24 * time.Hour
	// DefaultRefreshTTL is the default bearer refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenPair is the {access, refresh} bearer credential pair issued on
// successful pairing or refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AccessClaims is the payload embedded in an access token.
type AccessClaims struct {
	DeviceID      string `json:"deviceId"`
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName"`
	Kind          string `json:"kind"`
	TokenID       string `json:"jti"`
}

// RefreshClaims is the payload embedded in a refresh token.
type RefreshClaims struct {
	DeviceID    string `json:"deviceId"`
	WorkspaceID string `json:"workspaceId"`
	Kind        string `json:"kind"`
	TokenID     string `json:"jti"`
}

// PendingPair is the result of generating a new pairing offer.
type PendingPair struct {
	SessionID string
	PIN       string
	Secret    string
	Digest    string
	ExpiresAt time.Time
}

// Config configures a Service. Mirrors the validate-then-default shape the
// teacher uses for its own token-signing config.
type Config struct {
	// Clock is used for all expiry computations, swappable in tests.
	Clock clockwork.Clock
	// AccessSecret signs and verifies access tokens.
	AccessSecret []byte
	// RefreshSecret signs and verifies refresh tokens. May equal AccessSecret.
	RefreshSecret []byte
	// AccessTTL overrides DefaultAccessTTL.
	AccessTTL time.Duration
	// RefreshTTL overrides DefaultRefreshTTL.
	RefreshTTL time.Duration
	// RevocationIndex tracks revoked refresh token ids.
	RevocationIndex RevocationIndex
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.AccessSecret) == 0 {
		secret, err := randomBytes(32)
		if err != nil {
			return trace.Wrap(err)
		}
		c.AccessSecret = secret
	}
	if len(c.RefreshSecret) == 0 {
		secret, err := randomBytes(32)
		if err != nil {
			return trace.Wrap(err)
		}
		c.RefreshSecret = secret
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.RevocationIndex == nil {
		c.RevocationIndex = &memRevocationIndex{expiry: make(map[string]time.Time), clock: c.Clock.Now}
	}
	return nil
}

// Service issues and verifies pairing secrets, PINs, and bearer tokens.
type Service struct {
	cfg Config
}

// New constructs a Service from cfg.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// GeneratePair creates a new pairing secret and PIN pair, along with the
// digest that should be persisted (never the secret itself).
func (s *Service) GeneratePair(ttl time.Duration) (*PendingPair, error) {
	secretBytes, err := randomBytes(pairingSecretBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	pin, err := randomPIN()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &PendingPair{
		SessionID: uuid.NewString(),
		PIN:       pin,
		Secret:    secret,
		Digest:    DigestSecret(secret),
		ExpiresAt: s.cfg.Clock.Now().Add(ttl),
	}, nil
}

// DigestSecret returns the SHA-256 hex digest of a pairing secret. Only the
// digest is ever persisted.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", sum)
}

// VerifyDigest reports whether secret hashes to digest, in constant time.
func VerifyDigest(secret, digest string) bool {
	got := DigestSecret(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// IssueTokens mints a fresh {access, refresh} pair for a device.
func (s *Service) IssueTokens(deviceID, workspaceID, workspaceName string) (*TokenPair, error) {
	now := s.cfg.Clock.Now()

	accessID := uuid.NewString()
	access, err := signToken(s.cfg.AccessSecret, accessTokenClaims{
		AccessClaims: AccessClaims{
			DeviceID:      deviceID,
			WorkspaceID:   workspaceID,
			WorkspaceName: workspaceName,
			Kind:          kindAccess,
			TokenID:       accessID,
		},
		standardClaims: standardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.cfg.AccessTTL).Unix(),
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	refreshID := uuid.NewString()
	refresh, err := signToken(s.cfg.RefreshSecret, refreshTokenClaims{
		RefreshClaims: RefreshClaims{
			DeviceID:    deviceID,
			WorkspaceID: workspaceID,
			Kind:        kindRefresh,
			TokenID:     refreshID,
		},
		standardClaims: standardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.cfg.RefreshTTL).Unix(),
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*AccessClaims, error) {
	var claims accessTokenClaims
	claims.now = s.cfg.Clock.Now
	if err := parseToken(token, s.cfg.AccessSecret, &claims); err != nil {
		return nil, trace.Wrap(err)
	}
	if claims.Kind != kindAccess {
		return nil, trace.AccessDenied("invalid token")
	}
	return &claims.AccessClaims, nil
}

// VerifyRefresh validates a refresh token, checking the revocation index.
func (s *Service) VerifyRefresh(token string) (*RefreshClaims, error) {
	var claims refreshTokenClaims
	claims.now = s.cfg.Clock.Now
	if err := parseToken(token, s.cfg.RefreshSecret, &claims); err != nil {
		return nil, trace.Wrap(err)
	}
	if claims.Kind != kindRefresh {
		return nil, trace.AccessDenied("invalid token")
	}
	if s.cfg.RevocationIndex.IsRevoked(claims.TokenID) {
		return nil, trace.AccessDenied("invalid token")
	}
	return &claims.RefreshClaims, nil
}

// RevokeRefresh marks a refresh token as revoked by its embedded id, so
// logout invalidates it immediately even though it has not yet expired.
func (s *Service) RevokeRefresh(token string) error {
	claims, err := s.VerifyRefresh(token)
	if err != nil {
		// Already invalid; nothing to revoke.
		return nil
	}
	s.cfg.RevocationIndex.Revoke(claims.TokenID, s.cfg.RefreshTTL)
	return nil
}

// Rotate verifies refresh, revokes it, and issues a fresh pair.
func (s *Service) Rotate(refresh string) (*TokenPair, error) {
	claims, err := s.VerifyRefresh(refresh)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.cfg.RevocationIndex.Revoke(claims.TokenID, s.cfg.RefreshTTL)

	// The new pair needs a workspace name; callers that only have the
	// refresh token's claims (no name) should fetch it from the device
	// registry before calling Rotate, passing it through IssueTokens
	// directly instead when they have it. Rotate covers the common case
	// where workspace name isn't required downstream of a refresh.
	log.WithField("device_id", claims.DeviceID).Debug("rotating refresh token")
	return s.IssueTokens(claims.DeviceID, claims.WorkspaceID, "")
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf, nil
}

// randomPIN returns a cryptographically uniform 6-digit, zero-padded PIN.
func randomPIN() (string, error) {
	var max uint32 = 1_000_000
	buf := make([]byte, 4)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", trace.Wrap(err)
		}
		v := binary.BigEndian.Uint32(buf)
		// Reject values that would bias the modulo toward small PINs.
		limit := (^uint32(0) / max) * max
		if v >= limit {
			continue
		}
		return fmt.Sprintf("%0*d", pinDigits, v%max), nil
	}
}
