package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gravitational/trace"
)

// standardClaims carries the jwt.v4 registered claims this package actually
// uses (issued-at and expiry); embedding the full jwt.RegisteredClaims would
// pull in fields (audience, subject, issuer) the bridge protocol never sets.
type standardClaims struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`

	// now is the verifying Service's clock; nil falls back to time.Now.
	now func() time.Time
}

func (s standardClaims) Valid() error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if now().Unix() > s.ExpiresAt {
		return jwt.NewValidationError("token is expired", jwt.ValidationErrorExpired)
	}
	return nil
}

type accessTokenClaims struct {
	AccessClaims
	standardClaims
}

type refreshTokenClaims struct {
	RefreshClaims
	standardClaims
}

// signToken signs claims with secret using HS256, the only algorithm this
// service ever produces or accepts.
func signToken(secret []byte, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return signed, nil
}

// parseToken verifies signature, algorithm, and expiry, and decodes claims
// into out. The algorithm whitelist is enforced in the keyfunc: only HS256
// is ever accepted, regardless of what the token header claims.
func parseToken(raw string, secret []byte, out jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(raw, out, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, trace.AccessDenied("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return trace.AccessDenied("token expired")
		}
		return trace.AccessDenied("invalid token")
	}
	if !parsed.Valid {
		return trace.AccessDenied("invalid token")
	}
	return nil
}
