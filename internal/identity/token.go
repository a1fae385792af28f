package identity

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the session token claims: subject is the entity id, jti makes
// tokens distinguishable even when issued within the same second.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies compact HS256 session tokens. It is a pure
// stateless codec: signature and expiry validate without any store lookup,
// and revocation is layered on top by the session store.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec constructs a codec. The secret must be non-empty; ttl is the
// fixed session lifetime stamped into every token.
func NewTokenCodec(secret []byte, issuer string, ttl time.Duration, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: secret, issuer: issuer, ttl: ttl, now: now}
}

// Issue signs a token for the entity and returns it with its expiry.
func (c *TokenCodec) Issue(entityID string) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   entityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks structure, HMAC signature, and expiry. Any deviation (wrong
// segment count, bad base64, non-JSON payload, unexpected algorithm, expired
// or future-dated claims) is ErrInvalidToken, never a panic. The HMAC
// comparison inside the jwt library is constant-time.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuedAt())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
