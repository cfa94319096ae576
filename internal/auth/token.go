package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/estate-auth/internal/domain"
)

// Claims describes the self-contained JWT payload. Subject id and role are
// cached in the token at mint time so validation does not need a lookup to
// read them; they go stale until the next rotation.
type Claims struct {
	SubjectID   string           `json:"user_uuid"`
	Role        domain.Role      `json:"user_role"`
	Kind        domain.TokenKind `json:"token_type"`
	Fingerprint string           `json:"pwd_fp,omitempty"`
	jwt.RegisteredClaims
}

// JTI returns the token's unique id.
func (c *Claims) JTI() string {
	return c.ID
}

// Codec signs and verifies tokens with a single shared key and one fixed
// algorithm (HS256) for the whole system.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec builds a codec with per-kind lifetimes.
func NewCodec(secret string, accessTTL, refreshTTL time.Duration) *Codec {
	if accessTTL <= 0 {
		accessTTL = 120 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 24 * time.Hour
	}
	return &Codec{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Lifetime returns the configured lifetime for the given token kind.
func (c *Codec) Lifetime(kind domain.TokenKind) time.Duration {
	if kind == domain.TokenKindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// NewClaims builds a fresh claim set for the user with a new unique id.
func (c *Codec) NewClaims(user *domain.User, kind domain.TokenKind, fingerprint string) Claims {
	now := time.Now()
	return Claims{
		SubjectID:   user.ID,
		Role:        user.Role,
		Kind:        kind,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.Lifetime(kind))),
		},
	}
}

// Encode signs the claim set and returns the compact token string.
func (c *Codec) Encode(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString(c.secret)
}

// Decode verifies the signature and structure of a presented token and
// checks it carries the expected kind. When verifyExpiry is false an
// expired token still decodes; the rotation and logout flows read claims
// from access tokens that are past their expiry.
func (c *Codec) Decode(raw string, kind domain.TokenKind, verifyExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{}
	if !verifyExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, DecodeError(kind, nil)
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ExpiredError(kind)
		}
		return nil, DecodeError(kind, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, DecodeError(kind, nil)
	}
	if claims.Kind != kind {
		return nil, DecodeError(kind, nil)
	}
	if claims.ID == "" || claims.SubjectID == "" {
		return nil, DecodeError(kind, nil)
	}
	return claims, nil
}
