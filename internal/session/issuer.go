// Package session mints and validates the stateless session credential that
// binds a request to an identity and its role.
package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
)

const keyInfo = "amplio-onboard session v1"

// Claims are the bound fields of a session credential.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// IdentityID is the subject the credential was issued for.
func (c *Claims) IdentityID() string { return c.Subject }

// Token is a freshly issued credential.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and validates HS256 credentials.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer derives the HS256 signing key from secret with HKDF-SHA256.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("session: secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the fixed credential lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a credential for an identity.
func (i *Issuer) Issue(identityID string, role domain.Role) (Token, error) {
	if identityID == "" || !role.Valid() {
		return Token{}, errors.New("session: identity id and role are required")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, fmt.Errorf("session: sign: %w", err)
	}
	return Token{Value: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate checks signature, issuer and expiry. Any failure is Unauthorized.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, apperr.Unauthorized("missing session credential")
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.key, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("session credential has expired")
		}
		return nil, apperr.Unauthorized("invalid session credential")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return nil, apperr.Unauthorized("invalid session credential")
	}
	return claims, nil
}
