package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidate(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)

	tok, err := issuer.Issue("id-1", domain.RoleBorrower)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tok.ExpiresAt.Sub(tok.IssuedAt))

	claims, err := issuer.Validate(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.IdentityID())
	assert.Equal(t, domain.RoleBorrower, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateExpired(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)

	issued := time.Now().Add(-2 * time.Hour)
	issuer.now = func() time.Time { return issued }
	tok, err := issuer.Issue("id-1", domain.RoleBorrower)
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Validate(tok.Value)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	a, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)
	b, err := NewIssuer("another-secret-another-secret-xx", "amplio-onboard", time.Hour)
	require.NoError(t, err)

	tok, err := a.Issue("id-1", domain.RoleAdmin)
	require.NoError(t, err)

	_, err = b.Validate(tok.Value)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestValidateRejectsRawSecretSignature(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "id-1",
			Issuer:    "amplio-onboard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = issuer.Validate(forged)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestValidateRejectsWrongIssuerAndGarbage(t *testing.T) {
	a, err := NewIssuer(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	b, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)

	tok, err := a.Issue("id-1", domain.RoleBorrower)
	require.NoError(t, err)
	_, err = b.Validate(tok.Value)
	assert.Error(t, err)

	_, err = b.Validate("")
	assert.Error(t, err)
	_, err = b.Validate("not.a.jwt")
	assert.Error(t, err)
}

func TestIssueRequiresRole(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "amplio-onboard", time.Hour)
	require.NoError(t, err)
	_, err = issuer.Issue("id-1", domain.Role("root"))
	assert.Error(t, err)

	_, err = NewIssuer("", "amplio-onboard", time.Hour)
	assert.Error(t, err)
}
