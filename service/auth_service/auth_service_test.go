package auth_service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.Issue("u1", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	userId, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userId)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewAuthService("secret-a").Issue("u1", nil)
	require.NoError(t, err)

	_, err = NewAuthService("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewAuthService("test-secret")

	for _, token := range []string{"", "not.a.token", "aaaa"} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.Issue("u1", jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	svc := NewAuthService("test-secret")

	token, err := svc.Issue("", nil)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	svc := NewAuthService("test-secret")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
