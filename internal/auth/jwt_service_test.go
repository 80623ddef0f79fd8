package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "pushbeam",
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Recipient)
	require.Equal(t, "pushbeam", claims.Issuer)
	require.Equal(t, "alice", claims.Subject)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Minute,
		Clock:          func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken("alice")
	require.NoError(t, err)

	later, err := NewJWTService(JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Minute,
		Clock:          func() time.Time { return now.Add(2 * time.Minute) },
	})
	require.NoError(t, err)

	_, err = later.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestJWTServiceRejectsWrongSecretAndIssuer(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret-a", Issuer: "pushbeam"})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken("alice")
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "secret-b", Issuer: "pushbeam"})
	require.NoError(t, err)
	_, err = other.ValidateAccessToken(token)
	require.Error(t, err)

	wrongIssuer, err := NewJWTService(JWTConfig{Secret: "secret-a", Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = wrongIssuer.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}
