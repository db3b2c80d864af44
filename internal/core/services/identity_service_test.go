package services

import (
	"testing"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinTokenRoundTrip(t *testing.T) {
	provider := NewJWTIdentityProvider("test-secret", "vitalink")
	identity := ports.Identity{
		ParticipantID:  "patient-1",
		Role:           domain.RolePatient,
		ConsultationID: "consult-1",
	}

	token, err := provider.IssueJoinToken(identity, time.Hour)
	require.NoError(t, err)

	parsed, err := provider.ValidateJoinToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, *parsed)
}

func TestExpiredTokenRejected(t *testing.T) {
	provider := NewJWTIdentityProvider("test-secret", "vitalink")
	token, err := provider.IssueJoinToken(ports.Identity{
		ParticipantID:  "patient-1",
		Role:           domain.RolePatient,
		ConsultationID: "consult-1",
	}, -time.Minute)
	require.NoError(t, err)

	_, err = provider.ValidateJoinToken(token)
	assert.Error(t, err)
}

func TestForeignSecretRejected(t *testing.T) {
	issuer := NewJWTIdentityProvider("secret-a", "vitalink")
	validator := NewJWTIdentityProvider("secret-b", "vitalink")

	token, err := issuer.IssueJoinToken(ports.Identity{
		ParticipantID:  "patient-1",
		Role:           domain.RolePatient,
		ConsultationID: "consult-1",
	}, time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateJoinToken(token)
	assert.Error(t, err)
}

func TestUnknownRoleRejected(t *testing.T) {
	secret := []byte("test-secret")
	claims := joinClaims{
		ParticipantID:  "patient-1",
		Role:           "superuser",
		ConsultationID: "consult-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	provider := NewJWTIdentityProvider("test-secret", "vitalink")
	_, err = provider.ValidateJoinToken(token)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestGarbageTokenRejected(t *testing.T) {
	provider := NewJWTIdentityProvider("test-secret", "vitalink")
	_, err := provider.ValidateJoinToken("not.a.token")
	assert.Error(t, err)
}
