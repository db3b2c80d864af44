package services

import (
	"fmt"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

type joinClaims struct {
	ParticipantID  string `json:"pid"`
	Role           string `json:"role"`
	ConsultationID string `json:"cid"`
	jwt.RegisteredClaims
}

// JWTIdentityProvider issues and validates short-lived join tokens. The token
// binds a participant to a single consultation with a fixed role; the session
// core trusts the role claim and never re-derives it.
type JWTIdentityProvider struct {
	secret []byte
	issuer string
}

func NewJWTIdentityProvider(secret, issuer string) *JWTIdentityProvider {
	return &JWTIdentityProvider{secret: []byte(secret), issuer: issuer}
}

func (p *JWTIdentityProvider) IssueJoinToken(identity ports.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := joinClaims{
		ParticipantID:  string(identity.ParticipantID),
		Role:           string(identity.Role),
		ConsultationID: string(identity.ConsultationID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   string(identity.ParticipantID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign join token: %w", err)
	}
	return signed, nil
}

func (p *JWTIdentityProvider) ValidateJoinToken(tokenString string) (*ports.Identity, error) {
	claims := &joinClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse join token: %w", err)
	}
	if !token.Valid {
		return nil, domain.ErrNotAuthorized
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrNotAuthorized, claims.Role)
	}

	return &ports.Identity{
		ParticipantID:  domain.ParticipantID(claims.ParticipantID),
		Role:           role,
		ConsultationID: domain.ConsultationID(claims.ConsultationID),
	}, nil
}
