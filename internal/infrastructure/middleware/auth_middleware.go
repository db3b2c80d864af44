package middleware

import (
	"net/http"
	"strings"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const (
	ContextParticipantID  = "participant_id"
	ContextRole           = "role"
	ContextConsultationID = "consultation_id"
)

// AuthMiddleware validates the bearer join token and stores the resolved
// identity on the request context.
func AuthMiddleware(identity ports.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		resolved, err := identity.ValidateJoinToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextParticipantID, resolved.ParticipantID)
		c.Set(ContextRole, resolved.Role)
		c.Set(ContextConsultationID, resolved.ConsultationID)
		c.Next()
	}
}

// RequireRole restricts an endpoint to one role. Must run after
// AuthMiddleware.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(ContextRole)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		actual, ok := roleVal.(domain.Role)
		if !ok || actual != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ParticipantFromContext returns the identity stored by AuthMiddleware.
func ParticipantFromContext(c *gin.Context) (domain.ParticipantID, domain.Role, bool) {
	idVal, ok := c.Get(ContextParticipantID)
	if !ok {
		return "", "", false
	}
	roleVal, ok := c.Get(ContextRole)
	if !ok {
		return "", "", false
	}
	id, idOK := idVal.(domain.ParticipantID)
	role, roleOK := roleVal.(domain.Role)
	return id, role, idOK && roleOK
}
