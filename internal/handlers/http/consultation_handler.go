package http

import (
	"net/http"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

type ConsultationHandler struct {
	consultations ports.ConsultationService
	identity      ports.IdentityProvider
	joinTokenTTL  time.Duration
}

func NewConsultationHandler(
	consultations ports.ConsultationService,
	identity ports.IdentityProvider,
	joinTokenTTL time.Duration,
) *ConsultationHandler {
	return &ConsultationHandler{
		consultations: consultations,
		identity:      identity,
		joinTokenTTL:  joinTokenTTL,
	}
}

func (h *ConsultationHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		// Token issuance is the entry point; everything else requires one.
		api.POST("/consultations/:id/tokens", h.IssueJoinToken)

		authed := api.Group("", auth)
		authed.POST("/consultations", middleware.RequireRole(domain.RoleProvider), h.CreateConsultation)
		authed.GET("/consultations", h.ListConsultations)
		authed.GET("/consultations/:id", h.GetConsultation)
		authed.POST("/consultations/:id/start", middleware.RequireRole(domain.RoleProvider), h.StartConsultation)
		authed.POST("/consultations/:id/complete", middleware.RequireRole(domain.RoleProvider), h.CompleteConsultation)
		authed.POST("/consultations/:id/cancel", h.CancelConsultation)
		authed.POST("/consultations/:id/invite", middleware.RequireRole(domain.RoleProvider), h.InviteParticipant)
	}
}

func (h *ConsultationHandler) CreateConsultation(c *gin.Context) {
	var req struct {
		PatientID   domain.ParticipantID `json:"patientId" binding:"required"`
		ProviderID  domain.ParticipantID `json:"providerId" binding:"required"`
		Reason      string               `json:"reason" binding:"max=500"`
		ScheduledAt time.Time            `json:"scheduledAt"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.consultations.CreateConsultation(c.Request.Context(), req.PatientID, req.ProviderID, req.Reason, req.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"consultation": record})
}

func (h *ConsultationHandler) GetConsultation(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	record, err := h.consultations.GetConsultation(c.Request.Context(), id)
	if err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultation": record})
}

func (h *ConsultationHandler) ListConsultations(c *gin.Context) {
	records, err := h.consultations.ListConsultations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consultations": records,
		"count":         len(records),
	})
}

func (h *ConsultationHandler) StartConsultation(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	if err := h.consultations.StartConsultation(c.Request.Context(), id); err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *ConsultationHandler) CompleteConsultation(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	if err := h.consultations.CompleteConsultation(c.Request.Context(), id); err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *ConsultationHandler) CancelConsultation(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	if err := h.consultations.CancelConsultation(c.Request.Context(), id); err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// IssueJoinToken validates the caller against the consultation record and
// issues a join token binding participant, role and consultation. The role
// comes from the record, never from the request.
func (h *ConsultationHandler) IssueJoinToken(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	var req struct {
		ParticipantID domain.ParticipantID `json:"participantId" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.consultations.GetConsultation(c.Request.Context(), id)
	if err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var role domain.Role
	switch req.ParticipantID {
	case record.PatientID:
		role = domain.RolePatient
	case record.ProviderID:
		role = domain.RoleProvider
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "participant is not part of this consultation"})
		return
	}

	token, err := h.identity.IssueJoinToken(ports.Identity{
		ParticipantID:  req.ParticipantID,
		Role:           role,
		ConsultationID: id,
	}, h.joinTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"role":      role,
		"expiresIn": h.joinTokenTTL.Seconds(),
	})
}

// InviteParticipant lets the provider add an observer by issuing them a join
// token for an in-progress consultation.
func (h *ConsultationHandler) InviteParticipant(c *gin.Context) {
	id := domain.ConsultationID(c.Param("id"))

	var req struct {
		ParticipantID domain.ParticipantID `json:"participantId" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.consultations.GetConsultation(c.Request.Context(), id)
	if err != nil {
		if err == domain.ErrConsultationNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Consultation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record.Status != domain.ConsultationInProgress {
		c.JSON(http.StatusConflict, gin.H{"error": "consultation is not in progress"})
		return
	}

	token, err := h.identity.IssueJoinToken(ports.Identity{
		ParticipantID:  req.ParticipantID,
		Role:           domain.RoleObserver,
		ConsultationID: id,
	}, h.joinTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"role":      domain.RoleObserver,
		"expiresIn": h.joinTokenTTL.Seconds(),
	})
}
