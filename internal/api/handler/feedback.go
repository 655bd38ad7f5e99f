package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"emberchat/backend/internal/models"
)

type feedbackRequest struct {
	Role   string `json:"role" binding:"required"`
	Gender string `json:"gender"`
}

// SubmitFeedback records the optional post-chat survey answer. The store
// keeps at most one row per session and role, so a retried submission is
// harmless.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	sessionID := c.Param("id")

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback payload"})
		return
	}
	if req.Role != models.RoleUser1 && req.Role != models.RoleUser2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	if err := h.Store.InsertFeedback(sessionID, req.Role, req.Gender); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store feedback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
