package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BeaconDeleteQueueEntry is the target of the page-unload beacon: a waiting
// tab that closes fires a best-effort DELETE for its own queue row so the
// next matcher does not pick a ghost. The delete is idempotent; entries that
// slip through are reaped once they go stale.
func (h *Handler) BeaconDeleteQueueEntry(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing queue entry id"})
		return
	}

	deleted, err := h.Store.DeleteQueueEntry(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete queue entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
