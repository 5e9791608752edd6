package batches

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"
)

// ForceProcessRequest identifies one conversation's batch to re-drive.
type ForceProcessRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	TenantID       string `json:"tenantId" binding:"required,uuid"`
}

// Handler exposes the batch monitor's manual operations over HTTP.
type Handler struct {
	monitor *Monitor
	log     *logger.Logger
}

// NewHandler creates the batches HTTP handler.
func NewHandler(monitor *Monitor, log *logger.Logger) *Handler {
	return &Handler{monitor: monitor, log: log}
}

// RegisterRoutes mounts the batch routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/batches/stats", h.GetStats)
	rg.POST("/batches/force-process", h.ForceProcess)
	rg.POST("/batches/cleanup", h.Cleanup)
}

// GetStats reports the non-terminal batch counts for the monitored tenant.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.monitor.GetBatchStats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

// ForceProcess re-arms one conversation's batch for immediate reprocessing.
func (h *Handler) ForceProcess(c *gin.Context) {
	var req ForceProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid tenantId", nil)
		return
	}

	if err := h.monitor.ForceProcessChat(c.Request.Context(), req.ConversationID, tenantID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"queued": true, "conversationId": req.ConversationID})
}

// Cleanup sweeps all orphaned batches back to pending in one pass.
func (h *Handler) Cleanup(c *gin.Context) {
	reset, err := h.monitor.ManualCleanup(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"recovered": reset})
}
