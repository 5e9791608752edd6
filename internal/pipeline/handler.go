package pipeline

import (
	"net/http"

	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the external trigger endpoint for the hybrid chain.
type Handler struct {
	runner *Runner
	log    *logger.Logger
}

// NewHandler creates the pipeline HTTP handler.
func NewHandler(runner *Runner, log *logger.Logger) *Handler {
	return &Handler{runner: runner, log: log}
}

// RegisterRoutes mounts the pipeline routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/pipeline/hybrid", h.RunHybrid)
}

// RunHybrid executes the chain once. Stage-reported failures come back in
// the 200 report; only invocation-plumbing failures produce an error status.
func (h *Handler) RunHybrid(c *gin.Context) {
	report, err := h.runner.Run(c.Request.Context(), "manual")
	if err != nil {
		h.log.Error("hybrid pipeline run failed", "error", err)
		httpkit.Error(c, http.StatusInternalServerError, "pipeline invocation failed", err.Error())
		return
	}

	httpkit.OK(c, report)
}
