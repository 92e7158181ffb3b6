package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/clipsight/clipsight-backend/internal/health"
	"github.com/clipsight/clipsight-backend/internal/logger"
)

// DebugHandler exposes read-only connection pool diagnostics. Nothing here
// mutates state, so the routes are safe to leave enabled.
type DebugHandler struct {
	log  *logger.Logger
	pool *health.PoolService
}

func NewDebugHandler(log *logger.Logger, pool *health.PoolService) *DebugHandler {
	return &DebugHandler{
		log:  log.With("handler", "DebugHandler"),
		pool: pool,
	}
}

// GET /debug/pool-stats
func (h *DebugHandler) PoolStats(c *gin.Context) {
	RespondOK(c, h.pool.Stats())
}

// GET /debug/pool-health
func (h *DebugHandler) PoolHealth(c *gin.Context) {
	RespondOK(c, h.pool.Health())
}

// GET /debug/test-connection
func (h *DebugHandler) TestConnection(c *gin.Context) {
	RespondOK(c, h.pool.TestConnection(c.Request.Context()))
}
