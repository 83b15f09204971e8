package handlers

import (
	"net/http"

	"taillogs/internal/metrics"

	"github.com/gin-gonic/gin"
)

// StatsHandler exposes poll cycle statistics
type StatsHandler struct {
	collector *metrics.Collector
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(collector *metrics.Collector) *StatsHandler {
	return &StatsHandler{collector: collector}
}

// GetStats returns a snapshot of the cycle statistics
func (h *StatsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Snapshot())
}
