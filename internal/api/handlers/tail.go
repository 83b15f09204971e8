package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"taillogs/internal/aggregator"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

const warningHeader = "X-Taillogs-Warning"

// Poller runs poll cycles and cursor resets
type Poller interface {
	Poll(ctx context.Context) ([]aggregator.TaggedRecord, error)
	ResetToEnd(ctx context.Context) error
}

// FilterStore reads and applies stream activation flags
type FilterStore interface {
	ActiveMap() map[string]bool
	Apply(ctx context.Context, values map[string]string) (map[string]bool, error)
}

// TailHandler serves the polling endpoints
type TailHandler struct {
	poller  Poller
	filters FilterStore
	logger  *pterm.Logger
}

// NewTailHandler creates a new tail handler
func NewTailHandler(poller Poller, filters FilterStore, logger *pterm.Logger) *TailHandler {
	return &TailHandler{
		poller:  poller,
		filters: filters,
		logger:  logger,
	}
}

// Poll returns the lines produced since the previous poll
func (h *TailHandler) Poll(c *gin.Context) {
	records, err := h.poller.Poll(c.Request.Context())
	if err != nil && records == nil {
		h.logger.WithCaller().Error("Poll failed", h.logger.Args("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		// Clients always get a record list; the header says why it is empty
		c.Header(warningHeader, "poll skipped, nothing was read")
		c.JSON(status, []aggregator.TaggedRecord{})
		return
	}

	if err != nil {
		// Records were read but their cursors were not stored
		h.logger.Warn("Poll delivered records without persisting cursors", h.logger.Args("error", err))
		c.Header(warningHeader, "cursor state not saved")
	}

	c.JSON(http.StatusOK, records)
}

// GetFilters returns stream name → active
func (h *TailHandler) GetFilters(c *gin.Context) {
	c.JSON(http.StatusOK, h.filters.ActiveMap())
}

// SetFilters applies activation flags from a JSON object or form values.
// A stream becomes active only for the value "true".
func (h *TailHandler) SetFilters(c *gin.Context) {
	values, err := filterValues(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter payload"})
		return
	}

	result, err := h.filters.Apply(c.Request.Context(), values)
	if err != nil {
		h.logger.WithCaller().Error("Failed to apply filters", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply filters"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func filterValues(c *gin.Context) (map[string]string, error) {
	values := make(map[string]string)

	if c.ContentType() == gin.MIMEJSON {
		var raw map[string]any
		if err := c.ShouldBindJSON(&raw); err != nil {
			return nil, err
		}
		for name, v := range raw {
			switch v := v.(type) {
			case string:
				values[name] = v
			case bool:
				values[name] = strconv.FormatBool(v)
			default:
				values[name] = fmt.Sprint(v)
			}
		}
		return values, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for name, v := range c.Request.PostForm {
		if len(v) > 0 {
			values[name] = v[0]
		}
	}
	return values, nil
}

// Reset moves file cursors to the end of the files
func (h *TailHandler) Reset(c *gin.Context) {
	if err := h.poller.ResetToEnd(c.Request.Context()); err != nil {
		h.logger.WithCaller().Error("Reset failed", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset cursors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
