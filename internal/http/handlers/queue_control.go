package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/edugate/internal/cache"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/http/response"
	"github.com/campusops/edugate/internal/intercept"
)

// QueueControlHandler flips the interception switch, manages the
// exclusion list and exposes the response cache.
type QueueControlHandler struct {
	pipeline *intercept.Pipeline
	cache    *cache.ResponseCache
}

func NewQueueControlHandler(p *intercept.Pipeline, c *cache.ResponseCache) *QueueControlHandler {
	return &QueueControlHandler{pipeline: p, cache: c}
}

func (h *QueueControlHandler) state() gin.H {
	return gin.H{
		"enabled":    h.pipeline.Enabled(),
		"exclusions": h.pipeline.Exclusions(),
		"timestamp":  domain.NowMillis(),
	}
}

// GET /queue-control/status
func (h *QueueControlHandler) Status(c *gin.Context) {
	response.RespondOK(c, h.state())
}

// POST /queue-control/enable
func (h *QueueControlHandler) Enable(c *gin.Context) {
	h.pipeline.SetEnabled(true)
	response.RespondOK(c, h.state())
}

// POST /queue-control/disable
func (h *QueueControlHandler) Disable(c *gin.Context) {
	h.pipeline.SetEnabled(false)
	response.RespondOK(c, h.state())
}

// POST /queue-control/toggle
func (h *QueueControlHandler) Toggle(c *gin.Context) {
	h.pipeline.Toggle()
	response.RespondOK(c, h.state())
}

// GET /queue-control/exclusions
func (h *QueueControlHandler) ListExclusions(c *gin.Context) {
	response.RespondOK(c, gin.H{"exclusions": h.pipeline.Exclusions()})
}

type exclusionRequest struct {
	Prefix string `json:"prefix" binding:"required"`
}

// POST /queue-control/exclusions
func (h *QueueControlHandler) AddExclusion(c *gin.Context) {
	var req exclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_exclusion", err)
		return
	}
	h.pipeline.AddExclusion(req.Prefix)
	response.RespondOK(c, gin.H{"exclusions": h.pipeline.Exclusions()})
}

// DELETE /queue-control/exclusions
func (h *QueueControlHandler) RemoveExclusion(c *gin.Context) {
	var req exclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_exclusion", err)
		return
	}
	if !h.pipeline.RemoveExclusion(req.Prefix) {
		response.RespondError(c, http.StatusNotFound, "exclusion_not_found", errors.New("prefix not excluded"))
		return
	}
	response.RespondOK(c, gin.H{"exclusions": h.pipeline.Exclusions()})
}

// GET /queue-control/cache/stats
func (h *QueueControlHandler) CacheStats(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"cache":     h.cache.Metrics(),
		"timestamp": domain.NowMillis(),
	})
}

// POST /queue-control/cache/clear
func (h *QueueControlHandler) CacheClear(c *gin.Context) {
	h.cache.Clear()
	response.RespondOK(c, gin.H{"cleared": true, "cache": h.cache.Metrics()})
}

// POST /queue-control/cache/reset
func (h *QueueControlHandler) CacheReset(c *gin.Context) {
	h.cache.Reset()
	response.RespondOK(c, gin.H{"reset": true, "cache": h.cache.Metrics()})
}
