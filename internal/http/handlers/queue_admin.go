package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/edugate/internal/clients/bus"
	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/http/response"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/worker"
)

// QueueAdminHandler manages queue definitions and their worker groups.
type QueueAdminHandler struct {
	registry *queue.Registry
	pool     *worker.Pool
	kv       redisclient.KV
	bus      bus.Bus
}

func NewQueueAdminHandler(reg *queue.Registry, pool *worker.Pool, kv redisclient.KV, b bus.Bus) *QueueAdminHandler {
	return &QueueAdminHandler{registry: reg, pool: pool, kv: kv, bus: b}
}

func (h *QueueAdminHandler) describe(c *gin.Context, def queue.Definition) gin.H {
	out := gin.H{"config": def}
	if counts, err := h.registry.Store().Counts(c.Request.Context(), def.Name); err == nil {
		out["counts"] = counts
	}
	if paused, err := h.registry.Store().Paused(c.Request.Context(), def.Name); err == nil {
		out["paused"] = paused
	}
	return out
}

// GET /admin/queues
func (h *QueueAdminHandler) ListQueues(c *gin.Context) {
	defs := h.registry.List()
	queues := make([]gin.H, 0, len(defs))
	for _, def := range defs {
		entry := h.describe(c, def)
		entry["name"] = def.Name
		queues = append(queues, entry)
	}
	response.RespondOK(c, gin.H{
		"queues":       queues,
		"defaultQueue": h.registry.DefaultQueueName(),
		"count":        len(queues),
	})
}

// GET /admin/queues/:name
func (h *QueueAdminHandler) GetQueue(c *gin.Context) {
	name := c.Param("name")
	def, ok := h.registry.Get(name)
	if !ok {
		response.RespondError(c, http.StatusNotFound, "queue_not_found", queue.ErrQueueMissing)
		return
	}
	response.RespondOK(c, h.describe(c, def))
}

// POST /admin/queues
func (h *QueueAdminHandler) CreateQueue(c *gin.Context) {
	var def queue.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_queue_config", err)
		return
	}
	if err := h.registry.Create(c.Request.Context(), def); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueExists) {
			status = http.StatusConflict
		}
		response.RespondError(c, status, "create_queue_failed", err)
		return
	}
	created, _ := h.registry.Get(def.Name)
	c.JSON(http.StatusCreated, gin.H{"config": created})
}

// PUT /admin/queues/:name
func (h *QueueAdminHandler) UpdateQueue(c *gin.Context) {
	name := c.Param("name")
	var patch queue.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_queue_patch", err)
		return
	}
	updated, err := h.registry.Update(c.Request.Context(), name, patch)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueMissing) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "update_queue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"config": updated})
}

// DELETE /admin/queues/:name
func (h *QueueAdminHandler) RemoveQueue(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Remove(c.Request.Context(), name); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, queue.ErrQueueMissing):
			status = http.StatusNotFound
		case errors.Is(err, queue.ErrDefaultQueue):
			status = http.StatusConflict
		}
		response.RespondError(c, status, "remove_queue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"removed": name})
}

// POST /admin/queues/workers/pause-all
func (h *QueueAdminHandler) PauseAll(c *gin.Context) {
	if err := h.pool.PauseAll(c.Request.Context()); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "pause_all_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"paused": true})
}

// POST /admin/queues/workers/resume-all
func (h *QueueAdminHandler) ResumeAll(c *gin.Context) {
	if err := h.pool.ResumeAll(c.Request.Context()); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "resume_all_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"paused": false})
}

// POST /admin/queues/workers/:queue/pause
func (h *QueueAdminHandler) PauseQueue(c *gin.Context) {
	name := c.Param("queue")
	if err := h.pool.PauseQueue(c.Request.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueMissing) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "pause_queue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"queue": name, "paused": true})
}

// POST /admin/queues/workers/:queue/resume
func (h *QueueAdminHandler) ResumeQueue(c *gin.Context) {
	name := c.Param("queue")
	if err := h.pool.ResumeQueue(c.Request.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueMissing) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "resume_queue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"queue": name, "paused": false})
}

// POST /admin/queues/workers/:queue
func (h *QueueAdminHandler) AddWorker(c *gin.Context) {
	name := c.Param("queue")
	st, err := h.pool.AddWorker(c.Request.Context(), name)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueMissing) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "add_worker_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"worker": st})
}

// DELETE /admin/queues/workers/:queue
func (h *QueueAdminHandler) RemoveWorker(c *gin.Context) {
	name := c.Param("queue")
	if err := h.pool.RemoveWorker(c.Request.Context(), name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueMissing) {
			status = http.StatusNotFound
		}
		response.RespondError(c, status, "remove_worker_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"queue": name})
}

// GET /admin/queues/workers/status
func (h *QueueAdminHandler) WorkerStatus(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"workers":   h.pool.Status(),
		"timestamp": domain.NowMillis(),
	})
}

// GET /admin/queues/health/check
func (h *QueueAdminHandler) HealthCheck(c *gin.Context) {
	redisOK := h.kv.Ping(c.Request.Context()) == nil
	busOK := h.bus.Connected()

	status := "healthy"
	code := http.StatusOK
	if !redisOK || !busOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"components": gin.H{
			"redis": redisOK,
			"bus":   busOK,
		},
		"queues":    len(h.registry.List()),
		"timestamp": domain.NowMillis(),
	})
}
