package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/http/response"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/status"
)

const (
	batchStatusCap      = 50
	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

// JobStatusHandler serves the polling side of job tracking: single
// status, batch status, and the result history lists.
type JobStatusHandler struct {
	fabric  *status.Fabric
	results *results.Repo
	store   queue.Store
}

func NewJobStatusHandler(fabric *status.Fabric, res *results.Repo, store queue.Store) *JobStatusHandler {
	return &JobStatusHandler{fabric: fabric, results: res, store: store}
}

// GET /queues/job/:id/status
func (h *JobStatusHandler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", errors.New("job id required"))
		return
	}

	if update, ok := h.fabric.GetStatus(jobID); ok {
		var rec *domain.JobResultRecord
		if update.Status == domain.StatusCompleted || update.Status == domain.StatusFailed {
			rec, _ = h.results.Get(c.Request.Context(), jobID)
		}
		response.RespondOK(c, statusPayload(update, rec))
		return
	}

	// The fabric sweeps hourly; the persisted record outlives it.
	if rec, err := h.results.Get(c.Request.Context(), jobID); err == nil && rec != nil {
		update := domain.JobStatusUpdate{
			JobID:     rec.JobID,
			Status:    rec.Status,
			QueueName: rec.QueueName,
			Timestamp: rec.FinishedAt,
		}
		response.RespondOK(c, statusPayload(update, rec))
		return
	}

	// A job still sitting in the broker but never surfaced to the
	// fabric (instance restart) reports as queued.
	if job, err := h.store.Job(c.Request.Context(), jobID); err == nil && job != nil {
		response.RespondOK(c, gin.H{
			"id":        job.ID,
			"status":    domain.StatusQueued,
			"queueName": job.QueueName,
			"timestamp": job.CreatedAt,
			"data":      job,
		})
		return
	}

	response.RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found or expired"))
}

// statusPayload flattens a status update and, when the job is done, its
// persisted record into the polling shape. Failure details surface at
// the top level so callers never dig into the nested record for them.
func statusPayload(update domain.JobStatusUpdate, rec *domain.JobResultRecord) gin.H {
	payload := gin.H{
		"id":        update.JobID,
		"status":    update.Status,
		"queueName": update.QueueName,
		"timestamp": update.Timestamp,
	}
	if update.Progress != nil {
		payload["progress"] = *update.Progress
	}
	if rec == nil {
		return payload
	}
	payload["result"] = rec
	payload["attempts"] = rec.Attempts
	payload["finishedOn"] = rec.FinishedAt
	if rec.ProcessedAt > 0 {
		payload["processedOn"] = rec.ProcessedAt
	}
	if len(rec.Result) > 0 {
		payload["returnvalue"] = rec.Result
	}
	if rec.Error != nil {
		payload["error"] = rec.Error
		payload["failedReason"] = rec.Error.Message
	}
	return payload
}

// GET /queues/status?ids=a,b,c
func (h *JobStatusHandler) GetBatchStatus(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_ids", errors.New("ids query parameter required"))
		return
	}
	ids := make([]string, 0, batchStatusCap)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ids = append(ids, id)
		if len(ids) == batchStatusCap {
			break
		}
	}
	if len(ids) == 0 {
		response.RespondError(c, http.StatusBadRequest, "missing_ids", errors.New("no valid job ids"))
		return
	}

	statuses := make(map[string]any, len(ids))
	summary := map[string]int{}
	for _, id := range ids {
		st, found := h.lookup(c, id)
		if !found {
			statuses[id] = gin.H{"found": false}
			summary["notFound"]++
			continue
		}
		statuses[id] = st
		summary[string(st.Status)]++
	}

	response.RespondOK(c, gin.H{
		"statuses":  statuses,
		"summary":   summary,
		"requested": len(ids),
		"timestamp": domain.NowMillis(),
	})
}

func (h *JobStatusHandler) lookup(c *gin.Context, jobID string) (domain.JobStatusUpdate, bool) {
	if update, ok := h.fabric.GetStatus(jobID); ok {
		return update, true
	}
	if rec, err := h.results.Get(c.Request.Context(), jobID); err == nil && rec != nil {
		return domain.JobStatusUpdate{
			JobID:     rec.JobID,
			Status:    rec.Status,
			QueueName: rec.QueueName,
			Timestamp: rec.FinishedAt,
		}, true
	}
	if job, err := h.store.Job(c.Request.Context(), jobID); err == nil && job != nil {
		return domain.JobStatusUpdate{
			JobID:     job.ID,
			Status:    domain.StatusQueued,
			QueueName: job.QueueName,
			Timestamp: job.CreatedAt,
		}, true
	}
	return domain.JobStatusUpdate{}, false
}

// GET /queues/results/success
func (h *JobStatusHandler) GetSuccessHistory(c *gin.Context) {
	h.history(c, false)
}

// GET /queues/results/failure
func (h *JobStatusHandler) GetFailureHistory(c *gin.Context) {
	h.history(c, true)
}

func (h *JobStatusHandler) history(c *gin.Context, failed bool) {
	limit := int64(historyDefaultLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}
	queueName := c.Query("queue")

	records, err := h.results.History(c.Request.Context(), failed, limit, queueName)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	total, err := h.results.HistoryLen(c.Request.Context(), failed)
	if err != nil {
		total = int64(len(records))
	}
	response.RespondOK(c, gin.H{
		"results":   records,
		"count":     len(records),
		"total":     total,
		"timestamp": domain.NowMillis(),
	})
}
