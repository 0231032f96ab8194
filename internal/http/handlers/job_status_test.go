package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/status"
)

type statusFixture struct {
	fabric  *status.Fabric
	results *results.Repo
	store   *queue.MemoryStore
	engine  *gin.Engine
}

func newStatusFixture(t *testing.T) *statusFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	f := &statusFixture{
		fabric:  status.NewFabric(log),
		results: results.NewRepo(log, redisclient.NewMemory()),
		store:   queue.NewMemoryStore(),
	}
	t.Cleanup(f.fabric.Stop)

	h := NewJobStatusHandler(f.fabric, f.results, f.store)
	f.engine = gin.New()
	f.engine.GET("/queues/job/:id/status", h.GetJobStatus)
	f.engine.GET("/queues/status", h.GetBatchStatus)
	f.engine.GET("/queues/results/success", h.GetSuccessHistory)
	f.engine.GET("/queues/results/failure", h.GetFailureHistory)
	return f
}

func (f *statusFixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGetJobStatusFromFabric(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	f.fabric.MarkProcessing("j1", "standard")

	rec, body := f.get(t, "/queues/job/j1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "j1", body["id"])
	require.Equal(t, "processing", body["status"])
	require.Equal(t, "standard", body["queueName"])
	require.NotContains(t, body, "result", "no record until the job finishes")
}

func TestGetJobStatusIncludesResultWhenDone(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	f.fabric.MarkCompleted("j2", "standard")
	require.NoError(t, f.results.Save(context.Background(), &domain.JobResultRecord{
		JobID: "j2", QueueName: "standard", Status: domain.StatusCompleted, Success: true,
		Result: json.RawMessage(`{"ok":true}`), ProcessedAt: domain.NowMillis(), FinishedAt: domain.NowMillis(),
	}))

	rec, body := f.get(t, "/queues/job/j2/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", body["status"])
	require.Contains(t, body, "result")
	require.JSONEq(t, `{"ok":true}`, mustMarshal(t, body["returnvalue"]))
	require.NotZero(t, body["finishedOn"])
	require.NotZero(t, body["processedOn"])
	require.NotContains(t, body, "failedReason")
}

func TestGetJobStatusFallsBackToPersistedRecord(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	// Nothing in the fabric (swept or other instance), only the record.
	require.NoError(t, f.results.Save(context.Background(), &domain.JobResultRecord{
		JobID: "j3", QueueName: "critical", Status: domain.StatusFailed, FinishedAt: domain.NowMillis(),
		Error: &domain.JobError{Type: domain.ErrorKindTimeout, Message: "job timed out"},
	}))

	rec, body := f.get(t, "/queues/job/j3/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "failed", body["status"])
	require.Equal(t, "critical", body["queueName"])
	require.Equal(t, "job timed out", body["failedReason"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, "timeout", errObj["type"])
	require.Equal(t, "job timed out", errObj["message"])
}

func TestGetJobStatusFallsBackToBroker(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Ensure(ctx, "standard"))
	require.NoError(t, f.store.Enqueue(ctx, "standard",
		&domain.Job{ID: "j4", QueueName: "standard", CreatedAt: domain.NowMillis()}, queue.EnqueueOptions{}))

	rec, body := f.get(t, "/queues/job/j4/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "queued", body["status"])
	data := body["data"].(map[string]any)
	require.Equal(t, "j4", data["id"])
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestGetJobStatusUnknownIs404(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	rec, _ := f.get(t, "/queues/job/ghost/status")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchStatusSummary(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	f.fabric.MarkQueued("a", "standard")
	f.fabric.MarkProcessing("b", "standard")

	rec, body := f.get(t, "/queues/status?ids=a,b,ghost")
	require.Equal(t, http.StatusOK, rec.Code)

	summary := body["summary"].(map[string]any)
	require.EqualValues(t, 1, summary["queued"])
	require.EqualValues(t, 1, summary["processing"])
	require.EqualValues(t, 1, summary["notFound"])
	require.EqualValues(t, 3, body["requested"])
}

func TestBatchStatusRequiresIDs(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	rec, _ := f.get(t, "/queues/status")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpointsAndLimitClamp(t *testing.T) {
	t.Parallel()
	f := newStatusFixture(t)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, f.results.Save(ctx, &domain.JobResultRecord{
			JobID: id, QueueName: "standard", Status: domain.StatusCompleted, Success: true,
			FinishedAt: domain.NowMillis(),
		}))
	}

	rec, body := f.get(t, "/queues/results/success?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["count"])
	require.EqualValues(t, 3, body["total"])

	rec, _ = f.get(t, "/queues/results/success?limit=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.get(t, "/queues/results/failure")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, body["count"])
}
