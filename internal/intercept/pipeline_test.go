package intercept

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/campusops/edugate/internal/clients/bus"
	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/http/middleware"
	"github.com/campusops/edugate/internal/idempotency"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/routing"
	"github.com/campusops/edugate/internal/status"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    queue.Store
	busMem   *bus.Memory
	fabric   *status.Fabric
	engine   *gin.Engine
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	store := queue.NewMemoryStore()
	cfg := queue.SystemConfig{
		Queues: []queue.Definition{
			{Name: "critical", Priority: 10, TimeoutSeconds: 30, Attempts: 3, Concurrency: 5, Workers: 2,
				URLPatterns: []string{"/auth/*", "/enrollments/*"}, Enabled: true},
			{Name: "standard", Priority: 5, TimeoutSeconds: 60, Attempts: 3, Concurrency: 3, Workers: 2,
				URLPatterns: []string{"/courses/*"}, Enabled: true},
		},
		DefaultQueue:     "standard",
		JobTTLSeconds:    3600,
		PollingTimeoutMS: 30000,
	}
	reg, err := queue.NewRegistry(log, redisclient.NewMemory(), store, cfg)
	require.NoError(t, err)

	table, err := routing.NewTable(routing.DefaultRules())
	require.NoError(t, err)

	fabric := status.NewFabric(log)
	t.Cleanup(fabric.Stop)
	idem := idempotency.NewMemory(log)
	t.Cleanup(idem.Stop)
	busMem := bus.NewMemory()

	p := NewPipeline(log, table, queue.NewRouter(log, reg), reg, busMem, fabric, idem)

	engine := gin.New()
	engine.GET("/queues/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	engine.NoRoute(p.Middleware())

	return &pipelineFixture{pipeline: p, store: store, busMem: busMem, fabric: fabric, engine: engine}
}

func (f *pipelineFixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestInterceptReturns202WithJobHandle(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	rec := f.do(http.MethodPost, "/courses", `{"name":"Algebra"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)
	require.Equal(t, "queued", accepted.Status)
	require.Equal(t, "standard", accepted.QueueType)
	require.Equal(t, "/queues/job/"+accepted.JobID+"/status", accepted.CheckStatusURL)
	require.Equal(t, 0, accepted.Metadata.RetryCount)

	// The job is actually in the broker with the fabric tracking it.
	counts, err := f.store.Counts(context.Background(), "standard")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Waiting)

	u, ok := f.fabric.GetStatus(accepted.JobID)
	require.True(t, ok)
	require.Equal(t, "queued", string(u.Status))
}

func TestInterceptRoutesCriticalPatterns(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	rec := f.do(http.MethodPost, "/auth/login", `{"username":"ada","password":"x"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.Equal(t, "critical", accepted.QueueType)
}

func TestInterceptExcludedPathFallsThrough(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	rec := f.do(http.MethodGet, "/queues/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())
}

func TestInterceptUnroutedPathIs404(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	rec := f.do(http.MethodGet, "/no/such/surface", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInterceptMissingBodyFallsThrough(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	// A route that needs the body cannot resolve without one; the
	// request passes through untouched instead of failing async.
	rec := f.do(http.MethodPost, "/courses", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	counts, err := f.store.Counts(context.Background(), "standard")
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Waiting, "nothing is queued on a resolution miss")
}

func TestInterceptDeleteBodyNotCaptured(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	rec := f.do(http.MethodDelete, "/courses/42", `{"force":true}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	job, err := f.store.Job(context.Background(), accepted.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Empty(t, job.Body, "read verbs never carry a request body")
	require.Equal(t, "42", job.RouteParams["id"])
}

func TestInterceptDisabledDispatchesSynchronously(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.busMem.Handle("programs.courses.create", func(_ context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"id":"c-1"}`), nil
	})

	f.pipeline.SetEnabled(false)
	rec := f.do(http.MethodPost, "/courses", `{"name":"Algebra"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"c-1"}`, rec.Body.String())

	counts, err := f.store.Counts(context.Background(), "standard")
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Waiting, "nothing queued while disabled")
}

func TestInterceptDisabledNoResponderIs503(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	f.pipeline.SetEnabled(false)
	rec := f.do(http.MethodPost, "/courses", `{"name":"Algebra"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInterceptIdempotencyKeySharesJob(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	headers := map[string]string{"X-Idempotency-Key": "enroll-123"}
	body := `{"studentId":"s-1","sectionId":"sec-1"}`

	first := f.do(http.MethodPost, "/courses", body, headers)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := f.do(http.MethodPost, "/courses", body, headers)
	require.Equal(t, http.StatusAccepted, second.Code)

	var a1, a2 Accepted
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &a2))
	require.Equal(t, a1.JobID, a2.JobID, "duplicate submissions share one job")

	require.NotNil(t, a1.Idempotency)
	require.NotNil(t, a2.Idempotency)
	require.Equal(t, "enroll-123", a1.Idempotency.Key)
	require.Equal(t, "enroll-123", a2.Idempotency.Key)
	require.True(t, a1.Idempotency.IsNew, "first submission creates the job")
	require.False(t, a2.Idempotency.IsNew, "duplicate joins the existing job")

	counts, err := f.store.Counts(context.Background(), "standard")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Waiting)
}

func TestInterceptRuntimeExclusions(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	f.pipeline.AddExclusion("/courses")
	rec := f.do(http.MethodPost, "/courses", `{"name":"x"}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "excluded path falls through to 404")

	require.True(t, f.pipeline.RemoveExclusion("/courses"))
	rec = f.do(http.MethodPost, "/courses", `{"name":"x"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestInterceptBearerClaimsFlowIntoJob(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	// Unsigned-but-well-formed token: header.payload.signature with
	// {"sub":"u-42"} as the payload.
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJ1LTQyIn0." +
		"c2ln"

	rec := f.do(http.MethodPost, "/courses", `{"name":"x"}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	job, err := f.store.Job(context.Background(), accepted.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "u-42", job.UserID)
}

func TestInterceptVerifiedAuthContextWins(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)

	// When the auth middleware has already verified the caller, the
	// pipeline takes its identity and never re-decodes the token.
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u-7")
		c.Set(middleware.ClaimsKey, map[string]any{"sub": "u-7", "role": "registrar"})
	})
	engine.NoRoute(f.pipeline.Middleware())

	req := httptest.NewRequest(http.MethodPost, "/courses", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	job, err := f.store.Job(context.Background(), accepted.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "u-7", job.UserID)
	auth, ok := job.Context["auth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "registrar", auth["role"])
}
