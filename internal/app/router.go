package app

import (
	"github.com/gin-gonic/gin"

	"github.com/campusops/edugate/internal/http/middleware"
	"github.com/campusops/edugate/internal/platform/logger"
)

// wireRouter assembles the gin engine. Gateway-owned surfaces are
// registered explicitly; everything else hits the interception
// middleware, which either queues the request or falls through to 404.
func wireRouter(log *logger.Logger, cfg Config, services Services, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.AuthContext(log))
	if len(cfg.TrustedProxy) > 0 {
		_ = r.SetTrustedProxies(cfg.TrustedProxy)
	}

	r.GET("/healthcheck", h.Health.HealthCheck)
	r.GET("/health", h.Health.HealthCheck)

	queues := r.Group("/queues")
	{
		queues.GET("/job/:id/status", h.JobStatus.GetJobStatus)
		queues.GET("/status", h.JobStatus.GetBatchStatus)
		queues.GET("/results/success", h.JobStatus.GetSuccessHistory)
		queues.GET("/results/failure", h.JobStatus.GetFailureHistory)
	}

	control := r.Group("/queue-control")
	{
		control.GET("/status", h.QueueControl.Status)
		control.POST("/enable", h.QueueControl.Enable)
		control.POST("/disable", h.QueueControl.Disable)
		control.POST("/toggle", h.QueueControl.Toggle)
		control.GET("/exclusions", h.QueueControl.ListExclusions)
		control.POST("/exclusions", h.QueueControl.AddExclusion)
		control.DELETE("/exclusions", h.QueueControl.RemoveExclusion)
		control.GET("/cache/stats", h.QueueControl.CacheStats)
		control.POST("/cache/clear", h.QueueControl.CacheClear)
		control.POST("/cache/reset", h.QueueControl.CacheReset)
	}

	admin := r.Group("/admin/queues")
	{
		admin.GET("", h.QueueAdmin.ListQueues)
		admin.POST("", h.QueueAdmin.CreateQueue)
		admin.GET("/workers/status", h.QueueAdmin.WorkerStatus)
		admin.POST("/workers/pause-all", h.QueueAdmin.PauseAll)
		admin.POST("/workers/resume-all", h.QueueAdmin.ResumeAll)
		admin.POST("/workers/:queue", h.QueueAdmin.AddWorker)
		admin.DELETE("/workers/:queue", h.QueueAdmin.RemoveWorker)
		admin.POST("/workers/:queue/pause", h.QueueAdmin.PauseQueue)
		admin.POST("/workers/:queue/resume", h.QueueAdmin.ResumeQueue)
		admin.GET("/health/check", h.QueueAdmin.HealthCheck)
		admin.GET("/:name", h.QueueAdmin.GetQueue)
		admin.PUT("/:name", h.QueueAdmin.UpdateQueue)
		admin.DELETE("/:name", h.QueueAdmin.RemoveQueue)
	}

	r.GET("/jobs", services.Hub.Serve)

	// Everything not claimed above is a candidate for interception.
	r.NoRoute(services.Pipeline.Middleware())

	return r
}
