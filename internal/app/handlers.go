package app

import (
	"github.com/campusops/edugate/internal/http/handlers"
)

type Handlers struct {
	Health       *handlers.HealthHandler
	JobStatus    *handlers.JobStatusHandler
	QueueAdmin   *handlers.QueueAdminHandler
	QueueControl *handlers.QueueControlHandler
}

func wireHandlers(services Services, clients Clients) Handlers {
	return Handlers{
		Health:       handlers.NewHealthHandler(),
		JobStatus:    handlers.NewJobStatusHandler(services.Fabric, services.Results, services.Store),
		QueueAdmin:   handlers.NewQueueAdminHandler(services.Registry, services.Pool, clients.KV, clients.Bus),
		QueueControl: handlers.NewQueueControlHandler(services.Pipeline, services.Cache),
	}
}
