package app

import (
	"fmt"

	"github.com/campusops/edugate/internal/cache"
	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/idempotency"
	"github.com/campusops/edugate/internal/intercept"
	"github.com/campusops/edugate/internal/platform/logger"
	"github.com/campusops/edugate/internal/queue"
	"github.com/campusops/edugate/internal/results"
	"github.com/campusops/edugate/internal/routing"
	"github.com/campusops/edugate/internal/status"
	"github.com/campusops/edugate/internal/worker"
	"github.com/campusops/edugate/internal/ws"
)

type Services struct {
	Store       queue.Store
	Registry    *queue.Registry
	Router      *queue.Router
	Cache       *cache.ResponseCache
	Fabric      *status.Fabric
	Results     *results.Repo
	Idempotency idempotency.Service
	Table       *routing.Table
	Pipeline    *intercept.Pipeline
	Pool        *worker.Pool
	Hub         *ws.Hub
}

func wireServices(log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	var store queue.Store
	if rdb := redisclient.Raw(clients.KV); rdb != nil {
		rs, err := queue.NewRedisStore(log, rdb)
		if err != nil {
			return Services{}, fmt.Errorf("init queue store: %w", err)
		}
		store = rs
	} else {
		store = queue.NewMemoryStore()
		log.Info("Using in-memory queue store")
	}

	seed := queue.DefaultSystemConfig()
	if fileCfg, err := queue.LoadConfigFile(); err != nil {
		log.Warn("Queue config file rejected, using defaults", "error", err)
	} else if fileCfg != nil {
		seed = *fileCfg
	}

	registry, err := queue.NewRegistry(log, clients.KV, store, seed)
	if err != nil {
		return Services{}, fmt.Errorf("init queue registry: %w", err)
	}

	responseCache := cache.New(log, cache.DefaultPolicy(), cfg.CacheMaxSize)
	fabric := status.NewFabric(log)
	resultRepo := results.NewRepo(log, clients.KV)
	idem := idempotency.NewMemory(log)

	table, err := routing.NewTable(routing.DefaultRules())
	if err != nil {
		return Services{}, fmt.Errorf("init routing table: %w", err)
	}

	qrouter := queue.NewRouter(log, registry)
	pipeline := intercept.NewPipeline(log, table, qrouter, registry, clients.Bus, fabric, idem)

	processor := worker.NewProcessor(log, clients.Bus, responseCache, resultRepo, fabric)
	pool := worker.NewPool(log, registry, processor, resultRepo, fabric)

	hub := ws.NewHub(log, fabric, resultRepo)

	return Services{
		Store:       store,
		Registry:    registry,
		Router:      qrouter,
		Cache:       responseCache,
		Fabric:      fabric,
		Results:     resultRepo,
		Idempotency: idem,
		Table:       table,
		Pipeline:    pipeline,
		Pool:        pool,
		Hub:         hub,
	}, nil
}
