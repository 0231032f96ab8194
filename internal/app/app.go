package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/edugate/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
	Handlers Handlers
	Router   *gin.Engine

	server *http.Server
	cancel context.CancelFunc
}

func New() (*App, error) {
	cfg := LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	clients := wireClients(log, cfg)

	services, err := wireServices(log, cfg, clients)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(services, clients)
	router := wireRouter(log, cfg, services, handlerset)

	return &App{
		Log:      log,
		Cfg:      cfg,
		Clients:  clients,
		Services: services,
		Handlers: handlerset,
		Router:   router,
	}, nil
}

// Start launches the background machinery: config event loop, status
// housekeeping, cache cleanup and the worker pool.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.EventLoop {
		if err := a.Services.Registry.StartEventLoop(ctx); err != nil {
			a.Log.Warn("Config event loop unavailable", "error", err)
		}
	}
	a.Services.Fabric.StartHousekeeping()
	a.Services.Cache.StartCleanup(a.Cfg.CacheCleanup)
	if a.Cfg.StartWorkers {
		a.Services.Pool.Start(ctx)
	}
}

// Run serves HTTP until the context is cancelled, then drains within
// the shutdown grace period.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.server = &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Gateway listening", "port", a.Cfg.Port)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownGrace)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Services.Pool.Close()
	a.Services.Hub.Close()
	a.Services.Registry.Close()
	a.Services.Fabric.Stop()
	a.Services.Cache.Stop()
	a.Services.Idempotency.Stop()
	if a.Clients.Bus != nil {
		a.Clients.Bus.Close()
	}
	if a.Clients.KV != nil {
		_ = a.Clients.KV.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
