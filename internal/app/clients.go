package app

import (
	"github.com/campusops/edugate/internal/clients/bus"
	redisclient "github.com/campusops/edugate/internal/clients/redis"
	"github.com/campusops/edugate/internal/platform/logger"
)

type Clients struct {
	KV  redisclient.KV
	Bus bus.Bus
}

// wireClients connects redis and the message bus. Either can be forced
// to (or fall back to) the in-process implementation, which keeps the
// gateway serving in degraded single-instance mode when infrastructure
// is missing.
func wireClients(log *logger.Logger, cfg Config) Clients {
	var kv redisclient.KV
	if cfg.UseMemoryKV {
		kv = redisclient.NewMemory()
		log.Info("Using in-memory KV store")
	} else {
		real, err := redisclient.NewClient(log)
		if err != nil {
			log.Warn("Redis unavailable, falling back to in-memory KV", "error", err)
			kv = redisclient.NewMemory()
		} else {
			kv = real
		}
	}

	var b bus.Bus
	if cfg.UseMemoryBus {
		b = bus.NewMemory()
		log.Info("Using in-memory bus")
	} else {
		real, err := bus.NewNATS(log)
		if err != nil {
			log.Warn("Bus unavailable, falling back to in-memory bus", "error", err)
			b = bus.NewMemory()
		} else {
			b = real
		}
	}

	return Clients{KV: kv, Bus: b}
}
