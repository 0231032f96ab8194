package app

import (
	"time"

	"github.com/campusops/edugate/internal/platform/envutil"
)

type Config struct {
	Port          string
	LogMode       string
	CacheMaxSize  int
	CacheCleanup  time.Duration
	UseMemoryKV   bool
	UseMemoryBus  bool
	StartWorkers  bool
	EventLoop     bool
	TrustedProxy  []string
	ShutdownGrace time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:          envutil.Str("PORT", "8080"),
		LogMode:       envutil.Str("LOG_MODE", "development"),
		CacheMaxSize:  envutil.Int("CACHE_MAX_SIZE", 1000),
		CacheCleanup:  envutil.Dur("CACHE_CLEANUP_INTERVAL", time.Minute),
		UseMemoryKV:   envutil.Bool("USE_MEMORY_KV", false),
		UseMemoryBus:  envutil.Bool("USE_MEMORY_BUS", false),
		StartWorkers:  envutil.Bool("WORKERS_ENABLED", true),
		EventLoop:     envutil.Bool("QUEUE_EVENT_LOOP", true),
		TrustedProxy:  envutil.List("TRUSTED_PROXIES"),
		ShutdownGrace: envutil.Dur("SHUTDOWN_GRACE", 15*time.Second),
	}
}
