package queue

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/campusops/edugate/internal/platform/envutil"
)

const (
	// DefaultConfigKey is the redis key holding the full system config.
	DefaultConfigKey = "queues:config"
	// DefaultConfigChannel carries cross-instance change events.
	DefaultConfigChannel = "queues:config:events"
)

// Definition is the full policy of one named queue.
type Definition struct {
	Name              string   `json:"name" mapstructure:"name"`
	Label             string   `json:"label,omitempty" mapstructure:"label"`
	Priority          int      `json:"priority" mapstructure:"priority"`
	TimeoutSeconds    int      `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	Attempts          int      `json:"attempts" mapstructure:"attempts"`
	RetryDelayMS      int      `json:"retryDelayMs" mapstructure:"retryDelayMs"`
	Concurrency       int      `json:"concurrency" mapstructure:"concurrency"`
	Workers           int      `json:"workers" mapstructure:"workers"`
	URLPatterns       []string `json:"urlPatterns,omitempty" mapstructure:"urlPatterns"`
	ProcessingDelayMS int      `json:"processingDelayMs,omitempty" mapstructure:"processingDelayMs"`
	KeepCompleted     int      `json:"keepCompleted,omitempty" mapstructure:"keepCompleted"`
	KeepFailed        int      `json:"keepFailed,omitempty" mapstructure:"keepFailed"`
	Enabled           bool     `json:"enabled" mapstructure:"enabled"`
}

// Normalize fills the invariant floors: at least one attempt, at least
// one in-flight job per worker, a positive timeout.
func (d *Definition) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.Workers < 0 {
		d.Workers = 0
	}
	if d.Attempts < 1 {
		d.Attempts = 1
	}
	if d.TimeoutSeconds < 1 {
		d.TimeoutSeconds = 30
	}
	if d.RetryDelayMS < 0 {
		d.RetryDelayMS = 0
	}
}

func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("queue name required")
	}
	if d.Concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be >= 1", d.Name)
	}
	if d.Workers < 0 {
		return fmt.Errorf("queue %s: workers must be >= 0", d.Name)
	}
	return nil
}

// SystemConfig is the persisted ordered set of queue definitions plus
// the global knobs.
type SystemConfig struct {
	Queues           []Definition `json:"queues" mapstructure:"queues"`
	DefaultQueue     string       `json:"defaultQueue" mapstructure:"defaultQueue"`
	JobTTLSeconds    int          `json:"jobTtlSeconds" mapstructure:"jobTtlSeconds"`
	PollingTimeoutMS int          `json:"pollingTimeoutMs" mapstructure:"pollingTimeoutMs"`
}

func (c *SystemConfig) Validate() error {
	seen := make(map[string]bool, len(c.Queues))
	for i := range c.Queues {
		if err := c.Queues[i].Validate(); err != nil {
			return err
		}
		if seen[c.Queues[i].Name] {
			return fmt.Errorf("duplicate queue name %q", c.Queues[i].Name)
		}
		seen[c.Queues[i].Name] = true
	}
	if c.DefaultQueue == "" {
		return fmt.Errorf("default queue name required")
	}
	if !seen[c.DefaultQueue] {
		return fmt.Errorf("default queue %q not among queue definitions", c.DefaultQueue)
	}
	return nil
}

// Find returns the definition with the given name, or nil.
func (c *SystemConfig) Find(name string) *Definition {
	for i := range c.Queues {
		if c.Queues[i].Name == name {
			return &c.Queues[i]
		}
	}
	return nil
}

// DefaultSystemConfig seeds the legacy trio. Queue names are free-form
// strings everywhere else; these are only the shipped defaults.
func DefaultSystemConfig() SystemConfig {
	name := envutil.Str("QUEUE_DEFAULT_NAME", "standard")
	cfg := SystemConfig{
		Queues: []Definition{
			{
				Name: "critical", Label: "Critical operations", Priority: 10,
				TimeoutSeconds: 30, Attempts: 3, RetryDelayMS: 500,
				Concurrency: 5, Workers: 2,
				URLPatterns: []string{"/auth/*", "/atomic-enrollment/*", "/enrollments/*"},
				KeepCompleted: 100, KeepFailed: 100, Enabled: true,
			},
			{
				Name: "standard", Label: "Standard operations", Priority: 5,
				TimeoutSeconds: 60, Attempts: 3, RetryDelayMS: 1000,
				Concurrency: 3, Workers: 2,
				URLPatterns: []string{"/courses/*", "/programs/*", "/calendar/*", "/grades/*", "/teaching/*"},
				KeepCompleted: 100, KeepFailed: 100, Enabled: true,
			},
			{
				Name: "background", Label: "Background operations", Priority: 1,
				TimeoutSeconds: 300, Attempts: 5, RetryDelayMS: 5000,
				Concurrency: 1, Workers: 1,
				URLPatterns: []string{"/reports/*", "/exports/*"},
				KeepCompleted: 50, KeepFailed: 100, Enabled: true,
			},
		},
		DefaultQueue:     name,
		JobTTLSeconds:    envutil.Int("QUEUE_JOB_TTL", 86400),
		PollingTimeoutMS: envutil.Int("QUEUE_POLLING_TIMEOUT", 30000),
	}
	if cfg.Find(name) == nil {
		cfg.Queues = append(cfg.Queues, Definition{
			Name: name, Priority: 5, TimeoutSeconds: 60, Attempts: 3,
			RetryDelayMS: 1000, Concurrency: 3, Workers: 1, Enabled: true,
		})
	}
	for i := range cfg.Queues {
		// Per-queue worker override, e.g. QUEUE_CRITICAL_WORKERS=4.
		envName := "QUEUE_" + strings.ToUpper(cfg.Queues[i].Name) + "_WORKERS"
		cfg.Queues[i].Workers = envutil.Int(envName, cfg.Queues[i].Workers)
		cfg.Queues[i].Normalize()
	}
	return cfg
}

// LoadConfigFile reads a SystemConfig from the JSON or YAML file named
// by QUEUE_CONFIG_PATH. Returns (nil, nil) when the variable is unset.
func LoadConfigFile() (*SystemConfig, error) {
	path := envutil.Str("QUEUE_CONFIG_PATH", "")
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read queue config %s: %w", path, err)
	}
	var cfg SystemConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse queue config %s: %w", path, err)
	}
	for i := range cfg.Queues {
		cfg.Queues[i].Normalize()
	}
	if cfg.JobTTLSeconds <= 0 {
		cfg.JobTTLSeconds = envutil.Int("QUEUE_JOB_TTL", 86400)
	}
	if cfg.PollingTimeoutMS <= 0 {
		cfg.PollingTimeoutMS = envutil.Int("QUEUE_POLLING_TIMEOUT", 30000)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
