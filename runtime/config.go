package runtime

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-pvm/runner"
	"github.com/goliatone/go-pvm/scheduler"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration file. PVM_SCHEDULER_* and PVM_STORE_*
// environment variables override it.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty" envPrefix:"PVM_SCHEDULER_"`
	Store     StoreConfig     `json:"store,omitempty" yaml:"store,omitempty" envPrefix:"PVM_STORE_"`
}

// SchedulerConfig drives job acquisition and the retry policy of a job.
type SchedulerConfig struct {
	Schedule   string        `json:"schedule,omitempty" yaml:"schedule,omitempty" env:"SCHEDULE"`
	Seconds    bool          `json:"seconds,omitempty" yaml:"seconds,omitempty" env:"SECONDS"`
	BatchSize  int           `json:"batch_size,omitempty" yaml:"batch_size,omitempty" env:"BATCH_SIZE"`
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty" env:"MAX_RETRIES"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	Backoff    BackoffConfig `json:"backoff,omitempty" yaml:"backoff,omitempty" envPrefix:"BACKOFF_"`
}

type BackoffConfig struct {
	Base   time.Duration `json:"base,omitempty" yaml:"base,omitempty" env:"BASE"`
	Factor float64       `json:"factor,omitempty" yaml:"factor,omitempty" env:"FACTOR"`
	Max    time.Duration `json:"max,omitempty" yaml:"max,omitempty" env:"MAX"`
}

// StoreConfig selects the record store. Driver is memory, sqlite or redis.
type StoreConfig struct {
	Driver string        `json:"driver,omitempty" yaml:"driver,omitempty" env:"DRIVER"`
	DSN    string        `json:"dsn,omitempty" yaml:"dsn,omitempty" env:"DSN"`
	Table  string        `json:"table,omitempty" yaml:"table,omitempty" env:"TABLE"`
	Prefix string        `json:"prefix,omitempty" yaml:"prefix,omitempty" env:"PREFIX"`
	TTL    time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" env:"TTL"`
}

// ParseConfig reads YAML or JSON configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads the configuration file at path and applies environment
// overrides. An empty path loads the environment only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read engine config %s: %w", path, err)
		}
		if cfg, err = ParseConfig(data); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg with the PVM_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate performs basic structural validation.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Scheduler.Backoff.Factor < 0 {
		return fmt.Errorf("backoff factor must not be negative")
	}
	return nil
}

// Options converts the scheduler section to scheduler options.
func (c SchedulerConfig) Options() []scheduler.Option {
	opts := []scheduler.Option{
		scheduler.WithSchedule(c.Schedule),
		scheduler.WithBatchSize(c.BatchSize),
	}
	if c.Seconds {
		opts = append(opts, scheduler.WithParser(scheduler.SecondsParser))
	}
	if ro := c.RunnerOptions(); len(ro) > 0 {
		opts = append(opts, scheduler.WithRunnerOptions(ro...))
	}
	return opts
}

// RunnerOptions builds the retry handler options of one job. Definition
// errors and version conflicts are never retried.
func (c SchedulerConfig) RunnerOptions() []runner.Option {
	var res []runner.Option
	if c.Timeout > 0 {
		res = append(res, runner.WithTimeout(c.Timeout))
	}
	if c.MaxRetries > 0 {
		res = append(res, runner.WithMaxRetries(c.MaxRetries))
	}
	var strategy runner.RetryStrategy = runner.NoDelayStrategy{}
	if c.Backoff.Base > 0 {
		factor := c.Backoff.Factor
		if factor == 0 {
			factor = 2
		}
		strategy = runner.ExponentialBackoffStrategy{Base: c.Backoff.Base, Factor: factor, Max: c.Backoff.Max}
	}
	return append(res, runner.WithRetryStrategy(runner.PermanentErrors{Strategy: strategy}))
}
