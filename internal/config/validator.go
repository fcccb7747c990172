package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks required fields and value ranges, reporting every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			add("%s must be positive, got %v", name, d)
		}
	}

	if cfg.Version == "" {
		add("version is required")
	}
	if cfg.Server.Addr == "" {
		add("server.addr is required")
	}
	positive("server.read_timeout", cfg.Server.ReadTimeout)
	positive("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.WriteTimeout < 0 {
		add("server.write_timeout must not be negative, got %v", cfg.Server.WriteTimeout)
	}

	if cfg.Store.Dir == "" {
		add("store.dir is required")
	}
	positive("store.retention", cfg.Store.Retention)
	if cfg.Store.SweepInterval < 0 {
		add("store.sweep_interval must not be negative, got %v", cfg.Store.SweepInterval)
	}

	if cfg.Zones.Path == "" {
		add("zones.path is required")
	}

	positive("stream.poll_interval", cfg.Stream.PollInterval)
	positive("stream.heartbeat_interval", cfg.Stream.HeartbeatInterval)
	positive("stream.max_lifetime", cfg.Stream.MaxLifetime)
	if cfg.Stream.HeartbeatInterval > cfg.Stream.MaxLifetime {
		add("stream.heartbeat_interval (%v) exceeds stream.max_lifetime (%v)", cfg.Stream.HeartbeatInterval, cfg.Stream.MaxLifetime)
	}

	if cfg.Dispatch.Workers <= 0 {
		add("dispatch.workers must be positive, got %d", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.QueueDepth <= 0 {
		add("dispatch.queue_depth must be positive, got %d", cfg.Dispatch.QueueDepth)
	}
	positive("dispatch.timeout", cfg.Dispatch.Timeout)

	if _, err := cfg.Log.SlogLevel(); err != nil {
		add("log.level: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
