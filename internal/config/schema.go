package config

import (
	"log/slog"
	"time"
)

// Config is the top-level YAML structure. Fields tagged env can be
// overridden from the environment after the file is read.
type Config struct {
	Version  string       `yaml:"version"`
	Server   ServerConf   `yaml:"server"`
	Store    StoreConf    `yaml:"store"`
	Zones    ZonesConf    `yaml:"zones"`
	Stream   StreamConf   `yaml:"stream"`
	Dispatch DispatchConf `yaml:"dispatch"`
	Log      LogConf      `yaml:"log"`
}

// ServerConf configures the HTTP listener.
type ServerConf struct {
	Addr            string        `yaml:"addr"             env:"CIVICPULSE_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"CIVICPULSE_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"CIVICPULSE_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CIVICPULSE_SHUTDOWN_TIMEOUT"`
}

// StoreConf configures the event log. Retention is hot-reloadable.
type StoreConf struct {
	Dir           string        `yaml:"dir"            env:"CIVICPULSE_STORE_DIR"`
	Retention     time.Duration `yaml:"retention"      env:"CIVICPULSE_STORE_RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CIVICPULSE_STORE_SWEEP_INTERVAL"`
}

// ZonesConf locates the watch-zone database.
type ZonesConf struct {
	Path string `yaml:"path" env:"CIVICPULSE_ZONES_DB"`
}

// StreamConf holds stream timings; new connections pick up reloads.
type StreamConf struct {
	PollInterval      time.Duration `yaml:"poll_interval"      env:"CIVICPULSE_STREAM_POLL_INTERVAL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"CIVICPULSE_STREAM_HEARTBEAT_INTERVAL"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"       env:"CIVICPULSE_STREAM_MAX_LIFETIME"`
}

// DispatchConf sizes the incident worker pool.
type DispatchConf struct {
	Workers    int           `yaml:"workers"     env:"CIVICPULSE_DISPATCH_WORKERS"`
	QueueDepth int           `yaml:"queue_depth" env:"CIVICPULSE_DISPATCH_QUEUE_DEPTH"`
	Timeout    time.Duration `yaml:"timeout"     env:"CIVICPULSE_DISPATCH_TIMEOUT"`
}

// LogConf holds the log level (debug, info, warn, error).
type LogConf struct {
	Level string `yaml:"level" env:"CIVICPULSE_LOG_LEVEL"`
}

// SlogLevel parses Level.
func (l LogConf) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConf{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConf{
			Dir:           "data/events",
			Retention:     time.Hour,
			SweepInterval: time.Minute,
		},
		Zones: ZonesConf{Path: "data/zones.db"},
		Stream: StreamConf{
			PollInterval:      time.Second,
			HeartbeatInterval: 30 * time.Second,
			MaxLifetime:       5 * time.Minute,
		},
		Dispatch: DispatchConf{
			Workers:    4,
			QueueDepth: 256,
			Timeout:    5 * time.Second,
		},
		Log: LogConf{Level: "info"},
	}
}
