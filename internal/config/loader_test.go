package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "civicpulse.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
version: "1"
store:
  retention: 2h
stream:
  heartbeat_interval: 10s
dispatch:
  workers: 8
log:
  level: debug
`)
	l, err := NewLoader(path, quiet())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg := l.Config()
	if cfg.Store.Retention != 2*time.Hour {
		t.Errorf("retention = %v", cfg.Store.Retention)
	}
	if cfg.Stream.HeartbeatInterval != 10*time.Second || cfg.Stream.MaxLifetime != 5*time.Minute {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Dispatch.Workers != 8 || cfg.Dispatch.QueueDepth != 256 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if lvl, _ := cfg.Log.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("level = %v", lvl)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: \"1\"\nserver:\n  addr: \":9000\"\n")
	t.Setenv("CIVICPULSE_ADDR", ":7070")
	t.Setenv("CIVICPULSE_STREAM_MAX_LIFETIME", "90s")

	l, err := NewLoader(path, quiet())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if got := l.Config().Server.Addr; got != ":7070" {
		t.Errorf("addr = %q, want :7070", got)
	}
	if got := l.Config().Stream.MaxLifetime; got != 90*time.Second {
		t.Errorf("max_lifetime = %v", got)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	l, err := NewLoader("", quiet())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if l.Config().Store.Retention != time.Hour {
		t.Errorf("retention = %v", l.Config().Store.Retention)
	}
	stop, err := l.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	stop()
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "version: [", "parse config"},
		{"bad duration", "version: \"1\"\nstore:\n  retention: soon\n", "parse config"},
		{"invalid values", "version: \"1\"\nstore:\n  retention: -1s\ndispatch:\n  workers: 0\nlog:\n  level: loud\n", "store.retention"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, t.TempDir(), tc.body), quiet())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
	if _, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), quiet()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Version = ""
	cfg.Dispatch.Workers = 0
	cfg.Stream.HeartbeatInterval = 10 * time.Minute
	cfg.Log.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"version is required", "dispatch.workers", "exceeds stream.max_lifetime", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
	if err := Validate(Default()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestReload_NotifiesAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "version: \"1\"\nlog:\n  level: info\n")
	l, err := NewLoader(path, quiet())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	got := make(chan *Config, 4)
	l.OnChange(func(c *Config) { got <- c })

	writeConfig(t, dir, "version: \"1\"\nlog:\n  level: warn\n")
	if _, err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c := <-got; c.Log.Level != "warn" {
		t.Errorf("callback saw level %q", c.Log.Level)
	}

	writeConfig(t, dir, "version: [")
	if _, err := l.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if l.Config().Log.Level != "warn" {
		t.Errorf("previous config lost: %q", l.Config().Log.Level)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "version: \"1\"\nstream:\n  poll_interval: 1s\n")
	l, err := NewLoader(path, quiet())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	stop, err := l.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	writeConfig(t, dir, "version: \"1\"\nstream:\n  poll_interval: 250ms\n")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if l.Config().Stream.PollInterval == 250*time.Millisecond {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("poll_interval still %v after write", l.Config().Stream.PollInterval)
}
