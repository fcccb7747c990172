package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/civicpulse/internal/api"
	"github.com/gyaneshwarpardhi/civicpulse/internal/broadcast"
	"github.com/gyaneshwarpardhi/civicpulse/internal/config"
	"github.com/gyaneshwarpardhi/civicpulse/internal/dispatch"
	"github.com/gyaneshwarpardhi/civicpulse/internal/matcher"
	"github.com/gyaneshwarpardhi/civicpulse/internal/store"
	"github.com/gyaneshwarpardhi/civicpulse/internal/stream"
	"github.com/gyaneshwarpardhi/civicpulse/internal/zone"
)

func main() {
	if err := run(); err != nil {
		slog.Error("civicpulse exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath, addr string
	flagSet := pflag.NewFlagSet("civicpulse", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "configs/civicpulse.yaml", "path to YAML config (empty for defaults plus environment)")
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	if lvl, err := cfg.Log.SlogLevel(); err == nil {
		level.Set(lvl)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Event store ──────────────────────────────────────────────────────────
	events, err := store.OpenFileStore(cfg.Store.Dir, store.Options{
		Retention:     cfg.Store.Retention,
		SweepInterval: cfg.Store.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()
	go events.RunSweeper(ctx, cfg.Store.SweepInterval)

	// ── Watch zones ──────────────────────────────────────────────────────────
	zones, err := zone.OpenSQLite(cfg.Zones.Path)
	if err != nil {
		return fmt.Errorf("open zone db: %w", err)
	}
	defer zones.Close()

	// ── Matching and dispatch ────────────────────────────────────────────────
	producer := broadcast.NewProducer(events, logger)
	disp := dispatch.New(ctx, matcher.New(zones, producer, logger), producer, dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueDepth: cfg.Dispatch.QueueDepth,
		Timeout:    cfg.Dispatch.Timeout,
	}, logger)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(c *config.Config) {
		if lvl, err := c.Log.SlogLevel(); err == nil {
			level.Set(lvl)
		}
		events.SetRetention(c.Store.Retention)
		slog.Info("config hot-reloaded",
			"log_level", c.Log.Level,
			"retention", c.Store.Retention,
			"heartbeat_interval", c.Stream.HeartbeatInterval,
		)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	streams, closeStreams := context.WithCancel(ctx)
	defer closeStreams()
	handler := api.New(api.Deps{
		Incidents: disp,
		Zones:     zones,
		Events:    events,
		StreamConfig: func() stream.Config {
			s := loader.Config().Stream
			return stream.Config{
				PollInterval:      s.PollInterval,
				HeartbeatInterval: s.HeartbeatInterval,
				MaxLifetime:       s.MaxLifetime,
			}
		},
		Streams: streams,
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr, "store_dir", cfg.Store.Dir, "zones_db", cfg.Zones.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down…")

	// Streams end first so Shutdown does not wait on them. In-flight
	// incidents still reach a running dispatcher, which drains once the
	// server stops accepting requests.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	closeStreams()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
	}
	disp.Shutdown()
	cancel()
	slog.Info("goodbye")
	return nil
}
