package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/subwatch/internal/api"
	"github.com/gyaneshwarpardhi/subwatch/internal/condition"
	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/dispatch"
	"github.com/gyaneshwarpardhi/subwatch/internal/engine"
	"github.com/gyaneshwarpardhi/subwatch/internal/store/sqlite"
	"github.com/gyaneshwarpardhi/subwatch/internal/template"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	env, err := config.ParseEnv()
	if err != nil {
		slog.Error("failed to read environment", "err", err)
		os.Exit(1)
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(env.ConfigPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	store, err := sqlite.Open(env.SQLiteDSN)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := dispatch.New(store, condition.NewExprEvaluator(), template.NewTokenRenderer(), logger)
	eng := engine.New(ctx, disp, &cfg.Dispatch, cfg.Engine, logger)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		eng.SwapConfig(&newCfg.Dispatch)
		slog.Info("dispatch config hot-reloaded")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(eng, loader, store)
	srv := &http.Server{
		Addr:         env.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", env.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop worker pool
	eng.Shutdown()
	slog.Info("goodbye")
}
