package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/geoviz/s2-visualizer/internal/app"
	"github.com/geoviz/s2-visualizer/internal/core/config"
	"github.com/geoviz/s2-visualizer/internal/core/server"
	"github.com/geoviz/s2-visualizer/internal/logger"
	"github.com/geoviz/s2-visualizer/internal/metrics"
	"github.com/geoviz/s2-visualizer/internal/render"
	"github.com/geoviz/s2-visualizer/internal/web"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// a missing file is fine; real environment variables win
	_ = godotenv.Load(*envFile)
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "s2-visualizer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting s2-visualizer",
		"addr", cfg.Addr,
		"version", Version,
		"openeo", cfg.OpenEO.URL,
		"collection", cfg.OpenEO.Collection,
		"token_store", cfg.TokenStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		appLog.Error("create output dir", "dir", cfg.OutputDir, "err", err)
		return 1
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.Build(connectCtx, cfg, appLog)
	cancel()
	if err != nil {
		appLog.Error("backend setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()

	page, err := web.NewPage()
	if err != nil {
		appLog.Error("parse page template", "err", err)
		return 1
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	deps := server.Deps{
		Page:      page,
		Processor: a.Pipeline,
		Readiness: a.Client,
	}
	if !cfg.Metrics.Enabled {
		deps.Metrics = prov.Handler()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg, appLog, deps)
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, prov, appLog)
		})
	}

	if cfg.OutputRetention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, cfg, appLog)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func serveMetrics(ctx context.Context, mc config.MetricsCfg, p *metrics.Provider, l *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, p.Handler())

	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("metrics shutdown", "err", err)
		}
	}()

	l.Info("metrics listen", "addr", mc.Addr, "path", mc.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pruneLoop removes rendered images older than the retention window.
func pruneLoop(ctx context.Context, cfg config.Config, l *slog.Logger) {
	every := min(cfg.OutputRetention, time.Hour)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := render.Prune(cfg.OutputDir, cfg.OutputRetention, now)
			if err != nil {
				l.Warn("prune output", "dir", cfg.OutputDir, "err", err)
				continue
			}
			if n > 0 {
				l.Info("pruned rendered images", "count", n)
			}
		}
	}
}
