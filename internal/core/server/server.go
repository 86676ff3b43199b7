// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geoviz/s2-visualizer/internal/core/config"
	"github.com/geoviz/s2-visualizer/internal/core/health"
	middleware "github.com/geoviz/s2-visualizer/internal/core/middleware"
	"github.com/geoviz/s2-visualizer/internal/core/router"
)

type Deps struct {
	Page      router.PageRenderer
	Processor router.ProcessHandler
	Readiness health.ReadinessReporter
	Metrics   http.Handler
}

func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOriginList()))

	r.Get("/healthz", health.Liveness())
	if d.Readiness != nil {
		r.Get("/readyz", health.Readiness(d.Readiness))
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Get("/", router.HandleIndex(logger, d.Page))
	r.Post("/process", router.HandleProcess(logger, d.Page, d.Processor))

	prefix := cfg.OutputURLPrefix
	r.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(noListFS{http.Dir(cfg.OutputDir)})))
	return r
}

// noListFS serves files only; directories answer as not found so the output
// directory cannot be enumerated.
type noListFS struct {
	root http.FileSystem
}

func (n noListFS) Open(name string) (http.File, error) {
	f, err := n.root.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// writeTimeout covers the slot wait plus the whole fetch, derive and render
// run, with headroom for writing the page.
func writeTimeout(cfg config.Config) time.Duration {
	return cfg.QueueTimeout + cfg.FetchTimeout + cfg.DeriveTimeout + cfg.RenderTimeout + 30*time.Second
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
