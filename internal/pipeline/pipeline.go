// Package pipeline runs one visualization request end to end: fetch the
// scene archive, derive the product at the first time step, render the PNG
// and release the archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/core/observability"
	"github.com/geoviz/s2-visualizer/internal/events"
	"github.com/geoviz/s2-visualizer/internal/fetcher"
	"github.com/geoviz/s2-visualizer/internal/logger"
	"github.com/geoviz/s2-visualizer/internal/product"
	"github.com/geoviz/s2-visualizer/internal/render"
	"github.com/geoviz/s2-visualizer/internal/scene"
)

type ArchiveFetcher interface {
	PathFor(runID string) string
	Fetch(ctx context.Context, p model.RequestParameters, path string) (*fetcher.Archive, error)
}

type ImageRenderer interface {
	Render(ctx context.Context, ras *product.Raster, runID string) (render.Output, error)
}

type Config struct {
	QueueTimeout  time.Duration
	FetchTimeout  time.Duration
	DeriveTimeout time.Duration
	RenderTimeout time.Duration
	MaxConcurrent int
	CellRes       int
}

type Option func(*Pipeline)

// WithArchivePath makes every run use path instead of a per-run archive
// name. An existing file there is reused and kept.
func WithArchivePath(path string) Option {
	return func(p *Pipeline) { p.archivePath = path }
}

func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.events = pub
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type Pipeline struct {
	logger      *slog.Logger
	fetch       ArchiveFetcher
	reader      scene.Reader
	renderer    ImageRenderer
	cfg         Config
	sem         *semaphore.Weighted
	events      events.Publisher
	archivePath string
	now         func() time.Time
}

func New(logger *slog.Logger, f ArchiveFetcher, rd scene.Reader, rn ImageRenderer, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	p := &Pipeline{
		logger:   logger,
		fetch:    f,
		reader:   rd,
		renderer: rn,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		events:   events.Nop{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs the pipeline. The archive acquired for the run is released
// on every return path, including failures after the download.
func (p *Pipeline) Process(ctx context.Context, params model.RequestParameters) (model.Result, error) {
	if err := p.acquire(ctx); err != nil {
		return model.Result{}, err
	}
	defer p.sem.Release(1)

	start := p.now()
	runID := model.NewRunID(start)
	kind := params.ImageType
	ctx = logger.WithProduct(ctx, string(kind))

	path := p.archivePath
	if path == "" {
		path = p.fetch.PathFor(runID)
	}
	arc, err := stage(ctx, "fetch", kind, p.cfg.FetchTimeout, func(ctx context.Context) (*fetcher.Archive, error) {
		return p.fetch.Fetch(ctx, params, path)
	})
	if err != nil {
		return model.Result{}, err
	}
	defer p.release(ctx, arc)

	ras, err := stage(ctx, "derive", kind, p.cfg.DeriveTimeout, func(ctx context.Context) (*product.Raster, error) {
		return p.derive(ctx, arc.Path, kind)
	})
	if err != nil {
		return model.Result{}, err
	}

	out, err := stage(ctx, "render", kind, p.cfg.RenderTimeout, func(ctx context.Context) (render.Output, error) {
		return p.renderer.Render(ctx, ras, runID)
	})
	if err != nil {
		return model.Result{}, err
	}

	took := p.now().Sub(start)
	observability.IncRender(string(kind))
	res := model.Result{
		ImageType: kind,
		ImageURL:  out.URL,
		ImagePath: out.Path,
		BBox:      params.BBox,
		CenterLat: params.CenterLat,
		CenterLng: params.CenterLng,
		ZoomLevel: params.ZoomLevel,
		T0Date:    ras.T0Label(),
	}
	p.logger.InfoContext(ctx, "image ready",
		"run_id", runID,
		"image", out.Path,
		"t0", res.T0Date,
		"archive_bytes", arc.Bytes,
		"archive_reused", arc.Reused,
		"duration", took.String())
	p.publish(ctx, res, took)
	return res, nil
}

func (p *Pipeline) derive(ctx context.Context, path string, kind model.ImageType) (*product.Raster, error) {
	bands, err := product.RequiredBands(kind)
	if err != nil {
		return nil, err
	}
	sc, err := p.reader.Read(ctx, path, bands)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Derivation(err)
		}
		return nil, err
	}
	return product.Derive(ctx, sc, kind)
}

func (p *Pipeline) release(ctx context.Context, arc *fetcher.Archive) {
	if !arc.Owned() {
		return
	}
	if err := arc.Release(); err != nil {
		observability.IncCleanupFailure()
		p.logger.ErrorContext(ctx, "archive cleanup failed", "path", arc.Path, "err", err)
		return
	}
	p.logger.DebugContext(ctx, "archive removed", "path", arc.Path)
}

func (p *Pipeline) publish(ctx context.Context, res model.Result, took time.Duration) {
	if _, off := p.events.(events.Nop); off {
		return
	}
	b := res.BBox
	ev := events.RenderEvent{
		RequestID:  logger.RequestID(ctx),
		Product:    string(res.ImageType),
		BBox:       [4]float64{b.West, b.South, b.East, b.North},
		CellRes:    p.cfg.CellRes,
		T0Date:     res.T0Date,
		ImageURL:   res.ImageURL,
		DurationMS: took.Milliseconds(),
		TS:         p.now().UTC(),
	}
	if cell, err := events.CenterCell(b, p.cfg.CellRes); err == nil {
		ev.Cell = cell
	} else {
		p.logger.DebugContext(ctx, "no h3 cell for render event", "err", err)
	}
	if n, err := events.CoverCount(b, p.cfg.CellRes); err == nil {
		ev.CoverCells = n
	}
	p.events.Publish(ev)
}

// stage runs fn under its own timeout and records the stage duration.
// acquire waits at most QueueTimeout for a free slot.
func (p *Pipeline) acquire(ctx context.Context) error {
	wait := ctx
	if p.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, p.cfg.QueueTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(wait, 1); err != nil {
		return apperr.Busy(fmt.Errorf("wait for pipeline slot: %w", err))
	}
	return nil
}

func stage[T any](ctx context.Context, name string, kind model.ImageType, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	v, err := fn(ctx)
	observability.ObserveStage(name, string(kind), time.Since(start).Seconds())
	return v, err
}
