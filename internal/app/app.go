// Package app assembles the processing stack from configuration. The web
// server and the command line renderer share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/geoviz/s2-visualizer/internal/core/config"
	"github.com/geoviz/s2-visualizer/internal/core/httpclient"
	"github.com/geoviz/s2-visualizer/internal/events"
	"github.com/geoviz/s2-visualizer/internal/fetcher"
	"github.com/geoviz/s2-visualizer/internal/openeo"
	"github.com/geoviz/s2-visualizer/internal/pipeline"
	"github.com/geoviz/s2-visualizer/internal/render"
	"github.com/geoviz/s2-visualizer/internal/scene"
	"github.com/geoviz/s2-visualizer/internal/scene/gdalreader"
	"github.com/geoviz/s2-visualizer/internal/tokenstore"
)

type App struct {
	Client   *openeo.Client
	Pipeline *pipeline.Pipeline

	closers []func() error
}

type buildOpts struct {
	progress    func() io.Writer
	archivePath string
	noEvents    bool
	httpClient  *http.Client
	reader      scene.Reader
}

type Option func(*buildOpts)

// WithProgress reports archive download progress to a writer per download.
func WithProgress(fn func() io.Writer) Option {
	return func(o *buildOpts) { o.progress = fn }
}

// WithArchivePath pins the archive location; see pipeline.WithArchivePath.
func WithArchivePath(path string) Option {
	return func(o *buildOpts) { o.archivePath = path }
}

// WithoutEvents disables render event publishing regardless of config.
func WithoutEvents() Option {
	return func(o *buildOpts) { o.noEvents = true }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *buildOpts) { o.httpClient = c }
}

func WithSceneReader(r scene.Reader) Option {
	return func(o *buildOpts) { o.reader = r }
}

// Build connects to the backend and wires the pipeline. It fails when the
// backend cannot be reached or rejects the credentials.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	bo := buildOpts{}
	for _, o := range opts {
		o(&bo)
	}
	if bo.httpClient == nil {
		bo.httpClient = httpclient.NewOutbound(0)
	}
	if cfg.OpenEO.ClientID == "" || cfg.OpenEO.ClientSecret == "" {
		return nil, errors.New("OPENEO_CLIENT_ID and OPENEO_CLIENT_SECRET are required")
	}

	a := &App{}
	store, err := newTokenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.OpenEO.ClientID,
		ClientSecret: cfg.OpenEO.ClientSecret,
		TokenURL:     cfg.OpenEO.TokenURL,
	}
	creds := tokenstore.NewSource(logger, store,
		tokenstore.Key(cfg.OpenEO.ClientID, cfg.OpenEO.TokenURL),
		tokenFetcher{cfg: cc, client: bo.httpClient},
		cfg.TokenOpTimeout)

	client, err := openeo.New(logger, bo.httpClient, cfg.OpenEO.URL, cfg.OpenEO.Provider, creds)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("connect to openeo: %w", err)
	}
	a.Client = client

	var fopts []fetcher.Option
	if bo.progress != nil {
		fopts = append(fopts, fetcher.WithProgress(bo.progress))
	}
	fe := fetcher.New(logger, client, cfg.ArchiveDir, cfg.OpenEO.Collection, cfg.MaxCloudCover, fopts...)

	reader := bo.reader
	if reader == nil {
		reader = gdalreader.New(logger)
	}
	rn := render.New(logger, render.Options{
		Dir:         cfg.OutputDir,
		URLPrefix:   cfg.OutputURLPrefix,
		ClipPercent: cfg.StretchClip,
		Size:        cfg.RenderSize,
	})

	popts := []pipeline.Option{}
	if bo.archivePath != "" {
		popts = append(popts, pipeline.WithArchivePath(bo.archivePath))
	}
	if cfg.Events.Enabled && !bo.noEvents {
		pub, err := events.NewKafka(logger, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, boundedClose(pub, publisherCloseTimeout))
		popts = append(popts, pipeline.WithEvents(pub))
		logger.Info("render events enabled", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}

	a.Pipeline = pipeline.New(logger, fe, reader, rn, pipeline.Config{
		QueueTimeout:  cfg.QueueTimeout,
		FetchTimeout:  cfg.FetchTimeout,
		DeriveTimeout: cfg.DeriveTimeout,
		RenderTimeout: cfg.RenderTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
		CellRes:       cfg.Events.H3Res,
	}, popts...)
	return a, nil
}

// Close releases the token store and flushes pending events, last opened
// first.
// publisherCloseTimeout caps how long shutdown waits for queued render
// events to reach the brokers.
const publisherCloseTimeout = 10 * time.Second

func boundedClose(pub events.Publisher, d time.Duration) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		return events.CloseWithContext(ctx, pub)
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newTokenStore(ctx context.Context, cfg config.Config) (tokenstore.Store, error) {
	switch cfg.TokenStore {
	case "", "memory":
		return tokenstore.NewMemory(16), nil
	case "redis":
		s, err := tokenstore.NewRedis(ctx, cfg.RedisAddr,
			tokenstore.WithReadTimeout(cfg.TokenOpTimeout),
			tokenstore.WithWriteTimeout(cfg.TokenOpTimeout))
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown TOKEN_STORE %q (memory|redis)", cfg.TokenStore)
	}
}

// tokenFetcher runs the client credentials exchange over the outbound client.
type tokenFetcher struct {
	cfg    *clientcredentials.Config
	client *http.Client
}

func (f tokenFetcher) Token(ctx context.Context) (*oauth2.Token, error) {
	return f.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, f.client))
}
