// Package fetcher turns request parameters into a backend query and acquires
// the scene archive on local disk.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/core/observability"
	"github.com/geoviz/s2-visualizer/internal/openeo"
)

type Downloader interface {
	Download(ctx context.Context, g openeo.ProcessGraph, dst io.Writer) (int64, error)
}

type Option func(*Fetcher)

// WithProgress tees downloaded bytes into a fresh writer per download.
// Writers implementing io.Closer are closed when the download ends.
func WithProgress(fn func() io.Writer) Option {
	return func(f *Fetcher) { f.progress = fn }
}

type Fetcher struct {
	logger     *slog.Logger
	dl         Downloader
	dir        string
	collection string
	maxCloud   float64
	progress   func() io.Writer
}

func New(logger *slog.Logger, dl Downloader, dir, collection string, maxCloud float64, opts ...Option) *Fetcher {
	f := &Fetcher{
		logger:     logger,
		dl:         dl,
		dir:        dir,
		collection: collection,
		maxCloud:   maxCloud,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) Query(p model.RequestParameters) model.Query {
	return model.Query{
		Collection:    f.collection,
		BBox:          p.BBox,
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		Bands:         model.BandSet(),
		MaxCloudCover: f.maxCloud,
	}
}

// PathFor names the archive of one pipeline run.
func (f *Fetcher) PathFor(runID string) string {
	return filepath.Join(f.dir, "s2_"+runID+".nc")
}

// Fetch acquires the archive at path. An archive already present is reused
// and is never deleted by Release; a downloaded one always is.
func (f *Fetcher) Fetch(ctx context.Context, p model.RequestParameters, path string) (*Archive, error) {
	if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() && st.Size() > 0 {
		f.logger.InfoContext(ctx, "archive exists, skipping download", "path", path, "bytes", st.Size())
		observability.IncArchiveFetch(true)
		return &Archive{Path: path, Bytes: st.Size(), Reused: true}, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Filesystem(fmt.Errorf("stat archive %q: %w", path, err))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Filesystem(fmt.Errorf("create archive dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.part")
	if err != nil {
		return nil, apperr.Filesystem(fmt.Errorf("create temp archive: %w", err))
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op after a successful rename

	q := f.Query(p)
	te := q.TemporalExtent()
	f.logger.InfoContext(ctx, "downloading archive",
		"path", path,
		"bbox", q.BBox.String(),
		"temporal_extent", te[0]+"/"+te[1],
		"max_cloud_cover", q.MaxCloudCover)

	var dst io.Writer = tmp
	if f.progress != nil {
		pw := f.progress()
		dst = io.MultiWriter(tmp, pw)
		if c, ok := pw.(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
	}

	start := time.Now()
	n, err := f.dl.Download(ctx, openeo.LoadCollection(q, openeo.FormatNetCDF), dst)
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = apperr.Filesystem(fmt.Errorf("close temp archive: %w", cerr))
	}
	observability.AddArchiveBytes(n)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Fetch(err)
		}
		return nil, err
	}
	if n == 0 {
		return nil, apperr.NoData(errors.New("backend returned an empty archive"))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, apperr.Filesystem(fmt.Errorf("move archive into place: %w", err))
	}

	observability.IncArchiveFetch(false)
	f.logger.InfoContext(ctx, "archive downloaded",
		"path", path,
		"bytes", n,
		"duration", time.Since(start).String())
	return &Archive{Path: path, Bytes: n, owned: true}, nil
}
