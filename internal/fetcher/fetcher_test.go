package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/openeo"
)

type fakeDownloader struct {
	calls   int
	payload []byte
	err     error
	graph   openeo.ProcessGraph
}

func (d *fakeDownloader) Download(_ context.Context, g openeo.ProcessGraph, dst io.Writer) (int64, error) {
	d.calls++
	d.graph = g
	if d.err != nil {
		return 0, d.err
	}
	n, err := dst.Write(d.payload)
	return int64(n), err
}

func params() model.RequestParameters {
	return model.RequestParameters{
		BBox:      model.BBox{West: 0, South: 0, East: 1, North: 1},
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		ImageType: model.ImageNDVI,
	}
}

func newFetcher(t *testing.T, d Downloader, opts ...Option) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), d, dir, "SENTINEL2_L2A", 20, opts...), dir
}

func TestQuery_FixedBandSetAndCloudCover(t *testing.T) {
	f, _ := newFetcher(t, &fakeDownloader{})
	q := f.Query(params())
	if q.Collection != "SENTINEL2_L2A" || q.MaxCloudCover != 20 || len(q.Bands) != 6 || q.Bands[5] != model.BandSCL {
		t.Fatalf("query=%+v", q)
	}
}

func TestPathFor_UniquePerRun(t *testing.T) {
	f, dir := newFetcher(t, &fakeDownloader{})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := f.PathFor(model.NewRunID(now))
	b := f.PathFor(model.NewRunID(now))
	if a == b {
		t.Fatalf("same-second runs collided: %s", a)
	}
	if filepath.Dir(a) != dir || filepath.Ext(a) != ".nc" {
		t.Fatalf("path=%s", a)
	}
}

func TestFetch_DownloadsAndReleaseDeletes(t *testing.T) {
	d := &fakeDownloader{payload: []byte("CDF\x01data")}
	f, dir := newFetcher(t, d)
	path := f.PathFor("run1")

	arc, err := f.Fetch(context.Background(), params(), path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.calls != 1 || arc.Reused || !arc.Owned() || arc.Bytes != int64(len(d.payload)) {
		t.Fatalf("archive=%+v calls=%d", arc, d.calls)
	}
	if b, err := os.ReadFile(path); err != nil || !bytes.Equal(b, d.payload) {
		t.Fatalf("archive content=%q err=%v", b, err)
	}
	if d.graph["load1"].ProcessID != "load_collection" {
		t.Fatalf("graph=%+v", d.graph)
	}

	if err := arc.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("archive should be deleted, stat err=%v", err)
	}
	if err := arc.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	assertNoPartials(t, dir)
}

func TestFetch_ExistingArchiveSkipsDownloadAndIsKept(t *testing.T) {
	d := &fakeDownloader{payload: []byte("new")}
	f, _ := newFetcher(t, d)
	path := f.PathFor("run2")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	arc, err := f.Fetch(context.Background(), params(), path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.calls != 0 || !arc.Reused || arc.Owned() {
		t.Fatalf("archive=%+v calls=%d", arc, d.calls)
	}
	if err := arc.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("reused archive must survive Release: %v", err)
	}
}

func TestFetch_EmptyResultIsNoData(t *testing.T) {
	f, dir := newFetcher(t, &fakeDownloader{payload: nil})
	path := f.PathFor("run3")
	_, err := f.Fetch(context.Background(), params(), path)
	if !apperr.IsNoData(err) {
		t.Fatalf("err=%v want no-data", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no archive should be left behind")
	}
	assertNoPartials(t, dir)
}

func TestFetch_DownloadErrorsKeepKindAndCleanUp(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"auth", apperr.Auth(errors.New("401")), apperr.KindAuth},
		{"unclassified", errors.New("reset"), apperr.KindFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, dir := newFetcher(t, &fakeDownloader{err: tc.err})
			_, err := f.Fetch(context.Background(), params(), f.PathFor("x"))
			if apperr.KindOf(err) != tc.want {
				t.Fatalf("kind=%v err=%v", apperr.KindOf(err), err)
			}
			assertNoPartials(t, dir)
		})
	}
}

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closingBuffer) Close() error { c.closed = true; return nil }

func TestFetch_ProgressWriterSeesBytes(t *testing.T) {
	pb := &closingBuffer{}
	d := &fakeDownloader{payload: []byte("0123456789")}
	f, _ := newFetcher(t, d, WithProgress(func() io.Writer { return pb }))

	arc, err := f.Fetch(context.Background(), params(), f.PathFor("p"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer func() { _ = arc.Release() }()
	if pb.Len() != 10 || !pb.closed {
		t.Fatalf("progress saw %d bytes closed=%v", pb.Len(), pb.closed)
	}
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	m, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	if len(m) != 0 {
		t.Fatalf("leftover partial files: %v", m)
	}
}
