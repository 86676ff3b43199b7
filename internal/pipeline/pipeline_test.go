package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/events"
	"github.com/geoviz/s2-visualizer/internal/fetcher"
	"github.com/geoviz/s2-visualizer/internal/openeo"
	"github.com/geoviz/s2-visualizer/internal/product"
	"github.com/geoviz/s2-visualizer/internal/render"
	"github.com/geoviz/s2-visualizer/internal/scene"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeDownloader struct {
	calls int
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, _ openeo.ProcessGraph, dst io.Writer) (int64, error) {
	d.calls++
	if d.err != nil {
		return 0, d.err
	}
	n, err := dst.Write([]byte("CDF\x01 fake archive"))
	return int64(n), err
}

// fakeReader returns a 4x3 scene and records the path and bands it was
// asked for.
type fakeReader struct {
	err       error
	lastPath  string
	lastBands []model.Band
	sawFile   bool
}

func (r *fakeReader) Read(_ context.Context, path string, bands []model.Band) (*scene.Scene, error) {
	r.lastPath = path
	r.lastBands = bands
	_, statErr := os.Stat(path)
	r.sawFile = statErr == nil
	if r.err != nil {
		return nil, r.err
	}
	sc := scene.New(4, 3)
	sc.Times = []time.Time{time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)}
	for i, b := range model.BandSet() {
		for range 2 {
			g := scene.NewGrid(4, 3)
			for j := range g.Data {
				g.Data[j] = float64(100*(i+1) + j*10)
			}
			sc.Bands[b] = append(sc.Bands[b], g)
		}
	}
	return sc, nil
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, *product.Raster, string) (render.Output, error) {
	return render.Output{}, apperr.Render(errors.New("disk full"))
}

type recordingPublisher struct {
	mu  sync.Mutex
	evs []events.RenderEvent
}

func (p *recordingPublisher) Publish(ev events.RenderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	pipe       *Pipeline
	dl         *fakeDownloader
	reader     *fakeReader
	archiveDir string
	outDir     string
}

func newFixture(t *testing.T, rn ImageRenderer, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		dl:         &fakeDownloader{},
		reader:     &fakeReader{},
		archiveDir: t.TempDir(),
		outDir:     t.TempDir(),
	}
	fe := fetcher.New(discard(), f.dl, f.archiveDir, "SENTINEL2_L2A", 20)
	if rn == nil {
		rn = render.New(discard(), render.Options{Dir: f.outDir, URLPrefix: "/static/", ClipPercent: 2, Size: 8})
	}
	f.pipe = New(discard(), fe, f.reader, rn, Config{
		FetchTimeout:  time.Second,
		DeriveTimeout: time.Second,
		RenderTimeout: time.Second,
		MaxConcurrent: 2,
		CellRes:       7,
	}, opts...)
	return f
}

func params(kind model.ImageType) model.RequestParameters {
	return model.RequestParameters{
		BBox:      model.BBox{West: 139.70, South: 35.65, East: 139.80, North: 35.72},
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		CenterLat: 35.685,
		CenterLng: 139.75,
		ZoomLevel: 12,
		ImageType: kind,
	}
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var out []string
	for _, de := range des {
		out = append(out, de.Name())
	}
	return out
}

func TestProcess_RendersAndRemovesArchive(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.pipe.Process(context.Background(), params(model.ImageNDVI))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !f.reader.sawFile {
		t.Fatal("archive should exist while it is decoded")
	}
	if got := f.reader.lastBands; len(got) != 2 || got[0] != model.BandNIR || got[1] != model.BandRed {
		t.Fatalf("bands read=%v", got)
	}
	if left := entries(t, f.archiveDir); len(left) != 0 {
		t.Fatalf("archive dir should be empty, has %v", left)
	}
	if _, err := os.Stat(res.ImagePath); err != nil {
		t.Fatalf("image missing: %v", err)
	}
	if !strings.HasPrefix(res.ImageURL, "/static/ndvi_") || !strings.HasSuffix(res.ImageURL, ".png") {
		t.Fatalf("url=%q", res.ImageURL)
	}
	if res.T0Date != "2024-03-05T10:00:00Z" {
		t.Fatalf("t0=%q", res.T0Date)
	}
	if res.ZoomLevel != 12 || res.CenterLat != 35.685 || res.BBox.West != 139.70 {
		t.Fatalf("view state not carried: %+v", res)
	}
}

func TestProcess_RenderFailureStillRemovesArchive(t *testing.T) {
	f := newFixture(t, failingRenderer{})

	_, err := f.pipe.Process(context.Background(), params(model.ImageRGB))
	if apperr.KindOf(err) != apperr.KindRender {
		t.Fatalf("kind=%v err=%v", apperr.KindOf(err), err)
	}
	if left := entries(t, f.archiveDir); len(left) != 0 {
		t.Fatalf("archive dir should be empty after failure, has %v", left)
	}
}

func TestProcess_DecodeFailureIsDerivation(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.err = errors.New("not a netCDF file")

	_, err := f.pipe.Process(context.Background(), params(model.ImageCIR))
	if apperr.KindOf(err) != apperr.KindDerivation {
		t.Fatalf("kind=%v err=%v", apperr.KindOf(err), err)
	}
	if left := entries(t, f.archiveDir); len(left) != 0 {
		t.Fatalf("archive dir should be empty after failure, has %v", left)
	}
	if left := entries(t, f.outDir); len(left) != 0 {
		t.Fatalf("no image expected, got %v", left)
	}
}

func TestProcess_FetchFailureSkipsLaterStages(t *testing.T) {
	f := newFixture(t, nil)
	f.dl.err = apperr.NoData(errors.New("NoDataAvailable"))

	_, err := f.pipe.Process(context.Background(), params(model.ImageNDWI))
	if !apperr.IsNoData(err) {
		t.Fatalf("err=%v want no data", err)
	}
	if f.reader.lastPath != "" {
		t.Fatal("reader should not run after a failed fetch")
	}
}

func TestProcess_SameSecondRunsGetDistinctNames(t *testing.T) {
	fixed := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, WithClock(func() time.Time { return fixed }))

	a, err := f.pipe.Process(context.Background(), params(model.ImageRGB))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := f.pipe.Process(context.Background(), params(model.ImageRGB))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if a.ImagePath == b.ImagePath {
		t.Fatalf("runs in the same second share %q", a.ImagePath)
	}
	if len(entries(t, f.outDir)) != 2 {
		t.Fatalf("want two images, have %v", entries(t, f.outDir))
	}
}

func TestProcess_ArchivePathReusedAndKept(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "scene.nc")
	if err := os.WriteFile(arc, []byte("CDF\x01 existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil, WithArchivePath(arc))

	if _, err := f.pipe.Process(context.Background(), params(model.ImageRGB)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.dl.calls != 0 {
		t.Fatalf("download calls=%d, want 0", f.dl.calls)
	}
	if f.reader.lastPath != arc {
		t.Fatalf("read %q want %q", f.reader.lastPath, arc)
	}
	if _, err := os.Stat(arc); err != nil {
		t.Fatalf("pre-existing archive should be kept: %v", err)
	}
}

func TestProcess_PublishesRenderEvent(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, nil, WithEvents(pub))

	res, err := f.pipe.Process(context.Background(), params(model.ImageNDVI))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pub.evs) != 1 {
		t.Fatalf("events=%d want 1", len(pub.evs))
	}
	ev := pub.evs[0]
	if ev.Product != "ndvi" || ev.ImageURL != res.ImageURL || ev.Cell == "" || ev.CellRes != 7 {
		t.Fatalf("event=%+v", ev)
	}
	if ev.BBox != [4]float64{139.70, 35.65, 139.80, 35.72} {
		t.Fatalf("bbox=%v", ev.BBox)
	}
}

func TestProcess_CancelledWhileWaitingForSlot(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.pipe.sem.Acquire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	defer f.pipe.sem.Release(2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.pipe.Process(ctx, params(model.ImageRGB))
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if f.dl.calls != 0 {
		t.Fatal("no download should start without a slot")
	}
}

func TestProcess_QueueTimeoutIsBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.pipe.cfg.QueueTimeout = 20 * time.Millisecond
	if err := f.pipe.sem.Acquire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	defer f.pipe.sem.Release(2)

	start := time.Now()
	_, err := f.pipe.Process(context.Background(), params(model.ImageRGB))
	if apperr.KindOf(err) != apperr.KindBusy {
		t.Fatalf("kind=%v want busy (err=%v)", apperr.KindOf(err), err)
	}
	if got := apperr.HTTPStatus(err); got != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", got)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("waited %v for a slot, queue timeout not applied", waited)
	}
	if f.dl.calls != 0 {
		t.Fatal("no download should start without a slot")
	}
}
