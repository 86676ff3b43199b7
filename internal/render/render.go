// Package render turns derived rasters into PNG files: stretched composites
// with a title, or colormapped indices with a colorbar.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/product"
)

const (
	// indices are always drawn on a fixed scale
	indexMin = -1.0
	indexMax = 1.0

	titleHeight   = 28
	colorbarGap   = 12
	colorbarWidth = 18
	colorbarLabel = 44
)

type Options struct {
	Dir         string
	URLPrefix   string
	ClipPercent float64
	// Size is the target length of the longer image side in pixels. Rasters
	// are upscaled by an integer factor and never downscaled.
	Size int
}

type Output struct {
	Path string
	URL  string
}

type Renderer struct {
	logger *slog.Logger
	opts   Options
}

func New(logger *slog.Logger, opts Options) *Renderer {
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/static/"
	}
	if !strings.HasSuffix(opts.URLPrefix, "/") {
		opts.URLPrefix += "/"
	}
	return &Renderer{logger: logger, opts: opts}
}

// FileName is the output name of one run: "<product>_<runID>.png".
func FileName(kind model.ImageType, runID string) string {
	return fmt.Sprintf("%s_%s.png", kind, runID)
}

func (r *Renderer) Render(ctx context.Context, ras *product.Raster, runID string) (Output, error) {
	if ras == nil || ras.Width <= 0 || ras.Height <= 0 || len(ras.Channels) == 0 {
		return Output{}, apperr.Render(errors.New("empty raster"))
	}

	var (
		dc  *gg.Context
		err error
	)
	if ras.Kind.IsIndex() {
		dc, err = r.indexImage(ras)
	} else {
		dc, err = r.compositeImage(ras)
	}
	if err != nil {
		return Output{}, apperr.Render(err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, apperr.Render(err)
	}

	name := FileName(ras.Kind, runID)
	path := filepath.Join(r.opts.Dir, name)
	if err := writePNG(dc, path); err != nil {
		return Output{}, apperr.Render(err)
	}
	r.logger.DebugContext(ctx, "image rendered",
		"path", path,
		"width", dc.Width(),
		"height", dc.Height())
	return Output{Path: path, URL: r.opts.URLPrefix + name}, nil
}

// Missing pixels stay transparent; only the decoration area is painted.
func (r *Renderer) compositeImage(ras *product.Raster) (*gg.Context, error) {
	if len(ras.Channels) != 3 {
		return nil, fmt.Errorf("%s composite needs 3 channels, got %d", ras.Kind, len(ras.Channels))
	}
	stretched := make([][]float64, 3)
	for i, ch := range ras.Channels {
		if len(ch) != ras.Width*ras.Height {
			return nil, fmt.Errorf("channel %d has %d samples, want %d", i, len(ch), ras.Width*ras.Height)
		}
		stretched[i] = Stretch(ch, r.opts.ClipPercent)
	}

	src := image.NewNRGBA(image.Rect(0, 0, ras.Width, ras.Height))
	for i := range ras.Width * ras.Height {
		rv, gv, bv := stretched[0][i], stretched[1][i], stretched[2][i]
		if math.IsNaN(rv) || math.IsNaN(gv) || math.IsNaN(bv) {
			continue
		}
		src.SetNRGBA(i%ras.Width, i/ras.Width, color.NRGBA{R: to8(rv), G: to8(gv), B: to8(bv), A: 255})
	}
	body := r.upscale(src)

	w, h := body.Bounds().Dx(), body.Bounds().Dy()
	dc := gg.NewContext(w, h+titleHeight)
	dc.SetColor(color.White)
	dc.DrawRectangle(0, 0, float64(w), titleHeight)
	dc.Fill()
	dc.DrawImage(body, 0, titleHeight)
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(Title(ras.Kind), float64(w)/2, titleHeight/2, 0.5, 0.5)
	return dc, nil
}

// Title labels composite images.
func Title(kind model.ImageType) string {
	return strings.ToUpper(string(kind)) + " Image with Stretch Applied"
}

func (r *Renderer) indexImage(ras *product.Raster) (*gg.Context, error) {
	ch := ras.Channels[0]
	if len(ch) != ras.Width*ras.Height {
		return nil, fmt.Errorf("index has %d samples, want %d", len(ch), ras.Width*ras.Height)
	}
	cm := ColormapFor(ras.Kind)

	src := image.NewNRGBA(image.Rect(0, 0, ras.Width, ras.Height))
	for i, v := range ch {
		src.SetNRGBA(i%ras.Width, i/ras.Width, cm.Scaled(v, indexMin, indexMax))
	}
	body := r.upscale(src)

	w, h := body.Bounds().Dx(), body.Bounds().Dy()
	dc := gg.NewContext(w+colorbarGap+colorbarWidth+colorbarLabel, h)
	dc.SetColor(color.White)
	dc.DrawRectangle(float64(w), 0, float64(dc.Width()-w), float64(h))
	dc.Fill()
	dc.DrawImage(body, 0, 0)
	drawColorbar(dc, cm, float64(w+colorbarGap), float64(h))
	return dc, nil
}

// ColormapFor picks the index palette: diverging for vegetation, sequential
// blue for water.
func ColormapFor(kind model.ImageType) Colormap {
	if kind == model.ImageNDWI {
		return Blues
	}
	return RdYlGn
}

func drawColorbar(dc *gg.Context, cm Colormap, x, h float64) {
	const pad = 6.0
	top, bottom := pad, h-pad
	span := bottom - top
	for y := top; y < bottom; y++ {
		t := 1 - (y-top)/span
		dc.SetColor(cm.At(t))
		dc.DrawRectangle(x, y, colorbarWidth, 1)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x, top, colorbarWidth, span)
	dc.Stroke()

	for _, tick := range []float64{-1, -0.5, 0, 0.5, 1} {
		y := bottom - (tick-indexMin)/(indexMax-indexMin)*span
		dc.DrawLine(x+colorbarWidth, y, x+colorbarWidth+4, y)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%.1f", tick), x+colorbarWidth+7, y, 0, 0.5)
	}
}

// upscale enlarges small rasters by the largest integer factor that keeps
// the longer side within Size.
func (r *Renderer) upscale(src *image.NRGBA) image.Image {
	b := src.Bounds()
	longest := max(b.Dx(), b.Dy())
	if r.opts.Size <= 0 || longest >= r.opts.Size {
		return src
	}
	f := r.opts.Size / longest
	if f <= 1 {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx()*f, b.Dy()*f))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func writePNG(dc *gg.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := dc.EncodePNG(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("move image into place: %w", err)
	}
	return nil
}
