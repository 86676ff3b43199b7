// Package product derives display rasters from a decoded scene: band
// composites for rgb and cir, normalized-difference indices for ndvi and ndwi.
package product

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/scene"
)

// TimeIndex is the time step every product is derived from.
const TimeIndex = 0

// Raster is a derived product. Composites carry three channels in display
// order; indices carry one channel with values in [-1,1] or NaN.
type Raster struct {
	Kind     model.ImageType
	Width    int
	Height   int
	Channels [][]float64
	T0       time.Time
}

// T0Label is the first time step as shown to the user.
func (r *Raster) T0Label() string {
	if r.T0.IsZero() {
		return "unknown"
	}
	return r.T0.Format(time.RFC3339)
}

type recipe struct {
	bands []model.Band
	index bool
}

var recipes = map[model.ImageType]recipe{
	model.ImageRGB:  {bands: []model.Band{model.BandRed, model.BandGreen, model.BandBlue}},
	model.ImageCIR:  {bands: []model.Band{model.BandNIR, model.BandRed, model.BandGreen}},
	model.ImageNDVI: {bands: []model.Band{model.BandNIR, model.BandRed}, index: true},
	model.ImageNDWI: {bands: []model.Band{model.BandNIR, model.BandSWIR}, index: true},
}

// RequiredBands lists the bands t reads, in channel or operand order.
func RequiredBands(t model.ImageType) ([]model.Band, error) {
	r, ok := recipes[t]
	if !ok {
		return nil, apperr.Derivation(fmt.Errorf("unsupported image type %q", t))
	}
	return append([]model.Band(nil), r.bands...), nil
}

func Derive(ctx context.Context, sc *scene.Scene, t model.ImageType) (*Raster, error) {
	r, ok := recipes[t]
	if !ok {
		return nil, apperr.Derivation(fmt.Errorf("unsupported image type %q", t))
	}
	if sc == nil || sc.Width <= 0 || sc.Height <= 0 {
		return nil, apperr.Derivation(errors.New("empty scene"))
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Derivation(err)
	}

	grids := make([]scene.Grid, len(r.bands))
	for i, b := range r.bands {
		g, err := sc.Grid(b, TimeIndex)
		if err != nil {
			return nil, apperr.Derivation(err)
		}
		grids[i] = g
	}

	out := &Raster{Kind: t, Width: sc.Width, Height: sc.Height, T0: sc.Time(TimeIndex)}
	if r.index {
		out.Channels = [][]float64{NormalizedDifference(grids[0].Data, grids[1].Data)}
		return out, nil
	}
	out.Channels = make([][]float64, len(grids))
	for i, g := range grids {
		out.Channels[i] = append([]float64(nil), g.Data...)
	}
	return out, nil
}

// NormalizedDifference computes (a-b)/(a+b) per pixel. A zero denominator
// or a missing operand yields NaN.
func NormalizedDifference(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		sum := a[i] + b[i]
		if sum == 0 || math.IsNaN(sum) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (a[i] - b[i]) / sum
	}
	return out
}
