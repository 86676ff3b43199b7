// Package scene holds decoded archive contents: per-band raster grids for
// each time step of the requested data cube.
package scene

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/model"
)

// Reader decodes the named bands of an archive on disk.
type Reader interface {
	Read(ctx context.Context, path string, bands []model.Band) (*Scene, error)
}

// Grid is a row-major raster. Missing samples are NaN.
type Grid struct {
	Width, Height int
	Data          []float64
}

func NewGrid(w, h int) Grid {
	return Grid{Width: w, Height: h, Data: make([]float64, w*h)}
}

func (g Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

func (g Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// Valid counts the finite samples.
func (g Grid) Valid() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			n++
		}
	}
	return n
}

type Scene struct {
	Width, Height int
	// Times[i] is the acquisition time of step i; zero when the archive
	// carries no decodable time coordinate.
	Times []time.Time
	Bands map[model.Band][]Grid
}

func New(w, h int) *Scene {
	return &Scene{Width: w, Height: h, Bands: map[model.Band][]Grid{}}
}

func (s *Scene) NumTimes() int {
	n := len(s.Times)
	for _, steps := range s.Bands {
		n = max(n, len(steps))
	}
	return n
}

// Grid returns band b at time index t.
func (s *Scene) Grid(b model.Band, t int) (Grid, error) {
	steps, ok := s.Bands[b]
	if !ok {
		return Grid{}, fmt.Errorf("band %s not in scene", b)
	}
	if t < 0 || t >= len(steps) {
		return Grid{}, fmt.Errorf("band %s has %d time steps, want index %d", b, len(steps), t)
	}
	g := steps[t]
	if g.Width != s.Width || g.Height != s.Height || len(g.Data) != g.Width*g.Height {
		return Grid{}, fmt.Errorf("band %s step %d is %dx%d (%d samples), scene is %dx%d",
			b, t, g.Width, g.Height, len(g.Data), s.Width, s.Height)
	}
	return g, nil
}

func (s *Scene) Time(t int) time.Time {
	if t < 0 || t >= len(s.Times) {
		return time.Time{}
	}
	return s.Times[t]
}
