// Package gdalreader decodes netCDF scene archives through GDAL's netCDF
// driver. Each variable (B04, B08, ...) is opened as a subdataset whose GDAL
// bands are the time steps of the cube.
package gdalreader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/godal"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/scene"
)

const timeDim = "t"

var registerOnce sync.Once

type Reader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reader {
	registerOnce.Do(godal.RegisterAll)
	return &Reader{logger: logger}
}

func subdataset(path string, b model.Band) string {
	return fmt.Sprintf("NETCDF:%q:%s", path, b)
}

func (r *Reader) Read(ctx context.Context, path string, bands []model.Band) (*scene.Scene, error) {
	var sc *scene.Scene
	for _, b := range bands {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Derivation(fmt.Errorf("read %s: %w", path, err))
		}
		steps, times, w, h, err := r.readVariable(path, b)
		if err != nil {
			return nil, apperr.Derivation(err)
		}
		if sc == nil {
			sc = scene.New(w, h)
			sc.Times = times
		} else if w != sc.Width || h != sc.Height {
			return nil, apperr.Derivation(fmt.Errorf("band %s is %dx%d, expected %dx%d", b, w, h, sc.Width, sc.Height))
		}
		sc.Bands[b] = steps
	}
	if sc == nil {
		return nil, apperr.Derivation(fmt.Errorf("no bands requested from %s", path))
	}
	r.logger.DebugContext(ctx, "scene decoded",
		"path", path,
		"width", sc.Width,
		"height", sc.Height,
		"time_steps", sc.NumTimes())
	return sc, nil
}

func (r *Reader) readVariable(path string, b model.Band) ([]scene.Grid, []time.Time, int, int, error) {
	name := subdataset(path, b)
	ds, err := godal.Open(name, godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
		if ec == godal.CE_Warning {
			r.logger.Debug("gdal warning", "code", code, "msg", msg)
			return nil
		}
		return fmt.Errorf("gdal error %d: %s", code, msg)
	}))
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = ds.Close() }()

	st := ds.Structure()
	w, h := st.SizeX, st.SizeY
	if w <= 0 || h <= 0 || st.NBands <= 0 {
		return nil, nil, 0, 0, fmt.Errorf("%s is empty (%dx%d, %d steps)", name, w, h, st.NBands)
	}

	units := ds.Metadata(timeDim + "#units")
	steps := make([]scene.Grid, 0, st.NBands)
	times := make([]time.Time, 0, st.NBands)
	for i, band := range ds.Bands() {
		g := scene.NewGrid(w, h)
		if err := band.Read(0, 0, g.Data, w, h); err != nil {
			return nil, nil, 0, 0, fmt.Errorf("read %s step %d: %w", name, i, err)
		}
		if nodata, ok := band.NoData(); ok {
			maskNoData(g.Data, nodata)
		}
		steps = append(steps, g)
		times = append(times, r.stepTime(units, band.Metadata("NETCDF_DIM_"+timeDim)))
	}
	return steps, times, w, h, nil
}

func (r *Reader) stepTime(units, raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if units == "" || raw == "" {
		return time.Time{}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.logger.Debug("unparseable time coordinate", "value", raw, "err", err)
		return time.Time{}
	}
	t, err := scene.ParseCFTime(units, v)
	if err != nil {
		r.logger.Debug("undecodable time coordinate", "units", units, "err", err)
		return time.Time{}
	}
	return t
}

func maskNoData(data []float64, nodata float64) {
	for i, v := range data {
		if v == nodata || (math.IsNaN(nodata) && math.IsNaN(v)) {
			data[i] = math.NaN()
		}
	}
}
