package gdalreader

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/godal"

	"github.com/geoviz/s2-visualizer/internal/core/model"
)

func TestSubdatasetName(t *testing.T) {
	got := subdataset("/tmp/s2_x.nc", "B04")
	if got != `NETCDF:"/tmp/s2_x.nc":B04` {
		t.Fatalf("subdataset=%s", got)
	}
}

func TestMaskNoData(t *testing.T) {
	data := []float64{0, 5, -32768, 7}
	maskNoData(data, -32768)
	if !math.IsNaN(data[2]) || data[1] != 5 || data[0] != 0 {
		t.Fatalf("masked=%v", data)
	}
}

// netCDF classic (CDF-1) encoding constants.
const (
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C
	ncChar      = 2
	ncShort     = 3
	ncDouble    = 6
)

const fillValue = -32768

type ncAttr struct {
	name  string
	typ   int32
	value any // string for ncChar, int16 for ncShort
}

type ncVar struct {
	name  string
	dims  []int32
	attrs []ncAttr
	typ   int32
	data  any // []float64 or []int16
}

type cdfWriter struct{ buf bytes.Buffer }

func (w *cdfWriter) i32(v int32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }

func (w *cdfWriter) pad() {
	for w.buf.Len()%4 != 0 {
		w.buf.WriteByte(0)
	}
}

func (w *cdfWriter) name(s string) {
	w.i32(int32(len(s)))
	w.buf.WriteString(s)
	w.pad()
}

func (w *cdfWriter) attrs(as []ncAttr) {
	if len(as) == 0 {
		w.i32(0)
		w.i32(0)
		return
	}
	w.i32(ncAttribute)
	w.i32(int32(len(as)))
	for _, a := range as {
		w.name(a.name)
		w.i32(a.typ)
		switch v := a.value.(type) {
		case string:
			w.i32(int32(len(v)))
			w.buf.WriteString(v)
		case int16:
			w.i32(1)
			_ = binary.Write(&w.buf, binary.BigEndian, v)
		}
		w.pad()
	}
}

func dataSize(v ncVar) int32 {
	var n int32
	switch d := v.data.(type) {
	case []float64:
		n = int32(8 * len(d))
	case []int16:
		n = int32(2 * len(d))
	}
	return (n + 3) &^ 3
}

// writeCube encodes a small t/y/x cube with B04 and B08 as short variables.
// B04 step k pixel i holds 100*(k+1)+i and B08 holds 1000*(k+1)+i. Pixel 5
// of B04 step 0 is the fill value.
func writeCube(t *testing.T, path string) {
	t.Helper()
	const nt, ny, nx = 2, 3, 4
	b04 := make([]int16, nt*ny*nx)
	b08 := make([]int16, nt*ny*nx)
	for k := 0; k < nt; k++ {
		for i := 0; i < ny*nx; i++ {
			b04[k*ny*nx+i] = int16(100*(k+1) + i)
			b08[k*ny*nx+i] = int16(1000*(k+1) + i)
		}
	}
	b04[5] = fillValue

	dims := []struct {
		name string
		n    int32
	}{{"t", nt}, {"y", ny}, {"x", nx}}
	fill := []ncAttr{{"_FillValue", ncShort, int16(fillValue)}}
	vars := []ncVar{
		{"t", []int32{0}, []ncAttr{
			{"standard_name", ncChar, "time"},
			{"units", ncChar, "days since 1970-01-01"},
		}, ncDouble, []float64{19787, 19792}},
		{"y", []int32{1}, []ncAttr{
			{"standard_name", ncChar, "projection_y_coordinate"},
			{"units", ncChar, "m"},
		}, ncDouble, []float64{5000050, 5000030, 5000010}},
		{"x", []int32{2}, []ncAttr{
			{"standard_name", ncChar, "projection_x_coordinate"},
			{"units", ncChar, "m"},
		}, ncDouble, []float64{600010, 600030, 600050, 600070}},
		{"B04", []int32{0, 1, 2}, fill, ncShort, b04},
		{"B08", []int32{0, 1, 2}, fill, ncShort, b08},
	}

	// Offsets depend on the header length, so lay the header out once with
	// zero offsets to measure it.
	header := func(begins []int32) []byte {
		var w cdfWriter
		w.buf.WriteString("CDF\x01")
		w.i32(0)
		w.i32(ncDimension)
		w.i32(int32(len(dims)))
		for _, d := range dims {
			w.name(d.name)
			w.i32(d.n)
		}
		w.i32(0)
		w.i32(0)
		w.i32(ncVariable)
		w.i32(int32(len(vars)))
		for i, v := range vars {
			w.name(v.name)
			w.i32(int32(len(v.dims)))
			for _, id := range v.dims {
				w.i32(id)
			}
			w.attrs(v.attrs)
			w.i32(v.typ)
			w.i32(dataSize(v))
			w.i32(begins[i])
		}
		return w.buf.Bytes()
	}
	begins := make([]int32, len(vars))
	off := int32(len(header(begins)))
	for i, v := range vars {
		begins[i] = off
		off += dataSize(v)
	}

	out := cdfWriter{}
	out.buf.Write(header(begins))
	for _, v := range vars {
		_ = binary.Write(&out.buf, binary.BigEndian, v.data)
		out.pad()
	}
	if err := os.WriteFile(path, out.buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func inRange(t *testing.T, label string, data []float64, lo, hi float64) {
	t.Helper()
	for i, v := range data {
		if math.IsNaN(v) {
			continue
		}
		if v < lo || v >= hi {
			t.Fatalf("%s pixel %d=%v outside [%v,%v)", label, i, v, lo, hi)
		}
	}
}

func TestRead_NetCDFCube(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, ok := godal.RasterDriver("netCDF"); !ok {
		t.Skip("GDAL built without the netCDF driver")
	}
	path := filepath.Join(t.TempDir(), "cube.nc")
	writeCube(t, path)

	sc, err := r.Read(context.Background(), path, []model.Band{model.BandRed, model.BandNIR})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sc.Width != 4 || sc.Height != 3 {
		t.Fatalf("size=%dx%d want 4x3", sc.Width, sc.Height)
	}
	if sc.NumTimes() != 2 {
		t.Fatalf("time steps=%d want 2", sc.NumTimes())
	}

	red0, err := sc.Grid(model.BandRed, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Row order may be flipped by the driver, so check value ranges and
	// counts rather than positions.
	inRange(t, "B04 t0", red0.Data, 100, 112)
	if red0.Valid() != 11 {
		t.Fatalf("B04 t0 valid=%d want 11 (fill value not masked)", red0.Valid())
	}
	red1, err := sc.Grid(model.BandRed, 1)
	if err != nil {
		t.Fatal(err)
	}
	inRange(t, "B04 t1", red1.Data, 200, 212)
	if red1.Valid() != 12 {
		t.Fatalf("B04 t1 valid=%d want 12", red1.Valid())
	}
	nir0, err := sc.Grid(model.BandNIR, 0)
	if err != nil {
		t.Fatal(err)
	}
	inRange(t, "B08 t0", nir0.Data, 1000, 1012)

	want := []time.Time{
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	for i, w := range want {
		if got := sc.Time(i); !got.Equal(w) {
			t.Fatalf("Time(%d)=%v want %v", i, got, w)
		}
	}
}
