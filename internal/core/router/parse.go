package router

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/web"
)

const maxFormBytes = 64 << 10

var errMissing = errors.New("missing required field")

// ParseProcessForm reads the POSTed form into typed parameters. Every
// failure is a validation error naming the offending field.
func ParseProcessForm(r *http.Request) (model.RequestParameters, error) {
	if err := r.ParseForm(); err != nil {
		return model.RequestParameters{}, apperr.Validation("form", fmt.Errorf("parse form: %w", err))
	}
	return ParseValues(r.PostForm)
}

// ParseValues parses and validates the process fields in v.
func ParseValues(v url.Values) (model.RequestParameters, error) {
	f := formReader{v: v}

	west := f.float("west")
	south := f.float("south")
	east := f.float("east")
	north := f.float("north")
	imageType := f.imageType("image_type")
	startDate := f.date("start_date")
	endDate := f.date("end_date")
	centerLat := f.float("center_lat")
	centerLng := f.float("center_lng")
	zoom := f.int("zoom_level")
	if f.err != nil {
		return model.RequestParameters{}, f.err
	}

	p := model.RequestParameters{
		BBox:      model.BBox{West: west, South: south, East: east, North: north},
		StartDate: startDate,
		EndDate:   endDate,
		CenterLat: centerLat,
		CenterLng: centerLng,
		ZoomLevel: zoom,
		ImageType: imageType,
	}
	if err := validate(p); err != nil {
		return model.RequestParameters{}, err
	}
	return p, nil
}

func validate(p model.RequestParameters) error {
	b := p.BBox
	for _, c := range []struct {
		field string
		v     float64
		limit float64
	}{
		{"west", b.West, 180}, {"east", b.East, 180},
		{"south", b.South, 90}, {"north", b.North, 90},
		{"center_lng", p.CenterLng, 180}, {"center_lat", p.CenterLat, 90},
	} {
		if c.v < -c.limit || c.v > c.limit {
			return apperr.Validation(c.field, fmt.Errorf("%g outside [-%g,%g]", c.v, c.limit, c.limit))
		}
	}
	if b.West >= b.East {
		return apperr.Validation("east", fmt.Errorf("east (%g) must be greater than west (%g)", b.East, b.West))
	}
	if b.South >= b.North {
		return apperr.Validation("north", fmt.Errorf("north (%g) must be greater than south (%g)", b.North, b.South))
	}
	if p.EndDate.Before(p.StartDate) {
		return apperr.Validation("end_date", fmt.Errorf("end_date %s is before start_date %s",
			p.EndDate.Format(model.DateLayout), p.StartDate.Format(model.DateLayout)))
	}
	if p.ZoomLevel < 0 || p.ZoomLevel > model.MaxZoom {
		return apperr.Validation("zoom_level", fmt.Errorf("%d outside [0,%d]", p.ZoomLevel, model.MaxZoom))
	}
	return nil
}

// formReader keeps the first error so fields can be read in declaration order.
type formReader struct {
	v   url.Values
	err error
}

func (f *formReader) value(field string) (string, bool) {
	if f.err != nil {
		return "", false
	}
	v := strings.TrimSpace(f.v.Get(field))
	if v == "" {
		f.err = apperr.Validation(field, errMissing)
		return "", false
	}
	return v, true
}

func (f *formReader) float(field string) float64 {
	v, ok := f.value(field)
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f.err = apperr.Validation(field, fmt.Errorf("parse float %q: %w", v, err))
		return 0
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		f.err = apperr.Validation(field, fmt.Errorf("%q is not a finite number", v))
		return 0
	}
	return n
}

func (f *formReader) int(field string) int {
	v, ok := f.value(field)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f.err = apperr.Validation(field, fmt.Errorf("parse integer %q: %w", v, err))
		return 0
	}
	return n
}

func (f *formReader) date(field string) time.Time {
	v, ok := f.value(field)
	if !ok {
		return time.Time{}
	}
	d, err := time.Parse(model.DateLayout, v)
	if err != nil {
		f.err = apperr.Validation(field, fmt.Errorf("expected YYYY-MM-DD, got %q", v))
		return time.Time{}
	}
	return d
}

func (f *formReader) imageType(field string) model.ImageType {
	v, ok := f.value(field)
	if !ok {
		return ""
	}
	t, known := model.ParseImageType(v)
	if !known {
		f.err = apperr.Validation(field, fmt.Errorf("unknown image type %q (want one of %v)", v, model.ImageTypes()))
		return ""
	}
	return t
}

// echoForm returns the raw submitted values so the page can redisplay them.
func echoForm(r *http.Request) web.Form {
	get := func(k string) string { return strings.TrimSpace(r.PostForm.Get(k)) }
	return web.Form{
		West: get("west"), South: get("south"), East: get("east"), North: get("north"),
		StartDate: get("start_date"), EndDate: get("end_date"),
		CenterLat: get("center_lat"), CenterLng: get("center_lng"),
		ZoomLevel: get("zoom_level"),
		ImageType: get("image_type"),
	}
}
