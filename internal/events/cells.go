package events

import (
	"errors"
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/geoviz/s2-visualizer/internal/core/model"
)

// maxCoverSpan bounds the bbox side, in degrees, that CoverCount will polyfill.
const maxCoverSpan = 2.0

var ErrCoverTooLarge = errors.New("bbox too large to cover")

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (valid: 0..15)", res)
	}
	return nil
}

// CenterCell is the H3 cell containing the bbox center.
func CenterCell(b model.BBox, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c := b.Center()
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat(), c.Lon()), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

// CoverCount is the number of cells whose centers fall inside the bbox.
func CoverCount(b model.BBox, res int) (int, error) {
	if err := validateRes(res); err != nil {
		return 0, err
	}
	if b.East-b.West > maxCoverSpan || b.North-b.South > maxCoverSpan {
		return 0, ErrCoverTooLarge
	}
	// v4 wants degrees
	poly := h3.GeoPolygon{
		GeoLoop: h3.GeoLoop{
			{Lat: b.South, Lng: b.West},
			{Lat: b.South, Lng: b.East},
			{Lat: b.North, Lng: b.East},
			{Lat: b.North, Lng: b.West},
		},
	}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return 0, fmt.Errorf("h3 polyfill: %w", err)
	}
	return len(cells), nil
}
