// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

const (
	CRS        = "EPSG:4326"
	DateLayout = "2006-01-02"
	// MaxZoom is the deepest map zoom a request may carry and the page can show.
	MaxZoom = 22
)

type ImageType string

const (
	ImageRGB  ImageType = "rgb"
	ImageCIR  ImageType = "cir"
	ImageNDVI ImageType = "ndvi"
	ImageNDWI ImageType = "ndwi"
)

func ImageTypes() []ImageType {
	return []ImageType{ImageRGB, ImageCIR, ImageNDVI, ImageNDWI}
}

func ParseImageType(s string) (ImageType, bool) {
	t := ImageType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ImageTypes() {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// IsIndex reports whether the product is a single-band normalized difference
func (t ImageType) IsIndex() bool {
	return t == ImageNDVI || t == ImageNDWI
}

type Band string

const (
	BandRed   Band = "B04"
	BandGreen Band = "B03"
	BandBlue  Band = "B02"
	BandNIR   Band = "B08"
	BandSWIR  Band = "B11"
	BandSCL   Band = "SCL"
)

// BandSet is the fixed ordered band list requested from the backend.
func BandSet() []Band {
	return []Band{BandRed, BandGreen, BandBlue, BandNIR, BandSWIR, BandSCL}
}

type BBox struct {
	West, South float64
	East, North float64
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.West, b.South, b.East, b.North, CRS)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

func (b BBox) Center() orb.Point {
	return b.Bound().Center()
}

type RequestParameters struct {
	BBox      BBox
	StartDate time.Time
	EndDate   time.Time
	CenterLat float64
	CenterLng float64
	ZoomLevel int
	ImageType ImageType
}

// Query is what the data fetcher asks of the data-cube backend.
type Query struct {
	Collection    string
	BBox          BBox
	StartDate     time.Time
	EndDate       time.Time
	Bands         []Band
	MaxCloudCover float64
}

func (q Query) TemporalExtent() [2]string {
	return [2]string{q.StartDate.Format(DateLayout), q.EndDate.Format(DateLayout)}
}

// Result carries what the page needs to overlay the image at the same view state.
type Result struct {
	ImageType ImageType
	ImageURL  string
	ImagePath string
	BBox      BBox
	CenterLat float64
	CenterLng float64
	ZoomLevel int
	T0Date    string
}
