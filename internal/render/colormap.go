package render

import (
	"fmt"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Colormap interpolates linearly in RGB between evenly spaced anchors.
type Colormap struct {
	Name    string
	anchors []colorful.Color
}

func newColormap(name string, hexes ...string) Colormap {
	cm := Colormap{Name: name, anchors: make([]colorful.Color, len(hexes))}
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("colormap %s: %v", name, err))
		}
		cm.anchors[i] = c
	}
	return cm
}

// ColorBrewer anchors.
var (
	RdYlGn = newColormap("RdYlGn",
		"#a50026", "#d73027", "#f46d43", "#fdae61", "#fee08b", "#ffffbf",
		"#d9ef8b", "#a6d96a", "#66bd63", "#1a9850", "#006837")
	Blues = newColormap("Blues",
		"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6",
		"#4292c6", "#2171b5", "#08519c", "#08306b")
)

// At maps t in [0,1] to a color. Out of range values clamp; NaN is transparent.
func (c Colormap) At(t float64) color.NRGBA {
	if math.IsNaN(t) {
		return color.NRGBA{}
	}
	t = clamp01(t)
	pos := t * float64(len(c.anchors)-1)
	i := int(math.Floor(pos))
	if i >= len(c.anchors)-1 {
		i = len(c.anchors) - 2
	}
	blended := c.anchors[i].BlendRgb(c.anchors[i+1], pos-float64(i))
	r, g, b := blended.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// Scaled maps v from [vmin,vmax] through the colormap.
func (c Colormap) Scaled(v, vmin, vmax float64) color.NRGBA {
	if math.IsNaN(v) {
		return color.NRGBA{}
	}
	return c.At((v - vmin) / (vmax - vmin))
}
