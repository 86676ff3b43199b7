// Package web holds the embedded form page.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/geoviz/s2-visualizer/internal/core/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Form echoes the submitted values back into the page, valid or not.
type Form struct {
	West, South, East, North string
	StartDate, EndDate       string
	CenterLat, CenterLng     string
	ZoomLevel                string
	ImageType                string
}

// DefaultForm is the initial view: central Tokyo in March 2024.
func DefaultForm() Form {
	return Form{
		West: "139.70", South: "35.65", East: "139.80", North: "35.72",
		StartDate: "2024-03-01", EndDate: "2024-03-31",
		CenterLat: "35.685", CenterLng: "139.75", ZoomLevel: "12",
		ImageType: string(model.ImageRGB),
	}
}

type Overlay struct {
	ImageURL  string
	ImageType string
	West      float64
	South     float64
	East      float64
	North     float64
	T0Date    string
}

type PageData struct {
	Form       Form
	Overlay    *Overlay
	Error      string
	ImageTypes []model.ImageType
	View       View
}

// View is the numeric map state handed to the page script. Unparseable form
// values fall back to the default view.
type View struct {
	Lat, Lng                 float64
	Zoom, MaxZoom            int
	West, South, East, North float64
}

func (f Form) View() View {
	def := DefaultForm()
	num := func(v, fallback string) float64 {
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
			return n
		}
		n, _ := strconv.ParseFloat(fallback, 64)
		return n
	}
	zoom, err := strconv.Atoi(strings.TrimSpace(f.ZoomLevel))
	if err != nil || zoom < 0 || zoom > model.MaxZoom {
		zoom, _ = strconv.Atoi(def.ZoomLevel)
	}
	return View{
		Lat:     num(f.CenterLat, def.CenterLat),
		Lng:     num(f.CenterLng, def.CenterLng),
		Zoom:    zoom,
		MaxZoom: model.MaxZoom,
		West:    num(f.West, def.West),
		South:   num(f.South, def.South),
		East:    num(f.East, def.East),
		North:   num(f.North, def.North),
	}
}

func NewOverlay(res model.Result) *Overlay {
	return &Overlay{
		ImageURL:  res.ImageURL,
		ImageType: string(res.ImageType),
		West:      res.BBox.West,
		South:     res.BBox.South,
		East:      res.BBox.East,
		North:     res.BBox.North,
		T0Date:    res.T0Date,
	}
}

type Page struct {
	tmpl *template.Template
}

func NewPage() (*Page, error) {
	tmpl, err := template.New("index.html").Funcs(template.FuncMap{
		"label": func(t model.ImageType) string { return strings.ToUpper(string(t)) },
	}).ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &Page{tmpl: tmpl}, nil
}

func (p *Page) Render(w io.Writer, d PageData) error {
	if d.ImageTypes == nil {
		d.ImageTypes = model.ImageTypes()
	}
	d.View = d.Form.View()
	if err := p.tmpl.Execute(w, d); err != nil {
		return fmt.Errorf("execute page template: %w", err)
	}
	return nil
}
