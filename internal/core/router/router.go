package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/model"
	"github.com/geoviz/s2-visualizer/internal/core/observability"
	mylog "github.com/geoviz/s2-visualizer/internal/logger"
	"github.com/geoviz/s2-visualizer/internal/web"
)

// runs the fetch, derive and render pipeline for validated parameters
type ProcessHandler interface {
	Process(ctx context.Context, p model.RequestParameters) (model.Result, error)
}

// PageRenderer renders the form page.
type PageRenderer interface {
	Render(w io.Writer, d web.PageData) error
}

func HandleIndex(logger *slog.Logger, page PageRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		writePage(r.Context(), logger, sw, page, http.StatusOK, web.PageData{Form: web.DefaultForm()})
		observability.ObserveHTTP(r.Method, "/", sw.code, time.Since(start).Seconds())
	}
}

// validates the form, runs the pipeline and renders the page or JSON
func HandleProcess(logger *slog.Logger, page PageRenderer, h ProcessHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/process", sw.code, time.Since(start).Seconds())
		}()

		r.Body = http.MaxBytesReader(sw, r.Body, maxFormBytes)
		wantJSON := acceptsJSON(r)

		p, err := ParseProcessForm(r)
		form := echoForm(r)
		if err != nil {
			fail(r.Context(), logger, sw, page, wantJSON, form, err)
			return
		}

		ctx := mylog.WithProduct(r.Context(), string(p.ImageType))
		res, err := h.Process(ctx, p)
		if err != nil {
			fail(ctx, logger, sw, page, wantJSON, form, err)
			return
		}

		if wantJSON {
			writeJSON(ctx, logger, sw, http.StatusOK, newProcessResponse(res))
			return
		}
		writePage(ctx, logger, sw, page, http.StatusOK, web.PageData{Form: form, Overlay: web.NewOverlay(res)})
	}
}

func fail(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, page PageRenderer, wantJSON bool, form web.Form, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(err)
	observability.IncPipelineError(kind.String())

	lvl := slog.LevelError
	if kind == apperr.KindValidation || kind == apperr.KindBusy || apperr.IsNoData(err) {
		lvl = slog.LevelWarn
	}
	logger.Log(ctx, lvl, "process failed", "kind", kind.String(), "status", status, "err", err)

	msg := apperr.UserMessage(err)
	if wantJSON {
		writeJSON(ctx, logger, w, status, errorResponse{Kind: kind.String(), Field: apperr.FieldOf(err), Message: msg})
		return
	}
	writePage(ctx, logger, w, page, status, web.PageData{Form: form, Error: msg})
}

// renders into a buffer so a template failure can still produce a clean 500
func writePage(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, page PageRenderer, status int, d web.PageData) {
	var buf bytes.Buffer
	if err := page.Render(&buf, d); err != nil {
		logger.ErrorContext(ctx, "render page", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnContext(ctx, "encode json response", "err", err)
	}
}

func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

type processResponse struct {
	ImageType string           `json:"image_type"`
	ImageURL  string           `json:"image_url"`
	BBox      [4]float64       `json:"bbox"`
	Center    [2]float64       `json:"center"`
	ZoomLevel int              `json:"zoom_level"`
	T0Date    string           `json:"t0_date"`
	Footprint *geojson.Feature `json:"footprint"`
}

func newProcessResponse(res model.Result) processResponse {
	fp := geojson.NewFeature(res.BBox.Bound().ToPolygon())
	fp.Properties["image_type"] = string(res.ImageType)
	fp.Properties["t0_date"] = res.T0Date
	return processResponse{
		ImageType: string(res.ImageType),
		ImageURL:  res.ImageURL,
		BBox:      [4]float64{res.BBox.West, res.BBox.South, res.BBox.East, res.BBox.North},
		Center:    [2]float64{res.CenterLat, res.CenterLng},
		ZoomLevel: res.ZoomLevel,
		T0Date:    res.T0Date,
		Footprint: fp,
	}
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
