// Package server exposes the reduction engine, spatial index, and
// streaming buffer over HTTP for the presentation layer. It decodes
// incoming messages and hands them to the core; all chart semantics
// live in the core packages.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tinyviz/tinyviz/pkg/config"
	"github.com/tinyviz/tinyviz/pkg/httpx"
	"github.com/tinyviz/tinyviz/pkg/lod"
	"github.com/tinyviz/tinyviz/pkg/sampling"
	"github.com/tinyviz/tinyviz/pkg/series"
	"github.com/tinyviz/tinyviz/pkg/spatial"
	"github.com/tinyviz/tinyviz/pkg/stream"
)

// Handler serves the chart-data API.
type Handler struct {
	engine *lod.Engine[series.Point]
	buffer *stream.Buffer[series.Point]

	gridSize int

	mu          sync.RWMutex
	grid        *spatial.Grid[series.Point]
	fingerprint uint64
}

// NewHandler creates a handler around the given core components.
func NewHandler(engine *lod.Engine[series.Point], buffer *stream.Buffer[series.Point], gridSize int) *Handler {
	if gridSize <= 0 {
		gridSize = config.DefaultGridSize
	}
	return &Handler{
		engine:   engine,
		buffer:   buffer,
		gridSize: gridSize,
	}
}

// DataRequest is the payload for replacing the dataset.
type DataRequest struct {
	Points []series.Point `json:"points"`
}

// DataResponse acknowledges a dataset replace.
type DataResponse struct {
	Status      string `json:"status"`
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

// HandleSetData replaces the raw series wholesale and kicks off a
// background rebuild of the spatial index over the new data.
func (h *Handler) HandleSetData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 256<<20))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	var req DataRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Points) > config.MaxPointsPerRequest {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("too many points in request (max %d)", config.MaxPointsPerRequest))
		return
	}

	h.engine.SetData(req.Points)

	// The fingerprint versions reduction responses for conditional
	// requests; hashing the raw payload is cheaper than re-encoding.
	fp := xxhash.Sum64(body)
	h.mu.Lock()
	h.fingerprint = fp
	h.mu.Unlock()

	h.rebuildIndex(req.Points)

	httpx.RespondJSON(w, http.StatusOK, DataResponse{
		Status:      "success",
		Count:       len(req.Points),
		Fingerprint: fmt.Sprintf("%016x", fp),
	})
}

// rebuildIndex discards the old spatial index and constructs a new one
// off the request goroutine. The unsealed grid is published first so
// nearest-point queries report "not ready" instead of blocking on, or
// observing, a partial build.
func (h *Handler) rebuildIndex(points []series.Point) {
	if len(points) == 0 {
		h.mu.Lock()
		h.grid = nil
		h.mu.Unlock()
		return
	}

	grid, err := spatial.New[series.Point](boundsOf(points), h.gridSize)
	if err != nil {
		log.Printf("Spatial index rebuild failed: %v", err)
		return
	}

	h.mu.Lock()
	h.grid = grid
	h.mu.Unlock()

	go func() {
		start := time.Now()
		for _, p := range points {
			grid.Insert(p, p.X, p.Y)
		}
		grid.Seal()
		log.Printf("Spatial index built: %d points in %v", len(points), time.Since(start).Round(time.Microsecond))
	}()
}

// boundsOf computes the bounding rectangle of a non-empty point set,
// padded so degenerate (flat or single-point) datasets still produce a
// valid grid.
func boundsOf(points []series.Point) spatial.Bounds {
	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	width := maxX - minX
	if width <= 0 {
		width = 1
	}
	height := maxY - minY
	if height <= 0 {
		height = 1
	}
	return spatial.Bounds{MinX: minX, MinY: minY, Width: width, Height: height}
}

// SeriesResponse carries a reduced series back to the caller.
type SeriesResponse struct {
	Points []series.Point `json:"points"`
	Count  int            `json:"count"`
}

// HandleOptimized serves a reduced view of the raw series. Responses
// carry an ETag derived from the dataset fingerprint, the resolved
// target, and the active strategy, so an unchanged representation
// answers conditional requests with 304.
func (h *Handler) HandleOptimized(w http.ResponseWriter, r *http.Request) {
	target := config.DefaultTargetPoints
	if raw := r.URL.Query().Get("points"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid points: %q", raw))
			return
		}
		target = parsed
	}
	if target > config.MaxTargetPoints {
		target = config.MaxTargetPoints
	}

	var rng *series.Range
	startRaw, endRaw := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if startRaw != "" || endRaw != "" {
		start, err := atoiDefault(startRaw, 0)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid start: %q", startRaw))
			return
		}
		end, err := atoiDefault(endRaw, h.engine.Len())
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid end: %q", endRaw))
			return
		}
		rng = &series.Range{Start: start, End: end}
	}

	h.mu.RLock()
	fp := h.fingerprint
	h.mu.RUnlock()

	// The validator covers everything the representation depends on:
	// the dataset, the resolved target, and the active strategy.
	strat := h.engine.Strategy()
	etag := fmt.Sprintf(`"%016x-%d-%s-%d-%g"`, fp, target, strat.Kind, strat.Buckets, strat.Threshold)
	if fp != 0 && rng == nil && r.Header.Get("If-None-Match") == etag {
		httpx.RespondNotModified(w, etag)
		return
	}

	points, err := h.engine.OptimizedData(rng, target)
	if err != nil {
		if errors.Is(err, sampling.ErrTargetTooSmall) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if fp != 0 && rng == nil {
		w.Header().Set("ETag", etag)
	}
	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{Points: points, Count: len(points)})
}

// HandleViewport reduces the series to at most one point per pixel for
// an x-range of the viewport.
func (h *Handler) HandleViewport(w http.ResponseWriter, r *http.Request) {
	minX, err := parseFloat(r, "min_x")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	maxX, err := parseFloat(r, "max_x")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	width, err := parseInt(r, "width")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	points, err := h.engine.ViewportData(minX, maxX, width, func(p series.Point) float64 { return p.X })
	if err != nil {
		if errors.Is(err, sampling.ErrTargetTooSmall) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{Points: points, Count: len(points)})
}

// HandleNearest answers radius queries against the full, un-reduced
// dataset.
func (h *Handler) HandleNearest(w http.ResponseWriter, r *http.Request) {
	x, err := parseFloat(r, "x")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	y, err := parseFloat(r, "y")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	radius, err := parseFloat(r, "radius")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	h.mu.RLock()
	grid := h.grid
	h.mu.RUnlock()

	if grid == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "spatial index not yet available")
		return
	}

	points, err := grid.Query(x, y, radius)
	if err != nil {
		if errors.Is(err, spatial.ErrNotReady) {
			httpx.RespondErrorString(w, http.StatusServiceUnavailable, "spatial index not yet available")
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{Points: points, Count: len(points)})
}

// PushRequest is the payload for live value ingestion.
type PushRequest struct {
	Values []series.Point `json:"values"`
}

// PushResponse acknowledges a push batch.
type PushResponse struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Pending int    `json:"pending"`
}

// HandlePush appends already-decoded live values to the streaming
// buffer. Values become visible in the window on the next flush tick.
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Values) > config.MaxPointsPerRequest {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("too many values in request (max %d)", config.MaxPointsPerRequest))
		return
	}

	for _, v := range req.Values {
		h.buffer.Push(v)
	}

	httpx.RespondJSON(w, http.StatusOK, PushResponse{
		Status:  "success",
		Count:   len(req.Values),
		Pending: h.buffer.Pending(),
	})
}

// WindowResponse carries the committed live window and its rate.
type WindowResponse struct {
	Points []series.Point `json:"points"`
	Count  int            `json:"count"`
	Rate   float64        `json:"rate"`
}

// HandleWindow returns the current live window and arrival rate.
func (h *Handler) HandleWindow(w http.ResponseWriter, r *http.Request) {
	window := h.buffer.Window()
	httpx.RespondJSON(w, http.StatusOK, WindowResponse{
		Points: window,
		Count:  len(window),
		Rate:   h.buffer.Rate(),
	})
}

// StrategyRequest selects the active sampling strategy.
type StrategyRequest struct {
	Kind      string  `json:"kind"`
	Buckets   int     `json:"buckets,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// HandleStrategy switches the reduction strategy; the LOD cache is
// rebuilt for the new one.
func (h *Handler) HandleStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	kind, err := sampling.ParseKind(req.Kind)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	h.engine.SetStrategy(sampling.Strategy{
		Kind:      kind,
		Buckets:   req.Buckets,
		Threshold: req.Threshold,
	})
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "success", "kind": string(kind)})
}

// HandleClear drops the live window and resets the engine.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.buffer.Clear()
	h.engine.Reset()

	h.mu.Lock()
	h.grid = nil
	h.fingerprint = 0
	h.mu.Unlock()

	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// StatsResponse is a point-in-time snapshot of the core's counters.
type StatsResponse struct {
	RawPoints    int         `json:"raw_points"`
	Strategy     string      `json:"strategy"`
	CachedLevels []int       `json:"cached_levels"`
	Metrics      lod.Metrics `json:"metrics"`
	WindowSize   int         `json:"window_size"`
	Rate         float64     `json:"rate"`
	Pending      int         `json:"pending"`
	IndexReady   bool        `json:"index_ready"`
	Fingerprint  string      `json:"fingerprint"`
}

// HandleStats reports reduction metrics, cache state, and live-window
// counters.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	grid := h.grid
	fp := h.fingerprint
	h.mu.RUnlock()

	httpx.RespondJSON(w, http.StatusOK, StatsResponse{
		RawPoints:    h.engine.Len(),
		Strategy:     string(h.engine.Strategy().Kind),
		CachedLevels: h.engine.CachedLevels(),
		Metrics:      h.engine.Metrics(),
		WindowSize:   len(h.buffer.Window()),
		Rate:         h.buffer.Rate(),
		Pending:      h.buffer.Pending(),
		IndexReady:   grid != nil && grid.Ready(),
		Fingerprint:  fmt.Sprintf("%016x", fp),
	})
}

// SeriesSnapshot returns a reduced view of the raw series for export.
func (h *Handler) SeriesSnapshot(targetPoints int) ([]series.Point, error) {
	if targetPoints <= 0 {
		targetPoints = config.DefaultTargetPoints
	}
	return h.engine.OptimizedData(nil, targetPoints)
}

// WindowSnapshot returns the committed live window and rate for export.
func (h *Handler) WindowSnapshot() ([]series.Point, float64) {
	return h.buffer.Window(), h.buffer.Rate()
}

// HandleHealth returns service health status.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(startTime).String(),
	})
}

var startTime = time.Now()

func parseFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %q: %v", name, err)
	}
	return v, nil
}

func parseInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %q: %v", name, err)
	}
	return v, nil
}

func atoiDefault(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
