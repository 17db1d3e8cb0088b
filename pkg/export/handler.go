package export

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tinyviz/tinyviz/pkg/httpx"
	"github.com/tinyviz/tinyviz/pkg/sampling"
)

// Handler serves snapshot downloads.
type Handler struct {
	exporter *Exporter
}

// NewHandler creates an export handler over the given snapshot
// provider.
func NewHandler(core snapshotter) *Handler {
	return &Handler{exporter: New(core)}
}

// HandleExport handles GET /v1/export?format=json|csv&source=series|window[&points=N].
// The body is rendered to a buffer first so failures surface as JSON
// errors instead of truncated downloads.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	opts := Options{
		Source: Source(r.URL.Query().Get("source")),
		Format: r.URL.Query().Get("format"),
	}
	if raw := r.URL.Query().Get("points"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid points: %q", raw))
			return
		}
		opts.TargetPoints = parsed
	}

	var buf bytes.Buffer
	result, err := h.exporter.Export(&buf, opts)
	if err != nil {
		if errors.Is(err, ErrUnknownFormat) || errors.Is(err, ErrUnknownSource) || errors.Is(err, sampling.ErrTargetTooSmall) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("tinyviz-%s-%s.%s", result.Source, time.Now().Format("20060102-150405"), result.Format)
	contentType := "application/json"
	if result.Format == "csv" {
		contentType = "text/csv"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("Failed to write export body: %v", err)
	}
}
