// Package export writes chart data snapshots (the reduced series or
// the live window) as JSON or CSV for downstream tooling. Image-format
// export belongs to the presentation layer, not here.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tinyviz/tinyviz/pkg/series"
)

var (
	// ErrUnknownFormat is returned for formats other than json/csv.
	ErrUnknownFormat = errors.New("unknown export format")

	// ErrUnknownSource is returned for sources other than series/window.
	ErrUnknownSource = errors.New("unknown export source")
)

// Source names what is being exported.
type Source string

const (
	// SourceSeries exports a reduced view of the raw series.
	SourceSeries Source = "series"

	// SourceWindow exports the committed live window.
	SourceWindow Source = "window"
)

// Options configures an export operation.
type Options struct {
	Source Source

	// Format is "json" or "csv".
	Format string

	// TargetPoints bounds the exported series size (series source only).
	TargetPoints int
}

// Result contains stats about the export.
type Result struct {
	PointsExported int       `json:"points_exported"`
	Source         Source    `json:"source"`
	Format         string    `json:"format"`
	ExportedAt     time.Time `json:"exported_at"`
}

// snapshotter is the narrow view of the core the exporter needs.
type snapshotter interface {
	SeriesSnapshot(targetPoints int) ([]series.Point, error)
	WindowSnapshot() ([]series.Point, float64)
}

// Exporter renders core snapshots into portable formats.
type Exporter struct {
	core snapshotter
}

// New creates an exporter over the given snapshot provider.
func New(core snapshotter) *Exporter {
	return &Exporter{core: core}
}

// Export writes the selected snapshot to w in the requested format.
func (e *Exporter) Export(w io.Writer, opts Options) (*Result, error) {
	points, err := e.snapshot(opts)
	if err != nil {
		return nil, err
	}

	switch opts.Format {
	case "json", "":
		return e.exportJSON(w, opts.Source, points)
	case "csv":
		return e.exportCSV(w, opts.Source, points)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

func (e *Exporter) snapshot(opts Options) ([]series.Point, error) {
	switch opts.Source {
	case SourceSeries, "":
		return e.core.SeriesSnapshot(opts.TargetPoints)
	case SourceWindow:
		points, _ := e.core.WindowSnapshot()
		return points, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, opts.Source)
	}
}

func (e *Exporter) exportJSON(w io.Writer, source Source, points []series.Point) (*Result, error) {
	exportData := struct {
		Metadata struct {
			ExportedAt time.Time `json:"exported_at"`
			Source     Source    `json:"source"`
			PointCount int       `json:"point_count"`
			Version    string    `json:"version"`
		} `json:"metadata"`
		Points []series.Point `json:"points"`
	}{
		Points: points,
	}
	exportData.Metadata.ExportedAt = time.Now()
	exportData.Metadata.Source = source
	exportData.Metadata.PointCount = len(points)
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &Result{
		PointsExported: len(points),
		Source:         source,
		Format:         "json",
		ExportedAt:     exportData.Metadata.ExportedAt,
	}, nil
}

func (e *Exporter) exportCSV(w io.Writer, source Source, points []series.Point) (*Result, error) {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"x", "y"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, p := range points {
		record := []string{
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &Result{
		PointsExported: len(points),
		Source:         source,
		Format:         "csv",
		ExportedAt:     time.Now(),
	}, nil
}
