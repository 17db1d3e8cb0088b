package config

import "time"

// Server defaults
const (
	DefaultPort = "8080"
)

// Level-of-detail ladder and reduction defaults
const (
	// EagerPrecomputeThreshold is the raw series size above which the
	// reduction engine precomputes every ladder level in the background.
	EagerPrecomputeThreshold = 10000

	// DefaultTargetPoints is the reduction target used when a caller
	// does not specify one.
	DefaultTargetPoints = 1000

	// MaxTargetPoints caps the per-request reduction target on the
	// serving layer to keep responses bounded.
	MaxTargetPoints = 50000
)

// LODLadder is the fixed set of detail levels the reduction engine
// memoizes. Requests resolve to the nearest level.
var LODLadder = []int{100, 500, 1000, 5000, 10000}

// Spatial index defaults
const (
	// DefaultGridSize is the cell count per axis of the spatial grid.
	DefaultGridSize = 100
)

// Streaming buffer defaults
const (
	DefaultWindowSize      = 1000
	DefaultUpdateFrequency = 60.0 // flushes per second

	// RateWindow is the trailing interval over which the arrival rate
	// is measured.
	RateWindow = 1 * time.Second
)

// UpdateFrequencies lists the supported flush-rate presets in Hz.
// Arbitrary positive rates are also accepted.
var UpdateFrequencies = []float64{15, 30, 60, 120}

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// HTTP server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// Ingest limits
const (
	// MaxPointsPerRequest bounds a single dataset replace or push batch.
	MaxPointsPerRequest = 1000000
)
