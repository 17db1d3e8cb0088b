package server

import (
	"log"
	"os"
	"strconv"

	"github.com/tinyviz/tinyviz/pkg/config"
	"github.com/tinyviz/tinyviz/pkg/lod"
	"github.com/tinyviz/tinyviz/pkg/sampling"
	"github.com/tinyviz/tinyviz/pkg/series"
	"github.com/tinyviz/tinyviz/pkg/stream"
)

// Config holds server configuration.
type Config struct {
	Port            string
	WindowSize      int
	UpdateFrequency float64
	GridSize        int
	Strategy        sampling.Strategy
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	strategy := sampling.Strategy{Kind: sampling.LTTB}
	if raw := os.Getenv("TINYVIZ_STRATEGY"); raw != "" {
		kind, err := sampling.ParseKind(raw)
		if err != nil {
			log.Printf("Invalid TINYVIZ_STRATEGY %q, using %q", raw, strategy.Kind)
		} else {
			strategy.Kind = kind
		}
	}

	return Config{
		Port:            getPort(),
		WindowSize:      getEnvInt("TINYVIZ_WINDOW_SIZE", config.DefaultWindowSize),
		UpdateFrequency: getEnvFloat("TINYVIZ_UPDATE_HZ", config.DefaultUpdateFrequency),
		GridSize:        getEnvInt("TINYVIZ_GRID_SIZE", config.DefaultGridSize),
		Strategy:        strategy,
	}
}

// Initialize builds the core components and wires the streaming buffer
// into the live hub. The caller owns the lifecycles: hub.Run and
// buffer.Start/Stop.
func Initialize(cfg Config) (*Handler, *stream.Buffer[series.Point], *StreamHub, error) {
	engine := lod.New[series.Point](lod.Config{Strategy: cfg.Strategy})
	log.Printf("Reduction engine created (strategy: %s, ladder: %v)", cfg.Strategy.Kind, config.LODLadder)

	buffer, err := stream.New[series.Point](stream.Config{
		WindowSize:      cfg.WindowSize,
		UpdateFrequency: cfg.UpdateFrequency,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log.Printf("Streaming buffer created (window: %d, flush: %.0f Hz)", cfg.WindowSize, cfg.UpdateFrequency)

	hub := NewStreamHub()
	buffer.OnFlush(hub.BroadcastWindow)
	log.Println("Live hub wired to buffer flush cycle")

	handler := NewHandler(engine, buffer, cfg.GridSize)
	return handler, buffer, hub, nil
}

// getEnvInt gets an int from an environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvFloat gets a float from an environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

// getPort gets the server port from the PORT environment variable or
// returns the default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
