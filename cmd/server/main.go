package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/tinyviz/tinyviz/pkg/config"
	"github.com/tinyviz/tinyviz/pkg/export"
	"github.com/tinyviz/tinyviz/pkg/server"
)

func main() {
	log.Println("Starting TinyViz server...")

	cfg := server.LoadConfig()
	log.Printf("Configuration: port=%s window=%d flush=%.0fHz grid=%d strategy=%s",
		cfg.Port, cfg.WindowSize, cfg.UpdateFrequency, cfg.GridSize, cfg.Strategy.Kind)

	handler, buffer, hub, err := server.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize core: %v", err)
	}
	exportHandler := export.NewHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("Live hub started")

	if err := buffer.Start(ctx); err != nil {
		log.Fatalf("Failed to start streaming buffer: %v", err)
	}
	log.Printf("Streaming buffer started (%.0f flushes/s)", cfg.UpdateFrequency)

	router := mux.NewRouter()

	// CORS middleware for browser-based chart frontends.
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/data", handler.HandleSetData).Methods("POST")
	api.HandleFunc("/data/optimized", handler.HandleOptimized).Methods("GET")
	api.HandleFunc("/data/viewport", handler.HandleViewport).Methods("GET")
	api.HandleFunc("/nearest", handler.HandleNearest).Methods("GET")
	api.HandleFunc("/push", handler.HandlePush).Methods("POST")
	api.HandleFunc("/window", handler.HandleWindow).Methods("GET")
	api.HandleFunc("/strategy", handler.HandleStrategy).Methods("POST")
	api.HandleFunc("/clear", handler.HandleClear).Methods("POST")
	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/stats", handler.HandleStats).Methods("GET")
	api.HandleFunc("/health", handler.HandleHealth).Methods("GET")
	api.HandleFunc("/live", handler.HandleLive(hub)).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   POST /v1/data            - Replace dataset")
		log.Println("   GET  /v1/data/optimized  - Reduced series")
		log.Println("   GET  /v1/data/viewport   - Per-pixel viewport slice")
		log.Println("   GET  /v1/nearest         - Radius point lookup")
		log.Println("   POST /v1/push            - Live value ingestion")
		log.Println("   GET  /v1/window          - Live window snapshot")
		log.Println("   GET  /v1/live            - WebSocket window stream")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Stop producers before the hub so no flush publishes into a dead
	// client set.
	buffer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("TinyViz server exited cleanly")
}
