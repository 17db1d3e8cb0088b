// Command example feeds a running TinyViz server with synthetic chart
// data: a large historical series up front, then a continuous trickle
// of live values. Useful for exercising the reduction ladder and the
// live window without a real data source.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyviz/tinyviz/pkg/series"
)

var (
	serverURL  = flag.String("server", "http://localhost:8080", "TinyViz server URL")
	historyLen = flag.Int("history", 100000, "synthetic historical points to seed")
	pushRate   = flag.Float64("rate", 30, "live values pushed per second")
	batchSize  = flag.Int("batch", 5, "values per push request")
)

func main() {
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	log.Printf("Seeding %d historical points...", *historyLen)
	if err := seedHistory(client); err != nil {
		log.Fatalf("Failed to seed history: %v", err)
	}

	log.Printf("Streaming live values at %.0f/s (batch %d)...", *pushRate, *batchSize)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	interval := time.Duration(float64(*batchSize) / *pushRate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	x := float64(*historyLen)
	for {
		select {
		case <-quit:
			log.Println("Example feeder stopped")
			return
		case <-ticker.C:
			batch := make([]series.Point, *batchSize)
			for i := range batch {
				batch[i] = series.Point{X: x, Y: waveform(x)}
				x++
			}
			if err := pushBatch(client, batch); err != nil {
				log.Printf("Push failed: %v", err)
			}
		case <-statsTicker.C:
			reportStats(client)
		}
	}
}

// waveform produces a composite waveform: slow trend, fast oscillation,
// and noise, so every reduction strategy has visible work to do.
func waveform(x float64) float64 {
	return 50*math.Sin(x/5000) +
		10*math.Sin(x/50) +
		5*rand.NormFloat64()
}

func seedHistory(client *http.Client) error {
	points := make([]series.Point, *historyLen)
	for i := range points {
		x := float64(i)
		points[i] = series.Point{X: x, Y: waveform(x)}
	}

	body, err := json.Marshal(map[string]interface{}{"points": points})
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := client.Post(*serverURL+"/v1/data", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
	}

	log.Printf("History seeded in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

func pushBatch(client *http.Client, batch []series.Point) error {
	body, err := json.Marshal(map[string]interface{}{"values": batch})
	if err != nil {
		return err
	}

	resp, err := client.Post(*serverURL+"/v1/push", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}

func reportStats(client *http.Client) {
	resp, err := client.Get(*serverURL + "/v1/stats")
	if err != nil {
		log.Printf("Stats query failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var stats struct {
		RawPoints    int     `json:"raw_points"`
		Strategy     string  `json:"strategy"`
		CachedLevels []int   `json:"cached_levels"`
		Rate         float64 `json:"rate"`
		IndexReady   bool    `json:"index_ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Printf("Stats decode failed: %v", err)
		return
	}

	log.Printf("Stats: %d raw points, strategy=%s, cached=%v, rate=%.1f/s, index_ready=%v",
		stats.RawPoints, stats.Strategy, stats.CachedLevels, stats.Rate, stats.IndexReady)
}
