package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// Runner drives a fleet against a gateway: one aggregate heartbeat per
// store per interval, with the occasional alert and metric bucket mixed
// in so every ingest path sees traffic.
type Runner struct {
	GatewayURL  string
	EdgeToken   string
	Interval    time.Duration
	AlertChance float64
	DropChance  float64
	Jitter      time.Duration

	client *http.Client
	rng    *rand.Rand
}

// Stats is a running tally of what the runner sent.
type Stats struct {
	Sent    int
	Deduped int
	Failed  int
}

// NewRunner builds a runner with the shared HTTP client.
func NewRunner(gatewayURL, edgeToken string, interval time.Duration) *Runner {
	return &Runner{
		GatewayURL:  gatewayURL,
		EdgeToken:   edgeToken,
		Interval:    interval,
		AlertChance: 0.02,
		Jitter:      2 * time.Second,
		client:      &http.Client{Timeout: 10 * time.Second},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run sends rounds of heartbeats for every store until ctx is done or
// rounds are exhausted (rounds <= 0 means run forever).
func (r *Runner) Run(ctx context.Context, fleet *Fleet, rounds int) (*Stats, error) {
	stats := &Stats{}

	for round := 0; rounds <= 0 || round < rounds; round++ {
		for i := range fleet.Stores {
			store := &fleet.Stores[i]

			if r.DropChance > 0 && r.rng.Float64() < r.DropChance {
				// Simulated outage: this store skips the round so the
				// gateway's liveness sweep has something to find.
				continue
			}

			r.sendHeartbeat(ctx, store, stats)

			if r.rng.Float64() < r.AlertChance {
				r.sendAlert(ctx, store, stats)
			}
		}

		log.Printf("round %d complete: sent=%d deduped=%d failed=%d",
			round+1, stats.Sent, stats.Deduped, stats.Failed)

		if rounds > 0 && round == rounds-1 {
			break
		}

		sleep := r.Interval
		if r.Jitter > 0 {
			sleep += time.Duration(r.rng.Int63n(int64(r.Jitter)))
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return stats, nil
}

func (r *Runner) sendHeartbeat(ctx context.Context, store *Store, stats *Stats) {
	now := time.Now().UTC()

	cameras := make([]map[string]interface{}, 0, len(store.Cameras))
	for _, cam := range store.Cameras {
		state := map[string]interface{}{
			"camera_id": cam.ExternalID,
			"alive":     true,
		}
		if r.rng.Float64() < cam.FlapChance {
			state["alive"] = false
			state["error"] = "rtsp connect timeout"
		}
		cameras = append(cameras, state)
	}

	r.post(ctx, stats, map[string]interface{}{
		"event_name": "edge_heartbeat",
		"source":     "edge",
		"data": map[string]interface{}{
			"store_id":     store.ExternalID,
			"occurred_at":  now.Format(time.RFC3339),
			"cameras":      cameras,
			"camera_count": len(cameras),
		},
	})
}

func (r *Runner) sendAlert(ctx context.Context, store *Store, stats *Stats) {
	cam := store.Cameras[r.rng.Intn(len(store.Cameras))]

	r.post(ctx, stats, map[string]interface{}{
		"event_name": "alert",
		"source":     "edge",
		"data": map[string]interface{}{
			"store_id":    store.ExternalID,
			"camera_id":   cam.ExternalID,
			"kind":        "motion_after_hours",
			"severity":    "high",
			"message":     fmt.Sprintf("motion detected on %s", cam.Name),
			"occurred_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (r *Runner) post(ctx context.Context, stats *Stats, body map[string]interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		stats.Failed++
		log.Printf("marshal failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.GatewayURL+"/events", bytes.NewReader(raw))
	if err != nil {
		stats.Failed++
		log.Printf("request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EDGE-TOKEN", r.EdgeToken)

	resp, err := r.client.Do(req)
	if err != nil {
		stats.Failed++
		log.Printf("send failed: %v", err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		stats.Sent++
	case http.StatusOK:
		stats.Sent++
		stats.Deduped++
	default:
		stats.Failed++
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("gateway rejected event: status=%d body=%s", resp.StatusCode, detail)
	}
}
