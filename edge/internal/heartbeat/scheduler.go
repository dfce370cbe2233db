// Package heartbeat emits periodic liveness envelopes for the cameras this
// agent supervises. Emission is aligned to interval boundaries so that
// restarted or concurrent schedulers agree on bucket identity and their
// envelopes dedup server-side.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

// Liveness is what a camera worker reports about itself.
type Liveness struct {
	Alive     bool
	LastError string
}

// CameraWorker is the external capture process the scheduler polls. The
// worker computes frames and metrics elsewhere; only liveness is asked for
// here.
type CameraWorker interface {
	CameraID() string
	Liveness() Liveness
}

// Enqueuer accepts built envelopes for durable local queueing.
type Enqueuer interface {
	Enqueue(ctx context.Context, e *envelope.Envelope) error
}

// Config configures the heartbeat scheduler.
type Config struct {
	StoreID  string
	OrgID    string
	Interval time.Duration
}

// Scheduler periodically polls camera workers and enqueues heartbeat
// envelopes. Enqueue failures are logged and swallowed: heartbeat emission
// must never take the host process down.
type Scheduler struct {
	queue   Enqueuer
	workers []CameraWorker
	cfg     Config
	logger  *slog.Logger
}

// NewScheduler creates a heartbeat scheduler over the given workers.
func NewScheduler(queue Enqueuer, workers []CameraWorker, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: queue, workers: workers, cfg: cfg, logger: logger}
}

// Run emits once per interval bucket until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var lastBucket time.Time

	for {
		now := time.Now().UTC()
		bucket := now.Truncate(s.cfg.Interval)
		if bucket.After(lastBucket) {
			s.EmitOnce(ctx, bucket)
			lastBucket = bucket
		}

		next := bucket.Add(s.cfg.Interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
	}
}

// EmitOnce enqueues one camera heartbeat per worker plus one aggregate
// store heartbeat, all stamped with the bucket time so retries and restarts
// hash to the same receipt ids.
func (s *Scheduler) EmitOnce(ctx context.Context, bucket time.Time) {
	occurredAt := bucket.UTC().Format(time.RFC3339)
	cameras := make([]map[string]interface{}, 0, len(s.workers))

	for _, w := range s.workers {
		liveness := w.Liveness()
		cam := map[string]interface{}{
			"camera_id": w.CameraID(),
			"alive":     liveness.Alive,
		}
		if liveness.LastError != "" {
			cam["error"] = liveness.LastError
		}
		cameras = append(cameras, cam)

		data := map[string]interface{}{
			"store_id":    s.cfg.StoreID,
			"camera_id":   w.CameraID(),
			"alive":       liveness.Alive,
			"occurred_at": occurredAt,
		}
		if liveness.LastError != "" {
			data["error"] = liveness.LastError
		}
		s.enqueue(ctx, envelope.EventEdgeCameraHeartbeat, data)
	}

	s.enqueue(ctx, envelope.EventEdgeHeartbeat, map[string]interface{}{
		"store_id":     s.cfg.StoreID,
		"occurred_at":  occurredAt,
		"cameras":      cameras,
		"camera_count": len(cameras),
	})
}

func (s *Scheduler) enqueue(ctx context.Context, eventName string, data map[string]interface{}) {
	e := envelope.Build(eventName, envelope.SourceEdge, data, nil, envelope.CurrentVersion)
	e.OrgID = s.cfg.OrgID

	if err := s.queue.Enqueue(ctx, e); err != nil {
		s.logger.Error("heartbeat enqueue failed",
			slog.String("event_name", eventName),
			slog.String("store_id", s.cfg.StoreID),
			slog.String("error", err.Error()))
	}
}
