// Package agent wires the edge-side loops together: heartbeat scheduling,
// outbox flushing and metrics upkeep, with a bounded-time shutdown.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storepulse-systems/storepulse/edge/internal/heartbeat"
	"github.com/storepulse-systems/storepulse/edge/internal/metrics"
	"github.com/storepulse-systems/storepulse/edge/internal/outbox"
	"github.com/storepulse-systems/storepulse/edge/internal/transport"
)

// Agent runs the edge loops. The outbox is the only shared mutable
// resource; it serializes access internally.
type Agent struct {
	queue     *outbox.Queue
	scheduler *heartbeat.Scheduler
	flusher   *transport.Flusher
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an agent from its already-constructed parts.
func New(queue *outbox.Queue, scheduler *heartbeat.Scheduler, flusher *transport.Flusher, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{queue: queue, scheduler: scheduler, flusher: flusher, logger: logger}
}

// Start launches the heartbeat and flush loops.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runFlushLoop(ctx)
	}()

	a.logger.Info("edge agent started")
}

func (a *Agent) runFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(a.flusher.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.flusher.FlushOnce(ctx)
			metrics.EnvelopesSent.Add(float64(stats.Sent))
			metrics.EnvelopesRetried.Add(float64(stats.Retried))
			metrics.EnvelopesDropped.Add(float64(stats.Dropped))

			if depth, err := a.queue.PendingDepth(ctx); err == nil {
				metrics.OutboxDepth.Set(float64(depth))
			}
		}
	}
}

// Stop signals the loops to exit and waits for them up to timeout.
// In-flight outbox records stay pending for the next process start.
func (a *Agent) Stop(timeout time.Duration) {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("edge agent stopped")
	case <-time.After(timeout):
		a.logger.Warn("edge agent shutdown timed out", slog.Duration("timeout", timeout))
	}
}
