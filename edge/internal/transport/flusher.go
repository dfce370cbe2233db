// Package transport drains the outbox over the network. A flush pass never
// lets one bad record block the batch: every per-record outcome is recorded
// individually on the queue.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storepulse-systems/storepulse/edge/internal/outbox"
)

// EdgeTokenHeader carries the shared edge credential on ingest requests.
const EdgeTokenHeader = "X-EDGE-TOKEN"

// MaxBackoff caps the retry delay between delivery attempts.
const MaxBackoff = 300 * time.Second

// Queue is the slice of the outbox the flusher needs.
type Queue interface {
	PeekBatch(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, sendErr string, backoff time.Duration) error
	MarkDropped(ctx context.Context, id int64, sendErr string) error
}

// Config configures the flush loop.
type Config struct {
	EndpointURL string
	EdgeToken   string
	Interval    time.Duration
	BatchSize   int
	Timeout     time.Duration
	MaxAttempts int
}

// Stats summarizes one flush pass.
type Stats struct {
	Sent    int
	Retried int
	Dropped int
}

// Flusher periodically drains eligible outbox records to the ingestion
// endpoint.
type Flusher struct {
	queue  Queue
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewFlusher creates a flush loop over the given queue.
func NewFlusher(queue Queue, cfg Config, logger *slog.Logger) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		queue:  queue,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Interval returns the configured flush cadence.
func (f *Flusher) Interval() time.Duration {
	return f.cfg.Interval
}

// FlushOnce sends one batch. It never returns an error: per-record failures
// are written back to the queue and logged.
func (f *Flusher) FlushOnce(ctx context.Context) Stats {
	var stats Stats

	records, err := f.queue.PeekBatch(ctx, f.cfg.BatchSize)
	if err != nil {
		f.logger.Error("outbox peek failed", slog.String("error", err.Error()))
		return stats
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return stats
		}
		switch f.send(ctx, rec) {
		case outcomeSent:
			stats.Sent++
		case outcomeRetried:
			stats.Retried++
		case outcomeDropped:
			stats.Dropped++
		}
	}
	return stats
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeDropped
)

func (f *Flusher) send(ctx context.Context, rec outbox.Record) outcome {
	status, err := f.post(ctx, rec)
	if err == nil && status >= 200 && status < 300 {
		if err := f.queue.MarkSent(ctx, rec.ID); err != nil {
			f.logger.Error("mark sent failed", slog.Int64("record_id", rec.ID), slog.String("error", err.Error()))
		}
		return outcomeSent
	}

	attempts := rec.Attempts + 1
	reason := fmt.Sprintf("http status %d", status)
	if err != nil {
		reason = err.Error()
	}

	// Permanent rejections (validation, auth) are not worth retrying
	// forever; cap them so a poison record cannot loop for good.
	if err == nil && terminalStatus(status) && attempts >= f.cfg.MaxAttempts {
		f.logger.Warn("dropping undeliverable record",
			slog.Int64("record_id", rec.ID),
			slog.Int("attempts", attempts),
			slog.String("reason", reason))
		if err := f.queue.MarkDropped(ctx, rec.ID, reason); err != nil {
			f.logger.Error("mark dropped failed", slog.Int64("record_id", rec.ID), slog.String("error", err.Error()))
		}
		return outcomeDropped
	}

	backoff := Backoff(attempts)
	f.logger.Warn("delivery failed, will retry",
		slog.Int64("record_id", rec.ID),
		slog.Int("attempts", attempts),
		slog.Duration("backoff", backoff),
		slog.String("reason", reason))
	if err := f.queue.MarkFailed(ctx, rec.ID, reason, backoff); err != nil {
		f.logger.Error("mark failed failed", slog.Int64("record_id", rec.ID), slog.String("error", err.Error()))
	}
	return outcomeRetried
}

func (f *Flusher) post(ctx context.Context, rec outbox.Record) (int, error) {
	body, err := json.Marshal(rec.Envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EdgeTokenHeader, f.cfg.EdgeToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send envelope: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// terminalStatus reports whether an HTTP status means the server will never
// accept this record. Timeouts and throttling stay retryable.
func terminalStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// Backoff returns the retry delay after the given post-increment attempt
// count: 2s, 4s, 8s, ... capped at MaxBackoff from attempt 9 onward.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 8 {
		return MaxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
