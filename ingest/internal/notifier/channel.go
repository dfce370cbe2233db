package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

// Channel defines the interface for transition notification delivery.
type Channel interface {
	Send(ctx context.Context, e *envelope.Envelope) error
	Type() string
}

// WebhookChannel delivers transition envelopes via HTTP POST.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

func (w *WebhookChannel) Send(ctx context.Context, e *envelope.Envelope) error {
	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StorePulse-Ingest/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// LogChannel writes transition notifications to logs (for local
// development and as a fallback when no webhook is configured).
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log-based notification channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Send(_ context.Context, e *envelope.Envelope) error {
	l.logger.Info("status transition",
		slog.String("event_name", e.EventName),
		slog.String("receipt_id", e.EventID),
		slog.String("store_id", envelope.DataString(e.Data, "store_id")),
		slog.String("camera_id", envelope.DataString(e.Data, "camera_id")),
		slog.String("previous_status", envelope.DataString(e.Data, "previous_status")),
		slog.String("current_status", envelope.DataString(e.Data, "current_status")))
	return nil
}

// MultiChannel fans out to multiple channels.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel creates a notification channel that fans out to
// multiple channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Type() string {
	return "multi"
}

func (m *MultiChannel) Send(ctx context.Context, e *envelope.Envelope) error {
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(ctx, e); err != nil {
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			successCount++
		}
	}

	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all notification channels failed: %w", lastErr)
	}

	return nil
}
