package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/storepulse-systems/storepulse/common/middleware"
)

func newBufLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler)}, &buf
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"json with info level", "info", "json"},
		{"text with debug level", "debug", "text"},
		{"default format with error level", "error", ""},
		{"unknown level falls back to info", "loud", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestWithContextIncludesRequestID(t *testing.T) {
	logger, buf := newBufLogger(slog.LevelInfo)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	logger.WithContext(ctx).Info("heartbeat stored")

	out := buf.String()
	if !strings.Contains(out, "request_id") || !strings.Contains(out, "req-123") {
		t.Errorf("expected request id in output, got: %s", out)
	}
}

func TestWithContextWithoutRequestID(t *testing.T) {
	logger, buf := newBufLogger(slog.LevelInfo)

	logger.WithContext(context.Background()).Info("heartbeat stored")

	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("did not expect request id in output, got: %s", buf.String())
	}
}

func TestContextLevels(t *testing.T) {
	logger, buf := newBufLogger(slog.LevelDebug)
	ctx := context.Background()

	logger.DebugContext(ctx, "debug msg")
	logger.InfoContext(ctx, "info msg")
	logger.WarnContext(ctx, "warn msg")
	logger.ErrorContext(ctx, "error msg")

	out := buf.String()
	for _, want := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s level in output, got: %s", want, out)
		}
	}
}

func TestWith(t *testing.T) {
	logger, buf := newBufLogger(slog.LevelInfo)

	logger.With(Service("edge")).Info("agent started")

	if !strings.Contains(buf.String(), "edge") {
		t.Errorf("expected service attr in output, got: %s", buf.String())
	}
}
