package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/common/envelope"
	"github.com/storepulse-systems/storepulse/edge/internal/outbox"
)

func TestBackoffGrowth(t *testing.T) {
	wantSeconds := map[int]int{
		1: 2,
		2: 4,
		3: 8,
		4: 16,
		5: 32,
		8: 256,
	}
	for attempts, want := range wantSeconds {
		assert.Equal(t, time.Duration(want)*time.Second, Backoff(attempts), "attempt %d", attempts)
	}

	for attempts := 9; attempts <= 20; attempts++ {
		assert.Equal(t, MaxBackoff, Backoff(attempts), "attempt %d", attempts)
	}
}

func newQueueWithRecords(t *testing.T, cameraIDs ...string) *outbox.Queue {
	t.Helper()
	q, err := outbox.Open(filepath.Join(t.TempDir(), "outbox.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	for _, id := range cameraIDs {
		e := envelope.Build(envelope.EventEdgeCameraHeartbeat, envelope.SourceEdge,
			map[string]interface{}{
				"store_id":  "store-1",
				"camera_id": id,
			}, nil, 1)
		require.NoError(t, q.Enqueue(context.Background(), e))
	}
	return q
}

func TestFlushOnceMarksSent(t *testing.T) {
	var gotToken atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.Header.Get(EdgeTokenHeader))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	q := newQueueWithRecords(t, "cam-1", "cam-2")
	f := NewFlusher(q, Config{EndpointURL: srv.URL, EdgeToken: "secret"}, nil)

	stats := f.FlushOnce(context.Background())
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, "secret", gotToken.Load())

	records, err := q.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFlushOnceRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := newQueueWithRecords(t, "cam-1")
	f := NewFlusher(q, Config{EndpointURL: srv.URL}, nil)

	stats := f.FlushOnce(context.Background())
	assert.Equal(t, 1, stats.Retried)

	// Record is still pending but deferred past its backoff.
	depth, err := q.PendingDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	records, err := q.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records, "deferred record must not be eligible yet")
}

func TestFlushOnceRetriesOnNetworkError(t *testing.T) {
	q := newQueueWithRecords(t, "cam-1")
	f := NewFlusher(q, Config{EndpointURL: "http://127.0.0.1:1/events", Timeout: time.Second}, nil)

	stats := f.FlushOnce(context.Background())
	assert.Equal(t, 1, stats.Retried)
}

func TestFlushOnceDropsPoisonRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	q := newQueueWithRecords(t, "cam-1")
	f := NewFlusher(q, Config{EndpointURL: srv.URL, MaxAttempts: 1}, nil)

	stats := f.FlushOnce(context.Background())
	assert.Equal(t, 1, stats.Dropped)

	depth, err := q.PendingDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestFlushOnceOneBadRecordDoesNotBlockBatch(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	q := newQueueWithRecords(t, "cam-1", "cam-2", "cam-3")
	f := NewFlusher(q, Config{EndpointURL: srv.URL}, nil)

	stats := f.FlushOnce(context.Background())
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Retried)
}
