package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

type fakeWorker struct {
	id       string
	liveness Liveness
}

func (w *fakeWorker) CameraID() string   { return w.id }
func (w *fakeWorker) Liveness() Liveness { return w.liveness }

type recordingQueue struct {
	mu        sync.Mutex
	envelopes []*envelope.Envelope
	err       error
}

func (q *recordingQueue) Enqueue(_ context.Context, e *envelope.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.envelopes = append(q.envelopes, e)
	return nil
}

func (q *recordingQueue) byName(name string) []*envelope.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*envelope.Envelope
	for _, e := range q.envelopes {
		if e.EventName == name {
			out = append(out, e)
		}
	}
	return out
}

func TestEmitOncePerCameraPlusAggregate(t *testing.T) {
	queue := &recordingQueue{}
	workers := []CameraWorker{
		&fakeWorker{id: "cam-1", liveness: Liveness{Alive: true}},
		&fakeWorker{id: "cam-2", liveness: Liveness{Alive: false, LastError: "rtsp timeout"}},
	}

	s := NewScheduler(queue, workers, Config{StoreID: "store-1", OrgID: "org-1", Interval: time.Minute}, nil)
	bucket := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	s.EmitOnce(context.Background(), bucket)

	camBeats := queue.byName(envelope.EventEdgeCameraHeartbeat)
	require.Len(t, camBeats, 2)
	assert.Equal(t, "cam-1", envelope.DataString(camBeats[0].Data, "camera_id"))
	assert.Equal(t, "rtsp timeout", envelope.DataString(camBeats[1].Data, "error"))
	assert.Equal(t, "org-1", camBeats[0].OrgID)

	aggregates := queue.byName(envelope.EventEdgeHeartbeat)
	require.Len(t, aggregates, 1)
	agg := aggregates[0]
	assert.Equal(t, "store-1", envelope.DataString(agg.Data, "store_id"))
	cameras, ok := agg.Data["cameras"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, cameras, 2)
	assert.True(t, agg.TS.Equal(bucket))
}

func TestEmitOnceSameBucketCollapsesServerSide(t *testing.T) {
	queue := &recordingQueue{}
	workers := []CameraWorker{&fakeWorker{id: "cam-1", liveness: Liveness{Alive: true}}}
	s := NewScheduler(queue, workers, Config{StoreID: "store-1", Interval: time.Minute}, nil)

	bucket := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	s.EmitOnce(context.Background(), bucket)
	s.EmitOnce(context.Background(), bucket)

	beats := queue.byName(envelope.EventEdgeCameraHeartbeat)
	require.Len(t, beats, 2)
	assert.Equal(t, beats[0].EventID, beats[1].EventID,
		"same bucket must derive the same receipt id")
}

func TestEnqueueFailureDoesNotPanic(t *testing.T) {
	queue := &recordingQueue{err: errors.New("disk full")}
	workers := []CameraWorker{&fakeWorker{id: "cam-1", liveness: Liveness{Alive: true}}}
	s := NewScheduler(queue, workers, Config{StoreID: "store-1", Interval: time.Minute}, nil)

	assert.NotPanics(t, func() {
		s.EmitOnce(context.Background(), time.Now().UTC())
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	queue := &recordingQueue{}
	s := NewScheduler(queue, nil, Config{StoreID: "store-1", Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop promptly after cancel")
	}
}
