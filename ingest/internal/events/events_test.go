package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

func TestDecodeHeartbeat(t *testing.T) {
	e := envelope.Build(envelope.EventEdgeHeartbeat, envelope.SourceEdge, map[string]interface{}{
		"store_id":    "store-001",
		"occurred_at": "2026-03-01T10:00:00Z",
		"cameras": []interface{}{
			map[string]interface{}{"camera_id": "cam-1", "alive": true},
			map[string]interface{}{"camera_id": "cam-2", "alive": false, "error": "no frames"},
		},
		"camera_count": 2,
	}, nil, 1)

	p, err := Decode(e)
	require.NoError(t, err)
	require.NotNil(t, p.Heartbeat)

	assert.Equal(t, "store-001", p.StoreRef())
	assert.Empty(t, p.CameraRef())
	assert.Len(t, p.Heartbeat.Cameras, 2)
	assert.Equal(t, "no frames", p.Heartbeat.Cameras[1].Error)

	occurred, ok := p.OccurredAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), occurred.UTC())
}

func TestDecodeCameraHeartbeat(t *testing.T) {
	e := envelope.Build(envelope.EventEdgeCameraHeartbeat, envelope.SourceEdge, map[string]interface{}{
		"store_id":    "store-001",
		"camera_id":   "cam-entrance",
		"alive":       true,
		"occurred_at": "2026-03-01T10:00:00Z",
	}, nil, 1)

	p, err := Decode(e)
	require.NoError(t, err)
	require.NotNil(t, p.CameraHeartbeat)
	assert.Equal(t, "cam-entrance", p.CameraRef())
	assert.True(t, p.CameraHeartbeat.Alive)
}

func TestDecodeTransition(t *testing.T) {
	e := envelope.Build(envelope.EventStoreStatusChanged, envelope.SourceBackend, map[string]interface{}{
		"store_id":        "store-001",
		"previous_status": "online",
		"current_status":  "offline",
		"occurred_at":     "2026-03-01T10:05:00Z",
	}, nil, 1)

	p, err := Decode(e)
	require.NoError(t, err)
	require.NotNil(t, p.Transition)
	assert.Equal(t, "offline", p.Transition.CurrentStatus)
}

func TestDecodeUnknownEventName(t *testing.T) {
	e := envelope.Build("future_event", envelope.SourceApp, map[string]interface{}{
		"store_id": "store-001",
		"anything": 42,
	}, nil, 1)

	p, err := Decode(e)
	require.NoError(t, err)
	assert.Nil(t, p.Heartbeat)
	assert.Equal(t, "store-001", p.StoreRef())

	_, ok := p.OccurredAt()
	assert.False(t, ok)
}

func TestDecodeMalformedPayload(t *testing.T) {
	e := envelope.Build(envelope.EventEdgeCameraHeartbeat, envelope.SourceEdge, map[string]interface{}{
		"store_id": "store-001",
		"alive":    "not-a-bool",
	}, nil, 1)

	_, err := Decode(e)
	assert.Error(t, err)
}
