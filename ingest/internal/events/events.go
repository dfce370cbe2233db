// Package events decodes envelope data payloads into typed structures
// keyed by event name. Unknown event names decode to a generic payload
// and are still accepted; the ledger stores what it got.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

// CameraState is one camera's liveness report inside an aggregate
// store heartbeat.
type CameraState struct {
	CameraID string `json:"camera_id"`
	Alive    bool   `json:"alive"`
	Error    string `json:"error,omitempty"`
}

// HeartbeatPayload is the data of an edge_heartbeat envelope.
type HeartbeatPayload struct {
	StoreID     string        `json:"store_id"`
	OccurredAt  time.Time     `json:"occurred_at"`
	Cameras     []CameraState `json:"cameras"`
	CameraCount int           `json:"camera_count"`
}

// CameraHeartbeatPayload is the data of an edge_camera_heartbeat envelope.
type CameraHeartbeatPayload struct {
	StoreID    string    `json:"store_id"`
	CameraID   string    `json:"camera_id"`
	Alive      bool      `json:"alive"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MetricBucketPayload is the data of an edge_metric_bucket envelope.
type MetricBucketPayload struct {
	StoreID     string             `json:"store_id"`
	CameraID    string             `json:"camera_id"`
	BucketStart time.Time          `json:"bucket_start"`
	BucketEnd   time.Time          `json:"bucket_end"`
	Metrics     map[string]float64 `json:"metrics"`
}

// AlertPayload is the data of an alert envelope.
type AlertPayload struct {
	StoreID    string    `json:"store_id"`
	CameraID   string    `json:"camera_id,omitempty"`
	Kind       string    `json:"kind"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransitionPayload is the data of a store_status_changed or
// camera_status_changed envelope.
type TransitionPayload struct {
	StoreID        string    `json:"store_id"`
	CameraID       string    `json:"camera_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	CurrentStatus  string    `json:"current_status"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Payload is the decoded form of an envelope's data. Exactly one typed
// field is set for known event names; unknown names leave only Raw.
type Payload struct {
	Heartbeat       *HeartbeatPayload
	CameraHeartbeat *CameraHeartbeatPayload
	MetricBucket    *MetricBucketPayload
	Alert           *AlertPayload
	Transition      *TransitionPayload
	Raw             map[string]interface{}
}

// Decode parses the envelope data for the envelope's event name.
func Decode(e *envelope.Envelope) (*Payload, error) {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode envelope data: %w", err)
	}

	p := &Payload{Raw: e.Data}

	switch e.EventName {
	case envelope.EventEdgeHeartbeat:
		p.Heartbeat = &HeartbeatPayload{}
		err = json.Unmarshal(raw, p.Heartbeat)
	case envelope.EventEdgeCameraHeartbeat:
		p.CameraHeartbeat = &CameraHeartbeatPayload{}
		err = json.Unmarshal(raw, p.CameraHeartbeat)
	case envelope.EventEdgeMetricBucket:
		p.MetricBucket = &MetricBucketPayload{}
		err = json.Unmarshal(raw, p.MetricBucket)
	case envelope.EventAlert:
		p.Alert = &AlertPayload{}
		err = json.Unmarshal(raw, p.Alert)
	case envelope.EventStoreStatusChanged, envelope.EventCameraStatusChanged:
		p.Transition = &TransitionPayload{}
		err = json.Unmarshal(raw, p.Transition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", e.EventName, err)
	}

	return p, nil
}

// StoreRef returns the store identifier the payload references.
func (p *Payload) StoreRef() string {
	switch {
	case p.Heartbeat != nil:
		return p.Heartbeat.StoreID
	case p.CameraHeartbeat != nil:
		return p.CameraHeartbeat.StoreID
	case p.MetricBucket != nil:
		return p.MetricBucket.StoreID
	case p.Alert != nil:
		return p.Alert.StoreID
	case p.Transition != nil:
		return p.Transition.StoreID
	}
	return envelope.DataString(p.Raw, "store_id")
}

// CameraRef returns the camera identifier the payload references, if any.
func (p *Payload) CameraRef() string {
	switch {
	case p.CameraHeartbeat != nil:
		return p.CameraHeartbeat.CameraID
	case p.MetricBucket != nil:
		return p.MetricBucket.CameraID
	case p.Alert != nil:
		return p.Alert.CameraID
	case p.Transition != nil:
		return p.Transition.CameraID
	}
	return envelope.DataString(p.Raw, "camera_id")
}

// OccurredAt returns the payload's occurrence time when it carries one.
func (p *Payload) OccurredAt() (time.Time, bool) {
	var t time.Time
	switch {
	case p.Heartbeat != nil:
		t = p.Heartbeat.OccurredAt
	case p.CameraHeartbeat != nil:
		t = p.CameraHeartbeat.OccurredAt
	case p.Alert != nil:
		t = p.Alert.OccurredAt
	case p.Transition != nil:
		t = p.Transition.OccurredAt
	case p.MetricBucket != nil:
		t = p.MetricBucket.BucketStart
	}
	return t, !t.IsZero()
}
