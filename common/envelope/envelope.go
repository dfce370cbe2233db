// Package envelope defines the canonical event wire format shared by every
// StorePulse producer and consumer, and the derivation of the receipt id
// (idempotency key) that collapses retransmissions of the same logical event.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event names understood by the pipeline.
const (
	EventEdgeHeartbeat       = "edge_heartbeat"
	EventEdgeCameraHeartbeat = "edge_camera_heartbeat"
	EventEdgeMetricBucket    = "edge_metric_bucket"
	EventAlert               = "alert"
	EventStoreStatusChanged  = "store_status_changed"
	EventCameraStatusChanged = "camera_status_changed"
)

// Event sources.
const (
	SourceEdge    = "edge"
	SourceBackend = "backend"
	SourceApp     = "app"
)

// CurrentVersion is the envelope schema version emitted by this codebase.
const CurrentVersion = 1

// Envelope is the wire unit. Field names are frozen for backward
// compatibility with existing consumers.
type Envelope struct {
	EventID      string                 `json:"event_id"`
	EventName    string                 `json:"event_name"`
	EventVersion int                    `json:"event_version"`
	TS           time.Time              `json:"ts"`
	Source       string                 `json:"source"`
	LeadID       string                 `json:"lead_id,omitempty"`
	OrgID        string                 `json:"org_id,omitempty"`
	Data         map[string]interface{} `json:"data"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
}

// Build populates an envelope for the given event name, source and payload.
// The occurrence timestamp defaults to data.occurred_at, then data.ts, then
// now. The receipt id is derived per DeriveReceiptID and stored as event_id.
func Build(eventName, source string, data, meta map[string]interface{}, version int) *Envelope {
	if version <= 0 {
		version = CurrentVersion
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	ts := occurrenceTime(data)

	e := &Envelope{
		EventName:    eventName,
		EventVersion: version,
		TS:           ts,
		Source:       source,
		Data:         data,
		Meta:         meta,
	}
	e.EventID = DeriveReceiptID(e)
	return e
}

// DeriveReceiptID computes the idempotency key for an envelope, in priority
// order:
//
//  1. meta.receipt_id, verbatim, when the producer asserts its own key.
//  2. For status-transition events: a stable hash over the transition shape
//     (event name, store, camera-or-"-", previous status, current status)
//     and the minute-bucketed occurrence time. Retries of the same
//     transition inside one bucket minute collapse to one id.
//  3. Otherwise: a stable hash over (event name, version, store, camera)
//     and the minute-bucketed occurrence time.
//
// The minute bucket is taken from the occurrence time carried in the
// envelope, not wall-clock send time, so retransmissions hash identically.
func DeriveReceiptID(e *Envelope) string {
	if e.Meta != nil {
		if v, ok := e.Meta["receipt_id"].(string); ok && v != "" {
			return v
		}
	}

	bucket := e.TS.UTC().Truncate(time.Minute).Format(time.RFC3339)
	storeID := DataString(e.Data, "store_id")
	cameraID := DataString(e.Data, "camera_id")

	switch e.EventName {
	case EventStoreStatusChanged, EventCameraStatusChanged:
		if cameraID == "" {
			cameraID = "-"
		}
		return hashKey(
			e.EventName,
			storeID,
			cameraID,
			DataString(e.Data, "previous_status"),
			DataString(e.Data, "current_status"),
			bucket,
		)
	default:
		return hashKey(
			e.EventName,
			fmt.Sprintf("v%d", e.EventVersion),
			storeID,
			cameraID,
			bucket,
		)
	}
}

// DataString reads a string-valued field from an envelope data or meta map.
func DataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return "rcp_" + hex.EncodeToString(h.Sum(nil))
}

func occurrenceTime(data map[string]interface{}) time.Time {
	for _, key := range []string{"occurred_at", "ts"} {
		switch v := data[key].(type) {
		case time.Time:
			return v
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}
