// Package liveness derives online/degraded/offline status for cameras
// and stores from heartbeat recency. Snapshots are ephemeral: they are
// recomputed on every read and never persisted.
package liveness

import (
	"time"

	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

// Default classification thresholds in seconds.
const (
	DefaultOnlineThreshold   = 120 * time.Second
	DefaultDegradedThreshold = 300 * time.Second
)

// Reason codes.
const (
	ReasonRecentHeartbeat  = "recent_heartbeat"
	ReasonStaleHeartbeat   = "stale_heartbeat"
	ReasonHeartbeatExpired = "heartbeat_expired"
	ReasonNoHeartbeat      = "no_heartbeat"
	ReasonNoCameras        = "no_cameras"
	ReasonOnlineNoCameras  = "online_no_cameras"
	ReasonPartialCoverage  = "partial_camera_coverage"
	ReasonAllCamerasOnline = "all_cameras_online"
)

// Thresholds configures the classifier boundaries.
type Thresholds struct {
	Online   time.Duration
	Degraded time.Duration
}

// DefaultThresholds returns the shipped boundary values.
func DefaultThresholds() Thresholds {
	return Thresholds{Online: DefaultOnlineThreshold, Degraded: DefaultDegradedThreshold}
}

// CameraSnapshot is the derived view of one camera.
type CameraSnapshot struct {
	CameraID   string     `json:"camera_id"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	AgeSeconds *float64   `json:"age_seconds"`
	Reason     string     `json:"reason"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// StoreSnapshot is the derived view of a store and its cameras.
type StoreSnapshot struct {
	StoreID    string           `json:"store_id"`
	OrgID      string           `json:"org_id,omitempty"`
	ExternalID string           `json:"external_id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	AgeSeconds *float64         `json:"age_seconds"`
	Reason     string           `json:"reason"`
	LastSeenAt *time.Time       `json:"last_seen_at,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	Counts     map[string]int   `json:"counts"`
	Cameras    []CameraSnapshot `json:"cameras"`
}

// Classifier turns last-seen timestamps into snapshots.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier. Zero thresholds fall back to the
// defaults so a partially filled config cannot produce an always-online
// classifier.
func NewClassifier(t Thresholds) *Classifier {
	if t.Online <= 0 {
		t.Online = DefaultOnlineThreshold
	}
	if t.Degraded <= 0 {
		t.Degraded = DefaultDegradedThreshold
	}
	return &Classifier{thresholds: t}
}

// ClassifyAge classifies a single last-signal timestamp at time now.
// Boundary values belong to the healthier side: an age of exactly the
// online threshold is still online.
func (c *Classifier) ClassifyAge(lastSeen *time.Time, now time.Time) (status string, ageSeconds *float64, reason string) {
	if lastSeen == nil {
		return models.StatusOffline, nil, ReasonNoHeartbeat
	}

	age := now.Sub(*lastSeen)
	secs := age.Seconds()
	ageSeconds = &secs

	switch {
	case age <= c.thresholds.Online:
		return models.StatusOnline, ageSeconds, ReasonRecentHeartbeat
	case age <= c.thresholds.Degraded:
		return models.StatusDegraded, ageSeconds, ReasonStaleHeartbeat
	default:
		return models.StatusOffline, ageSeconds, ReasonHeartbeatExpired
	}
}

// Snapshot computes the store-level view over the store's active cameras.
func (c *Classifier) Snapshot(store *models.Store, cameras []*models.Camera, now time.Time) *StoreSnapshot {
	snap := &StoreSnapshot{
		StoreID:    store.ID,
		OrgID:      store.OrgID,
		ExternalID: store.ExternalID,
		Name:       store.Name,
		LastSeenAt: store.LastSeenAt,
		LastError:  store.LastError,
		Counts: map[string]int{
			models.StatusOnline:   0,
			models.StatusDegraded: 0,
			models.StatusOffline:  0,
			models.StatusUnknown:  0,
		},
	}

	var minAge *float64
	online := 0
	for _, cam := range cameras {
		status, age, reason := c.ClassifyAge(cam.LastSeenAt, now)
		snap.Cameras = append(snap.Cameras, CameraSnapshot{
			CameraID:   cam.ID,
			ExternalID: cam.ExternalID,
			Name:       cam.Name,
			Status:     status,
			AgeSeconds: age,
			Reason:     reason,
			LastSeenAt: cam.LastSeenAt,
			LastError:  cam.LastError,
		})
		snap.Counts[status]++
		if status == models.StatusOnline {
			online++
		}
		if age != nil && (minAge == nil || *age < *minAge) {
			minAge = age
		}
	}

	storeStatus, storeAge, storeReason := c.ClassifyAge(store.LastSeenAt, now)

	switch {
	case len(cameras) == 0:
		// A store with no cameras is not silently healthy, but a live
		// agent process still counts as partial evidence.
		if store.LastSeenAt != nil && storeStatus == models.StatusOnline {
			snap.Status = models.StatusOnline
			snap.Reason = ReasonOnlineNoCameras
		} else {
			snap.Status = models.StatusOffline
			snap.Reason = ReasonNoCameras
		}
	case online == len(cameras):
		snap.Status = models.StatusOnline
		snap.Reason = ReasonAllCamerasOnline
	case online > 0:
		snap.Status = models.StatusDegraded
		snap.Reason = ReasonPartialCoverage
	default:
		// No camera online: the store inherits its own heartbeat's
		// classification and reason.
		snap.Status = storeStatus
		snap.Reason = storeReason
	}

	// Store age: the store heartbeat's age when one exists, otherwise
	// the most recently alive camera.
	if store.LastSeenAt != nil {
		snap.AgeSeconds = storeAge
	} else {
		snap.AgeSeconds = minAge
	}

	return snap
}
