// Package notifier turns liveness transitions into outbound
// notification envelopes. Two layers keep notification volume bounded:
// hard dedup through the ledger's receipt key, and soft dedup through
// per-status cooldowns. The same transition can be discovered twice,
// inline on ingest and by the periodic tick, so both layers matter.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
	"github.com/storepulse-systems/storepulse/ingest/internal/liveness"
	"github.com/storepulse-systems/storepulse/ingest/internal/metrics"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

// Cooldowns holds the minimum spacing between repeated notifications
// of the same status on the same entity.
type Cooldowns struct {
	Online   time.Duration
	Degraded time.Duration
	Offline  time.Duration
}

// DefaultCooldowns returns the shipped cooldown values.
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Online:   0,
		Degraded: 600 * time.Second,
		Offline:  1800 * time.Second,
	}
}

// For returns the cooldown required before re-announcing a status.
func (c Cooldowns) For(status string) time.Duration {
	switch status {
	case models.StatusDegraded:
		return c.Degraded
	case models.StatusOffline:
		return c.Offline
	default:
		return c.Online
	}
}

// Ledger is the slice of the repository the notifier needs.
type Ledger interface {
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	LatestTransition(ctx context.Context, eventName, storeID, cameraID string) (*models.LedgerEntry, error)
	LatestByCooldownScope(ctx context.Context, scope, status string) (*models.LedgerEntry, error)
}

// Notifier detects status transitions and delivers them.
type Notifier struct {
	ledger    Ledger
	channel   Channel
	cooldowns Cooldowns
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a notifier delivering through the given channel.
func New(ledger Ledger, channel Channel, cooldowns Cooldowns, logger *slog.Logger) *Notifier {
	if channel == nil {
		channel = NewLogChannel(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		ledger:    ledger,
		channel:   channel,
		cooldowns: cooldowns,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock. Test helper.
func (n *Notifier) SetNowFunc(now func() time.Time) {
	n.now = now
}

type transition struct {
	eventName     string
	orgID         string
	storeID       string // internal id, ledger column
	cameraID      string // internal id, ledger column, empty for stores
	cooldownScope string
	data          map[string]interface{}
	currentStatus string
}

// ObserveStore compares a store snapshot against the last announced
// store status and notifies when it changed. Returns whether an
// envelope was stored and handed to the channel.
func (n *Notifier) ObserveStore(ctx context.Context, store *models.Store, snap *liveness.StoreSnapshot) (bool, error) {
	data := map[string]interface{}{
		"store_id":       store.ExternalID,
		"current_status": snap.Status,
		"reason":         snap.Reason,
		"counts":         snap.Counts,
		"occurred_at":    n.now().UTC().Format(time.RFC3339),
	}
	if snap.AgeSeconds != nil {
		data["age_seconds"] = *snap.AgeSeconds
	}

	return n.observe(ctx, transition{
		eventName:     envelope.EventStoreStatusChanged,
		orgID:         store.OrgID,
		storeID:       store.ID,
		cooldownScope: fmt.Sprintf("store:%s", store.ID),
		data:          data,
		currentStatus: snap.Status,
	})
}

// ObserveCamera compares one camera snapshot against the last announced
// camera status and notifies when it changed.
func (n *Notifier) ObserveCamera(ctx context.Context, store *models.Store, cam liveness.CameraSnapshot) (bool, error) {
	data := map[string]interface{}{
		"store_id":       store.ExternalID,
		"camera_id":      cam.ExternalID,
		"current_status": cam.Status,
		"reason":         cam.Reason,
		"occurred_at":    n.now().UTC().Format(time.RFC3339),
	}
	if cam.AgeSeconds != nil {
		data["age_seconds"] = *cam.AgeSeconds
	}
	if cam.LastError != "" {
		data["last_error"] = cam.LastError
	}

	return n.observe(ctx, transition{
		eventName:     envelope.EventCameraStatusChanged,
		orgID:         store.OrgID,
		storeID:       store.ID,
		cameraID:      cam.CameraID,
		cooldownScope: fmt.Sprintf("camera:%s", cam.CameraID),
		data:          data,
		currentStatus: cam.Status,
	})
}

func (n *Notifier) observe(ctx context.Context, t transition) (bool, error) {
	prev, err := n.ledger.LatestTransition(ctx, t.eventName, t.storeID, t.cameraID)
	if err != nil {
		return false, fmt.Errorf("failed to load previous transition: %w", err)
	}

	previousStatus := models.StatusUnknown
	if prev != nil {
		previousStatus = prev.CurrentStatus
	}

	if previousStatus == t.currentStatus {
		return false, nil
	}
	// First observation of an entity: announce only when there is
	// something to act on. An entity discovered already online would
	// otherwise notify on every fleet rollout.
	if prev == nil && t.currentStatus == models.StatusOnline {
		return false, nil
	}

	t.data["previous_status"] = previousStatus

	required := n.cooldowns.For(t.currentStatus)
	if required > 0 {
		recent, err := n.ledger.LatestByCooldownScope(ctx, t.cooldownScope, t.currentStatus)
		if err != nil {
			return false, fmt.Errorf("failed to check cooldown: %w", err)
		}
		if recent != nil {
			elapsed := n.now().Sub(recent.CreatedAt)
			if elapsed < required {
				n.logger.Info("transition suppressed by cooldown",
					slog.String("cooldown_scope", t.cooldownScope),
					slog.String("current_status", t.currentStatus),
					slog.Duration("elapsed", elapsed),
					slog.Duration("required", required))
				metrics.TransitionsSuppressed.WithLabelValues(t.eventName).Inc()
				return false, nil
			}
		}
	}

	e := envelope.Build(t.eventName, envelope.SourceBackend, t.data, nil, envelope.CurrentVersion)
	e.OrgID = t.orgID

	payload, err := json.Marshal(e.Data)
	if err != nil {
		return false, fmt.Errorf("failed to encode transition payload: %w", err)
	}

	inserted, err := n.ledger.InsertLedgerEntry(ctx, &models.LedgerEntry{
		ReceiptID:     e.EventID,
		Direction:     models.DirectionOut,
		EventName:     t.eventName,
		EventVersion:  e.EventVersion,
		TS:            e.TS,
		Source:        e.Source,
		OrgID:         t.orgID,
		StoreID:       t.storeID,
		CameraID:      t.cameraID,
		CooldownScope: t.cooldownScope,
		CurrentStatus: t.currentStatus,
		Payload:       payload,
	})
	if err != nil {
		return false, fmt.Errorf("failed to store transition: %w", err)
	}
	if !inserted {
		// Another discovery path already announced this transition
		// inside the same bucket minute.
		return false, nil
	}

	metrics.TransitionsEmitted.WithLabelValues(t.eventName, t.currentStatus).Inc()

	// Delivery is best effort. The transition is on the ledger; a
	// failed webhook must not fail ingestion.
	if err := n.channel.Send(ctx, e); err != nil {
		n.logger.Error("transition delivery failed",
			slog.String("receipt_id", e.EventID),
			slog.String("cooldown_scope", t.cooldownScope),
			slog.String("error", err.Error()))
	}

	return true, nil
}
