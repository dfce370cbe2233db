// Package service implements the ingestion gateway: validate, dedup,
// apply side effects exactly once, and answer with the receipt.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
	"github.com/storepulse-systems/storepulse/ingest/internal/alertclient"
	"github.com/storepulse-systems/storepulse/ingest/internal/auth"
	"github.com/storepulse-systems/storepulse/ingest/internal/bus"
	"github.com/storepulse-systems/storepulse/ingest/internal/events"
	"github.com/storepulse-systems/storepulse/ingest/internal/liveness"
	"github.com/storepulse-systems/storepulse/ingest/internal/metrics"
	"github.com/storepulse-systems/storepulse/ingest/internal/metricstore"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
	"github.com/storepulse-systems/storepulse/ingest/internal/notifier"
	"github.com/storepulse-systems/storepulse/ingest/internal/repository"
)

// ErrLedgerUnavailable marks a transient storage failure. The caller
// should retry; the event was not recorded.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ValidationError rejects a request as malformed. Code is a stable
// machine-readable reason.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Validation codes.
const (
	CodeMissingEventName = "missing_event_name"
	CodeInvalidStoreID   = "invalid_store_id"
	CodeUnknownStore     = "unknown_store"
	CodeCameraNotFound   = "camera_not_found"
	CodeInvalidPayload   = "invalid_payload"
)

var storeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Result is what the gateway reports back for an accepted envelope.
type Result struct {
	ReceiptID string
	Stored    bool
	Deduped   bool
}

// Gateway is the ingestion service.
type Gateway struct {
	repo       repository.Repository
	auth       *auth.Authenticator
	classifier *liveness.Classifier
	notifier   *notifier.Notifier
	alerts     alertclient.Forwarder
	metricSink metricstore.Sink
	bus        bus.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewGateway wires the gateway. Alert forwarding, metric sink and bus
// may be nil; those side effects are then skipped.
func NewGateway(
	repo repository.Repository,
	authn *auth.Authenticator,
	classifier *liveness.Classifier,
	n *notifier.Notifier,
	alerts alertclient.Forwarder,
	metricSink metricstore.Sink,
	publisher bus.Publisher,
	logger *slog.Logger,
) *Gateway {
	if classifier == nil {
		classifier = liveness.NewClassifier(liveness.DefaultThresholds())
	}
	if metricSink == nil {
		metricSink = metricstore.NoOpSink{}
	}
	if publisher == nil {
		publisher = bus.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		repo:       repo,
		auth:       authn,
		classifier: classifier,
		notifier:   n,
		alerts:     alerts,
		metricSink: metricSink,
		bus:        publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// SetNowFunc overrides the clock. Test helper.
func (g *Gateway) SetNowFunc(now func() time.Time) {
	g.now = now
}

// Ingest runs one envelope through the gateway. The receipt insert is
// the idempotency gate: everything after it happens at most once per
// receipt, and a replay is answered without any side effect.
func (g *Gateway) Ingest(ctx context.Context, principal *auth.Principal, e *envelope.Envelope) (*Result, error) {
	if e.EventName == "" {
		return nil, &ValidationError{Code: CodeMissingEventName, Detail: "event_name is required"}
	}

	payload, err := events.Decode(e)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidPayload, Detail: err.Error()}
	}

	storeRef := payload.StoreRef()
	if !storeIDPattern.MatchString(storeRef) {
		return nil, &ValidationError{Code: CodeInvalidStoreID, Detail: "store_id is required and must be a well-formed identifier"}
	}

	store, err := g.repo.GetStoreByExternalID(ctx, storeRef)
	if err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			return nil, &ValidationError{Code: CodeUnknownStore, Detail: fmt.Sprintf("store %q is not registered", storeRef)}
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	if err := g.auth.Authorize(principal, store); err != nil {
		return nil, err
	}

	// Heartbeats may introduce cameras; every other kind must reference
	// one that already exists, so malformed payloads cannot fabricate
	// entities.
	var camera *models.Camera
	cameraRef := payload.CameraRef()
	if cameraRef != "" && !isHeartbeat(e.EventName) {
		camera, err = g.repo.FindCamera(ctx, store.ID, cameraRef)
		if err != nil {
			if errors.Is(err, repository.ErrCameraNotFound) {
				return nil, &ValidationError{Code: CodeCameraNotFound, Detail: fmt.Sprintf("camera %q is not registered for store %q", cameraRef, storeRef)}
			}
			return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
	}

	e.EventID = envelope.DeriveReceiptID(e)

	rawData, err := json.Marshal(e.Data)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidPayload, Detail: err.Error()}
	}

	entry := &models.LedgerEntry{
		ReceiptID:    e.EventID,
		Direction:    models.DirectionIn,
		EventName:    e.EventName,
		EventVersion: e.EventVersion,
		TS:           e.TS,
		Source:       e.Source,
		OrgID:        store.OrgID,
		StoreID:      store.ID,
		Payload:      rawData,
	}
	if camera != nil {
		entry.CameraID = camera.ID
	}

	inserted, err := g.repo.InsertLedgerEntry(ctx, entry)
	if err != nil {
		metrics.LedgerErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if !inserted {
		metrics.LedgerDuplicates.Inc()
		metrics.EventsTotal.WithLabelValues(e.EventName, "deduped").Inc()
		return &Result{ReceiptID: e.EventID, Stored: true, Deduped: true}, nil
	}
	metrics.LedgerInserts.Inc()
	metrics.EventsTotal.WithLabelValues(e.EventName, "stored").Inc()

	g.applySideEffects(ctx, store, e, payload)

	if err := g.bus.PublishEnvelope(ctx, e); err != nil {
		g.logger.Warn("bus publish failed",
			slog.String("receipt_id", e.EventID),
			slog.String("event_name", e.EventName),
			slog.String("error", err.Error()))
	}

	return &Result{ReceiptID: e.EventID, Stored: true, Deduped: false}, nil
}

func (g *Gateway) applySideEffects(ctx context.Context, store *models.Store, e *envelope.Envelope, payload *events.Payload) {
	switch {
	case isHeartbeat(e.EventName):
		g.applyHeartbeat(ctx, store, e, payload)
	case payload.Alert != nil:
		if g.alerts != nil {
			if err := g.alerts.Forward(ctx, e); err != nil {
				g.logger.Error("alert forward failed",
					slog.String("receipt_id", e.EventID),
					slog.String("store_id", store.ExternalID),
					slog.String("error", err.Error()))
			}
		}
	case payload.MetricBucket != nil:
		if err := g.metricSink.Store(ctx, e.EventID, payload.MetricBucket); err != nil {
			g.logger.Error("metric bucket store failed",
				slog.String("receipt_id", e.EventID),
				slog.String("store_id", store.ExternalID),
				slog.String("error", err.Error()))
		}
	}
}

// applyHeartbeat mutates liveness facts and runs the transition check
// inline, so a store coming back (or dropping out) is announced on the
// very request that proves it.
func (g *Gateway) applyHeartbeat(ctx context.Context, store *models.Store, e *envelope.Envelope, payload *events.Payload) {
	now := g.now().UTC()
	occurredAt, ok := payload.OccurredAt()
	if !ok {
		occurredAt = e.TS
	}
	occurredAt = occurredAt.UTC()

	camerasBefore, err := g.repo.GetCamerasByStore(ctx, store.ID)
	if err != nil {
		g.logger.Error("pre-snapshot camera load failed",
			slog.String("store_id", store.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	preSnap := g.classifier.Snapshot(store, camerasBefore, now)

	switch {
	case payload.Heartbeat != nil:
		for _, cs := range payload.Heartbeat.Cameras {
			g.upsertCamera(ctx, store, cs.CameraID, cs.Alive, cs.Error, occurredAt)
		}
	case payload.CameraHeartbeat != nil:
		hb := payload.CameraHeartbeat
		g.upsertCamera(ctx, store, hb.CameraID, hb.Alive, hb.Error, occurredAt)
	}

	// Any heartbeat kind proves the agent process is alive.
	if err := g.repo.UpsertStoreLastSeen(ctx, store.ID, occurredAt, ""); err != nil {
		g.logger.Error("store last seen update failed",
			slog.String("store_id", store.ExternalID),
			slog.String("error", err.Error()))
	}

	storeAfter, err := g.repo.GetStore(ctx, store.ID)
	if err != nil {
		g.logger.Error("post-snapshot store load failed",
			slog.String("store_id", store.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	camerasAfter, err := g.repo.GetCamerasByStore(ctx, storeAfter.ID)
	if err != nil {
		g.logger.Error("post-snapshot camera load failed",
			slog.String("store_id", store.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	postSnap := g.classifier.Snapshot(storeAfter, camerasAfter, now)

	g.detectTransitions(ctx, storeAfter, preSnap, postSnap)
}

func (g *Gateway) upsertCamera(ctx context.Context, store *models.Store, externalID string, alive bool, lastError string, occurredAt time.Time) {
	if externalID == "" {
		return
	}

	var seenAt *time.Time
	if alive {
		seenAt = &occurredAt
	}

	cam, err := g.repo.UpsertCameraHeartbeat(ctx, store.ID, externalID, seenAt, lastError)
	if err != nil {
		g.logger.Error("camera heartbeat upsert failed",
			slog.String("store_id", store.ExternalID),
			slog.String("camera_id", externalID),
			slog.String("error", err.Error()))
		return
	}

	if err := g.repo.AppendHealthLog(ctx, cam.ID, occurredAt, lastError); err != nil {
		g.logger.Error("health log append failed",
			slog.String("camera_id", cam.ID),
			slog.String("error", err.Error()))
	}
}

func (g *Gateway) detectTransitions(ctx context.Context, store *models.Store, pre, post *liveness.StoreSnapshot) {
	if g.notifier == nil {
		return
	}

	if pre.Status != post.Status {
		if _, err := g.notifier.ObserveStore(ctx, store, post); err != nil {
			g.logger.Error("store transition check failed",
				slog.String("store_id", store.ExternalID),
				slog.String("error", err.Error()))
		}
	}

	preByCamera := make(map[string]string, len(pre.Cameras))
	for _, cam := range pre.Cameras {
		preByCamera[cam.ExternalID] = cam.Status
	}
	for _, cam := range post.Cameras {
		if prev, seen := preByCamera[cam.ExternalID]; seen && prev == cam.Status {
			continue
		}
		if _, err := g.notifier.ObserveCamera(ctx, store, cam); err != nil {
			g.logger.Error("camera transition check failed",
				slog.String("store_id", store.ExternalID),
				slog.String("camera_id", cam.ExternalID),
				slog.String("error", err.Error()))
		}
	}
}

// StoreSnapshot answers the dashboard read path for one store.
func (g *Gateway) StoreSnapshot(ctx context.Context, externalID string) (*liveness.StoreSnapshot, error) {
	store, err := g.repo.GetStoreByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	cameras, err := g.repo.GetCamerasByStore(ctx, store.ID)
	if err != nil {
		return nil, err
	}
	return g.classifier.Snapshot(store, cameras, g.now().UTC()), nil
}

// AllSnapshots computes snapshots for every active store.
func (g *Gateway) AllSnapshots(ctx context.Context) ([]*liveness.StoreSnapshot, error) {
	stores, err := g.repo.ListActiveStores(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]*liveness.StoreSnapshot, 0, len(stores))
	for _, store := range stores {
		cameras, err := g.repo.GetCamerasByStore(ctx, store.ID)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, g.classifier.Snapshot(store, cameras, g.now().UTC()))
	}
	return snaps, nil
}

func isHeartbeat(eventName string) bool {
	return eventName == envelope.EventEdgeHeartbeat || eventName == envelope.EventEdgeCameraHeartbeat
}
