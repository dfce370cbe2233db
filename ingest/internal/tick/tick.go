// Package tick sweeps every store's liveness on an external trigger.
// It is the safety net for stores that go fully silent: no inbound
// event means no inline transition check, so offline detection has to
// come from here.
package tick

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storepulse-systems/storepulse/ingest/internal/liveness"
	"github.com/storepulse-systems/storepulse/ingest/internal/metrics"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
	"github.com/storepulse-systems/storepulse/ingest/internal/notifier"
	"github.com/storepulse-systems/storepulse/ingest/internal/repository"
)

// Result summarizes one sweep.
type Result struct {
	StoresChecked int `json:"stores_checked"`
	Transitions   int `json:"transitions"`
}

// Driver runs liveness sweeps. Overlapping runs are safe but
// redundant; no cross-instance lock is taken.
type Driver struct {
	repo       repository.Repository
	classifier *liveness.Classifier
	notifier   *notifier.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewDriver creates a tick driver.
func NewDriver(repo repository.Repository, classifier *liveness.Classifier, n *notifier.Notifier, logger *slog.Logger) *Driver {
	if classifier == nil {
		classifier = liveness.NewClassifier(liveness.DefaultThresholds())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		repo:       repo,
		classifier: classifier,
		notifier:   n,
		logger:     logger,
		now:        time.Now,
	}
}

// SetNowFunc overrides the clock. Test helper.
func (d *Driver) SetNowFunc(now func() time.Time) {
	d.now = now
}

// Run sweeps all active stores, or one store when storeExternalID is
// set. Per-store failures are logged and do not stop the sweep.
func (d *Driver) Run(ctx context.Context, storeExternalID string) (*Result, error) {
	started := d.now()
	defer func() {
		metrics.TickDuration.Observe(d.now().Sub(started).Seconds())
	}()

	var stores []*models.Store
	if storeExternalID != "" {
		store, err := d.repo.GetStoreByExternalID(ctx, storeExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
		stores = []*models.Store{store}
	} else {
		var err error
		stores, err = d.repo.ListActiveStores(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stores: %w", err)
		}
	}

	result := &Result{}
	for _, store := range stores {
		result.StoresChecked++
		metrics.TickStoresChecked.Inc()

		transitions, err := d.checkStore(ctx, store)
		if err != nil {
			d.logger.Error("tick check failed",
				slog.String("store_id", store.ExternalID),
				slog.String("error", err.Error()))
			continue
		}
		result.Transitions += transitions
	}

	d.logger.Info("tick sweep complete",
		slog.Int("stores_checked", result.StoresChecked),
		slog.Int("transitions", result.Transitions),
		slog.Duration("took", d.now().Sub(started)))

	return result, nil
}

func (d *Driver) checkStore(ctx context.Context, store *models.Store) (int, error) {
	cameras, err := d.repo.GetCamerasByStore(ctx, store.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load cameras: %w", err)
	}

	snap := d.classifier.Snapshot(store, cameras, d.now().UTC())

	transitions := 0
	emitted, err := d.notifier.ObserveStore(ctx, store, snap)
	if err != nil {
		return transitions, err
	}
	if emitted {
		transitions++
	}

	for _, cam := range snap.Cameras {
		emitted, err := d.notifier.ObserveCamera(ctx, store, cam)
		if err != nil {
			d.logger.Error("camera tick check failed",
				slog.String("store_id", store.ExternalID),
				slog.String("camera_id", cam.ExternalID),
				slog.String("error", err.Error()))
			continue
		}
		if emitted {
			transitions++
		}
	}

	return transitions, nil
}
