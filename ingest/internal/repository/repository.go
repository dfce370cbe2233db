package repository

import (
	"context"
	"errors"
	"time"

	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

var (
	ErrStoreNotFound  = errors.New("store not found")
	ErrCameraNotFound = errors.New("camera not found")
)

// Repository is the persistence surface of the gateway. The ledger
// methods carry the dedup semantics: InsertLedgerEntry reports whether
// the row was newly stored, and a duplicate receipt is never an error.
type Repository interface {
	// Ledger
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (inserted bool, err error)
	GetLedgerEntry(ctx context.Context, receiptID string) (*models.LedgerEntry, error)
	LatestTransition(ctx context.Context, eventName, storeID, cameraID string) (*models.LedgerEntry, error)
	LatestByCooldownScope(ctx context.Context, scope, status string) (*models.LedgerEntry, error)

	// Stores
	GetStoreByExternalID(ctx context.Context, externalID string) (*models.Store, error)
	GetStore(ctx context.Context, id string) (*models.Store, error)
	ListActiveStores(ctx context.Context) ([]*models.Store, error)
	UpsertStoreLastSeen(ctx context.Context, storeID string, seenAt time.Time, lastError string) error

	// Cameras
	GetCamerasByStore(ctx context.Context, storeID string) ([]*models.Camera, error)
	FindCamera(ctx context.Context, storeID, externalID string) (*models.Camera, error)
	// UpsertCameraHeartbeat records a camera report, creating the row
	// for a previously unknown camera. A nil seenAt records the error
	// without touching last_seen_at (the camera reported dead).
	UpsertCameraHeartbeat(ctx context.Context, storeID, externalID string, seenAt *time.Time, lastError string) (*models.Camera, error)

	// Health log
	AppendHealthLog(ctx context.Context, cameraID string, seenAt time.Time, lastError string) error

	Ping(ctx context.Context) error
	Close()
}
