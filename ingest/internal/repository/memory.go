package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

// InMemoryRepository keeps everything in maps. Used by tests and by
// local development without a database.
type InMemoryRepository struct {
	ledger       map[string]*models.LedgerEntry
	ledgerOrder  []string
	stores       map[string]*models.Store
	storesByExt  map[string]*models.Store
	cameras      map[string]*models.Camera
	healthLog    []*models.HealthLogEntry
	healthSerial int64
	mu           sync.RWMutex

	// FailWrites makes ledger inserts fail, simulating a database
	// outage for availability tests.
	FailWrites bool
	WriteErr   error
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		ledger:      make(map[string]*models.LedgerEntry),
		stores:      make(map[string]*models.Store),
		storesByExt: make(map[string]*models.Store),
		cameras:     make(map[string]*models.Camera),
	}
}

// SeedStore registers a store and returns it. Test helper.
func (r *InMemoryRepository) SeedStore(orgID, externalID, name string) *models.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	s := &models.Store{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		ExternalID: externalID,
		Name:       name,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.stores[s.ID] = s
	r.storesByExt[s.ExternalID] = s
	return s
}

func (r *InMemoryRepository) InsertLedgerEntry(_ context.Context, entry *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWrites {
		return false, r.WriteErr
	}

	if _, exists := r.ledger[entry.ReceiptID]; exists {
		return false, nil
	}

	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.ledger[entry.ReceiptID] = &stored
	r.ledgerOrder = append(r.ledgerOrder, entry.ReceiptID)
	return true, nil
}

func (r *InMemoryRepository) GetLedgerEntry(_ context.Context, receiptID string) (*models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.ledger[receiptID]
	if !exists {
		return nil, nil
	}
	return entry, nil
}

func (r *InMemoryRepository) LatestTransition(_ context.Context, eventName, storeID, cameraID string) (*models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.ledgerOrder) - 1; i >= 0; i-- {
		entry := r.ledger[r.ledgerOrder[i]]
		if entry.Direction != models.DirectionOut || entry.EventName != eventName {
			continue
		}
		if entry.StoreID != storeID {
			continue
		}
		if cameraID != "" && entry.CameraID != cameraID {
			continue
		}
		return entry, nil
	}
	return nil, nil
}

func (r *InMemoryRepository) LatestByCooldownScope(_ context.Context, scope, status string) (*models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.ledgerOrder) - 1; i >= 0; i-- {
		entry := r.ledger[r.ledgerOrder[i]]
		if entry.Direction == models.DirectionOut && entry.CooldownScope == scope && entry.CurrentStatus == status {
			return entry, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) GetStoreByExternalID(_ context.Context, externalID string) (*models.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.storesByExt[externalID]
	if !exists {
		return nil, ErrStoreNotFound
	}
	return s, nil
}

func (r *InMemoryRepository) GetStore(_ context.Context, id string) (*models.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.stores[id]
	if !exists {
		return nil, ErrStoreNotFound
	}
	return s, nil
}

func (r *InMemoryRepository) ListActiveStores(_ context.Context) ([]*models.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stores []*models.Store
	for _, s := range r.stores {
		if s.Active {
			stores = append(stores, s)
		}
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].ExternalID < stores[j].ExternalID })
	return stores, nil
}

func (r *InMemoryRepository) UpsertStoreLastSeen(_ context.Context, storeID string, seenAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.stores[storeID]
	if !exists {
		return ErrStoreNotFound
	}
	if s.LastSeenAt == nil || seenAt.After(*s.LastSeenAt) {
		t := seenAt
		s.LastSeenAt = &t
	}
	s.LastError = lastError
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) GetCamerasByStore(_ context.Context, storeID string) ([]*models.Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cameras []*models.Camera
	for _, c := range r.cameras {
		if c.StoreID == storeID && c.Active {
			cameras = append(cameras, c)
		}
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].ExternalID < cameras[j].ExternalID })
	return cameras, nil
}

func (r *InMemoryRepository) FindCamera(_ context.Context, storeID, externalID string) (*models.Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.cameras {
		if c.StoreID == storeID && c.ExternalID == externalID {
			return c, nil
		}
	}
	return nil, ErrCameraNotFound
}

func (r *InMemoryRepository) UpsertCameraHeartbeat(_ context.Context, storeID, externalID string, seenAt *time.Time, lastError string) (*models.Camera, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range r.cameras {
		if c.StoreID == storeID && c.ExternalID == externalID {
			if seenAt != nil && (c.LastSeenAt == nil || seenAt.After(*c.LastSeenAt)) {
				t := *seenAt
				c.LastSeenAt = &t
			}
			c.LastError = lastError
			c.UpdatedAt = now
			return c, nil
		}
	}

	c := &models.Camera{
		ID:         uuid.NewString(),
		StoreID:    storeID,
		ExternalID: externalID,
		Name:       externalID,
		Active:     true,
		LastError:  lastError,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if seenAt != nil {
		t := *seenAt
		c.LastSeenAt = &t
	}
	r.cameras[c.ID] = c
	return c, nil
}

func (r *InMemoryRepository) AppendHealthLog(_ context.Context, cameraID string, seenAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.healthSerial++
	r.healthLog = append(r.healthLog, &models.HealthLogEntry{
		ID:       r.healthSerial,
		CameraID: cameraID,
		SeenAt:   seenAt,
		Error:    lastError,
	})
	return nil
}

// HealthLog returns a copy of the health log. Test helper.
func (r *InMemoryRepository) HealthLog() []*models.HealthLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.HealthLogEntry, len(r.healthLog))
	copy(out, r.healthLog)
	return out
}

// LedgerEntries returns all entries in insertion order. Test helper.
func (r *InMemoryRepository) LedgerEntries() []*models.LedgerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.LedgerEntry, 0, len(r.ledgerOrder))
	for _, id := range r.ledgerOrder {
		out = append(out, r.ledger[id])
	}
	return out
}

func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

func (r *InMemoryRepository) Close() {}
