package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

func TestInsertLedgerEntryDeduplicates(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	entry := &models.LedgerEntry{
		ReceiptID: "rcp_abc",
		Direction: models.DirectionIn,
		EventName: "edge_heartbeat",
		TS:        time.Now().UTC(),
		Payload:   []byte(`{}`),
	}

	inserted, err := repo.InsertLedgerEntry(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertLedgerEntry(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Len(t, repo.LedgerEntries(), 1)
}

func TestInsertLedgerEntryFailWrites(t *testing.T) {
	repo := NewInMemoryRepository()
	repo.FailWrites = true
	repo.WriteErr = errors.New("connection refused")

	_, err := repo.InsertLedgerEntry(context.Background(), &models.LedgerEntry{ReceiptID: "rcp_x"})
	assert.Error(t, err)
}

func TestLatestTransitionPicksNewest(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	store := repo.SeedStore("org-1", "store-001", "Downtown")

	for i, status := range []string{"offline", "online"} {
		_, err := repo.InsertLedgerEntry(ctx, &models.LedgerEntry{
			ReceiptID:     "rcp_" + status,
			Direction:     models.DirectionOut,
			EventName:     "store_status_changed",
			StoreID:       store.ID,
			CurrentStatus: status,
			TS:            time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	latest, err := repo.LatestTransition(ctx, "store_status_changed", store.ID, "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "online", latest.CurrentStatus)

	none, err := repo.LatestTransition(ctx, "camera_status_changed", store.ID, "cam-missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLatestByCooldownScope(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	_, err := repo.InsertLedgerEntry(ctx, &models.LedgerEntry{
		ReceiptID:     "rcp_cool",
		Direction:     models.DirectionOut,
		EventName:     "store_status_changed",
		CooldownScope: "store:s1",
		CurrentStatus: "degraded",
	})
	require.NoError(t, err)

	hit, err := repo.LatestByCooldownScope(ctx, "store:s1", "degraded")
	require.NoError(t, err)
	assert.NotNil(t, hit)

	miss, err := repo.LatestByCooldownScope(ctx, "store:s1", "offline")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestUpsertCameraHeartbeatCreatesAndNeverRewinds(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	store := repo.SeedStore("org-1", "store-001", "Downtown")

	now := time.Now().UTC()
	cam, err := repo.UpsertCameraHeartbeat(ctx, store.ID, "cam-entrance", &now, "")
	require.NoError(t, err)
	assert.Equal(t, "cam-entrance", cam.ExternalID)
	require.NotNil(t, cam.LastSeenAt)

	// A late heartbeat with an older timestamp must not move last_seen back.
	older := now.Add(-time.Hour)
	cam, err = repo.UpsertCameraHeartbeat(ctx, store.ID, "cam-entrance", &older, "lens fault")
	require.NoError(t, err)
	assert.Equal(t, now, *cam.LastSeenAt)
	assert.Equal(t, "lens fault", cam.LastError)

	// A dead-camera report keeps last_seen untouched.
	cam, err = repo.UpsertCameraHeartbeat(ctx, store.ID, "cam-entrance", nil, "no frames")
	require.NoError(t, err)
	assert.Equal(t, now, *cam.LastSeenAt)
	assert.Equal(t, "no frames", cam.LastError)

	cams, err := repo.GetCamerasByStore(ctx, store.ID)
	require.NoError(t, err)
	assert.Len(t, cams, 1)
}

func TestUpsertCameraHeartbeatDeadUnknownCamera(t *testing.T) {
	repo := NewInMemoryRepository()
	store := repo.SeedStore("org-1", "store-001", "Downtown")

	cam, err := repo.UpsertCameraHeartbeat(context.Background(), store.ID, "cam-dock", nil, "rtsp timeout")
	require.NoError(t, err)
	assert.Nil(t, cam.LastSeenAt)
	assert.Equal(t, "rtsp timeout", cam.LastError)
}

func TestUpsertStoreLastSeenUnknownStore(t *testing.T) {
	repo := NewInMemoryRepository()
	err := repo.UpsertStoreLastSeen(context.Background(), "no-such-id", time.Now(), "")
	assert.ErrorIs(t, err, ErrStoreNotFound)
}
