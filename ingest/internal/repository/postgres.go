package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storepulse-systems/storepulse/ingest/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// InsertLedgerEntry stores a ledger row if the receipt has not been
// seen before. ON CONFLICT DO NOTHING makes the insert-if-absent
// atomic under concurrent retries of the same receipt.
func (r *PostgresRepository) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	query := `
		INSERT INTO event_ledger (
			receipt_id, direction, event_name, event_version, ts, source,
			org_id, store_id, camera_id, cooldown_scope, current_status, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, NULLIF($8, '')::uuid,
		        NULLIF($9, '')::uuid, NULLIF($10, ''), NULLIF($11, ''), $12)
		ON CONFLICT (receipt_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		entry.ReceiptID, entry.Direction, entry.EventName, entry.EventVersion,
		entry.TS, entry.Source, entry.OrgID, entry.StoreID, entry.CameraID,
		entry.CooldownScope, entry.CurrentStatus, entry.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetLedgerEntry retrieves a ledger row by receipt id
func (r *PostgresRepository) GetLedgerEntry(ctx context.Context, receiptID string) (*models.LedgerEntry, error) {
	query := `
		SELECT receipt_id, direction, event_name, event_version, ts, source,
		       COALESCE(org_id::text, ''), COALESCE(store_id::text, ''),
		       COALESCE(camera_id::text, ''), COALESCE(cooldown_scope, ''),
		       COALESCE(current_status, ''), payload, created_at
		FROM event_ledger
		WHERE receipt_id = $1
	`

	entry := &models.LedgerEntry{}
	err := r.pool.QueryRow(ctx, query, receiptID).Scan(
		&entry.ReceiptID, &entry.Direction, &entry.EventName, &entry.EventVersion,
		&entry.TS, &entry.Source, &entry.OrgID, &entry.StoreID, &entry.CameraID,
		&entry.CooldownScope, &entry.CurrentStatus, &entry.Payload, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return entry, nil
}

// LatestTransition returns the most recent outbound transition entry
// for the given event name and entity, or nil when none exists.
func (r *PostgresRepository) LatestTransition(ctx context.Context, eventName, storeID, cameraID string) (*models.LedgerEntry, error) {
	query := `
		SELECT receipt_id, direction, event_name, event_version, ts, source,
		       COALESCE(org_id::text, ''), COALESCE(store_id::text, ''),
		       COALESCE(camera_id::text, ''), COALESCE(cooldown_scope, ''),
		       COALESCE(current_status, ''), payload, created_at
		FROM event_ledger
		WHERE direction = 'out' AND event_name = $1 AND store_id = $2::uuid
		  AND ($3 = '' OR camera_id = $3::uuid)
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry := &models.LedgerEntry{}
	err := r.pool.QueryRow(ctx, query, eventName, storeID, cameraID).Scan(
		&entry.ReceiptID, &entry.Direction, &entry.EventName, &entry.EventVersion,
		&entry.TS, &entry.Source, &entry.OrgID, &entry.StoreID, &entry.CameraID,
		&entry.CooldownScope, &entry.CurrentStatus, &entry.Payload, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest transition: %w", err)
	}

	return entry, nil
}

// LatestByCooldownScope returns the most recent outbound entry for a
// cooldown scope and status, or nil when none exists.
func (r *PostgresRepository) LatestByCooldownScope(ctx context.Context, scope, status string) (*models.LedgerEntry, error) {
	query := `
		SELECT receipt_id, direction, event_name, event_version, ts, source,
		       COALESCE(org_id::text, ''), COALESCE(store_id::text, ''),
		       COALESCE(camera_id::text, ''), COALESCE(cooldown_scope, ''),
		       COALESCE(current_status, ''), payload, created_at
		FROM event_ledger
		WHERE direction = 'out' AND cooldown_scope = $1 AND current_status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry := &models.LedgerEntry{}
	err := r.pool.QueryRow(ctx, query, scope, status).Scan(
		&entry.ReceiptID, &entry.Direction, &entry.EventName, &entry.EventVersion,
		&entry.TS, &entry.Source, &entry.OrgID, &entry.StoreID, &entry.CameraID,
		&entry.CooldownScope, &entry.CurrentStatus, &entry.Payload, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest cooldown entry: %w", err)
	}

	return entry, nil
}

// GetStoreByExternalID retrieves a store by the identifier edges use
func (r *PostgresRepository) GetStoreByExternalID(ctx context.Context, externalID string) (*models.Store, error) {
	return r.getStore(ctx, "external_id = $1", externalID)
}

// GetStore retrieves a store by internal id
func (r *PostgresRepository) GetStore(ctx context.Context, id string) (*models.Store, error) {
	return r.getStore(ctx, "id = $1::uuid", id)
}

func (r *PostgresRepository) getStore(ctx context.Context, where, arg string) (*models.Store, error) {
	query := fmt.Sprintf(`
		SELECT id, org_id, external_id, name, active, last_seen_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM stores
		WHERE %s
	`, where)

	s := &models.Store{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&s.ID, &s.OrgID, &s.ExternalID, &s.Name, &s.Active,
		&s.LastSeenAt, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	return s, nil
}

// ListActiveStores retrieves all active stores
func (r *PostgresRepository) ListActiveStores(ctx context.Context) ([]*models.Store, error) {
	query := `
		SELECT id, org_id, external_id, name, active, last_seen_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM stores
		WHERE active = TRUE
		ORDER BY external_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		s := &models.Store{}
		if err := rows.Scan(
			&s.ID, &s.OrgID, &s.ExternalID, &s.Name, &s.Active,
			&s.LastSeenAt, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, s)
	}

	return stores, rows.Err()
}

// UpsertStoreLastSeen records the latest heartbeat time for a store.
// Older heartbeats arriving after newer ones never move the clock back.
func (r *PostgresRepository) UpsertStoreLastSeen(ctx context.Context, storeID string, seenAt time.Time, lastError string) error {
	query := `
		UPDATE stores
		SET last_seen_at = GREATEST(COALESCE(last_seen_at, 'epoch'::timestamptz), $2),
		    last_error = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1::uuid
	`

	tag, err := r.pool.Exec(ctx, query, storeID, seenAt, lastError)
	if err != nil {
		return fmt.Errorf("failed to update store last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}

	return nil
}

// GetCamerasByStore retrieves all active cameras of a store
func (r *PostgresRepository) GetCamerasByStore(ctx context.Context, storeID string) ([]*models.Camera, error) {
	query := `
		SELECT id, store_id, external_id, name, active, last_seen_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM cameras
		WHERE store_id = $1::uuid AND active = TRUE
		ORDER BY external_id
	`

	rows, err := r.pool.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*models.Camera
	for rows.Next() {
		c := &models.Camera{}
		if err := rows.Scan(
			&c.ID, &c.StoreID, &c.ExternalID, &c.Name, &c.Active,
			&c.LastSeenAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, c)
	}

	return cameras, rows.Err()
}

// FindCamera retrieves a camera of a store by its external id
func (r *PostgresRepository) FindCamera(ctx context.Context, storeID, externalID string) (*models.Camera, error) {
	query := `
		SELECT id, store_id, external_id, name, active, last_seen_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM cameras
		WHERE store_id = $1::uuid AND external_id = $2
	`

	c := &models.Camera{}
	err := r.pool.QueryRow(ctx, query, storeID, externalID).Scan(
		&c.ID, &c.StoreID, &c.ExternalID, &c.Name, &c.Active,
		&c.LastSeenAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCameraNotFound
		}
		return nil, fmt.Errorf("failed to find camera: %w", err)
	}

	return c, nil
}

// UpsertCameraHeartbeat records a camera report, creating the camera
// row the first time an unknown camera shows up. A nil seenAt records
// the error only.
func (r *PostgresRepository) UpsertCameraHeartbeat(ctx context.Context, storeID, externalID string, seenAt *time.Time, lastError string) (*models.Camera, error) {
	query := `
		INSERT INTO cameras (store_id, external_id, name, last_seen_at, last_error)
		VALUES ($1::uuid, $2, $2, $3, NULLIF($4, ''))
		ON CONFLICT (store_id, external_id) DO UPDATE SET
			last_seen_at = CASE
				WHEN EXCLUDED.last_seen_at IS NULL THEN cameras.last_seen_at
				ELSE GREATEST(COALESCE(cameras.last_seen_at, 'epoch'::timestamptz), EXCLUDED.last_seen_at)
			END,
			last_error = EXCLUDED.last_error,
			updated_at = now()
		RETURNING id, store_id, external_id, name, active, last_seen_at,
		          COALESCE(last_error, ''), created_at, updated_at
	`

	c := &models.Camera{}
	err := r.pool.QueryRow(ctx, query, storeID, externalID, seenAt, lastError).Scan(
		&c.ID, &c.StoreID, &c.ExternalID, &c.Name, &c.Active,
		&c.LastSeenAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert camera heartbeat: %w", err)
	}

	return c, nil
}

// AppendHealthLog appends one observation to the camera health log
func (r *PostgresRepository) AppendHealthLog(ctx context.Context, cameraID string, seenAt time.Time, lastError string) error {
	query := `
		INSERT INTO camera_health_log (camera_id, seen_at, error)
		VALUES ($1::uuid, $2, NULLIF($3, ''))
	`

	if _, err := r.pool.Exec(ctx, query, cameraID, seenAt, lastError); err != nil {
		return fmt.Errorf("failed to append health log: %w", err)
	}

	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
