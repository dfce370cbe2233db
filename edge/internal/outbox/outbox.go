// Package outbox implements the edge-local durable queue of envelopes
// awaiting confirmed delivery. Records survive process restarts; nothing is
// removed until the server acknowledges receipt or the record is dropped as
// a poison pill.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"

	_ "modernc.org/sqlite"
)

// Record delivery states.
const (
	StatePending = "pending"
	StateSent    = "sent"
	StateDropped = "dropped"
)

// Record is one queued envelope with its delivery bookkeeping.
type Record struct {
	ID            int64
	Envelope      *envelope.Envelope
	Attempts      int
	NextAttemptAt time.Time
	State         string
	LastError     string
}

// Queue is a sqlite-backed outbox. All operations are serialized through a
// single connection so no record is concurrently claimed by two flush
// attempts.
type Queue struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger
}

// Open initializes the queue database, creating directories and schema as
// needed. capacity bounds the number of pending records; zero or negative
// means unbounded.
func Open(path string, capacity int, logger *slog.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{db: db, capacity: capacity, logger: logger}
	if err := q.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			envelope TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(state, next_attempt_at);`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init outbox schema: %w", err)
		}
	}
	return nil
}

// Enqueue durably appends a pending record. It never touches the network.
// When the queue is at capacity the oldest pending records are dropped
// first, with a log line; enqueue itself does not fail for capacity.
func (q *Queue) Enqueue(ctx context.Context, e *envelope.Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if q.capacity > 0 {
		if err := q.evictOldest(ctx); err != nil {
			return err
		}
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO outbox (envelope, attempts, next_attempt_at, state)
		 VALUES (?, 0, ?, ?)`,
		string(raw), time.Now().UTC().Format(time.RFC3339Nano), StatePending,
	)
	if err != nil {
		return fmt.Errorf("enqueue envelope: %w", err)
	}
	return nil
}

func (q *Queue) evictOldest(ctx context.Context) error {
	var pending int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE state = ?`, StatePending,
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending < q.capacity {
		return nil
	}

	excess := pending - q.capacity + 1
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE id IN (
			SELECT id FROM outbox WHERE state = ? ORDER BY id ASC LIMIT ?
		)`, StatePending, excess,
	)
	if err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.logger.Warn("outbox at capacity, dropped oldest pending records",
			slog.Int64("dropped", n), slog.Int("capacity", q.capacity))
	}
	return nil
}

// PeekBatch returns up to limit pending records that are eligible to send
// (next attempt time has passed), ordered by insertion. Records are not
// removed or claimed.
func (q *Queue) PeekBatch(ctx context.Context, limit int) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, envelope, attempts, next_attempt_at, state, COALESCE(last_error, '')
		 FROM outbox
		 WHERE state = ? AND next_attempt_at <= ?
		 ORDER BY id ASC
		 LIMIT ?`,
		StatePending, time.Now().UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("peek batch: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			raw      string
			nextAtRaw string
		)
		if err := rows.Scan(&rec.ID, &raw, &rec.Attempts, &nextAtRaw, &rec.State, &rec.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		var e envelope.Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("unmarshal envelope for record %d: %w", rec.ID, err)
		}
		rec.Envelope = &e
		if t, err := time.Parse(time.RFC3339Nano, nextAtRaw); err == nil {
			rec.NextAttemptAt = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return records, nil
}

// MarkSent records a server acknowledgement for the record.
func (q *Queue) MarkSent(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE outbox SET state = ? WHERE id = ?`, StateSent, id,
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed increments the attempt count and pushes the next eligible send
// time out by backoff. The record stays pending.
func (q *Queue) MarkFailed(ctx context.Context, id int64, sendErr string, backoff time.Duration) error {
	next := time.Now().UTC().Add(backoff).Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx,
		`UPDATE outbox
		 SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		 WHERE id = ?`,
		next, sendErr, id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkDropped terminally abandons a record that the server keeps rejecting.
func (q *Queue) MarkDropped(ctx context.Context, id int64, sendErr string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE outbox SET state = ?, last_error = ? WHERE id = ?`,
		StateDropped, sendErr, id,
	)
	if err != nil {
		return fmt.Errorf("mark dropped: %w", err)
	}
	return nil
}

// PendingDepth reports the number of pending records, including those not
// yet eligible for retry.
func (q *Queue) PendingDepth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE state = ?`, StatePending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending depth: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}
