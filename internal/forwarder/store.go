// Package forwarder accepts payloads from the collector (and external
// clients on the loopback intake port), queues them durably in SQLite, and
// relays them to the intake API with retry and backoff.
package forwarder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrEmpty is returned by NextReady when no payload is due.
var ErrEmpty = errors.New("queue empty")

// Payload is one queued intake body.
type Payload struct {
	ID       int64
	Received time.Time
	Attempts int
	Body     []byte
}

// Queue is the durable payload queue. Use ":memory:" for tests, or a file
// under the agent run directory for persistence across restarts.
type Queue struct {
	db *sql.DB
	mu sync.Mutex
}

func NewQueue(dbPath string) (*Queue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	q := &Queue{db: db}
	if err := q.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return q, nil
}

func (q *Queue) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt INTEGER NOT NULL DEFAULT 0,
		body BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_next_attempt ON payloads(next_attempt);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Enqueue stores a payload for delivery.
func (q *Queue) Enqueue(ctx context.Context, body []byte, received time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		"INSERT INTO payloads (received, next_attempt, body) VALUES (?, ?, ?)",
		received.UnixMilli(), received.UnixMilli(), body)
	if err != nil {
		return fmt.Errorf("insert payload: %w", err)
	}
	return nil
}

// NextReady returns the oldest payload if its retry delay has elapsed, or
// ErrEmpty. The head is never skipped: a backing-off head holds delivery of
// everything behind it so payloads arrive at the intake in order.
func (q *Queue) NextReady(ctx context.Context, now time.Time) (*Payload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRowContext(ctx,
		"SELECT id, received, attempts, next_attempt, body FROM payloads ORDER BY id LIMIT 1")

	var p Payload
	var receivedMilli, nextAttemptMilli int64
	if err := row.Scan(&p.ID, &receivedMilli, &p.Attempts, &nextAttemptMilli, &p.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("scan payload: %w", err)
	}
	if nextAttemptMilli > now.UnixMilli() {
		return nil, ErrEmpty
	}
	p.Received = time.UnixMilli(receivedMilli)
	return &p, nil
}

// Remove deletes a delivered (or dropped) payload.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx, "DELETE FROM payloads WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}

// MarkFailure records a failed attempt and schedules the next one.
func (q *Queue) MarkFailure(ctx context.Context, id int64, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		"UPDATE payloads SET attempts = attempts + 1, next_attempt = ? WHERE id = ?",
		nextAttempt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	return nil
}

// DropOlderThan removes payloads received before the cutoff and reports how
// many were dropped.
func (q *Queue) DropOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, "DELETE FROM payloads WHERE received < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expire payloads: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DropOverSize removes the oldest payloads until the total queued bytes fit
// under maxBytes, reporting how many were dropped.
func (q *Queue) DropOverSize(ctx context.Context, maxBytes int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var total int64
	if err := q.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(LENGTH(body)), 0) FROM payloads").Scan(&total); err != nil {
		return 0, fmt.Errorf("sum payload sizes: %w", err)
	}

	dropped := 0
	for total > maxBytes {
		var id, size int64
		err := q.db.QueryRowContext(ctx,
			"SELECT id, LENGTH(body) FROM payloads ORDER BY id LIMIT 1").Scan(&id, &size)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return dropped, fmt.Errorf("scan oldest payload: %w", err)
		}
		if _, err := q.db.ExecContext(ctx, "DELETE FROM payloads WHERE id = ?", id); err != nil {
			return dropped, fmt.Errorf("delete payload: %w", err)
		}
		total -= size
		dropped++
	}
	return dropped, nil
}

// Depth counts payloads waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payloads").Scan(&n); err != nil {
		return 0, fmt.Errorf("count payloads: %w", err)
	}
	return n, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}
