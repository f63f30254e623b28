package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
)

// OutboxStore is the durable outbox ledger. State transitions are single
// UPDATE statements guarded by the expected current status, so the
// pending -> processing claim is a true compare-and-set.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore creates the store over an open database.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

var _ outbox.Store = (*OutboxStore)(nil)

// Create inserts the entry unless its ID already exists.
func (s *OutboxStore) Create(ctx context.Context, e outbox.Entry) (outbox.Entry, bool, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return outbox.Entry{}, false, fmt.Errorf("outbox create: encode payload: %w", err)
	}

	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO outbox_entries (id, chat_id, message_id, action_type, payload, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ChatID, e.MessageID, string(e.ActionType), string(payload),
		string(outbox.StatusPending), e.RetryCount, e.CreatedAt.UnixMilli())
	if err != nil {
		return outbox.Entry{}, false, fmt.Errorf("outbox create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return outbox.Entry{}, false, fmt.Errorf("outbox create: %w", err)
	}

	stored, err := s.Get(ctx, e.ID)
	if err != nil {
		return outbox.Entry{}, false, err
	}
	return stored, n == 0, nil
}

// Get returns the entry, or outbox.ErrNotFound.
func (s *OutboxStore) Get(ctx context.Context, id string) (outbox.Entry, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT id, chat_id, message_id, action_type, payload, status, retry_count, next_attempt_at, created_at, processed_at, last_error
		 FROM outbox_entries WHERE id = ?`, id)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (outbox.Entry, error) {
	var (
		e             outbox.Entry
		actionType    string
		status        string
		payload       string
		nextAttemptAt int64
		createdAt     int64
		processedAt   sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.ChatID, &e.MessageID, &actionType, &payload,
		&status, &e.RetryCount, &nextAttemptAt, &createdAt, &processedAt, &e.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Entry{}, outbox.ErrNotFound
	}
	if err != nil {
		return outbox.Entry{}, fmt.Errorf("outbox get: %w", err)
	}
	e.ActionType = outbox.ActionType(actionType)
	e.Status = outbox.Status(status)
	if nextAttemptAt > 0 {
		e.NextAttemptAt = time.UnixMilli(nextAttemptAt).UTC()
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.ProcessedAt = nullableUnix(processedAt)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return outbox.Entry{}, fmt.Errorf("outbox get: decode payload: %w", err)
		}
	}
	return e, nil
}

// MarkProcessing claims a pending entry atomically.
func (s *OutboxStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	n, err := s.transition(ctx, id,
		`UPDATE outbox_entries SET status = 'processing' WHERE id = ? AND status = 'pending'`)
	return n > 0, err
}

// Complete finishes a processing entry.
func (s *OutboxStore) Complete(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = 'completed', processed_at = ?, last_error = ''
		 WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("outbox complete: %w", err)
	}
	return nil
}

// Retry returns a processing entry to pending with one more retry recorded
// and the next dispatch deferred until nextAttempt.
func (s *OutboxStore) Retry(ctx context.Context, id string, lastError string, nextAttempt time.Time) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = 'pending', retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?
		 WHERE id = ?`, lastError, nextAttempt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("outbox retry: %w", err)
	}
	return nil
}

// Release returns a processing entry to pending without burning a retry.
func (s *OutboxStore) Release(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = 'pending' WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("outbox release: %w", err)
	}
	return nil
}

// Fail marks an entry terminally failed.
func (s *OutboxStore) Fail(ctx context.Context, id string, lastError string) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = 'failed', processed_at = ?, last_error = ?
		 WHERE id = ?`, time.Now().UnixMilli(), lastError, id)
	if err != nil {
		return fmt.Errorf("outbox fail: %w", err)
	}
	return nil
}

func (s *OutboxStore) transition(ctx context.Context, id, stmt string) (int64, error) {
	res, err := s.db.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return 0, fmt.Errorf("outbox transition: %w", err)
	}
	return res.RowsAffected()
}

// ListPending returns pending entries oldest first.
func (s *OutboxStore) ListPending(ctx context.Context) ([]outbox.Entry, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, action_type, payload, status, retry_count, next_attempt_at, created_at, processed_at, last_error
		 FROM outbox_entries WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("outbox list pending: %w", err)
	}
	defer rows.Close()

	var out []outbox.Entry
	for rows.Next() {
		var (
			e             outbox.Entry
			actionType    string
			status        string
			payload       string
			nextAttemptAt int64
			createdAt     int64
			processedAt   sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.ChatID, &e.MessageID, &actionType, &payload,
			&status, &e.RetryCount, &nextAttemptAt, &createdAt, &processedAt, &e.LastError); err != nil {
			return nil, fmt.Errorf("outbox list pending: %w", err)
		}
		e.ActionType = outbox.ActionType(actionType)
		e.Status = outbox.Status(status)
		if nextAttemptAt > 0 {
			e.NextAttemptAt = time.UnixMilli(nextAttemptAt).UTC()
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.ProcessedAt = nullableUnix(processedAt)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("outbox list pending: decode payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts tallies entries per status.
func (s *OutboxStore) Counts(ctx context.Context) (outbox.Metrics, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return outbox.Metrics{}, fmt.Errorf("outbox counts: %w", err)
	}
	defer rows.Close()

	var m outbox.Metrics
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return outbox.Metrics{}, fmt.Errorf("outbox counts: %w", err)
		}
		m.Total += n
		switch outbox.Status(status) {
		case outbox.StatusPending:
			m.Pending = n
		case outbox.StatusProcessing:
			m.Processing = n
		case outbox.StatusCompleted:
			m.Completed = n
		case outbox.StatusFailed:
			m.Failed = n
		}
	}
	return m, rows.Err()
}

// DeleteOlderThan removes terminal entries created before the cutoff.
func (s *OutboxStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM outbox_entries WHERE status IN ('completed', 'failed') AND created_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecoverProcessing reverts entries orphaned mid-dispatch by a crash.
func (s *OutboxStore) RecoverProcessing(ctx context.Context) (int, error) {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox_entries SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("outbox recover: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
