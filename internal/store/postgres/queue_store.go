package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// QueueStore implements domain.QueueStore using PostgreSQL.
type QueueStore struct {
	client *Client
}

// NewQueueStore creates a QueueStore backed by the given client.
func NewQueueStore(client *Client) *QueueStore {
	return &QueueStore{client: client}
}

const queueSelectCols = `id, operation_type, payload, enqueued_at, retry_count,
	status, next_retry_at, last_error`

func scanQueueRows(rows pgx.Rows) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	for rows.Next() {
		var (
			item   domain.QueueItem
			opType string
			status string
		)
		if err := rows.Scan(
			&item.ID, &opType, &item.Payload, &item.EnqueuedAt,
			&item.RetryCount, &status, &item.NextRetryAt, &item.LastError,
		); err != nil {
			return nil, err
		}
		item.OperationType = domain.OperationType(opType)
		item.Status = domain.QueueStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Insert appends a new queue item. A duplicate id reports ErrAlreadyExists.
func (s *QueueStore) Insert(ctx context.Context, item domain.QueueItem) error {
	const query = `
		INSERT INTO operation_queue (
			id, operation_type, payload, enqueued_at, retry_count,
			status, next_retry_at, last_error
		) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8)`

	_, err := s.client.q(ctx).Exec(ctx, query,
		item.ID, string(item.OperationType), string(item.Payload),
		item.EnqueuedAt, item.RetryCount, string(item.Status),
		item.NextRetryAt, item.LastError,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert queue item %s: %w", item.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of an existing item.
func (s *QueueStore) Update(ctx context.Context, item domain.QueueItem) error {
	const query = `
		UPDATE operation_queue SET
			retry_count   = $2,
			status        = $3,
			next_retry_at = $4,
			last_error    = $5
		WHERE id = $1`

	tag, err := s.client.q(ctx).Exec(ctx, query,
		item.ID, item.RetryCount, string(item.Status),
		item.NextRetryAt, item.LastError,
	)
	if err != nil {
		return fmt.Errorf("postgres: update queue item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves one item by id.
func (s *QueueStore) Get(ctx context.Context, id string) (domain.QueueItem, error) {
	var (
		item   domain.QueueItem
		opType string
		status string
	)
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+queueSelectCols+` FROM operation_queue WHERE id = $1`, id,
	).Scan(
		&item.ID, &opType, &item.Payload, &item.EnqueuedAt,
		&item.RetryCount, &status, &item.NextRetryAt, &item.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QueueItem{}, domain.ErrNotFound
		}
		return domain.QueueItem{}, fmt.Errorf("postgres: get queue item %s: %w", id, err)
	}
	item.OperationType = domain.OperationType(opType)
	item.Status = domain.QueueStatus(status)
	return item, nil
}

// ListDue returns pending items whose retry time has arrived, in global
// enqueued-at order.
func (s *QueueStore) ListDue(ctx context.Context, now time.Time) ([]domain.QueueItem, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT `+queueSelectCols+` FROM operation_queue
		WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY enqueued_at`,
		string(domain.QueueStatusPending), now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due queue items: %w", err)
	}
	return items, nil
}

// CountPending returns the number of items still awaiting acknowledgment.
func (s *QueueStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM operation_queue WHERE status = $1`,
		string(domain.QueueStatusPending),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending queue items: %w", err)
	}
	return n, nil
}

// ListCompletedBefore returns completed items enqueued before the given
// instant, oldest first. Used by the archiver to select candidates.
func (s *QueueStore) ListCompletedBefore(ctx context.Context, before time.Time) ([]domain.QueueItem, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT `+queueSelectCols+` FROM operation_queue
		WHERE status = $1 AND enqueued_at < $2
		ORDER BY enqueued_at`,
		string(domain.QueueStatusCompleted), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan completed queue items: %w", err)
	}
	return items, nil
}

// DeleteCompleted removes the given items, skipping any that are not in the
// completed state. Returns how many rows were deleted.
func (s *QueueStore) DeleteCompleted(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.client.q(ctx).Exec(ctx, `
		DELETE FROM operation_queue
		WHERE id = ANY($1) AND status = $2`,
		ids, string(domain.QueueStatusCompleted))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete completed queue items: %w", err)
	}
	return tag.RowsAffected(), nil
}
