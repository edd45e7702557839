package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CursorStore implements domain.CursorStore using PostgreSQL. The cursor is a
// single row; a zero time means no cycle has completed yet.
type CursorStore struct {
	client *Client
}

// NewCursorStore creates a CursorStore backed by the given client.
func NewCursorStore(client *Client) *CursorStore {
	return &CursorStore{client: client}
}

// Get returns the last successfully synced instant, zero when none exists.
func (s *CursorStore) Get(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT last_synced_at FROM sync_cursor WHERE id`,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("postgres: get sync cursor: %w", err)
	}
	return t, nil
}

// Set records the last successfully synced instant.
func (s *CursorStore) Set(ctx context.Context, t time.Time) error {
	_, err := s.client.q(ctx).Exec(ctx, `
		INSERT INTO sync_cursor (id, last_synced_at) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET last_synced_at = EXCLUDED.last_synced_at`, t)
	if err != nil {
		return fmt.Errorf("postgres: set sync cursor: %w", err)
	}
	return nil
}
