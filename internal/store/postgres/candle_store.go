package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL.
type CandleStore struct {
	client *Client
}

// NewCandleStore creates a CandleStore backed by the given client.
func NewCandleStore(client *Client) *CandleStore {
	return &CandleStore{client: client}
}

// InsertBatch stores a batch of candles, replacing bars already present for
// the same (symbol, interval, opened_at).
func (s *CandleStore) InsertBatch(ctx context.Context, candles []domain.Candle) error {
	q := s.client.q(ctx)
	for _, c := range candles {
		_, err := q.Exec(ctx, `
			INSERT INTO candles (symbol, interval, open, high, low, close, volume, opened_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7, $8)
			ON CONFLICT (symbol, interval, opened_at) DO UPDATE SET
				open   = EXCLUDED.open,
				high   = EXCLUDED.high,
				low    = EXCLUDED.low,
				close  = EXCLUDED.close,
				volume = EXCLUDED.volume`,
			c.Symbol, c.Interval,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
			c.Volume, c.OpenedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert candle %s/%s: %w", c.Symbol, c.Interval, err)
		}
	}
	return nil
}

// ListBySymbol returns candles for a symbol and interval in bar order.
func (s *CandleStore) ListBySymbol(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	query := `
		SELECT symbol, interval, open::text, high::text, low::text, close::text, volume, opened_at
		FROM candles WHERE symbol = $1 AND interval = $2 ORDER BY opened_at`
	args := []any{symbol, interval}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles %s/%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var (
			c                          domain.Candle
			openS, highS, lowS, closeS string
		)
		if err := rows.Scan(&c.Symbol, &c.Interval, &openS, &highS, &lowS, &closeS, &c.Volume, &c.OpenedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		for _, field := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&c.Open, openS}, {&c.High, highS}, {&c.Low, lowS}, {&c.Close, closeS},
		} {
			d, err := decimal.NewFromString(field.src)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse candle decimal %q: %w", field.src, err)
			}
			*field.dst = d
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list candles %s/%s: %w", symbol, interval, err)
	}
	return candles, nil
}
