package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LotStore implements domain.LotStore using PostgreSQL.
type LotStore struct {
	client *Client
}

// NewLotStore creates a LotStore backed by the given client.
func NewLotStore(client *Client) *LotStore {
	return &LotStore{client: client}
}

// ListBySymbol returns a symbol's open lots in FIFO consumption order.
func (s *LotStore) ListBySymbol(ctx context.Context, symbol string) ([]domain.CostBasisLot, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT transaction_id, symbol, quantity, unit_price::text, acquired_at
		FROM cost_basis_lots
		WHERE symbol = $1
		ORDER BY acquired_at, transaction_id`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots %s: %w", symbol, err)
	}
	defer rows.Close()

	var lots []domain.CostBasisLot
	for rows.Next() {
		var (
			lot   domain.CostBasisLot
			price string
		)
		if err := rows.Scan(&lot.TransactionID, &lot.Symbol, &lot.Quantity, &price, &lot.AcquiredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		lot.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse lot price %q: %w", price, err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list lots %s: %w", symbol, err)
	}
	return lots, nil
}

// ReplaceForSymbol swaps a symbol's entire lot set for the given one. The
// ledger recomputes the full set on every mutation, so the store replaces
// rather than patches.
func (s *LotStore) ReplaceForSymbol(ctx context.Context, symbol string, lots []domain.CostBasisLot) error {
	q := s.client.q(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM cost_basis_lots WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("postgres: clear lots %s: %w", symbol, err)
	}
	for _, lot := range lots {
		_, err := q.Exec(ctx, `
			INSERT INTO cost_basis_lots (transaction_id, symbol, quantity, unit_price, acquired_at)
			VALUES ($1, $2, $3, $4::numeric, $5)`,
			lot.TransactionID, symbol, lot.Quantity, lot.UnitPrice.String(), lot.AcquiredAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert lot %s: %w", lot.TransactionID, err)
		}
	}
	return nil
}
