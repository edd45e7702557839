package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	client *Client
}

// NewPositionStore creates a PositionStore backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{client: client}
}

const positionSelectCols = `symbol, quantity, average_cost::text, current_price::text,
	market_value::text, unrealized::text, unrealized_pct::text,
	base_quantity, version, last_modified`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p                           domain.Position
		avgCost, curPrice, mktValue string
		unrealized, unrealizedPct   string
	)
	err := row.Scan(
		&p.Symbol, &p.Quantity, &avgCost, &curPrice,
		&mktValue, &unrealized, &unrealizedPct,
		&p.BaseQuantity, &p.Version, &p.LastModified,
	)
	if err != nil {
		return domain.Position{}, err
	}
	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.AverageCost, avgCost},
		{&p.CurrentPrice, curPrice},
		{&p.MarketValue, mktValue},
		{&p.Unrealized, unrealized},
		{&p.UnrealizedPct, unrealizedPct},
	} {
		d, err := decimal.NewFromString(field.src)
		if err != nil {
			return domain.Position{}, fmt.Errorf("parse decimal %q: %w", field.src, err)
		}
		*field.dst = d
	}
	return p, nil
}

// Get retrieves one position by symbol.
func (s *PositionStore) Get(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE symbol = $1`, symbol)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", symbol, err)
	}
	return p, nil
}

// Upsert inserts or fully replaces a position keyed by symbol.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			symbol, quantity, average_cost, current_price,
			market_value, unrealized, unrealized_pct,
			base_quantity, version, last_modified, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric,
			$5::numeric, $6::numeric, $7::numeric,
			$8, $9, $10, NOW()
		)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity       = EXCLUDED.quantity,
			average_cost   = EXCLUDED.average_cost,
			current_price  = EXCLUDED.current_price,
			market_value   = EXCLUDED.market_value,
			unrealized     = EXCLUDED.unrealized,
			unrealized_pct = EXCLUDED.unrealized_pct,
			base_quantity  = EXCLUDED.base_quantity,
			version        = EXCLUDED.version,
			last_modified  = EXCLUDED.last_modified,
			updated_at     = NOW()`

	_, err := s.client.q(ctx).Exec(ctx, query,
		p.Symbol, p.Quantity, p.AverageCost.String(), p.CurrentPrice.String(),
		p.MarketValue.String(), p.Unrealized.String(), p.UnrealizedPct.String(),
		p.BaseQuantity, p.Version, p.LastModified,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// List returns all positions ordered by symbol.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.client.q(ctx).Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return positions, nil
}
