package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	client *Client
}

// NewInstrumentStore creates an InstrumentStore backed by the given client.
func NewInstrumentStore(client *Client) *InstrumentStore {
	return &InstrumentStore{client: client}
}

// Upsert inserts or replaces instrument metadata keyed by symbol.
func (s *InstrumentStore) Upsert(ctx context.Context, ins domain.Instrument) error {
	_, err := s.client.q(ctx).Exec(ctx, `
		INSERT INTO instruments (symbol, name, exchange, currency, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			name       = EXCLUDED.name,
			exchange   = EXCLUDED.exchange,
			currency   = EXCLUDED.currency,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		ins.Symbol, ins.Name, ins.Exchange, ins.Currency, ins.Active, ins.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert instrument %s: %w", ins.Symbol, err)
	}
	return nil
}

// GetBySymbol retrieves one instrument.
func (s *InstrumentStore) GetBySymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	var ins domain.Instrument
	err := s.client.q(ctx).QueryRow(ctx, `
		SELECT symbol, name, exchange, currency, active, updated_at
		FROM instruments WHERE symbol = $1`, symbol,
	).Scan(&ins.Symbol, &ins.Name, &ins.Exchange, &ins.Currency, &ins.Active, &ins.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", symbol, err)
	}
	return ins, nil
}

// List returns all instruments ordered by symbol.
func (s *InstrumentStore) List(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT symbol, name, exchange, currency, active, updated_at
		FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		var ins domain.Instrument
		if err := rows.Scan(&ins.Symbol, &ins.Name, &ins.Exchange, &ins.Currency, &ins.Active, &ins.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		instruments = append(instruments, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	return instruments, nil
}
