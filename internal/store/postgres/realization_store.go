package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// RealizationStore implements domain.RealizationStore using PostgreSQL.
type RealizationStore struct {
	client *Client
}

// NewRealizationStore creates a RealizationStore backed by the given client.
func NewRealizationStore(client *Client) *RealizationStore {
	return &RealizationStore{client: client}
}

// lotRecord is the JSONB shape of one remaining lot inside a realization row.
type lotRecord struct {
	TransactionID string    `json:"transaction_id"`
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	UnitPrice     string    `json:"unit_price"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

func encodeLots(lots []domain.CostBasisLot) ([]byte, error) {
	records := make([]lotRecord, len(lots))
	for i, lot := range lots {
		records[i] = lotRecord{
			TransactionID: lot.TransactionID,
			Symbol:        lot.Symbol,
			Quantity:      lot.Quantity,
			UnitPrice:     lot.UnitPrice.String(),
			AcquiredAt:    lot.AcquiredAt,
		}
	}
	return json.Marshal(records)
}

func decodeLots(data []byte) ([]domain.CostBasisLot, error) {
	var records []lotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	lots := make([]domain.CostBasisLot, len(records))
	for i, rec := range records {
		price, err := decimal.NewFromString(rec.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("parse lot price %q: %w", rec.UnitPrice, err)
		}
		lots[i] = domain.CostBasisLot{
			TransactionID: rec.TransactionID,
			Symbol:        rec.Symbol,
			Quantity:      rec.Quantity,
			UnitPrice:     price,
			AcquiredAt:    rec.AcquiredAt,
		}
	}
	return lots, nil
}

// Insert persists one sell's realization record.
func (s *RealizationStore) Insert(ctx context.Context, r domain.RealizationResult) error {
	remaining, err := encodeLots(r.RemainingLots)
	if err != nil {
		return fmt.Errorf("postgres: encode remaining lots: %w", err)
	}

	const query = `
		INSERT INTO realizations (
			id, symbol, quantity, sell_price, realized_gain, realized_loss,
			net_realized, avg_cost_consumed, remaining_lots, occurred_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9::jsonb, $10
		)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.client.q(ctx).Exec(ctx, query,
		r.ID, r.Symbol, r.Quantity,
		r.SellPrice.String(), r.RealizedGain.String(), r.RealizedLoss.String(),
		r.NetRealized.String(), r.AvgCostConsumed.String(),
		string(remaining), r.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert realization %s: %w", r.ID, err)
	}
	return nil
}

// Exists reports whether a realization with the given id has been persisted.
func (s *RealizationStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM realizations WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: realization exists %s: %w", id, err)
	}
	return exists, nil
}

const realizationSelectCols = `id, symbol, quantity, sell_price::text,
	realized_gain::text, realized_loss::text, net_realized::text,
	avg_cost_consumed::text, remaining_lots, occurred_at`

func scanRealizationRows(rows pgx.Rows) ([]domain.RealizationResult, error) {
	var results []domain.RealizationResult
	for rows.Next() {
		var (
			r                                  domain.RealizationResult
			sellPrice, gain, loss, net, avgStr string
			remaining                          []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.Quantity, &sellPrice,
			&gain, &loss, &net, &avgStr, &remaining, &r.OccurredAt,
		); err != nil {
			return nil, err
		}
		for _, field := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&r.SellPrice, sellPrice},
			{&r.RealizedGain, gain},
			{&r.RealizedLoss, loss},
			{&r.NetRealized, net},
			{&r.AvgCostConsumed, avgStr},
		} {
			d, err := decimal.NewFromString(field.src)
			if err != nil {
				return nil, fmt.Errorf("parse decimal %q: %w", field.src, err)
			}
			*field.dst = d
		}
		lots, err := decodeLots(remaining)
		if err != nil {
			return nil, fmt.Errorf("decode remaining lots: %w", err)
		}
		r.RemainingLots = lots
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListBySymbol returns realizations for a symbol in occurrence order.
func (s *RealizationStore) ListBySymbol(ctx context.Context, symbol string, limit int) ([]domain.RealizationResult, error) {
	query := `SELECT ` + realizationSelectCols + ` FROM realizations WHERE symbol = $1 ORDER BY occurred_at`
	args := []any{symbol}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list realizations %s: %w", symbol, err)
	}
	defer rows.Close()

	results, err := scanRealizationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan realizations %s: %w", symbol, err)
	}
	return results, nil
}

// ListBefore returns all realizations that occurred before the given instant.
func (s *RealizationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RealizationResult, error) {
	rows, err := s.client.q(ctx).Query(ctx,
		`SELECT `+realizationSelectCols+` FROM realizations WHERE occurred_at < $1 ORDER BY occurred_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list realizations before %s: %w", before, err)
	}
	defer rows.Close()

	results, err := scanRealizationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan realizations: %w", err)
	}
	return results, nil
}
