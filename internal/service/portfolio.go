// Package service exposes the application-facing operations: recording local
// trades through the FIFO ledger, querying portfolio state, and marking
// positions to market from the price feed.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// Enqueuer records a local mutation on the durable offline queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, op domain.OperationType, payload []byte) (domain.QueueItem, error)
}

// Stores bundles the store interfaces the portfolio service writes through.
type Stores struct {
	Tx           domain.Transactor
	Positions    domain.PositionStore
	Lots         domain.LotStore
	Realizations domain.RealizationStore
	Audit        domain.AuditStore
}

// tradePayload is the queue payload for a locally recorded trade. The
// transaction id lets the remote side deduplicate resubmissions.
type tradePayload struct {
	TransactionID string          `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// PortfolioService records buys and sells against local state and queues the
// matching operation for remote submission, all within one transaction.
type PortfolioService struct {
	stores Stores
	queue  Enqueuer
	prices domain.PriceCache
	bus    domain.SignalBus
	clock  domain.Clock
	logger *slog.Logger
}

// NewPortfolioService creates a PortfolioService. prices and bus may be nil.
func NewPortfolioService(stores Stores, queue Enqueuer, prices domain.PriceCache, bus domain.SignalBus, clock domain.Clock, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		stores: stores,
		queue:  queue,
		prices: prices,
		bus:    bus,
		clock:  clock,
		logger: logger.With(slog.String("component", "portfolio")),
	}
}

// RecordBuy appends a new cost-basis lot and updates the position. The local
// write and the queue entry commit together or not at all.
func (s *PortfolioService) RecordBuy(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (domain.Position, error) {
	if err := validateTrade(symbol, quantity, price); err != nil {
		return domain.Position{}, err
	}

	txID := uuid.New().String()
	at := s.clock.Now()

	var next domain.Position
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		pos, lots, err := s.loadState(ctx, symbol)
		if err != nil {
			return err
		}
		next, lots, err = ledger.ApplyBuy(pos, lots, quantity, price, at, txID)
		if err != nil {
			return err
		}
		if err := s.persistState(ctx, next, lots); err != nil {
			return err
		}
		return s.enqueueTrade(ctx, txID, symbol, domain.SideBuy, quantity, price, at)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: record buy %s: %w", symbol, err)
	}

	s.audit(ctx, "trade_recorded", map[string]any{
		"transaction_id": txID,
		"symbol":         symbol,
		"side":           string(domain.SideBuy),
		"quantity":       quantity,
		"price":          price.String(),
	})
	s.publishPosition(ctx, next)
	s.logger.InfoContext(ctx, "buy recorded",
		slog.String("transaction_id", txID),
		slog.String("symbol", symbol),
		slog.Int64("quantity", quantity),
	)
	return next, nil
}

// RecordSell consumes lots oldest-first, persists the realization, and queues
// the sell for remote submission.
func (s *PortfolioService) RecordSell(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (domain.Position, domain.RealizationResult, error) {
	if err := validateTrade(symbol, quantity, price); err != nil {
		return domain.Position{}, domain.RealizationResult{}, err
	}

	txID := uuid.New().String()
	at := s.clock.Now()

	var (
		next   domain.Position
		result domain.RealizationResult
	)
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		pos, lots, err := s.loadState(ctx, symbol)
		if err != nil {
			return err
		}
		next, lots, result, err = ledger.ApplySell(pos, lots, quantity, price, at)
		if err != nil {
			return err
		}
		result.ID = txID
		if err := s.stores.Realizations.Insert(ctx, result); err != nil {
			return fmt.Errorf("persist realization: %w", err)
		}
		if err := s.persistState(ctx, next, lots); err != nil {
			return err
		}
		return s.enqueueTrade(ctx, txID, symbol, domain.SideSell, quantity, price, at)
	})
	if err != nil {
		return domain.Position{}, domain.RealizationResult{}, fmt.Errorf("portfolio: record sell %s: %w", symbol, err)
	}

	s.audit(ctx, "trade_recorded", map[string]any{
		"transaction_id": txID,
		"symbol":         symbol,
		"side":           string(domain.SideSell),
		"quantity":       quantity,
		"price":          price.String(),
		"net_realized":   result.NetRealized.String(),
	})
	s.publishPosition(ctx, next)
	s.logger.InfoContext(ctx, "sell recorded",
		slog.String("transaction_id", txID),
		slog.String("symbol", symbol),
		slog.Int64("quantity", quantity),
		slog.String("net_realized", result.NetRealized.String()),
	)
	return next, result, nil
}

// Position returns one position, marked to the freshest cached price when the
// cache holds one. The remark is not persisted.
func (s *PortfolioService) Position(ctx context.Context, symbol string) (domain.Position, error) {
	pos, err := s.stores.Positions.Get(ctx, symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: get position %s: %w", symbol, err)
	}
	return s.mark(ctx, pos), nil
}

// Positions returns all positions, each marked to its freshest cached price.
func (s *PortfolioService) Positions(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.stores.Positions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio: list positions: %w", err)
	}
	for i, pos := range positions {
		positions[i] = s.mark(ctx, pos)
	}
	return positions, nil
}

// Lots returns the open cost-basis lots for a symbol in consumption order.
func (s *PortfolioService) Lots(ctx context.Context, symbol string) ([]domain.CostBasisLot, error) {
	lots, err := s.stores.Lots.ListBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("portfolio: list lots %s: %w", symbol, err)
	}
	return lots, nil
}

// Realizations returns past sell outcomes for a symbol, newest last.
func (s *PortfolioService) Realizations(ctx context.Context, symbol string, limit int) ([]domain.RealizationResult, error) {
	out, err := s.stores.Realizations.ListBySymbol(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("portfolio: list realizations %s: %w", symbol, err)
	}
	return out, nil
}

func (s *PortfolioService) loadState(ctx context.Context, symbol string) (domain.Position, []domain.CostBasisLot, error) {
	pos, err := s.stores.Positions.Get(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, nil, fmt.Errorf("load position: %w", err)
		}
		pos = domain.Position{Symbol: symbol}
	}
	lots, err := s.stores.Lots.ListBySymbol(ctx, symbol)
	if err != nil {
		return domain.Position{}, nil, fmt.Errorf("load lots: %w", err)
	}
	return pos, lots, nil
}

func (s *PortfolioService) persistState(ctx context.Context, pos domain.Position, lots []domain.CostBasisLot) error {
	if err := s.stores.Lots.ReplaceForSymbol(ctx, pos.Symbol, lots); err != nil {
		return fmt.Errorf("persist lots: %w", err)
	}
	if err := s.stores.Positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	return nil
}

func (s *PortfolioService) enqueueTrade(ctx context.Context, txID, symbol string, side domain.TradeSide, quantity int64, price decimal.Decimal, at time.Time) error {
	payload, err := json.Marshal(tradePayload{
		TransactionID: txID,
		Symbol:        symbol,
		Side:          string(side),
		Quantity:      quantity,
		Price:         price,
		ExecutedAt:    at,
	})
	if err != nil {
		return fmt.Errorf("encode trade payload: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, domain.OpCreateTrade, payload); err != nil {
		return err
	}
	return nil
}

func (s *PortfolioService) mark(ctx context.Context, pos domain.Position) domain.Position {
	if s.prices == nil || pos.Closed() {
		return pos
	}
	price, _, err := s.prices.GetPrice(ctx, pos.Symbol)
	if err != nil {
		return pos
	}
	return ledger.UpdatePrice(pos, price)
}

func (s *PortfolioService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.stores.Audit == nil {
		return
	}
	if err := s.stores.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (s *PortfolioService) publishPosition(ctx context.Context, pos domain.Position) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":        "position_updated",
		"symbol":       pos.Symbol,
		"quantity":     pos.Quantity,
		"average_cost": pos.AverageCost.String(),
		"version":      pos.Version,
	})
	if err := s.bus.Publish(ctx, "positions", evt); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "publish position event", slog.String("error", err.Error()))
	}
}

func validateTrade(symbol string, quantity int64, price decimal.Decimal) error {
	if symbol == "" {
		return domain.Validationf("symbol is required")
	}
	if quantity <= 0 {
		return domain.Validationf("quantity must be positive, got %d", quantity)
	}
	if !price.IsPositive() {
		return domain.Validationf("price must be positive, got %s", price)
	}
	return nil
}
