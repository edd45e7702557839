package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// PriceService consumes price ticks: every tick lands in the cache, and ticks
// for held symbols re-mark the stored position. Price updates never bump the
// position version, so they can never manufacture a sync conflict.
type PriceService struct {
	positions domain.PositionStore
	cache     domain.PriceCache
	bus       domain.SignalBus
	clock     domain.Clock
	logger    *slog.Logger
}

// NewPriceService creates a PriceService. bus may be nil.
func NewPriceService(positions domain.PositionStore, cache domain.PriceCache, bus domain.SignalBus, clock domain.Clock, logger *slog.Logger) *PriceService {
	return &PriceService{
		positions: positions,
		cache:     cache,
		bus:       bus,
		clock:     clock,
		logger:    logger.With(slog.String("component", "prices")),
	}
}

// OnTick records the latest price for a symbol and re-marks the position if
// one is held.
func (s *PriceService) OnTick(ctx context.Context, symbol string, price decimal.Decimal) error {
	if symbol == "" {
		return domain.Validationf("symbol is required")
	}
	if !price.IsPositive() {
		return domain.Validationf("price must be positive, got %s", price)
	}

	if err := s.cache.SetPrice(ctx, symbol, price, s.clock.Now()); err != nil {
		return fmt.Errorf("prices: cache %s: %w", symbol, err)
	}

	pos, err := s.positions.Get(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("prices: load position %s: %w", symbol, err)
	}

	marked := ledger.UpdatePrice(pos, price)
	if err := s.positions.Upsert(ctx, marked); err != nil {
		return fmt.Errorf("prices: persist mark %s: %w", symbol, err)
	}
	s.publishTick(ctx, marked)
	return nil
}

// RemarkAll re-marks every held position from the cache in one pass. Symbols
// without a cached price keep their last mark.
func (s *PriceService) RemarkAll(ctx context.Context) error {
	positions, err := s.positions.List(ctx)
	if err != nil {
		return fmt.Errorf("prices: list positions: %w", err)
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		if !pos.Closed() {
			symbols = append(symbols, pos.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	prices, err := s.cache.GetPrices(ctx, symbols)
	if err != nil {
		return fmt.Errorf("prices: bulk read: %w", err)
	}

	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		if err := s.positions.Upsert(ctx, ledger.UpdatePrice(pos, price)); err != nil {
			s.logger.WarnContext(ctx, "remark failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *PriceService) publishTick(ctx context.Context, pos domain.Position) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":          "position_marked",
		"symbol":         pos.Symbol,
		"current_price":  pos.CurrentPrice.String(),
		"market_value":   pos.MarketValue.String(),
		"unrealized":     pos.Unrealized.String(),
		"unrealized_pct": pos.UnrealizedPct.String(),
	})
	if err := s.bus.Publish(ctx, "prices", evt); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "publish tick event", slog.String("error", err.Error()))
	}
}
