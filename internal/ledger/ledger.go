// Package ledger implements FIFO cost-basis accounting over per-symbol
// purchase lots: buys append lots, sells consume the oldest lots first, and
// average cost is always recomputed from the full remaining lot set.
//
// Every function is pure: inputs are never mutated and a failed call leaves
// the caller's position and lot set exactly as they were. All arithmetic is
// exact decimal; quantities are integers, so zero-crossing is exact.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
)

// ApplyBuy appends a new lot and returns the recomputed position together
// with the new lot set. The caller's inputs are left untouched.
func ApplyBuy(pos domain.Position, lots []domain.CostBasisLot, qty int64, price decimal.Decimal, at time.Time, txID string) (domain.Position, []domain.CostBasisLot, error) {
	if qty <= 0 {
		return domain.Position{}, nil, domain.Validationf("buy quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return domain.Position{}, nil, domain.Validationf("buy price must be positive, got %s", price)
	}

	next := append(cloneLots(lots), domain.CostBasisLot{
		TransactionID: txID,
		Symbol:        pos.Symbol,
		Quantity:      qty,
		UnitPrice:     price,
		AcquiredAt:    at,
	})
	sortLots(next)

	out := recompute(pos, next, price)
	out.Version++
	out.LastModified = at
	return out, next, nil
}

// ApplySell consumes lots strictly in FIFO order and returns the recomputed
// position, the remaining lots, and the realization audit record. It fails
// with *domain.InsufficientLotsError when qty exceeds the held quantity, in
// which case the caller's state is unchanged.
func ApplySell(pos domain.Position, lots []domain.CostBasisLot, qty int64, price decimal.Decimal, at time.Time) (domain.Position, []domain.CostBasisLot, domain.RealizationResult, error) {
	if qty <= 0 {
		return domain.Position{}, nil, domain.RealizationResult{}, domain.Validationf("sell quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return domain.Position{}, nil, domain.RealizationResult{}, domain.Validationf("sell price must be positive, got %s", price)
	}

	available := totalQuantity(lots)
	if qty > available {
		return domain.Position{}, nil, domain.RealizationResult{}, &domain.InsufficientLotsError{
			Symbol:    pos.Symbol,
			Requested: qty,
			Available: available,
		}
	}

	ordered := cloneLots(lots)
	sortLots(ordered)

	var (
		remaining    []domain.CostBasisLot
		gain         = decimal.Zero
		loss         = decimal.Zero
		costConsumed = decimal.Zero
		toConsume    = qty
	)
	for _, lot := range ordered {
		if toConsume == 0 {
			remaining = append(remaining, lot)
			continue
		}

		consumed := lot.Quantity
		if consumed > toConsume {
			consumed = toConsume
		}
		toConsume -= consumed

		consumedDec := decimal.NewFromInt(consumed)
		gainLoss := price.Sub(lot.UnitPrice).Mul(consumedDec)
		if gainLoss.IsNegative() {
			loss = loss.Add(gainLoss.Abs())
		} else {
			gain = gain.Add(gainLoss)
		}
		costConsumed = costConsumed.Add(lot.UnitPrice.Mul(consumedDec))

		// A partially consumed lot keeps its unconsumed remainder; a fully
		// consumed lot is dropped, never kept at quantity zero.
		if consumed < lot.Quantity {
			lot.Quantity -= consumed
			remaining = append(remaining, lot)
		}
	}
	if remaining == nil {
		remaining = []domain.CostBasisLot{}
	}

	result := domain.RealizationResult{
		Symbol:          pos.Symbol,
		Quantity:        qty,
		SellPrice:       price,
		RealizedGain:    gain,
		RealizedLoss:    loss,
		NetRealized:     gain.Sub(loss),
		AvgCostConsumed: costConsumed.Div(decimal.NewFromInt(qty)),
		RemainingLots:   cloneLots(remaining),
		OccurredAt:      at,
	}

	out := recompute(pos, remaining, price)
	out.Version++
	out.LastModified = at
	return out, remaining, result, nil
}

// UpdatePrice refreshes the mark price and the derived market value and
// unrealized P&L. Lots, quantity, average cost, and the version are
// untouched: a mark-to-market refresh is not a ledger mutation.
func UpdatePrice(pos domain.Position, price decimal.Decimal) domain.Position {
	pos.CurrentPrice = price
	pos.MarketValue = price.Mul(decimal.NewFromInt(pos.Quantity))
	pos.Unrealized = pos.MarketValue.Sub(pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity)))
	pos.UnrealizedPct = money.PercentChange(pos.AverageCost, price)
	return pos
}

// CurrentPnL returns the unrealized P&L and its percentage for a position:
// qty * (current - avg), and (current - avg) / avg * 100 (zero when the
// average cost is zero).
func CurrentPnL(pos domain.Position) (unrealized, pct decimal.Decimal) {
	qty := decimal.NewFromInt(pos.Quantity)
	unrealized = qty.Mul(pos.CurrentPrice.Sub(pos.AverageCost))
	pct = money.PercentChange(pos.AverageCost, pos.CurrentPrice)
	return unrealized, pct
}

// recompute derives every position field from the lot set and mark price.
func recompute(pos domain.Position, lots []domain.CostBasisLot, markPrice decimal.Decimal) domain.Position {
	pos.Quantity = totalQuantity(lots)
	pos.AverageCost = money.WeightedAverageCost(lots)
	return UpdatePrice(pos, markPrice)
}

func totalQuantity(lots []domain.CostBasisLot) int64 {
	var total int64
	for _, lot := range lots {
		total += lot.Quantity
	}
	return total
}

// sortLots fixes the FIFO consumption order: acquisition time ascending,
// ties broken by transaction id for determinism.
func sortLots(lots []domain.CostBasisLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].AcquiredAt.Equal(lots[j].AcquiredAt) {
			return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
		}
		return lots[i].TransactionID < lots[j].TransactionID
	})
}

func cloneLots(lots []domain.CostBasisLot) []domain.CostBasisLot {
	out := make([]domain.CostBasisLot, len(lots))
	copy(out, lots)
	return out
}
