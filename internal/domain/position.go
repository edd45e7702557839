package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the per-symbol holding derived from its cost-basis lots.
// Quantity always equals the sum of the remaining lot quantities; when it
// reaches zero the position is closed (kept, not deleted) and AverageCost
// resets to zero.
type Position struct {
	Symbol        string
	Quantity      int64
	AverageCost   decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	Unrealized    decimal.Decimal
	UnrealizedPct decimal.Decimal

	// BaseQuantity is the quantity snapshot taken at the last successful
	// sync. The additive conflict strategy computes each replica's delta
	// against it.
	BaseQuantity int64

	// Version increments on every mutation and drives conflict detection.
	Version      int64
	LastModified time.Time
}

// Closed reports whether the position holds no quantity.
func (p Position) Closed() bool {
	return p.Quantity == 0
}

// CostBasisLot records a specific purchase: the unit of FIFO matching.
// A lot is mutated only by reducing Quantity as sells consume it; a fully
// consumed lot is dropped from the remaining set rather than kept at zero.
type CostBasisLot struct {
	TransactionID string
	Symbol        string
	Quantity      int64
	UnitPrice     decimal.Decimal
	AcquiredAt    time.Time
}

// Cost returns Quantity * UnitPrice.
func (l CostBasisLot) Cost() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// RealizationResult is the immutable audit record produced by a sell.
type RealizationResult struct {
	ID              string
	Symbol          string
	Quantity        int64
	SellPrice       decimal.Decimal
	RealizedGain    decimal.Decimal
	RealizedLoss    decimal.Decimal
	NetRealized     decimal.Decimal
	AvgCostConsumed decimal.Decimal
	RemainingLots   []CostBasisLot
	OccurredAt      time.Time
}
