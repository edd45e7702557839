// Package money fixes the monetary arithmetic policy for the ledger:
// shopspring decimals end-to-end, string-exact construction, and
// round-half-to-even at a canonical scale. Binary floats never enter a
// monetary computation; any external float source must route through
// FromString first.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Scale is the canonical display/storage scale for monetary values.
const Scale int32 = 8

// Zero is the additive identity.
var Zero = decimal.Zero

// FromString parses an exact decimal value. This is the only sanctioned way
// to bring an externally sourced number (including stringified floats) into
// the ledger.
func FromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is FromString for literals in tests and fixtures.
func MustParse(s string) decimal.Decimal {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt converts an integer quantity.
func FromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// Round applies round-half-to-even (banker's rounding) at the canonical
// scale. Used at display/storage boundaries only; intermediate ledger
// arithmetic stays unrounded.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

// RoundTo applies round-half-to-even at an explicit scale.
func RoundTo(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundBank(scale)
}

// WeightedAverageCost recomputes the quantity-weighted mean unit price over
// the full lot set: sum(qty*price) / sum(qty). Recomputing from the whole
// history, rather than folding two running numbers, avoids drift across
// repeated buy/sell cycles. An empty lot set yields exactly zero.
func WeightedAverageCost(lots []domain.CostBasisLot) decimal.Decimal {
	var totalQty int64
	totalCost := decimal.Zero
	for _, lot := range lots {
		totalQty += lot.Quantity
		totalCost = totalCost.Add(lot.Cost())
	}
	if totalQty == 0 {
		return decimal.Zero
	}
	return totalCost.Div(decimal.NewFromInt(totalQty))
}

// PercentChange returns (current - base) / base * 100, or exactly zero when
// base is zero.
func PercentChange(base, current decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return current.Sub(base).Div(base).Mul(decimal.NewFromInt(100))
}
