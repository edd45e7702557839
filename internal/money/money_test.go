package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestFromStringExact(t *testing.T) {
	d, err := FromString("12.3456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "12.345678901234567890123456789", d.String())

	_, err = FromString("not-a-number")
	require.Error(t, err)
}

func TestRoundHalfToEven(t *testing.T) {
	// .5 at the rounding digit goes to the even neighbour.
	assert.Equal(t, "0.00000002", RoundTo(MustParse("0.000000025"), 8).String())
	assert.Equal(t, "0.00000004", RoundTo(MustParse("0.000000035"), 8).String())
	assert.Equal(t, "2.12", RoundTo(MustParse("2.125"), 2).String())
	assert.Equal(t, "2.14", RoundTo(MustParse("2.135"), 2).String())
}

func TestWeightedAverageCost(t *testing.T) {
	at := time.Now()
	lots := []domain.CostBasisLot{
		{TransactionID: "a", Symbol: "AAPL", Quantity: 100, UnitPrice: MustParse("10.00"), AcquiredAt: at},
		{TransactionID: "b", Symbol: "AAPL", Quantity: 50, UnitPrice: MustParse("13.00"), AcquiredAt: at},
	}
	// (100*10 + 50*13) / 150 = 1650/150 = 11
	avg := WeightedAverageCost(lots)
	assert.True(t, avg.Equal(MustParse("11")), "got %s", avg)
}

func TestWeightedAverageCostEmpty(t *testing.T) {
	assert.True(t, WeightedAverageCost(nil).IsZero())
}

func TestWeightedAverageCostNoDrift(t *testing.T) {
	// A price that famously misbehaves in binary floating point.
	at := time.Now()
	lots := []domain.CostBasisLot{
		{Quantity: 3, UnitPrice: MustParse("0.1"), AcquiredAt: at},
		{Quantity: 3, UnitPrice: MustParse("0.2"), AcquiredAt: at},
	}
	// (3*0.1 + 3*0.2)/6 = 0.9/6 = 0.15 exactly.
	assert.True(t, WeightedAverageCost(lots).Equal(MustParse("0.15")))
}

func TestPercentChange(t *testing.T) {
	assert.True(t, PercentChange(MustParse("10"), MustParse("15")).Equal(decimal.NewFromInt(50)))
	assert.True(t, PercentChange(decimal.Zero, MustParse("15")).IsZero())
	assert.True(t, PercentChange(MustParse("10"), MustParse("5")).Equal(decimal.NewFromInt(-50)))
}
