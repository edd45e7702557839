package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return money.MustParse(s) }

func buy(t *testing.T, pos domain.Position, lots []domain.CostBasisLot, qty int64, price string, offset time.Duration, txID string) (domain.Position, []domain.CostBasisLot) {
	t.Helper()
	pos, lots, err := ApplyBuy(pos, lots, qty, dec(price), t0.Add(offset), txID)
	require.NoError(t, err)
	return pos, lots
}

func TestApplyBuyAppendsLotAndWeightsAverage(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}

	pos, lots := buy(t, pos, nil, 100, "10.00", 0, "tx-1")
	assert.Equal(t, int64(100), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(dec("10.00")))
	assert.Equal(t, int64(1), pos.Version)

	pos, lots = buy(t, pos, lots, 50, "13.00", time.Minute, "tx-2")
	require.Len(t, lots, 2)
	assert.Equal(t, int64(150), pos.Quantity)
	// (100*10 + 50*13) / 150 = 11
	assert.True(t, pos.AverageCost.Equal(dec("11")), "avg = %s", pos.AverageCost)
	assert.True(t, pos.MarketValue.Equal(dec("1950")))
	assert.Equal(t, int64(2), pos.Version)
}

func TestApplyBuyValidation(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}

	_, _, err := ApplyBuy(pos, nil, 0, dec("10"), t0, "tx-1")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, _, err = ApplyBuy(pos, nil, 10, dec("-1"), t0, "tx-1")
	require.ErrorAs(t, err, &verr)
}

// Scenario: buy 100@10.00, buy 100@12.00, sell 150@15.00.
func TestApplySellFIFOAcrossLots(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}
	pos, lots := buy(t, pos, nil, 100, "10.00", 0, "tx-1")
	pos, lots = buy(t, pos, lots, 100, "12.00", time.Minute, "tx-2")

	pos, lots, res, err := ApplySell(pos, lots, 150, dec("15.00"), t0.Add(2*time.Minute))
	require.NoError(t, err)

	// 100*(15-10) + 50*(15-12) = 650
	assert.True(t, res.RealizedGain.Equal(dec("650.00")), "gain = %s", res.RealizedGain)
	assert.True(t, res.RealizedLoss.IsZero())
	assert.True(t, res.NetRealized.Equal(dec("650.00")))
	// (100*10 + 50*12) / 150
	assert.True(t, res.AvgCostConsumed.Equal(dec("1600").Div(dec("150"))))

	require.Len(t, lots, 1)
	assert.Equal(t, int64(50), lots[0].Quantity)
	assert.True(t, lots[0].UnitPrice.Equal(dec("12.00")))
	assert.Equal(t, "tx-2", lots[0].TransactionID)

	assert.Equal(t, int64(50), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(dec("12.00")))
}

// Scenario: buy 100@10.00, sell 150@15.00 fails and leaves state untouched.
func TestApplySellInsufficientLots(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}
	pos, lots := buy(t, pos, nil, 100, "10.00", 0, "tx-1")
	posBefore, lotsBefore := pos, cloneLots(lots)

	_, _, _, err := ApplySell(pos, lots, 150, dec("15.00"), t0.Add(time.Minute))
	var insufficient *domain.InsufficientLotsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(150), insufficient.Requested)
	assert.Equal(t, int64(100), insufficient.Available)

	// All-or-nothing: inputs byte-for-byte unchanged.
	assert.Equal(t, posBefore, pos)
	assert.Equal(t, lotsBefore, lots)
}

func TestApplySellRealizesLosses(t *testing.T) {
	pos := domain.Position{Symbol: "TSLA"}
	pos, lots := buy(t, pos, nil, 10, "20.00", 0, "tx-1")
	pos, lots = buy(t, pos, lots, 10, "8.00", time.Minute, "tx-2")

	_, _, res, err := ApplySell(pos, lots, 20, dec("10.00"), t0.Add(2*time.Minute))
	require.NoError(t, err)

	// Lot 1: 10*(10-20) = -100 loss. Lot 2: 10*(10-8) = +20 gain.
	assert.True(t, res.RealizedGain.Equal(dec("20.00")))
	assert.True(t, res.RealizedLoss.Equal(dec("100.00")))
	assert.True(t, res.NetRealized.Equal(dec("-80.00")))
}

func TestZeroCrossingExactness(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}
	pos, lots := buy(t, pos, nil, 3, "0.1", 0, "tx-1")
	pos, lots = buy(t, pos, lots, 3, "0.2", time.Minute, "tx-2")

	pos, lots, _, err := ApplySell(pos, lots, 6, dec("0.3"), t0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int64(0), pos.Quantity)
	assert.True(t, pos.AverageCost.IsZero(), "avg = %s", pos.AverageCost)
	assert.Empty(t, lots)
	assert.True(t, pos.Closed())
}

// FIFO exactness: selling the full held quantity realizes exactly
// sum(qi * (p - pi)) under decimal equality.
func TestFIFONetRealizedExact(t *testing.T) {
	buys := []struct {
		qty   int64
		price string
	}{
		{7, "10.37"}, {13, "9.995"}, {29, "11.01"}, {1, "0.0001"},
	}

	pos := domain.Position{Symbol: "XYZ"}
	var lots []domain.CostBasisLot
	var total int64
	expected := decimal.Zero
	sell := dec("12.125")
	for i, b := range buys {
		pos, lots = buy(t, pos, lots, b.qty, b.price, time.Duration(i)*time.Second, string(rune('a'+i)))
		total += b.qty
		expected = expected.Add(sell.Sub(dec(b.price)).Mul(decimal.NewFromInt(b.qty)))
	}

	_, _, res, err := ApplySell(pos, lots, total, sell, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.NetRealized.Equal(expected), "net %s want %s", res.NetRealized, expected)
}

// Conservation: position quantity equals the lot sum after every operation.
func TestQuantityConservation(t *testing.T) {
	ops := []struct {
		side  domain.TradeSide
		qty   int64
		price string
	}{
		{domain.SideBuy, 100, "10"}, {domain.SideSell, 30, "11"},
		{domain.SideBuy, 25, "12"}, {domain.SideSell, 60, "9"},
		{domain.SideBuy, 5, "8"}, {domain.SideSell, 40, "10"},
	}

	pos := domain.Position{Symbol: "AAPL"}
	var lots []domain.CostBasisLot
	for i, op := range ops {
		var err error
		at := t0.Add(time.Duration(i) * time.Minute)
		switch op.side {
		case domain.SideBuy:
			pos, lots, err = ApplyBuy(pos, lots, op.qty, dec(op.price), at, string(rune('a'+i)))
		case domain.SideSell:
			pos, lots, _, err = ApplySell(pos, lots, op.qty, dec(op.price), at)
		}
		require.NoError(t, err, "op %d", i)

		var sum int64
		for _, lot := range lots {
			sum += lot.Quantity
		}
		assert.Equal(t, sum, pos.Quantity, "op %d", i)
	}
	assert.Equal(t, int64(0), pos.Quantity)
}

// Lots acquired at the same instant consume in transaction-id order.
func TestFIFOTieBreakByTransactionID(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}
	pos, lots := buy(t, pos, nil, 10, "5.00", 0, "tx-b")
	pos, lots = buy(t, pos, lots, 10, "7.00", 0, "tx-a")

	_, lots, res, err := ApplySell(pos, lots, 10, dec("6.00"), t0.Add(time.Minute))
	require.NoError(t, err)

	// tx-a (7.00) consumed first despite insertion order: loss of 10.
	assert.True(t, res.RealizedLoss.Equal(dec("10.00")), "loss = %s", res.RealizedLoss)
	require.Len(t, lots, 1)
	assert.Equal(t, "tx-b", lots[0].TransactionID)
}

func TestUpdatePriceLeavesLotsAndVersionAlone(t *testing.T) {
	pos := domain.Position{Symbol: "AAPL"}
	pos, lots := buy(t, pos, nil, 100, "10.00", 0, "tx-1")
	versionBefore := pos.Version

	pos = UpdatePrice(pos, dec("12.50"))
	assert.True(t, pos.MarketValue.Equal(dec("1250.00")))
	assert.True(t, pos.Unrealized.Equal(dec("250.00")))
	assert.True(t, pos.UnrealizedPct.Equal(dec("25")))
	assert.Equal(t, versionBefore, pos.Version)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(100), lots[0].Quantity)
}

func TestCurrentPnL(t *testing.T) {
	pos := domain.Position{
		Symbol:       "AAPL",
		Quantity:     100,
		AverageCost:  dec("10.00"),
		CurrentPrice: dec("15.00"),
	}
	unrealized, pct := CurrentPnL(pos)
	assert.True(t, unrealized.Equal(dec("500.00")))
	assert.True(t, pct.Equal(dec("50")))

	// Closed position: zero average cost pins pct to zero.
	closed := domain.Position{Symbol: "AAPL", CurrentPrice: dec("15.00")}
	unrealized, pct = CurrentPnL(closed)
	assert.True(t, unrealized.IsZero())
	assert.True(t, pct.IsZero())
}
