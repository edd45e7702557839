package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
	"github.com/alanyoungcy/tradeledger/internal/queue"
	"github.com/alanyoungcy/tradeledger/internal/store/memory"
	"github.com/alanyoungcy/tradeledger/internal/testutil"
)

var start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	portfolio *PortfolioService
	mem       *memory.Store
	remote    *testutil.FakeRemote
	bus       *testutil.CaptureBus
	clock     *testutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	remote := testutil.NewFakeRemote()
	bus := testutil.NewCaptureBus()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := queue.New(mem.Queue(), remote, bus, clock, logger)
	portfolio := NewPortfolioService(Stores{
		Tx:           mem,
		Positions:    mem.Positions(),
		Lots:         mem.Lots(),
		Realizations: mem.Realizations(),
		Audit:        mem.Audit(),
	}, q, nil, bus, clock, logger)

	return &fixture{portfolio: portfolio, mem: mem, remote: remote, bus: bus, clock: clock}
}

func TestRecordBuyPersistsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.portfolio.RecordBuy(ctx, "AAPL", 100, money.MustParse("10.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(money.MustParse("10.50")))
	assert.Equal(t, int64(1), pos.Version)

	lots, err := f.mem.Lots().ListBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.True(t, lots[0].UnitPrice.Equal(money.MustParse("10.50")))

	pending, err := f.mem.Queue().ListDue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.OpCreateTrade, pending[0].OperationType)

	var payload tradePayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.NotEmpty(t, payload.TransactionID)
	assert.Equal(t, "AAPL", payload.Symbol)
	assert.Equal(t, "buy", payload.Side)
	assert.Equal(t, int64(100), payload.Quantity)

	assert.Equal(t, 1, f.bus.Count("positions"))

	entries, err := f.mem.Audit().List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade_recorded", entries[0].Event)
}

func TestRecordSellRealizesFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.portfolio.RecordBuy(ctx, "AAPL", 100, money.MustParse("10"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.portfolio.RecordBuy(ctx, "AAPL", 100, money.MustParse("12"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	pos, result, err := f.portfolio.RecordSell(ctx, "AAPL", 150, money.MustParse("15"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(money.MustParse("12")))
	assert.True(t, result.NetRealized.Equal(money.MustParse("650")))
	assert.NotEmpty(t, result.ID)

	realized, err := f.mem.Realizations().ListBySymbol(ctx, "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, realized, 1)
	assert.Equal(t, result.ID, realized[0].ID)

	// Two buys and one sell on the queue.
	n, err := f.mem.Queue().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRecordSellInsufficientLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.portfolio.RecordBuy(ctx, "AAPL", 100, money.MustParse("10"))
	require.NoError(t, err)

	_, _, err = f.portfolio.RecordSell(ctx, "AAPL", 150, money.MustParse("15"))
	var insufficient *domain.InsufficientLotsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100), insufficient.Available)

	pos, err := f.mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.Equal(t, int64(1), pos.Version)

	// The rejected sell left nothing on the queue.
	n, err := f.mem.Queue().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	realized, err := f.mem.Realizations().ListBySymbol(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Empty(t, realized)
}

func TestRecordTradeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		symbol string
		qty    int64
		price  decimal.Decimal
	}{
		{"empty symbol", "", 10, money.MustParse("1")},
		{"zero quantity", "AAPL", 0, money.MustParse("1")},
		{"negative quantity", "AAPL", -5, money.MustParse("1")},
		{"zero price", "AAPL", 10, decimal.Zero},
		{"negative price", "AAPL", 10, money.MustParse("-1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.portfolio.RecordBuy(ctx, tc.symbol, tc.qty, tc.price)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)

			_, _, err = f.portfolio.RecordSell(ctx, tc.symbol, tc.qty, tc.price)
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestPositionMarkedFromCache(t *testing.T) {
	mem := memory.New()
	remote := testutil.NewFakeRemote()
	bus := testutil.NewCaptureBus()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newFakeCache()

	q := queue.New(mem.Queue(), remote, bus, clock, logger)
	portfolio := NewPortfolioService(Stores{
		Tx:           mem,
		Positions:    mem.Positions(),
		Lots:         mem.Lots(),
		Realizations: mem.Realizations(),
		Audit:        mem.Audit(),
	}, q, cache, bus, clock, logger)
	ctx := context.Background()

	_, err := portfolio.RecordBuy(ctx, "AAPL", 100, money.MustParse("10"))
	require.NoError(t, err)
	require.NoError(t, cache.SetPrice(ctx, "AAPL", money.MustParse("14"), clock.Now()))

	pos, err := portfolio.Position(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.CurrentPrice.Equal(money.MustParse("14")))
	assert.True(t, pos.Unrealized.Equal(money.MustParse("400")))

	// The remark is presentation only.
	stored, err := mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(money.MustParse("10")))
}

func TestPriceTickRemarksHeldPosition(t *testing.T) {
	mem := memory.New()
	bus := testutil.NewCaptureBus()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newFakeCache()
	prices := NewPriceService(mem.Positions(), cache, bus, clock, logger)
	ctx := context.Background()

	require.NoError(t, mem.Positions().Upsert(ctx, domain.Position{
		Symbol:      "AAPL",
		Quantity:    100,
		AverageCost: money.MustParse("10"),
		Version:     3,
	}))

	require.NoError(t, prices.OnTick(ctx, "AAPL", money.MustParse("12.50")))

	pos, err := mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.CurrentPrice.Equal(money.MustParse("12.50")))
	assert.True(t, pos.MarketValue.Equal(money.MustParse("1250")))
	assert.True(t, pos.Unrealized.Equal(money.MustParse("250")))
	assert.Equal(t, int64(3), pos.Version)

	cached, _, err := cache.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, cached.Equal(money.MustParse("12.50")))

	assert.Equal(t, 1, bus.Count("prices"))

	// Ticks for unheld symbols only populate the cache.
	require.NoError(t, prices.OnTick(ctx, "TSLA", money.MustParse("200")))
	_, err = mem.Positions().Get(ctx, "TSLA")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemarkAll(t *testing.T) {
	mem := memory.New()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := newFakeCache()
	prices := NewPriceService(mem.Positions(), cache, nil, clock, logger)
	ctx := context.Background()

	for _, p := range []domain.Position{
		{Symbol: "AAPL", Quantity: 100, AverageCost: money.MustParse("10")},
		{Symbol: "TSLA", Quantity: 10, AverageCost: money.MustParse("200")},
	} {
		require.NoError(t, mem.Positions().Upsert(ctx, p))
	}
	require.NoError(t, cache.SetPrice(ctx, "AAPL", money.MustParse("11"), start))

	require.NoError(t, prices.RemarkAll(ctx))

	aapl, err := mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, aapl.Unrealized.Equal(money.MustParse("100")))

	// No cached price for TSLA: last mark kept.
	tsla, err := mem.Positions().Get(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, tsla.CurrentPrice.IsZero())
}

// fakeCache is an in-process domain.PriceCache.
type fakeCache struct {
	prices map[string]decimal.Decimal
	times  map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		prices: make(map[string]decimal.Decimal),
		times:  make(map[string]time.Time),
	}
}

func (c *fakeCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	c.prices[symbol] = price
	c.times[symbol] = ts
	return nil
}

func (c *fakeCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	price, ok := c.prices[symbol]
	if !ok {
		return decimal.Decimal{}, time.Time{}, domain.ErrNotFound
	}
	return price, c.times[symbol], nil
}

func (c *fakeCache) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if price, ok := c.prices[s]; ok {
			out[s] = price
		}
	}
	return out, nil
}
