package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
	"github.com/alanyoungcy/tradeledger/internal/queue"
	"github.com/alanyoungcy/tradeledger/internal/resolver"
	"github.com/alanyoungcy/tradeledger/internal/store/memory"
	"github.com/alanyoungcy/tradeledger/internal/testutil"
)

var start = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

type fixture struct {
	orch   *Orchestrator
	mem    *memory.Store
	remote *testutil.FakeRemote
	queue  *queue.Queue
	bus    *testutil.CaptureBus
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T, strategy domain.ResolutionStrategy) *fixture {
	t.Helper()
	mem := memory.New()
	remote := testutil.NewFakeRemote()
	bus := testutil.NewCaptureBus()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := queue.New(mem.Queue(), remote, bus, clock, logger)
	orch := New(remote, Stores{
		Tx:           mem,
		Positions:    mem.Positions(),
		Lots:         mem.Lots(),
		Realizations: mem.Realizations(),
		Instruments:  mem.Instruments(),
		Candles:      mem.Candles(),
		Cursor:       mem.Cursor(),
	}, q, resolver.New(logger), strategy, bus, clock, logger)

	return &fixture{orch: orch, mem: mem, remote: remote, queue: q, bus: bus, clock: clock}
}

func tradeDelta(txID, symbol string, side domain.TradeSide, qty int64, price string, at time.Time) domain.Delta {
	return domain.Delta{
		Domain: domain.DomainTrades,
		Trade: &domain.TradeEvent{
			TransactionID: txID,
			Symbol:        symbol,
			Side:          side,
			Quantity:      qty,
			Price:         money.MustParse(price),
			ExecutedAt:    at,
		},
	}
}

func TestFullSyncAppliesAllDomains(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	f.remote.Deltas[domain.DomainInstruments] = []domain.Delta{{
		Domain:     domain.DomainInstruments,
		Instrument: &domain.Instrument{Symbol: "AAPL", Name: "Apple Inc.", Currency: "USD", Active: true},
	}}
	f.remote.Deltas[domain.DomainTrades] = []domain.Delta{
		tradeDelta("tx-1", "AAPL", domain.SideBuy, 100, "10.00", start.Add(-time.Hour)),
		tradeDelta("tx-2", "AAPL", domain.SideBuy, 100, "12.00", start.Add(-30*time.Minute)),
		tradeDelta("tx-3", "AAPL", domain.SideSell, 150, "15.00", start.Add(-time.Minute)),
	}
	f.remote.Deltas[domain.DomainCandles] = []domain.Delta{{
		Domain: domain.DomainCandles,
		Candle: &domain.Candle{Symbol: "AAPL", Interval: "1d", Close: money.MustParse("15.00"), OpenedAt: start},
	}}

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	assert.True(t, report.CursorAdvanced)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 3, report.Domains[domain.DomainTrades].Applied)

	pos, err := f.mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(money.MustParse("12.00")))

	lots, err := f.mem.Lots().ListBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(50), lots[0].Quantity)

	realized, err := f.mem.Realizations().ListBySymbol(ctx, "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, realized, 1)
	assert.True(t, realized[0].RealizedGain.Equal(money.MustParse("650.00")))

	cursor, err := f.mem.Cursor().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.StartedAt, cursor)

	ins, err := f.mem.Instruments().GetBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", ins.Name)

	candles, err := f.mem.Candles().ListBySymbol(ctx, "AAPL", "1d", 0)
	require.NoError(t, err)
	assert.Len(t, candles, 1)

	assert.Equal(t, 1, f.bus.Count("sync"))
	assert.Equal(t, domain.StateIdle, f.orch.State())
}

func TestReplayedBuyIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	f.remote.Deltas[domain.DomainTrades] = []domain.Delta{
		tradeDelta("tx-1", "AAPL", domain.SideBuy, 100, "10.00", start.Add(-time.Hour)),
	}
	_, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	_, err = f.orch.IncrementalSync(ctx, start.Add(-2*time.Hour))
	require.NoError(t, err)

	lots, err := f.mem.Lots().ListBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(100), lots[0].Quantity)
}

func TestReplayedSellIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	f.remote.Deltas[domain.DomainTrades] = []domain.Delta{
		tradeDelta("tx-1", "AAPL", domain.SideBuy, 100, "10.00", start.Add(-time.Hour)),
		tradeDelta("tx-2", "AAPL", domain.SideSell, 50, "15.00", start.Add(-time.Minute)),
	}
	_, err := f.orch.FullSync(ctx)
	require.NoError(t, err)

	// The overlapping incremental window refetches both trades.
	_, err = f.orch.IncrementalSync(ctx, start.Add(-2*time.Hour))
	require.NoError(t, err)

	pos, err := f.mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos.Quantity)

	realized, err := f.mem.Realizations().ListBySymbol(ctx, "AAPL", 0)
	require.NoError(t, err)
	require.Len(t, realized, 1)
	assert.True(t, realized[0].RealizedGain.Equal(money.MustParse("250.00")))
}

func TestFetchFailureSkipsDomainAndHoldsCursor(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	f.remote.FetchErrs[domain.DomainTrades] = errors.New("gateway timeout")
	f.remote.Deltas[domain.DomainInstruments] = []domain.Delta{{
		Domain:     domain.DomainInstruments,
		Instrument: &domain.Instrument{Symbol: "AAPL", Active: true},
	}}

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)

	assert.True(t, report.Domains[domain.DomainTrades].Fatal())
	assert.Equal(t, 1, report.Domains[domain.DomainInstruments].Applied)
	assert.False(t, report.CursorAdvanced)

	cursor, err := f.mem.Cursor().Get(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}

func TestBadRecordIsSkippedNotFatal(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	// Selling with no lots held is a record-level failure.
	f.remote.Deltas[domain.DomainTrades] = []domain.Delta{
		tradeDelta("tx-1", "AAPL", domain.SideSell, 10, "15.00", start),
		tradeDelta("tx-2", "AAPL", domain.SideBuy, 100, "10.00", start),
	}

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	result := report.Domains[domain.DomainTrades]
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, result.Fatal())
	assert.True(t, report.CursorAdvanced)
}

func TestDivergedPositionRoutesThroughResolver(t *testing.T) {
	f := newFixture(t, domain.ResolveAdditive)
	ctx := context.Background()

	local := domain.Position{
		Symbol:       "AAPL",
		Quantity:     130,
		BaseQuantity: 100,
		AverageCost:  money.MustParse("10"),
		CurrentPrice: money.MustParse("10"),
		Version:      3,
		LastModified: start.Add(-time.Minute),
	}
	require.NoError(t, f.mem.Positions().Upsert(ctx, local))

	remote := local
	remote.Quantity = 80
	remote.Version = 4
	remote.LastModified = start.Add(-2 * time.Minute)
	f.remote.Deltas[domain.DomainPositions] = []domain.Delta{{Domain: domain.DomainPositions, Position: &remote}}

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, domain.ConflictQuantity, report.Conflicts[0].DetectedType)

	resolved, err := f.mem.Positions().Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(110), resolved.Quantity)
	assert.Equal(t, int64(110), resolved.BaseQuantity)
	assert.Equal(t, int64(5), resolved.Version)

	assert.Equal(t, 1, f.bus.Count("conflicts"))
}

func TestUnknownRemotePositionIsAdopted(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	remote := domain.Position{
		Symbol:       "TSLA",
		Quantity:     40,
		AverageCost:  money.MustParse("200"),
		CurrentPrice: money.MustParse("210"),
		Version:      7,
		LastModified: start.Add(-time.Hour),
	}
	f.remote.Deltas[domain.DomainPositions] = []domain.Delta{{Domain: domain.DomainPositions, Position: &remote}}

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts)

	adopted, err := f.mem.Positions().Get(ctx, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, int64(40), adopted.Quantity)
	assert.Equal(t, int64(40), adopted.BaseQuantity)
}

func TestSyncDrainsQueue(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)
	ctx := context.Background()

	item, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-local"}`))
	require.NoError(t, err)

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drain.Completed)

	stored, err := f.mem.Queue().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, stored.Status)
}

func TestConcurrentCycleRejected(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)

	f.orch.state.Store(int32(domain.StateFetchingRemote))
	_, err := f.orch.FullSync(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	f.orch.state.Store(int32(domain.StateIdle))
}

func TestCancelledCycleHoldsCursor(t *testing.T) {
	f := newFixture(t, domain.ResolveServerWins)

	f.remote.Deltas[domain.DomainInstruments] = []domain.Delta{{
		Domain:     domain.DomainInstruments,
		Instrument: &domain.Instrument{Symbol: "AAPL", Active: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orch.FullSync(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.False(t, report.CursorAdvanced)
	assert.Equal(t, domain.StateIdle, f.orch.State())
}
