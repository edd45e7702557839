package resolver

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
)

func newResolver() *Resolver {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pos(symbol string, qty, base, version int64, avgCost string, modified time.Time) domain.Position {
	p := domain.Position{
		Symbol:       symbol,
		Quantity:     qty,
		BaseQuantity: base,
		AverageCost:  money.MustParse(avgCost),
		CurrentPrice: money.MustParse(avgCost),
		Version:      version,
		LastModified: modified,
	}
	return p
}

var (
	older = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer = older.Add(time.Hour)
)

func TestDetect(t *testing.T) {
	r := newResolver()

	local := pos("AAPL", 100, 100, 3, "10", older)
	remote := pos("AAPL", 100, 100, 3, "10", older)
	assert.Equal(t, domain.ConflictNone, r.Detect(local, remote))

	remote.Version = 4
	remote.Quantity = 80
	assert.Equal(t, domain.ConflictQuantity, r.Detect(local, remote))

	remote.Quantity = 100
	remote.AverageCost = money.MustParse("11")
	assert.Equal(t, domain.ConflictPrice, r.Detect(local, remote))

	remote.AverageCost = local.AverageCost
	assert.Equal(t, domain.ConflictData, r.Detect(local, remote))
}

func TestResolveFixedStrategies(t *testing.T) {
	r := newResolver()
	local := pos("AAPL", 130, 100, 3, "10", newer)
	remote := pos("AAPL", 80, 100, 4, "10", older)

	resolved, rec := r.Resolve(local, remote, domain.ResolveServerWins)
	assert.Equal(t, remote, resolved)
	assert.Equal(t, domain.ResolveServerWins, rec.StrategyUsed)

	resolved, _ = r.Resolve(local, remote, domain.ResolveClientWins)
	assert.Equal(t, local, resolved)
}

func TestResolveLastWriteWins(t *testing.T) {
	r := newResolver()
	local := pos("AAPL", 130, 100, 3, "10", newer)
	remote := pos("AAPL", 80, 100, 4, "10", older)

	resolved, _ := r.Resolve(local, remote, domain.ResolveLastWriteWins)
	assert.Equal(t, local, resolved)

	// Exact tie goes to remote so every replica converges on the same side.
	local.LastModified = older
	resolved, _ = r.Resolve(local, remote, domain.ResolveLastWriteWins)
	assert.Equal(t, remote, resolved)
}

// Concurrent quantity changes from a common base of 100: local bought 30,
// remote sold 20 -> resolved quantity 100 + 30 - 20 = 110.
func TestResolveAdditive(t *testing.T) {
	r := newResolver()
	local := pos("AAPL", 130, 100, 3, "10", newer)
	remote := pos("AAPL", 80, 100, 4, "10", older)

	resolved, rec := r.Resolve(local, remote, domain.ResolveAdditive)
	assert.Equal(t, int64(110), resolved.Quantity)
	assert.Equal(t, int64(5), resolved.Version) // max(3,4)+1
	assert.Equal(t, int64(110), resolved.BaseQuantity)
	assert.Equal(t, newer, resolved.LastModified)
	assert.Equal(t, domain.ResolveAdditive, rec.StrategyUsed)
	assert.Equal(t, domain.ConflictQuantity, rec.DetectedType)
	assert.False(t, rec.Deferred)
	// Derived fields follow the merged quantity.
	assert.True(t, resolved.MarketValue.Equal(money.MustParse("1100")))
}

func TestResolveAdditiveFallsBackWhenNotPureQuantity(t *testing.T) {
	r := newResolver()

	// Remote delta is zero: not a two-sided concurrent quantity change.
	local := pos("AAPL", 130, 100, 3, "10", newer)
	remote := pos("AAPL", 100, 100, 4, "10", older)
	resolved, rec := r.Resolve(local, remote, domain.ResolveAdditive)
	assert.Equal(t, domain.ResolveLastWriteWins, rec.StrategyUsed)
	assert.Equal(t, local, resolved)

	// Price-only divergence: additive is ambiguous, falls back silently.
	local = pos("AAPL", 100, 100, 3, "10", older)
	remote = pos("AAPL", 100, 100, 4, "11", newer)
	resolved, rec = r.Resolve(local, remote, domain.ResolveAdditive)
	assert.Equal(t, domain.ResolveLastWriteWins, rec.StrategyUsed)
	assert.Equal(t, remote, resolved)
}

func TestResolveManualIsDeferred(t *testing.T) {
	r := newResolver()
	local := pos("AAPL", 130, 100, 3, "10", newer)
	remote := pos("AAPL", 80, 100, 4, "10", older)

	resolved, rec := r.Resolve(local, remote, domain.ResolveManual)
	assert.Equal(t, remote, resolved)
	assert.True(t, rec.Deferred)
}

// Identical inputs must produce identical output, bit for bit.
func TestResolveDeterminism(t *testing.T) {
	r := newResolver()
	local := pos("AAPL", 130, 100, 3, "10.25", newer)
	remote := pos("AAPL", 80, 100, 4, "10.50", older)

	for _, strategy := range []domain.ResolutionStrategy{
		domain.ResolveLastWriteWins,
		domain.ResolveServerWins,
		domain.ResolveClientWins,
		domain.ResolveAdditive,
		domain.ResolveManual,
	} {
		first, firstRec := r.Resolve(local, remote, strategy)
		second, secondRec := r.Resolve(local, remote, strategy)
		require.Equal(t, first, second, "strategy %s", strategy)
		require.Equal(t, firstRec, secondRec, "strategy %s", strategy)
	}
}
