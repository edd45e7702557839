package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/money"
)

func TestStandaloneWalkthroughDrivesServices(t *testing.T) {
	ctx := context.Background()

	cfg := config.Defaults()
	cfg.Mode = "standalone"
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	a := New(&cfg, logger)
	svcs := a.buildServices(deps)
	require.NoError(t, a.runWalkthrough(ctx, deps, svcs))

	// FIFO over buy 100@10 + buy 50@12, sell 120: the sell consumes the
	// whole first lot and 20 of the second, leaving 30@12.
	pos, err := deps.Positions.Get(ctx, "DEMO")
	require.NoError(t, err)
	assert.Equal(t, int64(30), pos.Quantity)
	assert.True(t, pos.AverageCost.Equal(money.MustParse("12.00")))

	realized, err := deps.Realizations.ListBySymbol(ctx, "DEMO", 0)
	require.NoError(t, err)
	require.Len(t, realized, 1)
	assert.True(t, realized[0].NetRealized.Equal(money.MustParse("560.00")))

	// Each recorded trade lands on the offline queue.
	pending, err := svcs.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)
}
