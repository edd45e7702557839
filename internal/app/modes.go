package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/money"
	"github.com/alanyoungcy/tradeledger/internal/queue"
	"github.com/alanyoungcy/tradeledger/internal/remote"
	"github.com/alanyoungcy/tradeledger/internal/resolver"
	"github.com/alanyoungcy/tradeledger/internal/service"
	"github.com/alanyoungcy/tradeledger/internal/syncer"
)

// syncLockKey guards the sync cycle across ledgerd replicas.
const syncLockKey = "sync_cycle"

// services holds the engine components built on top of wired dependencies.
type services struct {
	queue     *queue.Queue
	orch      *syncer.Orchestrator
	portfolio *service.PortfolioService
	prices    *service.PriceService
}

func (a *App) buildServices(deps *Dependencies) *services {
	q := queue.New(deps.QueueStore, deps.Remote, deps.SignalBus, deps.Clock, a.logger)

	orch := syncer.New(
		deps.Remote,
		syncer.Stores{
			Tx:           deps.Tx,
			Positions:    deps.Positions,
			Lots:         deps.Lots,
			Realizations: deps.Realizations,
			Instruments:  deps.Instruments,
			Candles:      deps.Candles,
			Cursor:       deps.Cursor,
		},
		q,
		resolver.New(a.logger),
		domain.ResolutionStrategy(a.cfg.Sync.Strategy),
		deps.SignalBus,
		deps.Clock,
		a.logger,
	)

	portfolio := service.NewPortfolioService(
		service.Stores{
			Tx:           deps.Tx,
			Positions:    deps.Positions,
			Lots:         deps.Lots,
			Realizations: deps.Realizations,
			Audit:        deps.Audit,
		},
		q, deps.PriceCache, deps.SignalBus, deps.Clock, a.logger,
	)

	prices := service.NewPriceService(deps.Positions, deps.PriceCache, deps.SignalBus, deps.Clock, a.logger)

	return &services{queue: q, orch: orch, portfolio: portfolio, prices: prices}
}

// FullMode runs the complete daemon: periodic sync cycles, the queue drain
// loop, the websocket price feed, and scheduled archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)

	// Periodic sync loop. The first cycle runs immediately.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Sync.Interval.Duration)
		defer ticker.Stop()

		a.runSyncCycle(ctx, deps, svcs)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runSyncCycle(ctx, deps, svcs)
			}
		}
	})

	// Queue drain loop, independent of the sync cycle so queued operations
	// do not wait for the next full cycle.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Queue.DrainInterval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				report, err := svcs.queue.Drain(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "queue drain failed", slog.String("error", err.Error()))
					continue
				}
				if report.Attempted > 0 {
					a.logger.InfoContext(ctx, "queue drained",
						slog.Int("attempted", report.Attempted),
						slog.Int("completed", report.Completed),
						slog.Int("retried", report.Retried),
						slog.Int("failed", report.Failed),
					)
				}
			}
		}
	})

	// Websocket price feed: every tick re-marks the held position.
	if a.cfg.Feed.Enabled {
		feed := remote.NewPriceFeed(a.cfg.Feed.WsURL, func(symbol string, price decimal.Decimal) {
			if err := svcs.prices.OnTick(ctx, symbol, price); err != nil {
				a.logger.WarnContext(ctx, "price tick rejected",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}, a.logger)
		feed.Subscribe(a.cfg.Feed.Symbols)
		g.Go(func() error {
			err := feed.Run(ctx)
			if remote.IsClosedError(err) {
				return nil
			}
			return err
		})
	}

	// Scheduled archival of aged records to cold storage.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					a.runArchival(ctx, deps)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SyncMode runs one synchronization cycle and exits.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	svcs := a.buildServices(deps)

	unlock, err := deps.LockManager.Acquire(ctx, syncLockKey, a.cfg.Sync.LockTTL.Duration)
	if err != nil {
		return fmt.Errorf("sync mode: acquire lock: %w", err)
	}
	defer unlock()

	report, err := a.runCycleOnce(ctx, deps, svcs)
	if err != nil {
		return fmt.Errorf("sync mode: %w", err)
	}
	a.logSyncReport(ctx, report)
	return nil
}

// StandaloneMode runs the ledger entirely in memory with no network side
// effects. It drives a sample portfolio through the full mutation path so
// the mode has something to show without a backend, then logs position
// updates until the context is cancelled.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode (in-memory, offline)")

	svcs := a.buildServices(deps)

	updates, err := deps.SignalBus.Subscribe(ctx, "positions")
	if err != nil {
		return fmt.Errorf("standalone mode: subscribe positions: %w", err)
	}

	if err := a.runWalkthrough(ctx, deps, svcs); err != nil {
		return fmt.Errorf("standalone mode: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-updates:
			if !ok {
				return nil
			}
			a.logger.InfoContext(ctx, "position updated", slog.String("event", string(payload)))
		}
	}
}

// runWalkthrough records a sample buy/buy/sell sequence and a mark to market
// against the in-memory stores, exercising the ledger, the offline queue, and
// the event bus end to end.
func (a *App) runWalkthrough(ctx context.Context, deps *Dependencies, svcs *services) error {
	const symbol = "DEMO"

	if _, err := svcs.portfolio.RecordBuy(ctx, symbol, 100, money.MustParse("10.00")); err != nil {
		return err
	}
	if _, err := svcs.portfolio.RecordBuy(ctx, symbol, 50, money.MustParse("12.00")); err != nil {
		return err
	}
	_, realized, err := svcs.portfolio.RecordSell(ctx, symbol, 120, money.MustParse("15.00"))
	if err != nil {
		return err
	}

	if err := deps.PriceCache.SetPrice(ctx, symbol, money.MustParse("14.50"), deps.Clock.Now()); err != nil {
		return err
	}
	pos, err := svcs.portfolio.Position(ctx, symbol)
	if err != nil {
		return err
	}

	pending, err := svcs.queue.PendingCount(ctx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "walkthrough finished",
		slog.String("symbol", symbol),
		slog.Int64("quantity", pos.Quantity),
		slog.String("average_cost", pos.AverageCost.String()),
		slog.String("unrealized", pos.Unrealized.String()),
		slog.String("net_realized", realized.NetRealized.String()),
		slog.Int64("pending_operations", pending),
	)
	return nil
}

// DrainMode drains the offline queue once and exits.
func (a *App) DrainMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting drain mode")

	svcs := a.buildServices(deps)
	report, err := svcs.queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain mode: %w", err)
	}
	a.logger.InfoContext(ctx, "queue drained",
		slog.Int("attempted", report.Attempted),
		slog.Int("completed", report.Completed),
		slog.Int("retried", report.Retried),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)
	return nil
}

// runSyncCycle acquires the replica lock and runs one cycle, logging rather
// than propagating failures so the periodic loop keeps going.
func (a *App) runSyncCycle(ctx context.Context, deps *Dependencies, svcs *services) {
	unlock, err := deps.LockManager.Acquire(ctx, syncLockKey, a.cfg.Sync.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "sync cycle skipped, lock held by another replica")
			return
		}
		a.logger.WarnContext(ctx, "sync lock acquire failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	report, err := a.runCycleOnce(ctx, deps, svcs)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.ErrorContext(ctx, "sync cycle failed", slog.String("error", err.Error()))
		}
		return
	}
	a.logSyncReport(ctx, report)

	if a.cfg.Sync.RemarkOnCycle {
		if err := svcs.prices.RemarkAll(ctx); err != nil {
			a.logger.WarnContext(ctx, "post-sync remark failed", slog.String("error", err.Error()))
		}
	}
}

// runCycleOnce picks full or incremental based on the stored cursor and the
// full_on_start override.
func (a *App) runCycleOnce(ctx context.Context, deps *Dependencies, svcs *services) (domain.SyncReport, error) {
	since, err := deps.Cursor.Get(ctx)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("read sync cursor: %w", err)
	}
	if since.IsZero() || a.cfg.Sync.FullOnStart {
		return svcs.orch.FullSync(ctx)
	}
	return svcs.orch.IncrementalSync(ctx, since)
}

func (a *App) logSyncReport(ctx context.Context, report domain.SyncReport) {
	applied, skipped := 0, 0
	for _, result := range report.Domains {
		applied += result.Applied
		skipped += result.Skipped
	}
	a.logger.InfoContext(ctx, "sync cycle finished",
		slog.Bool("incremental", report.Incremental),
		slog.Int("applied", applied),
		slog.Int("skipped", skipped),
		slog.Int("conflicts", len(report.Conflicts)),
		slog.Bool("cursor_advanced", report.CursorAdvanced),
		slog.Bool("cancelled", report.Cancelled),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
}

// runArchival archives completed queue operations and aged realizations.
func (a *App) runArchival(ctx context.Context, deps *Dependencies) {
	cutoff := deps.Clock.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	ops, err := deps.Archiver.ArchiveCompletedOperations(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "operation archival failed", slog.String("error", err.Error()))
	}
	realized, err := deps.Archiver.ArchiveRealizations(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "realization archival failed", slog.String("error", err.Error()))
	}
	if ops > 0 || realized > 0 {
		a.logger.InfoContext(ctx, "archival finished",
			slog.Int64("operations", ops),
			slog.Int64("realizations", realized),
			slog.Time("cutoff", cutoff),
		)
	}
}
