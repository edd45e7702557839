// Package syncer drives full and incremental synchronization cycles against
// the remote backend: concurrent per-domain delta fetches, sequential
// transactional application through the single-writer store path, conflict
// resolution for diverged positions, and a drain of the offline queue.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/resolver"
)

// Drainer pushes pending offline operations to the remote backend.
type Drainer interface {
	Drain(ctx context.Context) (domain.DrainReport, error)
}

// Stores bundles the store interfaces the orchestrator writes through.
type Stores struct {
	Tx           domain.Transactor
	Positions    domain.PositionStore
	Lots         domain.LotStore
	Realizations domain.RealizationStore
	Instruments  domain.InstrumentStore
	Candles      domain.CandleStore
	Cursor       domain.CursorStore
}

// Orchestrator owns the sync cycle state machine. A single instance runs at
// most one cycle at a time; a cycle started while another is in flight is
// rejected with domain.ErrSyncInProgress.
type Orchestrator struct {
	remote   domain.RemoteClient
	stores   Stores
	queue    Drainer
	resolver *resolver.Resolver
	strategy domain.ResolutionStrategy
	bus      domain.SignalBus
	clock    domain.Clock
	logger   *slog.Logger

	state    atomic.Int32
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New creates an Orchestrator resolving position conflicts with the given
// default strategy.
func New(
	remote domain.RemoteClient,
	stores Stores,
	queue Drainer,
	res *resolver.Resolver,
	strategy domain.ResolutionStrategy,
	bus domain.SignalBus,
	clock domain.Clock,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		remote:   remote,
		stores:   stores,
		queue:    queue,
		resolver: res,
		strategy: strategy,
		bus:      bus,
		clock:    clock,
		logger:   logger.With(slog.String("component", "syncer")),
	}
}

// State returns the current cycle phase.
func (o *Orchestrator) State() domain.SyncState {
	return domain.SyncState(o.state.Load())
}

// FullSync fetches and applies all remote state from the beginning of time.
func (o *Orchestrator) FullSync(ctx context.Context) (domain.SyncReport, error) {
	return o.runCycle(ctx, time.Time{}, false)
}

// IncrementalSync fetches and applies remote deltas since the given cursor.
func (o *Orchestrator) IncrementalSync(ctx context.Context, since time.Time) (domain.SyncReport, error) {
	return o.runCycle(ctx, since, true)
}

// Cancel requests cooperative cancellation of the in-flight cycle. Domains
// already committed stay applied; the cursor is not advanced.
func (o *Orchestrator) Cancel() {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) transition(to domain.SyncState) {
	o.state.Store(int32(to))
}

func (o *Orchestrator) runCycle(ctx context.Context, since time.Time, incremental bool) (domain.SyncReport, error) {
	if !o.state.CompareAndSwap(int32(domain.StateIdle), int32(domain.StateFetchingRemote)) {
		return domain.SyncReport{}, domain.ErrSyncInProgress
	}
	defer o.transition(domain.StateIdle)

	ctx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
	defer func() {
		o.cancelMu.Lock()
		o.cancel = nil
		o.cancelMu.Unlock()
		cancel()
	}()

	report := domain.SyncReport{
		StartedAt:   o.clock.Now(),
		Incremental: incremental,
		Since:       since,
		Domains:     make(map[domain.SyncDomain]domain.DomainResult),
	}

	o.logger.InfoContext(ctx, "sync cycle starting",
		slog.Bool("incremental", incremental),
		slog.Time("since", since),
	)

	// Phase 1: fetch all domains concurrently. A failed fetch marks its
	// domain and the cycle continues with the rest.
	fetched := o.fetchAll(ctx, since, &report)

	// Phase 2: apply the non-position domains sequentially, one transaction
	// per domain.
	o.transition(domain.StateApplyingDeltas)
	for _, d := range []domain.SyncDomain{domain.DomainInstruments, domain.DomainTrades, domain.DomainCandles} {
		if ctx.Err() != nil {
			break
		}
		if res, ok := report.Domains[d]; ok && res.Fatal() {
			continue
		}
		o.applyDomain(ctx, d, fetched[d], &report)
	}

	// Phase 3: positions, where local and remote may have diverged.
	o.transition(domain.StateResolvingConflicts)
	if ctx.Err() == nil {
		if res, ok := report.Domains[domain.DomainPositions]; !ok || !res.Fatal() {
			o.applyPositions(ctx, fetched[domain.DomainPositions], &report)
		}
	}

	// Phase 4: push pending local mutations.
	o.transition(domain.StateDrainingQueue)
	if ctx.Err() == nil {
		drain, err := o.queue.Drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logger.ErrorContext(ctx, "queue drain failed", slog.String("error", err.Error()))
		}
		report.Drain = drain
	}

	// Phase 5: advance the cursor only on a fully non-fatal, uncancelled
	// cycle. Record-level skips do not block advancement.
	report.Cancelled = ctx.Err() != nil
	if !report.Cancelled && !anyFatal(report.Domains) {
		if err := o.stores.Cursor.Set(ctx, report.StartedAt); err != nil {
			o.logger.ErrorContext(ctx, "cursor advance failed", slog.String("error", err.Error()))
		} else {
			report.CursorAdvanced = true
		}
	}

	report.FinishedAt = o.clock.Now()
	o.publishCompletion(ctx, report)
	o.logger.InfoContext(ctx, "sync cycle finished",
		slog.Bool("cursor_advanced", report.CursorAdvanced),
		slog.Bool("cancelled", report.Cancelled),
		slog.Int("conflicts", len(report.Conflicts)),
	)
	return report, nil
}

// fetchAll fans out one fetch per domain. Fetches are independent; failures
// (including timeouts) are recorded per domain and never abort the group.
func (o *Orchestrator) fetchAll(ctx context.Context, since time.Time, report *domain.SyncReport) map[domain.SyncDomain][]domain.Delta {
	var mu sync.Mutex
	fetched := make(map[domain.SyncDomain][]domain.Delta, len(domain.SyncDomains))

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range domain.SyncDomains {
		d := d
		g.Go(func() error {
			deltas, err := o.remote.FetchDeltas(gctx, d, since)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.logger.WarnContext(gctx, "domain fetch failed",
					slog.String("domain", string(d)),
					slog.String("error", err.Error()),
				)
				report.Domains[d] = domain.DomainResult{Err: err.Error()}
				return nil
			}
			fetched[d] = deltas
			report.Domains[d] = domain.DomainResult{Fetched: len(deltas)}
			return nil
		})
	}
	_ = g.Wait()
	return fetched
}

// applyDomain applies one domain's batch as a single store transaction.
// Individual bad records are skipped and counted; a transaction-level
// failure is retried once and then marks the domain fatal.
func (o *Orchestrator) applyDomain(ctx context.Context, d domain.SyncDomain, deltas []domain.Delta, report *domain.SyncReport) {
	result := report.Domains[d]
	apply := func(ctx context.Context) error {
		applied, skipped := 0, 0
		for _, delta := range deltas {
			if err := o.applyDelta(ctx, delta); err != nil {
				o.logger.WarnContext(ctx, "record skipped",
					slog.String("domain", string(d)),
					slog.String("error", err.Error()),
				)
				skipped++
				continue
			}
			applied++
		}
		result.Applied = applied
		result.Skipped = skipped
		return nil
	}

	err := o.stores.Tx.InTx(ctx, apply)
	if err != nil {
		// StoreError policy: one retry at the call site.
		err = o.stores.Tx.InTx(ctx, apply)
	}
	if err != nil {
		result.Err = err.Error()
		o.logger.ErrorContext(ctx, "domain apply failed",
			slog.String("domain", string(d)),
			slog.String("error", err.Error()),
		)
	}
	report.Domains[d] = result
}

// applyDelta routes one fetched record to its store or, for trades, through
// the ledger for lot-level recomputation.
func (o *Orchestrator) applyDelta(ctx context.Context, delta domain.Delta) error {
	switch delta.Domain {
	case domain.DomainInstruments:
		if delta.Instrument == nil {
			return fmt.Errorf("instrument delta without payload")
		}
		return o.stores.Instruments.Upsert(ctx, *delta.Instrument)
	case domain.DomainCandles:
		if delta.Candle == nil {
			return fmt.Errorf("candle delta without payload")
		}
		return o.stores.Candles.InsertBatch(ctx, []domain.Candle{*delta.Candle})
	case domain.DomainTrades:
		if delta.Trade == nil {
			return fmt.Errorf("trade delta without payload")
		}
		return o.applyTrade(ctx, *delta.Trade)
	default:
		return fmt.Errorf("unexpected delta domain %q", delta.Domain)
	}
}

// applyTrade replays a remotely confirmed execution through the FIFO ledger.
// Incremental windows overlap, so every trade must be safe to refetch: buys
// carrying a transaction id already present in the lot set and sells whose
// realization is already persisted are skipped as duplicates.
func (o *Orchestrator) applyTrade(ctx context.Context, trade domain.TradeEvent) error {
	pos, err := o.stores.Positions.Get(ctx, trade.Symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load position %s: %w", trade.Symbol, err)
		}
		pos = domain.Position{Symbol: trade.Symbol}
	}
	lots, err := o.stores.Lots.ListBySymbol(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("load lots %s: %w", trade.Symbol, err)
	}

	var (
		next     domain.Position
		nextLots []domain.CostBasisLot
	)
	switch trade.Side {
	case domain.SideBuy:
		for _, lot := range lots {
			if lot.TransactionID == trade.TransactionID {
				return nil
			}
		}
		next, nextLots, err = ledger.ApplyBuy(pos, lots, trade.Quantity, trade.Price, trade.ExecutedAt, trade.TransactionID)
		if err != nil {
			return fmt.Errorf("apply buy %s: %w", trade.TransactionID, err)
		}
	case domain.SideSell:
		applied, err := o.stores.Realizations.Exists(ctx, trade.TransactionID)
		if err != nil {
			return fmt.Errorf("check realization %s: %w", trade.TransactionID, err)
		}
		if applied {
			return nil
		}
		var result domain.RealizationResult
		next, nextLots, result, err = ledger.ApplySell(pos, lots, trade.Quantity, trade.Price, trade.ExecutedAt)
		if err != nil {
			return fmt.Errorf("apply sell %s: %w", trade.TransactionID, err)
		}
		result.ID = trade.TransactionID
		if err := o.stores.Realizations.Insert(ctx, result); err != nil {
			return fmt.Errorf("persist realization %s: %w", trade.TransactionID, err)
		}
	default:
		return fmt.Errorf("unknown trade side %q", trade.Side)
	}

	if err := o.stores.Lots.ReplaceForSymbol(ctx, trade.Symbol, nextLots); err != nil {
		return fmt.Errorf("persist lots %s: %w", trade.Symbol, err)
	}
	if err := o.stores.Positions.Upsert(ctx, next); err != nil {
		return fmt.Errorf("persist position %s: %w", trade.Symbol, err)
	}
	return nil
}

// applyPositions reconciles fetched position snapshots against local state.
// Matching versions are left alone; diverged positions route through the
// resolver before anything is written.
func (o *Orchestrator) applyPositions(ctx context.Context, deltas []domain.Delta, report *domain.SyncReport) {
	result := report.Domains[domain.DomainPositions]
	apply := func(ctx context.Context) error {
		applied, skipped := 0, 0
		for _, delta := range deltas {
			remote := delta.Position
			if remote == nil {
				skipped++
				continue
			}

			local, err := o.stores.Positions.Get(ctx, remote.Symbol)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					skipped++
					continue
				}
				// First sight of the symbol: adopt the remote snapshot.
				fresh := *remote
				fresh.BaseQuantity = fresh.Quantity
				if err := o.stores.Positions.Upsert(ctx, fresh); err != nil {
					skipped++
					continue
				}
				applied++
				continue
			}

			if o.resolver.Detect(local, *remote) == domain.ConflictNone {
				applied++
				continue
			}

			resolved, record := o.resolver.Resolve(local, *remote, o.strategy)
			// The surviving quantity is the base for the next cycle.
			resolved.BaseQuantity = resolved.Quantity
			if err := o.stores.Positions.Upsert(ctx, resolved); err != nil {
				skipped++
				continue
			}
			report.Conflicts = append(report.Conflicts, record)
			o.publishConflict(ctx, record)
			applied++
		}
		result.Applied = applied
		result.Skipped = skipped
		return nil
	}

	err := o.stores.Tx.InTx(ctx, apply)
	if err != nil {
		err = o.stores.Tx.InTx(ctx, apply)
	}
	if err != nil {
		result.Err = err.Error()
		o.logger.ErrorContext(ctx, "position apply failed", slog.String("error", err.Error()))
	}
	report.Domains[domain.DomainPositions] = result
}

func anyFatal(results map[domain.SyncDomain]domain.DomainResult) bool {
	for _, r := range results {
		if r.Fatal() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) publishConflict(ctx context.Context, record domain.ConflictRecord) {
	if o.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":          "conflict_resolved",
		"entity_id":      record.EntityID,
		"local_version":  record.LocalVersion,
		"remote_version": record.RemoteVersion,
		"detected_type":  string(record.DetectedType),
		"strategy":       string(record.StrategyUsed),
		"deferred":       record.Deferred,
	})
	if err := o.bus.Publish(ctx, "conflicts", evt); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.WarnContext(ctx, "publish conflict event", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) publishCompletion(ctx context.Context, report domain.SyncReport) {
	if o.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":           "sync_completed",
		"incremental":     report.Incremental,
		"cursor_advanced": report.CursorAdvanced,
		"cancelled":       report.Cancelled,
		"conflicts":       len(report.Conflicts),
		"drained":         report.Drain.Completed,
	})
	// Completion events go on the durable stream so late consumers can
	// catch up; publish errors are logged, never fatal.
	if err := o.bus.StreamAppend(context.WithoutCancel(ctx), "sync", evt); err != nil {
		o.logger.WarnContext(ctx, "publish completion event", slog.String("error", err.Error()))
	}
}
