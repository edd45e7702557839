// Package memory implements every domain store interface with in-memory
// maps. Used by unit tests and standalone mode; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Store is the shared state core. Per-interface views are obtained from the
// accessor methods, mirroring how the Postgres stores share one pool. InTx
// snapshots the full state so a failed transaction rolls back atomically,
// matching the transactional contract of the Postgres store.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	positions    map[string]domain.Position
	lots         map[string][]domain.CostBasisLot
	realizations []domain.RealizationResult
	queue        map[string]domain.QueueItem
	instruments  map[string]domain.Instrument
	candles      []domain.Candle
	audit        []domain.AuditEntry
	cursor       time.Time
	auditSeq     int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		positions:   make(map[string]domain.Position),
		lots:        make(map[string][]domain.CostBasisLot),
		queue:       make(map[string]domain.QueueItem),
		instruments: make(map[string]domain.Instrument),
	}
}

func (s *Store) Positions() domain.PositionStore       { return positionStore{s} }
func (s *Store) Lots() domain.LotStore                 { return lotStore{s} }
func (s *Store) Realizations() domain.RealizationStore { return realizationStore{s} }
func (s *Store) Queue() domain.QueueStore              { return queueStore{s} }
func (s *Store) Cursor() domain.CursorStore            { return cursorStore{s} }
func (s *Store) Instruments() domain.InstrumentStore   { return instrumentStore{s} }
func (s *Store) Candles() domain.CandleStore           { return candleStore{s} }
func (s *Store) Audit() domain.AuditStore              { return auditStore{s} }

type snapshot struct {
	positions    map[string]domain.Position
	lots         map[string][]domain.CostBasisLot
	realizations []domain.RealizationResult
	queue        map[string]domain.QueueItem
	instruments  map[string]domain.Instrument
	candles      []domain.Candle
	audit        []domain.AuditEntry
	cursor       time.Time
	auditSeq     int64
}

func (s *Store) takeSnapshot() snapshot {
	snap := snapshot{
		positions:    make(map[string]domain.Position, len(s.positions)),
		lots:         make(map[string][]domain.CostBasisLot, len(s.lots)),
		realizations: append([]domain.RealizationResult(nil), s.realizations...),
		queue:        make(map[string]domain.QueueItem, len(s.queue)),
		instruments:  make(map[string]domain.Instrument, len(s.instruments)),
		candles:      append([]domain.Candle(nil), s.candles...),
		audit:        append([]domain.AuditEntry(nil), s.audit...),
		cursor:       s.cursor,
		auditSeq:     s.auditSeq,
	}
	for k, v := range s.positions {
		snap.positions[k] = v
	}
	for k, v := range s.lots {
		snap.lots[k] = append([]domain.CostBasisLot(nil), v...)
	}
	for k, v := range s.queue {
		snap.queue[k] = v
	}
	for k, v := range s.instruments {
		snap.instruments[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.positions = snap.positions
	s.lots = snap.lots
	s.realizations = snap.realizations
	s.queue = snap.queue
	s.instruments = snap.instruments
	s.candles = snap.candles
	s.audit = snap.audit
	s.cursor = snap.cursor
	s.auditSeq = snap.auditSeq
}

var _ domain.Transactor = (*Store)(nil)

// InTx runs fn under the exclusive transaction lock, so transactions never
// interleave; when fn fails every mutation made inside it is rolled back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.takeSnapshot()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

// --- PositionStore ---

type positionStore struct{ s *Store }

func (v positionStore) Get(_ context.Context, symbol string) (domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	pos, ok := v.s.positions[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (v positionStore) Upsert(_ context.Context, pos domain.Position) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.positions[pos.Symbol] = pos
	return nil
}

func (v positionStore) List(_ context.Context) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Position, 0, len(v.s.positions))
	for _, p := range v.s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- LotStore ---

type lotStore struct{ s *Store }

func (v lotStore) ListBySymbol(_ context.Context, symbol string) ([]domain.CostBasisLot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return append([]domain.CostBasisLot(nil), v.s.lots[symbol]...), nil
}

func (v lotStore) ReplaceForSymbol(_ context.Context, symbol string, lots []domain.CostBasisLot) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.lots[symbol] = append([]domain.CostBasisLot(nil), lots...)
	return nil
}

// --- RealizationStore ---

type realizationStore struct{ s *Store }

func (v realizationStore) Insert(_ context.Context, r domain.RealizationResult) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.realizations {
		if existing.ID == r.ID {
			return nil
		}
	}
	v.s.realizations = append(v.s.realizations, r)
	return nil
}

func (v realizationStore) Exists(_ context.Context, id string) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, r := range v.s.realizations {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (v realizationStore) ListBySymbol(_ context.Context, symbol string, limit int) ([]domain.RealizationResult, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.RealizationResult
	for _, r := range v.s.realizations {
		if r.Symbol == symbol {
			out = append(out, r)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v realizationStore) ListBefore(_ context.Context, before time.Time) ([]domain.RealizationResult, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.RealizationResult
	for _, r := range v.s.realizations {
		if r.OccurredAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- QueueStore ---

type queueStore struct{ s *Store }

func (v queueStore) Insert(_ context.Context, item domain.QueueItem) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.queue[item.ID]; ok {
		return domain.ErrAlreadyExists
	}
	v.s.queue[item.ID] = item
	return nil
}

func (v queueStore) Update(_ context.Context, item domain.QueueItem) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.queue[item.ID]; !ok {
		return domain.ErrNotFound
	}
	v.s.queue[item.ID] = item
	return nil
}

func (v queueStore) Get(_ context.Context, id string) (domain.QueueItem, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	item, ok := v.s.queue[id]
	if !ok {
		return domain.QueueItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (v queueStore) ListDue(_ context.Context, now time.Time) ([]domain.QueueItem, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.QueueItem
	for _, item := range v.s.queue {
		if item.Status != domain.QueueStatusPending {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(now) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (v queueStore) CountPending(_ context.Context) (int64, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var n int64
	for _, item := range v.s.queue {
		if item.Status == domain.QueueStatusPending {
			n++
		}
	}
	return n, nil
}

func (v queueStore) ListCompletedBefore(_ context.Context, before time.Time) ([]domain.QueueItem, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.QueueItem
	for _, item := range v.s.queue {
		if item.Status == domain.QueueStatusCompleted && item.EnqueuedAt.Before(before) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (v queueStore) DeleteCompleted(_ context.Context, ids []string) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		item, ok := v.s.queue[id]
		if !ok || item.Status != domain.QueueStatusCompleted {
			continue
		}
		delete(v.s.queue, id)
		n++
	}
	return n, nil
}

// --- CursorStore ---

type cursorStore struct{ s *Store }

func (v cursorStore) Get(_ context.Context) (time.Time, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.cursor, nil
}

func (v cursorStore) Set(_ context.Context, t time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.cursor = t
	return nil
}

// --- InstrumentStore ---

type instrumentStore struct{ s *Store }

func (v instrumentStore) Upsert(_ context.Context, ins domain.Instrument) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.instruments[ins.Symbol] = ins
	return nil
}

func (v instrumentStore) GetBySymbol(_ context.Context, symbol string) (domain.Instrument, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	ins, ok := v.s.instruments[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return ins, nil
}

func (v instrumentStore) List(_ context.Context) ([]domain.Instrument, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Instrument, 0, len(v.s.instruments))
	for _, ins := range v.s.instruments {
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- CandleStore ---

type candleStore struct{ s *Store }

func (v candleStore) InsertBatch(_ context.Context, candles []domain.Candle) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.candles = append(v.s.candles, candles...)
	return nil
}

func (v candleStore) ListBySymbol(_ context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Candle
	for _, c := range v.s.candles {
		if c.Symbol == symbol && c.Interval == interval {
			out = append(out, c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- AuditStore ---

type auditStore struct{ s *Store }

func (v auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.auditSeq++
	v.s.audit = append(v.s.audit, domain.AuditEntry{
		ID:     v.s.auditSeq,
		Event:  event,
		Detail: detail,
	})
	return nil
}

func (v auditStore) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := append([]domain.AuditEntry(nil), v.s.audit...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
