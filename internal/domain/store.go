package domain

import (
	"context"
	"time"
)

// Transactor runs fn inside a single store transaction. Implementations must
// guarantee release on every exit path: commit when fn returns nil, rollback
// when it returns an error or panics. All mutations within one sync domain's
// apply step run through a single InTx call, which also serializes writers.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PositionStore persists per-symbol positions.
type PositionStore interface {
	Get(ctx context.Context, symbol string) (Position, error)
	Upsert(ctx context.Context, pos Position) error
	List(ctx context.Context) ([]Position, error)
}

// LotStore persists cost-basis lots. ReplaceForSymbol swaps the full lot set
// for a symbol in one statement so the ledger's all-or-nothing contract
// extends to persistence.
type LotStore interface {
	ListBySymbol(ctx context.Context, symbol string) ([]CostBasisLot, error)
	ReplaceForSymbol(ctx context.Context, symbol string, lots []CostBasisLot) error
}

// RealizationStore persists realization audit records. Realization ids are
// the transaction ids of their sells, so Insert of an id already present is a
// no-op and Exists answers whether a sell has been applied before.
type RealizationStore interface {
	Insert(ctx context.Context, r RealizationResult) error
	Exists(ctx context.Context, id string) (bool, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]RealizationResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]RealizationResult, error)
}

// QueueStore persists offline queue items. Insert must be durable before it
// returns; that is what makes Enqueue survive process restart.
type QueueStore interface {
	Insert(ctx context.Context, item QueueItem) error
	Update(ctx context.Context, item QueueItem) error
	Get(ctx context.Context, id string) (QueueItem, error)
	// ListDue returns pending items whose NextRetryAt is unset or <= now,
	// ordered by EnqueuedAt ascending (global FIFO).
	ListDue(ctx context.Context, now time.Time) ([]QueueItem, error)
	CountPending(ctx context.Context) (int64, error)
	ListCompletedBefore(ctx context.Context, before time.Time) ([]QueueItem, error)
	DeleteCompleted(ctx context.Context, ids []string) (int64, error)
}

// CursorStore persists the synchronization cursor: the timestamp up to which
// incremental sync has successfully completed.
type CursorStore interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, t time.Time) error
}

// InstrumentStore persists instrument metadata.
type InstrumentStore interface {
	Upsert(ctx context.Context, ins Instrument) error
	GetBySymbol(ctx context.Context, symbol string) (Instrument, error)
	List(ctx context.Context) ([]Instrument, error)
}

// CandleStore persists OHLC bars.
type CandleStore interface {
	InsertBatch(ctx context.Context, candles []Candle) error
	ListBySymbol(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
