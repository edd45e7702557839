package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest mark price per symbol.
// Prices cross this interface as exact decimal strings, never binary floats.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// StreamMessage is one durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes engine events (sync completion, resolved conflicts,
// terminal queue failures, position updates) for external consumers. It is
// the only outward notification path; no component holds a UI reference.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter bounds outbound request rates across replicas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks so two replicas never run
// overlapping sync cycles against the same database.
type LockManager interface {
	// Acquire returns an unlock func on success, ErrLockHeld when the lock
	// is already held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
