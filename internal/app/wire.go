package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/tradeledger/internal/blob/s3"
	"github.com/alanyoungcy/tradeledger/internal/cache/redis"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/remote"
	"github.com/alanyoungcy/tradeledger/internal/store/memory"
	"github.com/alanyoungcy/tradeledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Tx           domain.Transactor
	Positions    domain.PositionStore
	Lots         domain.LotStore
	Realizations domain.RealizationStore
	QueueStore   domain.QueueStore
	Cursor       domain.CursorStore
	Instruments  domain.InstrumentStore
	Candles      domain.CandleStore
	Audit        domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Remote backend (nil in standalone mode)
	Remote domain.RemoteClient

	// Blob storage (nil unless archival is enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Clock domain.Clock
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Clock: domain.RealClock{}}

	// Standalone mode runs entirely in process: memory stores, a local bus,
	// and no remote backend.
	if strings.EqualFold(cfg.Mode, "standalone") {
		mem := memory.New()
		deps.Tx = mem
		deps.Positions = mem.Positions()
		deps.Lots = mem.Lots()
		deps.Realizations = mem.Realizations()
		deps.QueueStore = mem.Queue()
		deps.Cursor = mem.Cursor()
		deps.Instruments = mem.Instruments()
		deps.Candles = mem.Candles()
		deps.Audit = mem.Audit()

		deps.PriceCache = newLocalPriceCache()
		deps.SignalBus = newLocalBus()
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Tx = pgClient
	deps.Positions = postgres.NewPositionStore(pgClient)
	deps.Lots = postgres.NewLotStore(pgClient)
	deps.Realizations = postgres.NewRealizationStore(pgClient)
	deps.QueueStore = postgres.NewQueueStore(pgClient)
	deps.Cursor = postgres.NewCursorStore(pgClient)
	deps.Instruments = postgres.NewInstrumentStore(pgClient)
	deps.Candles = postgres.NewCandleStore(pgClient)
	deps.Audit = postgres.NewAuditStore(pgClient)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiterWithBudget(
		redisClient, cfg.Remote.RateLimit, cfg.Remote.RateLimitWindow.Duration,
	)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Remote backend ---
	deps.Remote = remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.Timeout.Duration,
	}, deps.RateLimiter)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter, deps.QueueStore, deps.Realizations, deps.Audit, logger,
		)
	}

	return deps, cleanup, nil
}

// localPriceCache is the in-process PriceCache used by standalone mode.
type localPriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price decimal.Decimal
	ts    time.Time
}

func newLocalPriceCache() *localPriceCache {
	return &localPriceCache{prices: make(map[string]pricePoint)}
}

func (c *localPriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = pricePoint{price: price, ts: ts}
	return nil
}

func (c *localPriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("app: price for %s: %w", symbol, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}

func (c *localPriceCache) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p.price
		}
	}
	return out, nil
}

// localBus is the in-process SignalBus used by standalone mode. Publishes
// fan out to in-process subscribers; stream appends are kept in memory.
type localBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

func newLocalBus() *localBus {
	return &localBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *localBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *localBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

func (b *localBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), len(b.streams[stream]))
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *localBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		if lastID != "" && msg.ID <= lastID {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

var (
	_ domain.PriceCache = (*localPriceCache)(nil)
	_ domain.SignalBus  = (*localBus)(nil)
)
