package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncDomain identifies one independently fetched remote data domain.
type SyncDomain string

const (
	DomainInstruments SyncDomain = "instruments"
	DomainTrades      SyncDomain = "trades"
	DomainPositions   SyncDomain = "positions"
	DomainCandles     SyncDomain = "candles"
)

// SyncDomains lists all domains in their fixed application order.
var SyncDomains = []SyncDomain{DomainInstruments, DomainTrades, DomainPositions, DomainCandles}

// SyncState is one phase of the orchestrator's cycle state machine.
type SyncState int32

const (
	StateIdle SyncState = iota
	StateFetchingRemote
	StateApplyingDeltas
	StateResolvingConflicts
	StateDrainingQueue
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingRemote:
		return "fetching_remote"
	case StateApplyingDeltas:
		return "applying_deltas"
	case StateResolvingConflicts:
		return "resolving_conflicts"
	case StateDrainingQueue:
		return "draining_queue"
	default:
		return "unknown"
	}
}

// Instrument is tradable-symbol metadata fetched from the remote system.
type Instrument struct {
	Symbol    string
	Name      string
	Exchange  string
	Currency  string
	Active    bool
	UpdatedAt time.Time
}

// TradeSide distinguishes buys from sells.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeEvent is a confirmed trade execution, local or remote.
type TradeEvent struct {
	TransactionID string
	Symbol        string
	Side          TradeSide
	Quantity      int64
	Price         decimal.Decimal
	ExecutedAt    time.Time
}

// Candle is one OHLC bar for a symbol.
type Candle struct {
	Symbol   string
	Interval string
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
	OpenedAt time.Time
}

// Delta is a tagged variant: exactly one of the pointer fields matching
// Domain is set. Remote payloads are decoded into this shape once, at the
// boundary; nothing downstream sees untyped maps.
type Delta struct {
	Domain     SyncDomain
	Instrument *Instrument
	Trade      *TradeEvent
	Position   *Position
	Candle     *Candle
}

// Ack is the remote acknowledgment of a submitted operation.
type Ack struct {
	ID         string
	Accepted   bool
	Duplicate  bool
	ReceivedAt time.Time
}

// DomainResult reports the outcome of fetching and applying one domain.
type DomainResult struct {
	Fetched int
	Applied int
	Skipped int
	Err     string
}

// Fatal reports whether the domain failed at the fetch or transaction level
// (as opposed to skipped individual records).
func (r DomainResult) Fatal() bool {
	return r.Err != ""
}

// SyncReport is the outcome of one full or incremental sync cycle.
type SyncReport struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	Incremental    bool
	Since          time.Time
	Domains        map[SyncDomain]DomainResult
	Conflicts      []ConflictRecord
	Drain          DrainReport
	CursorAdvanced bool
	Cancelled      bool
}
