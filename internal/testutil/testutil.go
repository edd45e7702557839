// Package testutil provides shared fakes for unit tests: a settable clock, a
// scriptable remote client, and a capturing signal bus.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeRemote is a scriptable domain.RemoteClient. Deltas are returned per
// domain; SubmitErrs are consumed one per Submit call, a nil entry (or an
// exhausted script) meaning success. All calls are recorded.
type FakeRemote struct {
	mu sync.Mutex

	Deltas    map[domain.SyncDomain][]domain.Delta
	FetchErrs map[domain.SyncDomain]error
	SubmitErrs []error

	FetchCalls  []domain.SyncDomain
	SubmitCalls []domain.QueueItem
}

// NewFakeRemote creates an empty FakeRemote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Deltas:    make(map[domain.SyncDomain][]domain.Delta),
		FetchErrs: make(map[domain.SyncDomain]error),
	}
}

func (r *FakeRemote) FetchDeltas(_ context.Context, d domain.SyncDomain, _ time.Time) ([]domain.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FetchCalls = append(r.FetchCalls, d)
	if err := r.FetchErrs[d]; err != nil {
		return nil, err
	}
	return r.Deltas[d], nil
}

func (r *FakeRemote) Submit(_ context.Context, item domain.QueueItem) (domain.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SubmitCalls = append(r.SubmitCalls, item)
	if len(r.SubmitErrs) > 0 {
		err := r.SubmitErrs[0]
		r.SubmitErrs = r.SubmitErrs[1:]
		if err != nil {
			return domain.Ack{}, err
		}
	}
	return domain.Ack{ID: item.ID, Accepted: true}, nil
}

// SubmitCount returns how many Submit calls were made.
func (r *FakeRemote) SubmitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.SubmitCalls)
}

// CaptureBus is a domain.SignalBus that records published payloads.
type CaptureBus struct {
	mu        sync.Mutex
	Published map[string][][]byte
}

// NewCaptureBus creates an empty CaptureBus.
func NewCaptureBus() *CaptureBus {
	return &CaptureBus{Published: make(map[string][][]byte)}
}

func (b *CaptureBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Published[channel] = append(b.Published[channel], payload)
	return nil
}

func (b *CaptureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *CaptureBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *CaptureBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// Count returns how many payloads were published on channel.
func (b *CaptureBus) Count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Published[channel])
}
