package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/store/memory"
	"github.com/alanyoungcy/tradeledger/internal/testutil"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	queue  *Queue
	store  domain.QueueStore
	remote *testutil.FakeRemote
	bus    *testutil.CaptureBus
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	remote := testutil.NewFakeRemote()
	bus := testutil.NewCaptureBus()
	clock := testutil.NewFakeClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		queue:  New(mem.Queue(), remote, bus, clock, logger),
		store:  mem.Queue(),
		remote: remote,
		bus:    bus,
		clock:  clock,
	}
}

func TestEnqueueIsDurableAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-1"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, start, item.EnqueuedAt)

	stored, err := f.store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, stored.Status)

	n, err := f.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDrainCompletesInFIFOOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-1"}`))
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.queue.Enqueue(ctx, domain.OpUpdatePosition, []byte(`{"symbol":"AAPL"}`))
	require.NoError(t, err)

	report, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Completed)

	require.Len(t, f.remote.SubmitCalls, 2)
	assert.Equal(t, first.ID, f.remote.SubmitCalls[0].ID)
	assert.Equal(t, second.ID, f.remote.SubmitCalls[1].ID)

	for _, id := range []string{first.ID, second.ID} {
		stored, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueStatusCompleted, stored.Status)
	}
}

func TestDrainSchedulesLinearBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-1"}`))
	require.NoError(t, err)

	f.remote.SubmitErrs = []error{errors.New("connection refused")}
	report, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	stored, err := f.store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, start.Add(time.Minute), *stored.NextRetryAt)

	// Not due yet: nothing is attempted.
	report, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)

	// After the backoff the second failure pushes the retry 2m out.
	f.clock.Advance(2 * time.Minute)
	f.remote.SubmitErrs = []error{errors.New("connection refused")}
	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)

	stored, err = f.store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(2*time.Minute), *stored.NextRetryAt)
}

// A queue item that fails three times is terminal: no fourth attempt.
func TestThreeFailuresIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-1"}`))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.remote.SubmitErrs = []error{errors.New("connection refused")}
		f.clock.Advance(10 * time.Minute)
		_, err = f.queue.Drain(ctx)
		require.NoError(t, err)
	}

	stored, err := f.store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, "connection refused", stored.LastError)
	assert.Equal(t, 3, f.remote.SubmitCount())
	assert.Equal(t, 1, f.bus.Count("queue"))

	// A further drain never touches the failed item.
	f.clock.Advance(10 * time.Minute)
	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.remote.SubmitCount())
}

// Draining twice with everything already completed makes no remote calls.
func TestDrainIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{"transaction_id":"tx-1"}`))
	require.NoError(t, err)

	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.remote.SubmitCount())

	report, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Equal(t, 1, f.remote.SubmitCount())
}

// A drain started while another is in flight is a no-op.
func TestDrainNonReentrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.queue.inFlight.Store(true)
	report, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DrainReport{}, report)
	assert.Equal(t, 0, f.remote.SubmitCount())
	f.queue.inFlight.Store(false)
}

func TestConcurrentDrainsSubmitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.queue.Enqueue(ctx, domain.OpCreateTrade, []byte(`{}`))
		require.NoError(t, err)
		f.clock.Advance(time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.queue.Drain(ctx)
		}()
	}
	wg.Wait()

	// Reentrancy guard plus the dedup window: each item submitted once.
	assert.Equal(t, 5, f.remote.SubmitCount())
}
