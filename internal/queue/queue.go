// Package queue implements the durable offline operation queue: local
// mutations are appended synchronously before any network attempt and
// drained later against the remote backend with bounded linear-backoff
// retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// retryInterval is the linear backoff unit: after the n-th failure the next
// attempt is scheduled n*retryInterval in the future.
const retryInterval = time.Minute

// Queue is the offline operation queue. All state lives in the queue store;
// the in-flight flag guarding Drain is the only in-process mutable state.
type Queue struct {
	store  domain.QueueStore
	remote domain.RemoteClient
	bus    domain.SignalBus
	clock  domain.Clock
	logger *slog.Logger
	dedup  *Dedup

	inFlight atomic.Bool
}

// New creates a Queue. bus may be nil when no event consumers exist.
func New(store domain.QueueStore, remote domain.RemoteClient, bus domain.SignalBus, clock domain.Clock, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		remote: remote,
		bus:    bus,
		clock:  clock,
		logger: logger.With(slog.String("component", "queue")),
		dedup:  NewDedup(retryInterval/2, clock),
	}
}

// Enqueue durably records a local mutation before returning. The payload is
// a schema-typed record that embeds the originating transaction/entity id so
// the remote side can deduplicate retries.
func (q *Queue) Enqueue(ctx context.Context, op domain.OperationType, payload []byte) (domain.QueueItem, error) {
	item := domain.QueueItem{
		ID:            uuid.New().String(),
		OperationType: op,
		Payload:       payload,
		EnqueuedAt:    q.clock.Now(),
		Status:        domain.QueueStatusPending,
	}

	// A store failure is retried once at the call site before surfacing.
	if err := q.store.Insert(ctx, item); err != nil {
		if err = q.store.Insert(ctx, item); err != nil {
			return domain.QueueItem{}, fmt.Errorf("queue: enqueue %s: %w", item.ID, err)
		}
	}

	q.logger.InfoContext(ctx, "operation enqueued",
		slog.String("id", item.ID),
		slog.String("operation", string(op)),
	)
	return item, nil
}

// PendingCount returns the number of items still awaiting acknowledgment.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: count pending: %w", err)
	}
	return n, nil
}

// Drain submits every due pending item in global enqueued-at order. It is
// non-reentrant: a call while another drain is in progress is a no-op that
// returns an empty report immediately.
func (q *Queue) Drain(ctx context.Context) (domain.DrainReport, error) {
	if !q.inFlight.CompareAndSwap(false, true) {
		q.logger.DebugContext(ctx, "drain already in progress, skipping")
		return domain.DrainReport{}, nil
	}
	defer q.inFlight.Store(false)

	now := q.clock.Now()
	due, err := q.store.ListDue(ctx, now)
	if err != nil {
		return domain.DrainReport{}, fmt.Errorf("queue: list due items: %w", err)
	}

	var report domain.DrainReport
	for _, item := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if q.dedup.IsDuplicate(item.ID) {
			report.Skipped++
			continue
		}

		report.Attempted++
		if err := q.attempt(ctx, &item); err != nil {
			switch item.Status {
			case domain.QueueStatusFailed:
				report.Failed++
			default:
				report.Retried++
			}
			continue
		}
		report.Completed++
	}

	q.logger.InfoContext(ctx, "drain finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("completed", report.Completed),
		slog.Int("retried", report.Retried),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// attempt submits one item and persists its transition. item is updated in
// place so the caller can classify the outcome.
func (q *Queue) attempt(ctx context.Context, item *domain.QueueItem) error {
	ack, err := q.remote.Submit(ctx, *item)
	if err != nil {
		q.recordFailure(ctx, item, err)
		return err
	}

	item.Status = domain.QueueStatusCompleted
	item.NextRetryAt = nil
	item.LastError = ""
	if uerr := q.updateWithRetry(ctx, *item); uerr != nil {
		// The remote accepted the operation but the local transition was
		// lost. Leave the item pending: the next drain resubmits and the
		// remote dedupes on the embedded id.
		q.logger.WarnContext(ctx, "completed item not persisted, will resubmit",
			slog.String("id", item.ID),
			slog.String("error", uerr.Error()),
		)
		return uerr
	}

	q.logger.InfoContext(ctx, "operation acknowledged",
		slog.String("id", item.ID),
		slog.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// recordFailure applies the retry policy: bump the count, fail terminally at
// the ceiling, otherwise reschedule with linear backoff.
func (q *Queue) recordFailure(ctx context.Context, item *domain.QueueItem, cause error) {
	item.RetryCount++
	item.LastError = cause.Error()

	if item.RetryCount >= domain.MaxQueueRetries {
		item.Status = domain.QueueStatusFailed
		item.NextRetryAt = nil
		q.logger.ErrorContext(ctx, "operation failed terminally",
			slog.String("id", item.ID),
			slog.Int("retry_count", item.RetryCount),
			slog.String("error", cause.Error()),
		)
		q.publishFailure(ctx, *item)
	} else {
		next := q.clock.Now().Add(time.Duration(item.RetryCount) * retryInterval)
		item.Status = domain.QueueStatusPending
		item.NextRetryAt = &next
		q.logger.WarnContext(ctx, "operation failed, scheduled for retry",
			slog.String("id", item.ID),
			slog.Int("retry_count", item.RetryCount),
			slog.Time("next_retry_at", next),
		)
	}

	if err := q.updateWithRetry(ctx, *item); err != nil {
		q.logger.ErrorContext(ctx, "failed to persist queue transition",
			slog.String("id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Queue) updateWithRetry(ctx context.Context, item domain.QueueItem) error {
	if err := q.store.Update(ctx, item); err != nil {
		if err = q.store.Update(ctx, item); err != nil {
			return fmt.Errorf("queue: update %s: %w", item.ID, err)
		}
	}
	return nil
}

func (q *Queue) publishFailure(ctx context.Context, item domain.QueueItem) {
	if q.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":       "queue_item_failed",
		"id":          item.ID,
		"operation":   string(item.OperationType),
		"retry_count": item.RetryCount,
		"error":       item.LastError,
	})
	if err := q.bus.Publish(ctx, "queue", evt); err != nil && !errors.Is(err, context.Canceled) {
		q.logger.WarnContext(ctx, "publish failure event",
			slog.String("id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}
