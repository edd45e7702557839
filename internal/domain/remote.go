package domain

import (
	"context"
	"time"
)

// RemoteClient talks to the authoritative trading backend. Both calls must be
// safe to retry: the backend deduplicates on the transaction/entity id
// embedded in the payload, and FetchDeltas is a read.
type RemoteClient interface {
	FetchDeltas(ctx context.Context, domain SyncDomain, since time.Time) ([]Delta, error)
	Submit(ctx context.Context, item QueueItem) (Ack, error)
}
