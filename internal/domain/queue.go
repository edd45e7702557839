package domain

import "time"

// OperationType classifies a queued offline mutation.
type OperationType string

const (
	OpCreateTrade    OperationType = "create_trade"
	OpUpdateTrade    OperationType = "update_trade"
	OpDeleteTrade    OperationType = "delete_trade"
	OpUpdatePosition OperationType = "update_position"
)

// QueueStatus tracks the lifecycle of a queued operation.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
)

// MaxQueueRetries is the retry ceiling: after this many failed attempts an
// item transitions to failed and no further attempt is made.
const MaxQueueRetries = 3

// QueueItem is a durable record of a local mutation awaiting remote
// acknowledgment. Items are deleted only by the external archival step,
// never implicitly.
type QueueItem struct {
	ID            string
	OperationType OperationType
	// Payload is a schema-typed record encoded as JSON. It carries the
	// originating transaction/entity id so remote submission is idempotent.
	Payload     []byte
	EnqueuedAt  time.Time
	RetryCount  int
	Status      QueueStatus
	NextRetryAt *time.Time
	LastError   string
}

// DrainReport summarizes a single drain pass over the queue.
type DrainReport struct {
	Attempted int
	Completed int
	Retried   int
	Failed    int
	Skipped   int
}
