package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Archiver implements domain.Archiver: aged records are serialized to JSONL
// and uploaded to cold storage. Completed queue items are deleted from the
// primary store only after their archive upload succeeded; realizations are
// immutable audit records and are archived without deletion.
type Archiver struct {
	writer       domain.BlobWriter
	queue        domain.QueueStore
	realizations domain.RealizationStore
	audit        domain.AuditStore
	logger       *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	queue domain.QueueStore,
	realizations domain.RealizationStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:       writer,
		queue:        queue,
		realizations: realizations,
		audit:        audit,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// queueItemRecord is the JSONL shape of one archived queue item.
type queueItemRecord struct {
	ID            string          `json:"id"`
	OperationType string          `json:"operation_type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	Status        string          `json:"status"`
}

// realizationRecord is the JSONL shape of one archived realization. Decimals
// are written as exact strings.
type realizationRecord struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Quantity        int64     `json:"quantity"`
	SellPrice       string    `json:"sell_price"`
	RealizedGain    string    `json:"realized_gain"`
	RealizedLoss    string    `json:"realized_loss"`
	NetRealized     string    `json:"net_realized"`
	AvgCostConsumed string    `json:"avg_cost_consumed"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ArchiveCompletedOperations uploads all completed queue items enqueued
// before the cutoff as archive/operations/YYYY-MM.jsonl, then deletes the
// archived items. Pending and failed items are never touched.
func (a *Archiver) ArchiveCompletedOperations(ctx context.Context, before time.Time) (int64, error) {
	items, err := a.queue.ListCompletedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations query: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	records := make([]queueItemRecord, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		records[i] = queueItemRecord{
			ID:            item.ID,
			OperationType: string(item.OperationType),
			Payload:       json.RawMessage(item.Payload),
			EnqueuedAt:    item.EnqueuedAt,
			RetryCount:    item.RetryCount,
			Status:        string(item.Status),
		}
		ids[i] = item.ID
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations marshal: %w", err)
	}

	path := archivePath("operations", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive operations upload: %w", err)
	}

	deleted, err := a.queue.DeleteCompleted(ctx, ids)
	if err != nil {
		// The upload is durable; a lost delete only means the next run
		// re-archives the same items.
		return 0, fmt.Errorf("s3blob: archive operations delete: %w", err)
	}

	a.logAudit(ctx, "archive.operations", path, deleted, before)
	a.logger.InfoContext(ctx, "operations archived",
		slog.String("path", path),
		slog.Int64("count", deleted),
	)
	return deleted, nil
}

// ArchiveRealizations uploads realizations that occurred before the cutoff
// as archive/realizations/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveRealizations(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.realizations.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive realizations query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	records := make([]realizationRecord, len(results))
	for i, r := range results {
		records[i] = realizationRecord{
			ID:              r.ID,
			Symbol:          r.Symbol,
			Quantity:        r.Quantity,
			SellPrice:       r.SellPrice.String(),
			RealizedGain:    r.RealizedGain.String(),
			RealizedLoss:    r.RealizedLoss.String(),
			NetRealized:     r.NetRealized.String(),
			AvgCostConsumed: r.AvgCostConsumed.String(),
			OccurredAt:      r.OccurredAt,
		}
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive realizations marshal: %w", err)
	}

	path := archivePath("realizations", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive realizations upload: %w", err)
	}

	count := int64(len(records))
	a.logAudit(ctx, "archive.realizations", path, count, before)
	a.logger.InfoContext(ctx, "realizations archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

func (a *Archiver) logAudit(ctx context.Context, event, path string, count int64, before time.Time) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.WarnContext(ctx, "archive audit log failed", slog.String("error", err.Error()))
	}
}

// archivePath partitions archive files by the cutoff's year-month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL writes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
