// Package journal provides durable commit-then-deliver streaming with
// crash resumption. Every stream event is committed to storage before it
// is handed to the consumer; after a crash, committed-but-undelivered
// events replay in order and the underlying provider stream is resumed
// from a content watermark without re-delivering prior output.
package journal

import (
	"context"

	"llmrelay/internal/domain"
)

// Entry is one committed stream event. Seq is 1-based and dense per
// stream; the event's own Seq field mirrors it.
type Entry struct {
	Seq   uint64
	Event domain.StreamEvent
}

// Storage persists stream entries and per-stream cursors. Implementations
// must keep the watermark consistent with appended entries: Append(e)
// advances the stream's watermark by e.Event.ContentLen() atomically with
// the insert.
type Storage interface {
	// Append commits an entry. Appending a seq that already exists is an
	// error; entries are immutable once committed.
	Append(ctx context.Context, streamID string, e Entry) error

	// ReadFrom returns committed entries with seq > fromSeq, in order.
	ReadFrom(ctx context.Context, streamID string, fromSeq uint64) ([]Entry, error)

	// HighestCommitted returns the highest committed seq, 0 if none.
	HighestCommitted(ctx context.Context, streamID string) (uint64, error)

	// MarkDelivered advances the delivery cursor. The cursor never moves
	// backwards; marking a lower seq is a no-op.
	MarkDelivered(ctx context.Context, streamID string, seq uint64) error

	// LastDelivered returns the delivery cursor, 0 if nothing delivered.
	LastDelivered(ctx context.Context, streamID string) (uint64, error)

	// Watermark returns the cumulative content bytes committed for the
	// stream (text deltas plus tool-call argument fragments).
	Watermark(ctx context.Context, streamID string) (int64, error)

	// Close releases storage resources.
	Close() error
}
