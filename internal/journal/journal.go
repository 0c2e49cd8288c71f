package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"llmrelay/internal/domain"
)

// Journal coordinates durable streaming over a Storage backend. Each
// stream-id admits one active handle at a time; a second Open while a
// handle is open fails with ErrStreamAlreadyActive.
type Journal struct {
	storage Storage
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// New creates a Journal over the given storage.
func New(storage Storage, logger *slog.Logger) *Journal {
	return &Journal{
		storage: storage,
		logger:  logger,
		active:  make(map[string]bool),
	}
}

// StreamHandle is a consumer's view of one durable stream. Next blocks
// for the next event; every event returned by Next has already been
// committed to storage.
type StreamHandle struct {
	journal  *Journal
	streamID string

	replay []Entry // committed but undelivered, served first
	live   <-chan Entry
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	finished bool // terminal event delivered
}

// Open begins or resumes the stream identified by streamID against the
// given provider. On resume, committed-but-undelivered events replay in
// order before any live events; the provider is re-contacted only when
// the committed tail lacks a terminal event.
func (j *Journal) Open(ctx context.Context, streamID string, provider domain.StreamingProvider, req domain.CompletionRequest) (*StreamHandle, error) {
	j.mu.Lock()
	if j.active[streamID] {
		j.mu.Unlock()
		return nil, domain.NewDomainError("Journal.Open", domain.ErrStreamAlreadyActive, streamID)
	}
	j.active[streamID] = true
	j.mu.Unlock()

	h, err := j.open(ctx, streamID, provider, req)
	if err != nil {
		j.release(streamID)
		return nil, err
	}
	return h, nil
}

func (j *Journal) open(ctx context.Context, streamID string, provider domain.StreamingProvider, req domain.CompletionRequest) (*StreamHandle, error) {
	lastDelivered, err := j.storage.LastDelivered(ctx, streamID)
	if err != nil {
		return nil, err
	}
	replay, err := j.storage.ReadFrom(ctx, streamID, lastDelivered)
	if err != nil {
		return nil, err
	}

	h := &StreamHandle{
		journal:  j,
		streamID: streamID,
		replay:   replay,
		closedCh: make(chan struct{}),
	}

	// A committed terminal event means the provider already finished this
	// stream; replay alone completes it.
	for _, e := range replay {
		if e.Event.Terminal() {
			return h, nil
		}
	}

	highest, err := j.storage.HighestCommitted(ctx, streamID)
	if err != nil {
		return nil, err
	}

	// The terminal may already be delivered (fully consumed stream). The
	// provider must not be re-contacted in that case.
	if highest > 0 && len(replay) == 0 && lastDelivered >= highest {
		if tail, err := j.storage.ReadFrom(ctx, streamID, highest-1); err != nil {
			return nil, err
		} else if len(tail) > 0 && tail[len(tail)-1].Event.Terminal() {
			return h, nil
		}
	}

	watermark, err := j.storage.Watermark(ctx, streamID)
	if err != nil {
		return nil, err
	}

	source, err := j.openSource(ctx, provider, req, highest, watermark)
	if err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	live := make(chan Entry, 16)
	h.live = live
	h.cancel = cancel

	go j.pump(pumpCtx, streamID, highest, source, live)

	return h, nil
}

// openSource connects to the provider, resuming at the watermark when the
// adapter supports it and otherwise re-issuing the original request behind
// a deduplication filter.
func (j *Journal) openSource(ctx context.Context, provider domain.StreamingProvider, req domain.CompletionRequest, highest uint64, watermark int64) (<-chan domain.StreamEvent, error) {
	fresh := highest == 0

	if !fresh {
		if rp, ok := provider.(domain.ResumableStreamingProvider); ok {
			return rp.ResumeStream(ctx, req, watermark)
		}
	}

	raw, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	if fresh || watermark == 0 {
		return raw, nil
	}

	j.logger.Info("re-issuing stream for resume",
		"provider", provider.Name(), "watermark", watermark)
	return dedupToWatermark(raw, watermark), nil
}

// dedupToWatermark suppresses re-issued content whose cumulative byte
// offset falls below the watermark, splitting a delta that straddles it.
// A terminal event arriving before the watermark is reached becomes a
// durability-violation error: the vendor produced less content on the
// second attempt than was already committed.
func dedupToWatermark(in <-chan domain.StreamEvent, watermark int64) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		var offset int64
		for evt := range in {
			if offset >= watermark {
				out <- evt
				continue
			}

			if evt.Terminal() {
				if evt.Kind == domain.StreamError {
					out <- evt
					return
				}
				out <- domain.ErrorEvent(domain.NewDomainError("Journal.Resume",
					domain.ErrDurabilityViolation,
					fmt.Sprintf("re-issued stream ended at offset %d, watermark %d", offset, watermark)))
				return
			}

			n := int64(evt.ContentLen())
			switch {
			case n == 0:
				// Structural fragments (tool-call id/name) and empty text
				// below the watermark were already committed on the first
				// attempt.
				if evt.Kind == domain.StreamText || evt.Kind == domain.StreamToolCall {
					continue
				}
				out <- evt
			case offset+n <= watermark:
				offset += n
			default:
				keep := int(offset + n - watermark)
				offset = watermark
				out <- trimContent(evt, keep)
			}
		}
	}()
	return out
}

// trimContent returns evt with only the last keep content bytes.
func trimContent(evt domain.StreamEvent, keep int) domain.StreamEvent {
	switch evt.Kind {
	case domain.StreamText:
		evt.Text = evt.Text[len(evt.Text)-keep:]
	case domain.StreamToolCall:
		tc := *evt.ToolCall
		tc.Arguments = tc.Arguments[len(tc.Arguments)-keep:]
		evt.ToolCall = &tc
	}
	return evt
}

// pump commits adapter events and forwards them for delivery. Commit
// happens strictly before the entry is visible to Next.
func (j *Journal) pump(ctx context.Context, streamID string, lastSeq uint64, source <-chan domain.StreamEvent, out chan<- Entry) {
	defer close(out)

	seq := lastSeq
	for evt := range source {
		seq++
		evt.Seq = seq
		entry := Entry{Seq: seq, Event: evt}

		if err := j.storage.Append(ctx, streamID, entry); err != nil {
			j.logger.Error("journal commit failed",
				"stream_id", streamID, "seq", seq, "error", err)
			select {
			case out <- Entry{Seq: seq, Event: domain.ErrorEvent(err)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- entry:
		case <-ctx.Done():
			return
		}
		if evt.Terminal() {
			return
		}
	}
}

// Next returns the next stream event, blocking until one is available.
// Committed-but-undelivered events replay first. io.EOF signals the end
// of the stream; after a terminal event or Close, Next returns io.EOF.
func (h *StreamHandle) Next(ctx context.Context) (domain.StreamEvent, error) {
	h.mu.Lock()
	if h.closed || h.finished {
		h.mu.Unlock()
		return domain.StreamEvent{}, io.EOF
	}

	if len(h.replay) > 0 {
		entry := h.replay[0]
		h.replay = h.replay[1:]
		h.mu.Unlock()
		return h.deliver(ctx, entry)
	}

	if h.live == nil {
		h.finished = true
		h.mu.Unlock()
		return domain.StreamEvent{}, io.EOF
	}
	h.mu.Unlock()

	select {
	case entry, ok := <-h.live:
		if !ok {
			h.mu.Lock()
			h.finished = true
			h.mu.Unlock()
			return domain.StreamEvent{}, io.EOF
		}
		return h.deliver(ctx, entry)
	case <-h.closedCh:
		return domain.StreamEvent{}, io.EOF
	case <-ctx.Done():
		return domain.StreamEvent{}, ctx.Err()
	}
}

func (h *StreamHandle) deliver(ctx context.Context, entry Entry) (domain.StreamEvent, error) {
	if err := h.journal.storage.MarkDelivered(ctx, h.streamID, entry.Seq); err != nil {
		return domain.StreamEvent{}, err
	}
	if entry.Event.Terminal() {
		h.mu.Lock()
		h.finished = true
		h.mu.Unlock()
	}
	return entry.Event, nil
}

// Close releases the stream handle. Committed entries are never
// retracted; a later Open resumes from the delivery cursor.
func (h *StreamHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	close(h.closedCh)
	if h.cancel != nil {
		h.cancel()
	}
	h.journal.release(h.streamID)
	return nil
}

func (j *Journal) release(streamID string) {
	j.mu.Lock()
	delete(j.active, streamID)
	j.mu.Unlock()
}
