package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/logger"
	"llmrelay/internal/journal"
)

// streamingModel wraps scriptedModel with a scripted event stream.
type streamingModel struct {
	scriptedModel
	events []domain.StreamEvent
}

func (m *streamingModel) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	ch := make(chan domain.StreamEvent, len(m.events))
	for _, evt := range m.events {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func newTestService(t *testing.T, provider domain.Provider, callTimeout time.Duration) *Service {
	t.Helper()
	resolver := &staticResolver{provider: provider}
	orch := NewOrchestrator(resolver, 0, logger.Discard())
	jrnl := journal.New(journal.NewMemoryStorage(), logger.Discard())
	return NewService(resolver, orch, jrnl, callTimeout, logger.Discard())
}

func TestServiceComplete(t *testing.T) {
	model := &scriptedModel{name: "test", responses: []*domain.CompletionResponse{finalResponse("hi there")}}
	svc := newTestService(t, model, 0)

	resp, err := svc.Complete(context.Background(), domain.CompletionRequest{
		Provider: "test",
		Messages: []domain.Message{domain.TextMessage(domain.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Message.Text())
}

func TestServiceCompleteRoutesError(t *testing.T) {
	resolver := &staticResolver{err: domain.NewDomainError("Router.Route", domain.ErrUnknownProvider, "ghost")}
	svc := NewService(resolver, NewOrchestrator(resolver, 0, logger.Discard()),
		journal.New(journal.NewMemoryStorage(), logger.Discard()), 0, logger.Discard())

	_, err := svc.Complete(context.Background(), domain.CompletionRequest{Provider: "ghost"})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestServiceStreamOpenGeneratesStreamID(t *testing.T) {
	model := &streamingModel{
		scriptedModel: scriptedModel{name: "test"},
		events:        []domain.StreamEvent{domain.TextDeltaEvent("hi"), domain.DoneEvent("stop")},
	}
	svc := newTestService(t, model, 0)

	handle, id, err := svc.StreamOpen(context.Background(), "", domain.CompletionRequest{Provider: "test"})
	require.NoError(t, err)
	defer svc.StreamClose(handle)

	// ULIDs are 26 characters of Crockford base32.
	assert.Len(t, id, 26)

	evt, err := svc.StreamNext(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, "hi", evt.Text)
}

func TestServiceStreamOpenHonorsCallerStreamID(t *testing.T) {
	model := &streamingModel{
		scriptedModel: scriptedModel{name: "test"},
		events:        []domain.StreamEvent{domain.DoneEvent("stop")},
	}
	svc := newTestService(t, model, 0)

	handle, id, err := svc.StreamOpen(context.Background(), "my-stream", domain.CompletionRequest{Provider: "test"})
	require.NoError(t, err)
	defer svc.StreamClose(handle)
	assert.Equal(t, "my-stream", id)

	// The same id cannot be opened twice while active.
	_, _, err = svc.StreamOpen(context.Background(), "my-stream", domain.CompletionRequest{Provider: "test"})
	assert.ErrorIs(t, err, domain.ErrStreamAlreadyActive)
}

func TestServiceStreamOpenRejectsNonStreamingProvider(t *testing.T) {
	// scriptedModel implements Provider but not StreamingProvider.
	model := &scriptedModel{name: "test"}
	svc := newTestService(t, model, 0)

	_, _, err := svc.StreamOpen(context.Background(), "", domain.CompletionRequest{Provider: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestServiceStreamDrainToEOF(t *testing.T) {
	model := &streamingModel{
		scriptedModel: scriptedModel{name: "test"},
		events: []domain.StreamEvent{
			domain.TextDeltaEvent("one"),
			domain.TextDeltaEvent("two"),
			domain.DoneEvent("stop"),
		},
	}
	svc := newTestService(t, model, 0)

	handle, _, err := svc.StreamOpen(context.Background(), "", domain.CompletionRequest{Provider: "test"})
	require.NoError(t, err)
	defer svc.StreamClose(handle)

	var kinds []domain.StreamEventKind
	for {
		evt, err := svc.StreamNext(context.Background(), handle)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, evt.Kind)
	}
	assert.Equal(t, []domain.StreamEventKind{
		domain.StreamText, domain.StreamText, domain.StreamDone,
	}, kinds)
}

func TestServiceStreamingRefinesComplete(t *testing.T) {
	// A deterministic stub answers identically over both paths; drained
	// stream text must match the blocking completion.
	const answer = "The capital of Vietnam is Hanoi."
	model := &streamingModel{
		scriptedModel: scriptedModel{name: "test", responses: []*domain.CompletionResponse{finalResponse(answer)}},
		events: []domain.StreamEvent{
			domain.TextDeltaEvent("The capital of "),
			domain.TextDeltaEvent("Vietnam is "),
			domain.TextDeltaEvent("Hanoi."),
			domain.DoneEvent("stop"),
		},
	}
	svc := newTestService(t, model, 0)
	req := domain.CompletionRequest{
		Provider: "test",
		Messages: []domain.Message{domain.TextMessage(domain.RoleUser, "capital of Vietnam?")},
	}

	resp, err := svc.Complete(context.Background(), req)
	require.NoError(t, err)

	handle, _, err := svc.StreamOpen(context.Background(), "", req)
	require.NoError(t, err)
	defer svc.StreamClose(handle)

	var streamed strings.Builder
	for {
		evt, err := svc.StreamNext(context.Background(), handle)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		streamed.WriteString(evt.Text)
	}
	assert.Equal(t, resp.Message.Text(), streamed.String())
}

func TestServiceRunTools(t *testing.T) {
	model := &scriptedModel{name: "test", responses: []*domain.CompletionResponse{finalResponse("answer")}}
	svc := newTestService(t, model, 0)

	resp, err := svc.RunTools(context.Background(), domain.CompletionRequest{
		Provider: "test",
		Messages: []domain.Message{domain.TextMessage(domain.RoleUser, "hi")},
	}, domain.ToolExecutorFunc(func(ctx context.Context, calls []domain.ToolCall) ([]domain.ToolResult, error) {
		t.Fatal("executor invoked with no pending tools")
		return nil, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Message.Text())
}

func TestServiceCallTimeout(t *testing.T) {
	model := &slowModel{delay: 200 * time.Millisecond}
	svc := newTestService(t, model, 20*time.Millisecond)

	_, err := svc.Complete(context.Background(), domain.CompletionRequest{
		Provider: "test",
		Messages: []domain.Message{domain.TextMessage(domain.RoleUser, "hi")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceStreamNextTimeout(t *testing.T) {
	// The backend connects but never emits; the per-call deadline must
	// surface as the timeout taxonomy kind, not a raw context error.
	model := &stalledStreamModel{scriptedModel{name: "test"}}
	svc := newTestService(t, model, 30*time.Millisecond)

	handle, _, err := svc.StreamOpen(context.Background(), "", domain.CompletionRequest{Provider: "test"})
	require.NoError(t, err)
	defer svc.StreamClose(handle)

	_, err = svc.StreamNext(context.Background(), handle)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

// stalledStreamModel opens a stream that never produces an event.
type stalledStreamModel struct {
	scriptedModel
}

func (m *stalledStreamModel) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	return make(chan domain.StreamEvent), nil
}

// slowModel blocks until its delay elapses or the context expires.
type slowModel struct {
	delay time.Duration
}

func (m *slowModel) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	select {
	case <-time.After(m.delay):
		return finalResponse("late"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *slowModel) Supports(kind domain.ContentKind) bool { return true }
func (m *slowModel) Name() string                          { return "slow" }
