package llm

import (
	"context"
	"testing"
	"time"

	"llmrelay/internal/domain"
)

func TestRateLimitedProviderPassesThrough(t *testing.T) {
	inner := &stubProvider{name: "fast", resp: textResponse("ok")}
	limited := NewRateLimitedProvider(inner, 100, 1)

	resp, err := limited.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Text() != "ok" {
		t.Errorf("text = %q", resp.Message.Text())
	}
	if limited.Name() != "fast" {
		t.Errorf("Name = %q", limited.Name())
	}
}

func TestRateLimitedProviderBlocksOverBurst(t *testing.T) {
	inner := &stubProvider{name: "slow", resp: textResponse("ok")}
	// 10 rps, burst 1: second immediate call must wait ~100ms.
	limited := NewRateLimitedProvider(inner, 10, 1)

	ctx := context.Background()
	if _, err := limited.Complete(ctx, domain.CompletionRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	start := time.Now()
	if _, err := limited.Complete(ctx, domain.CompletionRequest{}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second call not throttled, took %v", elapsed)
	}
}

func TestRateLimitedProviderRespectsContext(t *testing.T) {
	inner := &stubProvider{name: "slow", resp: textResponse("ok")}
	limited := NewRateLimitedProvider(inner, 0.001, 1)

	ctx := context.Background()
	limited.Complete(ctx, domain.CompletionRequest{}) // consume the burst

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Complete(shortCtx, domain.CompletionRequest{}); err == nil {
		t.Error("expected context error while waiting for a token")
	}
}

func TestRateLimitedProviderStream(t *testing.T) {
	inner := &stubProvider{
		name:   "streamer",
		events: []domain.StreamEvent{domain.TextDeltaEvent("a"), domain.DoneEvent("stop")},
	}
	limited := NewRateLimitedProvider(inner, 100, 1)

	ch, err := limited.Stream(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, ch)
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}
