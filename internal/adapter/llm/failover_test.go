package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/logger"
)

func transientErr(provider string) error {
	return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Provider: provider, Raw: "down"}
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubProvider{name: "primary", resp: textResponse("from primary")}
	fallback := &stubProvider{name: "fallback", resp: textResponse("from fallback")}
	fo := NewFailoverProvider(primary, []domain.Provider{fallback}, logger.Discard())

	resp, err := fo.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Text() != "from primary" {
		t.Errorf("text = %q", resp.Message.Text())
	}
	if fallback.calls != 0 {
		t.Error("fallback reached despite healthy primary")
	}
}

func TestFailoverFallsBackOnTransientError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: transientErr("primary")}
	fallback := &stubProvider{name: "fallback", resp: textResponse("from fallback")}
	fo := NewFailoverProvider(primary, []domain.Provider{fallback}, logger.Discard())

	resp, err := fo.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Text() != "from fallback" {
		t.Errorf("text = %q", resp.Message.Text())
	}
}

func TestFailoverSkipsFallbacksOnNonTransientError(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		err:  &domain.ProviderError{Kind: domain.ErrAuthFailure, Provider: "primary", Raw: "bad key"},
	}
	fallback := &stubProvider{name: "fallback", resp: textResponse("unused")}
	fo := NewFailoverProvider(primary, []domain.Provider{fallback}, logger.Discard())

	_, err := fo.Complete(context.Background(), domain.CompletionRequest{})
	if !errors.Is(err, domain.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if fallback.calls != 0 {
		t.Error("auth failure should not trigger failover")
	}
}

func TestFailoverAllProvidersDown(t *testing.T) {
	primary := &stubProvider{name: "p", err: transientErr("p")}
	fb1 := &stubProvider{name: "f1", err: transientErr("f1")}
	fb2 := &stubProvider{name: "f2", err: transientErr("f2")}
	fo := NewFailoverProvider(primary, []domain.Provider{fb1, fb2}, logger.Discard())

	_, err := fo.Complete(context.Background(), domain.CompletionRequest{})
	if err == nil {
		t.Fatal("expected aggregated failure")
	}
	for _, name := range []string{"p:", "f1:", "f2:"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("aggregated error missing %q: %v", name, err)
		}
	}
}

func TestFailoverStream(t *testing.T) {
	primary := &stubProvider{name: "p", streamErr: transientErr("p")}
	fallback := &stubProvider{
		name:   "f",
		events: []domain.StreamEvent{domain.TextDeltaEvent("x"), domain.DoneEvent("stop")},
	}
	fo := NewFailoverProvider(primary, []domain.Provider{fallback}, logger.Discard())

	ch, err := fo.Stream(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, ch)
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}
