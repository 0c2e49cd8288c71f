package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"llmrelay/internal/domain"
	"llmrelay/internal/journal"
)

// StreamRouter resolves providers for streaming calls.
type StreamRouter interface {
	ProviderResolver
}

// Service is the unified facade over completion, tool orchestration, and
// durable streaming. It owns the per-call timeout policy; components
// below it only observe context cancellation.
type Service struct {
	router       ProviderResolver
	orchestrator *Orchestrator
	journal      *journal.Journal
	callTimeout  time.Duration
	logger       *slog.Logger
}

// NewService wires the facade. callTimeout of 0 disables the per-call
// deadline.
func NewService(router ProviderResolver, orch *Orchestrator, jrnl *journal.Journal, callTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		router:       router,
		orchestrator: orch,
		journal:      jrnl,
		callTimeout:  callTimeout,
		logger:       logger,
	}
}

// Complete performs a single blocking completion against the requested
// provider.
func (s *Service) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	provider, err := s.router.Route(req.Provider)
	if err != nil {
		return nil, err
	}
	return provider.Complete(ctx, req)
}

// RunTools drives the full orchestrated tool loop with the caller's
// executor.
func (s *Service) RunTools(ctx context.Context, req domain.CompletionRequest, executor domain.ToolExecutor) (*domain.CompletionResponse, error) {
	return s.orchestrator.Run(ctx, req, executor)
}

// StreamOpen begins or resumes a durable stream. An empty streamID gets
// a fresh ULID; callers that want crash resumption must supply a stable
// id of their own.
func (s *Service) StreamOpen(ctx context.Context, streamID string, req domain.CompletionRequest) (*journal.StreamHandle, string, error) {
	if streamID == "" {
		streamID = ulid.Make().String()
	}

	provider, err := s.router.Route(req.Provider)
	if err != nil {
		return nil, "", err
	}
	sp, ok := provider.(domain.StreamingProvider)
	if !ok {
		return nil, "", domain.NewDomainError("Service.StreamOpen", domain.ErrInvalidRequest,
			"provider does not support streaming")
	}

	handle, err := s.journal.Open(ctx, streamID, sp, req)
	if err != nil {
		return nil, "", err
	}
	s.logger.Debug("stream opened", "stream_id", streamID, "provider", req.Provider)
	return handle, streamID, nil
}

// StreamNext pulls the next committed event from the handle. io.EOF
// signals end-of-stream; an elapsed per-call deadline surfaces as
// ErrTimeout.
func (s *Service) StreamNext(ctx context.Context, handle *journal.StreamHandle) (domain.StreamEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	evt, err := handle.Next(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return evt, domain.NewDomainError("Service.StreamNext", domain.ErrTimeout, err.Error())
	}
	return evt, err
}

// StreamClose releases the handle. Committed entries survive for a later
// resume.
func (s *Service) StreamClose(handle *journal.StreamHandle) error {
	return handle.Close()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}
