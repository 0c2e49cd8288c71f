package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the domain layer. Every error surfaced by the core
// wraps exactly one of these so callers can distinguish "my request was
// wrong" from "the vendor is down" from "the resumption guarantee broke".
var (
	ErrInvalidRequest        = fmt.Errorf("invalid request")
	ErrUnsupportedContent    = fmt.Errorf("unsupported content")
	ErrAuthFailure           = fmt.Errorf("authentication failed")
	ErrRateLimited           = fmt.Errorf("rate limit exceeded")
	ErrProviderUnavailable   = fmt.Errorf("provider unavailable")
	ErrTimeout               = fmt.Errorf("operation timed out")
	ErrToolLoopExceeded      = fmt.Errorf("tool loop iteration cap exceeded")
	ErrIncompleteToolResults = fmt.Errorf("incomplete tool results")
	ErrUnknownProvider       = fmt.Errorf("unknown provider")
	ErrStreamAlreadyActive   = fmt.Errorf("stream already active")
	ErrStreamClosed          = fmt.Errorf("stream closed")
	ErrDurabilityViolation   = fmt.Errorf("durability violation")
	ErrUnknown               = fmt.Errorf("unknown provider error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g. "Journal.Open")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ProviderError carries a taxonomy sentinel plus the vendor-original
// detail: HTTP status, raw response body, and a retry-after hint for
// rate-limit responses.
type ProviderError struct {
	Kind       error         // one of the sentinel errors above
	Provider   string        // provider identifier
	StatusCode int           // HTTP status, 0 if not applicable
	Raw        string        // raw vendor error body, possibly truncated
	RetryAfter time.Duration // vendor retry hint, 0 if absent
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Raw)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Raw)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// IsRetryableError reports whether err is a transient error that may
// succeed on retry. The core surfaces these to the caller rather than
// retrying internally; the journal's crash-resume path is the single
// exception, re-issuing a stream's request at most once.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}

// RetryAfterHint extracts the vendor retry-after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}

// ErrorCode is a machine-parseable error category for monitoring and
// for serializing stream error events.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeUnsupportedContent    ErrorCode = "UNSUPPORTED_CONTENT"
	CodeAuthFailure           ErrorCode = "AUTH_FAILURE"
	CodeRateLimited           ErrorCode = "RATE_LIMITED"
	CodeProviderUnavailable   ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeToolLoopExceeded      ErrorCode = "TOOL_LOOP_EXCEEDED"
	CodeIncompleteToolResults ErrorCode = "INCOMPLETE_TOOL_RESULTS"
	CodeUnknownProvider       ErrorCode = "UNKNOWN_PROVIDER"
	CodeStreamAlreadyActive   ErrorCode = "STREAM_ALREADY_ACTIVE"
	CodeStreamClosed          ErrorCode = "STREAM_CLOSED"
	CodeDurabilityViolation   ErrorCode = "DURABILITY_VIOLATION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidRequest:        CodeInvalidRequest,
	ErrUnsupportedContent:    CodeUnsupportedContent,
	ErrAuthFailure:           CodeAuthFailure,
	ErrRateLimited:           CodeRateLimited,
	ErrProviderUnavailable:   CodeProviderUnavailable,
	ErrTimeout:               CodeTimeout,
	ErrToolLoopExceeded:      CodeToolLoopExceeded,
	ErrIncompleteToolResults: CodeIncompleteToolResults,
	ErrUnknownProvider:       CodeUnknownProvider,
	ErrStreamAlreadyActive:   CodeStreamAlreadyActive,
	ErrStreamClosed:          CodeStreamClosed,
	ErrDurabilityViolation:   CodeDurabilityViolation,
	ErrUnknown:               CodeUnknown,
}

// ErrorCodeOf returns the machine-parseable error code for the given
// error. It unwraps DomainError/ProviderError and uses errors.Is to match
// sentinel errors. Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// SentinelOf returns the sentinel error for a serialized ErrorCode. Used
// when reconstructing stream error events from journal entries.
func SentinelOf(code ErrorCode) error {
	for sentinel, c := range errorCodeMap {
		if c == code {
			return sentinel
		}
	}
	return ErrUnknown
}
