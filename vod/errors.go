package vod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrorClass decides how a failure affects the rest of a run.
type ErrorClass int

const (
	// ClassUnknown is reported for nil errors.
	ClassUnknown ErrorClass = iota
	// ClassConfig aborts the run before any work (bad credentials, unknown channel).
	ClassConfig
	// ClassUpstream aborts the run; progress already checkpointed is kept. Local
	// write failures share this class.
	ClassUpstream
	// ClassData affects a single VOD (unreadable chat export) and follows the chat
	// failure policy.
	ClassData
	// ClassSoft degrades a sub-result and is only logged.
	ClassSoft
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassUpstream:
		return "upstream"
	case ClassData:
		return "data"
	case ClassSoft:
		return "soft"
	default:
		return "unknown"
	}
}

// PipelineError tags an error with its class, the step that failed and, when
// known, the VOD it concerns.
type PipelineError struct {
	Class ErrorClass
	Op    string
	VodID string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.VodID != "" {
		return fmt.Sprintf("%s (vod %s): %v", e.Op, e.VodID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func configError(op string, err error) error {
	return &PipelineError{Class: ClassConfig, Op: op, Err: err}
}

func upstreamError(op, vodID string, err error) error {
	return &PipelineError{Class: ClassUpstream, Op: op, VodID: vodID, Err: err}
}

func dataError(op, vodID string, err error) error {
	return &PipelineError{Class: ClassData, Op: op, VodID: vodID, Err: err}
}

// Classify returns the class of err. Untagged errors are classified from their
// message: authentication failures are configuration problems, anything else is
// treated as an upstream failure.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if isAuthFailure(strings.ToLower(err.Error())) {
		return ClassConfig
	}
	return ClassUpstream
}

func isAuthFailure(lower string) bool {
	for _, p := range []string{"401", "403", "unauthorized", "invalid_grant", "invalid_client", "access denied", "login required"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err looks transient: server errors, rate limiting
// or network trouble. Context cancellation and auth failures are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	lower := strings.ToLower(err.Error())

	// server errors first so "503 service unavailable" is not read as not-found
	for _, p := range []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "backenderror"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if isAuthFailure(lower) || strings.Contains(lower, "404") || strings.Contains(lower, "not found") {
		return false
	}
	for _, p := range []string{"429", "too many requests", "rate limit", "ratelimitexceeded"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range []string{
		"connection reset", "connection refused", "connection timed out", "timeout",
		"temporary failure in name resolution", "no route to host", "network unreachable",
		"unexpected eof", "broken pipe",
	} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// retryPolicy bounds withRetry. Only idempotent calls are retried; uploads are not,
// since a retried insert can publish the same recording twice.
type retryPolicy struct {
	Attempts int
	Base     time.Duration
}

var defaultRetry = retryPolicy{Attempts: 3, Base: 2 * time.Second}

// withRetry runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out, sleeping with exponential backoff plus jitter in between.
func withRetry(ctx context.Context, p retryPolicy, op string, fn func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			backoff := p.Base * time.Duration(1<<attempt)
			if p.Base > 0 {
				backoff += time.Duration(rand.Int64N(int64(p.Base)))
			}
			slog.Warn("retrying", slog.String("op", op), slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.Any("err", lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
