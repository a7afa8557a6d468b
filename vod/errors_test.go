package vod

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ClassConfig, "config"},
		{ClassUpstream, "upstream"},
		{ClassData, "data"},
		{ClassSoft, "soft"},
		{ClassUnknown, "unknown"},
		{ErrorClass(999), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.class.String(); got != tt.want {
				t.Errorf("ErrorClass.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassUnknown},
		{"config", configError("resolve twitch user", base), ClassConfig},
		{"data", dataError("read chat export", "111", base), ClassData},
		{"upstream", upstreamError("list twitch videos", "", base), ClassUpstream},
		{"wrapped tag", fmt.Errorf("run: %w", dataError("export chat", "111", base)), ClassData},
		{"raw 401", errors.New("HTTP Error 401: Unauthorized"), ClassConfig},
		{"raw invalid_grant", errors.New(`oauth2: "invalid_grant"`), ClassConfig},
		{"raw 503", errors.New("503 Service Unavailable"), ClassUpstream},
		{"raw other", errors.New("something odd"), ClassUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPipelineErrorMessage(t *testing.T) {
	err := dataError("export chat", "111", errors.New("exit status 1"))
	if got := err.Error(); got != "export chat (vod 111): exit status 1" {
		t.Errorf("Error() = %q", got)
	}
	err = configError("scan recordings", errors.New("no such file"))
	if got := err.Error(); got != "scan recordings: no such file" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), false},
		{"500", errors.New("googleapi: Error 500: backendError"), true},
		{"503 not found text", errors.New("503 service unavailable: upstream not found"), true},
		{"429", errors.New("429 Too Many Requests"), true},
		{"quota", errors.New("rateLimitExceeded"), true},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout", errors.New("net/http: request timeout"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"401", errors.New("401 Unauthorized"), false},
		{"403", errors.New("googleapi: Error 403: forbidden"), false},
		{"404", errors.New("404 Not Found"), false},
		{"plain", errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	p := retryPolicy{Attempts: 3}

	calls := 0
	err := withRetry(context.Background(), p, "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("502 bad gateway")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("transient: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), p, "op", func() error {
		calls++
		return errors.New("403 forbidden")
	})
	if err == nil || calls != 1 {
		t.Errorf("fatal: err=%v calls=%d, want one call", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), p, "op", func() error {
		calls++
		return errors.New("504 gateway timeout")
	})
	if err == nil || calls != 3 {
		t.Errorf("exhausted: err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = withRetry(ctx, retryPolicy{Attempts: 3, Base: 1e9}, "op", func() error {
		calls++
		return errors.New("503")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("cancelled: err=%v calls=%d", err, calls)
	}
}
