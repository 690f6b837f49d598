package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"nil", nil, FailureUnknown},
		{"timeout", errors.New("context deadline exceeded"), FailureTimeout},
		{"rate limit", errors.New("429 Too Many Requests"), FailureRateLimit},
		{"auth", errors.New("invalid api key"), FailureAuth},
		{"billing", errors.New("insufficient quota for this request"), FailureBilling},
		{"content filter", errors.New("request blocked by content policy"), FailureContentFilter},
		{"model missing", errors.New("model not found"), FailureModelUnavailable},
		{"server", errors.New("upstream returned 503"), FailureServerError},
		{"unknown", errors.New("something odd"), FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFailureReasonIsRetryable(t *testing.T) {
	retryable := []FailureReason{FailureRateLimit, FailureTimeout, FailureServerError}
	fatal := []FailureReason{FailureAuth, FailureBilling, FailureInvalidRequest, FailureModelUnavailable, FailureContentFilter, FailureUnknown}

	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Fatalf("%s not retryable", r)
		}
	}
	for _, r := range fatal {
		if r.IsRetryable() {
			t.Fatalf("%s reported retryable", r)
		}
	}
}

func TestProviderErrorStatusAndCode(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("boom"))
	if err.Reason != FailureUnknown {
		t.Fatalf("initial reason = %s", err.Reason)
	}

	err.WithStatus(http.StatusTooManyRequests)
	if err.Reason != FailureRateLimit {
		t.Fatalf("after 429 reason = %s", err.Reason)
	}

	// A recognizable provider code refines the classification.
	err.WithCode("overloaded_error")
	if err.Reason != FailureServerError {
		t.Fatalf("after overloaded_error reason = %s", err.Reason)
	}

	// An unknown code leaves the classification alone.
	err.WithCode("mystery_code")
	if err.Reason != FailureServerError {
		t.Fatalf("unknown code changed reason to %s", err.Reason)
	}

	msg := err.Error()
	for _, want := range []string{"server_error", "anthropic", "model=claude-sonnet-4-20250514", "status=429"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewProviderError("openai", "gpt-4o", cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}

	wrapped := fmt.Errorf("request failed: %w", err)
	got, ok := GetProviderError(wrapped)
	if !ok || got.Provider != "openai" {
		t.Fatalf("GetProviderError = %+v, %v", got, ok)
	}
}

func TestIsRetryable(t *testing.T) {
	rateLimited := NewProviderError("anthropic", "m", errors.New("x")).WithStatus(http.StatusTooManyRequests)
	if !IsRetryable(rateLimited) {
		t.Fatal("429 provider error not retryable")
	}

	authFailed := NewProviderError("anthropic", "m", errors.New("x")).WithStatus(http.StatusUnauthorized)
	if IsRetryable(authFailed) {
		t.Fatal("401 provider error retryable")
	}

	// Plain errors fall back to string classification.
	if !IsRetryable(errors.New("i/o timeout")) {
		t.Fatal("timeout string not retryable")
	}
	if IsRetryable(errors.New("nope")) {
		t.Fatal("unknown error retryable")
	}
}
