package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed. The retry loop
// uses it to decide whether another attempt is worthwhile.
type FailureReason string

const (
	// FailureRateLimit indicates rate limiting (HTTP 429)
	FailureRateLimit FailureReason = "rate_limit"

	// FailureAuth indicates authentication failure (HTTP 401, 403)
	FailureAuth FailureReason = "auth"

	// FailureBilling indicates payment/quota issues (HTTP 402)
	FailureBilling FailureReason = "billing"

	// FailureTimeout indicates a request timeout
	FailureTimeout FailureReason = "timeout"

	// FailureServerError indicates server-side issues (HTTP 5xx)
	FailureServerError FailureReason = "server_error"

	// FailureInvalidRequest indicates client-side issues (HTTP 400)
	FailureInvalidRequest FailureReason = "invalid_request"

	// FailureModelUnavailable indicates the model is not available
	FailureModelUnavailable FailureReason = "model_unavailable"

	// FailureContentFilter indicates content was blocked by safety filters
	FailureContentFilter FailureReason = "content_filter"

	// FailureUnknown indicates an unclassified error
	FailureUnknown FailureReason = "unknown"
)

// IsRetryable returns true if the failure reason suggests retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError represents a structured error from an LLM provider.
// It captures context needed for retry decisions and debugging.
type ProviderError struct {
	// Reason categorizes the error for retry logic
	Reason FailureReason

	// Provider is the name of the provider (e.g., "anthropic", "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Message is the human-readable error message
	Message string

	// RequestID is the provider's request ID for debugging
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}

	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError with the given parameters.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailureUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}

	return err
}

// WithStatus adds HTTP status to the error and reclassifies if needed.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error and returns the appropriate FailureReason.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return FailureTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return FailureRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return FailureAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return FailureBilling
	}

	if strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "safety") ||
		strings.Contains(errStr, "blocked") {
		return FailureContentFilter
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return FailureModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return FailureServerError
	}

	return FailureUnknown
}

// classifyStatusCode returns a FailureReason based on HTTP status code.
func classifyStatusCode(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusPaymentRequired:
		return FailureBilling
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelUnavailable
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// classifyErrorCode returns a FailureReason based on provider-specific error codes.
func classifyErrorCode(code string) FailureReason {
	code = strings.ToLower(code)

	switch code {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailureRateLimit
	case "authentication_error", "invalid_api_key":
		return FailureAuth
	case "billing_error", "insufficient_quota":
		return FailureBilling
	case "model_not_found", "model_not_available":
		return FailureModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailureContentFilter
	case "server_error", "internal_error", "overloaded_error":
		return FailureServerError
	case "invalid_request_error":
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
