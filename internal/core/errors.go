// Package core provides the canonical types, error taxonomy, and provider
// contract for the cost-aware LLM gateway.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider error (5xx or
	// backend-specific semantic failure such as "model not loaded")
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401/403)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNetwork indicates a transient transport failure
	ErrorTypeNetwork ErrorType = "network_error"
	// ErrorTypeParse indicates a malformed backend payload
	ErrorTypeParse ErrorType = "parse_error"
	// ErrorTypeFeatureUnavailable indicates a capability the deployment has
	// disabled (e.g. embeddings turned off). Informational, not a fault.
	ErrorTypeFeatureUnavailable ErrorType = "feature_unavailable"
	// ErrorTypeInternal indicates an unexpected gateway failure
	ErrorTypeInternal ErrorType = "internal_error"

	// ErrorTypeBudgetExhausted indicates the caller's budget is spent
	ErrorTypeBudgetExhausted ErrorType = "budget_exhausted"
	// ErrorTypeNoValidProviders indicates no candidate survived cost estimation
	ErrorTypeNoValidProviders ErrorType = "no_valid_providers"
	// ErrorTypeUnknownProvider indicates a provider type with no adapter
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"
)

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeBudgetExhausted:
		return http.StatusPaymentRequired
	case ErrorTypeUnknownProvider:
		return http.StatusNotFound
	case ErrorTypeNoValidProviders:
		return http.StatusServiceUnavailable
	case ErrorTypeFeatureUnavailable:
		return http.StatusNotImplemented
	case ErrorTypeProvider, ErrorTypeNetwork, ErrorTypeParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map for client responses
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// ErrTypeOf returns the taxonomy type of err, or ErrorTypeInternal if err is
// not a GatewayError.
func ErrTypeOf(err error) ErrorType {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether the dispatcher may retry or fall back after err.
// Budget and request-shape errors are never retried.
func IsRetryable(err error) bool {
	switch ErrTypeOf(err) {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// NewProviderError creates a new provider error (upstream failure)
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNetworkError wraps a transport-level failure (dial, TLS, timeout)
func NewNetworkError(provider string, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   provider,
		Err:        err,
	}
}

// NewParseError wraps a malformed backend payload
func NewParseError(provider string, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeParse,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   provider,
		Err:        err,
	}
}

// NewFeatureUnavailableError marks a capability the backend deployment has
// disabled. Logged at info level, never as an error.
func NewFeatureUnavailableError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeFeatureUnavailable,
		Message:    message,
		StatusCode: http.StatusNotImplemented,
		Provider:   provider,
	}
}

// NewBudgetExhaustedError creates a budget-exhausted error with the message
// preserved for user display
func NewBudgetExhaustedError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeBudgetExhausted,
		Message:    message,
		StatusCode: http.StatusPaymentRequired,
	}
}

// NewNoValidProvidersError indicates every candidate was dropped during
// cost estimation
func NewNoValidProvidersError() *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNoValidProviders,
		Message:    "no valid providers available for this request",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewUnknownProviderError indicates a provider type with no registered adapter
func NewUnknownProviderError(providerType string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUnknownProvider,
		Message:    fmt.Sprintf("unknown provider: %s", providerType),
		StatusCode: http.StatusNotFound,
	}
}

// NewInternalError wraps an unexpected failure
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// embeddingsDisabledMarkers are substrings backends use to report that
// embeddings are turned off in this deployment.
var embeddingsDisabledMarkers = []string{
	"embedding is disabled",
	"embeddings are disabled",
	"embeddings disabled",
	"does not support embeddings",
}

// ParseProviderError classifies an error response from a provider once, at
// the adapter boundary. Downstream code never re-interprets the result.
//
// Backends disagree on error envelope shape, so the message is pulled with
// gjson from the common variants before falling back to the raw body.
func ParseProviderError(provider string, statusCode int, body []byte) *GatewayError {
	message := strings.TrimSpace(string(body))
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			message = v.Str
			break
		}
	}

	// "embeddings disabled" reflects a deployment choice, not a fault
	lower := strings.ToLower(message)
	for _, marker := range embeddingsDisabledMarkers {
		if strings.Contains(lower, marker) {
			return NewFeatureUnavailableError(provider, message)
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		// Client errors from provider: preserve provider info and status code
		err := NewInvalidRequestError(message, nil)
		err.StatusCode = statusCode
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, nil)
	}
}
