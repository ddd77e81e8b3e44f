package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *GatewayError
		want string
	}{
		{
			name: "with provider",
			err:  NewRateLimitError("openai", "slow down"),
			want: "[openai] rate_limit_error: slow down",
		},
		{
			name: "without provider",
			err:  NewInvalidRequestError("bad model", nil),
			want: "invalid_request_error: bad model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := NewNetworkError("ollama", "dial failed", inner)
	assert.True(t, errors.Is(err, inner))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  *GatewayError
		want int
	}{
		{NewRateLimitError("openai", "x"), http.StatusTooManyRequests},
		{NewAuthenticationError("openai", "x"), http.StatusUnauthorized},
		{NewBudgetExhaustedError("x"), http.StatusPaymentRequired},
		{NewNoValidProvidersError(), http.StatusServiceUnavailable},
		{NewUnknownProviderError("nope"), http.StatusNotFound},
		{NewFeatureUnavailableError("ollama", "x"), http.StatusNotImplemented},
		{NewParseError("gemini", "x", nil), http.StatusBadGateway},
		{NewInternalError("x", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError("openai", "timeout", nil), true},
		{"rate limit", NewRateLimitError("openai", "x"), true},
		{"provider 5xx", NewProviderError("openai", 502, "x", nil), true},
		{"budget exhausted", NewBudgetExhaustedError("x"), false},
		{"invalid request", NewInvalidRequestError("x", nil), false},
		{"auth", NewAuthenticationError("openai", "x"), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestParseProviderError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   ErrorType
		wantMsg    string
	}{
		{
			name:       "openai envelope",
			statusCode: 429,
			body:       `{"error":{"message":"rate limited","type":"rate_limit_error"}}`,
			wantType:   ErrorTypeRateLimit,
			wantMsg:    "rate limited",
		},
		{
			name:       "anthropic envelope",
			statusCode: 401,
			body:       `{"type":"error","error":{"message":"invalid x-api-key","type":"authentication_error"}}`,
			wantType:   ErrorTypeAuthentication,
			wantMsg:    "invalid x-api-key",
		},
		{
			name:       "flat message field",
			statusCode: 500,
			body:       `{"message":"model not loaded"}`,
			wantType:   ErrorTypeProvider,
			wantMsg:    "model not loaded",
		},
		{
			name:       "string error field",
			statusCode: 404,
			body:       `{"error":"model \"nope\" not found"}`,
			wantType:   ErrorTypeInvalidRequest,
			wantMsg:    `model "nope" not found`,
		},
		{
			name:       "non-json body",
			statusCode: 502,
			body:       "upstream connect error",
			wantType:   ErrorTypeProvider,
			wantMsg:    "upstream connect error",
		},
		{
			name:       "embeddings disabled is not a fault",
			statusCode: 400,
			body:       `{"error":"embedding is disabled on this server"}`,
			wantType:   ErrorTypeFeatureUnavailable,
			wantMsg:    "embedding is disabled on this server",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseProviderError("test", tt.statusCode, []byte(tt.body))
			require.NotNil(t, err)
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, "test", err.Provider)
		})
	}
}

func TestParseProviderErrorPreservesClientStatus(t *testing.T) {
	err := ParseProviderError("openai", 422, []byte(`{"error":{"message":"bad param"}}`))
	assert.Equal(t, ErrorTypeInvalidRequest, err.Type)
	assert.Equal(t, 422, err.HTTPStatusCode())
}
