package llmclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costgate/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cb *CircuitBreakerConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		ProviderName:   "testprov",
		BaseURL:        srv.URL,
		CircuitBreaker: cb,
	}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer test-key")
	})
}

func TestDo(t *testing.T) {
	var gotAuth, gotContentType, gotExtra string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotExtra = r.Header.Get("X-Extra")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"model":"m"}`, string(body))
		w.Write([]byte(`{"id":"resp-1"}`))
	}, nil)

	var result struct {
		ID string `json:"id"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/v1/test",
		Body:     map[string]string{"model": "m"},
		Headers:  map[string]string{"X-Extra": "1"},
	}, &result)

	require.NoError(t, err)
	assert.Equal(t, "resp-1", result.ID)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "1", gotExtra)
}

func TestDoErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, core.ErrorTypeAuthentication},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, core.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, `oops`, core.ErrorTypeProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, core.ErrTypeOf(err))
		})
	}
}

func TestDoNetworkError(t *testing.T) {
	client := New(Config{ProviderName: "testprov", BaseURL: "http://127.0.0.1:1"}, nil)

	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeNetwork, core.ErrTypeOf(err))
}

func TestDoStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {}\n\n"))
	}, nil)

	body, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/stream"})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {}\n\n", string(raw))
}

func TestDoStreamErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad param"}}`))
	}, nil)

	_, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/stream"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeInvalidRequest, core.ErrTypeOf(err))
	assert.Contains(t, err.Error(), "bad param")
}

func TestCircuitBreakerOpens(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, &CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})

	for i := 0; i < 2; i++ {
		err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
		require.Error(t, err)
		assert.Equal(t, core.ErrorTypeProvider, core.ErrTypeOf(err))
	}

	// Third attempt is rejected locally.
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"nope"}}`))
	}, &CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})

	for i := 0; i < 5; i++ {
		err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
		require.Error(t, err)
		assert.Equal(t, core.ErrorTypeInvalidRequest, core.ErrTypeOf(err))
	}
}
