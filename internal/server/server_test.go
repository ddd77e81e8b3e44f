package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costgate/internal/budget"
	"costgate/internal/core"
	"costgate/internal/cost"
	"costgate/internal/dispatch"
	"costgate/internal/optimizer"
)

type fakeProvider struct {
	name   string
	models []string
	chunks []*core.StreamingChunk
	err    error
}

func (f *fakeProvider) ChatCompletion(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.ChatResponse{
		ID:       "resp-1",
		Object:   "chat.completion",
		Model:    req.Model,
		Provider: f.name,
		Choices: []core.Choice{{
			Message:      core.Message{Role: core.RoleAssistant, Content: "hello"},
			FinishReason: "stop",
		}},
		Usage: &core.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}, nil
}

func (f *fakeProvider) StreamChatCompletion(context.Context, *core.ChatRequest) (core.ChunkStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{chunks: f.chunks}, nil
}

func (f *fakeProvider) Embeddings(context.Context, *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return &core.EmbeddingResponse{Object: "list", Provider: f.name}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) error { return f.err }
func (f *fakeProvider) ProviderType() string              { return f.name }

func (f *fakeProvider) SupportsModel(model string) bool {
	for _, m := range f.models {
		if m == model {
			return true
		}
	}
	return false
}

type fakeStream struct {
	chunks []*core.StreamingChunk
	pos    int
}

func (s *fakeStream) Next() (*core.StreamingChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

func newTestServer(t *testing.T, cfg *Config) (*Server, *fakeProvider) {
	t.Helper()

	store := budget.NewMemoryStore()
	mgr, err := budget.NewManager(store, []budget.Budget{{Period: budget.PeriodDaily, Limit: 100, WarningThreshold: 0.8}})
	require.NoError(t, err)

	analyzer := cost.NewAnalyzer(nil)
	opt := optimizer.New(analyzer, mgr, optimizer.NewStatsTracker())
	recorder := budget.NewRecorder(store, budget.RecorderConfig{FlushInterval: time.Hour})
	t.Cleanup(func() { recorder.Close() })

	provider := &fakeProvider{
		name:   "stub",
		models: []string{"stub-model"},
		chunks: []*core.StreamingChunk{
			{ID: "c1", Object: "chat.completion.chunk", Choices: []core.StreamingChoice{{Delta: core.Message{Content: "hi"}}}},
		},
	}

	d := dispatch.New(
		map[string]core.Provider{"stub": provider},
		opt, analyzer, mgr, recorder,
		dispatch.Config{DefaultModels: map[string]string{"stub": "stub-model"}},
	)

	return New(Deps{Dispatcher: d, Budgets: mgr, Ledger: store, Optimizer: opt}, cfg), provider
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestChatCompletion(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model": "stub-model", "messages": [{"role": "user", "content": "hi"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp core.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub", resp.Provider)
	require.NotNil(t, resp.Routing)
	assert.Equal(t, "explicit", resp.Routing.RoutingStrategy)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestChatCompletionUnknownModel(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model": "missing", "messages": [{"role": "user", "content": "hi"}]}`, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_provider")
}

func TestChatCompletionStreaming(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model": "stub-model", "stream": true, "messages": [{"role": "user", "content": "hi"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "), body)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), body)
	assert.Contains(t, body, `"content":"hi"`)
}

func TestVirtualModelRouting(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model": "auto", "messages": [{"role": "user", "content": "hi"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp core.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub-model", resp.Model)
	assert.Equal(t, "cost_optimized", resp.Routing.RoutingStrategy)
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, &Config{MasterKey: "secret"})

	rec := doRequest(srv, http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays public.
	rec = doRequest(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListModels(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"auto"`)
	assert.Contains(t, body, `"cb:coding"`)
	assert.Contains(t, body, `"stub"`)
}

func TestBudgetStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/budget/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"period":"daily"`)
	assert.Contains(t, rec.Body.String(), `"is_exhausted":false`)
}

func TestCostAnalyticsValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/costs/analytics?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/v1/costs/analytics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutingDecisions(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Drive one optimizer decision first.
	doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model": "auto", "messages": [{"role": "user", "content": "hi"}]}`, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/routing/decisions?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"selected_provider":"stub"`)
}

func TestErrProviderLabel(t *testing.T) {
	assert.Equal(t, "none", errProvider(core.NewInvalidRequestError("bad body", nil)))
	assert.Equal(t, "none", errProvider(io.ErrUnexpectedEOF))

	ge := core.NewNetworkError("openai", "unreachable", nil)
	assert.Equal(t, "openai", errProvider(ge))
}

func TestHealthDegraded(t *testing.T) {
	srv, provider := newTestServer(t, nil)
	provider.err = core.NewNetworkError("stub", "unreachable", nil)

	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
