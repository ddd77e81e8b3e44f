package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"costgate/internal/budget"
	"costgate/internal/core"
	"costgate/internal/dispatch"
	"costgate/internal/observability"
)

const healthCheckTimeout = 5 * time.Second

// Handler holds the route implementations.
type Handler struct {
	deps Deps
}

// NewHandler creates a handler over the gateway collaborators.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// chatCompletionBody is the inbound request shape: a canonical request
// plus an optional routing policy.
type chatCompletionBody struct {
	core.ChatRequest
	Policy *dispatch.Policy `json:"policy,omitempty"`
}

// requestContext attaches the request ID and accounting identity.
func requestContext(c echo.Context, user string) echo.Context {
	ctx := c.Request().Context()

	requestID := c.Request().Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = core.WithRequestID(ctx, requestID)

	userID := c.Request().Header.Get("X-User-Id")
	if userID == "" {
		userID = user
	}
	ctx = core.WithAccounting(ctx, userID, c.Request().Header.Get("X-Project-Id"))

	c.SetRequest(c.Request().WithContext(ctx))
	c.Response().Header().Set("X-Request-Id", requestID)
	return c
}

// writeError maps gateway errors onto HTTP responses.
func writeError(c echo.Context, err error) error {
	var ge *core.GatewayError
	if !errors.As(err, &ge) {
		ge = core.NewInternalError("unexpected error", err)
	}
	if ge.Provider != "" {
		observability.ProviderErrors.WithLabelValues(ge.Provider, string(ge.Type)).Inc()
	}
	return c.JSON(ge.HTTPStatusCode(), ge.ToJSON())
}

// errProvider resolves the provider label for request metrics. Errors
// raised before a backend was selected carry no provider name, so those
// are counted under "none" to keep the label set well-formed.
func errProvider(err error) string {
	var ge *core.GatewayError
	if errors.As(err, &ge) && ge.Provider != "" {
		return ge.Provider
	}
	return "none"
}

// ChatCompletion handles POST /v1/chat/completions, buffered or streamed.
func (h *Handler) ChatCompletion(c echo.Context) error {
	var body chatCompletionBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	c = requestContext(c, body.User)
	ctx := c.Request().Context()
	start := time.Now()

	if body.Stream {
		return h.streamCompletion(c, &body)
	}

	resp, err := h.deps.Dispatcher.Dispatch(ctx, &body.ChatRequest, body.Policy)
	if err != nil {
		observability.RequestsTotal.WithLabelValues(errProvider(err), body.Model, "error").Inc()
		return writeError(c, err)
	}

	recordMetrics(resp.Provider, resp.Model, resp.Usage, resp.Routing, time.Since(start))
	return c.JSON(http.StatusOK, resp)
}

// streamCompletion re-emits the canonical chunk stream as SSE, regardless
// of the backend's own wire framing.
func (h *Handler) streamCompletion(c echo.Context, body *chatCompletionBody) error {
	ctx := c.Request().Context()
	start := time.Now()

	stream, info, err := h.deps.Dispatcher.DispatchStream(ctx, &body.ChatRequest, body.Policy)
	if err != nil {
		observability.RequestsTotal.WithLabelValues(errProvider(err), body.Model, "error").Inc()
		return writeError(c, err)
	}
	defer stream.Close()

	observability.StreamingRequests.WithLabelValues(info.SelectedProvider, body.Model).Inc()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The SSE stream is already committed; log and terminate.
			slog.Warn("stream terminated",
				"provider", info.SelectedProvider,
				"error", err,
			)
			break
		}

		if _, err := res.Write([]byte("data: ")); err != nil {
			return nil
		}
		if err := enc.Encode(chunk); err != nil {
			return nil
		}
		// Encoder already wrote one newline; SSE events end with a blank
		// line.
		if _, err := res.Write([]byte("\n")); err != nil {
			return nil
		}
		res.Flush()
	}

	res.Write([]byte("data: [DONE]\n\n"))
	res.Flush()

	recordMetrics(info.SelectedProvider, body.Model, nil, info, time.Since(start))
	return nil
}

func recordMetrics(provider, model string, usage *core.Usage, routing *core.RoutingInfo, elapsed time.Duration) {
	observability.RequestsTotal.WithLabelValues(provider, model, "ok").Inc()
	observability.RequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if usage != nil {
		observability.TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
		observability.TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
		observability.CostTotal.WithLabelValues(provider, model).Add(usage.EstimatedCost)
	}
	if routing != nil && routing.FallbackUsed {
		observability.FallbacksTotal.WithLabelValues(provider).Inc()
	}
}

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(c echo.Context) error {
	var req core.EmbeddingRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	c = requestContext(c, req.User)
	resp, err := h.deps.Dispatcher.Embeddings(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models: the virtual routing names plus every
// configured provider.
func (h *Handler) ListModels(c echo.Context) error {
	data := []modelEntry{
		{ID: dispatch.ModelAuto, Object: "model", OwnedBy: "costgate"},
		{ID: dispatch.ModelSmartChat, Object: "model", OwnedBy: "costgate"},
		{ID: dispatch.ModelCostOptimal, Object: "model", OwnedBy: "costgate"},
		{ID: dispatch.ModelFastest, Object: "model", OwnedBy: "costgate"},
		{ID: dispatch.ModelCoding, Object: "model", OwnedBy: "costgate"},
	}
	for _, provider := range h.deps.Dispatcher.Providers() {
		data = append(data, modelEntry{ID: provider, Object: "provider", OwnedBy: provider})
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
}

// BudgetStatus handles GET /v1/budget/status.
func (h *Handler) BudgetStatus(c echo.Context) error {
	statuses, err := h.deps.Budgets.Statuses(c.Request().Context())
	if err != nil {
		return writeError(c, core.NewInternalError("failed to evaluate budgets", err))
	}
	for _, s := range statuses {
		if s.Limit > 0 {
			observability.BudgetUsageRatio.WithLabelValues(string(s.Period)).Set(s.Used / s.Limit)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"budgets": statuses})
}

// CostAnalytics handles GET /v1/costs/analytics?since=...&until=...
func (h *Handler) CostAnalytics(c echo.Context) error {
	until := time.Now().UTC()
	since := until.AddDate(0, 0, -7)

	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return writeError(c, core.NewInvalidRequestError(fmt.Sprintf("invalid since %q, want RFC3339", v), err))
		}
		since = t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return writeError(c, core.NewInvalidRequestError(fmt.Sprintf("invalid until %q, want RFC3339", v), err))
		}
		until = t
	}

	report, err := budget.Analytics(c.Request().Context(), h.deps.Ledger, since, until)
	if err != nil {
		return writeError(c, core.NewInternalError("failed to build analytics", err))
	}
	return c.JSON(http.StatusOK, report)
}

// RoutingDecisions handles GET /v1/routing/decisions?limit=N.
func (h *Handler) RoutingDecisions(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return writeError(c, core.NewInvalidRequestError(fmt.Sprintf("invalid limit %q", v), err))
		}
		limit = n
	}
	return c.JSON(http.StatusOK, map[string]any{
		"decisions": h.deps.Optimizer.Decisions().Recent(limit),
	})
}

// Health handles GET /health: one probe per configured provider under a
// short timeout.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	results := h.deps.Dispatcher.Health(ctx)
	providers := make(map[string]string, len(results))
	healthy := true
	for name, err := range results {
		if err != nil {
			providers[name] = err.Error()
			healthy = false
			continue
		}
		providers[name] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.JSON(status, map[string]any{"status": state, "providers": providers})
}
