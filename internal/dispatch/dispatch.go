// Package dispatch routes canonical requests to a concrete provider,
// applying optimizer policy, bounded retry with fallback, and cost
// accounting.
package dispatch

import (
	"context"
	"sort"
	"time"

	"costgate/internal/budget"
	"costgate/internal/core"
	"costgate/internal/cost"
	"costgate/internal/optimizer"
)

// maxAttempts bounds the total provider calls for one request, across
// retries and fallbacks. Backoff scheduling is the caller's concern.
const maxAttempts = 3

// Virtual model names that force the optimizer path.
const (
	ModelAuto        = "auto"
	ModelSmartChat   = "cb:smart-chat"
	ModelCostOptimal = "cb:cost-optimal"
	ModelFastest     = "cb:fastest"
	ModelCoding      = "cb:coding"
)

// virtualStrategies maps reserved model names onto routing strategies.
var virtualStrategies = map[string]string{
	ModelAuto:        optimizer.StrategyCostOptimized,
	ModelSmartChat:   optimizer.StrategyCostOptimized,
	ModelCostOptimal: optimizer.StrategyCostOptimized,
	ModelFastest:     optimizer.StrategyPerformanceFirst,
	ModelCoding:      optimizer.StrategyTaskSpecific,
}

// IsVirtualModel reports whether the model name is a reserved routing
// token rather than a backend model.
func IsVirtualModel(model string) bool {
	_, ok := virtualStrategies[model]
	return ok
}

// Policy is the optional routing policy attached to a request by the edge.
type Policy struct {
	Strategy string `json:"strategy,omitempty"`
}

// Config holds the dispatcher's model maps.
type Config struct {
	// DefaultModels picks each provider's general chat model for virtual
	// routing.
	DefaultModels map[string]string `yaml:"default_models"`
	// CodingModels picks each provider's code-focused model for the
	// task_specific strategy.
	CodingModels map[string]string `yaml:"coding_models"`
}

// DefaultConfig returns sensible model maps for the built-in providers.
func DefaultConfig() Config {
	return Config{
		DefaultModels: map[string]string{
			"openai":    "gpt-4o-mini",
			"anthropic": "claude-3-5-haiku-latest",
			"gemini":    "gemini-2.0-flash",
			"groq":      "llama-3.3-70b-versatile",
			"ollama":    "llama3.2:1b",
		},
		CodingModels: map[string]string{
			"openai":    "gpt-4.1",
			"anthropic": "claude-sonnet-4-20250514",
			"gemini":    "gemini-2.0-flash",
			"groq":      "llama-3.3-70b-versatile",
			"ollama":    "qwen2.5-coder:7b",
		},
	}
}

// Dispatcher orchestrates provider selection and invocation. The provider
// set is fixed at construction; policy state (rules, pricing, budgets)
// lives in the collaborators and may change underneath it.
type Dispatcher struct {
	providers map[string]core.Provider
	optimizer *optimizer.Optimizer
	analyzer  *cost.Analyzer
	budgets   *budget.Manager
	recorder  *budget.Recorder
	config    Config
}

// New creates a dispatcher over the given providers.
func New(providers map[string]core.Provider, opt *optimizer.Optimizer, analyzer *cost.Analyzer, budgets *budget.Manager, recorder *budget.Recorder, cfg Config) *Dispatcher {
	if cfg.DefaultModels == nil {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		providers: providers,
		optimizer: opt,
		analyzer:  analyzer,
		budgets:   budgets,
		recorder:  recorder,
		config:    cfg,
	}
}

// Providers returns the registered provider types, sorted.
func (d *Dispatcher) Providers() []string {
	out := make([]string, 0, len(d.providers))
	for name := range d.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Health probes every provider concurrently and returns the failures.
func (d *Dispatcher) Health(ctx context.Context) map[string]error {
	type result struct {
		name string
		err  error
	}
	ch := make(chan result, len(d.providers))
	for name, p := range d.providers {
		go func(name string, p core.Provider) {
			ch <- result{name, p.HealthCheck(ctx)}
		}(name, p)
	}

	out := make(map[string]error, len(d.providers))
	for range d.providers {
		r := <-ch
		out[r.name] = r.err
	}
	return out
}

func validate(req *core.ChatRequest) error {
	if req.Model == "" {
		return core.NewInvalidRequestError("model is required", nil)
	}
	if len(req.Messages) == 0 {
		return core.NewInvalidRequestError("messages must not be empty", nil)
	}
	return nil
}

// resolve produces the ordered candidate list for a request. Virtual
// models and explicit policies go through the optimizer; an explicit model
// selects the providers that support it, cheapest ranking still applied
// when more than one does.
func (d *Dispatcher) resolve(ctx context.Context, req *core.ChatRequest, policy *Policy) ([]optimizer.Recommendation, string, error) {
	strategy, virtual := virtualStrategies[req.Model]
	if !virtual && policy != nil && policy.Strategy != "" {
		strategy = policy.Strategy
		virtual = true
	}

	var candidates []optimizer.Candidate
	if virtual {
		models := d.config.DefaultModels
		if strategy == optimizer.StrategyTaskSpecific {
			models = d.config.CodingModels
		}
		for name := range d.providers {
			model, ok := models[name]
			if !ok {
				continue
			}
			candidates = append(candidates, optimizer.Candidate{Provider: name, Model: model})
		}
	} else {
		strategy = "explicit"
		for name, p := range d.providers {
			if p.SupportsModel(req.Model) {
				candidates = append(candidates, optimizer.Candidate{Provider: name, Model: req.Model})
			}
		}
		if len(candidates) == 0 {
			return nil, "", core.NewUnknownProviderError(req.Model)
		}
	}

	recs, err := d.optimizer.RankProviders(ctx, req, candidates, strategy)
	if err != nil {
		return nil, "", err
	}
	return recs, strategy, nil
}

// Dispatch executes a buffered chat completion with retry and fallback.
func (d *Dispatcher) Dispatch(ctx context.Context, req *core.ChatRequest, policy *Policy) (*core.ChatResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	recs, strategy, err := d.resolve(ctx, req, policy)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var attempts int
	var lastErr error

	for i, rec := range recs {
		if rec.Blocked && i > 0 {
			break
		}
		// The first candidate gets one retry before fallback; later
		// candidates get a single shot each.
		tries := 1
		if i == 0 {
			tries = 2
		}
		for t := 0; t < tries && attempts < maxAttempts; t++ {
			attempts++
			attempt := req.WithModel(rec.Model)

			callStart := time.Now()
			resp, err := d.providers[rec.Provider].ChatCompletion(ctx, attempt)
			d.optimizer.Stats().Record(rec.Provider, time.Since(callStart), err != nil)

			if err == nil {
				d.settle(ctx, rec.Provider, resp.Model, resp.Usage, false)
				resp.Routing = &core.RoutingInfo{
					SelectedProvider: rec.Provider,
					RoutingStrategy:  strategy,
					LatencyMs:        time.Since(start).Milliseconds(),
					RetryCount:       attempts - 1,
					FallbackUsed:     i > 0,
				}
				return resp, nil
			}

			lastErr = err
			if !core.IsRetryable(err) {
				return nil, err
			}
		}
		if attempts >= maxAttempts {
			break
		}
	}

	if lastErr == nil {
		lastErr = core.NewNoValidProvidersError()
	}
	return nil, lastErr
}

// DispatchStream executes a streaming chat completion. Fallback applies
// only while establishing the stream; once the first byte can flow, the
// chosen provider owns the request. Usage accounting happens when the
// stream is drained or closed.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *core.ChatRequest, policy *Policy) (core.ChunkStream, *core.RoutingInfo, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}

	recs, strategy, err := d.resolve(ctx, req, policy)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var attempts int
	var lastErr error

	for i, rec := range recs {
		if rec.Blocked && i > 0 {
			break
		}
		tries := 1
		if i == 0 {
			tries = 2
		}
		for t := 0; t < tries && attempts < maxAttempts; t++ {
			attempts++
			attempt := req.WithModel(rec.Model)

			callStart := time.Now()
			stream, err := d.providers[rec.Provider].StreamChatCompletion(ctx, attempt)
			d.optimizer.Stats().Record(rec.Provider, time.Since(callStart), err != nil)

			if err == nil {
				info := &core.RoutingInfo{
					SelectedProvider: rec.Provider,
					RoutingStrategy:  strategy,
					LatencyMs:        time.Since(start).Milliseconds(),
					RetryCount:       attempts - 1,
					FallbackUsed:     i > 0,
				}
				return d.withAccounting(ctx, stream, rec.Provider, rec.Model), info, nil
			}

			lastErr = err
			if !core.IsRetryable(err) {
				return nil, nil, err
			}
		}
		if attempts >= maxAttempts {
			break
		}
	}

	if lastErr == nil {
		lastErr = core.NewNoValidProvidersError()
	}
	return nil, nil, lastErr
}

// Embeddings routes an embeddings request to the first provider that
// supports the model.
func (d *Dispatcher) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	if req.Model == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}
	if err := d.budgets.CheckExhausted(ctx); err != nil {
		return nil, err
	}

	for _, name := range d.Providers() {
		p := d.providers[name]
		if !p.SupportsModel(req.Model) {
			continue
		}
		resp, err := p.Embeddings(ctx, req)
		if err != nil {
			return nil, err
		}
		d.settle(ctx, name, req.Model, &resp.Usage, false)
		return resp, nil
	}
	return nil, core.NewUnknownProviderError(req.Model)
}

// settle writes the ledger entry for a completed call. Exactly one entry
// per request; streamed requests settle through the accounting wrapper.
func (d *Dispatcher) settle(ctx context.Context, provider, model string, usage *core.Usage, streamed bool) {
	if usage == nil {
		usage = &core.Usage{}
	}
	usage.EstimatedCost = d.analyzer.Settle(provider, model, usage)

	userID := core.GetUserID(ctx)
	projectID := core.GetProjectID(ctx)
	d.recorder.Record(&budget.CostInfo{
		RequestID:        core.GetRequestID(ctx),
		Provider:         provider,
		Model:            model,
		UserID:           userID,
		ProjectID:        projectID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Cost:             usage.EstimatedCost,
		Streamed:         streamed,
	})
}
