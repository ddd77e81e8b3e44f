package optimizer

import (
	"context"
	"sort"
	"sync"
	"time"

	"costgate/internal/budget"
	"costgate/internal/core"
	"costgate/internal/cost"
)

// Routing strategies accepted by SuggestProvider.
const (
	StrategyCostOptimized    = "cost_optimized"
	StrategyPerformanceFirst = "performance_first"
	StrategyTaskSpecific     = "task_specific"
)

// performanceLatencyWeight inflates the latency penalty under the
// performance_first strategy so the static latency table dominates cost.
const performanceLatencyWeight = 1000

// Candidate is one provider/model pair under consideration.
type Candidate struct {
	Provider string
	Model    string
}

// Recommendation is a scored candidate. Lower score ranks earlier.
type Recommendation struct {
	Provider            string        `json:"provider"`
	Model               string        `json:"model"`
	Estimate            cost.Estimate `json:"estimate"`
	TotalScore          float64       `json:"total_score"`
	Blocked             bool          `json:"blocked"`
	OptimizationApplied []string      `json:"optimization_applied,omitempty"`
}

// Optimizer scores candidates against pricing, budget state, and the rule
// set. Rule and penalty mutation takes the write lock; ranking takes read
// locks only, so concurrent routing decisions never serialize on each
// other.
type Optimizer struct {
	analyzer *cost.Analyzer
	budgets  *budget.Manager
	stats    *StatsTracker
	log      *DecisionLog

	mu             sync.RWMutex
	rules          []Rule
	latencyPenalty map[string]float64
}

// New creates an optimizer with the default latency penalty table and an
// empty rule set.
func New(analyzer *cost.Analyzer, budgets *budget.Manager, stats *StatsTracker) *Optimizer {
	return &Optimizer{
		analyzer:       analyzer,
		budgets:        budgets,
		stats:          stats,
		log:            NewDecisionLog(0),
		latencyPenalty: DefaultLatencyPenalties(),
	}
}

// DefaultLatencyPenalties returns the static per-provider penalty table in
// score (USD-equivalent) units, fastest provider lowest.
func DefaultLatencyPenalties() map[string]float64 {
	return map[string]float64{
		"groq":      0.00001,
		"gemini":    0.00002,
		"ollama":    0.00003,
		"openai":    0.00004,
		"anthropic": 0.00005,
	}
}

// SetRules replaces the rule set. Invalid rules are rejected wholesale.
func (o *Optimizer) SetRules(rules []Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Priority < cp[j].Priority })

	o.mu.Lock()
	o.rules = cp
	o.mu.Unlock()
	return nil
}

// AddRule appends one rule, keeping priority order.
func (o *Optimizer) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rules = append(o.rules, r)
	sort.SliceStable(o.rules, func(i, j int) bool { return o.rules[i].Priority < o.rules[j].Priority })
	return nil
}

// Rules returns a copy of the current rule set.
func (o *Optimizer) Rules() []Rule {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cp := make([]Rule, len(o.rules))
	copy(cp, o.rules)
	return cp
}

// SetLatencyPenalties replaces the static latency table.
func (o *Optimizer) SetLatencyPenalties(table map[string]float64) {
	cp := make(map[string]float64, len(table))
	for k, v := range table {
		cp[k] = v
	}
	o.mu.Lock()
	o.latencyPenalty = cp
	o.mu.Unlock()
}

// Decisions exposes the routing audit log.
func (o *Optimizer) Decisions() *DecisionLog {
	return o.log
}

// Stats exposes the provider outcome tracker.
func (o *Optimizer) Stats() *StatsTracker {
	return o.stats
}

// RankProviders scores every candidate and returns them best first. The
// budget gate runs before any estimation; an exhausted budget fails the
// call without scoring. Blocked candidates stay in the result with a
// saturated score so they remain observable. Every completed ranking is
// appended to the decision log; recording never blocks or fails the caller.
func (o *Optimizer) RankProviders(ctx context.Context, req *core.ChatRequest, candidates []Candidate, strategy string) ([]Recommendation, error) {
	if err := o.budgets.CheckExhausted(ctx); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, core.NewNoValidProvidersError()
	}

	inputs := o.buildInputs(ctx, candidates)

	o.mu.RLock()
	rules := o.rules
	penalties := o.latencyPenalty
	o.mu.RUnlock()

	latencyWeight := 1.0
	if strategy == StrategyPerformanceFirst {
		latencyWeight = performanceLatencyWeight
	}

	recs := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		est := o.analyzer.Estimate(req, c.Provider, c.Model)

		rec := Recommendation{
			Provider:   c.Provider,
			Model:      c.Model,
			Estimate:   est,
			TotalScore: est.TotalCost,
		}

		// Every enabled rule is evaluated, in priority order, with no
		// short-circuit; each mutates only this recommendation.
		for _, rule := range rules {
			if !rule.Enabled {
				continue
			}
			if !rule.Condition.matches(inputs, c.Provider, est.CostPerToken, est.TotalCost) {
				continue
			}
			next, applied := rule.Action.apply(c.Provider, rec.TotalScore)
			if !applied {
				continue
			}
			rec.TotalScore = next
			rec.OptimizationApplied = append(rec.OptimizationApplied, rule.Name)
			if rule.Action.Kind == ActionBlockProvider {
				rec.Blocked = true
			}
		}

		if !rec.Blocked {
			rec.TotalScore += penalties[c.Provider] * latencyWeight
		}
		recs = append(recs, rec)
	}

	// Ascending score; ties break on provider then model name so the
	// ranking is deterministic regardless of input order.
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].TotalScore != recs[j].TotalScore {
			return recs[i].TotalScore < recs[j].TotalScore
		}
		if recs[i].Provider != recs[j].Provider {
			return recs[i].Provider < recs[j].Provider
		}
		return recs[i].Model < recs[j].Model
	})

	o.recordDecision(ctx, strategy, recs, selectIndex(recs))
	return recs, nil
}

// SuggestProvider ranks the candidates and returns the best non-blocked
// one, falling back to the top blocked entry only when nothing else
// remains. The underlying ranking records the decision.
func (o *Optimizer) SuggestProvider(ctx context.Context, req *core.ChatRequest, candidates []Candidate, strategy string) (*Recommendation, error) {
	recs, err := o.RankProviders(ctx, req, candidates, strategy)
	if err != nil {
		return nil, err
	}
	return &recs[selectIndex(recs)], nil
}

// selectIndex picks the first non-blocked recommendation, or the top entry
// when everything is blocked.
func selectIndex(recs []Recommendation) int {
	for i := range recs {
		if !recs[i].Blocked {
			return i
		}
	}
	return 0
}

func (o *Optimizer) buildInputs(ctx context.Context, candidates []Candidate) evalInputs {
	providers := make([]string, 0, len(candidates))
	for _, c := range candidates {
		providers = append(providers, c.Provider)
	}
	errorRate, avgLatency := o.stats.snapshot(providers)

	return evalInputs{
		dailyBudgetUsage:   o.budgets.UsageFraction(ctx, budget.PeriodDaily),
		monthlyBudgetUsage: o.budgets.UsageFraction(ctx, budget.PeriodMonthly),
		dailyTokens:        o.budgets.TokensSince(ctx, budget.PeriodDaily),
		errorRate:          errorRate,
		avgLatencyMs:       avgLatency,
	}
}

func (o *Optimizer) recordDecision(ctx context.Context, strategy string, recs []Recommendation, selected int) {
	d := Decision{
		Timestamp: time.Now().UTC(),
		RequestID: core.GetRequestID(ctx),
		Strategy:  strategy,
		Selected:  recs[selected].Provider,
		Model:     recs[selected].Model,
	}
	seen := make(map[string]struct{})
	for _, r := range recs {
		d.Ranked = append(d.Ranked, RankedEntry{
			Provider: r.Provider,
			Model:    r.Model,
			Score:    r.TotalScore,
			Cost:     r.Estimate.TotalCost,
			Blocked:  r.Blocked,
		})
		for _, name := range r.OptimizationApplied {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			d.RulesApplied = append(d.RulesApplied, name)
		}
	}
	o.log.Append(d)
}
