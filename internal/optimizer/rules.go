// Package optimizer ranks candidate providers by adjusted cost and applies
// the configured routing policy rules.
package optimizer

import (
	"fmt"
	"math"
)

// ConditionKind discriminates rule conditions.
type ConditionKind string

const (
	CondCostPerTokenAbove       ConditionKind = "cost_per_token_above"
	CondTotalCostAbove          ConditionKind = "total_cost_above"
	CondDailyBudgetUsageAbove   ConditionKind = "daily_budget_usage_above"
	CondMonthlyBudgetUsageAbove ConditionKind = "monthly_budget_usage_above"
	CondDailyTokenVolumeAbove   ConditionKind = "daily_token_volume_above"
	CondProviderErrorRateAbove  ConditionKind = "provider_error_rate_above"
	CondProviderLatencyAbove    ConditionKind = "provider_latency_above"
)

// Condition is the tagged trigger side of a rule. Threshold units depend on
// the kind: USD for cost conditions, a 0..1 fraction for budget usage and
// error rate, tokens for volume, milliseconds for latency.
type Condition struct {
	Kind      ConditionKind `json:"kind" yaml:"kind"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
}

// ActionKind discriminates rule actions.
type ActionKind string

const (
	// ActionSwitchToProvider applies a strong discount (0.8x) to the target.
	ActionSwitchToProvider ActionKind = "switch_to_provider"
	// ActionPreferProvider applies a mild discount (0.9x) to the target.
	ActionPreferProvider ActionKind = "prefer_provider"
	// ActionApplyCostMultiplier scales the candidate's score.
	ActionApplyCostMultiplier ActionKind = "apply_cost_multiplier"
	// ActionBlockProvider saturates the target's score so it ranks last.
	ActionBlockProvider ActionKind = "block_provider"
)

const (
	switchDiscount = 0.8
	preferDiscount = 0.9
)

// Action is the effect side of a rule.
type Action struct {
	Kind ActionKind `json:"kind" yaml:"kind"`
	// TargetProvider scopes provider-directed actions. Empty means the
	// action applies to whichever candidate the rule fired for.
	TargetProvider string  `json:"target_provider,omitempty" yaml:"target_provider,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Rule pairs a condition with an action at a priority. Rules are evaluated
// in ascending priority order and never short-circuit.
type Rule struct {
	Name      string    `json:"name" yaml:"name"`
	Condition Condition `json:"condition" yaml:"condition"`
	Action    Action    `json:"action" yaml:"action"`
	Priority  int       `json:"priority" yaml:"priority"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
}

// Validate checks the rule configuration.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.Condition.Kind {
	case CondCostPerTokenAbove, CondTotalCostAbove, CondDailyBudgetUsageAbove,
		CondMonthlyBudgetUsageAbove, CondDailyTokenVolumeAbove,
		CondProviderErrorRateAbove, CondProviderLatencyAbove:
	default:
		return fmt.Errorf("rule %q: unknown condition kind %q", r.Name, r.Condition.Kind)
	}
	switch r.Action.Kind {
	case ActionSwitchToProvider, ActionPreferProvider:
		if r.Action.TargetProvider == "" {
			return fmt.Errorf("rule %q: action %s requires a target provider", r.Name, r.Action.Kind)
		}
	case ActionApplyCostMultiplier:
		if r.Action.Multiplier <= 0 {
			return fmt.Errorf("rule %q: cost multiplier must be positive", r.Name)
		}
	case ActionBlockProvider:
		if r.Action.TargetProvider == "" {
			return fmt.Errorf("rule %q: block action requires a target provider", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown action kind %q", r.Name, r.Action.Kind)
	}
	return nil
}

// evalInputs is the frozen view of shared state a rule evaluation sees.
// Conditions are pure functions of these values and the candidate estimate,
// so a ranking pass is deterministic for a given snapshot.
type evalInputs struct {
	dailyBudgetUsage   float64
	monthlyBudgetUsage float64
	dailyTokens        int64
	errorRate          map[string]float64
	avgLatencyMs       map[string]float64
}

// matches reports whether the condition fires for the candidate.
func (c Condition) matches(in evalInputs, provider string, costPerToken, totalCost float64) bool {
	switch c.Kind {
	case CondCostPerTokenAbove:
		return costPerToken > c.Threshold
	case CondTotalCostAbove:
		return totalCost > c.Threshold
	case CondDailyBudgetUsageAbove:
		return in.dailyBudgetUsage > c.Threshold
	case CondMonthlyBudgetUsageAbove:
		return in.monthlyBudgetUsage > c.Threshold
	case CondDailyTokenVolumeAbove:
		return float64(in.dailyTokens) > c.Threshold
	case CondProviderErrorRateAbove:
		return in.errorRate[provider] > c.Threshold
	case CondProviderLatencyAbove:
		return in.avgLatencyMs[provider] > c.Threshold
	default:
		return false
	}
}

// apply mutates only the candidate's score. It returns the new score and
// whether the rule had any effect on this candidate.
func (a Action) apply(provider string, score float64) (float64, bool) {
	switch a.Kind {
	case ActionSwitchToProvider:
		if provider == a.TargetProvider {
			return score * switchDiscount, true
		}
	case ActionPreferProvider:
		if provider == a.TargetProvider {
			return score * preferDiscount, true
		}
	case ActionApplyCostMultiplier:
		if a.TargetProvider == "" || a.TargetProvider == provider {
			return score * a.Multiplier, true
		}
	case ActionBlockProvider:
		if provider == a.TargetProvider {
			return math.MaxFloat64, true
		}
	}
	return score, false
}
