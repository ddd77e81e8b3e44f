package budget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"costgate/internal/core"
)

// sumStaleness bounds how old a cached window sum may be before the ledger
// is consulted again. Budget checks are eventually consistent by this much
// plus the recorder's flush interval.
const sumStaleness = 5 * time.Second

type cachedTotals struct {
	totals    Totals
	fetchedAt time.Time
}

// Manager evaluates configured budgets against the cost ledger. Budgets may
// be global or scoped to a user/project; scoped budgets only gate requests
// carrying a matching accounting identity. Window sums are cached briefly
// per budget so the hot path does not hit the store on every request.
type Manager struct {
	store   LedgerStore
	budgets []Budget

	mu    sync.RWMutex
	sums  map[string]cachedTotals
	clock func() time.Time
}

// NewManager creates a manager over the given store. Periods without a
// budget are unlimited.
func NewManager(store LedgerStore, budgets []Budget) (*Manager, error) {
	m := &Manager{
		store: store,
		sums:  make(map[string]cachedTotals),
		clock: time.Now,
	}
	for _, b := range budgets {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		m.budgets = append(m.budgets, b)
	}
	return m, nil
}

// globalBudget returns the unscoped budget for a period, if configured.
func (m *Manager) globalBudget(period Period) (Budget, bool) {
	for _, b := range m.budgets {
		if b.Period == period && !b.Scoped() {
			return b, true
		}
	}
	return Budget{}, false
}

// Status evaluates one period's global budget. An unconfigured period
// returns an unlimited status.
func (m *Manager) Status(ctx context.Context, period Period) (Status, error) {
	b, configured := m.globalBudget(period)
	if !configured {
		b = Budget{Period: period}
	}
	return m.statusOf(ctx, b)
}

// Statuses evaluates every configured budget, global and scoped alike, in
// configuration order.
func (m *Manager) Statuses(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(m.budgets))
	for _, b := range m.budgets {
		st, err := m.statusOf(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// appliesTo reports whether a budget gates the request identity carried by
// ctx. Global budgets gate everyone; scoped budgets require every set scope
// field to match.
func appliesTo(b Budget, ctx context.Context) bool {
	if b.UserID != "" && b.UserID != core.GetUserID(ctx) {
		return false
	}
	if b.ProjectID != "" && b.ProjectID != core.GetProjectID(ctx) {
		return false
	}
	return true
}

// CheckExhausted returns a budget_exhausted error if any budget window that
// applies to the request identity is spent. Dispatch calls this before
// provider selection.
func (m *Manager) CheckExhausted(ctx context.Context) error {
	for _, b := range m.budgets {
		if !appliesTo(b, ctx) {
			continue
		}
		st, err := m.statusOf(ctx, b)
		if err != nil {
			// A broken ledger must not take the gateway down with it;
			// requests proceed unchecked until the store recovers.
			return nil
		}
		if st.IsExhausted {
			return core.NewBudgetExhaustedError(fmt.Sprintf(
				"%s budget exhausted: spent $%.2f of $%.2f", scopeLabel(b), st.Used, st.Limit))
		}
	}
	return nil
}

// scopeLabel names a budget for error messages, e.g. "daily" or
// "daily user alice".
func scopeLabel(b Budget) string {
	parts := []string{string(b.Period)}
	if b.UserID != "" {
		parts = append(parts, "user "+b.UserID)
	}
	if b.ProjectID != "" {
		parts = append(parts, "project "+b.ProjectID)
	}
	return strings.Join(parts, " ")
}

// UsageFraction returns used/limit for a period's global budget, or 0 when
// the period is unlimited. Optimizer rules key off this.
func (m *Manager) UsageFraction(ctx context.Context, period Period) float64 {
	st, err := m.Status(ctx, period)
	if err != nil {
		return 0
	}
	return st.PercentUsed
}

// TokensSince returns the token volume recorded since the start of the
// period's current window.
func (m *Manager) TokensSince(ctx context.Context, period Period) int64 {
	now := m.clock()
	totals, err := m.windowTotals(ctx, Budget{Period: period}, period.WindowStart(now), now)
	if err != nil {
		return 0
	}
	return totals.Tokens
}

func (m *Manager) statusOf(ctx context.Context, b Budget) (Status, error) {
	now := m.clock()
	windowStart := b.Period.WindowStart(now)

	totals, err := m.windowTotals(ctx, b, windowStart, now)
	if err != nil {
		return Status{}, err
	}
	return evaluate(b, totals.Cost, windowStart), nil
}

func (m *Manager) windowTotals(ctx context.Context, b Budget, windowStart, now time.Time) (Totals, error) {
	key := string(b.Period) + "|" + b.UserID + "|" + b.ProjectID

	m.mu.RLock()
	cached, ok := m.sums[key]
	m.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < sumStaleness && !cached.fetchedAt.Before(windowStart) {
		return cached.totals, nil
	}

	totals, err := m.store.Sum(ctx, Filter{
		Since:     windowStart,
		UserID:    b.UserID,
		ProjectID: b.ProjectID,
	})
	if err != nil {
		return Totals{}, err
	}

	m.mu.Lock()
	m.sums[key] = cachedTotals{totals: totals, fetchedAt: now}
	m.mu.Unlock()
	return totals, nil
}
