package budget

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CostInfo is one settled request in the cost ledger.
type CostInfo struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	UserID           string    `json:"user_id,omitempty"`
	ProjectID        string    `json:"project_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	Streamed         bool      `json:"streamed"`
}

// Totals aggregates ledger rows inside a window.
type Totals struct {
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
	Requests int64   `json:"requests"`
}

// Filter narrows ledger queries. Zero values are ignored.
type Filter struct {
	Since     time.Time
	Until     time.Time
	Provider  string
	Model     string
	UserID    string
	ProjectID string
	Limit     int
}

// LedgerStore is the persistence contract for the cost ledger.
type LedgerStore interface {
	// AppendBatch writes entries durably. Duplicate IDs are ignored.
	AppendBatch(ctx context.Context, entries []*CostInfo) error
	// Sum aggregates all entries matching the filter. Limit is ignored.
	Sum(ctx context.Context, f Filter) (Totals, error)
	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]*CostInfo, error)
	// Purge deletes entries older than before and reports how many.
	Purge(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// MemoryStore is an in-memory LedgerStore for tests and deployments that
// do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*CostInfo
	seen    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

func (s *MemoryStore) AppendBatch(_ context.Context, entries []*CostInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, dup := s.seen[e.ID]; dup && e.ID != "" {
			continue
		}
		cp := *e
		s.entries = append(s.entries, &cp)
		if e.ID != "" {
			s.seen[e.ID] = struct{}{}
		}
	}
	return nil
}

func (s *MemoryStore) Sum(_ context.Context, f Filter) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t Totals
	for _, e := range s.entries {
		if !f.matches(e) {
			continue
		}
		t.Cost += e.Cost
		t.Tokens += int64(e.TotalTokens)
		t.Requests++
	}
	return t, nil
}

// matches reports whether the entry passes every set filter field.
func (f Filter) matches(e *CostInfo) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	return true
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*CostInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*CostInfo
	for _, e := range s.entries {
		if !f.matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp.Before(before) {
			deleted++
			delete(s.seen, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
