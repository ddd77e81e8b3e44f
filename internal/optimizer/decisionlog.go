package optimizer

import (
	"sync"
	"time"
)

// defaultDecisionCapacity bounds the in-memory decision ring.
const defaultDecisionCapacity = 1000

// RankedEntry is one candidate's outcome inside a recorded decision.
type RankedEntry struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Score    float64 `json:"score"`
	Cost     float64 `json:"cost"`
	Blocked  bool    `json:"blocked"`
}

// Decision is the audit record of one routing choice.
type Decision struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestID    string        `json:"request_id,omitempty"`
	Strategy     string        `json:"strategy"`
	Selected     string        `json:"selected_provider"`
	Model        string        `json:"selected_model"`
	Ranked       []RankedEntry `json:"ranked"`
	RulesApplied []string      `json:"rules_applied,omitempty"`
}

// DecisionLog is a bounded append-only ring of routing decisions. Append
// never blocks on I/O and never fails; when full, the oldest decision is
// overwritten.
type DecisionLog struct {
	mu    sync.Mutex
	ring  []Decision
	next  int
	count int
}

// NewDecisionLog creates a log with the given capacity (default when <= 0).
func NewDecisionLog(capacity int) *DecisionLog {
	if capacity <= 0 {
		capacity = defaultDecisionCapacity
	}
	return &DecisionLog{ring: make([]Decision, capacity)}
}

// Append records a decision.
func (l *DecisionLog) Append(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
}

// Recent returns up to n decisions, newest first.
func (l *DecisionLog) Recent(n int) []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Decision, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len returns the number of stored decisions.
func (l *DecisionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
