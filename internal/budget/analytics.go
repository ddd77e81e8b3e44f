package budget

import (
	"context"
	"sort"
	"time"
)

// Breakdown aggregates spend for one provider or model.
type Breakdown struct {
	Name     string  `json:"name"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
	Requests int64   `json:"requests"`
}

// DailySpend is one day in the analytics time series.
type DailySpend struct {
	Date     string  `json:"date"`
	Cost     float64 `json:"cost"`
	Requests int64   `json:"requests"`
}

// Report summarizes ledger activity inside a window.
type Report struct {
	Since      time.Time    `json:"since"`
	Until      time.Time    `json:"until"`
	Totals     Totals       `json:"totals"`
	ByProvider []Breakdown  `json:"by_provider"`
	ByModel    []Breakdown  `json:"by_model"`
	Daily      []DailySpend `json:"daily"`
}

// Analytics builds a spend report from the ledger. Aggregation happens in
// memory so the store interface stays small; windows are bounded by the
// retention sweep.
func Analytics(ctx context.Context, store LedgerStore, since, until time.Time) (*Report, error) {
	entries, err := store.Query(ctx, Filter{Since: since, Until: until})
	if err != nil {
		return nil, err
	}

	report := &Report{Since: since, Until: until}
	byProvider := make(map[string]*Breakdown)
	byModel := make(map[string]*Breakdown)
	byDay := make(map[string]*DailySpend)

	for _, e := range entries {
		report.Totals.Cost += e.Cost
		report.Totals.Tokens += int64(e.TotalTokens)
		report.Totals.Requests++

		p := byProvider[e.Provider]
		if p == nil {
			p = &Breakdown{Name: e.Provider}
			byProvider[e.Provider] = p
		}
		p.Cost += e.Cost
		p.Tokens += int64(e.TotalTokens)
		p.Requests++

		m := byModel[e.Model]
		if m == nil {
			m = &Breakdown{Name: e.Model}
			byModel[e.Model] = m
		}
		m.Cost += e.Cost
		m.Tokens += int64(e.TotalTokens)
		m.Requests++

		day := e.Timestamp.UTC().Format("2006-01-02")
		d := byDay[day]
		if d == nil {
			d = &DailySpend{Date: day}
			byDay[day] = d
		}
		d.Cost += e.Cost
		d.Requests++
	}

	report.ByProvider = sortBreakdowns(byProvider)
	report.ByModel = sortBreakdowns(byModel)

	for _, d := range byDay {
		report.Daily = append(report.Daily, *d)
	}
	sort.Slice(report.Daily, func(i, j int) bool { return report.Daily[i].Date < report.Daily[j].Date })

	return report, nil
}

// sortBreakdowns orders by cost descending, name ascending on ties.
func sortBreakdowns(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Name < out[j].Name
	})
	return out
}
