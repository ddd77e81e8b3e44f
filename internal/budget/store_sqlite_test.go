package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := store.AppendBatch(context.Background(), []*CostInfo{
		{
			ID:               "e1",
			RequestID:        "req-1",
			Timestamp:        now,
			Provider:         "openai",
			Model:            "gpt-4o",
			UserID:           "u1",
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
			Cost:             0.01,
			Streamed:         true,
		},
	})
	require.NoError(t, err)

	got, err := store.Query(context.Background(), Filter{Provider: "openai"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, 15, got[0].TotalTokens)
	assert.True(t, got[0].Streamed)
	assert.True(t, got[0].Timestamp.Equal(now))
}

func TestSQLiteStoreSumAndPurge(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	err := store.AppendBatch(context.Background(), []*CostInfo{
		{ID: "old", Timestamp: now.AddDate(0, 0, -40), Provider: "openai", Model: "gpt-4o", TotalTokens: 100, Cost: 1},
		{ID: "new", Timestamp: now, Provider: "openai", Model: "gpt-4o", TotalTokens: 50, Cost: 2},
	})
	require.NoError(t, err)

	totals, err := store.Sum(context.Background(), Filter{Since: now.AddDate(0, 0, -1)})
	require.NoError(t, err)
	assert.Equal(t, 2.0, totals.Cost)
	assert.Equal(t, int64(50), totals.Tokens)
	assert.Equal(t, int64(1), totals.Requests)

	deleted, err := store.Purge(context.Background(), now.AddDate(0, 0, -DefaultRetentionDays))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSQLiteStoreDuplicateIDsIgnored(t *testing.T) {
	store := openTestStore(t)
	entry := &CostInfo{ID: "same", Timestamp: time.Now().UTC(), Provider: "openai", Model: "gpt-4o", Cost: 1}

	require.NoError(t, store.AppendBatch(context.Background(), []*CostInfo{entry}))
	require.NoError(t, store.AppendBatch(context.Background(), []*CostInfo{entry}))

	totals, err := store.Sum(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Requests)
}

func TestSQLiteStoreSumScoped(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.AppendBatch(context.Background(), []*CostInfo{
		{ID: "s1", Timestamp: now, Provider: "openai", Model: "gpt-4o", UserID: "alice", Cost: 3},
		{ID: "s2", Timestamp: now, Provider: "openai", Model: "gpt-4o", UserID: "bob", ProjectID: "ml-infra", Cost: 1},
		{ID: "s3", Timestamp: now, Provider: "gemini", Model: "gemini-2.0-flash", ProjectID: "ml-infra", Cost: 2},
	}))

	totals, err := store.Sum(context.Background(), Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, totals.Cost)
	assert.Equal(t, int64(1), totals.Requests)

	totals, err = store.Sum(context.Background(), Filter{ProjectID: "ml-infra"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, totals.Cost)
	assert.Equal(t, int64(2), totals.Requests)
}

func TestRecorderFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{BufferSize: 10, FlushInterval: time.Hour})

	rec.Record(&CostInfo{RequestID: "r1", Provider: "openai", Model: "gpt-4o", Cost: 0.5})
	rec.Record(&CostInfo{RequestID: "r2", Provider: "gemini", Model: "gemini-2.0-flash", Cost: 0.1})
	require.NoError(t, rec.Close())

	totals, err := store.Sum(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Requests)
	assert.InDelta(t, 0.6, totals.Cost, 1e-12)

	// Records after close are dropped silently.
	rec.Record(&CostInfo{RequestID: "r3", Cost: 9})
	assert.NoError(t, rec.Close())
}

func TestRecorderFillsIDAndTimestamp(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, RecorderConfig{})

	rec.Record(&CostInfo{RequestID: "r1"})
	require.NoError(t, rec.Close())

	got, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestAnalytics(t *testing.T) {
	store := NewMemoryStore()
	day1 := time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendBatch(context.Background(), []*CostInfo{
		{ID: "a", Timestamp: day1, Provider: "openai", Model: "gpt-4o", TotalTokens: 100, Cost: 2},
		{ID: "b", Timestamp: day1, Provider: "gemini", Model: "gemini-2.0-flash", TotalTokens: 200, Cost: 1},
		{ID: "c", Timestamp: day2, Provider: "openai", Model: "gpt-4o-mini", TotalTokens: 50, Cost: 0.5},
	}))

	report, err := Analytics(context.Background(), store, day1.Add(-time.Hour), day2.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(3), report.Totals.Requests)
	assert.InDelta(t, 3.5, report.Totals.Cost, 1e-12)

	require.Len(t, report.ByProvider, 2)
	assert.Equal(t, "openai", report.ByProvider[0].Name, "highest spend first")
	assert.InDelta(t, 2.5, report.ByProvider[0].Cost, 1e-12)

	require.Len(t, report.Daily, 2)
	assert.Equal(t, "2026-08-28", report.Daily[0].Date)
	assert.Equal(t, int64(2), report.Daily[0].Requests)
}
