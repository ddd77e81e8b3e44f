package budget

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite has a default limit of 999 bindable parameters per query
// (SQLITE_MAX_VARIABLE_NUMBER). With 12 columns per ledger row we insert
// up to 83 rows per statement.
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 12
	maxEntriesPerBatch = maxSQLiteParams / columnsPerEntry
)

// DefaultRetentionDays bounds ledger growth; entries older than this are
// swept by the background cleanup.
const DefaultRetentionDays = 30

const cleanupInterval = time.Hour

// SQLiteStore implements LedgerStore on a SQLite database.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// OpenSQLite opens (or creates) a SQLite ledger at path. Use ":memory:"
// for an ephemeral database.
func OpenSQLite(path string, retentionDays int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db, retentionDays)
}

// NewSQLiteStore creates a ledger store over an existing database handle.
// The schema is created if missing and a retention sweep starts when
// retentionDays is positive.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cost_ledger (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			streamed INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost_ledger table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_ledger_timestamp ON cost_ledger(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_provider ON cost_ledger(provider)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_model ON cost_ledger(model)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_user ON cost_ledger(user_id)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create ledger index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go store.cleanupLoop()
	}

	return store, nil
}

// AppendBatch inserts ledger rows, chunked to stay within SQLite's
// parameter limit. Duplicate IDs are ignored so replayed writes stay
// idempotent.
func (s *SQLiteStore) AppendBatch(ctx context.Context, entries []*CostInfo) error {
	if len(entries) == 0 {
		return nil
	}

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := i + maxEntriesPerBatch
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Provider,
				e.Model,
				e.UserID,
				e.ProjectID,
				e.PromptTokens,
				e.CompletionTokens,
				e.TotalTokens,
				e.Cost,
				e.Streamed,
			)
		}

		query := `INSERT OR IGNORE INTO cost_ledger (id, request_id, timestamp, provider, model,
			user_id, project_id, prompt_tokens, completion_tokens, total_tokens, cost, streamed) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert ledger batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// whereClause renders the filter's set fields as SQL conditions.
func whereClause(f Filter) (string, []interface{}) {
	clause := " WHERE 1=1"
	var args []interface{}

	if !f.Since.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		clause += " AND timestamp < ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.Provider != "" {
		clause += " AND provider = ?"
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		clause += " AND model = ?"
		args = append(args, f.Model)
	}
	if f.UserID != "" {
		clause += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		clause += " AND project_id = ?"
		args = append(args, f.ProjectID)
	}
	return clause, args
}

func (s *SQLiteStore) Sum(ctx context.Context, f Filter) (Totals, error) {
	clause, args := whereClause(f)

	var t Totals
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0), COUNT(*) FROM cost_ledger`+clause,
		args...,
	)
	if err := row.Scan(&t.Cost, &t.Tokens, &t.Requests); err != nil {
		return Totals{}, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]*CostInfo, error) {
	clause, args := whereClause(f)
	query := `SELECT id, request_id, timestamp, provider, model, user_id, project_id,
		prompt_tokens, completion_tokens, total_tokens, cost, streamed
		FROM cost_ledger` + clause
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []*CostInfo
	for rows.Next() {
		var e CostInfo
		var ts string
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.Provider, &e.Model, &e.UserID, &e.ProjectID,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.Cost, &e.Streamed); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			slog.Warn("unparseable ledger timestamp", "id", e.ID, "value", ts)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cost_ledger WHERE timestamp < ?",
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to purge ledger: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention sweep and closes the database.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return s.db.Close()
}

func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := s.Purge(ctx, cutoff)
			cancel()
			if err != nil {
				slog.Error("failed to sweep old ledger entries", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("swept old ledger entries", "deleted", deleted)
			}
		case <-s.stopCleanup:
			return
		}
	}
}
