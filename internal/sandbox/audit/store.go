// Package audit persists sandbox violations as an append-only trail.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dshills/lumen/internal/sandbox"
)

// Store records violations in SQLite. The API is insert and query
// only; rows are never updated or deleted, so the trail stays
// append-only.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sandbox_violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_violations_plugin
		ON sandbox_violations(plugin_id);
	CREATE INDEX IF NOT EXISTS idx_violations_occurred
		ON sandbox_violations(occurred_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Report appends a violation. Implements sandbox.Reporter.
func (s *Store) Report(v sandbox.Violation) error {
	_, err := s.db.Exec(
		`INSERT INTO sandbox_violations (plugin_id, kind, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		v.PluginID, v.Kind.String(), v.Detail, v.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record violation: %w", err)
	}
	return nil
}

// Query filters a violation listing. Zero values mean no filter.
type Query struct {
	PluginID string
	Kind     string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// List returns violations matching the query, newest first.
func (s *Store) List(q Query) ([]sandbox.Violation, error) {
	where := "WHERE 1=1"
	var args []any

	if q.PluginID != "" {
		where += " AND plugin_id = ?"
		args = append(args, q.PluginID)
	}
	if q.Kind != "" {
		where += " AND kind = ?"
		args = append(args, q.Kind)
	}
	if !q.Since.IsZero() {
		where += " AND occurred_at >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		where += " AND occurred_at < ?"
		args = append(args, q.Until.UTC())
	}

	query := "SELECT plugin_id, kind, detail, occurred_at FROM sandbox_violations " +
		where + " ORDER BY occurred_at DESC, id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var out []sandbox.Violation
	for rows.Next() {
		var v sandbox.Violation
		var kind string
		if err := rows.Scan(&v.PluginID, &kind, &v.Detail, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		k, err := sandbox.ParseViolationKind(kind)
		if err != nil {
			k = sandbox.ViolationOther
		}
		v.Kind = k
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountByPlugin returns the number of recorded violations per plugin.
func (s *Store) CountByPlugin() (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT plugin_id, COUNT(*) FROM sandbox_violations GROUP BY plugin_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
