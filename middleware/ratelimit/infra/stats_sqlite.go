package infra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStatsStore grava cada decisão como uma linha (trilha de auditoria local).
//
// Pensado para uma instância só; para várias instâncias use o RedisStatsStore.
type SQLiteStatsStore struct {
	db *sql.DB
}

// OpenSQLiteStatsStore abre (ou cria) o banco em `path` e aplica o schema.
func OpenSQLiteStatsStore(path string) (*SQLiteStatsStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}
	s := &SQLiteStatsStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStatsStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admission_events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms   INTEGER NOT NULL,
			key     TEXT NOT NULL,
			class   TEXT NOT NULL,
			method  TEXT NOT NULL,
			path    TEXT NOT NULL,
			allowed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_admission_events_class_at ON admission_events(class, at_ms)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate stats database: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	allowed := 0
	if ev.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admission_events (at_ms, key, class, method, path, allowed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, at.UnixMilli(), string(ev.Key), string(ev.Class), ev.Method, ev.Path, allowed)
	if err != nil {
		return fmt.Errorf("record admission event: %w", err)
	}
	return nil
}

// ClassSummary agrega as decisões de uma classe.
type ClassSummary struct {
	Class domain.Class `json:"class"`
	Counters
}

// Summary agrega por classe as decisões a partir de `since` (zero = tudo).
func (s *SQLiteStatsStore) Summary(ctx context.Context, since time.Time) ([]ClassSummary, error) {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT class, SUM(allowed), SUM(1 - allowed)
		FROM admission_events
		WHERE at_ms >= ?
		GROUP BY class
		ORDER BY class
	`, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("query admission summary: %w", err)
	}
	defer rows.Close()

	var out []ClassSummary
	for rows.Next() {
		var cs ClassSummary
		var class string
		if err := rows.Scan(&class, &cs.Allowed, &cs.Denied); err != nil {
			return nil, fmt.Errorf("scan admission summary: %w", err)
		}
		cs.Class = domain.Class(class)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Prune apaga eventos anteriores a `before`. Retorna quantas linhas saíram.
func (s *SQLiteStatsStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admission_events WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune admission events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStatsStore) Close() error {
	return s.db.Close()
}
