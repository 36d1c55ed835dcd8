// Package store keeps the run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

var ErrNotFound = errors.New("run not found")

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Summary is one row of the run history
type Summary struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Passed     bool              `json:"passed"`
	Capability models.Capability `json:"capability"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path; ":memory:" is accepted
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway, and an in-memory db exists per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		passed INTEGER NOT NULL,
		capability TEXT NOT NULL,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize tables: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces a run
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO runs (id, started_at, finished_at, passed, capability, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		report.ID,
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		report.Passed,
		string(report.Capability),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns the full report of a run
func (s *Store) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &report, nil
}

// ListRuns returns the newest runs first; limit <= 0 means no limit
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, passed, capability
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Summary{}
	for rows.Next() {
		var sum Summary
		var started, finished, capability string
		if err := rows.Scan(&sum.ID, &started, &finished, &sum.Passed, &capability); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.StartedAt, _ = time.Parse(timeLayout, started)
		sum.FinishedAt, _ = time.Parse(timeLayout, finished)
		sum.Capability = models.Capability(capability)
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
