// Package store persists trace records and final results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

var ErrNotFound = errors.New("not found")

// SQLiteStore is a trace sink and result store. It is safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// every in-memory connection is its own database
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			request_id TEXT PRIMARY KEY,
			plan_id TEXT,
			status TEXT NOT NULL,
			cause TEXT,
			result TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trace_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			plan_version INTEGER NOT NULL,
			step_id INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			score REAL NOT NULL,
			passed INTEGER NOT NULL,
			issues TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trace_records_request ON trace_records(request_id, id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record implements the orchestrator's trace sink. Write failures are
// logged; they never affect the run.
func (s *SQLiteStore) Record(ctx context.Context, rec models.TraceRecord) {
	if err := s.AppendRecord(ctx, rec); err != nil {
		log.Error().Err(err).
			Str(logger.RequestIDField, rec.RequestID).
			Int(logger.StepIDField, rec.StepID).
			Int(logger.AttemptField, rec.Attempt).
			Msg("unable to persist trace record")
	}
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec models.TraceRecord) error {
	issues, err := json.Marshal(nonNil(rec.Issues))
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	_, err = s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO trace_records (request_id, plan_id, plan_version, step_id, attempt, tool, status, score, passed, issues, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.PlanID, rec.PlanVersion, rec.StepID, rec.Attempt, rec.Tool,
		string(rec.Status), rec.Score, rec.Passed, string(issues), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert trace record: %w", err)
	}
	return nil
}

// ListRecords returns a request's records in the order they were written.
func (s *SQLiteStore) ListRecords(ctx context.Context, requestID string) ([]models.TraceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, plan_id, plan_version, step_id, attempt, tool, status, score, passed, issues, ts
		FROM trace_records WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query trace records: %w", err)
	}
	defer rows.Close()

	out := make([]models.TraceRecord, 0)
	for rows.Next() {
		var (
			rec    models.TraceRecord
			status string
			issues string
			ts     int64
		)
		if err := rows.Scan(&rec.RequestID, &rec.PlanID, &rec.PlanVersion, &rec.StepID, &rec.Attempt, &rec.Tool,
			&status, &rec.Score, &rec.Passed, &issues, &ts); err != nil {
			return nil, fmt.Errorf("scan trace record: %w", err)
		}
		if err := json.Unmarshal([]byte(issues), &rec.Issues); err != nil {
			return nil, fmt.Errorf("unmarshal issues: %w", err)
		}
		rec.Status = models.StepStatus(status)
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveResult stores or replaces the final result of a request.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *models.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var cause string
	if res.Failure != nil {
		cause = string(res.Failure.Cause)
	}
	_, err = s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO runs (request_id, plan_id, status, cause, result, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			cause = excluded.cause,
			result = excluded.result,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		res.RequestID, res.PlanID, string(res.Status), cause, string(raw),
		res.StartedAt.UnixNano(), res.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, requestID string) (*models.Result, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE request_id = ?`, requestID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	res := &models.Result{}
	if err := json.Unmarshal([]byte(raw), res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return res, nil
}

// ObserveResult persists the final result as soon as the run ends.
func (s *SQLiteStore) ObserveResult(ctx context.Context, res *models.Result) {
	if err := s.SaveResult(ctx, res); err != nil {
		log.Error().Err(err).Str(logger.RequestIDField, res.RequestID).Msg("unable to persist result")
	}
}

// Replans and violations are stored as part of the result.
func (s *SQLiteStore) ObserveReplan(context.Context, string, models.ReplanRecord) {}

func (s *SQLiteStore) ObserveViolation(context.Context, string, models.Violation) {}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
