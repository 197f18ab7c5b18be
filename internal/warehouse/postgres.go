// Package warehouse implements the append-only analytical sink on Postgres.
// Rows arriving here are already pseudonymized; the sink is an optional side
// channel and its availability never gates operational writes.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"mindwell-backend/internal/domain"
)

// dbAPI is the minimal database/sql surface required by Sink. *sql.DB
// satisfies it; tests substitute a fake.
type dbAPI interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Sink writes typed analytical rows and serves read-only reporting queries.
type Sink struct {
	db dbAPI
}

// Open connects to Postgres, verifies the connection, and bootstraps the
// analytical tables.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("warehouse: dsn must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("warehouse: connect: %w", err)
	}
	s := &Sink{db: db}
	if err := s.createTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New creates a Sink over an existing database handle.
func New(db dbAPI) (*Sink, error) {
	if db == nil {
		return nil, errors.New("warehouse: db must not be nil")
	}
	return &Sink{db: db}, nil
}

func (s *Sink) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS phq9_assessments (
			id BIGSERIAL PRIMARY KEY,
			user_hash VARCHAR(64) NOT NULL,
			assessed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			item1 SMALLINT, item2 SMALLINT, item3 SMALLINT,
			item4 SMALLINT, item5 SMALLINT, item6 SMALLINT,
			item7 SMALLINT, item8 SMALLINT, item9 SMALLINT,
			total_score SMALLINT NOT NULL,
			severity VARCHAR(32) NOT NULL,
			requires_action BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS emotion_signals (
			id BIGSERIAL PRIMARY KEY,
			user_hash VARCHAR(64) NOT NULL,
			observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			emotion VARCHAR(64) NOT NULL,
			score DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_aggregates (
			id BIGSERIAL PRIMARY KEY,
			user_hash VARCHAR(64) NOT NULL,
			day DATE NOT NULL,
			sessions INTEGER NOT NULL,
			messages INTEGER NOT NULL,
			crisis_flags INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_outcomes (
			id BIGSERIAL PRIMARY KEY,
			user_hash VARCHAR(64) NOT NULL,
			session_hash VARCHAR(64) NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			ended_at TIMESTAMP WITH TIME ZONE,
			completed BOOLEAN NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("warehouse: create tables: %w", err)
		}
	}
	return nil
}

// InsertAssessment appends one pseudonymized assessment row. Inserts are
// at-least-once; duplicate identical rows are acceptable for analytics.
func (s *Sink) InsertAssessment(ctx context.Context, row domain.AssessmentRow) error {
	if len(row.ItemScores) != domain.PHQ9ItemCount {
		return fmt.Errorf("warehouse: InsertAssessment: expected %d item scores, got %d", domain.PHQ9ItemCount, len(row.ItemScores))
	}
	args := []any{row.UserHash, row.AssessedAt}
	for _, score := range row.ItemScores {
		args = append(args, score)
	}
	args = append(args, row.TotalScore, row.Severity, row.RequiresAction)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phq9_assessments
			(user_hash, assessed_at, item1, item2, item3, item4, item5, item6, item7, item8, item9, total_score, severity, requires_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		args...)
	if err != nil {
		return fmt.Errorf("warehouse: InsertAssessment: %w", err)
	}
	return nil
}

// InsertEmotionSignal appends one derived-emotion observation.
func (s *Sink) InsertEmotionSignal(ctx context.Context, row domain.EmotionSignalRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emotion_signals (user_hash, observed_at, emotion, score) VALUES ($1, $2, $3, $4)`,
		row.UserHash, row.ObservedAt, row.Emotion, row.Score)
	if err != nil {
		return fmt.Errorf("warehouse: InsertEmotionSignal: %w", err)
	}
	return nil
}

// InsertBehaviorAggregate appends one per-day usage aggregate.
func (s *Sink) InsertBehaviorAggregate(ctx context.Context, row domain.BehaviorAggregateRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO behavior_aggregates (user_hash, day, sessions, messages, crisis_flags) VALUES ($1, $2, $3, $4, $5)`,
		row.UserHash, row.Day, row.Sessions, row.Messages, row.CrisisFlags)
	if err != nil {
		return fmt.Errorf("warehouse: InsertBehaviorAggregate: %w", err)
	}
	return nil
}

// InsertSessionOutcome appends one session outcome row.
func (s *Sink) InsertSessionOutcome(ctx context.Context, row domain.SessionOutcomeRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_outcomes (user_hash, session_hash, started_at, ended_at, completed) VALUES ($1, $2, $3, $4, $5)`,
		row.UserHash, row.SessionHash, row.StartedAt, row.EndedAt, row.Completed)
	if err != nil {
		return fmt.Errorf("warehouse: InsertSessionOutcome: %w", err)
	}
	return nil
}

// Query runs an ad-hoc reporting query. Only a single SELECT statement is
// accepted; anything else is rejected before reaching the database.
func (s *Sink) Query(ctx context.Context, stmt string) ([]map[string]any, error) {
	if err := validateReadOnly(stmt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("warehouse: Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("warehouse: Query columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("warehouse: Query scan: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: Query rows: %w", err)
	}
	return out, nil
}

func validateReadOnly(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return errors.New("warehouse: empty statement")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return errors.New("warehouse: only SELECT statements are allowed")
	}
	// Reject stacked statements; a trailing semicolon alone is fine.
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return errors.New("warehouse: multiple statements are not allowed")
	}
	return nil
}
