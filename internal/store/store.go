// Package store keeps an audit trail of detection attempts in Postgres.
// Only attempt metadata is stored; verdicts are never persisted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"deepguard/internal/observability"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type Attempt struct {
	ID           string
	ModelID      string
	PredictionID string
	Outcome      string
	Reason       string
	Error        string
	DurationMS   int64
	CreatedAt    time.Time
}

func (s *Store) RecordAttempt(ctx context.Context, a Attempt) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_attempts (id, model_id, prediction_id, outcome, reason, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.ModelID, a.PredictionID, a.Outcome, a.Reason, a.Error, a.DurationMS, a.CreatedAt)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, model_id, prediction_id, outcome, reason, error, duration_ms, created_at
		FROM detection_attempts ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.ModelID, &a.PredictionID, &a.Outcome, &a.Reason, &a.Error, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountByOutcome(ctx context.Context, modelID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, count(*) FROM detection_attempts WHERE model_id = $1 GROUP BY outcome
	`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Record implements observability.Recorder; failures are logged, not returned.
func (s *Store) Record(ctx context.Context, ev observability.Event) {
	a := Attempt{
		ID:           ev.ID,
		ModelID:      ev.ModelID,
		PredictionID: ev.PredictionID,
		Outcome:      string(ev.Outcome),
		Reason:       ev.Reason,
		DurationMS:   ev.Duration.Milliseconds(),
		CreatedAt:    ev.At,
	}
	if ev.Err != nil {
		a.Error = ev.Err.Error()
	}
	if _, err := uuid.Parse(a.ID); err != nil {
		a.ID = ""
	}
	if _, err := s.RecordAttempt(ctx, a); err != nil {
		s.logger.Warn("audit write failed", zap.String("model_id", ev.ModelID), zap.Error(err))
	}
}
