package resultstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// PostgresStore keeps results in the job_results table. It cannot push
// completions, so dispatchers fall back to polling it.
type PostgresStore struct {
	db     *sqlx.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type resultRow struct {
	Status     string  `db:"status"`
	Prediction string  `db:"prediction"`
	Score      float64 `db:"score"`
	Reason     string  `db:"reason"`
}

// NewPostgresStore creates a Postgres backed store. A non-positive ttl uses DefaultTTL.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration, logger *slog.Logger) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Put inserts the outcome; an existing row for id is a duplicate
func (s *PostgresStore) Put(ctx context.Context, id string, outcome job.Outcome) error {
	query := `
		INSERT INTO job_results (
			job_id, status, prediction, score, reason, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		id,
		outcome.Status,
		outcome.Prediction,
		outcome.Score,
		outcome.Reason,
		now,
		now.Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return job.ErrDuplicateResult
	}

	return nil
}

// Get reads the unexpired outcome for id
func (s *PostgresStore) Get(ctx context.Context, id string) (job.Outcome, bool, error) {
	query := `
		SELECT status, prediction, score, reason
		FROM job_results
		WHERE job_id = $1 AND expires_at > $2
	`

	var row resultRow
	err := s.db.GetContext(ctx, &row, query, id, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job.Outcome{}, false, nil
		}
		return job.Outcome{}, false, fmt.Errorf("failed to get result: %w", err)
	}

	return job.Outcome{
		Status:     row.Status,
		Prediction: row.Prediction,
		Score:      row.Score,
		Reason:     row.Reason,
	}, true, nil
}

// Delete removes the row for id
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_results WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// DeleteExpired removes rows past their expiry
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM job_results WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}
