package resultstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewPostgresStore(sqlx.NewDb(db, "postgres"), time.Minute, discardLogger())
	s.now = func() time.Time { return now }

	return s, mock, now
}

func TestPostgresStore_Put(t *testing.T) {
	s, mock, now := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_results")).
		WithArgs("job-1", job.StatusSuccess, "positive", 0.87, "", now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Put(context.Background(), "job-1", job.Success("positive", 0.87)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutDuplicate(t *testing.T) {
	s, mock, _ := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (job_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Put(context.Background(), "job-1", job.Failure("x"))
	assert.ErrorIs(t, err, job.ErrDuplicateResult)
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock, now := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WithArgs("job-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"status", "prediction", "score", "reason"}).
			AddRow(job.StatusSuccess, "positive", 0.87, ""))

	outcome, ok, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.Success("positive", 0.87), outcome)
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock, _ := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "prediction", "score", "reason"}))

	_, ok, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_GetError(t *testing.T) {
	s, mock, _ := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WillReturnError(errors.New("connection reset"))

	_, ok, err := s.Get(context.Background(), "job-1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_DeleteAndSweep(t *testing.T) {
	s, mock, now := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM job_results WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM job_results WHERE expires_at <= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.Delete(context.Background(), "job-1"))

	removed, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
