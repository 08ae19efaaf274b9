package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// PostgresStore implements HistoryStore using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, job_type, description, status, progress, current_step, result, error, created_at, finished_at`

// RecordJob upserts the job. Recording the same job twice keeps the latest state.
func (s *PostgresStore) RecordJob(ctx context.Context, job models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_history (`+jobColumns+`, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   progress = EXCLUDED.progress,
		   current_step = EXCLUDED.current_step,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   finished_at = EXCLUDED.finished_at,
		   recorded_at = NOW()`,
		job.ID, string(job.Type), job.Description, string(job.Status), job.Progress, job.CurrentStep,
		job.Result, job.Error, job.CreatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_history WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("job_type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_history WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := filter.normalize()
	query := fmt.Sprintf(`SELECT %s FROM job_history WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		j              models.Job
		jobType, state string
	)
	err := row.Scan(&j.ID, &jobType, &j.Description, &state, &j.Progress, &j.CurrentStep,
		&j.Result, &j.Error, &j.CreatedAt, &j.FinishedAt)
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(state)
	if j.FinishedAt != nil {
		j.UpdatedAt = *j.FinishedAt
	} else {
		j.UpdatedAt = j.CreatedAt
	}
	return j, err
}

var _ HistoryStore = (*PostgresStore)(nil)
