package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, source_file, status, details, min_posting_date, max_posting_date, created_at, completed_at`

type ingestionJobRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionJobRepository wires a repository backed by pgxpool.
func NewIngestionJobRepository(pool *pgxpool.Pool) IngestionJobRepository {
	return &ingestionJobRepository{pool: pool}
}

func (r *ingestionJobRepository) CreateIfNoneActive(ctx context.Context, job domain.IngestionJob) (domain.IngestionJob, error) {
	// The partial unique index on source_file turns a second active job into
	// a no-op insert.
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO ingestion_jobs (id, source_file, status, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING
		 RETURNING `+jobColumns,
		job.ID,
		job.SourceFile,
		string(job.Status),
		job.Details,
		job.CreatedAt,
	)

	created, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IngestionJob{}, fmt.Errorf("source %q: %w", job.SourceFile, domain.ErrJobConflict)
	}
	if err != nil {
		return domain.IngestionJob{}, fmt.Errorf("failed to create ingestion job: %w", err)
	}
	return created, nil
}

func (r *ingestionJobRepository) Update(ctx context.Context, expected domain.JobStatus, job domain.IngestionJob) (domain.IngestionJob, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE ingestion_jobs
		 SET status = $3, details = $4, min_posting_date = $5, max_posting_date = $6, completed_at = $7
		 WHERE id = $1 AND status = $2
		 RETURNING `+jobColumns,
		job.ID,
		string(expected),
		string(job.Status),
		job.Details,
		job.MinPostingDate,
		job.MaxPostingDate,
		job.CompletedAt,
	)

	updated, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, job.ID); getErr != nil {
			return domain.IngestionJob{}, getErr
		}
		return domain.IngestionJob{}, fmt.Errorf("job %s expected %s: %w", job.ID, expected, domain.ErrStaleTransition)
	}
	if err != nil {
		return domain.IngestionJob{}, fmt.Errorf("failed to update ingestion job: %w", err)
	}
	return updated, nil
}

func (r *ingestionJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.IngestionJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IngestionJob{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.IngestionJob{}, fmt.Errorf("failed to get ingestion job: %w", err)
	}
	return job, nil
}

func (r *ingestionJobRepository) List(ctx context.Context, limit int, offset int) ([]domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.IngestionJob{}
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *ingestionJobRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM ingestion_jobs WHERE status = ANY($1)`,
		nonTerminalStatusNames(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (r *ingestionJobRepository) CountStuck(ctx context.Context, createdBefore time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM ingestion_jobs
		 WHERE status = ANY($1) AND completed_at IS NULL AND created_at < $2`,
		nonTerminalStatusNames(),
		createdBefore,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck jobs: %w", err)
	}
	return count, nil
}

func nonTerminalStatusNames() []string {
	names := make([]string, len(domain.NonTerminalStatuses))
	for i, s := range domain.NonTerminalStatuses {
		names[i] = string(s)
	}
	return names
}

func scanJob(row pgx.Row) (domain.IngestionJob, error) {
	var (
		job         domain.IngestionJob
		status      string
		minDate     pgtype.Date
		maxDate     pgtype.Date
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.SourceFile,
		&status,
		&job.Details,
		&minDate,
		&maxDate,
		&job.CreatedAt,
		&completedAt,
	); err != nil {
		return domain.IngestionJob{}, err
	}

	parsed, err := domain.ParseJobStatus(status)
	if err != nil {
		return domain.IngestionJob{}, err
	}
	job.Status = parsed

	if minDate.Valid {
		v := minDate.Time
		job.MinPostingDate = &v
	}
	if maxDate.Valid {
		v := maxDate.Time
		job.MaxPostingDate = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		job.CompletedAt = &v
	}
	return job, nil
}
