package repository

import (
	"context"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IngestionJobRepository persists ingestion jobs. Admission and transitions
// are atomic in the store so concurrent processes see one active job per
// source.
type IngestionJobRepository interface {
	// CreateIfNoneActive inserts job unless the source already has a
	// non-terminal job, in which case domain.ErrJobConflict is returned.
	CreateIfNoneActive(ctx context.Context, job domain.IngestionJob) (domain.IngestionJob, error)
	// Update stores job if the persisted status still equals expected.
	Update(ctx context.Context, expected domain.JobStatus, job domain.IngestionJob) (domain.IngestionJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.IngestionJob, error)
	List(ctx context.Context, limit int, offset int) ([]domain.IngestionJob, error)
	CountActive(ctx context.Context) (int64, error)
	CountStuck(ctx context.Context, createdBefore time.Time) (int64, error)
}

// ProductionFactRepository persists parsed production facts.
type ProductionFactRepository interface {
	// InsertBatch writes facts in one transaction. Facts that collide with an
	// existing natural key are skipped and counted as duplicates.
	InsertBatch(ctx context.Context, jobID uuid.UUID, facts []domain.ProductionFact) (FactBatchResult, error)
}

// FactBatchResult reports the outcome of InsertBatch.
type FactBatchResult struct {
	Inserted   int
	Duplicates int
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// IntegrityRepository exposes the catalog reads behind the integrity monitor.
type IntegrityRepository interface {
	UniqueIndexPresent(ctx context.Context) (bool, error)
	DuplicateGroupCount(ctx context.Context) (int64, error)
	MaxFactID(ctx context.Context) (int64, error)
	SequenceLastValue(ctx context.Context) (int64, error)
	ApproxFactRows(ctx context.Context) (int64, error)
}

// TxRunner runs fn inside a transaction. *db.Connection implements it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}
