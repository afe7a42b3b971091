package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	factTable       = "production_facts"
	naturalKeyIndex = "production_facts_natural_key"
	factSequence    = "production_facts_id_seq"
)

type integrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository wires the catalog reads used by the monitor.
func NewIntegrityRepository(pool *pgxpool.Pool) IntegrityRepository {
	return &integrityRepository{pool: pool}
}

func (r *integrityRepository) UniqueIndexPresent(ctx context.Context) (bool, error) {
	var present bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM pg_index i
			JOIN pg_class c ON c.oid = i.indexrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = current_schema() AND c.relname = $1 AND i.indisunique AND i.indisvalid
		)`,
		naturalKeyIndex,
	).Scan(&present)
	if err != nil {
		return false, fmt.Errorf("failed to look up natural key index: %w", err)
	}
	return present, nil
}

func (r *integrityRepository) DuplicateGroupCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM (
			SELECT 1 FROM production_facts
			GROUP BY posting_date, cost_center, warehouse_operator, log_number
			HAVING count(*) > 1
		) dup`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicate groups: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) MaxFactID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(max(id), 0) FROM production_facts`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to read max fact id: %w", err)
	}
	return maxID, nil
}

func (r *integrityRepository) SequenceLastValue(ctx context.Context) (int64, error) {
	var last int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COALESCE(last_value, 0) FROM pg_sequences
		 WHERE schemaname = current_schema() AND sequencename = $1`,
		factSequence,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", factSequence, err)
	}
	return last, nil
}

func (r *integrityRepository) ApproxFactRows(ctx context.Context) (int64, error) {
	var rows int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT GREATEST(c.reltuples, 0)::bigint FROM pg_class c WHERE c.oid = to_regclass($1)`,
		factTable,
	).Scan(&rows)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate fact rows: %w", err)
	}
	return rows, nil
}
