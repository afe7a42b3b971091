package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const factInsertChunk = 500

const insertFactSQL = `INSERT INTO production_facts (
	job_id, posting_date, posting_time, notification_date, log_number, document_number,
	material_sku, material_description, pallet_number, quantity, net_weight, list_code,
	production_version, cost_center, shift, working_day, sap_user, warehouse_operator, origin_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT DO NOTHING`

type productionFactRepository struct {
	tx     TxRunner
	logger zerolog.Logger
}

// NewProductionFactRepository wires a repository that writes through tx.
// Skipped duplicates are reported on logger at debug level.
func NewProductionFactRepository(tx TxRunner, logger zerolog.Logger) ProductionFactRepository {
	return &productionFactRepository{tx: tx, logger: logger}
}

func (r *productionFactRepository) InsertBatch(ctx context.Context, jobID uuid.UUID, facts []domain.ProductionFact) (FactBatchResult, error) {
	var result FactBatchResult
	if len(facts) == 0 {
		return result, nil
	}

	err := r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		result = FactBatchResult{}
		for start := 0; start < len(facts); start += factInsertChunk {
			end := min(start+factInsertChunk, len(facts))
			chunk := facts[start:end]

			batch := &pgx.Batch{}
			for _, f := range chunk {
				batch.Queue(insertFactSQL, factArgs(jobID, f)...)
			}

			br := tx.SendBatch(ctx, batch)
			for i := range chunk {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return fmt.Errorf("failed to insert fact %d: %w", start+i, err)
				}
				if tag.RowsAffected() == 1 {
					result.Inserted++
					continue
				}
				result.Duplicates++
				r.logDuplicate(jobID, chunk[i].Key())
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("failed to close fact batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return FactBatchResult{}, err
	}
	return result, nil
}

func (r *productionFactRepository) logDuplicate(jobID uuid.UUID, key domain.NaturalKey) {
	event := r.logger.Debug()
	if !event.Enabled() {
		return
	}
	event = event.
		Str("job_id", jobID.String()).
		Str("posting_date", key.PostingDate.Format(time.DateOnly)).
		Str("machine", key.Machine)
	if key.HasOperator {
		event = event.Str("operator", key.Operator)
	}
	if key.HasLog {
		event = event.Int64("log_number", key.LogNumber)
	}
	event.Msg("skipped duplicate production fact")
}

func factArgs(jobID uuid.UUID, f domain.ProductionFact) []any {
	var postingTime pgtype.Time
	if f.PostingTime != nil {
		postingTime = pgtype.Time{Microseconds: f.PostingTime.Microseconds(), Valid: true}
	}
	return []any{
		jobID,
		f.PostingDate,
		postingTime,
		f.NotificationDate,
		f.LogNumber,
		f.DocumentNumber,
		f.MaterialSKU,
		f.MaterialDescription,
		f.PalletNumber,
		numericArg(f.Quantity),
		numericArg(f.NetWeight),
		f.ListCode,
		f.ProductionVersion,
		f.CostCenter,
		f.Shift,
		f.WorkingDay,
		f.SAPUser,
		f.WarehouseOperator,
		f.OriginStatus,
	}
}

func numericArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
