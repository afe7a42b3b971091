// Package monitor watches the production fact table and the job table for
// integrity problems and publishes the results as health and gauges.
package monitor

import (
	"context"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"
	"github.com/rpattn/prodfacts/internal/repository"

	"github.com/rs/zerolog"
)

// DefaultStuckThreshold is the age after which a non-terminal job counts as
// stuck.
const DefaultStuckThreshold = 30 * time.Minute

// Monitor runs read-only integrity and staleness checks. Every check
// degrades to a neutral value on error; nothing is returned to callers.
type Monitor struct {
	jobs      repository.IngestionJobRepository
	integrity repository.IntegrityRepository
	metrics   *Metrics
	threshold time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// New builds a Monitor. A non-positive threshold falls back to
// DefaultStuckThreshold. metrics may be nil.
func New(
	jobs repository.IngestionJobRepository,
	integrity repository.IntegrityRepository,
	metrics *Metrics,
	threshold time.Duration,
	logger zerolog.Logger,
) *Monitor {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &Monitor{
		jobs:      jobs,
		integrity: integrity,
		metrics:   metrics,
		threshold: threshold,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot reads the fact table invariants.
func (m *Monitor) Snapshot(ctx context.Context) domain.IntegritySnapshot {
	snap, _ := m.snapshot(ctx)
	return snap
}

// Health reports UP iff the natural-key index exists and no duplicate groups
// are present. Sequence drift and row count are informational.
func (m *Monitor) Health(ctx context.Context) domain.HealthReport {
	snap, failures := m.snapshot(ctx)

	status := domain.HealthDown
	if snap.UniquenessHealthy() {
		status = domain.HealthUp
	}

	report := domain.HealthReport{
		Status:                status,
		UniqueIndexPresent:    snap.UniqueIndexPresent,
		DuplicateGroups:       snap.DuplicateGroups,
		SequenceBehindSuspect: snap.SequenceBehindSuspect(),
		ApproxRowCount:        snap.ApproxRowCount,
		MaxID:                 snap.MaxID,
		SequenceLastValue:     snap.SequenceLastValue,
		CheckedAt:             snap.TakenAt,
	}
	if len(failures) > 0 {
		report.Details = failures
	}
	return report
}

// JobGauges counts active and stuck jobs.
func (m *Monitor) JobGauges(ctx context.Context) domain.JobGauges {
	var gauges domain.JobGauges

	active, err := m.jobs.CountActive(ctx)
	if err != nil {
		m.degraded("active_jobs", err)
	} else {
		gauges.Active = active
	}

	stuck, err := m.jobs.CountStuck(ctx, m.now().Add(-m.threshold))
	if err != nil {
		m.degraded("stuck_jobs", err)
	} else {
		gauges.Stuck = stuck
	}

	return gauges
}

// RefreshMetrics recomputes every gauge.
func (m *Monitor) RefreshMetrics(ctx context.Context) {
	snap := m.Snapshot(ctx)
	gauges := m.JobGauges(ctx)

	if m.metrics == nil {
		return
	}
	m.metrics.ActiveJobs.Set(float64(gauges.Active))
	m.metrics.StuckJobs.Set(float64(gauges.Stuck))
	m.metrics.UniqueIndexPresent.Set(boolGauge(snap.UniqueIndexPresent))
	m.metrics.DuplicateGroups.Set(float64(snap.DuplicateGroups))
	m.metrics.SequenceDriftSuspect.Set(boolGauge(snap.SequenceBehindSuspect()))
	m.metrics.FactRowsApprox.Set(float64(snap.ApproxRowCount))
}

// Run refreshes metrics immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	m.RefreshMetrics(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("monitor stopped")
			return
		case <-ticker.C:
			m.RefreshMetrics(ctx)
		}
	}
}

func (m *Monitor) snapshot(ctx context.Context) (domain.IntegritySnapshot, map[string]string) {
	snap := domain.IntegritySnapshot{TakenAt: m.now()}
	failures := map[string]string{}

	if present, err := m.integrity.UniqueIndexPresent(ctx); err != nil {
		failures["uniqueIndex"] = err.Error()
		m.degraded("unique_index", err)
	} else {
		snap.UniqueIndexPresent = present
	}

	if groups, err := m.integrity.DuplicateGroupCount(ctx); err != nil {
		failures["duplicateGroups"] = err.Error()
		m.degraded("duplicate_groups", err)
	} else {
		snap.DuplicateGroups = groups
	}

	maxID, maxErr := m.integrity.MaxFactID(ctx)
	lastValue, seqErr := m.integrity.SequenceLastValue(ctx)
	switch {
	case maxErr != nil:
		failures["sequence"] = maxErr.Error()
		m.degraded("max_id", maxErr)
	case seqErr != nil:
		failures["sequence"] = seqErr.Error()
		m.degraded("sequence_last_value", seqErr)
	default:
		snap.MaxID = maxID
		snap.SequenceLastValue = lastValue
	}

	if rows, err := m.integrity.ApproxFactRows(ctx); err != nil {
		failures["approxRowCount"] = err.Error()
		m.degraded("approx_rows", err)
	} else {
		snap.ApproxRowCount = rows
	}

	return snap, failures
}

func (m *Monitor) degraded(check string, err error) {
	m.logger.Debug().Err(err).Str("check", check).Msg("integrity check degraded")
}
