// Package jobs drives ingestion jobs through their lifecycle and persists
// every transition.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"
	"github.com/rpattn/prodfacts/internal/repository"

	"github.com/rs/zerolog"
)

// Machine owns job admission and transitions. The store enforces one active
// job per source across processes; the keyed lock serializes admission
// inside this process so callers get a clean conflict instead of a race.
type Machine struct {
	store  repository.IngestionJobRepository
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sourceLock
}

type sourceLock struct {
	mu   sync.Mutex
	refs int
}

// NewMachine wires a Machine to its store.
func NewMachine(store repository.IngestionJobRepository, logger zerolog.Logger) *Machine {
	return &Machine{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sourceLock),
	}
}

// Start admits a new INITIATED job for sourceFile. It returns
// domain.ErrJobConflict when the source already has an active job.
func (m *Machine) Start(ctx context.Context, sourceFile string) (domain.IngestionJob, error) {
	unlock := m.lock(sourceFile)
	defer unlock()

	job, err := m.store.CreateIfNoneActive(ctx, domain.NewIngestionJob(sourceFile, m.now()))
	if err != nil {
		return domain.IngestionJob{}, err
	}

	m.logger.Info().
		Str("job_id", job.ID.String()).
		Str("source_file", sourceFile).
		Msg("ingestion job initiated")
	return job, nil
}

// BeginProcessing moves job to PROCESSING.
func (m *Machine) BeginProcessing(ctx context.Context, job domain.IngestionJob) (domain.IngestionJob, error) {
	return m.advance(ctx, job, domain.JobProcessing, "")
}

// BeginSynchronizing moves job to SYNCHRONIZING once parsing is done.
func (m *Machine) BeginSynchronizing(ctx context.Context, job domain.IngestionJob, detail string) (domain.IngestionJob, error) {
	return m.advance(ctx, job, domain.JobSynchronizing, detail)
}

// Complete finishes job and records the posting date range of facts.
func (m *Machine) Complete(ctx context.Context, job domain.IngestionJob, facts []domain.ProductionFact, detail string) (domain.IngestionJob, error) {
	next, err := job.Complete(domain.PostingDateRange(facts), detail, m.now())
	if err != nil {
		return job, err
	}
	return m.persist(ctx, job, next)
}

// Fail moves job to FAILED. Posting dates are never set on failure.
func (m *Machine) Fail(ctx context.Context, job domain.IngestionJob, detail string) (domain.IngestionJob, error) {
	next, err := job.Fail(detail, m.now())
	if err != nil {
		return job, err
	}
	return m.persist(ctx, job, next)
}

// Get loads a job by id.
func (m *Machine) Get(ctx context.Context, id string) (domain.IngestionJob, error) {
	parsed, err := parseJobID(id)
	if err != nil {
		return domain.IngestionJob{}, err
	}
	return m.store.GetByID(ctx, parsed)
}

// List returns jobs newest first.
func (m *Machine) List(ctx context.Context, limit int, offset int) ([]domain.IngestionJob, error) {
	return m.store.List(ctx, limit, offset)
}

func (m *Machine) advance(ctx context.Context, job domain.IngestionJob, target domain.JobStatus, detail string) (domain.IngestionJob, error) {
	next, err := job.Transition(target, detail, m.now())
	if err != nil {
		return job, err
	}
	return m.persist(ctx, job, next)
}

func (m *Machine) persist(ctx context.Context, from, to domain.IngestionJob) (domain.IngestionJob, error) {
	stored, err := m.store.Update(ctx, from.Status, to)
	if err != nil {
		return from, fmt.Errorf("persist %s -> %s: %w", from.Status, to.Status, err)
	}

	event := m.logger.Debug()
	if stored.Status.IsTerminal() {
		event = m.logger.Info()
		if stored.Status == domain.JobFailed {
			event = m.logger.Warn()
		}
	}
	event.
		Str("job_id", stored.ID.String()).
		Str("from", string(from.Status)).
		Str("to", string(stored.Status)).
		Str("details", stored.Details).
		Msg("ingestion job transition")
	return stored, nil
}

func (m *Machine) lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sourceLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
