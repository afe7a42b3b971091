package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.IngestionJob
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: map[uuid.UUID]domain.IngestionJob{}}
}

func (s *memoryJobStore) CreateIfNoneActive(_ context.Context, job domain.IngestionJob) (domain.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.SourceFile == job.SourceFile && !existing.Status.IsTerminal() {
			return domain.IngestionJob{}, domain.ErrJobConflict
		}
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memoryJobStore) Update(_ context.Context, expected domain.JobStatus, job domain.IngestionJob) (domain.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return domain.IngestionJob{}, domain.ErrJobNotFound
	}
	if current.Status != expected {
		return domain.IngestionJob{}, domain.ErrStaleTransition
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memoryJobStore) GetByID(_ context.Context, id uuid.UUID) (domain.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.IngestionJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *memoryJobStore) List(context.Context, int, int) ([]domain.IngestionJob, error) {
	return nil, nil
}

func (s *memoryJobStore) CountActive(context.Context) (int64, error) { return 0, nil }

func (s *memoryJobStore) CountStuck(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestMachine(store *memoryJobStore) *Machine {
	m := NewMachine(store, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC) }
	return m
}

func TestMachineHappyPath(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	job, err := m.Start(ctx, "export.txt")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job, err = m.BeginProcessing(ctx, job); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	if job, err = m.BeginSynchronizing(ctx, job, "parsed"); err != nil {
		t.Fatalf("BeginSynchronizing: %v", err)
	}

	facts := []domain.ProductionFact{
		{PostingDate: time.Date(2024, time.April, 3, 0, 0, 0, 0, time.UTC)},
		{PostingDate: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)},
	}
	job, err = m.Complete(ctx, job, facts, "2 records")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if job.Status != domain.JobCompleted || job.CompletedAt == nil {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if job.MinPostingDate == nil || job.MinPostingDate.Day() != 1 || job.MaxPostingDate.Day() != 3 {
		t.Fatalf("unexpected posting range: %v - %v", job.MinPostingDate, job.MaxPostingDate)
	}

	loaded, err := m.Get(ctx, job.ID.String())
	if err != nil || loaded.Status != domain.JobCompleted {
		t.Fatalf("Get = %+v, %v", loaded, err)
	}
}

func TestMachineRejectsSecondActiveJobForSource(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	first, err := m.Start(ctx, "export.txt")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(ctx, "export.txt"); !errors.Is(err, domain.ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := m.Start(ctx, "other.txt"); err != nil {
		t.Fatalf("other source should be admitted: %v", err)
	}

	if _, err := m.Fail(ctx, first, "aborted"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := m.Start(ctx, "export.txt"); err != nil {
		t.Fatalf("expected admission after failure, got %v", err)
	}
}

func TestMachineConcurrentStartAdmitsOne(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(ctx, "shared.txt"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
	if len(m.locks) != 0 {
		t.Fatalf("expected source locks to be released, got %d", len(m.locks))
	}
}

func TestMachineFailLeavesDatesNull(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	job, _ := m.Start(ctx, "export.txt")
	job, _ = m.BeginProcessing(ctx, job)
	job, _ = m.BeginSynchronizing(ctx, job, "")

	failed, err := m.Fail(ctx, job, "insert failed")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.MinPostingDate != nil || failed.MaxPostingDate != nil {
		t.Fatalf("failed job must not carry posting dates: %+v", failed)
	}
	if failed.Details != "insert failed" {
		t.Fatalf("expected failure detail, got %q", failed.Details)
	}
}

func TestMachineRejectsTransitionFromTerminal(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	job, _ := m.Start(ctx, "export.txt")
	failed, _ := m.Fail(ctx, job, "x")

	_, err := m.BeginProcessing(ctx, failed)
	var te *domain.TransitionError
	if !errors.As(err, &te) || te.Code != domain.CodeJobTerminal {
		t.Fatalf("expected terminal transition error, got %v", err)
	}
}

func TestMachineStaleWriterLoses(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(newMemoryJobStore())

	job, _ := m.Start(ctx, "export.txt")
	if _, err := m.BeginProcessing(ctx, job); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	if _, err := m.Fail(ctx, job, "late"); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
}

func TestMachineGetUnknownID(t *testing.T) {
	m := newTestMachine(newMemoryJobStore())
	if _, err := m.Get(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
