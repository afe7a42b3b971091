package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rpattn/prodfacts/internal/domain"
	"github.com/rpattn/prodfacts/internal/jobs"
	"github.com/rpattn/prodfacts/internal/monitor"
	"github.com/rpattn/prodfacts/internal/repository"

	"github.com/rs/zerolog"
)

const detailNoHeader = "no header found"

// Service ingests production exports and tracks each run as a job.
type Service struct {
	parser  *Parser
	jobs    *jobs.Machine
	facts   repository.ProductionFactRepository
	logRepo repository.IngestionLogRepository
	metrics *monitor.Metrics
	logger  zerolog.Logger

	inflight sync.WaitGroup
}

// NewService creates a new ingestion service. metrics may be nil.
func NewService(
	parser *Parser,
	machine *jobs.Machine,
	facts repository.ProductionFactRepository,
	logRepo repository.IngestionLogRepository,
	metrics *monitor.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		parser:  parser,
		jobs:    machine,
		facts:   facts,
		logRepo: logRepo,
		metrics: metrics,
		logger:  logger,
	}
}

// Request describes the ingestion input. Data is closed once the service is
// done with it when it implements io.Closer.
type Request struct {
	FileName string
	Data     io.Reader
}

// Summary returns ingestion level metrics.
type Summary struct {
	Job         domain.IngestionJob `json:"job"`
	HeaderFound bool                `json:"headerFound"`
	Records     int                 `json:"records"`
	Inserted    int                 `json:"inserted"`
	Duplicates  int                 `json:"duplicates"`
	Warnings    []LineWarning       `json:"warnings"`
}

// Ingest admits a job for req.FileName and processes it to a terminal state
// before returning. A conflict with an active job returns
// domain.ErrJobConflict and creates nothing.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	defer s.release(req)

	job, err := s.jobs.Start(ctx, req.FileName)
	if err != nil {
		return Summary{}, err
	}
	return s.process(ctx, job, req)
}

// Submit admits a job synchronously and processes it in the background. The
// returned job is INITIATED. Processing is not cancelled with ctx.
func (s *Service) Submit(ctx context.Context, req Request) (domain.IngestionJob, error) {
	job, err := s.jobs.Start(ctx, req.FileName)
	if err != nil {
		s.release(req)
		return domain.IngestionJob{}, err
	}

	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.release(req)
		if _, err := s.process(bg, job, req); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", job.ID.String()).
				Str("source_file", req.FileName).
				Msg("background ingestion failed")
		}
	}()
	return job, nil
}

// Wait blocks until every submitted ingestion has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Job returns the job with the given id.
func (s *Service) Job(ctx context.Context, id string) (domain.IngestionJob, error) {
	return s.jobs.Get(ctx, id)
}

// Jobs lists jobs newest first.
func (s *Service) Jobs(ctx context.Context, limit int, offset int) ([]domain.IngestionJob, error) {
	return s.jobs.List(ctx, limit, offset)
}

// Logs returns the rejected-line log of a job.
func (s *Service) Logs(ctx context.Context, id string, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.logRepo.List(ctx, job.ID, limit, offset)
}

func (s *Service) process(ctx context.Context, job domain.IngestionJob, req Request) (Summary, error) {
	summary := Summary{Job: job}

	job, err := s.jobs.BeginProcessing(ctx, job)
	if err != nil {
		return summary, s.abort(ctx, job, "start processing failed", err)
	}
	summary.Job = job

	result, err := s.parse(req)
	summary.HeaderFound = result.HeaderFound
	summary.Records = len(result.Records)
	summary.Warnings = result.Warnings
	s.recordWarnings(ctx, job, req.FileName, result)
	if err != nil {
		failed := s.fail(ctx, job, fmt.Sprintf("read failed: %v", err))
		summary.Job = failed
		return summary, fmt.Errorf("ingest %s: %w", req.FileName, err)
	}

	job, err = s.jobs.BeginSynchronizing(ctx, job, fmt.Sprintf("parsed %d records, rejected %d lines", len(result.Records), len(result.Warnings)))
	if err != nil {
		return summary, s.abort(ctx, job, "start synchronizing failed", err)
	}
	summary.Job = job

	if !result.HeaderFound {
		s.recordLog(ctx, domain.IngestionLogEntry{JobID: job.ID, FileName: req.FileName, ErrorMessage: detailNoHeader})
		completed, err := s.jobs.Complete(ctx, job, nil, detailNoHeader)
		if err != nil {
			return summary, s.abort(ctx, job, "complete failed", err)
		}
		s.finished(completed)
		summary.Job = completed
		return summary, nil
	}

	batch, err := s.facts.InsertBatch(ctx, job.ID, result.Records)
	if err != nil {
		// The batch is a single transaction, so nothing was committed.
		failed := s.fail(ctx, job, fmt.Sprintf("persist failed: %v", err))
		summary.Job = failed
		return summary, fmt.Errorf("ingest %s: %w", req.FileName, err)
	}
	summary.Inserted = batch.Inserted
	summary.Duplicates = batch.Duplicates
	if s.metrics != nil {
		s.metrics.RecordsAccepted.WithLabelValues("inserted").Add(float64(batch.Inserted))
		s.metrics.RecordsAccepted.WithLabelValues("duplicate").Add(float64(batch.Duplicates))
	}

	detail := fmt.Sprintf(
		"accepted %d records (%d inserted, %d duplicates), rejected %d lines",
		len(result.Records), batch.Inserted, batch.Duplicates, len(result.Warnings),
	)
	completed, err := s.jobs.Complete(ctx, job, result.Records, detail)
	if err != nil {
		return summary, s.abort(ctx, job, "complete failed", err)
	}
	s.finished(completed)
	summary.Job = completed

	s.logger.Info().
		Str("job_id", completed.ID.String()).
		Str("source_file", req.FileName).
		Int("records", len(result.Records)).
		Int("inserted", batch.Inserted).
		Int("duplicates", batch.Duplicates).
		Int("warnings", len(result.Warnings)).
		Msg("ingestion completed")
	return summary, nil
}

func (s *Service) parse(req Request) (Result, error) {
	if req.Data == nil {
		return Result{}, errors.New("no data")
	}
	if isSpreadsheet(req.FileName) {
		payload, err := io.ReadAll(req.Data)
		if err != nil {
			return Result{}, err
		}
		return s.parser.ParseSpreadsheet(payload)
	}
	return s.parser.Parse(req.Data)
}

func (s *Service) release(req Request) {
	closer, ok := req.Data.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		s.logger.Warn().Err(err).Str("source_file", req.FileName).Msg("failed to release upload")
	}
}

func (s *Service) recordWarnings(ctx context.Context, job domain.IngestionJob, fileName string, result Result) {
	if s.metrics != nil {
		s.metrics.LinesRejected.Add(float64(len(result.Warnings)))
	}
	for _, w := range result.Warnings {
		row := w.Line
		s.recordLog(ctx, domain.IngestionLogEntry{
			JobID:        job.ID,
			FileName:     fileName,
			RowNumber:    &row,
			ErrorMessage: w.Reason,
		})
	}
}

func (s *Service) recordLog(ctx context.Context, entry domain.IngestionLogEntry) {
	if s.logRepo == nil {
		return
	}
	if err := s.logRepo.Record(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("job_id", entry.JobID.String()).Msg("failed to record ingestion log")
	}
}

// abort fails job after an unexpected transition error and returns cause.
func (s *Service) abort(ctx context.Context, job domain.IngestionJob, what string, cause error) error {
	var te *domain.TransitionError
	if !errors.As(cause, &te) && !job.Status.IsTerminal() {
		s.fail(ctx, job, fmt.Sprintf("%s: %v", what, cause))
	}
	return fmt.Errorf("%s: %w", what, cause)
}

func (s *Service) fail(ctx context.Context, job domain.IngestionJob, detail string) domain.IngestionJob {
	s.recordLog(ctx, domain.IngestionLogEntry{JobID: job.ID, FileName: job.SourceFile, ErrorMessage: detail})

	failed, err := s.jobs.Fail(ctx, job, detail)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job as failed")
		return job
	}
	s.finished(failed)
	return failed
}

func (s *Service) finished(job domain.IngestionJob) {
	if s.metrics != nil {
		s.metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	}
}
