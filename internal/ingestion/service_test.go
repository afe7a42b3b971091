package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"
	"github.com/rpattn/prodfacts/internal/jobs"
	"github.com/rpattn/prodfacts/internal/monitor"
	"github.com/rpattn/prodfacts/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.IngestionJob
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: map[uuid.UUID]domain.IngestionJob{}}
}

func (s *stubJobRepo) CreateIfNoneActive(_ context.Context, job domain.IngestionJob) (domain.IngestionJob, error) {
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

func (s *stubJobRepo) Update(_ context.Context, expected domain.JobStatus, job domain.IngestionJob) (domain.IngestionJob, error) {
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

func (s *stubJobRepo) GetByID(_ context.Context, id uuid.UUID) (domain.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.IngestionJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *stubJobRepo) List(context.Context, int, int) ([]domain.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IngestionJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *stubJobRepo) CountActive(context.Context) (int64, error) { return 0, nil }

func (s *stubJobRepo) CountStuck(context.Context, time.Time) (int64, error) { return 0, nil }

type stubFactRepo struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	keys     map[domain.NaturalKey]bool
	inserted []domain.ProductionFact
}

func newStubFactRepo() *stubFactRepo {
	return &stubFactRepo{keys: map[domain.NaturalKey]bool{}}
}

func (s *stubFactRepo) InsertBatch(_ context.Context, _ uuid.UUID, facts []domain.ProductionFact) (repository.FactBatchResult, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return repository.FactBatchResult{}, s.err
	}
	var res repository.FactBatchResult
	for _, f := range facts {
		if s.keys[f.Key()] {
			res.Duplicates++
			continue
		}
		s.keys[f.Key()] = true
		s.inserted = append(s.inserted, f)
		res.Inserted++
	}
	return res, nil
}

type stubLogRepo struct {
	mu      sync.Mutex
	entries []domain.IngestionLogEntry
}

func (s *stubLogRepo) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) List(_ context.Context, jobID uuid.UUID, _ int, _ int) ([]domain.IngestionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.IngestionLogEntry
	for _, e := range s.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

type serviceFixture struct {
	service *Service
	jobs    *stubJobRepo
	facts   *stubFactRepo
	logs    *stubLogRepo
	metrics *monitor.Metrics
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	f := serviceFixture{
		jobs:    newStubJobRepo(),
		facts:   newStubFactRepo(),
		logs:    &stubLogRepo{},
		metrics: monitor.NewMetrics(prometheus.NewRegistry()),
	}
	machine := jobs.NewMachine(f.jobs, zerolog.Nop())
	f.service = NewService(newTestParser(t), machine, f.facts, f.logs, f.metrics, zerolog.Nop())
	return f
}

func TestServiceIngestCompletesWithPostingRange(t *testing.T) {
	f := newServiceFixture(t)

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	job := summary.Job
	if job.Status != domain.JobCompleted || job.CompletedAt == nil {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if summary.Records != 3 || summary.Inserted != 3 || len(summary.Warnings) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if job.MinPostingDate == nil || job.MinPostingDate.Format("02.01.2006") != "04.03.2024" {
		t.Fatalf("unexpected min posting date %v", job.MinPostingDate)
	}
	if job.MaxPostingDate == nil || job.MaxPostingDate.Format("02.01.2006") != "06.03.2024" {
		t.Fatalf("unexpected max posting date %v", job.MaxPostingDate)
	}

	if len(f.logs.entries) != 1 || f.logs.entries[0].RowNumber == nil || *f.logs.entries[0].RowNumber != 12 {
		t.Fatalf("expected one log entry for line 12, got %+v", f.logs.entries)
	}
	if got := testutil.ToFloat64(f.metrics.LinesRejected); got != 1 {
		t.Fatalf("lines rejected counter = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.JobsFinished.WithLabelValues("COMPLETED")); got != 1 {
		t.Fatalf("completed jobs counter = %v", got)
	}
}

func TestServiceIngestReplayCountsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.service.Ingest(ctx, Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)}); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	summary, err := f.service.Ingest(ctx, Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if summary.Inserted != 0 || summary.Duplicates != 3 {
		t.Fatalf("expected all records to be duplicates, got %+v", summary)
	}
	if len(f.facts.inserted) != 3 {
		t.Fatalf("expected 3 stored facts, got %d", len(f.facts.inserted))
	}
}

func TestServiceIngestWithoutHeaderCompletesEmpty(t *testing.T) {
	f := newServiceFixture(t)

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "empty.txt", Data: strings.NewReader("just a title\n|a|b|\n")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if summary.HeaderFound || summary.Records != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Job.Status != domain.JobCompleted || summary.Job.Details != detailNoHeader {
		t.Fatalf("expected completed job with no-header detail, got %+v", summary.Job)
	}
	if summary.Job.MinPostingDate != nil || summary.Job.MaxPostingDate != nil {
		t.Fatalf("empty ingestion must not carry posting dates")
	}
}

func TestServiceIngestReadFailureFailsJob(t *testing.T) {
	f := newServiceFixture(t)
	input := "|Posting Date|Log Number|\n|05.03.2024|1|\n"

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "broken.txt", Data: &failingReader{data: strings.NewReader(input)}})
	if err == nil {
		t.Fatalf("expected read error")
	}
	if summary.Job.Status != domain.JobFailed {
		t.Fatalf("expected failed job, got %s", summary.Job.Status)
	}
	if !strings.HasPrefix(summary.Job.Details, "read failed") {
		t.Fatalf("unexpected failure detail %q", summary.Job.Details)
	}
	if len(f.facts.inserted) != 0 {
		t.Fatalf("no facts should be persisted after a read failure")
	}
}

func TestServiceIngestReadFailureKeepsEarlierWarnings(t *testing.T) {
	f := newServiceFixture(t)
	input := "|Posting Date|Log Number|\n|bad|1|\n|05.03.2024|2|\n"

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "broken.txt", Data: &failingReader{data: strings.NewReader(input)}})
	if err == nil {
		t.Fatalf("expected read error")
	}
	if summary.Job.Status != domain.JobFailed {
		t.Fatalf("expected failed job, got %s", summary.Job.Status)
	}

	logs, err := f.service.Logs(context.Background(), summary.Job.ID.String(), 10, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	var lineEntry, failureEntry bool
	for _, e := range logs {
		if e.RowNumber != nil && *e.RowNumber == 2 {
			lineEntry = true
		}
		if e.RowNumber == nil && strings.HasPrefix(e.ErrorMessage, "read failed") {
			failureEntry = true
		}
	}
	if !lineEntry || !failureEntry {
		t.Fatalf("expected line 2 warning and read failure in logs, got %+v", logs)
	}
}

type closeTracker struct {
	io.Reader
	mu     sync.Mutex
	closed int
}

func (c *closeTracker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closeTracker) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestServiceReleasesRequestData(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ingested := &closeTracker{Reader: strings.NewReader(sampleExport)}
	if _, err := f.service.Ingest(ctx, Request{FileName: "a.txt", Data: ingested}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ingested.closeCount() != 1 {
		t.Fatalf("Ingest should close its data once, got %d", ingested.closeCount())
	}

	f.facts.gate = make(chan struct{})
	submitted := &closeTracker{Reader: strings.NewReader(sampleExport)}
	if _, err := f.service.Submit(ctx, Request{FileName: "b.txt", Data: submitted}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rejected := &closeTracker{Reader: strings.NewReader(sampleExport)}
	if _, err := f.service.Submit(ctx, Request{FileName: "b.txt", Data: rejected}); !errors.Is(err, domain.ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if rejected.closeCount() != 1 {
		t.Fatalf("rejected submission should close its data, got %d", rejected.closeCount())
	}
	if submitted.closeCount() != 0 {
		t.Fatalf("data must stay open while the job runs")
	}

	close(f.facts.gate)
	f.service.Wait()
	if submitted.closeCount() != 1 {
		t.Fatalf("background run should close its data once, got %d", submitted.closeCount())
	}
}

func TestSpoolUploadRemovesFileOnClose(t *testing.T) {
	upload, err := spoolUpload(strings.NewReader(sampleExport))
	if err != nil {
		t.Fatalf("spoolUpload: %v", err)
	}
	name := upload.Name()

	data, err := io.ReadAll(upload)
	if err != nil {
		t.Fatalf("read spooled upload: %v", err)
	}
	if string(data) != sampleExport {
		t.Fatalf("spooled content differs from upload")
	}

	if err := upload.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(name); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temp file to be removed, stat err = %v", err)
	}
}

func TestServiceIngestPersistenceFailureLeavesDatesNull(t *testing.T) {
	f := newServiceFixture(t)
	f.facts.err = errors.New("connection lost")

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	job := summary.Job
	if job.Status != domain.JobFailed || job.CompletedAt == nil {
		t.Fatalf("expected failed terminal job, got %+v", job)
	}
	if job.MinPostingDate != nil || job.MaxPostingDate != nil {
		t.Fatalf("failed job must not carry posting dates: %+v", job)
	}
	if got := testutil.ToFloat64(f.metrics.JobsFinished.WithLabelValues("FAILED")); got != 1 {
		t.Fatalf("failed jobs counter = %v", got)
	}
}

func TestServiceSubmitRejectsConcurrentSameSource(t *testing.T) {
	f := newServiceFixture(t)
	f.facts.gate = make(chan struct{})
	ctx := context.Background()

	job, err := f.service.Submit(ctx, Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobInitiated {
		t.Fatalf("expected INITIATED job from Submit, got %s", job.Status)
	}

	if _, err := f.service.Submit(ctx, Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)}); !errors.Is(err, domain.ErrJobConflict) {
		t.Fatalf("expected conflict while first job is active, got %v", err)
	}

	close(f.facts.gate)
	f.service.Wait()

	stored, err := f.service.Job(ctx, job.ID.String())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if stored.Status != domain.JobCompleted {
		t.Fatalf("expected background job to complete, got %s", stored.Status)
	}
}

func TestServiceSubmitSurvivesCancelledRequest(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	job, err := f.service.Submit(ctx, Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	f.service.Wait()

	stored, _ := f.service.Job(context.Background(), job.ID.String())
	if stored.Status != domain.JobCompleted {
		t.Fatalf("expected completion despite cancelled request, got %s", stored.Status)
	}
}

func TestServiceIngestSpreadsheet(t *testing.T) {
	f := newServiceFixture(t)

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]any{
		{"Production list"},
		{"Posting Date", "Log Number", "Cost Center", "Quantity"},
		{"01.02.2024", "77", "CC-1", "2,5"},
		{"bad", "78", "CC-1", "1"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "export.XLSX", Data: &buf})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if summary.Records != 1 || len(summary.Warnings) != 1 {
		t.Fatalf("unexpected spreadsheet summary: %+v", summary)
	}
}

func TestServiceLogsUnknownJob(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.service.Logs(context.Background(), uuid.NewString(), 10, 0); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/ingestions", h.Routes)
	return r
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHTTPSubmitAcceptedThenConflict(t *testing.T) {
	f := newServiceFixture(t)
	f.facts.gate = make(chan struct{})
	router := newTestRouter(NewHTTPHandler(f.service, 1<<20, zerolog.Nop()))

	body, contentType := multipartUpload(t, "export.txt", sampleExport)
	req := httptest.NewRequest(http.MethodPost, "/api/ingestions/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	body, contentType = multipartUpload(t, "export.txt", sampleExport)
	req = httptest.NewRequest(http.MethodPost, "/api/ingestions/", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	close(f.facts.gate)
	f.service.Wait()
}

func TestHTTPSubmitRequiresFile(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(NewHTTPHandler(f.service, 1<<20, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodPost, "/api/ingestions/", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHTTPGetJobAndLogs(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(NewHTTPHandler(f.service, 1<<20, zerolog.Nop()))

	summary, err := f.service.Ingest(context.Background(), Request{FileName: "export.txt", Data: strings.NewReader(sampleExport)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	id := summary.Job.ID.String()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ingestions/"+id, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"COMPLETED"`) {
		t.Fatalf("unexpected job response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ingestions/"+id+"/logs", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"row_number":12`) {
		t.Fatalf("unexpected logs response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ingestions/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}
