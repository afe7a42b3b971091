package repository

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLogDuplicateReportsNaturalKey(t *testing.T) {
	var logs bytes.Buffer
	repo := &productionFactRepository{logger: zerolog.New(&logs).Level(zerolog.DebugLevel)}

	machine := "CC-7"
	fact := domain.ProductionFact{
		PostingDate: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		CostCenter:  &machine,
	}
	repo.logDuplicate(uuid.New(), fact.Key())

	out := logs.String()
	if !strings.Contains(out, `"posting_date":"2024-03-05","machine":"CC-7"`) {
		t.Fatalf("expected natural key fields, got %s", out)
	}
	if strings.Contains(out, "operator") || strings.Contains(out, "log_number") {
		t.Fatalf("null key parts must be omitted, got %s", out)
	}
}

func TestLogDuplicateSilentAboveDebug(t *testing.T) {
	var logs bytes.Buffer
	repo := &productionFactRepository{logger: zerolog.New(&logs).Level(zerolog.InfoLevel)}

	repo.logDuplicate(uuid.New(), domain.ProductionFact{}.Key())
	if logs.Len() != 0 {
		t.Fatalf("expected no output at info level, got %s", logs.String())
	}
}
