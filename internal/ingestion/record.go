package ingestion

import (
	"errors"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/rs/zerolog"
)

// ErrMissingPostingDate rejects a line whose posting date is absent or
// could not be parsed.
var ErrMissingPostingDate = errors.New("posting date missing or unparseable")

// RecordBuilder turns split export fields into a ProductionFact.
type RecordBuilder struct {
	logger zerolog.Logger
}

// NewRecordBuilder creates a builder that reports field failures on logger.
func NewRecordBuilder(logger zerolog.Logger) RecordBuilder {
	return RecordBuilder{logger: logger}
}

// Build applies every known column coercion to fields. A failing column is
// logged at trace level and left unset; the record is only rejected when the
// posting date ends up unset.
func (b RecordBuilder) Build(fields []string, header HeaderIndex, lineNo int) (domain.ProductionFact, error) {
	var draft recordDraft

	for _, c := range coercions {
		col, ok := header[c.label]
		if !ok || col >= len(fields) {
			continue
		}
		raw := fields[col]
		if raw == "" || isNaN(raw) {
			continue
		}
		if err := c.coerce(raw, &draft); err != nil {
			b.logger.Trace().
				Int("line", lineNo).
				Str("field", c.label).
				Str("value", raw).
				Err(err).
				Msg("field coercion failed")
		}
	}

	if !draft.hasPostingDate {
		return domain.ProductionFact{}, ErrMissingPostingDate
	}
	return draft.fact, nil
}

// BuildLine splits a raw line and builds a record from it.
func (b RecordBuilder) BuildLine(line, sep string, header HeaderIndex, lineNo int) (domain.ProductionFact, error) {
	return b.Build(SplitLine(line, sep), header, lineNo)
}
