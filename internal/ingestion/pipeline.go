package ingestion

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const maxLineBytes = 1 << 20

var encodings = map[string]encoding.Encoding{
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"utf-8":        unicode.UTF8,
}

// Options describes the export format.
type Options struct {
	Separator   string
	AnchorLabel string
	NoiseMarker string
	Encoding    string
}

// DefaultOptions matches the legacy production export.
func DefaultOptions() Options {
	return Options{
		Separator:   "|",
		AnchorLabel: LabelPostingDate,
		NoiseMarker: "Qty in UnE",
		Encoding:    "iso-8859-1",
	}
}

// LineWarning records a data line that did not yield a record.
type LineWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result is the outcome of one pass over an export.
type Result struct {
	Records     []domain.ProductionFact
	Warnings    []LineWarning
	HeaderFound bool
	HeaderLine  int
	LinesRead   int
	FillerLines int
}

// Parser runs the ingestion pipeline over an export stream.
type Parser struct {
	opts     Options
	encoding encoding.Encoding
	builder  RecordBuilder
	logger   zerolog.Logger
}

// NewParser validates opts and returns a parser.
func NewParser(opts Options, logger zerolog.Logger) (*Parser, error) {
	if opts.Separator == "" {
		return nil, fmt.Errorf("separator must not be empty")
	}
	if strings.TrimSpace(opts.AnchorLabel) == "" {
		return nil, fmt.Errorf("anchor label must not be empty")
	}
	enc, ok := encodings[strings.ToLower(strings.TrimSpace(opts.Encoding))]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q", opts.Encoding)
	}
	return &Parser{
		opts:     opts,
		encoding: enc,
		builder:  NewRecordBuilder(logger),
		logger:   logger,
	}, nil
}

// lineSource is satisfied by *bufio.Scanner.
type lineSource interface {
	Scan() bool
	Text() string
	Err() error
}

// Parse decodes r from the configured single-byte charset and runs every
// line through header resolution, filler skipping and record building.
// Malformed lines become warnings; a read error aborts the pass and is
// returned together with what was parsed so far.
func (p *Parser) Parse(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(transform.NewReader(r, p.encoding.NewDecoder()))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return p.run(scanner)
}

// ParseLines runs the pipeline over already decoded lines.
func (p *Parser) ParseLines(lines []string) Result {
	result, _ := p.run(&sliceSource{lines: lines, pos: -1})
	return result
}

func (p *Parser) run(src lineSource) (Result, error) {
	var result Result
	resolver := NewHeaderResolver(p.opts)

	lineNo := 0
	for src.Scan() {
		lineNo++
		line := src.Text()

		switch resolver.Classify(line, lineNo) {
		case LineIgnored:
		case LineHeader:
			result.HeaderFound = true
			result.HeaderLine = lineNo
			p.logger.Debug().
				Int("line", lineNo).
				Int("columns", len(resolver.Index())).
				Msg("header resolved")
		case LineFiller:
			result.FillerLines++
		case LineData:
			fact, err := p.builder.BuildLine(line, p.opts.Separator, resolver.Index(), lineNo)
			if err != nil {
				result.Warnings = append(result.Warnings, LineWarning{Line: lineNo, Reason: err.Error()})
				p.logger.Warn().
					Int("line", lineNo).
					Str("reason", err.Error()).
					Msg("skipping malformed line")
				continue
			}
			result.Records = append(result.Records, fact)
		}
	}
	result.LinesRead = lineNo

	if err := src.Err(); err != nil {
		return result, fmt.Errorf("read failed after line %d: %w", lineNo, err)
	}
	if !result.HeaderFound {
		p.logger.Warn().Int("lines", lineNo).Msg("no header found")
	}
	return result, nil
}

type sliceSource struct {
	lines []string
	pos   int
}

func (s *sliceSource) Scan() bool {
	s.pos++
	return s.pos < len(s.lines)
}

func (s *sliceSource) Text() string { return s.lines[s.pos] }

func (s *sliceSource) Err() error { return nil }
