package ingestion

import "strings"

// HeaderIndex maps a trimmed header label to its zero-based column.
type HeaderIndex map[string]int

// LineKind classifies a raw export line.
type LineKind int

const (
	// LineIgnored is anything before the header row.
	LineIgnored LineKind = iota
	// LineHeader is the row that established the column mapping.
	LineHeader
	// LineFiller is a blank, dash or quantity-label row after the header.
	LineFiller
	// LineData is a candidate record row.
	LineData
)

func (k LineKind) String() string {
	switch k {
	case LineIgnored:
		return "ignored"
	case LineHeader:
		return "header"
	case LineFiller:
		return "filler"
	case LineData:
		return "data"
	default:
		return "unknown"
	}
}

// BuildHeaderIndex maps every non-empty trimmed label to its column. When a
// label repeats, the first column wins.
func BuildHeaderIndex(fields []string) HeaderIndex {
	index := make(HeaderIndex, len(fields))
	for i, field := range fields {
		label := strings.TrimSpace(field)
		if label == "" {
			continue
		}
		if _, seen := index[label]; seen {
			continue
		}
		index[label] = i
	}
	return index
}

// HeaderResolver finds the header row of an export and classifies the lines
// that follow it. Only the first line containing the anchor label becomes
// the header; later occurrences are classified as data.
type HeaderResolver struct {
	anchor      string
	separator   string
	noiseMarker string
	index       HeaderIndex
	line        int
}

// NewHeaderResolver builds a resolver from parser options.
func NewHeaderResolver(opts Options) *HeaderResolver {
	return &HeaderResolver{
		anchor:      opts.AnchorLabel,
		separator:   opts.Separator,
		noiseMarker: opts.NoiseMarker,
	}
}

// Classify inspects one line. lineNo is only recorded for the header row.
func (r *HeaderResolver) Classify(line string, lineNo int) LineKind {
	if r.index == nil {
		if !strings.Contains(line, r.anchor) {
			return LineIgnored
		}
		r.index = BuildHeaderIndex(SplitLine(line, r.separator))
		r.line = lineNo
		return LineHeader
	}
	if IsFiller(line, r.noiseMarker) {
		return LineFiller
	}
	return LineData
}

// Resolved reports whether the header row has been seen.
func (r *HeaderResolver) Resolved() bool {
	return r.index != nil
}

// Index returns the resolved mapping, nil before the header row.
func (r *HeaderResolver) Index() HeaderIndex {
	return r.index
}

// Line returns the 1-based line number of the header row, 0 if unresolved.
func (r *HeaderResolver) Line() int {
	return r.line
}
