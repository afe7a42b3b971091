package ingestion

import "strings"

// SplitLine splits a raw line on sep and trims every field. Trailing empty
// fields are kept, so "a|b|" yields three fields.
func SplitLine(line, sep string) []string {
	fields := strings.Split(line, sep)
	for i, field := range fields {
		fields[i] = strings.TrimSpace(field)
	}
	return fields
}

// IsFiller reports whether a line carries no record: blank, a dash rule, or
// the quantity-label row identified by noiseMarker.
func IsFiller(line, noiseMarker string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "-") {
		return true
	}
	return noiseMarker != "" && strings.Contains(trimmed, noiseMarker)
}
