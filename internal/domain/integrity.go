package domain

import "time"

// Health statuses reported by the uniqueness check.
const (
	HealthUp   = "UP"
	HealthDown = "DOWN"
)

// IntegritySnapshot is a point-in-time read of the fact table invariants.
type IntegritySnapshot struct {
	UniqueIndexPresent bool
	DuplicateGroups    int64
	MaxID              int64
	SequenceLastValue  int64
	ApproxRowCount     int64
	TakenAt            time.Time
}

// SequenceBehindSuspect flags a max assigned id at or beyond the generator's
// last value. An empty table is never flagged.
func (s IntegritySnapshot) SequenceBehindSuspect() bool {
	return s.MaxID > 0 && s.MaxID >= s.SequenceLastValue
}

// UniquenessHealthy is true when the natural-key index exists and no
// duplicate groups are present.
func (s IntegritySnapshot) UniquenessHealthy() bool {
	return s.UniqueIndexPresent && s.DuplicateGroups == 0
}

// HealthReport is the structure exposed on the health boundary.
type HealthReport struct {
	Status                string            `json:"status"`
	UniqueIndexPresent    bool              `json:"uniqueIndexPresent"`
	DuplicateGroups       int64             `json:"duplicateGroups"`
	SequenceBehindSuspect bool              `json:"sequenceBehindSuspect"`
	ApproxRowCount        int64             `json:"approxRowCount"`
	MaxID                 int64             `json:"maxId"`
	SequenceLastValue     int64             `json:"sequenceLastValue"`
	Details               map[string]string `json:"details,omitempty"`
	CheckedAt             time.Time         `json:"checkedAt"`
}

// JobGauges are the live job counters exposed as metrics.
type JobGauges struct {
	Active int64
	Stuck  int64
}
