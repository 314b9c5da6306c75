package relate

import "time"

// Run event statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunEvent is published on the relate completion topic after every rebuild
// attempt. Completed events carry the activated run's identifiers and
// counters; failed events carry the error and leave the run fields zero, the
// previous run stays active. Downstream consumers use the stream to refresh
// dashboards and to know which fingerprint is current.
type RunEvent struct {
	Status      string    `json:"status"`
	RunID       string    `json:"run_id,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Entries     int       `json:"entries"`
	PairsScored int64     `json:"pairs_scored"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
