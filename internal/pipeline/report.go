package pipeline

import (
	"time"

	"github.com/goccy/go-json"
)

// TableReport summarizes one table's outcome in a run
type TableReport struct {
	Datasource           string        `json:"datasource"`
	Table                string        `json:"table"`
	PartitionsPlanned    int           `json:"partitions_planned"`
	PartitionsWritten    int           `json:"partitions_written"`
	PartitionsRegistered int           `json:"partitions_registered"`
	RegistrationFailures int           `json:"registration_failures"`
	Rows                 int           `json:"rows"`
	MalformedFields      int           `json:"malformed_fields"`
	Error                string        `json:"error,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// Failed reports whether the table ended in a failure state. A
// partition that was written but not registered counts as a failure so
// the operator reruns and repairs it through the idempotent
// registration call.
func (r *TableReport) Failed() bool {
	return r.Error != "" || r.RegistrationFailures > 0
}

// RunReport aggregates all table outcomes of one run
type RunReport struct {
	RunID     string        `json:"run_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Tables    []TableReport `json:"tables"`
}

// FailedTables returns the number of tables that ended in failure
func (r *RunReport) FailedTables() int {
	n := 0
	for i := range r.Tables {
		if r.Tables[i].Failed() {
			n++
		}
	}
	return n
}

// JSON renders the report for CLI output
func (r *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
