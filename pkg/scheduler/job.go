package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind selects how a job's schedule value is interpreted.
type ScheduleKind string

const (
	// ScheduleOnce fires once at an absolute RFC 3339 timestamp.
	ScheduleOnce ScheduleKind = "once"

	// ScheduleInterval fires every N seconds, where the schedule value
	// is the integer N.
	ScheduleInterval ScheduleKind = "interval"

	// ScheduleCron fires per a standard five-field cron expression.
	ScheduleCron ScheduleKind = "cron"
)

// ParseScheduleKind converts a wire string into a ScheduleKind. The
// conversion happens once at the boundary so internal logic never
// re-inspects raw strings.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once":
		return ScheduleOnce, nil
	case "interval":
		return ScheduleInterval, nil
	case "cron":
		return ScheduleCron, nil
	default:
		return "", fmt.Errorf("unknown schedule kind %q", s)
	}
}

// Job is one scheduled unit of agent work, keyed by name.
//
// A nil NextRunAt means the job will never fire again: its schedule is
// expired or was malformed. Such jobs stay in the set for inspection
// until removed.
type Job struct {
	Name      string       `json:"name"`
	Message   string       `json:"message"`
	Kind      ScheduleKind `json:"kind"`
	Value     string       `json:"value"`
	Deliver   bool         `json:"deliver"`
	Enabled   bool         `json:"enabled"`
	NextRunAt *time.Time   `json:"next_run_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ExecutionResult records the outcome of one job firing.
type ExecutionResult struct {
	JobName    string    `json:"job_name"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Err        string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
