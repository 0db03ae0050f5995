package jobs

import (
	"fmt"
	"time"
)

// Report summarizes one job run. The process exit code derives from it.
type Report struct {
	Job      string
	Started  time.Time
	Duration time.Duration

	// FailedUnits counts files or feeds that failed wholesale.
	FailedUnits int
	// FailedItems counts row or entity level failures inside otherwise
	// successful units.
	FailedItems int

	// Fields feed the run-summary notification.
	Fields map[string]string
}

func newReport(job string) *Report {
	return &Report{Job: job, Started: time.Now(), Fields: make(map[string]string)}
}

func (r *Report) finish() {
	r.Duration = time.Since(r.Started)
	r.Fields["duration"] = r.Duration.Round(time.Millisecond).String()
}

func (r *Report) setField(name string, value interface{}) {
	r.Fields[name] = fmt.Sprint(value)
}

// Clean reports whether the run had no failures at any level.
func (r *Report) Clean() bool {
	return r.FailedUnits == 0 && r.FailedItems == 0
}

// ExitCode maps the report onto the process exit code.
func (r *Report) ExitCode() int {
	if r.Clean() {
		return 0
	}
	return 1
}
