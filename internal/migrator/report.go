package migrator

import "time"

// Report is the immutable outcome of one Run.
type Report struct {
	runID     string
	state     State
	applied   []string
	pending   []string
	err       *Error
	dryRun    bool
	startedAt time.Time
	duration  time.Duration
}

func (r *Report) RunID() string { return r.runID }

// Successful is true only when every pending script was applied, including
// the case where nothing was pending.
func (r *Report) Successful() bool { return r.err == nil && r.state == StateSucceeded }

// AppliedIDs lists the scripts applied by this run, in the order they ran.
func (r *Report) AppliedIDs() []string { return append([]string(nil), r.applied...) }

// Pending lists the scripts that were pending when the run started.
func (r *Report) Pending() []string { return append([]string(nil), r.pending...) }

// Err is nil for a successful run.
func (r *Report) Err() *Error { return r.err }

func (r *Report) State() State            { return r.state }
func (r *Report) DryRun() bool            { return r.dryRun }
func (r *Report) StartedAt() time.Time    { return r.startedAt }
func (r *Report) Duration() time.Duration { return r.duration }
