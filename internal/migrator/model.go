package migrator

import "time"

// Script is one versioned migration unit loaded from a Source.
type Script struct {
	ID            string // <version>_<name>, unique within a catalog
	Version       string
	Name          string
	Path          string // empty for in-memory scripts
	Content       []byte
	Checksum      string
	NoTransaction bool
}

// AppliedRecord is one journal row. It is written once, when the script
// succeeds, and never deleted.
type AppliedRecord struct {
	ID             string
	Checksum       string
	AppliedAt      time.Time
	AppliedBy      string
	DurationMS     int64
	ExecutionOrder int64
}

// State is the position of a Runner in its run.
type State int

const (
	StateIdle State = iota
	StateComputing
	StateApplying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateComputing:
		return "Computing"
	case StateApplying:
		return "Applying"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
