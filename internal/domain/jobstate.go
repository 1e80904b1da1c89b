package domain

// JobStatus enumerates the lifecycle states of a backfill job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// CriticalRange is reserved for forward compatibility with the upstream
// record shape. No operation in this implementation populates it.
type CriticalRange struct {
	Range  DateRange
	Reason string
}

// JobState is the durable per-job record checkpointed to the shared
// key-value store. Cursor is an exclusive high-water-mark in epoch
// milliseconds: all data strictly before Cursor is considered durably
// persisted.
type JobState struct {
	Status         JobStatus
	JobInstanceID  string
	Cursor         int64
	EndTime        int64
	HeartbeatAt    int64
	LastErrorType  string
	CriticalRanges []CriticalRange
}

// Running reports whether the job is in a state where a heartbeat is
// expected to keep advancing.
func (s JobState) Running() bool {
	return s.Status == JobStatusRunning
}

// Terminal reports whether the job has reached a status from which a new
// worker may freely take over without waiting on heartbeat expiry.
func (s JobState) Terminal() bool {
	return s.Status == JobStatusCompleted || s.Status == JobStatusFailed
}
