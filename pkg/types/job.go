package types

// JobStatus is the lifecycle state of a transcription job. Transitions are
// monotonic: pending -> running -> one terminal state, never backwards.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobRunning        JobStatus = "running"
	JobSuccess        JobStatus = "success"
	JobPartialSuccess JobStatus = "partial_success"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobPartialSuccess, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobOptions selects the optional pipeline stages for a job.
type JobOptions struct {
	// Force a specific language instead of auto-detection.
	// example: en
	Language string `json:"language,omitempty" example:"en"`
	// Run word-level alignment after transcription.
	// example: true
	Align bool `json:"align" example:"true"`
	// Run speaker diarization; requires a configured credential token.
	// example: false
	Diarize bool `json:"diarize" example:"false"`
}
