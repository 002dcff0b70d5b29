package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// JobID is the numeric handle the remote service assigns to a submitted document.
// The zero value is "no identifier"; callers must check Valid rather than compare to 0.
type JobID struct {
	Value int64
	Valid bool
}

func NewJobID(v int64) JobID { return JobID{Value: v, Valid: true} }

func (id JobID) String() string {
	if !id.Valid {
		return ""
	}
	return strconv.FormatInt(id.Value, 10)
}

// ParseJobID parses a stored identifier. Blank or non-numeric input yields an absent id.
func ParseJobID(s string) (JobID, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return JobID{}, false
	}
	return NewJobID(n), true
}

type JobState string

const (
	JobStateSubmitting JobState = "submitting"
	JobStateSubmitted  JobState = "submitted"
	JobStatePolling    JobState = "polling"
	JobStateResolved   JobState = "resolved"
	JobStateFailed     JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobStateResolved || s == JobStateFailed
}

// allowed lists the forward edges of the job lifecycle. The empty state is a job that has not
// been created yet; a restored job enters directly at Submitted.
var allowed = map[JobState][]JobState{
	"":                 {JobStateSubmitting, JobStateSubmitted},
	JobStateSubmitting: {JobStateSubmitted, JobStateFailed},
	JobStateSubmitted:  {JobStatePolling, JobStateFailed},
	JobStatePolling:    {JobStateResolved, JobStateFailed},
}

var ErrInvalidTransition = errors.New("invalid job state transition")

type Job struct {
	ID        JobID     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	State     JobState  `json:"state"`
}

// NewRestoredJob builds a job for an identifier read back from the store.
func NewRestoredJob(id JobID, createdAt time.Time) Job {
	return Job{ID: id, CreatedAt: createdAt, State: JobStateSubmitted}
}

// Advance moves the job to the next state. Terminal states never change.
func (j *Job) Advance(to JobState) error {
	for _, next := range allowed[j.State] {
		if next == to {
			j.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, j.State, to)
}
