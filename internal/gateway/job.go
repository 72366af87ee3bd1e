package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// JobFunc performs the work of a job and returns its reply text.
type JobFunc func(ctx context.Context) (string, error)

// Job is one queued unit of work against a conversation key.
type Job struct {
	ID        string
	Key       string
	Fn        JobFunc
	Status    JobStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Output    string
	Err       error
	// OnComplete, if set, is called on the lane goroutine after the job ends.
	OnComplete func(*Job)
}

// NewJob creates a queued Job for key.
func NewJob(key string, fn JobFunc) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Key:       key,
		Fn:        fn,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}

func (j *Job) start() {
	now := time.Now()
	j.StartedAt = &now
	j.Status = JobRunning
}

func (j *Job) finish(out string, err error) {
	now := time.Now()
	j.EndedAt = &now
	j.Output, j.Err = out, err
	if err != nil {
		j.Status = JobFailed
	} else {
		j.Status = JobComplete
	}
}
