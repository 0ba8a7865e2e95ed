// Package publish implements the durable publish queue: a local SQLite job
// table drained by a worker loop that uploads finished artifacts to the
// remote store with retry, backoff, dead-lettering and cancellation.
//
// Each job moves through Pending -> InFlight -> {Succeeded | Pending | Failed}.
// Succeeded and Cancelled jobs leave the job table and are remembered only as
// receipts, so the same tempId can never be published twice.
package publish

import (
	"errors"
	"time"

	"github.com/fpang/confession-pipeline/internal/compose"
)

// Status is the state of a publish job.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusInFlight  Status = "InFlight"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether no further attempt will be made.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ErrNotFound is returned when a tempId is unknown to the queue.
var ErrNotFound = errors.New("publish job not found")

// ErrWorkerRunning means another worker already holds the queue database.
var ErrWorkerRunning = errors.New("another publish worker is running on this queue")

// Job is one durable publish request.
type Job struct {
	TempID          string
	UserID          string
	Result          compose.ProcessingResult
	CreatedAt       time.Time
	AttemptCount    int
	NextRetryAt     time.Time
	Status          Status
	CancelRequested bool
	LastError       string
}

// Receipt records how a job that left the job table ended.
type Receipt struct {
	TempID       string
	Status       Status
	AttemptCount int
	FinishedAt   time.Time
	LastError    string
}

// Report is the answer to a status query.
type Report struct {
	TempID          string    `json:"tempId"`
	Status          Status    `json:"status"`
	AttemptCount    int       `json:"attemptCount"`
	NextRetryAt     time.Time `json:"nextRetryAt,omitzero"`
	CancelRequested bool      `json:"cancelRequested,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

func reportFromJob(j *Job) Report {
	return Report{
		TempID:          j.TempID,
		Status:          j.Status,
		AttemptCount:    j.AttemptCount,
		NextRetryAt:     j.NextRetryAt,
		CancelRequested: j.CancelRequested,
		LastError:       j.LastError,
	}
}

func reportFromReceipt(r *Receipt) Report {
	return Report{
		TempID:       r.TempID,
		Status:       r.Status,
		AttemptCount: r.AttemptCount,
		LastError:    r.LastError,
	}
}
