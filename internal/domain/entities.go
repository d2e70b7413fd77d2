package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnavailable     = errors.New("unavailable")
	ErrInternal        = errors.New("internal error")
)

// JobStatus is the lifecycle state of a job as stored and as published
// on the result queue.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Rank orders statuses for monotonic updates: pending < in_progress <
// terminal. Both terminal states share the top rank so neither can
// overwrite the other.
func (s JobStatus) Rank() int {
	switch s {
	case JobPending:
		return 0
	case JobInProgress:
		return 1
	case JobCompleted, JobFailed:
		return 2
	}
	return -1
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// Valid reports whether the status is one of the four known states.
func (s JobStatus) Valid() bool { return s.Rank() >= 0 }

// WebhookCode is the integer status the tenant platform expects on the
// callback wire: pending=0, in_progress=1, completed=2, failed=3.
func (s JobStatus) WebhookCode() int {
	switch s {
	case JobPending:
		return 0
	case JobInProgress:
		return 1
	case JobCompleted:
		return 2
	case JobFailed:
		return 3
	}
	return 0
}

// Job is a row in the manager table. ID is the tenant-visible request
// id. Result holds the artifact path for file-producing flavors and the
// inline result payload for the rest.
type Job struct {
	ID                string
	Flavor            string
	PrimaryPath       string
	SecondaryPath     string
	Params            string
	Priority          int
	Model             string
	Status            JobStatus
	Result            string
	Error             string
	WebhookRetryCount int
	WebhookStatusCode *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TaskMessage is the payload published to a flavor's task queue.
type TaskMessage struct {
	RequestID     string `json:"request_id"`
	Flavor        string `json:"flavor"`
	PrimaryPath   string `json:"primary_path,omitempty"`
	SecondaryPath string `json:"secondary_path,omitempty"`
	Params        string `json:"params,omitempty"`
	Model         string `json:"model,omitempty"`
	Priority      int    `json:"priority"`
}

// ResultMessage is the payload published to a flavor's result queue.
// Workers publish one in_progress message before executing and exactly
// one terminal message after.
type ResultMessage struct {
	RequestID  string    `json:"request_id"`
	Status     JobStatus `json:"status"`
	ResultPath string    `json:"result_path,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Repositories (ports)

// JobStore persists jobs. AdvanceStatus applies the monotonic status
// rules and reports whether the row actually changed.
type JobStore interface {
	Create(ctx Context, j Job) error
	Get(ctx Context, id string) (Job, error)
	AdvanceStatus(ctx Context, id string, status JobStatus, result, errMsg string) (bool, error)
	RecordWebhook(ctx Context, id string, statusCode int, incrementRetry bool) error
	FailStalePending(ctx Context, cutoff time.Time, reason string) (int64, error)
}

// Queue (ports)

type TaskQueue interface {
	PublishTask(ctx Context, queue string, t TaskMessage) error
}

type ResultQueue interface {
	PublishResult(ctx Context, queue string, r ResultMessage) error
}

// Notifier delivers a webhook for the job's current status and returns
// the tenant's HTTP status code (0 on transport failure).
type Notifier interface {
	Deliver(ctx Context, j Job) (int, error)
}

// Executor runs the model behind one flavor. outputPath is empty for
// inline flavors; file flavors must write the artifact there and may
// leave a partial file behind on error (the worker removes it).
type Executor interface {
	Execute(ctx Context, t TaskMessage, outputPath string) (inline string, err error)
}

// StagingStore writes uploaded inputs to the staging area. slot is 0
// for single-input flavors and 1 or 2 for two-input flavors.
type StagingStore interface {
	Save(ctx Context, id string, slot int, filename string, r io.Reader) (string, error)
	Remove(path string) error
}

// Context is an alias so ports read cleanly; adapters and usecases pass
// context.Context straight through.
type Context = context.Context
