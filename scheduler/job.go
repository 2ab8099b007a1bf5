package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is an async continuation: operation Operation must be performed on
// execution ExecutionID of instance InstanceID.
type Job struct {
	ID          string
	InstanceID  string
	ExecutionID string
	Operation   string
	Attempts    int
	CreatedAt   time.Time
	LastError   string
}

// NewJob builds a job with a fresh id.
func NewJob(instanceID, executionID, operation string) Job {
	return Job{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		ExecutionID: executionID,
		Operation:   operation,
		CreatedAt:   time.Now().UTC(),
	}
}

// Executor performs jobs. The runtime engine implements it.
type Executor interface {
	ExecuteJob(ctx context.Context, job Job) error
}

// ExecutorFunc adapts a function into an Executor.
type ExecutorFunc func(ctx context.Context, job Job) error

func (f ExecutorFunc) ExecuteJob(ctx context.Context, job Job) error { return f(ctx, job) }

// Queue holds pending jobs.
//
// Acquire hands out at most limit jobs and marks them in flight. Every
// acquired job must be settled with Complete or Fail.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Acquire(ctx context.Context, limit int) ([]Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
}

var errUnknownJob = errors.New("job not in flight")

// MemoryQueue is a FIFO Queue kept in memory. Failed jobs are parked and can
// be inspected or requeued.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Job
	inFlight map[string]Job
	failed   map[string]Job
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]Job),
		failed:   make(map[string]Job),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *MemoryQueue) Acquire(_ context.Context, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.pending) {
		limit = len(q.pending)
	}
	out := make([]Job, limit)
	copy(out, q.pending[:limit])
	q.pending = q.pending[limit:]
	for i := range out {
		out[i].Attempts++
		q.inFlight[out[i].ID] = out[i]
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[id]; !ok {
		return errUnknownJob
	}
	delete(q.inFlight, id)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.inFlight[id]
	if !ok {
		return errUnknownJob
	}
	delete(q.inFlight, id)
	if cause != nil {
		job.LastError = cause.Error()
	}
	q.failed[id] = job
	return nil
}

// Retry moves a failed job back to the pending list.
func (q *MemoryQueue) Retry(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.failed[id]
	if !ok {
		return errors.New("job " + id + " not failed")
	}
	delete(q.failed, id)
	q.pending = append(q.pending, job)
	return nil
}

// Pending returns a copy of the pending jobs in queue order.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.pending))
	copy(out, q.pending)
	return out
}

// Failed returns the parked failed jobs.
func (q *MemoryQueue) Failed() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.failed))
	for _, job := range q.failed {
		out = append(out, job)
	}
	return out
}
