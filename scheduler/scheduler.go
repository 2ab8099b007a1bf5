package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/runner"
	rcron "github.com/robfig/cron/v3"
)

// Scheduler acquires async jobs from a Queue on a cron schedule and hands
// them to an Executor. Polls never overlap, so the jobs of one instance are
// performed one at a time.
type Scheduler struct {
	mu   sync.Mutex
	poll sync.Mutex

	cron     *rcron.Cron
	entryID  rcron.EntryID
	started  bool
	queue    Queue
	executor Executor

	logger       pvm.Logger
	errorHandler func(Job, error)
	runnerOpts   []runner.Option

	schedule  string
	batchSize int
	location  *time.Location
	parser    Parser
}

// New creates a scheduler. It does nothing until Start, Poll or Drain.
func New(queue Queue, executor Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:        queue,
		executor:     executor,
		logger:       pvm.NopLogger{},
		errorHandler: func(Job, error) {},
		schedule:     "@every 1s",
		batchSize:    16,
		location:     time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// Start registers the poll on the cron schedule and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Poll(ctx); err != nil {
			s.logger.Error("job poll failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job poll %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.started = true
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running poll, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cron.Remove(s.entryID)
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	if ctx == nil {
		<-done.Done()
		return nil
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll runs one acquisition round and returns how many jobs it performed.
// Job failures are settled on the queue and reported to the error handler;
// only queue failures are returned.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.poll.Lock()
	defer s.poll.Unlock()

	jobs, err := s.queue.Acquire(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, job := range jobs {
		if err := s.perform(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return len(jobs), errors.Join(errs...)
}

// Drain polls until a round acquires nothing, so jobs enqueued by other
// jobs run too.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.Poll(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func (s *Scheduler) perform(ctx context.Context, job Job) error {
	logger := pvm.WithLoggerFields(s.logger.WithContext(ctx), map[string]any{
		"job_id":      job.ID,
		"instance_id": job.InstanceID,
		"operation":   job.Operation,
		"attempt":     job.Attempts,
	})

	opts := append([]runner.Option{runner.WithLogger(logger)}, s.runnerOpts...)
	h := runner.NewHandler(opts...)
	runErr := h.Run(ctx, func(ctx context.Context) (err error) {
		defer pvm.RecoverInto(&err, "scheduler.job", pvm.PanicLoggerFor(logger), map[string]any{
			"job_id":      job.ID,
			"instance_id": job.InstanceID,
		})
		return s.executor.ExecuteJob(ctx, job)
	})

	if runErr != nil {
		logger.Error("job failed: %v", runErr)
		s.errorHandler(job, runErr)
		return s.queue.Fail(ctx, job.ID, runErr)
	}
	logger.Debug("job completed")
	return s.queue.Complete(ctx, job.ID)
}

// build converts scheduler options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	logger := cronLogger{logger: s.logger}
	opts := []rcron.Option{
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	}
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}
	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}
	return opts
}
