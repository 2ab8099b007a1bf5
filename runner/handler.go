package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pvm"
)

// ErrRunFailed is returned once every attempt of a run failed.
var ErrRunFailed = apperrors.New("runner failed", apperrors.CategoryHandler).
	WithTextCode("PVM_RUN_FAILED")

// Handler runs a function with retries, timeouts and deadlines.
type Handler struct {
	mu sync.Mutex

	logger        pvm.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy

	runs           int
	successfulRuns int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:        pvm.NopLogger{},
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Run calls fn until it succeeds, the retry budget is spent, the strategy
// vetoes a retry, or ctx is done. The final failure is returned as an
// ErrRunFailed clone whose Source is the last error.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil {
			break
		}
		h.logger.Error("run failed, attempt %d of %d: %v", attempt+1, maxRetries+1, err)
		h.errorHandler(err)
		if attempt == maxRetries {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		if sleepErr := sleep(ctx, decision.Delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	if err == nil {
		h.successfulRuns++
		return nil
	}
	return pvm.CloneError(ErrRunFailed, fmt.Sprintf("runner failed after %d attempts: %v", attempts, err), err, map[string]any{
		"attempts": attempts,
	})
}

// Stats returns the number of runs and successful runs so far.
func (h *Handler) Stats() (runs, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
