package runner

import (
	"errors"
	"math"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pvm"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next retry attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the outcome of asking a strategy about one failure.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider is implemented by strategies that can veto a retry.
type RetryDecider interface {
	Decide(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy for a decision. Strategies that only know about
// delays always retry.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if decider, ok := strategy.(RetryDecider); ok {
		return decider.Decide(attempt, err)
	}
	if strategy == nil {
		return RetryDecision{ShouldRetry: true}
	}
	return RetryDecision{ShouldRetry: true, Delay: strategy.SleepDuration(attempt, err)}
}

// NoDelayStrategy performs all retries immediately.
type NoDelayStrategy struct{}

// SleepDuration always returns zero.
func (NoDelayStrategy) SleepDuration(int, error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy grows the delay by Factor on every attempt.
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	// Max caps the delay. Zero means no cap.
	Max time.Duration
}

// SleepDuration implements an exponential backoff with a cap at Max.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := time.Duration(float64(e.Base) * math.Pow(factor, float64(attempt)))
	if e.Max > 0 && delay > e.Max {
		return e.Max
	}
	return delay
}

// PermanentErrors wraps a strategy and refuses to retry errors that cannot
// succeed on a second attempt: validation or bad input failures and
// optimistic version conflicts.
type PermanentErrors struct {
	Strategy RetryStrategy
}

// SleepDuration delegates to the wrapped strategy.
func (p PermanentErrors) SleepDuration(attempt int, err error) time.Duration {
	if p.Strategy == nil {
		return 0
	}
	return p.Strategy.SleepDuration(attempt, err)
}

// Decide implements RetryDecider.
func (p PermanentErrors) Decide(attempt int, err error) RetryDecision {
	if IsPermanent(err) {
		return RetryDecision{
			ShouldRetry: false,
			Metadata:    map[string]any{"permanent": true, "code": pvm.ErrorCode(err)},
		}
	}
	return RetryDecision{ShouldRetry: true, Delay: p.SleepDuration(attempt, err)}
}

// IsPermanent reports whether err is classified as not worth retrying.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if pvm.HasErrorCode(err, pvm.ErrCodeVersionConflict) {
		return true
	}
	var ge *apperrors.Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Category == apperrors.CategoryValidation || ge.Category == apperrors.CategoryBadInput
}
