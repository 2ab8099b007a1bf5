package scheduler

import (
	"fmt"
	"time"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/runner"
)

// Parser represents a cron expression parser type.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron expression driving job acquisition.
// Descriptors such as "@every 1s" are accepted by every parser.
func WithSchedule(expr string) Option {
	return func(s *Scheduler) {
		if expr != "" {
			s.schedule = expr
		}
	}
}

// WithBatchSize caps how many jobs one poll acquires.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLocation sets the timezone location for the cron schedule.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithParser sets the type of cron expression parser to use.
func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

func WithLogger(logger pvm.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorHandler is called with every job that failed for good.
func WithErrorHandler(fn func(Job, error)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

// WithRunnerOptions configures the retry handler each job runs through.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Scheduler) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

// cronLogger adapts pvm.Logger to robfig/cron's key/value logger.
type cronLogger struct {
	logger pvm.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s%s", msg, formatKeysAndValues(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s: %v%s", msg, err, formatKeysAndValues(keysAndValues))
}

func formatKeysAndValues(kv []any) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		out += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	return out
}
