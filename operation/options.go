package operation

import "github.com/goliatone/go-pvm"

// Option configures an EventOperation.
type Option func(*EventOperation)

// WithObserver replaces the observer. Nil resets to NoopObserver.
func WithObserver(obs Observer) Option {
	return func(o *EventOperation) {
		if obs == nil {
			obs = NoopObserver{}
		}
		o.observer = obs
	}
}

// WithAssumeFunc injects the predicate used when the current assumption is
// asked to adopt an execution. Nil resets to pvm.DefaultAssume.
func WithAssumeFunc(fn pvm.AssumeFunc) Option {
	return func(o *EventOperation) {
		if fn == nil {
			fn = pvm.DefaultAssume
		}
		o.assume = fn
	}
}

// WithLogger adds a LoggingObserver on top of the configured observer.
func WithLogger(logger pvm.Logger) Option {
	return func(o *EventOperation) {
		o.observer = NewCompositeObserver(o.observer, NewLoggingObserver(logger))
	}
}
