package runtime

import (
	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/operation"
	"github.com/goliatone/go-pvm/scheduler"
	"github.com/goliatone/go-pvm/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists instance records on every suspension or end.
func WithStore(s store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithQueue receives the jobs of async operations.
func WithQueue(q scheduler.Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

func WithLogger(logger pvm.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver is passed to every event operation of the engine.
func WithObserver(obs operation.Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// WithAssumeFunc replaces the staleness predicate of the assumption guard.
func WithAssumeFunc(fn pvm.AssumeFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.assume = fn
		}
	}
}
