package pvm

import "context"

// AssumeFunc decides whether candidate may be adopted as the authoritative
// execution while assumed is the one currently held. Returning false tells
// the caller to silently abandon the operation it was about to start.
type AssumeFunc func(assumed, candidate Guarded) bool

// DefaultAssume accepts every candidate unless it reports itself stale.
func DefaultAssume(_, candidate Guarded) bool {
	if candidate == nil {
		return false
	}
	if s, ok := candidate.(interface{ IsStale() bool }); ok {
		return !s.IsStale()
	}
	return true
}

type assumptionKey struct{}

// Assumption records which execution is authoritative for the in-flight
// transition of one call chain. Nested acquisitions link to the prior one.
type Assumption struct {
	execution Guarded
	assume    AssumeFunc
	prior     *Assumption
	depth     int
	released  bool
}

// Execution returns the currently assumed execution.
func (a *Assumption) Execution() Guarded {
	if a == nil {
		return nil
	}
	return a.execution
}

// Prior returns the assumption that was active when this one was acquired.
func (a *Assumption) Prior() *Assumption {
	if a == nil {
		return nil
	}
	return a.prior
}

// Depth is the nesting level, starting at 1 for the outermost assumption.
func (a *Assumption) Depth() int {
	if a == nil {
		return 0
	}
	return a.depth
}

// Active reports whether the scope that acquired the assumption is still running.
func (a *Assumption) Active() bool {
	return a != nil && !a.released
}

// Assume asks the assumption to adopt candidate. It returns false when the
// candidate is stale relative to the assumed execution; the assumption is
// left untouched in that case. A released assumption refuses everything.
func (a *Assumption) Assume(candidate Guarded) bool {
	if a == nil || a.released || candidate == nil {
		return false
	}
	assume := a.assume
	if assume == nil {
		assume = DefaultAssume
	}
	if !assume(a.execution, candidate) {
		return false
	}
	a.execution = candidate
	return true
}

func (a *Assumption) release() {
	a.released = true
}

// CurrentAssumption returns the innermost active assumption on ctx, or nil.
func CurrentAssumption(ctx context.Context) *Assumption {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(assumptionKey{}).(*Assumption)
	for a != nil && a.released {
		a = a.prior
	}
	return a
}

// WithAssumption establishes execution as the current assumption for the
// lifetime of body. The prior assumption is restored on every exit path,
// including a panic unwinding through body, because body only ever sees the
// derived context and the acquired assumption is released by defer.
func WithAssumption(ctx context.Context, execution Guarded, assume AssumeFunc, body func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	prior := CurrentAssumption(ctx)
	a := &Assumption{
		execution: execution,
		assume:    assume,
		prior:     prior,
		depth:     prior.Depth() + 1,
	}
	defer a.release()

	if body == nil {
		return nil
	}
	return body(context.WithValue(ctx, assumptionKey{}, a))
}
