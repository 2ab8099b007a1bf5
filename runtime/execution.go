package runtime

import (
	"context"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/google/uuid"
)

// Execution is one in-memory representation of the token of a process
// instance. The token id survives replacement; the representation id does
// not.
type Execution struct {
	instance *ProcessInstance
	token    string
	id       string

	activity   *model.Activity
	transition *model.Transition
	current    pvm.Scope

	listenerIndex int
	eventName     string
	eventSource   pvm.Scope
	skipCustom    bool

	ended      bool
	replacedBy *Execution
}

var _ pvm.Guarded = (*Execution)(nil)

func newExecution(instance *ProcessInstance, token string) *Execution {
	return &Execution{
		instance: instance,
		token:    token,
		id:       uuid.NewString(),
		current:  instance.definition,
	}
}

// FromExecution unwraps the execution handed to listeners and hooks.
func FromExecution(execution pvm.Execution) (*Execution, bool) {
	e, ok := execution.(*Execution)
	return e, ok && e != nil
}

func (e *Execution) ListenerIndex() int                   { return e.listenerIndex }
func (e *Execution) SetListenerIndex(idx int)             { e.listenerIndex = idx }
func (e *Execution) EventName() string                    { return e.eventName }
func (e *Execution) SetEventName(name string)             { e.eventName = name }
func (e *Execution) EventSource() pvm.Scope               { return e.eventSource }
func (e *Execution) SetEventSource(scope pvm.Scope)       { e.eventSource = scope }
func (e *Execution) SkipCustomListeners() bool            { return e.skipCustom }
func (e *Execution) CurrentScope() pvm.Scope              { return e.current }
func (e *Execution) TokenID() string                      { return e.token }
func (e *Execution) ID() string                           { return e.id }
func (e *Execution) Instance() *ProcessInstance           { return e.instance }
func (e *Execution) Activity() *model.Activity            { return e.activity }
func (e *Execution) Transition() *model.Transition        { return e.transition }
func (e *Execution) Ended() bool                          { return e.ended }
func (e *Execution) ReplacedBy() *Execution               { return e.replacedBy }
func (e *Execution) Variable(key string) (any, bool)      { return e.instance.Variable(key) }
func (e *Execution) SetVariable(key string, val any)      { e.instance.SetVariable(key, val) }
func (e *Execution) Definition() *model.ProcessDefinition { return e.instance.definition }

// IsStale reports whether the representation lost authority over its token,
// because the token ended or another representation replaced this one.
func (e *Execution) IsStale() bool {
	return e.ended || e.replacedBy != nil
}

// InvokeListener calls listener with e as its execution.
func (e *Execution) InvokeListener(ctx context.Context, listener pvm.Listener) error {
	return listener.Notify(ctx, e)
}

// PerformOperation runs op, or hands it to the job queue when op is async
// for e.
func (e *Execution) PerformOperation(ctx context.Context, op pvm.Operation) error {
	if op.IsAsync(e) {
		return e.instance.suspend(ctx, e, op)
	}
	return e.PerformOperationSync(ctx, op)
}

// PerformOperationSync runs op on e without consulting op.IsAsync. When e
// already drives a dispatch frame further up the call chain, op is queued
// there and runs once the current operation returned.
func (e *Execution) PerformOperationSync(ctx context.Context, op pvm.Operation) error {
	if op == nil {
		return nil
	}
	if f := activeFrame(ctx, e); f != nil {
		f.queue = append(f.queue, op)
		return nil
	}
	return drive(ctx, e, op)
}

// replace moves the token onto a fresh representation with idle listener
// state. e becomes stale.
func (e *Execution) replace() *Execution {
	next := &Execution{
		instance:   e.instance,
		token:      e.token,
		id:         uuid.NewString(),
		activity:   e.activity,
		transition: e.transition,
		current:    e.current,
		skipCustom: e.skipCustom,
	}
	e.replacedBy = next
	e.instance.execution = next
	return next
}

func (e *Execution) enterActivity(a *model.Activity) {
	e.activity = a
	e.transition = nil
	e.current = a
}

func (e *Execution) enterTransition(t *model.Transition) {
	e.transition = t
	e.current = t
}

// proceed guards the non-listener steps of a chain. A stale execution, or
// one the current assumption refuses, does no further work.
func proceed(ctx context.Context, e *Execution) bool {
	if e == nil {
		return false
	}
	if a := pvm.CurrentAssumption(ctx); a != nil {
		return a.Assume(e)
	}
	return !e.IsStale()
}
