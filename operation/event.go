package operation

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-pvm"
)

// Hooks are the extension points of an event operation. Name, EventName,
// Scope and Completed are required; the rest have defaults.
type Hooks struct {
	// Name identifies the operation for dispatch, jobs and logs.
	Name string
	// EventName is the event whose listeners are notified.
	EventName string
	// Scope resolves the model node raising the event.
	Scope func(execution pvm.Execution) pvm.Scope
	// Completed performs the actual state transition once every listener ran.
	Completed func(ctx context.Context, execution pvm.Execution) error

	// Started runs on first entry and may return a replacement execution for
	// the same token. Every later step of the call targets the returned value.
	Started func(ctx context.Context, execution pvm.Execution) (pvm.Execution, error)
	// SkipNotifyListeners bypasses listeners and goes straight to Completed.
	SkipNotifyListeners func(execution pvm.Execution) bool
	// Async marks the operation as a suspend point for the scheduler.
	Async func(execution pvm.Execution) bool
}

func (h Hooks) validate() error {
	var missing []string
	if strings.TrimSpace(h.Name) == "" {
		missing = append(missing, "Name")
	}
	if strings.TrimSpace(h.EventName) == "" {
		missing = append(missing, "EventName")
	}
	if h.Scope == nil {
		missing = append(missing, "Scope")
	}
	if h.Completed == nil {
		missing = append(missing, "Completed")
	}
	if len(missing) == 0 {
		return nil
	}
	return pvm.CloneError(pvm.ErrHookMissing, "atomic operation hooks missing: "+strings.Join(missing, ", "), nil, map[string]any{
		"operation": h.Name,
		"missing":   missing,
	})
}

// EventOperation notifies the listeners of one event, one listener per call,
// and then completes the transition.
type EventOperation struct {
	hooks    Hooks
	observer Observer
	assume   pvm.AssumeFunc
}

var _ pvm.Operation = (*EventOperation)(nil)

// New validates hooks and builds the operation.
func New(hooks Hooks, opts ...Option) (*EventOperation, error) {
	if err := hooks.validate(); err != nil {
		return nil, err
	}
	op := &EventOperation{
		hooks:    hooks,
		observer: NoopObserver{},
		assume:   pvm.DefaultAssume,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(op)
		}
	}
	return op, nil
}

// MustNew is New that panics on invalid hooks. Useful for package-level
// operation tables.
func MustNew(hooks Hooks, opts ...Option) *EventOperation {
	op, err := New(hooks, opts...)
	if err != nil {
		panic(err)
	}
	return op
}

// Name returns the configured operation name.
func (o *EventOperation) Name() string { return o.hooks.Name }

// EventName returns the event this operation notifies.
func (o *EventOperation) EventName() string { return o.hooks.EventName }

// IsAsync reports whether the operation is a suspend point for execution.
func (o *EventOperation) IsAsync(execution pvm.Execution) bool {
	if o.hooks.Async == nil {
		return false
	}
	return o.hooks.Async(execution)
}

// Execute runs one notification step. Guarded executions run inside a scoped
// assumption that is torn down on every exit path.
func (o *EventOperation) Execute(ctx context.Context, execution pvm.Execution) error {
	if guarded, ok := execution.(pvm.Guarded); ok {
		return pvm.WithAssumption(ctx, guarded, o.assume, func(ctx context.Context) error {
			return o.DoExecute(ctx, execution)
		})
	}
	return o.DoExecute(ctx, execution)
}

// DoExecute is one step of the listener cursor.
//
// On first entry (listener index 0) the Started hook runs and the current
// assumption is asked to adopt its result; a refusal abandons the step
// without error. Otherwise the next listener fires, the index having been
// advanced first, and the operation re-dispatches itself on the execution.
// Once the list is exhausted the event state is cleared and Completed runs.
func (o *EventOperation) DoExecute(ctx context.Context, execution pvm.Execution) error {
	if execution == nil {
		return pvm.CloneError(pvm.ErrExecutionNotFound, "atomic operation requires an execution", nil, map[string]any{
			"operation": o.hooks.Name,
		})
	}
	scope := o.hooks.Scope(execution)
	if scope == nil {
		return pvm.CloneError(pvm.ErrScopeMissing, "", nil, map[string]any{
			"operation": o.hooks.Name,
			"event":     o.hooks.EventName,
		})
	}
	listeners := o.listeners(scope, execution)
	index := execution.ListenerIndex()

	if index == 0 {
		next, err := o.started(ctx, execution)
		if err != nil {
			return err
		}
		execution = next

		if guarded, ok := execution.(pvm.Guarded); ok {
			if assumption := pvm.CurrentAssumption(ctx); assumption != nil && !assumption.Assume(guarded) {
				o.observer.OnAbandoned(ctx, o.hooks.Name, execution)
				return nil
			}
		}
		o.observer.OnNotificationsStarted(ctx, o.hooks.Name, execution, len(listeners))
	}

	if o.skipNotifyListeners(execution) {
		o.observer.OnNotificationsCompleted(ctx, o.hooks.Name, execution)
		return o.hooks.Completed(ctx, execution)
	}

	if len(listeners) > index {
		execution.SetEventName(o.hooks.EventName)
		execution.SetEventSource(scope)
		listener := listeners[index]
		execution.SetListenerIndex(index + 1)

		start := time.Now()
		err := execution.InvokeListener(ctx, listener)
		o.observer.OnListenerInvoked(ctx, ListenerInvocation{
			Operation: o.hooks.Name,
			Event:     o.hooks.EventName,
			ScopeID:   scope.ID(),
			Index:     index,
			Listener:  pvm.ListenerName(listener),
			Execution: execution,
			Err:       err,
			Duration:  time.Since(start),
		})
		if err != nil {
			return pvm.WrapListenerError(err, map[string]any{
				"operation":      o.hooks.Name,
				"event":          o.hooks.EventName,
				"scope_id":       scope.ID(),
				"listener_index": index,
			})
		}
		return execution.PerformOperationSync(ctx, o)
	}

	pvm.ClearEventState(execution)
	o.observer.OnNotificationsCompleted(ctx, o.hooks.Name, execution)
	return o.hooks.Completed(ctx, execution)
}

// Listeners resolves the listener list for execution on scope.
func (o *EventOperation) Listeners(scope pvm.Scope, execution pvm.Execution) []pvm.Listener {
	return o.listeners(scope, execution)
}

func (o *EventOperation) listeners(scope pvm.Scope, execution pvm.Execution) []pvm.Listener {
	if execution.SkipCustomListeners() {
		return scope.BuiltInListeners(o.hooks.EventName)
	}
	return scope.Listeners(o.hooks.EventName)
}

func (o *EventOperation) started(ctx context.Context, execution pvm.Execution) (pvm.Execution, error) {
	if o.hooks.Started == nil {
		return execution, nil
	}
	next, err := o.hooks.Started(ctx, execution)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return execution, nil
	}
	return next, nil
}

func (o *EventOperation) skipNotifyListeners(execution pvm.Execution) bool {
	if o.hooks.SkipNotifyListeners == nil {
		return false
	}
	return o.hooks.SkipNotifyListeners(execution)
}
