package runtime

import (
	"context"
	"sort"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/goliatone/go-pvm/operation"
	"github.com/goliatone/go-pvm/store"
)

// Names of the atomic operations of the execution tree.
const (
	OpProcessStart    = "process-start"
	OpActivityStart   = "activity-start"
	OpActivityExecute = "activity-execute"
	OpActivityEnd     = "activity-end"
	OpTransitionTake  = "transition-take"
	OpActivityCancel  = "activity-cancel"
	OpProcessEnd      = "process-end"
)

// operations is the operation table of one engine.
type operations struct {
	processStart    pvm.Operation
	activityStart   pvm.Operation
	activityExecute pvm.Operation
	activityEnd     pvm.Operation
	transitionTake  pvm.Operation
	activityCancel  pvm.Operation
	processEnd      pvm.Operation

	byName map[string]pvm.Operation
}

func newOperations(opts ...operation.Option) *operations {
	ops := &operations{}

	ops.processStart = operation.MustNew(operation.Hooks{
		Name:      OpProcessStart,
		EventName: model.EventStart,
		Scope:     definitionScope,
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			e.enterActivity(e.Definition().InitialActivity())
			return e.PerformOperation(ctx, ops.activityStart)
		},
	}, opts...)

	ops.activityStart = operation.MustNew(operation.Hooks{
		Name:      OpActivityStart,
		EventName: model.EventStart,
		Scope:     activityScope,
		Started: func(ctx context.Context, x pvm.Execution) (pvm.Execution, error) {
			e, _ := FromExecution(x)
			if e != nil && e.activity != nil && e.activity.Scope {
				next := e.replace()
				handOff(ctx, e, next)
				return next, nil
			}
			return x, nil
		},
		Async: func(x pvm.Execution) bool {
			e, _ := FromExecution(x)
			return e != nil && e.activity != nil && e.activity.AsyncBefore
		},
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			return e.PerformOperation(ctx, ops.activityExecute)
		},
	}, opts...)

	ops.activityExecute = pvm.OperationFunc{
		OpName: OpActivityExecute,
		Fn: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			if e.activity.Kind == model.KindWait {
				e.instance.state = store.StateWaiting
				return nil
			}
			return e.PerformOperation(ctx, ops.activityEnd)
		},
	}

	ops.activityEnd = operation.MustNew(operation.Hooks{
		Name:      OpActivityEnd,
		EventName: model.EventEnd,
		Scope:     activityScope,
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			if e.activity.Kind == model.KindEnd {
				return e.PerformOperation(ctx, ops.processEnd)
			}
			t := e.instance.takeSelectedTransition(e.activity)
			if t == nil {
				return pvm.CloneError(pvm.ErrInvalidTransition, "activity "+e.activity.ID()+" has no transition to take", nil, map[string]any{
					"instance_id": e.instance.id,
					"activity_id": e.activity.ID(),
				})
			}
			e.enterTransition(t)
			return e.PerformOperation(ctx, ops.transitionTake)
		},
	}, opts...)

	ops.transitionTake = operation.MustNew(operation.Hooks{
		Name:      OpTransitionTake,
		EventName: model.EventTake,
		Scope:     transitionScope,
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			e.enterActivity(e.transition.Destination())
			return e.PerformOperation(ctx, ops.activityStart)
		},
	}, opts...)

	ops.activityCancel = operation.MustNew(operation.Hooks{
		Name:      OpActivityCancel,
		EventName: model.EventEnd,
		Scope:     activityScope,
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			e.transition = nil
			e.current = e.activity
			return e.PerformOperationSync(ctx, ops.processEnd)
		},
	}, opts...)

	ops.processEnd = operation.MustNew(operation.Hooks{
		Name:      OpProcessEnd,
		EventName: model.EventEnd,
		Scope:     definitionScope,
		Started: func(_ context.Context, x pvm.Execution) (pvm.Execution, error) {
			if e, ok := FromExecution(x); ok {
				e.current = e.Definition()
			}
			return x, nil
		},
		Completed: func(ctx context.Context, x pvm.Execution) error {
			e, _ := FromExecution(x)
			if !proceed(ctx, e) {
				return nil
			}
			e.ended = true
			e.instance.finish()
			return nil
		},
	}, opts...)

	ops.byName = map[string]pvm.Operation{
		OpProcessStart:    ops.processStart,
		OpActivityStart:   ops.activityStart,
		OpActivityExecute: ops.activityExecute,
		OpActivityEnd:     ops.activityEnd,
		OpTransitionTake:  ops.transitionTake,
		OpActivityCancel:  ops.activityCancel,
		OpProcessEnd:      ops.processEnd,
	}
	return ops
}

func (o *operations) lookup(name string) (pvm.Operation, error) {
	op, ok := o.byName[name]
	if !ok {
		return nil, pvm.CloneError(pvm.ErrOperationNotFound, "unknown operation "+name, nil, map[string]any{
			"operation": name,
		})
	}
	return op, nil
}

func (o *operations) names() []string {
	out := make([]string, 0, len(o.byName))
	for name := range o.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Hook scopes return an untyped nil when the node is missing so the
// operation reports a missing scope.

func definitionScope(x pvm.Execution) pvm.Scope {
	e, ok := FromExecution(x)
	if !ok || e.instance == nil || e.instance.definition == nil {
		return nil
	}
	return e.instance.definition
}

func activityScope(x pvm.Execution) pvm.Scope {
	e, ok := FromExecution(x)
	if !ok || e.activity == nil {
		return nil
	}
	return e.activity
}

func transitionScope(x pvm.Execution) pvm.Scope {
	e, ok := FromExecution(x)
	if !ok || e.transition == nil {
		return nil
	}
	return e.transition
}
