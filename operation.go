package pvm

import "context"

// Operation is one resumable unit of state transition on an execution.
//
// The scheduler calls Execute. IsAsync marks the operation as a suspend point:
// callers that honour it hand the operation to a job queue instead of running
// it in place.
type Operation interface {
	Name() string
	Execute(ctx context.Context, execution Execution) error
	IsAsync(execution Execution) bool
}

// OperationFunc adapts a function into a synchronous Operation.
type OperationFunc struct {
	OpName string
	Fn     func(ctx context.Context, execution Execution) error
}

// Name returns the operation name.
func (o OperationFunc) Name() string { return o.OpName }

// Execute calls the underlying function.
func (o OperationFunc) Execute(ctx context.Context, execution Execution) error {
	if o.Fn == nil {
		return nil
	}
	return o.Fn(ctx, execution)
}

// IsAsync is always false for function operations.
func (OperationFunc) IsAsync(Execution) bool { return false }
