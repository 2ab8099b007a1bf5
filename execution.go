package pvm

import "context"

// Execution is one runtime token of control in a process tree, as seen by an
// atomic operation. Implementations own the storage for the transient event
// state; operations only read and mutate it through these accessors.
type Execution interface {
	// ListenerIndex is the cursor into the listener list of the event in
	// progress. Zero means no event notification is in progress.
	ListenerIndex() int
	SetListenerIndex(idx int)

	// EventName and EventSource are only meaningful while ListenerIndex > 0.
	EventName() string
	SetEventName(name string)
	EventSource() Scope
	SetEventSource(scope Scope)

	// SkipCustomListeners is decided by whoever started the transition.
	SkipCustomListeners() bool

	// CurrentScope is the model node the execution currently sits on.
	CurrentScope() Scope

	// InvokeListener calls listener with this execution as its context.
	InvokeListener(ctx context.Context, listener Listener) error

	// PerformOperationSync continues with op on this execution without
	// consulting op.IsAsync.
	PerformOperationSync(ctx context.Context, op Operation) error
}

// Guarded is implemented by executions that belong to a guarded execution
// tree and therefore take part in the assumption protocol.
//
// TokenID identifies the logical token. It stays the same when the in-memory
// representation is swapped for a replacement.
type Guarded interface {
	Execution
	TokenID() string
}

// IsIdle reports whether execution has no event notification in progress.
func IsIdle(execution Execution) bool {
	if execution == nil {
		return true
	}
	return execution.ListenerIndex() == 0 &&
		execution.EventName() == "" &&
		execution.EventSource() == nil
}

// ClearEventState resets the transient notification fields of execution.
func ClearEventState(execution Execution) {
	if execution == nil {
		return
	}
	execution.SetListenerIndex(0)
	execution.SetEventName("")
	execution.SetEventSource(nil)
}
