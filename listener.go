package pvm

import "context"

// Listener is notified when a named event is raised on a scope.
type Listener interface {
	Notify(ctx context.Context, execution Execution) error
}

// ListenerFunc is an adapter that lets you use a function as a Listener.
type ListenerFunc func(ctx context.Context, execution Execution) error

// Notify calls the underlying function.
func (f ListenerFunc) Notify(ctx context.Context, execution Execution) error {
	return f(ctx, execution)
}

// NamedListener attaches a stable name to a listener for tracing and logs.
type NamedListener struct {
	Name     string
	Listener Listener
}

// Named wraps listener with name.
func Named(name string, listener Listener) *NamedListener {
	return &NamedListener{Name: name, Listener: listener}
}

// Notify forwards to the wrapped listener.
func (n *NamedListener) Notify(ctx context.Context, execution Execution) error {
	if n == nil || n.Listener == nil {
		return nil
	}
	return n.Listener.Notify(ctx, execution)
}

// ListenerName returns a printable name for listener. Listeners that do not
// carry a name report an empty string.
func ListenerName(listener Listener) string {
	switch l := listener.(type) {
	case *NamedListener:
		if l != nil {
			return l.Name
		}
	case interface{ Name() string }:
		return l.Name()
	}
	return ""
}
