package operation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-pvm"
)

// ListenerInvocation describes one listener call made by an event operation.
type ListenerInvocation struct {
	Operation string
	Event     string
	ScopeID   string
	Index     int
	Listener  string
	Execution pvm.Execution
	Err       error
	Duration  time.Duration
}

// Observer receives callbacks from event operations for logging and metrics.
//
// Implementations should be fast and must not mutate the execution.
type Observer interface {
	// OnNotificationsStarted is called on first entry once the assumption
	// adopted the execution. listeners is the size of the resolved list.
	OnNotificationsStarted(ctx context.Context, op string, execution pvm.Execution, listeners int)

	// OnListenerInvoked is called after every listener returns, err included.
	OnListenerInvoked(ctx context.Context, inv ListenerInvocation)

	// OnNotificationsCompleted is called right before the completion hook.
	OnNotificationsCompleted(ctx context.Context, op string, execution pvm.Execution)

	// OnAbandoned is called when the assumption refused the execution.
	OnAbandoned(ctx context.Context, op string, execution pvm.Execution)
}

// NoopObserver is an Observer that does nothing.
type NoopObserver struct{}

func (NoopObserver) OnNotificationsStarted(context.Context, string, pvm.Execution, int) {}
func (NoopObserver) OnListenerInvoked(context.Context, ListenerInvocation)              {}
func (NoopObserver) OnNotificationsCompleted(context.Context, string, pvm.Execution)    {}
func (NoopObserver) OnAbandoned(context.Context, string, pvm.Execution)                 {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		if _, noop := o.(NoopObserver); noop {
			continue
		}
		filtered = append(filtered, o)
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnNotificationsStarted(ctx context.Context, op string, execution pvm.Execution, listeners int) {
	for _, o := range c.observers {
		o.OnNotificationsStarted(ctx, op, execution, listeners)
	}
}

func (c *CompositeObserver) OnListenerInvoked(ctx context.Context, inv ListenerInvocation) {
	for _, o := range c.observers {
		o.OnListenerInvoked(ctx, inv)
	}
}

func (c *CompositeObserver) OnNotificationsCompleted(ctx context.Context, op string, execution pvm.Execution) {
	for _, o := range c.observers {
		o.OnNotificationsCompleted(ctx, op, execution)
	}
}

func (c *CompositeObserver) OnAbandoned(ctx context.Context, op string, execution pvm.Execution) {
	for _, o := range c.observers {
		o.OnAbandoned(ctx, op, execution)
	}
}

// LoggingObserver writes structured logs through a pvm.Logger.
type LoggingObserver struct {
	Logger pvm.Logger
}

// NewLoggingObserver creates an Observer that logs notification lifecycle
// events. A nil logger falls back to the stdout FmtLogger.
func NewLoggingObserver(logger pvm.Logger) Observer {
	return &LoggingObserver{Logger: pvm.NormalizeLogger(logger)}
}

func (o *LoggingObserver) OnNotificationsStarted(ctx context.Context, op string, execution pvm.Execution, listeners int) {
	o.logger(ctx, op, execution).Debug("notifications started listeners=%d", listeners)
}

func (o *LoggingObserver) OnListenerInvoked(ctx context.Context, inv ListenerInvocation) {
	logger := pvm.WithLoggerFields(o.logger(ctx, inv.Operation, inv.Execution), map[string]any{
		"event":          inv.Event,
		"scope_id":       inv.ScopeID,
		"listener_index": inv.Index,
		"listener":       inv.Listener,
		"duration":       inv.Duration,
	})
	if inv.Err != nil {
		logger.Error("listener failed: %v", inv.Err)
		return
	}
	logger.Trace("listener invoked")
}

func (o *LoggingObserver) OnNotificationsCompleted(ctx context.Context, op string, execution pvm.Execution) {
	o.logger(ctx, op, execution).Debug("notifications completed")
}

func (o *LoggingObserver) OnAbandoned(ctx context.Context, op string, execution pvm.Execution) {
	o.logger(ctx, op, execution).Info("operation abandoned, execution is stale")
}

func (o *LoggingObserver) logger(ctx context.Context, op string, execution pvm.Execution) pvm.Logger {
	fields := map[string]any{"operation": op}
	if g, ok := execution.(pvm.Guarded); ok {
		fields["token_id"] = g.TokenID()
	}
	return pvm.WithLoggerFields(pvm.NormalizeLogger(o.Logger).WithContext(ctx), fields)
}

// BasicMetrics collects simple counters and aggregate listener durations.
type BasicMetrics struct {
	NoopObserver

	chainsStarted     atomic.Int64
	chainsCompleted   atomic.Int64
	chainsAbandoned   atomic.Int64
	listenersInvoked  atomic.Int64
	listenersFailed   atomic.Int64
	totalListenerTime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ChainsStarted       int64
	ChainsCompleted     int64
	ChainsAbandoned     int64
	ListenersInvoked    int64
	ListenersFailed     int64
	AvgListenerDuration time.Duration
}

func (m *BasicMetrics) OnNotificationsStarted(context.Context, string, pvm.Execution, int) {
	m.chainsStarted.Add(1)
}

func (m *BasicMetrics) OnListenerInvoked(_ context.Context, inv ListenerInvocation) {
	m.listenersInvoked.Add(1)
	m.totalListenerTime.Add(inv.Duration.Nanoseconds())
	if inv.Err != nil {
		m.listenersFailed.Add(1)
	}
}

func (m *BasicMetrics) OnNotificationsCompleted(context.Context, string, pvm.Execution) {
	m.chainsCompleted.Add(1)
}

func (m *BasicMetrics) OnAbandoned(context.Context, string, pvm.Execution) {
	m.chainsAbandoned.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	invoked := m.listenersInvoked.Load()
	var avg time.Duration
	if invoked > 0 {
		avg = time.Duration(m.totalListenerTime.Load() / invoked)
	}
	return BasicMetricsSnapshot{
		ChainsStarted:       m.chainsStarted.Load(),
		ChainsCompleted:     m.chainsCompleted.Load(),
		ChainsAbandoned:     m.chainsAbandoned.Load(),
		ListenersInvoked:    invoked,
		ListenersFailed:     m.listenersFailed.Load(),
		AvgListenerDuration: avg,
	}
}
