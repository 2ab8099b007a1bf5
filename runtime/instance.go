package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/goliatone/go-pvm/scheduler"
	"github.com/goliatone/go-pvm/store"
)

// ProcessInstance is one running copy of a process definition. It owns a
// single token whose current representation is Execution.
type ProcessInstance struct {
	mu sync.Mutex

	engine     *Engine
	id         string
	definition *model.ProcessDefinition
	execution  *Execution

	state     string
	pending   string
	selected  string
	variables map[string]any
	version   int
}

type instanceKey struct{}

func newInstance(engine *Engine, id string, def *model.ProcessDefinition, vars map[string]any) *ProcessInstance {
	inst := &ProcessInstance{
		engine:     engine,
		id:         id,
		definition: def,
		state:      store.StateRunning,
		variables:  make(map[string]any, len(vars)),
	}
	for k, v := range vars {
		inst.variables[k] = v
	}
	return inst
}

func (p *ProcessInstance) ID() string                           { return p.id }
func (p *ProcessInstance) Definition() *model.ProcessDefinition { return p.definition }
func (p *ProcessInstance) Execution() *Execution                { return p.execution }
func (p *ProcessInstance) State() string                        { return p.state }
func (p *ProcessInstance) PendingOperation() string             { return p.pending }
func (p *ProcessInstance) Version() int                         { return p.version }

// Ended reports whether the instance completed or was cancelled.
func (p *ProcessInstance) Ended() bool {
	return p.state == store.StateCompleted || p.state == store.StateCancelled
}

func (p *ProcessInstance) Variable(key string) (any, bool) {
	v, ok := p.variables[key]
	return v, ok
}

func (p *ProcessInstance) SetVariable(key string, value any) {
	if p.variables == nil {
		p.variables = make(map[string]any)
	}
	p.variables[key] = value
}

// Signal leaves the wait state the instance is halted in through the
// default outgoing transition.
func (p *ProcessInstance) Signal(ctx context.Context) error {
	return p.SignalTransition(ctx, "")
}

// SignalTransition leaves the wait state through the outgoing transition
// with the given id. An empty id selects the default transition.
func (p *ProcessInstance) SignalTransition(ctx context.Context, transitionID string) error {
	return p.run(ctx, "signal", func(ctx context.Context) error {
		e := p.execution
		if p.state != store.StateWaiting || e == nil || e.activity == nil || e.activity.Kind != model.KindWait {
			return p.invalidTransition("instance is not waiting", nil)
		}
		if transitionID != "" {
			if _, ok := e.activity.OutgoingTransition(transitionID); !ok {
				return p.invalidTransition("activity "+e.activity.ID()+" has no transition "+transitionID, map[string]any{
					"transition_id": transitionID,
				})
			}
		}
		p.selected = transitionID
		p.state = store.StateRunning
		return e.PerformOperation(ctx, p.engine.ops.activityEnd)
	})
}

// Cancel ends the instance and fires the end listeners of the current
// activity and the process. A token that is in the middle of a listener
// chain is cancelled on a replacement representation, which leaves the
// interrupted chain stale.
func (p *ProcessInstance) Cancel(ctx context.Context, skipCustomListeners bool) error {
	return p.run(ctx, "cancel", func(ctx context.Context) error {
		if p.Ended() {
			return p.invalidTransition("instance already ended", nil)
		}
		e := p.execution
		if e == nil {
			return p.invalidTransition("instance has no execution", nil)
		}
		if !pvm.IsIdle(e) || activeFrame(ctx, e) != nil {
			e = e.replace()
		}
		e.skipCustom = skipCustomListeners
		p.state = store.StateCancelled
		p.pending = ""
		p.selected = ""

		// a token on a transition has already left its source activity
		if e.activity == nil || e.transition != nil {
			e.transition = nil
			return e.PerformOperationSync(ctx, p.engine.ops.processEnd)
		}
		return e.PerformOperationSync(ctx, p.engine.ops.activityCancel)
	})
}

// Snapshot captures the persisted form of the instance.
func (p *ProcessInstance) Snapshot() *store.Record {
	rec := &store.Record{
		InstanceID:        p.id,
		DefinitionKey:     p.definition.Key,
		DefinitionVersion: p.definition.Version,
		State:             p.state,
		PendingOperation:  p.pending,
		Version:           p.version,
		UpdatedAt:         time.Now().UTC(),
	}
	if len(p.variables) > 0 {
		rec.Variables = make(map[string]any, len(p.variables))
		for k, v := range p.variables {
			rec.Variables[k] = v
		}
	}
	if e := p.execution; e != nil {
		rec.Token = e.token
		rec.ExecutionID = e.id
		rec.ListenerIndex = e.listenerIndex
		rec.EventName = e.eventName
		rec.SkipCustomListeners = e.skipCustom
		if e.activity != nil {
			rec.ActivityID = e.activity.ID()
		}
		if e.transition != nil {
			rec.TransitionID = e.transition.ID()
		}
		if e.eventSource != nil {
			rec.EventSourceID = e.eventSource.ID()
		}
	}
	return rec
}

// restore replaces the instance state with rec. The token gets a fresh
// representation object carrying the recorded representation id.
func (p *ProcessInstance) restore(rec *store.Record) error {
	e := &Execution{
		instance:      p,
		token:         rec.Token,
		id:            rec.ExecutionID,
		listenerIndex: rec.ListenerIndex,
		eventName:     rec.EventName,
		skipCustom:    rec.SkipCustomListeners,
		current:       p.definition,
	}
	if rec.ActivityID != "" {
		a, ok := p.definition.Activity(rec.ActivityID)
		if !ok {
			return p.restoreError("activity "+rec.ActivityID+" not in definition", rec)
		}
		e.activity = a
		e.current = a
	}
	if rec.TransitionID != "" {
		t, ok := p.definition.Transition(rec.TransitionID)
		if !ok {
			return p.restoreError("transition "+rec.TransitionID+" not in definition", rec)
		}
		e.transition = t
		e.current = t
	}
	switch rec.EventSourceID {
	case "":
	case rec.TransitionID:
		e.eventSource = e.transition
	case rec.ActivityID:
		e.eventSource = e.activity
	case p.definition.Key:
		e.eventSource = p.definition
	default:
		return p.restoreError("event source "+rec.EventSourceID+" not in definition", rec)
	}
	e.ended = rec.State == store.StateCompleted || rec.State == store.StateCancelled

	if p.execution != nil && p.execution != e {
		p.execution.replacedBy = e
	}
	p.execution = e
	p.state = rec.State
	p.pending = rec.PendingOperation
	p.selected = ""
	p.version = rec.Version
	p.variables = make(map[string]any, len(rec.Variables))
	for k, v := range rec.Variables {
		p.variables[k] = v
	}
	return nil
}

// run serializes top-level entries. Re-entrant calls made by listeners of a
// running entry share its lock and its persistence step.
func (p *ProcessInstance) run(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, _ := ctx.Value(instanceKey{}).(*ProcessInstance); owner == p {
		return fn(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx = context.WithValue(ctx, instanceKey{}, p)
	logger := p.engine.instanceLogger(ctx, p)
	logger.Debug("%s", action)

	if err := fn(ctx); err != nil {
		logger.Error("%s failed: %v", action, err)
		return err
	}
	return p.engine.persist(ctx, p)
}

// suspend parks the token in front of op and schedules op as a job.
func (p *ProcessInstance) suspend(ctx context.Context, e *Execution, op pvm.Operation) error {
	queue := p.engine.queue
	if queue == nil {
		return pvm.CloneError(ErrJobQueueMissing, "", nil, map[string]any{
			"instance_id": p.id,
			"operation":   op.Name(),
		})
	}
	p.state = store.StateSuspended
	p.pending = op.Name()
	return queue.Enqueue(ctx, scheduler.NewJob(p.id, e.id, op.Name()))
}

func (p *ProcessInstance) finish() {
	if p.state != store.StateCancelled {
		p.state = store.StateCompleted
	}
	p.pending = ""
	p.selected = ""
}

func (p *ProcessInstance) takeSelectedTransition(a *model.Activity) *model.Transition {
	id := p.selected
	p.selected = ""
	if id != "" {
		if t, ok := a.OutgoingTransition(id); ok {
			return t
		}
	}
	return a.DefaultTransition()
}

func (p *ProcessInstance) invalidTransition(message string, meta map[string]any) error {
	m := map[string]any{"instance_id": p.id, "state": p.state}
	for k, v := range meta {
		m[k] = v
	}
	return pvm.CloneError(pvm.ErrInvalidTransition, message, nil, m)
}

func (p *ProcessInstance) restoreError(message string, rec *store.Record) error {
	return pvm.CloneError(pvm.ErrDefinitionInvalid, message, nil, map[string]any{
		"instance_id":    rec.InstanceID,
		"definition_key": rec.DefinitionKey,
	})
}
