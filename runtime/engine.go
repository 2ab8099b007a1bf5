package runtime

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/goliatone/go-pvm/operation"
	"github.com/goliatone/go-pvm/scheduler"
	"github.com/goliatone/go-pvm/store"
	"github.com/google/uuid"
)

// ErrJobQueueMissing is returned when an async operation is reached on an
// engine without a job queue.
var ErrJobQueueMissing = apperrors.New("async operation requires a job queue", apperrors.CategoryBadInput).
	WithTextCode("PVM_JOB_QUEUE_MISSING")

// Engine deploys definitions, starts instances and performs their async
// continuations.
type Engine struct {
	mu          sync.RWMutex
	definitions map[string]*model.ProcessDefinition
	instances   map[string]*ProcessInstance

	store    store.Store
	queue    scheduler.Queue
	logger   pvm.Logger
	observer operation.Observer
	assume   pvm.AssumeFunc

	ops *operations
}

var _ scheduler.Executor = (*Engine)(nil)

// StartOptions configure a new instance.
type StartOptions struct {
	// InstanceID defaults to a random id.
	InstanceID          string
	Variables           map[string]any
	SkipCustomListeners bool
}

// NewEngine creates an engine. Without a store nothing is persisted; without
// a queue async operations fail.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		definitions: make(map[string]*model.ProcessDefinition),
		instances:   make(map[string]*ProcessInstance),
		logger:      pvm.NopLogger{},
		observer:    operation.NoopObserver{},
		assume:      pvm.DefaultAssume,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.ops = newOperations(
		operation.WithObserver(e.observer),
		operation.WithLogger(e.logger),
		operation.WithAssumeFunc(e.assume),
	)
	return e
}

// Deploy validates def and makes it available under its key. Deploying a
// key again replaces the definition for new instances.
func (e *Engine) Deploy(def *model.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.Key] = def
	e.logger.Info("deployed process definition %s version %d", def.Key, def.Version)
	return nil
}

// Definition returns the deployed definition for key.
func (e *Engine) Definition(key string) (*model.ProcessDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[key]
	return def, ok
}

// Operation returns the named operation, for callers that resume a chain by
// hand.
func (e *Engine) Operation(name string) (pvm.Operation, error) {
	return e.ops.lookup(name)
}

// OperationNames lists the operations known to the engine.
func (e *Engine) OperationNames() []string {
	return e.ops.names()
}

// Start creates an instance of the definition deployed under key and runs
// it until it waits, suspends or ends. On a failure the instance is still
// returned so the caller can inspect where the chain stopped.
func (e *Engine) Start(ctx context.Context, key string, opts StartOptions) (*ProcessInstance, error) {
	def, ok := e.Definition(key)
	if !ok {
		return nil, pvm.CloneError(pvm.ErrDefinitionInvalid, "process definition "+key+" not deployed", nil, map[string]any{
			"definition_key": key,
		})
	}
	id := strings.TrimSpace(opts.InstanceID)
	if id == "" {
		id = uuid.NewString()
	}

	e.mu.Lock()
	if _, exists := e.instances[id]; exists {
		e.mu.Unlock()
		return nil, pvm.CloneError(pvm.ErrVersionConflict, "instance "+id+" already exists", nil, map[string]any{
			"instance_id": id,
		})
	}
	inst := newInstance(e, id, def, opts.Variables)
	inst.execution = newExecution(inst, uuid.NewString())
	inst.execution.skipCustom = opts.SkipCustomListeners
	e.instances[id] = inst
	e.mu.Unlock()

	err := inst.run(ctx, "start", func(ctx context.Context) error {
		return inst.execution.PerformOperation(ctx, e.ops.processStart)
	})
	return inst, err
}

// Instance returns a loaded instance.
func (e *Engine) Instance(id string) (*ProcessInstance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// Restore loads an instance from the store. A suspended instance gets its
// pending operation scheduled again.
func (e *Engine) Restore(ctx context.Context, id string) (*ProcessInstance, error) {
	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state == store.StateSuspended && inst.pending != "" {
		if e.queue == nil {
			return inst, pvm.CloneError(ErrJobQueueMissing, "", nil, map[string]any{"instance_id": id})
		}
		if err := e.queue.Enqueue(ctx, scheduler.NewJob(inst.id, inst.execution.id, inst.pending)); err != nil {
			return inst, err
		}
	}
	e.instanceLogger(ctx, inst).Debug("restored at version %d", inst.version)
	return inst, nil
}

// load reads the record of id into the registered instance, creating it on
// first use. Nothing is scheduled.
func (e *Engine) load(ctx context.Context, id string) (*ProcessInstance, error) {
	if e.store == nil {
		return nil, pvm.CloneError(pvm.ErrExecutionNotFound, "no store configured", nil, map[string]any{"instance_id": id})
	}
	rec, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, pvm.CloneError(pvm.ErrExecutionNotFound, "instance "+id+" not found", nil, map[string]any{"instance_id": id})
	}
	def, ok := e.Definition(rec.DefinitionKey)
	if !ok {
		return nil, pvm.CloneError(pvm.ErrDefinitionInvalid, "process definition "+rec.DefinitionKey+" not deployed", nil, map[string]any{
			"definition_key": rec.DefinitionKey,
			"instance_id":    id,
		})
	}

	e.mu.Lock()
	inst, loaded := e.instances[id]
	if !loaded {
		inst = newInstance(e, id, def, nil)
		e.instances[id] = inst
	}
	e.mu.Unlock()

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := inst.restore(rec); err != nil {
		return nil, err
	}
	return inst, nil
}

// ExecuteJob resumes a suspended instance with the operation of job. Jobs
// that no longer match the instance are dropped. When the resumed chain
// fails the instance is rolled back to its suspended state, so a retry
// starts over from the same point.
func (e *Engine) ExecuteJob(ctx context.Context, job scheduler.Job) error {
	inst, ok := e.Instance(job.InstanceID)
	if !ok {
		loaded, err := e.load(ctx, job.InstanceID)
		if err != nil {
			return err
		}
		inst = loaded
	}
	op, err := e.ops.lookup(job.Operation)
	if err != nil {
		return err
	}

	return inst.run(ctx, "job "+job.Operation, func(ctx context.Context) error {
		exec := inst.execution
		if inst.state != store.StateSuspended || inst.pending != job.Operation || exec == nil || exec.id != job.ExecutionID {
			e.instanceLogger(ctx, inst).Warn("dropping stale job %s for operation %s", job.ID, job.Operation)
			return nil
		}

		snapshot := inst.Snapshot()
		inst.state = store.StateRunning
		inst.pending = ""
		if err := exec.PerformOperationSync(ctx, op); err != nil {
			if rerr := inst.restore(snapshot); rerr != nil {
				e.instanceLogger(ctx, inst).Error("rollback failed: %v", rerr)
			}
			return err
		}
		return nil
	})
}

// persist writes the instance record when a store is configured.
func (e *Engine) persist(ctx context.Context, inst *ProcessInstance) error {
	if e.store == nil {
		return nil
	}
	version, err := e.store.SaveIfVersion(ctx, inst.Snapshot(), inst.version)
	if err != nil {
		return err
	}
	inst.version = version
	return nil
}

func (e *Engine) instanceLogger(ctx context.Context, inst *ProcessInstance) pvm.Logger {
	fields := map[string]any{
		"instance_id":    inst.id,
		"definition_key": inst.definition.Key,
		"state":          inst.state,
	}
	return pvm.WithLoggerFields(e.logger.WithContext(ctx), fields)
}
