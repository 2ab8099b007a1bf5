package operation

import (
	"context"

	"github.com/goliatone/go-pvm"
)

type testScope struct {
	pvm.ListenerSet
	id string
}

func (s *testScope) ID() string { return s.id }

func newScope(id string) *testScope {
	return &testScope{id: id}
}

// fakeExecution records everything the operation does to it. With autoDrive
// it trampolines re-dispatches like a real execution tree; without it every
// re-dispatch is only counted and the test plays the driver.
type fakeExecution struct {
	self pvm.Execution

	scope       pvm.Scope
	index       int
	eventName   string
	eventSource pvm.Scope
	skipCustom  bool
	marker      string

	redispatched int
	autoDrive    bool
	driving      bool
	pending      []pvm.Operation
}

func newFake(scope pvm.Scope) *fakeExecution {
	f := &fakeExecution{scope: scope}
	f.self = f
	return f
}

func (f *fakeExecution) ListenerIndex() int             { return f.index }
func (f *fakeExecution) SetListenerIndex(idx int)       { f.index = idx }
func (f *fakeExecution) EventName() string              { return f.eventName }
func (f *fakeExecution) SetEventName(name string)       { f.eventName = name }
func (f *fakeExecution) EventSource() pvm.Scope         { return f.eventSource }
func (f *fakeExecution) SetEventSource(scope pvm.Scope) { f.eventSource = scope }
func (f *fakeExecution) SkipCustomListeners() bool      { return f.skipCustom }
func (f *fakeExecution) CurrentScope() pvm.Scope        { return f.scope }

func (f *fakeExecution) InvokeListener(ctx context.Context, listener pvm.Listener) error {
	return listener.Notify(ctx, f.self)
}

func (f *fakeExecution) PerformOperationSync(ctx context.Context, op pvm.Operation) error {
	f.redispatched++
	if !f.autoDrive {
		return nil
	}
	f.pending = append(f.pending, op)
	if f.driving {
		return nil
	}
	f.driving = true
	defer func() { f.driving = false }()
	for len(f.pending) > 0 {
		next := f.pending[0]
		f.pending = f.pending[1:]
		if err := next.Execute(ctx, f.self); err != nil {
			return err
		}
	}
	return nil
}

type guardedExecution struct {
	*fakeExecution
	token string
	stale bool
}

func newGuarded(token string, scope pvm.Scope) *guardedExecution {
	g := &guardedExecution{fakeExecution: newFake(scope), token: token}
	g.self = g
	return g
}

func (g *guardedExecution) TokenID() string { return g.token }
func (g *guardedExecution) IsStale() bool   { return g.stale }

type trace struct {
	calls []string
}

func (t *trace) listener(name string) pvm.Listener {
	return pvm.Named(name, pvm.ListenerFunc(func(context.Context, pvm.Execution) error {
		t.calls = append(t.calls, name)
		return nil
	}))
}

func scopeOf(execution pvm.Execution) pvm.Scope {
	return execution.CurrentScope()
}

type completions struct {
	count int
	last  pvm.Execution
}

func (c *completions) hook(_ context.Context, execution pvm.Execution) error {
	c.count++
	c.last = execution
	return nil
}

func testHooks(c *completions) Hooks {
	return Hooks{
		Name:      "test-start",
		EventName: "start",
		Scope:     scopeOf,
		Completed: c.hook,
	}
}
