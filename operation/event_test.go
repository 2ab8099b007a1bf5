package operation

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pvm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventOperationVisitsListenersInOrderAcrossCalls(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"), tr.listener("b2"))
	scope.AddCustom("start", tr.listener("c1"))

	done := &completions{}
	op := MustNew(testHooks(done))
	exec := newFake(scope)

	n := 3
	for i := 0; i < n+1; i++ {
		require.NoError(t, op.Execute(context.Background(), exec))
	}

	assert.Equal(t, []string{"b1", "b2", "c1"}, tr.calls)
	assert.Equal(t, 1, done.count)
	assert.Equal(t, n, exec.redispatched)
	assert.True(t, pvm.IsIdle(exec))
}

func TestEventOperationExampleRequiresFourCalls(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("L1"))
	scope.AddCustom("start", tr.listener("L2"), tr.listener("L3"))

	done := &completions{}
	op := MustNew(testHooks(done))
	exec := newFake(scope)
	ctx := context.Background()

	require.NoError(t, op.Execute(ctx, exec))
	assert.Equal(t, []string{"L1"}, tr.calls)
	assert.Equal(t, 1, exec.ListenerIndex())
	assert.Equal(t, "start", exec.EventName())
	assert.Same(t, scope, exec.EventSource())

	require.NoError(t, op.Execute(ctx, exec))
	assert.Equal(t, 2, exec.ListenerIndex())

	require.NoError(t, op.Execute(ctx, exec))
	assert.Equal(t, 3, exec.ListenerIndex())
	assert.Equal(t, 0, done.count)

	require.NoError(t, op.Execute(ctx, exec))
	assert.Equal(t, []string{"L1", "L2", "L3"}, tr.calls)
	assert.Equal(t, 1, done.count)
	assert.Equal(t, 0, exec.ListenerIndex())
	assert.Empty(t, exec.EventName())
	assert.Nil(t, exec.EventSource())
}

func TestEventOperationSkipsCustomListeners(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"), tr.listener("b2"))
	scope.AddCustom("start", tr.listener("c1"), tr.listener("c2"), tr.listener("c3"))

	done := &completions{}
	op := MustNew(testHooks(done))
	exec := newFake(scope)
	exec.skipCustom = true
	exec.autoDrive = true

	require.NoError(t, op.Execute(context.Background(), exec))

	assert.Equal(t, []string{"b1", "b2"}, tr.calls)
	assert.Equal(t, 1, done.count)
	assert.True(t, pvm.IsIdle(exec))
}

func TestEventOperationSkipNotifyListenersCompletesDirectly(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"))

	done := &completions{}
	hooks := testHooks(done)
	hooks.SkipNotifyListeners = func(pvm.Execution) bool { return true }
	op := MustNew(hooks)
	exec := newFake(scope)

	require.NoError(t, op.Execute(context.Background(), exec))

	assert.Empty(t, tr.calls)
	assert.Equal(t, 1, done.count)
	assert.Empty(t, exec.EventName())
	assert.Nil(t, exec.EventSource())
	assert.Zero(t, exec.redispatched)
}

func TestEventOperationAbandonsWhenAssumptionRefuses(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"))

	done := &completions{}
	hooks := testHooks(done)
	hooks.Started = func(_ context.Context, execution pvm.Execution) (pvm.Execution, error) {
		execution.(*guardedExecution).marker = "started"
		return execution, nil
	}
	metrics := &BasicMetrics{}
	op := MustNew(hooks,
		WithAssumeFunc(func(_, _ pvm.Guarded) bool { return false }),
		WithObserver(metrics),
	)
	exec := newGuarded("token-1", scope)
	exec.autoDrive = true

	require.NoError(t, op.Execute(context.Background(), exec))

	assert.Empty(t, tr.calls)
	assert.Zero(t, done.count)
	assert.Equal(t, "started", exec.marker)
	assert.True(t, pvm.IsIdle(exec))
	assert.Zero(t, exec.redispatched)
	assert.Equal(t, int64(1), metrics.Snapshot().ChainsAbandoned)
	assert.Equal(t, int64(0), metrics.Snapshot().ChainsStarted)
}

func TestEventOperationDefaultAssumeDropsStaleExecution(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"))

	done := &completions{}
	op := MustNew(testHooks(done))
	exec := newGuarded("token-1", scope)
	exec.stale = true

	require.NoError(t, op.Execute(context.Background(), exec))
	assert.Empty(t, tr.calls)
	assert.Zero(t, done.count)
}

func TestEventOperationThreadsReplacementExecution(t *testing.T) {
	tr := &trace{}
	scope := newScope("task")
	scope.AddBuiltIn("start", tr.listener("b1"))

	original := newGuarded("token-1", scope)
	replacement := newGuarded("token-1", scope)
	replacement.autoDrive = true

	var adopted pvm.Guarded
	done := &completions{}
	hooks := testHooks(done)
	hooks.Started = func(context.Context, pvm.Execution) (pvm.Execution, error) {
		return replacement, nil
	}
	hooks.Completed = func(ctx context.Context, execution pvm.Execution) error {
		adopted = pvm.CurrentAssumption(ctx).Execution()
		return done.hook(ctx, execution)
	}
	op := MustNew(hooks)

	require.NoError(t, op.Execute(context.Background(), original))

	assert.Equal(t, []string{"b1"}, tr.calls)
	assert.Same(t, replacement, done.last)
	assert.Same(t, replacement, adopted)
	assert.True(t, pvm.IsIdle(original))
	assert.Zero(t, original.redispatched)
	assert.Equal(t, 1, replacement.redispatched)
}

func TestEventOperationNestedChainKeepsOuterCursor(t *testing.T) {
	tr := &trace{}
	innerScope := newScope("inner")
	innerScope.AddBuiltIn("start", tr.listener("i1"), tr.listener("i2"))

	innerDone := &completions{}
	innerHooks := testHooks(innerDone)
	innerHooks.Name = "inner-start"
	innerOp := MustNew(innerHooks)
	inner := newGuarded("token-inner", innerScope)
	inner.autoDrive = true

	outer := newGuarded("token-outer", nil)
	outer.autoDrive = true

	var assumedInside pvm.Guarded
	outerScope := newScope("outer")
	outerScope.AddBuiltIn("start",
		tr.listener("o1"),
		pvm.ListenerFunc(func(ctx context.Context, execution pvm.Execution) error {
			tr.calls = append(tr.calls, "o2")
			if err := innerOp.Execute(ctx, inner); err != nil {
				return err
			}
			assumedInside = pvm.CurrentAssumption(ctx).Execution()
			assert.Equal(t, 2, execution.ListenerIndex())
			return nil
		}),
		tr.listener("o3"),
	)
	outer.scope = outerScope

	outerDone := &completions{}
	outerOp := MustNew(testHooks(outerDone))

	require.NoError(t, outerOp.Execute(context.Background(), outer))

	assert.Equal(t, []string{"o1", "o2", "i1", "i2", "o3"}, tr.calls)
	assert.Equal(t, 1, innerDone.count)
	assert.Equal(t, 1, outerDone.count)
	assert.Same(t, outer, assumedInside)
	assert.True(t, pvm.IsIdle(outer))
	assert.True(t, pvm.IsIdle(inner))
}

type fatalError struct{ msg string }

func (e *fatalError) Error() string { return e.msg }
func (e *fatalError) RuntimeError() {}

func TestEventOperationListenerErrors(t *testing.T) {
	engineErr := goerrors.New("incident", goerrors.CategoryHandler).WithTextCode("INCIDENT")
	runtimeErr := &fatalError{msg: "index out of range"}
	plainErr := stderrors.New("boom")

	cases := []struct {
		name   string
		err    error
		verify func(t *testing.T, got error)
	}{
		{
			name: "engine errors pass through",
			err:  engineErr,
			verify: func(t *testing.T, got error) {
				assert.Same(t, engineErr, got)
			},
		},
		{
			name: "runtime markers pass through",
			err:  runtimeErr,
			verify: func(t *testing.T, got error) {
				assert.Same(t, runtimeErr, got)
			},
		},
		{
			name: "plain errors are wrapped",
			err:  plainErr,
			verify: func(t *testing.T, got error) {
				var ge *goerrors.Error
				require.True(t, stderrors.As(got, &ge))
				assert.Equal(t, pvm.ErrCodeListenerFailed, ge.TextCode)
				assert.Contains(t, ge.Message, "boom")
				assert.Same(t, plainErr, ge.Source)
				assert.True(t, strings.Contains(got.Error(), "boom"))
				assert.Equal(t, 0, ge.Metadata["listener_index"])
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scope := newScope("task")
			failing := tc.err
			scope.AddBuiltIn("start", pvm.ListenerFunc(func(context.Context, pvm.Execution) error {
				return failing
			}))
			done := &completions{}
			op := MustNew(testHooks(done))
			exec := newGuarded("token-1", scope)
			exec.autoDrive = true

			err := op.Execute(context.Background(), exec)
			require.Error(t, err)
			tc.verify(t, err)
			assert.Zero(t, done.count)
			assert.Equal(t, 1, exec.ListenerIndex())
			assert.Zero(t, exec.redispatched)
		})
	}
}

func TestEventOperationReleasesAssumptionOnPanic(t *testing.T) {
	var captured *pvm.Assumption
	scope := newScope("task")
	scope.AddBuiltIn("start", pvm.ListenerFunc(func(ctx context.Context, _ pvm.Execution) error {
		captured = pvm.CurrentAssumption(ctx)
		panic("listener exploded")
	}))
	op := MustNew(testHooks(&completions{}))
	exec := newGuarded("token-1", scope)
	ctx := context.Background()

	assert.PanicsWithValue(t, "listener exploded", func() {
		_ = op.Execute(ctx, exec)
	})
	require.NotNil(t, captured)
	assert.False(t, captured.Active())
	assert.Nil(t, pvm.CurrentAssumption(ctx))
}

func TestEventOperationMissingScope(t *testing.T) {
	op := MustNew(testHooks(&completions{}))
	err := op.Execute(context.Background(), newFake(nil))
	assert.True(t, pvm.HasErrorCode(err, pvm.ErrCodeScopeMissing))
}

func TestNewRejectsMissingHooks(t *testing.T) {
	_, err := New(Hooks{Name: "broken"})
	require.Error(t, err)
	assert.True(t, pvm.HasErrorCode(err, pvm.ErrCodeHookMissing))

	var ge *goerrors.Error
	require.True(t, stderrors.As(err, &ge))
	assert.ElementsMatch(t, []string{"EventName", "Scope", "Completed"}, ge.Metadata["missing"])

	assert.Panics(t, func() { MustNew(Hooks{}) })
}

func TestIsAsyncDefaultsToFalse(t *testing.T) {
	op := MustNew(testHooks(&completions{}))
	assert.False(t, op.IsAsync(newFake(nil)))

	hooks := testHooks(&completions{})
	hooks.Async = func(pvm.Execution) bool { return true }
	assert.True(t, MustNew(hooks).IsAsync(newFake(nil)))
}
