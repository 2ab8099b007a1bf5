package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/stretchr/testify/require"
)

// recorder collects "event:scope" entries from the listeners it hands out.
type recorder struct {
	mu    sync.Mutex
	trace []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, entry)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.trace))
	copy(out, r.trace)
	return out
}

func (r *recorder) listener() pvm.Listener {
	return pvm.ListenerFunc(func(_ context.Context, x pvm.Execution) error {
		r.add(x.EventName() + ":" + x.EventSource().ID())
		return nil
	})
}

func (r *recorder) named(name string) pvm.Listener {
	return pvm.ListenerFunc(func(context.Context, pvm.Execution) error {
		r.add(name)
		return nil
	})
}

// orderDefinition is receive (task) -> approve (wait) -> done (end) with a
// recording custom listener on every scope event.
func orderDefinition(t *testing.T, rec *recorder) *model.ProcessDefinition {
	t.Helper()
	def := model.NewDefinition("order")
	def.Version = 1
	def.Initial = "receive"
	require.NoError(t, def.AddActivity(model.NewActivity("receive", model.KindTask)))
	require.NoError(t, def.AddActivity(model.NewActivity("approve", model.KindWait)))
	require.NoError(t, def.AddActivity(model.NewActivity("done", model.KindEnd)))
	_, err := def.Connect("", "receive", "approve")
	require.NoError(t, err)
	_, err = def.Connect("", "approve", "done")
	require.NoError(t, err)

	if rec != nil {
		for _, scope := range def.Scopes() {
			switch scope.(type) {
			case *model.Transition:
				scope.AddCustom(model.EventTake, rec.listener())
			default:
				scope.AddCustom(model.EventStart, rec.listener())
				scope.AddCustom(model.EventEnd, rec.listener())
			}
		}
	}
	return def
}

func activity(t *testing.T, def *model.ProcessDefinition, id string) *model.Activity {
	t.Helper()
	a, ok := def.Activity(id)
	require.True(t, ok, "activity %s", id)
	return a
}

func newTestEngine(t *testing.T, def *model.ProcessDefinition, opts ...Option) *Engine {
	t.Helper()
	engine := NewEngine(opts...)
	require.NoError(t, engine.Deploy(def))
	return engine
}
