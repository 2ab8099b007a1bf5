package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goliatone/go-pvm"
	"github.com/goliatone/go-pvm/model"
	"github.com/goliatone/go-pvm/runtime"
)

// builtinListeners registers the listeners that definitions run by the CLI
// can reference.
func builtinListeners(out io.Writer) (*model.ListenerRegistry, error) {
	reg := model.NewListenerRegistry()
	listeners := map[string]pvm.Listener{
		"log":    traceListener(out),
		"count":  pvm.ListenerFunc(countListener),
		"fail":   pvm.ListenerFunc(failListener),
		"cancel": pvm.ListenerFunc(cancelListener),
	}
	for _, name := range []string{"log", "count", "fail", "cancel"} {
		if err := reg.Register(name, listeners[name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// traceListener prints one line per notification: event, scope and the
// position of the listener in the chain.
func traceListener(out io.Writer) pvm.Listener {
	return pvm.ListenerFunc(func(_ context.Context, x pvm.Execution) error {
		scope := ""
		if src := x.EventSource(); src != nil {
			scope = src.ID()
		}
		_, err := fmt.Fprintf(out, "%-5s %-24s #%d\n", x.EventName(), scope, x.ListenerIndex())
		return err
	})
}

// countListener counts notifications per scope in the process variables.
func countListener(_ context.Context, x pvm.Execution) error {
	e, ok := runtime.FromExecution(x)
	if !ok {
		return nil
	}
	key := "count." + x.EventSource().ID()
	count := 0
	switch v, _ := e.Variable(key); n := v.(type) {
	case int:
		count = n
	case float64:
		// records decoded from JSON
		count = int(n)
	}
	e.SetVariable(key, count+1)
	return nil
}

func failListener(_ context.Context, x pvm.Execution) error {
	return fmt.Errorf("%s listener on %s failed", x.EventName(), x.EventSource().ID())
}

// cancelListener cancels the instance the first time it fires.
func cancelListener(ctx context.Context, x pvm.Execution) error {
	e, ok := runtime.FromExecution(x)
	if !ok {
		return nil
	}
	inst := e.Instance()
	if inst.Ended() {
		return nil
	}
	return inst.Cancel(ctx, false)
}
