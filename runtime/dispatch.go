package runtime

import (
	"context"

	"github.com/goliatone/go-pvm"
)

// frame is the work queue of one representation that is currently being
// driven. Frames nest when an operation triggers work on another
// representation; the nested frame runs to completion before control returns.
type frame struct {
	execution *Execution
	queue     []pvm.Operation
	parent    *frame
	done      bool
}

type frameKey struct{}

func currentFrame(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}

// activeFrame returns the frame driving e on the call chain of ctx.
func activeFrame(ctx context.Context, e *Execution) *frame {
	for f := currentFrame(ctx); f != nil; f = f.parent {
		if f.execution == e && !f.done {
			return f
		}
	}
	return nil
}

// FrameDepth reports how many dispatch frames are open on ctx.
func FrameDepth(ctx context.Context) int {
	n := 0
	for f := currentFrame(ctx); f != nil; f = f.parent {
		if !f.done {
			n++
		}
	}
	return n
}

// handOff rebinds the frame driving from to its replacement, so the chain
// continues in the same frame instead of opening a nested one.
func handOff(ctx context.Context, from, to *Execution) {
	if f := activeFrame(ctx, from); f != nil {
		f.execution = to
	}
}

// drive runs op and every operation queued behind it in a loop, so a
// listener chain of any length uses constant stack. Queued operations run
// on the representation the frame is bound to at the time.
func drive(ctx context.Context, e *Execution, op pvm.Operation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := &frame{
		execution: e,
		queue:     []pvm.Operation{op},
		parent:    currentFrame(ctx),
	}
	defer func() { f.done = true }()
	ctx = context.WithValue(ctx, frameKey{}, f)

	for len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		if err := next.Execute(ctx, f.execution); err != nil {
			return err
		}
	}
	return nil
}
