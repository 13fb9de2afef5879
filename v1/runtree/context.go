package runtree

import (
	"context"
	"errors"
	"fmt"
)

type runContextKey struct{}

// ContextWithRun returns a copy of ctx carrying run as the ambient run.
func ContextWithRun(ctx context.Context, run *Run) context.Context {
	if run == nil {
		return ctx
	}
	return context.WithValue(ctx, runContextKey{}, run)
}

// RunFromContext returns the ambient run, if any.
func RunFromContext(ctx context.Context) (*Run, bool) {
	if ctx == nil {
		return nil, false
	}
	run, ok := ctx.Value(runContextKey{}).(*Run)
	return run, ok && run != nil
}

// Trace runs fn inside a new run and ends that run on every exit path.
//
// The run is a child of the ambient run of ctx, or the root of a new tree when
// ctx carries none; tree level options such as WithSink only apply in that case.
// fn receives a context carrying the new run, so nested Trace calls build the
// tree without passing runs around.
//
// Outputs returned by fn become the run outputs. A returned error or a panic
// ends the run with that error; panics are re-raised after the run ended. If fn
// ends the run itself, Trace leaves it alone. When Trace created the tree and a
// sink is configured, the tree is flushed before returning; flush failures are
// logged only, the error of fn takes precedence.
//
// Example:
//
//	out, err := runtree.Trace(ctx, "retrieve", runtree.RunTypeRetriever, inputs,
//	    func(ctx context.Context, run *runtree.Run) (runtree.Payload, error) {
//	        docs, err := store.Search(ctx, q)
//	        if err != nil {
//	            return runtree.Payload{}, err
//	        }
//	        return runtree.NewPayload(map[string]interface{}{"documents": docs})
//	    })
func Trace(ctx context.Context, name, runType string, inputs Payload, fn func(context.Context, *Run) (Payload, error), opts ...Option) (out Payload, err error) {
	var (
		run     *Run
		created *Tree
	)
	if parent, ok := RunFromContext(ctx); ok {
		run, err = parent.CreateChild(name, runType, inputs, opts...)
	} else {
		created, err = NewRoot(name, runType, inputs, opts...)
		if created != nil {
			run = created.Root()
		}
	}
	if err != nil {
		return Payload{}, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			endQuietly(run, Payload{}, WithError(fmt.Errorf("panic: %v", rec)))
			flushCreated(ctx, created, run)
			panic(rec)
		}
		if err != nil {
			endQuietly(run, out, WithError(err))
		} else {
			endQuietly(run, out)
		}
		flushCreated(ctx, created, run)
	}()

	return fn(ContextWithRun(ctx, run), run)
}

func endQuietly(run *Run, outputs Payload, opts ...EndOption) {
	if err := run.End(outputs, opts...); err != nil && !errors.Is(err, ErrAlreadyEnded) {
		run.tree.logger.WarnWithContext(ContextWithRun(context.Background(), run), "failed to end traced run", err)
	}
}

func flushCreated(ctx context.Context, tree *Tree, run *Run) {
	if tree == nil || tree.sink == nil {
		return
	}
	if err := tree.Flush(context.WithoutCancel(ctx)); err != nil {
		tree.logger.ErrorWithContext(ContextWithRun(ctx, run), "failed to flush run tree", err)
	}
}
