// internal/chain/journal.go
package chain

import (
	"context"
)

type journalKey struct{}

// Journal collects undo steps for one call. Every participant that mutates
// state records how to reverse it; a failed call replays the steps in reverse
// order so that no partial effect is ever observable.
type Journal struct {
	undo   []func()
	after  []func()
	settle []func()
	locals map[any]any
}

// Run executes fn atomically. When ctx already carries a journal, fn joins it
// as a savepoint: its own steps are reverted on error and the outer call
// decides the final outcome. Call-local state is settled and functions
// registered with AfterCommit run only once the outermost call succeeds.
func Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if j, ok := ctx.Value(journalKey{}).(*Journal); ok {
		undoMark, afterMark := len(j.undo), len(j.after)
		defer func() {
			if r := recover(); r != nil {
				j.revertTo(undoMark, afterMark)
				panic(r)
			}
			if err != nil {
				j.revertTo(undoMark, afterMark)
			}
		}()
		return fn(ctx)
	}

	j := &Journal{}
	jctx := context.WithValue(ctx, journalKey{}, j)
	defer func() {
		if r := recover(); r != nil {
			j.revertTo(0, 0)
			panic(r)
		}
	}()

	if err = fn(jctx); err != nil {
		j.revertTo(0, 0)
		return err
	}
	for _, f := range j.settle {
		f()
	}
	for _, f := range j.after {
		f()
	}
	return nil
}

// Record registers an undo step for the current call. Outside of Run the
// mutation is final and the step is dropped.
func Record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*Journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// AfterCommit defers f until the outermost call commits. Outside of Run f is
// executed immediately.
func AfterCommit(ctx context.Context, f func()) {
	if j, ok := ctx.Value(journalKey{}).(*Journal); ok {
		j.after = append(j.after, f)
		return
	}
	f()
}

// Local returns the state that owner keeps for the running call, creating it
// on first use. settle receives the state when the outermost call commits;
// savepoint reverts keep the registration and rely on undo steps to restore
// the state itself. ok is false outside of Run.
func Local[T any](ctx context.Context, owner any, create func() T, settle func(T)) (v T, ok bool) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	if !ok {
		return v, false
	}
	if cur, found := j.locals[owner]; found {
		return cur.(T), true
	}
	if j.locals == nil {
		j.locals = make(map[any]any)
	}
	v = create()
	j.locals[owner] = v
	j.settle = append(j.settle, func() { settle(v) })
	return v, true
}

// InCall reports whether ctx belongs to a running call.
func InCall(ctx context.Context) bool {
	_, ok := ctx.Value(journalKey{}).(*Journal)
	return ok
}

func (j *Journal) revertTo(undoMark, afterMark int) {
	for i := len(j.undo) - 1; i >= undoMark; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:undoMark]
	j.after = j.after[:afterMark]
}
