package executor

import (
	"context"
	"errors"
	"slices"
)

// Group tracks a set of tasks, so they may be waited on, or canceled,
// together. The zero value is not usable, see NewGroup.
type Group struct {
	exec  *Executor
	tasks []*Task
}

// NewGroup returns an empty group, spawning on e.
func NewGroup(e *Executor) *Group {
	return &Group{exec: e}
}

// Go spawns fn, see Executor.Spawn, and adds the task to the group.
func (g *Group) Go(ctx context.Context, fn func(t *Task) error) (*Task, error) {
	t, err := g.exec.Spawn(ctx, fn)
	if err != nil {
		return nil, err
	}
	g.tasks = append(g.tasks, t)
	return t, nil
}

// GC removes finished tasks from the group, returning the number removed.
func (g *Group) GC() int {
	n := len(g.tasks)
	g.tasks = slices.DeleteFunc(g.tasks, (*Task).Finished)
	return n - len(g.tasks)
}

// Count returns the number of unfinished tasks in the group.
func (g *Group) Count() (n int) {
	for _, t := range g.tasks {
		if !t.Finished() {
			n++
		}
	}
	return n
}

// Len returns the number of tasks in the group, including finished tasks
// that have not been removed by GC.
func (g *Group) Len() int {
	return len(g.tasks)
}

// CancelAll cancels the context of every task in the group.
func (g *Group) CancelAll() {
	for _, t := range g.tasks {
		t.Cancel()
	}
}

// Wait suspends t until every task in the group, as of the call, has
// finished, or ctx is done. It must be called from within t, which must not
// be a member of the group.
func (g *Group) Wait(ctx context.Context, t *Task) error {
	return t.Join(ctx, slices.Clone(g.tasks)...)
}

// Err joins the errors of the group's finished tasks.
func (g *Group) Err() error {
	var errs []error
	for _, t := range g.tasks {
		if t.Finished() && t.err != nil {
			errs = append(errs, t.err)
		}
	}
	return errors.Join(errs...)
}
