package colony

import (
	"sync/atomic"
)

// Task is a behavior tree bound to one agent and one goal.
//
// Cancel may be called from any goroutine. The request is observed at the next Tick,
// which aborts the tree, runs the OnCanceled hook exactly once and returns Failure.
type Task struct {
	Name string

	root       *Act
	onCanceled func()
	cancelled  atomic.Bool

	done   bool
	result Status
}

// NewTask binds root to a task.
func NewTask(name string, root *Act) *Task {
	return &Task{Name: name, root: root}
}

// OnCanceled sets the cleanup hook run when the task is cancelled.
func (t *Task) OnCanceled(fn func()) *Task {
	t.onCanceled = fn
	return t
}

// Root returns the task's tree.
func (t *Task) Root() *Act {
	return t.root
}

// Cancel requests cancellation.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done reports whether the task reached a terminal status.
func (t *Task) Done() bool {
	return t.done
}

// Result returns the terminal status, or Running while the task is unfinished.
func (t *Task) Result() Status {
	if !t.done {
		return Running
	}
	return t.result
}

// Tick advances the task by one tick. A finished task keeps returning its result.
func (t *Task) Tick() Status {
	if t.done {
		return t.result
	}
	if t.cancelled.Load() {
		t.root.Cancel()
		if t.onCanceled != nil {
			t.onCanceled()
		}
		return t.finish(Failure)
	}
	st := t.root.Tick()
	if st != Running {
		return t.finish(st)
	}
	return Running
}

func (t *Task) finish(st Status) Status {
	t.done = true
	t.result = st
	return st
}
