package colony

import (
	"sync"
	"time"
)

// CreatureAI runs a creature's tasks one at a time, one tick per registry tick.
// Assign may be called from any goroutine.
type CreatureAI struct {
	mu      sync.Mutex
	queue   []*Task
	current *Task

	// Completed counts tasks that finished with Success.
	Completed int `json:"completed"`
	// Failed counts tasks that finished with Failure, cancellations included.
	Failed int `json:"failed"`
}

// Assign queues t behind the current task.
func (ai *CreatureAI) Assign(t *Task) {
	ai.mu.Lock()
	ai.queue = append(ai.queue, t)
	ai.mu.Unlock()
}

// Current returns the running task, or nil.
func (ai *CreatureAI) Current() *Task {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.current
}

// Idle reports whether the creature has nothing to do.
func (ai *CreatureAI) Idle() bool {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.current == nil && len(ai.queue) == 0
}

// CancelCurrent requests cancellation of the running task. Its cleanup runs at the
// next update.
func (ai *CreatureAI) CancelCurrent() {
	if t := ai.Current(); t != nil {
		t.Cancel()
	}
}

// CancelAll requests cancellation of the running task and drops queued ones.
func (ai *CreatureAI) CancelAll() {
	ai.mu.Lock()
	ai.queue = nil
	cur := ai.current
	ai.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
}

// Detach implements Detachable. Queued tasks are dropped and the running one is
// cancelled and ticked once, so a creature removed mid-task still returns what it
// carried and releases what it reserved.
func (ai *CreatureAI) Detach(e *Entity) {
	ai.mu.Lock()
	t := ai.current
	ai.current = nil
	ai.queue = nil
	ai.mu.Unlock()

	if t == nil || t.Done() {
		return
	}
	t.Cancel()
	t.Tick()
	ai.Failed++
	if m := e.Manager(); m != nil {
		m.Logger().Debug("colony: task abandoned", "task", t.Name, "entity", e.ID())
	}
}

// Update implements Updater.
func (ai *CreatureAI) Update(e *Entity, _ time.Duration, _ *World) {
	if c := Get[Creature](e); c != nil && c.IsDead() {
		ai.CancelAll()
	}

	ai.mu.Lock()
	if ai.current == nil && len(ai.queue) > 0 {
		ai.current = ai.queue[0]
		ai.queue = ai.queue[1:]
	}
	t := ai.current
	ai.mu.Unlock()

	if t == nil {
		return
	}

	st := t.Tick()
	if st == Running {
		return
	}

	ai.mu.Lock()
	ai.current = nil
	ai.mu.Unlock()

	if st == Success {
		ai.Completed++
		return
	}
	ai.Failed++
	if m := e.Manager(); m != nil {
		m.Logger().Debug("colony: task failed", "task", t.Name, "entity", e.ID(), "cancelled", t.Cancelled())
	}
}
