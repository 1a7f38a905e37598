package colony

import (
	"sync"
	"sync/atomic"
)

// timerJob is a callback due at a simulation tick.
type timerJob struct {
	at        uint64
	seq       uint64
	entity    *Entity
	fn        func(m *Manager)
	cancelled atomic.Bool
	index     int
}

// TimerHandle cancels a job scheduled with Manager.After.
type TimerHandle struct {
	job *timerJob
}

// Cancel prevents the job from running. Cancelling a job that already ran is a no-op.
func (h *TimerHandle) Cancel() {
	if h == nil || h.job == nil {
		return
	}
	h.job.cancelled.Store(true)
	if h.job.entity != nil {
		h.job.entity.removeTimer(h.job)
	}
}

// timerQueue is a min-heap of jobs ordered by due tick, then by scheduling order.
type timerQueue struct {
	mu   sync.Mutex
	heap []*timerJob
	seq  uint64
}

func newTimerQueue() *timerQueue {
	return &timerQueue{heap: make([]*timerJob, 0, 64)}
}

// After schedules fn to run after the given number of ticks, once the timers of that
// tick fire. When e is non-nil the job is cancelled if e is removed first.
// Safe to call from any goroutine.
func (m *Manager) After(ticks uint64, e *Entity, fn func(m *Manager)) *TimerHandle {
	job := &timerJob{
		at:     m.tick.Load() + ticks,
		entity: e,
		fn:     fn,
	}
	if e != nil {
		if e.Closed() {
			job.cancelled.Store(true)
			return &TimerHandle{job: job}
		}
		e.addTimer(job)
	}
	m.timers.push(job)
	return &TimerHandle{job: job}
}

// PendingTimers returns the number of queued jobs, cancelled ones included.
func (m *Manager) PendingTimers() int {
	return m.timers.len()
}

// runTimers fires every job due at the current tick.
func (m *Manager) runTimers() {
	for _, job := range m.timers.popDue(m.tick.Load()) {
		if job.cancelled.Load() {
			continue
		}
		if job.entity != nil {
			job.entity.removeTimer(job)
		}
		job.fn(m)
	}
}

func (q *timerQueue) push(job *timerJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) > 100 && len(q.heap)%100 == 0 {
		q.compact()
	}
	q.seq++
	job.seq = q.seq
	job.index = len(q.heap)
	q.heap = append(q.heap, job)
	q.up(job.index)
}

// popDue removes and returns every job due at or before tick, in order.
func (q *timerQueue) popDue(tick uint64) []*timerJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*timerJob
	for len(q.heap) > 0 && q.heap[0].at <= tick {
		job := q.pop()
		if !job.cancelled.Load() {
			due = append(due, job)
		}
	}
	return due
}

func (q *timerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// compact drops cancelled jobs and restores the heap property. Caller holds mu.
func (q *timerQueue) compact() {
	write := 0
	for _, job := range q.heap {
		if !job.cancelled.Load() {
			job.index = write
			q.heap[write] = job
			write++
		}
	}
	clear(q.heap[write:])
	q.heap = q.heap[:write]
	for i := len(q.heap)/2 - 1; i >= 0; i-- {
		q.down(i, len(q.heap))
	}
}

func (q *timerQueue) pop() *timerJob {
	n := len(q.heap) - 1
	q.swap(0, n)
	q.down(0, n)
	job := q.heap[n]
	q.heap[n] = nil
	q.heap = q.heap[:n]
	job.index = -1
	return job
}

func (q *timerQueue) less(i, j int) bool {
	a, b := q.heap[i], q.heap[j]
	if a.at != b.at {
		return a.at < b.at
	}
	return a.seq < b.seq
}

func (q *timerQueue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *timerQueue) down(i, n int) {
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		j := left
		if right := left + 1; right < n && q.less(right, left) {
			j = right
		}
		if !q.less(j, i) {
			break
		}
		q.swap(i, j)
		i = j
	}
}

func (q *timerQueue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.heap[i].index = i
	q.heap[j].index = j
}
