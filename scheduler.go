package colony

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Scheduler drives a Manager: staged loop systems around the registry tick, on a
// fixed-rate goroutine or one Step at a time.
type Scheduler struct {
	manager *Manager

	// Loop management
	loops   [stageCount][]*loopState
	loopsMu sync.RWMutex

	// Execution state
	running      atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once

	// clock is simulated time, advanced by each step's dt
	clock time.Time
}

// loopState tracks the state of a single loop system.
type loopState struct {
	meta     *SystemMeta
	bundle   *Bundle
	interval time.Duration
	nextRun  time.Time
}

// ShouldRun checks if the loop should run at the given time.
func (l *loopState) ShouldRun(now time.Time) bool {
	if l.interval == 0 {
		return true
	}
	return !now.Before(l.nextRun)
}

// MarkRun schedules the next run.
func (l *loopState) MarkRun(now time.Time) {
	if l.interval > 0 {
		// Drift-free timing
		l.nextRun = l.nextRun.Add(l.interval)
		if l.nextRun.Before(now) {
			// Catch up if we're behind
			l.nextRun = now.Add(l.interval)
		}
	}
}

// newScheduler creates a new scheduler.
func newScheduler(manager *Manager) *Scheduler {
	return &Scheduler{
		manager: manager,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the scheduler's tick loop. A stopped scheduler cannot be restarted.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return
	}
	go s.tickLoop()
}

// Stop gracefully shuts down the scheduler and waits for the running tick to end.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// tickLoop is the main scheduler loop.
func (s *Scheduler) tickLoop() {
	defer close(s.doneCh)

	rate := s.manager.tickRate
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Step(rate)
		}
	}
}

// Step runs one tick synchronously: Before loops, entity updates, Default loops,
// After loops, due timers, then the flush. It must not be called while the tick loop
// is running.
func (s *Scheduler) Step(dt time.Duration) {
	m := s.manager
	tick := m.tick.Add(1)

	_, span := m.tracer.Start(context.Background(), "colony.tick",
		trace.WithAttributes(
			attribute.Int64("colony.tick", int64(tick)),
			attribute.Int("colony.entities", m.Len()),
		))
	defer span.End()

	s.clock = s.clock.Add(dt)
	now := s.clock

	s.runLoopsForStage(now, Before)
	m.update(dt, m.world)
	s.runLoopsForStage(now, Default)
	s.runLoopsForStage(now, After)
	m.runTimers()
	m.Flush()
}

// runLoopsForStage executes every due loop of a stage in name order.
func (s *Scheduler) runLoopsForStage(now time.Time, stage Stage) {
	s.loopsMu.RLock()
	loops := s.loops[stage]
	s.loopsMu.RUnlock()

	for _, loop := range loops {
		if !loop.ShouldRun(now) {
			continue
		}
		s.executeLoop(loop)
		loop.MarkRun(now)
	}
}

// executeLoop runs a loop once, or once per matching entity.
func (s *Scheduler) executeLoop(loop *loopState) {
	m := s.manager
	system := loop.meta.Pool.Get().(Runnable)
	defer func() {
		zeroSystem(system, loop.meta)
		loop.meta.Pool.Put(system)
	}()

	if !loop.meta.PerEntity {
		if injectSystem(system, nil, loop.meta, m) {
			s.run(system, loop)
		}
		return
	}

	for _, e := range m.Entities() {
		if e == m.root || e.Closed() || !e.HasFlag(Active) || !loop.meta.canRun(e) {
			continue
		}
		if !injectSystem(system, e, loop.meta, m) {
			zeroSystem(system, loop.meta)
			continue
		}
		if !s.run(system, loop) {
			return
		}
		zeroSystem(system, loop.meta)
	}
}

// run executes the system and reports whether it returned normally.
func (s *Scheduler) run(system Runnable, loop *loopState) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.handleSystemPanic(loop, r)
			ok = false
		}
	}()
	system.Run()
	return true
}

// addLoop registers a loop with the scheduler.
func (s *Scheduler) addLoop(meta *SystemMeta, bundle *Bundle, interval time.Duration, stage Stage) {
	s.loopsMu.Lock()
	defer s.loopsMu.Unlock()

	s.loops[stage] = append(s.loops[stage], &loopState{
		meta:     meta,
		bundle:   bundle,
		interval: interval,
	})
	// Sort loops by name to ensure deterministic order
	slices.SortStableFunc(s.loops[stage], func(a, b *loopState) int {
		return strings.Compare(a.meta.Name, b.meta.Name)
	})
}

// handleSystemPanic logs the panic and stops the scheduler once.
func (s *Scheduler) handleSystemPanic(loop *loopState, recovered any) {
	err := fmt.Errorf("colony: panic in loop %s: %v", loop.meta.Name, recovered)
	s.manager.log.Error(err.Error(), "bundle", loop.bundle.Name(), "stack", string(debug.Stack()))
	s.shutdownOnce.Do(func() {
		// Stop waits for the tick goroutine, which may be the caller
		go s.Stop()
	})
}
