package colony

import (
	bt "github.com/joeycumines/go-behaviortree"
)

// Status is the result of one tick of a behavior node. It shares its values with
// go-behaviortree so trees can be mixed.
type Status = bt.Status

const (
	Running = bt.Running
	Success = bt.Success
	Failure = bt.Failure
)

// Routine is a resumable computation. Each call to Step advances it by one tick and
// returns Running until it reaches a terminal status. State that must survive between
// steps lives in the implementing value.
type Routine interface {
	Step() Status
}

// Canceler is implemented by routines that hold external state that must be released
// when their node is cancelled mid-flight.
type Canceler interface {
	Cancel()
}

// RoutineFunc adapts a stateless function into a Routine.
type RoutineFunc func() Status

// Step calls f.
func (f RoutineFunc) Step() Status {
	return f()
}

// steps runs a fixed list of phases. A phase returning Success advances to the next
// phase within the same tick; Running suspends at the current phase.
type steps struct {
	phases []func() Status
	at     int
}

// Steps builds a Routine from sequential phases.
func Steps(phases ...func() Status) Routine {
	return &steps{phases: phases}
}

func (s *steps) Step() Status {
	for s.at < len(s.phases) {
		switch st := s.phases[s.at](); st {
		case Success:
			s.at++
		case Running:
			return Running
		default:
			return Failure
		}
	}
	return Success
}

// waitTicks yields Running a fixed number of times, then Success.
type waitTicks struct {
	left int
}

// WaitTicks returns a Routine that stays Running for n ticks.
func WaitTicks(n int) Routine {
	return &waitTicks{left: n}
}

func (w *waitTicks) Step() Status {
	if w.left <= 0 {
		return Success
	}
	w.left--
	return Running
}
