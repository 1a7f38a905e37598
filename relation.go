package colony

import (
	"sync"
)

// Relation is a weak reference from a component to another entity that is expected to
// carry a component of type T. The reference reads as empty once the target has been
// removed, so holders never observe a dead entity.
//
// Usage:
//
//	type Station struct {
//	    reservedBy colony.Relation[colony.Creature]
//	}
type Relation[T any] struct {
	mu     sync.Mutex
	target *Entity
}

// Set points the relation at target.
func (r *Relation[T]) Set(target *Entity) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

// Clear removes the target reference.
func (r *Relation[T]) Clear() {
	r.mu.Lock()
	r.target = nil
	r.mu.Unlock()
}

// Get returns the target entity, or nil if unset or the target is closed. A closed
// target is forgotten.
func (r *Relation[T]) Get() *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == nil {
		return nil
	}
	if r.target.Closed() {
		r.target = nil
		return nil
	}
	return r.target
}

// Is reports whether the relation currently points at e.
func (r *Relation[T]) Is(e *Entity) bool {
	t := r.Get()
	return t != nil && t == e
}

// Valid returns true if the target exists and has the required component.
func (r *Relation[T]) Valid() bool {
	target := r.Get()
	if target == nil {
		return false
	}
	return Has[T](target)
}

// Resolve retrieves the target entity and its component of type T from a Relation.
// It reports false when the target is gone or lacks T.
func Resolve[T any](r *Relation[T]) (*Entity, *T, bool) {
	e := r.Get()
	if e == nil {
		return nil, nil, false
	}
	comp := Get[T](e)
	if comp == nil {
		return e, nil, false
	}
	return e, comp, true
}
