package colony

import (
	"time"
)

// Updater is implemented by components that receive per-tick updates.
type Updater interface {
	Update(e *Entity, dt time.Duration, w *World)
}

// Drawable is implemented by components that submit draw data for a camera.
type Drawable interface {
	Render(e *Entity, cam *Camera)
}

// MapIcon is implemented by components that appear on the overview map.
type MapIcon interface {
	Icon() string
}

// Registrable is implemented by components that act once their entity has been
// flushed into a manager.
type Registrable interface {
	Registered(e *Entity)
}

// capability identifies one of the derived indices.
type capability uint8

const (
	capUpdate capability = iota
	capDraw
	capMapIcon
	capabilityCount
)

// capabilitiesOf reports which indices an entity belongs to given its components.
func capabilitiesOf(e *Entity) [capabilityCount]bool {
	var caps [capabilityCount]bool
	for _, c := range e.componentValues() {
		if _, ok := c.(Updater); ok {
			caps[capUpdate] = true
		}
		if _, ok := c.(Drawable); ok {
			caps[capDraw] = true
		}
		if _, ok := c.(MapIcon); ok {
			caps[capMapIcon] = true
		}
	}
	return caps
}

// entityIndex is an insertion-ordered set of entities. Only the simulation goroutine
// mutates it, at the flush point.
type entityIndex struct {
	items []*Entity
	pos   map[*Entity]int
}

func newEntityIndex() *entityIndex {
	return &entityIndex{pos: make(map[*Entity]int)}
}

func (x *entityIndex) add(e *Entity) {
	if _, ok := x.pos[e]; ok {
		return
	}
	x.pos[e] = len(x.items)
	x.items = append(x.items, e)
}

func (x *entityIndex) remove(e *Entity) {
	i, ok := x.pos[e]
	if !ok {
		return
	}
	delete(x.pos, e)
	copy(x.items[i:], x.items[i+1:])
	x.items[len(x.items)-1] = nil
	x.items = x.items[:len(x.items)-1]
	for j := i; j < len(x.items); j++ {
		x.pos[x.items[j]] = j
	}
}

func (x *entityIndex) set(e *Entity, member bool) {
	if member {
		x.add(e)
	} else {
		x.remove(e)
	}
}

func (x *entityIndex) contains(e *Entity) bool {
	_, ok := x.pos[e]
	return ok
}

func (x *entityIndex) len() int {
	return len(x.items)
}

// snapshot returns a copy safe to iterate while the index changes.
func (x *entityIndex) snapshot() []*Entity {
	out := make([]*Entity, len(x.items))
	copy(out, x.items)
	return out
}
