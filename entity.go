package colony

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/mathgl/mgl64"
)

// ID is an entity identity. IDs are assigned by a Manager, increase monotonically and
// are never reused while the entity is live. Zero means unassigned.
type ID uint64

// Flag is a bit in an entity's flag set.
type Flag uint32

const (
	// ShouldSerialize marks entities written by Manager.Save.
	ShouldSerialize Flag = 1 << iota
	// Visible entities are drawn and can be picked.
	Visible
	// Active entities receive per-tick updates.
	Active
)

// DefaultFlags are the flags of a newly created entity.
const DefaultFlags = ShouldSerialize | Visible | Active

// Entity is a node of the simulation tree. Every entity except the root has exactly
// one parent, and owns its children: removing an entity removes its whole subtree.
type Entity struct {
	id    atomic.Uint64
	name  string
	flags atomic.Uint32

	// mu protects tree links, position, mask and components
	mu         sync.RWMutex
	parent     *Entity
	children   []*Entity
	position   mgl64.Vec3
	mask       Bitmask
	components [MaxComponents]unsafe.Pointer

	manager *Manager

	// live is set once the entity has been flushed into its manager
	live atomic.Bool
	// closed is set once the entity has been removed
	closed atomic.Bool

	timerMu sync.Mutex
	timers  []*timerJob
}

// NewEntity creates an unregistered entity at the given local position.
func NewEntity(name string, position mgl64.Vec3) *Entity {
	e := &Entity{name: name, position: position}
	e.flags.Store(uint32(DefaultFlags))
	return e
}

// ID returns the entity's identity, or zero if it was never registered.
func (e *Entity) ID() ID {
	return ID(e.id.Load())
}

// Name returns the entity's diagnostic name.
func (e *Entity) Name() string {
	return e.name
}

// Flags returns the current flag set.
func (e *Entity) Flags() Flag {
	return Flag(e.flags.Load())
}

// HasFlag reports whether every bit of f is set.
func (e *Entity) HasFlag(f Flag) bool {
	return Flag(e.flags.Load())&f == f
}

// SetFlag sets or clears f.
func (e *Entity) SetFlag(f Flag, on bool) {
	for {
		old := e.flags.Load()
		next := old &^ uint32(f)
		if on {
			next = old | uint32(f)
		}
		if e.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// Parent returns the owning entity, or nil for the root and for entities not yet flushed.
func (e *Entity) Parent() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent
}

// Children returns a copy of the entity's children in insertion order.
func (e *Entity) Children() []*Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// Owner returns the topmost ancestor directly below the manager root. The root and
// unattached entities return themselves.
func (e *Entity) Owner() *Entity {
	cur := e
	for {
		p := cur.Parent()
		if p == nil || p.Parent() == nil {
			return cur
		}
		cur = p
	}
}

// Position returns the position relative to the parent.
func (e *Entity) Position() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position
}

// SetPosition sets the position relative to the parent.
func (e *Entity) SetPosition(p mgl64.Vec3) {
	e.mu.Lock()
	e.position = p
	e.mu.Unlock()
}

// WorldPosition returns the position accumulated along the parent chain.
func (e *Entity) WorldPosition() mgl64.Vec3 {
	var pos mgl64.Vec3
	for cur := e; cur != nil; cur = cur.Parent() {
		pos = pos.Add(cur.Position())
	}
	return pos
}

// SetWorldPosition moves the entity so its accumulated position equals p.
func (e *Entity) SetWorldPosition(p mgl64.Vec3) {
	if parent := e.Parent(); parent != nil {
		p = p.Sub(parent.WorldPosition())
	}
	e.SetPosition(p)
}

// Manager returns the manager the entity was registered with.
func (e *Entity) Manager() *Manager {
	return e.manager
}

// Live reports whether the entity is currently in its manager's registry.
func (e *Entity) Live() bool {
	return e.live.Load() && !e.closed.Load()
}

// Closed reports whether the entity has been removed.
func (e *Entity) Closed() bool {
	return e.closed.Load()
}

// Mask returns a copy of the component bitmask.
func (e *Entity) Mask() Bitmask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mask
}

// String returns a diagnostic representation of the entity.
func (e *Entity) String() string {
	var comps []string
	e.Mask().Each(func(id ComponentID) {
		comps = append(comps, ComponentName(id))
	})
	return fmt.Sprintf("Entity{ID: %d, Name: %s, Components: [%s]}", e.ID(), e.name, strings.Join(comps, ", "))
}

// capabilitiesChanged asks the manager to re-derive this entity's index membership.
func (e *Entity) capabilitiesChanged() {
	if e.manager != nil && e.Live() {
		e.manager.requestReindex(e)
	}
}

func (e *Entity) addChild(child *Entity) {
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()

	child.mu.Lock()
	child.parent = e
	child.mu.Unlock()
}

func (e *Entity) removeChild(child *Entity) {
	e.mu.Lock()
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

func (e *Entity) addTimer(job *timerJob) {
	e.timerMu.Lock()
	e.timers = append(e.timers, job)
	e.timerMu.Unlock()
}

func (e *Entity) removeTimer(job *timerJob) {
	e.timerMu.Lock()
	for i, j := range e.timers {
		if j == job {
			e.timers = append(e.timers[:i], e.timers[i+1:]...)
			break
		}
	}
	e.timerMu.Unlock()
}

// close marks the entity removed, cancels its timers and runs Detach hooks.
func (e *Entity) close() {
	if e.closed.Swap(true) {
		return
	}

	e.timerMu.Lock()
	timers := e.timers
	e.timers = nil
	e.timerMu.Unlock()
	for _, job := range timers {
		job.cancelled.Store(true)
	}

	for _, c := range e.componentValues() {
		if d, ok := c.(Detachable); ok {
			d.Detach(e)
		}
	}
}
