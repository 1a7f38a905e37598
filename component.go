package colony

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ComponentID is a unique identifier for a component type.
type ComponentID uint8

// MaxComponents is the maximum number of component types supported.
const MaxComponents = 255

// componentRegistry maps component types to dense IDs. Reads are lock-free since types
// are registered once and looked up on every component access.
type componentRegistry struct {
	types sync.Map // map[reflect.Type]ComponentID

	arrMu    sync.RWMutex
	names    [MaxComponents]string
	typesArr [MaxComponents]reflect.Type
	saved    map[string]ComponentID

	nextID atomic.Uint32
}

// componentTypes holds type metadata only. Entity state lives in a Manager.
var componentTypes = &componentRegistry{saved: make(map[string]ComponentID)}

func (r *componentRegistry) register(t reflect.Type) ComponentID {
	if id, ok := r.types.Load(t); ok {
		return id.(ComponentID)
	}

	raw := r.nextID.Add(1) - 1
	if raw >= MaxComponents {
		panic(fmt.Sprintf("colony: component limit exceeded (max %d types)", MaxComponents))
	}
	newID := ComponentID(raw)

	actual, loaded := r.types.LoadOrStore(t, newID)
	if loaded {
		return actual.(ComponentID)
	}

	r.arrMu.Lock()
	r.names[newID] = t.Name()
	r.typesArr[newID] = t
	r.arrMu.Unlock()
	return newID
}

func (r *componentRegistry) typeOf(id ComponentID) reflect.Type {
	r.arrMu.RLock()
	defer r.arrMu.RUnlock()
	return r.typesArr[id]
}

func (r *componentRegistry) nameOf(id ComponentID) string {
	r.arrMu.RLock()
	defer r.arrMu.RUnlock()
	return r.names[id]
}

func (r *componentRegistry) byName(name string) (ComponentID, bool) {
	r.arrMu.RLock()
	defer r.arrMu.RUnlock()
	id, ok := r.saved[name]
	return id, ok
}

func componentID[T any]() ComponentID {
	return componentTypes.register(reflect.TypeOf((*T)(nil)).Elem())
}

// RegisterComponent registers T under a stable name used by Save and Restore.
// Only named components are written to save data.
func RegisterComponent[T any](name string) ComponentID {
	id := componentID[T]()
	componentTypes.arrMu.Lock()
	defer componentTypes.arrMu.Unlock()
	if prev, ok := componentTypes.saved[name]; ok && prev != id {
		panic(fmt.Sprintf("colony: component name %q already registered for %s", name, componentTypes.typesArr[prev]))
	}
	componentTypes.names[id] = name
	componentTypes.saved[name] = id
	return id
}

// ComponentName returns the registered name of the component type with the given ID.
func ComponentName(id ComponentID) string {
	return componentTypes.nameOf(id)
}

// Attachable is implemented by components that need setup when attached to an entity.
type Attachable interface {
	Attach(e *Entity)
}

// Detachable is implemented by components that need cleanup when detached from an
// entity or when the entity is removed from its manager.
type Detachable interface {
	Detach(e *Entity)
}

// Add attaches a component to the entity, replacing any component of the same type.
// Capability indices pick up the change at the manager's next flush.
func Add[T any](e *Entity, component *T) {
	if e == nil || component == nil {
		return
	}
	id := componentID[T]()

	e.mu.Lock()
	old := e.components[id]
	e.components[id] = unsafe.Pointer(component)
	e.mask.Set(id)
	e.mu.Unlock()

	if old != nil {
		if d, ok := any((*T)(old)).(Detachable); ok {
			d.Detach(e)
		}
	}
	if a, ok := any(component).(Attachable); ok {
		a.Attach(e)
	}
	e.capabilitiesChanged()
}

// Remove detaches the component of type T, calling Detach if implemented.
func Remove[T any](e *Entity) {
	if e == nil {
		return
	}
	id := componentID[T]()

	e.mu.Lock()
	ptr := e.components[id]
	if ptr == nil {
		e.mu.Unlock()
		return
	}
	e.components[id] = nil
	e.mask.Clear(id)
	e.mu.Unlock()

	if d, ok := any((*T)(ptr)).(Detachable); ok {
		d.Detach(e)
	}
	e.capabilitiesChanged()
}

// Get returns the component of type T, or nil if absent.
func Get[T any](e *Entity) *T {
	if e == nil {
		return nil
	}
	id := componentID[T]()

	e.mu.RLock()
	ptr := e.components[id]
	e.mu.RUnlock()

	if ptr == nil {
		return nil
	}
	return (*T)(ptr)
}

// Has reports whether a component of type T is attached.
func Has[T any](e *Entity) bool {
	if e == nil {
		return false
	}
	id := componentID[T]()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mask.Has(id)
}

// componentValues returns the attached components as interface values in ID order.
func (e *Entity) componentValues() []any {
	e.mu.RLock()
	mask := e.mask
	ptrs := e.components
	e.mu.RUnlock()

	var out []any
	mask.Each(func(id ComponentID) {
		t := componentTypes.typeOf(id)
		if t == nil || ptrs[id] == nil {
			return
		}
		out = append(out, reflect.NewAt(t, ptrs[id]).Interface())
	})
	return out
}

// setComponentValue stores an already typed component pointer by ID without hooks.
func (e *Entity) setComponentValue(id ComponentID, v reflect.Value) {
	e.mu.Lock()
	e.components[id] = v.UnsafePointer()
	e.mask.Set(id)
	e.mu.Unlock()
}
