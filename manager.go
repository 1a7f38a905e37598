package colony

import (
	"cmp"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/go-gl/mathgl/mgl64"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns every live entity of one simulation. It assigns identities, keeps the
// parent/child tree and the capability indices, and applies buffered registrations and
// removals at a single flush point per tick.
//
// Register and Unregister may be called from any goroutine. Tick, Flush, Render and the
// systems run on the simulation goroutine.
type Manager struct {
	world *World
	root  *Entity

	// entities is the identity arena
	entities   map[ID]*Entity
	entitiesMu sync.RWMutex

	// nextID is the last identity handed out
	nextID atomic.Uint64

	// pending mutations, each behind its own short-held lock
	addMu     sync.Mutex
	additions []pendingAdd
	removeMu  sync.Mutex
	removals  []*Entity
	reindexMu sync.Mutex
	reindex   []*Entity

	// capability indices
	indexMu   sync.RWMutex
	updaters  *entityIndex
	drawables *entityIndex
	icons     *entityIndex

	// resources holds bundle and builder resources by type
	resources   map[reflect.Type]unsafe.Pointer
	resourcesMu sync.RWMutex

	bundles   []*Bundle
	timers    *timerQueue
	scheduler *Scheduler
	selection SelectionBuffer

	tick     atomic.Uint64
	tickRate time.Duration
	log      *slog.Logger
	tracer   trace.Tracer
	rand     *rand.Rand
}

type pendingAdd struct {
	entity *Entity
	parent *Entity
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTracer sets the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithTickRate sets the scheduler's tick interval.
func WithTickRate(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.tickRate = d
		}
	}
}

// WithRand sets the random source used by systems and tasks.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) {
		if r != nil {
			m.rand = r
		}
	}
}

// WithSelectionBuffer sets the picking source used by SelectByScreenRegion.
func WithSelectionBuffer(sb SelectionBuffer) Option {
	return func(m *Manager) {
		m.selection = sb
	}
}

// NewManager creates a manager for w with a live root entity.
func NewManager(w *World, opts ...Option) *Manager {
	m := &Manager{
		world:     w,
		entities:  make(map[ID]*Entity),
		updaters:  newEntityIndex(),
		drawables: newEntityIndex(),
		icons:     newEntityIndex(),
		resources: make(map[reflect.Type]unsafe.Pointer),
		timers:    newTimerQueue(),
		tickRate:  50 * time.Millisecond,
		log:       slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("colony"),
		rand:      rand.New(rand.NewPCG(1, 2)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if w != nil && w.manager == nil {
		w.manager = m
	}

	root := NewEntity("root", mgl64.Vec3{})
	root.id.Store(m.nextID.Add(1))
	root.manager = m
	root.live.Store(true)
	m.root = root
	m.entities[root.ID()] = root

	m.scheduler = newScheduler(m)
	return m
}

// Root returns the root entity.
func (m *Manager) Root() *Entity {
	return m.root
}

// World returns the world the manager simulates.
func (m *Manager) World() *World {
	return m.world
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.log
}

// Rand returns the manager's random source. It must only be used on the simulation goroutine.
func (m *Manager) Rand() *rand.Rand {
	return m.rand
}

// TickNumber returns the number of ticks run so far.
func (m *Manager) TickNumber() uint64 {
	return m.tick.Load()
}

// Register assigns e the next identity, unless it already has one, and buffers it for
// insertion under parent (the root when nil). The entity becomes visible to Lookup and
// the capability indices at the next flush. Registering an identity that already
// denotes another live or pending entity panics in the caller.
func (m *Manager) Register(e *Entity, parent *Entity) ID {
	if e == nil {
		return 0
	}

	m.addMu.Lock()
	defer m.addMu.Unlock()

	id := e.ID()
	if id == 0 {
		id = ID(m.nextID.Add(1))
		e.id.Store(uint64(id))
	} else {
		if other := m.holderOf(id); other != nil && other != e {
			panic(fmt.Sprintf("colony: identity %d already denotes %s, cannot register %s", id, other, e))
		}
		m.bumpID(id)
	}
	e.manager = m
	m.additions = append(m.additions, pendingAdd{entity: e, parent: parent})
	return id
}

// holderOf returns the live or pending entity holding id. addMu must be held.
func (m *Manager) holderOf(id ID) *Entity {
	m.entitiesMu.RLock()
	e := m.entities[id]
	m.entitiesMu.RUnlock()
	if e != nil {
		return e
	}
	for _, p := range m.additions {
		if p.entity.ID() == id {
			return p.entity
		}
	}
	return nil
}

// bumpID keeps nextID at or above id.
func (m *Manager) bumpID(id ID) {
	for {
		cur := m.nextID.Load()
		if cur >= uint64(id) || m.nextID.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

// Unregister buffers e for removal. The entity and its descendants stay fully visible
// until the next flush.
func (m *Manager) Unregister(e *Entity) {
	if e == nil {
		return
	}
	if e == m.root {
		m.log.Warn("colony: refusing to unregister root entity")
		return
	}
	m.removeMu.Lock()
	m.removals = append(m.removals, e)
	m.removeMu.Unlock()
}

func (m *Manager) requestReindex(e *Entity) {
	m.reindexMu.Lock()
	m.reindex = append(m.reindex, e)
	m.reindexMu.Unlock()
}

// Lookup returns the live entity with the given identity.
func (m *Manager) Lookup(id ID) (*Entity, bool) {
	m.entitiesMu.RLock()
	defer m.entitiesMu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// Len returns the number of live entities, root included.
func (m *Manager) Len() int {
	m.entitiesMu.RLock()
	defer m.entitiesMu.RUnlock()
	return len(m.entities)
}

// Entities returns all live entities ordered by identity.
func (m *Manager) Entities() []*Entity {
	m.entitiesMu.RLock()
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	m.entitiesMu.RUnlock()

	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// Roots returns the direct children of the root.
func (m *Manager) Roots() []*Entity {
	return m.root.Children()
}

// Each calls fn for every live entity in identity order until fn returns false.
func (m *Manager) Each(fn func(e *Entity) bool) {
	for _, e := range m.Entities() {
		if !fn(e) {
			return
		}
	}
}

// Query returns the live entities carrying a component of type T, ordered by identity.
func Query[T any](m *Manager) []*Entity {
	var out []*Entity
	for _, e := range m.Entities() {
		if Has[T](e) {
			out = append(out, e)
		}
	}
	return out
}

// Tick runs one simulation step: every entity in the update index is updated in index
// order, due timers fire, then buffered mutations are flushed.
func (m *Manager) Tick(dt time.Duration, w *World) {
	m.tick.Add(1)
	m.update(dt, w)
	m.runTimers()
	m.Flush()
}

func (m *Manager) update(dt time.Duration, w *World) {
	if w == nil {
		w = m.world
	}

	m.indexMu.RLock()
	targets := m.updaters.snapshot()
	m.indexMu.RUnlock()

	for _, e := range targets {
		if e.Closed() || !e.HasFlag(Active) {
			continue
		}
		for _, c := range e.componentValues() {
			if u, ok := c.(Updater); ok {
				u.Update(e, dt, w)
			}
		}
	}
}

// Flush applies buffered registrations, then buffered removals, each in FIFO order.
// Tick calls it; call it directly to apply mutations while the simulation is paused.
func (m *Manager) Flush() {
	m.addMu.Lock()
	adds := m.additions
	m.additions = nil
	m.addMu.Unlock()

	m.addAll(adds)

	m.removeMu.Lock()
	removals := m.removals
	m.removals = nil
	m.removeMu.Unlock()

	for _, e := range removals {
		m.removeImmediate(e)
	}

	m.reindexMu.Lock()
	reindex := m.reindex
	m.reindex = nil
	m.reindexMu.Unlock()

	for _, e := range reindex {
		if e.Live() {
			m.indexEntity(e)
		}
	}
}

// addAll applies adds in order. If one panics, the adds after it are queued again
// for the next flush before the panic propagates.
func (m *Manager) addAll(adds []pendingAdd) {
	done := 0
	defer func() {
		if done < len(adds) {
			m.addMu.Lock()
			m.additions = slices.Concat(adds[done+1:], m.additions)
			m.addMu.Unlock()
		}
	}()
	for ; done < len(adds); done++ {
		m.addImmediate(adds[done].entity, adds[done].parent)
	}
}

// addImmediate inserts e into the arena and indices. An identity already held by a
// different live entity is a programming error.
func (m *Manager) addImmediate(e *Entity, parent *Entity) {
	id := e.ID()

	m.entitiesMu.Lock()
	if existing, ok := m.entities[id]; ok {
		m.entitiesMu.Unlock()
		if existing == e {
			return
		}
		panic(fmt.Sprintf("colony: identity %d already denotes %s, cannot register %s", id, existing, e))
	}
	m.entities[id] = e
	m.entitiesMu.Unlock()

	if parent == nil {
		parent = m.root
	}
	if parent.Closed() {
		m.log.Warn("colony: parent removed before child was flushed, dropping child",
			"entity", e.Name(), "id", id, "parent", parent.ID())
		m.entitiesMu.Lock()
		delete(m.entities, id)
		m.entitiesMu.Unlock()
		e.close()
		return
	}
	if e.Parent() != parent {
		parent.addChild(e)
	}
	e.live.Store(true)
	m.indexEntity(e)

	for _, c := range e.componentValues() {
		if r, ok := c.(Registrable); ok {
			r.Registered(e)
		}
	}
}

// removeImmediate removes e and its subtree from the arena and every index.
func (m *Manager) removeImmediate(e *Entity) {
	m.entitiesMu.Lock()
	cur, ok := m.entities[e.ID()]
	if !ok || cur != e {
		m.entitiesMu.Unlock()
		return
	}
	delete(m.entities, e.ID())
	m.entitiesMu.Unlock()

	m.deindexEntity(e)
	if p := e.Parent(); p != nil {
		p.removeChild(e)
	}
	for _, c := range e.Children() {
		m.removeImmediate(c)
	}
	e.close()
}

func (m *Manager) indexEntity(e *Entity) {
	caps := capabilitiesOf(e)

	m.indexMu.Lock()
	m.updaters.set(e, caps[capUpdate])
	m.drawables.set(e, caps[capDraw])
	m.icons.set(e, caps[capMapIcon])
	m.indexMu.Unlock()
}

func (m *Manager) deindexEntity(e *Entity) {
	m.indexMu.Lock()
	m.updaters.remove(e)
	m.drawables.remove(e)
	m.icons.remove(e)
	m.indexMu.Unlock()
}

// rebuildIndices re-derives every capability index from the arena.
func (m *Manager) rebuildIndices() {
	m.indexMu.Lock()
	m.updaters = newEntityIndex()
	m.drawables = newEntityIndex()
	m.icons = newEntityIndex()
	m.indexMu.Unlock()

	for _, e := range m.Entities() {
		m.indexEntity(e)
	}
}

// Updaters returns the entities currently in the update index.
func (m *Manager) Updaters() []*Entity {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return m.updaters.snapshot()
}

// Drawables returns the entities currently in the draw index.
func (m *Manager) Drawables() []*Entity {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return m.drawables.snapshot()
}

// MapIcons returns the entities currently shown on the overview map.
func (m *Manager) MapIcons() []*Entity {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return m.icons.snapshot()
}

// Render asks every visible drawable entity to submit its draw data for cam.
func (m *Manager) Render(cam *Camera) {
	for _, e := range m.Drawables() {
		if e.Closed() || !e.HasFlag(Visible) {
			continue
		}
		for _, c := range e.componentValues() {
			if d, ok := c.(Drawable); ok {
				d.Render(e, cam)
			}
		}
	}
}

// addResource registers a resource by its dynamic type.
func (m *Manager) addResource(res any) {
	t := reflect.TypeOf(res)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	m.resourcesMu.Lock()
	m.resources[t] = unsafe.Pointer(reflect.ValueOf(res).Pointer())
	m.resourcesMu.Unlock()
}

func (m *Manager) resource(t reflect.Type) unsafe.Pointer {
	m.resourcesMu.RLock()
	defer m.resourcesMu.RUnlock()
	return m.resources[t]
}

// Resource returns the registered resource of type T, or nil.
func Resource[T any](m *Manager) *T {
	if m == nil {
		return nil
	}
	ptr := m.resource(reflect.TypeOf((*T)(nil)).Elem())
	if ptr == nil {
		return nil
	}
	return (*T)(ptr)
}

// Start begins ticking on the scheduler's goroutine.
func (m *Manager) Start() {
	m.scheduler.Start()
}

// Step runs one scheduler tick synchronously.
func (m *Manager) Step(dt time.Duration) {
	m.scheduler.Step(dt)
}

// Shutdown stops the scheduler.
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
}
