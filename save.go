package colony

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

var (
	// ErrRootMissing is returned by Restore when the save has no record for its root.
	ErrRootMissing = errors.New("colony: root entity missing from save")
	// ErrUnknownComponent is returned by Restore for a component name never registered
	// with RegisterComponent.
	ErrUnknownComponent = errors.New("colony: unknown component")
	// ErrNotFound is returned by stores when a save does not exist.
	ErrNotFound = errors.New("colony: not found")
)

// SaveData is a flat, identity-indexed snapshot of a registry.
type SaveData struct {
	ID       uuid.UUID      `json:"id"`
	Tick     uint64         `json:"tick"`
	Root     ID             `json:"root"`
	Entities []EntityRecord `json:"entities"`
}

// EntityRecord is the saved form of one entity. Components are keyed by their
// registered name.
type EntityRecord struct {
	ID         ID                         `json:"id"`
	Parent     ID                         `json:"parent,omitempty"`
	Name       string                     `json:"name"`
	Flags      Flag                       `json:"flags"`
	Position   mgl64.Vec3                 `json:"position"`
	Components map[string]json.RawMessage `json:"components,omitempty"`
}

// PostRestorer is implemented by components that rebuild derived state, such as
// cosmetic children, once the whole registry has been restored.
type PostRestorer interface {
	PostRestore(e *Entity, m *Manager)
}

// Save snapshots every live entity flagged ShouldSerialize, parents before children.
// The root is always written. Only components registered with RegisterComponent are
// saved. Call it between ticks.
func (m *Manager) Save() (*SaveData, error) {
	data := &SaveData{ID: uuid.New(), Tick: m.TickNumber(), Root: m.root.ID()}

	var walk func(e *Entity) error
	walk = func(e *Entity) error {
		if e != m.root && !e.HasFlag(ShouldSerialize) {
			return nil
		}
		rec, err := recordOf(e)
		if err != nil {
			return err
		}
		data.Entities = append(data.Entities, rec)
		for _, c := range e.Children() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(m.root); err != nil {
		return nil, err
	}
	return data, nil
}

func recordOf(e *Entity) (EntityRecord, error) {
	rec := EntityRecord{
		ID:       e.ID(),
		Name:     e.Name(),
		Flags:    e.Flags(),
		Position: e.Position(),
	}
	if p := e.Parent(); p != nil {
		rec.Parent = p.ID()
	}

	var err error
	e.Mask().Each(func(id ComponentID) {
		if err != nil {
			return
		}
		name := ComponentName(id)
		if named, ok := componentTypes.byName(name); !ok || named != id {
			return
		}
		e.mu.RLock()
		ptr := e.components[id]
		e.mu.RUnlock()
		if ptr == nil {
			return
		}
		raw, merr := json.Marshal(reflect.NewAt(componentTypes.typeOf(id), ptr).Interface())
		if merr != nil {
			err = fmt.Errorf("colony: encode %s of entity %d: %w", name, rec.ID, merr)
			return
		}
		if rec.Components == nil {
			rec.Components = make(map[string]json.RawMessage)
		}
		rec.Components[name] = raw
	})
	return rec, err
}

// Restore rebuilds a registry for w from data. Identities are preserved, the saved
// root becomes the new manager's root, and capability indices are re-derived.
// Entities whose parent is missing are dropped, with their subtrees, and logged.
func Restore(data *SaveData, w *World, opts ...Option) (*Manager, error) {
	m := NewManager(w, opts...)
	if err := m.restore(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) restore(data *SaveData) error {
	byID := make(map[ID]*EntityRecord, len(data.Entities))
	for i := range data.Entities {
		byID[data.Entities[i].ID] = &data.Entities[i]
	}
	rootRec, ok := byID[data.Root]
	if !ok {
		return fmt.Errorf("restore %s: %w", data.ID, ErrRootMissing)
	}

	// re-key the fresh root under the saved identity
	m.entitiesMu.Lock()
	delete(m.entities, m.root.ID())
	m.root.id.Store(uint64(data.Root))
	m.entities[data.Root] = m.root
	m.entitiesMu.Unlock()
	m.bumpID(data.Root)
	m.root.SetPosition(rootRec.Position)
	if err := decodeComponents(m.root, rootRec); err != nil {
		return err
	}

	entities := make(map[ID]*Entity, len(data.Entities))
	entities[data.Root] = m.root
	for i := range data.Entities {
		rec := &data.Entities[i]
		if rec.ID == data.Root {
			continue
		}
		if rec.ID == 0 {
			m.log.Warn("colony: dropping entity without identity", "name", rec.Name)
			continue
		}
		e := NewEntity(rec.Name, rec.Position)
		e.id.Store(uint64(rec.ID))
		e.flags.Store(uint32(rec.Flags))
		e.manager = m
		if err := decodeComponents(e, rec); err != nil {
			return err
		}
		entities[rec.ID] = e
		m.bumpID(rec.ID)
	}

	// link in save order; a record may precede its parent
	children := make(map[ID][]ID, len(data.Entities))
	for _, rec := range data.Entities {
		if rec.ID == data.Root || rec.ID == 0 {
			continue
		}
		if _, ok := entities[rec.Parent]; !ok || rec.Parent == rec.ID {
			m.log.Warn("colony: dropping orphaned entity", "entity", rec.Name, "id", rec.ID, "parent", rec.Parent)
			continue
		}
		children[rec.Parent] = append(children[rec.Parent], rec.ID)
	}

	// attach everything reachable from the root, breadth first
	var live []*Entity
	reached := map[ID]bool{data.Root: true}
	queue := []ID{data.Root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parent := entities[id]
		for _, cid := range children[id] {
			if reached[cid] {
				continue
			}
			reached[cid] = true
			child := entities[cid]
			parent.addChild(child)
			live = append(live, child)
			queue = append(queue, cid)
		}
	}
	for id, e := range entities {
		if reached[id] {
			continue
		}
		// entities with a missing parent were reported above
		if _, hasParent := entities[byID[id].Parent]; hasParent {
			m.log.Warn("colony: dropping entity unreachable from root", "entity", e.Name(), "id", id)
		}
	}

	m.entitiesMu.Lock()
	for _, e := range live {
		m.entities[e.ID()] = e
	}
	m.entitiesMu.Unlock()

	for _, e := range append([]*Entity{m.root}, live...) {
		e.live.Store(true)
		for _, c := range e.componentValues() {
			if a, ok := c.(Attachable); ok {
				a.Attach(e)
			}
		}
	}
	m.rebuildIndices()
	m.tick.Store(data.Tick)

	for _, e := range append([]*Entity{m.root}, live...) {
		for _, c := range e.componentValues() {
			if p, ok := c.(PostRestorer); ok {
				p.PostRestore(e, m)
			}
		}
	}
	// apply registrations made by hooks
	m.Flush()
	return nil
}

func decodeComponents(e *Entity, rec *EntityRecord) error {
	for name, raw := range rec.Components {
		id, ok := componentTypes.byName(name)
		if !ok {
			return fmt.Errorf("entity %d: %w %q", rec.ID, ErrUnknownComponent, name)
		}
		v := reflect.New(componentTypes.typeOf(id))
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return fmt.Errorf("colony: decode %s of entity %d: %w", name, rec.ID, err)
		}
		e.setComponentValue(id, v)
	}
	return nil
}

// Restore is like the package-level Restore but also installs the builder's bundles
// and resources.
func (b *Builder) Restore(data *SaveData) (*Manager, error) {
	m := NewManager(b.world, b.options...)
	if err := m.restore(data); err != nil {
		return nil, err
	}
	return b.init(m)
}
