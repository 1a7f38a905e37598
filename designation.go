package colony

import (
	"slices"
	"sync"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"
)

// CraftType distinguishes crafts that place an object in the world from crafts that
// produce resources in the crafter's inventory.
type CraftType uint8

const (
	CraftObject CraftType = iota
	CraftResource
)

// CraftBehavior selects the recipe applied to the staged resources of a resource craft.
type CraftBehavior uint8

const (
	BehaviorNormal CraftBehavior = iota
	BehaviorTrinket
	BehaviorMeal
	BehaviorAlcohol
	BehaviorBread
	BehaviorGemTrinket
)

func (b CraftBehavior) String() string {
	switch b {
	case BehaviorNormal:
		return "Normal"
	case BehaviorTrinket:
		return "Trinket"
	case BehaviorMeal:
		return "Meal"
	case BehaviorAlcohol:
		return "Alcohol"
	case BehaviorBread:
		return "Bread"
	case BehaviorGemTrinket:
		return "GemTrinket"
	default:
		return "Unknown"
	}
}

// CraftItem describes something creatures can craft.
type CraftItem struct {
	Name                string            `json:"name"`
	Type                CraftType         `json:"type"`
	ResultType          ResourceType      `json:"resultType,omitempty"`
	Behavior            CraftBehavior     `json:"behavior"`
	CraftedResultsCount int               `json:"craftedResultsCount"`
	BaseCraftTime       float64           `json:"baseCraftTime"`
	CraftLocation       string            `json:"craftLocation,omitempty"`
	RequiredResources   []ResourceRequest `json:"requiredResources,omitempty"`
}

// CraftDesignation is a pending craft order shared by every creature. At most one
// creature holds its resource reservation at a time. All fields except the
// reservation and assignment are owned by the simulation goroutine.
type CraftDesignation struct {
	ID       uuid.UUID  `json:"id"`
	Item     *CraftItem `json:"item"`
	Location cube.Pos   `json:"location"`

	HasResources      bool             `json:"hasResources"`
	Progress          float64          `json:"progress"`
	Finished          bool             `json:"finished"`
	SelectedResources []ResourceAmount `json:"selectedResources,omitempty"`

	reservedFor Relation[Creature]
	assignee    Relation[Creature]
}

// NewCraftDesignation creates a designation for item at loc.
func NewCraftDesignation(item *CraftItem, loc cube.Pos) *CraftDesignation {
	return &CraftDesignation{ID: uuid.New(), Item: item, Location: loc}
}

// ReservedFor returns the creature entity holding the resource reservation. A holder
// that was removed or has died is forgotten and nil is returned.
func (d *CraftDesignation) ReservedFor() *Entity {
	return liveCreature(&d.reservedFor)
}

// Reserve gives c the reservation if it is free or already held by c.
func (d *CraftDesignation) Reserve(c *Entity) bool {
	if cur := d.ReservedFor(); cur != nil && cur != c {
		return false
	}
	d.reservedFor.Set(c)
	return true
}

// Release clears the reservation if c holds it.
func (d *CraftDesignation) Release(c *Entity) {
	if d.reservedFor.Is(c) {
		d.reservedFor.Clear()
	}
}

// Assignee returns the creature entity working on the designation, if any is alive.
func (d *CraftDesignation) Assignee() *Entity {
	return liveCreature(&d.assignee)
}

func liveCreature(r *Relation[Creature]) *Entity {
	e, c, ok := Resolve(r)
	if !ok {
		return nil
	}
	if c.IsDead() {
		r.Clear()
		return nil
	}
	return e
}

// Designations is the registry of open craft orders. Safe for concurrent use.
type Designations struct {
	mu    sync.RWMutex
	order []*CraftDesignation
	byID  map[uuid.UUID]*CraftDesignation
}

// NewDesignations creates an empty registry.
func NewDesignations() *Designations {
	return &Designations{byID: make(map[uuid.UUID]*CraftDesignation)}
}

// Add registers d.
func (r *Designations) Add(d *CraftDesignation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; ok {
		return
	}
	r.byID[d.ID] = d
	r.order = append(r.order, d)
}

// Remove drops d. A craft task working on a removed designation treats it as cancelled.
func (r *Designations) Remove(d *CraftDesignation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID]; !ok {
		return
	}
	delete(r.byID, d.ID)
	if i := slices.Index(r.order, d); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Contains reports whether d is registered.
func (r *Designations) Contains(d *CraftDesignation) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[d.ID] == d
}

// Get returns the designation with the given ID.
func (r *Designations) Get(id uuid.UUID) (*CraftDesignation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// All returns the registered designations in submission order.
func (r *Designations) All() []*CraftDesignation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered designations.
func (r *Designations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Open returns the unfinished designations nobody is working on.
func (r *Designations) Open() []*CraftDesignation {
	var out []*CraftDesignation
	for _, d := range r.All() {
		if !d.Finished && d.Assignee() == nil {
			out = append(out, d)
		}
	}
	return out
}

// Assign records c as working on d. It fails if another live creature already is.
func (r *Designations) Assign(d *CraftDesignation, c *Entity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := d.Assignee(); cur != nil && cur != c {
		return false
	}
	d.assignee.Set(c)
	return true
}

// Unassign clears the assignment if c holds it.
func (r *Designations) Unassign(d *CraftDesignation, c *Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.assignee.Is(c) {
		d.assignee.Clear()
	}
}
