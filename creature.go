package colony

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// CorpseTicks is how long a dead creature stays in the world before it is removed.
const CorpseTicks = 200

// Stats are the attributes that drive a creature's work rate.
type Stats struct {
	Dexterity        float64 `json:"dexterity"`
	Intelligence     float64 `json:"intelligence"`
	BuildSpeed       float64 `json:"buildSpeed"`
	IntelligenceBuff float64 `json:"intelligenceBuff,omitempty"`
}

// BuffedInt returns intelligence including temporary buffs, never below one.
func (s Stats) BuffedInt() float64 {
	return max(s.Intelligence+s.IntelligenceBuff, 1)
}

// DefaultStats are the stats of an average dwarf.
var DefaultStats = Stats{Dexterity: 5, Intelligence: 5, BuildSpeed: 1}

// Physics holds the movement simulation flags of a creature.
type Physics struct {
	Active   bool `json:"active"`
	Sleeping bool `json:"sleeping"`
}

// Wake makes the body simulate again.
func (p *Physics) Wake() {
	p.Active = true
	p.Sleeping = false
}

// Creature is the component of an agent that can walk, carry and craft. It is owned
// by the simulation goroutine.
type Creature struct {
	Name      string     `json:"name"`
	Stats     Stats      `json:"stats"`
	Speed     float64    `json:"speed"`
	XP        int        `json:"xp"`
	Physics   Physics    `json:"physics"`
	Inventory *Inventory `json:"inventory"`

	Blackboard Blackboard `json:"-"`

	entity *Entity
	dead   atomic.Bool
	buffs  []*Buff
}

// NewCreature creates a living creature with an empty inventory.
func NewCreature(name string, stats Stats) *Creature {
	return &Creature{
		Name:      name,
		Stats:     stats,
		Speed:     0.5,
		Physics:   Physics{Active: true},
		Inventory: NewInventory(),
	}
}

// Attach implements Attachable.
func (c *Creature) Attach(e *Entity) {
	c.entity = e
	if c.Inventory == nil {
		c.Inventory = NewInventory()
	}
}

// Detach implements Detachable.
func (c *Creature) Detach(*Entity) {
	c.buffs = nil
}

// Entity returns the entity the creature is attached to.
func (c *Creature) Entity() *Entity {
	return c.entity
}

// Position returns the creature's world position.
func (c *Creature) Position() mgl64.Vec3 {
	if c.entity == nil {
		return mgl64.Vec3{}
	}
	return c.entity.WorldPosition()
}

// Voxel returns the voxel the creature stands in.
func (c *Creature) Voxel() cube.Pos {
	return cube.PosFromVec3(c.Position())
}

// IsDead reports whether the creature has died.
func (c *Creature) IsDead() bool {
	return c.dead.Load()
}

// Die kills the creature. Its entity stops updating and is removed after CorpseTicks.
func (c *Creature) Die() {
	if c.dead.Swap(true) {
		return
	}
	e := c.entity
	if e == nil || e.Manager() == nil {
		return
	}
	e.Manager().Logger().Debug("colony: creature died", "creature", c.Name, "id", e.ID())
	e.Manager().After(CorpseTicks, e, func(m *Manager) {
		m.Unregister(e)
	})
}

// AddXP grants experience.
func (c *Creature) AddXP(n int) {
	c.XP += n
}

// Buff is a temporary stat bonus, such as a good thought.
type Buff struct {
	Name              string
	IntelligenceBonus float64
	Ticks             uint64

	handle *TimerHandle
}

// AddBuff applies b until it expires. It requires the creature to be registered.
func (c *Creature) AddBuff(b *Buff) {
	c.Stats.IntelligenceBuff += b.IntelligenceBonus
	c.buffs = append(c.buffs, b)
	if c.entity == nil || c.entity.Manager() == nil {
		return
	}
	b.handle = c.entity.Manager().After(b.Ticks, c.entity, func(*Manager) {
		c.expire(b)
	})
}

// Buffs returns the active buffs.
func (c *Creature) Buffs() []*Buff {
	return c.buffs
}

func (c *Creature) expire(b *Buff) {
	for i, cur := range c.buffs {
		if cur == b {
			c.buffs = append(c.buffs[:i], c.buffs[i+1:]...)
			c.Stats.IntelligenceBuff -= b.IntelligenceBonus
			return
		}
	}
}

// MarshalJSON includes the death flag.
func (c *Creature) MarshalJSON() ([]byte, error) {
	type plain Creature
	return json.Marshal(struct {
		*plain
		Dead bool `json:"dead,omitempty"`
	}{(*plain)(c), c.dead.Load()})
}

// UnmarshalJSON restores a creature written by MarshalJSON.
func (c *Creature) UnmarshalJSON(b []byte) error {
	type plain Creature
	aux := struct {
		*plain
		Dead bool `json:"dead,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return fmt.Errorf("colony: decode creature: %w", err)
	}
	c.dead.Store(aux.Dead)
	return nil
}

// Station is a crafting location, such as an anvil or a stove, that one creature at a
// time may reserve.
type Station struct {
	Tag string `json:"tag"`

	reservedBy Relation[Creature]
}

// ReservedBy returns the live creature entity using the station.
func (s *Station) ReservedBy() *Entity {
	return liveCreature(&s.reservedBy)
}

// Reserve claims the station for c if it is free or already held by c.
func (s *Station) Reserve(c *Entity) bool {
	if cur := s.ReservedBy(); cur != nil && cur != c {
		return false
	}
	s.reservedBy.Set(c)
	return true
}

// Release frees the station if c holds it.
func (s *Station) Release(c *Entity) {
	if s.reservedBy.Is(c) {
		s.reservedBy.Clear()
	}
}

// Icon implements MapIcon.
func (s *Station) Icon() string {
	return s.Tag
}

// CraftedObject marks an entity placed by an object craft.
type CraftedObject struct {
	Item string `json:"item"`
}

// Icon implements MapIcon.
func (o *CraftedObject) Icon() string {
	return "object"
}
