package colony

import (
	"math"
	"slices"

	"github.com/df-mc/dragonfly/server/block/cube"
)

const (
	// PlaceVoxelTicks is how long a creature works before a placed voxel appears.
	PlaceVoxelTicks = 10

	stationKey = "craft-station"
)

// CraftResult applies the recipe of item to the staged resources and returns the
// produced resource type. It reports false when the staged resources do not fit the
// recipe. Quality only affects trinkets.
func CraftResult(lib ResourceLibrary, item *CraftItem, staged []ResourceAmount, quality float64) (ResourceType, bool) {
	var units []ResourceType
	for _, a := range staged {
		for range a.Count {
			units = append(units, a.Type)
		}
	}

	switch item.Behavior {
	case BehaviorTrinket:
		if len(units) == 0 {
			return "", false
		}
		return lib.GenerateTrinket(units[0], quality), true
	case BehaviorMeal:
		if len(units) < 2 {
			return "", false
		}
		return lib.CreateMeal(units[0], units[1]), true
	case BehaviorAlcohol:
		if len(units) == 0 {
			return "", false
		}
		return lib.CreateAle(units[0]), true
	case BehaviorBread:
		if len(units) == 0 {
			return "", false
		}
		return lib.CreateBread(units[0]), true
	case BehaviorGemTrinket:
		craft := slices.IndexFunc(units, func(t ResourceType) bool { return lib.Get(t).HasTag(TagCraft) })
		gem := slices.IndexFunc(units, func(t ResourceType) bool { return lib.Get(t).HasTag(TagGem) })
		if craft < 0 || gem < 0 {
			return "", false
		}
		return lib.EncrustTrinket(units[craft], units[gem]), true
	default:
		if item.ResultType == "" {
			return "", false
		}
		return item.ResultType, true
	}
}

// crafter holds the context shared by the nodes of one craft task.
type crafter struct {
	c    *Creature
	e    *Entity
	d    *CraftDesignation
	w    *World
	item *CraftItem

	// staged resources were removed from the inventory and not yet turned into a result
	staged  []ResourceAmount
	station Relation[Station]
}

// CraftItemAct compiles the task that makes c carry out designation d: gather the
// required resources, travel to the craft location, consume the resources, work until
// the progress reaches one, then emit the result. Any failure or cancellation releases
// every reservation and returns unused resources to the stockpiles.
func CraftItemAct(c *Creature, d *CraftDesignation, w *World) *Task {
	k := &crafter{c: c, e: c.entity, d: d, w: w, item: d.Item}

	var steps []*Act
	hasStation := k.item.CraftLocation != ""
	switch {
	case k.item.Type == CraftObject && hasStation:
		steps = []*Act{
			k.findStation(),
			k.getResources(),
			k.waitForResources(),
			GoToEntity(c, w, k.stationEntity, k.notCancelled),
			k.destroyResources(),
			k.hit(),
			k.releaseStation(),
			GoToVoxel(c, w, d.Location, k.notCancelled),
			k.placeObject(),
		}
	case k.item.Type == CraftObject:
		steps = []*Act{
			k.getResources(),
			k.waitForResources(),
			GoToVoxel(c, w, d.Location, k.notCancelled),
			k.destroyResources(),
			k.hit(),
			k.placeObject(),
		}
	case hasStation:
		steps = []*Act{
			k.findStation(),
			k.getResources(),
			k.waitForResources(),
			GoToEntity(c, w, k.stationEntity, k.notCancelled),
			k.destroyResources(),
			k.hit(),
			k.createResources(),
			k.releaseStation(),
		}
	default:
		steps = []*Act{
			k.getResources(),
			k.waitForResources(),
			k.destroyResources(),
			k.craftInHand(),
			k.createResources(),
		}
	}
	steps = append(steps, k.finish())

	root := Domain(k.notCancelled, Sequence(steps...)).
		Or(SequenceOf(Failure, Do("Cleanup", func() Status {
			k.cleanup()
			return Success
		})))
	return NewTask("Craft "+k.item.Name, root.Named("CraftItem")).OnCanceled(k.cleanup)
}

func (k *crafter) notCancelled() bool {
	return !k.c.IsDead() && !k.d.Finished && k.w.Designations.Contains(k.d)
}

// resourcesValid reports whether someone holds or is gathering the resources.
func (k *crafter) resourcesValid() bool {
	return k.d.HasResources || k.d.ReservedFor() != nil
}

// getResources reserves the designation and gathers its resources, unless another
// creature is already doing so.
func (k *crafter) getResources() *Act {
	return Select(
		DomainOr(k.resourcesValid, Failure, nil),
		Domain(func() bool {
			r := k.d.ReservedFor()
			return !k.d.HasResources && (r == nil || r == k.e)
		}, Sequence(
			Condition("ReserveResources", func() bool { return k.d.Reserve(k.e) }),
			Wrap("GetResources", func() Routine { return &gather{k: k} }).
				Or(SequenceOf(Failure, Do("UnreserveResources", func() Status {
					k.d.Release(k.e)
					return Success
				}))),
		)),
		DomainOr(k.resourcesValid, Failure, nil),
	).Named("GetResources")
}

// waitForResources stays Running until the resources are gathered. It fails when the
// gatherer is gone.
func (k *crafter) waitForResources() *Act {
	return Do("WaitForResources", func() Status {
		switch {
		case !k.notCancelled():
			return Failure
		case k.d.HasResources:
			return Success
		case k.d.ReservedFor() == nil:
			return Failure
		default:
			return Running
		}
	})
}

func (k *crafter) destroyResources() *Act {
	return Do("DestroyResources", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		staged, ok := k.c.Inventory.RemoveAndCreate(k.d.SelectedResources)
		if !ok {
			return Failure
		}
		k.staged = staged
		return Success
	})
}

// MinBuildSpeed is the work rate of creatures whose BuildSpeed is lower.
const MinBuildSpeed = 0.1

// hit works at the craft location until the progress reaches one.
func (k *crafter) hit() *Act {
	return Do("Hit", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		if k.d.Progress >= 1 {
			return Success
		}
		if k.item.BaseCraftTime <= 0 {
			k.d.Progress = 1
		} else {
			k.d.Progress += max(k.c.Stats.BuildSpeed, MinBuildSpeed) / k.item.BaseCraftTime
		}
		return Running
	})
}

// craftInHand works without a location for 3 × BaseCraftTime / BuffedInt ticks.
func (k *crafter) craftInHand() *Act {
	return Do("CraftInHand", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		if k.d.Progress >= 1 {
			return Success
		}
		total := 3 * k.item.BaseCraftTime / k.c.Stats.BuffedInt()
		if total <= 0 {
			k.d.Progress = 1
		} else {
			k.d.Progress += 1 / total
		}
		return Running
	})
}

func (k *crafter) createResources() *Act {
	return Do("CreateResources", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		quality := (k.c.Stats.Dexterity + k.c.Stats.BuffedInt()) / 15 * (0.5 + k.rand()*1.25)
		created, ok := CraftResult(k.w.Library, k.item, k.staged, quality)
		if !ok {
			return Failure
		}
		k.c.Inventory.AddResource(ResourceAmount{Type: created, Count: max(k.item.CraftedResultsCount, 1)})
		k.c.AddXP(int(k.item.BaseCraftTime))
		k.staged = nil
		return Success
	})
}

func (k *crafter) placeObject() *Act {
	return Do("PlaceObject", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		m := k.e.Manager()
		if m == nil {
			return Failure
		}
		obj := NewEntity(k.item.Name, k.d.Location.Vec3Middle())
		Add(obj, &CraftedObject{Item: k.item.Name})
		m.Register(obj, nil)
		k.c.AddXP(int(k.item.BaseCraftTime))
		k.staged = nil
		return Success
	})
}

func (k *crafter) finish() *Act {
	return Do("Finish", func() Status {
		k.d.Finished = true
		k.d.Release(k.e)
		k.w.Designations.Unassign(k.d, k.e)
		k.w.Designations.Remove(k.d)
		return Success
	})
}

func (k *crafter) findStation() *Act {
	return Do("FindStation", func() Status {
		if !k.notCancelled() {
			return Failure
		}
		m := k.e.Manager()
		if m == nil {
			return Failure
		}
		var (
			best  *Entity
			bestD = math.Inf(1)
		)
		pos := k.c.Position()
		for _, se := range Query[Station](m) {
			s := Get[Station](se)
			if s.Tag != k.item.CraftLocation {
				continue
			}
			if r := s.ReservedBy(); r != nil && r != k.e {
				continue
			}
			if d := se.WorldPosition().Sub(pos).Len(); d < bestD {
				best, bestD = se, d
			}
		}
		if best == nil || !Get[Station](best).Reserve(k.e) {
			return Failure
		}
		k.station.Set(best)
		k.c.Blackboard.Set(stationKey, best)
		return Success
	})
}

func (k *crafter) stationEntity() *Entity {
	if !k.station.Valid() {
		return nil
	}
	return k.station.Get()
}

func (k *crafter) releaseStation() *Act {
	return Do("ReleaseStation", func() Status {
		k.unreserveStation()
		return Success
	})
}

func (k *crafter) unreserveStation() {
	if _, s, ok := Resolve(&k.station); ok {
		s.Release(k.e)
	}
	k.station.Clear()
	k.c.Blackboard.Delete(stationKey)
}

// cleanup releases everything the task holds. Staged resources go back to the
// stockpiles, or to the inventory when no pile accepts them.
func (k *crafter) cleanup() {
	k.unreserveStation()
	k.d.Release(k.e)
	if k.d.ReservedFor() == nil {
		// gathered resources travel with the reservation holder
		k.d.HasResources = false
		k.d.SelectedResources = nil
	}
	k.w.Designations.Unassign(k.d, k.e)

	for _, a := range k.staged {
		if !k.w.Stockpiles.Restock(a) {
			k.c.Inventory.AddResource(a)
		}
	}
	k.staged = nil
	k.c.Inventory.RestockAll(k.w.Stockpiles)
	k.c.Physics.Wake()
}

func (k *crafter) rand() float64 {
	if m := k.e.Manager(); m != nil {
		return m.Rand().Float64()
	}
	return 0.5
}

// gather fetches each required resource from a stockpile holding enough of it,
// walking to the pile first when it has a location.
type gather struct {
	k     *crafter
	idx   int
	pile  *Stockpile
	walk  Routine
	taken []ResourceAmount
}

func (g *gather) Step() Status {
	k := g.k
	reqs := k.item.RequiredResources
	for g.idx < len(reqs) {
		if !k.notCancelled() {
			return Failure
		}
		req := reqs[g.idx]
		if g.pile == nil {
			g.pile = g.findPile(req)
			if g.pile == nil {
				return Failure
			}
			if len(g.pile.Voxels) > 0 && Standable(k.w.Terrain, g.pile.Voxels[0]) {
				dst := g.pile.Voxels[0]
				g.walk = &goTo{c: k.c, w: k.w, guard: k.notCancelled, target: func() (cube.Pos, bool) { return dst, true }}
			}
		}
		if g.walk != nil {
			switch g.walk.Step() {
			case Running:
				return Running
			case Failure:
				return Failure
			}
			g.walk = nil
		}
		got, ok := g.pile.Take(req)
		if !ok {
			return Failure
		}
		for _, a := range got {
			k.c.Inventory.addFetched(a)
		}
		g.taken = append(g.taken, got...)
		g.pile = nil
		g.idx++
	}
	k.d.SelectedResources = g.taken
	k.d.HasResources = true
	return Success
}

func (g *gather) findPile(req ResourceRequest) *Stockpile {
	for _, s := range g.k.w.Stockpiles.All() {
		if s.Count(req) >= req.Count {
			return s
		}
	}
	return nil
}

// PlaceVoxelAct compiles the task that makes c fill pos with one unit of res: walk
// next to pos, work for PlaceVoxelTicks, consume the resource and fill the voxel. A
// creature standing in pos steps out of it.
func PlaceVoxelAct(c *Creature, w *World, pos cube.Pos, res ResourceType) *Task {
	root := Sequence(
		GoToVoxel(c, w, pos, nil),
		Wrap("Hit", func() Routine { return WaitTicks(PlaceVoxelTicks) }),
		Do("PlaceVoxel", func() Status {
			editor, ok := w.Terrain.(VoxelEditor)
			if !ok || !w.Terrain.IsValid(pos) || w.Terrain.IsSolid(pos) {
				return Failure
			}
			if _, ok := c.Inventory.RemoveAndCreate([]ResourceAmount{{Type: res, Count: 1}}); !ok {
				return Failure
			}
			editor.SetSolid(pos, true)
			if c.Voxel() == pos {
				if out, ok := nearestNeighbour(w.Terrain, pos, pos); ok && c.entity != nil {
					c.entity.SetWorldPosition(out.Vec3Centre())
				}
			}
			c.AddXP(1)
			return Success
		}),
	).Named("PlaceVoxel").Or(SequenceOf(Failure, Do("Restock", func() Status {
		c.Inventory.RestockAll(w.Stockpiles)
		return Success
	})))
	return NewTask("Place "+string(res), root)
}
