package colony

import (
	"github.com/df-mc/dragonfly/server/block/cube"
)

// MaxTravelTicks bounds a single trip.
const MaxTravelTicks = 600

// goTo walks a creature in a straight line towards the centre of a standable voxel.
type goTo struct {
	c      *Creature
	w      *World
	target func() (cube.Pos, bool)
	guard  func() bool

	ticks int
}

func (g *goTo) Step() Status {
	if g.guard != nil && !g.guard() {
		return Failure
	}
	dst, ok := g.target()
	if !ok || !Standable(g.w.Terrain, dst) {
		return Failure
	}
	if g.c.entity == nil {
		return Failure
	}

	goal := dst.Vec3Centre()
	pos := g.c.Position()
	delta := goal.Sub(pos)
	dist := delta.Len()
	if dist <= max(g.c.Speed, 1e-6) {
		g.c.entity.SetWorldPosition(goal)
		return Success
	}

	g.ticks++
	if g.ticks > MaxTravelTicks {
		return Failure
	}
	g.c.entity.SetWorldPosition(pos.Add(delta.Mul(g.c.Speed / dist)))
	return Running
}

// GoTo walks c to stand in pos.
func GoTo(c *Creature, w *World, pos cube.Pos, guard func() bool) *Act {
	return Wrap("GoTo", func() Routine {
		return &goTo{c: c, w: w, guard: guard, target: func() (cube.Pos, bool) { return pos, true }}
	})
}

// GoToVoxel walks c next to pos: to the standable neighbour of pos closest to c.
// It fails when pos has no standable neighbour.
func GoToVoxel(c *Creature, w *World, pos cube.Pos, guard func() bool) *Act {
	return Wrap("GoToVoxel", func() Routine {
		return &goTo{c: c, w: w, guard: guard, target: func() (cube.Pos, bool) {
			return nearestNeighbour(w.Terrain, pos, c.Voxel())
		}}
	})
}

// GoToEntity walks c next to the voxel target occupies. The target is resolved every
// step, so a removed target fails the walk.
func GoToEntity(c *Creature, w *World, target func() *Entity, guard func() bool) *Act {
	return Wrap("GoToEntity", func() Routine {
		return &goTo{c: c, w: w, guard: guard, target: func() (cube.Pos, bool) {
			e := target()
			if e == nil || e.Closed() {
				return cube.Pos{}, false
			}
			return nearestNeighbour(w.Terrain, cube.PosFromVec3(e.WorldPosition()), c.Voxel())
		}}
	})
}

// nearestNeighbour returns the standable voxel adjacent to pos that is closest to
// from. Standing in from already counts.
func nearestNeighbour(t Terrain, pos, from cube.Pos) (cube.Pos, bool) {
	var (
		best  cube.Pos
		found bool
		bestD int
	)
	for _, f := range cube.Faces() {
		n := pos.Side(f)
		if !Standable(t, n) {
			continue
		}
		if n == from {
			return n, true
		}
		d := manhattan(n, from)
		if !found || d < bestD {
			best, bestD, found = n, d, true
		}
	}
	return best, found
}

func manhattan(a, b cube.Pos) int {
	return abs(a.X()-b.X()) + abs(a.Y()-b.Y()) + abs(a.Z()-b.Z())
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// wander moves a creature to random standable neighbours for a number of ticks.
type wander struct {
	c    *Creature
	w    *World
	left int
	walk Routine
}

func (r *wander) Step() Status {
	if r.left <= 0 {
		return Success
	}
	r.left--
	if r.walk != nil {
		if st := r.walk.Step(); st == Running {
			return Running
		}
		r.walk = nil
	}
	m := r.c.entity.Manager()
	if m == nil {
		return Running
	}
	faces := cube.HorizontalFaces()
	from := r.c.Voxel()
	n := from.Side(faces[m.Rand().IntN(len(faces))])
	if Standable(r.w.Terrain, n) {
		r.walk = &goTo{c: r.c, w: r.w, target: func() (cube.Pos, bool) { return n, true }}
	}
	return Running
}

// Wander keeps c moving randomly for ticks ticks, then succeeds.
func Wander(c *Creature, w *World, ticks int) *Act {
	return Wrap("Wander", func() Routine {
		return &wander{c: c, w: w, left: ticks}
	})
}
