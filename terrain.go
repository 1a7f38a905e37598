package colony

import (
	"sync"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// Terrain answers voxel validity and occupancy queries.
type Terrain interface {
	// IsValid reports whether pos lies inside the world.
	IsValid(pos cube.Pos) bool
	// IsSolid reports whether the voxel at pos is filled.
	IsSolid(pos cube.Pos) bool
}

// VoxelEditor is implemented by terrains that creatures can build in.
type VoxelEditor interface {
	SetSolid(pos cube.Pos, solid bool) bool
}

// Standable reports whether a creature can stand at pos: the voxel is valid and empty
// and rests on a solid voxel or the bottom of the world.
func Standable(t Terrain, pos cube.Pos) bool {
	if !t.IsValid(pos) || t.IsSolid(pos) {
		return false
	}
	below := pos.Side(cube.FaceDown)
	return !t.IsValid(below) || t.IsSolid(below)
}

// HasVisibleSurface reports whether the solid voxel at pos has at least one face
// exposed to air or to the edge of the world.
func HasVisibleSurface(t Terrain, pos cube.Pos) bool {
	if !t.IsValid(pos) || !t.IsSolid(pos) {
		return false
	}
	for _, f := range cube.Faces() {
		n := pos.Side(f)
		if !t.IsValid(n) || !t.IsSolid(n) {
			return true
		}
	}
	return false
}

// GridTerrain is a bounded in-memory voxel grid.
type GridTerrain struct {
	mu     sync.RWMutex
	min    cube.Pos
	max    cube.Pos
	bounds cube.BBox
	solid  map[cube.Pos]struct{}
}

// NewGridTerrain creates an empty grid covering min to max inclusive.
func NewGridTerrain(min, max cube.Pos) *GridTerrain {
	return &GridTerrain{
		min: min,
		max: max,
		bounds: cube.Box(
			float64(min.X()), float64(min.Y()), float64(min.Z()),
			float64(max.X()+1), float64(max.Y()+1), float64(max.Z()+1),
		),
		solid: make(map[cube.Pos]struct{}),
	}
}

// IsValid reports whether pos lies inside the grid.
func (g *GridTerrain) IsValid(pos cube.Pos) bool {
	return g.bounds.Vec3Within(pos.Vec3Centre())
}

// IsSolid reports whether pos is filled.
func (g *GridTerrain) IsSolid(pos cube.Pos) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.solid[pos]
	return ok
}

// SetSolid fills or clears pos. It returns false if pos is outside the grid.
func (g *GridTerrain) SetSolid(pos cube.Pos, solid bool) bool {
	if !g.IsValid(pos) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if solid {
		g.solid[pos] = struct{}{}
	} else {
		delete(g.solid, pos)
	}
	return true
}

// FillLayer fills every voxel of layer y.
func (g *GridTerrain) FillLayer(y int) {
	for x := g.min.X(); x <= g.max.X(); x++ {
		for z := g.min.Z(); z <= g.max.Z(); z++ {
			g.SetSolid(cube.Pos{x, y, z}, true)
		}
	}
}

// Bounds returns the inclusive corners of the grid.
func (g *GridTerrain) Bounds() (cube.Pos, cube.Pos) {
	return g.min, g.max
}
