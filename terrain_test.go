package colony

import (
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridTerrain(t *testing.T) {
	t.Parallel()

	g := NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{3, 3, 3})
	assert.True(t, g.IsValid(cube.Pos{3, 3, 3}))
	assert.False(t, g.IsValid(cube.Pos{4, 0, 0}))
	assert.False(t, g.IsValid(cube.Pos{0, -1, 0}))

	assert.False(t, g.SetSolid(cube.Pos{9, 9, 9}, true))
	require.True(t, g.SetSolid(cube.Pos{1, 1, 1}, true))
	assert.True(t, g.IsSolid(cube.Pos{1, 1, 1}))
	g.SetSolid(cube.Pos{1, 1, 1}, false)
	assert.False(t, g.IsSolid(cube.Pos{1, 1, 1}))

	lo, hi := g.Bounds()
	assert.Equal(t, cube.Pos{0, 0, 0}, lo)
	assert.Equal(t, cube.Pos{3, 3, 3}, hi)
}

func TestStandable(t *testing.T) {
	t.Parallel()

	g := NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{3, 3, 3})
	g.FillLayer(1)

	assert.True(t, Standable(g, cube.Pos{2, 2, 2}), "on top of the floor")
	assert.False(t, Standable(g, cube.Pos{2, 1, 2}), "inside the floor")
	assert.False(t, Standable(g, cube.Pos{2, 3, 2}), "in mid air")
	assert.True(t, Standable(g, cube.Pos{2, 0, 2}), "at the bottom of the world")
	assert.False(t, Standable(g, cube.Pos{5, 2, 2}), "outside the world")
}

func TestHasVisibleSurface(t *testing.T) {
	t.Parallel()

	g := NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{4, 4, 4})
	for x := 1; x <= 3; x++ {
		for y := 1; y <= 3; y++ {
			for z := 1; z <= 3; z++ {
				g.SetSolid(cube.Pos{x, y, z}, true)
			}
		}
	}

	assert.False(t, HasVisibleSurface(g, cube.Pos{2, 2, 2}), "buried voxel")
	assert.True(t, HasVisibleSurface(g, cube.Pos{1, 2, 2}))
	assert.False(t, HasVisibleSurface(g, cube.Pos{0, 0, 0}), "air has no surface")
}

func TestGoToVoxel_NoStandableNeighbour(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	// every neighbour of a voxel above the world is invalid
	assert.Equal(t, Failure, GoToVoxel(c, f.world, cube.Pos{2, 20, 2}, nil).Tick())
}

func TestWander(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{8, 1, 8})
	task := NewTask("wander", Wander(c, f.world, 20))
	assert.Equal(t, Success, f.run(task, 30))
	assert.True(t, Standable(f.terrain, c.Voxel()), "wandering never leaves walkable ground")
}
