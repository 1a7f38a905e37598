package colony

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

// fixture is a small flat world with one manager.
type fixture struct {
	t       *testing.T
	terrain *GridTerrain
	lib     *Library
	world   *World
	m       *Manager
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	terrain := NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{15, 7, 15})
	terrain.FillLayer(0)
	lib := DefaultLibrary()
	w := NewWorld(terrain, lib)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := NewManager(w, append([]Option{WithLogger(logger)}, opts...)...)
	require.Same(t, m, w.Manager())

	return &fixture{t: t, terrain: terrain, lib: lib, world: w, m: m, logs: logs}
}

// dwarf registers a creature standing in voxel pos and flushes it.
func (f *fixture) dwarf(name string, pos cube.Pos) (*Entity, *Creature) {
	f.t.Helper()
	e := NewEntity(name, pos.Vec3Centre())
	c := NewCreature(name, DefaultStats)
	Add(e, c)
	f.m.Register(e, nil)
	f.m.Flush()
	require.True(f.t, e.Live())
	return e, c
}

// pile creates a stockpile without voxels, stocked with amounts, and adds it to the world.
func (f *fixture) pile(amounts ...ResourceAmount) *Stockpile {
	f.t.Helper()
	s := NewStockpile("pile", f.lib)
	for _, a := range amounts {
		require.True(f.t, s.Add(a), "pile refused %v", a)
	}
	f.world.Stockpiles.Add(s)
	return s
}

// run ticks task until it finishes, failing the test after limit ticks.
func (f *fixture) run(task *Task, limit int) Status {
	f.t.Helper()
	for range limit {
		if st := task.Tick(); st != Running {
			return st
		}
		f.m.Tick(0, f.world)
	}
	f.t.Fatalf("task %s still running after %d ticks", task.Name, limit)
	return Running
}

func TestWorld_ManagerLink(t *testing.T) {
	t.Parallel()

	w := NewWorld(NewGridTerrain(cube.Pos{}, cube.Pos{1, 1, 1}), DefaultLibrary())
	require.Nil(t, w.Manager())
	m := NewManager(w)
	require.Same(t, m, w.Manager())
	require.NotNil(t, w.Designations)
	require.NotNil(t, w.Stockpiles)
	require.Equal(t, mgl64.Vec3{}, m.Root().Position())
}
