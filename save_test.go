package colony

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip saves f's registry through JSON and restores it into a fresh world.
func roundTrip(t *testing.T, f *fixture) (*Manager, *World) {
	t.Helper()

	data, err := f.m.Save()
	require.NoError(t, err)
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded SaveData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	w := NewWorld(f.terrain, f.lib)
	m, err := Restore(&decoded, w)
	require.NoError(t, err)
	return m, w
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for range 3 {
		f.m.Tick(0, f.world)
	}

	dwarf, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	c.Inventory.AddResource(ResourceAmount{Type: "Meat", Count: 2})
	c.XP = 12

	badge := NewEntity("badge", mgl64.Vec3{0, 2, 0})
	Add(badge, &Marker{Label: "leader"})
	f.m.Register(badge, dwarf)

	yard := NewEntity("yard", mgl64.Vec3{6, 1, 6})
	pile := NewStockpile("yard", nil, cube.Pos{6, 1, 6})
	Add(yard, pile)
	f.m.Register(yard, nil)

	anvil := NewEntity("anvil", mgl64.Vec3{8, 1, 8})
	Add(anvil, &Station{Tag: "Anvil"})
	f.m.Register(anvil, nil)
	f.m.Flush()

	require.True(t, pile.Add(ResourceAmount{Type: "Wood", Count: 5}))
	f.m.Flush()
	require.Len(t, pile.Boxes(), 1)

	m, w := roundTrip(t, f)

	assert.Equal(t, f.m.Root().ID(), m.Root().ID())
	assert.Equal(t, f.m.TickNumber(), m.TickNumber())
	assert.Equal(t, f.m.Len(), m.Len(), "crates are rebuilt on restore")

	for _, orig := range []*Entity{dwarf, badge, yard, anvil} {
		got, ok := m.Lookup(orig.ID())
		require.True(t, ok, "entity %s lost", orig.Name())
		assert.Equal(t, orig.Name(), got.Name())
		assert.Equal(t, orig.Position(), got.Position())
		assert.Equal(t, orig.Parent().ID(), got.Parent().ID())
		assert.Equal(t, orig.Mask(), got.Mask())
	}

	restored, _ := m.Lookup(dwarf.ID())
	rc := Get[Creature](restored)
	require.NotNil(t, rc)
	assert.Same(t, restored, rc.Entity())
	assert.Equal(t, 12, rc.XP)
	assert.Equal(t, 2, rc.Inventory.Count("Meat"))

	ry, _ := m.Lookup(yard.ID())
	rp := Get[Stockpile](ry)
	require.True(t, w.Stockpiles.Contains(rp))
	assert.Equal(t, 5, rp.Total())
	assert.Len(t, rp.Boxes(), 1)

	assert.Len(t, m.MapIcons(), 3, "indices are re-derived")

	next := NewEntity("newcomer", mgl64.Vec3{})
	assert.Greater(t, m.Register(next, nil), anvil.ID(), "identities keep increasing")
}

func TestSave_SkipsUnserializable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	keep := NewEntity("keep", mgl64.Vec3{})
	skip := NewEntity("skip", mgl64.Vec3{})
	skip.SetFlag(ShouldSerialize, false)
	below := NewEntity("below", mgl64.Vec3{})
	Add(keep, &tickCounter{})
	f.m.Register(keep, nil)
	f.m.Register(skip, nil)
	f.m.Register(below, skip)
	f.m.Flush()

	data, err := f.m.Save()
	require.NoError(t, err)
	require.Len(t, data.Entities, 2)
	assert.Equal(t, data.Root, data.Entities[0].ID, "root comes first")
	assert.Equal(t, "keep", data.Entities[1].Name)
	assert.Empty(t, data.Entities[1].Components, "unnamed components are not saved")
}

func TestRestore_DropsOrphans(t *testing.T) {
	t.Parallel()

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	data := &SaveData{
		Root: 1,
		Entities: []EntityRecord{
			{ID: 1, Name: "root", Flags: DefaultFlags},
			{ID: 3, Parent: 2, Name: "child first", Flags: DefaultFlags},
			{ID: 2, Parent: 1, Name: "parent", Flags: DefaultFlags},
			{ID: 4, Parent: 9, Name: "orphan", Flags: DefaultFlags},
			{ID: 5, Parent: 4, Name: "orphan child", Flags: DefaultFlags},
		},
	}

	m, err := Restore(data, NewWorld(NewGridTerrain(cube.Pos{}, cube.Pos{1, 1, 1}), DefaultLibrary()), WithLogger(logger))
	require.NoError(t, err)

	_, ok := m.Lookup(3)
	assert.True(t, ok, "a record may precede its parent")
	for _, id := range []ID{4, 5} {
		_, ok := m.Lookup(id)
		assert.False(t, ok)
	}
	assert.Equal(t, 3, m.Len())
	assert.Contains(t, logs.String(), "dropping orphaned entity")
	assert.Contains(t, logs.String(), "dropping entity unreachable from root")
}

func TestRestore_Errors(t *testing.T) {
	t.Parallel()
	w := NewWorld(NewGridTerrain(cube.Pos{}, cube.Pos{1, 1, 1}), DefaultLibrary())

	_, err := Restore(&SaveData{Root: 7, Entities: []EntityRecord{{ID: 1}}}, w)
	assert.ErrorIs(t, err, ErrRootMissing)

	_, err = Restore(&SaveData{
		Root: 1,
		Entities: []EntityRecord{
			{ID: 1, Name: "root"},
			{ID: 2, Parent: 1, Name: "odd", Components: map[string]json.RawMessage{"unheard-of": []byte(`{}`)}},
		},
	}, w)
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = Restore(&SaveData{
		Root: 1,
		Entities: []EntityRecord{
			{ID: 1, Name: "root"},
			{ID: 2, Parent: 1, Name: "broken", Components: map[string]json.RawMessage{"creature": []byte(`[]`)}},
		},
	}, w)
	assert.Error(t, err)
}
