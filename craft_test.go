package colony

import (
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bowl() *CraftItem {
	return &CraftItem{
		Name:                "Wooden Bowl",
		Type:                CraftResource,
		ResultType:          "Bowl",
		CraftedResultsCount: 2,
		BaseCraftTime:       5,
		RequiredResources:   []ResourceRequest{{Tag: TagWood, Count: 2}},
	}
}

func TestCraftResult(t *testing.T) {
	t.Parallel()
	lib := DefaultLibrary()

	tests := []struct {
		name   string
		item   CraftItem
		staged []ResourceAmount
		want   ResourceType
		ok     bool
	}{
		{name: "normal", item: CraftItem{ResultType: "Bowl"}, want: "Bowl", ok: true},
		{name: "normal without result", item: CraftItem{}, ok: false},
		{
			name:   "meal",
			item:   CraftItem{Behavior: BehaviorMeal},
			staged: []ResourceAmount{{Type: "Grain", Count: 1}, {Type: "Meat", Count: 1}},
			want:   "Grain Meat Stew",
			ok:     true,
		},
		{
			name:   "meal needs two ingredients",
			item:   CraftItem{Behavior: BehaviorMeal},
			staged: []ResourceAmount{{Type: "Grain", Count: 1}},
		},
		{
			name:   "ale",
			item:   CraftItem{Behavior: BehaviorAlcohol},
			staged: []ResourceAmount{{Type: "Mushroom", Count: 1}},
			want:   "Mushroom Ale",
			ok:     true,
		},
		{
			name:   "bread",
			item:   CraftItem{Behavior: BehaviorBread},
			staged: []ResourceAmount{{Type: "Grain", Count: 2}},
			want:   "Grain Bread",
			ok:     true,
		},
		{
			name:   "trinket grade follows quality",
			item:   CraftItem{Behavior: BehaviorTrinket},
			staged: []ResourceAmount{{Type: "Gold", Count: 1}},
			want:   "Fine Gold Trinket",
			ok:     true,
		},
		{
			name:   "gem trinket",
			item:   CraftItem{Behavior: BehaviorGemTrinket},
			staged: []ResourceAmount{{Type: "Iron", Count: 1}, {Type: "Ruby", Count: 1}},
			want:   "Ruby-encrusted Iron",
			ok:     true,
		},
		{
			name:   "gem trinket without gem",
			item:   CraftItem{Behavior: BehaviorGemTrinket},
			staged: []ResourceAmount{{Type: "Iron", Count: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := CraftResult(lib, &tt.item, tt.staged, 1.2)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCraftItemAct_WithoutLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	pile := f.pile(ResourceAmount{Type: "Wood", Count: 3})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(d)
	require.True(t, f.world.Designations.Assign(d, e))

	st := f.run(CraftItemAct(c, d, f.world), 50)
	require.Equal(t, Success, st)

	assert.Equal(t, 2, c.Inventory.Count("Bowl"))
	assert.Zero(t, c.Inventory.Count("Wood"), "required resources are consumed")
	assert.Equal(t, 1, pile.Count(ResourceRequest{Type: "Wood"}))
	assert.Equal(t, 5, c.XP)

	assert.True(t, d.Finished)
	assert.Nil(t, d.ReservedFor())
	assert.Nil(t, d.Assignee())
	assert.False(t, f.world.Designations.Contains(d))
}

func TestCraftItemAct_ObjectWithStation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	f.pile(ResourceAmount{Type: "Iron", Count: 1})

	anvil := NewEntity("anvil", cube.Pos{6, 1, 2}.Vec3Middle())
	station := &Station{Tag: "Anvil"}
	Add(anvil, station)
	f.m.Register(anvil, nil)
	f.m.Flush()

	item := &CraftItem{
		Name:              "Iron Door",
		Type:              CraftObject,
		BaseCraftTime:     3,
		CraftLocation:     "Anvil",
		RequiredResources: []ResourceRequest{{Type: "Iron", Count: 1}},
	}
	d := NewCraftDesignation(item, cube.Pos{4, 1, 6})
	f.world.Designations.Add(d)

	task := CraftItemAct(c, d, f.world)
	st := f.run(task, 200)
	require.Equal(t, Success, st)
	f.m.Flush()

	objects := Query[CraftedObject](f.m)
	require.Len(t, objects, 1)
	assert.Equal(t, "Iron Door", Get[CraftedObject](objects[0]).Item)
	assert.Equal(t, d.Location.Vec3Middle(), objects[0].WorldPosition())
	assert.Nil(t, station.ReservedBy(), "station is released once the work is done")
	assert.False(t, c.Blackboard.Has(stationKey))
	assert.Zero(t, c.Inventory.Count("Iron"))
	assert.NotEqual(t, mgl64.Vec3{}, e.WorldPosition())
}

func TestCraftItemAct_ZeroBuildSpeedStillFinishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	c.Stats.BuildSpeed = 0
	f.pile(ResourceAmount{Type: "Stone", Count: 1})
	item := &CraftItem{
		Name:              "Stone Bench",
		Type:              CraftObject,
		BaseCraftTime:     1,
		RequiredResources: []ResourceRequest{{Type: "Stone", Count: 1}},
	}
	d := NewCraftDesignation(item, cube.Pos{4, 1, 4})
	f.world.Designations.Add(d)

	require.Equal(t, Success, f.run(CraftItemAct(c, d, f.world), 200))
	assert.True(t, d.Finished)
	assert.Nil(t, d.ReservedFor())
}

func TestCraftItemAct_GemTrinketWithoutGemFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	pile := f.pile(ResourceAmount{Type: "Iron", Count: 1})
	item := &CraftItem{
		Name:              "Gem Trinket",
		Type:              CraftResource,
		Behavior:          BehaviorGemTrinket,
		BaseCraftTime:     2,
		RequiredResources: []ResourceRequest{{Tag: TagCraft, Count: 1}},
	}
	d := NewCraftDesignation(item, cube.Pos{})
	f.world.Designations.Add(d)

	var st Status
	require.NotPanics(t, func() { st = f.run(CraftItemAct(c, d, f.world), 50) })
	assert.Equal(t, Failure, st)

	assert.Equal(t, 1, pile.Count(ResourceRequest{Type: "Iron"}), "staged resources are restocked")
	assert.Empty(t, c.Inventory.Items())
	assert.False(t, d.HasResources)
	assert.Nil(t, d.ReservedFor())
	assert.True(t, f.world.Designations.Contains(d), "a failed craft stays open")
}

func TestCraftItemAct_MissingResourcesFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	f.pile(ResourceAmount{Type: "Wood", Count: 1})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(d)

	assert.Equal(t, Failure, f.run(CraftItemAct(c, d, f.world), 10))
	assert.Nil(t, d.ReservedFor())
	assert.Equal(t, 1, f.world.Stockpiles.Count(ResourceRequest{Type: "Wood"}))
}

func TestCraftItemAct_CancelRestocks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	pile := f.pile(ResourceAmount{Type: "Wood", Count: 2})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(d)
	require.True(t, f.world.Designations.Assign(d, e))

	task := CraftItemAct(c, d, f.world)
	require.Equal(t, Running, task.Tick())
	require.Zero(t, pile.Total(), "resources were gathered")
	require.Equal(t, e, d.ReservedFor())

	c.Physics.Sleeping = true
	task.Cancel()
	assert.Equal(t, Failure, task.Tick())

	assert.Equal(t, 2, pile.Count(ResourceRequest{Type: "Wood"}))
	assert.Empty(t, c.Inventory.Items())
	assert.Nil(t, d.ReservedFor())
	assert.Nil(t, d.Assignee())
	assert.False(t, d.HasResources)
	assert.Empty(t, d.SelectedResources)
	assert.False(t, c.Physics.Sleeping, "cleanup wakes the body")
}

func TestCraftItemAct_RemovedCrafterReturnsResources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	ai := &CreatureAI{}
	Add(e, ai)
	f.m.Flush()

	pile := f.pile(ResourceAmount{Type: "Wood", Count: 2})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(d)
	require.True(t, f.world.Designations.Assign(d, e))

	ai.Assign(CraftItemAct(c, d, f.world))
	ai.Assign(NewTask("later", Always(Success)))
	f.m.Tick(0, f.world)
	require.Zero(t, pile.Total(), "resources were gathered")
	require.True(t, d.HasResources)

	// removed without dying
	f.m.Unregister(e)
	f.m.Flush()

	assert.Equal(t, 2, pile.Count(ResourceRequest{Type: "Wood"}))
	assert.False(t, d.HasResources)
	assert.Empty(t, d.SelectedResources)
	assert.Nil(t, d.ReservedFor())
	assert.Nil(t, d.Assignee())
	assert.Contains(t, f.world.Designations.Open(), d, "the order can be retried")
	assert.Equal(t, 1, ai.Failed)
	assert.True(t, ai.Idle())
}

func TestCraftItemAct_RemovedDesignationCancels(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	pile := f.pile(ResourceAmount{Type: "Wood", Count: 2})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(d)

	task := CraftItemAct(c, d, f.world)
	require.Equal(t, Running, task.Tick())
	f.world.Designations.Remove(d)

	assert.Equal(t, Failure, f.run(task, 10))
	assert.Equal(t, 2, pile.Total())
}

func TestCraftDesignation_ReservationExclusive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a, ca := f.dwarf("a", cube.Pos{1, 1, 1})
	b, _ := f.dwarf("b", cube.Pos{3, 1, 1})
	d := NewCraftDesignation(bowl(), cube.Pos{})

	require.True(t, d.Reserve(a))
	assert.False(t, d.Reserve(b))
	assert.True(t, d.Reserve(a), "reserving again is idempotent")
	assert.Equal(t, a, d.ReservedFor())

	d.Release(b)
	assert.Equal(t, a, d.ReservedFor(), "only the holder releases")

	ca.Die()
	assert.Nil(t, d.ReservedFor(), "a dead holder is forgotten")
	assert.True(t, d.Reserve(b))
}

func TestCraftDesignation_RemovedHolderIsForgotten(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a, _ := f.dwarf("a", cube.Pos{1, 1, 1})
	d := NewCraftDesignation(bowl(), cube.Pos{})
	require.True(t, d.Reserve(a))

	f.m.Unregister(a)
	f.m.Flush()
	assert.Nil(t, d.ReservedFor())
}

func TestCreature_CorpseRemovedAfterDelay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{1, 1, 1})
	c.Die()
	assert.True(t, c.IsDead())

	for range CorpseTicks - 1 {
		f.m.Tick(0, f.world)
	}
	assert.True(t, e.Live())
	f.m.Tick(0, f.world)
	assert.True(t, e.Closed())
	assert.Contains(t, f.logs.String(), "creature died")
}

func TestCreature_BuffExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{1, 1, 1})
	c.AddBuff(&Buff{Name: "good meal", IntelligenceBonus: 3, Ticks: 2})
	assert.Equal(t, 8.0, c.Stats.BuffedInt())

	f.m.Tick(0, f.world)
	f.m.Tick(0, f.world)
	assert.Equal(t, 5.0, c.Stats.BuffedInt())
	assert.Empty(t, c.Buffs())
}

func TestPlaceVoxelAct(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	c.Inventory.AddResource(ResourceAmount{Type: "Stone", Count: 1})
	target := cube.Pos{5, 1, 2}

	require.Equal(t, Success, f.run(PlaceVoxelAct(c, f.world, target, "Stone"), 100))
	assert.True(t, f.terrain.IsSolid(target))
	assert.Zero(t, c.Inventory.Count("Stone"))
	assert.NotEqual(t, target, c.Voxel())

	assert.Equal(t, Failure, f.run(PlaceVoxelAct(c, f.world, cube.Pos{5, 1, 3}, "Stone"), 100),
		"no stone left")
}
