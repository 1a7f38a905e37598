package colony

import (
	"reflect"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tally struct {
	global, perEntity int
	names             []string
}

type globalCount struct {
	Manager *Manager
	Tally   *tally `colony:"res"`
}

func (s *globalCount) Run() { s.Tally.global++ }

type stationCount struct {
	Entity  *Entity
	Station *Station
	Marker  *Marker `colony:"opt"`
	Tally   *tally  `colony:"res"`
	_       Without[CraftedObject]
}

func (s *stationCount) Run() {
	s.Tally.perEntity++
	label := s.Entity.Name()
	if s.Marker != nil {
		label += ":" + s.Marker.Label
	}
	s.Tally.names = append(s.Tally.names, label)
}

type panicky struct {
	_ With[Station]
}

func (panicky) Run() { panic("boom") }

func TestAnalyzeSystem(t *testing.T) {
	t.Parallel()

	meta, err := analyzeSystem(reflect.TypeOf(&stationCount{}), nil)
	require.NoError(t, err)
	assert.True(t, meta.PerEntity)
	assert.Equal(t, "stationCount", meta.Name)

	kinds := make([]FieldKind, 0, len(meta.Fields))
	for _, fm := range meta.Fields {
		kinds = append(kinds, fm.Kind)
	}
	assert.Equal(t, []FieldKind{KindEntity, KindComponent, KindComponent, KindResource, KindPhantomWithout}, kinds)
	assert.True(t, meta.RequireMask.Has(componentID[Station]()))
	assert.False(t, meta.RequireMask.Has(componentID[Marker]()), "optional components are not required")
	assert.True(t, meta.ExcludeMask.Has(componentID[CraftedObject]()))

	global, err := analyzeSystem(reflect.TypeOf(&globalCount{}), nil)
	require.NoError(t, err)
	assert.False(t, global.PerEntity)

	_, err = analyzeSystem(reflect.TypeOf(0), nil)
	assert.Error(t, err)
}

func TestScheduler_InjectsAndFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	counts := &tally{}
	m := NewBuilder().
		World(f.world).
		Options(WithLogger(f.m.Logger())).
		Resource(counts).
		Bundle(NewBundle("test").
			Loop(&globalCount{}, 0, After).
			Loop(&stationCount{}, 0, Default).
			Build()).
		Init()
	require.Same(t, counts, Resource[tally](m))

	plain := NewEntity("anvil", mgl64.Vec3{})
	Add(plain, &Station{Tag: "Anvil"})
	marked := NewEntity("stove", mgl64.Vec3{})
	Add(marked, &Station{Tag: "Stove"})
	Add(marked, &Marker{Label: "hot"})
	done := NewEntity("placed", mgl64.Vec3{})
	Add(done, &Station{Tag: "Anvil"})
	Add(done, &CraftedObject{Item: "Anvil"})
	m.Register(plain, nil)
	m.Register(marked, nil)
	m.Register(done, nil)
	m.Flush()

	m.Step(50 * time.Millisecond)
	m.Step(50 * time.Millisecond)

	assert.Equal(t, 2, counts.global)
	assert.Equal(t, 4, counts.perEntity)
	assert.Equal(t, []string{"anvil", "stove:hot", "anvil", "stove:hot"}, counts.names)
	assert.Equal(t, uint64(2), m.TickNumber())
}

func TestScheduler_Interval(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	counts := &tally{}
	m := NewBuilder().
		World(f.world).
		Resource(counts).
		Bundle(NewBundle("slow").Loop(&globalCount{}, 100*time.Millisecond, Default).Build()).
		Init()

	// due at 50ms, then every 100ms of simulated time
	for range 4 {
		m.Step(50 * time.Millisecond)
	}
	assert.Equal(t, 3, counts.global)
}

func TestScheduler_MissingResourceSkipsSystem(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	m := NewBuilder().
		World(f.world).
		Bundle(NewBundle("orphan").Loop(&globalCount{}, 0, Default).Build()).
		Init()
	assert.NotPanics(t, func() { m.Step(time.Millisecond) })
}

func TestScheduler_PanicStopsLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	m := NewBuilder().
		World(f.world).
		Options(WithLogger(f.m.Logger())).
		Bundle(NewBundle("bad").Loop(panicky{}, 0, Default).Build()).
		Init()
	station := NewEntity("anvil", mgl64.Vec3{})
	Add(station, &Station{Tag: "Anvil"})
	m.Register(station, nil)
	m.Flush()

	require.NotPanics(t, func() { m.Step(time.Millisecond) })
	assert.Contains(t, f.logs.String(), "panic in loop panicky")
	assert.Contains(t, f.logs.String(), "bundle=bad")
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	m := NewBuilder().World(f.world).Options(WithTickRate(time.Millisecond)).Init()
	m.Start()
	require.Eventually(t, func() bool { return m.TickNumber() >= 3 }, time.Second, time.Millisecond)
	m.Shutdown()

	stopped := m.TickNumber()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, stopped, m.TickNumber())
}

func TestCraftingBundle_DispatchesIdleCreatures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	m := NewBuilder().
		World(f.world).
		Bundle(CraftingBundle().Build()).
		Init()

	dwarf := NewEntity("urist", cube.Pos{2, 1, 2}.Vec3Centre())
	c := NewCreature("urist", DefaultStats)
	ai := &CreatureAI{}
	Add(dwarf, c)
	Add(dwarf, ai)
	m.Register(dwarf, nil)
	m.Flush()

	f.pile(ResourceAmount{Type: "Wood", Count: 4})
	first := NewCraftDesignation(bowl(), cube.Pos{})
	second := NewCraftDesignation(bowl(), cube.Pos{})
	f.world.Designations.Add(first)
	f.world.Designations.Add(second)

	for range 40 {
		m.Step(50 * time.Millisecond)
	}

	assert.Equal(t, 2, ai.Completed)
	assert.Zero(t, ai.Failed)
	assert.True(t, ai.Idle())
	assert.Equal(t, 4, c.Inventory.Count("Bowl"))
	assert.Zero(t, f.world.Designations.Len())
}

func TestCreatureAI_CancelsWhenDead(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	e, c := f.dwarf("urist", cube.Pos{2, 1, 2})
	ai := &CreatureAI{}
	Add(e, ai)
	f.m.Flush()

	var cleaned bool
	ai.Assign(NewTask("forever", Wrap("wait", func() Routine { return WaitTicks(1000) })).
		OnCanceled(func() { cleaned = true }))
	ai.Assign(NewTask("never", Always(Success)))

	f.m.Tick(0, f.world)
	require.NotNil(t, ai.Current())

	c.Die()
	f.m.Tick(0, f.world)
	assert.True(t, cleaned)
	assert.Equal(t, 1, ai.Failed)
	assert.Zero(t, ai.Completed)
	assert.True(t, ai.Idle())
	assert.Contains(t, f.logs.String(), "task failed")
}
