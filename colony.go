// Package colony is the simulation core of a voxel colony game: creatures pick up
// designations, gather resources from stockpiles and craft items, all driven by
// behavior trees ticked once per simulation step.
//
// The package is organised around three pieces:
//   - Act is a behavior-tree node. Leaves wrap predicates, instant actions and
//     resumable Routines; combinators sequence, select and guard them. A Task owns a
//     root Act together with its cancellation hook.
//   - Manager is the entity registry. Entities form a tree under a root, carry typed
//     components, and are registered or removed through buffered queues applied at a
//     single flush point per tick. Capability indices (updaters, drawables, map icons)
//     are derived from the attached components.
//   - Scheduler runs bundles of struct-injected loop systems around the registry tick,
//     either on a fixed-rate goroutine or one Step at a time.
//
// # Quick start
//
//	w := colony.NewWorld(terrain, library)
//	m := colony.NewBuilder().
//	    World(w).
//	    Bundle(colony.CraftingBundle().Build()).
//	    Init()
//
//	dwarf := colony.NewEntity("dwarf", mgl64.Vec3{2, 1, 2})
//	colony.Add(dwarf, colony.NewCreature("Urist", colony.DefaultStats))
//	colony.Add(dwarf, &colony.CreatureAI{})
//	m.Register(dwarf, nil)
//
//	w.Designations.Add(colony.NewCraftDesignation(item, cube.Pos{}))
//	for range 100 {
//	    m.Step(50 * time.Millisecond)
//	}
//
// # Components
//
// Components are plain structs attached with Add and read with Get. A component may
// implement Attachable, Detachable, Registrable, Updater, Drawable, MapIcon and
// PostRestorer to take part in the entity lifecycle and the capability indices.
// Components that should survive Save and Restore are named with RegisterComponent.
//
// # Systems
//
// Loop systems are structs whose fields are injected before each run:
//
//	type Hunger struct {
//	    Entity   *colony.Entity
//	    Creature *colony.Creature
//	    AI       *colony.CreatureAI `colony:"opt"`
//	    _        colony.Without[colony.Station]
//	}
//
// A system with an *Entity field or any component filter runs once per matching
// entity, otherwise once per tick.
package colony

func init() {
	RegisterComponent[Creature]("creature")
	RegisterComponent[Stockpile]("stockpile")
	RegisterComponent[Station]("station")
	RegisterComponent[CraftedObject]("crafted-object")
	RegisterComponent[Marker]("marker")
}
