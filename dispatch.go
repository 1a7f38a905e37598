package colony

// CraftDispatch hands open craft designations to idle creatures. Register it as a
// Before loop so new tasks start ticking in the same tick.
type CraftDispatch struct {
	Entity   *Entity
	World    *World
	Creature *Creature
	AI       *CreatureAI
}

// Run implements Runnable.
func (s *CraftDispatch) Run() {
	if s.Creature.IsDead() || !s.AI.Idle() || s.World.Designations == nil {
		return
	}
	for _, d := range s.World.Designations.Open() {
		if !s.World.Designations.Assign(d, s.Entity) {
			continue
		}
		s.AI.Assign(CraftItemAct(s.Creature, d, s.World))
		return
	}
}

// CraftingBundle returns the bundle that runs CraftDispatch every tick.
func CraftingBundle() *Bundle {
	return NewBundle("crafting").Loop(&CraftDispatch{}, 0, Before)
}
