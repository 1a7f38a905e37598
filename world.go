package colony

// World bundles the collaborators shared by every entity of a simulation.
type World struct {
	Terrain      Terrain
	Library      ResourceLibrary
	Designations *Designations
	Stockpiles   *Stockpiles

	manager *Manager
}

// NewWorld creates a world over terrain and lib with empty designation and stockpile
// registries.
func NewWorld(terrain Terrain, lib ResourceLibrary) *World {
	return &World{
		Terrain:      terrain,
		Library:      lib,
		Designations: NewDesignations(),
		Stockpiles:   NewStockpiles(),
	}
}

// Manager returns the manager simulating the world, or nil before one is created.
func (w *World) Manager() *Manager {
	return w.manager
}
