package colony

// Stage orders loop systems around the entity update of a tick.
// Loops run in stage order: Before, entity updates, Default, After.
type Stage int

const (
	// Before runs ahead of entity updates. Use for dispatching work, such as handing
	// designations to idle creatures.
	Before Stage = iota

	// Default runs after entity updates, for logic that reacts to this tick's tasks.
	Default

	// After runs last, ahead of timers and the flush. Use for bookkeeping.
	After

	// stageCount is the total number of stages.
	stageCount
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case Before:
		return "Before"
	case Default:
		return "Default"
	case After:
		return "After"
	default:
		return "Unknown"
	}
}
