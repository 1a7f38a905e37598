package colony

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Sprite draws its entity as an instance of Batch.
type Sprite struct {
	Batch *InstanceBatch
	Tint  mgl64.Vec4

	inst *Instance
}

// Attach implements Attachable.
func (s *Sprite) Attach(e *Entity) {
	if s.Batch == nil {
		return
	}
	s.inst = &Instance{Position: e.WorldPosition(), Tint: s.Tint}
	s.Batch.Add(s.inst)
}

// Detach implements Detachable.
func (s *Sprite) Detach(*Entity) {
	if s.Batch != nil && s.inst != nil {
		s.Batch.Remove(s.inst)
	}
	s.inst = nil
}

// Render implements Drawable by moving the instance to the entity.
func (s *Sprite) Render(e *Entity, _ *Camera) {
	if s.inst != nil {
		s.inst.Position = e.WorldPosition()
	}
}

// Marker shows its entity on the overview map.
type Marker struct {
	Label string `json:"label"`
}

// Icon implements MapIcon.
func (m *Marker) Icon() string {
	return m.Label
}
