package colony

import (
	"cmp"
	"image"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

// Camera is a perspective camera looking at Target from Position.
type Camera struct {
	Position mgl64.Vec3
	Target   mgl64.Vec3
	Up       mgl64.Vec3
	// FOV is the vertical field of view in degrees.
	FOV      float64
	Near     float64
	Far      float64
	Viewport image.Rectangle
}

// NewCamera returns a camera with a 60 degree field of view over viewport.
func NewCamera(pos, target mgl64.Vec3, viewport image.Rectangle) *Camera {
	return &Camera{
		Position: pos,
		Target:   target,
		Up:       mgl64.Vec3{0, 1, 0},
		FOV:      60,
		Near:     0.1,
		Far:      1000,
		Viewport: viewport,
	}
}

// View returns the view matrix.
func (c *Camera) View() mgl64.Mat4 {
	return mgl64.LookAtV(c.Position, c.Target, c.Up)
}

// Projection returns the projection matrix.
func (c *Camera) Projection() mgl64.Mat4 {
	aspect := 1.0
	if h := c.Viewport.Dy(); h > 0 {
		aspect = float64(c.Viewport.Dx()) / float64(h)
	}
	return mgl64.Perspective(mgl64.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// InFrustum reports whether p lies inside the view volume.
func (c *Camera) InFrustum(p mgl64.Vec3) bool {
	clip := c.Projection().Mul4(c.View()).Mul4x1(p.Vec4(1))
	w := clip.W()
	if w <= 0 {
		return false
	}
	return clip.X() >= -w && clip.X() <= w &&
		clip.Y() >= -w && clip.Y() <= w &&
		clip.Z() >= -w && clip.Z() <= w
}

// Project maps p to viewport pixels with y growing downwards. It reports false when
// p is outside the view volume.
func (c *Camera) Project(p mgl64.Vec3) (mgl64.Vec3, bool) {
	if !c.InFrustum(p) {
		return mgl64.Vec3{}, false
	}
	vp := c.Viewport
	win := mgl64.Project(p, c.View(), c.Projection(), vp.Min.X, vp.Min.Y, vp.Dx(), vp.Dy())
	win[1] = float64(vp.Min.Y+vp.Max.Y) - win[1]
	return win, true
}

// SelectionBuffer answers picking queries, typically from an ID buffer rendered by
// the host.
type SelectionBuffer interface {
	IDsInRegion(region image.Rectangle) []ID
}

// SelectByScreenRegion returns the topmost owners of the visible entities inside
// region, deduplicated and ordered by identity. Without a selection buffer every
// entity position is projected through cam.
func (m *Manager) SelectByScreenRegion(region image.Rectangle, cam *Camera) []*Entity {
	var ids []ID
	if m.selection != nil {
		ids = m.selection.IDsInRegion(region)
	} else if cam != nil {
		for _, e := range m.Entities() {
			if e == m.root {
				continue
			}
			win, ok := cam.Project(e.WorldPosition())
			if ok && image.Pt(int(win.X()), int(win.Y())).In(region) {
				ids = append(ids, e.ID())
			}
		}
	}

	seen := make(map[*Entity]struct{})
	var out []*Entity
	for _, id := range ids {
		e, ok := m.Lookup(id)
		if !ok || e == m.root || !e.HasFlag(Visible) {
			continue
		}
		owner := e.Owner()
		if owner == m.root {
			continue
		}
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		out = append(out, owner)
	}
	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}
