package colony

import (
	"cmp"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// culledPenalty scales the depth of instances outside the cull distance or the camera
// frustum so they sort behind every visible one.
const culledPenalty = 100

// Instance is one drawn copy of a batched mesh.
type Instance struct {
	Position mgl64.Vec3
	Tint     mgl64.Vec4

	depth  float64
	culled bool
}

// Depth returns the sort key computed by the last Update.
func (i *Instance) Depth() float64 {
	return i.depth
}

// InstanceBatch draws up to Capacity instances of one mesh, nearest first. Add and
// Remove may be called from any goroutine and take effect at the next Update.
type InstanceBatch struct {
	Name         string
	Capacity     int
	CullDistance float64

	mu        sync.Mutex
	additions []*Instance
	removals  []*Instance

	instances []*Instance
	visible   []*Instance
}

// NewInstanceBatch creates a batch.
func NewInstanceBatch(name string, capacity int, cullDistance float64) *InstanceBatch {
	return &InstanceBatch{Name: name, Capacity: capacity, CullDistance: cullDistance}
}

// Add queues inst for insertion.
func (b *InstanceBatch) Add(inst *Instance) {
	b.mu.Lock()
	b.additions = append(b.additions, inst)
	b.mu.Unlock()
}

// Remove queues inst for removal.
func (b *InstanceBatch) Remove(inst *Instance) {
	b.mu.Lock()
	b.removals = append(b.removals, inst)
	b.mu.Unlock()
}

// Update applies queued changes, then sorts the instances by squared distance to the
// camera and selects the nearest unculled ones, up to Capacity.
func (b *InstanceBatch) Update(cam *Camera) {
	b.mu.Lock()
	adds, removes := b.additions, b.removals
	b.additions, b.removals = nil, nil
	b.mu.Unlock()

	b.instances = append(b.instances, adds...)
	for _, r := range removes {
		if i := slices.Index(b.instances, r); i >= 0 {
			b.instances = slices.Delete(b.instances, i, i+1)
		}
	}

	cull := b.CullDistance * b.CullDistance
	for _, inst := range b.instances {
		d := inst.Position.Sub(cam.Position)
		inst.depth = d.Dot(d)
		inst.culled = (b.CullDistance > 0 && inst.depth > cull) || !cam.InFrustum(inst.Position)
		if inst.culled {
			inst.depth *= culledPenalty
		}
	}
	slices.SortStableFunc(b.instances, func(x, y *Instance) int {
		return cmp.Compare(x.depth, y.depth)
	})

	b.visible = b.visible[:0]
	for _, inst := range b.instances {
		if len(b.visible) >= b.Capacity {
			break
		}
		if inst.culled {
			continue
		}
		b.visible = append(b.visible, inst)
	}
}

// Visible returns the instances selected by the last Update, nearest first.
func (b *InstanceBatch) Visible() []*Instance {
	return slices.Clone(b.visible)
}

// Len returns the number of instances applied so far.
func (b *InstanceBatch) Len() int {
	return len(b.instances)
}
