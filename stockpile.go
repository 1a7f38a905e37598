package colony

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// DefaultBlacklist is the set of tags a new stockpile refuses.
var DefaultBlacklist = []ResourceTag{TagCorpse, TagMoney}

// Stockpile is a storage zone. Attached to an entity, it keeps one crate child per
// ResourcesPerVoxel stored resources, up to one per voxel.
type Stockpile struct {
	Name              string        `json:"name"`
	Whitelist         []ResourceTag `json:"whitelist,omitempty"`
	Blacklist         []ResourceTag `json:"blacklist,omitempty"`
	Voxels            []cube.Pos    `json:"voxels,omitempty"`
	ResourcesPerVoxel int           `json:"resourcesPerVoxel"`

	library ResourceLibrary
	mu      sync.Mutex
	items   map[ResourceType]int
	entity  *Entity
	boxes   []*Entity
}

// NewStockpile creates an empty stockpile resolving tags through lib.
func NewStockpile(name string, lib ResourceLibrary, voxels ...cube.Pos) *Stockpile {
	return &Stockpile{
		Name:              name,
		Blacklist:         slices.Clone(DefaultBlacklist),
		Voxels:            voxels,
		ResourcesPerVoxel: 8,
		library:           lib,
		items:             make(map[ResourceType]int),
	}
}

// IsAllowed reports whether the stockpile accepts t. A non-empty whitelist admits
// only resources carrying one of its tags; the blacklist then rejects any resource
// carrying one of its tags.
func (s *Stockpile) IsAllowed(t ResourceType) bool {
	if s.library == nil {
		return false
	}
	res := s.library.Get(t)
	if len(s.Whitelist) > 0 && !slices.ContainsFunc(s.Whitelist, res.HasTag) {
		return false
	}
	return !slices.ContainsFunc(s.Blacklist, res.HasTag)
}

// Add stores a if the stockpile accepts it.
func (s *Stockpile) Add(a ResourceAmount) bool {
	if a.Count <= 0 || !s.IsAllowed(a.Type) {
		return false
	}
	s.mu.Lock()
	if s.items == nil {
		s.items = make(map[ResourceType]int)
	}
	s.items[a.Type] += a.Count
	s.mu.Unlock()

	s.syncBoxes()
	return true
}

// Count returns how many stored resources satisfy q's type or tag.
func (s *Stockpile) Count(q ResourceRequest) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.library == nil {
		return 0
	}
	n := 0
	for t, c := range s.items {
		if q.Matches(s.library.Get(t)) {
			n += c
		}
	}
	return n
}

// Total returns the number of stored resources.
func (s *Stockpile) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.items {
		n += c
	}
	return n
}

// Items returns the stored resources sorted by type.
func (s *Stockpile) Items() []ResourceAmount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedAmounts(s.items)
}

// Take removes q.Count resources matching q from this pile, all or nothing.
func (s *Stockpile) Take(q ResourceRequest) ([]ResourceAmount, bool) {
	if q.Count <= 0 {
		return nil, true
	}
	if s.Count(q) < q.Count {
		return nil, false
	}
	got := s.take(q, q.Count)
	n := 0
	for _, a := range got {
		n += a.Count
	}
	if n < q.Count {
		for _, a := range got {
			s.Add(a)
		}
		return nil, false
	}
	return got, true
}

// take removes up to n resources matching q, in type order.
func (s *Stockpile) take(q ResourceRequest, n int) []ResourceAmount {
	s.mu.Lock()
	var out []ResourceAmount
	for _, a := range sortedAmounts(s.items) {
		if n == 0 {
			break
		}
		if !q.Matches(s.library.Get(a.Type)) {
			continue
		}
		k := min(a.Count, n)
		s.items[a.Type] -= k
		if s.items[a.Type] == 0 {
			delete(s.items, a.Type)
		}
		n -= k
		out = append(out, ResourceAmount{Type: a.Type, Count: k})
	}
	s.mu.Unlock()

	if len(out) > 0 {
		s.syncBoxes()
	}
	return out
}

// Attach records the stockpile's entity. A stockpile attached to a live entity links
// to the world immediately, otherwise when the entity is registered.
func (s *Stockpile) Attach(e *Entity) {
	s.mu.Lock()
	s.entity = e
	s.mu.Unlock()
	if e.Live() {
		s.link(e)
	}
}

// Registered implements Registrable.
func (s *Stockpile) Registered(e *Entity) {
	s.link(e)
}

// link joins the world's stockpiles and spawns the crates.
func (s *Stockpile) link(e *Entity) {
	if m := e.Manager(); m != nil && m.World() != nil {
		w := m.World()
		if s.library == nil {
			s.library = w.Library
		}
		if w.Stockpiles != nil && !w.Stockpiles.Contains(s) {
			w.Stockpiles.Add(s)
		}
	}
	s.syncBoxes()
}

// Detach leaves the world's stockpiles. Crates are children of the entity and go
// with it.
func (s *Stockpile) Detach(e *Entity) {
	s.mu.Lock()
	s.entity = nil
	s.boxes = nil
	s.mu.Unlock()

	if m := e.Manager(); m != nil && m.World() != nil && m.World().Stockpiles != nil {
		m.World().Stockpiles.Remove(s)
	}
}

// MarshalJSON includes the stored resources.
func (s *Stockpile) MarshalJSON() ([]byte, error) {
	type plain Stockpile
	return json.Marshal(struct {
		*plain
		Items []ResourceAmount `json:"items,omitempty"`
	}{(*plain)(s), s.Items()})
}

// UnmarshalJSON restores a stockpile written by MarshalJSON. The resource library is
// resolved when the stockpile is attached.
func (s *Stockpile) UnmarshalJSON(b []byte) error {
	type plain Stockpile
	aux := struct {
		*plain
		Items []ResourceAmount `json:"items,omitempty"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return fmt.Errorf("colony: decode stockpile: %w", err)
	}
	s.mu.Lock()
	s.items = make(map[ResourceType]int, len(aux.Items))
	for _, a := range aux.Items {
		s.items[a.Type] += a.Count
	}
	s.mu.Unlock()
	return nil
}

// Icon implements MapIcon.
func (s *Stockpile) Icon() string {
	return "stockpile"
}

// Boxes returns the crate entities currently representing the stock.
func (s *Stockpile) Boxes() []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.boxes)
}

// syncBoxes spawns or removes crates to match the stored amount.
func (s *Stockpile) syncBoxes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entity
	if e == nil || e.Manager() == nil || len(s.Voxels) == 0 {
		return
	}
	m := e.Manager()

	total := 0
	for _, c := range s.items {
		total += c
	}
	want := 0
	if total > 0 {
		per := max(s.ResourcesPerVoxel, 1)
		want = min(max(total/per, 1), len(s.Voxels))
	}

	for len(s.boxes) > want {
		last := s.boxes[len(s.boxes)-1]
		s.boxes = s.boxes[:len(s.boxes)-1]
		m.Unregister(last)
	}
	origin := e.WorldPosition()
	for i := len(s.boxes); i < want; i++ {
		pos := s.Voxels[i].Vec3().Add(mgl64.Vec3{0, 0.9, 0}).Sub(origin)
		box := NewEntity("Crate", pos)
		box.SetFlag(ShouldSerialize, false)
		m.Register(box, e)
		s.boxes = append(s.boxes, box)
	}
}

// Stockpiles is the set of stockpiles of a world.
type Stockpiles struct {
	mu    sync.RWMutex
	piles []*Stockpile
}

// NewStockpiles creates an empty set.
func NewStockpiles() *Stockpiles {
	return &Stockpiles{}
}

// Add adds a stockpile.
func (p *Stockpiles) Add(s *Stockpile) {
	p.mu.Lock()
	p.piles = append(p.piles, s)
	p.mu.Unlock()
}

// Remove drops s from the set.
func (p *Stockpiles) Remove(s *Stockpile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.piles, s); i >= 0 {
		p.piles = slices.Delete(p.piles, i, i+1)
	}
}

// Contains reports whether s is in the set.
func (p *Stockpiles) Contains(s *Stockpile) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.piles, s)
}

// All returns the stockpiles in insertion order.
func (p *Stockpiles) All() []*Stockpile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.piles)
}

// Count returns how many stored resources across all piles satisfy q.
func (p *Stockpiles) Count(q ResourceRequest) int {
	n := 0
	for _, s := range p.All() {
		n += s.Count(q)
	}
	return n
}

// Take removes q.Count resources matching q, all or nothing.
func (p *Stockpiles) Take(q ResourceRequest) ([]ResourceAmount, bool) {
	if q.Count <= 0 {
		return nil, true
	}
	piles := p.All()
	if p.Count(q) < q.Count {
		return nil, false
	}

	type taken struct {
		pile   *Stockpile
		amount ResourceAmount
	}
	var got []taken
	need := q.Count
	for _, s := range piles {
		for _, a := range s.take(q, need) {
			got = append(got, taken{s, a})
			need -= a.Count
		}
		if need == 0 {
			break
		}
	}
	if need > 0 {
		// another goroutine drained a pile between Count and take
		for _, t := range got {
			t.pile.Add(t.amount)
		}
		return nil, false
	}

	out := make([]ResourceAmount, 0, len(got))
	for _, t := range got {
		out = append(out, t.amount)
	}
	return out, true
}

// Restock stores a in the first pile that accepts it.
func (p *Stockpiles) Restock(a ResourceAmount) bool {
	for _, s := range p.All() {
		if s.Add(a) {
			return true
		}
	}
	return false
}
