package colony

import (
	"fmt"
	"slices"
	"sync"
)

// ResourceType names a kind of resource. It is the key of a ResourceLibrary.
type ResourceType string

// ResourceTag classifies resources.
type ResourceTag string

const (
	TagCraft        ResourceTag = "Craft"
	TagGem          ResourceTag = "Gem"
	TagMetal        ResourceTag = "Metal"
	TagFood         ResourceTag = "Food"
	TagPreparedFood ResourceTag = "PreparedFood"
	TagBrewable     ResourceTag = "Brewable"
	TagAlcohol      ResourceTag = "Alcohol"
	TagBakeable     ResourceTag = "Bakeable"
	TagEncrustable  ResourceTag = "Encrustable"
	TagCorpse       ResourceTag = "Corpse"
	TagMoney        ResourceTag = "Money"
	TagStone        ResourceTag = "Stone"
	TagWood         ResourceTag = "Wood"
)

// Resource describes a resource type.
type Resource struct {
	Type      ResourceType  `json:"type"`
	Tags      []ResourceTag `json:"tags,omitempty"`
	Value     float64       `json:"value"`
	FoodValue float64       `json:"foodValue,omitempty"`
}

// HasTag reports whether the resource carries tag.
func (r Resource) HasTag(tag ResourceTag) bool {
	return slices.Contains(r.Tags, tag)
}

// ResourceAmount is a count of one resource type.
type ResourceAmount struct {
	Type  ResourceType `json:"type"`
	Count int          `json:"count"`
}

// ResourceRequest asks for Count resources of a given Type, or of any type carrying Tag
// when Type is empty.
type ResourceRequest struct {
	Type  ResourceType `json:"type,omitempty"`
	Tag   ResourceTag  `json:"tag,omitempty"`
	Count int          `json:"count"`
}

// Matches reports whether res satisfies the request's type or tag.
func (q ResourceRequest) Matches(res Resource) bool {
	if q.Type != "" {
		return res.Type == q.Type
	}
	return res.HasTag(q.Tag)
}

// ResourceLibrary resolves resource types and produces derived resources for recipes.
// Looking up a type that was never registered is a caller error and panics.
type ResourceLibrary interface {
	Get(t ResourceType) Resource
	Exists(t ResourceType) bool
	GenerateTrinket(base ResourceType, quality float64) ResourceType
	EncrustTrinket(trinket, gem ResourceType) ResourceType
	CreateMeal(a, b ResourceType) ResourceType
	CreateAle(base ResourceType) ResourceType
	CreateBread(base ResourceType) ResourceType
}

// Library is an in-memory ResourceLibrary. Derived resources are registered the first
// time they are produced.
type Library struct {
	mu    sync.RWMutex
	types map[ResourceType]Resource
}

// NewLibrary creates a library holding the given resources.
func NewLibrary(resources ...Resource) *Library {
	l := &Library{types: make(map[ResourceType]Resource, len(resources))}
	for _, r := range resources {
		l.types[r.Type] = r
	}
	return l
}

// DefaultLibrary returns a library with a small set of base resources.
func DefaultLibrary() *Library {
	return NewLibrary(
		Resource{Type: "Wood", Tags: []ResourceTag{TagWood, TagCraft}, Value: 1},
		Resource{Type: "Stone", Tags: []ResourceTag{TagStone}, Value: 1},
		Resource{Type: "Iron", Tags: []ResourceTag{TagMetal, TagCraft}, Value: 8},
		Resource{Type: "Gold", Tags: []ResourceTag{TagMetal, TagCraft}, Value: 20},
		Resource{Type: "Ruby", Tags: []ResourceTag{TagGem}, Value: 40},
		Resource{Type: "Emerald", Tags: []ResourceTag{TagGem}, Value: 35},
		Resource{Type: "Grain", Tags: []ResourceTag{TagFood, TagBrewable, TagBakeable}, Value: 1, FoodValue: 5},
		Resource{Type: "Mushroom", Tags: []ResourceTag{TagFood, TagBrewable}, Value: 1, FoodValue: 8},
		Resource{Type: "Meat", Tags: []ResourceTag{TagFood}, Value: 3, FoodValue: 20},
		Resource{Type: "Coins", Tags: []ResourceTag{TagMoney}, Value: 1},
		Resource{Type: "Corpse", Tags: []ResourceTag{TagCorpse}},
	)
}

// Add registers or replaces a resource.
func (l *Library) Add(r Resource) {
	l.mu.Lock()
	l.types[r.Type] = r
	l.mu.Unlock()
}

// Get returns the resource for t. It panics if t is unknown.
func (l *Library) Get(t ResourceType) Resource {
	l.mu.RLock()
	r, ok := l.types[t]
	l.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("colony: unknown resource type %q", t))
	}
	return r
}

// Exists reports whether t is registered.
func (l *Library) Exists(t ResourceType) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.types[t]
	return ok
}

// derive registers r unless a resource of that type exists, and returns its type.
func (l *Library) derive(r Resource) ResourceType {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.types[r.Type]; !ok {
		l.types[r.Type] = r
	}
	return r.Type
}

// GenerateTrinket produces a trinket made of base. Quality scales its value and picks
// its grade.
func (l *Library) GenerateTrinket(base ResourceType, quality float64) ResourceType {
	material := l.Get(base)
	grade := "Crude"
	switch {
	case quality >= 1.5:
		grade = "Masterwork"
	case quality >= 1:
		grade = "Fine"
	case quality >= 0.5:
		grade = "Plain"
	}
	return l.derive(Resource{
		Type:  ResourceType(fmt.Sprintf("%s %s Trinket", grade, material.Type)),
		Tags:  []ResourceTag{TagCraft, TagEncrustable},
		Value: material.Value * 10 * max(quality, 0.1),
	})
}

// EncrustTrinket produces trinket set with gem.
func (l *Library) EncrustTrinket(trinket, gem ResourceType) ResourceType {
	t, g := l.Get(trinket), l.Get(gem)
	return l.derive(Resource{
		Type:  ResourceType(fmt.Sprintf("%s-encrusted %s", g.Type, t.Type)),
		Tags:  []ResourceTag{TagCraft},
		Value: t.Value + g.Value*2,
	})
}

// CreateMeal produces a meal from two ingredients.
func (l *Library) CreateMeal(a, b ResourceType) ResourceType {
	ra, rb := l.Get(a), l.Get(b)
	return l.derive(Resource{
		Type:      ResourceType(fmt.Sprintf("%s %s Stew", ra.Type, rb.Type)),
		Tags:      []ResourceTag{TagFood, TagPreparedFood},
		Value:     ra.Value + rb.Value,
		FoodValue: (ra.FoodValue + rb.FoodValue) * 1.5,
	})
}

// CreateAle produces an alcoholic drink from base.
func (l *Library) CreateAle(base ResourceType) ResourceType {
	r := l.Get(base)
	return l.derive(Resource{
		Type:      ResourceType(fmt.Sprintf("%s Ale", r.Type)),
		Tags:      []ResourceTag{TagFood, TagAlcohol},
		Value:     r.Value * 2,
		FoodValue: r.FoodValue,
	})
}

// CreateBread produces bread from base.
func (l *Library) CreateBread(base ResourceType) ResourceType {
	r := l.Get(base)
	return l.derive(Resource{
		Type:      ResourceType(fmt.Sprintf("%s Bread", r.Type)),
		Tags:      []ResourceTag{TagFood, TagPreparedFood},
		Value:     r.Value * 2,
		FoodValue: r.FoodValue * 2,
	})
}
