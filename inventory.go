package colony

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Inventory holds the resources carried by a creature. Resources fetched from a
// stockpile are tracked separately so they can be returned if the job that needed
// them fails.
type Inventory struct {
	mu      sync.Mutex
	items   map[ResourceType]int
	fetched map[ResourceType]int
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		items:   make(map[ResourceType]int),
		fetched: make(map[ResourceType]int),
	}
}

func (inv *Inventory) init() {
	if inv.items == nil {
		inv.items = make(map[ResourceType]int)
	}
	if inv.fetched == nil {
		inv.fetched = make(map[ResourceType]int)
	}
}

// HasResource reports whether at least a.Count of a.Type are held.
func (inv *Inventory) HasResource(a ResourceAmount) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.items[a.Type] >= a.Count
}

// Count returns how many of t are held.
func (inv *Inventory) Count(t ResourceType) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.items[t]
}

// AddResource adds a to the inventory.
func (inv *Inventory) AddResource(a ResourceAmount) {
	if a.Count <= 0 {
		return
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.init()
	inv.items[a.Type] += a.Count
}

// addFetched adds resources taken from a stockpile.
func (inv *Inventory) addFetched(a ResourceAmount) {
	if a.Count <= 0 {
		return
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.init()
	inv.items[a.Type] += a.Count
	inv.fetched[a.Type] += a.Count
}

// RemoveAndCreate removes every amount, all or nothing, and returns the removed
// resources as a staged pile. It returns false and removes nothing if any amount is
// missing.
func (inv *Inventory) RemoveAndCreate(amounts []ResourceAmount) ([]ResourceAmount, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	need := make(map[ResourceType]int, len(amounts))
	for _, a := range amounts {
		need[a.Type] += a.Count
	}
	for t, n := range need {
		if inv.items[t] < n {
			return nil, false
		}
	}

	staged := make([]ResourceAmount, 0, len(amounts))
	for _, a := range amounts {
		if a.Count <= 0 {
			continue
		}
		inv.items[a.Type] -= a.Count
		if inv.items[a.Type] == 0 {
			delete(inv.items, a.Type)
		}
		if f := inv.fetched[a.Type]; f > 0 {
			inv.fetched[a.Type] = max(f-a.Count, 0)
			if inv.fetched[a.Type] == 0 {
				delete(inv.fetched, a.Type)
			}
		}
		staged = append(staged, a)
	}
	return staged, true
}

// Items returns the held resources sorted by type.
func (inv *Inventory) Items() []ResourceAmount {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return sortedAmounts(inv.items)
}

// Fetched returns the held resources that came from stockpiles, sorted by type.
func (inv *Inventory) Fetched() []ResourceAmount {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return sortedAmounts(inv.fetched)
}

// RestockAll returns every fetched resource to piles. Resources no stockpile accepts
// stay in the inventory. It returns what was restocked.
func (inv *Inventory) RestockAll(piles *Stockpiles) []ResourceAmount {
	inv.mu.Lock()
	pending := sortedAmounts(inv.fetched)
	inv.mu.Unlock()

	var restocked []ResourceAmount
	for _, a := range pending {
		if piles == nil || !piles.Restock(a) {
			continue
		}
		inv.mu.Lock()
		inv.items[a.Type] -= a.Count
		if inv.items[a.Type] <= 0 {
			delete(inv.items, a.Type)
		}
		delete(inv.fetched, a.Type)
		inv.mu.Unlock()
		restocked = append(restocked, a)
	}
	return restocked
}

type inventoryJSON struct {
	Items   []ResourceAmount `json:"items,omitempty"`
	Fetched []ResourceAmount `json:"fetched,omitempty"`
}

// MarshalJSON encodes the held and fetched resources as sorted lists.
func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryJSON{Items: inv.Items(), Fetched: inv.Fetched()})
}

// UnmarshalJSON replaces the contents with an encoded inventory.
func (inv *Inventory) UnmarshalJSON(b []byte) error {
	var aux inventoryJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return fmt.Errorf("colony: decode inventory: %w", err)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items = make(map[ResourceType]int, len(aux.Items))
	inv.fetched = make(map[ResourceType]int, len(aux.Fetched))
	for _, a := range aux.Items {
		inv.items[a.Type] += a.Count
	}
	for _, a := range aux.Fetched {
		inv.fetched[a.Type] += a.Count
	}
	return nil
}

func sortedAmounts(m map[ResourceType]int) []ResourceAmount {
	out := make([]ResourceAmount, 0, len(m))
	for t, n := range m {
		if n > 0 {
			out = append(out, ResourceAmount{Type: t, Count: n})
		}
	}
	slices.SortFunc(out, func(a, b ResourceAmount) int {
		return cmp.Compare(a.Type, b.Type)
	})
	return out
}
