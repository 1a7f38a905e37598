package colony

import (
	"slices"
	"sync"
)

// Blackboard is a key/value store shared by the nodes of a creature's trees. The zero
// value is ready to use.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]any
}

// Get retrieves a value, or nil if the key is absent.
func (b *Blackboard) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return nil
	}
	return b.data[key]
}

// Set stores a value.
func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string]any)
	}
	b.data[key] = value
}

// Has returns true if the key exists.
func (b *Blackboard) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[key]
	return ok
}

// Delete removes a key.
func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// Keys returns the keys in sorted order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of keys.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Lookup returns the value stored under key if it has type T.
func Lookup[T any](b *Blackboard, key string) (T, bool) {
	v, ok := b.Get(key).(T)
	return v, ok
}
