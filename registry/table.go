package registry

import (
	"sync"
)

// Thread-safe keyed table. Every method holds the lock for the duration of
// one operation only, never while calling out.
// 线程安全的记录表
type Table[K comparable, V any] struct {
	items map[K]V

	mu sync.RWMutex
}

func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{
		items: make(map[K]V),
	}
}

func (store *Table[K, V]) Put(key K, value V) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.items[key] = value
}

// PutIfAbsent stores value unless the key is taken; it reports whether the
// value was stored.
func (store *Table[K, V]) PutIfAbsent(key K, value V) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.items[key]; ok {
		return false
	}
	store.items[key] = value
	return true
}

func (store *Table[K, V]) Get(key K) (V, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	value, ok := store.items[key]
	return value, ok
}

func (store *Table[K, V]) Has(key K) bool {
	_, ok := store.Get(key)
	return ok
}

func (store *Table[K, V]) Delete(key K) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.items[key]; !ok {
		return false
	}
	delete(store.items, key)
	return true
}

// DeleteIf removes the entry only while match reports true for the stored
// value, so an owner never removes a successor stored under the same key.
func (store *Table[K, V]) DeleteIf(key K, match func(V) bool) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	value, ok := store.items[key]
	if !ok || !match(value) {
		return false
	}
	delete(store.items, key)
	return true
}

func (store *Table[K, V]) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.items)
}

// Values returns a snapshot; the owning layer uses it for shutdown and
// sweeping.
func (store *Table[K, V]) Values() []V {
	store.mu.RLock()
	defer store.mu.RUnlock()
	all := make([]V, 0, len(store.items))
	for _, v := range store.items {
		all = append(all, v)
	}

	return all
}
