package container

import "sort"

// SortedArray keeps (key, value) pairs in a pair of parallel slices ordered
// by key. It is the simplest index backend; lookups are binary searches and
// mutations shift the tail.
type SortedArray[K any, V any] struct {
	keys   []K
	values []V
	cmp    func(a, b K) int
}

var _ OrderedMap[string, int] = (*SortedArray[string, int])(nil)

// NewSortedArray builds an empty array with the given comparator.
func NewSortedArray[K any, V any](cmp func(a, b K) int) *SortedArray[K, V] {
	return &SortedArray[K, V]{cmp: cmp}
}

func (a *SortedArray[K, V]) Len() int { return len(a.keys) }

func (a *SortedArray[K, V]) lowerBound(key K) int {
	return sort.Search(len(a.keys), func(i int) bool { return a.cmp(a.keys[i], key) >= 0 })
}

// Insert adds (key, value), keeping duplicates adjacent.
func (a *SortedArray[K, V]) Insert(key K, value V) {
	idx := a.lowerBound(key)
	var zk K
	var zv V
	a.keys = append(a.keys, zk)
	copy(a.keys[idx+1:], a.keys[idx:])
	a.keys[idx] = key
	a.values = append(a.values, zv)
	copy(a.values[idx+1:], a.values[idx:])
	a.values[idx] = value
}

// Lookup returns the value stored under key.
func (a *SortedArray[K, V]) Lookup(key K) (V, bool) {
	idx := a.lowerBound(key)
	if idx < len(a.keys) && a.cmp(a.keys[idx], key) == 0 {
		return a.values[idx], true
	}
	var zero V
	return zero, false
}

func (a *SortedArray[K, V]) Contains(key K) bool {
	_, ok := a.Lookup(key)
	return ok
}

// Remove deletes one entry with the given key.
func (a *SortedArray[K, V]) Remove(key K) bool {
	idx := a.lowerBound(key)
	if idx >= len(a.keys) || a.cmp(a.keys[idx], key) != 0 {
		return false
	}
	a.keys = append(a.keys[:idx], a.keys[idx+1:]...)
	a.values = append(a.values[:idx], a.values[idx+1:]...)
	return true
}

// Range returns the values for all keys in [lo, hi].
func (a *SortedArray[K, V]) Range(lo, hi K) []V {
	var out []V
	for i := a.lowerBound(lo); i < len(a.keys) && a.cmp(a.keys[i], hi) <= 0; i++ {
		out = append(out, a.values[i])
	}
	return out
}

// Keys returns every key in ascending order.
func (a *SortedArray[K, V]) Keys() []K {
	return append([]K(nil), a.keys...)
}
