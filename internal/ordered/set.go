// Package ordered provides insertion-ordered collections backed by
// go-ordered-map so iteration over cells and listeners is deterministic.
package ordered

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Set keeps unique values in insertion order.
type Set[T comparable] struct {
	m *orderedmap.OrderedMap[T, struct{}]
}

// NewSet builds a set holding values in order.
func NewSet[T comparable](values ...T) *Set[T] {
	s := &Set[T]{m: orderedmap.New[T, struct{}]()}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v, reporting whether it was absent.
func (s *Set[T]) Add(v T) bool {
	_, present := s.m.Set(v, struct{}{})
	return !present
}

// Has reports membership.
func (s *Set[T]) Has(v T) bool {
	if s == nil {
		return false
	}
	_, ok := s.m.Get(v)
	return ok
}

// Delete removes v, reporting whether it was present.
func (s *Set[T]) Delete(v T) bool {
	if s == nil {
		return false
	}
	_, ok := s.m.Delete(v)
	return ok
}

// Len returns the number of values.
func (s *Set[T]) Len() int {
	if s == nil {
		return 0
	}
	return s.m.Len()
}

// Values returns a snapshot of the set in insertion order.
func (s *Set[T]) Values() []T {
	if s == nil {
		return nil
	}
	out := make([]T, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Clear removes every value.
func (s *Set[T]) Clear() {
	if s == nil {
		return
	}
	s.m = orderedmap.New[T, struct{}]()
}

// Map is an insertion-ordered map.
type Map[K comparable, V any] struct {
	m *orderedmap.OrderedMap[K, V]
}

// NewMap builds an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: orderedmap.New[K, V]()}
}

// Set stores value under key keeping the original position for existing keys.
func (m *Map[K, V]) Set(key K, value V) {
	m.m.Set(key, value)
}

// Get returns the value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	return m.m.Get(key)
}

// Delete removes key.
func (m *Map[K, V]) Delete(key K) {
	if m == nil {
		return
	}
	m.m.Delete(key)
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return m.m.Len()
}

// Keys returns the keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	if m == nil {
		return nil
	}
	out := make([]K, 0, m.m.Len())
	for pair := m.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Each calls fn for every entry in insertion order until fn returns false.
func (m *Map[K, V]) Each(fn func(K, V) bool) {
	if m == nil {
		return
	}
	for pair := m.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	if m == nil {
		return
	}
	m.m = orderedmap.New[K, V]()
}
