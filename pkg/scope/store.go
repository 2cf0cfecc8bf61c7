package scope

import (
	"github.com/puzpuzpuz/xsync/v4"
)

type storeKey struct {
	scope string
	name  string
}

// Store maps (scope id, name) to a value. Entries for one Scope are never
// visible under another Scope's id.
type Store[V any] struct {
	entries *xsync.Map[storeKey, V]
}

// NewStore creates an empty Store.
func NewStore[V any]() *Store[V] {
	return &Store[V]{entries: xsync.NewMap[storeKey, V]()}
}

// Get returns the value stored for name within the given scope.
func (s *Store[V]) Get(scopeID, name string) (V, bool) {
	return s.entries.Load(storeKey{scope: scopeID, name: name})
}

// Set stores v for name within the given scope, replacing any previous value.
func (s *Store[V]) Set(scopeID, name string, v V) {
	s.entries.Store(storeKey{scope: scopeID, name: name}, v)
}

// LoadOrStore returns the existing value for name within the given scope, or
// stores and returns v. The boolean is true when the value was already present.
func (s *Store[V]) LoadOrStore(scopeID, name string, v V) (V, bool) {
	return s.entries.LoadOrStore(storeKey{scope: scopeID, name: name}, v)
}

// Delete removes the entry for name within the given scope.
func (s *Store[V]) Delete(scopeID, name string) {
	s.entries.Delete(storeKey{scope: scopeID, name: name})
}

// Len returns the number of entries across all scopes.
func (s *Store[V]) Len() int {
	return s.entries.Size()
}
