package hashtable

import "iter"

// struct{} costs no space in the slot's value field, so Set reuses
// Table directly rather than re-implementing the probe sequence.
type Set[K Key] struct {
	t *Table[K, struct{}]
}

// NewSet creates an empty set with room for exactly capacity elements.
func NewSet[K Key](capacity uint32) *Set[K] {
	return &Set[K]{t: New[K, struct{}](capacity)}
}

// Insert adds key to the set. Returns the slot index holding it, or
// arena.ErrFull if the set is full and key was not already a member.
func (s *Set[K]) Insert(key K) (uint32, error) {
	return s.t.Insert(key, struct{}{})
}

// Remove deletes key if present and reports whether it was a member.
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.t.Remove(key)
	return ok
}

// Contains reports whether key is currently a member.
func (s *Set[K]) Contains(key K) bool {
	return s.t.Contains(key)
}

func (s *Set[K]) Size() uint64     { return s.t.Size() }
func (s *Set[K]) Capacity() uint32 { return s.t.Capacity() }
func (s *Set[K]) IsEmpty() bool    { return s.t.IsEmpty() }
func (s *Set[K]) IsFull() bool     { return s.t.IsFull() }

// All returns an iterator over the set's members, in the same
// unspecified-but-deterministic slot order as Table.All.
func (s *Set[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range s.t.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// MarshalBinary serializes the set's backing table into a byte image.
func (s *Set[K]) MarshalBinary() ([]byte, error) {
	return s.t.MarshalBinary()
}

// UnmarshalBinary restores a set from a byte image produced by
// MarshalBinary.
func (s *Set[K]) UnmarshalBinary(data []byte) error {
	if s.t == nil {
		s.t = &Table[K, struct{}]{}
	}

	return s.t.UnmarshalBinary(data)
}
