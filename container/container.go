// Package container documents the shared contract every associative
// container in this repository implements: RedBlackTree, AVLTree,
// Critbit and HashTable. HashSet, a thin set over HashTable, exposes
// only the key-based subset (Insert, Remove reporting a bool, Contains,
// Size, Capacity, IsEmpty, IsFull and a key-only All). It holds no allocator state of its
// own (that lives in package arena) and no rebalancing logic (that
// lives in each container package); its entire job is to pin down the
// vocabulary and method shapes so the four containers read as one
// family rather than four unrelated APIs.
package container

import "iter"

// Container is the structural contract satisfied by every ordered or
// unordered map in this repository. It is not required that a
// container type literally implement this interface (Go generics make
// that awkward to spell for callers who just want a concrete type),
// but every one of them exposes exactly these operations with exactly
// this error/absence behavior.
//
// Absence (a missing key on Get/Remove/Contains) is not an error; it
// is represented by the second, boolean return value. Capacity
// exhaustion on Insert is the only error Insert can return.
type Container[K any, V any] interface {
	// Insert adds key -> value, or updates value in place if key is
	// already present (without allocating a new slot). Returns the
	// slot index holding the entry, or arena.ErrFull if the container
	// has no room and key was not already present.
	Insert(key K, value V) (uint32, error)

	// Remove deletes key if present and returns its value and true;
	// returns the zero value and false if key was absent.
	Remove(key K) (V, bool)

	// Get returns a pointer to the value stored under key, or nil if
	// absent. The pointer is valid until the next structural mutation
	// of the container.
	Get(key K) (*V, bool)

	// Contains reports whether key is currently present.
	Contains(key K) bool

	// Size returns the number of live entries.
	Size() uint64

	// Capacity returns the maximum number of entries the container can
	// ever hold at once.
	Capacity() uint32

	IsEmpty() bool
	IsFull() bool

	// All iterates the container's live entries. Ordered containers
	// (RedBlackTree, AVLTree, Critbit) yield keys in strictly ascending
	// order. HashTable/HashSet yield in an unspecified but, for a given
	// image, deterministic order. All tolerates removal of the
	// currently-yielded entry but not of any other entry during the
	// same iteration.
	All() iter.Seq2[K, V]

	// AllMut is like All but yields a mutable pointer to each value,
	// under the same iteration rules. The yielded pointer is valid until
	// the next structural mutation of the container.
	AllMut() iter.Seq2[K, *V]
}
