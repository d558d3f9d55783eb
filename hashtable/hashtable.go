// Package hashtable implements a fixed-capacity open-addressed hash
// map. Unlike the tree containers in this repository it does not sit
// on top of package arena: there is no free list to maintain, since
// a slot's position is fully determined by probing rather than by a
// structural link, so the slot array is addressed directly.
//
// Probing is linear, starting at hash(key) mod len(slots); this visits
// every slot exactly once for any starting index, satisfying the
// permutation requirement. Deletion uses backward-shift (the "move the
// tail of the cluster back" algorithm) rather than tombstones, so a
// deleted slot is immediately available to a fresh insert without
// ever degrading probe length the way an accumulating tombstone would.
//
// Keys are hashed with xxhash over their byte representation: a fast,
// well-distributed, deterministic mixing function with no randomized
// seed, so a table image is reproducible across runs.
package hashtable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/cespare/xxhash/v2"

	"github.com/calvinalkan/arenakit/arena"
)

// Key is implemented by any key type usable with Table. All keys
// passed to a single Table instance must yield Bytes() slices of
// stable content for a given logical key.
type Key interface {
	Bytes() []byte
}

type slot[K Key, V any] struct {
	occupied bool
	key      K
	value    V
}

// Table is a fixed-capacity open-addressed hash map. The zero value is
// not usable; construct with New.
type Table[K Key, V any] struct {
	slots []slot[K, V]
	size  uint64
}

// New creates an empty table with room for exactly capacity entries.
// The backing slot array is sized capacity+1 so that at least one slot
// is always empty and every probe loop has a guaranteed termination
// point.
func New[K Key, V any](capacity uint32) *Table[K, V] {
	return &Table[K, V]{
		slots: make([]slot[K, V], capacity+1),
	}
}

func desiredSlot(key Key, m uint32) uint32 {
	return uint32(xxhash.Sum64(key.Bytes()) % uint64(m))
}

// Insert adds key -> value, or updates the value in place if key is
// already present. Returns the slot index holding the entry, or
// arena.ErrFull if the table is full and key was not already present.
func (t *Table[K, V]) Insert(key K, value V) (uint32, error) {
	if t.IsFull() {
		if idx := t.find(key); idx != noSlot {
			t.slots[idx].value = value
			return idx, nil
		}

		return 0, arena.ErrFull
	}

	m := uint32(len(t.slots))
	start := desiredSlot(key, m)

	for step := uint32(0); step < m; step++ {
		idx := (start + step) % m

		if !t.slots[idx].occupied {
			t.slots[idx] = slot[K, V]{occupied: true, key: key, value: value}
			t.size++

			return idx, nil
		}

		if bytes.Equal(t.slots[idx].key.Bytes(), key.Bytes()) {
			t.slots[idx].value = value
			return idx, nil
		}
	}

	return 0, arena.ErrFull
}

// noSlot is returned by find when the key is absent. It is not a valid
// slot index within a non-empty table's addressable range in the
// sense that callers must check the bool/err return instead of this
// value directly; it exists only as an internal sentinel.
const noSlot = ^uint32(0)

func (t *Table[K, V]) find(key Key) uint32 {
	m := uint32(len(t.slots))
	if m == 0 {
		return noSlot
	}

	start := desiredSlot(key, m)

	for step := uint32(0); step < m; step++ {
		idx := (start + step) % m

		if !t.slots[idx].occupied {
			return noSlot
		}

		if bytes.Equal(t.slots[idx].key.Bytes(), key.Bytes()) {
			return idx
		}
	}

	return noSlot
}

// Get returns a pointer to the value stored under key, or nil if
// absent.
func (t *Table[K, V]) Get(key K) (*V, bool) {
	idx := t.find(key)
	if idx == noSlot {
		return nil, false
	}

	return &t.slots[idx].value, true
}

// Contains reports whether key is currently present.
func (t *Table[K, V]) Contains(key K) bool {
	return t.find(key) != noSlot
}

// Remove deletes key if present and returns its value and true;
// returns the zero value and false otherwise.
func (t *Table[K, V]) Remove(key K) (V, bool) {
	idx := t.find(key)
	if idx == noSlot {
		var zero V
		return zero, false
	}

	value := t.slots[idx].value
	t.removeAt(idx)

	return value, true
}

// removeAt implements backward-shift deletion: slot i is vacated, then
// the cluster following it is walked, pulling back any entry whose
// desired slot does not lie cyclically after the gap and at or before
// its current position, until the next genuinely empty slot is reached.
func (t *Table[K, V]) removeAt(i uint32) {
	t.slots[i] = slot[K, V]{}
	t.size--

	m := uint32(len(t.slots))
	j := i

	for {
		j = (j + 1) % m
		if !t.slots[j].occupied {
			return
		}

		k := desiredSlot(t.slots[j].key, m)

		var movable bool
		if j > i {
			movable = k <= i || k > j
		} else {
			movable = k <= i && k > j
		}

		if movable {
			t.slots[i] = t.slots[j]
			t.slots[j] = slot[K, V]{}
			i = j
		}
	}
}

func (t *Table[K, V]) Size() uint64 { return t.size }
func (t *Table[K, V]) Capacity() uint32 {
	if len(t.slots) == 0 {
		return 0
	}

	return uint32(len(t.slots)) - 1
}
func (t *Table[K, V]) IsEmpty() bool { return t.size == 0 }
func (t *Table[K, V]) IsFull() bool  { return t.size >= uint64(t.Capacity()) }

// All returns an iterator over (key, value) pairs in slot order, which
// is unspecified but deterministic for a given image.
func (t *Table[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range t.slots {
			if !t.slots[i].occupied {
				continue
			}

			if !yield(t.slots[i].key, t.slots[i].value) {
				return
			}
		}
	}
}

// AllMut is like All but yields a mutable pointer to each value. The
// pointer is valid until the next structural mutation of the table.
func (t *Table[K, V]) AllMut() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		for i := range t.slots {
			if !t.slots[i].occupied {
				continue
			}

			if !yield(t.slots[i].key, &t.slots[i].value) {
				return
			}
		}
	}
}

// MarshalBinary serializes the table's full slot array into a byte
// image. K and V must be fixed-size, pointer-free types for this to
// succeed.
func (t *Table[K, V]) MarshalBinary() ([]byte, error) {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], t.size)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(t.slots)))

	w := &byteWriter{buf: append([]byte(nil), hdr[:]...)}

	for i := range t.slots {
		occ := byte(0)
		if t.slots[i].occupied {
			occ = 1
		}

		w.write([]byte{occ})

		if err := binary.Write(w, binary.LittleEndian, t.slots[i].key); err != nil {
			return nil, fmt.Errorf("hashtable: marshal slot %d key: %w", i, err)
		}

		if err := binary.Write(w, binary.LittleEndian, t.slots[i].value); err != nil {
			return nil, fmt.Errorf("hashtable: marshal slot %d value: %w", i, err)
		}
	}

	return w.buf, nil
}

// UnmarshalBinary restores a table from a byte image produced by
// MarshalBinary.
func (t *Table[K, V]) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("hashtable: unmarshal: short buffer (%d bytes)", len(data))
	}

	size := binary.LittleEndian.Uint64(data[0:8])
	n := binary.LittleEndian.Uint32(data[8:12])

	slots := make([]slot[K, V], n)
	r := &byteReader{buf: data[12:]}

	for i := range slots {
		var occ [1]byte
		if err := r.readExact(occ[:]); err != nil {
			return fmt.Errorf("hashtable: unmarshal slot %d tag: %w", i, err)
		}

		slots[i].occupied = occ[0] == 1

		if err := binary.Read(r, binary.LittleEndian, &slots[i].key); err != nil {
			return fmt.Errorf("hashtable: unmarshal slot %d key: %w", i, err)
		}

		if err := binary.Read(r, binary.LittleEndian, &slots[i].value); err != nil {
			return fmt.Errorf("hashtable: unmarshal slot %d value: %w", i, err)
		}
	}

	t.slots = slots
	t.size = size

	return nil
}

type byteWriter struct{ buf []byte }

func (w *byteWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *byteWriter) write(p []byte) { w.buf = append(w.buf, p...) }

type byteReader struct{ buf []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	n := copy(p, r.buf)
	r.buf = r.buf[n:]

	if n == 0 && len(p) > 0 {
		return 0, errShortRead
	}

	return n, nil
}

func (r *byteReader) readExact(p []byte) error {
	n, err := r.Read(p)
	if err != nil {
		return err
	}

	if n != len(p) {
		return errShortRead
	}

	return nil
}

var errShortRead = fmt.Errorf("hashtable: unmarshal: short read")
