// Package rbtree implements an ordered map as a left-leaning red-black
// tree whose nodes live in a single fixed-capacity arena.Arena. Left,
// right and parent links are slot indices (arena.Sentinel meaning
// "none"), not pointers, so the whole tree is representable as flat
// index arithmetic over the arena's node array; see package arena's
// doc comment for why that matters.
//
// Register layout (four registers per node, the arena.NumRegisters
// budget in full):
//
//	register 0: left child slot
//	register 1: right child slot
//	register 2: parent slot
//	register 3: color (0 = black, 1 = red)
//
// Invariants maintained (left-leaning red-black, Sedgewick's
// formulation): every node is red or black; the root is black; a red
// node has no red child; every root-to-leaf path has the same number
// of black nodes; a red child is always the left child of its parent.
package rbtree

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/calvinalkan/arenakit/arena"
	"github.com/calvinalkan/arenakit/container"
)

// Tree's method set must not drift from the repository-wide contract.
var _ container.Container[uint64, uint64] = (*Tree[uint64, uint64])(nil)

const (
	regLeft   = 0
	regRight  = 1
	regParent = 2
	regColor  = 3
)

const (
	black uint32 = 0
	red   uint32 = 1
)

type entry[K any, V any] struct {
	Key   K
	Value V
}

// Tree is a left-leaning red-black tree map with a fixed capacity. The
// zero value is not usable; construct with New.
type Tree[K cmp.Ordered, V any] struct {
	a    *arena.Arena[entry[K, V]]
	root uint32
}

// New creates an empty tree with room for exactly capacity entries.
func New[K cmp.Ordered, V any](capacity uint32) *Tree[K, V] {
	return &Tree[K, V]{
		a:    arena.New[entry[K, V]](capacity),
		root: arena.Sentinel,
	}
}

func (t *Tree[K, V]) left(i uint32) uint32   { return t.a.Register(i, regLeft) }
func (t *Tree[K, V]) right(i uint32) uint32  { return t.a.Register(i, regRight) }
func (t *Tree[K, V]) parent(i uint32) uint32 { return t.a.Register(i, regParent) }

func (t *Tree[K, V]) setLeft(i, v uint32)   { t.a.SetRegister(i, regLeft, v) }
func (t *Tree[K, V]) setRight(i, v uint32)  { t.a.SetRegister(i, regRight, v) }
func (t *Tree[K, V]) setParent(i, v uint32) { t.a.SetRegister(i, regParent, v) }

func (t *Tree[K, V]) isRed(i uint32) bool {
	return i != arena.Sentinel && t.a.Register(i, regColor) == red
}

func (t *Tree[K, V]) setColor(i uint32, c uint32) { t.a.SetRegister(i, regColor, c) }

// Insert adds key -> value, or updates the value in place (without a
// structural change) if key is already present. Returns the slot
// holding the entry, or arena.ErrFull if the tree is full and key was
// not already present.
func (t *Tree[K, V]) Insert(key K, value V) (uint32, error) {
	if t.root == arena.Sentinel {
		idx, err := t.a.Add(entry[K, V]{Key: key, Value: value})
		if err != nil {
			return arena.Sentinel, err
		}

		t.setLeft(idx, arena.Sentinel)
		t.setRight(idx, arena.Sentinel)
		t.setParent(idx, arena.Sentinel)
		t.setColor(idx, black)
		t.root = idx

		return idx, nil
	}

	cur := t.root
	var par uint32
	var goLeft bool

	for {
		e := t.a.Get(cur)
		switch c := cmp.Compare(key, e.Key); {
		case c == 0:
			e.Value = value
			return cur, nil
		case c < 0:
			par, goLeft = cur, true

			if t.left(cur) == arena.Sentinel {
				goto insertHere
			}

			cur = t.left(cur)
		default:
			par, goLeft = cur, false

			if t.right(cur) == arena.Sentinel {
				goto insertHere
			}

			cur = t.right(cur)
		}
	}

insertHere:
	idx, err := t.a.Add(entry[K, V]{Key: key, Value: value})
	if err != nil {
		return arena.Sentinel, err
	}

	t.setLeft(idx, arena.Sentinel)
	t.setRight(idx, arena.Sentinel)
	t.setParent(idx, par)
	t.setColor(idx, red)

	if goLeft {
		t.setLeft(par, idx)
	} else {
		t.setRight(par, idx)
	}

	t.fixupToRoot(par)

	return idx, nil
}

// fixupToRoot applies the LLRB fixup at x and at every ancestor on the
// way to the root, reattaching each (possibly rotated) subtree into
// its parent, exactly the way the recursive textbook formulation
// applies balance() on every stack frame as recursion unwinds; here
// the unwinding is an explicit loop driven by parent pointers instead
// of the call stack. The root is recolored black afterwards.
func (t *Tree[K, V]) fixupToRoot(x uint32) {
	for x != arena.Sentinel {
		p := t.parent(x)
		wasLeft := p != arena.Sentinel && t.left(p) == x
		t.reattach(p, wasLeft, t.balance(x))
		x = p
	}

	t.setColor(t.root, black)
}

// reattach hangs sub on p's wasLeft side, or makes it the root when p
// is the sentinel.
func (t *Tree[K, V]) reattach(p uint32, wasLeft bool, sub uint32) {
	switch {
	case p == arena.Sentinel:
		t.root = sub
		t.setParent(sub, arena.Sentinel)
	case wasLeft:
		t.setLeft(p, sub)
		t.setParent(sub, p)
	default:
		t.setRight(p, sub)
		t.setParent(sub, p)
	}
}

// balance applies the three LLRB fixup rules at h and returns the slot
// now rooting that subtree (h itself, unless a rotation replaced it).
func (t *Tree[K, V]) balance(h uint32) uint32 {
	if t.isRed(t.right(h)) && !t.isRed(t.left(h)) {
		h = t.rotateLeft(h)
	}

	if t.isRed(t.left(h)) && t.isRed(t.left(t.left(h))) {
		h = t.rotateRight(h)
	}

	if t.isRed(t.left(h)) && t.isRed(t.right(h)) {
		t.flipColors(h)
	}

	return h
}

func (t *Tree[K, V]) rotateLeft(h uint32) uint32 {
	x := t.right(h)

	t.setRight(h, t.left(x))
	if t.left(x) != arena.Sentinel {
		t.setParent(t.left(x), h)
	}

	t.setLeft(x, h)
	t.setColor(x, t.a.Register(h, regColor))
	t.setColor(h, red)
	t.setParent(h, x)

	return x
}

func (t *Tree[K, V]) rotateRight(h uint32) uint32 {
	x := t.left(h)

	t.setLeft(h, t.right(x))
	if t.right(x) != arena.Sentinel {
		t.setParent(t.right(x), h)
	}

	t.setRight(x, h)
	t.setColor(x, t.a.Register(h, regColor))
	t.setColor(h, red)
	t.setParent(h, x)

	return x
}

func (t *Tree[K, V]) flipColors(h uint32) {
	t.setColor(h, flip(t.a.Register(h, regColor)))
	t.setColor(t.left(h), flip(t.a.Register(t.left(h), regColor)))
	t.setColor(t.right(h), flip(t.a.Register(t.right(h), regColor)))
}

func flip(c uint32) uint32 {
	if c == red {
		return black
	}

	return red
}

// Get returns a pointer to the value stored under key, or nil if
// absent.
func (t *Tree[K, V]) Get(key K) (*V, bool) {
	idx := t.find(key)
	if idx == arena.Sentinel {
		return nil, false
	}

	return &t.a.Get(idx).Value, true
}

// Contains reports whether key is present.
func (t *Tree[K, V]) Contains(key K) bool {
	return t.find(key) != arena.Sentinel
}

func (t *Tree[K, V]) find(key K) uint32 {
	cur := t.root
	for cur != arena.Sentinel {
		e := t.a.Get(cur)

		switch c := cmp.Compare(key, e.Key); {
		case c == 0:
			return cur
		case c < 0:
			cur = t.left(cur)
		default:
			cur = t.right(cur)
		}
	}

	return arena.Sentinel
}

func (t *Tree[K, V]) Size() uint64     { return t.a.Size() }
func (t *Tree[K, V]) Capacity() uint32 { return t.a.Capacity() }
func (t *Tree[K, V]) IsEmpty() bool    { return t.a.Size() == 0 }
func (t *Tree[K, V]) IsFull() bool     { return t.a.IsFull() }

// Remove deletes key if present and returns its value and true;
// returns the zero value and false otherwise.
//
// Deletion follows the standard LLRB scheme (Sedgewick): descend
// top-down applying moveRedLeft/moveRedRight so the current node or a
// child is always red before continuing, physically unlink the target
// at a leaf, then rebalance with the same balance() used by Insert on
// the way back up. Both phases are iterative: each top-down transform
// is reattached into the parent as soon as it runs, and the bottom-up
// rebalance is the same parent-pointer walk fixupToRoot performs for
// insertion, so no stack is needed at any point.
func (t *Tree[K, V]) Remove(key K) (V, bool) {
	idx := t.find(key)
	if idx == arena.Sentinel {
		var zero V
		return zero, false
	}

	value := t.a.Get(idx).Value

	if !t.isRed(t.left(t.root)) && !t.isRed(t.right(t.root)) {
		t.setColor(t.root, red)
	}

	t.delete(key)

	if t.root != arena.Sentinel {
		t.setColor(t.root, black)
	}

	return value, true
}

// delete descends from the root to the node holding key, applying the
// top-down transforms, unlinks it, and rebalances. key must be
// present.
func (t *Tree[K, V]) delete(key K) {
	cur := t.root

	for {
		if cmp.Compare(key, t.a.Get(cur).Key) < 0 {
			if !t.isRed(t.left(cur)) && !t.isRed(t.left(t.left(cur))) {
				cur = t.descendTransform(cur, t.moveRedLeft)
			}

			cur = t.left(cur)

			continue
		}

		if t.isRed(t.left(cur)) {
			cur = t.descendTransform(cur, t.rotateRight)
		}

		if cmp.Compare(key, t.a.Get(cur).Key) == 0 && t.right(cur) == arena.Sentinel {
			t.unlink(cur)
			return
		}

		if !t.isRed(t.right(cur)) && !t.isRed(t.left(t.right(cur))) {
			cur = t.descendTransform(cur, t.moveRedRight)
		}

		if cmp.Compare(key, t.a.Get(cur).Key) == 0 {
			succ := t.min(t.right(cur))
			succEntry := *t.a.Get(succ)
			t.a.Get(cur).Key = succEntry.Key
			t.a.Get(cur).Value = succEntry.Value
			t.deleteMin(t.right(cur))

			return
		}

		cur = t.right(cur)
	}
}

// deleteMin removes the smallest node of the subtree rooted at h. The
// fixup run by unlink walks from the removed slot's parent all the way
// to the tree root, covering both the subtree and every ancestor above
// it.
func (t *Tree[K, V]) deleteMin(h uint32) {
	cur := h

	for {
		if t.left(cur) == arena.Sentinel {
			t.unlink(cur)
			return
		}

		if !t.isRed(t.left(cur)) && !t.isRed(t.left(t.left(cur))) {
			cur = t.descendTransform(cur, t.moveRedLeft)
		}

		cur = t.left(cur)
	}
}

// descendTransform applies one of the top-down deletion transforms
// (moveRedLeft, moveRedRight, rotateRight) at h and immediately
// reattaches the resulting subtree root into h's former parent, so the
// tree is fully linked before the descent continues.
func (t *Tree[K, V]) descendTransform(h uint32, transform func(uint32) uint32) uint32 {
	p := t.parent(h)
	wasLeft := p != arena.Sentinel && t.left(p) == h
	sub := transform(h)
	t.reattach(p, wasLeft, sub)

	return sub
}

// unlink detaches the childless node h, releases its slot, and runs
// the bottom-up fixup from its former parent.
func (t *Tree[K, V]) unlink(h uint32) {
	p := t.parent(h)
	t.a.Remove(h)

	if p == arena.Sentinel {
		t.root = arena.Sentinel
		return
	}

	if t.left(p) == h {
		t.setLeft(p, arena.Sentinel)
	} else {
		t.setRight(p, arena.Sentinel)
	}

	t.fixupToRoot(p)
}

func (t *Tree[K, V]) moveRedLeft(h uint32) uint32 {
	t.flipColors(h)

	if t.isRed(t.left(t.right(h))) {
		t.setRight(h, t.rotateRight(t.right(h)))
		t.setParent(t.right(h), h)
		h = t.rotateLeft(h)
		t.flipColors(h)
	}

	return h
}

func (t *Tree[K, V]) moveRedRight(h uint32) uint32 {
	t.flipColors(h)

	if t.isRed(t.left(t.left(h))) {
		h = t.rotateRight(h)
		t.flipColors(h)
	}

	return h
}

func (t *Tree[K, V]) min(h uint32) uint32 {
	for t.left(h) != arena.Sentinel {
		h = t.left(h)
	}

	return h
}

// All returns an in-order iterator over (key, value) pairs, walking
// the tree with parent-pointer backtracking rather than recursion.
// Removal of the currently-yielded entry during iteration is safe;
// removing any other entry is not.
func (t *Tree[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if t.root == arena.Sentinel {
			return
		}

		cur := t.min(t.root)

		for cur != arena.Sentinel {
			e := t.a.Get(cur)
			next := t.successor(cur)

			if !yield(e.Key, e.Value) {
				return
			}

			cur = next
		}
	}
}

// AllMut is like All but yields a mutable pointer to each value. The
// pointer is valid until the next structural mutation of the tree.
func (t *Tree[K, V]) AllMut() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		if t.root == arena.Sentinel {
			return
		}

		cur := t.min(t.root)

		for cur != arena.Sentinel {
			e := t.a.Get(cur)
			next := t.successor(cur)

			if !yield(e.Key, &e.Value) {
				return
			}

			cur = next
		}
	}
}

// successor returns the in-order successor of i without recursion: if
// i has a right subtree, its minimum; otherwise the nearest ancestor
// for which i lies in the left subtree.
func (t *Tree[K, V]) successor(i uint32) uint32 {
	if t.right(i) != arena.Sentinel {
		return t.min(t.right(i))
	}

	cur, p := i, t.parent(i)
	for p != arena.Sentinel && cur == t.right(p) {
		cur, p = p, t.parent(p)
	}

	return p
}

// MarshalBinary serializes the tree's root pointer and its backing
// arena into a byte image (see arena.Arena.MarshalBinary). K and V
// must be fixed-size, pointer-free types for this to succeed.
func (t *Tree[K, V]) MarshalBinary() ([]byte, error) {
	body, err := t.a.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("rbtree: marshal: %w", err)
	}

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], t.root)
	copy(out[4:], body)

	return out, nil
}

// UnmarshalBinary restores a tree from a byte image produced by
// MarshalBinary.
func (t *Tree[K, V]) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("rbtree: unmarshal: short buffer (%d bytes)", len(data))
	}

	t.root = binary.LittleEndian.Uint32(data[0:4])

	if t.a == nil {
		t.a = &arena.Arena[entry[K, V]]{}
	}

	return t.a.UnmarshalBinary(data[4:])
}
