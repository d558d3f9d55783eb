// Package avltree implements an ordered map as an AVL tree whose nodes
// live in a single fixed-capacity arena.Arena, following the same
// index-arithmetic design as package rbtree: left, right and parent
// links are slot indices, not pointers.
//
// Register layout:
//
//	register 0: left child slot
//	register 1: right child slot
//	register 2: parent slot
//	register 3: balance factor, biased by +1 so the unsigned register
//	            can hold {-1, 0, +1} as {0, 1, 2}
//
// Invariant: for every node, |height(left) - height(right)| <= 1.
package avltree

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
	regLeft    = 0
	regRight   = 1
	regParent  = 2
	regBalance = 3
)

// balance factor bias: register value 0/1/2 represents -1/0/+1.
const balanceBias = 1

type entry[K any, V any] struct {
	Key   K
	Value V
}

// Tree is an AVL tree map with a fixed capacity. The zero value is not
// usable; construct with New.
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

func (t *Tree[K, V]) balanceOf(i uint32) int {
	// The int32 conversion keeps a transiently stored -2 (register value
	// 0xFFFFFFFF) negative when read back.
	return int(int32(t.a.Register(i, regBalance))) - balanceBias
}

func (t *Tree[K, V]) setBalance(i uint32, b int) {
	t.a.SetRegister(i, regBalance, uint32(b+balanceBias))
}

// Insert adds key -> value, or updates the value in place if key is
// already present. Returns the slot holding the entry, or
// arena.ErrFull if the tree is full and key was not already present.
func (t *Tree[K, V]) Insert(key K, value V) (uint32, error) {
	if t.root == arena.Sentinel {
		idx, err := t.a.Add(entry[K, V]{Key: key, Value: value})
		if err != nil {
			return arena.Sentinel, err
		}

		t.initNode(idx, arena.Sentinel)
		t.root = idx

		return idx, nil
	}

	cur := t.root

	for {
		e := t.a.Get(cur)

		switch c := cmp.Compare(key, e.Key); {
		case c == 0:
			e.Value = value
			return cur, nil
		case c < 0:
			if t.left(cur) == arena.Sentinel {
				idx, err := t.a.Add(entry[K, V]{Key: key, Value: value})
				if err != nil {
					return arena.Sentinel, err
				}

				t.initNode(idx, cur)
				t.setLeft(cur, idx)
				t.retraceInsert(cur, idx)

				return idx, nil
			}

			cur = t.left(cur)
		default:
			if t.right(cur) == arena.Sentinel {
				idx, err := t.a.Add(entry[K, V]{Key: key, Value: value})
				if err != nil {
					return arena.Sentinel, err
				}

				t.initNode(idx, cur)
				t.setRight(cur, idx)
				t.retraceInsert(cur, idx)

				return idx, nil
			}

			cur = t.right(cur)
		}
	}
}

func (t *Tree[K, V]) initNode(idx, parent uint32) {
	t.setLeft(idx, arena.Sentinel)
	t.setRight(idx, arena.Sentinel)
	t.setParent(idx, parent)
	t.setBalance(idx, 0)
}

// retraceInsert walks up from the newly attached child's parent,
// updating balance factors. Insertion's rotation, once it happens,
// restores the subtree's original height, so rebalancing stops at the
// first rotation.
func (t *Tree[K, V]) retraceInsert(parent, child uint32) {
	for parent != arena.Sentinel {
		var delta int
		if t.left(parent) == child {
			delta = 1
		} else {
			delta = -1
		}

		newBalance := t.balanceOf(parent) + delta
		t.setBalance(parent, newBalance)

		switch newBalance {
		case 0:
			// Subtree height unchanged; ancestors are unaffected.
			return
		case 1, -1:
			// Subtree grew by one; keep walking up.
			child = parent
			parent = t.parent(parent)
		default:
			t.rebalance(parent, newBalance)
			return
		}
	}
}

// rebalance restores the AVL property at h, whose balance factor has
// just left {-1, 0, +1}, and reattaches the resulting subtree root
// into h's former parent.
func (t *Tree[K, V]) rebalance(h uint32, hBalance int) {
	p := t.parent(h)
	var newSub uint32

	if hBalance > 1 {
		if t.balanceOf(t.left(h)) < 0 {
			t.setLeft(h, t.rotateLeft(t.left(h)))
		}

		newSub = t.rotateRight(h)
	} else {
		if t.balanceOf(t.right(h)) > 0 {
			t.setRight(h, t.rotateRight(t.right(h)))
		}

		newSub = t.rotateLeft(h)
	}

	t.attach(p, h, newSub)
}

// attach reattaches newSub in place of oldChild under parent p (or as
// the tree root if p is the sentinel). newSub may itself be the
// sentinel (oldChild had no replacement), in which case there is no
// parent link to fix up on it.
func (t *Tree[K, V]) attach(p, oldChild, newSub uint32) {
	switch {
	case p == arena.Sentinel:
		t.root = newSub
		if newSub != arena.Sentinel {
			t.setParent(newSub, arena.Sentinel)
		}
	case t.left(p) == oldChild:
		t.setLeft(p, newSub)
		if newSub != arena.Sentinel {
			t.setParent(newSub, p)
		}
	default:
		t.setRight(p, newSub)
		if newSub != arena.Sentinel {
			t.setParent(newSub, p)
		}
	}
}

func (t *Tree[K, V]) rotateLeft(h uint32) uint32 {
	x := t.right(h)

	t.setRight(h, t.left(x))
	if t.left(x) != arena.Sentinel {
		t.setParent(t.left(x), h)
	}

	t.setLeft(x, h)
	t.setParent(h, x)

	hb, xb := t.balanceOf(h), t.balanceOf(x)
	if xb >= 0 {
		t.setBalance(h, hb+1)
	} else {
		t.setBalance(h, hb+1-xb)
	}

	hb = t.balanceOf(h)
	if hb >= 0 {
		t.setBalance(x, xb+1+hb)
	} else {
		t.setBalance(x, xb+1)
	}

	return x
}

func (t *Tree[K, V]) rotateRight(h uint32) uint32 {
	x := t.left(h)

	t.setLeft(h, t.right(x))
	if t.right(x) != arena.Sentinel {
		t.setParent(t.right(x), h)
	}

	t.setRight(x, h)
	t.setParent(h, x)

	hb, xb := t.balanceOf(h), t.balanceOf(x)
	if xb >= 0 {
		t.setBalance(h, hb-1-xb)
	} else {
		t.setBalance(h, hb-1)
	}

	hb = t.balanceOf(h)
	if hb <= 0 {
		t.setBalance(x, xb-1+hb)
	} else {
		t.setBalance(x, xb-1)
	}

	return x
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
// Two-child nodes are handled by swapping in the in-order successor's
// key/value and deleting the successor's (at-most-one-child) slot
// instead, then retracing from the physically removed slot's parent.
// Unlike insertion, deletion rebalancing does not necessarily stop at
// the first rotation: a rotation can shrink the subtree's height, so
// retracing continues upward until a subtree's height is unchanged or
// the root has been processed.
func (t *Tree[K, V]) Remove(key K) (V, bool) {
	idx := t.find(key)
	if idx == arena.Sentinel {
		var zero V
		return zero, false
	}

	value := t.a.Get(idx).Value

	victim := idx
	if t.left(idx) != arena.Sentinel && t.right(idx) != arena.Sentinel {
		succ := t.min(t.right(idx))
		e := *t.a.Get(succ)
		t.a.Get(idx).Key = e.Key
		t.a.Get(idx).Value = e.Value
		victim = succ
	}

	// victim has at most one child.
	var child uint32
	if t.left(victim) != arena.Sentinel {
		child = t.left(victim)
	} else {
		child = t.right(victim)
	}

	parent := t.parent(victim)
	wasLeft := parent != arena.Sentinel && t.left(parent) == victim

	t.attach(parent, victim, child)
	t.a.Remove(victim)
	t.retraceRemove(parent, wasLeft)

	return value, true
}

// retraceRemove walks up from the former parent of the physically
// removed slot, updating balance factors and rotating as needed, and
// stops at the first ancestor whose subtree height is unchanged (or
// after the root). wasLeft records which side of parent the
// subtree that just shrank was on; it must be captured by the caller
// before the slot is detached, since attach already overwrites that
// link by the time retraceRemove runs.
func (t *Tree[K, V]) retraceRemove(parent uint32, wasLeft bool) {
	for parent != arena.Sentinel {
		var delta int
		if wasLeft {
			delta = -1
		} else {
			delta = 1
		}

		newBalance := t.balanceOf(parent) + delta
		grandparent := t.parent(parent)
		grandWasLeft := grandparent != arena.Sentinel && t.left(grandparent) == parent

		switch newBalance {
		case 1, -1:
			t.setBalance(parent, newBalance)
			return
		case 0:
			t.setBalance(parent, 0)
			parent, wasLeft = grandparent, grandWasLeft
		default:
			// The rotation formulas read the register, so the out-of-range
			// factor must be stored before rebalancing, exactly as
			// retraceInsert does.
			t.setBalance(parent, newBalance)

			if !t.rebalanceAfterRemove(parent, newBalance) {
				return
			}

			parent, wasLeft = grandparent, grandWasLeft
		}
	}
}

// rebalanceAfterRemove restores the AVL property at h and reports
// whether the subtree's height decreased (requiring the caller to keep
// retracing upward).
func (t *Tree[K, V]) rebalanceAfterRemove(h uint32, hBalance int) bool {
	p := t.parent(h)
	var newSub uint32
	var shrunk bool

	if hBalance > 1 {
		siblingBalance := t.balanceOf(t.left(h))

		if siblingBalance < 0 {
			t.setLeft(h, t.rotateLeft(t.left(h)))
		}

		newSub = t.rotateRight(h)
		shrunk = siblingBalance != 0
	} else {
		siblingBalance := t.balanceOf(t.right(h))

		if siblingBalance > 0 {
			t.setRight(h, t.rotateRight(t.right(h)))
		}

		newSub = t.rotateLeft(h)
		shrunk = siblingBalance != 0
	}

	t.attach(p, h, newSub)

	return shrunk
}

func (t *Tree[K, V]) min(h uint32) uint32 {
	for t.left(h) != arena.Sentinel {
		h = t.left(h)
	}

	return h
}

// All returns an in-order iterator over (key, value) pairs, walking
// the tree with parent-pointer backtracking rather than recursion.
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
// arena into a byte image. K and V must be fixed-size, pointer-free
// types for this to succeed.
func (t *Tree[K, V]) MarshalBinary() ([]byte, error) {
	body, err := t.a.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("avltree: marshal: %w", err)
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
		return fmt.Errorf("avltree: unmarshal: short buffer (%d bytes)", len(data))
	}

	t.root = binary.LittleEndian.Uint32(data[0:4])

	if t.a == nil {
		t.a = &arena.Arena[entry[K, V]]{}
	}

	return t.a.UnmarshalBinary(data[4:])
}
