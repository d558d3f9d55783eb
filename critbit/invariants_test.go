package critbit

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/arenakit/arena"
	"github.com/calvinalkan/arenakit/container"
)

// Tree's method set must not drift from the repository-wide contract.
// The anchor lives here because it needs a concrete Key type.
var _ container.Container[u64key, int32] = (*Tree[u64key, int32])(nil)

// u64key is a big-endian 8-byte key, so lexicographic byte order
// matches numeric order.
type u64key uint64

func (k u64key) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

// walk descends from i asserting that every internal node's critical
// bit strictly exceeds its parent's, and that every leaf child of an
// internal node with critical bit c lies on the side its key's bit c
// names (0 -> left, 1 -> right). Leaves are checked against their
// immediate parent only, not against higher ancestors.
func (t *Tree[K, V]) walk(test *testing.T, i uint32, minBit int) {
	if !t.isInternal(i) {
		return
	}

	c := t.critBit(i)
	require.GreaterOrEqual(test, c, minBit, "slot %d: critical bit must not decrease along a root path", i)

	left := t.left(i)
	right := t.right(i)

	require.NotEqual(test, arena.Sentinel, left, "slot %d: internal node missing left child", i)
	require.NotEqual(test, arena.Sentinel, right, "slot %d: internal node missing right child", i)

	require.Equal(test, i, t.parent(left), "slot %d: left child's parent link is stale", i)
	require.Equal(test, i, t.parent(right), "slot %d: right child's parent link is stale", i)

	t.assertLeafBit(test, left, c, 0)
	t.assertLeafBit(test, right, c, 1)

	t.walk(test, left, c+1)
	t.walk(test, right, c+1)
}

func (t *Tree[K, V]) assertLeafBit(test *testing.T, i uint32, c int, want byte) {
	if t.isInternal(i) {
		return
	}

	kb := t.a.Get(i).Key.Bytes()
	require.Equal(test, want, bitAt(kb, c), "slot %d: leaf on wrong side of critical bit %d", i, c)
}

func (t *Tree[K, V]) assertInvariants(test *testing.T) {
	test.Helper()

	if t.root == arena.Sentinel {
		return
	}

	require.Equal(test, arena.Sentinel, t.parent(t.root), "root must have no parent")
	t.walk(test, t.root, 0)
}

// u128key is a 16-byte key used for the all-zero/all-one boundary
// scenario.
type u128key [16]byte

func (k u128key) Bytes() []byte { return k[:] }

// TestTree_BoundaryKeysSplitAtBitZero inserts the all-zero and all-one
// 16-byte keys: they differ at the very first bit, so the root must be
// an internal node with critical-bit index 0 and both leaves directly
// reachable from it.
func TestTree_BoundaryKeysSplitAtBitZero(t *testing.T) {
	tr := New[u128key, uint32](64)

	var zero, ones u128key
	for i := range ones {
		ones[i] = 0xFF
	}

	_, err := tr.Insert(zero, 1)
	require.NoError(t, err)

	_, err = tr.Insert(ones, 2)
	require.NoError(t, err)

	require.True(t, tr.isInternal(tr.root))
	require.Equal(t, 0, tr.critBit(tr.root))

	require.False(t, tr.isInternal(tr.left(tr.root)))
	require.False(t, tr.isInternal(tr.right(tr.root)))
	require.Equal(t, zero, tr.a.Get(tr.left(tr.root)).Key)
	require.Equal(t, ones, tr.a.Get(tr.right(tr.root)).Key)
}

func TestTree_InvariantsHoldThroughRandomizedSequence(t *testing.T) {
	const capacity = 2000

	tr := New[u64key, int32](capacity)
	oracle := map[uint64]int32{}
	rng := rand.New(rand.NewSource(404))

	for step := 0; step < 20000; step++ {
		key := uint64(rng.Intn(capacity * 2))

		if rng.Intn(2) == 0 {
			_, err := tr.Insert(u64key(key), int32(step))
			if err == nil {
				oracle[key] = int32(step)
			}
		} else {
			tr.Remove(u64key(key))
			delete(oracle, key)
		}

		tr.assertInvariants(t)
	}

	require.EqualValues(t, len(oracle), tr.Size())
}

// TestTree_StressAtNamedCapacity runs 20,000 random insertions and
// removals against a tree sized so that every key fits (capacity
// 20,001), checking all structural invariants at every step.
func TestTree_StressAtNamedCapacity(t *testing.T) {
	const capacity = 20001

	tr := New[u64key, int32](capacity)
	oracle := map[uint64]int32{}
	rng := rand.New(rand.NewSource(20001))

	for step := 0; step < 20000; step++ {
		key := uint64(rng.Intn(capacity))

		if rng.Intn(2) == 0 {
			_, err := tr.Insert(u64key(key), int32(step))
			if err == nil {
				oracle[key] = int32(step)
			}
		} else {
			tr.Remove(u64key(key))
			delete(oracle, key)
		}

		tr.assertInvariants(t)
	}

	require.EqualValues(t, len(oracle), tr.Size())
}
