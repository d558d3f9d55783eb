package hashtable_test

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/arenakit/arena"
	"github.com/calvinalkan/arenakit/container"
	"github.com/calvinalkan/arenakit/hashtable"
)

// Table's method set must not drift from the repository-wide contract.
// The anchor lives here because it needs a concrete Key type.
var _ container.Container[u64key, uint64] = (*hashtable.Table[u64key, uint64])(nil)

type u64key uint64

func (k u64key) Bytes() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

type u32key uint32

func (k u32key) Bytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(k))
	return b[:]
}

func TestTable_InsertGetRemove(t *testing.T) {
	// 17 slots in the image, one always empty: 16 live entries fit.
	tbl := hashtable.New[u64key, uint64](16)

	for i := uint64(0); i < 16; i++ {
		_, err := tbl.Insert(u64key(i), i*10)
		require.NoError(t, err)
	}

	require.True(t, tbl.IsFull())
	require.EqualValues(t, 16, tbl.Size())

	_, err := tbl.Insert(u64key(999), 1)
	require.ErrorIs(t, err, arena.ErrFull)

	for i := uint64(0); i < 16; i++ {
		v, ok := tbl.Get(u64key(i))
		require.True(t, ok)
		require.EqualValues(t, i*10, *v)
	}

	_, ok := tbl.Remove(u64key(5))
	require.True(t, ok)
	require.False(t, tbl.IsFull())

	_, err = tbl.Insert(u64key(999), 1)
	require.NoError(t, err)

	_, ok = tbl.Get(u64key(5))
	require.False(t, ok)

	for i := uint64(0); i < 16; i++ {
		if i == 5 {
			continue
		}

		v, ok := tbl.Get(u64key(i))
		require.True(t, ok)
		require.EqualValues(t, i*10, *v)
	}
}

func TestTable_InsertExistingKeyUpdatesInPlace(t *testing.T) {
	tbl := hashtable.New[u64key, uint64](4)

	idx1, err := tbl.Insert(u64key(1), 100)
	require.NoError(t, err)

	idx2, err := tbl.Insert(u64key(1), 200)
	require.NoError(t, err)

	require.Equal(t, idx1, idx2)
	require.EqualValues(t, 1, tbl.Size())

	v, _ := tbl.Get(u64key(1))
	require.EqualValues(t, 200, *v)
}

// TestTable_RandomizedAgainstMapOracle drives a large random
// delete/insert sequence against a map oracle and checks every live key
// remains reachable after each step, which is what backward-shift
// deletion must guarantee regardless of which slots happen to cluster.
func TestTable_RandomizedAgainstMapOracle(t *testing.T) {
	const capacity = 500

	tbl := hashtable.New[u32key, int32](capacity)
	oracle := map[uint32]int32{}
	rng := rand.New(rand.NewSource(123))

	for step := 0; step < 20000; step++ {
		key := uint32(rng.Intn(capacity * 2))

		if rng.Intn(2) == 0 {
			val := int32(step)

			_, err := tbl.Insert(u32key(key), val)
			if err != nil {
				require.ErrorIs(t, err, arena.ErrFull)
				require.GreaterOrEqual(t, len(oracle), int(tbl.Capacity()))
			} else {
				oracle[key] = val
			}
		} else {
			_, wantOK := oracle[key]
			_, gotOK := tbl.Remove(u32key(key))
			require.Equal(t, wantOK, gotOK)
			delete(oracle, key)
		}

		require.EqualValues(t, len(oracle), tbl.Size())

		for k, want := range oracle {
			got, ok := tbl.Get(u32key(k))
			require.True(t, ok, "key %d must remain reachable after backward-shift deletion", k)
			require.Equal(t, want, *got)
		}
	}

	snapshot := map[uint32]int32{}
	for k, v := range tbl.All() {
		snapshot[uint32(k)] = v
	}

	if diff := cmp.Diff(oracle, snapshot); diff != "" {
		t.Fatalf("table contents diverged from oracle (-want +got):\n%s", diff)
	}
}

// TestTable_StressAtNamedCapacity runs 20,000 random insertions and
// removals against a table sized so that every key fits (capacity
// 20,001), checking reachability of every live key at every step.
func TestTable_StressAtNamedCapacity(t *testing.T) {
	const capacity = 20001

	tbl := hashtable.New[u32key, int32](capacity)
	oracle := map[uint32]int32{}
	rng := rand.New(rand.NewSource(20001))

	for step := 0; step < 20000; step++ {
		key := uint32(rng.Intn(capacity))

		if rng.Intn(2) == 0 {
			val := int32(step)

			_, err := tbl.Insert(u32key(key), val)
			if err != nil {
				require.ErrorIs(t, err, arena.ErrFull)
				require.GreaterOrEqual(t, len(oracle), int(tbl.Capacity()))
			} else {
				oracle[key] = val
			}
		} else {
			_, wantOK := oracle[key]
			_, gotOK := tbl.Remove(u32key(key))
			require.Equal(t, wantOK, gotOK)
			delete(oracle, key)
		}

		require.EqualValues(t, len(oracle), tbl.Size())
	}

	for k, want := range oracle {
		got, ok := tbl.Get(u32key(k))
		require.True(t, ok, "key %d must remain reachable after the stress run", k)
		require.Equal(t, want, *got)
	}
}

func TestTable_MarshalRoundTrip(t *testing.T) {
	tbl := hashtable.New[u64key, uint64](16)

	for i := uint64(0); i < 10; i++ {
		_, err := tbl.Insert(u64key(i), i*10)
		require.NoError(t, err)
	}

	tbl.Remove(u64key(3))

	data, err := tbl.MarshalBinary()
	require.NoError(t, err)

	var restored hashtable.Table[u64key, uint64]
	require.NoError(t, restored.UnmarshalBinary(data))

	require.Equal(t, tbl.Size(), restored.Size())

	for i := uint64(0); i < 10; i++ {
		want, wantOK := tbl.Get(u64key(i))
		got, gotOK := restored.Get(u64key(i))

		require.Equal(t, wantOK, gotOK)
		if wantOK {
			require.Equal(t, *want, *got)
		}
	}
}
