package table_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfmoor/vmheap/table"
)

func insertKey(t *testing.T, tbl *table.Table[string], hash uint64, key string) int {
	t.Helper()

	slot, _, err := tbl.FindOrInsert(hash,
		func(existing string) bool { return existing == key },
		func() string { return key })
	require.NoError(t, err)
	return slot
}

func lookupKey(tbl *table.Table[string], hash uint64, key string) (int, bool) {
	return tbl.Lookup(hash, func(existing string) bool { return existing == key })
}

func TestFindOrInsertIdempotent(t *testing.T) {
	tbl := table.New[string](8)

	first, inserted, err := tbl.FindOrInsert(77,
		func(existing string) bool { return existing == "key" },
		func() string { return "key" })
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, 1, tbl.Used())

	second, inserted, err := tbl.FindOrInsert(77,
		func(existing string) bool { return existing == "key" },
		func() string { return "key" })
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, first, second)
	require.Equal(t, 1, tbl.Used())
	require.Equal(t, "key", tbl.At(second))

	require.NoError(t, tbl.Validate())
}

func TestLinearProbeCollisions(t *testing.T) {
	tbl := table.New[string](8)
	require.Equal(t, 8, tbl.Capacity())

	// All four hashes collide to slot 0 mod 8 and must fall through to
	// consecutive slots.
	for i, hash := range []uint64{0, 8, 16, 24} {
		slot := insertKey(t, tbl, hash, fmt.Sprintf("key%d", i))
		require.Equal(t, i, slot)
	}
	require.Equal(t, 4, tbl.Used())
	require.Equal(t, 8, tbl.Capacity())

	// The key with hash 24 sits at the end of the probe chain.
	slot, found := lookupKey(tbl, 24, "key3")
	require.True(t, found)
	require.Equal(t, 3, slot)

	require.NoError(t, tbl.Validate())
}

func TestLookupMissingKey(t *testing.T) {
	tbl := table.New[string](8)
	insertKey(t, tbl, 5, "present")

	_, found := lookupKey(tbl, 5, "absent")
	require.False(t, found)

	_, found = lookupKey(tbl, 6, "present")
	require.False(t, found)

	empty := table.New[string](0)
	_, found = lookupKey(empty, 5, "present")
	require.False(t, found)
}

func TestRehashRoundTrip(t *testing.T) {
	tbl := table.New[string](8)

	const keyCount = 100
	for i := 0; i < keyCount; i++ {
		insertKey(t, tbl, uint64(i*13), fmt.Sprintf("key%d", i))
	}

	require.Equal(t, keyCount, tbl.Used())
	require.Greater(t, tbl.Capacity(), 8)

	for i := 0; i < keyCount; i++ {
		slot, found := lookupKey(tbl, uint64(i*13), fmt.Sprintf("key%d", i))
		require.True(t, found, "key%d missing after rehash", i)
		require.Equal(t, fmt.Sprintf("key%d", i), tbl.At(slot))
	}

	require.NoError(t, tbl.Validate())
}

func TestDeleteAndTombstoneReuse(t *testing.T) {
	tbl := table.New[string](8)

	// Three colliding keys probe into slots 0, 1, 2.
	insertKey(t, tbl, 0, "first")
	middle := insertKey(t, tbl, 8, "second")
	insertKey(t, tbl, 16, "third")

	tbl.Delete(middle)
	require.Equal(t, 2, tbl.Used())
	require.NoError(t, tbl.Validate())

	// The tombstone must not truncate the probe chain to the third key.
	slot, found := lookupKey(tbl, 16, "third")
	require.True(t, found)
	require.Equal(t, 2, slot)

	// A colliding insert reuses the tombstone slot.
	slot = insertKey(t, tbl, 24, "fourth")
	require.Equal(t, middle, slot)
	require.Equal(t, 3, tbl.Used())

	require.NoError(t, tbl.Validate())
}

func TestZeroCapacityGrowsOnFirstInsert(t *testing.T) {
	tbl := table.New[string](0)
	require.Equal(t, 0, tbl.Capacity())

	slot := insertKey(t, tbl, 3, "key")
	require.Equal(t, table.MinCapacity, tbl.Capacity())
	require.Equal(t, "key", tbl.At(slot))
}

func TestForEachVisitsLiveEntries(t *testing.T) {
	tbl := table.New[string](8)
	insertKey(t, tbl, 1, "one")
	doomed := insertKey(t, tbl, 2, "two")
	insertKey(t, tbl, 3, "three")
	tbl.Delete(doomed)

	seen := map[string]bool{}
	tbl.ForEach(func(index int, hash uint64, value string) {
		seen[value] = true
	})
	require.Equal(t, map[string]bool{"one": true, "three": true}, seen)
}
