package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfmoor/vmheap/heap"
	"github.com/halfmoor/vmheap/ref"
)

// rootSet is a mutable root provider for tests: whatever refs it holds at
// collection time are the heap's roots.
type rootSet struct {
	refs []ref.Ref
}

func (s *rootSet) AppendRoots(refs []ref.Ref) []ref.Ref {
	return append(refs, s.refs...)
}

func rootedHeap(t *testing.T, blockCount int) (*heap.Heap, *rootSet) {
	t.Helper()

	h := testHeap(t, blockCount)
	roots := &rootSet{}
	h.AddRootProvider(roots)
	return h, roots
}

func TestCollectReclaimsExactlyTheUnreachable(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	// Three objects needing 1, 2, and 1 blocks.
	first, err := h.Allocate(24, plainType)
	require.NoError(t, err)
	second, err := h.Allocate(48, plainType)
	require.NoError(t, err)
	third, err := h.Allocate(20, plainType)
	require.NoError(t, err)

	require.Equal(t, 12, h.FreeBlockCount())

	firstPayload, err := h.Bytes(first)
	require.NoError(t, err)
	copy(firstPayload, "persistent-1")
	thirdPayload, err := h.Bytes(third)
	require.NoError(t, err)
	copy(thirdPayload, "persistent-3")

	// Drop the two-block object from the root set and collect.
	roots.refs = []ref.Ref{first, third}
	freed := h.Collect()
	require.Equal(t, 2, freed)
	require.Equal(t, 14, h.FreeBlockCount())
	require.Equal(t, 2, h.AllocationCount())
	require.NoError(t, h.Validate())

	_, err = h.Bytes(second)
	require.Error(t, err)

	// The survivors are untouched, contents included.
	firstPayload, err = h.Bytes(first)
	require.NoError(t, err)
	require.Equal(t, "persistent-1", string(firstPayload[:12]))
	thirdPayload, err = h.Bytes(third)
	require.NoError(t, err)
	require.Equal(t, "persistent-3", string(thirdPayload[:12]))
}

func TestCollectIsIdempotent(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	keep, err := h.Allocate(24, plainType)
	require.NoError(t, err)
	_, err = h.Allocate(48, plainType)
	require.NoError(t, err)
	roots.refs = []ref.Ref{keep}

	require.Equal(t, 2, h.Collect())

	// A second cycle with unchanged roots and no intervening allocations
	// must reclaim nothing.
	require.Equal(t, 0, h.Collect())
	require.Equal(t, 1, h.AllocationCount())
	require.NoError(t, h.Validate())
}

func TestCollectWithNoRootsReclaimsEverything(t *testing.T) {
	h := testHeap(t, 16)

	for i := 0; i < 4; i++ {
		_, err := h.Allocate(32, plainType)
		require.NoError(t, err)
	}

	require.Equal(t, 4, h.Collect())
	require.True(t, h.IsEmpty())
	require.Equal(t, 16, h.FreeBlockCount())
	require.NoError(t, h.Validate())
}

func TestCollectFollowsObjectGraph(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	// child is reachable only through parent's payload.
	child, err := h.Allocate(16, listType)
	require.NoError(t, err)
	parent, err := h.Allocate(16, listType)
	require.NoError(t, err)
	require.NoError(t, h.SetWord(parent, 0, child))

	garbage, err := h.Allocate(16, listType)
	require.NoError(t, err)

	roots.refs = []ref.Ref{parent}
	require.Equal(t, 1, h.Collect())

	_, err = h.Bytes(child)
	require.NoError(t, err)
	_, err = h.Bytes(garbage)
	require.Error(t, err)
}

func TestCollectSkipsUntracedReferences(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	// plainType has no tracer, so references stored in its payload do not
	// keep anything alive.
	hidden, err := h.Allocate(16, plainType)
	require.NoError(t, err)
	holder, err := h.Allocate(16, plainType)
	require.NoError(t, err)
	require.NoError(t, h.SetWord(holder, 0, hidden))

	roots.refs = []ref.Ref{holder}
	require.Equal(t, 1, h.Collect())

	_, err = h.Bytes(hidden)
	require.Error(t, err)
	_, err = h.Bytes(holder)
	require.NoError(t, err)
}

func TestCollectHandlesCycles(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	a, err := h.Allocate(16, listType)
	require.NoError(t, err)
	b, err := h.Allocate(16, listType)
	require.NoError(t, err)
	require.NoError(t, h.SetWord(a, 0, b))
	require.NoError(t, h.SetWord(b, 0, a))

	// Rooted cycle survives.
	roots.refs = []ref.Ref{a}
	require.Equal(t, 0, h.Collect())
	require.Equal(t, 2, h.AllocationCount())

	// Unrooted cycle does not keep itself alive.
	roots.refs = nil
	require.Equal(t, 2, h.Collect())
	require.True(t, h.IsEmpty())
	require.NoError(t, h.Validate())
}

func TestCollectDeepGraphUsesWorkList(t *testing.T) {
	const nodes = 50000

	h, err := heap.New(heap.Config{
		BlockSize:  16,
		BlockCount: nodes + 1,
	})
	require.NoError(t, err)

	roots := &rootSet{}
	h.AddRootProvider(roots)

	// A singly linked list deep enough to overflow the native stack if the
	// mark phase recursed.
	next := ref.Nil
	for i := 0; i < nodes; i++ {
		node, err := h.Allocate(16, listType)
		require.NoError(t, err)
		require.NoError(t, h.SetWord(node, 0, next))
		next = node
	}

	roots.refs = []ref.Ref{next}
	require.Equal(t, 0, h.Collect())
	require.Equal(t, nodes, h.AllocationCount())

	roots.refs = nil
	require.Equal(t, nodes, h.Collect())
	require.True(t, h.IsEmpty())
}

func TestNonObjectRootsAreSkipped(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	obj, err := h.Allocate(16, plainType)
	require.NoError(t, err)

	roots.refs = []ref.Ref{
		ref.MakeSmallInt(16),
		ref.MakeInternedString(3),
		ref.Nil,
		obj,
	}
	require.Equal(t, 0, h.Collect())
	require.Equal(t, 1, h.AllocationCount())
}

func TestDanglingRootIsIgnored(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	stale, err := h.Allocate(16, plainType)
	require.NoError(t, err)
	require.NoError(t, h.Release(stale))

	keep, err := h.Allocate(16, plainType)
	require.NoError(t, err)
	require.NoError(t, h.Release(keep))

	// Both refs now point at free blocks; a collection must not resurrect
	// or trace them.
	roots.refs = []ref.Ref{stale, ref.MakeObject(500)}
	require.NotPanics(t, func() { h.Collect() })
	require.NoError(t, h.Validate())
}

func TestFinalizerRunsExactlyOnceDuringSweep(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	var finalized []string
	makeType := func(name string) *heap.TypeInfo {
		return &heap.TypeInfo{
			Name:     name,
			Finalize: func(payload []byte) { finalized = append(finalized, name) },
		}
	}

	// One-block objects at blocks 0, 1, and 2; sweep visits in block order.
	first, err := h.Allocate(16, makeType("first"))
	require.NoError(t, err)
	_, err = h.Allocate(16, makeType("second"))
	require.NoError(t, err)
	_, err = h.Allocate(16, makeType("third"))
	require.NoError(t, err)

	roots.refs = []ref.Ref{first}
	require.Equal(t, 2, h.Collect())
	require.Equal(t, []string{"second", "third"}, finalized)

	// The survivor's finalizer runs only when it finally dies.
	roots.refs = nil
	require.Equal(t, 1, h.Collect())
	require.Equal(t, []string{"second", "third", "first"}, finalized)
	require.NoError(t, h.Validate())
}

func TestFinalizerSeesPayload(t *testing.T) {
	h := testHeap(t, 16)

	var captured string
	fileType := &heap.TypeInfo{
		Name: "File",
		Finalize: func(payload []byte) {
			captured = string(payload[:4])
		},
	}

	obj, err := h.Allocate(8, fileType)
	require.NoError(t, err)
	payload, err := h.Bytes(obj)
	require.NoError(t, err)
	copy(payload, "data")

	h.Collect()
	require.Equal(t, "data", captured)
}

func TestFinalizerMustNotAllocate(t *testing.T) {
	h := testHeap(t, 16)

	badType := &heap.TypeInfo{
		Name: "Bad",
		Finalize: func(payload []byte) {
			_, _ = h.Allocate(16, plainType)
		},
	}

	_, err := h.Allocate(16, badType)
	require.NoError(t, err)

	require.Panics(t, func() { h.Collect() })
}

func TestReentrantCollectPanics(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	recursiveType := &heap.TypeInfo{
		Name: "Recursive",
		Trace: func(payload []byte, visit func(ref.Ref)) {
			h.Collect()
		},
	}

	obj, err := h.Allocate(16, recursiveType)
	require.NoError(t, err)
	roots.refs = []ref.Ref{obj}

	require.Panics(t, func() { h.Collect() })
}

func TestReleaseDuringCollectionPanics(t *testing.T) {
	h, roots := rootedHeap(t, 16)

	var target ref.Ref
	badType := &heap.TypeInfo{
		Name: "Bad",
		Trace: func(payload []byte, visit func(ref.Ref)) {
			_ = h.Release(target)
		},
	}

	obj, err := h.Allocate(16, badType)
	require.NoError(t, err)
	target = obj
	roots.refs = []ref.Ref{obj}

	require.Panics(t, func() { h.Collect() })
}

func TestRemoveRootProvider(t *testing.T) {
	h := testHeap(t, 16)

	keep := &rootSet{}
	id := h.AddRootProvider(keep)

	obj, err := h.Allocate(16, plainType)
	require.NoError(t, err)
	keep.refs = []ref.Ref{obj}

	require.Equal(t, 0, h.Collect())

	require.True(t, h.RemoveRootProvider(id))
	require.False(t, h.RemoveRootProvider(id))

	require.Equal(t, 1, h.Collect())
	require.True(t, h.IsEmpty())
}

func TestStateTableStaysConsistentAcrossChurn(t *testing.T) {
	h, roots := rootedHeap(t, 64)

	var live []ref.Ref
	for round := 0; round < 10; round++ {
		for i := 0; i < 6; i++ {
			obj, err := h.Allocate(16+i*24, listType)
			require.NoError(t, err)
			live = append(live, obj)
			require.NoError(t, h.Validate())
		}

		// Keep every other object.
		var kept []ref.Ref
		for i, obj := range live {
			if i%2 == 0 {
				kept = append(kept, obj)
			}
		}
		roots.refs = kept

		h.Collect()
		require.NoError(t, h.Validate())
		live = kept
	}
}
