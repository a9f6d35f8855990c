package heap

import (
	"golang.org/x/exp/slog"

	"github.com/halfmoor/vmheap"
	"github.com/halfmoor/vmheap/ref"
)

// gcPhase tracks where the collector is in its cycle. The heap is gcIdle
// at all times except inside Collect.
type gcPhase uint32

const (
	gcIdle gcPhase = iota
	gcMarking
	gcSweeping
)

var gcPhaseMapping = map[gcPhase]string{
	gcIdle:     "Idle",
	gcMarking:  "Marking",
	gcSweeping: "Sweeping",
}

func (p gcPhase) String() string {
	return gcPhaseMapping[p]
}

// RootProvider enumerates tagged references reachable from some piece of
// program-visible state: globals, active call frames, temporaries. The
// embedding runtime must register providers covering every such location
// before the first collection runs- completeness is mandatory, since any
// reference the providers fail to report is treated as garbage.
type RootProvider interface {
	// AppendRoots appends every root reference the provider knows about to
	// refs and returns the extended slice.
	AppendRoots(refs []ref.Ref) []ref.Ref
}

// RootProviderFunc adapts a plain function to the RootProvider interface.
type RootProviderFunc func(refs []ref.Ref) []ref.Ref

func (f RootProviderFunc) AppendRoots(refs []ref.Ref) []ref.Ref {
	return f(refs)
}

type rootRegistration struct {
	id       int
	provider RootProvider
}

// AddRootProvider registers a root provider with the heap and returns an
// id that can be passed to RemoveRootProvider. Providers are consulted in
// registration order at the start of every collection cycle.
func (h *Heap) AddRootProvider(provider RootProvider) int {
	h.nextProviderID++
	h.rootProviders = append(h.rootProviders, rootRegistration{
		id:       h.nextProviderID,
		provider: provider,
	})
	return h.nextProviderID
}

// RemoveRootProvider unregisters a previously added root provider. It
// returns false if no provider with the given id is registered.
func (h *Heap) RemoveRootProvider(id int) bool {
	for i, reg := range h.rootProviders {
		if reg.id == id {
			h.rootProviders = append(h.rootProviders[:i], h.rootProviders[i+1:]...)
			return true
		}
	}
	return false
}

// Collect runs one full mark-and-sweep cycle and returns the number of
// blocks returned to the free state. The mark phase visits every object
// reachable from the registered root providers; the sweep phase finalizes
// and frees everything else, and clears mark bits on the survivors so the
// next cycle starts clean.
//
// Collect must not be invoked while a collection is already in progress-
// doing so is a programming error in the embedding runtime and panics.
// Finalizers therefore must not allocate or collect.
func (h *Heap) Collect() int {
	if h.phase != gcIdle {
		panic("heap: collection triggered while " + h.phase.String())
	}

	h.phase = gcMarking
	marked := h.markFromRoots()

	h.phase = gcSweeping
	objectsSwept, blocksFreed := h.sweep()

	h.phase = gcIdle

	h.logger.Debug("Heap::Collect finished",
		slog.Int("Marked", marked),
		slog.Int("ObjectsSwept", objectsSwept),
		slog.Int("BlocksFreed", blocksFreed))

	vmheap.DebugValidate(h)

	return blocksFreed
}

// markFromRoots seeds the mark work-list with every reference the root
// providers report, then drains it. The work-list keeps the trace
// iterative, so arbitrarily deep object graphs cannot overflow the native
// stack. It returns the number of objects marked.
func (h *Heap) markFromRoots() int {
	var roots []ref.Ref
	for _, reg := range h.rootProviders {
		roots = reg.provider.AppendRoots(roots)
	}

	h.workList = h.workList[:0]
	for _, root := range roots {
		h.markRef(root)
	}

	var marked int
	for len(h.workList) > 0 {
		head := h.workList[len(h.workList)-1]
		h.workList = h.workList[:len(h.workList)-1]
		marked++

		info, ok := h.objects.Get(head)
		if !ok {
			// Unreachable if the state table and object records agree.
			panic("heap: marked block has no object record")
		}
		if info.typ.Trace == nil {
			continue
		}
		info.typ.Trace(h.payloadBytes(head, info), h.markRef)
	}
	return marked
}

// markRef classifies a single reference and, when it denotes an unmarked
// live object, marks its head block and queues it for tracing. Small
// integers, interned strings, and nil references carry no heap address and
// are skipped. The mark bit makes re-visits idempotent, which is also what
// terminates cycles in the object graph.
func (h *Heap) markRef(r ref.Ref) {
	if r.Kind() != ref.KindObject {
		return
	}

	block := r.Block()
	if block >= h.blockCount || h.blockValue(block) == blockFree {
		// A dropped reference to an already-reclaimed object. Nothing to
		// trace, and sweep has nothing extra to do.
		h.logger.Debug("Heap::markRef ignoring dangling reference", slog.Int("Block", block))
		return
	}

	head := h.findHead(block)
	if h.blockValue(head) == blockMark {
		return
	}

	h.setBlockState(head, blockMark)
	h.workList = append(h.workList, head)
}

// sweep walks the state table in block order. Unmarked heads are finalized
// (when flagged) and their runs freed; marked heads are restored to plain
// heads for the next cycle. Tail and free blocks need no individual
// attention- tails are handled as part of their head's run.
func (h *Heap) sweep() (objectsSwept, blocksFreed int) {
	for block := 0; block < h.blockCount; block++ {
		switch h.blockValue(block) {
		case blockMark:
			h.setBlockState(block, blockHead)

		case blockHead:
			if h.states[block].hasFinalizer() {
				info, ok := h.objects.Get(block)
				if !ok {
					panic("heap: finalizing block has no object record")
				}
				info.typ.Finalize(h.payloadBytes(block, info))
			}
			blocksFreed += h.freeRun(block)
			objectsSwept++
		}
	}
	return objectsSwept, blocksFreed
}
