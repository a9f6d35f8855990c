package heap

import (
	"encoding/binary"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/halfmoor/vmheap"
	"github.com/halfmoor/vmheap/ref"
)

// Allocate reserves a contiguous run of blocks large enough to hold size
// payload bytes and returns an object reference to it. The payload is
// zeroed. typ must not be nil; when typ.Finalize is non-nil the object's
// finalizer flag is set and the finalizer runs before the blocks are
// eventually reclaimed.
//
// When no sufficiently long free run exists, the heap runs one collection
// cycle and rescans exactly once before returning OutOfMemoryError. Bear
// in mind that the collection consults the registered root providers: an
// object reachable only through a reference the providers do not report
// will be reclaimed by that cycle.
func (h *Heap) Allocate(size int, typ *TypeInfo) (ref.Ref, error) {
	if h.phase != gcIdle {
		panic("heap: allocation during collection")
	}
	if typ == nil {
		return ref.Nil, cerrors.Newf("allocation of %d bytes has no type", size)
	}
	if size <= 0 {
		return ref.Nil, cerrors.Newf("allocation size %d must be positive", size)
	}

	blocks := vmheap.DivideRoundingUp(size, h.blockSize)

	head, ok := h.findFreeRun(blocks)
	if !ok {
		h.logger.Debug("Heap::Allocate failed, collecting",
			slog.Int("Size", size),
			slog.Int("Blocks", blocks))

		h.Collect()
		head, ok = h.findFreeRun(blocks)
	}
	if !ok {
		return ref.Nil, cerrors.Wrapf(OutOfMemoryError, "requested %d bytes (%d blocks of %d)", size, blocks, h.blockSize)
	}

	h.setBlockState(head, blockHead)
	if typ.Finalize != nil {
		h.states[head] |= blockFinalizeFlag
	}
	for block := head + 1; block < head+blocks; block++ {
		h.setBlockState(block, blockTail)
	}

	h.objects.Put(head, &objectInfo{
		typ:    typ,
		size:   size,
		blocks: blocks,
	})

	run := h.runBytes(head, blocks)
	for i := range run {
		run[i] = 0
	}
	if vmheap.DebugMargin > 0 && size+vmheap.DebugMargin <= len(run) {
		vmheap.WriteMagicValue(run, size)
	}

	vmheap.DebugValidate(h)

	return ref.MakeObject(head), nil
}

// findFreeRun performs a deterministic first-fit scan of the state table
// for a run of contiguous free blocks of the requested length, returning
// the index of the first block in the run.
func (h *Heap) findFreeRun(blocks int) (int, bool) {
	var runStart, runLen int
	for block := 0; block < h.blockCount; block++ {
		if h.blockValue(block) != blockFree {
			runLen = 0
			continue
		}

		if runLen == 0 {
			runStart = block
		}
		runLen++
		if runLen == blocks {
			return runStart, true
		}
	}
	return 0, false
}

// freeRun returns the run whose head is the given block to the free state
// and drops its object record. Only the sweep phase and Release reach
// this- there is no public block-level free.
func (h *Heap) freeRun(head int) int {
	blocks := h.runLength(head)
	for block := head; block < head+blocks; block++ {
		h.states[block] = blockFree
	}
	h.objects.Delete(head)
	return blocks
}

// Release immediately finalizes (if applicable) and frees the referenced
// object, bypassing the collector. It exists for resources the embedding
// runtime retires deterministically; ordinary objects should simply be
// dropped and left to a collection cycle. The caller is responsible for
// ensuring no live references to the object remain.
func (h *Heap) Release(r ref.Ref) error {
	if h.phase != gcIdle {
		panic("heap: release during collection")
	}

	head, info, err := h.object(r)
	if err != nil {
		return err
	}

	if info.typ.Finalize != nil {
		info.typ.Finalize(h.payloadBytes(head, info))
	}
	h.freeRun(head)

	vmheap.DebugValidate(h)
	return nil
}

// object resolves an object reference to its head block and record.
func (h *Heap) object(r ref.Ref) (int, *objectInfo, error) {
	if r.Kind() != ref.KindObject {
		return 0, nil, cerrors.Newf("%s ref does not refer to a heap object", r.Kind())
	}

	head := r.Block()
	if head >= h.blockCount {
		return 0, nil, cerrors.Newf("block %d is outside this %d-block heap", head, h.blockCount)
	}

	info, ok := h.objects.Get(head)
	if !ok {
		return 0, nil, cerrors.Newf("block %d does not hold a live object", head)
	}
	return head, info, nil
}

func (h *Heap) runBytes(head, blocks int) []byte {
	start := head * h.blockSize
	return h.arena[start : start+blocks*h.blockSize]
}

func (h *Heap) payloadBytes(head int, info *objectInfo) []byte {
	start := head * h.blockSize
	return h.arena[start : start+info.size]
}

// Bytes returns the referenced object's payload. The slice aliases heap
// storage: it remains valid until the object is reclaimed, and writes
// through it are visible to the object's tracer and finalizer.
func (h *Heap) Bytes(r ref.Ref) ([]byte, error) {
	head, info, err := h.object(r)
	if err != nil {
		return nil, err
	}
	return h.payloadBytes(head, info), nil
}

// TypeOf returns the referenced object's type descriptor.
func (h *Heap) TypeOf(r ref.Ref) (*TypeInfo, error) {
	_, info, err := h.object(r)
	if err != nil {
		return nil, err
	}
	return info.typ, nil
}

// PayloadWords returns the number of stored references the referenced
// object's payload can hold.
func (h *Heap) PayloadWords(r ref.Ref) (int, error) {
	_, info, err := h.object(r)
	if err != nil {
		return 0, err
	}
	return info.size / RefWordSize, nil
}

// SetWord stores a tagged reference into the payload word at the given
// index. Payload words are what the stock TraceWords tracer reports to the
// collector.
func (h *Heap) SetWord(r ref.Ref, index int, value ref.Ref) error {
	head, info, err := h.object(r)
	if err != nil {
		return err
	}
	if index < 0 || (index+1)*RefWordSize > info.size {
		return cerrors.Newf("word %d is outside the object's %d-byte payload", index, info.size)
	}

	binary.LittleEndian.PutUint64(h.payloadBytes(head, info)[index*RefWordSize:], uint64(value))
	return nil
}

// Word loads the tagged reference stored in the payload word at the given
// index.
func (h *Heap) Word(r ref.Ref, index int) (ref.Ref, error) {
	head, info, err := h.object(r)
	if err != nil {
		return ref.Nil, err
	}
	if index < 0 || (index+1)*RefWordSize > info.size {
		return ref.Nil, cerrors.Newf("word %d is outside the object's %d-byte payload", index, info.size)
	}

	return ref.Ref(binary.LittleEndian.Uint64(h.payloadBytes(head, info)[index*RefWordSize:])), nil
}

// CheckCorruption verifies that the canary markers written after each
// object payload are intact. Markers are only written when vmheap is built
// with the debug_vm_heap build tag; without it this method cannot detect
// anything. It is expensive regardless and belongs in diagnostic runs, not
// steady-state operation.
func (h *Heap) CheckCorruption() error {
	var corrupt error
	h.objects.Iter(func(head int, info *objectInfo) bool {
		run := h.runBytes(head, info.blocks)
		if info.size+vmheap.DebugMargin <= len(run) && !vmheap.ValidateMagicValue(run, info.size) {
			corrupt = cerrors.Newf("canary after object at block %d has been overwritten", head)
			return true
		}
		return false
	})
	return corrupt
}
