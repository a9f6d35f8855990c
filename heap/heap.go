package heap

import (
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/halfmoor/vmheap"
	"github.com/halfmoor/vmheap/ref"
)

// OutOfMemoryError is the error returned from Allocate when no sufficiently
// long run of free blocks exists, even after a collection cycle has run.
var OutOfMemoryError error = errors.New("out of memory")

const (
	// DefaultBlockSize is the block size used when Config.BlockSize is 0
	DefaultBlockSize = 32
	// MinBlockSize is the smallest permitted block size- one stored reference
	MinBlockSize = RefWordSize
)

// Config controls the dimensions and diagnostics of a Heap.
type Config struct {
	// BlockSize is the size in bytes of a single heap block. It must be a
	// power of two no smaller than MinBlockSize. Defaults to DefaultBlockSize.
	BlockSize int
	// BlockCount is the number of blocks the heap owns. Required.
	BlockCount int
	// Logger receives debug output for allocation and collection activity.
	// May be nil.
	Logger *slog.Logger
}

// Heap is a fixed pool of fixed-size blocks with a side table tracking each
// block's state, plus a mark-and-sweep collector that reclaims runs of
// blocks belonging to unreachable objects.
//
// A Heap is not safe for concurrent use: the embedding runtime must
// serialize every allocation, payload access, and collection. No operation
// suspends partway- a collection marks fully and then sweeps fully before
// returning.
type Heap struct {
	blockSize  int
	blockCount int
	arena      []byte
	states     []blockState

	// objects maps each head block index to its object record
	objects *swiss.Map[int, *objectInfo]

	phase          gcPhase
	rootProviders  []rootRegistration
	nextProviderID int
	workList       []int

	logger *slog.Logger
}

// objectInfo is the per-object metadata record, keyed by head block.
type objectInfo struct {
	typ    *TypeInfo
	size   int // requested payload size in bytes
	blocks int // run length
}

// New creates a Heap from the provided Config. It returns an error when the
// configuration cannot support the tagged reference scheme: the block size
// must be a power of two of at least MinBlockSize bytes, and the block
// count must be positive and representable in an object reference's
// payload bits.
func New(config Config) (*Heap, error) {
	blockSize := config.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	if blockSize < MinBlockSize {
		return nil, cerrors.Newf("block size %d is smaller than the minimum %d", blockSize, MinBlockSize)
	}
	err := vmheap.CheckPow2(blockSize, "block size")
	if err != nil {
		return nil, err
	}

	if config.BlockCount <= 0 {
		return nil, cerrors.Newf("block count %d must be positive", config.BlockCount)
	}
	if uint64(config.BlockCount-1) > ref.MaxBlockIndex {
		return nil, cerrors.Newf("block count %d exceeds the %d blocks addressable by tagged references", config.BlockCount, ref.MaxBlockIndex+1)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	return &Heap{
		blockSize:  blockSize,
		blockCount: config.BlockCount,
		arena:      make([]byte, blockSize*config.BlockCount),
		states:     make([]blockState, config.BlockCount),
		objects:    swiss.NewMap[int, *objectInfo](uint32(config.BlockCount)),
		phase:      gcIdle,
		logger:     logger,
	}, nil
}

// BlockSize returns the size in bytes of a single block.
func (h *Heap) BlockSize() int { return h.blockSize }

// BlockCount returns the number of blocks the heap owns.
func (h *Heap) BlockCount() int { return h.blockCount }

// Size returns the total size of the heap in bytes.
func (h *Heap) Size() int { return h.blockSize * h.blockCount }

// AllocationCount returns the number of live objects in the heap.
func (h *Heap) AllocationCount() int { return h.objects.Count() }

// IsEmpty returns true if the heap has no live objects.
func (h *Heap) IsEmpty() bool { return h.objects.Count() == 0 }

// FreeBlockCount returns the number of blocks not occupied by any object.
func (h *Heap) FreeBlockCount() int {
	var free int
	for block := 0; block < h.blockCount; block++ {
		if h.blockValue(block) == blockFree {
			free++
		}
	}
	return free
}

// BlockOf converts a byte offset within the heap's storage into the index
// of the block containing it. It returns an error for offsets outside the
// heap extent- callers tracing interior pointers must confine them to the
// heap before converting.
func (h *Heap) BlockOf(offset int) (int, error) {
	if offset < 0 || offset >= len(h.arena) {
		return 0, cerrors.Newf("offset %d is outside the heap's %d bytes", offset, len(h.arena))
	}
	return offset / h.blockSize, nil
}

// Validate performs internal consistency checks on the block state table
// and object records. When the heap is functioning correctly it should not
// be possible for this method to return an error.
func (h *Heap) Validate() error {
	if len(h.states) != h.blockCount {
		return errors.Errorf("state table has %d entries for %d blocks", len(h.states), h.blockCount)
	}

	var liveBlocks, liveObjects int
	for block := 0; block < h.blockCount; block++ {
		state := h.blockValue(block)

		switch state {
		case blockTail:
			if block == 0 {
				return errors.New("block 0 is a tail block with no preceding head")
			}
			prev := h.blockValue(block - 1)
			if prev == blockFree {
				return errors.Errorf("block %d is a tail block but block %d is free", block, block-1)
			}
			liveBlocks++

		case blockHead, blockMark:
			if state == blockMark && h.phase == gcIdle {
				return errors.Errorf("block %d is marked but no collection is in progress", block)
			}

			info, ok := h.objects.Get(block)
			if !ok {
				return errors.Errorf("block %d is a head block with no object record", block)
			}
			if run := h.runLength(block); run != info.blocks {
				return errors.Errorf("object at block %d spans %d blocks but its record claims %d", block, run, info.blocks)
			}
			if info.typ == nil {
				return errors.Errorf("object at block %d has a nil type", block)
			}
			if maxSize := info.blocks * h.blockSize; info.size > maxSize {
				return errors.Errorf("object at block %d has payload size %d exceeding its %d-block run", block, info.size, info.blocks)
			}
			if h.states[block].hasFinalizer() != (info.typ.Finalize != nil) {
				return errors.Errorf("object at block %d disagrees with its state table entry about finalization", block)
			}
			liveBlocks++
			liveObjects++

		case blockFree:
			if h.states[block].hasFinalizer() {
				return errors.Errorf("free block %d has the finalizer flag set", block)
			}
		}
	}

	if liveObjects != h.objects.Count() {
		return errors.Errorf("state table holds %d head blocks but there are %d object records", liveObjects, h.objects.Count())
	}
	if liveBlocks+h.FreeBlockCount() != h.blockCount {
		return errors.Errorf("live blocks %d and free blocks %d do not sum to %d", liveBlocks, h.FreeBlockCount(), h.blockCount)
	}

	return nil
}

var _ vmheap.Validatable = (*Heap)(nil)
