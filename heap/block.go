package heap

// blockState is the per-block entry in the heap's state table. The low two
// bits hold the allocation state; blockMark sets both bits, so a marked
// block is still recognizably a head. Bit two is the finalizer flag and is
// only meaningful on head blocks.
type blockState uint8

const (
	blockFree blockState = 0
	blockHead blockState = 1
	blockTail blockState = 2
	blockMark blockState = 3

	blockStateMask    blockState = 3
	blockFinalizeFlag blockState = 4
)

var blockStateMapping = map[blockState]string{
	blockFree: "free",
	blockHead: "head",
	blockTail: "tail",
	blockMark: "mark",
}

func (s blockState) String() string {
	return blockStateMapping[s&blockStateMask]
}

func (s blockState) state() blockState {
	return s & blockStateMask
}

func (s blockState) isHead() bool {
	return s&blockHead != 0
}

func (s blockState) hasFinalizer() bool {
	return s&blockFinalizeFlag != 0
}

func (h *Heap) blockValue(block int) blockState {
	return h.states[block].state()
}

// setBlockState replaces the allocation state of a block, leaving the
// finalizer flag untouched.
func (h *Heap) setBlockState(block int, state blockState) {
	h.states[block] = h.states[block]&^blockStateMask | state
}

// findHead walks backward over tail blocks until it reaches the head of the
// run containing block. Calling it on a free block is a caller error.
func (h *Heap) findHead(block int) int {
	for h.blockValue(block) == blockTail {
		block--
	}
	return block
}

// findNext returns the first block just past the end of the run starting at
// block. This may or may not be the head of another object.
func (h *Heap) findNext(block int) int {
	if h.blockValue(block).isHead() {
		block++
	}
	for block < h.blockCount && h.blockValue(block) == blockTail {
		block++
	}
	return block
}

// runLength returns the number of blocks in the run whose head is block.
func (h *Heap) runLength(block int) int {
	return h.findNext(block) - block
}
