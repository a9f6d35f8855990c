package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/halfmoor/vmheap"
	"github.com/halfmoor/vmheap/ref"
)

// VisitAllRegions calls the provided callback once for each live object and
// each maximal free range in the heap, in block order. The object ref is
// ref.Nil for free ranges. Offsets and sizes are in bytes; an object's size
// is its payload size, with any block-rounding slack folded into the
// region it occupies rather than reported as free.
func (h *Heap) VisitAllRegions(handleRegion func(r ref.Ref, offset int, size int, typ *TypeInfo, free bool) error) error {
	block := 0
	for block < h.blockCount {
		if h.blockValue(block) == blockFree {
			next := block
			for next < h.blockCount && h.blockValue(next) == blockFree {
				next++
			}
			err := handleRegion(ref.Nil, block*h.blockSize, (next-block)*h.blockSize, nil, true)
			if err != nil {
				return err
			}
			block = next
			continue
		}

		info, ok := h.objects.Get(block)
		if !ok {
			panic("heap: head block has no object record")
		}
		err := handleRegion(ref.MakeObject(block), block*h.blockSize, info.size, info.typ, false)
		if err != nil {
			return err
		}
		block += info.blocks
	}
	return nil
}

// AddStatistics sums this heap's occupancy into the provided statistics.
func (h *Heap) AddStatistics(stats *vmheap.Statistics) {
	stats.BlockCount += h.blockCount
	stats.BlockBytes += h.Size()

	h.objects.Iter(func(head int, info *objectInfo) bool {
		stats.ObjectCount++
		stats.ObjectBytes += info.size
		return false
	})
}

// AddDetailedStatistics sums this heap's occupancy, free ranges, and size
// extrema into the provided statistics.
func (h *Heap) AddDetailedStatistics(stats *vmheap.DetailedStatistics) {
	stats.BlockCount += h.blockCount
	stats.BlockBytes += h.Size()

	_ = h.VisitAllRegions(func(r ref.Ref, offset, size int, typ *TypeInfo, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddObject(size)
		}
		return nil
	})
}

// PrintDetailedMap writes a JSON description of the heap- totals followed
// by every object and free range in block order- to the provided writer.
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	var stats vmheap.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	objState.Name("BlockSize").Int(h.blockSize)
	objState.Name("TotalBytes").Int(h.Size())
	objState.Name("ObjectBytes").Int(stats.ObjectBytes)
	objState.Name("Objects").Int(stats.ObjectCount)
	objState.Name("FreeRanges").Int(stats.FreeRangeCount)

	arrayState := objState.Name("Regions").Array()
	defer arrayState.End()

	_ = h.VisitAllRegions(func(r ref.Ref, offset, size int, typ *TypeInfo, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("Free")
		} else {
			obj.Name("Type").String(typ.Name)
			obj.Name("Block").Int(r.Block())
		}
		return nil
	})
}
