package vmheap

import "math"

// Statistics is a small set of basic metrics describing the occupancy of a
// managed heap: how many blocks it owns, how many live objects it is holding,
// and the byte totals for each.
type Statistics struct {
	BlockCount  int
	ObjectCount int
	BlockBytes  int
	ObjectBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.ObjectCount = 0
	s.BlockBytes = 0
	s.ObjectBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.ObjectCount += other.ObjectCount
	s.BlockBytes += other.BlockBytes
	s.ObjectBytes += other.ObjectBytes
}

// DetailedStatistics extends Statistics with free-range metrics and size
// extrema. A "free range" is a maximal run of contiguous free blocks.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	ObjectSizeMin    int
	ObjectSizeMax    int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.ObjectSizeMin = math.MaxInt
	s.ObjectSizeMax = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddObject(size int) {
	s.ObjectCount++
	s.ObjectBytes += size

	if size < s.ObjectSizeMin {
		s.ObjectSizeMin = size
	}

	if size > s.ObjectSizeMax {
		s.ObjectSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}

	if other.ObjectSizeMin < s.ObjectSizeMin {
		s.ObjectSizeMin = other.ObjectSizeMin
	}

	if other.ObjectSizeMax > s.ObjectSizeMax {
		s.ObjectSizeMax = other.ObjectSizeMax
	}
}
