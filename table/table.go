package table

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// TableFullError is the error returned when a rehash failed to make room
// for an insertion. Because every rehash doubles the backing array, seeing
// this error means an internal invariant has been violated; it is not a
// recoverable condition.
var TableFullError error = errors.New("table has no free slot after rehash")

const (
	// MinCapacity is the capacity a Table starts with on its first insert
	MinCapacity = 8
	// growthFactor is the multiplier applied to capacity on rehash
	growthFactor = 2
	// Rehash triggers when occupied plus tombstone slots would exceed
	// loadNumerator/loadDenominator of capacity.
	loadNumerator   = 2
	loadDenominator = 3
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

type slot[V any] struct {
	hash  uint64
	value V
	state slotState
}

// Table is an open-addressed hash table with linear probing. The caller
// supplies hashes and equality explicitly, which lets one table serve both
// set-like and map-like uses and keeps probe sequences fully deterministic:
// a key's probe order depends only on its hash and the current capacity.
//
// Slot indices returned from Lookup and FindOrInsert stay valid until the
// next insertion, since any insertion may trigger a rehash into a larger
// backing array. A Table is not safe for concurrent use.
type Table[V any] struct {
	slots      []slot[V]
	used       int
	tombstones int
}

// New creates a Table with capacity for at least the provided number of
// entries. A capacity of 0 defers allocation to the first insert.
func New[V any](capacity int) *Table[V] {
	t := &Table[V]{}
	if capacity > 0 {
		if capacity < MinCapacity {
			capacity = MinCapacity
		}
		t.slots = make([]slot[V], capacity)
	}
	return t
}

// Used returns the number of live entries in the table.
func (t *Table[V]) Used() int { return t.used }

// Capacity returns the current size of the backing array.
func (t *Table[V]) Capacity() int { return len(t.slots) }

// At returns the value stored in an occupied slot. It panics if the slot
// is not occupied- slot indices must come from Lookup or FindOrInsert and
// must not be cached across insertions.
func (t *Table[V]) At(index int) V {
	if t.slots[index].state != slotOccupied {
		panic("table: At called on an unoccupied slot")
	}
	return t.slots[index].value
}

// Lookup probes for an entry with the provided hash for which equals
// returns true. It reports the slot index holding the entry, or false when
// no such entry exists. The table is not modified.
func (t *Table[V]) Lookup(hash uint64, equals func(V) bool) (int, bool) {
	if len(t.slots) == 0 {
		return 0, false
	}

	start := int(hash % uint64(len(t.slots)))
	for i := 0; i < len(t.slots); i++ {
		pos := (start + i) % len(t.slots)
		s := &t.slots[pos]

		switch s.state {
		case slotEmpty:
			return 0, false
		case slotOccupied:
			if s.hash == hash && equals(s.value) {
				return pos, true
			}
		}
		// Tombstones do not stop the probe.
	}
	return 0, false
}

// FindOrInsert probes for an entry with the provided hash for which equals
// returns true. When one exists its slot index is returned with inserted
// false and the table is unchanged. Otherwise create is called to produce
// the value, which is stored either in the first tombstone encountered
// along the probe sequence or in the empty slot that terminated it; its
// slot index is returned with inserted true.
//
// Insertion grows and rehashes the backing array whenever occupancy would
// cross the load threshold, so repeated insertion always terminates with a
// valid slot rather than an endlessly colliding probe.
func (t *Table[V]) FindOrInsert(hash uint64, equals func(V) bool, create func() V) (int, bool, error) {
	if len(t.slots) == 0 {
		t.slots = make([]slot[V], MinCapacity)
	}

	pos, found, freeSlot := t.probe(hash, equals)
	if found {
		return pos, false, nil
	}

	if (t.used+t.tombstones+1)*loadDenominator > len(t.slots)*loadNumerator {
		err := t.rehash(len(t.slots) * growthFactor)
		if err != nil {
			return 0, false, err
		}

		// Probe again: the old indices mean nothing against the new capacity.
		_, _, freeSlot = t.probe(hash, equals)
	}

	if freeSlot < 0 {
		return 0, false, cerrors.Wrapf(TableFullError, "no slot for hash %d at capacity %d", hash, len(t.slots))
	}

	if t.slots[freeSlot].state == slotTombstone {
		t.tombstones--
	}
	t.slots[freeSlot] = slot[V]{
		hash:  hash,
		value: create(),
		state: slotOccupied,
	}
	t.used++

	return freeSlot, true, nil
}

// probe runs the shared linear probe sequence. It reports the slot holding
// a matching entry (found true), and independently the best slot available
// for inserting the key: the first tombstone seen, or else the empty slot
// that terminated the probe. freeSlot is -1 when every slot was occupied
// or tombstoned and no match was found.
func (t *Table[V]) probe(hash uint64, equals func(V) bool) (pos int, found bool, freeSlot int) {
	freeSlot = -1

	start := int(hash % uint64(len(t.slots)))
	for i := 0; i < len(t.slots); i++ {
		pos := (start + i) % len(t.slots)
		s := &t.slots[pos]

		switch s.state {
		case slotEmpty:
			if freeSlot < 0 {
				freeSlot = pos
			}
			return 0, false, freeSlot
		case slotTombstone:
			if freeSlot < 0 {
				freeSlot = pos
			}
		case slotOccupied:
			if s.hash == hash && equals(s.value) {
				return pos, true, freeSlot
			}
		}
	}
	return 0, false, freeSlot
}

// Delete turns an occupied slot into a tombstone. The tombstone keeps
// longer probe sequences that pass through this slot intact; the slot is
// reused by a later insertion or dropped by the next rehash.
func (t *Table[V]) Delete(index int) {
	if t.slots[index].state != slotOccupied {
		panic("table: Delete called on an unoccupied slot")
	}
	var zero V
	t.slots[index] = slot[V]{value: zero, state: slotTombstone}
	t.used--
	t.tombstones++
}

// ForEach calls the provided callback for every live entry, in slot order.
func (t *Table[V]) ForEach(handleEntry func(index int, hash uint64, value V)) {
	for i := range t.slots {
		if t.slots[i].state == slotOccupied {
			handleEntry(i, t.slots[i].hash, t.slots[i].value)
		}
	}
}

// rehash re-inserts every live entry into a fresh backing array of the
// provided capacity, dropping tombstones. Previously returned slot indices
// are invalidated.
func (t *Table[V]) rehash(newCapacity int) error {
	oldSlots := t.slots
	t.slots = make([]slot[V], newCapacity)
	t.tombstones = 0

	for i := range oldSlots {
		if oldSlots[i].state != slotOccupied {
			continue
		}

		pos, ok := t.insertSlot(oldSlots[i].hash)
		if !ok {
			return cerrors.Wrapf(TableFullError, "rehash to capacity %d could not place hash %d", newCapacity, oldSlots[i].hash)
		}
		t.slots[pos] = oldSlots[i]
	}
	return nil
}

// insertSlot finds the first empty slot along the probe sequence for hash.
// It is only used against freshly built backing arrays, which hold no
// tombstones.
func (t *Table[V]) insertSlot(hash uint64) (int, bool) {
	start := int(hash % uint64(len(t.slots)))
	for i := 0; i < len(t.slots); i++ {
		pos := (start + i) % len(t.slots)
		if t.slots[pos].state == slotEmpty {
			return pos, true
		}
	}
	return 0, false
}

// Validate performs internal consistency checks on the slot accounting.
// When the table is functioning correctly it should not be possible for
// this method to return an error.
func (t *Table[V]) Validate() error {
	var used, tombstones int
	for i := range t.slots {
		switch t.slots[i].state {
		case slotOccupied:
			used++
		case slotTombstone:
			tombstones++
		}
	}

	if used != t.used {
		return errors.Errorf("counted %d occupied slots but the table claims %d", used, t.used)
	}
	if tombstones != t.tombstones {
		return errors.Errorf("counted %d tombstones but the table claims %d", tombstones, t.tombstones)
	}
	if len(t.slots) > 0 && (t.used+t.tombstones)*loadDenominator > len(t.slots)*loadNumerator+loadDenominator {
		return errors.Errorf("occupancy %d exceeds the load threshold for capacity %d", t.used+t.tombstones, len(t.slots))
	}
	return nil
}
