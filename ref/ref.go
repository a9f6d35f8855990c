package ref

import (
	"fmt"
)

// Ref represents a single runtime reference packed into one machine word.
//
// The low 3 bits of the word select the kind of reference; the remaining
// 61 bits carry the payload:
//   - Nil: the zero word. The zero value of Ref is the nil reference.
//   - SmallInt: signed 61-bit integer stored inline, no heap storage.
//   - InternedString: index into a string pool, no heap storage.
//   - Object: head-block index into the owning heap's block table.
//
// Consumers must classify a Ref with Kind before touching its payload;
// in particular the collector never resolves a word against the heap
// without classifying it first. SmallInt and InternedString refs have no
// heap address and are not traceable.
type Ref uint64

const (
	tagBits uint64 = 3
	tagMask uint64 = (1 << tagBits) - 1

	tagNil            uint64 = 0
	tagSmallInt       uint64 = 1
	tagInternedString uint64 = 2
	tagObject         uint64 = 3
)

// Nil is the canonical empty reference.
const Nil Ref = 0

const (
	// MaxSmallInt is the largest integer that can be stored inline in a Ref
	MaxSmallInt int64 = 1<<60 - 1
	// MinSmallInt is the smallest integer that can be stored inline in a Ref
	MinSmallInt int64 = -(1 << 60)

	// MaxBlockIndex is the largest heap block index an Object ref can carry
	// once the tag bits are carved out of the word. Heaps must be configured
	// with a block count no larger than MaxBlockIndex+1; this is validated
	// when the heap is created, not per allocation.
	MaxBlockIndex uint64 = 1<<(64-tagBits) - 1
)

// Kind identifies which of the reference kinds a Ref word encodes.
type Kind uint32

const (
	// KindNil indicates the empty reference
	KindNil Kind = iota
	// KindSmallInt indicates an inline signed integer with no heap storage
	KindSmallInt
	// KindInternedString indicates an index into a string pool with no heap storage
	KindInternedString
	// KindObject indicates a heap object identified by its head block index
	KindObject
)

var kindMapping = map[Kind]string{
	KindNil:            "Nil",
	KindSmallInt:       "SmallInt",
	KindInternedString: "InternedString",
	KindObject:         "Object",
}

func (k Kind) String() string {
	return kindMapping[k]
}

// MakeSmallInt packs a signed integer into an inline Ref. It panics if n is
// outside [MinSmallInt, MaxSmallInt]- the embedding compiler is responsible
// for promoting out-of-range integers to heap objects before reaching here.
func MakeSmallInt(n int64) Ref {
	if n < MinSmallInt || n > MaxSmallInt {
		panic(fmt.Sprintf("ref: small int %d out of range", n))
	}
	return Ref(uint64(n)<<tagBits | tagSmallInt)
}

// MakeInternedString packs a string pool index into a Ref.
func MakeInternedString(poolIndex int) Ref {
	if poolIndex < 0 {
		panic(fmt.Sprintf("ref: negative pool index %d", poolIndex))
	}
	return Ref(uint64(poolIndex)<<tagBits | tagInternedString)
}

// MakeObject packs a head block index into a Ref. The index must have been
// produced by a heap whose block count was validated against MaxBlockIndex.
func MakeObject(block int) Ref {
	if block < 0 {
		panic(fmt.Sprintf("ref: negative block index %d", block))
	}
	return Ref(uint64(block)<<tagBits | tagObject)
}

// Kind classifies the word. This is the single entry point used to decide
// how a Ref may be interpreted- never guess the kind from the payload.
func (r Ref) Kind() Kind {
	switch uint64(r) & tagMask {
	case tagSmallInt:
		return KindSmallInt
	case tagInternedString:
		return KindInternedString
	case tagObject:
		return KindObject
	default:
		return KindNil
	}
}

// IsNil returns true for the empty reference.
func (r Ref) IsNil() bool {
	return r == Nil
}

// SmallInt unpacks the inline integer payload. It panics if the Ref is not
// a SmallInt.
func (r Ref) SmallInt() int64 {
	if r.Kind() != KindSmallInt {
		panic(fmt.Sprintf("ref: SmallInt called on %s ref", r.Kind()))
	}
	// Arithmetic shift sign-extends the 61-bit payload.
	return int64(r) >> tagBits
}

// PoolIndex unpacks the string pool index payload. It panics if the Ref is
// not an InternedString.
func (r Ref) PoolIndex() int {
	if r.Kind() != KindInternedString {
		panic(fmt.Sprintf("ref: PoolIndex called on %s ref", r.Kind()))
	}
	return int(uint64(r) >> tagBits)
}

// Block unpacks the head block index payload. It panics if the Ref is not
// an Object.
func (r Ref) Block() int {
	if r.Kind() != KindObject {
		panic(fmt.Sprintf("ref: Block called on %s ref", r.Kind()))
	}
	return int(uint64(r) >> tagBits)
}

func (r Ref) String() string {
	switch r.Kind() {
	case KindSmallInt:
		return fmt.Sprintf("SmallInt(%d)", r.SmallInt())
	case KindInternedString:
		return fmt.Sprintf("InternedString(%d)", r.PoolIndex())
	case KindObject:
		return fmt.Sprintf("Object(block %d)", r.Block())
	default:
		return "Nil"
	}
}
