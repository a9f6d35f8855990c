package heap

import (
	"encoding/binary"

	"github.com/halfmoor/vmheap/ref"
)

// TraceFunc reports every tagged reference a payload directly contains by
// calling visit once per reference. The collector uses it to follow the
// object graph during the mark phase. Implementations must report all
// embedded references- a reference the tracer fails to report is reclaimed
// out from under the object.
type TraceFunc func(payload []byte, visit func(ref.Ref))

// FinalizeFunc is invoked exactly once, during the sweep phase, just before
// the object's blocks are reclaimed. Finalizers may release resources that
// live outside the heap, but must not allocate on the heap or trigger a
// collection- the heap panics on either.
type FinalizeFunc func(payload []byte)

// TypeInfo describes a heap object's dynamic type. Every allocation names
// one; an object's type is never nil while the object is live.
type TypeInfo struct {
	// Name identifies the type in logs and stat dumps
	Name string
	// Trace reports the references the payload contains. Leave nil for
	// types whose payloads never embed references.
	Trace TraceFunc
	// Finalize, when non-nil, marks the object as requiring finalization
	// before its blocks are reclaimed.
	Finalize FinalizeFunc
}

// RefWordSize is the number of payload bytes occupied by one stored Ref.
const RefWordSize = 8

// TraceWords is a stock TraceFunc for objects whose payload is nothing but
// an array of stored references.
func TraceWords(payload []byte, visit func(ref.Ref)) {
	for i := 0; i+RefWordSize <= len(payload); i += RefWordSize {
		visit(ref.Ref(binary.LittleEndian.Uint64(payload[i:])))
	}
}
