package ref_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halfmoor/vmheap/ref"
)

func TestZeroValueIsNil(t *testing.T) {
	var r ref.Ref
	require.Equal(t, ref.KindNil, r.Kind())
	require.True(t, r.IsNil())
	require.Equal(t, ref.Nil, r)
}

func TestSmallIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, ref.MaxSmallInt, ref.MinSmallInt} {
		r := ref.MakeSmallInt(n)
		require.Equal(t, ref.KindSmallInt, r.Kind())
		require.Equal(t, n, r.SmallInt())
		require.False(t, r.IsNil())
	}
}

func TestSmallIntOutOfRange(t *testing.T) {
	require.Panics(t, func() {
		ref.MakeSmallInt(ref.MaxSmallInt + 1)
	})
	require.Panics(t, func() {
		ref.MakeSmallInt(ref.MinSmallInt - 1)
	})
}

func TestInternedStringRoundTrip(t *testing.T) {
	for _, index := range []int{0, 1, 7, 1 << 20} {
		r := ref.MakeInternedString(index)
		require.Equal(t, ref.KindInternedString, r.Kind())
		require.Equal(t, index, r.PoolIndex())
	}
}

func TestObjectRoundTrip(t *testing.T) {
	for _, block := range []int{0, 1, 15, 1 << 30} {
		r := ref.MakeObject(block)
		require.Equal(t, ref.KindObject, r.Kind())
		require.Equal(t, block, r.Block())
	}
}

func TestObjectBlockZeroIsNotNil(t *testing.T) {
	r := ref.MakeObject(0)
	require.False(t, r.IsNil())
	require.NotEqual(t, ref.Nil, r)
}

func TestClassifyBeforeUse(t *testing.T) {
	require.Panics(t, func() {
		ref.MakeSmallInt(3).Block()
	})
	require.Panics(t, func() {
		ref.MakeObject(3).SmallInt()
	})
	require.Panics(t, func() {
		ref.MakeInternedString(3).Block()
	})
	require.Panics(t, func() {
		ref.Nil.PoolIndex()
	})
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "SmallInt", ref.KindSmallInt.String())
	require.Equal(t, "Object", ref.KindObject.String())
	require.Equal(t, "InternedString(9)", ref.MakeInternedString(9).String())
	require.Equal(t, "Nil", ref.Nil.String())
}
