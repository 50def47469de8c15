package modules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/ffi"
	"tsn/src/types"
)

func TestDataSlotOffsetsAreStable(t *testing.T) {
	tr := types.NewRegistry()
	fr := ffi.NewRegistry()
	m := NewModule("main.tsn", tr, fr)

	i32 := &types.Type{FQN: "i32", ID: types.HashFQN("i32"), Meta: types.Meta{Size: 4}}
	str := &types.Type{FQN: "String", ID: types.HashFQN("String"), Meta: types.Meta{Size: 16}}

	a := m.DefineLocal("a", i32, "main.tsn:1:1")
	b := m.DefineLocal("b", str, "main.tsn:2:1")

	infoA, err := m.GetDataInfo(a)
	require.NoError(t, err)
	infoB, err := m.GetDataInfo(b)
	require.NoError(t, err)

	require.EqualValues(t, 0, infoA.Offset)
	require.EqualValues(t, 4, infoB.Offset)
	require.EqualValues(t, 20, m.DataSize())

	// Re-fetching by id is stable.
	infoA2, err := m.GetDataInfo(a)
	require.NoError(t, err)
	require.Equal(t, infoA.Offset, infoA2.Offset)
}

func TestModuleInitIsIdempotentFlag(t *testing.T) {
	tr := types.NewRegistry()
	fr := ffi.NewRegistry()
	m := NewModule("main.tsn", tr, fr)

	require.False(t, m.Initialized())
	m.MarkInitialized()
	require.True(t, m.Initialized())
}
