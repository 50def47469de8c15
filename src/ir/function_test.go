package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/types"
)

func i32() *types.Type {
	return &types.Type{FQN: "i32", ID: types.HashFQN("i32"), Kind: types.KindPlain, Meta: types.Meta{Size: 4, Primitive: true, Integral: true}}
}

func TestBuilderEmitAssignsFreshRegisters(t *testing.T) {
	fn := NewFunctionDef("add", &types.Type{Kind: types.KindFunction, Return: i32()})
	a := fn.ImmI(i32(), 1)
	b := fn.ImmI(i32(), 2)

	_, sum := fn.Emit(OpIAdd, i32(), a, b)
	require.Equal(t, ValReg, sum.Kind)
	require.Equal(t, 0, sum.Reg)

	_, sum2 := fn.Emit(OpIAdd, i32(), sum, b)
	require.Equal(t, 1, sum2.Reg)
	require.Equal(t, 2, fn.NumRegs())
}

func TestEmitPlacesResultAtDescriptorAssignedSlot(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction, Return: i32()})
	a := fn.ImmI(i32(), 10)
	b := fn.ImmI(i32(), 20)
	ref, result := fn.Emit(OpIAdd, i32(), a, b)

	ins := ref.At()
	require.Equal(t, result, ins.Operands[0])
	require.Equal(t, a, ins.Operands[1])
	require.Equal(t, b, ins.Operands[2])
}

func TestStoreHasNoAssignedResult(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction})
	dst := fn.Stack(i32(), "f.tsn:1:1", false)
	v := fn.ImmI(i32(), 5)
	ref := fn.EmitVoid(OpStore, dst, v, fn.ImmI(nil, 0))

	require.Equal(t, -1, Describe(ref.At().Op).Assigned)
	require.Panics(t, func() { ref.Result() })
}

func TestPromoteInsertsConversionOnlyWhenNeeded(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction})
	v := fn.ImmI(i32(), 7)

	same, err := fn.Promote(v, i32())
	require.NoError(t, err)
	require.Equal(t, v, same)
	require.Equal(t, 0, len(fn.Instructions()))

	f32 := &types.Type{FQN: "f32", ID: types.HashFQN("f32"), Meta: types.Meta{Size: 4}}
	converted, err := fn.Promote(v, f32)
	require.NoError(t, err)
	require.Equal(t, 1, len(fn.Instructions()))
	require.Equal(t, OpCvtIF, fn.Instructions()[0].Op)
	require.Equal(t, ValReg, converted.Kind)
}

func TestStackSlotsAccumulateInOrder(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction})
	fn.Stack(i32(), "f.tsn:1:1", false)
	fn.Stack(i32(), "f.tsn:2:1", true)

	slots := fn.StackSlots()
	require.Len(t, slots, 2)
	require.Equal(t, 0, slots[0].ID)
	require.Equal(t, 1, slots[1].ID)
	require.False(t, slots[0].Scoped)
	require.True(t, slots[1].Scoped)
}

func TestImplicitsAreDistinctAndStable(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction, Return: i32()})
	ectx := fn.Implicit(ImplicitECtx)
	fptr := fn.Implicit(ImplicitFPtr)
	ret := fn.Implicit(ImplicitRet)

	require.NotEqual(t, ectx, fptr)
	require.Equal(t, ImplicitECtx, ectx.Implicit)
	require.Equal(t, i32().FQN, ret.Type.FQN)
}

func TestOpcodeDescriptorTableCoversAllArithmeticFamilies(t *testing.T) {
	for _, op := range []Opcode{OpIAdd, OpUAdd, OpFAdd, OpDAdd, OpILt, OpFEq, OpShl, OpXor} {
		d := Describe(op)
		require.NotEmpty(t, d.Name)
		require.Equal(t, 0, d.Assigned)
		require.Equal(t, 3, d.OperandN)
	}
}

func TestLabelValuesAreMonotonic(t *testing.T) {
	fn := NewFunctionDef("f", &types.Type{Kind: types.KindFunction})
	l0 := fn.Label()
	l1 := fn.Label()
	require.Equal(t, 0, l0.Label)
	require.Equal(t, 1, l1.Label)
	require.Equal(t, 2, fn.NumLabels())
}
