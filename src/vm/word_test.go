package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripType7(t *testing.T) {
	ins, err := NewInstruction(Add).
		Reg(GPRClass, GPRs0, true).
		Reg(GPRClass, GPRa0, false).
		Reg(GPRClass, GPRa0+1, false).
		Build()
	require.NoError(t, err)

	w, imm := Encode(ins)
	got := Decode(w, imm)

	require.Equal(t, ins.Op, got.Op)
	require.Equal(t, ins.NumRegs, got.NumRegs)
	for i := 0; i < ins.NumRegs; i++ {
		require.Equal(t, ins.Regs[i], got.Regs[i])
	}
}

func TestEncodeDecodeRoundTripType6WithFloatImm(t *testing.T) {
	ins, err := NewInstruction(Faddi).
		Reg(FPRClass, FPRs0, true).
		Reg(FPRClass, FPRa0, false).
		ImmFloat(3.5).
		Build()
	require.NoError(t, err)

	w, imm := Encode(ins)
	got := Decode(w, imm)

	require.Equal(t, ins.Op, got.Op)
	require.True(t, got.ImmIsFloat)
	require.Equal(t, ins.Imm, got.Imm)
}

func TestEncodeDecodeRoundTripType1ImmediateOnly(t *testing.T) {
	ins, err := NewInstruction(Jal).Imm(12345).Build()
	require.NoError(t, err)

	w, imm := Encode(ins)
	got := Decode(w, imm)

	require.Equal(t, Jal, got.Op)
	require.Equal(t, 0, got.NumRegs)
	require.True(t, got.HasImm)
	require.EqualValues(t, 12345, got.Imm)
}

func TestBuilderRejectsRegisterOperandOnType0(t *testing.T) {
	_, err := NewInstruction(Term).Reg(GPRClass, GPRZero, false).Build()
	require.Error(t, err)
}

func TestBuilderRejectsThirdRegisterOnType6(t *testing.T) {
	b := NewInstruction(Addi).
		Reg(GPRClass, GPRs0, true).
		Reg(GPRClass, GPRa0, false)
	_, err := b.Reg(GPRClass, GPRa0+1, false).Build()
	require.Error(t, err)
}

func TestBuilderRejectsFloatImmOnNonType6(t *testing.T) {
	_, err := NewInstruction(Add).
		Reg(GPRClass, GPRs0, true).
		Reg(GPRClass, GPRa0, false).
		Reg(GPRClass, GPRa0+1, false).
		ImmFloat(1.0).
		Build()
	require.Error(t, err)
}

func TestAssignedFlagSurvivesRoundTrip(t *testing.T) {
	ins, err := NewInstruction(Ld32).
		Reg(GPRClass, GPRs0, true).
		Reg(GPRClass, GPRsp, false).
		Imm(8).
		Build()
	require.NoError(t, err)
	w, imm := Encode(ins)
	got := Decode(w, imm)
	require.True(t, got.Regs[0].Assigned)
	require.False(t, got.Regs[1].Assigned)
}
