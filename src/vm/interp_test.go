package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/ffi"
	"tsn/src/types"
)

func mustBuild(t *testing.T, b *Builder) Instruction {
	t.Helper()
	ins, err := b.Build()
	require.NoError(t, err)
	return ins
}

func TestRunPrimitiveArithmetic(t *testing.T) {
	funcs := ffi.NewRegistry()
	s := NewState(0, funcs)

	prog := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Addi).Reg(GPRClass, GPRs0, true).Reg(GPRClass, GPRZero, false).Imm(7)),
		mustBuild(t, NewInstruction(Addi).Reg(GPRClass, GPRs0+1, true).Reg(GPRClass, GPRZero, false).Imm(35)),
		mustBuild(t, NewInstruction(Add).Reg(GPRClass, GPRv0, true).Reg(GPRClass, GPRs0, false).Reg(GPRClass, GPRs0+1, false)),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[1] = prog

	err := s.Run(1)
	require.NoError(t, err)
	require.EqualValues(t, 42, s.Regs.Get(GPRClass, GPRv0))
}

func TestRunIntegerDivisionByZeroTraces(t *testing.T) {
	funcs := ffi.NewRegistry()
	s := NewState(0, funcs)
	prog := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Divi).Reg(GPRClass, GPRv0, true).Reg(GPRClass, GPRZero, false).Imm(0)),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[1] = prog

	err := s.Run(1)
	require.Error(t, err)
}

// TestRunHostFunctionCall exercises the full §4.8 host-call trampoline: the
// thunk must see the caller's a0/a1 arguments through the register file and
// its return value must land back in v0, not merely run.
func TestRunHostFunctionCall(t *testing.T) {
	funcs := ffi.NewRegistry()
	i32 := &types.Type{FQN: "i32", Meta: types.Meta{Size: 4, Integral: true}}
	sig := &types.Type{
		Kind:   types.KindFunction,
		Return: i32,
		Args: []types.Argument{
			{Kind: types.ArgContextPtr, Type: i32},
			{Kind: types.ArgValue, Type: i32},
			{Kind: types.ArgValue, Type: i32},
		},
	}
	var gotA, gotB uint64
	hostFn := &ffi.Function{
		ShortName: "hostFn",
		FQN:       "hostFn",
		Signature: sig,
		Thunk: func(retSlot interface{}, ctx interface{}, args []interface{}) {
			gotA = *args[0].(*uint64)
			gotB = *args[1].(*uint64)
			*retSlot.(*uint64) = gotA + gotB
		},
	}
	funcs.Add(hostFn)

	s := NewState(0, funcs)
	s.Regs.Set(GPRClass, GPRa0, 7)
	s.Regs.Set(GPRClass, GPRa0+1, 35)
	prog := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Hcall).Imm(uint64(hostFn.ID))),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[1] = prog

	err := s.Run(1)
	require.NoError(t, err)
	require.EqualValues(t, 7, gotA)
	require.EqualValues(t, 35, gotB)
	require.EqualValues(t, 42, s.Regs.Get(GPRClass, GPRv0))
}

// TestRunVectorAdd3 exercises the addv3 SIMD opcode (§C.1): each operand
// names the base register of a 3-lane float32 vector.
func TestRunVectorAdd3(t *testing.T) {
	funcs := ffi.NewRegistry()
	s := NewState(0, funcs)
	s.Regs.Set(FPRClass, FPRs0, uint64(math.Float32bits(1)))
	s.Regs.Set(FPRClass, FPRs0+1, uint64(math.Float32bits(2)))
	s.Regs.Set(FPRClass, FPRs0+2, uint64(math.Float32bits(3)))
	s.Regs.Set(FPRClass, FPRs0+3, uint64(math.Float32bits(10)))
	s.Regs.Set(FPRClass, FPRs0+4, uint64(math.Float32bits(20)))
	s.Regs.Set(FPRClass, FPRs0+5, uint64(math.Float32bits(30)))

	prog := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(AddV3).
			Reg(FPRClass, FPRv0, true).
			Reg(FPRClass, FPRs0, false).
			Reg(FPRClass, FPRs0+3, false)),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[1] = prog

	err := s.Run(1)
	require.NoError(t, err)
	require.Equal(t, float32(11), math.Float32frombits(uint32(s.Regs.Get(FPRClass, FPRv0))))
	require.Equal(t, float32(22), math.Float32frombits(uint32(s.Regs.Get(FPRClass, FPRv0+1))))
	require.Equal(t, float32(33), math.Float32frombits(uint32(s.Regs.Get(FPRClass, FPRv0+2))))
}

func TestRunScriptToScriptCall(t *testing.T) {
	funcs := ffi.NewRegistry()
	s := NewState(0, funcs)

	callee := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Addi).Reg(GPRClass, GPRv0, true).Reg(GPRClass, GPRZero, false).Imm(99)),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[2] = callee

	caller := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Jal).Imm(2)),
		mustBuild(t, NewInstruction(Ret)),
	}}
	s.Programs[1] = caller

	err := s.Run(1)
	require.NoError(t, err)
	require.EqualValues(t, 99, s.Regs.Get(GPRClass, GPRv0))
}

func TestBranchAndLoop(t *testing.T) {
	funcs := ffi.NewRegistry()
	s := NewState(0, funcs)

	// v0 = 0; s0 = 5; loop: v0 += s0; s0 -= 1; if s0 != 0 goto loop; ret.
	prog := &Program{Code: []Instruction{
		mustBuild(t, NewInstruction(Addi).Reg(GPRClass, GPRv0, true).Reg(GPRClass, GPRZero, false).Imm(0)),       // 0
		mustBuild(t, NewInstruction(Addi).Reg(GPRClass, GPRs0, true).Reg(GPRClass, GPRZero, false).Imm(5)),       // 1
		mustBuild(t, NewInstruction(Add).Reg(GPRClass, GPRv0, true).Reg(GPRClass, GPRv0, false).Reg(GPRClass, GPRs0, false)), // 2 (loop top)
		mustBuild(t, NewInstruction(Subi).Reg(GPRClass, GPRs0, true).Reg(GPRClass, GPRs0, false).Imm(1)),         // 3
		mustBuild(t, NewInstruction(Bneqz).Reg(GPRClass, GPRs0, false).Imm(2)),                                  // 4
		mustBuild(t, NewInstruction(Ret)), // 5
	}}
	s.Programs[1] = prog

	err := s.Run(1)
	require.NoError(t, err)
	require.EqualValues(t, 15, s.Regs.Get(GPRClass, GPRv0))
}
