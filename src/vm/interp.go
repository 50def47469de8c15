package vm

import (
	"math"

	"tsn/src/ffi"
	"tsn/src/types"
	"tsn/src/util"
)

// frame is one call's position within its Program; a stack of frames
// implements the call/return convention (§4.8) without requiring a single
// flat, whole-module instruction address space — jal/jalr/hcall's
// immediate or register operand is a Function id, looked up through
// State.Functions/Programs, rather than a raw code offset. This is the
// one place this package's call convention departs from the C++ origin's
// flat instruction memory; documented in DESIGN.md.
type frame struct {
	prog   *Program
	pc     int
	funcID uint32
}

// Run executes entryFuncID's Program to completion (a Ret past the
// outermost frame, or a Term), returning the recorded trace error, if any
// (§4.8 "Error surface").
func (s *State) Run(entryFuncID uint32) error {
	prog, ok := s.Programs[entryFuncID]
	if !ok {
		s.Ctx.Fail("vm: no program registered for function id %d", entryFuncID)
		return traceErr(&s.Ctx)
	}
	stack := []frame{{prog: prog, pc: 0, funcID: entryFuncID}}
	s.Ctx.CurrentFunc = entryFuncID

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.pc >= len(top.prog.Code) {
			stack = stack[:len(stack)-1]
			continue
		}
		ins := top.prog.Code[top.pc]
		next := top.pc + 1
		branched := false

		switch ins.Op {
		case Term:
			return traceErr(&s.Ctx)
		case Null:
			// no-op.
		case Ret:
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				s.Ctx.CurrentFunc = stack[len(stack)-1].funcID
			}
			continue
		case Jal, Jalr:
			fnID := s.resolveCallTarget(ins)
			callee, ok := s.Programs[fnID]
			if !ok {
				s.Ctx.Fail("vm: call to undefined script function id %d", fnID)
				return traceErr(&s.Ctx)
			}
			s.Regs.Set(GPRClass, GPRra, uint64(next))
			top.pc = next
			stack = append(stack, frame{prog: callee, pc: 0, funcID: fnID})
			s.Ctx.CurrentFunc = fnID
			branched = true
		case Jmp:
			top.pc = int(ins.Imm)
			branched = true
		case Jmpr:
			top.pc = int(s.regVal(ins.Regs[0]))
			branched = true
		case Hcall:
			if err := s.hostCall(uint32(ins.Imm)); err != nil {
				s.Ctx.Fail("%v", err)
			}
			if s.Ctx.TraceError {
				return traceErr(&s.Ctx)
			}
		case Beqz, Bneqz, Bgtz, Bgtez, Bltz, Bltez:
			if s.branchTaken(ins) {
				top.pc = int(ins.Imm)
				branched = true
			}
		case Mptr:
			// Materializes a pointer-valued immediate offset into a
			// register; semantics identical to an Addi against the zero
			// register.
			s.Regs.Set(GPRClass, ins.Regs[0].Index, ins.Imm)
		default:
			s.execArith(ins)
		}

		if s.Ctx.TraceError {
			return traceErr(&s.Ctx)
		}
		if !branched {
			top.pc = next
		}
	}
	return nil
}

func traceErr(ec *ExecutionContext) error {
	if !ec.TraceError {
		return nil
	}
	return &util.RuntimeError{Message: ec.TraceMessage}
}

func (s *State) regVal(op RegOperand) uint64 {
	return s.Regs.Get(op.Class, op.Index)
}

func (s *State) resolveCallTarget(ins Instruction) uint32 {
	if ins.Op == Jal {
		return uint32(ins.Imm)
	}
	return uint32(s.regVal(ins.Regs[0]))
}

func (s *State) branchTaken(ins Instruction) bool {
	v := int64(s.regVal(ins.Regs[0]))
	switch ins.Op {
	case Beqz:
		return v == 0
	case Bneqz:
		return v != 0
	case Bgtz:
		return v > 0
	case Bgtez:
		return v >= 0
	case Bltz:
		return v < 0
	case Bltez:
		return v <= 0
	default:
		return false
	}
}

// hostCall implements the host-call trampoline (§4.8): loads the target
// Function, reads arguments from the register file per its signature,
// builds an args[] array of pointers, invokes the bound Thunk with
// (retSlot, ectx, args), and stores the scalar result back in v0/fv0 —
// the same a0../fa0.. argument-register and v0/fv0 return-register
// convention the backend's call lowering uses for OpCallHost/OpCallInline
// (src/backend/lower.go's emitCall), so a script call and a host call
// agree on where arguments and results live.
func (s *State) hostCall(fnID uint32) error {
	fn := s.Functions.GetFunction(fnID)
	if fn == nil {
		return &util.RuntimeError{Message: "host call to unregistered function id"}
	}
	if fn.Thunk == nil {
		return &util.RuntimeError{Message: "function " + fn.FQN + " has no bound thunk"}
	}

	args := s.marshalHostArgs(fn.Signature)
	retSlot, retFloat := newReturnBox(fn.Signature)

	fn.Thunk(retSlot, &s.Ctx, args)

	storeReturnBox(s, retSlot, retFloat)
	return nil
}

// explicitArgs returns sig's non-implicit argument descriptors, in
// declaration order (§3.2 "argument descriptor").
func explicitArgs(sig *types.Type) []types.Argument {
	if sig == nil {
		return nil
	}
	out := make([]types.Argument, 0, len(sig.Args))
	for _, a := range sig.Args {
		if !a.Kind.IsImplicit() {
			out = append(out, a)
		}
	}
	return out
}

// marshalHostArgs reads sig's explicit arguments from the a0../fa0..
// registers and boxes each in an addressable Go value: genThunk reads
// args[i] via reflect.ValueOf(args[i]).Elem() and Converts it to the
// native parameter's Go type (src/ffi/binder.go), so any addressable
// value of the right kind works regardless of the native type's exact
// width. Pointer-kind arguments (§4.3: aggregates-by-reference, by-pointer,
// callbacks) are marshalled as the raw register value, matching this
// package's register file, which holds addresses as plain uint64s.
func (s *State) marshalHostArgs(sig *types.Type) []interface{} {
	explicit := explicitArgs(sig)
	args := make([]interface{}, len(explicit))
	gpr, fpr := 0, 0
	for i, a := range explicit {
		if a.Type != nil && a.Type.Meta.FloatingPoint {
			raw := s.Regs.Get(FPRClass, FPRa0+fpr)
			fpr++
			if a.Type.Meta.Size == 4 {
				v := math.Float32frombits(uint32(raw))
				args[i] = &v
			} else {
				v := math.Float64frombits(raw)
				args[i] = &v
			}
			continue
		}
		raw := s.Regs.Get(GPRClass, GPRa0+gpr)
		gpr++
		v := raw
		args[i] = &v
	}
	return args
}

// newReturnBox allocates the addressable storage genThunk writes a
// scalar/pointer result into, and reports whether it belongs in the FPR
// bank. A void-returning native function simply never writes to it
// (src/ffi/binder.go's genThunk only assigns when fn.Call returns a value).
func newReturnBox(sig *types.Type) (interface{}, bool) {
	if sig != nil && sig.Return != nil && sig.Return.Meta.FloatingPoint {
		var v float64
		return &v, true
	}
	var v uint64
	return &v, false
}

// storeReturnBox places the thunk's result in v0 (GPR) or fv0 (FPR), the
// same convention the backend's emitAssignRet/emitCall use for a script
// return value.
func storeReturnBox(s *State, retSlot interface{}, retFloat bool) {
	if retFloat {
		v := *retSlot.(*float64)
		s.Regs.Set(FPRClass, FPRv0, math.Float64bits(v))
		return
	}
	v := *retSlot.(*uint64)
	s.Regs.Set(GPRClass, GPRv0, v)
}

func (s *State) execArith(ins Instruction) {
	switch FamilyOf(ins.Op) {
	case FamilyType6:
		s.execType6(ins)
	case FamilyType7:
		s.execType7(ins)
	case FamilyType5:
		s.execType5(ins)
	case FamilyType4:
		s.execType4(ins)
	case FamilyType2:
		s.execType2(ins)
	default:
		s.Ctx.Fail("vm: unimplemented opcode %s", ins.Op)
	}
}

// vectorLanes reports the lane count of a vector SIMD opcode (§C.1), or 0
// for every other type_7 opcode.
func vectorLanes(op Op) int {
	switch op {
	case AddV2, SubV2, MulV2:
		return 2
	case AddV3, SubV3, MulV3:
		return 3
	case AddV4, SubV4, MulV4:
		return 4
	default:
		return 0
	}
}

// execVector applies a vector SIMD opcode lane-wise: each of ins.Regs names
// the base FPR register of an N-lane float32 vector occupying that many
// consecutive registers in the same bank (§C.1).
func (s *State) execVector(ins Instruction) {
	n := vectorLanes(ins.Op)
	dst, a, b := ins.Regs[0], ins.Regs[1], ins.Regs[2]
	for i := 0; i < n; i++ {
		av := math.Float32frombits(uint32(s.Regs.Get(a.Class, a.Index+i)))
		bv := math.Float32frombits(uint32(s.Regs.Get(b.Class, b.Index+i)))
		var r float32
		switch ins.Op {
		case AddV2, AddV3, AddV4:
			r = av + bv
		case SubV2, SubV3, SubV4:
			r = av - bv
		case MulV2, MulV3, MulV4:
			r = av * bv
		}
		s.Regs.Set(dst.Class, dst.Index+i, uint64(math.Float32bits(r)))
	}
}

func (s *State) execType7(ins Instruction) {
	if vectorLanes(ins.Op) > 0 {
		s.execVector(ins)
		return
	}
	a := s.regVal(ins.Regs[1])
	b := s.regVal(ins.Regs[2])
	dst := ins.Regs[0]

	var r uint64
	switch ins.Op {
	case Add:
		r = uint64(int64(a) + int64(b))
	case Sub:
		r = uint64(int64(a) - int64(b))
	case Mul:
		r = uint64(int64(a) * int64(b))
	case Div:
		if b == 0 {
			s.Ctx.Fail("vm: integer division by zero")
			return
		}
		r = uint64(int64(a) / int64(b))
	case Addu:
		r = a + b
	case Subu:
		r = a - b
	case Mulu:
		r = a * b
	case Divu:
		if b == 0 {
			s.Ctx.Fail("vm: unsigned division by zero")
			return
		}
		r = a / b
	case Lt:
		r = boolU64(int64(a) < int64(b))
	case Lte:
		r = boolU64(int64(a) <= int64(b))
	case Gt:
		r = boolU64(int64(a) > int64(b))
	case Gte:
		r = boolU64(int64(a) >= int64(b))
	case Cmp:
		r = boolU64(a == b)
	case Ncmp:
		r = boolU64(a != b)
	case And:
		r = boolU64(a != 0 && b != 0)
	case Or:
		r = boolU64(a != 0 || b != 0)
	case Band:
		r = a & b
	case Bor:
		r = a | b
	case Xor:
		r = a ^ b
	case Sl:
		r = a << (b & 63)
	case Sr:
		r = a >> (b & 63)
	case Fadd, Fsub, Fmul, Fdiv, Flt, Flte, Fgt, Fgte, Fcmp, Fncmp:
		r = execFloat32Binop(ins.Op, a, b, &s.Ctx)
	case Dadd, Dsub, Dmul, Ddiv, Dlt, Dlte, Dgt, Dgte, Dcmp, Dncmp:
		r = execFloat64Binop(ins.Op, a, b, &s.Ctx)
	default:
		s.Ctx.Fail("vm: unimplemented type_7 opcode %s", ins.Op)
		return
	}
	s.Regs.Set(dst.Class, dst.Index, r)
}

func (s *State) execType6(ins Instruction) {
	a := s.regVal(ins.Regs[1])
	imm := ins.Imm
	dst := ins.Regs[0]
	var r uint64
	switch ins.Op {
	case Addi:
		r = uint64(int64(a) + int64(imm))
	case Subi:
		r = uint64(int64(a) - int64(imm))
	case Subir:
		r = uint64(int64(imm) - int64(a))
	case Muli:
		r = uint64(int64(a) * int64(imm))
	case Divi:
		if imm == 0 {
			s.Ctx.Fail("vm: integer division by zero")
			return
		}
		r = uint64(int64(a) / int64(imm))
	case Divir:
		if a == 0 {
			s.Ctx.Fail("vm: integer division by zero")
			return
		}
		r = uint64(int64(imm) / int64(a))
	case Addui:
		r = a + imm
	case Subui:
		r = a - imm
	case Subuir:
		r = imm - a
	case Mului:
		r = a * imm
	case Divui:
		if imm == 0 {
			s.Ctx.Fail("vm: unsigned division by zero")
			return
		}
		r = a / imm
	case Divuir:
		if a == 0 {
			s.Ctx.Fail("vm: unsigned division by zero")
			return
		}
		r = imm / a
	case Lti:
		r = boolU64(int64(a) < int64(imm))
	case Ltei:
		r = boolU64(int64(a) <= int64(imm))
	case Gti:
		r = boolU64(int64(a) > int64(imm))
	case Gtei:
		r = boolU64(int64(a) >= int64(imm))
	case Cmpi:
		r = boolU64(a == imm)
	case Ncmpi:
		r = boolU64(a != imm)
	case Bandi:
		r = a & imm
	case Bori:
		r = a | imm
	case Xori:
		r = a ^ imm
	case Sli:
		r = a << (imm & 63)
	case Slir:
		r = imm << (a & 63)
	case Sri:
		r = a >> (imm & 63)
	case Srir:
		r = imm >> (a & 63)
	case Andi:
		r = boolU64(a != 0 && imm != 0)
	case Ori:
		r = boolU64(a != 0 || imm != 0)
	case Faddi, Fsubi, Fsubir, Fmuli, Fdivi, Fdivir, Flti, Fltei, Fgti, Fgtei, Fcmpi, Fncmpi:
		r = execFloat32ImmOp(ins, a, &s.Ctx)
	case Daddi, Dsubi, Dsubir, Dmuli, Ddivi, Ddivir, Dlti, Dltei, Dgti, Dgtei, Dcmpi, Dncmpi:
		r = execFloat64ImmOp(ins, a, &s.Ctx)
	default:
		s.Ctx.Fail("vm: unimplemented type_6 opcode %s", ins.Op)
		return
	}
	s.Regs.Set(dst.Class, dst.Index, r)
}

func (s *State) execType5(ins Instruction) {
	addrReg := s.regVal(ins.Regs[1])
	addr := addrReg + ins.Imm
	dst := ins.Regs[0]
	var width int
	switch ins.Op {
	case Ld8, St8:
		width = 1
	case Ld16, St16:
		width = 2
	case Ld32, St32:
		width = 4
	case Ld64, St64:
		width = 8
	}
	switch ins.Op {
	case Ld8, Ld16, Ld32, Ld64:
		v, err := s.Mem.Read(addr, width)
		if err != nil {
			s.Ctx.Fail("%v", err)
			return
		}
		s.Regs.Set(dst.Class, dst.Index, v)
	case St8, St16, St32, St64:
		v := s.regVal(dst)
		if err := s.Mem.Write(addr, width, v); err != nil {
			s.Ctx.Fail("%v", err)
		}
	}
}

func (s *State) execType4(ins Instruction) {
	src := s.regVal(ins.Regs[1])
	dst := ins.Regs[0]
	switch ins.Op {
	case Mtfp:
		s.Regs.Set(FPRClass, dst.Index, src)
	case Mffp:
		s.Regs.Set(GPRClass, dst.Index, src)
	case Neg:
		s.Regs.Set(dst.Class, dst.Index, uint64(-int64(src)))
	case Negf:
		s.Regs.Set(dst.Class, dst.Index, uint64(math.Float32bits(-math.Float32frombits(uint32(src)))))
	case Negd:
		s.Regs.Set(dst.Class, dst.Index, math.Float64bits(-math.Float64frombits(src)))
	}
}

// execType2 handles the conversion opcodes (§4.8 type_2): the single
// register operand is read as the source and overwritten with the
// converted result. jalr/jmpr (also type_2) are dispatched earlier in
// Run, not here.
func (s *State) execType2(ins Instruction) {
	src := s.regVal(ins.Regs[0])
	switch ins.Op {
	case CvtIF:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(math.Float32bits(float32(int64(src)))))
	case CvtID:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, math.Float64bits(float64(int64(src))))
	case CvtIU:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, src)
	case CvtUF:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(math.Float32bits(float32(src))))
	case CvtUD:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, math.Float64bits(float64(src)))
	case CvtUI:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, src)
	case CvtFI:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(int64(math.Float32frombits(uint32(src)))))
	case CvtFU:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(math.Float32frombits(uint32(src))))
	case CvtFD:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, math.Float64bits(float64(math.Float32frombits(uint32(src)))))
	case CvtDI:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(int64(math.Float64frombits(src))))
	case CvtDU:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(math.Float64frombits(src)))
	case CvtDF:
		s.Regs.Set(GPRClass, ins.Regs[0].Index, uint64(math.Float32bits(float32(math.Float64frombits(src)))))
	}
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
