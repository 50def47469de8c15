// Package backend performs the final lowering stage (§4.7 step 3, §4.8):
// turning one ir.FunctionDef's three-address instructions, placed under a
// regalloc.Result, into a vm.Program. This is the bridge the other
// pieces (ir, regalloc, vm) are each independently tested against but
// don't otherwise connect through: a FunctionDef's virtual registers
// become physical GPR/FPR slots or spill loads/stores, its stack-slot
// Values become sp-relative addresses, and its labels become resolved
// jump targets.
//
// Grounded on _examples/original_source/src/compiler/CodeGenerator.cpp's
// two-pass "emit with placeholder jump targets, then backpatch" shape,
// adapted to this repo's ir/regalloc/vm split rather than a single
// monolithic codegen pass.
package backend

import (
	"fmt"
	"math"

	"tsn/src/ir"
	"tsn/src/regalloc"
	"tsn/src/vm"
)

// scratchBase is the lowest scratch register index within either bank's
// v0..v3 return-value registers; v0 is reserved for the calling
// convention's return value, v1..v3 are free for the backend's own use
// as reload/materialization/address-computation scratch space. Three
// slots are enough because no ir.Instruction carries more than three
// register operands (§3.4 Descriptor.OperandN).
const scratchBase = 1

type fixup struct {
	index int // index into Lowerer.code of the placeholder jump/branch.
	label int // ir label id to resolve against.
}

// Lowerer assembles one FunctionDef's body into a vm.Program.
type Lowerer struct {
	fn     *ir.FunctionDef
	result *regalloc.Result

	slotOffset map[int]uint32 // ir.Value.Stack id -> byte offset in the frame.
	frameSize  uint32

	code    []vm.Instruction
	labelPC map[int]int
	fixups  []fixup
}

// Lower assembles fn's body under result into an executable vm.Program.
func Lower(fn *ir.FunctionDef, result *regalloc.Result) (*vm.Program, error) {
	l := &Lowerer{
		fn:         fn,
		result:     result,
		slotOffset: make(map[int]uint32),
		labelPC:    make(map[int]int),
	}
	l.layoutFrame()
	if err := l.prologue(); err != nil {
		return nil, fmt.Errorf("backend: %s: prologue: %w", fn.Name, err)
	}
	for _, ins := range fn.Instructions() {
		if err := l.emit(ins); err != nil {
			return nil, fmt.Errorf("backend: %s: lowering %s: %w", fn.Name, ins.Op, err)
		}
	}
	for _, fx := range l.fixups {
		pc, ok := l.labelPC[fx.label]
		if !ok {
			return nil, fmt.Errorf("backend: %s: unresolved label %d", fn.Name, fx.label)
		}
		l.code[fx.index].Imm = uint64(pc)
	}
	return &vm.Program{Code: l.code}, nil
}

// layoutFrame places the allocator's spill region first, then every
// FunctionDef stack slot (in allocation order) immediately after it
// (§4.7 "spill stack manager", §4.5 "stack slot reservation").
func (l *Lowerer) layoutFrame() {
	off := l.result.SpillSize
	for _, s := range l.fn.StackSlots() {
		l.slotOffset[s.ID] = off
		off += s.Size
	}
	l.frameSize = off
}

func (l *Lowerer) prologue() error {
	if l.frameSize == 0 {
		return nil
	}
	return l.push(vm.NewInstruction(vm.Subi).
		Reg(vm.GPRClass, vm.GPRsp, true).Reg(vm.GPRClass, vm.GPRsp, false).Imm(uint64(l.frameSize)))
}

func (l *Lowerer) epilogue() error {
	if l.frameSize == 0 {
		return nil
	}
	return l.push(vm.NewInstruction(vm.Addi).
		Reg(vm.GPRClass, vm.GPRsp, true).Reg(vm.GPRClass, vm.GPRsp, false).Imm(uint64(l.frameSize)))
}

func (l *Lowerer) push(b *vm.Builder) error {
	ins, err := b.Build()
	if err != nil {
		return err
	}
	l.code = append(l.code, ins)
	return nil
}

func (l *Lowerer) pushIndexed(b *vm.Builder) (int, error) {
	ins, err := b.Build()
	if err != nil {
		return 0, err
	}
	l.code = append(l.code, ins)
	return len(l.code) - 1, nil
}

// classOf maps a regalloc bank to its vm register bank.
func classOf(c regalloc.Class) vm.RegClass {
	if c == regalloc.FPR {
		return vm.FPRClass
	}
	return vm.GPRClass
}

// physReg maps an allocator physical-register index to a VM register,
// using the callee-saved s0..s15 banks (§4.8 "Call convention"); v0-v3 /
// FPRv0-v3 are reserved below as return-value and scratch registers, so
// the allocator must never hand out more than 16 physical registers per
// bank (regalloc.Run's numGPR/numFPR callers are responsible for this).
func physReg(class vm.RegClass, idx int) int {
	if class == vm.FPRClass {
		return vm.FPRs0 + idx
	}
	return vm.GPRs0 + idx
}

// scratchReg returns the dedicated scratch register for operand slot
// (0, 1 or 2) within class's bank: v1..v3 in either bank. Because the GPR
// bank starts with the zero register, GPR and FPR scratch slot N sit at
// different numeric indices; neither aliases a real allocated register.
func (l *Lowerer) scratchReg(class vm.RegClass, slot int) int {
	if class == vm.FPRClass {
		return vm.FPRv0 + scratchBase + slot
	}
	return vm.GPRv0 + scratchBase + slot
}

func widthLoadOp(size uint32) vm.Op {
	switch size {
	case 1:
		return vm.Ld8
	case 2:
		return vm.Ld16
	case 4:
		return vm.Ld32
	default:
		return vm.Ld64
	}
}

func widthStoreOp(size uint32) vm.Op {
	switch size {
	case 1:
		return vm.St8
	case 2:
		return vm.St16
	case 4:
		return vm.St32
	default:
		return vm.St64
	}
}

func valueSize(v ir.Value) uint32 {
	if v.Type == nil {
		return 8
	}
	switch v.Type.Meta.Size {
	case 1, 2, 4:
		return v.Type.Meta.Size
	default:
		return 8
	}
}

// move emits whatever instruction copies src into dst, crossing banks
// via Mtfp/Mffp when needed. A same-register move is elided.
func (l *Lowerer) move(dstClass vm.RegClass, dst int, srcClass vm.RegClass, src int) error {
	if dstClass == srcClass && dst == src {
		return nil
	}
	switch {
	case dstClass == vm.FPRClass && srcClass == vm.FPRClass:
		// No dedicated FPR-to-FPR move opcode exists (§4.8 type_4 only
		// has Mtfp/Mffp for cross-bank moves); fadd-with-zero is the
		// idiomatic no-op arithmetic trick for an in-bank copy.
		return l.push(vm.NewInstruction(vm.Faddi).Reg(vm.FPRClass, dst, true).Reg(vm.FPRClass, src, false).ImmFloat(0))
	case dstClass == vm.GPRClass && srcClass == vm.GPRClass:
		return l.push(vm.NewInstruction(vm.Addi).Reg(vm.GPRClass, dst, true).Reg(vm.GPRClass, src, false).Imm(0))
	case dstClass == vm.FPRClass && srcClass == vm.GPRClass:
		return l.push(vm.NewInstruction(vm.Mtfp).Reg(vm.FPRClass, dst, true).Reg(vm.GPRClass, src, false))
	default: // dstClass GPR, srcClass FPR.
		return l.push(vm.NewInstruction(vm.Mffp).Reg(vm.GPRClass, dst, true).Reg(vm.FPRClass, src, false))
	}
}

// loadReg materializes a virtual register operand into a usable
// register: its physical home if the allocator didn't spill it, or a
// freshly reloaded scratch register if it did.
func (l *Lowerer) loadReg(v ir.Value, slot int) (vm.RegClass, int, error) {
	p, ok := l.result.Resolve(v)
	if !ok {
		return 0, 0, fmt.Errorf("virtual register %d has no allocation", v.Reg)
	}
	class := classOf(p.Class)
	if !p.Spilled {
		return class, physReg(class, p.PhysReg), nil
	}
	s := l.scratchReg(class, slot)
	if err := l.push(vm.NewInstruction(vm.Ld64).Reg(class, s, true).Reg(vm.GPRClass, vm.GPRsp, false).Imm(uint64(p.StackOffset))); err != nil {
		return 0, 0, err
	}
	return class, s, nil
}

// loadStackValue computes a fn.Stack() local variable's address (sp
// plus its laid-out frame offset) into a scratch GPR.
func (l *Lowerer) loadStackValue(v ir.Value, slot int) (vm.RegClass, int, error) {
	off, ok := l.slotOffset[v.Stack]
	if !ok {
		return 0, 0, fmt.Errorf("stack slot %d has no frame offset", v.Stack)
	}
	s := l.scratchReg(vm.GPRClass, slot)
	if err := l.push(vm.NewInstruction(vm.Addi).Reg(vm.GPRClass, s, true).Reg(vm.GPRClass, vm.GPRsp, false).Imm(uint64(off))); err != nil {
		return 0, 0, err
	}
	return vm.GPRClass, s, nil
}

// materializeInt loads a 64-bit integer bit pattern into a scratch GPR
// via Mptr (§4.8's "materializes a pointer-valued immediate" opcode,
// equally usable for any 64-bit integer constant).
func (l *Lowerer) materializeInt(bits uint64, slot int) (vm.RegClass, int, error) {
	s := l.scratchReg(vm.GPRClass, slot)
	if err := l.push(vm.NewInstruction(vm.Mptr).Reg(vm.GPRClass, s, true).Imm(bits)); err != nil {
		return 0, 0, err
	}
	return vm.GPRClass, s, nil
}

// materializeFloat stages a float bit pattern through a GPR scratch
// register (Mptr only ever targets the GPR bank) then moves it into FPR
// scratch via Mtfp.
func (l *Lowerer) materializeFloat(bits uint64, slot int) (vm.RegClass, int, error) {
	_, gs, err := l.materializeInt(bits, slot)
	if err != nil {
		return 0, 0, err
	}
	fs := l.scratchReg(vm.FPRClass, slot)
	if err := l.push(vm.NewInstruction(vm.Mtfp).Reg(vm.FPRClass, fs, true).Reg(vm.GPRClass, gs, false)); err != nil {
		return 0, 0, err
	}
	return vm.FPRClass, fs, nil
}

// implicitReg resolves one of the fixed pseudo-value registers the
// calling convention assigns (§4.5 GLOSSARY @ectx/@fptr/@caps/this/@ret):
// since these never go through regalloc (they aren't ValReg operands),
// each gets a dedicated argument-register slot agreed by caller and
// callee rather than a per-function allocation.
func (l *Lowerer) implicitReg(v ir.Value) (vm.RegClass, int, error) {
	switch v.Implicit {
	case ir.ImplicitECtx:
		return vm.GPRClass, vm.GPRa0, nil
	case ir.ImplicitFPtr:
		return vm.GPRClass, vm.GPRa0 + 1, nil
	case ir.ImplicitCaps:
		return vm.GPRClass, vm.GPRa0 + 2, nil
	case ir.ImplicitThis:
		return vm.GPRClass, vm.GPRa0 + 3, nil
	case ir.ImplicitRet:
		return vm.GPRClass, vm.GPRa0 + 4, nil
	case ir.ImplicitNone:
		// moduleDataBase's current stub (§ lower/member.go) always tags
		// cross-module data as ImplicitNone; until real module linking
		// exists this resolves to address zero.
		return vm.GPRClass, vm.GPRZero, nil
	default:
		return 0, 0, fmt.Errorf("implicit pseudo-value %v reached code generation unexpectedly", v.Implicit)
	}
}

// loadValue resolves any source operand Value to a (class, register)
// pair, materializing immediates, stack addresses and spill reloads as
// needed.
func (l *Lowerer) loadValue(v ir.Value, slot int) (vm.RegClass, int, error) {
	switch v.Kind {
	case ir.ValReg:
		return l.loadReg(v, slot)
	case ir.ValImmI:
		return l.materializeInt(uint64(v.ImmI), slot)
	case ir.ValImmU:
		return l.materializeInt(v.ImmU, slot)
	case ir.ValImmF:
		return l.materializeFloat(uint64(math.Float32bits(v.ImmF)), slot)
	case ir.ValImmD:
		return l.materializeFloat(math.Float64bits(v.ImmD), slot)
	case ir.ValStack:
		return l.loadStackValue(v, slot)
	case ir.ValImplicit:
		return l.implicitReg(v)
	default:
		return 0, 0, fmt.Errorf("value kind %d cannot be read as a source operand", v.Kind)
	}
}

// baseAddress resolves a Value used as an addressable base (OpStore's
// and OpLoad/OpMember/OpIndex's first operand): always a GPR-class
// register holding an address.
func (l *Lowerer) baseAddress(v ir.Value, slot int) (vm.RegClass, int, error) {
	switch v.Kind {
	case ir.ValStack:
		return l.loadStackValue(v, slot)
	case ir.ValReg:
		return l.loadReg(v, slot)
	case ir.ValImplicit:
		return l.implicitReg(v)
	default:
		return 0, 0, fmt.Errorf("value kind %d is not an addressable base", v.Kind)
	}
}

// destReg picks a register to compute an assigned result into: the
// virtual register's physical home, or a scratch register that
// storeBack later spills if the allocator placed it on the stack.
func (l *Lowerer) destReg(v ir.Value, slot int) (vm.RegClass, int, error) {
	p, ok := l.result.Resolve(v)
	if !ok {
		return 0, 0, fmt.Errorf("assigned value is not a virtual register")
	}
	class := classOf(p.Class)
	if !p.Spilled {
		return class, physReg(class, p.PhysReg), nil
	}
	return class, l.scratchReg(class, slot), nil
}

// storeBack spills a computed result back to its stack slot if the
// allocator decided to spill it; a no-op for physically-homed registers.
func (l *Lowerer) storeBack(v ir.Value, class vm.RegClass, idx int) error {
	p, ok := l.result.Resolve(v)
	if !ok || !p.Spilled {
		return nil
	}
	return l.push(vm.NewInstruction(vm.St64).Reg(class, idx, false).Reg(vm.GPRClass, vm.GPRsp, false).Imm(uint64(p.StackOffset)))
}

// computeIndexedAddress scales idxVal by elemSize and adds it to a base
// address already held in baseIdx, for a dynamic array/index access
// (lowerAssign's IndexExpr path and lowerIndex both allow a register
// index, not just a compile-time immediate, despite OpStore's/OpIndex's
// descriptor nominally typing that slot KindImm/KindVal).
func (l *Lowerer) computeIndexedAddress(baseIdx int, idxVal ir.Value, elemSize uint32, slot int) (int, error) {
	_, idxIdx, err := l.loadValue(idxVal, slot)
	if err != nil {
		return 0, err
	}
	scaled := l.scratchReg(vm.GPRClass, slot)
	if err := l.push(vm.NewInstruction(vm.Muli).Reg(vm.GPRClass, scaled, true).Reg(vm.GPRClass, idxIdx, false).Imm(uint64(elemSize))); err != nil {
		return 0, err
	}
	addr := l.scratchReg(vm.GPRClass, (slot+1)%3)
	if err := l.push(vm.NewInstruction(vm.Add).Reg(vm.GPRClass, addr, true).Reg(vm.GPRClass, baseIdx, false).Reg(vm.GPRClass, scaled, false)); err != nil {
		return 0, err
	}
	return addr, nil
}

// reg3Map covers every opcode whose IR shape (dst, lhs, rhs) maps
// directly onto a type_7 three-register VM instruction (§4.8). Operands
// are always materialized into registers first (never folded into a
// type_6 reg-reg-imm form); an optimization pass could peephole that
// later, but correctness doesn't depend on it.
var reg3Map = map[ir.Opcode]vm.Op{
	ir.OpIAdd: vm.Add, ir.OpISub: vm.Sub, ir.OpIMul: vm.Mul, ir.OpIDiv: vm.Div,
	ir.OpUAdd: vm.Addu, ir.OpUSub: vm.Subu, ir.OpUMul: vm.Mulu, ir.OpUDiv: vm.Divu,
	ir.OpFAdd: vm.Fadd, ir.OpFSub: vm.Fsub, ir.OpFMul: vm.Fmul, ir.OpFDiv: vm.Fdiv,
	ir.OpDAdd: vm.Dadd, ir.OpDSub: vm.Dsub, ir.OpDMul: vm.Dmul, ir.OpDDiv: vm.Ddiv,

	ir.OpAnd: vm.Band, ir.OpOr: vm.Bor, ir.OpXor: vm.Xor, ir.OpShl: vm.Sl, ir.OpShr: vm.Sr,
	ir.OpLogAnd: vm.And, ir.OpLogOr: vm.Or,

	// The VM has no unsigned-ordered comparison family (§4.8's
	// macros.h-derived type_7 set carries Lt/Lte/Gt/Gte but no
	// Ltu/Gtu); unsigned ordered comparisons reuse the signed opcodes,
	// matching the actual instruction set rather than working around it.
	ir.OpIEq: vm.Cmp, ir.OpINeq: vm.Ncmp, ir.OpILt: vm.Lt, ir.OpILte: vm.Lte, ir.OpIGt: vm.Gt, ir.OpIGte: vm.Gte,
	ir.OpUEq: vm.Cmp, ir.OpUNeq: vm.Ncmp, ir.OpULt: vm.Lt, ir.OpULte: vm.Lte, ir.OpUGt: vm.Gt, ir.OpUGte: vm.Gte,
	ir.OpFEq: vm.Fcmp, ir.OpFNeq: vm.Fncmp, ir.OpFLt: vm.Flt, ir.OpFLte: vm.Flte, ir.OpFGt: vm.Fgt, ir.OpFGte: vm.Fgte,
	ir.OpDEq: vm.Dcmp, ir.OpDNeq: vm.Dncmp, ir.OpDLt: vm.Dlt, ir.OpDLte: vm.Dlte, ir.OpDGt: vm.Dgt, ir.OpDGte: vm.Dgte,
}

var negMap = map[ir.Opcode]vm.Op{ir.OpINeg: vm.Neg, ir.OpFNeg: vm.Negf, ir.OpDNeg: vm.Negd}

var cvtMap = map[ir.Opcode]vm.Op{
	ir.OpCvtIF: vm.CvtIF, ir.OpCvtID: vm.CvtID, ir.OpCvtIU: vm.CvtIU,
	ir.OpCvtUF: vm.CvtUF, ir.OpCvtUD: vm.CvtUD, ir.OpCvtUI: vm.CvtUI,
	ir.OpCvtFI: vm.CvtFI, ir.OpCvtFU: vm.CvtFU, ir.OpCvtFD: vm.CvtFD,
	ir.OpCvtDI: vm.CvtDI, ir.OpCvtDU: vm.CvtDU, ir.OpCvtDF: vm.CvtDF,
}

func (l *Lowerer) emit(ins ir.Instruction) error {
	switch ins.Op {
	case ir.OpNop:
		return nil
	case ir.OpLabel:
		l.labelPC[ins.Operands[0].Label] = len(l.code)
		return nil
	case ir.OpJump:
		idx, err := l.pushIndexed(vm.NewInstruction(vm.Jmp).Imm(0))
		if err != nil {
			return err
		}
		l.fixups = append(l.fixups, fixup{index: idx, label: ins.Operands[0].Label})
		return nil
	case ir.OpBranchIfZero, ir.OpBranchIfNotZero:
		return l.emitBranch(&ins)
	case ir.OpCall, ir.OpNew, ir.OpStackNew:
		return l.emitCall(&ins, vm.Jal)
	case ir.OpCallHost, ir.OpCallInline:
		// OpCallInline has no dedicated inline-intrinsic codegen hook at
		// the backend level yet: it dispatches through the same hcall
		// trampoline as any other host function, deferring true
		// cross-procedure inlining to a future optimization pass.
		return l.emitCall(&ins, vm.Hcall)
	case ir.OpRet, ir.OpRetVoid:
		// lowerReturn (lower/stmt.go) always emits OpAssignRet immediately
		// before OpRet with the same value, so by the time OpRet is
		// reached the result is already in place; OpRetVoid carries no
		// value at all.
		return l.emitReturn()
	case ir.OpAssignRet:
		return l.emitAssignRet(&ins)
	case ir.OpStore:
		return l.emitStore(&ins)
	case ir.OpLoad, ir.OpMember:
		return l.emitRead(&ins)
	case ir.OpIndex:
		return l.emitIndex(&ins)
	case ir.OpMemCopy:
		return l.emitMemCopy(&ins)
	case ir.OpStackAlloc, ir.OpStackPtr, ir.OpModuleData, ir.OpLoadRet:
		return l.emitMiscAddress(&ins)
	case ir.OpIRem:
		return l.emitRem(&ins, false)
	case ir.OpURem:
		return l.emitRem(&ins, true)
	case ir.OpNot:
		return l.emitNot(&ins)
	}
	if vmOp, ok := reg3Map[ins.Op]; ok {
		return l.emitReg3(&ins, vmOp)
	}
	if vmOp, ok := negMap[ins.Op]; ok {
		return l.emitNeg(&ins, vmOp)
	}
	if vmOp, ok := cvtMap[ins.Op]; ok {
		return l.emitCvt(&ins, vmOp)
	}
	return fmt.Errorf("unsupported opcode %s", ins.Op)
}

func (l *Lowerer) emitBranch(ins *ir.Instruction) error {
	class, idx, err := l.loadValue(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	op := vm.Beqz
	if ins.Op == ir.OpBranchIfNotZero {
		op = vm.Bneqz
	}
	bidx, err := l.pushIndexed(vm.NewInstruction(op).Reg(class, idx, false).Imm(0))
	if err != nil {
		return err
	}
	l.fixups = append(l.fixups, fixup{index: bidx, label: ins.Operands[1].Label})
	return nil
}

func (l *Lowerer) emitReg3(ins *ir.Instruction, vmOp vm.Op) error {
	aClass, aIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	bClass, bIdx, err := l.loadValue(ins.Operands[2], 2)
	if err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(vmOp).Reg(dstClass, dstIdx, true).Reg(aClass, aIdx, false).Reg(bClass, bIdx, false)); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

func (l *Lowerer) emitNeg(ins *ir.Instruction, vmOp vm.Op) error {
	srcClass, srcIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(vmOp).Reg(dstClass, dstIdx, true).Reg(srcClass, srcIdx, false)); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

// emitNot synthesizes bitwise complement via xor-with-all-ones: the VM
// has no dedicated "not" opcode in any family (§4.8's type_6/type_7
// bitwise sets stop at and/or/xor/shift).
func (l *Lowerer) emitNot(ins *ir.Instruction) error {
	srcClass, srcIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(vm.Xori).Reg(dstClass, dstIdx, true).Reg(srcClass, srcIdx, false).Imm(^uint64(0))); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

// emitRem synthesizes integer/unsigned remainder as a - (a/b)*b: the VM
// has no dedicated remainder opcode in either arithmetic family.
func (l *Lowerer) emitRem(ins *ir.Instruction, unsigned bool) error {
	_, aIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	_, bIdx, err := l.loadValue(ins.Operands[2], 2)
	if err != nil {
		return err
	}
	divOp, mulOp, subOp := vm.Div, vm.Mul, vm.Sub
	if unsigned {
		divOp, mulOp, subOp = vm.Divu, vm.Mulu, vm.Subu
	}
	q := l.scratchReg(vm.GPRClass, 0)
	if err := l.push(vm.NewInstruction(divOp).Reg(vm.GPRClass, q, true).Reg(vm.GPRClass, aIdx, false).Reg(vm.GPRClass, bIdx, false)); err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(mulOp).Reg(vm.GPRClass, q, true).Reg(vm.GPRClass, q, false).Reg(vm.GPRClass, bIdx, false)); err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(subOp).Reg(dstClass, dstIdx, true).Reg(vm.GPRClass, aIdx, false).Reg(vm.GPRClass, q, false)); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

// emitCvt stages its operand into a dedicated scratch register before
// converting: the interpreter's CvtXX opcodes (§4.8 type_2) read
// whichever bank is encoded but always write the result into the GPR
// bank at that same numeric index, so the source must be a register the
// backend exclusively owns rather than a live physical or spilled one.
func (l *Lowerer) emitCvt(ins *ir.Instruction, vmOp vm.Op) error {
	srcClass, srcIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	staged := l.scratchReg(srcClass, 1)
	if srcIdx != staged {
		if err := l.move(srcClass, staged, srcClass, srcIdx); err != nil {
			return err
		}
	}
	if err := l.push(vm.NewInstruction(vmOp).Reg(srcClass, staged, true)); err != nil {
		return err
	}
	gprResult := staged
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	if err := l.move(dstClass, dstIdx, vm.GPRClass, gprResult); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

func (l *Lowerer) emitReturn() error {
	if err := l.epilogue(); err != nil {
		return err
	}
	return l.push(vm.NewInstruction(vm.Ret))
}

func (l *Lowerer) emitAssignRet(ins *ir.Instruction) error {
	class, idx, err := l.loadValue(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	dst := vm.GPRv0
	if class == vm.FPRClass {
		dst = vm.FPRv0
	}
	return l.move(class, dst, class, idx)
}

func (l *Lowerer) emitStore(ins *ir.Instruction) error {
	_, baseIdx, err := l.baseAddress(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	valClass, valIdx, err := l.loadValue(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	size := valueSize(ins.Operands[1])
	off := ins.Operands[2]
	if off.IsImmediate() {
		return l.push(vm.NewInstruction(widthStoreOp(size)).Reg(valClass, valIdx, false).Reg(vm.GPRClass, baseIdx, false).Imm(uint64(off.ImmI)))
	}
	addr, err := l.computeIndexedAddress(baseIdx, off, size, 2)
	if err != nil {
		return err
	}
	return l.push(vm.NewInstruction(widthStoreOp(size)).Reg(valClass, valIdx, false).Reg(vm.GPRClass, addr, false).Imm(0))
}

// emitRead lowers both OpLoad and OpMember: a register destination, a
// base operand, and a compile-time immediate byte offset.
func (l *Lowerer) emitRead(ins *ir.Instruction) error {
	_, baseIdx, err := l.baseAddress(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	size := valueSize(ins.Operands[0])
	off := ins.Operands[2]
	if err := l.push(vm.NewInstruction(widthLoadOp(size)).Reg(dstClass, dstIdx, true).Reg(vm.GPRClass, baseIdx, false).Imm(uint64(off.ImmI))); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

func (l *Lowerer) emitIndex(ins *ir.Instruction) error {
	_, baseIdx, err := l.baseAddress(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	size := valueSize(ins.Operands[0])
	idxVal := ins.Operands[2]
	if idxVal.IsImmediate() {
		if err := l.push(vm.NewInstruction(widthLoadOp(size)).Reg(dstClass, dstIdx, true).Reg(vm.GPRClass, baseIdx, false).Imm(uint64(idxVal.ImmI) * uint64(size))); err != nil {
			return err
		}
		return l.storeBack(ins.Operands[0], dstClass, dstIdx)
	}
	addr, err := l.computeIndexedAddress(baseIdx, idxVal, size, 2)
	if err != nil {
		return err
	}
	if err := l.push(vm.NewInstruction(widthLoadOp(size)).Reg(dstClass, dstIdx, true).Reg(vm.GPRClass, addr, false).Imm(0)); err != nil {
		return err
	}
	return l.storeBack(ins.Operands[0], dstClass, dstIdx)
}

// emitMemCopy lowers the aggregate-return path (lowerReturn's OpMemCopy
// into @ret) as an unrolled 8-byte-chunk copy loop with a byte-wise
// remainder, since the VM has no block-copy instruction of its own.
func (l *Lowerer) emitMemCopy(ins *ir.Instruction) error {
	_, dstIdx, err := l.baseAddress(ins.Operands[0], 0)
	if err != nil {
		return err
	}
	_, srcIdx, err := l.baseAddress(ins.Operands[1], 1)
	if err != nil {
		return err
	}
	size := uint32(ins.Operands[2].ImmI)
	tmp := l.scratchReg(vm.GPRClass, 2)

	var off uint32
	for ; off+8 <= size; off += 8 {
		if err := l.push(vm.NewInstruction(vm.Ld64).Reg(vm.GPRClass, tmp, true).Reg(vm.GPRClass, srcIdx, false).Imm(uint64(off))); err != nil {
			return err
		}
		if err := l.push(vm.NewInstruction(vm.St64).Reg(vm.GPRClass, tmp, false).Reg(vm.GPRClass, dstIdx, false).Imm(uint64(off))); err != nil {
			return err
		}
	}
	for ; off < size; off++ {
		if err := l.push(vm.NewInstruction(vm.Ld8).Reg(vm.GPRClass, tmp, true).Reg(vm.GPRClass, srcIdx, false).Imm(uint64(off))); err != nil {
			return err
		}
		if err := l.push(vm.NewInstruction(vm.St8).Reg(vm.GPRClass, tmp, false).Reg(vm.GPRClass, dstIdx, false).Imm(uint64(off))); err != nil {
			return err
		}
	}
	return nil
}

// emitMiscAddress handles OpStackAlloc/OpStackPtr/OpModuleData/
// OpLoadRet: none of lower/*.go's current passes emit these (every local
// goes through FunctionDef.Stack, every module reference through the
// moduleDataBase stub, every return through OpAssignRet), but the
// opcode table defines them so a future lowering pass can use them
// without the backend silently miscompiling.
func (l *Lowerer) emitMiscAddress(ins *ir.Instruction) error {
	switch ins.Op {
	case ir.OpStackAlloc:
		dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
		if err != nil {
			return err
		}
		if err := l.move(dstClass, dstIdx, vm.GPRClass, vm.GPRsp); err != nil {
			return err
		}
		return l.storeBack(ins.Operands[0], dstClass, dstIdx)
	case ir.OpStackPtr:
		addrClass, addrIdx, err := l.baseAddress(ins.Operands[1], 1)
		if err != nil {
			return err
		}
		dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
		if err != nil {
			return err
		}
		if err := l.move(dstClass, dstIdx, addrClass, addrIdx); err != nil {
			return err
		}
		return l.storeBack(ins.Operands[0], dstClass, dstIdx)
	case ir.OpModuleData:
		dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
		if err != nil {
			return err
		}
		var off uint64
		if ins.Operands[1].IsImmediate() {
			off = uint64(ins.Operands[1].ImmI)
		}
		gs := l.scratchReg(vm.GPRClass, 1)
		if err := l.push(vm.NewInstruction(vm.Mptr).Reg(vm.GPRClass, gs, true).Imm(off)); err != nil {
			return err
		}
		if err := l.move(dstClass, dstIdx, vm.GPRClass, gs); err != nil {
			return err
		}
		return l.storeBack(ins.Operands[0], dstClass, dstIdx)
	case ir.OpLoadRet:
		retClass, retIdx, err := l.implicitReg(ir.Value{Kind: ir.ValImplicit, Implicit: ir.ImplicitRet})
		if err != nil {
			return err
		}
		dstClass, dstIdx, err := l.destReg(ins.Operands[0], 0)
		if err != nil {
			return err
		}
		if err := l.move(dstClass, dstIdx, retClass, retIdx); err != nil {
			return err
		}
		return l.storeBack(ins.Operands[0], dstClass, dstIdx)
	}
	return nil
}

// emitCall lowers OpCall/OpCallHost/OpCallInline/OpNew/OpStackNew: all
// five share EmitCall's shape (an optional assigned result, a ValFunc
// callee, an overflow Args list), so they share one lowering path. Args
// are marshaled into the a0../fa0.. banks in declaration order, split by
// register class; the callee-id immediate drives either a script-to-
// script Jal or a host Hcall (§4.8 "Call convention"/"Host-call
// trampoline"). OpNew/OpStackNew reuse the same convention: the
// constructor is just a function that returns the allocated instance's
// address in v0, exactly like any other scalar-returning call.
func (l *Lowerer) emitCall(ins *ir.Instruction, vmOp vm.Op) error {
	var gprArg, fprArg int
	for _, a := range ins.Args {
		class, idx, err := l.loadValue(a, 0)
		if err != nil {
			return err
		}
		var dstClass vm.RegClass
		var dst int
		if class == vm.FPRClass {
			dstClass, dst = vm.FPRClass, vm.FPRa0+fprArg
			fprArg++
		} else {
			dstClass, dst = vm.GPRClass, vm.GPRa0+gprArg
			gprArg++
		}
		if err := l.move(dstClass, dst, class, idx); err != nil {
			return err
		}
	}

	callee := ins.Operands[1]
	if err := l.push(vm.NewInstruction(vmOp).Imm(uint64(callee.Func))); err != nil {
		return err
	}

	result := ins.Operands[0]
	if result.Kind != ir.ValReg {
		return nil
	}
	p, ok := l.result.Resolve(result)
	if !ok {
		return fmt.Errorf("call result has no allocation")
	}
	retClass := classOf(p.Class)
	retSrc := vm.GPRv0
	if retClass == vm.FPRClass {
		retSrc = vm.FPRv0
	}
	dstClass, dstIdx, err := l.destReg(result, 0)
	if err != nil {
		return err
	}
	if err := l.move(dstClass, dstIdx, retClass, retSrc); err != nil {
		return err
	}
	return l.storeBack(result, dstClass, dstIdx)
}
