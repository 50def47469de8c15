// Package ir (function.go) implements the per-function builder (§4.5):
// FunctionDef owns its own virtual-register space, stack-allocation table
// and label counter, and exposes the val/imm/stack/label/add/promote
// operations lowering code drives.
//
// Grounded on the teacher's ir/lir.Function (vslc's ir/lir/function.go) for
// the "slice of instructions + running counters" shape; the arena/index
// ownership model (functions own their Values/Instructions by index rather
// than by pointer) follows §9's redesign note replacing the original's
// cyclic FunctionDef/Value/InstructionRef ownership.
package ir

import (
	"fmt"

	"tsn/src/types"
)

// StackSlot is one reservation in a FunctionDef's stack frame (§4.5).
type StackSlot struct {
	ID        int
	Type      *types.Type
	Size      uint32
	SourceRef string
	// Scoped records whether this allocation was registered with its
	// lexical scope for automatic destructor dispatch at scope exit
	// (§4.5 "stack(type, scoped?)"). The bookkeeping itself lives in
	// src/lower (the package that knows about lexical scopes); this flag
	// is carried through for disassembly/debugging fidelity.
	Scoped bool
}

// FunctionDef is a single function body under construction or already
// lowered: a flat instruction list plus the counters needed to mint fresh
// virtual registers, labels and stack slots (§3.4, §4.5).
type FunctionDef struct {
	Name      string
	Signature *types.Type

	instructions []Instruction
	nextReg      int
	nextLabel    int
	stackSlots   []StackSlot

	// Implicit pseudo-value registration: each FunctionDef predeclares
	// these once so lowering can reference them by Value without
	// re-deriving their type each time (§4.5).
	implicits map[Implicit]Value
}

// NewFunctionDef starts a fresh function body for the given signature
// Type (a Function-kind types.Type, §3.2).
func NewFunctionDef(name string, sig *types.Type) *FunctionDef {
	f := &FunctionDef{
		Name:      name,
		Signature: sig,
		implicits: make(map[Implicit]Value),
	}
	f.implicits[ImplicitECtx] = Value{Kind: ValImplicit, Implicit: ImplicitECtx}
	f.implicits[ImplicitFPtr] = Value{Kind: ValImplicit, Implicit: ImplicitFPtr}
	if sig != nil {
		f.implicits[ImplicitRet] = Value{Kind: ValImplicit, Implicit: ImplicitRet, Type: sig.GetEffectiveType().Return}
	}
	f.implicits[ImplicitCaps] = Value{Kind: ValImplicit, Implicit: ImplicitCaps}
	f.implicits[ImplicitPoison] = Poison
	return f
}

// Implicit returns one of the predeclared pseudo-values.
func (f *FunctionDef) Implicit(which Implicit) Value {
	return f.implicits[which]
}

// BindThis registers the "this" pseudo-value for a method body.
func (f *FunctionDef) BindThis(t *types.Type) Value {
	v := Value{Kind: ValImplicit, Implicit: ImplicitThis, Type: t}
	f.implicits[ImplicitThis] = v
	return v
}

// val mints a fresh virtual register Value of type t.
func (f *FunctionDef) Val(t *types.Type) Value {
	v := Value{Kind: ValReg, Reg: f.nextReg, Type: t}
	f.nextReg++
	return v
}

// imm builds an immediate Value; exactly one of the typed accessors is
// meaningful for the chosen kind.
func (f *FunctionDef) ImmI(t *types.Type, n int64) Value  { return Value{Kind: ValImmI, Type: t, ImmI: n} }
func (f *FunctionDef) ImmU(t *types.Type, n uint64) Value { return Value{Kind: ValImmU, Type: t, ImmU: n} }
func (f *FunctionDef) ImmF(t *types.Type, n float32) Value {
	return Value{Kind: ValImmF, Type: t, ImmF: n}
}
func (f *FunctionDef) ImmD(t *types.Type, n float64) Value {
	return Value{Kind: ValImmD, Type: t, ImmD: n}
}

// Stack reserves a new stack slot of type t and returns a Value addressing
// it (§4.6's "on-stack" aggregate construction strategy). scoped marks the
// allocation as lexically scoped (§4.5 "stack(type, scoped?)"): the caller
// (src/lower) is responsible for recording a scoped allocation against its
// current lexical scope and emitting the matching destructor dispatch at
// scope exit; this method only carries the flag onto the StackSlot record.
func (f *FunctionDef) Stack(t *types.Type, sourceRef string, scoped bool) Value {
	id := len(f.stackSlots)
	size := t.Meta.Size
	if size == 0 {
		size = 8
	}
	f.stackSlots = append(f.stackSlots, StackSlot{ID: id, Type: t, Size: size, SourceRef: sourceRef, Scoped: scoped})
	return Value{Kind: ValStack, Type: t, Stack: id}
}

// StackSlots returns every slot reserved so far, in allocation order.
func (f *FunctionDef) StackSlots() []StackSlot {
	out := make([]StackSlot, len(f.stackSlots))
	copy(out, f.stackSlots)
	return out
}

// Label mints a fresh, not-yet-placed label Value.
func (f *FunctionDef) Label() Value {
	v := Value{Kind: ValLabel, Label: f.nextLabel}
	f.nextLabel++
	return v
}

// add appends an Instruction and returns a chainable ref to it.
func (f *FunctionDef) add(op Opcode, operands ...Value) InstructionRef {
	var ins Instruction
	ins.Op = op
	for i, v := range operands {
		if i >= 3 {
			break
		}
		ins.Operands[i] = v
	}
	f.instructions = append(f.instructions, ins)
	return InstructionRef{fn: f, idx: len(f.instructions) - 1}
}

// Emit is the public entry point lowering code uses to append an
// instruction. When op's Descriptor has an assigned operand, a fresh
// result register of type t is placed there and returned; otherwise no
// result is produced and t is ignored.
func (f *FunctionDef) Emit(op Opcode, t *types.Type, operands ...Value) (InstructionRef, Value) {
	d := Describe(op)
	var result Value
	if d.Assigned >= 0 {
		result = f.Val(t)
		full := make([]Value, len(operands)+1)
		full[d.Assigned] = result
		j := 0
		for i := range full {
			if i == d.Assigned {
				continue
			}
			if j < len(operands) {
				full[i] = operands[j]
				j++
			}
		}
		return f.add(op, full...), result
	}
	return f.add(op, operands...), Value{}
}

// EmitVoid appends a side-effect-only instruction (store, branch, ret...).
func (f *FunctionDef) EmitVoid(op Opcode, operands ...Value) InstructionRef {
	return f.add(op, operands...)
}

// EmitCall appends a call-family or constructor-family instruction
// (OpCall, OpCallHost, OpCallInline, OpNew, OpStackNew), whose argument
// count isn't fixed by the three-address operand shape. callee is a
// ValFunc Value; args is the full explicit-argument list in declaration
// order. retType nil means the callee returns void and no result register
// is minted.
func (f *FunctionDef) EmitCall(op Opcode, retType *types.Type, callee Value, args []Value) (InstructionRef, Value) {
	var result Value
	var ins Instruction
	ins.Op = op
	if retType != nil {
		result = f.Val(retType)
		ins.Operands[0] = result
	}
	ins.Operands[1] = callee
	ins.Args = append([]Value(nil), args...)
	f.instructions = append(f.instructions, ins)
	return InstructionRef{fn: f, idx: len(f.instructions) - 1}, result
}

// Promote widens/narrows v to target if its static type doesn't already
// match, inserting the appropriate Cvt* opcode (§4.6 "implicit numeric
// promotion"). Returns v unchanged if no conversion is needed.
func (f *FunctionDef) Promote(v Value, target *types.Type) (Value, error) {
	if v.Type == nil || target == nil || v.Type.ID == target.ID {
		return v, nil
	}
	op, ok := promotionOp(v.Type, target)
	if !ok {
		return v, fmt.Errorf("ir: no promotion path from %s to %s", v.Type.FQN, target.FQN)
	}
	_, result := f.Emit(op, target, v)
	return result, nil
}

func promotionOp(from, to *types.Type) (Opcode, bool) {
	key := [2]string{from.FQN, to.FQN}
	table := map[[2]string]Opcode{
		{"i32", "f32"}: OpCvtIF,
		{"i32", "f64"}: OpCvtID,
		{"i32", "u32"}: OpCvtIU,
		{"u32", "f32"}: OpCvtUF,
		{"u32", "f64"}: OpCvtUD,
		{"u32", "i32"}: OpCvtUI,
		{"f32", "i32"}: OpCvtFI,
		{"f32", "u32"}: OpCvtFU,
		{"f32", "f64"}: OpCvtFD,
		{"f64", "i32"}: OpCvtDI,
		{"f64", "u32"}: OpCvtDU,
		{"f64", "f32"}: OpCvtDF,
	}
	op, ok := table[key]
	return op, ok
}

// Instructions returns the function body built so far, in order.
func (f *FunctionDef) Instructions() []Instruction {
	return f.instructions
}

// NumRegs returns the number of distinct virtual registers minted.
func (f *FunctionDef) NumRegs() int {
	return f.nextReg
}

// NumLabels returns the number of distinct labels minted.
func (f *FunctionDef) NumLabels() int {
	return f.nextLabel
}

// PlaceLabel emits the OpLabel marker for a Value previously returned by
// Label().
func (f *FunctionDef) PlaceLabel(l Value) InstructionRef {
	return f.add(OpLabel, l)
}
