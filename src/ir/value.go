package ir

import "tsn/src/types"

// ValueKind distinguishes the tagged variants of a Value (§3.4).
type ValueKind int

const (
	ValReg ValueKind = iota
	ValImmI
	ValImmU
	ValImmF
	ValImmD
	ValStack // address of a stack allocation.
	ValLabel
	ValFunc
	ValImplicit
)

// Implicit names the pseudo-values every FunctionDef predeclares (§4.5,
// GLOSSARY): @ectx (execution-context pointer), @fptr (current function
// pointer), @ret (return-slot address for aggregate returns), @caps
// (closure capture block pointer), this (instance pointer), @poison
// (sentinel for a dead/optimized-away value).
type Implicit int

const (
	ImplicitNone Implicit = iota
	ImplicitECtx
	ImplicitFPtr
	ImplicitRet
	ImplicitCaps
	ImplicitThis
	ImplicitPoison
)

func (i Implicit) String() string {
	switch i {
	case ImplicitECtx:
		return "@ectx"
	case ImplicitFPtr:
		return "@fptr"
	case ImplicitRet:
		return "@ret"
	case ImplicitCaps:
		return "@caps"
	case ImplicitThis:
		return "this"
	case ImplicitPoison:
		return "@poison"
	default:
		return "<none>"
	}
}

// Value is a three-address-code operand: either a virtual register, an
// immediate, a stack-allocation handle, a label, a function reference or
// one of the implicit pseudo-values (§3.4).
type Value struct {
	Kind ValueKind
	Type *types.Type

	Reg   int // valid when Kind == ValReg; index into the FunctionDef's vreg space.
	ImmI  int64
	ImmU  uint64
	ImmF  float32
	ImmD  float64
	Stack int // stack-allocation id, valid when Kind == ValStack.
	Label int
	Func  uint32

	Implicit Implicit
}

// IsImmediate reports whether v carries a compile-time-constant operand.
func (v Value) IsImmediate() bool {
	switch v.Kind {
	case ValImmI, ValImmU, ValImmF, ValImmD:
		return true
	default:
		return false
	}
}

// Poison is the sentinel Value standing in for a dead or unreachable def
// (§4.5); encountering it during lowering or allocation is always a bug in
// the producer, never a legitimate operand.
var Poison = Value{Kind: ValImplicit, Implicit: ImplicitPoison}
