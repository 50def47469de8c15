// Package ir implements the intermediate representation (§3.4) and the
// per-function builder (§4.5): instructions, virtual values, labels, stack
// allocations and instruction refs, backed by a static per-opcode
// descriptor table.
//
// Grounded on the teacher's ir/lir package (vslc's Value/Instruction
// interfaces, ir/lir/types) for the tagged-instruction-kind idiom, and on
// _examples/original_source/src/compiler/IR.cpp / FunctionDef.cpp for the
// three-address-code shape (opcode + up to three operands + implicit
// pseudo-values @ectx/@fptr/@ret/@caps).
package ir

// Opcode is one of the ~85 IR instruction kinds (§3.4).
type Opcode int

const (
	OpNop Opcode = iota

	// Memory.
	OpStackAlloc // ir_stack_allocate: reserves a stack slot, produces a Value.
	OpStackPtr   // ir_stack_ptr: materializes a pointer Value to a stack allocation.
	OpLoad
	OpStore
	OpLoadRet  // load @ret pseudo-value.
	OpModuleData
	OpAssignRet // store into @ret pseudo-value (scalar return path, §4.6).

	// Control flow.
	OpLabel
	OpJump
	OpBranchIfZero
	OpBranchIfNotZero
	OpCall
	OpCallHost
	OpCallInline // dispatch to an FFI intrinsic/inline codegen callback (§4.3).
	OpRet
	OpRetVoid

	// Arithmetic — integer.
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpIRem
	OpINeg

	// Arithmetic — unsigned.
	OpUAdd
	OpUSub
	OpUMul
	OpUDiv
	OpURem

	// Arithmetic — float.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg

	// Arithmetic — double.
	OpDAdd
	OpDSub
	OpDMul
	OpDDiv
	OpDNeg

	// Bitwise / shifts.
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr

	// Logical.
	OpLogAnd
	OpLogOr

	// Comparisons — integer.
	OpIEq
	OpINeq
	OpILt
	OpILte
	OpIGt
	OpIGte

	// Comparisons — unsigned.
	OpUEq
	OpUNeq
	OpULt
	OpULte
	OpUGt
	OpUGte

	// Comparisons — float.
	OpFEq
	OpFNeq
	OpFLt
	OpFLte
	OpFGt
	OpFGte

	// Comparisons — double.
	OpDEq
	OpDNeq
	OpDLt
	OpDLte
	OpDGt
	OpDGte

	// Conversions.
	OpCvtIF
	OpCvtID
	OpCvtIU
	OpCvtUF
	OpCvtUD
	OpCvtUI
	OpCvtFI
	OpCvtFU
	OpCvtFD
	OpCvtDI
	OpCvtDU
	OpCvtDF

	// Aggregates and indexing.
	OpIndex
	OpMember
	OpNew
	OpStackNew
	OpMemCopy

	opcodeCount
)

// OperandKind classifies how an Instruction operand slot must be decoded
// (§3.4 "per-operand kind").
type OperandKind int

const (
	KindNone OperandKind = iota
	KindReg              // virtual register.
	KindVal              // register or immediate.
	KindImm              // immediate only.
	KindLbl              // label id.
	KindFun              // function reference.
)

// Descriptor is one static opcode table entry (§3.4).
type Descriptor struct {
	Name        string
	OperandKind [3]OperandKind
	OperandN    int  // number of operands actually used, 0..3.
	Assigned    int  // index of the operand that receives the result, or -1.
	SideEffect  bool // true if this opcode has observable side effects (store, call, branch...).
}

var table [opcodeCount]Descriptor

func reg3(op Opcode, name string) {
	table[op] = Descriptor{Name: name, OperandKind: [3]OperandKind{KindReg, KindVal, KindVal}, OperandN: 3, Assigned: 0}
}

func unary(op Opcode, name string) {
	table[op] = Descriptor{Name: name, OperandKind: [3]OperandKind{KindReg, KindVal, KindNone}, OperandN: 2, Assigned: 0}
}

func init() {
	table[OpNop] = Descriptor{Name: "nop"}
	table[OpStackAlloc] = Descriptor{Name: "stack_alloc", OperandKind: [3]OperandKind{KindReg, KindImm, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpStackPtr] = Descriptor{Name: "stack_ptr", OperandKind: [3]OperandKind{KindReg, KindReg, KindNone}, OperandN: 2, Assigned: 0}
	table[OpLoad] = Descriptor{Name: "load", OperandKind: [3]OperandKind{KindReg, KindVal, KindImm}, OperandN: 3, Assigned: 0, SideEffect: true}
	table[OpStore] = Descriptor{Name: "store", OperandKind: [3]OperandKind{KindVal, KindVal, KindImm}, OperandN: 3, Assigned: -1, SideEffect: true}
	table[OpLoadRet] = Descriptor{Name: "load_ret", OperandKind: [3]OperandKind{KindReg, KindNone, KindNone}, OperandN: 1, Assigned: 0}
	table[OpModuleData] = Descriptor{Name: "module_data", OperandKind: [3]OperandKind{KindReg, KindImm, KindNone}, OperandN: 2, Assigned: 0}
	table[OpAssignRet] = Descriptor{Name: "assign_ret", OperandKind: [3]OperandKind{KindVal, KindNone, KindNone}, OperandN: 1, Assigned: -1, SideEffect: true}

	table[OpLabel] = Descriptor{Name: "label", OperandKind: [3]OperandKind{KindLbl, KindNone, KindNone}, OperandN: 1, Assigned: -1, SideEffect: true}
	table[OpJump] = Descriptor{Name: "jump", OperandKind: [3]OperandKind{KindLbl, KindNone, KindNone}, OperandN: 1, Assigned: -1, SideEffect: true}
	table[OpBranchIfZero] = Descriptor{Name: "br_eqz", OperandKind: [3]OperandKind{KindVal, KindLbl, KindNone}, OperandN: 2, Assigned: -1, SideEffect: true}
	table[OpBranchIfNotZero] = Descriptor{Name: "br_nez", OperandKind: [3]OperandKind{KindVal, KindLbl, KindNone}, OperandN: 2, Assigned: -1, SideEffect: true}
	table[OpCall] = Descriptor{Name: "call", OperandKind: [3]OperandKind{KindReg, KindFun, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpCallHost] = Descriptor{Name: "call_host", OperandKind: [3]OperandKind{KindReg, KindFun, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpCallInline] = Descriptor{Name: "call_inline", OperandKind: [3]OperandKind{KindReg, KindFun, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpRet] = Descriptor{Name: "ret", OperandKind: [3]OperandKind{KindVal, KindNone, KindNone}, OperandN: 1, Assigned: -1, SideEffect: true}
	table[OpRetVoid] = Descriptor{Name: "ret_void", OperandKind: [3]OperandKind{KindNone, KindNone, KindNone}, OperandN: 0, Assigned: -1, SideEffect: true}

	for _, o := range []Opcode{OpIAdd, OpISub, OpIMul, OpIDiv, OpIRem,
		OpUAdd, OpUSub, OpUMul, OpUDiv, OpURem,
		OpFAdd, OpFSub, OpFMul, OpFDiv,
		OpDAdd, OpDSub, OpDMul, OpDDiv,
		OpAnd, OpOr, OpXor, OpShl, OpShr, OpLogAnd, OpLogOr,
		OpIEq, OpINeq, OpILt, OpILte, OpIGt, OpIGte,
		OpUEq, OpUNeq, OpULt, OpULte, OpUGt, OpUGte,
		OpFEq, OpFNeq, OpFLt, OpFLte, OpFGt, OpFGte,
		OpDEq, OpDNeq, OpDLt, OpDLte, OpDGt, OpDGte,
	} {
		reg3(o, opName(o))
	}

	for _, o := range []Opcode{OpINeg, OpFNeg, OpDNeg, OpNot,
		OpCvtIF, OpCvtID, OpCvtIU, OpCvtUF, OpCvtUD, OpCvtUI, OpCvtFI, OpCvtFU, OpCvtFD, OpCvtDI, OpCvtDU, OpCvtDF,
	} {
		unary(o, opName(o))
	}

	table[OpIndex] = Descriptor{Name: "index", OperandKind: [3]OperandKind{KindReg, KindVal, KindVal}, OperandN: 3, Assigned: 0}
	table[OpMember] = Descriptor{Name: "member", OperandKind: [3]OperandKind{KindReg, KindVal, KindImm}, OperandN: 3, Assigned: 0}
	table[OpNew] = Descriptor{Name: "new", OperandKind: [3]OperandKind{KindReg, KindFun, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpStackNew] = Descriptor{Name: "stack_new", OperandKind: [3]OperandKind{KindReg, KindFun, KindNone}, OperandN: 2, Assigned: 0, SideEffect: true}
	table[OpMemCopy] = Descriptor{Name: "memcopy", OperandKind: [3]OperandKind{KindVal, KindVal, KindImm}, OperandN: 3, Assigned: -1, SideEffect: true}
}

// Describe returns the static descriptor for op.
func Describe(op Opcode) Descriptor {
	return table[op]
}

func opName(op Opcode) string {
	switch op {
	case OpIAdd:
		return "iadd"
	case OpISub:
		return "isub"
	case OpIMul:
		return "imul"
	case OpIDiv:
		return "idiv"
	case OpIRem:
		return "irem"
	case OpINeg:
		return "ineg"
	case OpUAdd:
		return "uadd"
	case OpUSub:
		return "usub"
	case OpUMul:
		return "umul"
	case OpUDiv:
		return "udiv"
	case OpURem:
		return "urem"
	case OpFAdd:
		return "fadd"
	case OpFSub:
		return "fsub"
	case OpFMul:
		return "fmul"
	case OpFDiv:
		return "fdiv"
	case OpFNeg:
		return "fneg"
	case OpDAdd:
		return "dadd"
	case OpDSub:
		return "dsub"
	case OpDMul:
		return "dmul"
	case OpDDiv:
		return "ddiv"
	case OpDNeg:
		return "dneg"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpNot:
		return "not"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpLogAnd:
		return "log_and"
	case OpLogOr:
		return "log_or"
	case OpIEq:
		return "ieq"
	case OpINeq:
		return "ineq"
	case OpILt:
		return "ilt"
	case OpILte:
		return "ilte"
	case OpIGt:
		return "igt"
	case OpIGte:
		return "igte"
	case OpUEq:
		return "ueq"
	case OpUNeq:
		return "uneq"
	case OpULt:
		return "ult"
	case OpULte:
		return "ulte"
	case OpUGt:
		return "ugt"
	case OpUGte:
		return "ugte"
	case OpFEq:
		return "feq"
	case OpFNeq:
		return "fneq"
	case OpFLt:
		return "flt"
	case OpFLte:
		return "flte"
	case OpFGt:
		return "fgt"
	case OpFGte:
		return "fgte"
	case OpDEq:
		return "deq"
	case OpDNeq:
		return "dneq"
	case OpDLt:
		return "dlt"
	case OpDLte:
		return "dlte"
	case OpDGt:
		return "dgt"
	case OpDGte:
		return "dgte"
	case OpCvtIF:
		return "cvt_if"
	case OpCvtID:
		return "cvt_id"
	case OpCvtIU:
		return "cvt_iu"
	case OpCvtUF:
		return "cvt_uf"
	case OpCvtUD:
		return "cvt_ud"
	case OpCvtUI:
		return "cvt_ui"
	case OpCvtFI:
		return "cvt_fi"
	case OpCvtFU:
		return "cvt_fu"
	case OpCvtFD:
		return "cvt_fd"
	case OpCvtDI:
		return "cvt_di"
	case OpCvtDU:
		return "cvt_du"
	case OpCvtDF:
		return "cvt_df"
	default:
		return "?"
	}
}

func (op Opcode) String() string {
	if op < 0 || op >= opcodeCount {
		return "invalid"
	}
	if table[op].Name != "" {
		return table[op].Name
	}
	return opName(op)
}
