// Package regalloc implements the linear-scan register allocator (§4.7):
// two independent passes — one over integer live ranges, one over
// floating-point live ranges — each with its own physical register budget,
// plus a coalescing stack manager for spilled values.
//
// Grounded stylistically on the teacher's backend/lir register-allocation
// code (vslc's RIG-based allocator: the per-function pass over an
// instruction vector, the "node"/register-file naming) but algorithmically
// on spec.md §4.7's linear-scan procedure rather than the teacher's
// graph-coloring one — the teacher targets native ISA backends with a
// small fixed register count where coloring pays off; a register VM with
// two flat, disjoint GPR/FPR banks is exactly the case linear-scan (no
// interference graph construction) is the idiomatic fit for.
package regalloc

import "tsn/src/types"

// Class is the integer/floating-point register bank a virtual register
// belongs to (§4.7: "two independent linear-scan passes").
type Class int

const (
	GPR Class = iota
	FPR
)

// ClassOf derives a Value's register class from its static type.
func ClassOf(t *types.Type) Class {
	if t != nil && t.Meta.FloatingPoint {
		return FPR
	}
	return GPR
}
