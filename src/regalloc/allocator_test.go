package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/ir"
	"tsn/src/types"
)

func i32() *types.Type {
	return &types.Type{FQN: "i32", ID: types.HashFQN("i32"), Meta: types.Meta{Size: 4, Primitive: true, Integral: true}}
}

// noConcurrentCollision is the §8 property-4 check: no two live ranges
// that overlap in instruction index are ever assigned the same physical
// register within the same Class.
func noConcurrentCollision(t *testing.T, ranges []LiveRange, alloc *Allocation) {
	for i := range ranges {
		for j := range ranges {
			if i == j {
				continue
			}
			a, b := ranges[i], ranges[j]
			if a.Class != b.Class {
				continue
			}
			la, ok := alloc.Lookup(a.Reg)
			if !ok || la.Spilled {
				continue
			}
			lb, ok := alloc.Lookup(b.Reg)
			if !ok || lb.Spilled {
				continue
			}
			overlap := a.Begin <= b.End && b.Begin <= a.End
			if overlap && la.PhysReg == lb.PhysReg {
				t.Fatalf("registers %d and %d overlap [%d,%d] vs [%d,%d] but share physreg %d",
					a.Reg, b.Reg, a.Begin, a.End, b.Begin, b.End, la.PhysReg)
			}
		}
	}
}

func TestAllocatorNoOverlapCollisionUnderPressure(t *testing.T) {
	fn := ir.NewFunctionDef("f", nil)
	t32 := i32()

	// 40 live temporaries, held simultaneously by a final reduction chain,
	// against a 16-GPR bank (§8 scenario 6: "loop allocation pressure").
	var vals []ir.Value
	for i := 0; i < 40; i++ {
		imm := fn.ImmI(t32, int64(i))
		_, v := fn.Emit(ir.OpIAdd, t32, imm, imm)
		vals = append(vals, v)
	}
	acc := vals[0]
	for i := 1; i < len(vals); i++ {
		_, acc = fn.Emit(ir.OpIAdd, t32, acc, vals[i])
	}
	fn.EmitVoid(ir.OpRet, acc)

	ranges := ComputeLiveRanges(fn)
	alloc := AllocateFunction(ranges, 16, 16)
	noConcurrentCollision(t, ranges, alloc)

	spilled := 0
	for _, r := range ranges {
		if loc, ok := alloc.Lookup(r.Reg); ok && loc.Spilled {
			spilled++
		}
	}
	require.GreaterOrEqual(t, spilled, 24, "expected at least 24 spills with 40 live temporaries over 16 GPRs")
}

func TestSpilledValueReadsBackFromExactOffset(t *testing.T) {
	fn := ir.NewFunctionDef("f", nil)
	t32 := i32()
	var vals []ir.Value
	for i := 0; i < 4; i++ {
		_, v := fn.Emit(ir.OpIAdd, t32, fn.ImmI(t32, 1), fn.ImmI(t32, 1))
		vals = append(vals, v)
	}
	acc := vals[0]
	for i := 1; i < len(vals); i++ {
		_, acc = fn.Emit(ir.OpIAdd, t32, acc, vals[i])
	}
	fn.EmitVoid(ir.OpRet, acc)

	ranges := ComputeLiveRanges(fn)
	alloc := AllocateFunction(ranges, 1, 1)

	offsets := make(map[int]uint32)
	for _, r := range ranges {
		loc, ok := alloc.Lookup(r.Reg)
		require.True(t, ok)
		if loc.Spilled {
			offsets[r.Reg] = loc.StackOffset
		}
	}
	// Re-resolving the same allocation must always report the same offset.
	for reg, off := range offsets {
		loc, ok := alloc.Lookup(reg)
		require.True(t, ok)
		require.Equal(t, off, loc.StackOffset)
	}
}

func TestStackManagerCoalescesFreeNeighbours(t *testing.T) {
	sm := NewStackManager()
	a := sm.Alloc(8)
	b := sm.Alloc(8)
	c := sm.Alloc(8)
	require.Equal(t, uint32(0), a)
	require.Equal(t, uint32(8), b)
	require.Equal(t, uint32(16), c)

	sm.Free(a)
	sm.Free(b)
	// a and b are adjacent and both free: a fresh 16-byte alloc should
	// reuse offset 0 exactly (coalescing), not append past c.
	reused := sm.Alloc(16)
	require.Equal(t, uint32(0), reused)
	require.Equal(t, uint32(24), sm.FrameSize())
}

func TestStackManagerFreeThenAllocSameSizeYieldsSameOffset(t *testing.T) {
	sm := NewStackManager()
	off := sm.Alloc(8)
	sm.Free(off)
	reused := sm.Alloc(8)
	require.Equal(t, off, reused)
}
