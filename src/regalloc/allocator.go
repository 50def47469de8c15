package regalloc

import "sort"

// Location is where a virtual register ended up: either a physical
// register index within its Class's bank, or a spill slot in the
// function's stack frame (§4.7 post-condition).
type Location struct {
	Spilled     bool
	PhysReg     int
	StackOffset uint32
}

// Allocation is the result of running the allocator over one FunctionDef:
// every virtual register's final Location, plus the spill stack manager
// (its FrameSize() feeds the function's total stack-frame size).
type Allocation struct {
	locations map[int]Location
	Stack     *StackManager
	SpillSize uint32 // bytes of spill slots (GPR/FPR spill words), distinct from stack-allocated locals.
}

// Lookup returns the Location assigned to a virtual register.
func (a *Allocation) Lookup(reg int) (Location, bool) {
	l, ok := a.locations[reg]
	return l, ok
}

// spillWordSize is the fixed slot width used for GPR/FPR spills; both
// banks are 64-bit register files (§4.8), so every spill slot is 8 bytes
// regardless of the spilled value's declared type width.
const spillWordSize = 8

// AllocateFunction runs the two independent linear-scan passes (§4.7) over
// ranges, one for numGPR integer registers and one for numFPR
// floating-point registers, and returns the combined physical/spill
// assignment. Callers obtain ranges from ComputeLiveRanges.
func AllocateFunction(ranges []LiveRange, numGPR, numFPR int) *Allocation {
	alloc := &Allocation{
		locations: make(map[int]Location),
		Stack:     NewStackManager(),
	}

	var gprRanges, fprRanges []LiveRange
	for _, r := range ranges {
		if r.Class == FPR {
			fprRanges = append(fprRanges, r)
		} else {
			gprRanges = append(gprRanges, r)
		}
	}

	linearScan(gprRanges, numGPR, alloc)
	linearScan(fprRanges, numFPR, alloc)
	alloc.SpillSize = alloc.Stack.FrameSize()
	return alloc
}

// activeEntry pairs a LiveRange with the physical register it currently
// occupies, for the `active` list (§4.7 step 2).
type activeEntry struct {
	rng     LiveRange
	physReg int
}

// linearScan performs one independent pass (§4.7 step 2) over ranges,
// already filtered to a single register Class, against a bank of k
// physical registers.
func linearScan(ranges []LiveRange, k int, alloc *Allocation) {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Begin < ranges[j].Begin })

	var active []activeEntry
	freeRegs := make([]int, k)
	for i := range freeRegs {
		freeRegs[i] = k - 1 - i // pop from the end; order is irrelevant.
	}

	popFree := func() int {
		r := freeRegs[len(freeRegs)-1]
		freeRegs = freeRegs[:len(freeRegs)-1]
		return r
	}
	pushFree := func(r int) {
		freeRegs = append(freeRegs, r)
	}

	spillToStack := func(reg int) {
		off := alloc.Stack.Alloc(spillWordSize)
		alloc.locations[reg] = Location{Spilled: true, StackOffset: off}
	}

	expireOldRanges := func(begin int) {
		i := 0
		for i < len(active) {
			if active[i].rng.End < begin {
				pushFree(active[i].physReg)
				active = append(active[:i], active[i+1:]...)
				continue
			}
			i++
		}
		sort.Slice(active, func(i, j int) bool { return active[i].rng.End < active[j].rng.End })
	}

	for _, cur := range ranges {
		expireOldRanges(cur.Begin)

		if len(active) == k {
			// Spill candidate: largest End in active (§4.7 step 2).
			spillIdx := len(active) - 1 // active sorted ascending by End.
			victim := active[spillIdx]
			if victim.rng.End > cur.End {
				// Steal victim's physical register for cur; spill victim.
				alloc.locations[cur.Reg] = Location{Spilled: false, PhysReg: victim.physReg}
				active[spillIdx] = activeEntry{rng: cur, physReg: victim.physReg}
				sort.Slice(active, func(i, j int) bool { return active[i].rng.End < active[j].rng.End })
				spillToStack(victim.rng.Reg)
				continue
			}
			spillToStack(cur.Reg)
			continue
		}

		reg := popFree()
		alloc.locations[cur.Reg] = Location{Spilled: false, PhysReg: reg}
		active = append(active, activeEntry{rng: cur, physReg: reg})
		sort.Slice(active, func(i, j int) bool { return active[i].rng.End < active[j].rng.End })
	}
}
