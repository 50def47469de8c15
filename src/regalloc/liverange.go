package regalloc

import "tsn/src/ir"

// LiveRange is one virtual register's [Begin, End] instruction-index
// interval (§4.7 step 1).
type LiveRange struct {
	Reg   int
	Class Class
	Begin int
	End   int
}

// ComputeLiveRanges scans fn's instructions once to open a range at each
// register's defining instruction and extend it to its last use, then
// iterates backward-jump targets to fixpoint so loop-carried registers
// stay live across the whole loop body (§4.7 step 1).
func ComputeLiveRanges(fn *ir.FunctionDef) []LiveRange {
	instrs := fn.Instructions()
	ranges := make(map[int]*LiveRange)

	labelIndex := make(map[int]int)
	for i, ins := range instrs {
		if ins.Op == ir.OpLabel {
			labelIndex[ins.Operands[0].Label] = i
		}
	}

	touch := func(reg int, cls Class, idx int) {
		r, ok := ranges[reg]
		if !ok {
			ranges[reg] = &LiveRange{Reg: reg, Class: cls, Begin: idx, End: idx}
			return
		}
		if idx > r.End {
			r.End = idx
		}
		if idx < r.Begin {
			r.Begin = idx
		}
	}

	for i := range instrs {
		ins := &instrs[i]
		for slot := 0; slot < 3; slot++ {
			v := ins.Operands[slot]
			if v.Kind != ir.ValReg {
				continue
			}
			touch(v.Reg, ClassOf(v.Type), i)
		}
		for _, v := range ins.Args {
			if v.Kind == ir.ValReg {
				touch(v.Reg, ClassOf(v.Type), i)
			}
		}
	}

	// Backward-jump extension, iterated to fixpoint (§4.7 step 1).
	jumpTargets := func() [][2]int {
		var out [][2]int
		for i, ins := range instrs {
			switch ins.Op {
			case ir.OpJump:
				out = append(out, [2]int{i, ins.Operands[0].Label})
			case ir.OpBranchIfZero, ir.OpBranchIfNotZero:
				out = append(out, [2]int{i, ins.Operands[1].Label})
			}
		}
		return out
	}()

	changed := true
	for changed {
		changed = false
		for _, jt := range jumpTargets {
			from, label := jt[0], jt[1]
			target, ok := labelIndex[label]
			if !ok || target >= from {
				continue // forward jump, nothing to extend.
			}
			for _, r := range ranges {
				if r.Begin <= target && r.End >= target && r.End < from {
					r.End = from
					changed = true
				}
			}
		}
	}

	out := make([]LiveRange, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, *r)
	}
	return out
}
