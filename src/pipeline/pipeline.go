// Package pipeline orchestrates one module's compilation end to end
// (§6, §7, component J): AST bodies in, a runnable vm.Program per
// function out, plus the on-disk cache inventory (cache.go) that records
// each source's staleness. Compiled programs are not written to disk.
//
// Grounded on the teacher's src/vslc.go driver (parse -> generate IR ->
// allocate registers -> emit), generalized from vslc's single
// generate-then-emit pass to this repo's lower/regalloc/backend split,
// and on Workspace.cpp/Pipeline.cpp (original_source) for the
// buildFromSource/buildFromCached naming and staleness-driven control
// flow.
package pipeline

import (
	"github.com/pkg/errors"

	"tsn/src/ast"
	"tsn/src/backend"
	"tsn/src/ffi"
	"tsn/src/ir"
	"tsn/src/lower"
	"tsn/src/modules"
	"tsn/src/regalloc"
	"tsn/src/types"
	"tsn/src/util"
	"tsn/src/vm"
)

// NumAllocatableGPR/NumAllocatableFPR cap the register allocator below
// the VM's full s0..s15 callee-saved banks (§4.8 "Call convention"): the
// backend reserves v0..v3 in each bank for return values and lowering
// scratch space, so only the sixteen s-registers are ever handed out by
// regalloc.Run, and it already never exceeds that count.
const (
	NumAllocatableGPR = 16
	NumAllocatableFPR = 16
)

// Unit is one module's source material: its declared functions paired
// with the AST body to lower (nil body means a pure host stub, §4.6
// "host function with no script body").
type Unit struct {
	Module    *modules.Module
	Types     *types.Registry
	Functions *ffi.Registry
	Bodies    map[*ffi.Function]*ast.Node  // function -> body; ParamNames keyed the same way.
	Params    map[*ffi.Function][]string
}

// Build lowers every function body in u to IR, allocates registers and
// generates VM bytecode, returning one vm.Program per function keyed by
// its Function.ID (matching how vm.State.Programs is keyed, and how
// ir.Value.Func/vm's Jal immediate address a callee, §4.8).
//
// Compilation stops at the first error (§7 "the pipeline refuses to
// emit a module if any error was logged" is enforced one level up, by
// the caller inspecting log.Messages() after a successful Build).
func Build(u *Unit, log *util.Logger) (map[uint32]*vm.Program, error) {
	ctx := lower.NewContext(u.Module, u.Types, u.Functions, log)

	programs := make(map[uint32]*vm.Program, len(u.Bodies))
	for fn, body := range u.Bodies {
		def, err := ctx.LowerFunction(u.Params[fn], body, fn)
		if err != nil {
			return nil, errors.Wrapf(err, "lowering %s", fn.FQN)
		}
		prog, err := compileFunction(def)
		if err != nil {
			return nil, errors.Wrapf(err, "generating code for %s", fn.FQN)
		}
		programs[fn.ID] = prog
	}

	deferred, err := ctx.FlushDeferred()
	if err != nil {
		return nil, errors.Wrap(err, "lowering deferred methods")
	}
	for fn, def := range deferred {
		prog, err := compileFunction(def)
		if err != nil {
			return nil, errors.Wrapf(err, "generating code for %s", fn.FQN)
		}
		programs[fn.ID] = prog
	}

	return programs, nil
}

// compileFunction runs def through the register allocator and the
// backend lowering pass (§4.7, §4.8).
func compileFunction(def *ir.FunctionDef) (*vm.Program, error) {
	result := regalloc.Run(def, NumAllocatableGPR, NumAllocatableFPR)
	return backend.Lower(def, result)
}
