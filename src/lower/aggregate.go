package lower

import (
	"tsn/src/ast"
	"tsn/src/ffi"
	"tsn/src/ir"
	"tsn/src/types"
)

// lowerNew lowers `new T(...)` / `new[] T(...)` (onStack selects the
// stack-allocated strategy). §4.6 names three aggregate-construction
// strategies: on-stack (local, scope-bound lifetime), in-memory (heap,
// reference-counted), and in-module-memory (a module data slot, used for
// globals initialized by the module's init function). This path covers
// the first two; this package has no lowering for in-module-memory
// construction.
func (c *Context) lowerNew(n *ast.Node, onStack bool) (ir.Value, *types.Type, error) {
	typeName := n.Child(0).Text()
	t := c.Types.GetTypeByName(typeName)
	if t == nil {
		return ir.Value{}, nil, c.errorf(n, "unknown type %q", typeName)
	}
	ctor := c.resolveConstructor(t, len(n.Children)-1)
	if ctor == nil {
		return ir.Value{}, nil, c.errorf(n, "type %s has no matching constructor", typeName)
	}
	sig := ctor.Signature.GetEffectiveType()
	explicit := explicitArgs(sig.Args)

	argNodes := n.Children[1:]
	if len(argNodes) != len(explicit) {
		return ir.Value{}, nil, c.errorf(n, "constructor for %s expects %d arguments, got %d", typeName, len(explicit), len(argNodes))
	}
	args := make([]ir.Value, 0, len(argNodes))
	for i, an := range argNodes {
		v, _, err := c.lowerExpr(an)
		if err != nil {
			return ir.Value{}, nil, err
		}
		v, err = c.fn.Promote(v, explicit[i].Type)
		if err != nil {
			return ir.Value{}, nil, c.errorf(an, "%v", err)
		}
		args = append(args, v)
	}

	callee := ir.Value{Kind: ir.ValFunc, Func: ctor.ID}
	op := ir.OpNew
	if onStack {
		op = ir.OpStackNew
	}
	_, v := c.fn.EmitCall(op, t, callee, args)
	return v, t, nil
}

// resolveConstructor finds t's constructor taking argc explicit arguments
// among every Function the FFI binder registered for t. Overload
// resolution beyond arity (§4.1 "structural signature equivalence" governs
// type identity, not overload ranking) is a frontend concern; the core
// only needs to pick the one binder-registered ctor that matches by arity,
// since TSN classes expose at most one constructor per arity (§3.1
// invariant).
func (c *Context) resolveConstructor(t *types.Type, argc int) *ffi.Function {
	for _, fn := range c.Functions.All() {
		if fn.FQN != t.FQN+"::ctor" || fn.Module != t.Module {
			continue
		}
		sig := fn.Signature.GetEffectiveType()
		if sig.Return == nil || sig.Return.ID != t.ID {
			continue
		}
		if len(explicitArgs(sig.Args)) == argc {
			return fn
		}
	}
	return nil
}
