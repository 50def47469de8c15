package lower

import (
	"tsn/src/ast"
	"tsn/src/ffi"
	"tsn/src/ir"
	"tsn/src/types"
)

// lowerCall lowers a call expression: resolving the callee by name,
// promoting each argument to its declared parameter type, and dispatching
// to OpCall / OpCallHost / OpCallInline depending on the target Function's
// binding (§4.3, §4.6).
func (c *Context) lowerCall(n *ast.Node) (ir.Value, *types.Type, error) {
	calleeNode := n.Child(0)
	name := calleeNode.Text()

	fn := c.resolveFunction(name)
	if fn == nil {
		return ir.Value{}, nil, c.errorf(n, "call to undefined function %q", name)
	}
	if fn.IntrinsicKind() != ffi.IntrinsicNone {
		return c.lowerIntrinsicCall(n, fn)
	}
	sig := fn.Signature.GetEffectiveType()

	args := n.Children[1:]
	explicit := explicitArgs(sig.Args)
	if len(args) != len(explicit) {
		return ir.Value{}, nil, c.errorf(n, "%s expects %d arguments, got %d", name, len(explicit), len(args))
	}

	operands := make([]ir.Value, 0, len(args)+1)
	for i, argNode := range args {
		v, _, err := c.lowerExpr(argNode)
		if err != nil {
			return ir.Value{}, nil, err
		}
		v, err = c.fn.Promote(v, explicit[i].Type)
		if err != nil {
			return ir.Value{}, nil, c.errorf(argNode, "%v", err)
		}
		operands = append(operands, v)
	}

	op := ir.OpCall
	switch {
	case fn.Inline != nil:
		op = ir.OpCallInline
	case fn.Native != nil:
		op = ir.OpCallHost
	}

	callee := ir.Value{Kind: ir.ValFunc, Func: fn.ID}
	retType := sig.Return
	if retType != nil && retType.FQN == "void" {
		retType = nil
	}
	_, result := c.fn.EmitCall(op, retType, callee, operands)
	return result, sig.Return, nil
}

func explicitArgs(args []types.Argument) []types.Argument {
	out := make([]types.Argument, 0, len(args))
	for _, a := range args {
		if !a.Kind.IsImplicit() {
			out = append(out, a)
		}
	}
	return out
}

// resolveFunction looks up a callable by its short name among every
// Function this module and its imports own (§4.4 name resolution).
func (c *Context) resolveFunction(name string) *ffi.Function {
	for _, fn := range c.Module.AllFunctions() {
		if fn.ShortName == name || fn.FQN == name {
			return fn
		}
	}
	for _, imp := range c.Module.Imports {
		for _, fn := range imp.AllFunctions() {
			if fn.ShortName == name || fn.FQN == name {
				return fn
			}
		}
	}
	return nil
}
