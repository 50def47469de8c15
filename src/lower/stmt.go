package lower

import (
	"tsn/src/ast"
	"tsn/src/ir"
	"tsn/src/types"
)

func (c *Context) lowerBlock(n *ast.Node) error {
	c.pushScope()
	defer c.popScope()
	for _, stmt := range n.Children {
		if err := c.lowerStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) lowerStmt(n *ast.Node) error {
	switch n.Typ {
	case ast.Block:
		return c.lowerBlock(n)
	case ast.VarDecl:
		return c.lowerVarDecl(n)
	case ast.ExprStmt:
		_, _, err := c.lowerExpr(n.Child(0))
		return err
	case ast.ReturnStmt:
		return c.lowerReturn(n)
	case ast.IfStmt:
		return c.lowerIf(n)
	case ast.WhileStmt:
		return c.lowerWhile(n)
	case ast.DoWhileStmt:
		return c.lowerDoWhile(n)
	case ast.ForStmt:
		return c.lowerFor(n)
	case ast.DeleteStmt:
		return c.lowerDelete(n)
	default:
		return c.errorf(n, "lowerStmt: unsupported node type %v", n.Typ)
	}
}

// lowerVarDecl handles the on-stack aggregate-construction strategy
// (§4.6): a non-class local gets its own scoped stack slot holding its
// initializer; a class-typed initializer's result is bound directly, with
// no separate slot, and tracked for scope-exit destruction.
func (c *Context) lowerVarDecl(n *ast.Node) error {
	name := n.Child(0).Text()
	initNode := n.Child(1)
	init, t, err := c.lowerExpr(initNode)
	if err != nil {
		return err
	}
	if t != nil && t.Kind == types.KindClass {
		// The initializer (a call, new or stack-new) already produced
		// the object handle; bind it directly.
		c.bind(name, init)
		c.trackDestructible(init, t)
		return nil
	}
	slot := c.fn.Stack(t, n.Child(0).Text(), true)
	c.fn.EmitVoid(ir.OpStore, slot, init, c.fn.ImmI(nil, 0))
	c.bind(name, slot)
	c.trackDestructible(slot, t)
	return nil
}

func (c *Context) lowerReturn(n *ast.Node) error {
	if n.Child(0) == nil {
		c.fn.EmitVoid(ir.OpRetVoid)
		return nil
	}
	v, t, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return err
	}
	if t != nil && t.Kind == types.KindClass {
		// Aggregate return path (§4.6): the callee writes directly
		// through the caller-supplied @ret pointer rather than copying a
		// value back through a register.
		c.fn.EmitVoid(ir.OpMemCopy, c.fn.Implicit(ir.ImplicitRet), v, c.fn.ImmI(nil, int64(t.Meta.Size)))
		c.fn.EmitVoid(ir.OpRetVoid)
		return nil
	}
	c.fn.EmitVoid(ir.OpAssignRet, v)
	c.fn.EmitVoid(ir.OpRet, v)
	return nil
}

func (c *Context) lowerIf(n *ast.Node) error {
	cond, _, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return err
	}
	elseLabel := c.fn.Label()
	c.fn.EmitVoid(ir.OpBranchIfZero, cond, elseLabel)
	if err := c.lowerStmt(n.Child(1)); err != nil {
		return err
	}
	if n.Child(2) == nil {
		c.fn.PlaceLabel(elseLabel)
		return nil
	}
	endLabel := c.fn.Label()
	c.fn.EmitVoid(ir.OpJump, endLabel)
	c.fn.PlaceLabel(elseLabel)
	if err := c.lowerStmt(n.Child(2)); err != nil {
		return err
	}
	c.fn.PlaceLabel(endLabel)
	return nil
}

func (c *Context) lowerWhile(n *ast.Node) error {
	top := c.fn.Label()
	end := c.fn.Label()
	c.fn.PlaceLabel(top)
	cond, _, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return err
	}
	c.fn.EmitVoid(ir.OpBranchIfZero, cond, end)
	if err := c.lowerStmt(n.Child(1)); err != nil {
		return err
	}
	c.fn.EmitVoid(ir.OpJump, top)
	c.fn.PlaceLabel(end)
	return nil
}

func (c *Context) lowerDoWhile(n *ast.Node) error {
	top := c.fn.Label()
	c.fn.PlaceLabel(top)
	if err := c.lowerStmt(n.Child(0)); err != nil {
		return err
	}
	cond, _, err := c.lowerExpr(n.Child(1))
	if err != nil {
		return err
	}
	c.fn.EmitVoid(ir.OpBranchIfNotZero, cond, top)
	return nil
}

func (c *Context) lowerFor(n *ast.Node) error {
	c.pushScope()
	defer c.popScope()
	if initN := n.Child(0); initN != nil {
		if err := c.lowerStmt(initN); err != nil {
			return err
		}
	}
	top := c.fn.Label()
	end := c.fn.Label()
	c.fn.PlaceLabel(top)
	if condN := n.Child(1); condN != nil {
		cond, _, err := c.lowerExpr(condN)
		if err != nil {
			return err
		}
		c.fn.EmitVoid(ir.OpBranchIfZero, cond, end)
	}
	if err := c.lowerStmt(n.Child(3)); err != nil {
		return err
	}
	if stepN := n.Child(2); stepN != nil {
		if _, _, err := c.lowerExpr(stepN); err != nil {
			return err
		}
	}
	c.fn.EmitVoid(ir.OpJump, top)
	c.fn.PlaceLabel(end)
	return nil
}

func (c *Context) lowerDelete(n *ast.Node) error {
	v, t, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return err
	}
	if t == nil || !t.HasDtor {
		return nil
	}
	if c.Functions.GetFunction(t.DtorID) == nil {
		return c.errorf(n, "type %s marked HasDtor but no destructor registered for id %d", t.FQN, t.DtorID)
	}
	callee := ir.Value{Kind: ir.ValFunc, Func: t.DtorID}
	c.fn.EmitCall(ir.OpCall, nil, callee, []ir.Value{v})
	return nil
}
