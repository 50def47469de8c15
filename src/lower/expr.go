package lower

import (
	"tsn/src/ast"
	"tsn/src/ir"
	"tsn/src/types"
)

// lowerExpr lowers one expression node to a Value plus its static Type.
func (c *Context) lowerExpr(n *ast.Node) (ir.Value, *types.Type, error) {
	switch n.Typ {
	case ast.IntLiteral:
		t := c.Types.GetTypeByName("i32")
		v, _ := n.Data.(int64)
		return c.fn.ImmI(t, v), t, nil
	case ast.FloatLiteral:
		t := c.Types.GetTypeByName("f64")
		v, _ := n.Data.(float64)
		return c.fn.ImmD(t, v), t, nil
	case ast.BoolLiteral:
		t := c.Types.GetTypeByName("i32")
		b, _ := n.Data.(bool)
		var iv int64
		if b {
			iv = 1
		}
		return c.fn.ImmI(t, iv), t, nil
	case ast.Identifier:
		name := n.Text()
		if v, ok := c.lookup(name); ok {
			return v, v.Type, nil
		}
		return ir.Value{}, nil, c.errorf(n, "undefined identifier %q", name)
	case ast.BinaryExpr:
		return c.lowerBinary(n)
	case ast.UnaryExpr:
		return c.lowerUnary(n)
	case ast.CallExpr:
		return c.lowerCall(n)
	case ast.IndexExpr:
		return c.lowerIndex(n)
	case ast.MemberExpr:
		if kind, _ := n.Data.(ast.MemberKind); kind == ast.MemberEnumValue || kind == ast.MemberModuleEnumValue {
			return c.lowerEnumValue(n, kind)
		}
		return c.lowerMember(n)
	case ast.NewExpr:
		return c.lowerNew(n, false)
	case ast.StackNewExpr:
		return c.lowerNew(n, true)
	case ast.ConditionalExpr:
		return c.lowerConditional(n)
	default:
		return ir.Value{}, nil, c.errorf(n, "lowerExpr: unsupported node type %v", n.Typ)
	}
}

// arithOpcode picks the IR opcode family by operand static type (§4.6):
// integer, unsigned, float or double variants of the same source operator.
func arithOpcode(op ast.BinaryOp, t *types.Type) (ir.Opcode, bool) {
	fam := typeFamily(t)
	table := map[ast.BinaryOp][4]ir.Opcode{
		ast.OpAdd:    {ir.OpIAdd, ir.OpUAdd, ir.OpFAdd, ir.OpDAdd},
		ast.OpSub:    {ir.OpISub, ir.OpUSub, ir.OpFSub, ir.OpDSub},
		ast.OpMul:    {ir.OpIMul, ir.OpUMul, ir.OpFMul, ir.OpDMul},
		ast.OpDiv:    {ir.OpIDiv, ir.OpUDiv, ir.OpFDiv, ir.OpDDiv},
		ast.OpMod:    {ir.OpIRem, ir.OpURem, ir.OpIRem, ir.OpIRem},
		ast.OpBitAnd: {ir.OpAnd, ir.OpAnd, ir.OpAnd, ir.OpAnd},
		ast.OpBitOr:  {ir.OpOr, ir.OpOr, ir.OpOr, ir.OpOr},
		ast.OpBitXor: {ir.OpXor, ir.OpXor, ir.OpXor, ir.OpXor},
		ast.OpShl:    {ir.OpShl, ir.OpShl, ir.OpShl, ir.OpShl},
		ast.OpShr:    {ir.OpShr, ir.OpShr, ir.OpShr, ir.OpShr},
		ast.OpLogAnd: {ir.OpLogAnd, ir.OpLogAnd, ir.OpLogAnd, ir.OpLogAnd},
		ast.OpLogOr:  {ir.OpLogOr, ir.OpLogOr, ir.OpLogOr, ir.OpLogOr},
		ast.OpEq:     {ir.OpIEq, ir.OpUEq, ir.OpFEq, ir.OpDEq},
		ast.OpNeq:    {ir.OpINeq, ir.OpUNeq, ir.OpFNeq, ir.OpDNeq},
		ast.OpLt:     {ir.OpILt, ir.OpULt, ir.OpFLt, ir.OpDLt},
		ast.OpLte:    {ir.OpILte, ir.OpULte, ir.OpFLte, ir.OpDLte},
		ast.OpGt:     {ir.OpIGt, ir.OpUGt, ir.OpFGt, ir.OpDGt},
		ast.OpGte:    {ir.OpIGte, ir.OpUGte, ir.OpFGte, ir.OpDGte},
	}
	row, ok := table[op]
	if !ok {
		return 0, false
	}
	return row[fam], true
}

// family indices: 0 int, 1 unsigned, 2 float, 3 double.
func typeFamily(t *types.Type) int {
	if t == nil {
		return 0
	}
	switch {
	case t.Meta.FloatingPoint && t.Meta.Size == 8:
		return 3
	case t.Meta.FloatingPoint:
		return 2
	case t.Meta.Unsigned:
		return 1
	default:
		return 0
	}
}

func (c *Context) lowerBinary(n *ast.Node) (ir.Value, *types.Type, error) {
	op, _ := n.Data.(ast.BinaryOp)
	if op == ast.OpAssign {
		return c.lowerAssign(n)
	}
	lhs, lt, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return ir.Value{}, nil, err
	}
	rhs, rt, err := c.lowerExpr(n.Child(1))
	if err != nil {
		return ir.Value{}, nil, err
	}
	result := lt
	if typeFamily(rt) > typeFamily(lt) {
		result = rt
	}
	lhs, err = c.fn.Promote(lhs, result)
	if err != nil {
		return ir.Value{}, nil, c.errorf(n, "%v", err)
	}
	rhs, err = c.fn.Promote(rhs, result)
	if err != nil {
		return ir.Value{}, nil, c.errorf(n, "%v", err)
	}
	opc, ok := arithOpcode(op, result)
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "unsupported binary operator")
	}
	resType := result
	switch op {
	case ast.OpEq, ast.OpNeq, ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte, ast.OpLogAnd, ast.OpLogOr:
		resType = c.Types.GetTypeByName("i32")
	}
	_, v := c.fn.Emit(opc, resType, lhs, rhs)
	return v, resType, nil
}

func (c *Context) lowerAssign(n *ast.Node) (ir.Value, *types.Type, error) {
	lhsNode := n.Child(0)
	rhs, _, err := c.lowerExpr(n.Child(1))
	if err != nil {
		return ir.Value{}, nil, err
	}
	switch lhsNode.Typ {
	case ast.Identifier:
		name := lhsNode.Text()
		dst, ok := c.lookup(name)
		if !ok {
			return ir.Value{}, nil, c.errorf(lhsNode, "assignment to undefined identifier %q", name)
		}
		rhs, err = c.fn.Promote(rhs, dst.Type)
		if err != nil {
			return ir.Value{}, nil, c.errorf(n, "%v", err)
		}
		if dst.Kind == ir.ValStack {
			c.fn.EmitVoid(ir.OpStore, dst, rhs, c.fn.ImmI(nil, 0))
		} else {
			c.bind(name, rhs)
		}
		return rhs, dst.Type, nil
	case ast.IndexExpr:
		base, elemT, idx, err := c.lowerIndexTarget(lhsNode)
		if err != nil {
			return ir.Value{}, nil, err
		}
		rhs, err = c.fn.Promote(rhs, elemT)
		if err != nil {
			return ir.Value{}, nil, c.errorf(n, "%v", err)
		}
		c.fn.EmitVoid(ir.OpStore, base, rhs, idx)
		return rhs, elemT, nil
	case ast.MemberExpr:
		base, offset, memT, err := c.lowerMemberTarget(lhsNode)
		if err != nil {
			return ir.Value{}, nil, err
		}
		rhs, err = c.fn.Promote(rhs, memT)
		if err != nil {
			return ir.Value{}, nil, c.errorf(n, "%v", err)
		}
		c.fn.EmitVoid(ir.OpStore, base, rhs, c.fn.ImmI(nil, int64(offset)))
		return rhs, memT, nil
	default:
		return ir.Value{}, nil, c.errorf(n, "invalid assignment target")
	}
}

func (c *Context) lowerUnary(n *ast.Node) (ir.Value, *types.Type, error) {
	op, _ := n.Data.(ast.UnaryOp)
	operand, t, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return ir.Value{}, nil, err
	}
	var opc ir.Opcode
	switch op {
	case ast.OpNeg:
		switch typeFamily(t) {
		case 2:
			opc = ir.OpFNeg
		case 3:
			opc = ir.OpDNeg
		default:
			opc = ir.OpINeg
		}
	case ast.OpBitNot:
		opc = ir.OpNot
	case ast.OpNot:
		opc = ir.OpNot
	default:
		return ir.Value{}, nil, c.errorf(n, "unsupported unary operator")
	}
	_, v := c.fn.Emit(opc, t, operand)
	return v, t, nil
}

func (c *Context) lowerConditional(n *ast.Node) (ir.Value, *types.Type, error) {
	cond, _, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return ir.Value{}, nil, err
	}
	elseLabel := c.fn.Label()
	endLabel := c.fn.Label()
	c.fn.EmitVoid(ir.OpBranchIfZero, cond, elseLabel)

	thenV, thenT, err := c.lowerExpr(n.Child(1))
	if err != nil {
		return ir.Value{}, nil, err
	}
	result := c.fn.Val(thenT)
	c.fn.EmitVoid(ir.OpStore, ir.Value{Kind: ir.ValReg, Reg: result.Reg, Type: thenT}, thenV, c.fn.ImmI(nil, 0))
	c.fn.EmitVoid(ir.OpJump, endLabel)

	c.fn.PlaceLabel(elseLabel)
	elseV, _, err := c.lowerExpr(n.Child(2))
	if err != nil {
		return ir.Value{}, nil, err
	}
	c.fn.EmitVoid(ir.OpStore, ir.Value{Kind: ir.ValReg, Reg: result.Reg, Type: thenT}, elseV, c.fn.ImmI(nil, 0))

	c.fn.PlaceLabel(endLabel)
	return result, thenT, nil
}

func (c *Context) lowerIndex(n *ast.Node) (ir.Value, *types.Type, error) {
	base, elemT, idx, err := c.lowerIndexTarget(n)
	if err != nil {
		return ir.Value{}, nil, err
	}
	_, v := c.fn.Emit(ir.OpIndex, elemT, base, idx)
	return v, elemT, nil
}

func (c *Context) lowerIndexTarget(n *ast.Node) (ir.Value, *types.Type, ir.Value, error) {
	base, baseT, err := c.lowerExpr(n.Child(0))
	if err != nil {
		return ir.Value{}, nil, ir.Value{}, err
	}
	idx, _, err := c.lowerExpr(n.Child(1))
	if err != nil {
		return ir.Value{}, nil, ir.Value{}, err
	}
	elemT := baseT
	if baseT != nil && len(baseT.Properties) == 1 {
		elemT = baseT.Properties[0].Type
	}
	return base, elemT, idx, nil
}
