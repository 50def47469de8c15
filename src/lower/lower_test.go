package lower

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tsn/src/ast"
	"tsn/src/ffi"
	"tsn/src/ir"
	"tsn/src/modules"
	"tsn/src/types"
	"tsn/src/util"
)

func ident(name string) *ast.Node {
	return &ast.Node{Typ: ast.Identifier, Data: name}
}

func intLit(v int64) *ast.Node {
	return &ast.Node{Typ: ast.IntLiteral, Data: v}
}

type fixture struct {
	ctx  *Context
	reg  *types.Registry
	mod  *modules.Module
	i32  *types.Type
	f64  *types.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := types.NewRegistry()
	funcs := ffi.NewRegistry()
	mod := modules.NewModule("main.tsn", reg, funcs)

	i32 := &types.Type{FQN: "i32", ShortName: "i32", Meta: types.Meta{Size: 4, Integral: true, Primitive: true}}
	f64 := &types.Type{FQN: "f64", ShortName: "f64", Meta: types.Meta{Size: 8, FloatingPoint: true, Primitive: true}}
	reg.AddType(i32)
	reg.AddType(f64)

	ctx := NewContext(mod, reg, funcs, util.NewLogger())
	ctx.fn = ir.NewFunctionDef("test", nil)
	ctx.pushScope()
	return &fixture{ctx: ctx, reg: reg, mod: mod, i32: i32, f64: f64}
}

func TestLowerBinaryPromotesToWiderFamily(t *testing.T) {
	fx := newFixture(t)
	n := &ast.Node{
		Typ:      ast.BinaryExpr,
		Data:     ast.OpAdd,
		Children: []*ast.Node{intLit(2), {Typ: ast.FloatLiteral, Data: 1.5}},
	}
	v, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, fx.f64, rt)
	require.Equal(t, ir.ValReg, v.Kind)

	ins := fx.ctx.fn.Instructions()
	require.NotEmpty(t, ins)
	last := ins[len(ins)-1]
	require.Equal(t, ir.OpDAdd, last.Op)
}

func TestLowerComparisonResultIsI32(t *testing.T) {
	fx := newFixture(t)
	n := &ast.Node{
		Typ:      ast.BinaryExpr,
		Data:     ast.OpLt,
		Children: []*ast.Node{intLit(1), intLit(2)},
	}
	_, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, fx.i32, rt)
}

func TestLowerAssignToRegisterRebindsScope(t *testing.T) {
	fx := newFixture(t)
	x := fx.ctx.fn.Val(fx.i32)
	fx.ctx.bind("x", x)

	n := &ast.Node{
		Typ:      ast.BinaryExpr,
		Data:     ast.OpAssign,
		Children: []*ast.Node{ident("x"), intLit(9)},
	}
	v, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, fx.i32, rt)

	bound, ok := fx.ctx.lookup("x")
	require.True(t, ok)
	require.Equal(t, v, bound)
}

func TestLowerAssignToUndefinedIdentifierErrors(t *testing.T) {
	fx := newFixture(t)
	n := &ast.Node{
		Typ:      ast.BinaryExpr,
		Data:     ast.OpAssign,
		Children: []*ast.Node{ident("nope"), intLit(1)},
	}
	_, _, err := fx.ctx.lowerExpr(n)
	require.Error(t, err)
}

func TestLowerEnumValueResolvesToImmediate(t *testing.T) {
	fx := newFixture(t)
	colorT := &types.Type{
		FQN:       "Color",
		ShortName: "Color",
		Properties: []types.Property{
			{Name: "Red", Offset: 0},
			{Name: "Green", Offset: 1},
			{Name: "Blue", Offset: 2},
		},
	}
	fx.reg.AddType(colorT)

	n := &ast.Node{
		Typ:      ast.MemberExpr,
		Data:     ast.MemberEnumValue,
		Children: []*ast.Node{ident("Color"), ident("Green")},
	}
	v, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, colorT, rt)
	require.Equal(t, ir.ValImmI, v.Kind)
	require.EqualValues(t, 1, v.ImmI)
}

func TestLowerEnumValueUnknownMemberErrors(t *testing.T) {
	fx := newFixture(t)
	colorT := &types.Type{FQN: "Color", ShortName: "Color", Properties: []types.Property{{Name: "Red", Offset: 0}}}
	fx.reg.AddType(colorT)

	n := &ast.Node{
		Typ:      ast.MemberExpr,
		Data:     ast.MemberEnumValue,
		Children: []*ast.Node{ident("Color"), ident("Purple")},
	}
	_, _, err := fx.ctx.lowerExpr(n)
	require.Error(t, err)
}

func TestLowerCallDispatchesToHostOpcode(t *testing.T) {
	fx := newFixture(t)
	sig := &types.Type{Kind: types.KindFunction, Return: fx.i32}
	fn := &ffi.Function{ShortName: "hostFn", FQN: "hostFn", Signature: sig, Native: func() {}}
	fx.mod.DeclareFunction(fn)

	n := &ast.Node{
		Typ:      ast.CallExpr,
		Children: []*ast.Node{ident("hostFn")},
	}
	_, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, fx.i32, rt)

	ins := fx.ctx.fn.Instructions()
	require.Equal(t, ir.OpCallHost, ins[len(ins)-1].Op)
}

func TestLowerCallArityMismatchErrors(t *testing.T) {
	fx := newFixture(t)
	sig := &types.Type{Kind: types.KindFunction, Return: fx.i32, Args: []types.Argument{{Kind: types.ArgValue, Type: fx.i32}}}
	fn := &ffi.Function{ShortName: "needsArg", FQN: "needsArg", Signature: sig, Native: func() {}}
	fx.mod.DeclareFunction(fn)

	n := &ast.Node{
		Typ:      ast.CallExpr,
		Children: []*ast.Node{ident("needsArg")},
	}
	_, _, err := fx.ctx.lowerExpr(n)
	require.Error(t, err)
}

func TestLowerFunctionBindsParamsPositionally(t *testing.T) {
	fx := newFixture(t)
	sig := &types.Type{
		Kind:   types.KindFunction,
		Return: fx.i32,
		Args: []types.Argument{
			{Kind: types.ArgContextPtr, Type: fx.i32},
			{Kind: types.ArgValue, Type: fx.i32},
			{Kind: types.ArgValue, Type: fx.f64},
		},
	}
	fn := &ffi.Function{ShortName: "add", FQN: "add", Signature: sig}

	body := &ast.Node{
		Typ: ast.Block,
		Children: []*ast.Node{
			{Typ: ast.ReturnStmt, Children: []*ast.Node{ident("a")}},
		},
	}

	def, err := fx.ctx.LowerFunction([]string{"a", "b"}, body, fn)
	require.NoError(t, err)
	require.NotNil(t, def)
	require.Equal(t, 2, def.NumRegs())
}

func TestLowerFunctionWithNilBodyIsHostStub(t *testing.T) {
	fx := newFixture(t)
	sig := &types.Type{Kind: types.KindFunction, Return: nil}
	fn := &ffi.Function{ShortName: "noop", FQN: "noop", Signature: sig}

	def, err := fx.ctx.LowerFunction(nil, nil, fn)
	require.NoError(t, err)
	require.Empty(t, def.Instructions())
}

func TestLowerBlockDestroysScopedAggregateOnExit(t *testing.T) {
	fx := newFixture(t)
	counterT := &types.Type{
		Kind:    types.KindClass,
		FQN:     "Counter",
		HasDtor: true,
		DtorID:  77,
	}
	fx.reg.AddType(counterT)

	ctorSig := &types.Type{Kind: types.KindFunction, Return: counterT}
	ctorFn := &ffi.Function{ShortName: "Counter", FQN: "Counter::ctor", Signature: ctorSig, Native: func() {}}
	fx.mod.DeclareFunction(ctorFn)

	body := &ast.Node{
		Typ: ast.Block,
		Children: []*ast.Node{
			{
				Typ: ast.VarDecl,
				Children: []*ast.Node{
					ident("c"),
					{Typ: ast.CallExpr, Children: []*ast.Node{ident("Counter")}},
				},
			},
		},
	}

	err := fx.ctx.lowerBlock(body)
	require.NoError(t, err)

	ins := fx.ctx.fn.Instructions()
	require.NotEmpty(t, ins)
	last := ins[len(ins)-1]
	require.Equal(t, ir.OpCall, last.Op)
	require.Equal(t, ir.ValFunc, last.Operands[1].Kind)
	require.EqualValues(t, 77, last.Operands[1].Func)
}

func TestLowerVarDeclScopesPrimitiveStackSlot(t *testing.T) {
	fx := newFixture(t)
	body := &ast.Node{
		Typ: ast.Block,
		Children: []*ast.Node{
			{
				Typ:      ast.VarDecl,
				Children: []*ast.Node{ident("x"), intLit(5)},
			},
		},
	}

	err := fx.ctx.lowerBlock(body)
	require.NoError(t, err)

	slots := fx.ctx.fn.StackSlots()
	require.Len(t, slots, 1)
	require.True(t, slots[0].Scoped)

	// A primitive has no destructor, so scope exit emits no extra call.
	ins := fx.ctx.fn.Instructions()
	for _, in := range ins {
		require.NotEqual(t, ir.OpCall, in.Op)
	}
}

func TestLowerIntrinsicArrayLengthReadsLengthProperty(t *testing.T) {
	fx := newFixture(t)
	arrayT := &types.Type{
		Kind:            types.KindClass,
		FQN:             "Array",
		TemplateContext: fx.i32,
		Properties: []types.Property{
			{Name: "length", Type: fx.i32, Offset: 0},
			{Name: "capacity", Type: fx.i32, Offset: 4},
			{Name: "data", Type: fx.i32, Offset: 8},
		},
	}
	fx.reg.AddType(arrayT)

	sig := &types.Type{Kind: types.KindFunction, Return: fx.i32}
	fn := ffi.WithIntrinsic(&ffi.Function{ShortName: "length", FQN: "length", Signature: sig}, ffi.IntrinsicArrayLength)
	fx.mod.DeclareFunction(fn)

	arr := fx.ctx.fn.Val(arrayT)
	fx.ctx.bind("arr", arr)

	n := &ast.Node{
		Typ:      ast.CallExpr,
		Children: []*ast.Node{ident("length"), ident("arr")},
	}
	v, rt, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)
	require.Equal(t, fx.i32, rt)
	require.Equal(t, ir.ValReg, v.Kind)

	ins := fx.ctx.fn.Instructions()
	require.NotEmpty(t, ins)
	last := ins[len(ins)-1]
	require.Equal(t, ir.OpMember, last.Op)
	require.EqualValues(t, 0, last.Operands[2].ImmI)
}

func TestLowerIntrinsicArrayPushWritesAndBumpsLength(t *testing.T) {
	fx := newFixture(t)
	arrayT := &types.Type{
		Kind:            types.KindClass,
		FQN:             "Array",
		TemplateContext: fx.i32,
		Properties: []types.Property{
			{Name: "length", Type: fx.i32, Offset: 0},
			{Name: "capacity", Type: fx.i32, Offset: 4},
			{Name: "data", Type: fx.i32, Offset: 8},
		},
	}
	fx.reg.AddType(arrayT)

	sig := &types.Type{Kind: types.KindFunction, Return: nil}
	fn := ffi.WithIntrinsic(&ffi.Function{ShortName: "push", FQN: "push", Signature: sig}, ffi.IntrinsicArrayPush)
	fx.mod.DeclareFunction(fn)

	arr := fx.ctx.fn.Val(arrayT)
	fx.ctx.bind("arr", arr)

	n := &ast.Node{
		Typ:      ast.CallExpr,
		Children: []*ast.Node{ident("push"), ident("arr"), intLit(9)},
	}
	_, _, err := fx.ctx.lowerExpr(n)
	require.NoError(t, err)

	ins := fx.ctx.fn.Instructions()
	var storeCount, memberCount int
	for _, in := range ins {
		switch in.Op {
		case ir.OpStore:
			storeCount++
		case ir.OpMember:
			memberCount++
		}
	}
	require.Equal(t, 2, storeCount) // element write + length writeback.
	require.Equal(t, 2, memberCount) // read length + read data pointer.
}

func TestDeferMethodFlushesAllQueuedBodies(t *testing.T) {
	fx := newFixture(t)
	sig := &types.Type{Kind: types.KindFunction, Return: nil}
	fn1 := &ffi.Function{ShortName: "m1", FQN: "C::m1", Signature: sig}
	fn2 := &ffi.Function{ShortName: "m2", FQN: "C::m2", Signature: sig}
	classT := &types.Type{Kind: types.KindClass, FQN: "C"}

	body := &ast.Node{Typ: ast.Block}
	fx.ctx.DeferMethod(classT, body, fn1, nil)
	fx.ctx.DeferMethod(classT, body, fn2, nil)

	defs, err := fx.ctx.FlushDeferred()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Contains(t, defs, fn1)
	require.Contains(t, defs, fn2)
}
