package lower

import (
	"tsn/src/ast"
	"tsn/src/ffi"
	"tsn/src/ir"
	"tsn/src/types"
)

// lowerIntrinsicCall expands a call to an Intrinsic-tagged Function directly
// to IR instead of emitting OpCall/OpCallHost (§4.3 "inline code generator",
// the mechanism the original uses for Array<T>/Pointer<T>). Call syntax for
// an intrinsic is uniform with every other call this package lowers: the
// container/pointer instance is the first explicit call argument, the rest
// are the intrinsic's own operands (e.g. `push(arr, x)`, `index(arr, i)`),
// matching lowerCall's flat name+positional-argument model rather than
// inventing a dotted method-call AST shape the frontend doesn't produce.
//
// A bound container Type is expected to carry its element/pointee type in
// TemplateContext (§3.1 "opaque blob, specializer-owned" — exactly the slot
// a Template specializer would stash it in) and expose "length"/"capacity"/
// "refCount"/"data" Properties as needed by the intrinsic, the same
// findProperty-based convention lowerMember already uses for named members.
func (c *Context) lowerIntrinsicCall(n *ast.Node, fn *ffi.Function) (ir.Value, *types.Type, error) {
	argNodes := n.Children[1:]
	if len(argNodes) == 0 {
		return ir.Value{}, nil, c.errorf(n, "%s: intrinsic call needs a container/pointer argument", fn.ShortName)
	}
	self, selfT, err := c.lowerExpr(argNodes[0])
	if err != nil {
		return ir.Value{}, nil, err
	}
	rest := argNodes[1:]

	switch fn.IntrinsicKind() {
	case ffi.IntrinsicArrayLength:
		return c.lowerContainerProp(n, self, selfT, "length")
	case ffi.IntrinsicArrayCapacity:
		return c.lowerContainerProp(n, self, selfT, "capacity")
	case ffi.IntrinsicPointerRefCount:
		return c.lowerContainerProp(n, self, selfT, "refCount")
	case ffi.IntrinsicArrayIndex:
		return c.lowerArrayIndex(n, self, selfT, rest)
	case ffi.IntrinsicArrayPush:
		return c.lowerArrayPush(n, self, selfT, rest)
	case ffi.IntrinsicPointerDeref:
		return c.lowerPointerDeref(n, self, selfT)
	case ffi.IntrinsicPointerRelease:
		return c.lowerPointerRelease(n, self, selfT)
	case ffi.IntrinsicHostDefined:
		return c.lowerHostDefinedIntrinsic(n, fn, self, selfT, rest)
	default:
		return ir.Value{}, nil, c.errorf(n, "%s: call marked intrinsic but carries an unrecognized kind", fn.ShortName)
	}
}

// containedType returns a container/pointer Type's bound element type, per
// the TemplateContext convention documented on lowerIntrinsicCall.
func containedType(t *types.Type) *types.Type {
	if t == nil {
		return nil
	}
	et, _ := t.TemplateContext.(*types.Type)
	return et
}

func (c *Context) lowerContainerProp(n *ast.Node, self ir.Value, selfT *types.Type, name string) (ir.Value, *types.Type, error) {
	prop, ok := findProperty(selfT, name)
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no %q property", selfT.FQN, name)
	}
	_, v := c.fn.Emit(ir.OpMember, prop.Type, self, c.fn.ImmI(nil, int64(prop.Offset)))
	return v, prop.Type, nil
}

func (c *Context) lowerArrayIndex(n *ast.Node, self ir.Value, selfT *types.Type, rest []*ast.Node) (ir.Value, *types.Type, error) {
	if len(rest) != 1 {
		return ir.Value{}, nil, c.errorf(n, "array index intrinsic expects exactly one index argument")
	}
	idx, _, err := c.lowerExpr(rest[0])
	if err != nil {
		return ir.Value{}, nil, err
	}
	dataProp, ok := findProperty(selfT, "data")
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no %q property", selfT.FQN, "data")
	}
	elemT := containedType(selfT)
	if elemT == nil {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no bound element type", selfT.FQN)
	}
	_, dataPtr := c.fn.Emit(ir.OpMember, dataProp.Type, self, c.fn.ImmI(nil, int64(dataProp.Offset)))
	_, v := c.fn.Emit(ir.OpIndex, elemT, dataPtr, idx)
	return v, elemT, nil
}

// lowerArrayPush writes val at data[length], then stores length+1 back
// (§4.3, no backing-store growth: the host binder is responsible for
// pre-sizing capacity, matching the original's fixed-capacity fast path).
func (c *Context) lowerArrayPush(n *ast.Node, self ir.Value, selfT *types.Type, rest []*ast.Node) (ir.Value, *types.Type, error) {
	if len(rest) != 1 {
		return ir.Value{}, nil, c.errorf(n, "array push intrinsic expects exactly one value argument")
	}
	val, _, err := c.lowerExpr(rest[0])
	if err != nil {
		return ir.Value{}, nil, err
	}
	lengthProp, ok := findProperty(selfT, "length")
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no %q property", selfT.FQN, "length")
	}
	dataProp, ok := findProperty(selfT, "data")
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no %q property", selfT.FQN, "data")
	}
	elemT := containedType(selfT)
	if elemT == nil {
		return ir.Value{}, nil, c.errorf(n, "container type %s has no bound element type", selfT.FQN)
	}
	val, err = c.fn.Promote(val, elemT)
	if err != nil {
		return ir.Value{}, nil, c.errorf(n, "%v", err)
	}

	_, length := c.fn.Emit(ir.OpMember, lengthProp.Type, self, c.fn.ImmI(nil, int64(lengthProp.Offset)))
	_, dataPtr := c.fn.Emit(ir.OpMember, dataProp.Type, self, c.fn.ImmI(nil, int64(dataProp.Offset)))
	c.fn.EmitVoid(ir.OpStore, dataPtr, val, length)

	one := c.fn.ImmI(lengthProp.Type, 1)
	opAdd, _ := arithOpcode(ast.OpAdd, lengthProp.Type)
	_, newLength := c.fn.Emit(opAdd, lengthProp.Type, length, one)
	c.fn.EmitVoid(ir.OpStore, self, newLength, c.fn.ImmI(nil, int64(lengthProp.Offset)))
	return newLength, lengthProp.Type, nil
}

func (c *Context) lowerPointerDeref(n *ast.Node, self ir.Value, selfT *types.Type) (ir.Value, *types.Type, error) {
	elemT := containedType(selfT)
	if elemT == nil {
		return ir.Value{}, nil, c.errorf(n, "pointer type %s has no bound pointee type", selfT.FQN)
	}
	dataProp, ok := findProperty(selfT, "data")
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "pointer type %s has no %q property", selfT.FQN, "data")
	}
	_, dataPtr := c.fn.Emit(ir.OpMember, dataProp.Type, self, c.fn.ImmI(nil, int64(dataProp.Offset)))
	_, v := c.fn.Emit(ir.OpLoad, elemT, dataPtr, c.fn.ImmI(nil, 0))
	return v, elemT, nil
}

// lowerPointerRelease decrements refCount and, if it reaches zero and the
// pointee has a destructor, dispatches it — the same destructor-call shape
// popScope/lowerDelete already emit (a one-argument OpCall to DtorID).
func (c *Context) lowerPointerRelease(n *ast.Node, self ir.Value, selfT *types.Type) (ir.Value, *types.Type, error) {
	refProp, ok := findProperty(selfT, "refCount")
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "pointer type %s has no %q property", selfT.FQN, "refCount")
	}
	_, ref := c.fn.Emit(ir.OpMember, refProp.Type, self, c.fn.ImmI(nil, int64(refProp.Offset)))
	one := c.fn.ImmI(refProp.Type, 1)
	_, newRef := c.fn.Emit(ir.OpISub, refProp.Type, ref, one)
	c.fn.EmitVoid(ir.OpStore, self, newRef, c.fn.ImmI(nil, int64(refProp.Offset)))

	elemT := containedType(selfT)
	if elemT != nil && elemT.HasDtor {
		skip := c.fn.Label()
		c.fn.EmitVoid(ir.OpBranchIfNotZero, newRef, skip)
		if dataProp, ok := findProperty(selfT, "data"); ok {
			_, dataPtr := c.fn.Emit(ir.OpMember, dataProp.Type, self, c.fn.ImmI(nil, int64(dataProp.Offset)))
			callee := ir.Value{Kind: ir.ValFunc, Func: elemT.DtorID}
			c.fn.EmitCall(ir.OpCall, nil, callee, []ir.Value{dataPtr})
		}
		c.fn.PlaceLabel(skip)
	}
	return newRef, refProp.Type, nil
}

// inlineContext is the concrete ffi.InlineCodeGenContext src/lower hands to
// a host-defined intrinsic's callback (ffi.IntrinsicHostDefined): enough of
// the lowering context — the function builder, the container instance, the
// resolved argument values and the call's destination register — for the
// callback to emit its own IR, per ffi/intrinsic.go's doc comment.
type inlineContext struct {
	ctx   *Context
	Self_ ir.Value
	SelfT *types.Type
	Args  []ir.Value
	Dest  ir.Value
}

func (i *inlineContext) Self() ffi.InlineCodeGenContext { return i }

// FunctionDef returns the FunctionDef currently being built, so a callback
// can append its own IR instructions.
func (i *inlineContext) FunctionDef() *ir.FunctionDef { return i.ctx.fn }

// Instance returns the container/pointer value the call targeted, plus its
// static Type.
func (i *inlineContext) Instance() (ir.Value, *types.Type) { return i.Self_, i.SelfT }

// Arguments returns the call's already-lowered explicit arguments, in
// source order (excluding the instance).
func (i *inlineContext) Arguments() []ir.Value { return i.Args }

// Destination returns the register the call's result should be written
// into, or the zero Value if the call is used as a statement.
func (i *inlineContext) Destination() ir.Value { return i.Dest }

func (c *Context) lowerHostDefinedIntrinsic(n *ast.Node, fn *ffi.Function, self ir.Value, selfT *types.Type, restNodes []*ast.Node) (ir.Value, *types.Type, error) {
	if fn.Inline == nil {
		return ir.Value{}, nil, c.errorf(n, "%s: marked host-defined intrinsic but has no Inline callback", fn.ShortName)
	}
	args := make([]ir.Value, 0, len(restNodes))
	for _, an := range restNodes {
		v, _, err := c.lowerExpr(an)
		if err != nil {
			return ir.Value{}, nil, err
		}
		args = append(args, v)
	}
	sig := fn.Signature.GetEffectiveType()
	var dest ir.Value
	if sig.Return != nil && sig.Return.FQN != "void" {
		dest = c.fn.Val(sig.Return)
	}
	ic := &inlineContext{ctx: c, Self_: self, SelfT: selfT, Args: args, Dest: dest}
	if err := fn.Inline(ic); err != nil {
		return ir.Value{}, nil, c.errorf(n, "%v", err)
	}
	return dest, sig.Return, nil
}
