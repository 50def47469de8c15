package lower

import (
	"tsn/src/ast"
	"tsn/src/ir"
	"tsn/src/types"
)

// lowerMember resolves one of the six member-access forms (§4.6,
// ast.MemberKind): TypeName.staticProp, Module.Type.staticProp,
// Module.globalVar, EnumName.value, Module.EnumName.value, expr.prop.
func (c *Context) lowerMember(n *ast.Node) (ir.Value, *types.Type, error) {
	base, offset, t, err := c.lowerMemberTarget(n)
	if err != nil {
		return ir.Value{}, nil, err
	}
	_, v := c.fn.Emit(ir.OpMember, t, base, c.fn.ImmI(nil, int64(offset)))
	return v, t, nil
}

// lowerMemberTarget resolves the addressable (base, byte-offset, type)
// triple for a MemberExpr, shared by both the load path (lowerMember) and
// the store path (lowerAssign).
func (c *Context) lowerMemberTarget(n *ast.Node) (ir.Value, uint32, *types.Type, error) {
	kind, _ := n.Data.(ast.MemberKind)
	switch kind {
	case ast.MemberInstanceProp:
		base, baseT, err := c.lowerExpr(n.Child(0))
		if err != nil {
			return ir.Value{}, 0, nil, err
		}
		propName := n.Child(1).Text()
		prop, ok := findProperty(baseT, propName)
		if !ok {
			return ir.Value{}, 0, nil, c.errorf(n, "type %s has no property %q", baseT.FQN, propName)
		}
		return base, prop.Offset, prop.Type, nil

	case ast.MemberStaticProp:
		typeName := n.Child(0).Text()
		propName := n.Child(1).Text()
		t := c.Types.GetTypeByName(typeName)
		if t == nil {
			return ir.Value{}, 0, nil, c.errorf(n, "unknown type %q", typeName)
		}
		prop, ok := findProperty(t, propName)
		if !ok {
			return ir.Value{}, 0, nil, c.errorf(n, "type %s has no static property %q", typeName, propName)
		}
		return c.moduleDataBase(t.Module), prop.Offset, prop.Type, nil

	case ast.MemberModuleStaticProp:
		moduleName := n.Child(0).Text()
		typeName := n.Child(1).Text()
		propName := n.Child(2).Text()
		t := c.Types.GetTypeByName(moduleName + "::" + typeName)
		if t == nil {
			return ir.Value{}, 0, nil, c.errorf(n, "unknown type %q in module %q", typeName, moduleName)
		}
		prop, ok := findProperty(t, propName)
		if !ok {
			return ir.Value{}, 0, nil, c.errorf(n, "type %s has no static property %q", t.FQN, propName)
		}
		return c.moduleDataBase(moduleName), prop.Offset, prop.Type, nil

	case ast.MemberModuleGlobal:
		moduleName := n.Child(0).Text()
		globalName := n.Child(1).Text()
		info, err := c.lookupModuleGlobal(moduleName, globalName)
		if err != nil {
			return ir.Value{}, 0, nil, c.errorf(n, "%v", err)
		}
		return c.moduleDataBase(moduleName), info.Offset, info.Type, nil

	case ast.MemberEnumValue, ast.MemberModuleEnumValue:
		// Enum constants are compile-time immediates (§3.1 Plain enum
		// representation), resolved directly to an integer immediate
		// typed as the enum rather than an addressable slot.
		return ir.Value{}, 0, nil, c.errorf(n, "enum value access must be lowered via lowerExpr, not an addressable target")

	default:
		return ir.Value{}, 0, nil, c.errorf(n, "unresolved member-access kind")
	}
}

// lowerEnumValue resolves EnumName.value / Module.EnumName.value (§3.1
// "Plain enum representation") to a compile-time integer immediate typed
// as the enum itself. An enum's
// values are modeled as constant Properties on its Plain Type whose Offset
// field holds the literal value rather than a byte offset, since nothing
// else in the type model has a slot for a named compile-time constant.
func (c *Context) lowerEnumValue(n *ast.Node, kind ast.MemberKind) (ir.Value, *types.Type, error) {
	var t *types.Type
	var valueName string
	switch kind {
	case ast.MemberEnumValue:
		typeName := n.Child(0).Text()
		valueName = n.Child(1).Text()
		t = c.Types.GetTypeByName(typeName)
		if t == nil {
			return ir.Value{}, nil, c.errorf(n, "unknown enum type %q", typeName)
		}
	case ast.MemberModuleEnumValue:
		moduleName := n.Child(0).Text()
		typeName := n.Child(1).Text()
		valueName = n.Child(2).Text()
		t = c.Types.GetTypeByName(moduleName + "::" + typeName)
		if t == nil {
			return ir.Value{}, nil, c.errorf(n, "unknown enum type %q in module %q", typeName, moduleName)
		}
	}
	prop, ok := findProperty(t, valueName)
	if !ok {
		return ir.Value{}, nil, c.errorf(n, "enum %s has no value %q", t.FQN, valueName)
	}
	return c.fn.ImmI(t, int64(prop.Offset)), t, nil
}

func findProperty(t *types.Type, name string) (types.Property, bool) {
	if t == nil {
		return types.Property{}, false
	}
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	for _, b := range t.Bases {
		if p, ok := findProperty(b.Type, name); ok {
			return p, true
		}
	}
	return types.Property{}, false
}

// moduleDataBase returns the base Value addressing another module's data
// section. It returns a placeholder: an ImplicitNone value, which the
// backend resolves to address zero. No later step patches it, and the
// result does not depend on moduleName.
func (c *Context) moduleDataBase(moduleName string) ir.Value {
	return ir.Value{Kind: ir.ValImplicit, Implicit: ir.ImplicitNone}
}

type globalInfo struct {
	Offset uint32
	Type   *types.Type
}

func (c *Context) lookupModuleGlobal(moduleName, name string) (globalInfo, error) {
	for _, imp := range c.Module.Imports {
		if imp.Path != moduleName {
			continue
		}
		for _, slot := range imp.Slots() {
			if slot.Name == name {
				return globalInfo{Offset: slot.Offset, Type: slot.Type}, nil
			}
		}
	}
	return globalInfo{}, c.errorf(nil, "module %q has no imported global %q", moduleName, name)
}
