package ffi

import (
	"reflect"

	"tsn/src/types"
	"tsn/src/util"
)

// TypeResolver maps a Go reflect.Type to the already-bound script Type for
// it, or nil if unbound. Binders use this to enforce §4.3's "return type
// must be bound" / "each argument must be bound" rules without this
// package depending on how the embedder registered its types.
type TypeResolver func(rt reflect.Type) *types.Type

// isAggregate reports whether rt is a struct (and therefore, per §4.3,
// illegal to pass or return by value unless wrapped as a pointer/reference).
func isAggregate(rt reflect.Type) bool {
	for rt.Kind() == reflect.Ptr {
		return false // pointer-to-struct is a pointer argument, not pass-by-value.
	}
	return rt.Kind() == reflect.Struct
}

// isCallback reports whether rt is a script-callable function wrapper type
// (§4.3: "callback types ... are kind pointer").
func isCallback(rt reflect.Type) bool {
	return rt.Kind() == reflect.Func
}

// argKindFor derives the ArgKind for one explicit argument type per the
// bind-time rules of §4.3.
func argKindFor(rt reflect.Type) (types.ArgKind, error) {
	switch {
	case isCallback(rt):
		return types.ArgPointer, nil
	case rt.Kind() == reflect.Ptr:
		return types.ArgPointer, nil
	case isAggregate(rt):
		return 0, util.NewBindError(util.ErrArgStructPassByValue, rt.String())
	default:
		return types.ArgValue, nil
	}
}

// DeriveSignature builds the ordered Argument descriptor list for a bound
// native function, beginning with the implicit arguments in the fixed
// order required by §3.2: func_ptr, ret_ptr, context_ptr, then this_ptr if
// a method, then explicit arguments.
func DeriveSignature(resolve TypeResolver, retType reflect.Type, thisType reflect.Type, explicit []reflect.Type, symbol string) (*types.Type, error) {
	ret := resolve(retType)
	if ret == nil {
		if thisType != nil {
			return nil, util.NewBindError(util.ErrMethodReturnTypeUnbound, symbol)
		}
		return nil, util.NewBindError(util.ErrFunctionReturnTypeUnbound, symbol)
	}
	if isAggregate(retType) {
		// Aggregate returns are legal (via ret_ptr), pointer/value distinction
		// only applies to explicit arguments per §4.3.
	}

	args := make([]types.Argument, 0, 4+len(explicit))
	args = append(args,
		types.Argument{Kind: types.ArgFuncPtr, Type: nil},
		types.Argument{Kind: types.ArgRetPtr, Type: ret},
		types.Argument{Kind: types.ArgContextPtr, Type: nil},
	)

	var this *types.Type
	if thisType != nil {
		this = resolve(thisType)
		if this == nil {
			return nil, util.NewBindError(util.ErrMethodClassUnbound, symbol)
		}
		args = append(args, types.Argument{Kind: types.ArgThisPtr, Type: this})
	}

	for _, et := range explicit {
		t := resolve(et)
		if t == nil {
			return nil, util.NewBindError(util.ErrArgTypeUnbound, symbol)
		}
		kind, err := argKindFor(et)
		if err != nil {
			if thisType != nil {
				return nil, util.NewBindError(util.ErrMethodArgStructByValue, symbol)
			}
			return nil, err
		}
		args = append(args, types.Argument{Kind: kind, Type: t})
	}

	return &types.Type{
		Kind:   types.KindFunction,
		Return: ret,
		This:   this,
		Args:   args,
		Meta:   types.Meta{Function: true},
	}, nil
}
