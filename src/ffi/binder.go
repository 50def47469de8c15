package ffi

import (
	"reflect"

	"tsn/src/types"
	"tsn/src/util"
)

// genThunk builds the Thunk for a bound native function using reflection,
// the Go-idiomatic substitute for the source's variadic-template-generated
// thunk (§9 "Pervasive variadic templates for the FFI"): reflect.Value.Call
// plays the role of the monomorphized call site, while DeriveSignature
// plays the role of the compile-time specialization that fixes argument
// kinds once per bind call. fn must be a Go func value; argTypes gives the
// explicit (non-implicit) parameter types in order, and retPtr/args are
// interpreted as *reflect.Value boxes holding addressable storage, mirroring
// the C ABI's "pointer to i'th explicit argument" contract of §4.3.
func genThunk(fn reflect.Value, argTypes []reflect.Type, retType reflect.Type, this reflect.Value, hasThis bool) Thunk {
	return func(retSlot unsafe_Pointer, ctx unsafe_Pointer, args []unsafe_Pointer) {
		in := make([]reflect.Value, 0, len(argTypes)+1)
		if hasThis {
			in = append(in, this)
		}
		for i, at := range argTypes {
			v := reflect.ValueOf(args[i]).Elem()
			if v.Type() != at {
				v = v.Convert(at)
			}
			in = append(in, v)
		}
		out := fn.Call(in)
		if retType != nil && retType.Kind() != reflect.Invalid && len(out) > 0 {
			dst := reflect.ValueOf(retSlot).Elem()
			v := out[0]
			if v.Type() != dst.Type() {
				v = v.Convert(dst.Type())
			}
			dst.Set(v)
		}
	}
}

// ObjectTypeBinder accumulates constructors, an optional destructor,
// methods and properties for a host type T, producing a Class/Plain Type
// on Finalize (§4.3 "Type binder").
type ObjectTypeBinder[T any] struct {
	resolve TypeResolver
	funcs   *Registry
	name    string
	module  string

	ctors      []*Function
	dtor       *Function
	hasDtor    bool
	methods    []types.MethodRef
	methodFns  []*Function
	properties []types.Property
	bases      []types.Base
	err        error
}

// NewObjectTypeBinder begins binding a host type named name.
func NewObjectTypeBinder[T any](resolve TypeResolver, funcs *Registry, module, name string) *ObjectTypeBinder[T] {
	return &ObjectTypeBinder[T]{resolve: resolve, funcs: funcs, name: name, module: module}
}

// Ctor binds one constructor overload. fn must have signature
// func(explicit...) T: every parameter is an explicit argument and the
// first result is the constructed type.
func (b *ObjectTypeBinder[T]) Ctor(fn interface{}) *ObjectTypeBinder[T] {
	if b.err != nil {
		return b
	}
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	explicit := make([]reflect.Type, rt.NumIn())
	for i := 0; i < rt.NumIn(); i++ {
		explicit[i] = rt.In(i)
	}
	sig, err := DeriveSignature(b.resolve, rt.Out(0), nil, explicit, b.name+".ctor")
	if err != nil {
		b.err = err
		return b
	}
	f := b.funcs.Add(&Function{
		ShortName: b.name,
		FQN:       b.module + "::" + b.name + "::ctor",
		Signature: sig,
		Module:    b.module,
		Native:    fn,
		Thunk:     genThunk(rv, explicit, rt.Out(0), reflect.Value{}, false),
	})
	b.ctors = append(b.ctors, f)
	return b
}

// Dtor binds the destructor. If never called and T is not trivially
// destructible by reflection (never true for Go value types), the type is
// treated as trivially destructible, matching §4.3's
// "auto-synthesized ... unless trivially destructible" for the common case.
func (b *ObjectTypeBinder[T]) Dtor(fn func(*T)) *ObjectTypeBinder[T] {
	if b.err != nil {
		return b
	}
	rv := reflect.ValueOf(fn)
	sig, err := DeriveSignature(b.resolve, reflect.TypeOf((*struct{})(nil)).Elem(), reflect.TypeOf((*T)(nil)), nil, b.name+".dtor")
	if err != nil {
		b.err = err
		return b
	}
	f := b.funcs.Add(&Function{
		ShortName: "~" + b.name,
		FQN:       b.module + "::" + b.name + "::dtor",
		Signature: sig,
		Module:    b.module,
		IsMethod:  true,
		Native:    fn,
		Thunk:     genThunk(rv, nil, nil, reflect.Value{}, true),
	})
	b.dtor = f
	b.hasDtor = true
	return b
}

// Method binds an instance method. Const-method variants mirror non-const
// ones in this rewrite: Go has no const-method distinction, so both bind
// identically (§4.3 "Const-method variants mirror non-const ones").
func (b *ObjectTypeBinder[T]) Method(name string, fn interface{}, access types.Access) *ObjectTypeBinder[T] {
	if b.err != nil {
		return b
	}
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.NumIn() < 1 {
		b.err = util.NewBindError(util.ErrMethodClassUnbound, b.name+"."+name)
		return b
	}
	explicit := make([]reflect.Type, rt.NumIn()-1)
	for i := 1; i < rt.NumIn(); i++ {
		explicit[i-1] = rt.In(i)
	}
	var retType reflect.Type
	if rt.NumOut() > 0 {
		retType = rt.Out(0)
	} else {
		retType = reflect.TypeOf((*struct{})(nil)).Elem()
	}
	sig, err := DeriveSignature(b.resolve, retType, reflect.TypeOf((*T)(nil)), explicit, b.name+"."+name)
	if err != nil {
		b.err = err
		return b
	}
	f := b.funcs.Add(&Function{
		ShortName: name,
		FQN:       b.module + "::" + b.name + "::" + name,
		Signature: sig,
		Access:    access,
		Module:    b.module,
		IsMethod:  true,
		Native:    fn,
		Thunk:     genThunk(rv, explicit, retType, reflect.Value{}, true),
	})
	b.methods = append(b.methods, types.MethodRef{Name: name, Sig: sig, Access: access})
	b.methodFns = append(b.methodFns, f)
	return b
}

// StaticMethod binds a static method: a regular function flagged
// is_static_method, not carrying an implicit this_ptr (§4.3).
func (b *ObjectTypeBinder[T]) StaticMethod(name string, fn interface{}, access types.Access) *ObjectTypeBinder[T] {
	if b.err != nil {
		return b
	}
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	explicit := make([]reflect.Type, rt.NumIn())
	for i := 0; i < rt.NumIn(); i++ {
		explicit[i] = rt.In(i)
	}
	var retType reflect.Type
	if rt.NumOut() > 0 {
		retType = rt.Out(0)
	} else {
		retType = reflect.TypeOf((*struct{})(nil)).Elem()
	}
	sig, err := DeriveSignature(b.resolve, retType, nil, explicit, b.name+"."+name)
	if err != nil {
		b.err = err
		return b
	}
	f := b.funcs.Add(&Function{
		ShortName: name,
		FQN:       b.module + "::" + b.name + "::" + name,
		Signature: sig,
		Access:    access,
		Module:    b.module,
		Native:    fn,
		Flags:     FlagIsStaticMethod,
		Thunk:     genThunk(rv, explicit, retType, reflect.Value{}, false),
	})
	b.methods = append(b.methods, types.MethodRef{Name: name, Sig: sig, Access: access, Static: true})
	b.methodFns = append(b.methodFns, f)
	return b
}

// Prop binds a direct-member property by byte offset within T, discovered
// via reflect.Type.FieldByName (§3.1 Property, §4.3).
func (b *ObjectTypeBinder[T]) Prop(fieldName string, access types.Access, flags ...func(*types.Property)) *ObjectTypeBinder[T] {
	if b.err != nil {
		return b
	}
	var zero T
	rt := reflect.TypeOf(zero)
	sf, ok := rt.FieldByName(fieldName)
	if !ok {
		b.err = util.NewBindError(util.ErrPropTypeUnbound, b.name+"."+fieldName)
		return b
	}
	pt := b.resolve(sf.Type)
	if pt == nil {
		b.err = util.NewBindError(util.ErrPropTypeUnbound, b.name+"."+fieldName)
		return b
	}
	for _, p := range b.properties {
		if p.Name == fieldName {
			b.err = util.NewBindError(util.ErrPropAlreadyBound, b.name+"."+fieldName)
			return b
		}
	}
	prop := types.Property{
		Name:   fieldName,
		Access: access,
		Offset: uint32(sf.Offset),
		Type:   pt,
		Read:   true,
		Write:  true,
	}
	for _, f := range flags {
		f(&prop)
	}
	b.properties = append(b.properties, prop)
	return b
}

// Base registers an inheritance base at the given byte offset (§3.1 Base).
func (b *ObjectTypeBinder[T]) Base(baseType *types.Type, offset uint32, access types.Access) *ObjectTypeBinder[T] {
	b.bases = append(b.bases, types.Base{Type: baseType, Offset: offset, Access: access})
	return b
}

// Err returns the first binding error encountered, if any. Finalize also
// returns it, but embedders that bind many members before checking once
// can poll here instead of threading the error through every fluent call.
func (b *ObjectTypeBinder[T]) Err() error {
	return b.err
}

// Finalize produces the Class/Plain Type (§4.1 finalize_class).
func (b *ObjectTypeBinder[T]) Finalize(registry *types.Registry) (*types.Type, error) {
	if b.err != nil {
		return nil, b.err
	}
	var zero T
	rt := reflect.TypeOf(zero)
	var dtorID uint32
	if b.hasDtor {
		dtorID = b.dtor.ID
	}
	t := registry.FinalizeClass(types.FinalizeClassArgs{
		FQN:       b.module + "::" + b.name,
		ShortName: b.name,
		Module:    b.module,
		Meta: types.Meta{
			Size:                   uint32(rt.Size()),
			Host:                   true,
			POD:                    len(b.ctors) == 0,
			TriviallyDestructible:  !b.hasDtor,
			TriviallyConstructible: len(b.ctors) == 0,
			TriviallyCopyable:      true,
		},
		Properties: b.properties,
		Methods:    b.methods,
		Bases:      b.bases,
		DtorID:     dtorID,
		HasDtor:    b.hasDtor,
	})
	return t, nil
}

// PrimitiveTypeBinder behaves identically to ObjectTypeBinder but without
// constructor/destructor semantics and with is_primitive = true (§4.3).
type PrimitiveTypeBinder[T any] struct {
	resolve    TypeResolver
	funcs      *Registry
	name       string
	module     string
	methods    []types.MethodRef
	properties []types.Property
	err        error
}

// NewPrimitiveTypeBinder begins binding a primitive host type named name.
func NewPrimitiveTypeBinder[T any](resolve TypeResolver, funcs *Registry, module, name string) *PrimitiveTypeBinder[T] {
	return &PrimitiveTypeBinder[T]{resolve: resolve, funcs: funcs, name: name, module: module}
}

// Method binds an instance method exactly like ObjectTypeBinder.Method.
func (b *PrimitiveTypeBinder[T]) Method(name string, fn interface{}, access types.Access) *PrimitiveTypeBinder[T] {
	ob := &ObjectTypeBinder[T]{resolve: b.resolve, funcs: b.funcs, name: b.name, module: b.module}
	ob.Method(name, fn, access)
	if ob.err != nil {
		b.err = ob.err
		return b
	}
	b.methods = append(b.methods, ob.methods...)
	return b
}

// Finalize produces the primitive's Plain Type.
func (b *PrimitiveTypeBinder[T]) Finalize(registry *types.Registry) (*types.Type, error) {
	if b.err != nil {
		return nil, b.err
	}
	var zero T
	rt := reflect.TypeOf(zero)
	var size uint32
	if rt != nil {
		size = uint32(rt.Size())
	}
	t := registry.FinalizeClass(types.FinalizeClassArgs{
		FQN:       b.module + "::" + b.name,
		ShortName: b.name,
		Module:    b.module,
		Meta: types.Meta{
			Size:                   size,
			Host:                   true,
			Primitive:              true,
			POD:                    true,
			TriviallyConstructible: true,
			TriviallyCopyable:      true,
			TriviallyDestructible:  true,
		},
		Methods:    b.methods,
		Properties: b.properties,
	})
	return t, nil
}
