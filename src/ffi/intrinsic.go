package ffi

// Intrinsic enumerates the recognized inline-codegen operations (§9
// "Inline code-generation callbacks ... replaced by a small enum of
// recognized intrinsic operations plus a generic fallback for host-defined
// intrinsics"). A Function with a non-zero Intrinsic (or a non-nil Inline
// callback for a fully host-defined one) is expanded directly to IR by
// src/lower instead of compiled as a call (§4.3 GLOSSARY "Inline codegen
// callback"), the mechanism the original uses to implement Array<T> and
// Pointer<T> (src/builtin/Array.cpp, src/builtin/Pointer.cpp).
type Intrinsic int

const (
	IntrinsicNone Intrinsic = iota
	IntrinsicArrayPush
	IntrinsicArrayIndex
	IntrinsicArrayLength
	IntrinsicArrayCapacity
	IntrinsicPointerDeref
	IntrinsicPointerRelease
	IntrinsicPointerRefCount
	IntrinsicHostDefined // generic fallback: dispatch through Inline.
)

// InlineCodeGenContext is the opaque blob passed to an InlineCodeGen
// callback. src/lower defines the concrete type satisfying this interface
// (compiler handle, current function builder, `this` value, resolved
// argument values, destination storage) and type-asserts it back; this
// package stays ignorant of the IR's types to avoid a dependency cycle
// between ffi and ir.
type InlineCodeGenContext interface {
	// Self exists solely so this interface is not empty, preventing
	// accidental satisfaction by unrelated types; src/lower's concrete
	// context returns itself.
	Self() InlineCodeGenContext
}

// InlineCodeGen is a binder-registered function that emits IR directly
// instead of producing a native call (§4.3, GLOSSARY).
type InlineCodeGen func(ctx InlineCodeGenContext) error

// WithIntrinsic marks fn with one of the recognized Intrinsic kinds.
func WithIntrinsic(fn *Function, kind Intrinsic) *Function {
	fn.intrinsic = kind
	return fn
}

// IntrinsicKind returns the recognized Intrinsic bound to fn, or
// IntrinsicNone if fn is an ordinary native or script function.
func (f *Function) IntrinsicKind() Intrinsic {
	return f.intrinsic
}
