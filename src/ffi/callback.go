package ffi

// RawCallback wraps a script-side function value passed to a host function
// (§4.3 "Callback arguments"): target_function_ptr + captured_data_ptr.
type RawCallback struct {
	Target   *Function
	Captured interface{} // captured upvalue data, opaque to the host.
	owned    bool        // true if this wrapper was heap-allocated at the call site.
}

// WrapRaw heap-allocates a RawCallback around a bare function pointer
// passed at call time; the call site must destroy it after the call
// (§4.3). Ownership is pinned to the outermost call frame that created it
// (§9 Open Questions: "the rewrite pins ownership to the outermost call
// frame that created it").
func WrapRaw(target *Function, captured interface{}) *RawCallback {
	return &RawCallback{Target: target, Captured: captured, owned: true}
}

// Adopt wraps an already-wrapped callback without taking ownership: the
// original caller retains responsibility for its lifetime (§4.3).
func Adopt(rc *RawCallback) *RawCallback {
	return &RawCallback{Target: rc.Target, Captured: rc.Captured, owned: false}
}

// Owned reports whether this wrapper must be destroyed by the current call
// frame once the call returns.
func (rc *RawCallback) Owned() bool {
	return rc.owned
}
