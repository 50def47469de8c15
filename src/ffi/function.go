// Package ffi implements the function registry (§4.2) and the FFI binder
// (§4.3): the machinery that exposes native host functions, methods,
// properties, constructors and destructors to script code through a
// uniform thunk contract.
//
// Grounded on the teacher's ir/lir Function/FunctionCallInstruction
// (vslc's ir/lir/function.go) for the id-assignment and intern-table idiom,
// generalized from "one LIR function kind" to host-bound vs script-defined
// functions distinguished by Thunk/ScriptEntry.
package ffi

import (
	"sync"

	"tsn/src/types"
)

// Flags on a Function (§3.2).
type Flags uint32

const (
	FlagReturnPointerNonNullable Flags = 1 << iota
	FlagIsStaticMethod
	FlagIsFakeInstanceMethod
)

// Thunk unifies the calling convention of a bound native function (§4.3,
// GLOSSARY): it copies each argument into the native calling convention,
// invokes the native function, and stores/placement-constructs the result
// at retSlot. retSlot and each args[i] are pointers to addressable Go
// values (vm's host-call path boxes them from the register file); the
// closure built at bind time reads and writes them through reflection.
type Thunk func(retSlot unsafe_Pointer, ctx unsafe_Pointer, args []unsafe_Pointer)

// unsafe_Pointer avoids importing "unsafe" directly into the public API
// surface of this package; vm defines the concrete execution-context type
// thunks actually receive. Kept as a named alias so call sites read the
// same as the C++ origin's `void*`.
type unsafe_Pointer = interface{}

// Function is one registered callable: a signature plus either a host
// native pointer (Native != nil) or a script entry address (HasScriptEntry)
// (§3.2).
type Function struct {
	ID            uint32
	ShortName     string
	FQN           string
	Signature     *types.Type // a Function Type (§3.2).
	Access        types.Access
	Module        string
	IsMethod      bool
	Flags         Flags

	Native         interface{} // host native func value (reflect-bound), nil for script functions.
	Thunk          Thunk       // host wrapper thunk, nil for script functions.
	HasScriptEntry bool
	ScriptEntry    uint64 // address within the module's code section.

	Inline    InlineCodeGen // non-nil for intrinsic/inline-codegen bound functions (§4.3).
	intrinsic Intrinsic
}

// Registry interns Functions by id (§4.2). A function once registered is
// immutable: Add never returns the same *Function for two calls.
type Registry struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32]*Function
}

// NewRegistry returns an empty function Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Function), next: 1}
}

// GetFunction looks up a Function by id.
func (r *Registry) GetFunction(id uint32) *Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// Add assigns a fresh 32-bit id to fn and interns it.
func (r *Registry) Add(fn *Function) *Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn.ID = r.next
	r.next++
	r.byID[fn.ID] = fn
	return fn
}

// All returns every registered Function.
func (r *Registry) All() []*Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Function, 0, len(r.byID))
	for _, f := range r.byID {
		out = append(out, f)
	}
	return out
}
