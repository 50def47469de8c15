// errors.go defines the typed exception-like errors thrown across the host
// binding API (§4.3, §7). Binding errors abort a single bind operation but
// leave prior bindings valid; callers type-switch or use errors.As (from
// github.com/pkg/errors, which also supplies the stack-trace wrapping used
// at package boundaries).
package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// BindErrorCode enumerates §4.3's binder error taxonomy.
type BindErrorCode string

const (
	ErrFunctionReturnTypeUnbound BindErrorCode = "function_return_type_unbound"
	ErrArgStructPassByValue      BindErrorCode = "arg_struct_pass_by_value"
	ErrMethodClassUnbound        BindErrorCode = "method_class_unbound"
	ErrMethodReturnTypeUnbound   BindErrorCode = "method_return_type_unbound"
	ErrArgTypeUnbound            BindErrorCode = "arg_type_unbound"
	ErrMethodArgStructByValue    BindErrorCode = "method_arg_struct_pass_by_value"
	ErrPropAlreadyBound          BindErrorCode = "prop_already_bound"
	ErrPropTypeUnbound           BindErrorCode = "prop_type_unbound"
)

// BindError is the exception type surfaced from the binding API (§4.3,
// §6.1). It carries the offending symbol name so embedders can pinpoint
// which ctor/method/property/arg failed to bind.
type BindError struct {
	Code   BindErrorCode
	Symbol string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Symbol)
}

// NewBindError constructs a BindError, wrapped with a stack trace so the
// failing bind call site is recoverable from logs.
func NewBindError(code BindErrorCode, symbol string) error {
	return errors.WithStack(&BindError{Code: code, Symbol: symbol})
}

// RuntimeError is thrown from the outermost host-visible call when the VM's
// ExecutionContext trace records an error (§4.8 "Error surface", §7).
type RuntimeError struct {
	Message string
	Frames  []string // per-frame metadata, outermost last.
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Message)
}

// CompileError wraps the logger's accumulated Messages into a single error
// returned by the pipeline when it refuses to emit a module (§7).
type CompileError struct {
	Messages []Message
}

func (e *CompileError) Error() string {
	if len(e.Messages) == 0 {
		return "compilation failed"
	}
	return fmt.Sprintf("compilation failed: %s (and %d more)", e.Messages[0], len(e.Messages)-1)
}
