// Package invariant provides lightweight precondition/postcondition
// assertions used at package API boundaries throughout lura.
//
// A failed invariant is a programming error, not a runtime condition a
// caller should expect to recover from: it panics rather than returning
// an error.
package invariant

import "fmt"

// Precondition panics if cond is false. Use at the top of an exported
// function to assert a contract the caller must uphold.
func Precondition(cond bool, format string, args ...any) {
	if !cond {
		panic("precondition violated: " + fmt.Sprintf(format, args...))
	}
}

// Postcondition panics if cond is false. Use before returning from an
// exported function to assert a contract the function itself must uphold.
func Postcondition(cond bool, format string, args ...any) {
	if !cond {
		panic("postcondition violated: " + fmt.Sprintf(format, args...))
	}
}

// NotNil panics if v is nil. name identifies the argument in the panic
// message.
func NotNil(v any, name string) {
	if v == nil {
		panic("precondition violated: " + name + " must not be nil")
	}
}
