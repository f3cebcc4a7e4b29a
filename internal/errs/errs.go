// Package errs implements the error taxonomy from the bridge's error
// handling design: protocol framing errors, state errors, VM errors,
// host errors and internal logic errors. Each kind carries just enough
// context to become a DAP error response without another type switch.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge error for DAP error-response mapping.
type Kind int

const (
	// Protocol marks an invalid DAP payload. The session is expected
	// to close on this error.
	Protocol Kind = iota
	// State marks a request that isn't valid in the bridge's current
	// state (e.g. stackTrace while running). Never fatal.
	State
	// VM marks an evaluation, compilation or set-local/upvalue
	// failure reported by the VM.
	VM
	// Host marks a socket/listen failure owned by the process, not
	// the bridge.
	Host
	// Logic marks an internal invariant violation (unknown scope
	// handle, missing file entry, etc).
	Logic
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case State:
		return "state"
	case VM:
		return "vm"
	case Host:
		return "host"
	case Logic:
		return "logic"
	default:
		return "unknown"
	}
}

// Error is a classified bridge error. Message is the short, user-facing
// text (sent to the DAP client); Diagnostic, when present, is the
// longer script-side detail (e.g. a compiler diagnostic) that's
// additionally worth printing to the Debug Console.
type Error struct {
	Kind       Kind
	Message    string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Protocolf builds a Protocol error.
func Protocolf(format string, args ...interface{}) *Error { return newf(Protocol, format, args...) }

// Statef builds a State error.
func Statef(format string, args ...interface{}) *Error { return newf(State, format, args...) }

// VMf builds a VM error with an optional wrapped cause.
func VMf(cause error, format string, args ...interface{}) *Error {
	e := newf(VM, format, args...)
	e.Err = cause
	return e
}

// Hostf builds a Host error with an optional wrapped cause.
func Hostf(cause error, format string, args ...interface{}) *Error {
	e := newf(Host, format, args...)
	e.Err = cause
	return e
}

// Logicf builds a Logic error describing an internal invariant violation.
func Logicf(format string, args ...interface{}) *Error { return newf(Logic, format, args...) }

// WithDiagnostic attaches the longer script-side diagnostic text (e.g. a
// compiler error message) that should additionally go to the console.
func (e *Error) WithDiagnostic(diag string) *Error {
	e.Diagnostic = diag
	return e
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
