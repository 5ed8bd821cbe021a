// Package errors defines the host-level error taxonomy of the engine.
//
// JS-level throws never appear here: any JavaScript value can be thrown, so
// the VM carries those in vm.ExceptionError. The types in this package cover
// failures of the engine itself (invariant violations, exhausted resources)
// and the SyntaxError wrapper used to re-raise compiler errors at eval
// boundaries.
package errors

import (
	"fmt"
)

// EngineError is the interface implemented by all engine errors.
type EngineError interface {
	error
	Pos() Position
	Kind() string // "Syntax", "Runtime", "Fatal"
	// Message returns the error message without position info.
	Message() string
	Unwrap() error
}

// SyntaxError wraps an error produced by the (external) parser/compiler so
// the VM can rethrow it as a JS-visible SyntaxError object at eval/Function
// construction boundaries.
type SyntaxError struct {
	Position
	Msg   string
	Cause error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax Error at %d:%d: %s", e.Line, e.Column, e.Msg)
}
func (e *SyntaxError) Pos() Position   { return e.Position }
func (e *SyntaxError) Kind() string    { return "Syntax" }
func (e *SyntaxError) Message() string { return e.Msg }
func (e *SyntaxError) Unwrap() error   { return e.Cause }
func (e *SyntaxError) CausedBy(cause error) *SyntaxError {
	e.Cause = cause
	return e
}

// RuntimeError represents a host-level failure during VM execution that is
// not a JS throw: malformed bytecode, invalid register indices, internal
// state mismatches. These indicate bugs in the compiler or embedder, not in
// the executed script.
type RuntimeError struct {
	Position
	Msg   string
	Cause error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("Runtime Error at %d:%d: %s", e.Line, e.Column, e.Msg)
}
func (e *RuntimeError) Pos() Position   { return e.Position }
func (e *RuntimeError) Kind() string    { return "Runtime" }
func (e *RuntimeError) Message() string { return e.Msg }
func (e *RuntimeError) Unwrap() error   { return e.Cause }
func (e *RuntimeError) CausedBy(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// FatalError aborts the current evaluation and cannot be intercepted by
// try/catch in the executed script. Call-stack exhaustion is the one
// expected producer: stack overflow terminates the Eval but leaves the
// Context usable.
type FatalError struct {
	Msg   string
	Cause error
}

func (e *FatalError) Error() string   { return "Fatal Error: " + e.Msg }
func (e *FatalError) Pos() Position   { return Position{} }
func (e *FatalError) Kind() string    { return "Fatal" }
func (e *FatalError) Message() string { return e.Msg }
func (e *FatalError) Unwrap() error   { return e.Cause }

// Newf builds a RuntimeError at an unknown position.
func Newf(format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...)}
}
