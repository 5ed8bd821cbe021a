package vm

import (
	"sparrow/pkg/errors"
)

// ExceptionError carries a thrown JS value through Go error returns. Any
// value can be thrown, so the payload is a Value, not an error object.
type ExceptionError struct {
	Exception Value
}

func (e ExceptionError) Error() string {
	return "Uncaught " + e.Exception.Inspect()
}

// Throw wraps v for returning from native functions.
func Throw(v Value) error { return ExceptionError{Exception: v} }

// UnwrapThrown extracts the thrown value from an error, ok=false for
// host-level (non-JS) failures.
func UnwrapThrown(err error) (Value, bool) {
	if ee, ok := err.(ExceptionError); ok {
		return ee.Exception, true
	}
	return Undefined, false
}

// newError builds an instance of one of the realm's intrinsic error types.
func (ctx *Context) newError(proto *Object, name, message string) Value {
	o := newObject(ClassError, ctx.Realm.RootShape, ObjectValue(proto))
	ctx.track(o)
	o.DefineHidden("message", NewString(message))
	if stack := ctx.vm.captureStackTrace(name + ": " + message); stack != "" {
		o.DefineHidden("stack", NewString(stack))
	}
	return ObjectValue(o)
}

func (ctx *Context) NewTypeError(message string) error {
	return Throw(ctx.newError(ctx.Realm.TypeErrorPrototype, "TypeError", message))
}

func (ctx *Context) NewRangeError(message string) error {
	return Throw(ctx.newError(ctx.Realm.RangeErrorPrototype, "RangeError", message))
}

func (ctx *Context) NewReferenceError(message string) error {
	return Throw(ctx.newError(ctx.Realm.ReferenceErrorPrototype, "ReferenceError", message))
}

func (ctx *Context) NewSyntaxError(message string) error {
	return Throw(ctx.newError(ctx.Realm.SyntaxErrorPrototype, "SyntaxError", message))
}

func (ctx *Context) NewGenericError(message string) error {
	return Throw(ctx.newError(ctx.Realm.ErrorPrototype, "Error", message))
}

// isFatal reports whether err must bypass JS-level handlers entirely.
func isFatal(err error) bool {
	if _, ok := err.(ExceptionError); ok {
		return false
	}
	if _, ok := err.(*errors.FatalError); ok {
		return true
	}
	// Host-level RuntimeErrors (malformed bytecode and the like) are also
	// not script-catchable.
	return true
}

// CompletionType labels the non-normal completions a finally block can
// intercept and replay.
type CompletionType uint8

const (
	CompletionNormal CompletionType = iota
	CompletionReturn
	CompletionThrow
	CompletionBreak
	CompletionContinue
)

// pendingAction is a completion parked while a finally body runs. When the
// finally finishes normally, OpHandlePending replays it; a new completion
// raised inside the finally replaces it.
type pendingAction struct {
	typ    CompletionType
	value  Value
	target int // jump target for break/continue
}

// findHandler picks the innermost handler in the frame's chunk covering pc,
// skipping handlers the unwinder already entered for this exception.
func findHandler(chunk *Chunk, pc int, skipUntil int) (*ExceptionHandler, int) {
	for i := skipUntil; i < len(chunk.ExceptionTable); i++ {
		h := &chunk.ExceptionTable[i]
		if pc >= h.TryStart && pc < h.TryEnd {
			return h, i
		}
	}
	return nil, -1
}

// handleThrow unwinds frames until a handler accepts the exception. The
// frame's environment chain is popped to the handler's recorded depth before
// control transfers, so scopes opened inside the try cannot leak into the
// catch or finally. Returns false when no handler exists above stopDepth.
func (vm *VM) handleThrow(exception Value) bool {
	for vm.frameCount > vm.unwindFloor {
		frame := &vm.frames[vm.frameCount-1]
		// frame.ip points past the faulting (or calling) instruction; the
		// return-address convention searches at ip-1 so an instruction that
		// starts or ends a protected range still matches it.
		pc := frame.ip - 1
		if pc < 0 {
			pc = 0
		}
		h, idx := findHandler(frame.chunk, pc, 0)
		for h != nil {
			// Pop block environments opened inside the try body.
			for frame.envCount > h.EnvDepth {
				frame.env = frame.env.env.outer()
				frame.envCount--
			}
			if h.IsCatch {
				if h.CatchReg >= 0 {
					vm.registers[frame.base+h.CatchReg] = exception
				}
				frame.ip = h.HandlerPC
				return true
			}
			if h.IsFinally {
				frame.pending = append(frame.pending, pendingAction{
					typ:   CompletionThrow,
					value: exception,
				})
				frame.ip = h.HandlerPC
				return true
			}
			h, idx = findHandler(frame.chunk, pc, idx+1)
		}
		vm.popFrame()
	}
	return false
}

// replayPending resumes the completion parked before a finally body.
// Returns (done, err): done means the current frame finished (return), err
// rethrows, neither means control continued inside the frame.
func (vm *VM) replayPending(frame *Frame) (Value, bool, error) {
	if len(frame.pending) == 0 {
		return Undefined, false, nil
	}
	action := frame.pending[len(frame.pending)-1]
	frame.pending = frame.pending[:len(frame.pending)-1]
	switch action.typ {
	case CompletionThrow:
		return Undefined, false, Throw(action.value)
	case CompletionReturn:
		return action.value, true, nil
	case CompletionBreak, CompletionContinue:
		frame.ip = action.target
		return Undefined, false, nil
	default:
		return Undefined, false, nil
	}
}
