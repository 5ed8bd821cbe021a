package vm

import "sparrow/pkg/heap"

// GeneratorState tracks the resume protocol. Completed is sticky: every
// later next() yields {undefined, true}.
type GeneratorState uint8

const (
	GeneratorSuspendedStart GeneratorState = iota // created, body not entered
	GeneratorSuspendedYield                       // parked at a yield or await
	GeneratorExecuting
	GeneratorCompleted
)

func (s GeneratorState) String() string {
	switch s {
	case GeneratorSuspendedStart:
		return "SuspendedStart"
	case GeneratorSuspendedYield:
		return "SuspendedYield"
	case GeneratorExecuting:
		return "Executing"
	case GeneratorCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// resumeMode distinguishes next/throw/return resumptions.
type resumeMode uint8

const (
	resumeNext resumeMode = iota
	resumeThrow
	resumeReturn
)

// SuspendedFrame is the detached execution state of a parked generator or
// async function: everything needed to reattach the frame later, including
// the environment chain head and parked finally completions.
type SuspendedFrame struct {
	ip        int
	registers []Value
	env       *Object
	envCount  int
	pending   []pendingAction
	outputReg int // register receiving the sent/resolved value
	thisValue Value
	newTarget Value
}

// GeneratorData is the payload of generator objects; async function calls
// reuse it with isAsync set and the result promise attached.
type GeneratorData struct {
	state GeneratorState
	fn    *Object
	this  Value
	args  []Value
	frame *SuspendedFrame

	isAsync bool
	promise *Object // async result promise

	returnValue Value
}

func (g *GeneratorData) trace(mark heap.Tracer) {
	if g.fn != nil {
		mark(g.fn)
	}
	traceValue(mark, g.this)
	for _, a := range g.args {
		traceValue(mark, a)
	}
	if g.frame != nil {
		for _, v := range g.frame.registers {
			traceValue(mark, v)
		}
		if g.frame.env != nil {
			mark(g.frame.env)
		}
		for _, p := range g.frame.pending {
			traceValue(mark, p.value)
		}
		traceValue(mark, g.frame.thisValue)
		traceValue(mark, g.frame.newTarget)
	}
	if g.promise != nil {
		mark(g.promise)
	}
	traceValue(mark, g.returnValue)
}

// GeneratorState exposes the state for diagnostics, Completed for
// non-generators.
func (o *Object) GeneratorState() GeneratorState {
	if o.generator == nil {
		return GeneratorCompleted
	}
	return o.generator.state
}

// newGenerator creates a suspended-start generator object for a generator
// function call. The body does not run until the first next().
func (ctx *Context) newGenerator(fn *Object, this Value, args []Value) *Object {
	o := newObject(ClassGenerator, ctx.Realm.RootShape, ObjectValue(ctx.Realm.GeneratorPrototype))
	o.generator = &GeneratorData{
		state:       GeneratorSuspendedStart,
		fn:          fn,
		this:        this,
		args:        append([]Value(nil), args...),
		returnValue: Undefined,
	}
	ctx.track(o)
	return o
}

// suspendGenerator detaches the top frame into its generator's
// SuspendedFrame and pops it.
func (vm *VM) suspendGenerator(frame *Frame, outputReg int) {
	gen := frame.generator.generator
	saved := &SuspendedFrame{
		ip:        frame.ip,
		registers: make([]Value, frame.regCount),
		env:       frame.env,
		envCount:  frame.envCount,
		pending:   append([]pendingAction(nil), frame.pending...),
		outputReg: outputReg,
		thisValue: frame.thisValue,
		newTarget: frame.newTarget,
	}
	copy(saved.registers, vm.registers[frame.base:frame.base+frame.regCount])
	gen.frame = saved
	gen.state = GeneratorSuspendedYield
	vm.popFrame()
}

// completeGenerator marks the generator done. Completion is sticky.
func (vm *VM) completeGenerator(genObj *Object, ret Value) {
	gen := genObj.generator
	gen.state = GeneratorCompleted
	gen.frame = nil
	gen.returnValue = ret
	if gen.isAsync && gen.promise != nil {
		vm.ctx.resolvePromise(gen.promise, ret)
	}
}

// reattachFrame pushes a suspended frame back onto the stack.
func (vm *VM) reattachFrame(genObj *Object) error {
	gen := genObj.generator
	if err := vm.pushFrame(gen.fn, gen.frame.thisValue, gen.frame.newTarget, nil, -1); err != nil {
		return err
	}
	frame := &vm.frames[vm.frameCount-1]
	copy(vm.registers[frame.base:frame.base+frame.regCount], gen.frame.registers)
	frame.ip = gen.frame.ip
	frame.env = gen.frame.env
	frame.envCount = gen.frame.envCount
	frame.pending = append(frame.pending[:0], gen.frame.pending...)
	frame.generator = genObj
	gen.frame = nil
	return nil
}

// resumeGenerator drives one next/throw/return resumption and returns the
// iterator-result pair.
func (ctx *Context) resumeGenerator(genObj *Object, mode resumeMode, sent Value) (value Value, done bool, err error) {
	vm := ctx.vm
	gen := genObj.generator
	if gen == nil {
		return Undefined, true, ctx.NewTypeError("not a generator object")
	}

	switch gen.state {
	case GeneratorExecuting:
		return Undefined, true, ctx.NewTypeError("Generator is already running")

	case GeneratorCompleted:
		switch mode {
		case resumeThrow:
			return Undefined, true, Throw(sent)
		case resumeReturn:
			return sent, true, nil
		default:
			return Undefined, true, nil
		}

	case GeneratorSuspendedStart:
		if mode == resumeReturn {
			vm.completeGenerator(genObj, sent)
			return sent, true, nil
		}
		if mode == resumeThrow {
			vm.completeGenerator(genObj, Undefined)
			return Undefined, true, Throw(sent)
		}
		if err := vm.pushFrame(gen.fn, gen.this, Undefined, gen.args, -1); err != nil {
			return Undefined, true, err
		}
		vm.frames[vm.frameCount-1].generator = genObj
		gen.state = GeneratorExecuting

	case GeneratorSuspendedYield:
		outputReg := gen.frame.outputReg
		if err := vm.reattachFrame(genObj); err != nil {
			return Undefined, true, err
		}
		gen.state = GeneratorExecuting
		frame := &vm.frames[vm.frameCount-1]
		switch mode {
		case resumeNext:
			if outputReg >= 0 {
				vm.registers[frame.base+outputReg] = sent
			}
		case resumeThrow:
			// Unwinding must stop at the generator frame; the resumer's
			// frames are not part of this exception's scope.
			floor := vm.unwindFloor
			vm.unwindFloor = vm.frameCount - 1
			handled := vm.handleThrow(sent)
			vm.unwindFloor = floor
			if !handled {
				// Nothing in the generator catches: it completes and the
				// exception propagates to the resumer.
				gen.state = GeneratorCompleted
				gen.frame = nil
				return Undefined, true, Throw(sent)
			}
		case resumeReturn:
			// Inject a return completion so finally blocks between the
			// yield and the function boundary still run.
			if vm.injectReturn(frame, sent) {
				break
			}
			vm.popFrame()
			vm.completeGenerator(genObj, sent)
			return sent, true, nil
		}
	}

	result, suspended, err := vm.runResumable()
	if err != nil {
		if gen.state != GeneratorCompleted {
			gen.state = GeneratorCompleted
			gen.frame = nil
		}
		return Undefined, true, err
	}
	if suspended {
		return result, false, nil
	}
	return result, true, nil
}

// injectReturn reroutes a suspended generator's control to the innermost
// enclosing finally block with a pending return, so cleanup runs before the
// generator completes. Returns false when no finally protects the yield.
func (vm *VM) injectReturn(frame *Frame, value Value) bool {
	pc := frame.ip - 1
	if pc < 0 {
		pc = 0
	}
	for i := 0; i < len(frame.chunk.ExceptionTable); i++ {
		h := &frame.chunk.ExceptionTable[i]
		if h.IsFinally && pc >= h.TryStart && pc < h.TryEnd {
			for frame.envCount > h.EnvDepth {
				frame.env = frame.env.env.outer()
				frame.envCount--
			}
			frame.pending = append(frame.pending, pendingAction{typ: CompletionReturn, value: value})
			frame.ip = h.HandlerPC
			return true
		}
	}
	return false
}

// ---- generator prototype methods ----

func (ctx *Context) generatorNext(this Value, args []Value) (Value, error) {
	genObj := this.ObjectOrNil()
	if genObj == nil || genObj.generator == nil {
		return Undefined, ctx.NewTypeError("next called on a non-generator")
	}
	sent := Undefined
	if len(args) > 0 {
		sent = args[0]
	}
	value, done, err := ctx.resumeGenerator(genObj, resumeNext, sent)
	if err != nil {
		return Undefined, err
	}
	return ctx.iterResult(value, done), nil
}

func (ctx *Context) generatorReturn(this Value, args []Value) (Value, error) {
	genObj := this.ObjectOrNil()
	if genObj == nil || genObj.generator == nil {
		return Undefined, ctx.NewTypeError("return called on a non-generator")
	}
	sent := Undefined
	if len(args) > 0 {
		sent = args[0]
	}
	value, done, err := ctx.resumeGenerator(genObj, resumeReturn, sent)
	if err != nil {
		return Undefined, err
	}
	return ctx.iterResult(value, done), nil
}

func (ctx *Context) generatorThrow(this Value, args []Value) (Value, error) {
	genObj := this.ObjectOrNil()
	if genObj == nil || genObj.generator == nil {
		return Undefined, ctx.NewTypeError("throw called on a non-generator")
	}
	sent := Undefined
	if len(args) > 0 {
		sent = args[0]
	}
	value, done, err := ctx.resumeGenerator(genObj, resumeThrow, sent)
	if err != nil {
		return Undefined, err
	}
	return ctx.iterResult(value, done), nil
}

// iterResult builds a {value, done} object.
func (ctx *Context) iterResult(value Value, done bool) Value {
	o := ctx.NewObject()
	o.SetOwn("value", value)
	o.SetOwn("done", BooleanValue(done))
	return ObjectValue(o)
}
