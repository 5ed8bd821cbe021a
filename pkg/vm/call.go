package vm

import (
	"sparrow/pkg/errors"
)

// callKind tells the dispatch loop what prepareCall did.
type callKind uint8

const (
	callPushedFrame callKind = iota // bytecode frame pushed, continue dispatch
	callCompleted                   // result already available (native, generator creation)
)

// prepareCall sets up a [[Call]] on callee. For bytecode functions it pushes
// a frame and the dispatch loop continues inside it; for natives and
// generator-object creation it completes immediately.
//
// outputReg is the caller-frame register receiving the result, -1 when the
// caller is native code.
func (vm *VM) prepareCall(callee Value, this Value, args []Value, outputReg int) (callKind, Value, error) {
	fnObj := callee.ObjectOrNil()
	if fnObj == nil || !fnObj.IsCallable() {
		return callCompleted, Undefined, vm.ctx.NewTypeError(callee.TypeName() + " is not a function")
	}
	if fnObj.proxy != nil {
		return vm.proxyCall(fnObj, this, args, outputReg)
	}
	fd := fnObj.fn

	if fd.Bound != nil {
		target, boundThis, merged := unwrapBound(fnObj, args)
		return vm.prepareCall(ObjectValue(target), boundThis, merged, outputReg)
	}

	if fd.Native != nil {
		result, err := fd.Native(vm.ctx, this, args)
		return callCompleted, result, err
	}

	switch fd.Kind {
	case GeneratorFunction:
		gen := vm.ctx.newGenerator(fnObj, this, args)
		return callCompleted, ObjectValue(gen), nil
	case AsyncFunction:
		promise := vm.ctx.startAsyncCall(fnObj, this, args)
		return callCompleted, promise, nil
	}

	if fd.Kind == ArrowFunction && !fd.ThisValue.IsEmpty() {
		this = fd.ThisValue
	}
	if err := vm.pushFrame(fnObj, this, Undefined, args, outputReg); err != nil {
		return callCompleted, Undefined, err
	}
	return callPushedFrame, Undefined, nil
}

// prepareConstruct sets up a [[Construct]]. newTarget substitutes for the
// bound this when constructing through a bound function.
func (vm *VM) prepareConstruct(callee Value, args []Value, newTarget Value, outputReg int) (callKind, Value, error) {
	fnObj := callee.ObjectOrNil()
	if fnObj == nil || !fnObj.IsConstructor() {
		return callCompleted, Undefined, vm.ctx.NewTypeError(callee.TypeName() + " is not a constructor")
	}
	if fnObj.proxy != nil {
		return vm.proxyConstruct(fnObj, args, newTarget, outputReg)
	}
	fd := fnObj.fn

	if fd.Bound != nil {
		target, _, merged := unwrapBound(fnObj, args)
		if SameValue(newTarget, callee) {
			newTarget = ObjectValue(target)
		}
		return vm.prepareConstruct(ObjectValue(target), merged, newTarget, outputReg)
	}

	// Allocate this from newTarget's prototype property.
	proto := vm.ctx.Realm.ObjectPrototype
	if ntObj := newTarget.ObjectOrNil(); ntObj != nil {
		p, err := ntObj.Get(vm.ctx, StringKey("prototype"), newTarget)
		if err != nil {
			return callCompleted, Undefined, err
		}
		if po := p.ObjectOrNil(); po != nil {
			proto = po
		}
	}
	thisObj := newObject(ClassObject, vm.ctx.Realm.RootShape, ObjectValue(proto))
	vm.ctx.track(thisObj)
	this := ObjectValue(thisObj)

	if fd.Native != nil {
		result, err := fd.Native(vm.ctx, this, args)
		if err != nil {
			return callCompleted, Undefined, err
		}
		if result.typ == TypeObject {
			return callCompleted, result, nil
		}
		return callCompleted, this, nil
	}

	if err := vm.pushFrame(fnObj, this, newTarget, args, outputReg); err != nil {
		return callCompleted, Undefined, err
	}
	frame := &vm.frames[vm.frameCount-1]
	frame.isConstruct = true
	return callPushedFrame, Undefined, nil
}

// pushFrame installs a bytecode frame. Frame depth exhaustion is a fatal,
// non-catchable error: the evaluation aborts but the context stays usable.
func (vm *VM) pushFrame(fnObj *Object, this, newTarget Value, args []Value, outputReg int) error {
	if vm.frameCount >= vm.ctx.Limits.MaxFrames || vm.frameCount >= len(vm.frames) {
		return &errors.FatalError{Msg: "maximum call stack size exceeded"}
	}
	fd := fnObj.fn
	chunk := fd.Proto.Chunk

	base := 0
	if vm.frameCount > 0 {
		top := &vm.frames[vm.frameCount-1]
		base = top.base + top.regCount
	}
	// The register stack never grows: the dispatch loop holds windows into
	// it across calls, and a reallocation would strand them.
	need := base + fd.Proto.RegisterSize
	if need > len(vm.registers) {
		return &errors.FatalError{Msg: "maximum call stack size exceeded"}
	}

	// Parameter registers: R0..arity-1 hold arguments, missing ones are
	// undefined, extras are dropped (rest handling is compiled in).
	regs := vm.registers[base : base+fd.Proto.RegisterSize]
	for i := range regs {
		regs[i] = Undefined
	}
	for i := 0; i < fd.Proto.Arity && i < len(args); i++ {
		regs[i] = args[i]
	}
	if fd.Proto.Variadic {
		rest := vm.ctx.NewArray()
		if len(args) > fd.Proto.Arity {
			for _, v := range args[fd.Proto.Arity:] {
				rest.array.setElement(int(rest.array.length), v)
			}
		}
		if fd.Proto.Arity < len(regs) {
			regs[fd.Proto.Arity] = ObjectValue(rest)
		}
	}

	frame := &vm.frames[vm.frameCount]
	*frame = Frame{
		fn:        fnObj,
		chunk:     chunk,
		ip:        0,
		base:      base,
		regCount:  fd.Proto.RegisterSize,
		env:       fd.Env,
		thisValue: this,
		newTarget: newTarget,
		outputReg: outputReg,
		args:      args,
	}
	if frame.env == nil {
		frame.env = vm.ctx.GlobalEnvBox
	}
	vm.frameCount++
	return nil
}

func (vm *VM) popFrame() {
	vm.frameCount--
	frame := &vm.frames[vm.frameCount]
	// Drop heap references so dead frames are not GC roots.
	frame.fn = nil
	frame.env = nil
	frame.generator = nil
	frame.thisValue = Undefined
	frame.newTarget = Undefined
	frame.pending = frame.pending[:0]
	frame.args = nil
}

// Call invokes a callable from Go. Used by conversions, promise reactions
// and the embedder API.
func (ctx *Context) Call(callee, this Value, args []Value) (Value, error) {
	vm := ctx.vm
	kind, result, err := vm.prepareCall(callee, this, args, -1)
	if err != nil || kind == callCompleted {
		return result, err
	}
	return vm.runTopFrame()
}

// Construct invokes a constructor from Go, with newTarget = callee.
func (ctx *Context) Construct(callee Value, args []Value) (Value, error) {
	vm := ctx.vm
	kind, result, err := vm.prepareConstruct(callee, args, callee, -1)
	if err != nil || kind == callCompleted {
		return result, err
	}
	return vm.runTopFrame()
}

// instanceOf implements the instanceof operator, honoring Symbol.hasInstance.
func (ctx *Context) instanceOf(left, right Value) (bool, error) {
	robj := right.ObjectOrNil()
	if robj == nil {
		return false, ctx.NewTypeError("Right-hand side of 'instanceof' is not an object")
	}
	hasInstance, err := robj.Get(ctx, SymbolKey(ctx.Realm.SymHasInstance), right)
	if err != nil {
		return false, err
	}
	if hasInstance.IsCallable() {
		res, err := ctx.Call(hasInstance, right, []Value{left})
		if err != nil {
			return false, err
		}
		return ToBoolean(res), nil
	}
	if !right.IsCallable() {
		return false, ctx.NewTypeError("Right-hand side of 'instanceof' is not callable")
	}
	protoVal, err := robj.Get(ctx, StringKey("prototype"), right)
	if err != nil {
		return false, err
	}
	proto := protoVal.ObjectOrNil()
	if proto == nil {
		return false, ctx.NewTypeError("Function has non-object prototype in instanceof")
	}
	cur := left.ObjectOrNil()
	for cur != nil {
		pv, err := cur.GetPrototypeOf(ctx)
		if err != nil {
			return false, err
		}
		cur = pv.ObjectOrNil()
		if cur == proto {
			return true, nil
		}
	}
	return false, nil
}
