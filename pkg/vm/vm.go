package vm

import (
	"fmt"
	"strings"

	"sparrow/pkg/errors"
	"sparrow/pkg/heap"
)

// Frame is one bytecode activation. Registers live in a window of the VM's
// shared register stack; the environment chain head and the counters needed
// for exception cleanup are per-frame.
type Frame struct {
	fn        *Object
	chunk     *Chunk
	ip        int
	base      int
	regCount  int
	env       *Object
	envCount  int // environments pushed within this frame, for unwind cleanup
	thisValue Value
	newTarget Value
	outputReg int // caller register for the return value, -1 for native callers
	pending   []pendingAction
	args      []Value

	generator   *Object // owning generator when this frame is resumable
	isConstruct bool
}

// registerStackSize is the capacity of the shared register stack. It is
// allocated once at VM creation: the backing array never moves, so register
// windows cached by the dispatch loop stay valid when a native callee
// re-enters the VM. Running out of register space is the same fatal stack
// overflow as running out of frames.
const registerStackSize = 1 << 16

// VM executes bytecode frames for one Context. It is single-threaded; the
// owning Context serializes access. The register and frame stacks are
// fixed-size allocations; see registerStackSize.
type VM struct {
	ctx *Context

	registers  []Value
	frames     []Frame
	frameCount int

	// unwindFloor stops exception unwinding at the current native nesting
	// boundary so Go callers observe the error.
	unwindFloor int

	propCaches     map[cacheSite]*propCache
	cachesDisabled bool
	cacheStats     CacheStats

	// ticks counts loop back-edges and calls against the configured budget.
	ticks int64
}

func newVM(ctx *Context) *VM {
	vm := &VM{
		ctx:        ctx,
		registers:  make([]Value, registerStackSize),
		frames:     make([]Frame, ctx.Limits.MaxFrames),
		propCaches: make(map[cacheSite]*propCache),
	}
	ctx.Heap.AddRootProvider(vm.traceRoots)
	return vm
}

// traceRoots reports every value a live frame can still reach.
func (vm *VM) traceRoots(mark heap.Tracer) {
	top := 0
	for i := 0; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		if f.fn != nil {
			mark(f.fn)
		}
		if f.env != nil {
			mark(f.env)
		}
		if f.generator != nil {
			mark(f.generator)
		}
		traceValue(mark, f.thisValue)
		traceValue(mark, f.newTarget)
		for _, p := range f.pending {
			traceValue(mark, p.value)
		}
		for _, a := range f.args {
			traceValue(mark, a)
		}
		if end := f.base + f.regCount; end > top {
			top = end
		}
	}
	for i := 0; i < top && i < len(vm.registers); i++ {
		traceValue(mark, vm.registers[i])
	}
}

func errUnknownOpcode(op OpCode) error {
	return errors.Newf("unknown opcode %s", op)
}

// chargeTick charges one unit against the loop budget. Exceeding it throws a
// catchable RangeError and resets the counter so the handler can run.
//
// Back edges and calls are also the safe points where construction pins are
// released: with no native Go frames below (unwindFloor 0), every value in
// flight sits in a traced register window or environment, so the allocation
// trigger can reclaim loop garbage mid-evaluation.
func (vm *VM) chargeTick() error {
	if vm.unwindFloor == 0 && len(vm.ctx.tempRoots) > 0 {
		vm.ctx.releaseTempRoots()
	}
	vm.ticks++
	if limit := vm.ctx.Limits.MaxTicks; limit > 0 && vm.ticks > limit {
		vm.ticks = 0
		return vm.ctx.NewRangeError("execution budget exceeded")
	}
	return nil
}

// runTopFrame executes the frame just pushed until it completes, bounding
// exception unwinding at the caller's depth.
func (vm *VM) runTopFrame() (Value, error) {
	stop := vm.frameCount - 1
	prevFloor := vm.unwindFloor
	vm.unwindFloor = stop
	result, _, err := vm.run(stop)
	vm.unwindFloor = prevFloor
	return result, err
}

// runResumable is runTopFrame for generator and async frames; suspended
// reports that the top frame yielded instead of returning.
func (vm *VM) runResumable() (result Value, suspended bool, err error) {
	stop := vm.frameCount - 1
	prevFloor := vm.unwindFloor
	vm.unwindFloor = stop
	result, suspended, err = vm.run(stop)
	vm.unwindFloor = prevFloor
	return
}

// run is the dispatch loop. It executes until the frame at stopDepth+1
// finishes (return, yield or uncaught throw).
func (vm *VM) run(stopDepth int) (Value, bool, error) {
	ctx := vm.ctx

	for vm.frameCount > stopDepth {
		frame := &vm.frames[vm.frameCount-1]
		code := frame.chunk.Code
		consts := frame.chunk.Constants
		regs := vm.registers[frame.base : frame.base+frame.regCount]
		ip := frame.ip

	dispatch:
		for {
			// Declared ahead of the implicit-return branch so its goto raise
			// never crosses a declaration.
			var (
				opIP   int
				op     OpCode
				err    error
				result Value
			)

			if ip >= len(code) {
				// Fell off the end: implicit return undefined.
				frame.ip = ip
				var done bool
				result, done, err = vm.finishFrame(frame, Undefined, stopDepth)
				if err != nil {
					goto raise
				}
				if done {
					return result, false, nil
				}
				break dispatch
			}

			opIP = ip
			op = OpCode(code[ip])
			ip++

			switch op {
			case OpLoadConst:
				rx := code[ip]
				idx := readUint16(code, ip+1)
				ip += 3
				regs[rx] = consts[idx]
			case OpLoadConstW:
				rx := code[ip]
				idx := readUint32(code, ip+1)
				ip += 5
				regs[rx] = consts[idx]
			case OpLoadUndefined:
				regs[code[ip]] = Undefined
				ip++
			case OpLoadNull:
				regs[code[ip]] = Null
				ip++
			case OpLoadTrue:
				regs[code[ip]] = True
				ip++
			case OpLoadFalse:
				regs[code[ip]] = False
				ip++
			case OpMove:
				regs[code[ip]] = regs[code[ip+1]]
				ip += 2

			case OpAdd:
				result, err = ctx.addValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpSubtract:
				result, err = ctx.subtractValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpMultiply:
				result, err = ctx.multiplyValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpDivide:
				result, err = ctx.divideValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpRemainder:
				result, err = ctx.remainderValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpExponent:
				result, err = ctx.exponentValues(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3

			case OpNegate:
				result, err = ctx.negateValue(regs[code[ip+1]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 2
			case OpNot:
				regs[code[ip]] = BooleanValue(!ToBoolean(regs[code[ip+1]]))
				ip += 2
			case OpBitwiseNot:
				var n float64
				n, err = ctx.ToNumber(regs[code[ip+1]])
				if err == nil {
					regs[code[ip]] = IntegerValue(^ToInt32(n))
				}
				ip += 2
			case OpTypeof:
				regs[code[ip]] = NewString(regs[code[ip+1]].TypeName())
				ip += 2
			case OpToNumber:
				var n float64
				n, err = ctx.ToNumber(regs[code[ip+1]])
				if err == nil {
					regs[code[ip]] = NumberValue(n)
				}
				ip += 2

			case OpBitwiseAnd, OpBitwiseOr, OpBitwiseXor, OpShiftLeft, OpShiftRight, OpUnsignedShiftRight:
				result, err = ctx.bitwiseOp(regs[code[ip+1]], regs[code[ip+2]], op)
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3

			case OpEqual:
				var eq bool
				eq, err = ctx.LooseEquals(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = BooleanValue(eq)
				}
				ip += 3
			case OpNotEqual:
				var eq bool
				eq, err = ctx.LooseEquals(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = BooleanValue(!eq)
				}
				ip += 3
			case OpStrictEqual:
				regs[code[ip]] = BooleanValue(StrictEquals(regs[code[ip+1]], regs[code[ip+2]]))
				ip += 3
			case OpStrictNotEqual:
				regs[code[ip]] = BooleanValue(!StrictEquals(regs[code[ip+1]], regs[code[ip+2]]))
				ip += 3
			case OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
				result, err = ctx.compareValues(regs[code[ip+1]], regs[code[ip+2]], op)
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpIn:
				result, err = ctx.hasPropertyOp(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = result
				}
				ip += 3
			case OpInstanceof:
				var is bool
				is, err = ctx.instanceOf(regs[code[ip+1]], regs[code[ip+2]])
				if err == nil {
					regs[code[ip]] = BooleanValue(is)
				}
				ip += 3
			case OpStringConcat:
				var sa, sb string
				sa, err = ctx.ToString(regs[code[ip+1]])
				if err == nil {
					sb, err = ctx.ToString(regs[code[ip+2]])
				}
				if err == nil {
					regs[code[ip]] = NewString(sa + sb)
				}
				ip += 3

			case OpJump:
				delta := int(readInt16(code, ip))
				ip += 2
				if delta < 0 {
					if err = vm.chargeTick(); err != nil {
						goto fail
					}
				}
				ip += delta
			case OpJumpIfFalse:
				cond := regs[code[ip]]
				delta := int(readInt16(code, ip+1))
				ip += 3
				if !ToBoolean(cond) {
					if delta < 0 {
						if err = vm.chargeTick(); err != nil {
							goto fail
						}
					}
					ip += delta
				}
			case OpJumpIfTrue:
				cond := regs[code[ip]]
				delta := int(readInt16(code, ip+1))
				ip += 3
				if ToBoolean(cond) {
					if delta < 0 {
						if err = vm.chargeTick(); err != nil {
							goto fail
						}
					}
					ip += delta
				}
			case OpJumpIfNullish:
				cond := regs[code[ip]]
				delta := int(readInt16(code, ip+1))
				ip += 3
				if cond.IsNullish() {
					if delta < 0 {
						if err = vm.chargeTick(); err != nil {
							goto fail
						}
					}
					ip += delta
				}

			case OpCall, OpCallMethod, OpNew:
				if err = vm.chargeTick(); err != nil {
					goto fail
				}
				var kind callKind
				var rx byte
				switch op {
				case OpCall:
					rx = code[ip]
					funcReg := int(code[ip+1])
					argc := int(code[ip+2])
					ip += 3
					frame.ip = ip
					args := regs[funcReg+1 : funcReg+1+argc]
					kind, result, err = vm.prepareCall(regs[funcReg], Undefined, args, int(rx))
				case OpCallMethod:
					rx = code[ip]
					funcReg := int(code[ip+1])
					thisReg := int(code[ip+2])
					argc := int(code[ip+3])
					ip += 4
					frame.ip = ip
					args := regs[thisReg+1 : thisReg+1+argc]
					kind, result, err = vm.prepareCall(regs[funcReg], regs[thisReg], args, int(rx))
				default:
					rx = code[ip]
					ctorReg := int(code[ip+1])
					argc := int(code[ip+2])
					ip += 3
					frame.ip = ip
					args := regs[ctorReg+1 : ctorReg+1+argc]
					kind, result, err = vm.prepareConstruct(regs[ctorReg], args, regs[ctorReg], int(rx))
				}
				if err != nil {
					goto fail
				}
				if kind == callCompleted {
					regs[rx] = result
					continue
				}
				break dispatch // frame pushed, re-enter with new cached state

			case OpSpreadCall:
				if err = vm.chargeTick(); err != nil {
					goto fail
				}
				rx := code[ip]
				funcReg := code[ip+1]
				thisReg := code[ip+2]
				arrReg := code[ip+3]
				ip += 4
				frame.ip = ip
				arr := regs[arrReg].ObjectOrNil()
				if arr == nil || arr.array == nil {
					err = ctx.NewTypeError("Spread argument must be an array")
					goto fail
				}
				args := make([]Value, 0, len(arr.array.elements))
				for _, v := range arr.array.elements {
					if v.IsHole() {
						v = Undefined
					}
					args = append(args, v)
				}
				var kind callKind
				kind, result, err = vm.prepareCall(regs[funcReg], regs[thisReg], args, int(rx))
				if err != nil {
					goto fail
				}
				if kind == callCompleted {
					regs[rx] = result
					continue
				}
				break dispatch

			case OpReturn:
				frame.ip = ip
				ret := regs[code[ip]]
				result, done, ferr := vm.finishFrame(frame, ret, stopDepth)
				if ferr != nil {
					err = ferr
					goto raise
				}
				if done {
					return result, false, nil
				}
				break dispatch
			case OpReturnUndefined:
				frame.ip = ip
				result, done, ferr := vm.finishFrame(frame, Undefined, stopDepth)
				if ferr != nil {
					err = ferr
					goto raise
				}
				if done {
					return result, false, nil
				}
				break dispatch

			case OpThrow:
				err = Throw(regs[code[ip]])
				ip++
				goto fail

			case OpClosure:
				rx := code[ip]
				idx := readUint16(code, ip+1)
				ip += 3
				proto := frame.chunk.Functions[idx]
				fnObj := ctx.NewFunction(proto, frame.env)
				if proto.Kind == ArrowFunction {
					fnObj.fn.ThisValue = frame.thisValue
				}
				regs[rx] = ObjectValue(fnObj)
			case OpLoadThis:
				regs[code[ip]] = frame.thisValue
				ip++
			case OpLoadNewTarget:
				regs[code[ip]] = frame.newTarget
				ip++

			case OpMakeEmptyObject:
				regs[code[ip]] = ObjectValue(ctx.NewObject())
				ip++
			case OpMakeArray:
				rx := code[ip]
				start := int(code[ip+1])
				count := int(code[ip+2])
				ip += 3
				arr := ctx.NewArrayOf(regs[start : start+count]...)
				regs[rx] = ObjectValue(arr)
			case OpGetProp:
				rx := code[ip]
				objReg := code[ip+1]
				nameIdx := readUint16(code, ip+2)
				ip += 4
				frame.ip = ip
				key := StringKey(consts[nameIdx].AsString())
				target := regs[objReg]
				if obj := target.ObjectOrNil(); obj != nil {
					result, err = vm.cachedGet(ctx, cacheSite{chunk: frame.chunk, ip: opIP}, obj, key, target)
				} else {
					result, err = ctx.GetV(target, key)
				}
				if err == nil {
					regs[rx] = result
				}
			case OpSetProp:
				objReg := code[ip]
				valReg := code[ip+1]
				nameIdx := readUint16(code, ip+2)
				ip += 4
				frame.ip = ip
				key := StringKey(consts[nameIdx].AsString())
				target := regs[objReg]
				if obj := target.ObjectOrNil(); obj != nil {
					_, err = vm.cachedSet(ctx, cacheSite{chunk: frame.chunk, ip: opIP}, obj, key, regs[valReg], target)
				} else {
					err = ctx.SetV(target, key, regs[valReg])
				}
			case OpGetIndex:
				rx := code[ip]
				objReg := code[ip+1]
				keyReg := code[ip+2]
				ip += 3
				frame.ip = ip
				result, err = ctx.getByValue(regs[objReg], regs[keyReg])
				if err == nil {
					regs[rx] = result
				}
			case OpSetIndex:
				objReg := code[ip]
				keyReg := code[ip+1]
				valReg := code[ip+2]
				ip += 3
				frame.ip = ip
				err = ctx.setByValue(regs[objReg], regs[keyReg], regs[valReg])
			case OpDeleteProp:
				rx := code[ip]
				objReg := code[ip+1]
				nameIdx := readUint16(code, ip+2)
				ip += 4
				frame.ip = ip
				if obj := regs[objReg].ObjectOrNil(); obj != nil {
					var ok bool
					ok, err = obj.DeleteProperty(ctx, StringKey(consts[nameIdx].AsString()))
					if err == nil {
						regs[rx] = BooleanValue(ok)
					}
				} else {
					regs[rx] = True
				}
			case OpDeleteIndex:
				rx := code[ip]
				objReg := code[ip+1]
				keyReg := code[ip+2]
				ip += 3
				frame.ip = ip
				if obj := regs[objReg].ObjectOrNil(); obj != nil {
					var pk PropertyKey
					pk, err = ctx.ToPropertyKey(regs[keyReg])
					if err == nil {
						var ok bool
						ok, err = obj.DeleteProperty(ctx, pk)
						if err == nil {
							regs[rx] = BooleanValue(ok)
						}
					}
				} else {
					regs[rx] = True
				}
			case OpGetOwnKeys:
				rx := code[ip]
				objReg := code[ip+1]
				ip += 2
				frame.ip = ip
				result, err = ctx.enumerableOwnKeys(regs[objReg])
				if err == nil {
					regs[rx] = result
				}
			case OpDefineAccessor:
				objReg := code[ip]
				getterReg := code[ip+1]
				setterReg := code[ip+2]
				nameIdx := readUint16(code, ip+3)
				ip += 5
				frame.ip = ip
				obj := regs[objReg].ObjectOrNil()
				if obj == nil {
					err = ctx.NewTypeError("Cannot define accessor on non-object")
					goto fail
				}
				getter, setter := regs[getterReg], regs[setterReg]
				_, err = obj.DefineOwnProperty(ctx, StringKey(consts[nameIdx].AsString()),
					AccessorDescriptor(getter, setter, true, true))
			case OpSetPrototype:
				objReg := code[ip]
				protoReg := code[ip+1]
				ip += 2
				if obj := regs[objReg].ObjectOrNil(); obj != nil {
					_, err = obj.SetPrototypeOf(ctx, regs[protoReg])
				}

			case OpGetGlobal:
				rx := code[ip]
				nameIdx := readUint16(code, ip+1)
				ip += 3
				frame.ip = ip
				name := consts[nameIdx].AsString()
				var found bool
				result, found, err = resolveName(ctx, ctx.GlobalEnvBox, name)
				if err == nil && !found {
					err = ctx.NewReferenceError(name + " is not defined")
				}
				if err == nil {
					regs[rx] = result
				}
			case OpSetGlobal:
				nameIdx := readUint16(code, ip)
				ry := code[ip+2]
				ip += 3
				frame.ip = ip
				err = storeName(ctx, ctx.GlobalEnvBox, consts[nameIdx].AsString(), regs[ry])
			case OpTypeofIdentifier:
				rx := code[ip]
				nameIdx := readUint16(code, ip+1)
				ip += 3
				frame.ip = ip
				name := consts[nameIdx].AsString()
				v, found, lerr := resolveName(ctx, frame.env, name)
				if lerr != nil {
					err = lerr
				} else if !found {
					regs[rx] = NewString("undefined")
				} else {
					regs[rx] = NewString(v.TypeName())
				}

			case OpPushEnv:
				slots := int(readUint16(code, ip))
				ip += 2
				frame.env = ctx.NewDeclarativeEnv(frame.env, slots)
				frame.envCount++
			case OpPopEnv:
				frame.env = frame.env.env.outer()
				frame.envCount--
			case OpPushWithEnv:
				objReg := code[ip]
				ip++
				frame.ip = ip
				obj, oerr := ctx.ToObject(regs[objReg])
				if oerr != nil {
					err = oerr
					goto fail
				}
				frame.env = ctx.NewWithEnv(frame.env, obj)
				frame.envCount++
			case OpLoadEnv:
				rx := code[ip]
				depth := int(code[ip+1])
				slot := int(code[ip+2])
				ip += 3
				frame.ip = ip
				rec := slotRecord(envAt(frame.env, depth))
				v, initialized := rec.GetSlot(slot)
				if !initialized {
					err = ctx.NewReferenceError("Cannot access variable before initialization")
					goto fail
				}
				regs[rx] = v
			case OpStoreEnv:
				depth := int(code[ip])
				slot := int(code[ip+1])
				ry := code[ip+2]
				ip += 3
				frame.ip = ip
				rec := slotRecord(envAt(frame.env, depth))
				tdz, immutable := rec.SetSlot(slot, regs[ry])
				if tdz {
					err = ctx.NewReferenceError("Cannot access variable before initialization")
					goto fail
				}
				if immutable {
					err = ctx.NewTypeError("Assignment to constant variable.")
					goto fail
				}
			case OpInitEnv:
				depth := int(code[ip])
				slot := int(code[ip+1])
				kind := BindingKind(code[ip+2])
				ry := code[ip+3]
				ip += 4
				rec := slotRecord(envAt(frame.env, depth))
				rec.InitSlot(slot, kind, regs[ry])
			case OpLoadEnvName:
				rx := code[ip]
				nameIdx := readUint16(code, ip+1)
				ip += 3
				frame.ip = ip
				name := consts[nameIdx].AsString()
				var found bool
				result, found, err = resolveName(ctx, frame.env, name)
				if err == nil && !found {
					err = ctx.NewReferenceError(name + " is not defined")
				}
				if err == nil {
					regs[rx] = result
				}
			case OpStoreEnvName:
				nameIdx := readUint16(code, ip)
				ry := code[ip+2]
				ip += 3
				frame.ip = ip
				err = storeName(ctx, frame.env, consts[nameIdx].AsString(), regs[ry])

			case OpGetIterator:
				rx := code[ip]
				ry := code[ip+1]
				ip += 2
				frame.ip = ip
				result, err = ctx.getIterator(regs[ry])
				if err == nil {
					regs[rx] = result
				}
			case OpIteratorNext:
				valReg := code[ip]
				doneReg := code[ip+1]
				iterReg := code[ip+2]
				ip += 3
				frame.ip = ip
				if err = vm.chargeTick(); err != nil {
					goto fail
				}
				var done bool
				result, done, err = ctx.iteratorStep(regs[iterReg], Empty)
				if err == nil {
					regs[valReg] = result
					regs[doneReg] = BooleanValue(done)
				}

			case OpHandlePending:
				frame.ip = ip
				ret, done, perr := vm.replayPending(frame)
				if perr != nil {
					err = perr
					goto fail
				}
				if done {
					result, finished, ferr := vm.finishFrame(frame, ret, stopDepth)
					if ferr != nil {
						err = ferr
						goto raise
					}
					if finished {
						return result, false, nil
					}
					break dispatch
				}
				ip = frame.ip
			case OpPushBreak:
				target := int(readUint16(code, ip))
				ip += 2
				frame.pending = append(frame.pending, pendingAction{typ: CompletionBreak, target: target})
			case OpPushContinue:
				target := int(readUint16(code, ip))
				ip += 2
				frame.pending = append(frame.pending, pendingAction{typ: CompletionContinue, target: target})
			case OpReturnFinally:
				frame.pending = append(frame.pending, pendingAction{typ: CompletionReturn, value: regs[code[ip]]})
				ip++

			case OpYield:
				rx := code[ip]
				outReg := code[ip+1]
				ip += 2
				frame.ip = ip
				if frame.generator == nil {
					err = errors.Newf("yield outside a generator frame")
					goto raise
				}
				yielded := regs[rx]
				vm.suspendGenerator(frame, int(outReg))
				return yielded, true, nil

			case OpAwait:
				rx := code[ip]
				promiseReg := code[ip+1]
				ip += 2
				frame.ip = ip
				awaited := regs[promiseReg]
				if frame.generator == nil {
					err = errors.Newf("await outside an async frame")
					goto raise
				}
				vm.suspendGenerator(frame, int(rx))
				return awaited, true, nil

			default:
				err = errUnknownOpcode(op)
				goto raise
			}

			if err == nil {
				continue
			}

		fail:
			frame.ip = ip
			if exception, ok := UnwrapThrown(err); ok {
				if vm.handleThrow(exception) {
					break dispatch // refresh cached frame state
				}
				return Undefined, false, err
			}
		raise:
			// Fatal and host errors bypass JS handlers but must still unwind,
			// or the leaked frames would poison every later evaluation.
			frame.ip = ip
			vm.unwindFrames(stopDepth)
			return Undefined, false, err
		}
	}
	return Undefined, false, nil
}

// unwindFrames pops frames down to stopDepth without running handlers.
func (vm *VM) unwindFrames(stopDepth int) {
	for vm.frameCount > stopDepth {
		vm.popFrame()
	}
}

// finishFrame completes the top frame with a return value. done reports that
// control left the run nesting; otherwise the value was stored in the
// caller's output register.
func (vm *VM) finishFrame(frame *Frame, ret Value, stopDepth int) (Value, bool, error) {
	if frame.isConstruct && ret.typ != TypeObject {
		ret = frame.thisValue
	}
	if frame.generator != nil {
		vm.completeGenerator(frame.generator, ret)
	}
	outputReg := frame.outputReg
	vm.popFrame()
	if vm.frameCount == stopDepth {
		return ret, true, nil
	}
	if outputReg >= 0 {
		caller := &vm.frames[vm.frameCount-1]
		vm.registers[caller.base+outputReg] = ret
	}
	return Undefined, false, nil
}

// getByValue implements obj[key] for arbitrary keys, with an integer fast
// path for arrays.
func (ctx *Context) getByValue(target, key Value) (Value, error) {
	if obj := target.ObjectOrNil(); obj != nil && obj.array != nil && key.typ == TypeIntegerNumber {
		if v, present := obj.array.elementAt(int(key.AsInteger())); present {
			return v, nil
		}
	}
	pk, err := ctx.ToPropertyKey(key)
	if err != nil {
		return Undefined, err
	}
	return ctx.GetV(target, pk)
}

func (ctx *Context) setByValue(target, key, value Value) error {
	if obj := target.ObjectOrNil(); obj != nil && obj.array != nil && key.typ == TypeIntegerNumber {
		if i := int(key.AsInteger()); i >= 0 {
			obj.array.setElement(i, value)
			return nil
		}
	}
	pk, err := ctx.ToPropertyKey(key)
	if err != nil {
		return err
	}
	return ctx.SetV(target, pk, value)
}

// enumerableOwnKeys returns an array of own enumerable string keys, the
// for-in backing operation.
func (ctx *Context) enumerableOwnKeys(target Value) (Value, error) {
	obj, err := ctx.ToObject(target)
	if err != nil {
		return Undefined, err
	}
	keys, err := obj.OwnKeys(ctx)
	if err != nil {
		return Undefined, err
	}
	arr := ctx.NewArray()
	for _, k := range keys {
		if !k.IsString() {
			continue
		}
		desc, found, err := obj.GetOwnProperty(ctx, k)
		if err != nil {
			return Undefined, err
		}
		if found && desc.Enumerable == FlagTrue {
			arr.array.setElement(int(arr.array.length), NewString(k.name))
		}
	}
	return ObjectValue(arr), nil
}

// captureStackTrace renders the current frame stack, newest first.
func (vm *VM) captureStackTrace(header string) string {
	if vm.frameCount == 0 {
		return header
	}
	var b strings.Builder
	b.WriteString(header)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		name := "<anonymous>"
		if f.fn != nil && f.fn.fn.Name != "" {
			name = f.fn.fn.Name
		} else if f.chunk.Name != "" {
			name = f.chunk.Name
		}
		fmt.Fprintf(&b, "\n    at %s (line %d)", name, f.chunk.GetLine(f.ip))
	}
	return b.String()
}
