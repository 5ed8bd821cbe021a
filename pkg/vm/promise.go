package vm

import "sparrow/pkg/heap"

// PromiseState follows the usual three-state machine; settled promises never
// change again.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// promiseReaction is one parked then/catch continuation, run as a microtask
// when the promise settles.
type promiseReaction struct {
	handler Value // callable or Empty for pass-through
	next    *Object
}

// PromiseData is the payload of promise objects.
type PromiseData struct {
	state     PromiseState
	result    Value
	fulfilled []promiseReaction
	rejected  []promiseReaction
	// handled marks promises with at least one rejection reaction; settled
	// unhandled rejections report through the context hook.
	handled bool
}

func (p *PromiseData) trace(mark heap.Tracer) {
	traceValue(mark, p.result)
	for _, r := range p.fulfilled {
		traceValue(mark, r.handler)
		if r.next != nil {
			mark(r.next)
		}
	}
	for _, r := range p.rejected {
		traceValue(mark, r.handler)
		if r.next != nil {
			mark(r.next)
		}
	}
}

// PromiseState exposes the state for tests and embedders.
func (o *Object) PromiseState() (PromiseState, Value) {
	if o.promise == nil {
		return PromisePending, Undefined
	}
	return o.promise.state, o.promise.result
}

// NewPromise creates a pending promise.
func (ctx *Context) NewPromise() *Object {
	o := newObject(ClassPromise, ctx.Realm.RootShape, ObjectValue(ctx.Realm.PromisePrototype))
	o.promise = &PromiseData{result: Undefined}
	ctx.track(o)
	return o
}

// ResolvePromise settles a pending promise from the embedder side. Reactions
// run on the job queue; call RunJobs to drain them.
func (ctx *Context) ResolvePromise(p *Object, value Value) { ctx.resolvePromise(p, value) }

// RejectPromise rejects a pending promise from the embedder side.
func (ctx *Context) RejectPromise(p *Object, reason Value) { ctx.rejectPromise(p, reason) }

// resolvePromise fulfills p with value, adopting the state of a thenable.
func (ctx *Context) resolvePromise(p *Object, value Value) {
	if p.promise.state != PromisePending {
		return
	}
	if vo := value.ObjectOrNil(); vo != nil {
		if vo == p {
			ctx.rejectPromise(p, ctx.thrownValue(ctx.NewTypeError("Chaining cycle detected for promise")))
			return
		}
		then, err := vo.Get(ctx, StringKey("then"), value)
		if err != nil {
			ctx.rejectPromise(p, ctx.thrownValue(err))
			return
		}
		if then.IsCallable() {
			// Adopt the thenable's eventual state on the job queue.
			ctx.EnqueueJob(func(ctx *Context) error {
				resolve := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
					ctx.resolvePromise(p, argOr(args, 0))
					return Undefined, nil
				})
				reject := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
					ctx.rejectPromise(p, argOr(args, 0))
					return Undefined, nil
				})
				_, err := ctx.Call(then, value, []Value{ObjectValue(resolve), ObjectValue(reject)})
				if err != nil {
					if thrown, ok := UnwrapThrown(err); ok {
						ctx.rejectPromise(p, thrown)
						return nil
					}
					return err
				}
				return nil
			})
			return
		}
	}
	p.promise.state = PromiseFulfilled
	p.promise.result = value
	reactions := p.promise.fulfilled
	p.promise.fulfilled, p.promise.rejected = nil, nil
	for _, r := range reactions {
		ctx.enqueueReaction(r, value, false)
	}
}

// rejectPromise settles p as rejected.
func (ctx *Context) rejectPromise(p *Object, reason Value) {
	if p.promise.state != PromisePending {
		return
	}
	p.promise.state = PromiseRejected
	p.promise.result = reason
	reactions := p.promise.rejected
	p.promise.fulfilled, p.promise.rejected = nil, nil
	for _, r := range reactions {
		ctx.enqueueReaction(r, reason, true)
	}
	if !p.promise.handled && ctx.OnUnhandledRejection != nil {
		// Report after the queue drains; a reaction attached later in the
		// same turn counts as handling.
		ctx.EnqueueJob(func(ctx *Context) error {
			if !p.promise.handled {
				ctx.OnUnhandledRejection(reason)
			}
			return nil
		})
	}
}

// thrownValue extracts the JS value from a thrown error, or wraps a host
// error message as a generic Error object.
func (ctx *Context) thrownValue(err error) Value {
	if v, ok := UnwrapThrown(err); ok {
		return v
	}
	return ctx.newError(ctx.Realm.ErrorPrototype, "Error", err.Error())
}

func (ctx *Context) enqueueReaction(r promiseReaction, arg Value, rejected bool) {
	ctx.EnqueueJob(func(ctx *Context) error {
		if r.handler.IsEmpty() || !r.handler.IsCallable() {
			// Pass-through: propagate the settlement unchanged.
			if r.next != nil {
				if rejected {
					ctx.rejectPromise(r.next, arg)
				} else {
					ctx.resolvePromise(r.next, arg)
				}
			}
			return nil
		}
		result, err := ctx.Call(r.handler, Undefined, []Value{arg})
		if r.next == nil {
			return hostErrOnly(err)
		}
		if err != nil {
			if thrown, ok := UnwrapThrown(err); ok {
				ctx.rejectPromise(r.next, thrown)
				return nil
			}
			return err
		}
		ctx.resolvePromise(r.next, result)
		return nil
	})
}

func hostErrOnly(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := UnwrapThrown(err); ok {
		return nil
	}
	return err
}

// PromiseThen attaches fulfillment/rejection handlers and returns the
// derived promise. Empty handlers pass the settlement through.
func (ctx *Context) PromiseThen(p *Object, onFulfilled, onRejected Value) *Object {
	next := ctx.NewPromise()
	fr := promiseReaction{handler: onFulfilled, next: next}
	rr := promiseReaction{handler: onRejected, next: next}
	if !onRejected.IsEmpty() {
		p.promise.handled = true
	}
	switch p.promise.state {
	case PromisePending:
		p.promise.fulfilled = append(p.promise.fulfilled, fr)
		p.promise.rejected = append(p.promise.rejected, rr)
	case PromiseFulfilled:
		ctx.enqueueReaction(fr, p.promise.result, false)
	case PromiseRejected:
		ctx.enqueueReaction(rr, p.promise.result, true)
	}
	return next
}

// PromiseResolve coerces a value to a promise of this realm.
func (ctx *Context) PromiseResolve(v Value) *Object {
	if vo := v.ObjectOrNil(); vo != nil && vo.promise != nil {
		return vo
	}
	p := ctx.NewPromise()
	ctx.resolvePromise(p, v)
	return p
}

func argOr(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// ---- async function machinery ----

// startAsyncCall begins an async function call. The returned promise is
// available to the caller immediately; the body runs synchronously up to the
// first await or completion.
func (ctx *Context) startAsyncCall(fn *Object, this Value, args []Value) Value {
	vm := ctx.vm
	promise := ctx.NewPromise()

	genObj := newObject(ClassGenerator, ctx.Realm.RootShape, Null)
	genObj.generator = &GeneratorData{
		state:       GeneratorSuspendedStart,
		fn:          fn,
		this:        this,
		args:        append([]Value(nil), args...),
		isAsync:     true,
		promise:     promise,
		returnValue: Undefined,
	}
	ctx.track(genObj)

	if err := vm.pushFrame(fn, this, Undefined, args, -1); err != nil {
		ctx.rejectPromise(promise, ctx.thrownValue(err))
		return ObjectValue(promise)
	}
	vm.frames[vm.frameCount-1].generator = genObj
	genObj.generator.state = GeneratorExecuting
	ctx.stepAsync(genObj)
	return ObjectValue(promise)
}

// stepAsync runs the async frame until it awaits again or completes,
// settling the promise accordingly. The frame must already be on the stack.
func (ctx *Context) stepAsync(genObj *Object) {
	vm := ctx.vm
	gen := genObj.generator
	result, suspended, err := vm.runResumable()
	if err != nil {
		gen.state = GeneratorCompleted
		gen.frame = nil
		ctx.rejectPromise(gen.promise, ctx.thrownValue(err))
		return
	}
	if !suspended {
		// finishFrame already resolved the promise via completeGenerator.
		return
	}

	// Suspended at await; result is the awaited value.
	awaited := ctx.PromiseResolve(result)
	awaited.promise.handled = true
	onOK := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		return Undefined, ctx.resumeAsync(genObj, resumeNext, argOr(args, 0))
	})
	onErr := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		return Undefined, ctx.resumeAsync(genObj, resumeThrow, argOr(args, 0))
	})
	ctx.PromiseThen(awaited, ObjectValue(onOK), ObjectValue(onErr))
}

// resumeAsync reattaches an awaited async frame with the settlement value.
func (ctx *Context) resumeAsync(genObj *Object, mode resumeMode, v Value) error {
	vm := ctx.vm
	gen := genObj.generator
	if gen.state != GeneratorSuspendedYield {
		return nil
	}
	outputReg := gen.frame.outputReg
	if err := vm.reattachFrame(genObj); err != nil {
		gen.state = GeneratorCompleted
		ctx.rejectPromise(gen.promise, ctx.thrownValue(err))
		return nil
	}
	gen.state = GeneratorExecuting
	frame := &vm.frames[vm.frameCount-1]
	if mode == resumeNext {
		if outputReg >= 0 {
			vm.registers[frame.base+outputReg] = v
		}
	} else {
		floor := vm.unwindFloor
		vm.unwindFloor = vm.frameCount - 1
		handled := vm.handleThrow(v)
		vm.unwindFloor = floor
		if !handled {
			gen.state = GeneratorCompleted
			gen.frame = nil
			ctx.rejectPromise(gen.promise, v)
			return nil
		}
	}
	ctx.stepAsync(genObj)
	return nil
}
