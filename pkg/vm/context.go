package vm

import (
	"github.com/tliron/commonlog"

	"sparrow/pkg/heap"
)

// Limits bounds what one context may consume. Exceeding MaxTicks throws a
// catchable RangeError and resets the counter; exceeding MaxFrames aborts the
// evaluation with a fatal error.
type Limits struct {
	MaxFrames      int
	MaxTicks       int64
	MaxBufferBytes int
	// CollectTrigger is the allocation count between automatic cycle
	// collections. Zero leaves collection fully manual.
	CollectTrigger int
}

// DefaultLimits returns the limits a context starts with.
func DefaultLimits() Limits {
	return Limits{
		MaxFrames:      1024,
		MaxTicks:       0, // unlimited
		MaxBufferBytes: 1 << 30,
		CollectTrigger: 8192,
	}
}

// Job is a queued microtask: promise reactions, thenable adoption, async
// function continuations.
type Job func(ctx *Context) error

// Context is one isolated evaluation unit: a realm of intrinsics, a heap, a
// virtual machine and a job queue. Contexts are not safe for concurrent use;
// SharedArrayBuffers are the only sanctioned cross-goroutine channel.
type Context struct {
	Realm  *Realm
	Heap   *heap.Heap
	Limits Limits

	// GlobalEnvBox is the environment record backing top-level code.
	GlobalEnvBox *Object

	// OnUnhandledRejection is called after the job queue drains for each
	// rejected promise that never got a rejection handler.
	OnUnhandledRejection func(reason Value)

	vm       *VM
	jobQueue []Job

	// tempRoots pins every object allocated since the last safe point, so
	// values in flight through Go code survive a collection.
	tempRoots []*Object

	log commonlog.Logger
}

// NewContext creates a context with default limits.
func NewContext() *Context {
	return NewContextWithLimits(DefaultLimits())
}

// NewContextWithLimits creates a context bounded by limits.
func NewContextWithLimits(limits Limits) *Context {
	ctx := &Context{
		Heap:   heap.New(),
		Limits: limits,
		log:    commonlog.GetLogger("sparrow.vm"),
	}
	ctx.vm = newVM(ctx)
	ctx.initRealm()
	ctx.Heap.AddRootProvider(func(mark heap.Tracer) {
		ctx.Realm.trace(func(o *Object) { mark(o) })
		if ctx.GlobalEnvBox != nil {
			mark(ctx.GlobalEnvBox)
		}
	})
	// Objects allocated while building the realm are reachable from the
	// realm root provider now; their construction pins can go.
	ctx.flushTempRoots()
	ctx.Heap.CollectTrigger = limits.CollectTrigger
	ctx.OnUnhandledRejection = func(reason Value) {
		ctx.log.Errorf("unhandled promise rejection: %s", reason.Inspect())
	}
	return ctx
}

// track registers a freshly built object with the heap and keeps it pinned
// until the next safe point.
func (ctx *Context) track(o *Object) {
	ctx.Heap.Alloc(o)
	ctx.tempRoots = append(ctx.tempRoots, o)
}

// flushTempRoots releases construction pins between evaluations. With no
// frames on the stack, everything still needed is reachable from the realm,
// the global environment or an embedder pin.
func (ctx *Context) flushTempRoots() {
	if ctx.vm.frameCount > 0 {
		return
	}
	ctx.releaseTempRoots()
}

// releaseTempRoots drops every construction pin. The dispatch loop calls this
// at its own safe points (see chargeTick) so long-running scripts do not pin
// their whole allocation history.
func (ctx *Context) releaseTempRoots() {
	for _, o := range ctx.tempRoots {
		ctx.Heap.Release(o)
	}
	ctx.tempRoots = ctx.tempRoots[:0]
}

// Retain adds an embedder pin to a value's object, keeping it alive across
// collections independent of VM state. No-op for primitives.
func (ctx *Context) Retain(v Value) {
	if o := v.ObjectOrNil(); o != nil {
		ctx.Heap.Pin(o)
	}
}

// ReleaseValue drops an embedder pin taken with Retain.
func (ctx *Context) ReleaseValue(v Value) {
	if o := v.ObjectOrNil(); o != nil {
		ctx.Heap.Release(o)
	}
}

// Collect runs a cycle collection and returns the number of freed cells.
func (ctx *Context) Collect() int {
	return ctx.Heap.CollectCycles()
}

// Close tears down the context and frees every cell, running finalizers.
func (ctx *Context) Close() {
	ctx.flushTempRoots()
	ctx.Heap.Close()
}

// NewObject creates a plain object with Object.prototype.
func (ctx *Context) NewObject() *Object {
	o := newObject(ClassObject, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	ctx.track(o)
	return o
}

// NewObjectWithProto creates a plain object with an explicit prototype
// (object value or Null).
func (ctx *Context) NewObjectWithProto(proto Value) *Object {
	o := newObject(ClassObject, ctx.Realm.RootShape, proto)
	ctx.track(o)
	return o
}

// newPrimitiveWrapper boxes a primitive for property access through ToObject.
func (ctx *Context) newPrimitiveWrapper(class string, proto *Object, v Value) *Object {
	o := newObject(class, ctx.Realm.RootShape, ObjectValue(proto))
	o.primitive = v
	ctx.track(o)
	return o
}

// RegisterGlobal defines a property on the global object, visible to every
// script as a bare identifier.
func (ctx *Context) RegisterGlobal(name string, v Value) {
	ctx.Realm.GlobalObject.SetOwn(name, v)
}

// RegisterGlobalFunc wraps fn as a native function and installs it globally.
func (ctx *Context) RegisterGlobalFunc(name string, arity int, fn NativeFunc) {
	ctx.RegisterGlobal(name, ObjectValue(ctx.NewNativeFunction(name, arity, fn)))
}

// EnqueueJob appends a microtask. Jobs run in FIFO order when the current
// evaluation finishes, or when RunJobs is called explicitly.
func (ctx *Context) EnqueueJob(job Job) {
	ctx.jobQueue = append(ctx.jobQueue, job)
}

// RunJobs drains the job queue, including jobs enqueued by jobs. JS-level
// throws inside a job surface through the unhandled rejection hook; a host
// error stops the drain and is returned.
func (ctx *Context) RunJobs() error {
	for len(ctx.jobQueue) > 0 {
		job := ctx.jobQueue[0]
		ctx.jobQueue = ctx.jobQueue[1:]
		if err := job(ctx); err != nil {
			if _, ok := UnwrapThrown(err); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Eval runs a compiled chunk as top-level code with the global object as
// this, then drains the job queue. The result object, if any, is retained
// for the caller; release it with ReleaseValue when done.
func (ctx *Context) Eval(chunk *Chunk) (Value, error) {
	ctx.vm.ticks = 0
	return ctx.EvalIn(chunk, ctx.GlobalEnvBox)
}

// EvalIn runs a chunk with an explicit environment box (a module record or a
// sandbox scope) instead of the global record.
func (ctx *Context) EvalIn(chunk *Chunk, envBox *Object) (Value, error) {
	proto := &FunctionProto{
		Name:         chunk.Name,
		RegisterSize: chunk.MaxRegisters,
		Chunk:        chunk,
	}
	fn := ctx.NewFunction(proto, envBox)

	kind, result, err := ctx.vm.prepareCall(ObjectValue(fn), ObjectValue(ctx.Realm.GlobalObject), nil, -1)
	if err == nil && kind == callPushedFrame {
		result, err = ctx.vm.runTopFrame()
	}
	if err != nil {
		ctx.flushTempRoots()
		return Undefined, err
	}
	if jobErr := ctx.RunJobs(); jobErr != nil {
		ctx.flushTempRoots()
		return Undefined, jobErr
	}
	ctx.Retain(result)
	ctx.flushTempRoots()
	return result, nil
}

// GlobalEnv returns the box of the global environment record.
func (ctx *Context) GlobalEnv() *Object { return ctx.GlobalEnvBox }

// CacheStatsSnapshot exposes inline cache hit/miss counters.
func (ctx *Context) CacheStatsSnapshot() CacheStats {
	return ctx.vm.GetCacheStats()
}

// DisableInlineCaches turns property caches off, for differential testing.
func (ctx *Context) DisableInlineCaches(disabled bool) {
	ctx.vm.DisableInlineCaches(disabled)
}
