package vm

import "sparrow/pkg/heap"

// FunctionKind selects calling behavior at prepareCall time.
type FunctionKind uint8

const (
	NormalFunction FunctionKind = iota
	ArrowFunction
	GeneratorFunction
	AsyncFunction
	AsyncGeneratorFunction
)

// NativeFunc is the calling convention for Go-implemented functions. A JS
// throw is returned as an ExceptionError; any other error aborts evaluation.
type NativeFunc func(ctx *Context, this Value, args []Value) (Value, error)

// BoundData records the target and splice arguments of Function.prototype.bind.
type BoundData struct {
	Target    Value
	BoundThis Value
	BoundArgs []Value
}

// FunctionData is the callable payload of function objects. Exactly one of
// Proto (bytecode functions), Native or Bound is set.
type FunctionData struct {
	Name  string
	Arity int
	Kind  FunctionKind

	Proto *FunctionProto
	// Env is the environment captured at closure creation, an environment
	// box object or nil for natives and top-level templates.
	Env *Object

	Native NativeFunc
	Bound  *BoundData

	IsConstructor bool
	ThisValue     Value // lexical this for arrows, Empty otherwise
	HomeObject    Value // for super property access
}

func (fd *FunctionData) trace(mark heap.Tracer) {
	if fd.Env != nil {
		mark(fd.Env)
	}
	if fd.Bound != nil {
		traceValue(mark, fd.Bound.Target)
		traceValue(mark, fd.Bound.BoundThis)
		for _, v := range fd.Bound.BoundArgs {
			traceValue(mark, v)
		}
	}
	traceValue(mark, fd.ThisValue)
	traceValue(mark, fd.HomeObject)
}

// FunctionData exposes the callable payload, nil for non-functions.
func (o *Object) FunctionData() *FunctionData { return o.fn }

// NewFunction instantiates a bytecode function template over the given
// captured environment (nil for top-level code).
func (ctx *Context) NewFunction(proto *FunctionProto, env *Object) *Object {
	o := newObject(ClassFunction, ctx.Realm.RootShape, ObjectValue(ctx.Realm.FunctionPrototype))
	o.fn = &FunctionData{
		Name:          proto.Name,
		Arity:         proto.Arity,
		Kind:          proto.Kind,
		Proto:         proto,
		Env:           env,
		IsConstructor: proto.Kind == NormalFunction,
		ThisValue:     Empty,
		HomeObject:    Empty,
	}
	ctx.track(o)
	o.DefineHidden("name", NewString(proto.Name))
	o.DefineHidden("length", IntegerValue(int32(proto.Arity)))
	if o.fn.IsConstructor {
		protoObj := ctx.NewObject()
		protoObj.DefineHidden("constructor", ObjectValue(o))
		o.DefineHidden("prototype", ObjectValue(protoObj))
	}
	return o
}

// NewNativeFunction wraps a Go function as a callable object.
func (ctx *Context) NewNativeFunction(name string, arity int, fn NativeFunc) *Object {
	o := newObject(ClassFunction, ctx.Realm.RootShape, ObjectValue(ctx.Realm.FunctionPrototype))
	o.fn = &FunctionData{
		Name:       name,
		Arity:      arity,
		Native:     fn,
		ThisValue:  Empty,
		HomeObject: Empty,
	}
	ctx.track(o)
	o.DefineHidden("name", NewString(name))
	o.DefineHidden("length", IntegerValue(int32(arity)))
	return o
}

// NewNativeConstructor wraps a Go function as a constructable object.
func (ctx *Context) NewNativeConstructor(name string, arity int, fn NativeFunc) *Object {
	o := ctx.NewNativeFunction(name, arity, fn)
	o.fn.IsConstructor = true
	return o
}

// BindFunction implements Function.prototype.bind. Binding a bound function
// splices the argument lists; the innermost bound this wins. The bound
// function is constructable iff its target is, and construction substitutes
// newTarget for the bound this.
func (ctx *Context) BindFunction(target Value, boundThis Value, boundArgs []Value) (*Object, error) {
	if !target.IsCallable() {
		return nil, ctx.NewTypeError("Bind must be called on a function")
	}
	targetObj := target.AsObject()

	o := newObject(ClassBoundFunction, ctx.Realm.RootShape, targetObj.prototype)
	o.fn = &FunctionData{
		Name:  "bound " + targetObj.fn.Name,
		Arity: max(0, targetObj.fn.Arity-len(boundArgs)),
		Bound: &BoundData{
			Target:    target,
			BoundThis: boundThis,
			BoundArgs: append([]Value(nil), boundArgs...),
		},
		IsConstructor: targetObj.IsConstructor(),
		ThisValue:     Empty,
		HomeObject:    Empty,
	}
	ctx.track(o)
	o.DefineHidden("name", NewString(o.fn.Name))
	o.DefineHidden("length", IntegerValue(int32(o.fn.Arity)))
	return o, nil
}

// unwrapBound resolves a chain of bound functions to the ultimate target,
// accumulating spliced arguments outermost-first.
func unwrapBound(fn *Object, args []Value) (*Object, Value, []Value) {
	this := fn.fn.Bound.BoundThis
	merged := append(append([]Value(nil), fn.fn.Bound.BoundArgs...), args...)
	target := fn.fn.Bound.Target.AsObject()
	for target.fn.Bound != nil {
		this = target.fn.Bound.BoundThis
		merged = append(append([]Value(nil), target.fn.Bound.BoundArgs...), merged...)
		target = target.fn.Bound.Target.AsObject()
	}
	return target, this, merged
}
