package vm

import "math"

// Realm is the set of intrinsics shared by all code evaluated in one
// context: the root hidden class, the global object, the intrinsic
// prototypes and the well-known symbols.
type Realm struct {
	RootShape    *Shape
	GlobalObject *Object

	ObjectPrototype    *Object
	FunctionPrototype  *Object
	ArrayPrototype     *Object
	StringPrototype    *Object
	NumberPrototype    *Object
	BooleanPrototype   *Object
	BigIntPrototype    *Object
	SymbolPrototype    *Object
	GeneratorPrototype *Object
	PromisePrototype   *Object
	MapPrototype       *Object
	SetPrototype       *Object
	WeakMapPrototype   *Object
	WeakSetPrototype   *Object

	ErrorPrototype          *Object
	TypeErrorPrototype      *Object
	RangeErrorPrototype     *Object
	ReferenceErrorPrototype *Object
	SyntaxErrorPrototype    *Object

	SymIterator    *Symbol
	SymToPrimitive *Symbol
	SymHasInstance *Symbol
	SymUnscopables *Symbol

	// Symbol.for registry, keyed by description.
	symbolRegistry map[string]*Symbol
}

// trace marks every intrinsic as a GC root.
func (r *Realm) trace(mark func(o *Object)) {
	for _, o := range []*Object{
		r.GlobalObject,
		r.ObjectPrototype, r.FunctionPrototype, r.ArrayPrototype,
		r.StringPrototype, r.NumberPrototype, r.BooleanPrototype,
		r.BigIntPrototype, r.SymbolPrototype, r.GeneratorPrototype,
		r.PromisePrototype, r.MapPrototype, r.SetPrototype,
		r.WeakMapPrototype, r.WeakSetPrototype,
		r.ErrorPrototype, r.TypeErrorPrototype, r.RangeErrorPrototype,
		r.ReferenceErrorPrototype, r.SyntaxErrorPrototype,
	} {
		if o != nil {
			mark(o)
		}
	}
}

// SymbolFor returns the registered symbol for key, creating it on first use.
func (r *Realm) SymbolFor(key string) *Symbol {
	if s, ok := r.symbolRegistry[key]; ok {
		return s
	}
	s := &Symbol{Description: key, registered: true}
	r.symbolRegistry[key] = s
	return s
}

// SymbolKeyFor returns the registry key of a registered symbol.
func (r *Realm) SymbolKeyFor(s *Symbol) (string, bool) {
	if !s.registered {
		return "", false
	}
	return s.Description, true
}

// initRealm builds the intrinsics. Prototype objects are created bare first
// so method installation can already allocate through the context.
func (ctx *Context) initRealm() {
	r := &Realm{
		RootShape:      NewRootShape(),
		SymIterator:    &Symbol{Description: "Symbol.iterator"},
		SymToPrimitive: &Symbol{Description: "Symbol.toPrimitive"},
		SymHasInstance: &Symbol{Description: "Symbol.hasInstance"},
		SymUnscopables: &Symbol{Description: "Symbol.unscopables"},
		symbolRegistry: make(map[string]*Symbol),
	}
	ctx.Realm = r

	bare := func(class string, proto Value) *Object {
		o := newObject(class, r.RootShape, proto)
		ctx.track(o)
		return o
	}

	r.ObjectPrototype = bare(ClassObject, Null)
	objProtoV := ObjectValue(r.ObjectPrototype)

	// Function.prototype is itself callable and returns undefined.
	r.FunctionPrototype = bare(ClassFunction, objProtoV)
	r.FunctionPrototype.fn = &FunctionData{
		Name: "", Arity: 0,
		Native:     func(ctx *Context, this Value, args []Value) (Value, error) { return Undefined, nil },
		ThisValue:  Empty,
		HomeObject: Empty,
	}

	r.ArrayPrototype = bare(ClassArray, objProtoV)
	r.StringPrototype = bare(ClassString, objProtoV)
	r.NumberPrototype = bare(ClassNumber, objProtoV)
	r.BooleanPrototype = bare(ClassBoolean, objProtoV)
	r.BigIntPrototype = bare(ClassBigInt, objProtoV)
	r.SymbolPrototype = bare(ClassSymbol, objProtoV)
	r.GeneratorPrototype = bare(ClassObject, objProtoV)
	r.PromisePrototype = bare(ClassObject, objProtoV)
	r.MapPrototype = bare(ClassObject, objProtoV)
	r.SetPrototype = bare(ClassObject, objProtoV)
	r.WeakMapPrototype = bare(ClassObject, objProtoV)
	r.WeakSetPrototype = bare(ClassObject, objProtoV)

	r.ErrorPrototype = bare(ClassError, objProtoV)
	errProtoV := ObjectValue(r.ErrorPrototype)
	r.TypeErrorPrototype = bare(ClassError, errProtoV)
	r.RangeErrorPrototype = bare(ClassError, errProtoV)
	r.ReferenceErrorPrototype = bare(ClassError, errProtoV)
	r.SyntaxErrorPrototype = bare(ClassError, errProtoV)

	ctx.installIntrinsics()

	r.GlobalObject = bare(ClassObject, objProtoV)
	ctx.GlobalEnvBox = ctx.NewGlobalEnv(r.GlobalObject)

	r.GlobalObject.DefineHidden("globalThis", ObjectValue(r.GlobalObject))
	r.GlobalObject.DefineHidden("undefined", Undefined)
	r.GlobalObject.DefineHidden("NaN", NaN)
	r.GlobalObject.DefineHidden("Infinity", NumberValue(math.Inf(1)))
}

func method(o *Object, name string, arity int, ctx *Context, fn NativeFunc) {
	f := ctx.NewNativeFunction(name, arity, fn)
	o.DefineHidden(name, ObjectValue(f))
}

func symMethod(o *Object, s *Symbol, name string, ctx *Context, fn NativeFunc) {
	f := ctx.NewNativeFunction(name, 0, fn)
	o.DefineOwnProperty(ctx, SymbolKey(s), DataDescriptor(ObjectValue(f), true, false, true))
}

// installIntrinsics populates the prototype objects with the methods the
// core protocols rely on: primitive coercion, iteration, binding, promise
// chaining and the generator resume surface.
func (ctx *Context) installIntrinsics() {
	r := ctx.Realm

	// Object.prototype
	method(r.ObjectPrototype, "valueOf", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.ToObject(this)
		if err != nil {
			return Undefined, err
		}
		return ObjectValue(o), nil
	})
	method(r.ObjectPrototype, "toString", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		switch this.typ {
		case TypeUndefined:
			return NewString("[object Undefined]"), nil
		case TypeNull:
			return NewString("[object Null]"), nil
		}
		o, err := ctx.ToObject(this)
		if err != nil {
			return Undefined, err
		}
		return NewString("[object " + o.class + "]"), nil
	})
	method(r.ObjectPrototype, "hasOwnProperty", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		key, err := ctx.ToPropertyKey(argOr(args, 0))
		if err != nil {
			return Undefined, err
		}
		o, err := ctx.ToObject(this)
		if err != nil {
			return Undefined, err
		}
		_, found, err := o.GetOwnProperty(ctx, key)
		return BooleanValue(found), err
	})
	method(r.ObjectPrototype, "isPrototypeOf", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		target := argOr(args, 0).ObjectOrNil()
		self := this.ObjectOrNil()
		for target != nil && self != nil {
			pv, err := target.GetPrototypeOf(ctx)
			if err != nil {
				return Undefined, err
			}
			target = pv.ObjectOrNil()
			if target == self {
				return True, nil
			}
		}
		return False, nil
	})

	// Function.prototype
	method(r.FunctionPrototype, "call", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.Call(this, argOr(args, 0), restOf(args, 1))
	})
	method(r.FunctionPrototype, "apply", 2, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		list := argOr(args, 1)
		var callArgs []Value
		if !list.IsNullish() {
			lo := list.ObjectOrNil()
			if lo == nil {
				return Undefined, ctx.NewTypeError("CreateListFromArrayLike called on non-object")
			}
			n, err := ctx.lengthOf(lo)
			if err != nil {
				return Undefined, err
			}
			callArgs = make([]Value, n)
			for i := 0; i < n; i++ {
				v, err := ctx.getByValue(list, IntegerValue(int32(i)))
				if err != nil {
					return Undefined, err
				}
				callArgs[i] = v
			}
		}
		return ctx.Call(this, argOr(args, 0), callArgs)
	})
	method(r.FunctionPrototype, "bind", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		bound, err := ctx.BindFunction(this, argOr(args, 0), restOf(args, 1))
		if err != nil {
			return Undefined, err
		}
		return ObjectValue(bound), nil
	})

	// Primitive wrapper coercion methods.
	primValueOf := func(class string) NativeFunc {
		return func(ctx *Context, this Value, args []Value) (Value, error) {
			if o := this.ObjectOrNil(); o != nil && o.class == class && !o.primitive.IsEmpty() {
				return o.primitive, nil
			}
			if this.typ != TypeObject {
				return this, nil
			}
			return Undefined, ctx.NewTypeError("valueOf called on incompatible receiver")
		}
	}
	method(r.NumberPrototype, "valueOf", 0, ctx, primValueOf(ClassNumber))
	method(r.BooleanPrototype, "valueOf", 0, ctx, primValueOf(ClassBoolean))
	method(r.BigIntPrototype, "valueOf", 0, ctx, primValueOf(ClassBigInt))
	method(r.SymbolPrototype, "valueOf", 0, ctx, primValueOf(ClassSymbol))
	method(r.StringPrototype, "valueOf", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		if this.typ == TypeString {
			return this, nil
		}
		if o := this.ObjectOrNil(); o != nil && o.class == ClassString && !o.primitive.IsEmpty() {
			return o.primitive, nil
		}
		return Undefined, ctx.NewTypeError("valueOf called on incompatible receiver")
	})
	method(r.NumberPrototype, "toString", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		v, err := primValueOf(ClassNumber)(ctx, this, nil)
		if err != nil {
			return Undefined, err
		}
		return NewString(formatNumber(v.NumberValueOf())), nil
	})
	method(r.StringPrototype, "toString", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		if this.typ == TypeString {
			return this, nil
		}
		if o := this.ObjectOrNil(); o != nil && o.class == ClassString && !o.primitive.IsEmpty() {
			return o.primitive, nil
		}
		return Undefined, ctx.NewTypeError("toString called on incompatible receiver")
	})
	method(r.BooleanPrototype, "toString", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		v, err := primValueOf(ClassBoolean)(ctx, this, nil)
		if err != nil {
			return Undefined, err
		}
		if v.AsBoolean() {
			return NewString("true"), nil
		}
		return NewString("false"), nil
	})

	// Array.prototype iteration.
	symMethod(r.ArrayPrototype, r.SymIterator, "[Symbol.iterator]", ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.newIndexedIterator(this)
	})
	symMethod(r.StringPrototype, r.SymIterator, "[Symbol.iterator]", ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		s, err := ctx.ToString(this)
		if err != nil {
			return Undefined, err
		}
		return ctx.newStringIterator(s), nil
	})

	// Generator resume surface. The iterator of a generator is the generator.
	method(r.GeneratorPrototype, "next", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.generatorNext(this, args)
	})
	method(r.GeneratorPrototype, "return", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.generatorReturn(this, args)
	})
	method(r.GeneratorPrototype, "throw", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.generatorThrow(this, args)
	})
	symMethod(r.GeneratorPrototype, r.SymIterator, "[Symbol.iterator]", ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		return this, nil
	})

	// Promise.prototype
	method(r.PromisePrototype, "then", 2, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		p := this.ObjectOrNil()
		if p == nil || p.promise == nil {
			return Undefined, ctx.NewTypeError("then called on a non-promise")
		}
		onOK := handlerOrEmpty(argOr(args, 0))
		onErr := handlerOrEmpty(argOr(args, 1))
		return ObjectValue(ctx.PromiseThen(p, onOK, onErr)), nil
	})
	method(r.PromisePrototype, "catch", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		p := this.ObjectOrNil()
		if p == nil || p.promise == nil {
			return Undefined, ctx.NewTypeError("catch called on a non-promise")
		}
		return ObjectValue(ctx.PromiseThen(p, Empty, handlerOrEmpty(argOr(args, 0)))), nil
	})
	method(r.PromisePrototype, "finally", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		p := this.ObjectOrNil()
		if p == nil || p.promise == nil {
			return Undefined, ctx.NewTypeError("finally called on a non-promise")
		}
		onFinally := argOr(args, 0)
		if !onFinally.IsCallable() {
			return ObjectValue(ctx.PromiseThen(p, Empty, Empty)), nil
		}
		// The settlement passes through; onFinally sees no arguments.
		onOK := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
			if _, err := ctx.Call(onFinally, Undefined, nil); err != nil {
				return Undefined, err
			}
			return argOr(args, 0), nil
		})
		onErr := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
			if _, err := ctx.Call(onFinally, Undefined, nil); err != nil {
				return Undefined, err
			}
			return Undefined, Throw(argOr(args, 0))
		})
		return ObjectValue(ctx.PromiseThen(p, ObjectValue(onOK), ObjectValue(onErr))), nil
	})

	// Error.prototype
	r.ErrorPrototype.DefineHidden("name", NewString("Error"))
	r.ErrorPrototype.DefineHidden("message", NewString(""))
	r.TypeErrorPrototype.DefineHidden("name", NewString("TypeError"))
	r.RangeErrorPrototype.DefineHidden("name", NewString("RangeError"))
	r.ReferenceErrorPrototype.DefineHidden("name", NewString("ReferenceError"))
	r.SyntaxErrorPrototype.DefineHidden("name", NewString("SyntaxError"))
	method(r.ErrorPrototype, "toString", 0, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o := this.ObjectOrNil()
		if o == nil {
			return Undefined, ctx.NewTypeError("Error.prototype.toString called on a non-object")
		}
		nameV, err := o.Get(ctx, StringKey("name"), this)
		if err != nil {
			return Undefined, err
		}
		msgV, err := o.Get(ctx, StringKey("message"), this)
		if err != nil {
			return Undefined, err
		}
		name, err := ctx.ToString(nameV)
		if err != nil {
			return Undefined, err
		}
		msg := ""
		if !msgV.IsUndefined() {
			if msg, err = ctx.ToString(msgV); err != nil {
				return Undefined, err
			}
		}
		if msg == "" {
			return NewString(name), nil
		}
		if name == "" {
			return NewString(msg), nil
		}
		return NewString(name + ": " + msg), nil
	})

	ctx.installCollectionIntrinsics()
}

// installCollectionIntrinsics wires Map/Set/WeakMap/WeakSet prototypes.
func (ctx *Context) installCollectionIntrinsics() {
	r := ctx.Realm

	collSelf := func(ctx *Context, this Value, weak bool) (*Object, error) {
		o := this.ObjectOrNil()
		if o == nil || o.collect == nil || (weak != (o.collect.weak != nil)) {
			return nil, ctx.NewTypeError("method called on incompatible receiver")
		}
		return o, nil
	}

	method(r.MapPrototype, "get", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		v, _ := o.MapGet(argOr(args, 0))
		return v, nil
	})
	method(r.MapPrototype, "set", 2, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		o.MapSet(argOr(args, 0), argOr(args, 1))
		return this, nil
	})
	method(r.MapPrototype, "has", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.MapHas(argOr(args, 0))), nil
	})
	method(r.MapPrototype, "delete", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.MapDelete(argOr(args, 0))), nil
	})
	method(r.MapPrototype, "forEach", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		cb := argOr(args, 0)
		if !cb.IsCallable() {
			return Undefined, ctx.NewTypeError("callback is not a function")
		}
		var cbErr error
		o.MapRange(func(k, v Value) bool {
			_, cbErr = ctx.Call(cb, argOr(args, 1), []Value{v, k, this})
			return cbErr == nil
		})
		return Undefined, cbErr
	})
	sizeGetter := func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		return IntegerValue(int32(o.MapSize())), nil
	}
	sizeFn := ctx.NewNativeFunction("get size", 0, sizeGetter)
	r.MapPrototype.DefineOwnProperty(ctx, StringKey("size"),
		AccessorDescriptor(ObjectValue(sizeFn), Empty, false, true))
	r.SetPrototype.DefineOwnProperty(ctx, StringKey("size"),
		AccessorDescriptor(ObjectValue(sizeFn), Empty, false, true))

	method(r.SetPrototype, "add", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		o.SetAdd(argOr(args, 0))
		return this, nil
	})
	method(r.SetPrototype, "has", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.SetHas(argOr(args, 0))), nil
	})
	method(r.SetPrototype, "delete", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, false)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.MapDelete(argOr(args, 0))), nil
	})

	method(r.WeakMapPrototype, "get", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		v, _ := o.WeakGetEntry(argOr(args, 0))
		return v, nil
	})
	method(r.WeakMapPrototype, "set", 2, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		if err := ctx.WeakSetEntry(o, argOr(args, 0), argOr(args, 1)); err != nil {
			return Undefined, err
		}
		return this, nil
	})
	method(r.WeakMapPrototype, "has", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		_, ok := o.WeakGetEntry(argOr(args, 0))
		return BooleanValue(ok), nil
	})
	method(r.WeakMapPrototype, "delete", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.WeakDeleteEntry(argOr(args, 0))), nil
	})

	method(r.WeakSetPrototype, "add", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		v := argOr(args, 0)
		if err := ctx.WeakSetEntry(o, v, v); err != nil {
			return Undefined, err
		}
		return this, nil
	})
	method(r.WeakSetPrototype, "has", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		_, ok := o.WeakGetEntry(argOr(args, 0))
		return BooleanValue(ok), nil
	})
	method(r.WeakSetPrototype, "delete", 1, ctx, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := collSelf(ctx, this, true)
		if err != nil {
			return Undefined, err
		}
		return BooleanValue(o.WeakDeleteEntry(argOr(args, 0))), nil
	})
}

// newIndexedIterator returns an iterator over an array-like's elements.
func (ctx *Context) newIndexedIterator(target Value) (Value, error) {
	obj, err := ctx.ToObject(target)
	if err != nil {
		return Undefined, err
	}
	i := 0
	iter := ctx.NewObject()
	next := ctx.NewNativeFunction("next", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		n, err := ctx.lengthOf(obj)
		if err != nil {
			return Undefined, err
		}
		if i >= n {
			return ctx.iterResult(Undefined, true), nil
		}
		v, err := ctx.getByValue(ObjectValue(obj), IntegerValue(int32(i)))
		if err != nil {
			return Undefined, err
		}
		i++
		return ctx.iterResult(v, false), nil
	})
	iter.DefineHidden("next", ObjectValue(next))
	return ObjectValue(iter), nil
}

// newStringIterator iterates code points of s.
func (ctx *Context) newStringIterator(s string) Value {
	runes := []rune(s)
	i := 0
	iter := ctx.NewObject()
	next := ctx.NewNativeFunction("next", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		if i >= len(runes) {
			return ctx.iterResult(Undefined, true), nil
		}
		v := NewString(string(runes[i]))
		i++
		return ctx.iterResult(v, false), nil
	})
	iter.DefineHidden("next", ObjectValue(next))
	return ObjectValue(iter)
}

func restOf(args []Value, from int) []Value {
	if from >= len(args) {
		return nil
	}
	return args[from:]
}

func handlerOrEmpty(v Value) Value {
	if v.IsCallable() {
		return v
	}
	return Empty
}
