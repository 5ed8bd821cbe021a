package vm

import "strconv"

// ProxyData is the payload of Proxy objects. A revoked proxy has Null target
// and handler; every operation on it throws a TypeError.
type ProxyData struct {
	target  Value
	handler Value

	callable    bool
	constructor bool
}

// NewProxy creates a proxy over target with the given handler. Callability
// and constructability mirror the target at creation time.
func (ctx *Context) NewProxy(target, handler Value) (*Object, error) {
	to := target.ObjectOrNil()
	ho := handler.ObjectOrNil()
	if to == nil || ho == nil {
		return nil, ctx.NewTypeError("Cannot create proxy with a non-object as target or handler")
	}
	o := newObject(ClassProxy, ctx.Realm.RootShape, Null)
	o.proxy = &ProxyData{
		target:      target,
		handler:     handler,
		callable:    to.IsCallable(),
		constructor: to.IsConstructor(),
	}
	o.impl = proxyImpl
	ctx.track(o)
	return o, nil
}

// NewRevocableProxy creates a proxy plus a revoke function that severs it.
func (ctx *Context) NewRevocableProxy(target, handler Value) (*Object, *Object, error) {
	p, err := ctx.NewProxy(target, handler)
	if err != nil {
		return nil, nil, err
	}
	revoke := ctx.NewNativeFunction("", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		p.proxy.target = Null
		p.proxy.handler = Null
		return Undefined, nil
	})
	return p, revoke, nil
}

// proxyParts returns the live target and handler objects, or a TypeError
// after revocation.
func (ctx *Context) proxyParts(o *Object) (*Object, *Object, error) {
	p := o.proxy
	to := p.target.ObjectOrNil()
	ho := p.handler.ObjectOrNil()
	if to == nil || ho == nil {
		return nil, nil, ctx.NewTypeError("Cannot perform operation on a revoked proxy")
	}
	return to, ho, nil
}

// proxyTrap fetches a trap function from the handler; Empty when the handler
// does not define it.
func (ctx *Context) proxyTrap(handler *Object, name string) (Value, error) {
	trap, err := handler.Get(ctx, StringKey(name), ObjectValue(handler))
	if err != nil {
		return Empty, err
	}
	if trap.IsNullish() {
		return Empty, nil
	}
	if !trap.IsCallable() {
		return Empty, ctx.NewTypeError("Proxy trap '" + name + "' is not a function")
	}
	return trap, nil
}

type proxyMethods struct{}

var proxyImpl internalMethods = proxyMethods{}

func (proxyMethods) get(ctx *Context, o *Object, key PropertyKey, receiver Value) (Value, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return Undefined, err
	}
	trap, err := ctx.proxyTrap(handler, "get")
	if err != nil {
		return Undefined, err
	}
	if trap.IsEmpty() {
		return target.Get(ctx, key, receiver)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value(), receiver})
	if err != nil {
		return Undefined, err
	}
	// A non-configurable, non-writable data property pins the result.
	desc, found, err := target.GetOwnProperty(ctx, key)
	if err != nil {
		return Undefined, err
	}
	if found && desc.Configurable == FlagFalse {
		if desc.IsData() && desc.Writable == FlagFalse && !SameValue(result, desc.Value) {
			return Undefined, ctx.NewTypeError("proxy get trap violated target property invariant for '" + key.debugName() + "'")
		}
		if desc.IsAccessor() && desc.Getter.IsNullish() && !result.IsUndefined() {
			return Undefined, ctx.NewTypeError("proxy get trap violated target property invariant for '" + key.debugName() + "'")
		}
	}
	return result, nil
}

func (proxyMethods) set(ctx *Context, o *Object, key PropertyKey, value, receiver Value) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "set")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.Set(ctx, key, value, receiver)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value(), value, receiver})
	if err != nil {
		return false, err
	}
	if !ToBoolean(result) {
		return false, nil
	}
	desc, found, err := target.GetOwnProperty(ctx, key)
	if err != nil {
		return false, err
	}
	if found && desc.Configurable == FlagFalse {
		if desc.IsData() && desc.Writable == FlagFalse && !SameValue(value, desc.Value) {
			return false, ctx.NewTypeError("proxy set trap violated target property invariant for '" + key.debugName() + "'")
		}
		if desc.IsAccessor() && desc.Setter.IsNullish() {
			return false, ctx.NewTypeError("proxy set trap violated target property invariant for '" + key.debugName() + "'")
		}
	}
	return true, nil
}

func (proxyMethods) hasProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "has")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.HasProperty(ctx, key)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value()})
	if err != nil {
		return false, err
	}
	has := ToBoolean(result)
	if !has {
		desc, found, err := target.GetOwnProperty(ctx, key)
		if err != nil {
			return false, err
		}
		if found && desc.Configurable == FlagFalse {
			return false, ctx.NewTypeError("proxy has trap cannot hide non-configurable property '" + key.debugName() + "'")
		}
	}
	return has, nil
}

func (proxyMethods) deleteProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "deleteProperty")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.DeleteProperty(ctx, key)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value()})
	if err != nil {
		return false, err
	}
	if !ToBoolean(result) {
		return false, nil
	}
	desc, found, err := target.GetOwnProperty(ctx, key)
	if err != nil {
		return false, err
	}
	if found && desc.Configurable == FlagFalse {
		return false, ctx.NewTypeError("proxy deleteProperty trap cannot delete non-configurable property '" + key.debugName() + "'")
	}
	return true, nil
}

func (proxyMethods) getOwnProperty(ctx *Context, o *Object, key PropertyKey) (PropertyDescriptor, bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return PropertyDescriptor{}, false, err
	}
	trap, err := ctx.proxyTrap(handler, "getOwnPropertyDescriptor")
	if err != nil {
		return PropertyDescriptor{}, false, err
	}
	if trap.IsEmpty() {
		return target.GetOwnProperty(ctx, key)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value()})
	if err != nil {
		return PropertyDescriptor{}, false, err
	}
	if result.IsUndefined() {
		desc, found, err := target.GetOwnProperty(ctx, key)
		if err != nil {
			return PropertyDescriptor{}, false, err
		}
		if found && desc.Configurable == FlagFalse {
			return PropertyDescriptor{}, false, ctx.NewTypeError("proxy getOwnPropertyDescriptor trap cannot hide non-configurable property '" + key.debugName() + "'")
		}
		return PropertyDescriptor{}, false, nil
	}
	desc, err := ctx.toPropertyDescriptor(result)
	if err != nil {
		return PropertyDescriptor{}, false, err
	}
	return desc, true, nil
}

func (proxyMethods) defineOwnProperty(ctx *Context, o *Object, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "defineProperty")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.DefineOwnProperty(ctx, key, desc)
	}
	descObj := ctx.fromPropertyDescriptor(desc)
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, key.Value(), descObj})
	if err != nil {
		return false, err
	}
	return ToBoolean(result), nil
}

func (proxyMethods) ownKeys(ctx *Context, o *Object) ([]PropertyKey, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return nil, err
	}
	trap, err := ctx.proxyTrap(handler, "ownKeys")
	if err != nil {
		return nil, err
	}
	if trap.IsEmpty() {
		return target.OwnKeys(ctx)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target})
	if err != nil {
		return nil, err
	}
	listObj := result.ObjectOrNil()
	if listObj == nil {
		return nil, ctx.NewTypeError("proxy ownKeys trap must return an array")
	}
	n, err := ctx.lengthOf(listObj)
	if err != nil {
		return nil, err
	}
	keys := make([]PropertyKey, 0, n)
	for i := 0; i < n; i++ {
		el, err := listObj.Get(ctx, StringKey(strconv.Itoa(i)), result)
		if err != nil {
			return nil, err
		}
		switch el.typ {
		case TypeString:
			keys = append(keys, StringKey(el.AsString()))
		case TypeSymbol:
			keys = append(keys, SymbolKey(el.AsSymbol()))
		default:
			return nil, ctx.NewTypeError("proxy ownKeys trap returned a non-string, non-symbol key")
		}
	}
	return keys, nil
}

func (proxyMethods) getPrototypeOf(ctx *Context, o *Object) (Value, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return Null, err
	}
	trap, err := ctx.proxyTrap(handler, "getPrototypeOf")
	if err != nil {
		return Null, err
	}
	if trap.IsEmpty() {
		return target.GetPrototypeOf(ctx)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target})
	if err != nil {
		return Null, err
	}
	if result.typ != TypeObject && result.typ != TypeNull {
		return Null, ctx.NewTypeError("proxy getPrototypeOf trap must return an object or null")
	}
	return result, nil
}

func (proxyMethods) setPrototypeOf(ctx *Context, o *Object, proto Value) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "setPrototypeOf")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.SetPrototypeOf(ctx, proto)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, proto})
	if err != nil {
		return false, err
	}
	return ToBoolean(result), nil
}

func (proxyMethods) isExtensible(ctx *Context, o *Object) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "isExtensible")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.IsExtensible(ctx)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target})
	if err != nil {
		return false, err
	}
	claimed := ToBoolean(result)
	actual, err := target.IsExtensible(ctx)
	if err != nil {
		return false, err
	}
	if claimed != actual {
		return false, ctx.NewTypeError("proxy isExtensible trap disagrees with target")
	}
	return claimed, nil
}

func (proxyMethods) preventExtensions(ctx *Context, o *Object) (bool, error) {
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return false, err
	}
	trap, err := ctx.proxyTrap(handler, "preventExtensions")
	if err != nil {
		return false, err
	}
	if trap.IsEmpty() {
		return target.PreventExtensions(ctx)
	}
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target})
	if err != nil {
		return false, err
	}
	return ToBoolean(result), nil
}

// proxyCall implements [[Call]] for callable proxies.
func (vm *VM) proxyCall(o *Object, this Value, args []Value, outputReg int) (callKind, Value, error) {
	ctx := vm.ctx
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return callCompleted, Undefined, err
	}
	if !o.proxy.callable {
		return callCompleted, Undefined, ctx.NewTypeError("proxy target is not callable")
	}
	trap, err := ctx.proxyTrap(handler, "apply")
	if err != nil {
		return callCompleted, Undefined, err
	}
	if trap.IsEmpty() {
		return vm.prepareCall(ObjectValue(target), this, args, outputReg)
	}
	argArray := ctx.NewArrayOf(args...)
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, this, ObjectValue(argArray)})
	return callCompleted, result, err
}

// proxyConstruct implements [[Construct]] for constructable proxies.
func (vm *VM) proxyConstruct(o *Object, args []Value, newTarget Value, outputReg int) (callKind, Value, error) {
	ctx := vm.ctx
	target, handler, err := ctx.proxyParts(o)
	if err != nil {
		return callCompleted, Undefined, err
	}
	if !o.proxy.constructor {
		return callCompleted, Undefined, ctx.NewTypeError("proxy target is not a constructor")
	}
	trap, err := ctx.proxyTrap(handler, "construct")
	if err != nil {
		return callCompleted, Undefined, err
	}
	if trap.IsEmpty() {
		if SameValue(newTarget, ObjectValue(o)) {
			newTarget = ObjectValue(target)
		}
		return vm.prepareConstruct(ObjectValue(target), args, newTarget, outputReg)
	}
	argArray := ctx.NewArrayOf(args...)
	result, err := ctx.Call(trap, o.proxy.handler, []Value{o.proxy.target, ObjectValue(argArray), newTarget})
	if err != nil {
		return callCompleted, Undefined, err
	}
	if result.ObjectOrNil() == nil {
		return callCompleted, Undefined, ctx.NewTypeError("proxy construct trap must return an object")
	}
	return callCompleted, result, nil
}

// ---- descriptor object conversion ----

// fromPropertyDescriptor materializes a descriptor as a plain object for
// trap arguments and Object.getOwnPropertyDescriptor.
func (ctx *Context) fromPropertyDescriptor(desc PropertyDescriptor) Value {
	o := ctx.NewObject()
	if desc.IsAccessor() {
		g, s := desc.Getter, desc.Setter
		if g.IsEmpty() {
			g = Undefined
		}
		if s.IsEmpty() {
			s = Undefined
		}
		o.SetOwn("get", g)
		o.SetOwn("set", s)
	} else {
		v := desc.Value
		if v.IsEmpty() {
			v = Undefined
		}
		o.SetOwn("value", v)
		o.SetOwn("writable", BooleanValue(desc.Writable.boolOr(false)))
	}
	o.SetOwn("enumerable", BooleanValue(desc.Enumerable.boolOr(false)))
	o.SetOwn("configurable", BooleanValue(desc.Configurable.boolOr(false)))
	return ObjectValue(o)
}

// toPropertyDescriptor reads a descriptor object back into its parts.
func (ctx *Context) toPropertyDescriptor(v Value) (PropertyDescriptor, error) {
	o := v.ObjectOrNil()
	if o == nil {
		return PropertyDescriptor{}, ctx.NewTypeError("Property description must be an object")
	}
	desc := PropertyDescriptor{Value: Empty, Getter: Empty, Setter: Empty}
	read := func(name string) (Value, bool, error) {
		has, err := o.HasProperty(ctx, StringKey(name))
		if err != nil || !has {
			return Undefined, false, err
		}
		val, err := o.Get(ctx, StringKey(name), v)
		return val, err == nil, err
	}
	if val, ok, err := read("value"); err != nil {
		return desc, err
	} else if ok {
		desc.Value = val
	}
	if val, ok, err := read("writable"); err != nil {
		return desc, err
	} else if ok {
		desc.Writable = flagOf(ToBoolean(val))
	}
	if val, ok, err := read("get"); err != nil {
		return desc, err
	} else if ok {
		if !val.IsUndefined() && !val.IsCallable() {
			return desc, ctx.NewTypeError("Getter must be a function")
		}
		desc.Getter = val
	}
	if val, ok, err := read("set"); err != nil {
		return desc, err
	} else if ok {
		if !val.IsUndefined() && !val.IsCallable() {
			return desc, ctx.NewTypeError("Setter must be a function")
		}
		desc.Setter = val
	}
	if val, ok, err := read("enumerable"); err != nil {
		return desc, err
	} else if ok {
		desc.Enumerable = flagOf(ToBoolean(val))
	}
	if val, ok, err := read("configurable"); err != nil {
		return desc, err
	} else if ok {
		desc.Configurable = flagOf(ToBoolean(val))
	}
	if desc.IsAccessor() && desc.IsData() {
		return desc, ctx.NewTypeError("Invalid property descriptor. Cannot both specify accessors and a value or writable attribute")
	}
	return desc, nil
}

// lengthOf reads and clamps an object's length property.
func (ctx *Context) lengthOf(o *Object) (int, error) {
	lv, err := o.Get(ctx, StringKey("length"), ObjectValue(o))
	if err != nil {
		return 0, err
	}
	f, err := ctx.ToNumber(lv)
	if err != nil {
		return 0, err
	}
	return int(ToLength(f)), nil
}
