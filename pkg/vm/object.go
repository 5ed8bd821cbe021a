package vm

import (
	"sort"
	"strconv"

	"sparrow/pkg/heap"
)

// Object class names, reported by Object.prototype.toString and used to pick
// exotic behavior at construction time.
const (
	ClassObject            = "Object"
	ClassArray             = "Array"
	ClassFunction          = "Function"
	ClassBoundFunction     = "BoundFunction"
	ClassArguments         = "Arguments"
	ClassError             = "Error"
	ClassBoolean           = "Boolean"
	ClassNumber            = "Number"
	ClassString            = "String"
	ClassSymbol            = "Symbol"
	ClassBigInt            = "BigInt"
	ClassRegExp            = "RegExp"
	ClassMap               = "Map"
	ClassSet               = "Set"
	ClassWeakMap           = "WeakMap"
	ClassWeakSet           = "WeakSet"
	ClassWeakRef           = "WeakRef"
	ClassPromise           = "Promise"
	ClassGenerator         = "Generator"
	ClassArrayBuffer       = "ArrayBuffer"
	ClassSharedArrayBuffer = "SharedArrayBuffer"
	ClassTypedArray        = "TypedArray"
	ClassProxy             = "Proxy"
	ClassEnvironment       = "Environment" // internal, never script-visible
)

// Flag is a tri-state descriptor attribute: absent, false or true.
type Flag uint8

const (
	FlagNotSet Flag = iota
	FlagFalse
	FlagTrue
)

func flagOf(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

func (f Flag) boolOr(dflt bool) bool {
	switch f {
	case FlagTrue:
		return true
	case FlagFalse:
		return false
	default:
		return dflt
	}
}

// PropertyDescriptor carries the fields of a (possibly partial) descriptor.
// Getter/Setter use Empty for "absent" and Undefined for an explicit
// undefined accessor.
type PropertyDescriptor struct {
	Value        Value
	Getter       Value
	Setter       Value
	Writable     Flag
	Enumerable   Flag
	Configurable Flag
}

func DataDescriptor(v Value, writable, enumerable, configurable bool) PropertyDescriptor {
	return PropertyDescriptor{
		Value:        v,
		Getter:       Empty,
		Setter:       Empty,
		Writable:     flagOf(writable),
		Enumerable:   flagOf(enumerable),
		Configurable: flagOf(configurable),
	}
}

func AccessorDescriptor(getter, setter Value, enumerable, configurable bool) PropertyDescriptor {
	return PropertyDescriptor{
		Value:        Empty,
		Getter:       getter,
		Setter:       setter,
		Enumerable:   flagOf(enumerable),
		Configurable: flagOf(configurable),
	}
}

func (d *PropertyDescriptor) IsAccessor() bool {
	return !d.Getter.IsEmpty() || !d.Setter.IsEmpty()
}

func (d *PropertyDescriptor) IsData() bool {
	return !d.Value.IsEmpty() || d.Writable != FlagNotSet
}

// internalMethods is the object internal method table. Ordinary objects use
// the built-in ordinary* implementations; exotic kinds (arrays, proxies,
// typed arrays, string wrappers, bound functions, module namespaces) install
// an implementation that overrides the operations they specialize.
type internalMethods interface {
	getOwnProperty(ctx *Context, o *Object, key PropertyKey) (PropertyDescriptor, bool, error)
	defineOwnProperty(ctx *Context, o *Object, key PropertyKey, desc PropertyDescriptor) (bool, error)
	hasProperty(ctx *Context, o *Object, key PropertyKey) (bool, error)
	get(ctx *Context, o *Object, key PropertyKey, receiver Value) (Value, error)
	set(ctx *Context, o *Object, key PropertyKey, value, receiver Value) (bool, error)
	deleteProperty(ctx *Context, o *Object, key PropertyKey) (bool, error)
	ownKeys(ctx *Context, o *Object) ([]PropertyKey, error)
	getPrototypeOf(ctx *Context, o *Object) (Value, error)
	setPrototypeOf(ctx *Context, o *Object, proto Value) (bool, error)
	isExtensible(ctx *Context, o *Object) (bool, error)
	preventExtensions(ctx *Context, o *Object) (bool, error)
}

// Object is the single heap-managed object representation. The class string
// and the optional payload pointers distinguish kinds; named properties live
// in shape-described slots regardless of kind.
type Object struct {
	heap.Cell

	class      string
	shape      *Shape
	slots      []Value
	prototype  Value // object or Null
	extensible bool

	// impl overrides ordinary internal methods when non-nil.
	impl internalMethods

	// Kind payloads, nil unless the object is of that kind.
	fn        *FunctionData
	array     *ArrayData
	primitive Value // wrapper objects' [[PrimitiveValue]], Empty otherwise
	proxy     *ProxyData
	buffer    *ArrayBufferData
	view      *TypedArrayData
	regexp    *RegExpData
	generator *GeneratorData
	promise   *PromiseData
	collect   *CollectionData // Map/Set/WeakMap/WeakSet
	env       Environment     // environment records boxed as heap objects
	weakRef   *heap.WeakRef
}

// ArrayData holds the indexed element storage of array exotic objects.
type ArrayData struct {
	elements []Value // Hole marks gaps in sparse arrays
	length   uint32
}

// newObject builds a bare object. Callers must register it with the heap via
// Context.track before it can be referenced from other cells.
func newObject(class string, shape *Shape, proto Value) *Object {
	return &Object{
		class:      class,
		shape:      shape,
		prototype:  proto,
		extensible: true,
		primitive:  Empty,
	}
}

func (o *Object) Class() string    { return o.class }
func (o *Object) Shape() *Shape    { return o.shape }
func (o *Object) Prototype() Value { return o.prototype }

func (o *Object) IsCallable() bool    { return o.fn != nil || (o.proxy != nil && o.proxy.callable) }
func (o *Object) IsConstructor() bool {
	if o.fn != nil {
		return o.fn.IsConstructor
	}
	return o.proxy != nil && o.proxy.constructor
}

// Trace visits every heap reference the object owns.
func (o *Object) Trace(mark heap.Tracer) {
	traceValue(mark, o.prototype)
	for _, v := range o.slots {
		traceValue(mark, v)
	}
	if o.fn != nil {
		o.fn.trace(mark)
	}
	if o.array != nil {
		for _, v := range o.array.elements {
			traceValue(mark, v)
		}
	}
	traceValue(mark, o.primitive)
	if o.proxy != nil {
		traceValue(mark, o.proxy.target)
		traceValue(mark, o.proxy.handler)
	}
	if o.view != nil {
		mark(o.view.buffer)
	}
	if o.generator != nil {
		o.generator.trace(mark)
	}
	if o.promise != nil {
		o.promise.trace(mark)
	}
	if o.collect != nil {
		o.collect.trace(mark)
	}
	if o.env != nil {
		o.env.trace(mark)
	}
}

func traceValue(mark heap.Tracer, v Value) {
	if v.typ == TypeObject {
		mark(v.AsObject())
	}
}

// ---- dispatching wrappers ----

func (o *Object) GetOwnProperty(ctx *Context, key PropertyKey) (PropertyDescriptor, bool, error) {
	if o.impl != nil {
		return o.impl.getOwnProperty(ctx, o, key)
	}
	return o.ordinaryGetOwnProperty(key)
}

func (o *Object) DefineOwnProperty(ctx *Context, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	if o.impl != nil {
		return o.impl.defineOwnProperty(ctx, o, key, desc)
	}
	return o.ordinaryDefineOwnProperty(ctx, key, desc)
}

func (o *Object) HasProperty(ctx *Context, key PropertyKey) (bool, error) {
	if o.impl != nil {
		return o.impl.hasProperty(ctx, o, key)
	}
	return o.ordinaryHasProperty(ctx, key)
}

func (o *Object) Get(ctx *Context, key PropertyKey, receiver Value) (Value, error) {
	if o.impl != nil {
		return o.impl.get(ctx, o, key, receiver)
	}
	return o.ordinaryGet(ctx, key, receiver)
}

func (o *Object) Set(ctx *Context, key PropertyKey, value, receiver Value) (bool, error) {
	if o.impl != nil {
		return o.impl.set(ctx, o, key, value, receiver)
	}
	return o.ordinarySet(ctx, key, value, receiver)
}

func (o *Object) DeleteProperty(ctx *Context, key PropertyKey) (bool, error) {
	if o.impl != nil {
		return o.impl.deleteProperty(ctx, o, key)
	}
	return o.ordinaryDelete(key), nil
}

func (o *Object) OwnKeys(ctx *Context) ([]PropertyKey, error) {
	if o.impl != nil {
		return o.impl.ownKeys(ctx, o)
	}
	return o.ordinaryOwnKeys(), nil
}

func (o *Object) GetPrototypeOf(ctx *Context) (Value, error) {
	if o.impl != nil {
		return o.impl.getPrototypeOf(ctx, o)
	}
	return o.prototype, nil
}

func (o *Object) SetPrototypeOf(ctx *Context, proto Value) (bool, error) {
	if o.impl != nil {
		return o.impl.setPrototypeOf(ctx, o, proto)
	}
	return o.ordinarySetPrototypeOf(proto), nil
}

func (o *Object) IsExtensible(ctx *Context) (bool, error) {
	if o.impl != nil {
		return o.impl.isExtensible(ctx, o)
	}
	return o.extensible, nil
}

func (o *Object) PreventExtensions(ctx *Context) (bool, error) {
	if o.impl != nil {
		return o.impl.preventExtensions(ctx, o)
	}
	o.extensible = false
	return true, nil
}

// ---- ordinary internal methods ----

func (o *Object) ordinaryGetOwnProperty(key PropertyKey) (PropertyDescriptor, bool, error) {
	f, _ := o.shape.find(key)
	if f == nil {
		return PropertyDescriptor{}, false, nil
	}
	return o.descriptorFor(f), true, nil
}

func (o *Object) descriptorFor(f *Field) PropertyDescriptor {
	if f.accessor {
		return PropertyDescriptor{
			Value:        Empty,
			Getter:       o.slots[f.offset],
			Setter:       o.slots[f.offset+1],
			Enumerable:   flagOf(f.enumerable),
			Configurable: flagOf(f.configurable),
		}
	}
	return PropertyDescriptor{
		Value:        o.slots[f.offset],
		Getter:       Empty,
		Setter:       Empty,
		Writable:     flagOf(f.writable),
		Enumerable:   flagOf(f.enumerable),
		Configurable: flagOf(f.configurable),
	}
}

func (o *Object) ordinaryHasProperty(ctx *Context, key PropertyKey) (bool, error) {
	cur := o
	for {
		if f, _ := cur.shape.find(key); f != nil {
			return true, nil
		}
		if cur.impl != nil {
			// Exotic ancestor: fall back to its full protocol.
			_, found, err := cur.impl.getOwnProperty(ctx, cur, key)
			if err != nil || found {
				return found, err
			}
		}
		proto := cur.prototype
		if proto.typ != TypeObject {
			return false, nil
		}
		next := proto.AsObject()
		if next.impl != nil {
			return next.HasProperty(ctx, key)
		}
		cur = next
	}
}

func (o *Object) ordinaryGet(ctx *Context, key PropertyKey, receiver Value) (Value, error) {
	if f, _ := o.shape.find(key); f != nil {
		if f.accessor {
			getter := o.slots[f.offset]
			if getter.IsNullish() || getter.IsEmpty() {
				return Undefined, nil
			}
			return ctx.Call(getter, receiver, nil)
		}
		return o.slots[f.offset], nil
	}
	proto := o.prototype
	if proto.typ != TypeObject {
		return Undefined, nil
	}
	return proto.AsObject().Get(ctx, key, receiver)
}

func (o *Object) ordinarySet(ctx *Context, key PropertyKey, value, receiver Value) (bool, error) {
	if f, _ := o.shape.find(key); f != nil {
		if f.accessor {
			setter := o.slots[f.offset+1]
			if setter.IsNullish() || setter.IsEmpty() {
				return false, nil
			}
			_, err := ctx.Call(setter, receiver, []Value{value})
			return err == nil, err
		}
		if !f.writable {
			return false, nil
		}
		if robj := receiver.ObjectOrNil(); robj == o {
			o.slots[f.offset] = value
			return true, nil
		}
		return createDataPropertyOnReceiver(ctx, receiver, key, value)
	}
	if proto := o.prototype; proto.typ == TypeObject {
		parent := proto.AsObject()
		// The prototype chain may intercept the write (accessors, proxies).
		if pf, _ := parent.shape.find(key); pf != nil || parent.impl != nil {
			return parent.Set(ctx, key, value, receiver)
		}
		if proto2 := parent.prototype; proto2.typ == TypeObject {
			if has, err := parent.ordinaryHasProperty(ctx, key); err != nil {
				return false, err
			} else if has {
				return parent.Set(ctx, key, value, receiver)
			}
		}
	}
	return createDataPropertyOnReceiver(ctx, receiver, key, value)
}

func createDataPropertyOnReceiver(ctx *Context, receiver Value, key PropertyKey, value Value) (bool, error) {
	robj := receiver.ObjectOrNil()
	if robj == nil {
		return false, nil
	}
	desc, found, err := robj.GetOwnProperty(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		if desc.IsAccessor() || desc.Writable == FlagFalse {
			return false, nil
		}
		return robj.DefineOwnProperty(ctx, key, PropertyDescriptor{Value: value, Getter: Empty, Setter: Empty})
	}
	return robj.DefineOwnProperty(ctx, key, DataDescriptor(value, true, true, true))
}

func (o *Object) ordinaryDefineOwnProperty(ctx *Context, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	f, idx := o.shape.find(key)
	if f == nil {
		if !o.extensible {
			return false, nil
		}
		o.addProperty(key, desc)
		return true, nil
	}
	return o.reconfigureProperty(f, idx, desc), nil
}

// addProperty appends a new own property, transitioning the shape.
func (o *Object) addProperty(key PropertyKey, desc PropertyDescriptor) {
	accessor := desc.IsAccessor()
	o.shape = o.shape.transition(
		key,
		desc.Writable.boolOr(false),
		desc.Enumerable.boolOr(false),
		desc.Configurable.boolOr(false),
		accessor,
	)
	if accessor {
		g, s := desc.Getter, desc.Setter
		if g.IsEmpty() {
			g = Undefined
		}
		if s.IsEmpty() {
			s = Undefined
		}
		o.slots = append(o.slots, g, s)
	} else {
		v := desc.Value
		if v.IsEmpty() {
			v = Undefined
		}
		o.slots = append(o.slots, v)
	}
}

// reconfigureProperty applies the ValidateAndApplyPropertyDescriptor rules to
// an existing field.
func (o *Object) reconfigureProperty(f *Field, idx int, desc PropertyDescriptor) bool {
	if !f.configurable {
		if desc.Configurable == FlagTrue {
			return false
		}
		if desc.Enumerable != FlagNotSet && desc.Enumerable.boolOr(false) != f.enumerable {
			return false
		}
		if desc.IsAccessor() != f.accessor && (desc.IsAccessor() || desc.IsData()) {
			return false
		}
		if !f.accessor {
			if !f.writable {
				if desc.Writable == FlagTrue {
					return false
				}
				if !desc.Value.IsEmpty() && !SameValue(desc.Value, o.slots[f.offset]) {
					return false
				}
			}
		} else {
			if !desc.Getter.IsEmpty() && !SameValue(desc.Getter, o.slots[f.offset]) {
				return false
			}
			if !desc.Setter.IsEmpty() && !SameValue(desc.Setter, o.slots[f.offset+1]) {
				return false
			}
		}
	}

	kindChange := (desc.IsAccessor() && !f.accessor) || (desc.IsData() && f.accessor)
	if kindChange {
		// Rebuild the slot layout: remove then re-add with the new kind.
		key := f.key
		o.removeFieldAt(idx)
		merged := desc
		if merged.Enumerable == FlagNotSet {
			merged.Enumerable = flagOf(f.enumerable)
		}
		if merged.Configurable == FlagNotSet {
			merged.Configurable = flagOf(f.configurable)
		}
		o.addProperty(key, merged)
		return true
	}

	newWritable := f.writable
	if desc.Writable != FlagNotSet {
		newWritable = desc.Writable == FlagTrue
	}
	newEnumerable := f.enumerable
	if desc.Enumerable != FlagNotSet {
		newEnumerable = desc.Enumerable == FlagTrue
	}
	newConfigurable := f.configurable
	if desc.Configurable != FlagNotSet {
		newConfigurable = desc.Configurable == FlagTrue
	}
	if newWritable != f.writable || newEnumerable != f.enumerable || newConfigurable != f.configurable {
		o.shape = o.shape.withFieldAttrs(idx, newWritable, newEnumerable, newConfigurable)
		f = &o.shape.fields[idx]
	}
	if f.accessor {
		if !desc.Getter.IsEmpty() {
			o.slots[f.offset] = desc.Getter
		}
		if !desc.Setter.IsEmpty() {
			o.slots[f.offset+1] = desc.Setter
		}
	} else if !desc.Value.IsEmpty() {
		o.slots[f.offset] = desc.Value
	}
	return true
}

func (o *Object) ordinaryDelete(key PropertyKey) bool {
	f, idx := o.shape.find(key)
	if f == nil {
		return true
	}
	if !f.configurable {
		return false
	}
	o.removeFieldAt(idx)
	return true
}

func (o *Object) removeFieldAt(idx int) {
	f := o.shape.fields[idx]
	width := f.slotWidth()
	o.slots = append(o.slots[:f.offset], o.slots[f.offset+width:]...)
	o.shape = o.shape.withoutField(idx)
}

// ordinaryOwnKeys returns keys in property order: array indices ascending, then
// string keys in insertion order, then symbols in insertion order.
func (o *Object) ordinaryOwnKeys() []PropertyKey {
	var indices []int
	var strs []PropertyKey
	var syms []PropertyKey
	for i := range o.shape.fields {
		k := o.shape.fields[i].key
		if n, ok := k.arrayIndex(); ok {
			indices = append(indices, n)
		} else if k.IsString() {
			strs = append(strs, k)
		} else {
			syms = append(syms, k)
		}
	}
	sort.Ints(indices)
	keys := make([]PropertyKey, 0, len(indices)+len(strs)+len(syms))
	for _, n := range indices {
		keys = append(keys, StringKey(strconv.Itoa(n)))
	}
	keys = append(keys, strs...)
	keys = append(keys, syms...)
	return keys
}

func (o *Object) ordinarySetPrototypeOf(proto Value) bool {
	if proto.typ != TypeObject && proto.typ != TypeNull {
		return false
	}
	if SameValue(o.prototype, proto) {
		return true
	}
	if !o.extensible {
		return false
	}
	// Reject prototype cycles along ordinary chains.
	p := proto
	for p.typ == TypeObject {
		po := p.AsObject()
		if po == o {
			return false
		}
		if po.impl != nil {
			break
		}
		p = po.prototype
	}
	o.prototype = proto
	return true
}

// ---- convenience accessors used throughout the engine ----

// GetOwn returns a data slot by string name without running accessors.
func (o *Object) GetOwn(name string) (Value, bool) {
	f, _ := o.shape.find(StringKey(name))
	if f == nil || f.accessor {
		return Undefined, false
	}
	return o.slots[f.offset], true
}

// SetOwn defines or updates a plain writable/enumerable/configurable data
// property, bypassing setters and proxies. Intrinsic setup uses this.
func (o *Object) SetOwn(name string, v Value) {
	o.setOwnKey(StringKey(name), v)
}

func (o *Object) SetOwnSymbol(s *Symbol, v Value) {
	o.setOwnKey(SymbolKey(s), v)
}

func (o *Object) setOwnKey(key PropertyKey, v Value) {
	if f, _ := o.shape.find(key); f != nil && !f.accessor {
		o.slots[f.offset] = v
		return
	}
	o.addProperty(key, DataDescriptor(v, true, true, true))
}

// DefineHidden defines a non-enumerable data property, the attribute set of
// built-in methods and the "length"/"name" function properties.
func (o *Object) DefineHidden(name string, v Value) {
	if f, _ := o.shape.find(StringKey(name)); f != nil && !f.accessor {
		o.slots[f.offset] = v
		return
	}
	o.addProperty(StringKey(name), DataDescriptor(v, true, false, true))
}

func (o *Object) inspect() string {
	switch {
	case o.fn != nil:
		name := o.fn.Name
		if name == "" {
			name = "anonymous"
		}
		return "[Function: " + name + "]"
	case o.array != nil:
		return "[Array(" + strconv.Itoa(int(o.array.length)) + ")]"
	default:
		return "[object " + o.class + "]"
	}
}
