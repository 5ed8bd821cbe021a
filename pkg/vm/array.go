package vm

import (
	"math"
	"strconv"
)

// arrayMethods implements the array exotic object behavior: "length" is a
// special own property coupled to the element storage, and canonical index
// keys route to the elements slice instead of named slots.
type arrayMethods struct{}

var arrayImpl internalMethods = arrayMethods{}

// NewArray creates an empty array with the realm's Array prototype.
func (ctx *Context) NewArray() *Object {
	o := newObject(ClassArray, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ArrayPrototype))
	o.array = &ArrayData{}
	o.impl = arrayImpl
	ctx.track(o)
	return o
}

// NewArrayOf creates an array holding the given elements.
func (ctx *Context) NewArrayOf(elements ...Value) *Object {
	o := ctx.NewArray()
	o.array.elements = append(o.array.elements, elements...)
	o.array.length = uint32(len(elements))
	return o
}

// Elements exposes the dense element storage for iteration helpers.
func (o *Object) Elements() []Value {
	if o.array == nil {
		return nil
	}
	return o.array.elements
}

// ArrayLength returns the array's length, 0 for non-arrays.
func (o *Object) ArrayLength() uint32 {
	if o.array == nil {
		return 0
	}
	return o.array.length
}

func (a *ArrayData) elementAt(i int) (Value, bool) {
	if i < 0 || i >= len(a.elements) {
		return Undefined, false
	}
	v := a.elements[i]
	if v.IsHole() {
		return Undefined, false
	}
	return v, true
}

func (a *ArrayData) setElement(i int, v Value) {
	for len(a.elements) <= i {
		a.elements = append(a.elements, Hole)
	}
	a.elements[i] = v
	if uint32(i) >= a.length {
		a.length = uint32(i) + 1
	}
}

// setLength truncates or extends the array. Shrinking drops elements beyond
// the new length.
func (a *ArrayData) setLength(n uint32) {
	if n < a.length && int(n) < len(a.elements) {
		a.elements = a.elements[:n]
	}
	a.length = n
}

func (arrayMethods) getOwnProperty(ctx *Context, o *Object, key PropertyKey) (PropertyDescriptor, bool, error) {
	if key.IsString() && key.name == "length" {
		return DataDescriptor(NumberValue(float64(o.array.length)), true, false, false), true, nil
	}
	if i, ok := key.arrayIndex(); ok {
		if v, present := o.array.elementAt(i); present {
			return DataDescriptor(v, true, true, true), true, nil
		}
		return PropertyDescriptor{}, false, nil
	}
	return o.ordinaryGetOwnProperty(key)
}

func (arrayMethods) defineOwnProperty(ctx *Context, o *Object, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	if key.IsString() && key.name == "length" {
		if desc.IsAccessor() {
			return false, nil
		}
		if !desc.Value.IsEmpty() {
			f, err := ctx.ToNumber(desc.Value)
			if err != nil {
				return false, err
			}
			n := ToUint32(f)
			if float64(n) != f {
				return false, ctx.NewRangeError("invalid array length")
			}
			o.array.setLength(n)
		}
		return true, nil
	}
	if i, ok := key.arrayIndex(); ok {
		if desc.IsAccessor() {
			// Accessor elements fall back to named storage; the fast path
			// checks named fields before the element slice.
			return o.ordinaryDefineOwnProperty(ctx, key, desc)
		}
		if !o.extensible {
			if _, present := o.array.elementAt(i); !present {
				return false, nil
			}
		}
		v := desc.Value
		if v.IsEmpty() {
			v = Undefined
		}
		o.array.setElement(i, v)
		return true, nil
	}
	return o.ordinaryDefineOwnProperty(ctx, key, desc)
}

func (m arrayMethods) hasProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	_, found, err := m.getOwnProperty(ctx, o, key)
	if err != nil || found {
		return found, err
	}
	if proto := o.prototype; proto.typ == TypeObject {
		return proto.AsObject().HasProperty(ctx, key)
	}
	return false, nil
}

func (m arrayMethods) get(ctx *Context, o *Object, key PropertyKey, receiver Value) (Value, error) {
	if key.IsString() && key.name == "length" {
		return NumberValue(float64(o.array.length)), nil
	}
	if i, ok := key.arrayIndex(); ok {
		if v, present := o.array.elementAt(i); present {
			return v, nil
		}
		// A hole reads through the prototype chain.
		if f, _ := o.shape.find(key); f == nil {
			if proto := o.prototype; proto.typ == TypeObject {
				return proto.AsObject().Get(ctx, key, receiver)
			}
			return Undefined, nil
		}
	}
	return o.ordinaryGet(ctx, key, receiver)
}

func (m arrayMethods) set(ctx *Context, o *Object, key PropertyKey, value, receiver Value) (bool, error) {
	if key.IsString() && key.name == "length" {
		f, err := ctx.ToNumber(value)
		if err != nil {
			return false, err
		}
		n := ToUint32(f)
		if float64(n) != f || math.Signbit(f) {
			return false, ctx.NewRangeError("invalid array length")
		}
		o.array.setLength(n)
		return true, nil
	}
	if i, ok := key.arrayIndex(); ok {
		if f, _ := o.shape.find(key); f == nil || !f.accessor {
			if !o.extensible {
				if _, present := o.array.elementAt(i); !present {
					return false, nil
				}
			}
			o.array.setElement(i, value)
			return true, nil
		}
	}
	return o.ordinarySet(ctx, key, value, receiver)
}

func (arrayMethods) deleteProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	if key.IsString() && key.name == "length" {
		return false, nil
	}
	if i, ok := key.arrayIndex(); ok {
		if i >= 0 && i < len(o.array.elements) {
			o.array.elements[i] = Hole
		}
		return true, nil
	}
	return o.ordinaryDelete(key), nil
}

func (arrayMethods) ownKeys(ctx *Context, o *Object) ([]PropertyKey, error) {
	keys := make([]PropertyKey, 0, len(o.array.elements)+len(o.shape.fields)+1)
	for i, v := range o.array.elements {
		if !v.IsHole() {
			keys = append(keys, StringKey(strconv.Itoa(i)))
		}
	}
	keys = append(keys, StringKey("length"))
	keys = append(keys, o.ordinaryOwnKeys()...)
	return keys, nil
}

func (arrayMethods) getPrototypeOf(ctx *Context, o *Object) (Value, error) {
	return o.prototype, nil
}

func (arrayMethods) setPrototypeOf(ctx *Context, o *Object, proto Value) (bool, error) {
	return o.ordinarySetPrototypeOf(proto), nil
}

func (arrayMethods) isExtensible(ctx *Context, o *Object) (bool, error) {
	return o.extensible, nil
}

func (arrayMethods) preventExtensions(ctx *Context, o *Object) (bool, error) {
	o.extensible = false
	return true, nil
}

// stringWrapperMethods adds the exotic index and length behavior of String
// wrapper objects: characters are readable, non-writable own properties.
type stringWrapperMethods struct{}

var stringWrapperImpl internalMethods = stringWrapperMethods{}

func (ctx *Context) newStringWrapper(s string) *Object {
	o := newObject(ClassString, ctx.Realm.RootShape, ObjectValue(ctx.Realm.StringPrototype))
	o.primitive = NewString(s)
	o.impl = stringWrapperImpl
	ctx.track(o)
	return o
}

func (o *Object) wrappedString() string { return o.primitive.AsString() }

func (m stringWrapperMethods) getOwnProperty(ctx *Context, o *Object, key PropertyKey) (PropertyDescriptor, bool, error) {
	s := o.wrappedString()
	if key.IsString() && key.name == "length" {
		return DataDescriptor(IntegerValue(int32(len(s))), false, false, false), true, nil
	}
	if i, ok := key.arrayIndex(); ok && i < len(s) {
		return DataDescriptor(NewString(s[i:i+1]), false, true, false), true, nil
	}
	return o.ordinaryGetOwnProperty(key)
}

func (m stringWrapperMethods) defineOwnProperty(ctx *Context, o *Object, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	s := o.wrappedString()
	if key.IsString() && key.name == "length" {
		return false, nil
	}
	if i, ok := key.arrayIndex(); ok && i < len(s) {
		return false, nil
	}
	return o.ordinaryDefineOwnProperty(ctx, key, desc)
}

func (m stringWrapperMethods) hasProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	_, found, err := m.getOwnProperty(ctx, o, key)
	if err != nil || found {
		return found, err
	}
	if proto := o.prototype; proto.typ == TypeObject {
		return proto.AsObject().HasProperty(ctx, key)
	}
	return false, nil
}

func (m stringWrapperMethods) get(ctx *Context, o *Object, key PropertyKey, receiver Value) (Value, error) {
	desc, found, err := m.getOwnProperty(ctx, o, key)
	if err != nil {
		return Undefined, err
	}
	if found {
		if desc.IsAccessor() {
			return o.ordinaryGet(ctx, key, receiver)
		}
		return desc.Value, nil
	}
	if proto := o.prototype; proto.typ == TypeObject {
		return proto.AsObject().Get(ctx, key, receiver)
	}
	return Undefined, nil
}

func (m stringWrapperMethods) set(ctx *Context, o *Object, key PropertyKey, value, receiver Value) (bool, error) {
	s := o.wrappedString()
	if key.IsString() && key.name == "length" {
		return false, nil
	}
	if i, ok := key.arrayIndex(); ok && i < len(s) {
		return false, nil
	}
	return o.ordinarySet(ctx, key, value, receiver)
}

func (m stringWrapperMethods) deleteProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	s := o.wrappedString()
	if key.IsString() && key.name == "length" {
		return false, nil
	}
	if i, ok := key.arrayIndex(); ok && i < len(s) {
		return false, nil
	}
	return o.ordinaryDelete(key), nil
}

func (m stringWrapperMethods) ownKeys(ctx *Context, o *Object) ([]PropertyKey, error) {
	s := o.wrappedString()
	keys := make([]PropertyKey, 0, len(s)+1+len(o.shape.fields))
	for i := range s {
		keys = append(keys, StringKey(strconv.Itoa(i)))
	}
	keys = append(keys, StringKey("length"))
	keys = append(keys, o.ordinaryOwnKeys()...)
	return keys, nil
}

func (stringWrapperMethods) getPrototypeOf(ctx *Context, o *Object) (Value, error) {
	return o.prototype, nil
}

func (stringWrapperMethods) setPrototypeOf(ctx *Context, o *Object, proto Value) (bool, error) {
	return o.ordinarySetPrototypeOf(proto), nil
}

func (stringWrapperMethods) isExtensible(ctx *Context, o *Object) (bool, error) {
	return o.extensible, nil
}

func (stringWrapperMethods) preventExtensions(ctx *Context, o *Object) (bool, error) {
	o.extensible = false
	return true, nil
}
