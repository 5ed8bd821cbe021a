package vm

import (
	"fmt"
	"math"
	"strconv"

	"sparrow/pkg/heap"
)

// CollectionData backs Map, Set, WeakMap and WeakSet objects. Strong
// collections keep insertion order with tombstones so live iterators stay
// valid across deletes; weak collections hold their keys through heap
// ephemerons and never iterate.
type CollectionData struct {
	keys   []Value // Empty marks a tombstone
	values []Value
	index  map[string]int
	size   int

	weak map[*Object]*heap.Ephemeron
}

// valueBox wraps an arbitrary Value as a heap cell so it can serve as an
// ephemeron value.
type valueBox struct {
	heap.Cell
	v Value
}

func (b *valueBox) Trace(mark heap.Tracer) { traceValue(mark, b.v) }

// collectionKey hashes a value with SameValueZero semantics: NaN equals
// itself, +0 and -0 coincide, objects and symbols hash by identity.
func collectionKey(v Value) string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeUndefined:
		return "undefined"
	case TypeBoolean:
		if v.payload != 0 {
			return "b:true"
		}
		return "b:false"
	case TypeString:
		return "s:" + v.AsString()
	case TypeFloatNumber, TypeIntegerNumber:
		f := v.NumberValueOf()
		if math.IsNaN(f) {
			return "n:NaN"
		}
		if f == 0 {
			return "n:0"
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	case TypeBigInt:
		return "g:" + v.AsBigInt().String()
	default:
		return fmt.Sprintf("o:%p", v.obj)
	}
}

// NewMapObject creates an empty Map.
func (ctx *Context) NewMapObject() *Object {
	o := newObject(ClassMap, ctx.Realm.RootShape, ObjectValue(ctx.Realm.MapPrototype))
	o.collect = &CollectionData{index: make(map[string]int)}
	ctx.track(o)
	return o
}

// NewSetObject creates an empty Set.
func (ctx *Context) NewSetObject() *Object {
	o := newObject(ClassSet, ctx.Realm.RootShape, ObjectValue(ctx.Realm.SetPrototype))
	o.collect = &CollectionData{index: make(map[string]int)}
	ctx.track(o)
	return o
}

// NewWeakMapObject creates an empty WeakMap.
func (ctx *Context) NewWeakMapObject() *Object {
	o := newObject(ClassWeakMap, ctx.Realm.RootShape, ObjectValue(ctx.Realm.WeakMapPrototype))
	o.collect = &CollectionData{weak: make(map[*Object]*heap.Ephemeron)}
	ctx.track(o)
	return o
}

// NewWeakSetObject creates an empty WeakSet.
func (ctx *Context) NewWeakSetObject() *Object {
	o := newObject(ClassWeakSet, ctx.Realm.RootShape, ObjectValue(ctx.Realm.WeakSetPrototype))
	o.collect = &CollectionData{weak: make(map[*Object]*heap.Ephemeron)}
	ctx.track(o)
	return o
}

func (c *CollectionData) trace(mark heap.Tracer) {
	for _, k := range c.keys {
		traceValue(mark, k)
	}
	for _, v := range c.values {
		traceValue(mark, v)
	}
	// Weak entries are intentionally not traced: the ephemeron fixpoint
	// decides their liveness.
}

// MapGet returns the value stored for key.
func (o *Object) MapGet(key Value) (Value, bool) {
	i, ok := o.collect.index[collectionKey(key)]
	if !ok {
		return Undefined, false
	}
	return o.collect.values[i], true
}

// MapSet stores key -> value, preserving first-insertion order on update.
func (o *Object) MapSet(key, value Value) {
	c := o.collect
	h := collectionKey(key)
	if i, ok := c.index[h]; ok {
		c.values[i] = value
		return
	}
	c.keys = append(c.keys, key)
	c.values = append(c.values, value)
	c.index[h] = len(c.keys) - 1
	c.size++
}

// MapDelete removes an entry, leaving a tombstone for live iterators.
func (o *Object) MapDelete(key Value) bool {
	c := o.collect
	h := collectionKey(key)
	i, ok := c.index[h]
	if !ok {
		return false
	}
	delete(c.index, h)
	c.keys[i] = Empty
	c.values[i] = Empty
	c.size--
	return true
}

// MapHas reports whether key is present.
func (o *Object) MapHas(key Value) bool {
	_, ok := o.collect.index[collectionKey(key)]
	return ok
}

// MapSize returns the live entry count.
func (o *Object) MapSize() int { return o.collect.size }

// MapRange calls fn for each live entry in insertion order. Entries added
// during iteration are visited; deleted ones are skipped.
func (o *Object) MapRange(fn func(key, value Value) bool) {
	c := o.collect
	for i := 0; i < len(c.keys); i++ {
		if c.keys[i].IsEmpty() {
			continue
		}
		if !fn(c.keys[i], c.values[i]) {
			return
		}
	}
}

// SetAdd adds a value to a Set.
func (o *Object) SetAdd(value Value) { o.MapSet(value, value) }

// SetHas reports membership.
func (o *Object) SetHas(value Value) bool { return o.MapHas(value) }

// ---- weak collections ----

// WeakSetEntry stores key -> value with ephemeron liveness: the entry dies
// with the key and never keeps the key alive. Keys must be objects.
func (ctx *Context) WeakSetEntry(weakColl *Object, key Value, value Value) error {
	keyObj := key.ObjectOrNil()
	if keyObj == nil {
		return ctx.NewTypeError("Invalid value used as weak map key")
	}
	c := weakColl.collect
	if e, ok := c.weak[keyObj]; ok && e.Key() != nil {
		e.Value().(*valueBox).v = value
		return nil
	}
	box := &valueBox{v: value}
	ctx.Heap.Alloc(box)
	e := ctx.Heap.NewEphemeron(keyObj, box)
	ctx.Heap.Release(box)
	c.weak[keyObj] = e
	return nil
}

// WeakGetEntry reads a weak entry; ok=false after the key was collected.
func (o *Object) WeakGetEntry(key Value) (Value, bool) {
	keyObj := key.ObjectOrNil()
	if keyObj == nil {
		return Undefined, false
	}
	e, ok := o.collect.weak[keyObj]
	if !ok || e.Key() == nil {
		delete(o.collect.weak, keyObj)
		return Undefined, false
	}
	return e.Value().(*valueBox).v, true
}

// WeakDeleteEntry drops a weak entry.
func (o *Object) WeakDeleteEntry(key Value) bool {
	keyObj := key.ObjectOrNil()
	if keyObj == nil {
		return false
	}
	e, ok := o.collect.weak[keyObj]
	if !ok {
		return false
	}
	alive := e.Key() != nil
	e.SetValue(nil)
	delete(o.collect.weak, keyObj)
	return alive
}

// NewWeakRefObject creates a WeakRef over target.
func (ctx *Context) NewWeakRefObject(target *Object) *Object {
	o := newObject(ClassWeakRef, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	o.weakRef = ctx.Heap.NewWeakRef(target)
	ctx.track(o)
	return o
}

// WeakRefDeref returns the target or undefined after collection.
func (o *Object) WeakRefDeref() Value {
	if o.weakRef == nil {
		return Undefined
	}
	t := o.weakRef.Get()
	if t == nil {
		return Undefined
	}
	return ObjectValue(t.(*Object))
}
