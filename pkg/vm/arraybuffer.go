package vm

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"sync"
)

// ArrayBufferData is the payload of ArrayBuffer and SharedArrayBuffer
// objects. Shared buffers carry a lock and waiter registry for the atomic
// operations; plain buffers can be detached.
type ArrayBufferData struct {
	data     []byte
	shared   bool
	detached bool

	mu      sync.Mutex
	waiters map[int][]chan struct{}
}

// NewArrayBuffer allocates a zero-filled buffer of byteLength bytes.
func (ctx *Context) NewArrayBuffer(byteLength int) (*Object, error) {
	if byteLength < 0 || byteLength > ctx.Limits.MaxBufferBytes {
		return nil, ctx.NewRangeError("Invalid array buffer length")
	}
	o := newObject(ClassArrayBuffer, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	o.buffer = &ArrayBufferData{data: make([]byte, byteLength)}
	ctx.track(o)
	return o, nil
}

// NewSharedArrayBuffer allocates a shared buffer. Shared buffers cannot be
// detached and their bytes may be accessed from multiple goroutines through
// the atomic operations.
func (ctx *Context) NewSharedArrayBuffer(byteLength int) (*Object, error) {
	if byteLength < 0 || byteLength > ctx.Limits.MaxBufferBytes {
		return nil, ctx.NewRangeError("Invalid shared array buffer length")
	}
	o := newObject(ClassSharedArrayBuffer, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	o.buffer = &ArrayBufferData{
		data:    make([]byte, byteLength),
		shared:  true,
		waiters: make(map[int][]chan struct{}),
	}
	ctx.track(o)
	return o, nil
}

// DetachArrayBuffer severs the buffer from its storage. Shared buffers
// cannot be detached.
func (ctx *Context) DetachArrayBuffer(buf *Object) error {
	if buf.buffer == nil {
		return ctx.NewTypeError("argument is not an ArrayBuffer")
	}
	if buf.buffer.shared {
		return ctx.NewTypeError("SharedArrayBuffer cannot be detached")
	}
	buf.buffer.data = nil
	buf.buffer.detached = true
	return nil
}

// ByteLength returns the buffer size, 0 after detach.
func (o *Object) ByteLength() int {
	if o.buffer == nil {
		return 0
	}
	return len(o.buffer.data)
}

// IsDetached reports detachment.
func (o *Object) IsDetached() bool { return o.buffer != nil && o.buffer.detached }

// IsSharedBuffer reports whether the object is a SharedArrayBuffer.
func (o *Object) IsSharedBuffer() bool { return o.buffer != nil && o.buffer.shared }

// ---- typed arrays ----

// ElemKind identifies a typed array element type.
type ElemKind uint8

const (
	Int8Kind ElemKind = iota
	Uint8Kind
	Uint8ClampedKind
	Int16Kind
	Uint16Kind
	Int32Kind
	Uint32Kind
	Float32Kind
	Float64Kind
	BigInt64Kind
	BigUint64Kind
)

func (k ElemKind) Size() int {
	switch k {
	case Int8Kind, Uint8Kind, Uint8ClampedKind:
		return 1
	case Int16Kind, Uint16Kind:
		return 2
	case Int32Kind, Uint32Kind, Float32Kind:
		return 4
	default:
		return 8
	}
}

func (k ElemKind) String() string {
	switch k {
	case Int8Kind:
		return "Int8Array"
	case Uint8Kind:
		return "Uint8Array"
	case Uint8ClampedKind:
		return "Uint8ClampedArray"
	case Int16Kind:
		return "Int16Array"
	case Uint16Kind:
		return "Uint16Array"
	case Int32Kind:
		return "Int32Array"
	case Uint32Kind:
		return "Uint32Array"
	case Float32Kind:
		return "Float32Array"
	case Float64Kind:
		return "Float64Array"
	case BigInt64Kind:
		return "BigInt64Array"
	default:
		return "BigUint64Array"
	}
}

func (k ElemKind) isBigInt() bool { return k == BigInt64Kind || k == BigUint64Kind }

// TypedArrayData is the payload of typed array views.
type TypedArrayData struct {
	buffer     *Object
	kind       ElemKind
	byteOffset int
	length     int // element count
}

// NewTypedArray creates a view of kind over buffer starting at byteOffset.
// length < 0 means "to the end of the buffer".
func (ctx *Context) NewTypedArray(kind ElemKind, buffer *Object, byteOffset, length int) (*Object, error) {
	if buffer.buffer == nil {
		return nil, ctx.NewTypeError("argument is not an ArrayBuffer")
	}
	if buffer.IsDetached() {
		return nil, ctx.NewTypeError("Cannot construct a view over a detached ArrayBuffer")
	}
	size := kind.Size()
	if byteOffset < 0 || byteOffset%size != 0 {
		return nil, ctx.NewRangeError("start offset of " + kind.String() + " should be a multiple of " + strconv.Itoa(size))
	}
	avail := len(buffer.buffer.data) - byteOffset
	if avail < 0 {
		return nil, ctx.NewRangeError("offset is outside the bounds of the buffer")
	}
	if length < 0 {
		if avail%size != 0 {
			return nil, ctx.NewRangeError("byte length of " + kind.String() + " should be a multiple of " + strconv.Itoa(size))
		}
		length = avail / size
	} else if length*size > avail {
		return nil, ctx.NewRangeError("invalid typed array length")
	}
	o := newObject(ClassTypedArray, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	o.view = &TypedArrayData{buffer: buffer, kind: kind, byteOffset: byteOffset, length: length}
	o.impl = typedArrayImpl
	ctx.track(o)
	return o, nil
}

// NewTypedArrayOfLength allocates a fresh backing buffer for length elements.
func (ctx *Context) NewTypedArrayOfLength(kind ElemKind, length int) (*Object, error) {
	if length < 0 {
		return nil, ctx.NewRangeError("invalid typed array length")
	}
	buf, err := ctx.NewArrayBuffer(length * kind.Size())
	if err != nil {
		return nil, err
	}
	return ctx.NewTypedArray(kind, buf, 0, length)
}

// ViewLength returns the element count of a typed array view.
func (o *Object) ViewLength() int {
	if o.view == nil {
		return 0
	}
	return o.view.length
}

// ViewBuffer returns the backing buffer object.
func (o *Object) ViewBuffer() *Object {
	if o.view == nil {
		return nil
	}
	return o.view.buffer
}

// elemBytes returns the byte window of element i, nil when out of bounds or
// the buffer is detached.
func (t *TypedArrayData) elemBytes(i int) []byte {
	if i < 0 || i >= t.length || t.buffer.IsDetached() {
		return nil
	}
	size := t.kind.Size()
	start := t.byteOffset + i*size
	return t.buffer.buffer.data[start : start+size]
}

// readElem decodes element i. Typed array bytes are little-endian.
func (t *TypedArrayData) readElem(i int) Value {
	b := t.elemBytes(i)
	if b == nil {
		return Undefined
	}
	switch t.kind {
	case Int8Kind:
		return intOrFloat(int64(int8(b[0])))
	case Uint8Kind, Uint8ClampedKind:
		return intOrFloat(int64(b[0]))
	case Int16Kind:
		return intOrFloat(int64(int16(binary.LittleEndian.Uint16(b))))
	case Uint16Kind:
		return intOrFloat(int64(binary.LittleEndian.Uint16(b)))
	case Int32Kind:
		return intOrFloat(int64(int32(binary.LittleEndian.Uint32(b))))
	case Uint32Kind:
		return intOrFloat(int64(binary.LittleEndian.Uint32(b)))
	case Float32Kind:
		return NumberValue(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case Float64Kind:
		return NumberValue(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case BigInt64Kind:
		return NewBigInt(big.NewInt(int64(binary.LittleEndian.Uint64(b))))
	default: // BigUint64Kind
		return NewBigInt(new(big.Int).SetUint64(binary.LittleEndian.Uint64(b)))
	}
}

// writeElem stores v into element i after numeric conversion. Out-of-bounds
// writes are silently dropped, matching integer-indexed exotic behavior.
func (ctx *Context) writeElem(t *TypedArrayData, i int, v Value) error {
	var bits uint64
	if t.kind.isBigInt() {
		if v.typ != TypeBigInt {
			return ctx.NewTypeError("Cannot convert " + v.TypeName() + " to a BigInt")
		}
		bits = bigIntTo64(v.AsBigInt())
	} else {
		f, err := ctx.ToNumber(v)
		if err != nil {
			return err
		}
		bits = numberToBits(t.kind, f)
	}
	b := t.elemBytes(i)
	if b == nil {
		return nil
	}
	switch len(b) {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	default:
		binary.LittleEndian.PutUint64(b, bits)
	}
	return nil
}

// numberToBits converts a float to the stored representation of kind.
func numberToBits(kind ElemKind, f float64) uint64 {
	switch kind {
	case Uint8ClampedKind:
		if math.IsNaN(f) || f <= 0 {
			return 0
		}
		if f >= 255 {
			return 255
		}
		// Round half to even.
		r := math.Floor(f)
		frac := f - r
		if frac > 0.5 || (frac == 0.5 && math.Mod(r, 2) != 0) {
			r++
		}
		return uint64(r)
	case Float32Kind:
		return uint64(math.Float32bits(float32(f)))
	case Float64Kind:
		return math.Float64bits(f)
	default:
		// Integer kinds wrap modulo 2^32; narrower widths keep the low bytes.
		return uint64(uint32(ToInt32(f)))
	}
}

// bigIntTo64 wraps a big integer modulo 2^64.
func bigIntTo64(b *big.Int) uint64 {
	var m big.Int
	m.And(b, new(big.Int).SetUint64(math.MaxUint64))
	return m.Uint64()
}

// ---- integer-indexed exotic internal methods ----

type typedArrayMethods struct{}

var typedArrayImpl internalMethods = typedArrayMethods{}

func (typedArrayMethods) get(ctx *Context, o *Object, key PropertyKey, receiver Value) (Value, error) {
	if i, ok := key.arrayIndex(); ok {
		return o.view.readElem(i), nil
	}
	if key.IsString() && key.Name() == "length" {
		return intOrFloat(int64(o.view.length)), nil
	}
	return o.ordinaryGet(ctx, key, receiver)
}

func (typedArrayMethods) set(ctx *Context, o *Object, key PropertyKey, value, receiver Value) (bool, error) {
	if i, ok := key.arrayIndex(); ok {
		if err := ctx.writeElem(o.view, i, value); err != nil {
			return false, err
		}
		return true, nil
	}
	if key.IsString() && key.Name() == "length" {
		return false, nil
	}
	return o.ordinarySet(ctx, key, value, receiver)
}

func (typedArrayMethods) getOwnProperty(ctx *Context, o *Object, key PropertyKey) (PropertyDescriptor, bool, error) {
	if i, ok := key.arrayIndex(); ok {
		if i >= o.view.length {
			return PropertyDescriptor{}, false, nil
		}
		return DataDescriptor(o.view.readElem(i), true, true, false), true, nil
	}
	if key.IsString() && key.Name() == "length" {
		return DataDescriptor(intOrFloat(int64(o.view.length)), false, false, false), true, nil
	}
	return o.ordinaryGetOwnProperty(key)
}

func (typedArrayMethods) defineOwnProperty(ctx *Context, o *Object, key PropertyKey, desc PropertyDescriptor) (bool, error) {
	if i, ok := key.arrayIndex(); ok {
		if i >= o.view.length || desc.IsAccessor() {
			return false, nil
		}
		if !desc.Value.IsEmpty() {
			if err := ctx.writeElem(o.view, i, desc.Value); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return o.ordinaryDefineOwnProperty(ctx, key, desc)
}

func (typedArrayMethods) hasProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	if i, ok := key.arrayIndex(); ok {
		return i < o.view.length, nil
	}
	if key.IsString() && key.Name() == "length" {
		return true, nil
	}
	return o.ordinaryHasProperty(ctx, key)
}

func (typedArrayMethods) deleteProperty(ctx *Context, o *Object, key PropertyKey) (bool, error) {
	if i, ok := key.arrayIndex(); ok {
		return i >= o.view.length, nil
	}
	return o.ordinaryDelete(key), nil
}

func (typedArrayMethods) ownKeys(ctx *Context, o *Object) ([]PropertyKey, error) {
	keys := make([]PropertyKey, 0, o.view.length+1)
	for i := 0; i < o.view.length; i++ {
		keys = append(keys, StringKey(strconv.Itoa(i)))
	}
	keys = append(keys, StringKey("length"))
	keys = append(keys, o.ordinaryOwnKeys()...)
	return keys, nil
}

func (typedArrayMethods) getPrototypeOf(ctx *Context, o *Object) (Value, error) {
	return o.prototype, nil
}

func (typedArrayMethods) setPrototypeOf(ctx *Context, o *Object, proto Value) (bool, error) {
	return o.ordinarySetPrototypeOf(proto), nil
}

func (typedArrayMethods) isExtensible(ctx *Context, o *Object) (bool, error) {
	return o.extensible, nil
}

func (typedArrayMethods) preventExtensions(ctx *Context, o *Object) (bool, error) {
	o.extensible = false
	return true, nil
}
