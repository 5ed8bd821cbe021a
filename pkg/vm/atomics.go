package vm

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"
)

// Atomic read-modify-write operations over integer typed array views. All
// operations on a shared buffer take the buffer lock, which gives them
// sequentially consistent ordering across goroutines. Plain ArrayBuffers are
// accepted too (single-threaded, the lock is uncontended), except for wait.

// WaitResult is the outcome of AtomicsWait.
type WaitResult string

const (
	WaitOK       WaitResult = "ok"
	WaitNotEqual WaitResult = "not-equal"
	WaitTimedOut WaitResult = "timed-out"
)

// checkAtomicAccess validates the view and index for an atomic operation.
func (ctx *Context) checkAtomicAccess(view *Object, index int) (*TypedArrayData, error) {
	t := view.view
	if t == nil {
		return nil, ctx.NewTypeError("argument must be a typed array")
	}
	switch t.kind {
	case Uint8ClampedKind, Float32Kind, Float64Kind:
		return nil, ctx.NewTypeError("argument must be an integer typed array")
	}
	if t.buffer.IsDetached() {
		return nil, ctx.NewTypeError("Cannot perform atomic operation on a detached buffer")
	}
	if index < 0 || index >= t.length {
		return nil, ctx.NewRangeError("index out of range for atomic access")
	}
	return t, nil
}

// atomicOperand converts v to the raw bit pattern for t's element kind.
func (ctx *Context) atomicOperand(t *TypedArrayData, v Value) (uint64, error) {
	if t.kind.isBigInt() {
		if v.typ != TypeBigInt {
			return 0, ctx.NewTypeError("Cannot convert " + v.TypeName() + " to a BigInt")
		}
		return bigIntTo64(v.AsBigInt()), nil
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return numberToBits(t.kind, f), nil
}

// loadBits reads the raw element bits. Caller holds the buffer lock when the
// buffer is shared.
func (t *TypedArrayData) loadBits(i int) uint64 {
	b := t.elemBytes(i)
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func (t *TypedArrayData) storeBits(i int, bits uint64) {
	b := t.elemBytes(i)
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
}

// bitsToValue decodes raw bits back to a Value of t's kind.
func (t *TypedArrayData) bitsToValue(bits uint64) Value {
	switch t.kind {
	case Int8Kind:
		return intOrFloat(int64(int8(bits)))
	case Uint8Kind:
		return intOrFloat(int64(uint8(bits)))
	case Int16Kind:
		return intOrFloat(int64(int16(bits)))
	case Uint16Kind:
		return intOrFloat(int64(uint16(bits)))
	case Int32Kind:
		return intOrFloat(int64(int32(bits)))
	case Uint32Kind:
		return intOrFloat(int64(uint32(bits)))
	case BigInt64Kind:
		return NewBigInt(big.NewInt(int64(bits)))
	default: // BigUint64Kind
		return NewBigInt(new(big.Int).SetUint64(bits))
	}
}

// atomicRMW applies fn to the current element bits and stores the result,
// returning the old value.
func (ctx *Context) atomicRMW(view *Object, index int, operand Value, fn func(old, op uint64) uint64) (Value, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return Undefined, err
	}
	op, err := ctx.atomicOperand(t, operand)
	if err != nil {
		return Undefined, err
	}
	buf := t.buffer.buffer
	buf.mu.Lock()
	old := t.loadBits(index)
	t.storeBits(index, fn(old, op))
	buf.mu.Unlock()
	return t.bitsToValue(old), nil
}

// AtomicsLoad reads element index with sequentially consistent ordering.
func (ctx *Context) AtomicsLoad(view *Object, index int) (Value, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return Undefined, err
	}
	buf := t.buffer.buffer
	buf.mu.Lock()
	bits := t.loadBits(index)
	buf.mu.Unlock()
	return t.bitsToValue(bits), nil
}

// AtomicsStore writes value to element index and returns the converted value.
func (ctx *Context) AtomicsStore(view *Object, index int, value Value) (Value, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return Undefined, err
	}
	bits, err := ctx.atomicOperand(t, value)
	if err != nil {
		return Undefined, err
	}
	buf := t.buffer.buffer
	buf.mu.Lock()
	t.storeBits(index, bits)
	buf.mu.Unlock()
	return t.bitsToValue(bits), nil
}

func (ctx *Context) AtomicsAdd(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return old + op })
}

func (ctx *Context) AtomicsSub(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return old - op })
}

func (ctx *Context) AtomicsAnd(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return old & op })
}

func (ctx *Context) AtomicsOr(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return old | op })
}

func (ctx *Context) AtomicsXor(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return old ^ op })
}

func (ctx *Context) AtomicsExchange(view *Object, index int, value Value) (Value, error) {
	return ctx.atomicRMW(view, index, value, func(old, op uint64) uint64 { return op })
}

// AtomicsCompareExchange stores replacement only when the element equals
// expected, returning the old value either way.
func (ctx *Context) AtomicsCompareExchange(view *Object, index int, expected, replacement Value) (Value, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return Undefined, err
	}
	exp, err := ctx.atomicOperand(t, expected)
	if err != nil {
		return Undefined, err
	}
	rep, err := ctx.atomicOperand(t, replacement)
	if err != nil {
		return Undefined, err
	}
	buf := t.buffer.buffer
	buf.mu.Lock()
	old := t.loadBits(index)
	if old == exp {
		t.storeBits(index, rep)
	}
	buf.mu.Unlock()
	return t.bitsToValue(old), nil
}

// AtomicsWait blocks until another goroutine notifies the element's address
// or the timeout elapses. The view must be an Int32Array or BigInt64Array
// over a SharedArrayBuffer. timeout is in milliseconds; negative or infinite
// values wait forever.
func (ctx *Context) AtomicsWait(view *Object, index int, expected Value, timeoutMillis float64) (WaitResult, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return WaitNotEqual, err
	}
	if t.kind != Int32Kind && t.kind != BigInt64Kind {
		return WaitNotEqual, ctx.NewTypeError("Atomics.wait requires an Int32Array or BigInt64Array")
	}
	if !t.buffer.IsSharedBuffer() {
		return WaitNotEqual, ctx.NewTypeError("Atomics.wait requires a SharedArrayBuffer view")
	}
	exp, err := ctx.atomicOperand(t, expected)
	if err != nil {
		return WaitNotEqual, err
	}

	buf := t.buffer.buffer
	addr := t.byteOffset + index*t.kind.Size()

	buf.mu.Lock()
	if t.loadBits(index) != exp {
		buf.mu.Unlock()
		return WaitNotEqual, nil
	}
	wake := make(chan struct{})
	buf.waiters[addr] = append(buf.waiters[addr], wake)
	buf.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeoutMillis >= 0 && !math.IsInf(timeoutMillis, 1) {
		timer := time.NewTimer(time.Duration(timeoutMillis * float64(time.Millisecond)))
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-wake:
		return WaitOK, nil
	case <-timeoutCh:
		buf.mu.Lock()
		removeWaiter(buf, addr, wake)
		buf.mu.Unlock()
		// A notify may have raced the timer.
		select {
		case <-wake:
			return WaitOK, nil
		default:
			return WaitTimedOut, nil
		}
	}
}

// AtomicsNotify wakes up to count waiters parked on the element's address and
// returns how many it woke. count < 0 wakes all.
func (ctx *Context) AtomicsNotify(view *Object, index int, count int) (int, error) {
	t, err := ctx.checkAtomicAccess(view, index)
	if err != nil {
		return 0, err
	}
	if !t.buffer.IsSharedBuffer() {
		return 0, nil
	}
	buf := t.buffer.buffer
	addr := t.byteOffset + index*t.kind.Size()

	buf.mu.Lock()
	queue := buf.waiters[addr]
	n := len(queue)
	if count >= 0 && count < n {
		n = count
	}
	for i := 0; i < n; i++ {
		close(queue[i])
	}
	rest := queue[n:]
	if len(rest) == 0 {
		delete(buf.waiters, addr)
	} else {
		buf.waiters[addr] = append([]chan struct{}(nil), rest...)
	}
	buf.mu.Unlock()
	return n, nil
}

// AtomicsIsLockFree mirrors the usual hardware answer for common sizes.
func AtomicsIsLockFree(size int) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}

func removeWaiter(buf *ArrayBufferData, addr int, wake chan struct{}) {
	queue := buf.waiters[addr]
	for i, ch := range queue {
		if ch == wake {
			buf.waiters[addr] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}
