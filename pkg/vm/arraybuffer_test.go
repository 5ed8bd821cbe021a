package vm

import (
	"math"
	"math/big"
	"testing"
)

func TestTypedArrayReadWrite(t *testing.T) {
	ctx := newTestContext(t)

	view, err := ctx.NewTypedArrayOfLength(Int16Kind, 4)
	if err != nil {
		t.Fatal(err)
	}
	vv := ObjectValue(view)

	if _, err := view.Set(ctx, StringKey("0"), IntegerValue(-2), vv); err != nil {
		t.Fatal(err)
	}
	if _, err := view.Set(ctx, StringKey("1"), NumberValue(70000), vv); err != nil {
		t.Fatal(err)
	}
	got, err := view.Get(ctx, StringKey("0"), vv)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumberValueOf() != -2 {
		t.Errorf("view[0] = %s, want -2", got.Inspect())
	}
	// 70000 wraps to its low 16 bits, interpreted signed.
	got, err = view.Get(ctx, StringKey("1"), vv)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumberValueOf() != 4464 {
		t.Errorf("view[1] = %s, want 4464", got.Inspect())
	}

	// Out-of-bounds reads are undefined, writes are dropped.
	got, err = view.Get(ctx, StringKey("9"), vv)
	if err != nil || !got.IsUndefined() {
		t.Errorf("view[9] = %s, %v; want undefined", got.Inspect(), err)
	}
	if _, err := view.Set(ctx, StringKey("9"), IntegerValue(1), vv); err != nil {
		t.Errorf("out-of-bounds write errored: %v", err)
	}

	length, err := view.Get(ctx, StringKey("length"), vv)
	if err != nil || length.NumberValueOf() != 4 {
		t.Errorf("length = %s, %v; want 4", length.Inspect(), err)
	}
}

func TestUint8ClampedRounding(t *testing.T) {
	ctx := newTestContext(t)
	view, err := ctx.NewTypedArrayOfLength(Uint8ClampedKind, 1)
	if err != nil {
		t.Fatal(err)
	}
	vv := ObjectValue(view)

	cases := []struct {
		in   Value
		want float64
	}{
		{NumberValue(-5), 0},
		{NumberValue(300), 255},
		{NumberValue(2.5), 2}, // half rounds to even
		{NumberValue(3.5), 4},
		{NumberValue(math.NaN()), 0},
	}
	for _, tc := range cases {
		if _, err := view.Set(ctx, StringKey("0"), tc.in, vv); err != nil {
			t.Fatal(err)
		}
		got, err := view.Get(ctx, StringKey("0"), vv)
		if err != nil {
			t.Fatal(err)
		}
		if got.NumberValueOf() != tc.want {
			t.Errorf("clamped store of %s read back %s, want %v", tc.in.Inspect(), got.Inspect(), tc.want)
		}
	}
}

func TestFloatAndBigIntKinds(t *testing.T) {
	ctx := newTestContext(t)

	f64, err := ctx.NewTypedArrayOfLength(Float64Kind, 1)
	if err != nil {
		t.Fatal(err)
	}
	fv := ObjectValue(f64)
	if _, err := f64.Set(ctx, StringKey("0"), NumberValue(1.5), fv); err != nil {
		t.Fatal(err)
	}
	if got, _ := f64.Get(ctx, StringKey("0"), fv); got.NumberValueOf() != 1.5 {
		t.Errorf("f64[0] = %s, want 1.5", got.Inspect())
	}

	b64, err := ctx.NewTypedArrayOfLength(BigInt64Kind, 1)
	if err != nil {
		t.Fatal(err)
	}
	bv := ObjectValue(b64)
	if _, err := b64.Set(ctx, StringKey("0"), NewBigInt(big.NewInt(-7)), bv); err != nil {
		t.Fatal(err)
	}
	got, _ := b64.Get(ctx, StringKey("0"), bv)
	if !got.IsBigInt() || got.AsBigInt().Int64() != -7 {
		t.Errorf("b64[0] = %s, want -7n", got.Inspect())
	}
	// Number writes to BigInt kinds throw.
	if _, err := b64.Set(ctx, StringKey("0"), IntegerValue(1), bv); err == nil {
		t.Error("number write to BigInt64Array succeeded")
	}
}

func TestViewsShareBuffer(t *testing.T) {
	ctx := newTestContext(t)

	buf, err := ctx.NewArrayBuffer(8)
	if err != nil {
		t.Fatal(err)
	}
	bytesView, err := ctx.NewTypedArray(Uint8Kind, buf, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	words, err := ctx.NewTypedArray(Uint32Kind, buf, 4, 1)
	if err != nil {
		t.Fatal(err)
	}

	wv := ObjectValue(words)
	if _, err := words.Set(ctx, StringKey("0"), NumberValue(0x01020304), wv); err != nil {
		t.Fatal(err)
	}
	bv := ObjectValue(bytesView)
	lo, _ := bytesView.Get(ctx, StringKey("4"), bv)
	hi, _ := bytesView.Get(ctx, StringKey("7"), bv)
	if lo.NumberValueOf() != 0x04 || hi.NumberValueOf() != 0x01 {
		t.Errorf("little-endian bytes = %v, %v; want 4, 1", lo.Inspect(), hi.Inspect())
	}
}

func TestTypedArrayConstructionErrors(t *testing.T) {
	ctx := newTestContext(t)
	buf, err := ctx.NewArrayBuffer(10)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ctx.NewTypedArray(Int32Kind, buf, 2, -1); err == nil {
		t.Error("misaligned offset accepted")
	}
	if _, err := ctx.NewTypedArray(Int32Kind, buf, 0, 4); err == nil {
		t.Error("overlong view accepted")
	}
	if _, err := ctx.NewTypedArray(Int32Kind, buf, 16, -1); err == nil {
		t.Error("offset past the end accepted")
	}
}

func TestDetachSemantics(t *testing.T) {
	ctx := newTestContext(t)

	buf, err := ctx.NewArrayBuffer(4)
	if err != nil {
		t.Fatal(err)
	}
	view, err := ctx.NewTypedArray(Uint8Kind, buf, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.DetachArrayBuffer(buf); err != nil {
		t.Fatal(err)
	}
	if !buf.IsDetached() || buf.ByteLength() != 0 {
		t.Error("detach left the buffer intact")
	}
	vv := ObjectValue(view)
	if got, err := view.Get(ctx, StringKey("0"), vv); err != nil || !got.IsUndefined() {
		t.Errorf("read from detached view = %s, %v; want undefined", got.Inspect(), err)
	}

	shared, err := ctx.NewSharedArrayBuffer(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.DetachArrayBuffer(shared); err == nil {
		t.Error("detached a SharedArrayBuffer")
	}
}

func TestBufferLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBufferBytes = 1024
	ctx := NewContextWithLimits(limits)
	defer ctx.Close()

	if _, err := ctx.NewArrayBuffer(1024); err != nil {
		t.Errorf("allocation at the limit failed: %v", err)
	}
	if _, err := ctx.NewArrayBuffer(1025); err == nil {
		t.Error("allocation above the limit succeeded")
	}
}
