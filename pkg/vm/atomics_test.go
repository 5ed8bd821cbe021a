package vm

import (
	"math/big"
	"testing"
	"time"
)

func sharedInt32View(t *testing.T, ctx *Context, elems int) *Object {
	t.Helper()
	buf, err := ctx.NewSharedArrayBuffer(elems * 4)
	if err != nil {
		t.Fatal(err)
	}
	view, err := ctx.NewTypedArray(Int32Kind, buf, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	return view
}

func TestAtomicsReadModifyWrite(t *testing.T) {
	ctx := newTestContext(t)
	view := sharedInt32View(t, ctx, 2)

	if _, err := ctx.AtomicsStore(view, 0, IntegerValue(10)); err != nil {
		t.Fatal(err)
	}
	old, err := ctx.AtomicsAdd(view, 0, IntegerValue(5))
	if err != nil {
		t.Fatal(err)
	}
	if old.NumberValueOf() != 10 {
		t.Errorf("add returned %s, want the old value 10", old.Inspect())
	}
	now, err := ctx.AtomicsLoad(view, 0)
	if err != nil {
		t.Fatal(err)
	}
	if now.NumberValueOf() != 15 {
		t.Errorf("after add, value = %s, want 15", now.Inspect())
	}

	if old, _ := ctx.AtomicsSub(view, 0, IntegerValue(20)); old.NumberValueOf() != 15 {
		t.Errorf("sub old = %s, want 15", old.Inspect())
	}
	if now, _ := ctx.AtomicsLoad(view, 0); now.NumberValueOf() != -5 {
		t.Errorf("after sub, value = %s, want -5", now.Inspect())
	}

	ctx.AtomicsStore(view, 1, IntegerValue(0b1100))
	if _, err := ctx.AtomicsAnd(view, 1, IntegerValue(0b1010)); err != nil {
		t.Fatal(err)
	}
	if now, _ := ctx.AtomicsLoad(view, 1); now.NumberValueOf() != 0b1000 {
		t.Errorf("and result = %s, want 8", now.Inspect())
	}
	ctx.AtomicsXor(view, 1, IntegerValue(0b1111))
	if now, _ := ctx.AtomicsLoad(view, 1); now.NumberValueOf() != 0b0111 {
		t.Errorf("xor result = %s, want 7", now.Inspect())
	}
}

func TestAtomicsCompareExchange(t *testing.T) {
	ctx := newTestContext(t)
	view := sharedInt32View(t, ctx, 1)
	ctx.AtomicsStore(view, 0, IntegerValue(1))

	old, err := ctx.AtomicsCompareExchange(view, 0, IntegerValue(1), IntegerValue(2))
	if err != nil {
		t.Fatal(err)
	}
	if old.NumberValueOf() != 1 {
		t.Errorf("cas old = %s, want 1", old.Inspect())
	}
	// Mismatched expectation leaves the value alone.
	old, err = ctx.AtomicsCompareExchange(view, 0, IntegerValue(1), IntegerValue(9))
	if err != nil {
		t.Fatal(err)
	}
	if old.NumberValueOf() != 2 {
		t.Errorf("failed cas old = %s, want 2", old.Inspect())
	}
	if now, _ := ctx.AtomicsLoad(view, 0); now.NumberValueOf() != 2 {
		t.Errorf("value after failed cas = %s, want 2", now.Inspect())
	}
}

func TestAtomicsKindChecks(t *testing.T) {
	ctx := newTestContext(t)

	floats, err := ctx.NewTypedArrayOfLength(Float64Kind, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.AtomicsLoad(floats, 0); err == nil {
		t.Error("atomic op on a float view succeeded")
	}

	view := sharedInt32View(t, ctx, 1)
	if _, err := ctx.AtomicsLoad(view, 5); err == nil {
		t.Error("out-of-range atomic access succeeded")
	}
	if _, err := ctx.AtomicsStore(view, 0, NewBigInt(big.NewInt(1))); err == nil {
		t.Error("bigint operand accepted by an Int32Array")
	}

	big64, err := ctx.NewSharedArrayBuffer(8)
	if err != nil {
		t.Fatal(err)
	}
	bview, err := ctx.NewTypedArray(BigInt64Kind, big64, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.AtomicsAdd(bview, 0, NewBigInt(big.NewInt(3))); err != nil {
		t.Errorf("bigint atomic add failed: %v", err)
	}
	if got, _ := ctx.AtomicsLoad(bview, 0); got.AsBigInt().Int64() != 3 {
		t.Errorf("bigint add result = %s, want 3n", got.Inspect())
	}
}

func TestAtomicsWaitNotEqual(t *testing.T) {
	ctx := newTestContext(t)
	view := sharedInt32View(t, ctx, 1)

	res, err := ctx.AtomicsWait(view, 0, IntegerValue(99), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res != WaitNotEqual {
		t.Errorf("wait on mismatched value = %v, want not-equal", res)
	}
}

func TestAtomicsWaitTimesOut(t *testing.T) {
	ctx := newTestContext(t)
	view := sharedInt32View(t, ctx, 1)

	start := time.Now()
	res, err := ctx.AtomicsWait(view, 0, IntegerValue(0), 20)
	if err != nil {
		t.Fatal(err)
	}
	if res != WaitTimedOut {
		t.Errorf("wait = %v, want timed-out", res)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("wait returned before the timeout elapsed")
	}
}

func TestAtomicsWaitNotifyAcrossGoroutines(t *testing.T) {
	ctx := newTestContext(t)
	view := sharedInt32View(t, ctx, 1)

	done := make(chan WaitResult, 1)
	go func() {
		// The waiter only touches the shared buffer, never the context's
		// JS state.
		res, err := ctx.AtomicsWait(view, 0, IntegerValue(0), 5000)
		if err != nil {
			done <- WaitNotEqual
			return
		}
		done <- res
	}()

	// Give the waiter time to park, then wake it.
	var woke int
	deadline := time.Now().Add(2 * time.Second)
	for woke == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		n, err := ctx.AtomicsNotify(view, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		woke = n
	}
	if woke != 1 {
		t.Fatalf("notify woke %d waiters, want 1", woke)
	}
	select {
	case res := <-done:
		if res != WaitOK {
			t.Errorf("waiter result = %v, want ok", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never returned")
	}
}

func TestAtomicsWaitRequiresSharedBuffer(t *testing.T) {
	ctx := newTestContext(t)
	plain, err := ctx.NewTypedArrayOfLength(Int32Kind, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.AtomicsWait(plain, 0, IntegerValue(0), 0); err == nil {
		t.Error("wait on a plain ArrayBuffer view succeeded")
	}
}

func TestAtomicsIsLockFree(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		if !AtomicsIsLockFree(size) {
			t.Errorf("size %d reported not lock-free", size)
		}
	}
	if AtomicsIsLockFree(3) {
		t.Error("size 3 reported lock-free")
	}
}
