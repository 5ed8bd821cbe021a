package vm

import (
	"strings"
	"testing"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext()
	t.Cleanup(ctx.Close)
	return ctx
}

func evalChunk(t *testing.T, ctx *Context, chunk *Chunk) Value {
	t.Helper()
	result, err := ctx.Eval(chunk)
	if err != nil {
		t.Fatalf("Eval(%s) failed: %v", chunk.Name, err)
	}
	return result
}

func evalExpectThrow(t *testing.T, ctx *Context, chunk *Chunk, messagePart string) {
	t.Helper()
	_, err := ctx.Eval(chunk)
	if err == nil {
		t.Fatalf("Eval(%s) succeeded, want a throw containing %q", chunk.Name, messagePart)
	}
	thrown, ok := UnwrapThrown(err)
	if !ok {
		t.Fatalf("Eval(%s) returned a host error: %v", chunk.Name, err)
	}
	msg := thrownMessage(ctx, thrown)
	if !strings.Contains(msg, messagePart) {
		t.Fatalf("thrown %q, want substring %q", msg, messagePart)
	}
}

func thrownMessage(ctx *Context, thrown Value) string {
	if o := thrown.ObjectOrNil(); o != nil {
		if msg, ok := o.GetOwn("message"); ok {
			return msg.AsString()
		}
	}
	return thrown.Inspect()
}

// loadConst emits OpLoadConst reg, #v.
func loadConst(c *Chunk, reg byte, v Value) {
	c.WriteOpCode(OpLoadConst, 1)
	c.WriteByte(reg)
	c.WriteUint16(c.AddConstant(v))
}

func numResult(t *testing.T, v Value) float64 {
	t.Helper()
	if !v.IsNumber() {
		t.Fatalf("result is %s, want a number", v.TypeName())
	}
	return v.NumberValueOf()
}

func TestDispatchArithmetic(t *testing.T) {
	ctx := newTestContext(t)

	// (2 + 3) * 4 - 10 / 4
	c := NewChunk("arith")
	c.MaxRegisters = 4
	loadConst(c, 0, IntegerValue(2))
	loadConst(c, 1, IntegerValue(3))
	c.WriteOpCode(OpAdd, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	loadConst(c, 1, IntegerValue(4))
	c.WriteOpCode(OpMultiply, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	loadConst(c, 2, IntegerValue(10))
	loadConst(c, 3, IntegerValue(4))
	c.WriteOpCode(OpDivide, 1)
	c.WriteByte(2)
	c.WriteByte(2)
	c.WriteByte(3)
	c.WriteOpCode(OpSubtract, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(2)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 17.5 {
		t.Errorf("result = %v, want 17.5", got)
	}
}

func TestDispatchStringConcat(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("concat")
	c.MaxRegisters = 2
	loadConst(c, 0, NewString("foo"))
	loadConst(c, 1, IntegerValue(42))
	c.WriteOpCode(OpAdd, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	result := evalChunk(t, ctx, c)
	if !result.IsString() || result.AsString() != "foo42" {
		t.Errorf("result = %s, want string foo42", result.Inspect())
	}
}

// A sum loop: for (i = 0; i < 5; ) { i++; sum += i }. The backward jump
// exercises the tick accounting on loop back-edges.
func sumLoopChunk() *Chunk {
	c := NewChunk("sumloop")
	c.MaxRegisters = 5
	loadConst(c, 0, IntegerValue(0)) // i, ends at 4
	loadConst(c, 1, IntegerValue(5)) // limit, ends at 8
	loadConst(c, 2, IntegerValue(0)) // sum, ends at 12
	loadConst(c, 4, IntegerValue(1)) // one, ends at 16
	// 16: loop head
	c.WriteOpCode(OpLess, 1) // r3 = i < limit
	c.WriteByte(3)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteOpCode(OpJumpIfFalse, 1) // exit when done, 20..23
	c.WriteByte(3)
	c.WriteInt16(11) // 24 + 11 = 35 (OpReturn)
	c.WriteOpCode(OpAdd, 1) // i++
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(4)
	c.WriteOpCode(OpAdd, 1) // sum += i
	c.WriteByte(2)
	c.WriteByte(2)
	c.WriteByte(0)
	c.WriteOpCode(OpJump, 1)
	c.WriteInt16(-19) // 35 - 19 = 16, the loop head
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(2)
	return c
}

func TestDispatchLoop(t *testing.T) {
	ctx := newTestContext(t)
	if got := numResult(t, evalChunk(t, ctx, sumLoopChunk())); got != 15 {
		t.Errorf("sum = %v, want 15", got)
	}
}

func TestTickBudget(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTicks = 3
	ctx := NewContextWithLimits(limits)
	defer ctx.Close()

	_, err := ctx.Eval(sumLoopChunk())
	if err == nil {
		t.Fatal("loop ran to completion under a 3-tick budget")
	}
	thrown, ok := UnwrapThrown(err)
	if !ok {
		t.Fatalf("budget overrun is a host error: %v", err)
	}
	if msg := thrownMessage(ctx, thrown); !strings.Contains(msg, "execution budget") {
		t.Errorf("thrown %q, want an execution budget error", msg)
	}

	// The counter resets per Eval, so a cheap chunk still runs.
	c := NewChunk("cheap")
	c.MaxRegisters = 1
	loadConst(c, 0, IntegerValue(7))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)
	if got := numResult(t, evalChunk(t, ctx, c)); got != 7 {
		t.Errorf("after budget throw, result = %v, want 7", got)
	}
}

func TestGlobalsRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("globals")
	c.MaxRegisters = 2
	loadConst(c, 0, IntegerValue(42))
	c.WriteOpCode(OpSetGlobal, 1)
	c.WriteUint16(c.AddConstant(NewString("answer")))
	c.WriteByte(0)
	c.WriteOpCode(OpGetGlobal, 1)
	c.WriteByte(1)
	c.WriteUint16(c.AddConstant(NewString("answer")))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(1)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 42 {
		t.Errorf("global round trip = %v, want 42", got)
	}

	// The global sticks on the global object.
	v, ok := ctx.Realm.GlobalObject.GetOwn("answer")
	if !ok || v.NumberValueOf() != 42 {
		t.Errorf("global object answer = %v, %v", v.Inspect(), ok)
	}
}

func TestUnresolvedGlobalThrows(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("missing")
	c.MaxRegisters = 1
	c.WriteOpCode(OpGetGlobal, 1)
	c.WriteByte(0)
	c.WriteUint16(c.AddConstant(NewString("nothing")))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	evalExpectThrow(t, ctx, c, "nothing is not defined")
}

func TestTypeofUnresolvedIsUndefined(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("typeof")
	c.MaxRegisters = 1
	c.WriteOpCode(OpTypeofIdentifier, 1)
	c.WriteByte(0)
	c.WriteUint16(c.AddConstant(NewString("nothing")))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	result := evalChunk(t, ctx, c)
	if result.AsString() != "undefined" {
		t.Errorf("typeof missing = %q, want undefined", result.AsString())
	}
}

func TestNativeCallFromBytecode(t *testing.T) {
	ctx := newTestContext(t)
	ctx.RegisterGlobalFunc("double", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		n, err := ctx.ToNumber(argOr(args, 0))
		if err != nil {
			return Undefined, err
		}
		return NumberValue(n * 2), nil
	})

	c := NewChunk("nativecall")
	c.MaxRegisters = 3
	c.WriteOpCode(OpGetGlobal, 1)
	c.WriteByte(1)
	c.WriteUint16(c.AddConstant(NewString("double")))
	loadConst(c, 2, IntegerValue(21)) // args start at funcReg+1
	c.WriteOpCode(OpCall, 1)
	c.WriteByte(0) // result
	c.WriteByte(1) // func
	c.WriteByte(1) // argc
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 42 {
		t.Errorf("double(21) = %v, want 42", got)
	}
}

func TestBytecodeFunctionCall(t *testing.T) {
	ctx := newTestContext(t)

	callee := NewChunk("addOne")
	callee.MaxRegisters = 2
	loadConst(callee, 1, IntegerValue(1))
	callee.WriteOpCode(OpAdd, 1)
	callee.WriteByte(0)
	callee.WriteByte(0)
	callee.WriteByte(1)
	callee.WriteOpCode(OpReturn, 1)
	callee.WriteByte(0)

	c := NewChunk("caller")
	c.MaxRegisters = 4
	c.WriteOpCode(OpClosure, 1)
	c.WriteByte(1)
	c.WriteUint16(c.AddFunction(&FunctionProto{
		Name:         "addOne",
		Arity:        1,
		RegisterSize: 2,
		Chunk:        callee,
	}))
	loadConst(c, 2, IntegerValue(41))
	c.WriteOpCode(OpCall, 1)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteByte(1)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 42 {
		t.Errorf("addOne(41) = %v, want 42", got)
	}
}

func TestFrameLimitIsFatal(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxFrames = 16
	ctx := NewContextWithLimits(limits)
	defer ctx.Close()

	// A function that calls itself through a global binding forever.
	body := NewChunk("loopback")
	body.MaxRegisters = 2
	body.WriteOpCode(OpGetGlobal, 1)
	body.WriteByte(0)
	body.WriteUint16(body.AddConstant(NewString("recur")))
	body.WriteOpCode(OpCall, 1)
	body.WriteByte(1)
	body.WriteByte(0)
	body.WriteByte(0)
	body.WriteOpCode(OpReturn, 1)
	body.WriteByte(1)

	fn := ctx.NewFunction(&FunctionProto{Name: "recur", RegisterSize: 2, Chunk: body}, nil)
	ctx.RegisterGlobal("recur", ObjectValue(fn))

	_, err := ctx.Call(ObjectValue(fn), Undefined, nil)
	if err == nil {
		t.Fatal("unbounded recursion did not fail")
	}
	if _, ok := UnwrapThrown(err); ok {
		t.Fatalf("stack exhaustion was catchable: %v", err)
	}
	if !strings.Contains(err.Error(), "maximum call stack size") {
		t.Errorf("error = %v, want a stack size message", err)
	}
	if ctx.vm.frameCount != 0 {
		t.Fatalf("%d frames still on the stack after the fatal error", ctx.vm.frameCount)
	}

	// The context stays usable afterwards.
	c := NewChunk("after")
	c.MaxRegisters = 1
	loadConst(c, 0, IntegerValue(1))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)
	if got := numResult(t, evalChunk(t, ctx, c)); got != 1 {
		t.Errorf("post-overflow eval = %v, want 1", got)
	}
}

func TestImplicitReturnIsUndefined(t *testing.T) {
	ctx := newTestContext(t)

	// No OpReturn; execution falls off the end of the chunk.
	c := NewChunk("fallsoff")
	c.MaxRegisters = 1
	loadConst(c, 0, IntegerValue(9))

	result := evalChunk(t, ctx, c)
	if !result.IsUndefined() {
		t.Errorf("result = %s, want undefined", result.Inspect())
	}
}

func TestRegisterWindowSurvivesNativeReentry(t *testing.T) {
	ctx := newTestContext(t)

	// A wide callee pushed from inside a native call. The caller's cached
	// register window must still be the live one when the native returns.
	wide := NewChunk("wide")
	wide.MaxRegisters = 2000
	loadConst(wide, 0, IntegerValue(42))
	wide.WriteOpCode(OpReturn, 1)
	wide.WriteByte(0)

	fn := ctx.NewFunction(&FunctionProto{Name: "wide", RegisterSize: 2000, Chunk: wide}, nil)
	wideFn := ObjectValue(fn)
	ctx.Retain(wideFn)
	defer ctx.ReleaseValue(wideFn)
	ctx.RegisterGlobalFunc("grow", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.Call(wideFn, Undefined, nil)
	})

	c := NewChunk("reentry")
	c.MaxRegisters = 3
	c.WriteOpCode(OpGetGlobal, 1)
	c.WriteByte(1)
	c.WriteUint16(c.AddConstant(NewString("grow")))
	loadConst(c, 2, IntegerValue(7))
	c.WriteOpCode(OpCall, 1)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteByte(0)
	c.WriteOpCode(OpAdd, 1) // r0 = call result + the sentinel loaded before it
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(2)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 49 {
		t.Errorf("grow() + 7 = %v, want 49", got)
	}
}

func TestAllocationTriggerReclaimsLoopGarbage(t *testing.T) {
	limits := DefaultLimits()
	limits.CollectTrigger = 128
	ctx := NewContextWithLimits(limits)
	defer ctx.Close()
	baseline := ctx.Heap.Len()

	// for (i = 0; i < 4096; i++) ({}); each object becomes garbage as soon
	// as the loop overwrites its register.
	c := NewChunk("allocloop")
	c.MaxRegisters = 4
	loadConst(c, 0, IntegerValue(0))    // i, ends at 4
	loadConst(c, 1, IntegerValue(4096)) // limit, ends at 8
	loadConst(c, 3, IntegerValue(1))    // one, ends at 12
	// 12: loop head
	c.WriteOpCode(OpMakeEmptyObject, 1)
	c.WriteByte(2)
	c.WriteOpCode(OpAdd, 1) // i++
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(3)
	c.WriteOpCode(OpLess, 1) // reuses r2, dropping the object
	c.WriteByte(2)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteOpCode(OpJumpIfTrue, 1) // 22..25
	c.WriteByte(2)
	c.WriteInt16(-14) // 26 - 14 = 12, the loop head
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	if got := numResult(t, evalChunk(t, ctx, c)); got != 4096 {
		t.Fatalf("loop count = %v, want 4096", got)
	}
	// Automatic collections during the loop must keep the live set bounded;
	// without them all 4096 objects would still be pinned here.
	if grew := ctx.Heap.Len() - baseline; grew >= 1024 {
		t.Errorf("%d cells survived the loop, want collection to have run", grew)
	}
}

func TestNullishBackwardJumpChargesTicks(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTicks = 3
	ctx := NewContextWithLimits(limits)
	defer ctx.Close()

	// A nullish-guarded loop that never exits; only the tick budget stops it.
	c := NewChunk("nullishloop")
	c.MaxRegisters = 1
	loadConst(c, 0, Undefined)
	c.WriteOpCode(OpJumpIfNullish, 1) // 4..7
	c.WriteByte(0)
	c.WriteInt16(-4) // 8 - 4 = 4, the jump itself
	c.WriteOpCode(OpReturnUndefined, 1)

	evalExpectThrow(t, ctx, c, "execution budget")
}
