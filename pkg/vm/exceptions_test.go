package vm

import "testing"

func TestThrowCaughtByHandler(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("trycatch")
	c.MaxRegisters = 2
	loadConst(c, 0, NewString("boom")) // 0..3
	c.WriteOpCode(OpThrow, 1)          // 4..5
	c.WriteByte(0)
	// 6: catch handler returns the caught value
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(1)
	c.AddExceptionHandler(ExceptionHandler{
		TryStart:  0,
		TryEnd:    6,
		HandlerPC: 6,
		CatchReg:  1,
		IsCatch:   true,
	})

	result := evalChunk(t, ctx, c)
	if !result.IsString() || result.AsString() != "boom" {
		t.Errorf("caught value = %s, want \"boom\"", result.Inspect())
	}
}

// Environments pushed inside a try must be popped before the catch runs, so
// slot addressing in the handler sees the outer scope again.
func TestCatchPopsTryEnvironments(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("catchenv")
	c.MaxRegisters = 5
	c.WriteOpCode(OpPushEnv, 1) // outer scope, 0..2
	c.WriteUint16(1)
	loadConst(c, 0, IntegerValue(10)) // 3..6
	c.WriteOpCode(OpInitEnv, 1)       // outer slot 0 = 10, 7..11
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(byte(BindingMutable))
	c.WriteByte(0)
	// try body: open an inner scope shadowing slot 0, then throw
	c.WriteOpCode(OpPushEnv, 1) // 12..14
	c.WriteUint16(1)
	loadConst(c, 1, IntegerValue(99)) // 15..18
	c.WriteOpCode(OpInitEnv, 1)       // inner slot 0 = 99, 19..23
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(byte(BindingMutable))
	c.WriteByte(1)
	loadConst(c, 2, NewString("oops")) // 24..27
	c.WriteOpCode(OpThrow, 1)          // 28..29
	c.WriteByte(2)
	// 30: catch handler reads depth 0 slot 0
	c.WriteOpCode(OpLoadEnv, 1)
	c.WriteByte(3)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(3)
	c.AddExceptionHandler(ExceptionHandler{
		TryStart:  12,
		TryEnd:    30,
		HandlerPC: 30,
		CatchReg:  4,
		IsCatch:   true,
		EnvDepth:  1,
	})

	if got := numResult(t, evalChunk(t, ctx, c)); got != 10 {
		t.Errorf("catch saw slot value %v, want the outer 10", got)
	}
}

// A finally body runs on throw and rethrows the parked exception afterwards.
func TestFinallyReplaysThrow(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("finally")
	c.MaxRegisters = 2
	loadConst(c, 0, NewString("boom")) // 0..3
	c.WriteOpCode(OpThrow, 1)          // 4..5
	c.WriteByte(0)
	// 6: finally body: record that it ran, then replay
	loadConst(c, 1, BooleanValue(true)) // 6..9
	c.WriteOpCode(OpSetGlobal, 1)       // 10..13
	c.WriteUint16(c.AddConstant(NewString("cleanedUp")))
	c.WriteByte(1)
	c.WriteOpCode(OpHandlePending, 1) // 14
	c.WriteOpCode(OpReturnUndefined, 1)
	c.AddExceptionHandler(ExceptionHandler{
		TryStart:  0,
		TryEnd:    6,
		HandlerPC: 6,
		CatchReg:  -1,
		IsFinally: true,
	})

	evalExpectThrow(t, ctx, c, "boom")

	v, ok := ctx.Realm.GlobalObject.GetOwn("cleanedUp")
	if !ok || !v.AsBoolean() {
		t.Error("finally body did not run before the rethrow")
	}
}

func TestTDZReadThrowsReferenceError(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("tdz")
	c.MaxRegisters = 1
	c.WriteOpCode(OpPushEnv, 1)
	c.WriteUint16(1)
	c.WriteOpCode(OpLoadEnv, 1) // read before OpInitEnv
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)

	evalExpectThrow(t, ctx, c, "before initialization")
}

func TestConstAssignmentThrowsTypeError(t *testing.T) {
	ctx := newTestContext(t)

	c := NewChunk("constassign")
	c.MaxRegisters = 2
	c.WriteOpCode(OpPushEnv, 1)
	c.WriteUint16(1)
	loadConst(c, 0, IntegerValue(1))
	c.WriteOpCode(OpInitEnv, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(byte(BindingImmutable))
	c.WriteByte(0)
	loadConst(c, 1, IntegerValue(2))
	c.WriteOpCode(OpStoreEnv, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteOpCode(OpReturnUndefined, 1)

	evalExpectThrow(t, ctx, c, "Assignment to constant")
}

func TestThrowFromNativeIsCatchable(t *testing.T) {
	ctx := newTestContext(t)
	ctx.RegisterGlobalFunc("explode", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return Undefined, ctx.NewRangeError("too far")
	})

	c := NewChunk("nativethrow")
	c.MaxRegisters = 3
	c.WriteOpCode(OpGetGlobal, 1) // 0..3
	c.WriteByte(1)
	c.WriteUint16(c.AddConstant(NewString("explode")))
	c.WriteOpCode(OpCall, 1) // 4..7
	c.WriteByte(0)
	c.WriteByte(1)
	c.WriteByte(0)
	// 8: catch returns the error's message
	c.WriteOpCode(OpGetProp, 1) // 8..11
	c.WriteByte(0)
	c.WriteByte(2)
	c.WriteUint16(c.AddConstant(NewString("message")))
	c.WriteOpCode(OpReturn, 1)
	c.WriteByte(0)
	c.AddExceptionHandler(ExceptionHandler{
		TryStart:  0,
		TryEnd:    8,
		HandlerPC: 8,
		CatchReg:  2,
		IsCatch:   true,
	})

	result := evalChunk(t, ctx, c)
	if result.AsString() != "too far" {
		t.Errorf("caught message = %s, want \"too far\"", result.Inspect())
	}
}
