package vm

import "testing"

func TestPromiseThenRunsOnJobQueue(t *testing.T) {
	ctx := newTestContext(t)

	p := ctx.NewPromise()
	var got Value = Empty
	handler := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		got = argOr(args, 0)
		return Undefined, nil
	})
	ctx.PromiseThen(p, ObjectValue(handler), Empty)

	ctx.ResolvePromise(p, IntegerValue(42))
	if !got.IsEmpty() {
		t.Error("reaction ran synchronously at resolve time")
	}
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	if got.NumberValueOf() != 42 {
		t.Errorf("handler received %s, want 42", got.Inspect())
	}

	state, result := p.PromiseState()
	if state != PromiseFulfilled || result.NumberValueOf() != 42 {
		t.Errorf("promise settled as %v/%s", state, result.Inspect())
	}
}

func TestPromiseChainTransformsValue(t *testing.T) {
	ctx := newTestContext(t)

	p := ctx.NewPromise()
	double := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		return NumberValue(argOr(args, 0).NumberValueOf() * 2), nil
	})
	next := ctx.PromiseThen(p, ObjectValue(double), Empty)

	ctx.ResolvePromise(p, IntegerValue(21))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	state, result := next.PromiseState()
	if state != PromiseFulfilled || result.NumberValueOf() != 42 {
		t.Errorf("derived promise = %v/%s, want fulfilled 42", state, result.Inspect())
	}
}

func TestPromiseRejectionPropagatesThroughChain(t *testing.T) {
	ctx := newTestContext(t)

	p := ctx.NewPromise()
	// then without a rejection handler passes the rejection through.
	mid := ctx.PromiseThen(p, Empty, Empty)
	var caught Value = Empty
	onErr := ctx.NewNativeFunction("", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		caught = argOr(args, 0)
		return Undefined, nil
	})
	ctx.PromiseThen(mid, Empty, ObjectValue(onErr))

	ctx.RejectPromise(p, NewString("nope"))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	if !caught.IsString() || caught.AsString() != "nope" {
		t.Errorf("rejection handler got %s, want \"nope\"", caught.Inspect())
	}
}

func TestUnhandledRejectionHook(t *testing.T) {
	ctx := newTestContext(t)

	var reported []Value
	ctx.OnUnhandledRejection = func(reason Value) {
		reported = append(reported, reason)
	}

	p := ctx.NewPromise()
	ctx.RejectPromise(p, NewString("lost"))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	if len(reported) != 1 || reported[0].AsString() != "lost" {
		t.Fatalf("hook reported %v, want one \"lost\"", reported)
	}

	// A promise with a rejection handler does not report.
	reported = nil
	q := ctx.NewPromise()
	ctx.PromiseThen(q, Empty, ObjectValue(ctx.NewNativeFunction("", 1,
		func(ctx *Context, this Value, args []Value) (Value, error) { return Undefined, nil })))
	ctx.RejectPromise(q, NewString("handled"))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	if len(reported) != 0 {
		t.Errorf("handled rejection still reported: %v", reported)
	}
}

func TestPromiseResolveAdoptsThenable(t *testing.T) {
	ctx := newTestContext(t)

	inner := ctx.NewPromise()
	thenable := ctx.NewObject()
	thenable.SetOwn("then", ObjectValue(ctx.NewNativeFunction("then", 2,
		func(ctx *Context, this Value, args []Value) (Value, error) {
			// Immediately resolve through the provided callback.
			return ctx.Call(argOr(args, 0), Undefined, []Value{IntegerValue(5)})
		})))

	ctx.ResolvePromise(inner, ObjectValue(thenable))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	state, result := inner.PromiseState()
	if state != PromiseFulfilled || result.NumberValueOf() != 5 {
		t.Errorf("thenable adoption = %v/%s, want fulfilled 5", state, result.Inspect())
	}
}

// An async function body suspends at await and settles its promise when the
// awaited value resolves.
func TestAsyncFunctionAwait(t *testing.T) {
	ctx := newTestContext(t)

	body := NewChunk("asyncAdd")
	body.MaxRegisters = 3
	body.WriteOpCode(OpAwait, 1) // r1 = await r0, 0..2
	body.WriteByte(1)
	body.WriteByte(0)
	loadConst(body, 2, IntegerValue(1)) // 3..6
	body.WriteOpCode(OpAdd, 1)          // 7..10
	body.WriteByte(1)
	body.WriteByte(1)
	body.WriteByte(2)
	body.WriteOpCode(OpReturn, 1)
	body.WriteByte(1)

	fn := ctx.NewFunction(&FunctionProto{
		Name:         "asyncAdd",
		Arity:        1,
		Kind:         AsyncFunction,
		RegisterSize: 3,
		Chunk:        body,
	}, nil)

	arg := ctx.NewPromise()
	resultVal, err := ctx.Call(ObjectValue(fn), Undefined, []Value{ObjectValue(arg)})
	if err != nil {
		t.Fatal(err)
	}
	result := resultVal.AsObject()
	if state, _ := result.PromiseState(); state != PromisePending {
		t.Fatal("async result settled before the awaited promise")
	}

	ctx.ResolvePromise(arg, IntegerValue(41))
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	state, settled := result.PromiseState()
	if state != PromiseFulfilled || settled.NumberValueOf() != 42 {
		t.Errorf("async result = %v/%s, want fulfilled 42", state, settled.Inspect())
	}
}

func TestAsyncFunctionRejectsOnThrow(t *testing.T) {
	ctx := newTestContext(t)

	body := NewChunk("asyncBoom")
	body.MaxRegisters = 2
	body.WriteOpCode(OpAwait, 1) // 0..2
	body.WriteByte(1)
	body.WriteByte(0)
	loadConst(body, 1, NewString("late boom")) // 3..6
	body.WriteOpCode(OpThrow, 1)               // 7..8
	body.WriteByte(1)

	fn := ctx.NewFunction(&FunctionProto{
		Name:         "asyncBoom",
		Arity:        1,
		Kind:         AsyncFunction,
		RegisterSize: 2,
		Chunk:        body,
	}, nil)

	arg := ctx.NewPromise()
	resultVal, err := ctx.Call(ObjectValue(fn), Undefined, []Value{ObjectValue(arg)})
	if err != nil {
		t.Fatal(err)
	}
	result := resultVal.AsObject()
	result.promise.handled = true // keep the hook quiet

	ctx.ResolvePromise(arg, Undefined)
	if err := ctx.RunJobs(); err != nil {
		t.Fatal(err)
	}
	state, reason := result.PromiseState()
	if state != PromiseRejected || reason.AsString() != "late boom" {
		t.Errorf("async throw = %v/%s, want rejected \"late boom\"", state, reason.Inspect())
	}
}
