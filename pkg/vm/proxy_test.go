package vm

import (
	"strings"
	"testing"
)

func TestProxyGetTrapAndFallthrough(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewObject()
	target.SetOwn("plain", IntegerValue(1))

	handler := ctx.NewObject()
	handler.SetOwn("get", ObjectValue(ctx.NewNativeFunction("get", 3,
		func(ctx *Context, this Value, args []Value) (Value, error) {
			key, _ := ctx.ToString(argOr(args, 1))
			if key == "magic" {
				return IntegerValue(42), nil
			}
			// Anything else defers to the target.
			tgt := argOr(args, 0).AsObject()
			return tgt.Get(ctx, StringKey(key), argOr(args, 0))
		})))

	proxy, err := ctx.NewProxy(ObjectValue(target), ObjectValue(handler))
	if err != nil {
		t.Fatal(err)
	}
	pv := ObjectValue(proxy)

	v, err := proxy.Get(ctx, StringKey("magic"), pv)
	if err != nil {
		t.Fatal(err)
	}
	if v.NumberValueOf() != 42 {
		t.Errorf("trapped get = %s, want 42", v.Inspect())
	}
	v, err = proxy.Get(ctx, StringKey("plain"), pv)
	if err != nil {
		t.Fatal(err)
	}
	if v.NumberValueOf() != 1 {
		t.Errorf("deferred get = %s, want 1", v.Inspect())
	}

	// No set trap: writes land on the target.
	if _, err := proxy.Set(ctx, StringKey("w"), IntegerValue(9), pv); err != nil {
		t.Fatal(err)
	}
	if got, ok := target.GetOwn("w"); !ok || got.NumberValueOf() != 9 {
		t.Error("untrapped set did not reach the target")
	}
}

func TestProxyHasAndDeleteTraps(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewObject()
	target.SetOwn("x", IntegerValue(1))

	handler := ctx.NewObject()
	handler.SetOwn("has", ObjectValue(ctx.NewNativeFunction("has", 2,
		func(ctx *Context, this Value, args []Value) (Value, error) {
			key, _ := ctx.ToString(argOr(args, 1))
			return BooleanValue(strings.HasPrefix(key, "x")), nil
		})))

	proxy, err := ctx.NewProxy(ObjectValue(target), ObjectValue(handler))
	if err != nil {
		t.Fatal(err)
	}
	if has, err := proxy.HasProperty(ctx, StringKey("xyz")); err != nil || !has {
		t.Errorf("has xyz = %v, %v; want true", has, err)
	}
	if has, err := proxy.HasProperty(ctx, StringKey("y")); err != nil || has {
		t.Errorf("has y = %v, %v; want false", has, err)
	}
}

func TestCallableProxy(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewNativeFunction("sum", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		return NumberValue(argOr(args, 0).NumberValueOf() + argOr(args, 1).NumberValueOf()), nil
	})

	handler := ctx.NewObject()
	handler.SetOwn("apply", ObjectValue(ctx.NewNativeFunction("apply", 3,
		func(ctx *Context, this Value, args []Value) (Value, error) {
			// Double the result of the target call.
			argList := argOr(args, 2).AsObject()
			raw, err := ctx.Call(argOr(args, 0), argOr(args, 1), argList.Elements())
			if err != nil {
				return Undefined, err
			}
			return NumberValue(raw.NumberValueOf() * 2), nil
		})))

	proxy, err := ctx.NewProxy(ObjectValue(target), ObjectValue(handler))
	if err != nil {
		t.Fatal(err)
	}
	if !proxy.IsCallable() {
		t.Fatal("proxy over a function is not callable")
	}
	got, err := ctx.Call(ObjectValue(proxy), Undefined, []Value{IntegerValue(2), IntegerValue(3)})
	if err != nil {
		t.Fatal(err)
	}
	if got.NumberValueOf() != 10 {
		t.Errorf("trapped call = %s, want 10", got.Inspect())
	}

	// Without an apply trap the call goes straight to the target.
	bare, err := ctx.NewProxy(ObjectValue(target), ObjectValue(ctx.NewObject()))
	if err != nil {
		t.Fatal(err)
	}
	got, err = ctx.Call(ObjectValue(bare), Undefined, []Value{IntegerValue(2), IntegerValue(3)})
	if err != nil {
		t.Fatal(err)
	}
	if got.NumberValueOf() != 5 {
		t.Errorf("untrapped call = %s, want 5", got.Inspect())
	}
}

func TestRevocableProxy(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewObject()
	target.SetOwn("x", IntegerValue(1))
	proxy, revoke, err := ctx.NewRevocableProxy(ObjectValue(target), ObjectValue(ctx.NewObject()))
	if err != nil {
		t.Fatal(err)
	}
	pv := ObjectValue(proxy)

	if v, err := proxy.Get(ctx, StringKey("x"), pv); err != nil || v.NumberValueOf() != 1 {
		t.Fatalf("pre-revoke get = %v, %v", v.Inspect(), err)
	}

	if _, err := ctx.Call(ObjectValue(revoke), Undefined, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := proxy.Get(ctx, StringKey("x"), pv); err == nil {
		t.Fatal("get on a revoked proxy succeeded")
	} else if thrown, ok := UnwrapThrown(err); !ok {
		t.Fatalf("revoked access is a host error: %v", err)
	} else if msg := thrownMessage(ctx, thrown); !strings.Contains(msg, "revoked") {
		t.Errorf("thrown %q, want a revoked proxy message", msg)
	}
}

func TestProxyNonObjectPartsRejected(t *testing.T) {
	ctx := newTestContext(t)
	if _, err := ctx.NewProxy(IntegerValue(1), ObjectValue(ctx.NewObject())); err == nil {
		t.Error("primitive target accepted")
	}
	if _, err := ctx.NewProxy(ObjectValue(ctx.NewObject()), Null); err == nil {
		t.Error("null handler accepted")
	}
}
