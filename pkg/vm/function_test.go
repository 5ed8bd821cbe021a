package vm

import (
	"strings"
	"testing"
)

func TestBindSplicesArguments(t *testing.T) {
	ctx := newTestContext(t)

	var gotThis Value
	var gotArgs []Value
	record := ctx.NewNativeFunction("record", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		gotThis = this
		gotArgs = append([]Value(nil), args...)
		return IntegerValue(int32(len(args))), nil
	})

	inner := ctx.NewObject()
	outer := ctx.NewObject()

	b1, err := ctx.BindFunction(ObjectValue(record), ObjectValue(inner), []Value{IntegerValue(1)})
	if err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	b2, err := ctx.BindFunction(ObjectValue(b1), ObjectValue(outer), []Value{IntegerValue(2)})
	if err != nil {
		t.Fatalf("second bind failed: %v", err)
	}

	result, err := ctx.Call(ObjectValue(b2), Undefined, []Value{IntegerValue(3)})
	if err != nil {
		t.Fatalf("calling the bound chain failed: %v", err)
	}
	if result.NumberValueOf() != 3 {
		t.Errorf("argc = %v, want 3", result.Inspect())
	}

	// The innermost bound this wins; rebinding cannot override it.
	if gotThis.ObjectOrNil() != inner {
		t.Errorf("this = %s, want the first bind's receiver", gotThis.Inspect())
	}
	want := []float64{1, 2, 3}
	if len(gotArgs) != len(want) {
		t.Fatalf("args = %d values, want %d", len(gotArgs), len(want))
	}
	for i, w := range want {
		if gotArgs[i].NumberValueOf() != w {
			t.Errorf("args[%d] = %s, want %v", i, gotArgs[i].Inspect(), w)
		}
	}
}

func TestBindMetadata(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewNativeFunction("target", 3, func(ctx *Context, this Value, args []Value) (Value, error) {
		return Undefined, nil
	})
	bound, err := ctx.BindFunction(ObjectValue(target), Undefined, []Value{IntegerValue(1)})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	if name, _ := bound.GetOwn("name"); name.AsString() != "bound target" {
		t.Errorf("name = %q, want %q", name.AsString(), "bound target")
	}
	if length, _ := bound.GetOwn("length"); length.NumberValueOf() != 2 {
		t.Errorf("length = %v, want 2", length.NumberValueOf())
	}
}

func TestBindNonCallableThrows(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.BindFunction(IntegerValue(5), Undefined, nil)
	if err == nil {
		t.Fatal("binding a number did not fail")
	}
	thrown, ok := UnwrapThrown(err)
	if !ok {
		t.Fatalf("bind failure is a host error: %v", err)
	}
	if msg := thrownMessage(ctx, thrown); !strings.Contains(msg, "Bind must be called on a function") {
		t.Errorf("thrown %q, want a type error about non-functions", msg)
	}
}
