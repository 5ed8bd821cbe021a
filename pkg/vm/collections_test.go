package vm

import (
	"math"
	"testing"
)

func TestMapSameValueZeroKeys(t *testing.T) {
	ctx := newTestContext(t)
	m := ctx.NewMapObject()

	m.MapSet(NumberValue(math.NaN()), NewString("nan"))
	if v, ok := m.MapGet(NumberValue(math.NaN())); !ok || v.AsString() != "nan" {
		t.Error("NaN key did not match itself")
	}

	m.MapSet(NumberValue(0), NewString("zero"))
	if v, ok := m.MapGet(NumberValue(math.Copysign(0, -1))); !ok || v.AsString() != "zero" {
		t.Error("-0 did not find the +0 entry")
	}

	// Integer and float forms of the same number are one key.
	m.MapSet(IntegerValue(3), NewString("three"))
	m.MapSet(NumberValue(3.0), NewString("still three"))
	if m.MapSize() != 3 {
		t.Errorf("size = %d, want 3", m.MapSize())
	}

	// Objects key by identity.
	a, b := ctx.NewObject(), ctx.NewObject()
	m.MapSet(ObjectValue(a), IntegerValue(1))
	if _, ok := m.MapGet(ObjectValue(b)); ok {
		t.Error("distinct objects shared a map entry")
	}
}

func TestMapInsertionOrderWithDeletes(t *testing.T) {
	ctx := newTestContext(t)
	m := ctx.NewMapObject()
	for _, k := range []string{"a", "b", "c", "d"} {
		m.MapSet(NewString(k), NewString(k))
	}
	if !m.MapDelete(NewString("b")) {
		t.Fatal("delete b failed")
	}
	if m.MapDelete(NewString("b")) {
		t.Fatal("double delete reported true")
	}

	var seen []string
	m.MapRange(func(key, value Value) bool {
		seen = append(seen, key.AsString())
		return true
	})
	want := []string{"a", "c", "d"}
	if len(seen) != len(want) {
		t.Fatalf("iterated %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("iterated %v, want %v", seen, want)
		}
	}
	if m.MapSize() != 3 {
		t.Errorf("size after delete = %d, want 3", m.MapSize())
	}
}

func TestSetMembership(t *testing.T) {
	ctx := newTestContext(t)
	s := ctx.NewSetObject()
	s.SetAdd(IntegerValue(1))
	s.SetAdd(IntegerValue(1))
	s.SetAdd(NewString("1"))
	if s.MapSize() != 2 {
		t.Errorf("size = %d, want 2 (number and string keys are distinct)", s.MapSize())
	}
	if !s.SetHas(NumberValue(1.0)) {
		t.Error("1.0 not found after adding integer 1")
	}
}

func TestWeakMapEntryDiesWithKey(t *testing.T) {
	ctx := newTestContext(t)

	wm := ctx.NewWeakMapObject()
	ctx.Retain(ObjectValue(wm))
	defer ctx.ReleaseValue(ObjectValue(wm))

	key := ctx.NewObject()
	if err := ctx.WeakSetEntry(wm, ObjectValue(key), IntegerValue(7)); err != nil {
		t.Fatal(err)
	}
	if v, ok := wm.WeakGetEntry(ObjectValue(key)); !ok || v.NumberValueOf() != 7 {
		t.Fatalf("live entry = %v, %v; want 7", v.Inspect(), ok)
	}

	// Primitive keys are rejected.
	if err := ctx.WeakSetEntry(wm, IntegerValue(1), IntegerValue(2)); err == nil {
		t.Error("primitive weak key accepted")
	}

	keyVal := ObjectValue(key)
	ctx.flushTempRoots() // drop the construction pin on key
	ctx.Collect()

	if _, ok := wm.WeakGetEntry(keyVal); ok {
		t.Error("entry survived its key's collection")
	}
}

func TestWeakMapKeepsEntryWhileKeyLives(t *testing.T) {
	ctx := newTestContext(t)

	wm := ctx.NewWeakMapObject()
	ctx.Retain(ObjectValue(wm))
	defer ctx.ReleaseValue(ObjectValue(wm))

	key := ctx.NewObject()
	ctx.Retain(ObjectValue(key))
	defer ctx.ReleaseValue(ObjectValue(key))

	if err := ctx.WeakSetEntry(wm, ObjectValue(key), NewString("kept")); err != nil {
		t.Fatal(err)
	}
	ctx.flushTempRoots()
	ctx.Collect()

	if v, ok := wm.WeakGetEntry(ObjectValue(key)); !ok || v.AsString() != "kept" {
		t.Errorf("pinned key lost its entry: %v, %v", v.Inspect(), ok)
	}
}

func TestWeakRefClearsAfterCollection(t *testing.T) {
	ctx := newTestContext(t)

	target := ctx.NewObject()
	ref := ctx.NewWeakRefObject(target)
	ctx.Retain(ObjectValue(ref))
	defer ctx.ReleaseValue(ObjectValue(ref))

	if ref.WeakRefDeref().ObjectOrNil() != target {
		t.Fatal("fresh WeakRef does not deref to its target")
	}

	ctx.flushTempRoots()
	ctx.Collect()

	if got := ref.WeakRefDeref(); !got.IsUndefined() {
		t.Errorf("deref after collection = %s, want undefined", got.Inspect())
	}
}

func TestWeakSetMembershipViaEntries(t *testing.T) {
	ctx := newTestContext(t)

	ws := ctx.NewWeakSetObject()
	member := ctx.NewObject()
	if err := ctx.WeakSetEntry(ws, ObjectValue(member), BooleanValue(true)); err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.WeakGetEntry(ObjectValue(member)); !ok {
		t.Error("member not found")
	}
	if !ws.WeakDeleteEntry(ObjectValue(member)) {
		t.Error("delete of live member reported false")
	}
	if _, ok := ws.WeakGetEntry(ObjectValue(member)); ok {
		t.Error("member survived delete")
	}
}
