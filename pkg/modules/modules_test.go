package modules

import (
	"strings"
	"testing"

	"sparrow/pkg/errors"
	"sparrow/pkg/vm"
)

// mapLoader serves pre-compiled sources and counts loads per specifier.
type mapLoader struct {
	sources map[string]*Source
	loads   map[string]int
}

func newMapLoader(sources ...*Source) *mapLoader {
	l := &mapLoader{
		sources: make(map[string]*Source),
		loads:   make(map[string]int),
	}
	for _, src := range sources {
		l.sources[src.Specifier] = src
	}
	return l
}

func (l *mapLoader) Load(specifier string) (*Source, error) {
	l.loads[specifier]++
	src, ok := l.sources[specifier]
	if !ok {
		return nil, errors.Newf("unknown specifier %q", specifier)
	}
	return src, nil
}

func newTestContext(t *testing.T) *vm.Context {
	t.Helper()
	ctx := vm.NewContext()
	t.Cleanup(ctx.Close)
	return ctx
}

func writeLoadConst(c *vm.Chunk, reg byte, v vm.Value) {
	c.WriteOpCode(vm.OpLoadConst, 1)
	c.WriteByte(reg)
	c.WriteUint16(c.AddConstant(v))
}

// writeInitSlot initializes slot in the innermost record from reg.
func writeInitSlot(c *vm.Chunk, slot int, kind vm.BindingKind, reg byte) {
	c.WriteOpCode(vm.OpInitEnv, 1)
	c.WriteByte(0)
	c.WriteByte(byte(slot))
	c.WriteByte(byte(kind))
	c.WriteByte(reg)
}

// writeLoadName reads a binding by name, the path import bindings take.
func writeLoadName(c *vm.Chunk, reg byte, name string) {
	c.WriteOpCode(vm.OpLoadEnvName, 1)
	c.WriteByte(reg)
	c.WriteUint16(c.AddConstant(vm.NewString(name)))
}

func writeReturnUndefined(c *vm.Chunk) {
	c.WriteOpCode(vm.OpReturnUndefined, 1)
}

// constModule exports a single const binding.
func constModule(specifier, exportName string, v vm.Value) *Source {
	c := vm.NewChunk(specifier)
	c.MaxRegisters = 1
	writeLoadConst(c, 0, v)
	writeInitSlot(c, 0, vm.BindingImmutable, 0)
	writeReturnUndefined(c)
	return &Source{
		Specifier: specifier,
		Chunk:     c,
		SlotCount: 1,
		Exports:   map[string]int{exportName: 0},
		Locals:    map[string]int{exportName: 0},
	}
}

// derivedModule imports one binding, adds one to it and exports the sum.
func derivedModule(specifier, depSpecifier, importName, exportName string) *Source {
	c := vm.NewChunk(specifier)
	c.MaxRegisters = 2
	writeLoadName(c, 0, importName)
	writeLoadConst(c, 1, vm.IntegerValue(1))
	c.WriteOpCode(vm.OpAdd, 1)
	c.WriteByte(0)
	c.WriteByte(0)
	c.WriteByte(1)
	writeInitSlot(c, 0, vm.BindingImmutable, 0)
	writeReturnUndefined(c)
	return &Source{
		Specifier: specifier,
		Chunk:     c,
		SlotCount: 1,
		Exports:   map[string]int{exportName: 0},
		Locals:    map[string]int{exportName: 0},
		Imports: []Import{{
			Specifier:  depSpecifier,
			ExportName: importName,
			LocalName:  importName,
		}},
	}
}

func TestRequireLinksAndEvaluates(t *testing.T) {
	ctx := newTestContext(t)
	loader := newMapLoader(
		constModule("math", "answer", vm.IntegerValue(42)),
		derivedModule("app", "math", "answer", "result"),
	)
	reg := NewRegistry(ctx, loader)

	app, err := reg.Require("app")
	if err != nil {
		t.Fatal(err)
	}
	if app.State() != ModuleEvaluated {
		t.Errorf("state = %d, want evaluated", app.State())
	}
	result, ok := app.GetExport("result")
	if !ok || result.NumberValueOf() != 43 {
		t.Errorf("result = %s, %v; want 43", result.Inspect(), ok)
	}
	if _, ok := app.GetExport("missing"); ok {
		t.Error("GetExport found a name the module never exported")
	}

	// Requiring again reuses the instance without reloading.
	again, err := reg.Require("app")
	if err != nil {
		t.Fatal(err)
	}
	if again != app {
		t.Error("second require built a new module instance")
	}
	if loader.loads["app"] != 1 || loader.loads["math"] != 1 {
		t.Errorf("loads = %v, want one per specifier", loader.loads)
	}
}

func TestImportReadsCurrentSlotValue(t *testing.T) {
	ctx := newTestContext(t)
	loader := newMapLoader(
		constModule("dep", "v", vm.NewString("live")),
		derivedModule("user", "dep", "v", "copy"),
	)
	reg := NewRegistry(ctx, loader)

	dep, err := reg.Require("dep")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := dep.GetExport("v"); !ok || v.AsString() != "live" {
		t.Fatalf("dep export = %s, %v", v.Inspect(), ok)
	}
	// "live" + 1 concatenates.
	user, err := reg.Require("user")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := user.GetExport("copy"); !ok || v.AsString() != "live1" {
		t.Errorf("derived export = %s, %v; want live1", v.Inspect(), ok)
	}
}

func TestMissingExportFailsAtLinkTime(t *testing.T) {
	ctx := newTestContext(t)
	loader := newMapLoader(
		constModule("math", "answer", vm.IntegerValue(42)),
		derivedModule("app", "math", "nope", "result"),
	)
	reg := NewRegistry(ctx, loader)

	_, err := reg.Require("app")
	if err == nil {
		t.Fatal("require of a module with a bad import succeeded")
	}
	if !strings.Contains(err.Error(), "does not export") {
		t.Errorf("error = %q, want a missing-export message", err.Error())
	}
}

func TestLoadFailurePropagates(t *testing.T) {
	ctx := newTestContext(t)
	reg := NewRegistry(ctx, newMapLoader())

	_, err := reg.Require("ghost")
	if err == nil {
		t.Fatal("require of an unknown specifier succeeded")
	}
	if !strings.Contains(err.Error(), "cannot load") {
		t.Errorf("error = %q, want a load failure message", err.Error())
	}
}

// cycleMember exports one value and imports from its partner without reading
// the import during evaluation, so the cycle is harmless.
func cycleMember(specifier, depSpecifier, importName, exportName string, v vm.Value) *Source {
	c := vm.NewChunk(specifier)
	c.MaxRegisters = 1
	writeLoadConst(c, 0, v)
	writeInitSlot(c, 0, vm.BindingMutable, 0)
	writeReturnUndefined(c)
	return &Source{
		Specifier: specifier,
		Chunk:     c,
		SlotCount: 1,
		Exports:   map[string]int{exportName: 0},
		Locals:    map[string]int{exportName: 0},
		Imports: []Import{{
			Specifier:  depSpecifier,
			ExportName: importName,
			LocalName:  importName,
		}},
	}
}

func TestCycleEvaluatesWhenImportsAreDeferred(t *testing.T) {
	ctx := newTestContext(t)
	loader := newMapLoader(
		cycleMember("a", "b", "bee", "aye", vm.IntegerValue(10)),
		cycleMember("b", "a", "aye", "bee", vm.IntegerValue(20)),
	)
	reg := NewRegistry(ctx, loader)

	a, err := reg.Require("a")
	if err != nil {
		t.Fatal(err)
	}
	if a.State() != ModuleEvaluated {
		t.Errorf("a state = %d, want evaluated", a.State())
	}
	b, err := reg.Require("b")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := a.GetExport("aye"); !ok || v.NumberValueOf() != 10 {
		t.Errorf("a export = %s, %v", v.Inspect(), ok)
	}
	if v, ok := b.GetExport("bee"); !ok || v.NumberValueOf() != 20 {
		t.Errorf("b export = %s, %v", v.Inspect(), ok)
	}
}

func TestCycleReadBeforeInitializationThrows(t *testing.T) {
	ctx := newTestContext(t)
	// x and y both read their import during evaluation. y runs first (x's
	// dependency), so it observes x's binding still in its dead zone.
	loader := newMapLoader(
		derivedModule("x", "y", "yval", "xval"),
		derivedModule("y", "x", "xval", "yval"),
	)
	reg := NewRegistry(ctx, loader)

	_, err := reg.Require("x")
	if err == nil {
		t.Fatal("eager cyclic read succeeded")
	}
	thrown, ok := vm.UnwrapThrown(err)
	if !ok {
		t.Fatalf("want a thrown ReferenceError, got host error: %v", err)
	}
	msg := thrown.Inspect()
	if o := thrown.ObjectOrNil(); o != nil {
		if m, ok := o.GetOwn("message"); ok {
			msg = m.AsString()
		}
	}
	if !strings.Contains(msg, "before initialization") {
		t.Errorf("thrown %s, want a dead zone message", msg)
	}
}

func TestImportMetaCarriesSpecifier(t *testing.T) {
	ctx := newTestContext(t)
	loader := newMapLoader(constModule("util", "v", vm.IntegerValue(1)))
	reg := NewRegistry(ctx, loader)

	m, err := reg.Require("util")
	if err != nil {
		t.Fatal(err)
	}
	meta := m.ImportMeta(ctx)
	if spec, ok := meta.GetOwn("specifier"); !ok || spec.AsString() != "util" {
		t.Errorf("import.meta.specifier = %s, %v", spec.Inspect(), ok)
	}
	if m.ImportMeta(ctx) != meta {
		t.Error("import.meta rebuilt on second access")
	}
}

func TestEvaluationFailureIsSticky(t *testing.T) {
	ctx := newTestContext(t)

	c := vm.NewChunk("broken")
	c.MaxRegisters = 1
	writeLoadConst(c, 0, vm.NewString("boom"))
	c.WriteOpCode(vm.OpThrow, 1)
	c.WriteByte(0)
	loader := newMapLoader(&Source{
		Specifier: "broken",
		Chunk:     c,
		SlotCount: 0,
		Exports:   map[string]int{},
	})
	reg := NewRegistry(ctx, loader)

	_, err1 := reg.Require("broken")
	if err1 == nil {
		t.Fatal("require of a throwing module succeeded")
	}
	_, err2 := reg.Require("broken")
	if err2 == nil {
		t.Fatal("second require of a failed module succeeded")
	}
	if err1.Error() != err2.Error() {
		t.Errorf("sticky error changed: %q then %q", err1.Error(), err2.Error())
	}
	if loader.loads["broken"] != 1 {
		t.Errorf("failed module reloaded %d times", loader.loads["broken"])
	}
}
