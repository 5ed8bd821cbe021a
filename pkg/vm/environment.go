package vm

import "sparrow/pkg/heap"

// Environment is the record payload of environment box objects. Slot-indexed
// access on declarative records is the fast path used by compiled code;
// name-based lookup serves with blocks, the global scope and eval-style
// dynamic references.
type Environment interface {
	outer() *Object
	// lookup resolves a name in this record only. found=false falls through
	// to the outer record.
	lookup(ctx *Context, name string) (value Value, found bool, err error)
	// store writes a name in this record only. handled=false falls through.
	store(ctx *Context, name string, v Value) (handled bool, err error)
	deleteBinding(ctx *Context, name string) (bool, error)
	trace(heap.Tracer)
}

// EnvRecord exposes the record payload of an environment box, nil for
// ordinary objects.
func (o *Object) EnvRecord() Environment { return o.env }

func (ctx *Context) newEnvBox(record Environment) *Object {
	o := newObject(ClassEnvironment, ctx.Realm.RootShape, Null)
	o.extensible = false
	o.env = record
	ctx.track(o)
	return o
}

// ---- declarative records ----

// DeclarativeEnv backs block scopes, function scopes and catch parameters.
// Slots start Uninitialized; reading one before OpInitEnv ran is a TDZ
// ReferenceError.
type DeclarativeEnv struct {
	parent *Object
	slots  []Value
	kinds  []BindingKind
	// names is populated lazily by declareName for records that need dynamic
	// lookup; slot-only records leave it nil.
	names map[string]int
}

// NewDeclarativeEnv creates a declarative record with slotCount TDZ slots.
func (ctx *Context) NewDeclarativeEnv(parent *Object, slotCount int) *Object {
	rec := &DeclarativeEnv{parent: parent}
	if slotCount > 0 {
		rec.slots = make([]Value, slotCount)
		rec.kinds = make([]BindingKind, slotCount)
		for i := range rec.slots {
			rec.slots[i] = Uninitialized
		}
	}
	return ctx.newEnvBox(rec)
}

// DeclareName associates a name with a slot for dynamic lookup.
func (e *DeclarativeEnv) DeclareName(name string, slot int) {
	if e.names == nil {
		e.names = make(map[string]int)
	}
	e.names[name] = slot
}

func (e *DeclarativeEnv) outer() *Object { return e.parent }

// GetSlot reads a binding; ok=false signals TDZ.
func (e *DeclarativeEnv) GetSlot(slot int) (Value, bool) {
	v := e.slots[slot]
	if v.IsUninitialized() {
		return Undefined, false
	}
	return v, true
}

// SetSlot writes a mutable, initialized binding. The returned codes
// distinguish TDZ from const assignment.
func (e *DeclarativeEnv) SetSlot(slot int, v Value) (tdz, immutable bool) {
	if e.slots[slot].IsUninitialized() {
		return true, false
	}
	if e.kinds[slot] == BindingImmutable {
		return false, true
	}
	e.slots[slot] = v
	return false, false
}

// InitSlot initializes a binding, ending its TDZ.
func (e *DeclarativeEnv) InitSlot(slot int, kind BindingKind, v Value) {
	e.kinds[slot] = kind
	e.slots[slot] = v
}

func (e *DeclarativeEnv) lookup(ctx *Context, name string) (Value, bool, error) {
	slot, ok := e.names[name]
	if !ok {
		return Undefined, false, nil
	}
	v, initialized := e.GetSlot(slot)
	if !initialized {
		return Undefined, true, ctx.NewReferenceError("Cannot access '" + name + "' before initialization")
	}
	return v, true, nil
}

func (e *DeclarativeEnv) store(ctx *Context, name string, v Value) (bool, error) {
	slot, ok := e.names[name]
	if !ok {
		return false, nil
	}
	tdz, immutable := e.SetSlot(slot, v)
	if tdz {
		return true, ctx.NewReferenceError("Cannot access '" + name + "' before initialization")
	}
	if immutable {
		return true, ctx.NewTypeError("Assignment to constant variable.")
	}
	return true, nil
}

func (e *DeclarativeEnv) deleteBinding(ctx *Context, name string) (bool, error) {
	if _, ok := e.names[name]; ok {
		// Declarative bindings are not deletable.
		return false, nil
	}
	return true, nil
}

func (e *DeclarativeEnv) trace(mark heap.Tracer) {
	if e.parent != nil {
		mark(e.parent)
	}
	for _, v := range e.slots {
		traceValue(mark, v)
	}
}

// ---- object records ----

// ObjectEnv resolves names as properties of a bindings object. with blocks
// use one with unscopables honored; the global object record does not.
type ObjectEnv struct {
	parent   *Object
	bindings *Object
	isWith   bool
}

// NewWithEnv creates an object record for a with statement.
func (ctx *Context) NewWithEnv(parent *Object, bindings *Object) *Object {
	return ctx.newEnvBox(&ObjectEnv{parent: parent, bindings: bindings, isWith: true})
}

func (e *ObjectEnv) outer() *Object { return e.parent }

func (e *ObjectEnv) lookup(ctx *Context, name string) (Value, bool, error) {
	key := StringKey(name)
	has, err := e.bindings.HasProperty(ctx, key)
	if err != nil || !has {
		return Undefined, false, err
	}
	if e.isWith {
		blocked, err := e.blockedByUnscopables(ctx, name)
		if err != nil {
			return Undefined, false, err
		}
		if blocked {
			return Undefined, false, nil
		}
	}
	v, err := e.bindings.Get(ctx, key, ObjectValue(e.bindings))
	return v, true, err
}

func (e *ObjectEnv) store(ctx *Context, name string, v Value) (bool, error) {
	key := StringKey(name)
	has, err := e.bindings.HasProperty(ctx, key)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}
	if e.isWith {
		blocked, err := e.blockedByUnscopables(ctx, name)
		if err != nil {
			return false, err
		}
		if blocked {
			return false, nil
		}
	}
	_, err = e.bindings.Set(ctx, key, v, ObjectValue(e.bindings))
	return true, err
}

func (e *ObjectEnv) deleteBinding(ctx *Context, name string) (bool, error) {
	return e.bindings.DeleteProperty(ctx, StringKey(name))
}

func (e *ObjectEnv) blockedByUnscopables(ctx *Context, name string) (bool, error) {
	unscopables, err := e.bindings.Get(ctx, SymbolKey(ctx.Realm.SymUnscopables), ObjectValue(e.bindings))
	if err != nil {
		return false, err
	}
	uo := unscopables.ObjectOrNil()
	if uo == nil {
		return false, nil
	}
	flag, err := uo.Get(ctx, StringKey(name), unscopables)
	if err != nil {
		return false, err
	}
	return ToBoolean(flag), nil
}

func (e *ObjectEnv) trace(mark heap.Tracer) {
	if e.parent != nil {
		mark(e.parent)
	}
	mark(e.bindings)
}

// ---- global record ----

// GlobalEnv is the outermost record: a declarative part for script-level
// let/const layered over the global object for var and function bindings.
type GlobalEnv struct {
	decl   *DeclarativeEnv
	object *ObjectEnv
}

// NewGlobalEnv creates the realm's global record over the global object.
func (ctx *Context) NewGlobalEnv(globalObject *Object) *Object {
	rec := &GlobalEnv{
		decl:   &DeclarativeEnv{},
		object: &ObjectEnv{bindings: globalObject},
	}
	return ctx.newEnvBox(rec)
}

func (e *GlobalEnv) outer() *Object { return nil }

// DeclareLexical adds a script-level let/const binding in TDZ.
func (e *GlobalEnv) DeclareLexical(name string, kind BindingKind) {
	e.decl.slots = append(e.decl.slots, Uninitialized)
	e.decl.kinds = append(e.decl.kinds, kind)
	e.decl.DeclareName(name, len(e.decl.slots)-1)
}

func (e *GlobalEnv) lookup(ctx *Context, name string) (Value, bool, error) {
	if v, found, err := e.decl.lookup(ctx, name); found || err != nil {
		return v, found, err
	}
	return e.object.lookup(ctx, name)
}

func (e *GlobalEnv) store(ctx *Context, name string, v Value) (bool, error) {
	if handled, err := e.decl.store(ctx, name, v); handled || err != nil {
		return handled, err
	}
	if handled, err := e.object.store(ctx, name, v); handled || err != nil {
		return handled, err
	}
	// Unresolved assignment creates a global, sloppy-mode style.
	_, err := e.object.bindings.Set(ctx, StringKey(name), v, ObjectValue(e.object.bindings))
	return true, err
}

func (e *GlobalEnv) deleteBinding(ctx *Context, name string) (bool, error) {
	if _, ok := e.decl.names[name]; ok {
		return false, nil
	}
	return e.object.deleteBinding(ctx, name)
}

func (e *GlobalEnv) trace(mark heap.Tracer) {
	e.decl.trace(mark)
	mark(e.object.bindings)
}

// ---- module records ----

// moduleImport is an indirect binding resolved against the exporting
// module's record.
type moduleImport struct {
	sourceEnv *Object // env box of the exporting module
	slot      int
}

// ModuleEnv is a declarative record extended with indirect import bindings.
// Imports resolve once at link time; reads always observe the exporting
// module's current slot value.
type ModuleEnv struct {
	DeclarativeEnv
	imports map[string]moduleImport
}

// NewModuleEnv creates a module record chained to the global record.
func (ctx *Context) NewModuleEnv(parent *Object, slotCount int) *Object {
	rec := &ModuleEnv{}
	rec.parent = parent
	rec.slots = make([]Value, slotCount)
	rec.kinds = make([]BindingKind, slotCount)
	for i := range rec.slots {
		rec.slots[i] = Uninitialized
	}
	return ctx.newEnvBox(rec)
}

// LinkImport binds name to a slot of the exporting module's record.
func (e *ModuleEnv) LinkImport(name string, sourceEnv *Object, slot int) {
	if e.imports == nil {
		e.imports = make(map[string]moduleImport)
	}
	e.imports[name] = moduleImport{sourceEnv: sourceEnv, slot: slot}
}

func (e *ModuleEnv) lookup(ctx *Context, name string) (Value, bool, error) {
	if imp, ok := e.imports[name]; ok {
		src := imp.sourceEnv.env.(*ModuleEnv)
		v, initialized := src.GetSlot(imp.slot)
		if !initialized {
			return Undefined, true, ctx.NewReferenceError("Cannot access '" + name + "' before initialization")
		}
		return v, true, nil
	}
	return e.DeclarativeEnv.lookup(ctx, name)
}

func (e *ModuleEnv) store(ctx *Context, name string, v Value) (bool, error) {
	if _, ok := e.imports[name]; ok {
		return true, ctx.NewTypeError("Assignment to constant variable.")
	}
	return e.DeclarativeEnv.store(ctx, name, v)
}

func (e *ModuleEnv) trace(mark heap.Tracer) {
	e.DeclarativeEnv.trace(mark)
	for _, imp := range e.imports {
		mark(imp.sourceEnv)
	}
}

// ---- chain operations used by the dispatch loop ----

// slotRecord unwraps the declarative payload of an environment box. Module
// records expose their slot storage the same way; slots never alias import
// bindings, which stay name-based.
func slotRecord(env *Object) *DeclarativeEnv {
	switch rec := env.env.(type) {
	case *DeclarativeEnv:
		return rec
	case *ModuleEnv:
		return &rec.DeclarativeEnv
	}
	return nil
}

// envAt walks depth hops up the environment chain.
func envAt(env *Object, depth int) *Object {
	for i := 0; i < depth; i++ {
		env = env.env.outer()
	}
	return env
}

// resolveName walks the chain looking for name. found=false means an
// unresolvable reference.
func resolveName(ctx *Context, env *Object, name string) (Value, bool, error) {
	for env != nil {
		v, found, err := env.env.lookup(ctx, name)
		if found || err != nil {
			return v, found, err
		}
		env = env.env.outer()
	}
	return Undefined, false, nil
}

// storeName walks the chain and writes the first record that claims the
// name; unresolved writes land on the global record.
func storeName(ctx *Context, env *Object, name string, v Value) error {
	for env != nil {
		handled, err := env.env.store(ctx, name, v)
		if handled || err != nil {
			return err
		}
		if env.env.outer() == nil {
			break
		}
		env = env.env.outer()
	}
	// No record claimed it and the chain had no global record.
	if env != nil {
		_, err := env.env.store(ctx, name, v)
		return err
	}
	return nil
}
