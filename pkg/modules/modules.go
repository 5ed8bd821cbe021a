// Package modules links and evaluates compiled module chunks. Imports bind
// indirectly into the exporting module's environment record and resolve once
// at link time; circular graphs link before any module body runs, so cyclic
// imports observe the temporal dead zone instead of stale copies.
package modules

import (
	"github.com/tliron/commonlog"

	"sparrow/pkg/errors"
	"sparrow/pkg/vm"
)

// Import names one binding pulled from another module.
type Import struct {
	// Specifier of the exporting module.
	Specifier string
	// ExportName in the exporting module.
	ExportName string
	// LocalName the importing module binds it under.
	LocalName string
}

// Source is a compiled module ready for linking.
type Source struct {
	Specifier string
	Chunk     *vm.Chunk

	// SlotCount is the total binding count of the module scope.
	SlotCount int
	// Exports maps export names to slots in the module's record.
	Exports map[string]int
	// Locals maps local binding names to slots, for dynamic lookup.
	Locals map[string]int

	Imports []Import
}

// Loader resolves specifiers to compiled module sources.
type Loader interface {
	Load(specifier string) (*Source, error)
}

// ModuleState tracks progress through the link/evaluate pipeline.
type ModuleState uint8

const (
	ModuleUnlinked ModuleState = iota
	ModuleLinking
	ModuleLinked
	ModuleEvaluating
	ModuleEvaluated
	ModuleFailed
)

// Module is one instantiated module.
type Module struct {
	Specifier string
	Env       *vm.Object // module environment box

	source *Source
	state  ModuleState
	meta   *vm.Object
	// evalErr is sticky: a failed module keeps failing on later requires.
	evalErr error
}

// ImportMeta returns the module's import.meta object, created on first use.
// It carries the specifier the module was required under.
func (m *Module) ImportMeta(ctx *vm.Context) *vm.Object {
	if m.meta == nil {
		meta := ctx.NewObject()
		meta.SetOwn("specifier", vm.NewString(m.Specifier))
		ctx.Retain(vm.ObjectValue(meta))
		m.meta = meta
	}
	return m.meta
}

// State reports the module's pipeline position.
func (m *Module) State() ModuleState { return m.state }

// GetExport reads an exported binding. ok=false when the name is not
// exported or still in its dead zone.
func (m *Module) GetExport(name string) (vm.Value, bool) {
	slot, ok := m.source.Exports[name]
	if !ok {
		return vm.Undefined, false
	}
	rec, ok := m.Env.EnvRecord().(*vm.ModuleEnv)
	if !ok {
		return vm.Undefined, false
	}
	return rec.GetSlot(slot)
}

// Registry loads, links and evaluates modules, each at most once per
// context.
type Registry struct {
	ctx     *vm.Context
	loader  Loader
	modules map[string]*Module
	log     commonlog.Logger
}

// NewRegistry creates a registry over ctx backed by loader.
func NewRegistry(ctx *vm.Context, loader Loader) *Registry {
	return &Registry{
		ctx:     ctx,
		loader:  loader,
		modules: make(map[string]*Module),
		log:     commonlog.GetLogger("sparrow.modules"),
	}
}

// Require returns the evaluated module for specifier, loading, linking and
// running it (and its dependency graph) on first use.
func (r *Registry) Require(specifier string) (*Module, error) {
	m, err := r.link(specifier)
	if err != nil {
		return nil, err
	}
	if err := r.evaluate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// link instantiates the module and its whole dependency graph without
// running any body. Modules already linking (cycle members) are returned
// as-is.
func (r *Registry) link(specifier string) (*Module, error) {
	if m, ok := r.modules[specifier]; ok {
		if m.state == ModuleFailed {
			return nil, m.evalErr
		}
		return m, nil
	}

	src, err := r.loader.Load(specifier)
	if err != nil {
		return nil, errors.Newf("cannot load module %q: %s", specifier, err).CausedBy(err)
	}

	m := &Module{
		Specifier: specifier,
		Env:       r.ctx.NewModuleEnv(r.ctx.GlobalEnv(), src.SlotCount),
		source:    src,
		state:     ModuleLinking,
	}
	r.modules[specifier] = m

	rec := m.Env.EnvRecord().(*vm.ModuleEnv)
	for name, slot := range src.Locals {
		rec.DeclareName(name, slot)
	}

	for _, imp := range src.Imports {
		dep, err := r.link(imp.Specifier)
		if err != nil {
			m.state = ModuleFailed
			m.evalErr = err
			return nil, err
		}
		slot, ok := dep.source.Exports[imp.ExportName]
		if !ok {
			err := errors.Newf("module %q does not export %q (imported by %q)",
				imp.Specifier, imp.ExportName, specifier)
			m.state = ModuleFailed
			m.evalErr = err
			return nil, err
		}
		rec.LinkImport(imp.LocalName, dep.Env, slot)
	}

	m.state = ModuleLinked
	r.log.Debugf("linked module %s (%d imports, %d exports)",
		specifier, len(src.Imports), len(src.Exports))
	return m, nil
}

// evaluate runs the module body once, dependencies first. Members of a cycle
// that are already evaluating are skipped; their bindings are visible but
// possibly still uninitialized, which reads surface as ReferenceErrors.
func (r *Registry) evaluate(m *Module) error {
	switch m.state {
	case ModuleEvaluated:
		return nil
	case ModuleFailed:
		return m.evalErr
	case ModuleEvaluating:
		return nil
	case ModuleUnlinked, ModuleLinking:
		return errors.Newf("module %q evaluated before linking", m.Specifier)
	}

	m.state = ModuleEvaluating
	for _, imp := range m.source.Imports {
		dep := r.modules[imp.Specifier]
		if err := r.evaluate(dep); err != nil {
			m.state = ModuleFailed
			m.evalErr = err
			return err
		}
	}

	if _, err := r.ctx.EvalIn(m.source.Chunk, m.Env); err != nil {
		m.state = ModuleFailed
		m.evalErr = err
		return err
	}
	m.state = ModuleEvaluated
	return nil
}
