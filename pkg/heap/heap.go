// Package heap implements the engine's garbage-collected heap.
//
// Every heap-managed engine value (objects, environments, suspended frames,
// big strings) embeds a Cell and is registered with exactly one Heap. A Heap
// belongs to exactly one Context and therefore to one OS thread; nothing in
// this package is safe for concurrent use.
//
// Reclamation is a mark-sweep over the cell list: pinned cells and registered
// root providers form the root set, reachability is discovered by tracing,
// and unmarked cells are finalized and freed in one pass. Releasing a pin
// never frees on the spot; the heap cannot know what else references a cell
// until it traces, so all reclamation goes through CollectCycles.
package heap

import (
	"github.com/tliron/commonlog"
)

// Tracer is handed to Trace implementations; call it once for every
// heap-managed value the receiver owns.
type Tracer func(Traceable)

// Traceable is implemented by every heap-managed type. Trace must visit every
// owned Traceable field exactly once; missing a field causes premature
// collection of that field's cell.
type Traceable interface {
	Trace(Tracer)
	GCCell() *Cell
}

// Finalizable cells get Finalize called exactly once, before any cell of the
// same collection batch is freed. A finalizer must not dereference other
// heap cells' payloads; it may only check liveness through WeakRef handles.
type Finalizable interface {
	Finalize()
}

// Cell is the per-allocation header. Embed it (as the first field, by
// convention) in any heap-managed struct and return it from GCCell.
type Cell struct {
	next, prev *Cell
	self       Traceable

	// pins counts external (host/stack) strong references. A pinned cell is
	// always a GC root.
	pins      int32
	marked    bool
	finalized bool
	inHeap    bool
}

// GCCell lets a bare *Cell satisfy the receiver side of Traceable embedding.
func (c *Cell) GCCell() *Cell { return c }

// Pinned reports whether the cell currently has external strong references.
func (c *Cell) Pinned() bool { return c.pins > 0 }

// Heap owns a set of cells and reclaims the unreachable ones.
type Heap struct {
	sentinel Cell // doubly-linked ring of all live cells
	count    int

	rootProviders []func(Tracer)
	ephemerons    []*Ephemeron
	weakRefs      []*WeakRef

	allocsSinceCollect int
	// CollectTrigger is the allocation count after which Alloc runs a cycle
	// collection on its own. Zero disables automatic collection.
	CollectTrigger int

	log commonlog.Logger
}

// New creates an empty heap. The collect trigger starts disabled; the owning
// Context configures it from its limits.
func New() *Heap {
	h := &Heap{
		log: commonlog.GetLogger("sparrow.heap"),
	}
	h.sentinel.next = &h.sentinel
	h.sentinel.prev = &h.sentinel
	return h
}

// Alloc registers t with the heap and pins it once. The caller owns that pin
// and must drop it with Release once the cell is reachable from a root (or is
// genuinely done with).
func (h *Heap) Alloc(t Traceable) {
	c := t.GCCell()
	if c.inHeap {
		panic("heap: cell allocated twice")
	}
	c.self = t
	c.pins = 1
	c.inHeap = true

	last := h.sentinel.prev
	last.next = c
	c.prev = last
	c.next = &h.sentinel
	h.sentinel.prev = c
	h.count++

	h.allocsSinceCollect++
	if h.CollectTrigger > 0 && h.allocsSinceCollect >= h.CollectTrigger {
		h.CollectCycles()
	}
}

// Pin adds an external strong reference to t.
func (h *Heap) Pin(t Traceable) {
	t.GCCell().pins++
}

// Release drops an external strong reference. The cell is never freed on the
// spot, even at zero pins: another cell may have gained an edge to it since
// the last trace, so it stays until a cycle collection proves it unreachable.
func (h *Heap) Release(t Traceable) {
	c := t.GCCell()
	if c.pins <= 0 {
		panic("heap: release of unpinned cell")
	}
	c.pins--
}

// AddRootProvider registers a callback that marks additional roots during
// collection (the VM registers its register stack, frames and globals this
// way). Providers stay registered for the heap's lifetime.
func (h *Heap) AddRootProvider(fn func(Tracer)) {
	h.rootProviders = append(h.rootProviders, fn)
}

// Len returns the number of live cells.
func (h *Heap) Len() int { return h.count }

// CollectCycles reclaims every cell that is unreachable from the root set,
// including reference cycles. Finalizers for a batch all run before any cell
// of the batch is freed.
func (h *Heap) CollectCycles() int {
	h.allocsSinceCollect = 0

	// Phase 1: reset mark state.
	for c := h.sentinel.next; c != &h.sentinel; c = c.next {
		c.marked = false
	}

	// Phase 2: mark from the roots.
	var stack []Traceable
	mark := func(t Traceable) {
		if t == nil {
			return
		}
		c := t.GCCell()
		if !c.inHeap || c.marked {
			return
		}
		c.marked = true
		stack = append(stack, t)
	}
	for c := h.sentinel.next; c != &h.sentinel; c = c.next {
		if c.pins > 0 {
			mark(c.self)
		}
	}
	for _, provider := range h.rootProviders {
		provider(mark)
	}
	h.drainMarkStack(&stack, mark)

	// Phase 3: ephemeron fixpoint. A value is live only while its key is;
	// keys marked in one round can make further values markable.
	for {
		progressed := false
		for _, e := range h.ephemerons {
			if e.key == nil || e.value == nil {
				continue
			}
			if e.key.GCCell().marked && !e.value.GCCell().marked {
				mark(e.value)
				progressed = true
			}
		}
		h.drainMarkStack(&stack, mark)
		if !progressed {
			break
		}
	}

	// Phase 4: sweep. Collect the doomed batch first so finalizers observe a
	// stable (if partially dead) graph, then clear weak handles, then free.
	var doomed []*Cell
	for c := h.sentinel.next; c != &h.sentinel; c = c.next {
		if !c.marked {
			doomed = append(doomed, c)
		}
	}
	if len(doomed) == 0 {
		return 0
	}

	h.clearDeadWeakRefs()
	h.dropDeadEphemerons()

	for _, c := range doomed {
		h.runFinalizer(c)
	}
	for _, c := range doomed {
		h.unlink(c)
	}

	h.log.Debugf("collected %d cells, %d live", len(doomed), h.count)
	return len(doomed)
}

func (h *Heap) drainMarkStack(stack *[]Traceable, mark Tracer) {
	for len(*stack) > 0 {
		t := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]
		t.Trace(mark)
	}
}

func (h *Heap) runFinalizer(c *Cell) {
	if c.finalized {
		return
	}
	c.finalized = true
	if f, ok := c.self.(Finalizable); ok {
		f.Finalize()
	}
}

func (h *Heap) unlink(c *Cell) {
	if !c.inHeap {
		return
	}
	c.prev.next = c.next
	c.next.prev = c.prev
	c.next, c.prev = nil, nil
	c.inHeap = false
	c.self = nil
	h.count--
}

// Close finalizes and frees every remaining cell. Called by Context teardown
// after the root providers stop reporting roots.
func (h *Heap) Close() {
	h.rootProviders = nil
	for c := h.sentinel.next; c != &h.sentinel; c = c.next {
		c.pins = 0
	}
	var all []*Cell
	for c := h.sentinel.next; c != &h.sentinel; c = c.next {
		all = append(all, c)
	}
	for _, c := range all {
		h.runFinalizer(c)
	}
	for _, c := range all {
		h.unlink(c)
	}
	h.weakRefs = nil
	h.ephemerons = nil
}
