package heap

// WeakRef observes a cell's liveness without keeping it alive. After the
// target is collected, Get returns nil.
type WeakRef struct {
	target Traceable
}

// NewWeakRef creates a weak handle to t.
func (h *Heap) NewWeakRef(t Traceable) *WeakRef {
	w := &WeakRef{target: t}
	h.weakRefs = append(h.weakRefs, w)
	return w
}

// Get returns the target, or nil once it has been collected.
func (w *WeakRef) Get() Traceable { return w.target }

// Alive reports whether the target has not been collected yet.
func (w *WeakRef) Alive() bool { return w.target != nil }

// Ephemeron is a weak-key, strong-value pair: the value stays alive only as
// long as the key does, and both are dropped in the same collection cycle
// when the key dies. WeakMap entries and private-field tables build on this.
type Ephemeron struct {
	key   Traceable
	value Traceable
}

// NewEphemeron registers a key/value pair with ephemeron semantics.
func (h *Heap) NewEphemeron(key, value Traceable) *Ephemeron {
	e := &Ephemeron{key: key, value: value}
	h.ephemerons = append(h.ephemerons, e)
	return e
}

// Key returns the key, or nil once it has been collected.
func (e *Ephemeron) Key() Traceable { return e.key }

// Value returns the value, or nil once the key has been collected.
func (e *Ephemeron) Value() Traceable { return e.value }

// SetValue replaces the value held for the key.
func (e *Ephemeron) SetValue(v Traceable) {
	if e.key != nil {
		e.value = v
	}
}

func (h *Heap) clearDeadWeakRefs() {
	kept := h.weakRefs[:0]
	for _, w := range h.weakRefs {
		if w.target != nil && !w.target.GCCell().marked {
			w.target = nil
			continue
		}
		if w.target != nil {
			kept = append(kept, w)
		}
	}
	h.weakRefs = kept
}

func (h *Heap) dropDeadEphemerons() {
	kept := h.ephemerons[:0]
	for _, e := range h.ephemerons {
		if e.key != nil && !e.key.GCCell().marked {
			e.key = nil
			e.value = nil
			continue
		}
		if e.key != nil {
			kept = append(kept, e)
		}
	}
	h.ephemerons = kept
}
