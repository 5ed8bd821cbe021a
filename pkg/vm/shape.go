package vm

import "fmt"

type KeyKind uint8

const (
	KeyKindString KeyKind = iota
	KeyKindSymbol
)

// PropertyKey is a string or symbol property name.
type PropertyKey struct {
	kind KeyKind
	name string  // for string keys
	sym  *Symbol // for symbol keys
}

func StringKey(name string) PropertyKey { return PropertyKey{kind: KeyKindString, name: name} }
func SymbolKey(s *Symbol) PropertyKey   { return PropertyKey{kind: KeyKindSymbol, sym: s} }

func (k PropertyKey) IsString() bool  { return k.kind == KeyKindString }
func (k PropertyKey) IsSymbol() bool  { return k.kind == KeyKindSymbol }
func (k PropertyKey) Name() string    { return k.name }
func (k PropertyKey) Symbol() *Symbol { return k.sym }

// Value converts the key back to a JS value (string or symbol).
func (k PropertyKey) Value() Value {
	if k.kind == KeyKindSymbol {
		return SymbolValue(k.sym)
	}
	return NewString(k.name)
}

func (k PropertyKey) equals(other PropertyKey) bool {
	if k.kind != other.kind {
		return false
	}
	if k.kind == KeyKindSymbol {
		return k.sym == other.sym
	}
	return k.name == other.name
}

// hash returns the transition-map key. Symbols hash by identity.
func (k PropertyKey) hash() string {
	if k.kind == KeyKindSymbol {
		return fmt.Sprintf("y:%p", k.sym)
	}
	return "s:" + k.name
}

func (k PropertyKey) debugName() string {
	if k.kind == KeyKindSymbol {
		return "Symbol(" + k.sym.Description + ")"
	}
	return k.name
}

// arrayIndex reports whether the key is a canonical array index and returns
// it. "01" and "4294967295" are plain string keys.
func (k PropertyKey) arrayIndex() (int, bool) {
	if k.kind != KeyKindString || k.name == "" {
		return 0, false
	}
	if k.name == "0" {
		return 0, true
	}
	if k.name[0] < '1' || k.name[0] > '9' {
		return 0, false
	}
	n := 0
	for i := 0; i < len(k.name); i++ {
		c := k.name[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n >= 1<<32-1 {
			return 0, false
		}
	}
	return n, true
}

// Field describes one slot in a shape's layout. Data properties occupy one
// slot at offset; accessor properties occupy two consecutive slots, getter at
// offset and setter at offset+1.
type Field struct {
	key          PropertyKey
	offset       int
	writable     bool
	enumerable   bool
	configurable bool
	accessor     bool
}

func (f *Field) slotWidth() int {
	if f.accessor {
		return 2
	}
	return 1
}

// Shape is a hidden class: an immutable property layout shared by every
// object created through the same sequence of property additions. Adding a
// property transitions to a child shape; asking twice for the same
// (key, attributes) transition from the same parent yields the same child.
type Shape struct {
	parent      *Shape
	fields      []Field
	slotCount   int
	transitions map[transitionKey]*Shape
}

// transitionKey identifies a child shape: same key with different attributes
// or kind must produce a different child.
type transitionKey struct {
	hash         string
	writable     bool
	enumerable   bool
	configurable bool
	accessor     bool
}

// NewRootShape returns an empty shape. Each realm has one; sharing a root
// across realms would leak shapes between isolated heaps.
func NewRootShape() *Shape {
	return &Shape{}
}

func (s *Shape) find(key PropertyKey) (*Field, int) {
	for i := range s.fields {
		if s.fields[i].key.equals(key) {
			return &s.fields[i], i
		}
	}
	return nil, -1
}

// transition returns the child shape with the given field appended, creating
// and memoizing it on first use.
func (s *Shape) transition(key PropertyKey, writable, enumerable, configurable, accessor bool) *Shape {
	tk := transitionKey{
		hash:         key.hash(),
		writable:     writable,
		enumerable:   enumerable,
		configurable: configurable,
		accessor:     accessor,
	}
	if child, ok := s.transitions[tk]; ok {
		return child
	}
	f := Field{
		key:          key,
		offset:       s.slotCount,
		writable:     writable,
		enumerable:   enumerable,
		configurable: configurable,
		accessor:     accessor,
	}
	child := &Shape{
		parent:    s,
		fields:    make([]Field, len(s.fields)+1),
		slotCount: s.slotCount + f.slotWidth(),
	}
	copy(child.fields, s.fields)
	child.fields[len(s.fields)] = f
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]*Shape)
	}
	s.transitions[tk] = child
	return child
}

// withoutField builds a fresh unshared shape lacking the field at index idx.
// Deletion breaks out of the transition tree on purpose: deleted-from layouts
// are rare and must not pollute shared transitions.
func (s *Shape) withoutField(idx int) *Shape {
	removed := s.fields[idx]
	width := removed.slotWidth()
	child := &Shape{
		parent:    s.parent,
		fields:    make([]Field, 0, len(s.fields)-1),
		slotCount: s.slotCount - width,
	}
	for i := range s.fields {
		if i == idx {
			continue
		}
		f := s.fields[i]
		if f.offset > removed.offset {
			f.offset -= width
		}
		child.fields = append(child.fields, f)
	}
	return child
}

// withFieldAttrs builds a fresh unshared shape with the field at idx carrying
// new attributes. Used by defineProperty reconfiguration; the slot layout is
// preserved when the data/accessor kind does not change.
func (s *Shape) withFieldAttrs(idx int, writable, enumerable, configurable bool) *Shape {
	child := &Shape{
		parent:    s.parent,
		fields:    make([]Field, len(s.fields)),
		slotCount: s.slotCount,
	}
	copy(child.fields, s.fields)
	child.fields[idx].writable = writable
	child.fields[idx].enumerable = enumerable
	child.fields[idx].configurable = configurable
	return child
}
