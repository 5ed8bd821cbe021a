package vm

import (
	"fmt"
	"math"
	"math/big"
	"unsafe"
)

// ValueType tags the Value union. Objects of every kind share TypeObject; the
// kind lives on the Object itself so the tag stays stable across shape and
// representation changes.
type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull

	TypeBoolean
	TypeFloatNumber
	TypeIntegerNumber
	TypeBigInt

	TypeString
	TypeSymbol

	TypeObject

	TypeHole          // internal marker for array holes
	TypeUninitialized // TDZ marker for let/const before initialization
	TypeEmpty         // unset register/completion slot
)

// String returns a human-readable name of the tag, for diagnostics.
func (vt ValueType) String() string {
	switch vt {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeBigInt:
		return "bigint"
	case TypeString:
		return "string"
	case TypeSymbol:
		return "symbol"
	case TypeObject:
		return "object"
	case TypeHole:
		return "hole"
	case TypeUninitialized:
		return "uninitialized"
	case TypeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// stringPayload boxes an immutable string. Strings are not heap cells; Go's
// collector handles them and they carry no traced references.
type stringPayload struct {
	value string
}

// Symbol is a unique property key. Identity is pointer identity; the
// description is diagnostic only. Registered (Symbol.for) symbols live in the
// realm's registry, well-known symbols on the Realm.
type Symbol struct {
	Description string
	registered  bool
}

type bigIntPayload struct {
	value *big.Int
}

// Value is the engine's tagged scalar. Numbers and booleans live in payload,
// strings/symbols/bigints in dedicated boxes behind obj, and every object
// kind behind obj as *Object. Value is copied freely; it never owns a pin.
type Value struct {
	typ     ValueType
	payload uint64
	obj     unsafe.Pointer
}

var (
	Undefined     = Value{typ: TypeUndefined}
	Null          = Value{typ: TypeNull}
	Hole          = Value{typ: TypeHole}
	Uninitialized = Value{typ: TypeUninitialized}
	Empty         = Value{typ: TypeEmpty}
	True          = Value{typ: TypeBoolean, payload: 1}
	False         = Value{typ: TypeBoolean, payload: 0}
	NaN           = Value{typ: TypeFloatNumber, payload: math.Float64bits(math.NaN())}
)

func NumberValue(value float64) Value {
	return Value{typ: TypeFloatNumber, payload: math.Float64bits(value)}
}

func IntegerValue(value int32) Value {
	return Value{typ: TypeIntegerNumber, payload: uint64(int64(value))}
}

// intOrFloat picks the integer representation when the value fits in 32 bits.
func intOrFloat(i int64) Value {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return IntegerValue(int32(i))
	}
	return NumberValue(float64(i))
}

func BooleanValue(value bool) Value {
	if value {
		return True
	}
	return False
}

func NewString(value string) Value {
	return Value{typ: TypeString, obj: unsafe.Pointer(&stringPayload{value: value})}
}

func NewSymbol(description string) Value {
	return Value{typ: TypeSymbol, obj: unsafe.Pointer(&Symbol{Description: description})}
}

func SymbolValue(s *Symbol) Value {
	return Value{typ: TypeSymbol, obj: unsafe.Pointer(s)}
}

func NewBigInt(value *big.Int) Value {
	return Value{typ: TypeBigInt, obj: unsafe.Pointer(&bigIntPayload{value: value})}
}

// ObjectValue wraps a heap object. The object must already be registered with
// its context's heap.
func ObjectValue(o *Object) Value {
	return Value{typ: TypeObject, obj: unsafe.Pointer(o)}
}

func (v Value) Type() ValueType { return v.typ }

// TypeName implements the typeof operator. Callable objects report
// "function"; a revoked proxy keeps the answer it had at revocation time.
func (v Value) TypeName() string {
	switch v.typ {
	case TypeUndefined, TypeUninitialized:
		return "undefined"
	case TypeNull:
		return "object"
	case TypeBoolean:
		return "boolean"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeBigInt:
		return "bigint"
	case TypeString:
		return "string"
	case TypeSymbol:
		return "symbol"
	case TypeObject:
		if v.AsObject().IsCallable() {
			return "function"
		}
		return "object"
	default:
		return fmt.Sprintf("<unknown type: %d>", v.typ)
	}
}

func (v Value) IsUndefined() bool     { return v.typ == TypeUndefined }
func (v Value) IsNull() bool          { return v.typ == TypeNull }
func (v Value) IsNullish() bool       { return v.typ == TypeUndefined || v.typ == TypeNull }
func (v Value) IsBoolean() bool       { return v.typ == TypeBoolean }
func (v Value) IsNumber() bool        { return v.typ == TypeFloatNumber || v.typ == TypeIntegerNumber }
func (v Value) IsIntegerNumber() bool { return v.typ == TypeIntegerNumber }
func (v Value) IsBigInt() bool        { return v.typ == TypeBigInt }
func (v Value) IsString() bool        { return v.typ == TypeString }
func (v Value) IsSymbol() bool        { return v.typ == TypeSymbol }
func (v Value) IsObject() bool        { return v.typ == TypeObject }
func (v Value) IsHole() bool          { return v.typ == TypeHole }
func (v Value) IsUninitialized() bool { return v.typ == TypeUninitialized }
func (v Value) IsEmpty() bool         { return v.typ == TypeEmpty }

func (v Value) IsCallable() bool {
	return v.typ == TypeObject && v.AsObject().IsCallable()
}

func (v Value) IsConstructor() bool {
	return v.typ == TypeObject && v.AsObject().IsConstructor()
}

func (v Value) AsBoolean() bool {
	if v.typ != TypeBoolean {
		panic("value is not a boolean")
	}
	return v.payload != 0
}

func (v Value) AsFloat() float64 {
	if v.typ != TypeFloatNumber {
		panic("value is not a float")
	}
	return math.Float64frombits(v.payload)
}

func (v Value) AsInteger() int32 {
	if v.typ != TypeIntegerNumber {
		panic("value is not an integer")
	}
	return int32(v.payload)
}

// NumberValueOf returns the float64 behind either number representation.
func (v Value) NumberValueOf() float64 {
	switch v.typ {
	case TypeFloatNumber:
		return math.Float64frombits(v.payload)
	case TypeIntegerNumber:
		return float64(int32(v.payload))
	default:
		panic("value is not a number")
	}
}

func (v Value) AsString() string {
	if v.typ != TypeString {
		panic("value is not a string")
	}
	return (*stringPayload)(v.obj).value
}

func (v Value) AsSymbol() *Symbol {
	if v.typ != TypeSymbol {
		panic("value is not a symbol")
	}
	return (*Symbol)(v.obj)
}

func (v Value) AsBigInt() *big.Int {
	if v.typ != TypeBigInt {
		panic("value is not a bigint")
	}
	return (*bigIntPayload)(v.obj).value
}

func (v Value) AsObject() *Object {
	if v.typ != TypeObject {
		panic("value is not an object")
	}
	return (*Object)(v.obj)
}

// ObjectOrNil returns the object pointer or nil for non-objects, for code
// paths that branch rather than panic.
func (v Value) ObjectOrNil() *Object {
	if v.typ != TypeObject {
		return nil
	}
	return (*Object)(v.obj)
}

// StrictEquals implements the === operator.
func StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.NumberValueOf() == b.NumberValueOf()
	}
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case TypeUndefined, TypeNull:
		return true
	case TypeBoolean:
		return a.payload == b.payload
	case TypeString:
		return a.AsString() == b.AsString()
	case TypeSymbol, TypeObject:
		return a.obj == b.obj
	case TypeBigInt:
		return a.AsBigInt().Cmp(b.AsBigInt()) == 0
	default:
		return false
	}
}

// SameValue distinguishes +0 from -0 and treats NaN as equal to itself.
func SameValue(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.NumberValueOf(), b.NumberValueOf()
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		if x == 0 && y == 0 {
			return math.Signbit(x) == math.Signbit(y)
		}
		return x == y
	}
	return StrictEquals(a, b)
}

// SameValueZero is SameValue except +0 and -0 compare equal. Map/Set keys and
// Array.prototype.includes use this.
func SameValueZero(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.NumberValueOf(), b.NumberValueOf()
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y
	}
	return StrictEquals(a, b)
}

// Inspect renders a value for diagnostics and the disassembler. It never
// calls user code.
func (v Value) Inspect() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		if v.payload != 0 {
			return "true"
		}
		return "false"
	case TypeFloatNumber, TypeIntegerNumber:
		return formatNumber(v.NumberValueOf())
	case TypeBigInt:
		return v.AsBigInt().String() + "n"
	case TypeString:
		return "\"" + v.AsString() + "\""
	case TypeSymbol:
		return "Symbol(" + v.AsSymbol().Description + ")"
	case TypeObject:
		return v.AsObject().inspect()
	case TypeHole:
		return "<hole>"
	case TypeUninitialized:
		return "<uninitialized>"
	case TypeEmpty:
		return "<empty>"
	default:
		return fmt.Sprintf("<unknown:%d>", v.typ)
	}
}
