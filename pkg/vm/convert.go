package vm

// Abstract conversion operations. The pure ones (ToBoolean, number
// formatting, ToIntegerOrInfinity) are free functions; anything that can run
// user code (ToPrimitive and everything built on it for objects) lives on
// *Context and returns an error carrying the thrown value.

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// PreferredType biases ToPrimitive's hint.
type PreferredType int

const (
	HintDefault PreferredType = iota
	HintNumber
	HintString
)

func ToBoolean(v Value) bool {
	switch v.typ {
	case TypeUndefined, TypeNull, TypeUninitialized, TypeEmpty, TypeHole:
		return false
	case TypeBoolean:
		return v.payload != 0
	case TypeFloatNumber:
		f := v.AsFloat()
		return f != 0 && !math.IsNaN(f)
	case TypeIntegerNumber:
		return v.AsInteger() != 0
	case TypeBigInt:
		return v.AsBigInt().Sign() != 0
	case TypeString:
		return v.AsString() != ""
	default:
		return true
	}
}

// stringToNumber implements the StringNumericLiteral grammar: trimmed empty
// string is 0, hex/octal/binary prefixes are honored, anything else NaN.
func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		var base int
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// toNumberPrimitive converts a non-object value to a number. BigInt and
// Symbol are the caller's problem; they must throw TypeError first.
func toNumberPrimitive(v Value) float64 {
	switch v.typ {
	case TypeUndefined:
		return math.NaN()
	case TypeNull:
		return 0
	case TypeBoolean:
		if v.payload != 0 {
			return 1
		}
		return 0
	case TypeFloatNumber:
		return v.AsFloat()
	case TypeIntegerNumber:
		return float64(v.AsInteger())
	case TypeString:
		return stringToNumber(v.AsString())
	default:
		return math.NaN()
	}
}

// ToNumber converts v, running valueOf/toString on objects. Symbols and
// BigInts throw TypeError.
func (ctx *Context) ToNumber(v Value) (float64, error) {
	if v.typ == TypeObject {
		prim, err := ctx.ToPrimitive(v, HintNumber)
		if err != nil {
			return 0, err
		}
		v = prim
	}
	switch v.typ {
	case TypeSymbol:
		return 0, ctx.NewTypeError("cannot convert a Symbol to a number")
	case TypeBigInt:
		return 0, ctx.NewTypeError("cannot convert a BigInt to a number")
	}
	return toNumberPrimitive(v), nil
}

// ToNumeric is ToNumber that lets BigInt through for arithmetic operators.
func (ctx *Context) ToNumeric(v Value) (Value, error) {
	if v.typ == TypeObject {
		prim, err := ctx.ToPrimitive(v, HintNumber)
		if err != nil {
			return Undefined, err
		}
		v = prim
	}
	if v.typ == TypeBigInt {
		return v, nil
	}
	if v.typ == TypeSymbol {
		return Undefined, ctx.NewTypeError("cannot convert a Symbol to a number")
	}
	return NumberValue(toNumberPrimitive(v)), nil
}

// formatNumber renders a float64 the way Number.prototype.toString does.
func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	return cleanExponentialFormat(s)
}

// cleanExponentialFormat strips leading zeros from the exponent so that Go's
// "1e-07" becomes the JS-shaped "1e-7".
func cleanExponentialFormat(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 'e' || s[i] == 'E' {
			if i+1 < len(s) && (s[i+1] == '+' || s[i+1] == '-') {
				sign := s[i+1]
				j := i + 2
				for j < len(s) && s[j] == '0' {
					j++
				}
				if j >= len(s) {
					return s[:i+2] + "0"
				}
				return s[:i+1] + string(sign) + s[j:]
			}
			break
		}
	}
	return s
}

// ToString converts v, running toString/valueOf on objects. Symbols throw.
func (ctx *Context) ToString(v Value) (string, error) {
	if v.typ == TypeObject {
		prim, err := ctx.ToPrimitive(v, HintString)
		if err != nil {
			return "", err
		}
		v = prim
	}
	switch v.typ {
	case TypeUndefined:
		return "undefined", nil
	case TypeNull:
		return "null", nil
	case TypeBoolean:
		if v.payload != 0 {
			return "true", nil
		}
		return "false", nil
	case TypeFloatNumber, TypeIntegerNumber:
		return formatNumber(v.NumberValueOf()), nil
	case TypeBigInt:
		return v.AsBigInt().String(), nil
	case TypeString:
		return v.AsString(), nil
	case TypeSymbol:
		return "", ctx.NewTypeError("cannot convert a Symbol to a string")
	default:
		return "", ctx.NewTypeError("cannot convert value to a string")
	}
}

// ToPropertyKey converts v to a string or keeps it as a symbol.
func (ctx *Context) ToPropertyKey(v Value) (PropertyKey, error) {
	if v.typ == TypeObject {
		prim, err := ctx.ToPrimitive(v, HintString)
		if err != nil {
			return PropertyKey{}, err
		}
		v = prim
	}
	if v.typ == TypeSymbol {
		return SymbolKey(v.AsSymbol()), nil
	}
	s, err := ctx.ToString(v)
	if err != nil {
		return PropertyKey{}, err
	}
	return StringKey(s), nil
}

// maxSafeInteger is 2^53 - 1.
const maxSafeInteger = 9007199254740991

// ToIntegerOrInfinity truncates toward zero. undefined, NaN and signed zeros
// map to 0; infinities are preserved; finite results are clamped to the safe
// integer range.
func ToIntegerOrInfinity(f float64) float64 {
	if math.IsNaN(f) || f == 0 {
		return 0
	}
	if math.IsInf(f, 0) {
		return f
	}
	t := math.Trunc(f)
	if t > maxSafeInteger {
		return maxSafeInteger
	}
	if t < -maxSafeInteger {
		return -maxSafeInteger
	}
	return t
}

// ToLength clamps to [0, 2^53-1] for array-like length reads.
func ToLength(f float64) int64 {
	t := ToIntegerOrInfinity(f)
	if t <= 0 {
		return 0
	}
	if t > maxSafeInteger {
		return maxSafeInteger
	}
	return int64(t)
}

// ToInt32 implements the modular wrap used by bitwise operators.
func ToInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return 0
	}
	return int32(uint32(int64(math.Trunc(f))))
}

func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return 0
	}
	return uint32(int64(math.Trunc(f)))
}

// ToIndex validates an array/buffer index argument: integral, non-negative,
// within the safe range.
func (ctx *Context) ToIndex(v Value) (int, error) {
	if v.IsUndefined() {
		return 0, nil
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	i := ToIntegerOrInfinity(f)
	if i < 0 || i > maxSafeInteger {
		return 0, ctx.NewRangeError("invalid index")
	}
	return int(i), nil
}

// ToPrimitive runs the OrdinaryToPrimitive protocol, honoring a
// Symbol.toPrimitive method when the object provides one.
func (ctx *Context) ToPrimitive(v Value, hint PreferredType) (Value, error) {
	if v.typ != TypeObject {
		return v, nil
	}
	obj := v.AsObject()

	exotic, err := obj.Get(ctx, SymbolKey(ctx.Realm.SymToPrimitive), v)
	if err != nil {
		return Undefined, err
	}
	if !exotic.IsNullish() {
		if !exotic.IsCallable() {
			return Undefined, ctx.NewTypeError("Symbol.toPrimitive is not callable")
		}
		hintName := "default"
		switch hint {
		case HintNumber:
			hintName = "number"
		case HintString:
			hintName = "string"
		}
		result, err := ctx.Call(exotic, v, []Value{NewString(hintName)})
		if err != nil {
			return Undefined, err
		}
		if result.typ == TypeObject {
			return Undefined, ctx.NewTypeError("Symbol.toPrimitive returned an object")
		}
		return result, nil
	}

	methods := []string{"valueOf", "toString"}
	if hint == HintString {
		methods = []string{"toString", "valueOf"}
	}
	for _, name := range methods {
		method, err := obj.Get(ctx, StringKey(name), v)
		if err != nil {
			return Undefined, err
		}
		if method.IsCallable() {
			result, err := ctx.Call(method, v, nil)
			if err != nil {
				return Undefined, err
			}
			if result.typ != TypeObject {
				return result, nil
			}
		}
	}
	return Undefined, ctx.NewTypeError("cannot convert object to primitive value")
}

// ToObject wraps primitives in their realm wrapper objects. undefined and
// null throw TypeError.
func (ctx *Context) ToObject(v Value) (*Object, error) {
	switch v.typ {
	case TypeObject:
		return v.AsObject(), nil
	case TypeUndefined, TypeNull:
		return nil, ctx.NewTypeError("cannot convert " + v.TypeName() + " to object")
	case TypeBoolean:
		return ctx.newPrimitiveWrapper(ClassBoolean, ctx.Realm.BooleanPrototype, v), nil
	case TypeFloatNumber, TypeIntegerNumber:
		return ctx.newPrimitiveWrapper(ClassNumber, ctx.Realm.NumberPrototype, v), nil
	case TypeBigInt:
		return ctx.newPrimitiveWrapper(ClassBigInt, ctx.Realm.BigIntPrototype, v), nil
	case TypeString:
		return ctx.newStringWrapper(v.AsString()), nil
	case TypeSymbol:
		return ctx.newPrimitiveWrapper(ClassSymbol, ctx.Realm.SymbolPrototype, v), nil
	default:
		return nil, ctx.NewTypeError("cannot convert value to object")
	}
}

// LooseEquals implements the == operator.
func (ctx *Context) LooseEquals(a, b Value) (bool, error) {
	for {
		if a.IsNumber() && b.IsNumber() {
			return a.NumberValueOf() == b.NumberValueOf(), nil
		}
		if a.typ == b.typ {
			return StrictEquals(a, b), nil
		}
		switch {
		case a.IsNullish() && b.IsNullish():
			return true, nil
		case a.IsNullish() || b.IsNullish():
			return false, nil
		case a.IsNumber() && b.IsString():
			return a.NumberValueOf() == stringToNumber(b.AsString()), nil
		case a.IsString() && b.IsNumber():
			return stringToNumber(a.AsString()) == b.NumberValueOf(), nil
		case a.IsBigInt() && b.IsString():
			bi, ok := new(big.Int).SetString(strings.TrimSpace(b.AsString()), 10)
			return ok && a.AsBigInt().Cmp(bi) == 0, nil
		case a.IsString() && b.IsBigInt():
			return ctx.LooseEquals(b, a)
		case a.IsBoolean():
			a = NumberValue(toNumberPrimitive(a))
		case b.IsBoolean():
			b = NumberValue(toNumberPrimitive(b))
		case a.IsBigInt() && b.IsNumber():
			f := b.NumberValueOf()
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return false, nil
			}
			return a.AsBigInt().Cmp(big.NewInt(int64(f))) == 0, nil
		case a.IsNumber() && b.IsBigInt():
			return ctx.LooseEquals(b, a)
		case a.typ != TypeObject && b.typ == TypeObject:
			prim, err := ctx.ToPrimitive(b, HintDefault)
			if err != nil {
				return false, err
			}
			b = prim
		case a.typ == TypeObject && b.typ != TypeObject:
			prim, err := ctx.ToPrimitive(a, HintDefault)
			if err != nil {
				return false, err
			}
			a = prim
		default:
			return false, nil
		}
	}
}
