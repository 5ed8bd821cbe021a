package vm

// Operator helpers shared by the dispatch loop and the embedder API.

import (
	"math"
	"math/big"
)

// addValues implements the + operator: string concatenation when either
// primitive is a string, numeric addition otherwise.
func (ctx *Context) addValues(a, b Value) (Value, error) {
	// Fast paths for the common monomorphic cases.
	if a.typ == TypeIntegerNumber && b.typ == TypeIntegerNumber {
		sum := int64(a.AsInteger()) + int64(b.AsInteger())
		if sum >= math.MinInt32 && sum <= math.MaxInt32 {
			return IntegerValue(int32(sum)), nil
		}
		return NumberValue(float64(sum)), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return NumberValue(a.NumberValueOf() + b.NumberValueOf()), nil
	}
	if a.typ == TypeString && b.typ == TypeString {
		return NewString(a.AsString() + b.AsString()), nil
	}

	pa, err := ctx.ToPrimitive(a, HintDefault)
	if err != nil {
		return Undefined, err
	}
	pb, err := ctx.ToPrimitive(b, HintDefault)
	if err != nil {
		return Undefined, err
	}
	if pa.IsString() || pb.IsString() {
		sa, err := ctx.ToString(pa)
		if err != nil {
			return Undefined, err
		}
		sb, err := ctx.ToString(pb)
		if err != nil {
			return Undefined, err
		}
		return NewString(sa + sb), nil
	}
	if pa.IsBigInt() || pb.IsBigInt() {
		if !pa.IsBigInt() || !pb.IsBigInt() {
			return Undefined, ctx.NewTypeError("Cannot mix BigInt and other types, use explicit conversions")
		}
		return NewBigInt(new(big.Int).Add(pa.AsBigInt(), pb.AsBigInt())), nil
	}
	na, err := ctx.ToNumber(pa)
	if err != nil {
		return Undefined, err
	}
	nb, err := ctx.ToNumber(pb)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(na + nb), nil
}

// numericOp runs a binary numeric operator with BigInt support.
func (ctx *Context) numericOp(a, b Value, numOp func(x, y float64) float64, bigOp func(x, y *big.Int) (*big.Int, error)) (Value, error) {
	na, err := ctx.ToNumeric(a)
	if err != nil {
		return Undefined, err
	}
	nb, err := ctx.ToNumeric(b)
	if err != nil {
		return Undefined, err
	}
	if na.IsBigInt() || nb.IsBigInt() {
		if !na.IsBigInt() || !nb.IsBigInt() {
			return Undefined, ctx.NewTypeError("Cannot mix BigInt and other types, use explicit conversions")
		}
		r, err := bigOp(na.AsBigInt(), nb.AsBigInt())
		if err != nil {
			return Undefined, err
		}
		return NewBigInt(r), nil
	}
	return NumberValue(numOp(na.NumberValueOf(), nb.NumberValueOf())), nil
}

func (ctx *Context) subtractValues(a, b Value) (Value, error) {
	if a.IsNumber() && b.IsNumber() {
		return NumberValue(a.NumberValueOf() - b.NumberValueOf()), nil
	}
	return ctx.numericOp(a, b,
		func(x, y float64) float64 { return x - y },
		func(x, y *big.Int) (*big.Int, error) { return new(big.Int).Sub(x, y), nil })
}

func (ctx *Context) multiplyValues(a, b Value) (Value, error) {
	if a.IsNumber() && b.IsNumber() {
		return NumberValue(a.NumberValueOf() * b.NumberValueOf()), nil
	}
	return ctx.numericOp(a, b,
		func(x, y float64) float64 { return x * y },
		func(x, y *big.Int) (*big.Int, error) { return new(big.Int).Mul(x, y), nil })
}

func (ctx *Context) divideValues(a, b Value) (Value, error) {
	return ctx.numericOp(a, b,
		func(x, y float64) float64 { return x / y },
		func(x, y *big.Int) (*big.Int, error) {
			if y.Sign() == 0 {
				return nil, ctx.NewRangeError("Division by zero")
			}
			return new(big.Int).Quo(x, y), nil
		})
}

func (ctx *Context) remainderValues(a, b Value) (Value, error) {
	return ctx.numericOp(a, b,
		math.Mod,
		func(x, y *big.Int) (*big.Int, error) {
			if y.Sign() == 0 {
				return nil, ctx.NewRangeError("Division by zero")
			}
			return new(big.Int).Rem(x, y), nil
		})
}

func (ctx *Context) exponentValues(a, b Value) (Value, error) {
	return ctx.numericOp(a, b,
		math.Pow,
		func(x, y *big.Int) (*big.Int, error) {
			if y.Sign() < 0 {
				return nil, ctx.NewRangeError("Exponent must be non-negative")
			}
			return new(big.Int).Exp(x, y, nil), nil
		})
}

func (ctx *Context) negateValue(a Value) (Value, error) {
	n, err := ctx.ToNumeric(a)
	if err != nil {
		return Undefined, err
	}
	if n.IsBigInt() {
		return NewBigInt(new(big.Int).Neg(n.AsBigInt())), nil
	}
	return NumberValue(-n.NumberValueOf()), nil
}

// compareValues implements the abstract relational comparison. undefinedWins
// is the result when either side is NaN (always false for < <= > >=).
func (ctx *Context) compareValues(a, b Value, op OpCode) (Value, error) {
	pa, err := ctx.ToPrimitive(a, HintNumber)
	if err != nil {
		return Undefined, err
	}
	pb, err := ctx.ToPrimitive(b, HintNumber)
	if err != nil {
		return Undefined, err
	}
	if pa.IsString() && pb.IsString() {
		sa, sb := pa.AsString(), pb.AsString()
		switch op {
		case OpLess:
			return BooleanValue(sa < sb), nil
		case OpLessEqual:
			return BooleanValue(sa <= sb), nil
		case OpGreater:
			return BooleanValue(sa > sb), nil
		default:
			return BooleanValue(sa >= sb), nil
		}
	}
	na, err := ctx.ToNumber(pa)
	if err != nil {
		return Undefined, err
	}
	nb, err := ctx.ToNumber(pb)
	if err != nil {
		return Undefined, err
	}
	if math.IsNaN(na) || math.IsNaN(nb) {
		return False, nil
	}
	switch op {
	case OpLess:
		return BooleanValue(na < nb), nil
	case OpLessEqual:
		return BooleanValue(na <= nb), nil
	case OpGreater:
		return BooleanValue(na > nb), nil
	default:
		return BooleanValue(na >= nb), nil
	}
}

func (ctx *Context) bitwiseOp(a, b Value, op OpCode) (Value, error) {
	na, err := ctx.ToNumber(a)
	if err != nil {
		return Undefined, err
	}
	nb, err := ctx.ToNumber(b)
	if err != nil {
		return Undefined, err
	}
	x, y := ToInt32(na), ToInt32(nb)
	switch op {
	case OpBitwiseAnd:
		return IntegerValue(x & y), nil
	case OpBitwiseOr:
		return IntegerValue(x | y), nil
	case OpBitwiseXor:
		return IntegerValue(x ^ y), nil
	case OpShiftLeft:
		return IntegerValue(x << (uint32(y) & 31)), nil
	case OpShiftRight:
		return IntegerValue(x >> (uint32(y) & 31)), nil
	case OpUnsignedShiftRight:
		r := uint32(x) >> (uint32(y) & 31)
		if r <= math.MaxInt32 {
			return IntegerValue(int32(r)), nil
		}
		return NumberValue(float64(r)), nil
	default:
		return Undefined, errUnknownOpcode(op)
	}
}

// hasProperty implements the in operator.
func (ctx *Context) hasPropertyOp(key, target Value) (Value, error) {
	obj := target.ObjectOrNil()
	if obj == nil {
		return Undefined, ctx.NewTypeError("Cannot use 'in' operator to search for '" +
			key.Inspect() + "' in " + target.TypeName())
	}
	pk, err := ctx.ToPropertyKey(key)
	if err != nil {
		return Undefined, err
	}
	has, err := obj.HasProperty(ctx, pk)
	return BooleanValue(has), err
}

// getIterator runs the Symbol.iterator protocol.
func (ctx *Context) getIterator(v Value) (Value, error) {
	method, err := ctx.GetV(v, SymbolKey(ctx.Realm.SymIterator))
	if err != nil {
		return Undefined, err
	}
	if !method.IsCallable() {
		return Undefined, ctx.NewTypeError(v.TypeName() + " is not iterable")
	}
	iter, err := ctx.Call(method, v, nil)
	if err != nil {
		return Undefined, err
	}
	if iter.ObjectOrNil() == nil {
		return Undefined, ctx.NewTypeError("Result of the Symbol.iterator method is not an object")
	}
	return iter, nil
}

// iteratorStep calls iterator.next() and unpacks {value, done}.
func (ctx *Context) iteratorStep(iter Value, sent Value) (Value, bool, error) {
	next, err := ctx.GetV(iter, StringKey("next"))
	if err != nil {
		return Undefined, false, err
	}
	var args []Value
	if !sent.IsEmpty() {
		args = []Value{sent}
	}
	result, err := ctx.Call(next, iter, args)
	if err != nil {
		return Undefined, false, err
	}
	ro := result.ObjectOrNil()
	if ro == nil {
		return Undefined, false, ctx.NewTypeError("Iterator result is not an object")
	}
	doneV, err := ro.Get(ctx, StringKey("done"), result)
	if err != nil {
		return Undefined, false, err
	}
	valueV, err := ro.Get(ctx, StringKey("value"), result)
	if err != nil {
		return Undefined, false, err
	}
	return valueV, ToBoolean(doneV), nil
}

// GetV reads a property off any value, wrapping primitives as needed.
func (ctx *Context) GetV(v Value, key PropertyKey) (Value, error) {
	obj, err := ctx.ToObject(v)
	if err != nil {
		return Undefined, err
	}
	return obj.Get(ctx, key, v)
}

// SetV writes a property on any value.
func (ctx *Context) SetV(v Value, key PropertyKey, value Value) error {
	obj, err := ctx.ToObject(v)
	if err != nil {
		return err
	}
	_, err = obj.Set(ctx, key, value, v)
	return err
}
