package vm

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// RegExpData holds the compiled pattern of RegExp objects. Matching uses the
// regexp2 engine, which supports the backreferences and lookbehind that the
// standard library engine rejects.
type RegExpData struct {
	source string
	flags  string
	re     *regexp2.Regexp

	global bool
	sticky bool
}

// NewRegExp compiles pattern with the given flag string. Unknown or repeated
// flags and invalid patterns throw SyntaxError.
func (ctx *Context) NewRegExp(pattern, flags string) (*Object, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	var global, sticky bool
	seen := map[rune]bool{}
	for _, f := range flags {
		if seen[f] {
			return nil, ctx.NewSyntaxError("Invalid regular expression flags")
		}
		seen[f] = true
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
			opts &^= regexp2.ECMAScript // ECMAScript mode rejects Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'y':
			sticky = true
		default:
			return nil, ctx.NewSyntaxError("Invalid regular expression flags")
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, ctx.NewSyntaxError("Invalid regular expression: " + err.Error())
	}
	o := newObject(ClassRegExp, ctx.Realm.RootShape, ObjectValue(ctx.Realm.ObjectPrototype))
	o.regexp = &RegExpData{
		source: pattern,
		flags:  flags,
		re:     re,
		global: global,
		sticky: sticky,
	}
	ctx.track(o)
	o.DefineHidden("source", NewString(pattern))
	o.DefineHidden("flags", NewString(flags))
	o.SetOwn("lastIndex", IntegerValue(0))
	return o, nil
}

// RegExpSource returns the pattern text.
func (o *Object) RegExpSource() string {
	if o.regexp == nil {
		return ""
	}
	return o.regexp.source
}

// RegExpFlags returns the flag string.
func (o *Object) RegExpFlags() string {
	if o.regexp == nil {
		return ""
	}
	return o.regexp.flags
}

func (ctx *Context) regexpLastIndex(o *Object) (int, error) {
	v, err := o.Get(ctx, StringKey("lastIndex"), ObjectValue(o))
	if err != nil {
		return 0, err
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return int(ToLength(f)), nil
}

func (ctx *Context) setRegexpLastIndex(o *Object, i int) error {
	_, err := o.Set(ctx, StringKey("lastIndex"), intOrFloat(int64(i)), ObjectValue(o))
	return err
}

// RegExpExec runs the pattern against input and returns the match array, or
// null when nothing matches. Global and sticky patterns start at lastIndex
// and advance it; sticky patterns must match exactly there.
func (ctx *Context) RegExpExec(o *Object, input string) (Value, error) {
	if o.regexp == nil {
		return Null, ctx.NewTypeError("Method called on incompatible receiver")
	}
	rd := o.regexp

	start := 0
	if rd.global || rd.sticky {
		var err error
		start, err = ctx.regexpLastIndex(o)
		if err != nil {
			return Null, err
		}
		if start > len(input) {
			if err := ctx.setRegexpLastIndex(o, 0); err != nil {
				return Null, err
			}
			return Null, nil
		}
	}

	m, err := rd.re.FindStringMatchStartingAt(input, start)
	if err != nil {
		return Null, ctx.NewGenericError("regular expression error: " + err.Error())
	}
	if m == nil || (rd.sticky && m.Index != start) {
		if rd.global || rd.sticky {
			if err := ctx.setRegexpLastIndex(o, 0); err != nil {
				return Null, err
			}
		}
		return Null, nil
	}

	if rd.global || rd.sticky {
		if err := ctx.setRegexpLastIndex(o, m.Index+m.Length); err != nil {
			return Null, err
		}
	}

	groups := m.Groups()
	result := ctx.NewArray()
	for i, g := range groups {
		if len(g.Captures) == 0 {
			result.array.setElement(i, Undefined)
		} else {
			result.array.setElement(i, NewString(g.String()))
		}
	}
	result.SetOwn("index", intOrFloat(int64(m.Index)))
	result.SetOwn("input", NewString(input))

	// Named capture groups surface on a groups object, undefined when the
	// pattern has none.
	named := Undefined
	for _, g := range groups {
		if !isNumericGroupName(g.Name) {
			if named.IsUndefined() {
				no := ctx.NewObject()
				named = ObjectValue(no)
			}
			val := Undefined
			if len(g.Captures) > 0 {
				val = NewString(g.String())
			}
			named.AsObject().SetOwn(g.Name, val)
		}
	}
	result.SetOwn("groups", named)
	return ObjectValue(result), nil
}

// RegExpTest reports whether the pattern matches input.
func (ctx *Context) RegExpTest(o *Object, input string) (bool, error) {
	res, err := ctx.RegExpExec(o, input)
	if err != nil {
		return false, err
	}
	return res.typ != TypeNull, nil
}

// RegExpMatchAll collects every match of a global pattern. Non-global
// patterns throw TypeError, matching String.prototype.matchAll.
func (ctx *Context) RegExpMatchAll(o *Object, input string) (Value, error) {
	if o.regexp == nil || !o.regexp.global {
		return Null, ctx.NewTypeError("matchAll must be called with a global RegExp")
	}
	if err := ctx.setRegexpLastIndex(o, 0); err != nil {
		return Null, err
	}
	results := ctx.NewArray()
	i := 0
	for {
		if err := ctx.vm.chargeTick(); err != nil {
			return Null, err
		}
		m, err := ctx.RegExpExec(o, input)
		if err != nil {
			return Null, err
		}
		if m.typ == TypeNull {
			break
		}
		results.array.setElement(i, m)
		i++
		// Zero-length matches advance by one to guarantee progress.
		last, err := ctx.regexpLastIndex(o)
		if err != nil {
			return Null, err
		}
		if matchLength(m.AsObject()) == 0 {
			if err := ctx.setRegexpLastIndex(o, last+1); err != nil {
				return Null, err
			}
		}
	}
	return ObjectValue(results), nil
}

func matchLength(match *Object) int {
	if match.array == nil || len(match.array.elements) == 0 {
		return 0
	}
	v := match.array.elements[0]
	if v.typ != TypeString {
		return 0
	}
	return len(v.AsString())
}

// isNumericGroupName reports regexp2's positional group names ("0", "1", ...)
// as opposed to named captures.
func isNumericGroupName(name string) bool {
	return name != "" && strings.TrimLeft(name, "0123456789") == ""
}
