// Package value defines the dynamic value representation shared by the
// expression engine, execution context, and statement interpreter.
//
// Context values are never the host language's raw reflection surface:
// every value flowing through evaluation is one of a closed set of kinds
// (null, bool, int, float, string, list, map, or an opaque handle such as
// a QueryResult or an LLM client reference). Value is a thin alias over
// `any` rather than a hand-rolled tagged union — the set of concrete Go
// types stored in it is the tag, exactly as encoding/json represents
// parsed JSON. Helpers in this package are the only sanctioned way to
// inspect or coerce a Value; callers should not type-switch directly so
// that behavior (truthiness, stringification, equality) stays centralized.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is the dynamic value type threaded through context lookups,
// expression evaluation, and databinding. Its only legal dynamic types are:
// nil, bool, int64, float64, string, []Value, map[string]Value, and
// Handle (an opaque, named reference such as a QueryResult or LLM client).
type Value = any

// Handle wraps a non-primitive object (a query result, a registered LLM
// configuration, a websocket connection reference, ...) so it can travel
// through a Value-typed context without leaking the concrete Go type to
// expression evaluation. Expressions may only read through declared
// accessor attributes (see Attr).
type Handle struct {
	Kind string
	Obj  any
}

func (h Handle) String() string { return fmt.Sprintf("<%s>", h.Kind) }

// Undefined is the sentinel returned by context lookups for a name that
// was never set. It is distinct from an explicit nil assignment so that
// `UndefinedName` can be raised in expression evaluation.
type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

var Undefined Value = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v Value) bool {
	_, ok := v.(undefinedType)
	return ok
}

// Truthy implements the coercion rules used by evaluateCondition and by
// `q:if`: non-empty container / non-zero number / non-empty string /
// non-null.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil, undefinedType:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []Value:
		return len(t) > 0
	case map[string]Value:
		return len(t) > 0
	case Handle:
		return true
	default:
		return true
	}
}

// Stringify renders v the way databinding substitution does: numbers use
// their minimal decimal form, booleans are "true"/"false", lists and maps
// use a compact JSON-like rendering, nil/undefined render as the empty
// string.
func Stringify(v Value) string {
	switch t := v.(type) {
	case nil, undefinedType:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []Value:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringifyInner(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]Value:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q: %s", k, stringifyInner(t[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Handle:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func stringifyInner(v Value) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return Stringify(v)
}

// Equal reports deep equality between two Values using the rules the
// expression engine's comparison operators rely on.
func Equal(a, b Value) bool {
	an, aIsNum := asFloat(a)
	bn, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	switch at := a.(type) {
	case []Value:
		bt, ok := b.([]Value)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]Value:
		bt, ok := b.(map[string]Value)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			bv, ok := bt[k]
			if !ok || !Equal(v, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Attr resolves attribute/index access (`a.b`, `a["b"]`, `a[0]`) used by
// both the expression engine and databinding. It understands maps, lists
// (integer index), strings (integer index -> 1-rune string), and Handles
// whose Obj has a Field(name) method, to which a string key is passed.
func Attr(base Value, key Value) (Value, bool) {
	switch b := base.(type) {
	case map[string]Value:
		ks, ok := key.(string)
		if !ok {
			return Undefined, false
		}
		v, ok := b[ks]
		return v, ok
	case []Value:
		idx, ok := asInt(key)
		if !ok || idx < 0 || idx >= len(b) {
			return Undefined, false
		}
		return b[idx], true
	case string:
		idx, ok := asInt(key)
		if !ok || idx < 0 || idx >= len([]rune(b)) {
			return Undefined, false
		}
		return string([]rune(b)[idx]), true
	case Handle:
		return handleAttr(b, key)
	default:
		return Undefined, false
	}
}

func handleAttr(h Handle, key Value) (Value, bool) {
	ks, ok := key.(string)
	if !ok {
		return Undefined, false
	}
	type fielder interface {
		Field(name string) (Value, bool)
	}
	if f, ok := h.Obj.(fielder); ok {
		return f.Field(ks)
	}
	return Undefined, false
}

func asInt(v Value) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// Len implements the `len` safe built-in across strings, lists and maps.
func Len(v Value) (int, bool) {
	switch t := v.(type) {
	case string:
		return len([]rune(t)), true
	case []Value:
		return len(t), true
	case map[string]Value:
		return len(t), true
	default:
		return 0, false
	}
}

// ToFloat64 exposes numeric coercion for built-ins like abs/round/int/float.
func ToFloat64(v Value) (float64, bool) { return asFloat(v) }

// FromAny converts a plain Go value (as produced by e.g. encoding/json,
// a database row, or a collaborator response) into a Value, recursively
// turning map[string]any into map[string]Value and []any into []Value.
// Other values, including scalars such as int, are returned unchanged.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, vv := range t {
			out[k] = FromAny(vv)
		}
		return out
	case []any:
		out := make([]Value, len(t))
		for i, vv := range t {
			out[i] = FromAny(vv)
		}
		return out
	default:
		return t
	}
}
