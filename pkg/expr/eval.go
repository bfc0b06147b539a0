// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"math"
	"sort"

	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/value"
)

// evalCtx wraps the caller context for identifier lookup; it is never
// mutated.
type evalCtx struct {
	vars map[string]value.Value
}

func (c *evalCtx) lookup(name string) (value.Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

func evalNode(n node, ctx *evalCtx) (value.Value, error) {
	switch t := n.(type) {
	case numberLit:
		return t.value, nil
	case stringLit:
		return t.value, nil
	case boolLit:
		return t.value, nil
	case nullLit:
		return nil, nil
	case identNode:
		v, ok := ctx.lookup(t.name)
		if !ok {
			return nil, qerr.New(qerr.KindUndefinedName, "name %q is not defined", t.name)
		}
		return v, nil
	case *attrNode:
		base, err := evalNode(t.base, ctx)
		if err != nil {
			return nil, err
		}
		v, ok := value.Attr(base, t.name)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "no attribute %q", t.name)
		}
		return v, nil
	case *indexNode:
		base, err := evalNode(t.base, ctx)
		if err != nil {
			return nil, err
		}
		idx, err := evalNode(t.index, ctx)
		if err != nil {
			return nil, err
		}
		v, ok := value.Attr(base, idx)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "index out of range or unsupported base type")
		}
		return v, nil
	case *unaryNode:
		return evalUnary(t, ctx)
	case *binaryNode:
		return evalBinary(t, ctx)
	case *boolOpNode:
		return evalBoolOp(t, ctx)
	case *condNode:
		cond, err := evalNode(t.cond, ctx)
		if err != nil {
			return nil, err
		}
		if value.Truthy(cond) {
			return evalNode(t.then, ctx)
		}
		return evalNode(t.els, ctx)
	case *callNode:
		return evalCall(t, ctx)
	case *listNode:
		out := make([]value.Value, len(t.items))
		for i, item := range t.items {
			v, err := evalNode(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *dictNode:
		out := make(map[string]value.Value, len(t.keys))
		for i, k := range t.keys {
			kv, err := evalNode(k, ctx)
			if err != nil {
				return nil, err
			}
			vv, err := evalNode(t.values[i], ctx)
			if err != nil {
				return nil, err
			}
			out[value.Stringify(kv)] = vv
		}
		return out, nil
	default:
		return nil, qerr.New(qerr.KindRuntime, "unhandled expression node %T", n)
	}
}

func evalUnary(t *unaryNode, ctx *evalCtx) (value.Value, error) {
	v, err := evalNode(t.operand, ctx)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case "not":
		return !value.Truthy(v), nil
	case "-":
		f, ok := value.ToFloat64(v)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "unary '-' requires a number")
		}
		return -f, nil
	case "+":
		f, ok := value.ToFloat64(v)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "unary '+' requires a number")
		}
		return f, nil
	default:
		return nil, qerr.New(qerr.KindRuntime, "unknown unary operator %q", t.op)
	}
}

func evalBoolOp(t *boolOpNode, ctx *evalCtx) (value.Value, error) {
	left, err := evalNode(t.left, ctx)
	if err != nil {
		return nil, err
	}
	if t.op == "and" {
		if !value.Truthy(left) {
			return left, nil
		}
		return evalNode(t.right, ctx)
	}
	// or
	if value.Truthy(left) {
		return left, nil
	}
	return evalNode(t.right, ctx)
}

func evalBinary(t *binaryNode, ctx *evalCtx) (value.Value, error) {
	left, err := evalNode(t.left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(t.right, ctx)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case "==":
		return value.Equal(left, right), nil
	case "!=":
		return !value.Equal(left, right), nil
	case "<", ">", "<=", ">=":
		return compareOrdered(t.op, left, right)
	case "in":
		return evalIn(left, right)
	case "+":
		return evalAdd(left, right)
	case "-", "*", "/", "%", "**":
		return evalArith(t.op, left, right)
	default:
		return nil, qerr.New(qerr.KindRuntime, "unknown binary operator %q", t.op)
	}
}

func compareOrdered(op string, left, right value.Value) (value.Value, error) {
	lf, lok := value.ToFloat64(left)
	rf, rok := value.ToFloat64(right)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case ">":
			return lf > rf, nil
		case "<=":
			return lf <= rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case ">":
			return ls > rs, nil
		case "<=":
			return ls <= rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, qerr.New(qerr.KindRuntime, "operator %q not supported between these operand types", op)
}

func evalIn(left, right value.Value) (value.Value, error) {
	switch r := right.(type) {
	case []value.Value:
		for _, item := range r {
			if value.Equal(left, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]value.Value:
		ls, ok := left.(string)
		if !ok {
			return false, nil
		}
		_, found := r[ls]
		return found, nil
	case string:
		ls, ok := left.(string)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "'in' on a string requires a string operand")
		}
		return contains(r, ls), nil
	default:
		return nil, qerr.New(qerr.KindRuntime, "'in' unsupported for this container type")
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func evalAdd(left, right value.Value) (value.Value, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
		return nil, qerr.New(qerr.KindRuntime, "cannot add string and non-string")
	}
	if ll, ok := left.([]value.Value); ok {
		if rl, ok := right.([]value.Value); ok {
			out := make([]value.Value, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
		return nil, qerr.New(qerr.KindRuntime, "cannot add list and non-list")
	}
	lf, lok := value.ToFloat64(left)
	rf, rok := value.ToFloat64(right)
	if !lok || !rok {
		return nil, qerr.New(qerr.KindRuntime, "operator '+' requires numbers, strings, or lists")
	}
	return lf + rf, nil
}

func evalArith(op string, left, right value.Value) (value.Value, error) {
	lf, lok := value.ToFloat64(left)
	rf, rok := value.ToFloat64(right)
	if !lok || !rok {
		return nil, qerr.New(qerr.KindRuntime, "operator %q requires numbers", op)
	}
	switch op {
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, qerr.New(qerr.KindRuntime, "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, qerr.New(qerr.KindRuntime, "modulo by zero")
		}
		return math.Mod(lf, rf), nil
	case "**":
		return math.Pow(lf, rf), nil
	default:
		return nil, qerr.New(qerr.KindRuntime, "unknown arithmetic operator %q", op)
	}
}

func evalCall(t *callNode, ctx *evalCtx) (value.Value, error) {
	args := make([]value.Value, len(t.args))
	for i, a := range t.args {
		v, err := evalNode(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	fn, ok := builtins[t.name]
	if !ok {
		return nil, qerr.New(qerr.KindUnsafeExpression, "call to %q is not in the safe built-in whitelist", t.name)
	}
	return fn(args)
}

type builtinFn func(args []value.Value) (value.Value, error)

var builtins map[string]builtinFn

func init() {
	builtins = map[string]builtinFn{
		"abs":        biAbs,
		"min":        biMin,
		"max":        biMax,
		"len":        biLen,
		"sum":        biSum,
		"round":      biRound,
		"int":        biInt,
		"float":      biFloat,
		"str":        biStr,
		"bool":       biBool,
		"list":       biList,
		"dict":       biDict,
		"tuple":      biList,
		"sorted":     biSorted,
		"range":      biRange,
		"enumerate":  biEnumerate,
		"zip":        biZip,
		"isinstance": biIsinstance,
		"all":        biAll,
		"any":        biAny,
		"hash":       biHash,
	}
}

func argErr(name string, want int) error {
	return qerr.New(qerr.KindRuntime, "%s() expects %d argument(s)", name, want)
}

func biAbs(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("abs", 1)
	}
	f, ok := value.ToFloat64(args[0])
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "abs() requires a number")
	}
	return math.Abs(f), nil
}

func biMin(args []value.Value) (value.Value, error) {
	items := flattenVariadic(args)
	if len(items) == 0 {
		return nil, qerr.New(qerr.KindRuntime, "min() requires at least one argument")
	}
	best := items[0]
	for _, it := range items[1:] {
		bf, _ := value.ToFloat64(best)
		f, _ := value.ToFloat64(it)
		if f < bf {
			best = it
		}
	}
	return best, nil
}

func biMax(args []value.Value) (value.Value, error) {
	items := flattenVariadic(args)
	if len(items) == 0 {
		return nil, qerr.New(qerr.KindRuntime, "max() requires at least one argument")
	}
	best := items[0]
	for _, it := range items[1:] {
		bf, _ := value.ToFloat64(best)
		f, _ := value.ToFloat64(it)
		if f > bf {
			best = it
		}
	}
	return best, nil
}

func flattenVariadic(args []value.Value) []value.Value {
	if len(args) == 1 {
		if l, ok := args[0].([]value.Value); ok {
			return l
		}
	}
	return args
}

func biLen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("len", 1)
	}
	n, ok := value.Len(args[0])
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "len() unsupported for this type")
	}
	return float64(n), nil
}

func biSum(args []value.Value) (value.Value, error) {
	items := flattenVariadic(args)
	var total float64
	for _, it := range items {
		f, ok := value.ToFloat64(it)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "sum() requires numeric elements")
		}
		total += f
	}
	return total, nil
}

func biRound(args []value.Value) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, qerr.New(qerr.KindRuntime, "round() expects 1 or 2 arguments")
	}
	f, ok := value.ToFloat64(args[0])
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "round() requires a number")
	}
	digits := 0
	if len(args) == 2 {
		d, ok := value.ToFloat64(args[1])
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "round() digits must be a number")
		}
		digits = int(d)
	}
	mult := math.Pow(10, float64(digits))
	return math.Round(f*mult) / mult, nil
}

func biInt(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("int", 1)
	}
	f, ok := value.ToFloat64(args[0])
	if ok {
		return math.Trunc(f), nil
	}
	return nil, qerr.New(qerr.KindRuntime, "int() requires a numeric-coercible value")
}

func biFloat(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("float", 1)
	}
	f, ok := value.ToFloat64(args[0])
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "float() requires a numeric-coercible value")
	}
	return f, nil
}

func biStr(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("str", 1)
	}
	return value.Stringify(args[0]), nil
}

func biBool(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("bool", 1)
	}
	return value.Truthy(args[0]), nil
}

func biList(args []value.Value) (value.Value, error) {
	return flattenVariadic(args), nil
}

func biDict(args []value.Value) (value.Value, error) {
	if len(args) == 1 {
		if m, ok := args[0].(map[string]value.Value); ok {
			return m, nil
		}
	}
	return map[string]value.Value{}, nil
}

func biSorted(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("sorted", 1)
	}
	l, ok := args[0].([]value.Value)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "sorted() requires a list")
	}
	out := append([]value.Value(nil), l...)
	sort.SliceStable(out, func(i, j int) bool {
		fi, iok := value.ToFloat64(out[i])
		fj, jok := value.ToFloat64(out[j])
		if iok && jok {
			return fi < fj
		}
		si, _ := out[i].(string)
		sj, _ := out[j].(string)
		return si < sj
	})
	return out, nil
}

func biRange(args []value.Value) (value.Value, error) {
	var start, stop, step float64 = 0, 0, 1
	switch len(args) {
	case 1:
		f, ok := value.ToFloat64(args[0])
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "range() requires numeric arguments")
		}
		stop = f
	case 2, 3:
		sf, ok1 := value.ToFloat64(args[0])
		ef, ok2 := value.ToFloat64(args[1])
		if !ok1 || !ok2 {
			return nil, qerr.New(qerr.KindRuntime, "range() requires numeric arguments")
		}
		start, stop = sf, ef
		if len(args) == 3 {
			stf, ok := value.ToFloat64(args[2])
			if !ok || stf == 0 {
				return nil, qerr.New(qerr.KindRuntime, "range() step must be a nonzero number")
			}
			step = stf
		}
	default:
		return nil, qerr.New(qerr.KindRuntime, "range() expects 1 to 3 arguments")
	}
	var out []value.Value
	if step > 0 {
		for v := start; v < stop; v += step {
			out = append(out, v)
		}
	} else {
		for v := start; v > stop; v += step {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []value.Value{}
	}
	return out, nil
}

func biEnumerate(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("enumerate", 1)
	}
	l, ok := args[0].([]value.Value)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "enumerate() requires a list")
	}
	out := make([]value.Value, len(l))
	for i, v := range l {
		out[i] = []value.Value{float64(i), v}
	}
	return out, nil
}

func biZip(args []value.Value) (value.Value, error) {
	lists := make([][]value.Value, len(args))
	minLen := -1
	for i, a := range args {
		l, ok := a.([]value.Value)
		if !ok {
			return nil, qerr.New(qerr.KindRuntime, "zip() requires list arguments")
		}
		lists[i] = l
		if minLen == -1 || len(l) < minLen {
			minLen = len(l)
		}
	}
	if minLen < 0 {
		minLen = 0
	}
	out := make([]value.Value, minLen)
	for i := 0; i < minLen; i++ {
		tuple := make([]value.Value, len(lists))
		for j, l := range lists {
			tuple[j] = l[i]
		}
		out[i] = tuple
	}
	return out, nil
}

func biIsinstance(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("isinstance", 2)
	}
	typeName, ok := args[1].(string)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "isinstance() second argument must be a type name string")
	}
	switch typeName {
	case "int", "float", "number":
		_, ok := value.ToFloat64(args[0])
		return ok, nil
	case "str", "string":
		_, ok := args[0].(string)
		return ok, nil
	case "bool":
		_, ok := args[0].(bool)
		return ok, nil
	case "list":
		_, ok := args[0].([]value.Value)
		return ok, nil
	case "dict":
		_, ok := args[0].(map[string]value.Value)
		return ok, nil
	default:
		return false, nil
	}
}

func biAll(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("all", 1)
	}
	l, ok := args[0].([]value.Value)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "all() requires a list")
	}
	for _, v := range l {
		if !value.Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func biAny(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("any", 1)
	}
	l, ok := args[0].([]value.Value)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "any() requires a list")
	}
	for _, v := range l {
		if value.Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func biHash(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("hash", 1)
	}
	s := value.Stringify(args[0])
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return float64(h), nil
}
