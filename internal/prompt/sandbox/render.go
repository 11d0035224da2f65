package sandbox

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// renderer evaluates a parsed template against sanitized data.
type renderer struct {
	filters map[string]Filter
	scopes  []map[string]any
	out     strings.Builder
}

func render(nodes []node, data map[string]any, filters map[string]Filter) (string, error) {
	r := &renderer{filters: filters, scopes: []map[string]any{data}}
	if err := r.renderNodes(nodes); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

func (r *renderer) renderNodes(nodes []node) error {
	for _, n := range nodes {
		if err := r.renderNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderNode(n node) error {
	switch n := n.(type) {
	case *textNode:
		r.out.WriteString(n.text)
	case *outputNode:
		v, err := r.eval(n.expr)
		if err != nil {
			return err
		}
		r.out.WriteString(stringify(v))
	case *ifNode:
		for _, br := range n.branches {
			v, err := r.eval(br.cond)
			if err != nil {
				return err
			}
			if truthy(v) {
				return r.renderNodes(br.body)
			}
		}
		return r.renderNodes(n.elseBody)
	case *forNode:
		return r.renderFor(n)
	}
	return nil
}

func (r *renderer) renderFor(n *forNode) error {
	seq, err := r.eval(n.seq)
	if err != nil {
		return err
	}

	var items []any
	switch v := seq.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			items = append(items, k)
		}
	}
	if len(items) == 0 {
		return r.renderNodes(n.elseBody)
	}

	scope := make(map[string]any, 2)
	r.scopes = append(r.scopes, scope)
	defer func() { r.scopes = r.scopes[:len(r.scopes)-1] }()

	for i, it := range items {
		scope[n.varName] = it
		scope["loop"] = map[string]any{
			"index":  i + 1,
			"index0": i,
			"first":  i == 0,
			"last":   i == len(items)-1,
			"length": len(items),
		}
		if err := r.renderNodes(n.body); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) lookup(name string) any {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if v, ok := r.scopes[i][name]; ok {
			return v
		}
	}
	return nil
}

func (r *renderer) eval(e expr) (any, error) {
	switch e := e.(type) {
	case *literalExpr:
		return e.value, nil
	case *pathExpr:
		v := r.lookup(e.root)
		for _, step := range e.steps {
			key, err := r.eval(step)
			if err != nil {
				return nil, err
			}
			v = index(v, key)
		}
		return v, nil
	case *filterExpr:
		in, err := r.eval(e.input)
		if err != nil {
			return nil, err
		}
		args := make([]any, len(e.args))
		for i, a := range e.args {
			if args[i], err = r.eval(a); err != nil {
				return nil, err
			}
		}
		out, err := r.filters[e.name](in, args...)
		if err != nil {
			return nil, &RenderError{Offset: e.pos, Err: err}
		}
		return out, nil
	case *notExpr:
		v, err := r.eval(e.operand)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case *binaryExpr:
		return r.evalBinary(e)
	}
	return nil, &RenderError{Offset: e.exprPos(), Err: fmt.Errorf("unsupported expression %T", e)}
}

func (r *renderer) evalBinary(e *binaryExpr) (any, error) {
	left, err := r.eval(e.left)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "and":
		if !truthy(left) {
			return left, nil
		}
		return r.eval(e.right)
	case "or":
		if truthy(left) {
			return left, nil
		}
		return r.eval(e.right)
	}

	right, err := r.eval(e.right)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "in":
		return contains(right, left), nil
	case "not in":
		return !contains(right, left), nil
	}
	return nil, &RenderError{Offset: e.pos, Err: fmt.Errorf("unknown operator %q", e.op)}
}

// index looks key up in a map or slice; anything else yields nil.
func index(container, key any) any {
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			k = stringify(key)
		}
		return c[k]
	case []any:
		i, ok := toInt(key)
		if !ok || i < 0 || i >= len(c) {
			return nil
		}
		return c[i]
	}
	return nil
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, stringify(item))
	case []any:
		return slices.ContainsFunc(c, func(v any) bool { return equal(v, item) })
	case map[string]any:
		_, ok := c[stringify(item)]
		return ok
	}
	return false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case json.Number:
		f, _ := toFloat(v)
		return f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

func equal(a, b any) bool {
	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			return ia == ib
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt64 reports v as an exact integer. Integer json.Numbers beyond 2^53
// compare by their digits rather than through float64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func toInt(v any) (int, bool) {
	i, ok := toInt64(v)
	if !ok || i < math.MinInt || i > math.MaxInt {
		return 0, false
	}
	return int(i), true
}

// stringify renders a value for output. Undefined values render empty.
func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
