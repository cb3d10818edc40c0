package expressions

import (
	"math"
	"strconv"
	"strings"

	"github.com/rendis/stepwise/pkg/schema"
)

// EvaluateCondition evaluates a branch condition against the run state.
// A condition without {{ }} is true when non-empty. Otherwise it is parsed
// as a single comparison (or a bare operand tested for truthiness).
func (r *Resolver) EvaluateCondition(cond string, state *schema.RunState) (bool, error) {
	if !strings.Contains(cond, "{{") {
		return strings.TrimSpace(cond) != "", nil
	}
	c, err := r.condition(cond)
	if err != nil {
		return false, err
	}
	return c.Eval(scopeOf(state)), nil
}

func (r *Resolver) condition(src string) (*Condition, error) {
	r.mu.RLock()
	c, ok := r.conditions[src]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := ParseCondition(src)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.conditions[src] = c
	r.mu.Unlock()
	return c, nil
}

// Eval evaluates the parsed condition against a template scope.
func (c *Condition) Eval(scope map[string]any) bool {
	left := c.Left.value(scope)
	if c.Op == OpNone {
		return truthy(left)
	}
	right := c.Right.value(scope)

	switch c.Op {
	case OpGreater, OpLess:
		l, lok := toNumber(left)
		rn, rok := toNumber(right)
		if !lok || !rok {
			return false
		}
		if c.Op == OpGreater {
			return l > rn
		}
		return l < rn
	case OpEq, OpStrictEq:
		return looseEqual(left, right)
	case OpNeq, OpStrictNeq:
		return !looseEqual(left, right)
	}
	return false
}

func (o Operand) value(scope map[string]any) any {
	if o.Literal != nil {
		return o.Literal.Value
	}
	if o.Template == nil {
		return nil
	}
	if o.Template.IsFullMatch() {
		v, _ := evalRef(o.Template.Parts[0].Ref, scope)
		return v
	}
	return interpolate(o.Template, scope)
}

// truthy follows the usual dynamic-language rules: nil, false, 0, NaN and
// "" are false; everything else, including empty maps and slices, is true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	default:
		return true
	}
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// looseEqual compares two operands by their rendered form, so a number
// and its decimal string are equal.
func looseEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}
	return stringify(a) == stringify(b)
}
