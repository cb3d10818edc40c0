package expressions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rendis/stepwise/pkg/schema"
)

// Resolver resolves {{ }} templates and conditions against run state.
// Parsed templates and conditions are cached by source text.
// Safe for concurrent use.
type Resolver struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	conditions map[string]*Condition
}

// NewResolver creates a Resolver with empty caches.
func NewResolver() *Resolver {
	return &Resolver{
		templates:  make(map[string]*Template),
		conditions: make(map[string]*Condition),
	}
}

// Resolve walks value and resolves every template string in it.
// A string that is exactly one {{ }} reference resolves to the native
// value (nil when missing and no default). Other strings are interpolated.
// Maps and slices are resolved recursively into fresh copies.
func (r *Resolver) Resolve(value any, state *schema.RunState) (any, error) {
	return r.resolveValue(value, scopeOf(state))
}

// ResolveInputs resolves a step's input map.
func (r *Resolver) ResolveInputs(inputs map[string]any, state *schema.RunState) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out, err := r.resolveValue(inputs, scopeOf(state))
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

// Interpolate resolves s in interpolation mode: every reference is
// stringified into the surrounding text, even when s is a full match.
func (r *Resolver) Interpolate(s string, state *schema.RunState) (string, error) {
	t, err := r.template(s)
	if err != nil {
		return "", err
	}
	return interpolate(t, scopeOf(state)), nil
}

func (r *Resolver) resolveValue(value any, scope map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			res, err := r.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			res, err := r.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(s string, scope map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := r.template(s)
	if err != nil {
		return nil, err
	}
	if t.IsFullMatch() {
		v, _ := evalRef(t.Parts[0].Ref, scope)
		return v, nil
	}
	return interpolate(t, scope), nil
}

func (r *Resolver) template(s string) (*Template, error) {
	r.mu.RLock()
	t, ok := r.templates[s]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := ParseTemplate(s)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.templates[s] = t
	r.mu.Unlock()
	return t, nil
}

func scopeOf(state *schema.RunState) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	return state.Scope()
}

// evalRef resolves a reference, falling back to its default. The bool is
// false when neither the path nor a default produced a value.
func evalRef(ref *Ref, scope map[string]any) (any, bool) {
	if v, ok := lookup(scope, ref.Path); ok {
		return v, true
	}
	if ref.Default != nil {
		return ref.Default.Value, true
	}
	return nil, false
}

// lookup navigates path through nested maps and slices. A nil value is
// treated as missing. steps.<id>.outputs of an unknown step is an empty map.
func lookup(scope map[string]any, path []string) (any, bool) {
	if len(path) >= 3 && path[0] == "steps" && path[2] == "outputs" {
		outputs, ok := walk(scope, path[:3])
		if !ok {
			outputs = map[string]any{}
		}
		return walk(outputs, path[3:])
	}
	return walk(scope, path)
}

func walk(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		next, ok := child(cur, seg)
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func child(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		c, ok := m[key]
		return c, ok
	case map[string]string:
		c, ok := m[key]
		return c, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(m) {
			return nil, false
		}
		return m[idx], true
	default:
		return nil, false
	}
}

func interpolate(t *Template, scope map[string]any) string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Ref == nil {
			b.WriteString(p.Text)
			continue
		}
		v, ok := evalRef(p.Ref, scope)
		if !ok {
			b.WriteString(p.Raw)
			continue
		}
		b.WriteString(stringify(v))
	}
	return b.String()
}

// stringify renders a resolved value for interpolation. Objects and
// arrays are JSON encoded.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case json.Number:
		return x.String()
	case json.RawMessage:
		return string(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
