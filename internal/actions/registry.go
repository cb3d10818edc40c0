package actions

import (
	"sort"
	"sync"

	"github.com/rendis/stepwise/pkg/schema"
)

// Registry is a thread-safe set of actions keyed by (module, action).
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	modules map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
		modules: make(map[string]string),
	}
}

func key(module, action string) string { return module + "." + action }

// Register adds an action under module. Returns CONFLICT on a duplicate.
func (r *Registry) Register(module string, action Action) error {
	if module == "" {
		return schema.NewError(schema.ErrCodeValidation, "module name is empty")
	}
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(module, name)
	if _, exists := r.actions[k]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", k)
	}
	r.actions[k] = action
	if _, ok := r.modules[module]; !ok {
		r.modules[module] = ""
	}
	return nil
}

// RegisterModule registers every action of m. Registration stops at the
// first error.
func (r *Registry) RegisterModule(m Module) error {
	if m.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "module name is empty")
	}
	for _, a := range m.Actions {
		if err := r.Register(m.Name, a); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.modules[m.Name] = m.Description
	r.mu.Unlock()
	return nil
}

// Get retrieves an action. A missing module or action is ACTION_UNAVAILABLE.
func (r *Registry) Get(module, action string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[key(module, action)]
	if !ok {
		if _, known := r.modules[module]; !known {
			return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "module %q not registered", module)
		}
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable,
			"action %q not found in module %q", action, module)
	}
	return a, nil
}

// Has reports whether module.action is registered.
func (r *Registry) Has(module, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[key(module, action)]
	return ok
}

// List returns info for all registered actions, sorted by module then name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for k, a := range r.actions {
		module := k[:len(k)-len(a.Name())-1]
		infos = append(infos, ActionInfo{
			Module:      module,
			Name:        a.Name(),
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Module != infos[j].Module {
			return infos[i].Module < infos[j].Module
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for m := range r.modules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
