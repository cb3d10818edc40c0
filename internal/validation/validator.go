package validation

import "github.com/rendis/stepwise/pkg/schema"

// Validator checks workflow definitions before a run starts.
// Uses JSON Schema Draft 2020-12 for structure and action input contracts.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether a (module, action) pair is registered.
type ActionLookup interface {
	Has(module, action string) bool
}
