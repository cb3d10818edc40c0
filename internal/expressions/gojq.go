package expressions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/stepwise/pkg/schema"
)

// BranchQuery picks the agent branch out of a remote agent payload.
const BranchQuery = `.target.branchName // .branchName // .branch // .ref // .source.ref // empty | select(type == "string" and . != "")`

// Extractor runs jq queries over opaque JSON payloads such as the last
// seen remote agent status. Compiled queries are cached.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*gojq.Code)}
}

// First returns the first value the query yields for payload, or nil.
func (e *Extractor) First(ctx context.Context, query string, payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "payload is not valid JSON").WithCause(err)
	}

	code, err := e.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, data)
	for {
		val, ok := iter.Next()
		if !ok {
			return nil, nil
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", query, err.Error()).
				WithCause(err)
		}
		return val, nil
	}
}

// String is First narrowed to a string result.
func (e *Extractor) String(ctx context.Context, query string, payload json.RawMessage) (string, error) {
	v, err := e.First(ctx, query, payload)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Branch extracts the agent branch name from a remote status payload.
func (e *Extractor) Branch(ctx context.Context, payload json.RawMessage) string {
	s, err := e.String(ctx, BranchQuery, payload)
	if err != nil {
		return ""
	}
	return s
}

func (e *Extractor) getOrCompile(query string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[query]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", query, err.Error()).
			WithCause(err)
	}

	code, err := gojq.Compile(parsed,
		// Block $ENV access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", query, err.Error()).
			WithCause(err)
	}

	e.cache[query] = code
	return code, nil
}
