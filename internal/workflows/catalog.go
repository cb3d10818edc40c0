// Package workflows resolves workflow definitions by id from a directory of
// YAML/JSON files, falling back to definitions previously saved in the store.
package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

var extensions = []string{".yaml", ".yml", ".json"}

// Summary describes a catalog entry for listing.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}

// Catalog looks up workflow definitions. Files in Dir shadow stored
// definitions with the same id.
type Catalog struct {
	dir    string
	store  store.WorkflowStore
	logger *slog.Logger
}

// New creates a Catalog. dir may be empty (store only); st may be nil
// (directory only).
func New(dir string, st store.WorkflowStore, logger *slog.Logger) *Catalog {
	return &Catalog{dir: dir, store: st, logger: logging.OrDefault(logger)}
}

// Parse decodes a definition. JSON is used for the "json" format, YAML for
// everything else.
func Parse(data []byte, format string) (*schema.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is empty")
	}
	def := &schema.WorkflowDefinition{}
	var err error
	if strings.EqualFold(strings.TrimPrefix(format, "."), "json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(def)
		if err == nil {
			normalizeNumbers(def)
		}
	} else {
		err = yaml.Unmarshal(data, def)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode workflow definition: %s", err.Error()).WithCause(err)
	}
	if def.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition has no id")
	}
	return def, nil
}

// LoadFile reads and decodes one definition file.
func LoadFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	def, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	if c.dir != "" {
		for _, ext := range extensions {
			path := filepath.Join(c.dir, id+ext)
			if _, err := os.Stat(path); err == nil {
				def, err := LoadFile(path)
				if err != nil {
					return nil, err
				}
				if def.ID == id {
					return def, nil
				}
			}
		}
		// File names need not match ids.
		defs, err := c.loadDir()
		if err != nil {
			return nil, err
		}
		if def, ok := defs[id]; ok {
			return def, nil
		}
	}
	if c.store != nil {
		rec, err := c.store.GetWorkflow(ctx, id)
		if err == nil {
			return rec.Definition, nil
		}
		if !schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
}

// List returns every known workflow sorted by id.
func (c *Catalog) List(ctx context.Context) ([]Summary, error) {
	byID := map[string]Summary{}
	if c.store != nil {
		recs, err := c.store.ListWorkflows(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			s := Summary{ID: r.ID, Name: r.Name, Version: r.Version, Source: "store"}
			if r.Definition != nil {
				s.Description = r.Definition.Description
			}
			byID[r.ID] = s
		}
	}
	if c.dir != "" {
		defs, err := c.loadDir()
		if err != nil {
			return nil, err
		}
		for id, d := range defs {
			byID[id] = Summary{ID: id, Name: d.Name, Version: d.Version, Description: d.Description, Source: "file"}
		}
	}

	out := make([]Summary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Sync saves every definition in the directory to the store and returns
// how many were written.
func (c *Catalog) Sync(ctx context.Context) (int, error) {
	if c.dir == "" || c.store == nil {
		return 0, nil
	}
	defs, err := c.loadDir()
	if err != nil {
		return 0, err
	}
	for _, d := range defs {
		if err := c.store.SaveWorkflow(ctx, d); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}

// loadDir decodes every definition file in the directory. Unparseable
// files are logged and skipped; a duplicate id is an error.
func (c *Catalog) loadDir() (map[string]*schema.WorkflowDefinition, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return map[string]*schema.WorkflowDefinition{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	defs := map[string]*schema.WorkflowDefinition{}
	files := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name()) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		def, err := LoadFile(path)
		if err != nil {
			c.logger.Warn("skipping workflow file", "path", path, "error", err)
			continue
		}
		if prev, dup := files[def.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"workflow id %q defined in both %s and %s", def.ID, prev, e.Name())
		}
		files[def.ID] = e.Name()
		defs[def.ID] = def
	}
	return defs, nil
}

func hasExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// normalizeNumbers turns json.Number inputs into int or float64 so JSON and
// YAML definitions resolve to the same values.
func normalizeNumbers(def *schema.WorkflowDefinition) {
	for i := range def.Steps {
		for k, v := range def.Steps[i].Inputs {
			def.Steps[i].Inputs[k] = normalize(v)
		}
	}
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}
