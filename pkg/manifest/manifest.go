// Package manifest describes cells and nested scopes in YAML and builds them
// into a live graph.
//
//	cells:
//	  - name: price
//	    value: 10
//	  - name: total
//	    expr: price * seats
//	scopes:
//	  - name: trial
//	    explicit: [price]
//	    values: {price: 0}
//	    scopes:
//	      - name: trial-eu
//	        explicit: [seats]
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-cells/pkg/rules"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Engine names accepted in CellSpec.Engine.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

var (
	ErrInvalidManifest = errors.New("manifest: invalid manifest")
	ErrUnknownCell     = errors.New("manifest: unknown cell")
	ErrUnknownScope    = errors.New("manifest: unknown scope")
)

// Manifest is the decoded document.
type Manifest struct {
	Cells  []CellSpec  `mapstructure:"cells"`
	Scopes []ScopeSpec `mapstructure:"scopes"`
}

// CellSpec declares one named cell: a primitive when Value is set, an
// expression cell when Expr is set.
type CellSpec struct {
	Name   string `mapstructure:"name"`
	Value  any    `mapstructure:"value"`
	Expr   string `mapstructure:"expr"`
	Engine string `mapstructure:"engine"`
	Label  string `mapstructure:"label"`

	// HasValue distinguishes `value: null` from a missing value.
	HasValue bool `mapstructure:"-"`
}

// ScopeSpec declares a scope and its children.
type ScopeSpec struct {
	Name     string         `mapstructure:"name"`
	Explicit []string       `mapstructure:"explicit"`
	Values   map[string]any `mapstructure:"values"`
	Scopes   []ScopeSpec    `mapstructure:"scopes"`
}

// Parse decodes a YAML manifest. Unknown keys are errors.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: parse yaml: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidManifest)
	}

	var out Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &out,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	markValues(raw, &out)
	return &out, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	return Parse(data)
}

func markValues(raw map[string]any, m *Manifest) {
	list, _ := raw["cells"].([]any)
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok || i >= len(m.Cells) {
			continue
		}
		_, m.Cells[i].HasValue = entry["value"]
	}
}

func (c CellSpec) engine() string {
	if c.Engine == "" {
		return EngineExpr
	}
	return strings.ToLower(c.Engine)
}

func (c CellSpec) label() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

// Validate reports every problem in m joined into one error.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: manifest is nil", ErrInvalidManifest)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidManifest}, args...)...))
	}

	specs := map[string]CellSpec{}
	for i, c := range m.Cells {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			add("cells[%d]: name is required", i)
			continue
		}
		if _, dup := specs[name]; dup {
			add("cell %q declared twice", c.Name)
			continue
		}
		specs[name] = c
		switch {
		case c.HasValue && c.Expr != "":
			add("cell %q sets both value and expr", c.Name)
		case !c.HasValue && strings.TrimSpace(c.Expr) == "":
			add("cell %q needs a value or an expr", c.Name)
		}
		if c.Expr != "" {
			switch c.engine() {
			case EngineExpr, EngineCEL:
			case EngineJS:
				if !rules.JSAvailable() {
					add("cell %q: engine %q needs the js_eval build tag", c.Name, c.Engine)
				}
			default:
				add("cell %q: unknown engine %q", c.Name, c.Engine)
			}
		}
	}

	seen := map[string]bool{}
	var walk func(path string, list []ScopeSpec)
	walk = func(path string, list []ScopeSpec) {
		for i, sc := range list {
			where := fmt.Sprintf("%s[%d]", path, i)
			if strings.TrimSpace(sc.Name) == "" {
				add("%s: name is required", where)
			} else if seen[sc.Name] {
				add("scope %q declared twice", sc.Name)
			} else {
				seen[sc.Name] = true
				where = fmt.Sprintf("scope %q", sc.Name)
			}
			explicit := map[string]bool{}
			for _, name := range sc.Explicit {
				key := strings.ToLower(name)
				if _, ok := specs[key]; !ok {
					add("%s: explicit %q is not a cell", where, name)
					continue
				}
				explicit[key] = true
			}
			for name := range sc.Values {
				key := strings.ToLower(name)
				spec, ok := specs[key]
				switch {
				case !ok:
					add("%s: value for unknown cell %q", where, name)
				case !explicit[key]:
					add("%s: value for %q which is not explicit in this scope", where, name)
				case !spec.HasValue:
					add("%s: value for expression cell %q", where, name)
				}
			}
			walk(where+".scopes", sc.Scopes)
		}
	}
	walk("scopes", m.Scopes)

	return errors.Join(errs...)
}
