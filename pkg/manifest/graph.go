package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/ordered"
	"github.com/goliatone/go-cells/pkg/rules"
	"github.com/goliatone/go-cells/pkg/scope"
)

// RootScope names the root store in Graph.Accessor.
const RootScope = "root"

// Graph is a built manifest: one root store, the named cells and every scope
// in the tree keyed by name.
type Graph struct {
	Root    *cells.Store
	Catalog *cells.Catalog
	scopes  *ordered.Map[string, *scope.Store]
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	root      *cells.Store
	functions *rules.FunctionRegistry
	logger    rules.EvaluatorLogger
	scopeOpts []scope.Option
}

// WithRoot builds into an existing store instead of a fresh one.
func WithRoot(root *cells.Store) BuildOption {
	return func(cfg *buildConfig) {
		cfg.root = root
	}
}

// WithFunctions exposes registry functions to every expression cell.
func WithFunctions(registry *rules.FunctionRegistry) BuildOption {
	return func(cfg *buildConfig) {
		cfg.functions = registry
	}
}

// WithEvaluatorLogger records expression evaluations.
func WithEvaluatorLogger(logger rules.EvaluatorLogger) BuildOption {
	return func(cfg *buildConfig) {
		cfg.logger = logger
	}
}

// WithScopeOptions applies opts to every scope, before the manifest's own
// name and values.
func WithScopeOptions(opts ...scope.Option) BuildOption {
	return func(cfg *buildConfig) {
		cfg.scopeOpts = append(cfg.scopeOpts, opts...)
	}
}

// Build validates m and creates its cells and scopes.
func Build(m *Manifest, opts ...BuildOption) (*Graph, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	cfg := buildConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.root == nil {
		cfg.root = cells.New()
	}

	g := &Graph{
		Root:    cfg.root,
		Catalog: cells.NewCatalog(),
		scopes:  ordered.NewMap[string, *scope.Store](),
	}
	evaluators := newEvaluators(cfg.functions)
	for _, spec := range m.Cells {
		c, err := buildCell(spec, g.Catalog, evaluators, cfg.logger)
		if err != nil {
			return nil, err
		}
		if err := g.Catalog.Register(spec.Name, c); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}
	if err := g.buildScopes(g.Root, m.Scopes, cfg.scopeOpts); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func buildCell(spec CellSpec, catalog *cells.Catalog, evaluators *evaluators, logger rules.EvaluatorLogger) (*cells.Cell, error) {
	if spec.HasValue {
		return cells.NewPrimitive(spec.Value, cells.WithLabel(spec.label())), nil
	}
	evaluator, err := evaluators.forEngine(spec.engine())
	if err != nil {
		return nil, fmt.Errorf("manifest: cell %q: %w", spec.Name, err)
	}
	options := []rules.CellOption{rules.WithLabel(spec.label())}
	if logger != nil {
		options = append(options, rules.WithEvaluatorLogger(logger))
	}
	c, err := rules.NewCell(evaluator, spec.Expr, catalog, options...)
	if err != nil {
		return nil, fmt.Errorf("manifest: cell %q: %w", spec.Name, err)
	}
	return c, nil
}

func (g *Graph) buildScopes(parent cells.Accessor, list []ScopeSpec, shared []scope.Option) error {
	for _, spec := range list {
		explicit := make([]*cells.Cell, 0, len(spec.Explicit))
		for _, name := range spec.Explicit {
			c, err := g.Catalog.Lookup(name)
			if err != nil {
				return fmt.Errorf("manifest: scope %q: %w", spec.Name, err)
			}
			explicit = append(explicit, c)
		}
		options := append([]scope.Option(nil), shared...)
		options = append(options, scope.WithName(spec.Name))
		names := make([]string, 0, len(spec.Values))
		for name := range spec.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c, err := g.Catalog.Lookup(name)
			if err != nil {
				return fmt.Errorf("manifest: scope %q: %w", spec.Name, err)
			}
			options = append(options, scope.WithValue(c, spec.Values[name]))
		}
		s, err := scope.New(parent, explicit, options...)
		if err != nil {
			return fmt.Errorf("manifest: scope %q: %w", spec.Name, err)
		}
		g.scopes.Set(spec.Name, s)
		if err := g.buildScopes(s, spec.Scopes, shared); err != nil {
			return err
		}
	}
	return nil
}

// Scope returns the scope built for name.
func (g *Graph) Scope(name string) (*scope.Store, bool) {
	return g.scopes.Get(name)
}

// Scopes lists scope names in declaration order, parents before children.
func (g *Graph) Scopes() []string {
	return g.scopes.Keys()
}

// Accessor returns the root store for "" or RootScope, the named scope
// otherwise.
func (g *Graph) Accessor(name string) (cells.Accessor, error) {
	if name == "" || name == RootScope {
		return g.Root, nil
	}
	s, ok := g.scopes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
	return s, nil
}

// Cell returns the cell registered under name.
func (g *Graph) Cell(name string) (*cells.Cell, error) {
	c, err := g.Catalog.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCell, name)
	}
	return c, nil
}

// Close cleans every scope up, children before parents.
func (g *Graph) Close() {
	names := g.scopes.Keys()
	for i := len(names) - 1; i >= 0; i-- {
		if s, ok := g.scopes.Get(names[i]); ok {
			s.Cleanup()
		}
	}
}

type evaluators struct {
	functions *rules.FunctionRegistry
	cache     *rules.MemoryCache
	byEngine  map[string]rules.Evaluator
}

func newEvaluators(functions *rules.FunctionRegistry) *evaluators {
	return &evaluators{
		functions: functions,
		cache:     rules.NewMemoryCache(),
		byEngine:  map[string]rules.Evaluator{},
	}
}

func (e *evaluators) forEngine(engine string) (rules.Evaluator, error) {
	engine = strings.ToLower(engine)
	if evaluator, ok := e.byEngine[engine]; ok {
		return evaluator, nil
	}
	var evaluator rules.Evaluator
	switch engine {
	case EngineExpr:
		evaluator = rules.NewExprEvaluator(rules.ExprWithProgramCache(e.cache), rules.ExprWithFunctionRegistry(e.functions))
	case EngineCEL:
		evaluator = rules.NewCELEvaluator(rules.CELWithProgramCache(e.cache), rules.CELWithFunctionRegistry(e.functions))
	case EngineJS:
		evaluator = rules.NewJSEvaluator(rules.JSWithProgramCache(e.cache), rules.JSWithFunctionRegistry(e.functions))
	}
	if evaluator == nil {
		return nil, fmt.Errorf("engine %q is not available", engine)
	}
	e.byEngine[engine] = evaluator
	return evaluator, nil
}
