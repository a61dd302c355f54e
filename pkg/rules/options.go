package rules

import "time"

// engineConfig holds the settings shared by the bundled evaluators.
type engineConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

func (cfg *engineConfig) setRegistry(registry *FunctionRegistry) {
	if registry != nil {
		cfg.registry = registry.Clone()
	}
}

// compiled returns the program cached under key, building and caching it on
// a miss. Entries of another type count as misses.
func compiled[P any](cache ProgramCache, key string, build func() (P, error)) (P, error) {
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if program, ok := cached.(P); ok {
				return program, nil
			}
		}
	}
	program, err := build()
	if err != nil {
		return program, err
	}
	if cache != nil {
		cache.Set(key, program)
	}
	return program, nil
}

type jsConfig struct {
	engineConfig
	timeout time.Duration
}

// JSEvaluatorOption configures the JS evaluator. Options are accepted in
// every build so callers compile with or without the js_eval tag.
type JSEvaluatorOption func(*jsConfig)

// JSWithProgramCache wires a ProgramCache into the JS evaluator.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(cfg *jsConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry exposes registry functions as JS globals.
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(cfg *jsConfig) {
		cfg.setRegistry(registry)
	}
}

// JSWithTimeout interrupts evaluations running longer than d. Zero disables
// the limit.
func JSWithTimeout(d time.Duration) JSEvaluatorOption {
	return func(cfg *jsConfig) {
		cfg.timeout = d
	}
}

func newJSConfig(opts []JSEvaluatorOption) jsConfig {
	cfg := jsConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
