package rules

import (
	"errors"
	"testing"
)

func TestFailureWrapsWithContext(t *testing.T) {
	base := errors.New("boom")
	ctx := EvalContext{Cell: "total"}
	err := ctx.failure("expr", "flag && missing", base)

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" || evalErr.Cell != "total" {
		t.Fatalf("unexpected metadata %+v", evalErr)
	}
	if evalErr.Dependency != "" {
		t.Fatalf("expression failures have no dependency, got %q", evalErr.Dependency)
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error should unwrap to base error")
	}
	want := `rules: expr cell total in "flag && missing": boom`
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestFailureCompletesExisting(t *testing.T) {
	existing := &EvaluationError{Engine: "expr", Dependency: "price", Err: errors.New("compile failure")}

	err := EvalContext{Cell: "total"}.failure("cel", "price * 2", existing)
	if err != existing {
		t.Fatalf("expected the existing error back")
	}
	if existing.Engine != "expr" {
		t.Fatalf("existing engine should not be overwritten, got %q", existing.Engine)
	}
	if existing.Expr != "price * 2" || existing.Cell != "total" {
		t.Fatalf("missing fields should be filled, got %+v", existing)
	}
	want := `rules: expr cell total reading price in "price * 2": compile failure`
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestFailureWrapsNestedEvaluationErrors(t *testing.T) {
	inner := &EvaluationError{Engine: "expr", Expr: "x / 0", Cell: "ratio", Err: errors.New("division by zero")}
	outer := errors.Join(errors.New("dependency failed"), inner)

	err := EvalContext{Cell: "report"}.failure("cel", "ratio + 1", outer)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Cell != "report" {
		t.Fatalf("outer cell should be reported first, got %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("inner error should stay in the chain")
	}
}

func TestEngineErrorKeepsPrefixedErrors(t *testing.T) {
	if err := engineError("expr", ErrEmptyExpression); err != ErrEmptyExpression {
		t.Fatalf("prefixed errors should pass through, got %v", err)
	}
	err := engineError("cel", errors.New("bad"))
	if err.Error() != "rules: cel evaluator: bad" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if engineError("cel", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestCacheKeyIncludesNames(t *testing.T) {
	if cacheKey("expr", "a", []string{"b", "a"}) != cacheKey("expr", "a", []string{"a", "b"}) {
		t.Fatalf("cache key should not depend on name order")
	}
	if cacheKey("expr", "a", nil) == cacheKey("cel", "a", nil) {
		t.Fatalf("cache key should include engine")
	}
}

func TestCompiledCachesOnce(t *testing.T) {
	cache := NewMemoryCache()
	builds := 0
	build := func() (*int, error) {
		builds++
		v := builds
		return &v, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := compiled(cache, "k", build); err != nil {
			t.Fatalf("compiled: %v", err)
		}
	}
	if builds != 1 {
		t.Fatalf("expected one build, got %d", builds)
	}
	other, err := compiled(cache, "k", func() (string, error) { return "other", nil })
	if err != nil || other != "other" {
		t.Fatalf("entries of another type should be rebuilt, got %q %v", other, err)
	}
}
