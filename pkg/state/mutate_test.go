package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-cells/pkg/state"
)

type mutateStore[T any] struct {
	loadSnapshot T
	loadMeta     state.Meta
	loadOK       bool
	loadErr      error

	saveCalls  int
	savedRef   state.Ref
	savedMeta  state.Meta
	savedValue T
	saveReturn state.Meta
	saveErr    error
}

func (s *mutateStore[T]) Load(_ context.Context, ref state.Ref) (T, state.Meta, bool, error) {
	var zero T
	if s.loadErr != nil {
		return zero, state.Meta{}, false, s.loadErr
	}
	return s.loadSnapshot, s.loadMeta, s.loadOK, nil
}

func (s *mutateStore[T]) Save(_ context.Context, ref state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	s.saveCalls++
	s.savedRef = ref
	s.savedMeta = meta
	s.savedValue = snapshot
	if s.saveErr != nil {
		return state.Meta{}, s.saveErr
	}
	return s.saveReturn, nil
}

var trialRef = state.Ref{Domain: "pricing", Scope: "trial"}

func TestMutateMutatorFailureDoesNotSave(t *testing.T) {
	store := &mutateStore[state.Snapshot]{
		loadSnapshot: state.Snapshot{"price": 10},
		loadMeta:     state.Meta{SnapshotID: "snap-1", ETag: "v1"},
		loadOK:       true,
	}

	boom := errors.New("price is required")
	_, _, err := state.Mutate(context.Background(), store, trialRef, state.Meta{ETag: "v1"}, func(v *state.Snapshot) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestMutatePropagatesMeta(t *testing.T) {
	store := &mutateStore[state.Snapshot]{
		loadSnapshot: state.Snapshot{"price": 10},
		loadMeta:     state.Meta{SnapshotID: "snap-old", ETag: "v1"},
		loadOK:       true,
		saveReturn:   state.Meta{SnapshotID: "snap-new", ETag: "v2"},
	}

	snapshot, gotMeta, err := state.Mutate(context.Background(), store, trialRef, state.Meta{ETag: "v1"}, func(v *state.Snapshot) error {
		(*v)["price"] = 12
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if snapshot["price"] != 12 {
		t.Fatalf("expected mutated snapshot, got %v", snapshot)
	}
	if gotMeta.SnapshotID != "snap-new" || gotMeta.ETag != "v2" {
		t.Fatalf("expected saved meta snap-new/v2, got %q/%q", gotMeta.SnapshotID, gotMeta.ETag)
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected 1 save call, got %d", store.saveCalls)
	}
	if store.savedMeta.SnapshotID != "snap-old" || store.savedMeta.ETag != "v1" {
		t.Fatalf("expected save meta snap-old/v1, got %q/%q", store.savedMeta.SnapshotID, store.savedMeta.ETag)
	}
	if store.savedRef != trialRef {
		t.Fatalf("expected save for %+v, got %+v", trialRef, store.savedRef)
	}
}

func TestMutateETagMismatch(t *testing.T) {
	store := &mutateStore[state.Snapshot]{
		loadSnapshot: state.Snapshot{"price": 10},
		loadMeta:     state.Meta{SnapshotID: "snap-1", ETag: "v1"},
		loadOK:       true,
	}

	_, _, err := state.Mutate(context.Background(), store, trialRef, state.Meta{ETag: "v2"}, func(v *state.Snapshot) error {
		(*v)["price"] = 11
		return nil
	})
	if !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestMutateStartsFromZeroWhenMissing(t *testing.T) {
	store := state.NewMemoryStore[state.Snapshot]()

	snapshot, meta, err := state.Mutate(context.Background(), store, trialRef, state.Meta{}, func(v *state.Snapshot) error {
		if *v != nil {
			t.Fatalf("expected a nil snapshot for a missing record")
		}
		*v = state.Snapshot{"price": 5}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if snapshot["price"] != 5 || meta.ETag == "" {
		t.Fatalf("unexpected result %v %+v", snapshot, meta)
	}
}

func TestMutateRequiresInputs(t *testing.T) {
	if _, _, err := state.Mutate[state.Snapshot](context.Background(), nil, trialRef, state.Meta{}, nil); err == nil {
		t.Fatalf("expected nil store error")
	}
	store := state.NewMemoryStore[state.Snapshot]()
	if _, _, err := state.Mutate(context.Background(), store, state.Ref{}, state.Meta{}, func(*state.Snapshot) error { return nil }); err == nil {
		t.Fatalf("expected invalid ref error")
	}
	if _, _, err := state.Mutate(context.Background(), store, trialRef, state.Meta{}, nil); err == nil {
		t.Fatalf("expected nil mutator error")
	}
}
