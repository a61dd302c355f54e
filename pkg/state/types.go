package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

// Ref identifies one persisted snapshot for one scope of one domain.
type Ref struct {
	Domain string
	Scope  string
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Snapshot maps catalog names to cell values.
type Snapshot map[string]any

// Store loads/saves one snapshot for a single scope reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

type Mutator[T any] func(*T) error

// Identifier returns the storage key for r.
func (r Ref) Identifier() (string, error) {
	domain := strings.TrimSpace(r.Domain)
	scope := strings.TrimSpace(r.Scope)
	switch {
	case domain == "":
		return "", fmt.Errorf("state: domain is required")
	case scope == "":
		return "", fmt.Errorf("state: scope is required for domain %q", domain)
	case strings.Contains(domain, "/"):
		return "", fmt.Errorf("state: domain %q must not contain %q", domain, "/")
	}
	return domain + "/" + scope, nil
}

// Mutate loads one snapshot, applies fn and saves the result. A non-empty
// meta.ETag must match the loaded record.
func Mutate[T any](ctx context.Context, store Store[T], ref Ref, meta Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return zero, Meta{}, err
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loadedMeta, ok, err := store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %q for scope %q: %w", ref.Domain, ref.Scope, err)
	}
	if !ok {
		snapshot = zero
		loadedMeta = Meta{}
	}

	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return zero, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loadedMeta, err
	}

	saveMeta := mergeMeta(loadedMeta, meta)
	savedMeta, err := store.Save(ctx, ref, snapshot, saveMeta)
	if err != nil {
		return zero, loadedMeta, fmt.Errorf("state: save %q for scope %q: %w", ref.Domain, ref.Scope, err)
	}
	return snapshot, savedMeta, nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}

// CloneMeta deep copies meta.
func CloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

// NextMeta stamps meta for a successful save: a fresh ETag, the save time and
// a snapshot id when the caller did not pick one.
func NextMeta(meta Meta, now time.Time) Meta {
	out := CloneMeta(meta)
	if out.SnapshotID == "" {
		out.SnapshotID = newID()
	}
	out.ETag = newID()
	out.UpdatedAt = now.UTC()
	return out
}
