// Package redisstore implements state.Store on Redis.
//
// Each snapshot is one JSON string at <prefix><ref identifier>. Saves run in a
// WATCH/MULTI transaction so the ETag check and the write are atomic.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-cells/internal/hydrate"
	"github.com/goliatone/go-cells/pkg/state"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "cells:snapshot:"

// Store implements state.Store[T] using Redis.
type Store[T any] struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	decoder *hydrate.Decoder[record[T]]
}

var _ state.Store[state.Snapshot] = (*Store[state.Snapshot])(nil)

type record[T any] struct {
	Snapshot T          `json:"snapshot"`
	Meta     state.Meta `json:"meta"`
}

type config struct {
	prefix string
	ttl    time.Duration
}

type Option func(*config)

// WithTTL sets the expiration for snapshots. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix for snapshots.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New[T any](address, password string, db int, opts ...Option) *Store[T] {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient[T](rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient[T any](client *backend.Client, opts ...Option) *Store[T] {
	cfg := config{prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Store[T]{
		client:  client,
		prefix:  cfg.prefix,
		ttl:     cfg.ttl,
		now:     time.Now,
		decoder: hydrate.NewDecoder[record[T]](hydrate.WithNumbers[record[T]](snapshotValues[T])),
	}
}

// snapshotValues exposes map-shaped snapshots to number narrowing.
func snapshotValues[T any](r *record[T]) map[string]any {
	switch snapshot := any(r.Snapshot).(type) {
	case state.Snapshot:
		return snapshot
	case map[string]any:
		return snapshot
	}
	return nil
}

func (s *Store[T]) key(ref state.Ref) (string, error) {
	id, err := ref.Identifier()
	if err != nil {
		return "", err
	}
	return s.prefix + id, nil
}

// Load retrieves the snapshot for ref.
func (s *Store[T]) Load(ctx context.Context, ref state.Ref) (T, state.Meta, bool, error) {
	var zero T
	key, err := s.key(ref)
	if err != nil {
		return zero, state.Meta{}, false, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return zero, state.Meta{}, false, nil
		}
		return zero, state.Meta{}, false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	rec, err := s.decoder.Decode(hydrate.Context{Key: key}, raw)
	if err != nil {
		return zero, state.Meta{}, false, fmt.Errorf("redisstore: %w", err)
	}
	return rec.Snapshot, rec.Meta, true, nil
}

// Save writes snapshot for ref. A non-empty meta.ETag must match the stored
// record; a concurrent write between the check and the commit also counts as
// a mismatch.
func (s *Store[T]) Save(ctx context.Context, ref state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	key, err := s.key(ref)
	if err != nil {
		return state.Meta{}, err
	}
	saved := state.NextMeta(meta, s.now())
	data, err := json.Marshal(record[T]{Snapshot: snapshot, Meta: saved})
	if err != nil {
		return state.Meta{}, fmt.Errorf("redisstore: marshal %q: %w", key, err)
	}

	err = s.client.Watch(ctx, func(tx *backend.Tx) error {
		if meta.ETag != "" {
			current, err := s.currentETag(ctx, tx, key)
			if err != nil {
				return err
			}
			if current != "" && current != meta.ETag {
				return fmt.Errorf("%w: expected %q, got %q", state.ErrETagMismatch, meta.ETag, current)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, backend.TxFailedErr):
		return state.Meta{}, fmt.Errorf("%w: concurrent write to %q", state.ErrETagMismatch, key)
	case errors.Is(err, state.ErrETagMismatch):
		return state.Meta{}, err
	default:
		return state.Meta{}, fmt.Errorf("redisstore: save %q: %w", key, err)
	}
}

func (s *Store[T]) currentETag(ctx context.Context, tx *backend.Tx, key string) (string, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var head struct {
		Meta state.Meta `json:"meta"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("decode stored meta: %w", err)
	}
	return head.Meta.ETag, nil
}

// Delete removes the snapshot for ref, reporting whether one existed.
func (s *Store[T]) Delete(ctx context.Context, ref state.Ref) (bool, error) {
	key, err := s.key(ref)
	if err != nil {
		return false, err
	}
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return n > 0, nil
}

// Close closes the redis client.
func (s *Store[T]) Close() error {
	return s.client.Close()
}
