// Package state persists scope snapshots.
//
// A Snapshot maps catalog names to the values of a scope's explicit cells.
// Store[T] only loads and saves one snapshot for one Ref; the helpers in this
// package move values between a live scope and a store:
//
//	scope -> Capture -> Snapshot -> Store.Save
//	Store.Load -> Snapshot -> SeedOptions -> scope.New
//
// Stores implement optimistic concurrency with Meta.ETag. A Save carrying an
// ETag that no longer matches the stored record fails with ErrETagMismatch;
// a Save with an empty ETag always wins.
//
// Ref.Identifier() is the canonical storage key, `<domain>/<scope>`.
package state
