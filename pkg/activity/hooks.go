package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Event is one scope lifecycle occurrence. Scope events mark creation and
// cleanup; cell events mark a dependent cell reclassified inside a scope.
// The Build*Event helpers construct them and an Emitter delivers them.
type Event struct {
	// Verb is one of the Verb constants.
	Verb     string
	ActorID  string
	UserID   string
	TenantID string
	// ObjectType is ObjectScope or ObjectCell.
	ObjectType string
	// ObjectID is the scope id (or name) for scope events and
	// "<scope>/<cell>" for reclassifications.
	ObjectID string
	Channel  string
	// Metadata carries scope_id, scope_name and parent_id, plus the explicit
	// cell labels on creation and cell, from and to on reclassification.
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivityHook receives scope events. A hook error never fails the scope
// operation that produced the event.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans an event out to every registered hook in order.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards the event to every hook and joins their errors. Events
// missing a verb, object type or object id are dropped, which keeps
// half-built scope events out of sinks.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if !normalized.complete() {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers, copies metadata so hooks cannot mutate
// the scope's view of it, and stamps OccurredAt.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Verb = strings.TrimSpace(event.Verb)
	normalized.ActorID = strings.TrimSpace(event.ActorID)
	normalized.UserID = strings.TrimSpace(event.UserID)
	normalized.TenantID = strings.TrimSpace(event.TenantID)
	normalized.ObjectType = strings.TrimSpace(event.ObjectType)
	normalized.ObjectID = strings.TrimSpace(event.ObjectID)
	normalized.Channel = strings.TrimSpace(event.Channel)
	normalized.Metadata = cloneMap(event.Metadata)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func (e Event) complete() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
