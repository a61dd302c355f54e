package activity

import (
	"strings"
	"time"
)

const (
	VerbScopeCreated     = "scope.created"
	VerbScopeDisposed    = "scope.disposed"
	VerbCellReclassified = "cell.reclassified"

	ObjectScope = "scope"
	ObjectCell  = "cell"
)

// ScopeContext identifies the scope an event belongs to.
type ScopeContext struct {
	ID       string
	Name     string
	ParentID string
	Metadata map[string]any
}

// ScopeEventInput describes the common fields for scope lifecycle events.
type ScopeEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	Channel    string
	Metadata   map[string]any
	Scope      ScopeContext
	Explicit   []string
	OccurredAt time.Time
}

// ReclassificationInput describes a dependent cell moving between its scoped
// and unscoped representations.
type ReclassificationInput struct {
	ScopeEventInput
	Cell string
	From string
	To   string
}

// BuildScopeCreatedEvent constructs the event emitted when a scope is created.
func BuildScopeCreatedEvent(input ScopeEventInput) Event {
	event := buildScopeEvent(VerbScopeCreated, ObjectScope, input)
	if len(input.Explicit) > 0 {
		event.Metadata = ensureMetadata(event.Metadata)
		event.Metadata["explicit"] = append([]string{}, input.Explicit...)
	}
	return event
}

// BuildScopeDisposedEvent constructs the event emitted by scope cleanup.
func BuildScopeDisposedEvent(input ScopeEventInput) Event {
	return buildScopeEvent(VerbScopeDisposed, ObjectScope, input)
}

// BuildCellReclassifiedEvent constructs the event emitted when a dependent
// cell changes classification inside a scope.
func BuildCellReclassifiedEvent(input ReclassificationInput) Event {
	event := buildScopeEvent(VerbCellReclassified, ObjectCell, input.ScopeEventInput)
	event.Metadata = ensureMetadata(event.Metadata)
	event.Metadata["cell"] = input.Cell
	event.Metadata["from"] = input.From
	event.Metadata["to"] = input.To
	if cell := strings.TrimSpace(input.Cell); cell != "" {
		event.ObjectID = scopedObjectID(input.Scope, cell)
	}
	return event
}

func buildScopeEvent(verb, objectType string, input ScopeEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Scope.Name != "" {
		metadata = ensureMetadata(metadata)
		metadata["scope_name"] = input.Scope.Name
	}
	if input.Scope.ID != "" {
		metadata = ensureMetadata(metadata)
		metadata["scope_id"] = input.Scope.ID
	}
	if input.Scope.ParentID != "" {
		metadata = ensureMetadata(metadata)
		metadata["parent_id"] = input.Scope.ParentID
	}
	if len(input.Scope.Metadata) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["scope_metadata"] = cloneMap(input.Scope.Metadata)
	}

	objectID := strings.TrimSpace(input.Scope.ID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Scope.Name)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func scopedObjectID(scope ScopeContext, cell string) string {
	prefix := strings.TrimSpace(scope.ID)
	if prefix == "" {
		prefix = strings.TrimSpace(scope.Name)
	}
	if prefix == "" {
		return cell
	}
	return prefix + "/" + cell
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
