// Package usersink forwards scope activity to a go-users ActivitySink.
package usersink

import (
	"context"
	"time"

	"github.com/goliatone/go-cells/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook turns activity events into go-users activity records.
type Hook struct {
	Sink usertypes.ActivitySink
	// Verbs limits forwarding to the listed verbs. Empty forwards everything.
	Verbs []string
	// Now stamps events that carry no timestamp. NormalizeEvent falls back to
	// time.Now when it is nil.
	Now func() time.Time
}

var _ activity.ActivityHook = Hook{}

// Notify logs event to the sink. Incomplete events and verbs outside Verbs
// are dropped without error.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	if event.OccurredAt.IsZero() && h.Now != nil {
		event.OccurredAt = h.Now()
	}
	event = activity.NormalizeEvent(event)
	if event.Verb == "" || event.ObjectType == "" || event.ObjectID == "" || !h.forwards(event.Verb) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, usertypes.ActivityRecord{
		ActorID:    uuidOrNil(event.ActorID),
		UserID:     uuidOrNil(event.UserID),
		TenantID:   uuidOrNil(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		Data:       event.Metadata,
		OccurredAt: event.OccurredAt,
	})
}

func (h Hook) forwards(verb string) bool {
	if len(h.Verbs) == 0 {
		return true
	}
	for _, allowed := range h.Verbs {
		if allowed == verb {
			return true
		}
	}
	return false
}

func uuidOrNil(raw string) uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
