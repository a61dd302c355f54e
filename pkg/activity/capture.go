package activity

import (
	"context"
	"sync"
)

// CaptureHook records events for assertions in tests.
type CaptureHook struct {
	Events []Event
	Err    error
	mu     sync.Mutex
}

// Notify records the event and returns any configured error.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, NormalizeEvent(event))
	return h.Err
}

// Verbs lists the verbs recorded so far in order.
func (h *CaptureHook) Verbs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.Events))
	for _, event := range h.Events {
		out = append(out, event.Verb)
	}
	return out
}

// Find returns the first recorded event with verb.
func (h *CaptureHook) Find(verb string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, event := range h.Events {
		if event.Verb == verb {
			return event, true
		}
	}
	return Event{}, false
}
