// Package trigger defines revalidation signal sources for bindings.
package trigger

import (
	"context"
	"time"
)

// Event names what happened in the environment.
type Event string

const (
	// EventFocus is emitted when the window regains focus.
	EventFocus Event = "focus"
	// EventVisible is emitted when the document becomes visible again.
	EventVisible  Event = "visibilitychange"
	EventManual   Event = "manual"
	EventInterval Event = "interval"
	// EventRevalidate asks bindings to refetch while keeping their data.
	EventRevalidate Event = "revalidate"
	// EventInvalidate asks bindings to drop the cached entry before refetching.
	EventInvalidate Event = "invalidate"
)

// IsEnvironment reports whether e is a focus or visibility event. Bindings
// honour these only when refetch-on-focus is enabled.
func (e Event) IsEnvironment() bool {
	return e == EventFocus || e == EventVisible
}

// Signal asks subscribed bindings to revalidate.
type Signal struct {
	Event  Event     `json:"event"`
	Key    string    `json:"key,omitempty"` // empty targets every binding
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

// Matches reports whether the signal targets key.
func (s Signal) Matches(key string) bool {
	return s.Key == "" || s.Key == key
}

// Source produces signals. Each call to Signals starts an independent
// subscription whose channel is closed once ctx is done.
type Source interface {
	Name() string
	Signals(ctx context.Context) <-chan Signal
}
