package binding

import (
	"encoding/json"
	"time"
)

// Phase is where a binding sits in its fetch cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhaseFetching Phase = "fetching"
	PhaseFresh    Phase = "fresh"
	PhaseErrored  Phase = "errored"
)

// State is an observable snapshot of a binding.
//
// Err is the last fetch failure and is cleared by the next successful fetch.
// Data keeps the last good value across failures; HasData tells a zero value
// apart from no value. IsStale is set while a revalidation runs over data
// that is already present.
type State[V any] struct {
	Phase     Phase
	Data      V
	HasData   bool
	IsLoading bool
	IsStale   bool
	Err       error
	UpdatedAt time.Time
}

// MarshalJSON renders Err as its message.
func (s State[V]) MarshalJSON() ([]byte, error) {
	out := struct {
		Phase     Phase     `json:"phase"`
		Data      *V        `json:"data"`
		IsLoading bool      `json:"is_loading"`
		IsStale   bool      `json:"is_stale"`
		Error     string    `json:"error,omitempty"`
		UpdatedAt time.Time `json:"updated_at,omitzero"`
	}{
		Phase:     s.Phase,
		IsLoading: s.IsLoading,
		IsStale:   s.IsStale,
		UpdatedAt: s.UpdatedAt,
	}
	if s.HasData {
		out.Data = &s.Data
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}
