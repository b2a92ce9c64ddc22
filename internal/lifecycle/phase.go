package lifecycle

import "errors"

// Phase is where the coordinator is in its lifecycle.
type Phase int

const (
	PhaseInitialized Phase = iota
	PhaseCreated
	PhasePostCreated
	// PhaseActive is entered when the playback service first reports ready.
	PhaseActive
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialized:
		return "initialized"
	case PhaseCreated:
		return "created"
	case PhasePostCreated:
		return "post_created"
	case PhaseActive:
		return "active"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrInvalidPhase is returned when a lifecycle event arrives out of order.
var ErrInvalidPhase = errors.New("lifecycle: invalid phase")
