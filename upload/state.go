package upload

import "errors"

// State of a Controller.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateTransmitting
	StatePaused
	StateCompleting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateTransmitting:
		return "transmitting"
	case StatePaused:
		return "paused"
	case StateCompleting:
		return "completing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// busy reports whether a transfer loop or a backend control call is in flight.
func (s State) busy() bool {
	return s == StateInitializing || s == StateTransmitting || s == StateCompleting
}

// Caller errors. None of them changes the Controller state.
var (
	ErrNoFile            = errors.New("no file selected")
	ErrBusy              = errors.New("an upload is already in progress")
	ErrNotTransmitting   = errors.New("upload is not transmitting")
	ErrNothingToResume   = errors.New("no paused upload with a selected file to resume")
	ErrNothingToComplete = errors.New("no session waiting for completion")
)

// Status is a point-in-time snapshot of a Controller.
type Status struct {
	State     State
	SessionID string
	FileName  string
	NextIndex int
	Progress  int
	Err       error
}
