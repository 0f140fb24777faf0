package pipeline

import (
	"time"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/failure"
)

// State is a pipeline run state
type State string

const (
	StateIdle             State = "idle"
	StateCaptureRequested State = "capture_requested"
	StateCaptureReady     State = "capture_ready"
	StateCropped          State = "cropped"
	StateExtracting       State = "extracting"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// busy reports whether a run is between the capture request and its result
func (s State) busy() bool {
	switch s {
	case StateCaptureRequested, StateCaptureReady, StateCropped, StateExtracting:
		return true
	}
	return false
}

// Event reports one state transition
type Event struct {
	RunID  string         `json:"run_id,omitempty"`
	Prev   State          `json:"prev"`
	State  State          `json:"state"`
	Intent capture.Intent `json:"intent"`
	// Text is set on Done
	Text string `json:"text,omitempty"`
	// Attached is set on Done when an AI capture was kept for the next question
	Attached bool           `json:"attached,omitempty"`
	Error    *failure.Error `json:"error,omitempty"`
	At       time.Time      `json:"at"`
}

// Listener is invoked on every state transition
type Listener func(Event)

// Status is a snapshot of the orchestrator
type Status struct {
	State    State          `json:"state"`
	RunID    string         `json:"run_id,omitempty"`
	Intent   capture.Intent `json:"intent"`
	Error    *failure.Error `json:"error,omitempty"`
	Attached bool           `json:"attached"`
}
