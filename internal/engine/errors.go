package engine

import "errors"

var (
	// ErrThreadNotFound is returned when an operation references a thread id
	// with no checkpointed state.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrNothingToResume is returned when Resume is called for a thread with
	// no pending suspension. A second resume after a single suspension gets
	// the same error: the suspension marker is claimed atomically by the
	// first resume.
	ErrNothingToResume = errors.New("nothing to resume: thread has no pending suspension")

	// ErrRunInFlight is returned when Start or Resume is called while an
	// execution for the same thread id is already in flight in this process.
	ErrRunInFlight = errors.New("run already in flight for this thread")

	// ErrEmptyIntent is returned when a run is started without a goal.
	ErrEmptyIntent = errors.New("intent cannot be empty")
)
