package gwatchdog

import (
	"context"
	"errors"
)

// IsTermination reports whether ctx was canceled by a watchdog,
// as opposed to its parent being canceled.
func IsTermination(ctx context.Context) bool {
	cause := context.Cause(ctx)
	if cause == nil {
		return false
	}

	return errors.As(cause, new(FailureToRespondError)) ||
		errors.As(cause, new(ForcedTerminationError))
}

// FailureToRespondError indicates that a monitored loop
// did not answer its signal within the response timeout.
type FailureToRespondError struct {
	SubsystemName string
}

func (e FailureToRespondError) Error() string {
	return e.SubsystemName + " failed to respond to watchdog monitoring within expected duration"
}

// ForcedTerminationError indicates that [*Watchdog.Terminate] was called.
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "watchdog forced termination: " + e.Reason
}
