package gdml

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLogClosed is returned from every [Log] method after the log is closed.
var ErrLogClosed = errors.New("log closed")

// NoReachablePeersError is returned when a push or fetch
// could not complete against any peer.
type NoReachablePeersError struct {
	// Errs holds one error per attempted peer, keyed by peer name.
	Errs map[string]error
}

func (e NoReachablePeersError) Error() string {
	if len(e.Errs) == 0 {
		return "no reachable peers"
	}

	parts := make([]string, 0, len(e.Errs))
	for name, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return "no reachable peers (" + strings.Join(parts, "; ") + ")"
}

func (e NoReachablePeersError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errs))
	for _, err := range e.Errs {
		errs = append(errs, err)
	}
	return errs
}

// HeightMismatchError is returned when a message is stamped with a height
// other than the log's current height.
type HeightMismatchError struct {
	Current, Message uint64
}

func (e HeightMismatchError) Error() string {
	return fmt.Sprintf(
		"message height %d does not match current log height %d",
		e.Message, e.Current,
	)
}

// IsNoReachablePeers reports whether err is or wraps a [NoReachablePeersError].
func IsNoReachablePeers(err error) bool {
	return errors.As(err, new(NoReachablePeersError))
}
