package ggov

import (
	"errors"
	"fmt"
)

// Governance operations return one of the error types in this file.
// Every wrapper implements Unwrap,
// so context cancellation remains detectable with [errors.Is].

// StorageReadError is returned when the state file cannot be read
// for a reason other than its absence.
type StorageReadError struct {
	Name string
	Err  error
}

func (e StorageReadError) Error() string {
	return fmt.Sprintf("failed to read %q: %v", e.Name, e.Err)
}

func (e StorageReadError) Unwrap() error { return e.Err }

// StorageWriteError is returned when the state file cannot be written.
type StorageWriteError struct {
	Name string
	Err  error
}

func (e StorageWriteError) Error() string {
	return fmt.Sprintf("failed to write %q: %v", e.Name, e.Err)
}

func (e StorageWriteError) Unwrap() error { return e.Err }

// NotFoundError is returned from [Open] when no state was ever created.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no governance state at %q", e.Name)
}

// DeserializationError is returned from [Open] when the state file is malformed.
type DeserializationError struct {
	Name string
	Err  error
}

func (e DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize %q: %v", e.Name, e.Err)
}

func (e DeserializationError) Unwrap() error { return e.Err }

// SignatureError is returned from [*Governance.Vote]
// when the vote or its envelope could not be signed.
type SignatureError struct {
	Err error
}

func (e SignatureError) Error() string {
	return "failed to sign vote: " + e.Err.Error()
}

func (e SignatureError) Unwrap() error { return e.Err }

// PropagationError is returned from [*Governance.Vote]
// when the log did not accept the vote message.
type PropagationError struct {
	Err error
}

func (e PropagationError) Error() string {
	return "failed to propagate vote: " + e.Err.Error()
}

func (e PropagationError) Unwrap() error { return e.Err }

// NetworkError is returned when a log operation other than vote submission fails.
type NetworkError struct {
	// Op names the failed log operation, e.g. "fetch" or "advance".
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("log %s failed: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// HeightMismatchError is returned from [*Governance.Advance]
// when the log's height differs from the asserted height.
// The caller's view is stale: re-read the height and retry.
type HeightMismatchError struct {
	Want, Have uint64
}

func (e HeightMismatchError) Error() string {
	return fmt.Sprintf(
		"log height %d does not match asserted height %d",
		e.Have, e.Want,
	)
}

// IsStorageError reports whether err is one of the storage error types.
func IsStorageError(err error) bool {
	return errors.As(err, new(StorageReadError)) ||
		errors.As(err, new(StorageWriteError)) ||
		errors.As(err, new(NotFoundError)) ||
		errors.As(err, new(DeserializationError))
}
