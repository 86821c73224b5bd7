// Package gstore contains the named-blob storage contract
// shared by governance state and the distributed message log.
package gstore

import "context"

// Storage is durable read and write of named blobs.
//
// Implementations take a shared scope for ReadFile
// and an exclusive scope for AddOrOverwriteFile,
// so a reader never observes a partially written blob.
// Waiting for a scope must respect ctx.
type Storage interface {
	// ReadFile returns the full contents of the named blob.
	// It returns an error wrapping [ErrFileNotFound]
	// if nothing was written under name.
	// The returned slice is owned by the caller.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// AddOrOverwriteFile replaces the named blob with data.
	// The implementation must not retain data after returning.
	AddOrOverwriteFile(ctx context.Context, name string, data []byte) error
}
