// Package glog contains small helpers for consistent slog fields.
package glog

import "log/slog"

// H returns a copy of log that includes the governance height.
func H(log *slog.Logger, height uint64) *slog.Logger {
	return log.With("height", height)
}

// HE returns a copy of log that includes the governance height and an error.
func HE(log *slog.Logger, height uint64, e error) *slog.Logger {
	return log.With("height", height, "err", e)
}
