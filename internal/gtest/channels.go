// Package gtest contains helpers for tests that synchronize on channels.
package gtest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] used by the helpers,
// so that the helpers can themselves be tested.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon attempts to receive a value from ch.
// If the receive is blocked for a reasonable default timeout, tb.Fatal is called.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(500))
}

// ReceiveOrTimeout attempts to receive a value from ch within timeout.
//
// Most tests should use [ReceiveSoon].
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; set GGOV_TEST_TIME_FACTOR above %d if this only flakes on one machine",
			ch, ch, TimeFactor,
		)
		// Fatalf stops the goroutine for a real testing.TB,
		// but the helper tests use a fake.
		panic("unreachable")
	case x := <-ch:
		return x
	}
}

// NotSending fails the test if a value is immediately available on ch.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to check that a nil channel is not sending (%T %v)", ch, ch)
		panic("unreachable")
	}

	select {
	case x := <-ch:
		tb.Fatalf("no value should have been sent on channel %T %v; got %v", ch, ch, x)
	default:
		// Okay.
	}
}
