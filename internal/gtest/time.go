package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor multiplies every test timeout in this package.
// It is read from the GGOV_TEST_TIME_FACTOR environment variable,
// so a contended CI machine can run with e.g. GGOV_TEST_TIME_FACTOR=3
// without changing any test.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GGOV_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse GGOV_TEST_TIME_FACTOR (%q) into an integer: %w",
			f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("GGOV_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

// ScaledDuration is a duration already multiplied by [TimeFactor].
// Produce one with [ScaleMs].
type ScaledDuration time.Duration

// ScaleMs returns ms milliseconds scaled by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return ScaledDuration(time.Duration(ms) * time.Millisecond * time.Duration(TimeFactor))
}
