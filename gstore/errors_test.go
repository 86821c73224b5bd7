package gstore_test

import (
	"testing"

	"github.com/gordian-engine/ggov/gstore"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	require.NoError(t, gstore.ValidateName("state.json"))

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "nul\x00"} {
		require.ErrorIs(t, gstore.ValidateName(bad), gstore.InvalidNameError{Name: bad})
	}
}
