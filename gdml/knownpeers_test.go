package gdml_test

import (
	"testing"

	"github.com/gordian-engine/ggov/gdml"
	"github.com/stretchr/testify/require"
)

func TestKnownPeers(t *testing.T) {
	t.Parallel()

	kp := gdml.NewKnownPeers(gdml.Peer{Name: "a", Addr: "1"})
	kp.Add(gdml.Peer{Name: "b", Addr: "2"})
	kp.Add(gdml.Peer{Name: "a", Addr: "3"})

	require.Equal(t, []gdml.Peer{
		{Name: "a", Addr: "3"},
		{Name: "b", Addr: "2"},
	}, kp.Snapshot())

	require.True(t, kp.Remove("a"))
	require.False(t, kp.Remove("a"))

	snap := kp.Snapshot()
	snap[0].Addr = "changed"
	require.Equal(t, []gdml.Peer{{Name: "b", Addr: "2"}}, kp.Snapshot())
}
