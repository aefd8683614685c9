package natclass

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifySameIPAndPortIsFullCone(t *testing.T) {
	c := Classify("203.0.113.5", 4000, "203.0.113.5", 4000)
	require.Equal(t, FullCone, c)
	require.True(t, c.IsP2PFeasible())
}

func TestClassifyDifferentPortIsSymmetric(t *testing.T) {
	c := Classify("203.0.113.5", 4000, "203.0.113.5", 4001)
	require.Equal(t, Symmetric, c)
	require.False(t, c.IsP2PFeasible())
}

func TestClassifyDifferentIPIsSymmetric(t *testing.T) {
	c := Classify("203.0.113.5", 4000, "198.51.100.9", 4000)
	require.Equal(t, Symmetric, c)
	require.False(t, c.IsP2PFeasible())
}

func TestAllClassesExceptSymmetricAreP2PFeasible(t *testing.T) {
	for _, c := range []Class{Unknown, Open, FullCone, RestrictedCone, PortRestrictedCone} {
		require.True(t, c.IsP2PFeasible(), c.String())
	}
	require.False(t, Symmetric.IsP2PFeasible())
}
