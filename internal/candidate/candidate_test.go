package candidate

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	host := Priority(Host, 65535, 1)
	prflx := Priority(Prflx, 65535, 1)
	srflx := Priority(Srflx, 65535, 1)
	relay := Priority(Relay, 65535, 1)

	require.Greater(t, host, prflx)
	require.Greater(t, prflx, srflx)
	require.Greater(t, srflx, relay)
}

func TestPairPriorityTieBreak(t *testing.T) {
	// G > D: tie bit set.
	p1 := PairPriority(100, 50)
	// G < D: tie bit clear, same min/max.
	p2 := PairPriority(50, 100)
	require.Equal(t, p1, p2+1)
}

func TestFormPairsOrderingAndUnfreeze(t *testing.T) {
	local := []Candidate{
		{Kind: Host, Component: 1, Priority: Priority(Host, 65535, 1), Address: net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}},
	}
	remote := []Candidate{
		{Kind: Relay, Component: 1, Priority: Priority(Relay, 65535, 1), Address: net.UDPAddr{IP: net.IPv4(1, 1, 1, 1), Port: 1}},
		{Kind: Host, Component: 1, Priority: Priority(Host, 65535, 1), Address: net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2}},
	}
	pairs := FormPairs(local, remote, true)
	require.Len(t, pairs, 2)
	// Highest pair_priority first.
	require.GreaterOrEqual(t, pairs[0].Priority, pairs[1].Priority)
	// Only the top pair per component unfreezes.
	require.Equal(t, Waiting, pairs[0].State)
	require.Equal(t, Frozen, pairs[1].State)
}

func TestNominateTieBreak(t *testing.T) {
	pairs := []Pair{
		{Local: Candidate{Kind: Srflx}, Remote: Candidate{Kind: Host}, Priority: 100, State: Succeeded},
		{Local: Candidate{Kind: Host}, Remote: Candidate{Kind: Host}, Priority: 100, State: Succeeded},
	}
	winner, ok := Nominate(pairs)
	require.True(t, ok)
	require.Equal(t, Host, winner.Local.Kind)
}

func TestAddRemoteDedup(t *testing.T) {
	e := NewEngine(true, nil, nil, nil)
	c := Candidate{Kind: Host, Component: 1, Address: net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 9}}
	added, _ := e.AddRemote(c)
	require.True(t, added)
	added, _ = e.AddRemote(c)
	require.False(t, added)
	require.Len(t, e.RemoteCandidates(), 1)
}

func TestAddRemotePrflxTakesPrecedenceOverSameAddress(t *testing.T) {
	e := NewEngine(true, nil, nil, nil)
	addr := net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 9}
	added, _ := e.AddRemote(Candidate{Kind: Host, Component: 1, Address: addr})
	require.True(t, added)

	added, _ = e.AddRemote(Candidate{Kind: Prflx, Component: 1, Address: addr})
	require.False(t, added) // same address: not a new candidate, but an upgrade

	remotes := e.RemoteCandidates()
	require.Len(t, remotes, 1)
	require.Equal(t, Prflx, remotes[0].Kind)
}

func TestAddRemoteSchedulesProbeWhenChecking(t *testing.T) {
	e := NewEngine(true, nil, nil, nil)
	e.SetChecking(true)
	_, schedule := e.AddRemote(Candidate{Kind: Host, Component: 1, Address: net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 9}})
	require.True(t, schedule)
}
