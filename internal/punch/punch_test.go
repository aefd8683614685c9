package punch

import (
	"net"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/omnicloud/p2psession/internal/candidate"
	"github.com/omnicloud/p2psession/internal/codec"
)

func remoteCand(port int) candidate.Candidate {
	addr := net.UDPAddr{IP: net.IPv4(203, 0, 113, byte(port)), Port: port}
	return candidate.Candidate{Kind: candidate.Host, Address: addr, Component: 1}
}

func TestStartSendsInitialPunchToEveryCandidate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)

	var sent []byte
	var sentAddrs []net.UDPAddr
	e.Send = func(addr net.UDPAddr, typ byte) {
		sent = append(sent, typ)
		sentAddrs = append(sentAddrs, addr)
	}

	e.Start([]candidate.Candidate{remoteCand(1), remoteCand(2)})

	require.Equal(t, Punching, e.State())
	require.Len(t, sent, 2)
	for _, typ := range sent {
		require.Equal(t, codec.TypePunch, typ)
	}
}

func TestOnPunchPromotesAndReplies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)
	e.Send = func(net.UDPAddr, byte) {}
	e.Start([]candidate.Candidate{remoteCand(1)})

	var replyTyp byte
	var replyAddr net.UDPAddr
	e.Send = func(addr net.UDPAddr, typ byte) { replyTyp = typ; replyAddr = addr }

	from := net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 9}
	e.OnPunch(from)

	require.Equal(t, codec.TypePunchAck, replyTyp)
	require.Equal(t, from.String(), replyAddr.String())
	require.Equal(t, Connected, e.State())
	active, ok := e.Active()
	require.True(t, ok)
	require.Equal(t, from.String(), active.String())
}

func TestTickRetriesWithDoublingSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)

	var sendCount int
	e.Send = func(net.UDPAddr, byte) { sendCount++ }
	e.Start([]candidate.Candidate{remoteCand(1)})
	require.Equal(t, 1, sendCount)

	clock.Advance(39 * msDuration)
	e.Tick()
	require.Equal(t, 1, sendCount, "schedule has not elapsed yet")

	clock.Advance(2 * msDuration)
	e.Tick()
	require.Equal(t, 2, sendCount, "first retry after 40ms")

	clock.Advance(80 * msDuration)
	e.Tick()
	require.Equal(t, 3, sendCount, "second retry after doubled 80ms window")
}

func TestTickFallsBackToRelayAfterDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)
	e.Send = func(net.UDPAddr, byte) {}
	e.Start([]candidate.Candidate{remoteCand(1)})

	clock.Advance(8001 * msDuration)
	e.Tick()

	require.Equal(t, Relay, e.State())
	require.False(t, e.DeadlineExceededWithoutRelay())
}

func TestDeadlineExceededWithoutRelayWhenNoRelayConfigured(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, false, false)
	e.Send = func(net.UDPAddr, byte) {}
	e.Start([]candidate.Candidate{remoteCand(1)})

	clock.Advance(8001 * msDuration)
	e.Tick()

	require.Equal(t, Punching, e.State())
	require.True(t, e.DeadlineExceededWithoutRelay())
}

func TestTryLANShortcutRequiresMeasuredRTT(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)

	require.False(t, e.TryLANShortcut(remoteCand(1), -1, true), "negative rtt is not a measurement")
	require.False(t, e.TryLANShortcut(remoteCand(1), 200, true), "rtt above threshold")
	require.False(t, e.TryLANShortcut(remoteCand(1), 10, false), "different subnet")
	require.True(t, e.TryLANShortcut(remoteCand(1), 10, true))
	require.Equal(t, Connected, e.State())
}

func TestTryLANShortcutDisabledByConfig(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, true)
	require.False(t, e.TryLANShortcut(remoteCand(1), 5, true))
	require.Equal(t, Init, e.State())
}

func TestAddCandidateTricklesImmediatelyWhenPunching(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)
	var sendCount int
	e.Send = func(net.UDPAddr, byte) { sendCount++ }
	e.Start(nil)
	require.Equal(t, 0, sendCount)

	e.AddCandidate(remoteCand(5))
	require.Equal(t, 1, sendCount)
}

func TestForceRelaySkipsPunchSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(clock, true, false)
	var sendCount int
	e.Send = func(net.UDPAddr, byte) { sendCount++ }

	e.ForceRelay()

	require.Equal(t, Relay, e.State())
	require.Equal(t, 0, sendCount)
	require.False(t, e.DeadlineExceededWithoutRelay())
}

const msDuration = 1000000 // nanoseconds per millisecond, kept local to avoid pulling in "time" for a single constant
