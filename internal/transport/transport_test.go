package transport

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndWindowFull(t *testing.T) {
	tr := New(4, clockwork.NewFakeClock())
	for i := 0; i < 4; i++ {
		_, err := tr.Submit([]byte("x"))
		require.NoError(t, err)
	}
	_, err := tr.Submit([]byte("overflow"))
	require.ErrorIs(t, err, ErrWindowFull)
	require.Equal(t, 4, tr.InFlight())
}

func TestSubmitPayloadTooLarge(t *testing.T) {
	tr := New(4, clockwork.NewFakeClock())
	_, err := tr.Submit(make([]byte, 1201))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestOnAckCumulative(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := New(4, clock)
	for i := 0; i < 3; i++ {
		_, err := tr.Submit([]byte("x"))
		require.NoError(t, err)
	}
	clock.Advance(10_000_000) // nanoseconds, small
	tr.OnAck(2, 0)
	require.Equal(t, 1, tr.InFlight())
}

func TestOnAckSack(t *testing.T) {
	tr := New(8, clockwork.NewFakeClock())
	for i := 0; i < 4; i++ {
		_, err := tr.Submit([]byte("x"))
		require.NoError(t, err)
	}
	// ack_seq=0 means nothing cumulative yet; sack bit 2 acks seq 2.
	tr.OnAck(0, 1<<2)
	require.Equal(t, 3, tr.InFlight())
}

func TestOnDataDedupAndRange(t *testing.T) {
	tr := New(4, clockwork.NewFakeClock())
	require.True(t, tr.OnData(0, []byte("a")))
	require.False(t, tr.OnData(0, []byte("a"))) // duplicate
	require.False(t, tr.OnData(10, []byte("b"))) // out of window
}

func TestRecvInOrder(t *testing.T) {
	tr := New(4, clockwork.NewFakeClock())
	tr.OnData(1, []byte("b"))
	tr.OnData(0, []byte("a"))

	buf := make([]byte, 16)
	n := tr.Recv(buf)
	require.Equal(t, 1, n)
	require.Equal(t, "a", string(buf[:n]))

	n = tr.Recv(buf)
	require.Equal(t, 1, n)
	require.Equal(t, "b", string(buf[:n]))

	require.Equal(t, 0, tr.Recv(buf))
}

func TestTickRetransmitsAfterRTO(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := New(4, clock)
	seq, _ := tr.Submit([]byte("x"))

	entries := tr.Tick(clock.Now().UnixMilli())
	require.Empty(t, entries)

	clock.Advance(300_000_000) // 300ms in nanoseconds
	entries = tr.Tick(clock.Now().UnixMilli())
	require.Len(t, entries, 1)
	require.Equal(t, seq, entries[0].Seq)
}

func TestNoOvercommit(t *testing.T) {
	tr := New(32, clockwork.NewFakeClock())
	accepted := 0
	for i := 0; i < 100; i++ {
		if _, err := tr.Submit([]byte("x")); err == nil {
			accepted++
		}
	}
	require.Equal(t, 32, accepted)
	require.LessOrEqual(t, tr.InFlight(), 32)
}

func TestSeqWrapAround(t *testing.T) {
	require.Positive(t, seqDiff(1, 0))
	require.Negative(t, seqDiff(0, 1))
	require.Positive(t, seqDiff(0, 65535))
	require.Negative(t, seqDiff(65535, 0))
}
