package signaling

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnicloud/p2psession/internal/codec"
)

func newTestClient(t *testing.T, events Events) (*Client, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	go func() {
		r := bufio.NewReader(server)
		for {
			if _, err := ReadFrame(r, server, time.Second); err != nil {
				return
			}
		}
	}()

	c := NewClient("", "alice", "bob", events)
	c.conn = client
	return c, server
}

func notifyFrame(baseIndex byte) PeerInfoBody {
	return PeerInfoBody{
		SenderID:  "bob",
		TargetID:  "alice",
		Seq:       0,
		BaseIndex: baseIndex,
		Candidates: []codec.CandidateRecord{
			{Kind: codec.KindSrflx, Address: codec.Addr{IP: [4]byte{1, 2, 3, 4}, Port: 9}, Priority: 1},
		},
	}
}

func TestHandlePeerInfoAcceptsMonotonicNotifications(t *testing.T) {
	var delivered int
	c, _ := newTestClient(t, Events{OnRemoteCandidate: func(codec.CandidateRecord) { delivered++ }})

	c.handlePeerInfo(notifyFrame(1))
	c.handlePeerInfo(notifyFrame(2))
	require.Equal(t, 2, delivered)
}

func TestHandlePeerInfoDropsStaleNotification(t *testing.T) {
	var delivered int
	c, _ := newTestClient(t, Events{OnRemoteCandidate: func(codec.CandidateRecord) { delivered++ }})

	c.handlePeerInfo(notifyFrame(10))
	require.Equal(t, 1, delivered)

	// base_index 3 is behind 10 within the 128-wide window: stale, must be
	// ACKed (handlePeerInfo never errors/blocks here) but not delivered.
	c.handlePeerInfo(notifyFrame(3))
	require.Equal(t, 1, delivered)

	c.handlePeerInfo(notifyFrame(11))
	require.Equal(t, 2, delivered)
}

func TestHandlePeerInfoAcceptsAcrossWrapBoundary(t *testing.T) {
	var delivered int
	c, _ := newTestClient(t, Events{OnRemoteCandidate: func(codec.CandidateRecord) { delivered++ }})

	c.handlePeerInfo(notifyFrame(250))
	require.Equal(t, 1, delivered)

	// 1 is a short forward hop from 250 within the 128-wide window (the
	// cyclic counter wraps 255 -> 1, skipping 0): still newer, accepted.
	c.handlePeerInfo(notifyFrame(1))
	require.Equal(t, 2, delivered)

	// Having advanced to 1, a notification claiming 250 again is now behind
	// the wrap and must be dropped as stale.
	c.handlePeerInfo(notifyFrame(250))
	require.Equal(t, 2, delivered)
}

func TestHandlePeerInfoAlwaysForwardsNormalBatch(t *testing.T) {
	var delivered int
	c, _ := newTestClient(t, Events{OnRemoteCandidate: func(codec.CandidateRecord) { delivered++ }})

	body := notifyFrame(0)
	body.Seq = 2 // normal trickled batch, not an address-change notification
	c.handlePeerInfo(body)
	require.Equal(t, 1, delivered)
}
