package signaling

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnicloud/p2psession/internal/codec"
)

func TestFrameRoundTripOverLoopback(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan Frame, 1)
	go func() {
		f, err := ReadFrame(bufio.NewReader(server), server, time.Second)
		require.NoError(t, err)
		done <- f
	}()

	err := WriteFrame(client, Frame{Type: MsgAlive, Body: []byte("hi")})
	require.NoError(t, err)

	f := <-done
	require.Equal(t, MsgAlive, f.Type)
	require.Equal(t, []byte("hi"), f.Body)
}

func TestRegisterBodyRoundTrip(t *testing.T) {
	b := RegisterBody{
		LocalID:  "alice",
		RemoteID: "bob",
		Candidates: []codec.CandidateRecord{
			{Kind: codec.KindHost, Address: codec.Addr{IP: [4]byte{10, 0, 0, 1}, Port: 1}, Priority: 100},
		},
	}
	got, err := DecodeRegister(EncodeRegister(b))
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestRegisterAckBodyRoundTrip(t *testing.T) {
	b := RegisterAckBody{
		Status:         StatusPeerOnline,
		MaxCandidates:  8,
		ObservedAddr:   codec.Addr{IP: [4]byte{203, 0, 113, 9}, Port: 4321},
		ProbePort:      4322,
		RelayAvailable: true,
		SessionID:      SessionIDWire("a-uuid-looking-session-id"),
	}
	got, err := DecodeRegisterAck(EncodeRegisterAck(b))
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestPeerOffBodyRoundTrip(t *testing.T) {
	b := PeerOffBody{PeerID: "alice", SessionID: SessionIDWire("alice-session")}
	got, err := DecodePeerOff(EncodePeerOff(b))
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestPeerInfoBodyRoundTrip(t *testing.T) {
	b := PeerInfoBody{
		SenderID:  "alice",
		TargetID:  "bob",
		Seq:       1,
		BaseIndex: 0,
		Flags:     codec.FlagFIN,
		Candidates: []codec.CandidateRecord{
			{Kind: codec.KindSrflx, Address: codec.Addr{IP: [4]byte{1, 2, 3, 4}, Port: 5}, Priority: 1},
		},
	}
	got, err := DecodePeerInfo(EncodePeerInfo(b))
	require.NoError(t, err)
	require.Equal(t, b, got)
}
