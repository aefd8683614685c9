package signaling

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/omnicloud/p2psession/internal/codec"
)

var clientLogger = log.New(os.Stdout, "[signaling-client] ", log.LstdFlags)

// ClientState is the client-side state machine: IDLE -> REGISTERING ->
// REGISTERED -> READY -> CLOSING -> CLOSED (spec §4.E).
type ClientState int

const (
	StateIdle ClientState = iota
	StateRegistering
	StateRegistered
	StateReady
	StateClosing
	StateClosed
)

// RegisterRetryInterval is the initial backoff interval for dialing the
// server. REGISTER itself is sent once per connection and is not
// retransmitted; RegisterMaxAttempts is not used by Client.
const (
	RegisterRetryInterval = 2 * time.Second
	RegisterMaxAttempts   = 10
)

// Events delivered to the owning session orchestrator.
type Events struct {
	OnPeerOnline      func()
	OnPeerOffline     func()
	OnRemoteCandidate func(codec.CandidateRecord)
	OnPeerOff         func(peerID string, sessionID uint64)
	OnNATProbeAck     func(codec.NATProbeAckBody)
}

// Client is the stateful-signaling client: it owns the reliable stream to
// the rendezvous server, dials it with backoff, and dispatches incoming
// frames to the session via Events. REGISTER and PEER_INFO are written once
// each; they are not retransmitted when no ACK arrives.
type Client struct {
	serverAddr string
	localID    string
	remoteID   string

	mu     sync.Mutex
	state  ClientState
	conn   net.Conn
	reader *bufio.Reader

	events Events

	localCandidates []codec.CandidateRecord
	nextSeq         uint16
	nextNotifySeq   byte

	haveNotify     bool // whether lastNotifyIndex holds a real accepted value yet
	lastNotifyIndex byte // highest accepted address-change base_index (spec §8 property 4)

	peerOnlinePending bool // OnPeerOnline deferred until NAT_PROBE_ACK is handled

	observedAddr codec.Addr
	maxCandidates byte
	relayAvailable bool
	sessionID      uint64
}

func NewClient(serverAddr, localID, remoteID string, events Events) *Client {
	return &Client{serverAddr: serverAddr, localID: localID, remoteID: remoteID, events: events, nextSeq: 2}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server with exponential backoff (cenkalti/backoff,
// replacing the teacher's hand-rolled doubling in internal/relay/client.go),
// then registers and starts the read loop. Blocks until ctx is cancelled or
// the connection is closed.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateRegistering)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RegisterRetryInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until ctx cancellation

	var conn net.Conn
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", c.serverAddr, 10*time.Second)
		return dialErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("signaling: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()

	if err := c.register(); err != nil {
		return err
	}

	return c.readLoop(ctx)
}

func (c *Client) register() error {
	body := RegisterBody{LocalID: c.localID, RemoteID: c.remoteID, Candidates: c.localCandidates}
	if err := WriteFrame(c.conn, Frame{Type: MsgRegister, Body: EncodeRegister(body)}); err != nil {
		return fmt.Errorf("signaling: register: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		frame, err := ReadFrame(c.reader, c.conn, ReadTimeout)
		if err != nil {
			c.setState(StateClosed)
			return err
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Type {
	case MsgRegisterAck:
		ack, err := DecodeRegisterAck(frame.Body)
		if err != nil {
			clientLogger.Printf("malformed REGISTER_ACK: %v", err)
			return
		}
		c.mu.Lock()
		c.observedAddr = ack.ObservedAddr
		c.maxCandidates = ack.MaxCandidates
		c.relayAvailable = ack.RelayAvailable
		c.sessionID = ack.SessionID
		c.state = StateRegistered
		c.mu.Unlock()
		// NAT_PROBE is sent during registration so the orchestrator has a
		// classified NAT type available before it commits to PUNCHING
		// (SPEC_FULL.md §12).
		probeErr := WriteFrame(c.conn, Frame{Type: MsgNATProbe})
		if probeErr != nil {
			clientLogger.Printf("nat_probe send failed: %v", probeErr)
		}
		if ack.Status == StatusPeerOnline {
			if probeErr == nil {
				c.mu.Lock()
				c.peerOnlinePending = true
				c.mu.Unlock()
			} else if c.events.OnPeerOnline != nil {
				c.events.OnPeerOnline()
			}
		} else if c.events.OnPeerOffline != nil {
			c.events.OnPeerOffline()
		}

	case MsgPeerInfo:
		info, err := DecodePeerInfo(frame.Body)
		if err != nil {
			clientLogger.Printf("malformed PEER_INFO: %v", err)
			return
		}
		c.handlePeerInfo(info)

	case MsgPeerOff:
		body, err := DecodePeerOff(frame.Body)
		if err != nil {
			clientLogger.Printf("malformed PEER_OFF: %v", err)
			return
		}
		c.setState(StateRegistered)
		if c.events.OnPeerOff != nil {
			c.events.OnPeerOff(body.PeerID, body.SessionID)
		}

	case MsgNATProbeAck:
		body, err := DecodeNATProbeAck(frame.Body)
		if err == nil && c.events.OnNATProbeAck != nil {
			c.events.OnNATProbeAck(body)
		}
		c.mu.Lock()
		pending := c.peerOnlinePending
		c.peerOnlinePending = false
		c.mu.Unlock()
		if pending && c.events.OnPeerOnline != nil {
			c.events.OnPeerOnline()
		}

	case MsgAliveAck:
		// heartbeat round-trip observed; nothing further to do

	default:
		clientLogger.Printf("unexpected message type 0x%02x", frame.Type)
	}
}

func (c *Client) handlePeerInfo(info PeerInfoBody) {
	// PEER_INFO_ACK is sent unconditionally, even for a notification the
	// staleness check below goes on to discard (spec §8 property 4: "ACKed
	// but ignored").
	WriteFrame(c.conn, Frame{Type: MsgPeerInfoAck, Body: EncodePeerInfoAck(PeerInfoAckBody{Seq: info.Seq})})

	if info.Seq == 0 {
		// Address-change notification: base_index is an 8-bit cyclic
		// counter (1..255). Accept only if strictly newer than the last
		// accepted index within the 128-wide staleness window; a stale
		// notification is dropped here instead of reaching
		// OnRemoteCandidate/AddRemote.
		c.mu.Lock()
		accept := !c.haveNotify || int8(info.BaseIndex-c.lastNotifyIndex) > 0
		if accept {
			c.haveNotify = true
			c.lastNotifyIndex = info.BaseIndex
		}
		c.mu.Unlock()
		if !accept {
			return
		}
	}

	for _, rec := range info.Candidates {
		if c.events.OnRemoteCandidate != nil {
			c.events.OnRemoteCandidate(rec)
		}
	}
	if info.Seq == 1 {
		c.mu.Lock()
		c.state = StateReady
		c.mu.Unlock()
	}
}

// SendCandidate trickles one freshly gathered local candidate to the
// partner via PEER_INFO(seq>=2), or as an address-change notification when
// notify is true (seq==0, base_index cycling 1..255, spec §4.E).
func (c *Client) SendCandidate(rec codec.CandidateRecord, notify bool) error {
	c.mu.Lock()
	conn := c.conn
	var body PeerInfoBody
	if notify {
		c.nextNotifySeq++
		if c.nextNotifySeq == 0 {
			c.nextNotifySeq = 1
		}
		body = PeerInfoBody{SenderID: c.localID, TargetID: c.remoteID, Seq: 0, BaseIndex: c.nextNotifySeq, Candidates: []codec.CandidateRecord{rec}}
	} else {
		seq := c.nextSeq
		c.nextSeq++
		body = PeerInfoBody{SenderID: c.localID, TargetID: c.remoteID, Seq: seq, BaseIndex: 0, Candidates: []codec.CandidateRecord{rec}, Flags: codec.FlagFIN}
	}
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}
	return WriteFrame(conn, Frame{Type: MsgPeerInfo, Body: EncodePeerInfo(body)})
}

// Heartbeat sends an ALIVE message; callers drive this on a ticker (spec
// §5: heartbeat every 10s).
func (c *Client) Heartbeat() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return WriteFrame(conn, Frame{Type: MsgAlive})
}

// ObservedAddr returns the server-reflexive endpoint learned from
// REGISTER_ACK.
func (c *Client) ObservedAddr() codec.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observedAddr
}

// SessionID returns the 64-bit session identifier assigned by the server on
// REGISTER_ACK (spec §3), 0 before registration completes.
func (c *Client) SessionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close initiates CLOSING and closes the underlying connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.state == StateClosing {
		return nil
	}
	c.state = StateClosing
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.state = StateClosed
	return err
}
