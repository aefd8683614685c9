// Package session implements the Session Orchestrator (spec §4.G): it owns
// one peer session, wires the packet codec, reliable transport, NAT punch
// engine, candidate engine and signaling plane together, and exposes the
// byte-stream interface (send/recv) plus state queries.
package session

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/omnicloud/p2psession/internal/candidate"
	"github.com/omnicloud/p2psession/internal/codec"
	"github.com/omnicloud/p2psession/internal/config"
	"github.com/omnicloud/p2psession/internal/metrics"
	"github.com/omnicloud/p2psession/internal/natclass"
	"github.com/omnicloud/p2psession/internal/punch"
	"github.com/omnicloud/p2psession/internal/signaling"
	"github.com/omnicloud/p2psession/internal/transport"
)

var logger = log.New(os.Stdout, "[session] ", log.LstdFlags)

// CloseDeadline bounds how long close() waits for the retransmit queue to
// flush before forcing CLOSED (spec §5 "T_close").
const CloseDeadline = 2 * time.Second

// HeartbeatInterval is how often ALIVE is sent (spec §5: every 10s).
const HeartbeatInterval = 10 * time.Second

// Callbacks mirror spec §4.G's optional callback set.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnData         func([]byte)
}

type rawPacket struct {
	addr net.UDPAddr
	data []byte
}

// Session is one peer-to-peer connection. All mutating operations
// (Tick/Send/Recv/Connect/Close) are expected to be called from a single
// logical thread, per spec §5's cooperative concurrency model.
type Session struct {
	cfg   *config.Config
	clock clockwork.Clock

	mu    sync.Mutex
	state State
	path  Path

	conn *net.UDPConn

	candEngine  *candidate.Engine
	punchEngine *punch.Engine
	xport       *transport.Transport

	sigClient *signaling.Client
	remoteID  string

	natClass natclass.Class

	pktCh chan rawPacket
	errCh chan error

	cb Callbacks

	closeDeadline int64 // unix ms; set when CLOSING starts
	closedSocket  bool

	lastHeartbeatMS int64
}

// Create allocates a session, binds the UDP socket, and initializes all
// components. Mirrors spec §4.G's create(config).
func Create(cfg *config.Config, cb Callbacks) (*Session, error) {
	if cfg == nil {
		return nil, fatalf(KindInvalidConfig, "nil config")
	}
	if len(cfg.PeerID) == 0 || len(cfg.PeerID) > 32 {
		return nil, fatalf(KindInvalidConfig, "peer_id must be 1..32 bytes")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.BindPort})
	if err != nil {
		return nil, fatalf(KindInvalidConfig, "bind udp: %w", err)
	}

	s := &Session{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		state: Idle,
		conn:  conn,
		pktCh: make(chan rawPacket, 256),
		errCh: make(chan error, 4),
		cb:    cb,
		xport: transport.New(transport.DefaultWindow, clockwork.NewRealClock()),
	}

	controlling := false // set properly once Connect is called with a remote id
	s.candEngine = candidate.NewEngine(controlling, candidate.NewPionStunClient(), candidate.NewPionTurnClient(), s.onLocalCandidate)
	s.punchEngine = punch.New(s.clock, cfg.TurnServer != "", cfg.DisableLANShortcut)
	s.punchEngine.Send = s.sendPunchPacket

	go s.readLoop()

	return s, nil
}

func (s *Session) sendPunchPacket(addr net.UDPAddr, typ byte) {
	buf := codec.Encode(typ, 0, 0, nil)
	if typ == codec.TypePunch {
		metrics.PunchAttempts.Inc()
	}
	s.conn.WriteToUDP(buf, &addr)
}

func (s *Session) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case s.errCh <- err:
			default:
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case s.pktCh <- rawPacket{addr: *addr, data: data}:
		default:
			// backlog full; drop, matching the "transient I/O ... silently
			// retry; no surface" treatment for packet drops (spec §7).
		}
	}
}

func (s *Session) onLocalCandidate(c candidate.Candidate) {
	s.mu.Lock()
	client := s.sigClient
	st := s.state
	s.mu.Unlock()
	if client == nil || st == Idle {
		return
	}

	// A fresh SRFLX/host candidate surfacing once punching is already under
	// way (or past it) means our observed address changed underneath us,
	// e.g. a NAT rebind; tell the partner via an address-change
	// notification instead of a normal trickle (spec §4.E, §8 property 4).
	// The asynchronous STUN/TURN lookups kicked off by GatherLocal are the
	// real trigger: they can resolve well after the state machine has
	// already moved past REGISTERING.
	notify := (st == Punching || st == Connected || st == Relay) &&
		(c.Kind == candidate.Host || c.Kind == candidate.Srflx)

	if err := client.SendCandidate(c.Record(), notify); err != nil {
		logger.Printf("trickle local candidate failed: %v", err)
	}
}

// Connect starts registration. remoteID == "" means passive role (wait for
// any offerer), per spec §4.G connect(remote_id | null).
func (s *Session) Connect(ctx context.Context, remoteID string) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fatalf(KindInvalidConfig, "connect called outside IDLE state")
	}
	s.remoteID = remoteID
	s.state = Registering
	controlling := remoteID != ""
	s.mu.Unlock()

	s.candEngine = candidate.NewEngine(controlling, candidate.NewPionStunClient(), candidate.NewPionTurnClient(), s.onLocalCandidate)
	s.punchEngine.Send = s.sendPunchPacket

	if err := s.candEngine.GatherLocal(s.conn, joinHostPort(s.cfg.StunServer, s.cfg.StunPort), joinHostPort(s.cfg.TurnServer, s.cfg.TurnPort), s.cfg.TurnUser, s.cfg.TurnPass, true); err != nil {
		return fatalf(KindInvalidConfig, "gather_local: %w", err)
	}

	switch s.cfg.SignalingMode {
	case config.ModeStateful:
		return s.connectStateful(ctx)
	default:
		// SIMPLE/PUBSUB providers are driven explicitly by the caller
		// through AddRemoteCandidate/RegisterSimple/RegisterPubsub;
		// Connect still performs local gathering above.
		return nil
	}
}

func (s *Session) connectStateful(ctx context.Context) error {
	events := signaling.Events{
		OnPeerOnline:  func() { s.onSignalingPeerOnline() },
		OnPeerOffline: func() {},
		OnRemoteCandidate: func(rec codec.CandidateRecord) {
			s.handleRemoteCandidateRecord(rec)
		},
		OnPeerOff: func(peerID string, sessionID uint64) { s.onPeerOff(peerID, sessionID) },
		OnNATProbeAck: func(b codec.NATProbeAckBody) {
			s.handleNATProbeAck(b)
		},
	}
	s.sigClient = signaling.NewClient(fmt.Sprintf("%s:%d", s.cfg.ServerHost, s.cfg.ServerPort), s.cfg.PeerID, s.remoteID, events)

	for _, c := range s.candEngine.LocalCandidates() {
		_ = c // initial candidates are read by Connect via register body below
	}

	go func() {
		if err := s.sigClient.Connect(ctx); err != nil {
			select {
			case s.errCh <- &Error{Kind: KindSignalingTimeout, Fatal: true, Cause: err}:
			default:
			}
		}
	}()
	return nil
}

func (s *Session) onSignalingPeerOnline() {
	s.mu.Lock()
	if s.state == Registering {
		s.state = Punching
	}
	nc := s.natClass
	s.mu.Unlock()
	s.candEngine.SetChecking(true)

	// A classified Symmetric NAT with no configured TURN relay defeats the
	// simultaneous-open trick outright; short-circuit to a Fatal
	// punch-failure instead of burning the full punch deadline
	// (SPEC_FULL.md §12).
	if !nc.IsP2PFeasible() && s.cfg.TurnServer == "" {
		select {
		case s.errCh <- fatalf(KindPunchTimeout, "symmetric NAT with no relay configured, punch not feasible"):
		default:
		}
		return
	}

	if s.remoteID != "" && recentRelayFallback(s.remoteID) {
		logger.Printf("recent relay fallback for %s, skipping punch deadline", s.remoteID)
		s.punchEngine.ForceRelay()
		return
	}
	s.punchEngine.Start(s.candEngine.RemoteCandidates())
}

func (s *Session) onPeerOff(peerID string, sessionID uint64) {
	logger.Printf("peer %s went offline (session %d)", peerID, sessionID)
	s.mu.Lock()
	s.state = Registering
	s.mu.Unlock()
	s.candEngine.SetChecking(false)
	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected()
	}
}

func (s *Session) handleRemoteCandidateRecord(rec codec.CandidateRecord) {
	c := candidate.FromRecord(rec, 1)
	added, scheduleProbe := s.candEngine.AddRemote(c)
	if added && scheduleProbe {
		s.punchEngine.AddCandidate(c)
	}
}

func (s *Session) handleNATProbeAck(b codec.NATProbeAckBody) {
	primary := s.sigClient.ObservedAddr()
	nc := natclass.Classify(ipString(primary), int(primary.Port), ipFromUint32(b.MappedIP), int(b.MappedPort))
	s.mu.Lock()
	s.natClass = nc
	s.mu.Unlock()
}

// NATClass returns the most recently classified NAT type (SPEC_FULL.md §12).
func (s *Session) NATClass() natclass.Class {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.natClass
}

func joinHostPort(host string, port int) string {
	if host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func ipString(a codec.Addr) string {
	return fmt.Sprintf("%d.%d.%d.%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3])
}

func ipFromUint32(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Send submits as many codec.MaxDataPayload-sized chunks of b as the
// reliable transport's window allows, returning the accepted byte count (0
// when the window is full, per spec §4.G send()). -1 only when the session
// is CLOSED/ERROR.
func (s *Session) Send(b []byte) (int, error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == Closed || st == ErrorState {
		return -1, fatalf(KindClosedByCaller, "session is %s", st)
	}

	accepted := 0
	for len(b) > 0 {
		n := len(b)
		if n > codec.MaxDataPayload {
			n = codec.MaxDataPayload
		}
		seq, err := s.xport.Submit(b[:n])
		if err != nil {
			break
		}
		if buf, ok := s.xport.Encode(seq); ok {
			s.writeToActive(buf)
		}
		accepted += n
		b = b[n:]
	}
	return accepted, nil
}

// Recv pops the next in-order payload, or 0 if none is available.
func (s *Session) Recv(buf []byte) (int, error) {
	return s.xport.Recv(buf), nil
}

func (s *Session) writeToActive(buf []byte) {
	addr, ok := s.punchEngine.Active()
	if !ok {
		return
	}
	s.conn.WriteToUDP(buf, &addr)
}

// Tick drives all timers: punch retry schedule, RTO retransmission,
// heartbeats, and drains buffered inbound datagrams. Must be called
// periodically (<=10ms) per spec §4.G.
func (s *Session) Tick() error {
	s.drainPackets()

	select {
	case err := <-s.errCh:
		return err
	default:
	}

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	if st == Punching || st == Connected {
		s.punchEngine.Tick()
		if s.punchEngine.DeadlineExceededWithoutRelay() {
			s.transitionTo(ErrorState)
			if s.cb.OnDisconnected != nil {
				s.cb.OnDisconnected()
			}
			return fatalf(KindPunchTimeout, "punch deadline exceeded, no relay available")
		}
		switch s.punchEngine.State() {
		case punch.Connected:
			if st != Connected {
				s.transitionTo(Connected)
				s.path = PathPunch
				if s.cb.OnConnected != nil {
					s.cb.OnConnected()
				}
			}
		case punch.Relay:
			if st != Relay {
				s.transitionTo(Relay)
				s.path = PathRelay
				metrics.PunchFallbacksToRelay.Inc()
				if s.remoteID != "" {
					rememberRelayFallback(s.remoteID)
				}
				if s.cb.OnConnected != nil {
					s.cb.OnConnected()
				}
			}
		}
	}

	now := s.clock.Now().UnixMilli()
	for _, rt := range s.xport.Tick(now) {
		metrics.Retransmits.Inc()
		if addr, ok := s.punchEngine.Active(); ok {
			buf := codec.Encode(codec.TypeData, 0, rt.Seq, rt.Payload)
			s.conn.WriteToUDP(buf, &addr)
		}
	}
	metrics.SmoothedRTTMillis.Set(s.xport.SRTT())

	if s.sigClient != nil && now-s.lastHeartbeatMS >= HeartbeatInterval.Milliseconds() {
		s.lastHeartbeatMS = now
		s.sigClient.Heartbeat()
	}

	if st == Closing {
		s.tickClosing(now)
	}

	return nil
}

func (s *Session) drainPackets() {
	for {
		select {
		case pkt := <-s.pktCh:
			s.handlePacket(pkt)
		default:
			return
		}
	}
}

func (s *Session) handlePacket(pkt rawPacket) {
	p, err := codec.Decode(pkt.data)
	if err != nil {
		return // malformed datagram: drop, no surface (spec §7)
	}
	switch {
	case p.Type == codec.TypePunch:
		s.punchEngine.OnPunch(pkt.addr)
	case p.Type == codec.TypePunchAck:
		s.punchEngine.OnPunchAck(pkt.addr)
	case p.Type == codec.TypeData:
		if s.xport.OnData(p.Seq, p.Body) {
			ack := s.xport.AckToSend()
			s.conn.WriteToUDP(codec.Encode(codec.TypeAck, 0, 0, codec.EncodeAck(ack)), &pkt.addr)
			if s.cb.OnData != nil {
				buf := make([]byte, codec.MaxDataPayload)
				n := s.xport.Recv(buf)
				for n > 0 {
					s.cb.OnData(buf[:n])
					n = s.xport.Recv(buf)
				}
			}
		} else {
			ack := s.xport.AckToSend()
			s.conn.WriteToUDP(codec.Encode(codec.TypeAck, 0, 0, codec.EncodeAck(ack)), &pkt.addr)
		}
	case p.Type == codec.TypeAck:
		if ack, err := codec.DecodeAck(p.Body); err == nil {
			s.xport.OnAck(ack.AckSeq, ack.SackBits)
		}
	case p.Type == codec.TypeFin:
		s.onPeerFin()
	}
}

func (s *Session) onPeerFin() {
	s.transitionTo(Closed)
	s.closeSocketOnce()
	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected()
	}
}

// Close initiates the FIN exchange. Idempotent: calling it N times behaves
// as once (spec §8 property 7).
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closing
	s.closeDeadline = s.clock.Now().Add(CloseDeadline).UnixMilli()
	s.mu.Unlock()

	if addr, ok := s.punchEngine.Active(); ok {
		s.conn.WriteToUDP(codec.Encode(codec.TypeFin, codec.FlagFIN, 0, nil), &addr)
	}
	if s.sigClient != nil {
		s.sigClient.Close()
	}
	return nil
}

func (s *Session) tickClosing(nowMS int64) {
	if s.xport.InFlight() == 0 || nowMS >= s.closeDeadline {
		s.transitionTo(Closed)
		s.closeSocketOnce()
	}
}

func (s *Session) closeSocketOnce() {
	s.mu.Lock()
	already := s.closedSocket
	s.closedSocket = true
	s.mu.Unlock()
	if !already {
		s.conn.Close()
	}
}

func (s *Session) transitionTo(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current top-level state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the active data path.
func (s *Session) Path() Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// IsReady reports whether the session can currently send/recv application
// data (CONNECTED or RELAY).
func (s *Session) IsReady() bool {
	st := s.State()
	return st == Connected || st == Relay
}
