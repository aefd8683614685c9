package signaling

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/omnicloud/p2psession/internal/codec"
	"github.com/omnicloud/p2psession/internal/metrics"
)

var logger = log.New(os.Stdout, "[signaling-server] ", log.LstdFlags)

// AliveTimeout is the default missed-heartbeat timeout (spec §5: 60s).
const AliveTimeout = 60 * time.Second

const sweepInterval = 5 * time.Second

// Server is the rendezvous server for the stateful signaling protocol
// (spec §4.E). It owns the pair table and forwards PEER_INFO between linked
// peers.
type Server struct {
	port    int
	table   *PairTable
	listener net.Listener
}

func NewServer(port int, maxCandidateCache int) *Server {
	return &Server{port: port, table: NewPairTable(maxCandidateCache)}
}

// Table exposes the pair table for the admin/metrics endpoint.
func (s *Server) Table() *PairTable { return s.table }

// Start listens and serves until ctx is cancelled, following the teacher's
// accept-loop + cleanup-goroutine shape (internal/relay/server.go).
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("signaling: listen on %s: %w", addr, err)
	}
	logger.Printf("listening on %s", addr)

	go s.sweepLoop(ctx)
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Printf("shutting down")
				return nil
			default:
				logger.Printf("accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notices := s.table.SweepExpired(AliveTimeout)
			metrics.PairTableSize.Set(float64(s.table.Size()))
			for _, n := range notices {
				e, ok := s.table.Get(n.NotifyID)
				if !ok || e.Conn == nil {
					continue
				}
				body := EncodePeerOff(PeerOffBody{PeerID: n.DeadPeer, SessionID: SessionIDWire(n.DeadSessionID)})
				if err := e.Conn.Send(Frame{Type: MsgPeerOff, Body: body}); err != nil {
					logger.Printf("peer_off send to %s failed: %v", n.NotifyID, err)
				}
			}
		}
	}
}

type connPeer struct {
	conn net.Conn
}

func (c *connPeer) Send(f Frame) error { return WriteFrame(c.conn, f) }

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	peer := &connPeer{conn: conn}
	var localID string

	for {
		frame, err := ReadFrame(r, conn, ReadTimeout)
		if err != nil {
			if localID != "" {
				logger.Printf("connection from %s (%s) closed: %v", localID, conn.RemoteAddr(), err)
			}
			return
		}

		switch frame.Type {
		case MsgRegister:
			reg, err := DecodeRegister(frame.Body)
			if err != nil {
				logger.Printf("malformed REGISTER: %v", err)
				continue
			}
			localID = reg.LocalID
			s.handleRegister(peer, conn, reg)

		case MsgAlive:
			s.table.Touch(localID)
			WriteFrame(conn, Frame{Type: MsgAliveAck})

		case MsgPeerInfo:
			s.handlePeerInfo(localID, frame.Body)

		case MsgPeerInfoAck:
			// Accepted and ignored: the server keeps no retry state for
			// its seq==1 delivery and does not forward acks to the
			// partner.

		case MsgNATProbe:
			s.handleNATProbe(conn, localID)

		default:
			logger.Printf("unexpected message type 0x%02x from %s", frame.Type, localID)
		}
	}
}

func (s *Server) handleRegister(peer PeerConn, conn net.Conn, reg RegisterBody) {
	entry, partner, sessionID := s.table.Register(reg.LocalID, reg.RemoteID, reg.Candidates, peer)

	observed := observedAddr(conn)
	status := StatusPeerOffline
	if partner != nil {
		status = StatusPeerOnline
	}
	ack := RegisterAckBody{
		Status:        byte(status),
		MaxCandidates: byte(s.table.maxCache),
		ObservedAddr:  observed,
		SessionID:     SessionIDWire(sessionID),
	}
	WriteFrame(conn, Frame{Type: MsgRegisterAck, Body: EncodeRegisterAck(ack)})

	if partner == nil {
		return
	}

	// First-match bilateral notification (spec §8 property 5): both sides
	// get PEER_INFO(seq=1, base=0, count=peer's cached count).
	s.deliverCached(entry, partner)
	s.deliverCached(partner, entry)
}

func (s *Server) deliverCached(to, from *PairEntry) {
	if to.Conn == nil {
		return
	}
	body := PeerInfoBody{
		SenderID:   from.LocalID,
		TargetID:   to.LocalID,
		Seq:        1,
		BaseIndex:  0,
		Candidates: from.Candidates,
		Flags:      codec.FlagFIN,
	}
	if err := to.Conn.Send(Frame{Type: MsgPeerInfo, Body: EncodePeerInfo(body)}); err != nil {
		logger.Printf("peer_info delivery to %s failed: %v", to.LocalID, err)
	}
}

// handlePeerInfo forwards a client's PEER_INFO batch (seq >= 2, or the
// address-change notification seq==0) to its linked partner.
func (s *Server) handlePeerInfo(localID string, body []byte) {
	info, err := DecodePeerInfo(body)
	if err != nil {
		logger.Printf("malformed PEER_INFO from %s: %v", localID, err)
		return
	}
	entry, ok := s.table.Get(localID)
	if !ok || entry.Pointer != Linked {
		return
	}
	partner, ok := s.table.Get(entry.LinkedWith)
	if !ok || partner.Conn == nil {
		return
	}
	for _, c := range info.Candidates {
		s.table.AppendCandidate(localID, c)
	}
	if err := partner.Conn.Send(Frame{Type: MsgPeerInfo, Body: EncodePeerInfo(info)}); err != nil {
		logger.Printf("peer_info forward to %s failed: %v", partner.LocalID, err)
	}
}

// handleNATProbe answers on the same TCP connection that carried REGISTER,
// so the echoed endpoint is the one REGISTER_ACK already reported. The
// server opens no second probe port and leaves REGISTER_ACK.probe_port 0.
func (s *Server) handleNATProbe(conn net.Conn, localID string) {
	observed := observedAddr(conn)
	ack := NATProbeAckBody{
		MappedIP:   ipToUint32(observed.IP),
		MappedPort: observed.Port,
	}
	WriteFrame(conn, Frame{Type: MsgNATProbeAck, Body: EncodeNATProbeAck(ack)})
}

func observedAddr(conn net.Conn) codec.Addr {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return codec.Addr{}
	}
	var a codec.Addr
	ip4 := tcpAddr.IP.To4()
	if ip4 != nil {
		copy(a.IP[:], ip4)
	}
	a.Port = uint16(tcpAddr.Port)
	return a
}

func ipToUint32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
