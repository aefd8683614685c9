// Package simple implements the SIMPLE/UDP alternative signaling provider
// (spec §4.F): stateless request/response, no trickling, no offline
// caching.
package simple

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

var logger = log.New(os.Stdout, "[signaling-simple] ", log.LstdFlags)

// Message types, per spec §6 "SIMPLE/UDP signaling": framed packets
// type(1) version(1) length(2) peer_id(32) data(variable).
const (
	TypeHello       byte = 1
	TypePeerInfoReq byte = 2
	TypePeerInfo    byte = 3
)

const (
	wireVersion = 1
	peerIDSize  = 32
	headerSize  = 1 + 1 + 2 + peerIDSize
)

var ErrMalformed = errors.New("simple: malformed packet")

// Packet is a decoded SIMPLE/UDP frame.
type Packet struct {
	Type   byte
	PeerID string
	Data   string
}

func Encode(p Packet) []byte {
	buf := make([]byte, headerSize+len(p.Data))
	buf[0] = p.Type
	buf[1] = wireVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Data)))
	copy(buf[4:4+peerIDSize], p.PeerID)
	copy(buf[headerSize:], p.Data)
	return buf
}

func Decode(buf []byte) (Packet, error) {
	if len(buf) < headerSize {
		return Packet{}, ErrMalformed
	}
	length := int(binary.BigEndian.Uint16(buf[2:4]))
	if len(buf) < headerSize+length {
		return Packet{}, ErrMalformed
	}
	id := buf[4 : 4+peerIDSize]
	n := 0
	for n < len(id) && id[n] != 0 {
		n++
	}
	return Packet{
		Type:   buf[0],
		PeerID: string(id[:n]),
		Data:   string(buf[headerSize : headerSize+length]),
	}, nil
}

// registryEntry is the server's in-memory endpoint cache: no offline
// caching, no candidate trickling (spec §4.F).
type registryEntry struct {
	addr *net.UDPAddr
}

// Server is the stateless SIMPLE/UDP registry.
type Server struct {
	conn     *net.UDPConn
	registry map[string]registryEntry
}

func NewServer(conn *net.UDPConn) *Server {
	return &Server{conn: conn, registry: make(map[string]registryEntry)}
}

// Serve processes one packet at a time; callers loop this from their own
// goroutine (no internal dispatch thread, matching spec §5's cooperative
// model).
func (s *Server) Serve(buf []byte, from *net.UDPAddr) {
	pkt, err := Decode(buf)
	if err != nil {
		logger.Printf("malformed packet from %s: %v", from, err)
		return
	}
	switch pkt.Type {
	case TypeHello:
		s.registry[pkt.PeerID] = registryEntry{addr: from}
	case TypePeerInfoReq:
		target := pkt.Data
		entry, ok := s.registry[target]
		data := ""
		if ok {
			data = entry.addr.String()
		}
		reply := Encode(Packet{Type: TypePeerInfo, PeerID: target, Data: data})
		s.conn.WriteToUDP(reply, from)
	default:
		logger.Printf("unexpected type 0x%02x from %s", pkt.Type, from)
	}
}

// Client drives the HELLO / PEER_INFO_REQ exchange for one local identity.
type Client struct {
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	localID    string
}

func NewClient(conn *net.UDPConn, serverAddr *net.UDPAddr, localID string) *Client {
	return &Client{conn: conn, serverAddr: serverAddr, localID: localID}
}

// Register sends HELLO with an empty data field; the server records the
// packet's source address as this peer's endpoint.
func (c *Client) Register() error {
	pkt := Encode(Packet{Type: TypeHello, PeerID: c.localID})
	_, err := c.conn.WriteToUDP(pkt, c.serverAddr)
	return err
}

// RequestPeer sends PEER_INFO_REQ for remoteID and returns the cached
// endpoint once the server replies, or an error on timeout.
func (c *Client) RequestPeer(remoteID string, timeout time.Duration) (*net.UDPAddr, error) {
	pkt := Encode(Packet{Type: TypePeerInfoReq, PeerID: c.localID, Data: remoteID})
	if _, err := c.conn.WriteToUDP(pkt, c.serverAddr); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1500)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("simple: request_peer timeout: %w", err)
	}
	reply, err := Decode(buf[:n])
	if err != nil {
		return nil, err
	}
	if reply.Data == "" {
		return nil, fmt.Errorf("simple: peer %q not registered", remoteID)
	}
	host, portStr, err := net.SplitHostPort(reply.Data)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: net.ParseIP(strings.TrimSpace(host)), Port: port}, nil
}
