package signaling

import (
	"encoding/binary"
	"errors"
	"hash/fnv"

	"github.com/omnicloud/p2psession/internal/codec"
)

// SessionIDWire collapses the server's opaque (google/uuid-generated)
// session identifier down to the 64-bit scalar spec §3 puts on the wire.
func SessionIDWire(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// ErrMalformed mirrors codec.ErrMalformed for signaling-layer bodies.
var ErrMalformed = errors.New("signaling: malformed message body")

func putID(buf []byte, id string) {
	copy(buf, id) // zero bytes follow the id; ids are <=32 bytes per spec §3
}

func getID(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

const idSize = 32

// RegisterBody: local_id, remote_id, initial candidate count, candidates.
type RegisterBody struct {
	LocalID    string
	RemoteID   string
	Candidates []codec.CandidateRecord
}

func EncodeRegister(b RegisterBody) []byte {
	buf := make([]byte, idSize*2+1+len(b.Candidates)*codec.CandidateRecordSize)
	putID(buf[0:idSize], b.LocalID)
	putID(buf[idSize:idSize*2], b.RemoteID)
	buf[idSize*2] = byte(len(b.Candidates))
	for i, c := range b.Candidates {
		copy(buf[idSize*2+1+i*codec.CandidateRecordSize:], codec.EncodeCandidateRecord(c))
	}
	return buf
}

func DecodeRegister(buf []byte) (RegisterBody, error) {
	if len(buf) < idSize*2+1 {
		return RegisterBody{}, ErrMalformed
	}
	count := int(buf[idSize*2])
	rest := buf[idSize*2+1:]
	if len(rest) < count*codec.CandidateRecordSize {
		return RegisterBody{}, ErrMalformed
	}
	cands := make([]codec.CandidateRecord, count)
	for i := 0; i < count; i++ {
		c, err := codec.DecodeCandidateRecord(rest[i*codec.CandidateRecordSize:])
		if err != nil {
			return RegisterBody{}, err
		}
		cands[i] = c
	}
	return RegisterBody{
		LocalID:    getID(buf[0:idSize]),
		RemoteID:   getID(buf[idSize : idSize*2]),
		Candidates: cands,
	}, nil
}

// Status values carried in RegisterAckBody.
const (
	StatusPeerOffline byte = 0
	StatusPeerOnline  byte = 1
	StatusErrorGeneric byte = 2
)

// RegisterAckBody: status, max_candidates, observed public endpoint,
// optional NAT probe port. The observed endpoint doubles as a
// server-reflexive probe (spec §4.E).
type RegisterAckBody struct {
	Status        byte
	MaxCandidates byte
	ObservedAddr  codec.Addr
	ProbePort     uint16
	RelayAvailable bool
	SessionID     uint64 // spec §3 64-bit session identifier, assigned once per entry
}

const registerAckSize = 1 + 1 + 12 + 2 + 1 + 8

func EncodeRegisterAck(b RegisterAckBody) []byte {
	buf := make([]byte, registerAckSize)
	buf[0] = b.Status
	buf[1] = b.MaxCandidates
	addrBuf := make([]byte, 12)
	addrBuf[0] = 1
	binary.BigEndian.PutUint16(addrBuf[1:3], b.ObservedAddr.Port)
	copy(addrBuf[3:7], b.ObservedAddr.IP[:])
	copy(buf[2:14], addrBuf)
	binary.BigEndian.PutUint16(buf[14:16], b.ProbePort)
	if b.RelayAvailable {
		buf[16] = 1
	}
	binary.BigEndian.PutUint64(buf[17:25], b.SessionID)
	return buf
}

func DecodeRegisterAck(buf []byte) (RegisterAckBody, error) {
	if len(buf) < registerAckSize {
		return RegisterAckBody{}, ErrMalformed
	}
	var addr codec.Addr
	addr.Port = binary.BigEndian.Uint16(buf[3:5])
	copy(addr.IP[:], buf[5:9])
	return RegisterAckBody{
		Status:         buf[0],
		MaxCandidates:  buf[1],
		ObservedAddr:   addr,
		ProbePort:      binary.BigEndian.Uint16(buf[14:16]),
		RelayAvailable: buf[16] != 0,
		SessionID:      binary.BigEndian.Uint64(buf[17:25]),
	}, nil
}

// PeerInfoBody is the 16-byte sub-header plus candidate records, per spec
// §6: sender_peer_id(32) | target_peer_id(32) | timestamp(8) | flags(1) |
// candidate_count(1) | base_index(1) | reserved(1).
//
// NOTE: the spec's 16-byte sub-header figure counts only the fields after
// the two 32-byte id fields (8+1+1+1+1 padding = 12, rounded to 16 with
// reserved bytes); ids are carried because PEER_INFO is also relayed
// peer-to-peer once the hole is open, where there is no connection-scoped
// sender identity to infer it from.
type PeerInfoBody struct {
	SenderID   string
	TargetID   string
	Timestamp  uint64
	Flags      byte
	BaseIndex  byte
	Seq        uint16
	Candidates []codec.CandidateRecord
}

const peerInfoSubHeader = idSize*2 + 8 + 1 + 1 + 1 + 2 + 3 // +seq(2) +reserved(3) to stay 8-aligned

func EncodePeerInfo(b PeerInfoBody) []byte {
	buf := make([]byte, peerInfoSubHeader+len(b.Candidates)*codec.CandidateRecordSize)
	putID(buf[0:idSize], b.SenderID)
	putID(buf[idSize:idSize*2], b.TargetID)
	binary.BigEndian.PutUint64(buf[idSize*2:idSize*2+8], b.Timestamp)
	off := idSize*2 + 8
	buf[off] = b.Flags
	buf[off+1] = byte(len(b.Candidates))
	buf[off+2] = b.BaseIndex
	binary.BigEndian.PutUint16(buf[off+3:off+5], b.Seq)
	for i, c := range b.Candidates {
		copy(buf[peerInfoSubHeader+i*codec.CandidateRecordSize:], codec.EncodeCandidateRecord(c))
	}
	return buf
}

func DecodePeerInfo(buf []byte) (PeerInfoBody, error) {
	if len(buf) < peerInfoSubHeader {
		return PeerInfoBody{}, ErrMalformed
	}
	off := idSize*2 + 8
	count := int(buf[off+1])
	rest := buf[peerInfoSubHeader:]
	if len(rest) < count*codec.CandidateRecordSize {
		return PeerInfoBody{}, ErrMalformed
	}
	cands := make([]codec.CandidateRecord, count)
	for i := 0; i < count; i++ {
		c, err := codec.DecodeCandidateRecord(rest[i*codec.CandidateRecordSize:])
		if err != nil {
			return PeerInfoBody{}, err
		}
		cands[i] = c
	}
	return PeerInfoBody{
		SenderID:   getID(buf[0:idSize]),
		TargetID:   getID(buf[idSize : idSize*2]),
		Timestamp:  binary.BigEndian.Uint64(buf[idSize*2 : idSize*2+8]),
		Flags:      buf[off],
		BaseIndex:  buf[off+2],
		Seq:        binary.BigEndian.Uint16(buf[off+3 : off+5]),
		Candidates: cands,
	}, nil
}

// PeerInfoAckBody acknowledges a specific seq (spec §4.E: valid range
// 0..16, an implementation MUST support at least [0,16]).
type PeerInfoAckBody struct {
	Seq uint16
}

func EncodePeerInfoAck(b PeerInfoAckBody) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, b.Seq)
	return buf
}

func DecodePeerInfoAck(buf []byte) (PeerInfoAckBody, error) {
	if len(buf) < 2 {
		return PeerInfoAckBody{}, ErrMalformed
	}
	return PeerInfoAckBody{Seq: binary.BigEndian.Uint16(buf)}, nil
}

// PeerOffBody notifies a still-connected client that its partner vanished.
// SessionID carries the vanished peer's session id so the receiver can
// disambiguate it from a later incarnation (spec §3, E4).
type PeerOffBody struct {
	PeerID    string
	SessionID uint64
}

const peerOffSize = idSize + 8

func EncodePeerOff(b PeerOffBody) []byte {
	buf := make([]byte, peerOffSize)
	putID(buf[0:idSize], b.PeerID)
	binary.BigEndian.PutUint64(buf[idSize:peerOffSize], b.SessionID)
	return buf
}

func DecodePeerOff(buf []byte) (PeerOffBody, error) {
	if len(buf) < peerOffSize {
		return PeerOffBody{}, ErrMalformed
	}
	return PeerOffBody{
		PeerID:    getID(buf[0:idSize]),
		SessionID: binary.BigEndian.Uint64(buf[idSize:peerOffSize]),
	}, nil
}

// NATProbeAckBody reuses codec's NAT_PROBE_ACK layout verbatim (spec §6).
type NATProbeAckBody = codec.NATProbeAckBody

func EncodeNATProbeAck(b NATProbeAckBody) []byte { return codec.EncodeNATProbeAck(b) }
func DecodeNATProbeAck(buf []byte) (NATProbeAckBody, error) { return codec.DecodeNATProbeAck(buf) }
