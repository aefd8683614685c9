// Package codec implements the framed UDP datagram encoding used by the
// data plane and the candidate wire record shared by signaling and ICE.
package codec

import (
	"encoding/binary"
	"errors"
)

// Packet types: 0x00-0x7F data plane, 0x80-0x9F stateful-signaling
// control, 0xA0-0xBF relay plane.
const (
	TypeData      byte = 0x01
	TypeAck       byte = 0x02
	TypePunch     byte = 0x03
	TypePunchAck  byte = 0x04
	TypeRoute     byte = 0x05 // ROUTE_PROBE
	TypeFin       byte = 0x06

	TypeRegister     byte = 0x80
	TypeRegisterAck  byte = 0x81
	TypeAlive        byte = 0x82
	TypeAliveAck     byte = 0x83
	TypePeerInfo     byte = 0x84
	TypePeerInfoAck  byte = 0x85
	TypeNATProbe     byte = 0x86
	TypeNATProbeAck  byte = 0x87
	TypePeerOff      byte = 0x88

	TypeRelayData byte = 0xA0
)

// Flag bits carried in the header's flags byte.
const (
	FlagFIN   byte = 1 << 0
	FlagRelay byte = 1 << 1
)

// HeaderSize is the fixed 4-byte header: type(1) flags(1) seq(2).
const HeaderSize = 4

// ErrMalformed is the only failure mode Decode surfaces to callers.
var ErrMalformed = errors.New("codec: malformed datagram")

// Packet is a decoded framed datagram.
type Packet struct {
	Type  byte
	Flags byte
	Seq   uint16
	Body  []byte
}

// Encode lays out type, flags, seq and body into a single contiguous buffer.
// It never fails: callers are responsible for keeping body within path MTU.
func Encode(typ, flags byte, seq uint16, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	buf[0] = typ
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], seq)
	copy(buf[4:], body)
	return buf
}

// Decode parses a datagram produced by Encode. The codec never blocks; the
// only error it can return is ErrMalformed.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrMalformed
	}
	p := Packet{
		Type:  buf[0],
		Flags: buf[1],
		Seq:   binary.BigEndian.Uint16(buf[2:4]),
	}
	if len(buf) > HeaderSize {
		p.Body = append([]byte(nil), buf[HeaderSize:]...)
	}
	return p, nil
}

// InDataPlaneRange reports whether typ belongs to the data-plane range (0x00-0x7F).
func InDataPlaneRange(typ byte) bool { return typ <= 0x7F }

// InSignalingRange reports whether typ belongs to the stateful-signaling
// control range (0x80-0x9F).
func InSignalingRange(typ byte) bool { return typ >= 0x80 && typ <= 0x9F }

// InRelayRange reports whether typ belongs to the relay-plane range (0xA0-0xBF).
func InRelayRange(typ byte) bool { return typ >= 0xA0 && typ <= 0xBF }

// AckBody is the body of an ACK packet: ack_seq:u16 | sack_bits:u32, bit i
// corresponds to ack_seq+i.
type AckBody struct {
	AckSeq   uint16
	SackBits uint32
}

func EncodeAck(b AckBody) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], b.AckSeq)
	binary.BigEndian.PutUint32(buf[2:6], b.SackBits)
	return buf
}

func DecodeAck(buf []byte) (AckBody, error) {
	if len(buf) < 6 {
		return AckBody{}, ErrMalformed
	}
	return AckBody{
		AckSeq:   binary.BigEndian.Uint16(buf[0:2]),
		SackBits: binary.BigEndian.Uint32(buf[2:6]),
	}, nil
}

// NATProbeAckBody is mapped_ip:u32 | mapped_port:u16 | tsx_id:u32.
type NATProbeAckBody struct {
	MappedIP   uint32
	MappedPort uint16
	TsxID      uint32
}

func EncodeNATProbeAck(b NATProbeAckBody) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint32(buf[0:4], b.MappedIP)
	binary.BigEndian.PutUint16(buf[4:6], b.MappedPort)
	binary.BigEndian.PutUint32(buf[6:10], b.TsxID)
	return buf
}

func DecodeNATProbeAck(buf []byte) (NATProbeAckBody, error) {
	if len(buf) < 10 {
		return NATProbeAckBody{}, ErrMalformed
	}
	return NATProbeAckBody{
		MappedIP:   binary.BigEndian.Uint32(buf[0:4]),
		MappedPort: binary.BigEndian.Uint16(buf[4:6]),
		TsxID:      binary.BigEndian.Uint32(buf[6:10]),
	}, nil
}

// MaxDataPayload is the largest payload accepted by submit() in the
// reliable transport (spec §4.B).
const MaxDataPayload = 1200
