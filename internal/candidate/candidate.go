// Package candidate implements the ICE-style candidate gathering and
// connectivity-check engine: host/server-reflexive/relayed/peer-reflexive
// candidates, RFC 8445-style priorities, candidate pairs and nomination.
package candidate

import (
	"fmt"
	"net"

	"github.com/omnicloud/p2psession/internal/codec"
)

// Kind is an alias of codec.Kind, so wire conversion needs no cast.
type Kind = codec.Kind

const (
	Host  = codec.KindHost
	Srflx = codec.KindSrflx
	Relay = codec.KindRelay
	Prflx = codec.KindPrflx
)

// Type preference constants from spec §3.
const (
	typePrefHost  = 126
	typePrefPrflx = 110
	typePrefSrflx = 100
	typePrefRelay = 0
)

func typePref(k Kind) uint32 {
	switch k {
	case Host:
		return typePrefHost
	case Prflx:
		return typePrefPrflx
	case Srflx:
		return typePrefSrflx
	case Relay:
		return typePrefRelay
	default:
		panic(fmt.Sprintf("candidate: illegal kind %d", k))
	}
}

// Priority computes the 32-bit candidate priority:
// (type_pref << 24) | (local_pref << 8) | (256 - component).
func Priority(k Kind, localPref uint32, component int) uint32 {
	return (typePref(k) << 24) | ((localPref & 0xFFFF) << 8) | uint32(256-component)
}

// Candidate is one local or remote ICE candidate.
type Candidate struct {
	Kind        Kind
	Address     net.UDPAddr
	BaseAddress net.UDPAddr // == Address for HOST; the outgoing socket otherwise
	Priority    uint32
	Component   int

	// LastPunchSendMS is a runtime-only field that Record does not
	// serialize. Nothing in this package sets it; the punch engine keeps its
	// own per-candidate send timer.
	LastPunchSendMS int64
}

// Record converts a Candidate to its 32-byte wire form.
func (c Candidate) Record() codec.CandidateRecord {
	return codec.CandidateRecord{
		Kind:     c.Kind,
		Address:  toWireAddr(c.Address),
		Base:     toWireAddr(c.BaseAddress),
		Priority: c.Priority,
	}
}

// FromRecord builds a Candidate from a decoded wire record. The resulting
// candidate has LastPunchSendMS left at zero.
func FromRecord(r codec.CandidateRecord, component int) Candidate {
	return Candidate{
		Kind:      r.Kind,
		Address:   fromWireAddr(r.Address),
		BaseAddress: fromWireAddr(r.Base),
		Priority:  r.Priority,
		Component: component,
	}
}

func toWireAddr(a net.UDPAddr) codec.Addr {
	var w codec.Addr
	ip4 := a.IP.To4()
	if ip4 != nil {
		copy(w.IP[:], ip4)
	}
	w.Port = uint16(a.Port)
	return w
}

func fromWireAddr(w codec.Addr) net.UDPAddr {
	return net.UDPAddr{IP: net.IPv4(w.IP[0], w.IP[1], w.IP[2], w.IP[3]), Port: int(w.Port)}
}

// SameKey reports whether two candidates have the same kind and address,
// the test MarkPairState uses to find a pair.
func SameKey(a, b Candidate) bool {
	return a.Kind == b.Kind && SameAddr(a, b)
}

// SameAddr reports whether two candidates resolve to the same observed
// address regardless of kind. AddRemote uses it as its duplicate test, and
// to upgrade a stored candidate to PeerReflexive (spec §4.D: "when two
// candidates of different kinds map to the same observed address,
// PeerReflexive takes precedence").
func SameAddr(a, b Candidate) bool {
	return a.Address.IP.Equal(b.Address.IP) && a.Address.Port == b.Address.Port
}
