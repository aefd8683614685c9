// Package punch implements the NAT-punch state machine (spec §4.C): for
// each remote candidate it drives a punch/punch_ack exchange with a growing
// retry schedule, promotes the first address that answers to "active", and
// falls back to relay on an overall deadline.
package punch

import (
	"log"
	"net"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/omnicloud/p2psession/internal/candidate"
	"github.com/omnicloud/p2psession/internal/codec"
)

var logger = log.New(os.Stdout, "[punch] ", log.LstdFlags)

// State is the NAT punch engine's state machine per spec §4.C.
type State int

const (
	Init State = iota
	Probing
	Punching
	Connected
	Relay
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Probing:
		return "PROBING"
	case Punching:
		return "PUNCHING"
	case Connected:
		return "CONNECTED"
	case Relay:
		return "RELAY"
	default:
		return "UNKNOWN"
	}
}

const (
	scheduleStartMS = 40
	scheduleMaxMS   = 500
	overallDeadlineMS = 8000

	lanProbeRTTMaxMS = 50
)

type candidateEntry struct {
	cand           candidate.Candidate
	lastPunchMS    int64
	scheduleMS     int64
}

// Engine drives the punch state machine for one session.
type Engine struct {
	clock clockwork.Clock

	state      State
	startedMS  int64
	active     *net.UDPAddr
	candidates []*candidateEntry

	relayAvailable  bool
	disableLANShortcut bool

	// Send is called to emit a raw datagram to addr.
	Send func(addr net.UDPAddr, typ byte)
}

// New constructs a punch engine. relayAvailable indicates whether a TURN or
// signaling-server relay exists to fall back to on deadline.
func New(clock clockwork.Clock, relayAvailable, disableLANShortcut bool) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{clock: clock, relayAvailable: relayAvailable, disableLANShortcut: disableLANShortcut}
}

func (e *Engine) now() int64 { return e.clock.Now().UnixMilli() }

// Start transitions to PUNCHING, emitting an initial PUNCH to every remote
// candidate (spec §4.C step 1).
func (e *Engine) Start(remotes []candidate.Candidate) {
	e.state = Punching
	e.startedMS = e.now()
	e.candidates = nil
	for _, c := range remotes {
		e.addCandidateLocked(c)
	}
}

// ForceRelay short-circuits straight to RELAY without running the punch
// schedule at all, used when a recent connect() to this peer already fell
// back to relay (SPEC_FULL.md §12 connection-quality-aware relay caching).
func (e *Engine) ForceRelay() {
	e.state = Relay
}

func (e *Engine) addCandidateLocked(c candidate.Candidate) *candidateEntry {
	entry := &candidateEntry{cand: c, scheduleMS: scheduleStartMS}
	e.candidates = append(e.candidates, entry)
	if e.state == Punching {
		e.sendPunch(entry)
	}
	return entry
}

// AddCandidate implements trickle ICE: a new remote candidate arriving after
// state==PUNCHING gets an immediate PUNCH, not waiting for the next tick
// (spec §4.C step 6).
func (e *Engine) AddCandidate(c candidate.Candidate) {
	e.addCandidateLocked(c)
}

func (e *Engine) sendPunch(entry *candidateEntry) {
	entry.lastPunchMS = e.now()
	if e.Send != nil {
		e.Send(entry.cand.Address, codec.TypePunch)
	}
}

// OnPunch handles receipt of a PUNCH from addr: reply with PUNCH_ACK, and if
// not yet CONNECTED, promote addr to active and transition to CONNECTED
// (spec §4.C step 2).
func (e *Engine) OnPunch(addr net.UDPAddr) {
	if e.Send != nil {
		e.Send(addr, codec.TypePunchAck)
	}
	if e.state != Connected {
		e.promote(addr)
	}
}

// OnPunchAck handles receipt of a PUNCH_ACK from addr: promote and
// transition to CONNECTED (spec §4.C step 3).
func (e *Engine) OnPunchAck(addr net.UDPAddr) {
	if e.state != Connected {
		e.promote(addr)
	}
}

func (e *Engine) promote(addr net.UDPAddr) {
	a := addr
	e.active = &a
	e.state = Connected
	logger.Printf("connected via %s", addr.String())
}

// Tick drives the retry schedule and overall deadline. Past the deadline it
// moves to RELAY when a relay is available; otherwise the state stays
// Punching and DeadlineExceededWithoutRelay reports true, for the caller to
// surface a Fatal error.
func (e *Engine) Tick() {
	if e.state != Punching {
		return
	}
	now := e.now()
	for _, entry := range e.candidates {
		if now-entry.lastPunchMS >= entry.scheduleMS {
			e.sendPunch(entry)
			entry.scheduleMS *= 2
			if entry.scheduleMS > scheduleMaxMS {
				entry.scheduleMS = scheduleMaxMS
			}
		}
	}
	if now-e.startedMS >= overallDeadlineMS {
		if e.relayAvailable {
			e.state = Relay
			logger.Printf("punch deadline exceeded, falling back to relay")
		}
		// else: caller observes State()==Punching past deadline and
		// raises the Fatal "punch failed" error itself (spec §7).
	}
}

// TryLANShortcut short-circuits to CONNECTED when a remote host candidate
// matches the local subnet and a probe round trip completes under
// lanProbeRTTMaxMS. Per spec §9's open question, this never promotes
// without an actual probe reply — rttMS must be a measured value, not an
// assumption.
func (e *Engine) TryLANShortcut(remote candidate.Candidate, rttMS int64, sameSubnet bool) bool {
	if e.disableLANShortcut || !sameSubnet {
		return false
	}
	if rttMS < 0 || rttMS >= lanProbeRTTMaxMS {
		return false
	}
	e.promote(remote.Address)
	return true
}

// State returns the current punch state.
func (e *Engine) State() State { return e.state }

// Active returns the active remote address, if any.
func (e *Engine) Active() (net.UDPAddr, bool) {
	if e.active == nil {
		return net.UDPAddr{}, false
	}
	return *e.active, true
}

// DeadlineExceededWithoutRelay reports whether the overall punch deadline has passed with no
// relay available, meaning the caller should raise a Fatal error.
func (e *Engine) DeadlineExceededWithoutRelay() bool {
	return e.state == Punching && e.now()-e.startedMS >= overallDeadlineMS && !e.relayAvailable
}
