package candidate

import (
	"log"
	"net"
	"os"
	"sync"
)

var logger = log.New(os.Stdout, "[ice] ", log.LstdFlags)

// StunClient is the "query a STUN collaborator" contract from spec §4.D.
// Its production implementation wraps pion/stun/v3 to perform a Binding
// Request against a configured server and decode XOR-MAPPED-ADDRESS; the
// STUN wire protocol itself is out of scope here (spec §1 Out-of-scope).
type StunClient interface {
	ReflexiveAddr(localConn *net.UDPConn, server string) (net.UDPAddr, error)
}

// TurnClient is the equivalent "give me a RELAY candidate" contract,
// production implementation wrapping pion/turn/v4's Allocate.
type TurnClient interface {
	Allocate(localConn *net.UDPConn, server, user, pass string) (net.UDPAddr, error)
}

// TrickleFunc is invoked for each newly discovered local candidate so the
// caller can broadcast it through the active signaling plane.
type TrickleFunc func(Candidate)

// Engine owns the local and remote candidate sets and the resulting pairs.
// It is not safe for concurrent use except through its exported methods,
// which take an internal lock (candidates are mutated only from tick/
// connect/add_remote call sites per the session's single-threaded model).
type Engine struct {
	mu sync.Mutex

	component   int
	localPref   uint32
	controlling bool

	local  []Candidate
	remote []Candidate
	pairs  []Pair

	checking bool // ICE substate == CHECKING

	onTrickle TrickleFunc
	stun      StunClient
	turn      TurnClient
}

// NewEngine constructs a candidate engine for a single component (always 1
// in this module: multi-stream multiplexing is a non-goal).
func NewEngine(controlling bool, stun StunClient, turn TurnClient, onTrickle TrickleFunc) *Engine {
	return &Engine{
		component:   1,
		localPref:   65535,
		controlling: controlling,
		onTrickle:   onTrickle,
		stun:        stun,
		turn:        turn,
	}
}

// GatherLocal enumerates host addresses bound on conn's interface set
// (always filtering link-local, and filtering loopback unless allowLoopback
// is set, used by tests that run both peers on localhost), then asynchronously queries the
// configured STUN/TURN collaborators. Each newly discovered candidate is
// appended and trickled. Matches spec §4.D gather_local().
func (e *Engine) GatherLocal(conn *net.UDPConn, stunServer, turnServer, turnUser, turnPass string, allowLoopback bool) error {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return err
	}
	local := conn.LocalAddr().(*net.UDPAddr)

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue // IPv6 is a non-goal
		}
		if ipnet.IP.IsLoopback() && !allowLoopback {
			continue
		}
		if ip4.IsLinkLocalUnicast() {
			continue
		}
		hostAddr := net.UDPAddr{IP: ip4, Port: local.Port}
		e.addHost(hostAddr)
	}
	if allowLoopback && len(e.local) == 0 {
		e.addHost(*local)
	}

	if e.stun != nil && stunServer != "" {
		go func() {
			mapped, err := e.stun.ReflexiveAddr(conn, stunServer)
			if err != nil {
				logger.Printf("stun reflexive lookup failed: %v", err)
				return
			}
			e.addSrflx(mapped, *local)
		}()
	}
	if e.turn != nil && turnServer != "" {
		go func() {
			relayed, err := e.turn.Allocate(conn, turnServer, turnUser, turnPass)
			if err != nil {
				logger.Printf("turn allocate failed: %v", err)
				return
			}
			e.addRelay(relayed, *local)
		}()
	}
	return nil
}

func (e *Engine) addHost(addr net.UDPAddr) {
	c := Candidate{
		Kind:        Host,
		Address:     addr,
		BaseAddress: addr,
		Component:   e.component,
	}
	c.Priority = Priority(Host, e.localPref, e.component)
	e.appendLocal(c)
}

func (e *Engine) addSrflx(mapped, base net.UDPAddr) {
	c := Candidate{
		Kind:        Srflx,
		Address:     mapped,
		BaseAddress: base,
		Component:   e.component,
	}
	c.Priority = Priority(Srflx, e.localPref, e.component)
	e.appendLocal(c)
}

func (e *Engine) addRelay(relayed, base net.UDPAddr) {
	c := Candidate{
		Kind:        Relay,
		Address:     relayed,
		BaseAddress: base,
		Component:   e.component,
	}
	c.Priority = Priority(Relay, e.localPref, e.component)
	e.appendLocal(c)
}

func (e *Engine) appendLocal(c Candidate) {
	e.mu.Lock()
	e.local = append(e.local, c)
	e.recomputePairsLocked()
	e.mu.Unlock()
	if e.onTrickle != nil {
		e.onTrickle(c)
	}
}

// AddRemote inserts a remote candidate if not a duplicate, recomputes pairs,
// and reports whether a punch probe should be scheduled immediately (ICE
// substate == CHECKING), per spec §4.D add_remote(). A candidate whose
// address is already in the remote set counts as a duplicate whatever its
// kind; a PeerReflexive one upgrades the stored entry's kind.
func (e *Engine) AddRemote(c Candidate) (added bool, scheduleProbe bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.remote {
		if !SameAddr(e.remote[i], c) {
			continue
		}
		// Peer-reflexive takes precedence over a self-reported kind when
		// both map to the same observed address (spec §4.D), regardless of
		// whether the kinds themselves match.
		if c.Kind == Prflx && e.remote[i].Kind != Prflx {
			e.remote[i].Kind = Prflx
		}
		return false, false
	}
	e.remote = append(e.remote, c)
	e.recomputePairsLocked()
	return true, e.checking
}

// SetChecking transitions the ICE substate to CHECKING (or back out of it).
func (e *Engine) SetChecking(checking bool) { e.mu.Lock(); e.checking = checking; e.mu.Unlock() }

func (e *Engine) recomputePairsLocked() {
	e.pairs = FormPairs(e.local, e.remote, e.controlling)
}

// Pairs returns a snapshot of the current candidate pairs, ordered by
// pair_priority descending.
func (e *Engine) Pairs() []Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Pair, len(e.pairs))
	copy(out, e.pairs)
	return out
}

// MarkPairState updates the state of the pair matching (local, remote).
func (e *Engine) MarkPairState(local, remote Candidate, state PairState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.pairs {
		if SameKey(e.pairs[i].Local, local) && SameKey(e.pairs[i].Remote, remote) {
			e.pairs[i].State = state
			return
		}
	}
}

// Nominate returns the winning pair, if any Succeeded pair exists.
func (e *Engine) Nominate() (Pair, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Nominate(e.pairs)
}

// RemoteCandidates returns a snapshot of the remote candidate set, used by
// the NAT punch engine to drive the punch schedule.
func (e *Engine) RemoteCandidates() []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Candidate, len(e.remote))
	copy(out, e.remote)
	return out
}

// LocalCandidates returns a snapshot of the local candidate set.
func (e *Engine) LocalCandidates() []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Candidate, len(e.local))
	copy(out, e.local)
	return out
}
