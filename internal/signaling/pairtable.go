package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnicloud/p2psession/internal/codec"
)

// PeerPointer models the cyclic-avoiding "peer pointer" from spec §9: the
// table is a flat map keyed by peer id rather than a contiguous array with
// true pointers, but the three states are identical in meaning.
type PeerPointer int

const (
	Unpaired PeerPointer = iota
	Linked
	Dangling
)

// PairEntry is one row of the server's pair table (spec §4.E).
type PairEntry struct {
	LocalID    string
	RemoteID   string
	LastSeen   time.Time
	Pointer    PeerPointer
	LinkedWith string // valid when Pointer == Linked

	Candidates []codec.CandidateRecord // bounded cache, default 8
	SessionID  string                  // spec §3 session identifier, minted once per entry

	Conn PeerConn
}

// PeerConn abstracts the transport used to push frames to a registered
// client, so the pair table doesn't need to know about net.Conn directly
// (keeps PairTable testable without real sockets).
type PeerConn interface {
	Send(Frame) error
}

// DefaultMaxCandidates is the server cache capacity advertised in
// REGISTER_ACK.max_candidates.
const DefaultMaxCandidates = 8

// PairTable is the server-side in-memory pair table. No durable storage is
// specified (spec §6 "Persisted state: none").
type PairTable struct {
	mu       sync.Mutex
	entries  map[string]*PairEntry // keyed by LocalID
	maxCache int
}

func NewPairTable(maxCache int) *PairTable {
	if maxCache <= 0 {
		maxCache = DefaultMaxCandidates
	}
	return &PairTable{entries: make(map[string]*PairEntry), maxCache: maxCache}
}

// Register creates or updates the pair entry for localID, caching the
// offered candidates (bounded to maxCache) and linking with remoteID's
// entry if the reverse registration already exists (first-match bilateral
// linking, spec §4.E REGISTER).
func (t *PairTable) Register(localID, remoteID string, candidates []codec.CandidateRecord, conn PeerConn) (entry *PairEntry, linkedPartner *PairEntry, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[localID]
	if !ok {
		e = &PairEntry{LocalID: localID, SessionID: uuid.NewString()}
		t.entries[localID] = e
	}
	e.RemoteID = remoteID
	e.LastSeen = time.Now()
	e.Conn = conn
	e.Candidates = cacheBound(candidates, t.maxCache)
	if e.Pointer != Linked {
		e.Pointer = Unpaired
	}

	if partner, ok := t.entries[remoteID]; ok && partner.RemoteID == localID {
		e.Pointer = Linked
		e.LinkedWith = remoteID
		partner.Pointer = Linked
		partner.LinkedWith = localID
		return e, partner, e.SessionID
	}
	return e, nil, e.SessionID
}

func cacheBound(cands []codec.CandidateRecord, max int) []codec.CandidateRecord {
	if len(cands) <= max {
		return append([]codec.CandidateRecord(nil), cands...)
	}
	return append([]codec.CandidateRecord(nil), cands[:max]...)
}

// Touch updates last_seen on a heartbeat (ALIVE).
func (t *PairTable) Touch(localID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[localID]
	if !ok {
		return false
	}
	e.LastSeen = time.Now()
	return true
}

// Get returns the entry for id, if present.
func (t *PairTable) Get(id string) (*PairEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// AppendCandidate adds one trickled candidate to id's cache, bounding it.
func (t *PairTable) AppendCandidate(id string, c codec.CandidateRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.Candidates = append(e.Candidates, c)
	if len(e.Candidates) > t.maxCache {
		e.Candidates = e.Candidates[len(e.Candidates)-t.maxCache:]
	}
}

// PeerOffNotice is one pending PEER_OFF delivery: NotifyID is still
// connected and must be told DeadPeer (identified by DeadSessionID, spec §3)
// went dark.
type PeerOffNotice struct {
	NotifyID      string
	DeadPeer      string
	DeadSessionID string
}

// SweepExpired removes entries whose last_seen exceeds timeout, and flips
// the linked partner's pointer to Dangling, returning the notices that need
// a PEER_OFF delivery (spec §4.E ALIVE timeout, and E4).
func (t *PairTable) SweepExpired(timeout time.Duration) (notify []PeerOffNotice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for id, e := range t.entries {
		if now.Sub(e.LastSeen) <= timeout {
			continue
		}
		if e.Pointer == Linked {
			if partner, ok := t.entries[e.LinkedWith]; ok {
				partner.Pointer = Dangling
				notify = append(notify, PeerOffNotice{NotifyID: partner.LocalID, DeadPeer: e.LocalID, DeadSessionID: e.SessionID})
			}
		}
		delete(t.entries, id)
	}
	return notify
}

// Remove deletes an entry directly (used on clean CLOSE/FIN).
func (t *PairTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Size reports the number of live entries, surfaced as a metric.
func (t *PairTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of every live entry, for the admin/pairs dump.
func (t *PairTable) Snapshot() []PairEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PairEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}
