package candidate

import "sort"

// PairState mirrors spec §3's candidate pair state machine.
type PairState int

const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

// Pair is a local/remote candidate pairing under connectivity check.
type Pair struct {
	Local    Candidate
	Remote   Candidate
	Priority uint64
	State    PairState

	// Controlling reports whether the local side is the ICE controlling
	// agent, used only to pick G vs D in the priority formula.
	Controlling bool
}

// PairPriority computes the 64-bit composite priority from RFC 8445 §6.1.2.3:
// 2^32 * min(G,D) + 2*max(G,D) + (G>D ? 1 : 0), where G is the controlling
// side's candidate priority and D the controlled side's.
func PairPriority(controllingPriority, controlledPriority uint32) uint64 {
	g, d := uint64(controllingPriority), uint64(controlledPriority)
	min, max := g, d
	if d < g {
		min, max = d, g
	}
	var tie uint64
	if g > d {
		tie = 1
	}
	return (1<<32)*min + 2*max + tie
}

func newPair(local, remote Candidate, controlling bool) Pair {
	var gPriority, dPriority uint32
	if controlling {
		gPriority, dPriority = local.Priority, remote.Priority
	} else {
		gPriority, dPriority = remote.Priority, local.Priority
	}
	return Pair{
		Local:       local,
		Remote:      remote,
		Priority:    PairPriority(gPriority, dPriority),
		State:       Frozen,
		Controlling: controlling,
	}
}

// canBePaired only allows same-component, same-family pairings (IPv6 is a
// non-goal so family always matches here, but the component check still
// matters once multiple local candidates share a component).
func canBePaired(local, remote Candidate) bool {
	return local.Component == remote.Component
}

// FormPairs computes the cartesian product of locals x remotes filtered by
// canBePaired, sorted by Priority descending, and unfreezes (-> Waiting)
// the highest-priority pair per component (spec §4.D form_pairs).
func FormPairs(locals, remotes []Candidate, controlling bool) []Pair {
	var pairs []Pair
	for _, l := range locals {
		for _, r := range remotes {
			if canBePaired(l, r) {
				pairs = append(pairs, newPair(l, r, controlling))
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Priority > pairs[j].Priority
	})

	unfrozen := map[int]bool{}
	for i := range pairs {
		c := pairs[i].Local.Component
		if pairs[i].State == Frozen && !unfrozen[c] {
			pairs[i].State = Waiting
			unfrozen[c] = true
		}
	}
	return pairs
}

// Nominate picks the active path among pairs that have reached Succeeded:
// the first nominated pair in Succeeded state, tie-broken lexicographically
// on (-pair_priority, local.kind, remote.kind), per spec §4.D nominate().
func Nominate(pairs []Pair) (Pair, bool) {
	var candidates []Pair
	for _, p := range pairs {
		if p.State == Succeeded {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Pair{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Local.Kind != b.Local.Kind {
			return a.Local.Kind < b.Local.Kind
		}
		return a.Remote.Kind < b.Remote.Kind
	})
	return candidates[0], true
}
