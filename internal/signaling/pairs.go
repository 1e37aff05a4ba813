package signaling

// PairState is where a call attempt between two clients stands, as observed at
// the signaling layer. The relay keeps this purely for cleanup: it decides who
// gets notified when a party hangs up or disconnects, never whether media
// actually flows.
type PairState int

const (
	// PairIdle is the implicit initial state; no table entry exists.
	PairIdle PairState = iota
	// PairOfferSent: an offer was routed and no matching answer has been seen.
	PairOfferSent
	// PairAnswered: the callee's answer was routed back.
	PairAnswered
	// PairActive: negotiation traffic continued past the answer, so both sides
	// are assumed to hold live peer connections.
	PairActive
	// PairEnded is terminal; the entry is removed as it is entered.
	PairEnded
)

func (s PairState) String() string {
	switch s {
	case PairIdle:
		return "idle"
	case PairOfferSent:
		return "offer-sent"
	case PairAnswered:
		return "answered"
	case PairActive:
		return "active"
	case PairEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// pairKey identifies the unordered pair of client ids.
type pairKey struct {
	lo, hi string
}

func keyFor(a, b string) pairKey {
	if a < b {
		return pairKey{lo: a, hi: b}
	}
	return pairKey{lo: b, hi: a}
}

type pair struct {
	caller string // who sent the most recent offer
	state  PairState
}

// pairTable tracks call attempts per unordered pair of ids.
//
// Like Registry, it is not safe for concurrent use on its own; the Server
// serializes access behind its mutex.
type pairTable struct {
	pairs map[pairKey]*pair
}

func newPairTable() *pairTable {
	return &pairTable{pairs: make(map[pairKey]*pair)}
}

// Offer records a routed offer from caller to callee. A second offer for a
// pair already negotiating replaces the prior attempt (renegotiation) and
// reports replaced=true; created is true when a fresh entry was made.
func (t *pairTable) Offer(caller, callee string) (created, replaced bool) {
	k := keyFor(caller, callee)
	if p, ok := t.pairs[k]; ok {
		p.caller = caller
		p.state = PairOfferSent
		return false, true
	}
	t.pairs[k] = &pair{caller: caller, state: PairOfferSent}
	return true, false
}

// Answer records a routed answer sent by callee. Answers with no matching
// offer, or sent by the side that made the offer, leave the table untouched.
func (t *pairTable) Answer(callee, caller string) bool {
	p, ok := t.pairs[keyFor(callee, caller)]
	if !ok || p.state != PairOfferSent || p.caller == callee {
		return false
	}
	p.state = PairAnswered
	return true
}

// Candidate marks continued negotiation traffic. Once a candidate flows after
// the answer, the pair is considered active.
func (t *pairTable) Candidate(a, b string) {
	p, ok := t.pairs[keyFor(a, b)]
	if !ok {
		return
	}
	if p.state == PairAnswered {
		p.state = PairActive
	}
}

// End terminates the attempt between a and b, removing the entry. It reports
// whether an attempt existed.
func (t *pairTable) End(a, b string) bool {
	k := keyFor(a, b)
	if _, ok := t.pairs[k]; !ok {
		return false
	}
	delete(t.pairs, k)
	return true
}

// EndAll terminates every attempt involving id and returns the counterpart ids
// so the caller can notify them. Each counterpart appears exactly once.
func (t *pairTable) EndAll(id string) []string {
	var peers []string
	for k := range t.pairs {
		switch id {
		case k.lo:
			peers = append(peers, k.hi)
		case k.hi:
			peers = append(peers, k.lo)
		default:
			continue
		}
		delete(t.pairs, k)
	}
	return peers
}

// State returns the attempt state for the pair, PairIdle when none exists.
func (t *pairTable) State(a, b string) PairState {
	p, ok := t.pairs[keyFor(a, b)]
	if !ok {
		return PairIdle
	}
	return p.state
}

func (t *pairTable) Len() int { return len(t.pairs) }
