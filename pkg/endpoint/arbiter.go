package endpoint

import (
	"github.com/booksim-go/endpoint/pkg/config"
	"github.com/booksim-go/endpoint/pkg/flit"
)

// InjectionGroup names one of the three packet-origin queues the arbiter
// rotates across (§4.3): each Select starts at the group after the one that
// last emitted, so no group holds a fixed priority over the others.
type InjectionGroup int

const (
	GroupNewCmd InjectionGroup = iota
	GroupReadReply
	GroupRgetGetReq
	numInjectionGroups
)

// Candidate is one packet waiting for an injection slot. Size is the
// transaction's byte size for metering (§4.4) — distinct from Head.Size,
// which counts flits in the packet.
type Candidate struct {
	Group InjectionGroup
	Dest  int
	Head  *flit.Flit
	Size  int
}

// Arbiter implements the injection-arbiter group cursor and within-group
// destination scheduling of §4.3 (round-robin or weighted).
type Arbiter struct {
	mode config.ArbType

	groupCursor InjectionGroup

	// round-robin last-served destination, per group.
	lastServed [numInjectionGroups]int

	// weighted scheduler token buckets, per (group, dest).
	tokens        map[InjectionGroup]map[int]int
	reqInitTokens int
	rspInitTokens int
	incrTokens    int
	rspSlotsPerReqSlot int
	reqSlotsSinceRsp   int
}

// NewArbiter builds an arbiter in the given scheduling mode.
func NewArbiter(mode config.ArbType, reqInitTokens, rspInitTokens, incrTokens, rspSlotsPerReqSlot int) *Arbiter {
	a := &Arbiter{
		mode:               mode,
		tokens:             make(map[InjectionGroup]map[int]int),
		reqInitTokens:      reqInitTokens,
		rspInitTokens:      rspInitTokens,
		incrTokens:         incrTokens,
		rspSlotsPerReqSlot: rspSlotsPerReqSlot,
	}
	for g := InjectionGroup(0); g < numInjectionGroups; g++ {
		a.tokens[g] = make(map[int]int)
		a.lastServed[g] = -1
	}
	return a
}

func (a *Arbiter) initTokens(g InjectionGroup) int {
	if g == GroupNewCmd {
		return a.reqInitTokens
	}
	return a.rspInitTokens
}

func (a *Arbiter) tokensFor(g InjectionGroup, dest int) int {
	m := a.tokens[g]
	t, ok := m[dest]
	if !ok {
		t = a.initTokens(g)
		m[dest] = t
	}
	return t
}

// Select walks the group cursor starting from where it left off last cycle
// (§4.3: "the cursor does not reset to GroupNewCmd every cycle, so no group
// can starve the others") and returns the first group with at least one
// ready candidate, choosing a destination within it per the configured mode.
func (a *Arbiter) Select(ready []Candidate) (Candidate, bool) {
	if len(ready) == 0 {
		return Candidate{}, false
	}
	byGroup := make(map[InjectionGroup][]Candidate)
	for _, c := range ready {
		byGroup[c.Group] = append(byGroup[c.Group], c)
	}

	for i := 0; i < int(numInjectionGroups); i++ {
		g := InjectionGroup((int(a.groupCursor) + i) % int(numInjectionGroups))
		cands := byGroup[g]
		if len(cands) == 0 {
			continue
		}
		var chosen Candidate
		switch a.mode {
		case config.ArbWeighted:
			chosen = a.selectWeighted(g, cands)
		default:
			chosen = a.selectRoundRobin(g, cands)
		}
		a.groupCursor = InjectionGroup((int(g) + 1) % int(numInjectionGroups))
		return chosen, true
	}
	return Candidate{}, false
}

func (a *Arbiter) selectRoundRobin(g InjectionGroup, cands []Candidate) Candidate {
	// Serve the lowest-dest candidate strictly greater than the last one
	// served, wrapping around; a stable, starvation-free rotation.
	best := cands[0]
	bestRank := rankAfter(a.lastServed[g], best.Dest)
	for _, c := range cands[1:] {
		if r := rankAfter(a.lastServed[g], c.Dest); r < bestRank {
			best, bestRank = c, r
		}
	}
	a.lastServed[g] = best.Dest
	return best
}

func rankAfter(last, dest int) int {
	if dest > last {
		return dest - last
	}
	return dest - last + 1<<30
}

func (a *Arbiter) selectWeighted(g InjectionGroup, cands []Candidate) Candidate {
	best := cands[0]
	bestTokens := a.tokensFor(g, best.Dest)
	for _, c := range cands[1:] {
		if t := a.tokensFor(g, c.Dest); t > bestTokens {
			best, bestTokens = c, t
		}
	}
	// The served destination spends a token; every other ready destination
	// in the group earns incrTokens, per the reference's weighted-fair-queuing
	// update rule.
	for _, c := range cands {
		if c.Dest == best.Dest {
			a.tokens[g][c.Dest] = a.tokensFor(g, c.Dest) - 1
		} else {
			a.tokens[g][c.Dest] = a.tokensFor(g, c.Dest) + a.incrTokens
		}
	}
	if g != GroupNewCmd {
		a.reqSlotsSinceRsp = 0
	} else {
		a.reqSlotsSinceRsp++
	}
	return best
}
