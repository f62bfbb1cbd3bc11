package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/booksim-go/endpoint/pkg/config"
	"github.com/booksim-go/endpoint/pkg/flit"
)

func cand(g InjectionGroup, dest int) Candidate {
	return Candidate{Group: g, Dest: dest, Head: &flit.Flit{Dest: dest}}
}

func TestArbiter_GroupPriorityOrder(t *testing.T) {
	a := NewArbiter(config.ArbRoundRobin, 0, 0, 0, 0)
	ready := []Candidate{cand(GroupRgetGetReq, 3), cand(GroupNewCmd, 1), cand(GroupReadReply, 2)}
	chosen, ok := a.Select(ready)
	require.True(t, ok)
	assert.Equal(t, GroupNewCmd, chosen.Group, "GroupNewCmd has top priority when the cursor starts there")
}

func TestArbiter_CursorDoesNotResetEveryCycle(t *testing.T) {
	a := NewArbiter(config.ArbRoundRobin, 0, 0, 0, 0)

	// Cycle 1: only GroupNewCmd is ready; cursor advances past it to
	// GroupReadReply.
	_, ok := a.Select([]Candidate{cand(GroupNewCmd, 1)})
	require.True(t, ok)

	// Cycle 2: both GroupNewCmd and GroupReadReply are ready. If the cursor
	// had reset to GroupNewCmd, GroupNewCmd would win again; instead it
	// continues from where it left off, so GroupReadReply is served.
	chosen, ok := a.Select([]Candidate{cand(GroupNewCmd, 1), cand(GroupReadReply, 2)})
	require.True(t, ok)
	assert.Equal(t, GroupReadReply, chosen.Group)
}

func TestArbiter_RoundRobinServesEachDestInTurn(t *testing.T) {
	a := NewArbiter(config.ArbRoundRobin, 0, 0, 0, 0)
	ready := []Candidate{cand(GroupNewCmd, 5), cand(GroupNewCmd, 1), cand(GroupNewCmd, 3)}

	first, _ := a.Select(ready)
	second, _ := a.Select(ready)
	third, _ := a.Select(ready)
	fourth, _ := a.Select(ready)

	assert.Equal(t, []int{first.Dest, second.Dest, third.Dest, fourth.Dest}, []int{1, 3, 5, 1})
}

func TestArbiter_WeightedPrefersHigherTokenDest(t *testing.T) {
	a := NewArbiter(config.ArbWeighted, 4, 4, 1, 1)
	ready := []Candidate{cand(GroupNewCmd, 1), cand(GroupNewCmd, 2)}

	// Both start with equal tokens (reqInitTokens=4); after serving dest 1
	// once, dest 2 should have strictly more tokens and win next.
	first, _ := a.Select(ready)
	second, _ := a.Select(ready)
	assert.NotEqual(t, first.Dest, second.Dest, "the loser should accrue tokens and be served next")
}

func TestArbiter_SelectOnEmptyReturnsFalse(t *testing.T) {
	a := NewArbiter(config.ArbRoundRobin, 0, 0, 0, 0)
	_, ok := a.Select(nil)
	assert.False(t, ok)
}
