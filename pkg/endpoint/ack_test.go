package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAckEmitter(packetsBeforeStandalone int, cyclesBeforeStandalone Cycle, specEnabled bool) (*AckEmitter, *ReceiveTracker) {
	rt := NewReceiveTracker(true, 64, 128)
	e := NewAckEmitter(rt, cyclesBeforeStandalone, packetsBeforeStandalone, 100, 1000, 4, 4, specEnabled)
	return e, rt
}

func TestAckEmitter_DueForStandaloneAckOnPacketCount(t *testing.T) {
	e, rt := newAckEmitter(3, 1000, false)
	rt.OnTail(0, 1, 1, false, true)
	rt.OnTail(0, 1, 2, false, true)
	assert.False(t, e.DueForStandaloneAck(0, 1), "below the packet-count threshold")

	rt.OnTail(0, 1, 3, false, true)
	assert.True(t, e.DueForStandaloneAck(0, 1))
}

func TestAckEmitter_DueForStandaloneAckOnAge(t *testing.T) {
	e, rt := newAckEmitter(1000, 10, false)
	rt.OnTail(0, 1, 1, false, true)
	assert.False(t, e.DueForStandaloneAck(5, 1))
	assert.True(t, e.DueForStandaloneAck(11, 1))
}

func TestAckEmitter_NearlyDueFeedsSpeculativeQueue(t *testing.T) {
	e, rt := newAckEmitter(2, 1000, true)
	rt.OnTail(0, 1, 1, false, true)
	require.True(t, e.NearlyDue(0, 1), "one packet recvd, threshold 2: nearly due")

	e.EnqueueSpeculative(1)
	src, ok := e.NextSpeculative()
	require.True(t, ok)
	assert.Equal(t, 1, src)

	_, ok = e.NextSpeculative()
	assert.False(t, ok)
}

func TestAckEmitter_SpeculativeQueueDedupesAndKeepsFIFOOrder(t *testing.T) {
	e, _ := newAckEmitter(2, 1000, true)
	e.EnqueueSpeculative(1)
	e.EnqueueSpeculative(1) // dedup
	e.EnqueueSpeculative(2)
	e.EnqueueSpeculative(3)
	e.EnqueueSpeculative(4) // queue size 4: still fits, no drop yet

	src, _ := e.NextSpeculative()
	assert.Equal(t, 1, src, "FIFO order preserved, no duplicate entry")
}

func TestAckEmitter_MarkSentResetsReceiveState(t *testing.T) {
	e, rt := newAckEmitter(2, 1000, false)
	rt.OnTail(0, 1, 1, false, true)
	rt.OnTail(0, 1, 2, false, true)
	require.True(t, e.DueForStandaloneAck(0, 1))

	e.MarkSent(0, 1)
	assert.False(t, e.DueForStandaloneAck(0, 1), "PacketsRecvdSinceLastAck should reset to zero")
	assert.Equal(t, 1, e.AcksEmitted)
}

func TestAckEmitter_SampleFairnessFlagsStarvedSource(t *testing.T) {
	e, _ := newAckEmitter(2, 1000, false)
	counts := map[int]int{1: 0, 2: 0}
	e.SampleFairness(0, counts)

	counts = map[int]int{1: 20, 2: 0}
	e.SampleFairness(100, counts)

	src, starved := e.StarvedSource()
	require.True(t, starved)
	assert.Equal(t, 2, src)
}

func TestAckEmitter_SampleFairnessResetsPeriodically(t *testing.T) {
	e, _ := newAckEmitter(2, 1000, false)
	e.SampleFairness(0, map[int]int{1: 0, 2: 0})
	e.SampleFairness(100, map[int]int{1: 20, 2: 0})
	_, starved := e.StarvedSource()
	require.True(t, starved)

	e.SampleFairness(1000, map[int]int{1: 0, 2: 0}) // reset period elapsed, no new imbalance this round
	_, starved = e.StarvedSource()
	assert.False(t, starved, "the reset should clear the flagged source when the new sample shows no imbalance")
}
