package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoma_AdmitDataCapsOutstandingMessages(t *testing.T) {
	p := NewHoma(2)
	require.True(t, p.AdmitData(0, 1000)) // size is irrelevant, only count matters
	require.True(t, p.AdmitData(0, 1))
	assert.False(t, p.AdmitData(0, 1), "third outstanding message should be blocked")
}

func TestHoma_IncrementalAckFreesASlotAndUpdatesRTT(t *testing.T) {
	p := NewHoma(1)
	p.AdmitData(0, 1)
	require.False(t, p.AdmitData(0, 1), "at cap")

	p.OnIncrementalAck(0, 100) // first RTT sample, taken directly
	assert.True(t, p.AdmitData(0, 1), "acking the outstanding message should free a slot")
	assert.Equal(t, 100.0, p.RetryTimeout(0)/p.rttMultiplier)
}

func TestHoma_RetryTimeoutIsThreeTimesEWMARTT(t *testing.T) {
	p := NewHoma(0)
	p.OnIncrementalAck(0, 100)
	p.OnIncrementalAck(0, 100)
	assert.InDelta(t, 300, p.RetryTimeout(0), 1e-9)
}

func TestHoma_DuplicateAckAndNackAreNoOps(t *testing.T) {
	p := NewHoma(1)
	p.AdmitData(0, 1)
	p.OnDuplicateAck(0)
	p.OnNack(0)
	assert.False(t, p.AdmitData(0, 1), "neither call should have freed the outstanding slot")
}
