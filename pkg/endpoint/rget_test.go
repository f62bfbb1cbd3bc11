package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRgetConverter_DisabledNeverConverts(t *testing.T) {
	r := NewRgetConverter(false, 2, 0.7, 0.9, 1)
	r.Sample(0, 1.0)
	r.Sample(0, 1.0)
	assert.False(t, r.IsConverted(0))
}

func TestRgetConverter_ConvertsAfterConsecutiveHighUnackedSamples(t *testing.T) {
	r := NewRgetConverter(true, 2, 0.7, 0.9, 1)
	r.Sample(0, 0.8)
	assert.False(t, r.IsConverted(0), "only one sample so far, window needs two")

	r.Sample(0, 0.8)
	assert.True(t, r.IsConverted(0))
}

func TestRgetConverter_MinSamplesSinceTransitionGuardsAgainstFlapping(t *testing.T) {
	r := NewRgetConverter(true, 1, 0.7, 0.9, 3)
	r.Sample(0, 0.8)
	assert.False(t, r.IsConverted(0), "samplesSinceChange has not yet reached the anti-flap guard")

	r.Sample(0, 0.8)
	assert.False(t, r.IsConverted(0))

	r.Sample(0, 0.8)
	assert.True(t, r.IsConverted(0))
}

func TestRgetConverter_RevertsAfterAckedFractionThreshold(t *testing.T) {
	r := NewRgetConverter(true, 1, 0.7, 0.9, 1)
	r.Sample(0, 0.8)
	require.True(t, r.IsConverted(0))

	r.Sample(0, 0.05) // acked fraction 0.95 >= revertAckedPerc 0.9
	assert.False(t, r.IsConverted(0))
}
