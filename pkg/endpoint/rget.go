package endpoint

// rgetSample is one rget sampling window's worth of observation for a
// destination, used to decide whether to flip into rget mode (§4.10).
type rgetSample struct {
	unackedPct float64
	converted  bool
}

// rgetDestState is the adaptive put-to-rget state machine per destination.
type rgetDestState struct {
	converted          bool
	samples            []rgetSample
	samplesSinceChange int
}

// RgetConverter implements §4.10's adaptive put-to-rget conversion: once
// rget_convert_num_samples consecutive sampling windows show the
// unacknowledged fraction toward a destination above
// rget_convert_unacked_perc, new writes toward it are converted to RGET
// pull requests instead of pushed writes; the reverse threshold on acked
// fraction converts back.
type RgetConverter struct {
	dests map[int]*rgetDestState

	enabled                   bool
	numSamples                int
	unackedPerc               float64
	revertAckedPerc           float64
	minSamplesSinceTransition int
}

// NewRgetConverter builds a converter from the validated §6 config (the
// caller is expected to have already rejected numSamples > 2 at config load,
// per SPEC_FULL.md's Open Question decision).
func NewRgetConverter(enabled bool, numSamples int, unackedPerc, revertAckedPerc float64, minSamplesSinceTransition int) *RgetConverter {
	return &RgetConverter{
		dests:                     make(map[int]*rgetDestState),
		enabled:                   enabled,
		numSamples:                numSamples,
		unackedPerc:               unackedPerc,
		revertAckedPerc:           revertAckedPerc,
		minSamplesSinceTransition: minSamplesSinceTransition,
	}
}

func (r *RgetConverter) dest(d int) *rgetDestState {
	s, ok := r.dests[d]
	if !ok {
		s = &rgetDestState{}
		r.dests[d] = s
	}
	return s
}

// IsConverted reports whether writes toward dest are currently issued as
// RGET pulls rather than pushed writes.
func (r *RgetConverter) IsConverted(dest int) bool {
	if !r.enabled {
		return false
	}
	return r.dest(dest).converted
}

// Sample records one window's observed unacked fraction for dest (the
// endpoint passes OPB.UnackedFraction, a fraction of packets). It converts
// once numSamples consecutive windows are all at or above unackedPerc, and
// reverts as soon as a single window's acked fraction reaches
// revertAckedPerc; either flip waits until at least
// minSamplesSinceTransition windows have passed since the last one
// (preventing flapping).
func (r *RgetConverter) Sample(dest int, unackedFraction float64) {
	if !r.enabled {
		return
	}
	s := r.dest(dest)
	s.samples = append(s.samples, rgetSample{unackedPct: unackedFraction})
	if len(s.samples) > r.numSamples {
		s.samples = s.samples[len(s.samples)-r.numSamples:]
	}
	s.samplesSinceChange++

	if s.samplesSinceChange < r.minSamplesSinceTransition || len(s.samples) < r.numSamples {
		return
	}

	if !s.converted {
		if allAbove(s.samples, r.unackedPerc) {
			s.converted = true
			s.samplesSinceChange = 0
		}
		return
	}

	ackedFraction := 1 - unackedFraction
	if ackedFraction >= r.revertAckedPerc {
		s.converted = false
		s.samplesSinceChange = 0
	}
}

func allAbove(samples []rgetSample, threshold float64) bool {
	for _, s := range samples {
		if s.unackedPct < threshold {
			return false
		}
	}
	return true
}
