package endpoint

// AckEmitter decides when an acknowledgement owed to a source must go out
// as a standalone ACK flit, and layers on the fairness sampling supplemented
// from original_source/ (SPEC_FULL.md item 1). Outgoing data packets are not
// decorated with ACK fields: every ACK/NACK/SACK this endpoint sends is a
// standalone control flit.
type AckEmitter struct {
	receive *ReceiveTracker

	cyclesBeforeStandaloneAck  Cycle
	packetsBeforeStandaloneAck int

	// Fairness sampling: every fairnessSamplingTime cycles, compare the
	// good-packet counts across sources and note the most-starved one so
	// the arbiter can bias a slot toward it.
	fairnessSamplingTime Cycle
	fairnessResetPeriod  Cycle
	fairnessDiffThreshold int
	lastSample           map[int]int
	lastSampleTime       Cycle
	lastResetTime        Cycle
	starvedSrc           int
	starvedSet           bool

	// Speculative-ack queue: sources whose ACK is about to become due get
	// queued ahead of the standalone-ack threshold, and the endpoint sends
	// their standalone ACK from this queue before its regular scan.
	speculativeQueue     []int
	speculativeQueueSize int
	speculativeEnabled   bool

	AcksEmitted int
}

// NewAckEmitter builds an emitter bound to a ReceiveTracker and the relevant
// §6 options.
func NewAckEmitter(rt *ReceiveTracker, cyclesBeforeStandaloneAck Cycle, packetsBeforeStandaloneAck int, fairnessSamplingTime, fairnessResetPeriod Cycle, fairnessDiffThreshold int, speculativeQueueSize int, speculativeEnabled bool) *AckEmitter {
	return &AckEmitter{
		receive:                    rt,
		cyclesBeforeStandaloneAck:  cyclesBeforeStandaloneAck,
		packetsBeforeStandaloneAck: packetsBeforeStandaloneAck,
		fairnessSamplingTime:       fairnessSamplingTime,
		fairnessResetPeriod:        fairnessResetPeriod,
		fairnessDiffThreshold:      fairnessDiffThreshold,
		lastSample:                 make(map[int]int),
		speculativeQueueSize:       speculativeQueueSize,
		speculativeEnabled:         speculativeEnabled,
	}
}

// DueForStandaloneAck reports whether src's outstanding ACK has aged past
// either threshold and must be sent as a standalone ACK (§4.12).
func (e *AckEmitter) DueForStandaloneAck(now Cycle, src int) bool {
	s := e.receive.State(src)
	if s.PacketsRecvdSinceLastAck == 0 {
		return false
	}
	if s.PacketsRecvdSinceLastAck >= e.packetsBeforeStandaloneAck {
		return true
	}
	if t, ok := s.TimeLastValidPacketRecvd.Get(); ok && now-t >= e.cyclesBeforeStandaloneAck {
		return true
	}
	return false
}

// NearlyDue reports whether src's ACK will become standalone-due within one
// cycle, the trigger for enqueuing it onto the speculative-ack queue, from
// which its standalone ACK is sent ahead of the regular threshold.
func (e *AckEmitter) NearlyDue(now Cycle, src int) bool {
	if !e.speculativeEnabled {
		return false
	}
	s := e.receive.State(src)
	if s.PacketsRecvdSinceLastAck == 0 {
		return false
	}
	if s.PacketsRecvdSinceLastAck == e.packetsBeforeStandaloneAck-1 {
		return true
	}
	if t, ok := s.TimeLastValidPacketRecvd.Get(); ok && now-t == e.cyclesBeforeStandaloneAck-1 {
		return true
	}
	return false
}

// EnqueueSpeculative adds src to the speculative-ack queue if there is room,
// dropping the oldest entry first when full (a best-effort hint queue, not
// a reliability-bearing one).
func (e *AckEmitter) EnqueueSpeculative(src int) {
	for _, s := range e.speculativeQueue {
		if s == src {
			return
		}
	}
	if len(e.speculativeQueue) >= e.speculativeQueueSize {
		e.speculativeQueue = e.speculativeQueue[1:]
	}
	e.speculativeQueue = append(e.speculativeQueue, src)
}

// NextSpeculative pops the oldest speculative-ack candidate, if any.
func (e *AckEmitter) NextSpeculative() (int, bool) {
	if len(e.speculativeQueue) == 0 {
		return 0, false
	}
	src := e.speculativeQueue[0]
	e.speculativeQueue = e.speculativeQueue[1:]
	return src, true
}

// SampleFairness runs every fairnessSamplingTime cycles: it records the
// increment in good packets received per source since the last sample and
// flags whichever source has fallen fairnessDiffThreshold behind the
// best-served one. The whole history resets every fairnessResetPeriod
// cycles so a source that was starved long ago doesn't get flagged forever.
func (e *AckEmitter) SampleFairness(now Cycle, counts map[int]int) {
	if e.fairnessResetPeriod > 0 && now-e.lastResetTime >= e.fairnessResetPeriod {
		e.lastSample = make(map[int]int)
		e.lastResetTime = now
		e.starvedSet = false
	}
	if e.fairnessSamplingTime <= 0 || now-e.lastSampleTime < e.fairnessSamplingTime {
		return
	}
	e.lastSampleTime = now

	best := 0
	worstSrc, worstDelta := -1, 0
	deltas := make(map[int]int, len(counts))
	for src, total := range counts {
		delta := total - e.lastSample[src]
		e.lastSample[src] = total
		deltas[src] = delta
		if delta > best {
			best = delta
		}
	}
	for src, delta := range deltas {
		if best-delta >= e.fairnessDiffThreshold && (worstSrc == -1 || delta < worstDelta) {
			worstSrc, worstDelta = src, delta
		}
	}
	if worstSrc >= 0 {
		e.starvedSrc, e.starvedSet = worstSrc, true
	} else {
		e.starvedSet = false
	}
}

// StarvedSource reports the source currently flagged by fairness sampling,
// if any, so the arbiter can bias a slot toward it.
func (e *AckEmitter) StarvedSource() (int, bool) { return e.starvedSrc, e.starvedSet }

// MarkSent records that a standalone ACK/NACK/SACK for src has just gone
// out.
func (e *AckEmitter) MarkSent(now Cycle, src int) {
	e.receive.MarkAcked(now, src)
	e.AcksEmitted++
}
