package endpoint

import (
	"math/bits"

	"github.com/booksim-go/endpoint/pkg/flit"
)

// RetryKind is the tagged variant from §3: {Idle | NackBased | SackBased |
// TimeoutBased}. Go has no sum type, so the fields that only apply to one
// variant (opb_index, seq_num_in_progress, sack_vec, ...) are carried
// alongside the kind and only ever populated together with it — see
// DESIGN.md, "Retry controller".
type RetryKind int

const (
	RetryIdle RetryKind = iota
	RetryNackBased
	RetrySackBased
	RetryTimeoutBased
)

func (k RetryKind) String() string {
	switch k {
	case RetryNackBased:
		return "NACK_BASED"
	case RetrySackBased:
		return "SACK_BASED"
	case RetryTimeoutBased:
		return "TIMEOUT_BASED"
	default:
		return "IDLE"
	}
}

// retryState is the per-destination retry record (§3).
type retryState struct {
	kind RetryKind

	opbIndex int // NackBased / index of packet currently being retransmitted

	seqNumInProgress int64
	sackVec          uint64
	origSackVec      uint64
	origAckSeqNum    int64

	pendingAck      bool
	pendingAckValue int64

	// pendingNackSeqNum: a NACK arriving mid-replay restarts the replay
	// from pendingNackSeqNum+1 once the current packet finishes (§4.5).
	pendingNackSeqNum      bool
	pendingNackSeqNumValue int64
}

type timerRecord struct {
	expiry Cycle
	dest   int
	seqNum int64
}

// RetryController owns every destination's retry state plus the
// retry-timer and response-timer expiration queues (§3, §4.5).
type RetryController struct {
	states map[int]*retryState

	// pendingNackReplays holds destinations with a NACK/SACK-based replay
	// ready to run, FIFO (§4.3 priority rule 1).
	pendingNackReplays []int

	retryTimerQueue    []timerRecord
	responseTimerQueue []timerRecord

	retryTimerTimeout    Cycle
	responseTimerTimeout Cycle
	maxRetryAttempts     int

	sackVecLength uint
	sackVecMask   uint64

	RetryTimeouts int // §8 counter: retry_timeouts
}

// NewRetryController builds a controller from the configured timer and
// retry-attempt limits (§6).
func NewRetryController(retryTimerTimeout, responseTimerTimeout Cycle, maxRetryAttempts int, sackVecLength uint) *RetryController {
	mask := uint64(0)
	if sackVecLength > 0 {
		mask = ^uint64(0) >> (64 - sackVecLength)
	}
	return &RetryController{
		states:               make(map[int]*retryState),
		retryTimerTimeout:    retryTimerTimeout,
		responseTimerTimeout: responseTimerTimeout,
		maxRetryAttempts:     maxRetryAttempts,
		sackVecLength:        sackVecLength,
		sackVecMask:          mask,
	}
}

func (c *RetryController) state(dest int) *retryState {
	s, ok := c.states[dest]
	if !ok {
		s = &retryState{kind: RetryIdle}
		c.states[dest] = s
	}
	return s
}

// Kind reports the current retry state for dest.
func (c *RetryController) Kind(dest int) RetryKind { return c.state(dest).kind }

// OnHeadInjected registers a retry-timer expiration for a newly injected
// (or retransmitted) head flit, per §4.3's "sequence-number assignment".
func (c *RetryController) OnHeadInjected(now Cycle, dest int, seq int64) {
	c.retryTimerQueue = append(c.retryTimerQueue, timerRecord{expiry: now + c.retryTimerTimeout, dest: dest, seqNum: seq})
}

// OnAckAwaitingResponse starts the response timer for a READ_REQUEST /
// RGET_REQUEST whose ACK arrived before its protocol response (§4.7).
func (c *RetryController) OnAckAwaitingResponse(now Cycle, dest int, seq int64) {
	c.responseTimerQueue = append(c.responseTimerQueue, timerRecord{expiry: now + c.responseTimerTimeout, dest: dest, seqNum: seq})
}

// ReadyToReplay reports whether dest is at the front of the pending-replay
// queue with a NACK/SACK-based replay in progress (§4.3 priority rule 1).
func (c *RetryController) ReadyToReplay() (int, bool) {
	if len(c.pendingNackReplays) == 0 {
		return 0, false
	}
	dest := c.pendingNackReplays[0]
	k := c.state(dest).kind
	return dest, k == RetryNackBased || k == RetrySackBased
}

func (c *RetryController) enqueueReplay(dest int) {
	for _, d := range c.pendingNackReplays {
		if d == dest {
			return
		}
	}
	c.pendingNackReplays = append(c.pendingNackReplays, dest)
}

func (c *RetryController) dequeueReplay(dest int) {
	for i, d := range c.pendingNackReplays {
		if d == dest {
			c.pendingNackReplays = append(c.pendingNackReplays[:i], c.pendingNackReplays[i+1:]...)
			return
		}
	}
}

// OnNack handles receipt of a packet carrying nack_seq_num = n (ack_seq_num
// != n, handled by the caller): set up or extend a NACK-based replay (§4.5).
func (c *RetryController) OnNack(opb *OPB, dest int, n int64) error {
	s := c.state(dest)
	if s.kind == RetryTimeoutBased {
		// Timeout-based replay is not interrupted by NACKs.
		return nil
	}
	if s.kind == RetryNackBased || s.kind == RetrySackBased {
		// A NACK arriving mid-replay updates where the replay restarts
		// once the in-progress packet finishes.
		s.pendingNackSeqNum = true
		s.pendingNackSeqNumValue = n
		return nil
	}
	_, idx, err := opb.FindBySeq(dest, n+1)
	if err != nil {
		return err
	}
	s.kind = RetryNackBased
	s.opbIndex = idx
	c.enqueueReplay(dest)
	return nil
}

// OnSack handles receipt of (ack_seq_num, sack_vec) for dest: sets up or
// merges into a SACK-based replay (§4.5).
func (c *RetryController) OnSack(opb *OPB, dest int, ackSeqNum int64, sackVec uint64) error {
	s := c.state(dest)
	if s.kind == RetryTimeoutBased {
		return nil
	}
	if s.kind == RetrySackBased {
		return c.mergeSack(dest, ackSeqNum, sackVec)
	}
	_, idx, err := opb.FindBySeq(dest, ackSeqNum+1)
	if err != nil {
		return err
	}
	s.kind = RetrySackBased
	s.opbIndex = idx
	s.seqNumInProgress = ackSeqNum + 1
	s.origAckSeqNum = ackSeqNum
	s.sackVec = sackVec & c.sackVecMask
	s.origSackVec = s.sackVec
	c.enqueueReplay(dest)
	return nil
}

// mergeSack shifts a newly arrived SACK vector to the in-progress base and
// ORs it into the existing vector (§4.5 "Merging"). It is a protocol error
// for the merge to clear a previously-set acked bit.
func (c *RetryController) mergeSack(dest int, ackSeqNum int64, sackVec uint64) error {
	s := c.state(dest)
	// Bit 0 of s.sackVec is seqNumInProgress; bit 0 of sackVec is ackSeqNum+1.
	shift := ackSeqNum + 1 - s.seqNumInProgress
	// covered marks positions the new SACK does not describe bit by bit:
	// below its cumulative ack, or beyond its window.
	var shifted, covered uint64
	switch {
	case shift >= 64 || shift <= -64:
		covered = ^uint64(0)
	case shift >= 0:
		shifted = sackVec << uint(shift)
		covered = (uint64(1) << uint(shift)) - 1
	default:
		shifted = sackVec >> uint(-shift)
		covered = ^(c.sackVecMask >> uint(-shift))
	}
	shifted &= c.sackVecMask
	if (shifted|covered)&s.sackVec != s.sackVec {
		return protocolErrorf("SACK merge for dest %d would clear a previously-acked bit", dest)
	}
	s.sackVec |= shifted
	return nil
}

// NextGapToRetransmit returns the sequence number of the next gap a SACK
// replay must resend, or false once the vector is exhausted (§4.5): the LSB
// of sack_vec corresponds to ack_seq_num+1; each 1-bit marks a received
// packet to drop from OPB, each 0-bit is a gap to retransmit.
func (c *RetryController) NextGapToRetransmit(opb *OPB, sc *SimulationContext, dest int) (int64, bool) {
	s := c.state(dest)
	if s.kind != RetrySackBased {
		return 0, false
	}
	for {
		if s.sackVec == 0 {
			return 0, false
		}
		if s.sackVec&1 == 0 {
			return s.seqNumInProgress, true
		}
		// bit set: packet already received, retire it and advance past
		// the run of set bits to the next gap (or the vector's end).
		if pkt, idx, err := opb.FindBySeq(dest, s.seqNumInProgress); err == nil {
			c.markPacketAcked(sc.Now, pkt)
			if pkt.retireReady() {
				opb.RemoveAt(sc, dest, idx)
			}
		}
		run := bits.TrailingZeros64(^s.sackVec)
		if run >= 64 {
			// Every remaining bit is set: no gap visible in this window.
			s.sackVec = 0
			return 0, false
		}
		s.sackVec >>= uint(run)
		s.seqNumInProgress += int64(run)
	}
}

// NackReplayTarget returns the sequence number a NACK-based replay for dest
// should resend next, i.e. the packet at the OPB index recorded when the
// replay was set up (§4.5).
func (c *RetryController) NackReplayTarget(opb *OPB, dest int) (int64, bool) {
	s := c.state(dest)
	if s.kind != RetryNackBased {
		return 0, false
	}
	pkts := opb.Packets(dest)
	if s.opbIndex < 0 || s.opbIndex >= len(pkts) {
		return 0, false
	}
	return pkts[s.opbIndex].SeqNum, true
}

// CompleteReplayPacket is called once the packet currently being replayed
// (NACK- or SACK-based) has been fully retransmitted: it advances past the
// packet, applies any pending NACK restart, and exits replay mode if the
// gap list (or NACK target) is exhausted.
func (c *RetryController) CompleteReplayPacket(now Cycle, opb *OPB, dest int) {
	s := c.state(dest)
	switch s.kind {
	case RetryNackBased:
		if s.pendingNackSeqNum {
			n := s.pendingNackSeqNumValue
			s.pendingNackSeqNum = false
			if _, idx, err := opb.FindBySeq(dest, n+1); err == nil {
				s.opbIndex = idx
				return
			}
		}
		c.finishReplay(now, opb, dest)
	case RetrySackBased:
		s.seqNumInProgress++
		s.sackVec >>= 1
		if s.sackVec == 0 {
			c.finishReplay(now, opb, dest)
		}
	}
}

// finishReplay returns dest to Idle and applies any ACK that arrived and
// was pended while the replay was in progress (§4.5, §3 "pending_ack").
func (c *RetryController) finishReplay(now Cycle, opb *OPB, dest int) {
	s := c.state(dest)
	c.dequeueReplay(dest)
	pending := s.pendingAck
	val := s.pendingAckValue
	*s = retryState{kind: RetryIdle}
	if pending {
		c.applyAck(now, opb, dest, val)
	}
}

// markPacketAcked flags p as acked and, if it is a READ_REQUEST/RGET_REQUEST
// still awaiting its protocol response, arms the response timer now. The
// response timer's clock starts when the ACK for the packet arrives, not at
// injection time (§4.5, §5: "second lifetime, set when ACK ... arrives").
func (c *RetryController) markPacketAcked(now Cycle, p *OpbPacket) {
	if p.AckReceived {
		return
	}
	p.AckReceived = true
	if p.needsResponse() && !p.ResponseReceived {
		c.OnAckAwaitingResponse(now, p.Dest, p.SeqNum)
	}
}

// applyAck marks every packet for dest with seq <= ackSeqNum as acked.
func (c *RetryController) applyAck(now Cycle, opb *OPB, dest int, ackSeqNum int64) {
	for _, p := range opb.Packets(dest) {
		if p.SeqNum <= ackSeqNum {
			c.markPacketAcked(now, p)
		}
	}
}

// OnAck processes a cumulative ACK for dest (§4.5: "ACKs that arrive for
// this destination while a NACK replay is in progress are not applied
// immediately"). Returns true if the ack was deferred.
func (c *RetryController) OnAck(opb *OPB, sc *SimulationContext, dest int, ackSeqNum int64) (deferred bool) {
	s := c.state(dest)
	if s.kind == RetryNackBased || s.kind == RetrySackBased {
		if !s.pendingAck || ackSeqNum > s.pendingAckValue {
			s.pendingAck = true
			s.pendingAckValue = ackSeqNum
		}
		return true
	}
	c.applyAck(sc.Now, opb, dest, ackSeqNum)
	opb.RetireReadyFromFront(sc, dest)
	return false
}

// ProcessTimeouts pops every retry-timer record that has expired, locates
// its packet in the OPB (skipping ones already acked), and marks the
// destination as TIMEOUT_BASED. It returns the destinations that need a
// retransmission started this cycle.
func (c *RetryController) ProcessTimeouts(now Cycle, opb *OPB) ([]int, error) {
	var due []timerRecord
	var keep []timerRecord
	for _, r := range c.retryTimerQueue {
		if r.expiry <= now {
			due = append(due, r)
		} else {
			keep = append(keep, r)
		}
	}
	c.retryTimerQueue = keep

	var destsNeedingRetransmit []int
	for _, r := range due {
		pkt, _, err := opb.FindBySeq(r.dest, r.seqNum)
		if err != nil {
			// Already acked and retired; the timer simply fires late.
			continue
		}
		if pkt.AckReceived {
			continue
		}
		s := c.state(r.dest)
		if s.kind != RetryTimeoutBased {
			s.kind = RetryTimeoutBased
		}
		c.RetryTimeouts++
		destsNeedingRetransmit = append(destsNeedingRetransmit, r.dest)
	}
	return destsNeedingRetransmit, nil
}

// ProcessResponseTimeouts reports a fatal error for any response-timer
// record whose packet still has no response (§4.5, §7): the ACK arrived but
// the expected READ_REPLY/RGET_GET_REQUEST never did.
func (c *RetryController) ProcessResponseTimeouts(now Cycle, opb *OPB) error {
	var keep []timerRecord
	for _, r := range c.responseTimerQueue {
		if r.expiry > now {
			keep = append(keep, r)
			continue
		}
		if pkt, _, err := opb.FindBySeq(r.dest, r.seqNum); err == nil && !pkt.ResponseReceived {
			return protocolErrorf("response timer expired for already-ACKed request seq %d to dest %d", r.seqNum, r.dest)
		}
	}
	c.responseTimerQueue = keep
	return nil
}

// RetransmitPacket builds a fresh wire copy of pkt for retransmission: new
// itime/expire_time, attempt count bumped, and VC invalidated to force
// reselection on the next try (§4.5). It returns an error once
// max_retry_attempts is exceeded (§7, fatal).
func (c *RetryController) RetransmitPacket(now Cycle, pkt *OpbPacket) ([]*flit.Flit, error) {
	pkt.TransmitAttemptsIncrement()
	if pkt.Flits[0].TransmitAttempts > c.maxRetryAttempts {
		return nil, protocolErrorf("packet seq %d to dest %d exceeded max_retry_attempts (%d)", pkt.SeqNum, pkt.Dest, c.maxRetryAttempts)
	}
	out := make([]*flit.Flit, 0, len(pkt.Flits))
	for i, f := range pkt.Flits {
		cp := f.Clone()
		cp.ITime = timeFromCycle(now)
		cp.ExpireTime = timeFromCycle(now + c.retryTimerTimeout)
		if i == 0 {
			cp.VC = -1 // force reselection on the head
		} else if i == 1 {
			// first body flit re-inherits the new head's VC once assigned
		}
		out = append(out, cp)
	}
	c.OnHeadInjected(now, pkt.Dest, pkt.SeqNum)
	return out, nil
}

// TransmitAttemptsIncrement bumps the attempt counter on every flit of the
// packet, mirroring the reference's per-packet transmit_attempts field.
func (p *OpbPacket) TransmitAttemptsIncrement() {
	for _, f := range p.Flits {
		f.TransmitAttempts++
	}
}
