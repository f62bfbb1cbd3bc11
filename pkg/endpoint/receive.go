package endpoint

import (
	"github.com/google/uuid"

	"github.com/booksim-go/endpoint/pkg/flit"
)

// AckType is the outstanding acknowledgement kind queued for a source,
// ack_resp_state in §3 ({Ack, Nack, Sack}).
type AckType int

const (
	AckTypeAck AckType = iota
	AckTypeNack
	AckTypeSack
)

// ReceiveState is the per-source receive ACK state from §3.
type ReceiveState struct {
	LastValidSeqNumRecvd              int64
	LastValidSeqNumRecvdAndAckd       int64
	LastValidSeqNumRecvdAndReadyToAck int64

	TimeLastValidUnackedPacketRecvd OptCycle
	PacketsRecvdSinceLastAck        int

	OutstandingAckType AckType
	AlreadyNacked      bool

	TimeLastValidPacketRecvd OptCycle
	TimeLastAckSent          OptCycle

	SACKVec uint64

	// GoodPacketsReceived is cumulative for this source alone, feeding the
	// fairness sampler's per-source delta (AckEmitter.SampleFairness).
	GoodPacketsReceived int
}

// invariant checks the §8 quantified invariant for this source.
func (s *ReceiveState) invariant() bool {
	return s.LastValidSeqNumRecvdAndAckd <= s.LastValidSeqNumRecvdAndReadyToAck &&
		s.LastValidSeqNumRecvdAndReadyToAck <= s.LastValidSeqNumRecvd
}

// ReceiveOutcome is what UpdateAckAndReadResponseState decided to do with one
// received packet tail (§4.6).
type ReceiveOutcome int

const (
	OutcomeInOrderAdmitted ReceiveOutcome = iota
	OutcomeInOrderDroppedForPutQueue
	OutcomeDuplicate
	OutcomeOutOfOrderSacked
	OutcomeOutOfOrderNacked
)

// ReceiveTracker implements §4.6 (UpdateAckAndReadResponseState) and §4.8
// (setupNackState) for every source this endpoint receives from.
type ReceiveTracker struct {
	states   map[int]*ReceiveState
	tracking map[int]*trackingState

	sackEnabled                bool
	sackVecLength              uint
	maxReceivablePktsAfterDrop int

	NacksSent int
	SacksSent int

	DuplicatePacketsReceived int
	GoodPacketsReceived      int
	BadPacketsReceived       int
}

// trackingState shadows the reference's per-source _incoming_packet_src/pid/
// seq/flit_countdown/flit_total debug fields: every non-head flit of an
// in-flight packet must agree with the head it followed on source, packet
// id, and sequence number, or the flit stream has desynchronized.
type trackingState struct {
	active        bool
	src           int
	packetID      uuid.UUID
	seqNum        int64
	flitCountdown int
	flitTotal     int
}

// NewReceiveTracker builds a tracker from the SACK configuration (§6).
func NewReceiveTracker(sackEnabled bool, sackVecLength uint, maxReceivablePktsAfterDrop int) *ReceiveTracker {
	return &ReceiveTracker{
		states:                    make(map[int]*ReceiveState),
		tracking:                  make(map[int]*trackingState),
		sackEnabled:               sackEnabled,
		sackVecLength:             sackVecLength,
		maxReceivablePktsAfterDrop: maxReceivablePktsAfterDrop,
	}
}

// CheckFlit validates f against the in-flight packet tracked for its source,
// one of the fatal protocol errors in §7 ("non-head flit mismatches
// src/pid/seq with head"). Every flit updates or starts the tracked state;
// callers should invoke this before OnTail.
func (t *ReceiveTracker) CheckFlit(f *flit.Flit) error {
	ts, ok := t.tracking[f.Src]
	if !ok {
		ts = &trackingState{}
		t.tracking[f.Src] = ts
	}

	if f.Head {
		*ts = trackingState{
			active:        !f.Tail,
			src:           f.Src,
			packetID:      f.PacketID,
			seqNum:        f.PacketSeqNum,
			flitCountdown: f.Size - 1,
			flitTotal:     f.Size,
		}
		return nil
	}

	if !ts.active {
		return protocolErrorf("non-head flit from src %d with no tracked head in flight", f.Src)
	}
	if ts.src != f.Src || ts.packetID != f.PacketID || ts.seqNum != f.PacketSeqNum {
		return protocolErrorf("non-head flit from src %d mismatches tracked head (packet_id=%v seq=%d)", f.Src, ts.packetID, ts.seqNum)
	}

	ts.flitCountdown--
	if f.Tail || ts.flitCountdown <= 0 {
		ts.active = false
	}
	return nil
}

func (t *ReceiveTracker) State(src int) *ReceiveState {
	s, ok := t.states[src]
	if !ok {
		// Sequence numbers are 1-based (§3: "first value 1"), so "nothing
		// received yet" sits at 0, one below the first valid sequence
		// number.
		s = &ReceiveState{
			OutstandingAckType:                AckTypeAck,
			LastValidSeqNumRecvd:              0,
			LastValidSeqNumRecvdAndAckd:       0,
			LastValidSeqNumRecvdAndReadyToAck: 0,
		}
		t.states[src] = s
	}
	return s
}

// Expected returns the next sequence number this tracker expects from src.
func (t *ReceiveTracker) Expected(src int) int64 { return t.State(src).LastValidSeqNumRecvd + 1 }

// OnTail runs §4.6's classification for a packet tail from src carrying
// seq, reporting dataBearing for the admission test and hasPutSpace as the
// put-queue admission check's outcome (computed by the caller, since the
// put queue is a separate component, §4.9).
func (t *ReceiveTracker) OnTail(now Cycle, src int, seq int64, dataBearing bool, hasPutSpace bool) ReceiveOutcome {
	s := t.State(src)
	expected := s.LastValidSeqNumRecvd + 1

	switch {
	case seq == expected:
		if dataBearing && !hasPutSpace {
			t.setupNack(now, src, seq)
			return OutcomeInOrderDroppedForPutQueue
		}
		s.LastValidSeqNumRecvd = seq
		s.AlreadyNacked = false
		s.OutstandingAckType = AckTypeAck
		s.TimeLastValidPacketRecvd = Set(now)
		s.PacketsRecvdSinceLastAck++
		s.GoodPacketsReceived++
		t.GoodPacketsReceived++

		if t.sackEnabled {
			s.SACKVec >>= 1
			for s.SACKVec&1 == 1 {
				s.SACKVec >>= 1
				s.LastValidSeqNumRecvd++
			}
		}
		return OutcomeInOrderAdmitted

	case seq <= s.LastValidSeqNumRecvd:
		if s.OutstandingAckType != AckTypeNack && s.OutstandingAckType != AckTypeSack {
			s.OutstandingAckType = AckTypeAck
		}
		t.DuplicatePacketsReceived++
		return OutcomeDuplicate

	default:
		gap := uint(seq - expected)
		if t.sackEnabled && gap < t.sackVecLength {
			s.SACKVec |= 1 << gap
			s.OutstandingAckType = AckTypeSack
			t.SacksSent++
			return OutcomeOutOfOrderSacked
		}
		t.setupNack(now, src, seq)
		return OutcomeOutOfOrderNacked
	}
}

// setupNack implements §4.8: the first NACK for a gap is recorded; repeats
// are suppressed (already_nacked).
func (t *ReceiveTracker) setupNack(now Cycle, src int, seq int64) {
	s := t.State(src)
	expected := s.LastValidSeqNumRecvd + 1
	if !s.AlreadyNacked || seq == expected {
		s.OutstandingAckType = AckTypeNack
		s.AlreadyNacked = true
		t.NacksSent++
	}
	t.BadPacketsReceived++
}

// ReadyToAck reports the (type, cumulative seq, sack vec) that should be
// emitted next for src, for the piggyback/standalone ACK emitter (§4.12).
func (t *ReceiveTracker) ReadyToAck(src int) (AckType, int64, uint64) {
	s := t.State(src)
	return s.OutstandingAckType, s.LastValidSeqNumRecvd, s.SACKVec
}

// MarkAcked records that an ACK for src has just been sent (§4.12).
func (t *ReceiveTracker) MarkAcked(now Cycle, src int) {
	s := t.State(src)
	s.LastValidSeqNumRecvdAndAckd = s.LastValidSeqNumRecvd
	s.LastValidSeqNumRecvdAndReadyToAck = s.LastValidSeqNumRecvd
	s.PacketsRecvdSinceLastAck = 0
	s.TimeLastAckSent = Set(now)
	s.TimeLastValidUnackedPacketRecvd = None()
}
