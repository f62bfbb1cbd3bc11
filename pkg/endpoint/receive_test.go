package endpoint

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/booksim-go/endpoint/pkg/flit"
)

func TestReceiveTracker_InOrderAdmitted(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	outcome := tr.OnTail(0, 1, 1, true, true)
	assert.Equal(t, OutcomeInOrderAdmitted, outcome)
	assert.Equal(t, 1, tr.GoodPacketsReceived)

	typ, ack, _ := tr.ReadyToAck(1)
	assert.Equal(t, AckTypeAck, typ)
	assert.Equal(t, int64(1), ack)
}

func TestReceiveTracker_InOrderDroppedForPutQueueSetsNack(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	outcome := tr.OnTail(0, 1, 1, true, false)
	assert.Equal(t, OutcomeInOrderDroppedForPutQueue, outcome)

	typ, ack, _ := tr.ReadyToAck(1)
	assert.Equal(t, AckTypeNack, typ)
	assert.Equal(t, int64(0), ack, "the dropped packet must not advance last_valid_seq_num_recvd")
}

func TestReceiveTracker_DuplicateDoesNotDowngradeOutstandingNack(t *testing.T) {
	tr := NewReceiveTracker(false, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	// seq 3 arrives out of order (gap at seq 2); with SACK disabled this
	// forces a NACK.
	tr.OnTail(0, 1, 3, true, true)
	require.Equal(t, AckTypeNack, tr.State(1).OutstandingAckType)

	outcome := tr.OnTail(0, 1, 1, true, true) // a duplicate retransmit of seq 1
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, AckTypeNack, tr.State(1).OutstandingAckType, "a duplicate must not clobber an outstanding NACK with an ACK")
	assert.Equal(t, 1, tr.DuplicatePacketsReceived)
}

func TestReceiveTracker_OutOfOrderWithinSackWindowIsSacked(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	outcome := tr.OnTail(0, 1, 3, true, true) // gap at seq 2, seq 3 within the SACK window
	assert.Equal(t, OutcomeOutOfOrderSacked, outcome)

	typ, ack, vec := tr.ReadyToAck(1)
	assert.Equal(t, AckTypeSack, typ)
	assert.Equal(t, int64(1), ack)
	assert.Equal(t, uint64(0b10), vec, "bit 1 (seq 3 = expected+1) should be set")
}

func TestReceiveTracker_SackVectorDrainsOnGapFill(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	tr.OnTail(0, 1, 3, true, true) // seq 2 missing, seq 3 sacked

	outcome := tr.OnTail(0, 1, 2, true, true) // fills the gap
	assert.Equal(t, OutcomeInOrderAdmitted, outcome)

	_, ack, vec := tr.ReadyToAck(1)
	assert.Equal(t, int64(3), ack, "filling the gap should walk the cumulative ack past the sacked seq 3 too")
	assert.Equal(t, uint64(0), vec)
}

func TestReceiveTracker_OutOfOrderBeyondSackWindowIsNacked(t *testing.T) {
	tr := NewReceiveTracker(true, 2, 4)
	tr.OnTail(0, 1, 1, true, true)
	outcome := tr.OnTail(0, 1, 10, true, true) // gap far larger than sackVecLength=2
	assert.Equal(t, OutcomeOutOfOrderNacked, outcome)
	assert.Equal(t, 1, tr.NacksSent)
}

func TestReceiveTracker_SackDisabledAlwaysNacksGaps(t *testing.T) {
	tr := NewReceiveTracker(false, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	outcome := tr.OnTail(0, 1, 3, true, true)
	assert.Equal(t, OutcomeOutOfOrderNacked, outcome)
}

func TestReceiveTracker_AlreadyNackedSuppressesRepeatNacks(t *testing.T) {
	tr := NewReceiveTracker(false, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	tr.OnTail(0, 1, 5, true, true) // first nack for this gap
	require.Equal(t, 1, tr.NacksSent)

	tr.OnTail(0, 1, 6, true, true) // same gap persists, not the exact expected seq
	assert.Equal(t, 1, tr.NacksSent, "a repeat nack for an unresolved gap must be suppressed")
}

func TestReceiveTracker_MarkAckedResetsWindowState(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	tr.OnTail(0, 1, 1, true, true)
	tr.OnTail(0, 1, 2, true, true)

	tr.MarkAcked(10, 1)
	s := tr.State(1)
	assert.Equal(t, int64(2), s.LastValidSeqNumRecvdAndAckd)
	assert.Equal(t, int64(2), s.LastValidSeqNumRecvdAndReadyToAck)
	assert.Equal(t, 0, s.PacketsRecvdSinceLastAck)
	v, ok := s.TimeLastAckSent.Get()
	require.True(t, ok)
	assert.Equal(t, Cycle(10), v)
}

func TestReceiveTracker_CheckFlitAcceptsMatchingBodyFlits(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	pid := uuid.New()
	head := &flit.Flit{Src: 0, PacketID: pid, PacketSeqNum: 5, Head: true, Size: 3}
	require.NoError(t, tr.CheckFlit(head))

	body := &flit.Flit{Src: 0, PacketID: pid, PacketSeqNum: 5}
	require.NoError(t, tr.CheckFlit(body))

	tail := &flit.Flit{Src: 0, PacketID: pid, PacketSeqNum: 5, Tail: true}
	require.NoError(t, tr.CheckFlit(tail))
}

func TestReceiveTracker_CheckFlitRejectsMismatchedSeqNum(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	pid := uuid.New()
	head := &flit.Flit{Src: 0, PacketID: pid, PacketSeqNum: 5, Head: true, Size: 2}
	require.NoError(t, tr.CheckFlit(head))

	wrongSeq := &flit.Flit{Src: 0, PacketID: pid, PacketSeqNum: 6, Tail: true}
	err := tr.CheckFlit(wrongSeq)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestReceiveTracker_CheckFlitRejectsBodyFlitWithNoTrackedHead(t *testing.T) {
	tr := NewReceiveTracker(true, 8, 4)
	orphan := &flit.Flit{Src: 0, PacketSeqNum: 1}
	err := tr.CheckFlit(orphan)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
