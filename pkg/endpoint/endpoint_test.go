package endpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/booksim-go/endpoint/pkg/config"
	"github.com/booksim-go/endpoint/pkg/endpoint/congestion"
	"github.com/booksim-go/endpoint/pkg/fabric"
	"github.com/booksim-go/endpoint/pkg/flit"
	"github.com/booksim-go/endpoint/pkg/trafficmgr"
)

// fakeNet is a minimal fabric.Network double: it routes every written flit
// straight into its destination's inbox with no latency or credit model, so
// tests can drive two endpoints through a couple of Step calls deterministically.
type fakeNet struct {
	inbox map[int][]*flit.Flit
}

func newFakeNet() *fakeNet { return &fakeNet{inbox: make(map[int][]*flit.Flit)} }

func (n *fakeNet) ReadFlit(subnet, node int) (*flit.Flit, bool) {
	q := n.inbox[node]
	if len(q) == 0 {
		return nil, false
	}
	n.inbox[node] = q[1:]
	return q[0], true
}

func (n *fakeNet) ReadCredit(subnet, node int) (fabric.Credit, bool) { return fabric.Credit{}, false }
func (n *fakeNet) WriteFlit(subnet, node int, f *flit.Flit)          { n.inbox[f.Dest] = append(n.inbox[f.Dest], f) }
func (n *fakeNet) WriteCredit(subnet, node int, c fabric.Credit)     {}
func (n *fakeNet) InjectLatency(node int) int                       { return 0 }
func (n *fakeNet) InjectCreditLatency(node int) int                 { return 0 }

// onceInjector generates a single WriteRequest intent, then IntentNone forever.
type onceInjector struct{ fired bool }

func (o *onceInjector) ShouldGenerate(cl int, now int64) trafficmgr.GenerateIntent {
	if o.fired {
		return trafficmgr.IntentNone
	}
	o.fired = true
	return trafficmgr.IntentWriteRequest
}
func (o *onceInjector) IntendedLoad(cl int) float64 { return 0 }

// fixedPeer always routes to the same destination node.
type fixedPeer struct{ peer int }

func (f fixedPeer) Destination(src, cl int) int { return f.peer }

func testConfig() *config.Config {
	return &config.Config{
		HostControlPolicy:         "none",
		EnableSACK:                true,
		SackVecLength:             8,
		MaxReceivablePktsAfterDrop: 128,
		OpbMaxPktOccupancy:        16,
		OpbWays:                   4,
		OpbDestIdxBits:            4,
		OpbSeqNumIdxBits:          4,
		RetryTimerTimeout:         1000,
		ResponseTimerTimeout:      2000,
		MaxRetryAttempts:          8,
		XactionLimitPerDest:       16,
		XactionSizeLimitPerDestKB: 1024,
		GetLimitPerDest:           16,
		RgetReqLimitPerDest:       16,
		GetInboundSizeLimitPerDestKB:  1024,
		RgetInboundSizeLimitPerDestKB: 1024,
		GlobalGetLimit:                1024,
		GlobalGetReqSizeLimitKB:       1024,
		ReadRequestSize:               4,
		CyclesBeforeStandaloneAck:     1000,
		PacketsBeforeStandaloneAck:    1,
		PutWaitBufSize:                128,
		LoadBalanceBufSize:            0,
		LoadBalanceQueueEnabled:       false,
		SpeculativeAckQueueSize:       4,
		SpeculativeAckEnabled:         false,
		FairnessSamplingTime:          0,
		FairnessResetPeriod:           0,
		FairnessDiffThreshold:         8,
		RgetConvertNumSamples:         2,
	}
}

func TestEndpoint_SingleWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg0, cfg1 := testConfig(), testConfig()

	ep0 := New(0, 0, sc, cfg0, net, &onceInjector{}, fixedPeer{1}, nil, congestion.None{})
	ep1 := New(1, 0, sc, cfg1, net, nil, fixedPeer{0}, nil, congestion.None{})

	require.NoError(t, ep0.Step(ctx)) // node 0 injects a WRITE_REQUEST to node 1
	require.NoError(t, ep1.Step(ctx)) // node 1 admits it and schedules a standalone ACK

	assert.Equal(t, 1, ep0.PacketsSent)
	assert.Equal(t, 1, ep1.Stats().GoodPacketsReceived)
	assert.Equal(t, cfg0.ReadRequestSize, ep1.Stats().BytesDelivered)
	assert.Equal(t, 1, ep0.Stats().OpbOccupancy, "ack not yet processed by node 0")

	sc.Now = 1
	require.NoError(t, ep0.Step(ctx)) // node 0 receives the ACK and retires the packet

	assert.Equal(t, 0, ep0.Stats().OpbOccupancy)
}

func TestEndpoint_NackTriggersReplayOfExactPacket(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()

	ep0 := New(0, 0, sc, cfg, net, nil, fixedPeer{1}, nil, congestion.None{})

	pkt0 := &OpbPacket{SeqNum: 1, Dest: 1, Type: flit.WriteRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: 1, Dest: 1, Src: 0}}}
	pkt1 := &OpbPacket{SeqNum: 2, Dest: 1, Type: flit.WriteRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: 2, Dest: 1, Src: 0}}}
	require.NoError(t, ep0.opb.Insert(pkt0))
	require.NoError(t, ep0.opb.Insert(pkt1))
	ep0.retry.OnHeadInjected(sc.Now, 1, 1)
	ep0.retry.OnHeadInjected(sc.Now, 1, 2)

	// node 1 observed a gap and NACKed seq 1, asking node 0 to resend seq 2.
	nack := &flit.Flit{Src: 1, Dest: 0, AckSeqNum: flit.NoSeqNum, NackSeqNum: 1}
	net.WriteFlit(0, 1, nack)

	require.NoError(t, ep0.Step(ctx))

	assert.Equal(t, 2, ep0.Stats().OpbOccupancy, "neither packet is acked yet, replay must not remove them")
	assert.Equal(t, RetryIdle, ep0.retry.Kind(1), "a single-packet NACK-based replay completes within one driveReplay call")

	resent, ok := net.ReadFlit(0, 1)
	require.True(t, ok, "the replay should have written a retransmission onto the fabric")
	assert.Equal(t, int64(2), resent.PacketSeqNum)
	assert.Equal(t, 1, resent.TransmitAttempts)
}

func TestEndpoint_ReadRequestAdmissionQueuesReadReply(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()
	cfg.ReqProcessingLatency = 0

	ep1 := New(1, 0, sc, cfg, net, nil, fixedPeer{0}, nil, congestion.None{})

	req := &flit.Flit{Src: 0, Dest: 1, Head: true, Tail: true, Size: 1, Type: flit.ReadRequest, PacketSeqNum: 1, AckSeqNum: flit.NoSeqNum, NackSeqNum: flit.NoSeqNum, ResponseToSeqNum: flit.NoSeqNum, ReadRequestedDataSize: 4}
	require.NoError(t, ep1.ReceiveFlit(ctx, req))
	require.Len(t, ep1.pendingReplies, 1, "admitting a READ_REQUEST must queue a READ_REPLY")

	require.NoError(t, ep1.Step(ctx))
	reply, ok := net.ReadFlit(0, 0)
	require.True(t, ok, "node 1 should have emitted the queued READ_REPLY as a GroupReadReply candidate")
	assert.Equal(t, flit.ReadReply, reply.Type)
	assert.Equal(t, 0, reply.Dest)
	assert.Equal(t, int64(1), reply.ResponseToSeqNum, "the reply must reference the original READ_REQUEST's seq num")
	assert.Empty(t, ep1.pendingReplies)
}

func TestEndpoint_ReadRequestRetiresOnlyAfterAckAndResponse(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()
	cfg.RspProcessingLatency = 0

	ep0 := New(0, 0, sc, cfg, net, nil, fixedPeer{1}, nil, congestion.None{})
	pkt := &OpbPacket{SeqNum: 1, Dest: 1, Type: flit.ReadRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: 1, Dest: 1, Src: 0}}}
	require.NoError(t, ep0.opb.Insert(pkt))
	ep0.retry.OnHeadInjected(sc.Now, 1, 1)

	// the response timer is armed below by the ack itself (§4.5/§5), not at
	// injection: this ack both retires the transport layer's obligation and
	// starts the clock on the protocol response that must still follow.
	ack := &flit.Flit{Src: 1, Dest: 0, AckSeqNum: 1, NackSeqNum: flit.NoSeqNum}
	require.NoError(t, ep0.ReceiveFlit(ctx, ack))
	assert.Equal(t, 1, ep0.Stats().OpbOccupancy, "the ack alone must not retire a READ_REQUEST")

	reply := &flit.Flit{Src: 1, Dest: 0, Head: true, Tail: true, Size: 1, Type: flit.ReadReply, PacketSeqNum: 1, ResponseToSeqNum: 1, AckSeqNum: flit.NoSeqNum, NackSeqNum: flit.NoSeqNum}
	require.NoError(t, ep0.ReceiveFlit(ctx, reply))
	assert.Equal(t, 1, ep0.Stats().OpbOccupancy, "the response mark is deferred by rsp_processing_latency")

	require.NoError(t, ep0.Step(ctx)) // drains the pending response mark and retires the packet
	assert.Equal(t, 0, ep0.Stats().OpbOccupancy)
}

func TestEndpoint_ResponseTimerArmsOnAckNotInjection(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()
	cfg.ResponseTimerTimeout = 50

	ep0 := New(0, 0, sc, cfg, net, nil, fixedPeer{1}, nil, congestion.None{})
	pkt := &OpbPacket{SeqNum: 1, Dest: 1, Type: flit.ReadRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: 1, Dest: 1, Src: 0}}}
	require.NoError(t, ep0.opb.Insert(pkt))
	ep0.retry.OnHeadInjected(sc.Now, 1, 1)

	// Long past response_timer_timeout since injection, but no ACK has
	// arrived yet: the response timer must not have started, so this must
	// not be a fatal timeout.
	sc.Now = 1000
	_, err := ep0.ProcessTimeouts(ctx)
	require.NoError(t, err, "the response timer only starts once the ack arrives, not at injection")

	ack := &flit.Flit{Src: 1, Dest: 0, AckSeqNum: 1, NackSeqNum: flit.NoSeqNum}
	require.NoError(t, ep0.ReceiveFlit(ctx, ack))

	// Now that the ack has armed the timer, it must fire after
	// response_timer_timeout cycles without the protocol response.
	sc.Now = 1051
	_, err = ep0.ProcessTimeouts(ctx)
	assert.Error(t, err, "the response timer should now be fatal since it started at the ack, not at injection")
	assert.True(t, IsProtocolError(err))
}

func TestEndpoint_RgetRequestGeneratesRgetGetRequestThenReply(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfgInitiator, cfgPuller := testConfig(), testConfig()
	cfgInitiator.ReqProcessingLatency, cfgPuller.RgetProcessingLatency = 0, 0

	initiator := New(0, 0, sc, cfgInitiator, net, nil, fixedPeer{1}, nil, congestion.None{})
	puller := New(1, 0, sc, cfgPuller, net, nil, fixedPeer{0}, nil, congestion.None{})

	rgetReq := &flit.Flit{Src: 0, Dest: 1, Head: true, Tail: true, Size: 1, Type: flit.RgetRequest, PacketSeqNum: 1, AckSeqNum: flit.NoSeqNum, NackSeqNum: flit.NoSeqNum, ResponseToSeqNum: flit.NoSeqNum, ReadRequestedDataSize: 8}
	require.NoError(t, puller.ReceiveFlit(ctx, rgetReq))
	require.Len(t, puller.pendingRgetGet, 1, "admitting an RGET_REQUEST must queue an RGET_GET_REQUEST")

	require.NoError(t, puller.Step(ctx))
	getReq, ok := net.ReadFlit(0, 0)
	require.True(t, ok, "the puller should have emitted the queued RGET_GET_REQUEST")
	assert.Equal(t, flit.RgetGetRequest, getReq.Type)
	assert.Equal(t, int64(1), getReq.ResponseToSeqNum, "the pull must reference the original RGET_REQUEST's seq num")

	require.NoError(t, initiator.ReceiveFlit(ctx, getReq))
	require.Len(t, initiator.pendingReplies, 1, "admitting an RGET_GET_REQUEST must queue an RGET_GET_REPLY")
	assert.Equal(t, flit.RgetGetReply, initiator.pendingReplies[0].typ)
}

func TestEndpoint_CumulativeAckRetiresMultiplePackets(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()

	ep0 := New(0, 0, sc, cfg, net, nil, fixedPeer{1}, nil, congestion.None{})
	for seq := int64(1); seq <= 3; seq++ {
		pkt := &OpbPacket{SeqNum: seq, Dest: 1, Type: flit.WriteRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: seq, Dest: 1, Src: 0}}}
		require.NoError(t, ep0.opb.Insert(pkt))
		ep0.retry.OnHeadInjected(sc.Now, 1, seq)
	}

	ack := &flit.Flit{Src: 1, Dest: 0, AckSeqNum: 3, NackSeqNum: flit.NoSeqNum}
	net.WriteFlit(0, 1, ack)

	require.NoError(t, ep0.Step(ctx))
	assert.Equal(t, 0, ep0.Stats().OpbOccupancy, "a cumulative ack for seq 3 should retire all three packets")
}

func TestEndpoint_SustainedUnackedTrafficConvertsDestinationToRget(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	sc := &SimulationContext{}
	cfg := testConfig()
	cfg.EnableAdaptiveRget = true
	cfg.RgetConvertSamplePeriod = 10
	cfg.RgetConvertNumSamples = 1
	cfg.RgetMinSamplesSinceLastTransition = 0
	cfg.RgetConvertUnackedPerc = 0.5

	ep0 := New(0, 0, sc, cfg, net, nil, fixedPeer{1}, nil, congestion.None{})
	pkt := &OpbPacket{SeqNum: 1, Dest: 1, Type: flit.WriteRequest, Size: 1, Flits: []*flit.Flit{{PacketSeqNum: 1, Dest: 1, Src: 0}}}
	require.NoError(t, ep0.opb.Insert(pkt))
	ep0.retry.OnHeadInjected(sc.Now, 1, 1)

	assert.False(t, ep0.rget.IsConverted(1))

	sc.Now = 10
	require.NoError(t, ep0.Step(ctx))
	assert.True(t, ep0.rget.IsConverted(1), "a destination left fully unacked past the sample period should convert to rget")
}
