// Package endpoint implements one network node's reliable transport layer:
// sequence-numbered delivery with cumulative ACK/NACK/SACK, retransmission
// on NACK/SACK/timeout, an outstanding-packet buffer, an injection arbiter,
// per-destination admission metering, adaptive put-to-rget conversion, and a
// pluggable congestion-control policy (§4 of the endpoint design).
package endpoint

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/booksim-go/endpoint/pkg/config"
	"github.com/booksim-go/endpoint/pkg/endpoint/congestion"
	"github.com/booksim-go/endpoint/pkg/fabric"
	"github.com/booksim-go/endpoint/pkg/flit"
	"github.com/booksim-go/endpoint/pkg/trafficmgr"
)

// Endpoint is one node's transport-layer state. One instance exists per
// (node, subnet) pair in the simulation; the outer driver steps every
// endpoint once per cycle in a caller-chosen order (§5: endpoints share no
// mutable state except through SimulationContext, so they may be stepped
// concurrently).
type Endpoint struct {
	Node   int
	Subnet int

	sc  *SimulationContext
	cfg *config.Config
	net fabric.Network

	injector trafficmgr.InjectionProcess
	pattern  trafficmgr.TrafficPattern
	factory  trafficmgr.WorkloadMessageFactory

	opb     *OPB
	retry   *RetryController
	receive *ReceiveTracker
	ack     *AckEmitter
	arbiter *Arbiter
	meter   *Meter
	policy  congestion.Policy
	rget    *RgetConverter
	putq    *PutQueue

	nextSeqNum map[int]int64 // next outgoing PacketSeqNum per destination

	// vcCredits is the fabric buffer-state accounting of §4.1 step 2: each
	// returned credit replenishes the sender's view of downstream VC buffer
	// space. The fabric (an external collaborator, out of scope here) owns
	// what to do with a depleted count; the endpoint only keeps the tally.
	vcCredits map[int]int

	lastRgetSample Cycle // last cycle the adaptive rget sampler ran (§4.10)

	pendingReplies  []pendingReply    // GroupReadReply queue: READ_REPLY/RGET_GET_REPLY owed to a requester
	pendingRgetGet  []pendingRgetGet  // GroupRgetGetReq queue: RGET_GET_REQUEST owed back to an RGET_REQUEST sender
	pendingRespMark []pendingRespMark // delayed OPB response_received marks

	PacketsSent    int
	PacketsRetired int
	BytesDelivered int
}

// pendingReply is a reply this node owes a peer, queued when the original
// request is admitted and drained in FIFO order by the GroupReadReply
// arbiter lane once readyAt has passed (§4.3, §4.7, §4.10).
type pendingReply struct {
	dest    int
	typ     flit.Type // ReadReply or RgetGetReply
	respTo  int64
	size    int
	readyAt Cycle
}

// pendingRgetGet is an RGET_GET_REQUEST this node (the rget puller) owes
// back to the peer that sent it an RGET_REQUEST, ready once readyAt has
// passed (§4.7, §4.10).
type pendingRgetGet struct {
	dest    int
	respTo  int64
	size    int
	readyAt Cycle
}

// pendingRespMark defers marking an OPB entry's protocol response received
// until rsp_processing_latency has elapsed after the response flit arrived
// (§4.7).
type pendingRespMark struct {
	dest    int
	seq     int64
	readyAt Cycle
}

// New builds an Endpoint bound to its collaborators. cfg must already be
// Validate()d.
func New(node, subnet int, sc *SimulationContext, cfg *config.Config, net fabric.Network, injector trafficmgr.InjectionProcess, pattern trafficmgr.TrafficPattern, factory trafficmgr.WorkloadMessageFactory, policy congestion.Policy) *Endpoint {
	receive := NewReceiveTracker(cfg.EnableSACK, cfg.SackVecLength, cfg.MaxReceivablePktsAfterDrop)
	opb := NewOPB(cfg.OpbMaxPktOccupancy, cfg.OpbWays, cfg.OpbDestIdxBits, cfg.OpbSeqNumIdxBits)
	meter := NewMeter(cfg.XactionLimitPerDest, cfg.XactionSizeLimitPerDestKB*1024, cfg.GetLimitPerDest, cfg.RgetReqLimitPerDest, cfg.GetInboundSizeLimitPerDestKB*1024, cfg.RgetInboundSizeLimitPerDestKB*1024, cfg.GlobalGetLimit, cfg.GlobalGetReqSizeLimitKB*1024)
	e := &Endpoint{
		Node:        node,
		Subnet:      subnet,
		sc:          sc,
		cfg:         cfg,
		net:         net,
		injector:    injector,
		pattern:     pattern,
		factory:     factory,
		opb:         opb,
		retry:       NewRetryController(Cycle(cfg.RetryTimerTimeout), Cycle(cfg.ResponseTimerTimeout), cfg.MaxRetryAttempts, cfg.SackVecLength),
		receive:     receive,
		ack:         NewAckEmitter(receive, Cycle(cfg.CyclesBeforeStandaloneAck), cfg.PacketsBeforeStandaloneAck, Cycle(cfg.FairnessSamplingTime), Cycle(cfg.FairnessResetPeriod), cfg.FairnessDiffThreshold, cfg.SpeculativeAckQueueSize, cfg.SpeculativeAckEnabled),
		arbiter:     NewArbiter(cfg.ArbMode(), cfg.WeightedSchedReqInitTokens, cfg.WeightedSchedRspInitTokens, cfg.WeightedSchedIncrTokens, cfg.WeightedSchedRspSlotsPerReqSlot),
		meter:       meter,
		policy:      policy,
		rget:        NewRgetConverter(cfg.EnableAdaptiveRget, int(cfg.RgetConvertNumSamples), cfg.RgetConvertUnackedPerc, cfg.RgetRevertAckedPerc, cfg.RgetMinSamplesSinceLastTransition),
		putq:        NewPutQueue(cfg.PutWaitBufSize, cfg.LoadBalanceBufSize, cfg.LoadBalanceQueueEnabled),
		nextSeqNum:  make(map[int]int64),
		vcCredits:   make(map[int]int),
	}
	opb.SetOnRetire(func(p *OpbPacket) {
		meter.Release(p.Type, p.Dest, p.Size)
		e.PacketsRetired++
	})
	return e
}

// ReceiveFlit processes one flit ejected from the fabric at this node
// (§4.1, §4.6, §4.7): tail flits drive the receive tracker and ACK
// bookkeeping; every flit carrying ack/nack/sack information updates the
// retry controller and congestion policy for the destination it came from.
func (e *Endpoint) ReceiveFlit(ctx context.Context, f *flit.Flit) error {
	if f.AckSeqNum != flit.NoSeqNum || f.SACK || f.NackSeqNum != flit.NoSeqNum {
		if err := e.handleAckBearing(f); err != nil {
			return err
		}
	}

	if !f.Tail {
		return nil
	}

	if f.Type == flit.CtrlType {
		// Standalone ACK/NACK/SACK flits carry no packet sequence number;
		// their content was applied above and they are not receive-tracked.
		return nil
	}
	if err := e.receive.CheckFlit(f); err != nil {
		return err
	}

	hasSpace := !f.Type.IsData() || e.putq.HasSpace(f.DataSize)
	outcome := e.receive.OnTail(e.sc.Now, f.Src, f.PacketSeqNum, f.Type.IsData(), hasSpace)

	switch outcome {
	case OutcomeInOrderAdmitted:
		if f.Type.IsData() {
			e.putq.Admit(PutQueueEntry{Src: f.Src, SeqNum: f.PacketSeqNum, Size: f.DataSize})
			e.BytesDelivered += f.DataSize
		}
		if f.ResponseToSeqNum != flit.NoSeqNum {
			e.pendingRespMark = append(e.pendingRespMark, pendingRespMark{dest: f.Src, seq: f.ResponseToSeqNum, readyAt: e.sc.Now + Cycle(e.cfg.RspProcessingLatency)})
		}
		switch f.Type {
		case flit.ReadRequest:
			e.pendingReplies = append(e.pendingReplies, pendingReply{dest: f.Src, typ: flit.ReadReply, respTo: f.PacketSeqNum, size: f.ReadRequestedDataSize, readyAt: e.sc.Now + Cycle(e.cfg.ReqProcessingLatency)})
		case flit.RgetRequest:
			e.pendingRgetGet = append(e.pendingRgetGet, pendingRgetGet{dest: f.Src, respTo: f.PacketSeqNum, size: f.ReadRequestedDataSize, readyAt: e.sc.Now + Cycle(e.cfg.RgetProcessingLatency)})
		case flit.RgetGetRequest:
			e.pendingReplies = append(e.pendingReplies, pendingReply{dest: f.Src, typ: flit.RgetGetReply, respTo: f.PacketSeqNum, size: f.ReadRequestedDataSize, readyAt: e.sc.Now + Cycle(e.cfg.ReqProcessingLatency)})
		}
	case OutcomeOutOfOrderSacked:
		// recorded by the tracker; the standalone SACK is emitted from Step
		// via AckEmitter.
	case OutcomeOutOfOrderNacked, OutcomeInOrderDroppedForPutQueue:
		e.policy.OnNack(f.Src)
	case OutcomeDuplicate:
		e.policy.OnDuplicateAck(f.Src)
	}
	return nil
}

// handleAckBearing applies an incoming ACK/NACK/SACK (piggybacked or
// standalone) to the retry controller and congestion policy for the
// destination it acknowledges (§4.5).
func (e *Endpoint) handleAckBearing(f *flit.Flit) error {
	dest := f.Src // the peer that is acknowledging us is, from our side, the destination of the original data

	switch {
	case f.SACK:
		if err := e.retry.OnSack(e.opb, dest, f.AckSeqNum, f.SACKVec); err != nil {
			return err
		}
		e.policy.OnNack(dest)
	case f.NackSeqNum != flit.NoSeqNum && f.AckSeqNum == f.NackSeqNum:
		// mypolicy's duplicate-ack congestion-signalling encoding (§4.11,
		// SPEC_FULL.md Open Question decision): equal ack/nack sequence
		// numbers mean "no progress", not a real gap.
		if e.cfg.HostControlPolicy != "mypolicy" {
			return protocolErrorf("ack_seq_num == nack_seq_num (%d) outside mypolicy", f.AckSeqNum)
		}
		e.policy.OnDuplicateAck(dest)
	case f.NackSeqNum != flit.NoSeqNum:
		if err := e.retry.OnNack(e.opb, dest, f.NackSeqNum); err != nil {
			return err
		}
		e.policy.OnNack(dest)
	case f.AckSeqNum != flit.NoSeqNum:
		ackedBytes := 0
		for _, p := range e.opb.Packets(dest) {
			if p.SeqNum <= f.AckSeqNum && !p.AckReceived && p.Type.IsData() {
				ackedBytes += p.Size
			}
		}
		deferred := e.retry.OnAck(e.opb, e.sc, dest, f.AckSeqNum)
		if !deferred {
			e.policy.OnIncrementalAck(dest, ackedBytes)
		}
	}

	if f.ECNCongestionDetected {
		e.policy.OnCongestionMark(dest, 1.0)
	}
	return nil
}

// markResponseReceived flags the OPB entry for a READ_REQUEST/RGET_REQUEST
// as having received its protocol response (§4.7).
func (e *Endpoint) markResponseReceived(dest int, seq int64) {
	if pkt, idx, err := e.opb.FindBySeq(dest, seq); err == nil {
		pkt.ResponseReceived = true
		if pkt.retireReady() {
			e.opb.RemoveAt(e.sc, dest, idx)
		}
	}
}

// processPendingResponses applies every response_received mark whose
// rsp_processing_latency has elapsed (§4.7).
func (e *Endpoint) processPendingResponses() {
	i := 0
	for ; i < len(e.pendingRespMark); i++ {
		m := e.pendingRespMark[i]
		if m.readyAt > e.sc.Now {
			break
		}
		e.markResponseReceived(m.dest, m.seq)
	}
	e.pendingRespMark = e.pendingRespMark[i:]
}

// ProcessTimeouts advances retry and response timers for this cycle,
// queuing retransmissions and surfacing fatal protocol errors (§4.5, §7).
func (e *Endpoint) ProcessTimeouts(ctx context.Context) ([]*flit.Flit, error) {
	dests, err := e.retry.ProcessTimeouts(e.sc.Now, e.opb)
	if err != nil {
		return nil, err
	}
	if err := e.retry.ProcessResponseTimeouts(e.sc.Now, e.opb); err != nil {
		return nil, err
	}

	var out []*flit.Flit
	for _, dest := range dests {
		pkt, ok := e.opb.Oldest(dest)
		if !ok || pkt.AckReceived {
			continue
		}
		flits, err := e.retry.RetransmitPacket(e.sc.Now, pkt)
		if err != nil {
			return nil, err
		}
		out = append(out, flits...)
	}
	return out, nil
}

// Step runs one simulation cycle for this endpoint: drain arrivals, service
// timers, generate and arbitrate a new injection, and tick the congestion
// policy (§4.1's per-cycle method sequence).
func (e *Endpoint) Step(ctx context.Context) error {
	ctx = dlog.WithField(ctx, "node", e.Node)

	for {
		c, ok := e.net.ReadCredit(e.Subnet, e.Node)
		if !ok {
			break
		}
		e.vcCredits[c.VC] += c.Count
	}

	for {
		f, ok := e.net.ReadFlit(e.Subnet, e.Node)
		if !ok {
			break
		}
		if err := e.ReceiveFlit(ctx, f); err != nil {
			return err
		}
		e.net.WriteCredit(e.Subnet, e.Node, fabric.Credit{Subnet: e.Subnet, VC: f.VC, Count: 1})
	}

	e.processPendingResponses()

	replayed, err := e.driveReplay()
	if err != nil {
		return err
	}
	for _, f := range replayed {
		e.net.WriteFlit(e.Subnet, e.Node, f)
	}

	retx, err := e.ProcessTimeouts(ctx)
	if err != nil {
		return err
	}
	for _, f := range retx {
		e.net.WriteFlit(e.Subnet, e.Node, f)
	}

	e.policy.Tick(int64(e.sc.Now))
	e.sampleFairness()
	e.sampleRget()

	if len(replayed) == 0 && len(retx) == 0 {
		if cand, ok := e.nextCandidate(); ok {
			e.inject(cand)
		}
	}

	if src, due := e.dueAck(); due {
		e.emitStandaloneAck(src)
	}

	if len(retx) > 0 {
		dlog.Debugf(ctx, "retransmitted %d flits", len(retx))
	}
	return nil
}

// driveReplay services one destination's NACK- or SACK-based replay per
// cycle, if one is ready to run (§4.3 priority rule 1: replay outranks new
// injection). A NACK-based replay resends exactly the packet the retry
// controller points at; a SACK-based replay walks forward from one gap to
// the next, retiring the acked packets it passes over along the way.
func (e *Endpoint) driveReplay() ([]*flit.Flit, error) {
	dest, ready := e.retry.ReadyToReplay()
	if !ready {
		return nil, nil
	}

	var seq int64
	switch e.retry.Kind(dest) {
	case RetryNackBased:
		s, ok := e.retry.NackReplayTarget(e.opb, dest)
		if !ok {
			e.retry.CompleteReplayPacket(e.sc.Now, e.opb, dest)
			return nil, nil
		}
		seq = s
	case RetrySackBased:
		s, ok := e.retry.NextGapToRetransmit(e.opb, e.sc, dest)
		if !ok {
			e.retry.CompleteReplayPacket(e.sc.Now, e.opb, dest)
			return nil, nil
		}
		seq = s
	default:
		return nil, nil
	}

	pkt, _, err := e.opb.FindBySeq(dest, seq)
	if err != nil {
		return nil, err
	}
	if pkt.AckReceived {
		e.retry.CompleteReplayPacket(e.sc.Now, e.opb, dest)
		return nil, nil
	}
	flits, err := e.retry.RetransmitPacket(e.sc.Now, pkt)
	if err != nil {
		return nil, err
	}
	e.retry.CompleteReplayPacket(e.sc.Now, e.opb, dest)
	return flits, nil
}

// sampleFairness feeds each source's cumulative good-packet count to the ack
// emitter's fairness sampler (SPEC_FULL.md supplemented feature 1), so a
// source falling behind gets flagged for a preemptive ack slot.
func (e *Endpoint) sampleFairness() {
	counts := make(map[int]int, len(e.receive.states))
	for src, s := range e.receive.states {
		counts[src] = s.GoodPacketsReceived
	}
	e.ack.SampleFairness(e.sc.Now, counts)
}

// sampleRget feeds each destination's outstanding unacked-packet fraction to
// the adaptive put-to-rget converter once per rget_convert_sample_period
// (§4.10), driving RgetConverter.Sample's consecutive-window state machine.
func (e *Endpoint) sampleRget() {
	period := Cycle(e.cfg.RgetConvertSamplePeriod)
	if period <= 0 || e.sc.Now < e.lastRgetSample+period {
		return
	}
	e.lastRgetSample = e.sc.Now
	for dest := range e.opb.byDest {
		if frac, ok := e.opb.UnackedFraction(dest); ok {
			e.rget.Sample(dest, frac)
		}
	}
}

// dueAck scans receive state for any source whose ACK has aged past the
// standalone threshold (§4.12). Sources are visited in Go map iteration
// order, which is unspecified and may differ from one call to the next. A
// source flagged by the fairness sampler jumps the queue ahead of that scan
// as long as it actually has something outstanding to acknowledge.
func (e *Endpoint) dueAck() (int, bool) {
	if src, ok := e.ack.NextSpeculative(); ok {
		return src, true
	}
	if src, ok := e.ack.StarvedSource(); ok && e.receive.State(src).PacketsRecvdSinceLastAck > 0 {
		return src, true
	}
	for src := range e.receive.states {
		if e.ack.DueForStandaloneAck(e.sc.Now, src) {
			return src, true
		}
		if e.ack.NearlyDue(e.sc.Now, src) {
			e.ack.EnqueueSpeculative(src)
		}
	}
	return 0, false
}

func (e *Endpoint) emitStandaloneAck(src int) {
	kind, seq, sackVec := e.ack.receive.ReadyToAck(src)
	f := &flit.Flit{
		ID:         e.sc.NewFlitID(),
		PacketID:   e.sc.NewPacketID(),
		Head:       true,
		Tail:       true,
		Size:       1,
		Src:        e.Node,
		Dest:       src,
		Type:       flit.CtrlType,
		Subnet:     e.Subnet,
		AckSeqNum:  flit.NoSeqNum,
		NackSeqNum: flit.NoSeqNum,
	}
	switch kind {
	case AckTypeNack:
		f.NackSeqNum = seq
	case AckTypeSack:
		f.AckSeqNum = seq
		f.SACK = true
		f.SACKVec = sackVec
	default:
		f.AckSeqNum = seq
	}
	e.net.WriteFlit(e.Subnet, e.Node, f)
	e.ack.MarkSent(e.sc.Now, src)
}

// nextCandidate gathers at most one ready candidate per injection group —
// a new command from the traffic manager, a queued reply, and a queued rget
// pull request — and hands them to the arbiter, which picks a group by its
// rotating group cursor (§4.3). It returns false if nothing may be generated this
// cycle in any group.
func (e *Endpoint) nextCandidate() (Candidate, bool) {
	var ready []Candidate
	if c, ok := e.buildNewCmdCandidate(); ok {
		ready = append(ready, c)
	}
	if c, ok := e.buildReplyCandidate(); ok {
		ready = append(ready, c)
	}
	if c, ok := e.buildRgetGetCandidate(); ok {
		ready = append(ready, c)
	}

	chosen, ok := e.arbiter.Select(ready)
	if !ok {
		return Candidate{}, false
	}
	switch chosen.Group {
	case GroupReadReply:
		e.pendingReplies = e.pendingReplies[1:]
	case GroupRgetGetReq:
		e.pendingRgetGet = e.pendingRgetGet[1:]
	}
	return chosen, true
}

// buildNewCmdCandidate asks the traffic manager for a new packet intent and
// applies the metering gate and adaptive rget conversion (§4.2, §4.4,
// §4.10). The returned head's PacketSeqNum is only a peek at the next
// sequence number toward dest; it is committed in inject, once the arbiter
// has actually chosen this candidate.
func (e *Endpoint) buildNewCmdCandidate() (Candidate, bool) {
	if e.injector == nil {
		return Candidate{}, false
	}
	intent := e.injector.ShouldGenerate(0, int64(e.sc.Now))
	if intent != trafficmgr.IntentReadRequest && intent != trafficmgr.IntentWriteRequest {
		return Candidate{}, false
	}

	dest := e.pattern.Destination(e.Node, 0)
	size := e.cfg.ReadRequestSize

	var t flit.Type
	switch intent {
	case trafficmgr.IntentReadRequest:
		t = flit.ReadRequest
	case trafficmgr.IntentWriteRequest:
		t = flit.WriteRequest
		if e.rget.IsConverted(dest) {
			t = flit.RgetRequest
		}
	}

	if !e.meter.Admits(t, dest, size) {
		return Candidate{}, false
	}

	head, ok := e.buildHead(dest, t, size)
	if !ok {
		return Candidate{}, false
	}
	if t == flit.ReadRequest || t == flit.RgetRequest {
		head.ReadRequestedDataSize = size
	}
	return Candidate{Group: GroupNewCmd, Dest: dest, Head: head, Size: size}, true
}

// buildReplyCandidate offers the oldest queued READ_REPLY/RGET_GET_REPLY, if
// any, as the GroupReadReply candidate (§4.3, §4.10).
func (e *Endpoint) buildReplyCandidate() (Candidate, bool) {
	if len(e.pendingReplies) == 0 || e.pendingReplies[0].readyAt > e.sc.Now {
		return Candidate{}, false
	}
	r := e.pendingReplies[0]
	if !e.meter.Admits(r.typ, r.dest, r.size) {
		return Candidate{}, false
	}
	head, ok := e.buildHead(r.dest, r.typ, r.size)
	if !ok {
		return Candidate{}, false
	}
	head.ResponseToSeqNum = r.respTo
	return Candidate{Group: GroupReadReply, Dest: r.dest, Head: head, Size: r.size}, true
}

// buildRgetGetCandidate offers the oldest queued RGET_GET_REQUEST, if any, as
// the GroupRgetGetReq candidate: the pull this node (the rget puller) owes
// back to a peer that previously sent it an RGET_REQUEST (§4.10).
func (e *Endpoint) buildRgetGetCandidate() (Candidate, bool) {
	if len(e.pendingRgetGet) == 0 || e.pendingRgetGet[0].readyAt > e.sc.Now {
		return Candidate{}, false
	}
	r := e.pendingRgetGet[0]
	if !e.meter.Admits(flit.RgetGetRequest, r.dest, r.size) {
		return Candidate{}, false
	}
	head, ok := e.buildHead(r.dest, flit.RgetGetRequest, r.size)
	if !ok {
		return Candidate{}, false
	}
	head.ResponseToSeqNum = r.respTo
	head.ReadRequestedDataSize = r.size
	return Candidate{Group: GroupRgetGetReq, Dest: r.dest, Head: head, Size: r.size}, true
}

// buildHead applies the OPB/congestion admission gates common to every
// injection group and, if they pass, builds the head flit. PacketSeqNum is
// only peeked from nextSeqNum here; inject commits the increment once the
// arbiter has chosen this candidate.
func (e *Endpoint) buildHead(dest int, t flit.Type, size int) (*flit.Flit, bool) {
	if e.opb.AtCapacity() || e.opb.CheckInsertionConflict(dest, e.peekSeqNum(dest)) {
		return nil, false
	}
	if t.IsData() && !e.policy.AdmitData(dest, size) {
		return nil, false
	}

	head := &flit.Flit{
		ID:           e.sc.NewFlitID(),
		PacketID:     e.sc.NewPacketID(),
		Head:         true,
		Tail:         true,
		Size:         1,
		Src:          e.Node,
		Dest:         dest,
		Type:         t,
		Subnet:       e.Subnet,
		DataSize:     size,
		PacketSeqNum: e.peekSeqNum(dest),
		AckSeqNum:    flit.NoSeqNum,
		NackSeqNum:   flit.NoSeqNum,
		Payload:      e.wrapPayload(t, size),
	}
	e.policy.StampOutgoing(head, e.putq.Depth(), 0, e.cfg.ECNThreshold) // no put-queue space is reserved in this model
	return head, true
}

// peekSeqNum returns the next PacketSeqNum to assign toward dest without
// committing it. Sequence numbers are 1-based (§3: "first value 1"), so an
// unseen destination peeks at 1 rather than nextSeqNum's Go-zero default.
func (e *Endpoint) peekSeqNum(dest int) int64 {
	if seq, ok := e.nextSeqNum[dest]; ok {
		return seq
	}
	return 1
}

func (e *Endpoint) wrapPayload(t flit.Type, size int) flit.Payload {
	if e.factory == nil || !t.IsData() {
		return nil
	}
	return e.factory.NewMessage(0, size)
}

// Stats is a point-in-time snapshot of this endpoint's exported counters,
// consumed by pkg/metrics (§8's testable properties).
type Stats struct {
	Node int

	PacketsSent    int
	PacketsRetired int
	BytesDelivered int

	NacksSent                int
	SacksSent                int
	DuplicatePacketsReceived int
	GoodPacketsReceived      int
	BadPacketsReceived       int

	RetryTimeouts int

	OpbOccupancy int

	PutQueueDepth  int
	PutDropped     int
	PutDroppedFull int
}

// Stats returns the current counter values for this endpoint.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Node:                     e.Node,
		PacketsSent:              e.PacketsSent,
		PacketsRetired:           e.PacketsRetired,
		BytesDelivered:           e.BytesDelivered,
		NacksSent:                e.receive.NacksSent,
		SacksSent:                e.receive.SacksSent,
		DuplicatePacketsReceived: e.receive.DuplicatePacketsReceived,
		GoodPacketsReceived:      e.receive.GoodPacketsReceived,
		BadPacketsReceived:       e.receive.BadPacketsReceived,
		RetryTimeouts:            e.retry.RetryTimeouts,
		OpbOccupancy:             e.opb.TotalOccupancy(),
		PutQueueDepth:            e.putq.Depth(),
		PutDropped:               e.putq.Dropped,
		PutDroppedFull:           e.putq.DroppedFull,
	}
}

// inject hands a chosen candidate to the OPB and the fabric, assigning its
// retry timer (§4.3).
func (e *Endpoint) inject(cand Candidate) {
	pkt := &OpbPacket{SeqNum: cand.Head.PacketSeqNum, Type: cand.Head.Type, Dest: cand.Dest, Size: cand.Size, Flits: []*flit.Flit{cand.Head}}
	if err := e.opb.Insert(pkt); err != nil {
		return
	}
	e.nextSeqNum[cand.Dest] = cand.Head.PacketSeqNum + 1
	e.meter.Reserve(cand.Head.Type, cand.Dest, cand.Size)
	e.retry.OnHeadInjected(e.sc.Now, cand.Dest, cand.Head.PacketSeqNum)
	e.net.WriteFlit(e.Subnet, e.Node, cand.Head)
	e.PacketsSent++
}
