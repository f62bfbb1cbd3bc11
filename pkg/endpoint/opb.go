package endpoint

import (
	"github.com/booksim-go/endpoint/pkg/flit"
)

// OpbPacket is the OPB's owned record for one in-flight packet: its
// lifetime is OPB residency, distinct from the transient flit.Flit copies
// the fabric actually carries (RetransmitPacket sends clones, never these).
// Head, body, and tail flits are kept contiguous, as required by §3.
type OpbPacket struct {
	SeqNum   int64
	Type     flit.Type
	Dest     int
	Size     int // total payload size in bytes, used by metering
	Flits    []*flit.Flit
	ItimeSet bool

	AckReceived      bool
	ResponseReceived bool // only meaningful for READ_REQUEST / RGET_REQUEST
}

// needsResponse reports whether this packet cannot retire on ACK alone
// (§3: "A packet may leave the OPB only when ... if the packet is
// READ_REQUEST / RGET_REQUEST, its expected protocol response has been
// received").
func (p *OpbPacket) needsResponse() bool {
	return p.Type == flit.ReadRequest || p.Type == flit.RgetRequest
}

func (p *OpbPacket) retireReady() bool {
	return p.AckReceived && (!p.needsResponse() || p.ResponseReceived)
}

// OPB is the per-destination Outstanding Packet Buffer: an ordered sequence
// of in-flight packets awaiting ACK (and possibly response), plus the
// set-associative insertion-conflict bookkeeping from §3.
type OPB struct {
	byDest map[int][]*OpbPacket

	maxPktOccupancy int
	ways            int
	destMask        uint64
	seqBits         uint
	seqMask         uint64

	// occupancy[bucket] counts head-flit residents sharing a hash bucket,
	// for the set-associative conflict check.
	occupancy map[uint64]int

	totalHeadOccupancy int

	// onRetire, if set, is notified with every packet evicted by RemoveAt so
	// the metering gate's reserved counters (§4.4) can be given back.
	onRetire func(*OpbPacket)
}

// SetOnRetire installs the retirement callback RemoveAt invokes for every
// evicted packet.
func (o *OPB) SetOnRetire(fn func(*OpbPacket)) { o.onRetire = fn }

// NewOPB constructs an OPB sized per the configuration's OPB structure
// options (§6).
func NewOPB(maxPktOccupancy, ways int, destIdxBits, seqNumIdxBits uint) *OPB {
	return &OPB{
		byDest:          make(map[int][]*OpbPacket),
		maxPktOccupancy: maxPktOccupancy,
		ways:            ways,
		destMask:        (uint64(1) << destIdxBits) - 1,
		seqBits:         seqNumIdxBits,
		seqMask:         (uint64(1) << seqNumIdxBits) - 1,
		occupancy:       make(map[uint64]int),
	}
}

// hash implements h(dest, seq) = ((dest & dest_mask) << seq_bits) | (seq & seq_mask) from §3.
func (o *OPB) hash(dest int, seq int64) uint64 {
	d := uint64(dest) & o.destMask
	s := uint64(seq) & o.seqMask
	return (d << o.seqBits) | s
}

// CheckInsertionConflict reports whether inserting a new head for dest
// would exceed the set-associative way count for its hash bucket (§3, §4.4).
func (o *OPB) CheckInsertionConflict(dest int, seq int64) bool {
	return o.occupancy[o.hash(dest, seq)] >= o.ways
}

// AtCapacity reports whether the OPB's total head-flit occupancy is already
// at opb_max_pkt_occupancy (§3).
func (o *OPB) AtCapacity() bool {
	return o.totalHeadOccupancy >= o.maxPktOccupancy
}

// Insert adds a new packet to the tail of dest's OPB queue, called at the
// moment of first emission (§4.3 "Sequence-number assignment").
func (o *OPB) Insert(pkt *OpbPacket) error {
	if o.AtCapacity() {
		return protocolErrorf("OPB insert: opb_max_pkt_occupancy exceeded for dest %d", pkt.Dest)
	}
	bucket := o.hash(pkt.Dest, pkt.SeqNum)
	if o.occupancy[bucket] >= o.ways {
		return protocolErrorf("OPB insert: set-associative conflict for dest %d seq %d exceeds %d ways", pkt.Dest, pkt.SeqNum, o.ways)
	}
	o.occupancy[bucket]++
	o.totalHeadOccupancy++
	o.byDest[pkt.Dest] = append(o.byDest[pkt.Dest], pkt)
	return nil
}

// Packets returns the ordered packet list for dest (oldest/lowest seq first).
func (o *OPB) Packets(dest int) []*OpbPacket { return o.byDest[dest] }

// Oldest returns the head-of-queue packet for dest, if any.
func (o *OPB) Oldest(dest int) (*OpbPacket, bool) {
	pkts := o.byDest[dest]
	if len(pkts) == 0 {
		return nil, false
	}
	return pkts[0], true
}

// OldestSeqNum returns the sequence number of the oldest still-resident
// packet for dest; used by the SACK admission gate in §4.4
// (max_receivable_pkts_after_drop).
func (o *OPB) OldestSeqNum(dest int) (int64, bool) {
	pkt, ok := o.Oldest(dest)
	if !ok {
		return 0, false
	}
	return pkt.SeqNum, true
}

// FindBySeq locates the packet with the given sequence number for dest. It
// returns an error if not found, matching the reference's fatal "NACK
// replay index beyond OPB length" condition (§7).
func (o *OPB) FindBySeq(dest int, seq int64) (*OpbPacket, int, error) {
	pkts := o.byDest[dest]
	for i, p := range pkts {
		if p.SeqNum == seq {
			return p, i, nil
		}
	}
	return nil, -1, protocolErrorf("OPB: no packet with seq %d for dest %d (replay index beyond OPB length)", seq, dest)
}

// RemoveAt evicts the packet at index i for dest, releasing its
// set-associative bucket and head occupancy, and notifying the simulation
// context so the flit pool can reclaim storage (retirement, §3 lifecycles).
func (o *OPB) RemoveAt(sc *SimulationContext, dest int, i int) {
	pkts := o.byDest[dest]
	if i < 0 || i >= len(pkts) {
		return
	}
	p := pkts[i]
	bucket := o.hash(p.Dest, p.SeqNum)
	if o.occupancy[bucket] > 0 {
		o.occupancy[bucket]--
	}
	if o.totalHeadOccupancy > 0 {
		o.totalHeadOccupancy--
	}
	o.byDest[dest] = append(pkts[:i:i], pkts[i+1:]...)
	for _, f := range p.Flits {
		sc.retireFlit(f, dest)
	}
	if o.onRetire != nil {
		o.onRetire(p)
	}
}

// RetireReadyFromFront pops every packet at the front of dest's queue that
// is retireReady, in order, stopping at the first that is not (§3: a
// retransmission in progress at the head must not be jumped by newer
// packets retiring ahead of it — enforced simply by only ever retiring from
// the front).
func (o *OPB) RetireReadyFromFront(sc *SimulationContext, dest int) int {
	n := 0
	for {
		pkts := o.byDest[dest]
		if len(pkts) == 0 || !pkts[0].retireReady() {
			return n
		}
		o.RemoveAt(sc, dest, 0)
		n++
	}
}

// UnackedFraction reports the fraction of dest's currently resident packets
// that have not yet been acked, the signal the adaptive put-to-rget sampler
// (§4.10) watches for persistent congestion toward a destination. ok is
// false if dest has nothing resident to sample this window.
func (o *OPB) UnackedFraction(dest int) (frac float64, ok bool) {
	pkts := o.byDest[dest]
	if len(pkts) == 0 {
		return 0, false
	}
	unacked := 0
	for _, p := range pkts {
		if !p.AckReceived {
			unacked++
		}
	}
	return float64(unacked) / float64(len(pkts)), true
}

// Empty reports whether dest has no outstanding packets.
func (o *OPB) Empty(dest int) bool { return len(o.byDest[dest]) == 0 }

// TotalOccupancy sums the occupancy of every hash bucket, which must equal
// the total OPB head count (§8 quantified invariant).
func (o *OPB) TotalOccupancy() int {
	total := 0
	for _, c := range o.occupancy {
		total += c
	}
	return total
}
