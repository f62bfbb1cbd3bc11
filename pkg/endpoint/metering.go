package endpoint

import "github.com/booksim-go/endpoint/pkg/flit"

// DestLimits is the per-destination outstanding-transaction accounting from
// §4.4's admission table: counts and byte totals currently in flight toward
// one destination, plus the handful of global (not per-destination) caps.
type DestLimits struct {
	Xactions      int
	XactionBytes  int
	Gets          int
	RgetReqs      int
	GetInbound    int
	RgetInbound   int
}

// Meter implements the new_packet_qualifies_for_arb admission gates of §4.4:
// a new packet of a given type may only be handed to the arbiter if every
// applicable per-destination and global limit still has headroom.
type Meter struct {
	limits map[int]*DestLimits

	xactionLimitPerDest           int
	xactionSizeLimitPerDestBytes  int
	getLimitPerDest               int
	rgetReqLimitPerDest           int
	getInboundSizeLimitPerDestBytes  int
	rgetInboundSizeLimitPerDestBytes int

	globalGets          int
	globalGetReqBytes   int
	globalGetLimit      int
	globalGetReqSizeLimitBytes int
}

// NewMeter builds a Meter from the §6 per-destination and global limits
// (all byte limits already converted from KB by the caller).
func NewMeter(xactionLimitPerDest, xactionSizeLimitPerDestBytes, getLimitPerDest, rgetReqLimitPerDest, getInboundSizeLimitPerDestBytes, rgetInboundSizeLimitPerDestBytes, globalGetLimit, globalGetReqSizeLimitBytes int) *Meter {
	return &Meter{
		limits:                           make(map[int]*DestLimits),
		xactionLimitPerDest:              xactionLimitPerDest,
		xactionSizeLimitPerDestBytes:     xactionSizeLimitPerDestBytes,
		getLimitPerDest:                  getLimitPerDest,
		rgetReqLimitPerDest:              rgetReqLimitPerDest,
		getInboundSizeLimitPerDestBytes:  getInboundSizeLimitPerDestBytes,
		rgetInboundSizeLimitPerDestBytes: rgetInboundSizeLimitPerDestBytes,
		globalGetLimit:                   globalGetLimit,
		globalGetReqSizeLimitBytes:       globalGetReqSizeLimitBytes,
	}
}

func (m *Meter) dest(d int) *DestLimits {
	l, ok := m.limits[d]
	if !ok {
		l = &DestLimits{}
		m.limits[d] = l
	}
	return l
}

// Admits reports whether a new packet of t, size bytes, toward dest may be
// generated right now, per §4.4's gate table. It does not reserve
// resources; call Reserve once the packet is actually generated.
func (m *Meter) Admits(t flit.Type, dest int, size int) bool {
	l := m.dest(dest)
	switch t {
	case flit.WriteRequest, flit.WriteRequestNoop, flit.ReadReply:
		// READ_REPLY shares the xaction+size gate with WRITE_REQUEST (§4.4).
		return l.Xactions < m.xactionLimitPerDest &&
			l.XactionBytes+size <= m.xactionSizeLimitPerDestBytes
	case flit.ReadRequest, flit.RgetGetRequest:
		// RGET_GET_REQUEST mirrors READ_REQUEST's get/global-get gate (§4.4).
		return l.Gets < m.getLimitPerDest &&
			l.GetInbound+size <= m.getInboundSizeLimitPerDestBytes &&
			m.globalGets < m.globalGetLimit &&
			m.globalGetReqBytes+size <= m.globalGetReqSizeLimitBytes
	case flit.RgetRequest:
		return l.Xactions < m.xactionLimitPerDest &&
			l.XactionBytes+size <= m.xactionSizeLimitPerDestBytes &&
			l.RgetReqs < m.rgetReqLimitPerDest &&
			l.RgetInbound+size <= m.rgetInboundSizeLimitPerDestBytes
	default:
		// RGET_GET_REPLY is halt-gate only (§4.4); the halt gate itself is
		// enforced by the congestion policy's AdmitData, not here.
		return true
	}
}

// Reserve accounts for a newly generated packet of t toward dest.
func (m *Meter) Reserve(t flit.Type, dest int, size int) {
	l := m.dest(dest)
	switch t {
	case flit.WriteRequest, flit.WriteRequestNoop, flit.ReadReply:
		l.Xactions++
		l.XactionBytes += size
	case flit.ReadRequest, flit.RgetGetRequest:
		l.Gets++
		l.GetInbound += size
		m.globalGets++
		m.globalGetReqBytes += size
	case flit.RgetRequest:
		l.Xactions++
		l.XactionBytes += size
		l.RgetReqs++
		l.RgetInbound += size
	}
}

// Release gives back the accounting reserved for a packet of t toward dest
// once it fully retires from the OPB.
func (m *Meter) Release(t flit.Type, dest int, size int) {
	l := m.dest(dest)
	switch t {
	case flit.WriteRequest, flit.WriteRequestNoop, flit.ReadReply:
		l.Xactions--
		l.XactionBytes -= size
	case flit.ReadRequest, flit.RgetGetRequest:
		l.Gets--
		l.GetInbound -= size
		m.globalGets--
		m.globalGetReqBytes -= size
	case flit.RgetRequest:
		l.Xactions--
		l.XactionBytes -= size
		l.RgetReqs--
		l.RgetInbound -= size
	}
}
