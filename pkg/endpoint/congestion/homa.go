package congestion

import "github.com/booksim-go/endpoint/pkg/flit"

// homaConn is the per-destination state for the Homa-like policy: unlike
// mypolicy/TCP-like, there is no cwnd and no NACK-triggered fast retransmit;
// only an outstanding-message count and an RTT estimate are kept (§4.11
// "Homa").
type homaConn struct {
	estimatedRTT float64
	outstanding  int
}

// Homa implements the drop-based, priority-free congestion policy.
// Admission is limited only by a cap on outstanding messages per
// destination (see AdmitData), with no byte-counted window. RetryTimeout
// reports a multiple of the estimated RTT, but the endpoint does not read
// it: retransmission uses the configured retry timer under every policy.
type Homa struct {
	conns map[int]*homaConn

	rttMultiplier float64 // retry timeout = rttMultiplier * estimatedRTT
	maxOutstanding int
}

// NewHoma builds a Homa policy with a 3x-RTT retry multiplier, matching the
// reference's fixed retransmission-timeout scaling.
func NewHoma(maxOutstanding int) *Homa {
	return &Homa{
		conns:          make(map[int]*homaConn),
		rttMultiplier:  3,
		maxOutstanding: maxOutstanding,
	}
}

func (p *Homa) conn(dest int) *homaConn {
	c, ok := p.conns[dest]
	if !ok {
		c = &homaConn{}
		p.conns[dest] = c
	}
	return c
}

func (Homa) Name() string { return "homa" }

// AdmitData only enforces a cap on the number of outstanding messages to a
// destination; Homa relies on network-level dropping rather than a
// byte-counted window.
func (p *Homa) AdmitData(dest int, size int) bool {
	c := p.conn(dest)
	if p.maxOutstanding > 0 && c.outstanding >= p.maxOutstanding {
		return false
	}
	c.outstanding++
	return true
}

// OnIncrementalAck retires one outstanding message and folds its observed
// latency into the RTT estimate. ackedBytes here carries the observed
// round-trip cycles, reused from the common Policy signature.
func (p *Homa) OnIncrementalAck(dest int, ackedBytes int) {
	c := p.conn(dest)
	if c.outstanding > 0 {
		c.outstanding--
	}
	sample := float64(ackedBytes)
	if c.estimatedRTT == 0 {
		c.estimatedRTT = sample
		return
	}
	c.estimatedRTT = 0.875*c.estimatedRTT + 0.125*sample
}

// OnDuplicateAck is a no-op: Homa has no piggyback NACK signal to react to.
func (Homa) OnDuplicateAck(int) {}

// OnNack is likewise a no-op: Homa keeps no state that reacts to a NACK.
func (Homa) OnNack(int) {}

func (Homa) OnCongestionMark(int, float64) {}

func (Homa) StampOutgoing(*flit.Flit, int, int, int) {}

func (Homa) MustRetryAtLeastOnePacket(int) bool { return false }

func (Homa) Tick(int64) {}

// RetryTimeout returns the current retransmission timeout for dest, in the
// same units as the RTT samples fed to OnIncrementalAck.
func (p *Homa) RetryTimeout(dest int) float64 {
	c := p.conn(dest)
	if c.estimatedRTT == 0 {
		return 0
	}
	return p.rttMultiplier * c.estimatedRTT
}
