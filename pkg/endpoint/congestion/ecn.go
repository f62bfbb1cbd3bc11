package congestion

import "github.com/booksim-go/endpoint/pkg/flit"

// ecnConn tracks the exponentially-weighted congestion-mark fraction for one
// destination, DCTCP-style (§4.11 "ECN").
type ecnConn struct {
	alpha float64 // EWMA of the marked-flit fraction
}

// ECN wraps TCPLike, scaling cwnd reductions by the EWMA fraction of
// congestion-marked flits instead of always halving, and stamping outgoing
// flits when the put queue is pressured past a threshold.
type ECN struct {
	*TCPLike

	econns map[int]*ecnConn
	gain   float64 // EWMA smoothing gain, g in alpha = (1-g)*alpha + g*marked
	period int
	tick   int
}

// NewECN builds an ECN policy over a fresh TCPLike base.
func NewECN(mss int, gain float64, period int) *ECN {
	return &ECN{
		TCPLike: NewTCPLike(mss),
		econns:  make(map[int]*ecnConn),
		gain:    gain,
		period:  period,
	}
}

func (p *ECN) econn(dest int) *ecnConn {
	c, ok := p.econns[dest]
	if !ok {
		c = &ecnConn{}
		p.econns[dest] = c
	}
	return c
}

func (ECN) Name() string { return "ecn" }

// OnCongestionMark folds the observed marked fraction into the EWMA and, if
// it is due this period, applies a DCTCP-style proportional cwnd cut.
func (p *ECN) OnCongestionMark(dest int, percent float64) {
	ec := p.econn(dest)
	ec.alpha = (1-p.gain)*ec.alpha + p.gain*percent

	p.tick++
	if p.tick < p.period {
		return
	}
	p.tick = 0

	c := p.TCPLike.conn(dest)
	c.cwnd = c.cwnd * (1 - ec.alpha/2)
	if c.cwnd < p.TCPLike.mss {
		c.cwnd = p.TCPLike.mss
	}
	c.ssthresh = c.cwnd
}

// StampOutgoing marks f as congestion-experienced once put-queue occupancy
// (less its reserved headroom) exceeds the configured threshold.
func (ECN) StampOutgoing(f *flit.Flit, putQueueOccupancy, reserved, threshold int) {
	if putQueueOccupancy-reserved > threshold {
		f.ECNCongestionDetected = true
	}
}

// Alpha exposes the current EWMA for diagnostics/tests.
func (p *ECN) Alpha(dest int) float64 { return p.econn(dest).alpha }
