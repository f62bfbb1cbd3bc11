package congestion

import "github.com/booksim-go/endpoint/pkg/flit"

// tcpLikeConn is the per-destination cwnd/ssthresh state (§4.11 "TCP-like").
type tcpLikeConn struct {
	cwnd      float64
	ssthresh  float64
	inFlight  int
	dupAcks   int
}

// TCPLike implements additive-increase / multiplicative-decrease congestion
// control modeled on classic TCP Reno slow-start and congestion avoidance.
type TCPLike struct {
	conns map[int]*tcpLikeConn

	mss          float64
	initCwnd     float64
	initSsthresh float64
}

// NewTCPLike builds a TCPLike policy from its configured MSS (§6).
func NewTCPLike(mss int) *TCPLike {
	return &TCPLike{
		conns:        make(map[int]*tcpLikeConn),
		mss:          float64(mss),
		initCwnd:     float64(mss),
		initSsthresh: 64 * float64(mss),
	}
}

func (p *TCPLike) conn(dest int) *tcpLikeConn {
	c, ok := p.conns[dest]
	if !ok {
		c = &tcpLikeConn{cwnd: p.initCwnd, ssthresh: p.initSsthresh}
		p.conns[dest] = c
	}
	return c
}

func (TCPLike) Name() string { return "tcp-like" }

// AdmitData blocks once the in-flight byte count would exceed cwnd.
func (p *TCPLike) AdmitData(dest int, size int) bool {
	c := p.conn(dest)
	if float64(c.inFlight+size) > c.cwnd {
		return false
	}
	c.inFlight += size
	return true
}

// OnIncrementalAck grows cwnd: exponentially during slow-start, by one MSS
// per RTT-worth of acked bytes during congestion avoidance.
func (p *TCPLike) OnIncrementalAck(dest int, ackedBytes int) {
	c := p.conn(dest)
	c.dupAcks = 0
	c.inFlight -= ackedBytes
	if c.inFlight < 0 {
		c.inFlight = 0
	}
	if c.cwnd < c.ssthresh {
		c.cwnd += float64(ackedBytes)
	} else {
		c.cwnd += p.mss * float64(ackedBytes) / c.cwnd
	}
}

// OnDuplicateAck counts duplicates; three trigger a fast-retransmit style
// halving, mirroring TCP Reno.
func (p *TCPLike) OnDuplicateAck(dest int) {
	c := p.conn(dest)
	c.dupAcks++
	if c.dupAcks == 3 {
		p.halve(c)
	}
}

// OnNack halves cwnd and sets ssthresh to the halved value; neither falls
// below one MSS.
func (p *TCPLike) OnNack(dest int) {
	p.halve(p.conn(dest))
}

func (p *TCPLike) halve(c *tcpLikeConn) {
	c.ssthresh = c.cwnd / 2
	if c.ssthresh < p.mss {
		c.ssthresh = p.mss
	}
	c.cwnd = c.ssthresh
	c.dupAcks = 0
}

func (TCPLike) OnCongestionMark(int, float64) {}

func (TCPLike) StampOutgoing(*flit.Flit, int, int, int) {}

func (TCPLike) MustRetryAtLeastOnePacket(int) bool { return false }

func (TCPLike) Tick(int64) {}

// Cwnd exposes the current congestion window for diagnostics/tests.
func (p *TCPLike) Cwnd(dest int) float64 { return p.conn(dest).cwnd }
