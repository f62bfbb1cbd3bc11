// Package congestion implements the host-congestion-control policy engine
// of §4.11: none, mypolicy, tcp-like, ECN, and Homa-like. Each policy keeps
// its own per-destination state and is consulted by the metering gate
// (§4.4) before a data-bearing packet may be admitted to the injection
// arbiter, and is updated as ACKs/NACKs arrive (§4.5, §4.6).
package congestion

import "github.com/booksim-go/endpoint/pkg/flit"

// Policy is the congestion-control interface every implementation in this
// package satisfies.
type Policy interface {
	Name() string

	// AdmitData reports whether a data-bearing packet of size bytes may be
	// sent to dest right now (the "halt-gate" / "cwnd-gate" of §4.4).
	AdmitData(dest int, size int) bool

	// OnIncrementalAck is called when a non-duplicate cumulative ACK for
	// dest advances the acknowledged sequence by ackedBytes worth of data.
	OnIncrementalAck(dest int, ackedBytes int)

	// OnDuplicateAck is called when a duplicate/no-progress ACK arrives for
	// dest (mypolicy's "duplicate-ack congestion bit", §4.11).
	OnDuplicateAck(dest int)

	// OnNack is called when a NACK/SACK gap is detected for dest.
	OnNack(dest int)

	// OnCongestionMark reports a fraction of congestion-marked flits
	// observed for dest (ECN, §4.11); the endpoint calls it with 1.0 for
	// each received ACK-bearing flit that carries an ECN mark. Policies
	// that don't use ECN ignore it.
	OnCongestionMark(dest int, percent float64)

	// StampOutgoing decorates an outgoing flit with this policy's
	// congestion signal (ECN mark) given the current put-queue pressure.
	StampOutgoing(f *flit.Flit, putQueueOccupancy, reserved, threshold int)

	// MustRetryAtLeastOnePacket reports whether dest's halt gate should be
	// bypassed once to guarantee forward progress after a long stall.
	MustRetryAtLeastOnePacket(dest int) bool

	// Tick advances any time-based state (mypolicy's halt timeout). ECN
	// counts its update period in OnCongestionMark, not here.
	Tick(now int64)
}

// None applies only the rate-limit / OPB conflict gates handled elsewhere;
// it never blocks on congestion.
type None struct{}

func (None) Name() string                                                        { return "none" }
func (None) AdmitData(int, int) bool                                              { return true }
func (None) OnIncrementalAck(int, int)                                            {}
func (None) OnDuplicateAck(int)                                                   {}
func (None) OnNack(int)                                                           {}
func (None) OnCongestionMark(int, float64)                                        {}
func (None) StampOutgoing(*flit.Flit, int, int, int)                              {}
func (None) MustRetryAtLeastOnePacket(int) bool                                   { return false }
func (None) Tick(int64)                                                          {}
