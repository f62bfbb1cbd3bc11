package congestion

import "github.com/booksim-go/endpoint/pkg/flit"

// myPolicyConn is the per-destination initiator-side state from the
// reference's mypolicy_host_control_connection_record (§3 "Congestion state
// per peer").
type myPolicyConn struct {
	haltActive                bool
	haltState                 int
	sendAllowanceCounterSize  int
	mustRetryAtLeastOnePacket bool
	lastValidAckSeqNumRecvd   int64
	lastAckTime               int64
	haveAck                   bool
}

// MyPolicy implements the halt-state / send-allowance congestion policy of
// §4.11.
type MyPolicy struct {
	conns map[int]*myPolicyConn

	maxPacketSendPerAck        int
	maxAckBeforeSendPacket     int // negative saturation bound
	timeBeforeHaltStateTimeout int64

	// suppressDuplicateAckMax and the suppress fields carry the duplicate-ACK
	// suppression window supplemented from original_source/ (SPEC_FULL.md
	// item 2): once this many consecutive incremental ACKs (counted across
	// all destinations) have been seen, suppressActive is set and
	// suppressTarget records the latest destination; any duplicate ACK
	// clears them. Nothing reads these fields, so no duplicate ACK is
	// actually suppressed.
	suppressDuplicateAckMax int
	suppressActive          bool
	suppressTarget          int
	consecutiveIncremental  int

	// curTime mirrors the most recent Tick's now, so OnIncrementalAck (which
	// carries no time parameter of its own) can still stamp lastAckTime.
	curTime int64
}

// NewMyPolicy builds a MyPolicy from its configured constants (§6).
func NewMyPolicy(maxPacketSendPerAck, maxAckBeforeSendPacket int, timeBeforeHaltStateTimeout int64, suppressDuplicateAckMax int) *MyPolicy {
	return &MyPolicy{
		conns:                      make(map[int]*myPolicyConn),
		maxPacketSendPerAck:        maxPacketSendPerAck,
		maxAckBeforeSendPacket:     maxAckBeforeSendPacket,
		timeBeforeHaltStateTimeout: timeBeforeHaltStateTimeout,
		suppressDuplicateAckMax:    suppressDuplicateAckMax,
	}
}

func (p *MyPolicy) conn(dest int) *myPolicyConn {
	c, ok := p.conns[dest]
	if !ok {
		// New destinations start halted, as the reference does: no data
		// may flow until the first ACK opens the window.
		c = &myPolicyConn{haltActive: true}
		p.conns[dest] = c
	}
	return c
}

func (MyPolicy) Name() string { return "mypolicy" }

// AdmitData implements the halt gate of §4.4: "A packet is blocked when
// halt_active && send_allowance_counter_size < size && !must_retry...".
// A successful admission consumes size from the allowance.
func (p *MyPolicy) AdmitData(dest int, size int) bool {
	c := p.conn(dest)
	blocked := c.haltActive && c.sendAllowanceCounterSize < size && !c.mustRetryAtLeastOnePacket
	if blocked {
		return false
	}
	if c.mustRetryAtLeastOnePacket {
		c.mustRetryAtLeastOnePacket = false
	} else {
		c.sendAllowanceCounterSize -= size
		if c.sendAllowanceCounterSize < 0 {
			c.sendAllowanceCounterSize = 0
		}
	}
	return true
}

// OnIncrementalAck advances halt_state, opening the flood gate once it
// saturates at max_packet_send_per_ack (§4.11).
func (p *MyPolicy) OnIncrementalAck(dest int, ackedBytes int) {
	c := p.conn(dest)
	c.haveAck = true
	c.lastAckTime = p.curTime
	c.sendAllowanceCounterSize += ackedBytes
	if c.haltState < p.maxPacketSendPerAck {
		c.haltState++
	}
	if c.haltState >= p.maxPacketSendPerAck {
		c.haltActive = false
		c.mustRetryAtLeastOnePacket = false
	}
	p.consecutiveIncremental++
	if p.consecutiveIncremental >= p.suppressDuplicateAckMax {
		p.suppressActive = true
		p.suppressTarget = dest
	}
}

// OnDuplicateAck retracts halt_state; saturating at
// max_ack_before_send_packet (negative) keeps the gate partially closed.
func (p *MyPolicy) OnDuplicateAck(dest int) {
	c := p.conn(dest)
	p.consecutiveIncremental = 0
	p.suppressActive = false
	if c.haltState > p.maxAckBeforeSendPacket {
		c.haltState--
	}
	if c.haltState <= p.maxAckBeforeSendPacket {
		c.haltActive = true
	}
}

// OnNack marks the destination as needing at least one forced retry once
// the halt window reopens, matching must_retry_at_least_one_packet's role
// of guaranteeing a replay isn't starved by the halt gate.
func (p *MyPolicy) OnNack(dest int) {
	p.conn(dest).mustRetryAtLeastOnePacket = true
}

func (MyPolicy) OnCongestionMark(int, float64) {}

func (MyPolicy) StampOutgoing(*flit.Flit, int, int, int) {}

func (p *MyPolicy) MustRetryAtLeastOnePacket(dest int) bool {
	return p.conn(dest).mustRetryAtLeastOnePacket
}

// Tick resets a destination's halt state if no ACK has arrived within
// time_before_halt_state_timeout (§4.11).
func (p *MyPolicy) Tick(now int64) {
	p.curTime = now
	for _, c := range p.conns {
		if c.haltActive && c.haveAck && now-c.lastAckTime > p.timeBeforeHaltStateTimeout {
			c.haltState = 0
			c.sendAllowanceCounterSize = 0
			c.mustRetryAtLeastOnePacket = true
		}
	}
}

// HaltState exposes the current halt_state for diagnostics/tests (§8
// scenario 5).
func (p *MyPolicy) HaltState(dest int) int { return p.conn(dest).haltState }

// HaltActive exposes halt_active for diagnostics/tests.
func (p *MyPolicy) HaltActive(dest int) bool { return p.conn(dest).haltActive }
