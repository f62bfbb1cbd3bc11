// Package demo provides a minimal in-process fabric and traffic manager so
// cmd/endpointsim can run a smoke-test simulation without a real router
// model: two endpoints exchanging flits through in-memory inboxes. It is not a
// model of routing or contention, only enough of the fabric.Network and
// trafficmgr interfaces to drive the transport layer end to end.
package demo

import (
	"math/rand"
	"sync"

	"github.com/booksim-go/endpoint/pkg/fabric"
	"github.com/booksim-go/endpoint/pkg/flit"
	"github.com/booksim-go/endpoint/pkg/trafficmgr"
)

// LoopbackFabric is a fabric.Network over a fixed set of nodes, delivering
// every written flit to its destination's inbox immediately, with no latency,
// contention or credit modeling.
type LoopbackFabric struct {
	mu      sync.Mutex
	inboxes [][]*flit.Flit
	latency int
}

// NewLoopbackFabric builds a fabric for the given node count.
func NewLoopbackFabric(nodes, latency int) *LoopbackFabric {
	return &LoopbackFabric{inboxes: make([][]*flit.Flit, nodes), latency: latency}
}

func (n *LoopbackFabric) ReadFlit(subnet, node int) (*flit.Flit, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.inboxes[node]
	if len(q) == 0 {
		return nil, false
	}
	f := q[0]
	n.inboxes[node] = q[1:]
	return f, true
}

func (n *LoopbackFabric) ReadCredit(subnet, node int) (fabric.Credit, bool) {
	return fabric.Credit{}, false
}

// WriteFlit delivers f to its destination's inbox immediately; there is no
// per-cycle latency model in the loopback (InjectLatency reports it
// separately for callers that want to account for it themselves).
func (n *LoopbackFabric) WriteFlit(subnet int, node int, f *flit.Flit) {
	if f.Dest < 0 || f.Dest >= len(n.inboxes) {
		return
	}
	n.mu.Lock()
	n.inboxes[f.Dest] = append(n.inboxes[f.Dest], f)
	n.mu.Unlock()
}

func (n *LoopbackFabric) WriteCredit(subnet int, node int, c fabric.Credit) {}

func (n *LoopbackFabric) InjectLatency(node int) int       { return n.latency }
func (n *LoopbackFabric) InjectCreditLatency(node int) int { return n.latency }

// UniformInjector generates a WRITE_REQUEST with fixed probability per
// cycle, the simplest traffic process in the reference's injection-process
// family (Bernoulli traffic).
type UniformInjector struct {
	Rate float64
	rng  *rand.Rand
}

// NewUniformInjector builds an injector with a deterministic seed so demo
// runs are reproducible.
func NewUniformInjector(rate float64, seed int64) *UniformInjector {
	return &UniformInjector{Rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (u *UniformInjector) ShouldGenerate(cl int, now int64) trafficmgr.GenerateIntent {
	if u.rng.Float64() < u.Rate {
		return trafficmgr.IntentWriteRequest
	}
	return trafficmgr.IntentNone
}

func (u *UniformInjector) IntendedLoad(cl int) float64 { return u.Rate }

// PeerPattern sends every node's traffic to one fixed peer, for a two-node
// smoke test.
type PeerPattern struct{ Peer int }

func (p PeerPattern) Destination(src, cl int) int { return p.Peer }

// FixedSizeFactory produces a fixed-size opaque payload for every message.
type FixedSizeFactory struct{ Size int }

type payload struct{ size int }

func (p payload) Size() int { return p.size }

func (f FixedSizeFactory) NewMessage(cl int, size int) flit.Payload {
	return payload{size: size}
}

// Manager is a no-op trafficmgr.Manager: this demo doesn't track in-flight
// totals or do anything on retirement beyond counting. cmd/endpointsim steps
// both endpoints concurrently via errgroup and both can retire a flit in the
// same round, so RetireFlit must be safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	Retired int
}

func (m *Manager) TotalInFlightFlits(cl int) int    { return 0 }
func (m *Manager) MeasuredInFlightFlits(cl int) int { return 0 }

func (m *Manager) RetireFlit(f *flit.Flit, atNode int) {
	m.mu.Lock()
	m.Retired++
	m.mu.Unlock()
}
