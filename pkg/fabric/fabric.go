// Package fabric declares the interface the endpoint uses to talk to the
// external collaborator that models routers, virtual channels, flit
// transport, and credit returns (§6). The fabric itself is out of scope for
// this module; only the boundary the endpoint depends on lives here.
package fabric

import "github.com/booksim-go/endpoint/pkg/flit"

// Credit models a returned virtual-channel credit.
type Credit struct {
	Subnet int
	VC     int
	Count  int
}

// Network is the per-subnet fabric interface consumed by an endpoint every
// cycle (§4.1, §6).
type Network interface {
	// ReadFlit pops one ejected flit targeting node, if any arrived this cycle.
	ReadFlit(subnet, node int) (*flit.Flit, bool)

	// ReadCredit pops one returned credit for node, if any arrived this cycle.
	ReadCredit(subnet, node int) (Credit, bool)

	// WriteFlit injects one flit at node.
	WriteFlit(subnet int, node int, f *flit.Flit)

	// WriteCredit returns one credit to node.
	WriteCredit(subnet int, node int, c Credit)

	// InjectLatency is the minimum cycles from injection to the flit
	// leaving this node's injection buffer.
	InjectLatency(node int) int

	// InjectCreditLatency is the minimum cycles for a credit return to
	// reach node after being written.
	InjectCreditLatency(node int) int
}
