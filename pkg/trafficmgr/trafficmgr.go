// Package trafficmgr declares the interfaces an endpoint consumes from the
// traffic manager: in-flight flit accounting, the injection process, the
// traffic pattern, and the workload-message factory (§6). All four are
// external collaborators queried only during new-packet generation or on
// retirement; none of their internals are in scope for this module.
package trafficmgr

import "github.com/booksim-go/endpoint/pkg/flit"

// GenerateIntent is the result of asking an injection process whether to
// generate a packet this cycle (§4.2).
type GenerateIntent int

const (
	// IntentReplyReady means a previously queued reply is ready to send.
	IntentReplyReady GenerateIntent = -1
	// IntentNone means no packet should be generated this cycle.
	IntentNone GenerateIntent = 0
	// IntentReadRequest requests a new READ_REQUEST.
	IntentReadRequest GenerateIntent = 1
	// IntentWriteRequest requests a new WRITE_REQUEST.
	IntentWriteRequest GenerateIntent = 2
)

// InjectionProcess decides, for one traffic class, whether and what kind of
// packet to generate this cycle (§4.2).
type InjectionProcess interface {
	// ShouldGenerate returns the generation intent for traffic class cl at
	// the given simulated time, consulting the configured injection rate
	// and pattern.
	ShouldGenerate(cl int, now int64) GenerateIntent

	// IntendedLoad reports the class's target load as a fraction of link
	// capacity in [0,1]; 1.0 triggers the "force generation" rule in §4.2
	// when normal generation declines but queues are empty.
	IntendedLoad(cl int) float64
}

// TrafficPattern supplies destinations for generated packets.
type TrafficPattern interface {
	Destination(src, cl int) int
}

// WorkloadMessageFactory builds payload handles and sizes for generated
// packets; the endpoint treats the result as an opaque flit.Payload.
type WorkloadMessageFactory interface {
	NewMessage(cl int, size int) flit.Payload
}

// Manager is the subset of the traffic manager's bookkeeping surface an
// endpoint calls directly: in-flight accounting and retirement (§6).
type Manager interface {
	// TotalInFlightFlits reports the count of flits generated but not yet
	// retired for class cl, across the whole simulation.
	TotalInFlightFlits(cl int) int

	// MeasuredInFlightFlits is the same count restricted to the measurement
	// (steady-state) window.
	MeasuredInFlightFlits(cl int) int

	// RetireFlit notifies the manager that f has been fully accounted for
	// at atNode: its OPB residency (if any) has ended and its identity may
	// be reclaimed.
	RetireFlit(f *flit.Flit, atNode int)
}
