package endpoint

import (
	"github.com/google/uuid"

	"github.com/booksim-go/endpoint/pkg/flit"
	"github.com/booksim-go/endpoint/pkg/trafficmgr"
)

// Cycle is a simulated time coordinate. The reference uses a 999999999
// sentinel to mean "unset"; here that's modeled as a zero Option, per the
// design notes in spec.md §9.
type Cycle int64

// OptCycle is "no time recorded" made explicit instead of a sentinel.
type OptCycle struct {
	set   bool
	value Cycle
}

// Set returns an OptCycle holding v.
func Set(v Cycle) OptCycle { return OptCycle{set: true, value: v} }

// None returns an unset OptCycle.
func None() OptCycle { return OptCycle{} }

// Get returns the held value and whether one is set.
func (o OptCycle) Get() (Cycle, bool) { return o.value, o.set }

// Before reports whether o holds a value strictly before now.
func (o OptCycle) Before(now Cycle) bool { return o.set && o.value < now }

// AtOrBefore reports whether o holds a value at or before now.
func (o OptCycle) AtOrBefore(now Cycle) bool { return o.set && o.value <= now }

// SimulationContext is the explicit handle every endpoint method threads
// through instead of touching package-level mutable globals (cur_id,
// cur_pid, per-class in-flight maps in the reference). One instance is
// shared by every endpoint in a simulation run.
type SimulationContext struct {
	Now     Cycle
	Manager trafficmgr.Manager
}

// NewFlitID allocates a globally-unique flit identity. The reference
// increments a bare package-level counter (cur_id); a shared counter import
// would force every endpoint to serialize on it, so identities are instead
// drawn from a collision-free generator (§9 domain-stack note on
// google/uuid).
func (sc *SimulationContext) NewFlitID() uuid.UUID { return uuid.New() }

// NewPacketID allocates a globally-unique packet identity (cur_pid in the
// reference).
func (sc *SimulationContext) NewPacketID() uuid.UUID { return uuid.New() }

// retireFlit notifies the traffic manager that f has been fully accounted
// for at node and its storage may be reclaimed.
func (sc *SimulationContext) retireFlit(f *flit.Flit, node int) {
	if sc.Manager != nil {
		sc.Manager.RetireFlit(f, node)
	}
}
