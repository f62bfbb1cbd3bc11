package endpoint

import "time"

// simEpoch anchors the conversion between a simulated Cycle count and the
// time.Time fields carried on flit.Flit (§3): cycle N is simEpoch+N
// nanoseconds. The simulation never reads wall-clock time, only relative
// ordering, so the choice of epoch is arbitrary.
var simEpoch = time.Unix(0, 0).UTC()

func timeFromCycle(c Cycle) time.Time { return simEpoch.Add(time.Duration(c)) }

func cycleFromTime(t time.Time) Cycle { return Cycle(t.Sub(simEpoch)) }
