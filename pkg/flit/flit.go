// Package flit defines the atomic transport unit carried across the fabric
// and the wire-level fields an endpoint's reliability protocol depends on.
package flit

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of flits an endpoint can emit or receive.
type Type int

const (
	AnyType Type = iota
	ReadRequest
	ReadReply
	WriteRequest
	WriteReply
	CtrlType
	RgetRequest
	RgetGetRequest
	RgetGetReply
	WriteRequestNoop
)

func (t Type) String() string {
	switch t {
	case ReadRequest:
		return "READ_REQUEST"
	case ReadReply:
		return "READ_REPLY"
	case WriteRequest:
		return "WRITE_REQUEST"
	case WriteReply:
		return "WRITE_REPLY"
	case CtrlType:
		return "CTRL"
	case RgetRequest:
		return "RGET_REQUEST"
	case RgetGetRequest:
		return "RGET_GET_REQUEST"
	case RgetGetReply:
		return "RGET_GET_REPLY"
	case WriteRequestNoop:
		return "WRITE_REQUEST_NOOP"
	default:
		return "ANY_TYPE"
	}
}

// IsData reports whether a flit of this type carries payload whose arrival
// must be accounted for by the put wait queue and the congestion policies
// that meter outbound data (§4.3, §4.11 of the endpoint spec).
func (t Type) IsData() bool {
	switch t {
	case WriteRequest, WriteRequestNoop, ReadReply, RgetGetReply, AnyType:
		return true
	default:
		return false
	}
}

// NoSeqNum is the sentinel used in place of the reference's -1 for an absent
// ack/nack sequence number.
const NoSeqNum int64 = -1

// Payload is an opaque handle to a workload message; the endpoint never
// inspects its contents, only its size.
type Payload interface {
	Size() int
}

// Flit is the atomic transport unit. Field names follow §3 of the endpoint
// spec; Go-idiomatic casing is used throughout instead of the reference's
// snake_case members.
type Flit struct {
	ID       uuid.UUID
	PacketID uuid.UUID

	Head bool
	Tail bool
	Size int // total flits in the packet this flit belongs to

	// DataSize is the transaction's payload size in bytes, distinct from
	// Size above: it is what the put wait queue, host-bandwidth drain, and
	// byte-delivery counters actually budget against (§4.9).
	DataSize int

	Src   int
	Dest  int
	Type  Type
	VC    int
	Subnet int
	Class int
	Priority int

	CTime time.Time // creation time
	ITime time.Time // (re)injection time
	ATime time.Time // arrival time at destination

	PacketSeqNum int64

	AckSeqNum  int64 // NoSeqNum if absent
	NackSeqNum int64 // NoSeqNum if absent

	SACK    bool
	SACKVec uint64

	ResponseToSeqNum int64

	ReadRequestedDataSize int

	ECNCongestionDetected bool

	TransmitAttempts int

	AckReceived      bool
	ResponseReceived bool
	AckReceivedTime  time.Time

	ExpireTime time.Time

	Payload Payload
}

// Clone returns a shallow copy suitable for re-injection: the reference
// re-emits a fresh flit object on every (re)transmission while the OPB keeps
// its own resident copy.
func (f *Flit) Clone() *Flit {
	cp := *f
	return &cp
}

// ResetForWire clears fields that must never leak onto the fabric: body
// flits only carry destination for internal bookkeeping before injection
// (§4.2) and must have it reset to -1 once they leave the endpoint.
func (f *Flit) ResetForWire() {
	if !f.Head {
		f.Dest = -1
	}
}
