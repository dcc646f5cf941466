// Package wire defines the message set exchanged between nodes (over
// net/rpc on the TCP transaction port), between bully listeners (over
// UDP), and between branch listeners and their coffee-machine clients
// (over UDP). Nothing in this package holds state; it is pure data.
package wire

import "fmt"

// Kind distinguishes a credit (Add) from a debit (Sub).
type Kind int

const (
	Add Kind = iota
	Sub
)

func (k Kind) String() string {
	if k == Add {
		return "Add"
	}
	return "Sub"
}

// TxID is globally unique without coordination: the originating
// node id paired with that node's local monotonic counter.
type TxID struct {
	Origin int
	Seq    uint64
}

func (t TxID) String() string { return fmt.Sprintf("%d-%d", t.Origin, t.Seq) }

// Zero reports whether this is the unset TxID.
func (t TxID) Zero() bool { return t.Origin == 0 && t.Seq == 0 }

// --- Node <-> Node TCP messages (net/rpc Args/Reply pairs) ---
//
// Prepare/Yes and Commit/Okey and AbortAll/OkeyAbort are each a
// distinct message pair in opposite directions. Over net/rpc, each
// pair becomes a single synchronous call: the callee's reply on the
// same round trip carries exactly the information the
// opposite-direction message would have.

// StartArgs is sent origin -> coordinator to begin a debit.
type StartArgs struct {
	TxID      TxID
	AccountID uint64
	Amount    int64
	OriginID  int
}
type StartReply struct{}

// PrepareArgs is sent coordinator -> peers (including the origin).
// PrepareReply carries the peer's vote back on the same round trip:
// Vote true is a Yes vote.
type PrepareArgs struct {
	TxID      TxID
	AccountID uint64
	Amount    int64
	Kind      Kind
}
type PrepareReply struct {
	Vote bool
}

// ExecuteArgs is sent coordinator -> origin once every vote is in.
type ExecuteArgs struct {
	TxID TxID
}
type ExecuteReply struct{}

// FinishArgs is sent origin -> coordinator: the debit's brew step
// succeeded (Sub) or a credit is ready to broadcast (Add).
type FinishArgs struct {
	TxID      TxID
	Kind      Kind
	AccountID uint64
	Amount    int64
}
type FinishReply struct{}

// AbortArgs is sent origin -> coordinator: the debit's brew step
// failed.
type AbortArgs struct {
	TxID      TxID
	AccountID uint64
}
type AbortReply struct{}

// Reason classifies why a transaction was aborted, carried on
// AbortAllArgs so the origin can surface the right client error.
type Reason int

const (
	ReasonBrewFailed Reason = iota
	ReasonInsufficientFunds
	ReasonTimeout
)

// CommitArgs is sent coordinator -> peers (including the origin).
// CommitReply carries back the peer's Okey acknowledgement. A credit
// is applied locally at its origin
// before the coordinator ever sees it, so OriginID lets the origin
// recognize and skip its own broadcast instead of crediting the
// account twice.
type CommitArgs struct {
	TxID      TxID
	Kind      Kind
	AccountID uint64
	Amount    int64
	OriginID  int
}
type CommitReply struct {
	Ack bool
}

// AbortAllArgs is sent coordinator -> peers (including the origin).
// AbortAllReply carries back the peer's OkeyAbort acknowledgement.
type AbortAllArgs struct {
	TxID      TxID
	AccountID uint64
	Reason    Reason
}
type AbortAllReply struct {
	Ack bool
}

// DisconnectArgs is sent node -> coordinator: a self-announce used
// when a still-connected non-coordinator node is told to disconnect,
// so the coordinator can purge it without waiting on TCP EOF.
type DisconnectArgs struct {
	NodeID int
}
type DisconnectReply struct{}

// ConnectArgs is sent node -> coordinator on reconnect: it re-admits
// NodeID to active_peers, undoing whatever purge happened while the
// node was unreachable.
type ConnectArgs struct {
	NodeID int
}
type ConnectReply struct{}

// --- Bully UDP messages ---

type BullyType int

const (
	Election BullyType = iota
	Okey
	CoordinatorMsg
	Ping
	PingCord
)

// BullyMsg is gob-encoded directly onto a UDP datagram. CoordID is
// only meaningful on CoordinatorMsg and PingCord.
type BullyMsg struct {
	Type      BullyType
	SenderID  int
	CoordID   int
}

// --- Branch UDP messages ---

// ClientStatus is the typed outcome returned to a coffee-machine
// client.
type ClientStatus int

const (
	StatusOk ClientStatus = iota
	StatusInsufficientFunds
	StatusOffline
	StatusCoordinatorUnavailable
	StatusBrewFailed
	StatusTimeout
	// StatusInvalid covers node-local validation failures (amount <= 0)
	// that return immediately without touching the network.
	StatusInvalid
)

func (s ClientStatus) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusInsufficientFunds:
		return "InsufficientFunds"
	case StatusOffline:
		return "Offline"
	case StatusCoordinatorUnavailable:
		return "CoordinatorUnavailable"
	case StatusBrewFailed:
		return "BrewFailed"
	case StatusTimeout:
		return "Timeout"
	case StatusInvalid:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// ClientRequest is the coffee-machine's order submission.
type ClientRequest struct {
	CorrID    uint64
	AccountID uint64
	Amount    int64
	Kind      Kind
}

// ClientReply answers a ClientRequest by CorrID.
type ClientReply struct {
	CorrID uint64
	Status ClientStatus
}

// ControlKind is the fault-injector's control vocabulary.
type ControlKind int

const (
	ControlDisconnect ControlKind = iota
	ControlConnect
)

// ControlRequest is the fault-injector's Disconnect/Connect datagram,
// sent to the same branch port as client orders and distinguished by
// Envelope.IsControl.
type ControlRequest struct {
	Kind ControlKind
}

// Envelope is the single type gob-encoded onto the branch UDP port so
// one socket can serve both coffee-machine orders and fault-injector
// control traffic.
type Envelope struct {
	IsControl bool
	Request   ClientRequest
	Control   ControlRequest
}
