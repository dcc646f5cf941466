// Package roles breaks the dependency cycle between the node actor and
// the coordinator actor: each needs to call the other when both roles
// happen to live in the same process, but neither package imports the
// other. Each actor exposes its mailbox-serialized entry points through
// one of these interfaces; the other actor's colocated reference is
// set and cleared as the coordinator role moves around the cluster.
package roles

import wire "coffeewards/Node/Wire"

// LocalNode is how a colocated coordinator actor reaches this
// physical node's own node actor: the same calls a remote peer would
// make over net/rpc, taken in-process instead of via a TCP loopback.
type LocalNode interface {
	Prepare(wire.PrepareArgs) wire.PrepareReply
	Execute(wire.ExecuteArgs) wire.ExecuteReply
	Commit(wire.CommitArgs) wire.CommitReply
	AbortAll(wire.AbortAllArgs) wire.AbortAllReply
}

// LocalCoordinator is how a colocated node actor reaches this
// physical node's own coordinator actor, when it holds the role.
type LocalCoordinator interface {
	Start(wire.StartArgs)
	Finish(wire.FinishArgs)
	Abort(wire.AbortArgs)
	Disconnect(wire.DisconnectArgs)
	Connect(wire.ConnectArgs)
}
