// Package actor is the node actor: one goroutine owning one account
// store, reached only through its mailbox — a single goroutine
// draining a channel of incoming requests one at a time, with no
// locking beyond the channel itself. Every node actor holds a full
// copy of every account and votes/commits through 2PC rather than
// owning a partition outright.
package actor

import (
	configurations "coffeewards/Configurations"
	ledgererr "coffeewards/Ledgererr"
	bully "coffeewards/Node/Bully"
	logger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	roles "coffeewards/Node/Roles"
	store "coffeewards/Node/Store"
	wire "coffeewards/Node/Wire"
)

// DebitState is a pending debit's position in the state machine;
// Idle is implicit (no entry exists yet).
type DebitState int

const (
	StateAwaitExecute DebitState = iota
	StateBrewing
	StateAwaitCommit
)

type pendingDebit struct {
	txID      wire.TxID
	accountID uint64
	amount    int64
	state     DebitState
}

type msgSubmit struct {
	accountID uint64
	amount    int64
	kind      wire.Kind
	resp      chan error
}

type msgPrepare struct {
	args wire.PrepareArgs
	resp chan wire.PrepareReply
}

type msgExecute struct {
	args wire.ExecuteArgs
	resp chan wire.ExecuteReply
}

type msgCommit struct {
	args wire.CommitArgs
	resp chan wire.CommitReply
}

type msgAbortAll struct {
	args wire.AbortAllArgs
	resp chan wire.AbortAllReply
}

type msgBrewDone struct {
	txID wire.TxID
	ok   bool
}

type msgSetConnected struct {
	connected bool
	done      chan struct{}
}

type msgSetCoordinatorID struct{ id int }

type msgSetLocalCoordinator struct{ coord roles.LocalCoordinator }

type msgPeerLost struct{ nodeID int }

type msgPingReceived struct{ senderID int }

type msgReplayCredit struct {
	accountID uint64
	amount    int64
	label     string
}

type msgSetBrew struct{ fn func() bool }

type msgNotifyConnect struct{}

type msgSetCoordinatorDisconnectHook struct{ fn func() }

type msgSetReconnectHook struct{ fn func() }

type queryResult struct {
	coordinatorID int
	connected     bool
}

type msgQuery struct{ resp chan queryResult }

// Node is the per-process node actor. All its fields below run() are
// touched only from the run() goroutine; every other method hands a
// message across the mailbox channel instead of reading or writing
// them directly.
type Node struct {
	cfg   configurations.Config
	log   *logger.Logger
	store *store.Store
	bully *bully.Listener

	mailbox chan interface{}

	// peers is built once at process startup and never mutated after;
	// it is shared, read-only, with this process's coordinator actor
	// (Node/Peer doc comment explains why this is safe).
	peers map[int]*peer.Handler

	brew func() bool

	localCoordinator roles.LocalCoordinator
	coordinatorID    int
	connected        bool
	seq              uint64

	// onCoordinatorDisconnect and onReconnect let main() hook the
	// process-wide listener and coordinator-holder lifecycle into the
	// actor's own connect/disconnect transitions without either
	// package importing the other.
	onCoordinatorDisconnect func()
	onReconnect             func()

	pending map[wire.TxID]*pendingDebit
	waiters map[wire.TxID]chan error

	// applied records every Commit TxID already applied to the store,
	// so a redelivered Commit (coordinator retry, or a broadcast that
	// raced a reconnect) no-ops instead of double-applying.
	applied map[wire.TxID]bool
}

// New constructs a node actor and starts its mailbox loop. peers must
// contain a Handler for every other configured node id, and must not
// be mutated afterward by any caller.
func New(cfg configurations.Config, log *logger.Logger, st *store.Store, bl *bully.Listener, peers map[int]*peer.Handler) *Node {
	n := &Node{
		cfg:       cfg,
		log:       log,
		store:     st,
		bully:     bl,
		peers:     peers,
		mailbox:   make(chan interface{}, 256),
		brew:      func() bool { return true },
		connected: true,
		pending:   make(map[wire.TxID]*pendingDebit),
		waiters:   make(map[wire.TxID]chan error),
		applied:   make(map[wire.TxID]bool),
	}
	bl.OnPing = func(senderID int) { n.mailbox <- msgPingReceived{senderID: senderID} }
	go n.run()
	return n
}

func (n *Node) run() {
	for raw := range n.mailbox {
		switch msg := raw.(type) {
		case msgSubmit:
			n.handleSubmit(msg)
		case msgPrepare:
			n.handlePrepare(msg)
		case msgExecute:
			n.handleExecute(msg)
		case msgCommit:
			n.handleCommit(msg)
		case msgAbortAll:
			n.handleAbortAll(msg)
		case msgBrewDone:
			n.handleBrewDone(msg)
		case msgSetConnected:
			n.handleSetConnected(msg)
		case msgSetCoordinatorID:
			if n.coordinatorID != msg.id {
				n.log.Log("[Node %d] coordinator is now %d", n.cfg.SelfID, msg.id)
			}
			n.coordinatorID = msg.id
		case msgSetLocalCoordinator:
			n.localCoordinator = msg.coord
		case msgPeerLost:
			n.handlePeerLost(msg)
		case msgPingReceived:
			if n.coordinatorID == n.cfg.SelfID {
				n.bully.ReplyPingCord(msg.senderID)
			}
		case msgReplayCredit:
			n.handleReplayCredit(msg)
		case msgSetBrew:
			n.brew = msg.fn
		case msgNotifyConnect:
			n.handleNotifyConnect()
		case msgSetCoordinatorDisconnectHook:
			n.onCoordinatorDisconnect = msg.fn
		case msgSetReconnectHook:
			n.onReconnect = msg.fn
		case msgQuery:
			msg.resp <- queryResult{coordinatorID: n.coordinatorID, connected: n.connected}
		}
	}
}

func (n *Node) nextTxID() wire.TxID {
	n.seq++
	return wire.TxID{Origin: n.cfg.SelfID, Seq: n.seq}
}

// --- Submit: the branch listener's only entry point ---

// Submit blocks until the order reaches a terminal outcome: applied
// (Add), committed or aborted (Sub).
func (n *Node) Submit(accountID uint64, amount int64, kind wire.Kind) error {
	resp := make(chan error, 1)
	n.mailbox <- msgSubmit{accountID: accountID, amount: amount, kind: kind, resp: resp}
	return <-resp
}

func (n *Node) handleSubmit(msg msgSubmit) {
	if msg.amount <= 0 {
		msg.resp <- ledgererr.ErrInvalidAmount
		return
	}

	if !n.connected {
		if msg.kind == wire.Sub {
			msg.resp <- ledgererr.ErrOffline
			return
		}
		if _, err := n.store.Credit(msg.accountID, msg.amount); err != nil {
			msg.resp <- err
			return
		}
		txID := n.nextTxID()
		if err := n.store.AppendOfflineCredit(txID.String(), msg.accountID, msg.amount); err != nil {
			n.log.Log("[Node %d] offline credit log failed: %v", n.cfg.SelfID, err)
		}
		n.log.Log("[Node %d] offline credit %s account=%d amount=%d", n.cfg.SelfID, txID, msg.accountID, msg.amount)
		msg.resp <- nil
		return
	}

	if msg.kind == wire.Add {
		txID := n.nextTxID()
		if _, err := n.store.Credit(msg.accountID, msg.amount); err != nil {
			msg.resp <- err
			return
		}
		n.log.Log("[Node %d] credit applied locally %s account=%d amount=%d", n.cfg.SelfID, txID, msg.accountID, msg.amount)
		if n.coordinatorID != 0 {
			n.dispatchFinish(n.coordinatorID, wire.FinishArgs{TxID: txID, Kind: wire.Add, AccountID: msg.accountID, Amount: msg.amount})
		}
		msg.resp <- nil
		return
	}

	if n.coordinatorID == 0 {
		msg.resp <- ledgererr.ErrCoordinatorUnavailable
		return
	}
	txID := n.nextTxID()
	n.pending[txID] = &pendingDebit{txID: txID, accountID: msg.accountID, amount: msg.amount, state: StateAwaitExecute}
	n.waiters[txID] = msg.resp
	n.dispatchStart(n.coordinatorID, wire.StartArgs{TxID: txID, AccountID: msg.accountID, Amount: msg.amount, OriginID: n.cfg.SelfID})
}

// --- RPC-gateway-facing entry points; satisfies roles.LocalNode ---

func (n *Node) Prepare(args wire.PrepareArgs) wire.PrepareReply {
	resp := make(chan wire.PrepareReply, 1)
	n.mailbox <- msgPrepare{args: args, resp: resp}
	return <-resp
}

func (n *Node) handlePrepare(msg msgPrepare) {
	vote := true
	if msg.args.Kind == wire.Sub {
		bal, err := n.store.Balance(msg.args.AccountID)
		vote = err == nil && bal >= msg.args.Amount
	}
	msg.resp <- wire.PrepareReply{Vote: vote}
}

func (n *Node) Execute(args wire.ExecuteArgs) wire.ExecuteReply {
	resp := make(chan wire.ExecuteReply, 1)
	n.mailbox <- msgExecute{args: args, resp: resp}
	return <-resp
}

func (n *Node) handleExecute(msg msgExecute) {
	pd, ok := n.pending[msg.args.TxID]
	if !ok {
		msg.resp <- wire.ExecuteReply{}
		return
	}
	pd.state = StateBrewing
	msg.resp <- wire.ExecuteReply{}

	brew, txID, mailbox := n.brew, msg.args.TxID, n.mailbox
	go func() {
		mailbox <- msgBrewDone{txID: txID, ok: brew()}
	}()
}

func (n *Node) handleBrewDone(msg msgBrewDone) {
	pd, ok := n.pending[msg.txID]
	if !ok {
		return
	}
	if n.coordinatorID == 0 {
		if resp, exists := n.waiters[msg.txID]; exists {
			resp <- ledgererr.ErrCoordinatorUnavailable
			delete(n.waiters, msg.txID)
		}
		delete(n.pending, msg.txID)
		return
	}
	if msg.ok {
		pd.state = StateAwaitCommit
		n.dispatchFinish(n.coordinatorID, wire.FinishArgs{TxID: pd.txID, Kind: wire.Sub, AccountID: pd.accountID, Amount: pd.amount})
	} else {
		n.dispatchAbort(n.coordinatorID, wire.AbortArgs{TxID: pd.txID, AccountID: pd.accountID})
	}
}

func (n *Node) Commit(args wire.CommitArgs) wire.CommitReply {
	resp := make(chan wire.CommitReply, 1)
	n.mailbox <- msgCommit{args: args, resp: resp}
	return <-resp
}

func (n *Node) handleCommit(msg msgCommit) {
	args := msg.args
	if n.applied[args.TxID] {
		n.log.Log("[Node %d] commit %s already applied, ignoring replay", n.cfg.SelfID, args.TxID)
		msg.resp <- wire.CommitReply{Ack: true}
		return
	}
	switch args.Kind {
	case wire.Sub:
		if _, err := n.store.Debit(args.AccountID, args.Amount); err != nil {
			n.log.Log("[Node %d] commit debit %s unexpectedly failed: %v", n.cfg.SelfID, args.TxID, err)
		}
	case wire.Add:
		if args.OriginID != n.cfg.SelfID {
			if _, err := n.store.Credit(args.AccountID, args.Amount); err != nil {
				n.log.Log("[Node %d] commit credit %s failed: %v", n.cfg.SelfID, args.TxID, err)
			}
		}
	}
	n.applied[args.TxID] = true
	if resp, ok := n.waiters[args.TxID]; ok {
		resp <- nil
		delete(n.waiters, args.TxID)
	}
	delete(n.pending, args.TxID)
	msg.resp <- wire.CommitReply{Ack: true}
}

func (n *Node) AbortAll(args wire.AbortAllArgs) wire.AbortAllReply {
	resp := make(chan wire.AbortAllReply, 1)
	n.mailbox <- msgAbortAll{args: args, resp: resp}
	return <-resp
}

func (n *Node) handleAbortAll(msg msgAbortAll) {
	args := msg.args
	if resp, ok := n.waiters[args.TxID]; ok {
		resp <- errorForReason(args.Reason)
		delete(n.waiters, args.TxID)
	}
	delete(n.pending, args.TxID)
	msg.resp <- wire.AbortAllReply{Ack: true}
}

func errorForReason(r wire.Reason) error {
	switch r {
	case wire.ReasonInsufficientFunds:
		return ledgererr.ErrInsufficientFunds
	case wire.ReasonTimeout:
		return ledgererr.ErrTimeout
	default:
		return ledgererr.ErrBrewFailed
	}
}

// --- dispatch to the coordinator, local or remote ---

func (n *Node) dispatchStart(coordID int, args wire.StartArgs) {
	if coordID == n.cfg.SelfID {
		if n.localCoordinator != nil {
			n.localCoordinator.Start(args)
		}
		return
	}
	handler, mailbox, log, selfID := n.peers[coordID], n.mailbox, n.log, n.cfg.SelfID
	go func() {
		var reply wire.StartReply
		if err := handler.Call("Coordinator.Start", args, &reply); err != nil {
			log.Log("[Node %d] Start to coordinator %d failed: %v", selfID, coordID, err)
			mailbox <- msgPeerLost{nodeID: coordID}
		}
	}()
}

func (n *Node) dispatchFinish(coordID int, args wire.FinishArgs) {
	if coordID == n.cfg.SelfID {
		if n.localCoordinator != nil {
			n.localCoordinator.Finish(args)
		}
		return
	}
	handler, mailbox, log, selfID := n.peers[coordID], n.mailbox, n.log, n.cfg.SelfID
	go func() {
		var reply wire.FinishReply
		if err := handler.Call("Coordinator.Finish", args, &reply); err != nil {
			log.Log("[Node %d] Finish to coordinator %d failed: %v", selfID, coordID, err)
			mailbox <- msgPeerLost{nodeID: coordID}
		}
	}()
}

func (n *Node) dispatchAbort(coordID int, args wire.AbortArgs) {
	if coordID == n.cfg.SelfID {
		if n.localCoordinator != nil {
			n.localCoordinator.Abort(args)
		}
		return
	}
	handler, mailbox, log, selfID := n.peers[coordID], n.mailbox, n.log, n.cfg.SelfID
	go func() {
		var reply wire.AbortReply
		if err := handler.Call("Coordinator.Abort", args, &reply); err != nil {
			log.Log("[Node %d] Abort to coordinator %d failed: %v", selfID, coordID, err)
			mailbox <- msgPeerLost{nodeID: coordID}
		}
	}()
}

func (n *Node) dispatchDisconnect(coordID int, args wire.DisconnectArgs) {
	if coordID == n.cfg.SelfID {
		if n.localCoordinator != nil {
			n.localCoordinator.Disconnect(args)
		}
		return
	}
	handler, log, selfID := n.peers[coordID], n.log, n.cfg.SelfID
	go func() {
		var reply wire.DisconnectReply
		if err := handler.Call("Coordinator.Disconnect", args, &reply); err != nil {
			log.Log("[Node %d] Disconnect notice to coordinator %d failed: %v", selfID, coordID, err)
		}
	}()
}

func (n *Node) dispatchConnect(coordID int, args wire.ConnectArgs) {
	if coordID == n.cfg.SelfID {
		if n.localCoordinator != nil {
			n.localCoordinator.Connect(args)
		}
		return
	}
	handler, log, selfID := n.peers[coordID], n.log, n.cfg.SelfID
	go func() {
		var reply wire.ConnectReply
		if err := handler.Call("Coordinator.Connect", args, &reply); err != nil {
			log.Log("[Node %d] Connect notice to coordinator %d failed: %v", selfID, coordID, err)
		}
	}()
}

// handlePeerLost reacts to a failed dispatch to the coordinator.
// msgPeerLost is only ever raised for coordinator-bound Start/Finish/
// Abort calls, so its nodeID is always the coordinator.
func (n *Node) handlePeerLost(msg msgPeerLost) {
	if n.coordinatorID == 0 || msg.nodeID != n.coordinatorID {
		return
	}
	n.log.Log("[Node %d] lost coordinator %d", n.cfg.SelfID, n.coordinatorID)
	for txID, resp := range n.waiters {
		resp <- ledgererr.ErrCoordinatorUnavailable
		delete(n.waiters, txID)
		delete(n.pending, txID)
	}
	n.coordinatorID = 0
	bl := n.bully
	go bl.TriggerElection("coordinator link lost")
}

// --- connect/disconnect lifecycle ---

// HandleControl matches branch.Control's signature; the branch
// listener invokes it for a fault-injector datagram.
func (n *Node) HandleControl(kind wire.ControlKind) {
	switch kind {
	case wire.ControlDisconnect:
		n.SetConnected(false)
	case wire.ControlConnect:
		n.SetConnected(true)
	}
}

// SetConnected drives the connect/disconnect lifecycle directly, for
// callers (tests, the operator console) that don't go through a
// branch datagram.
func (n *Node) SetConnected(connected bool) {
	done := make(chan struct{})
	n.mailbox <- msgSetConnected{connected: connected, done: done}
	<-done
}

func (n *Node) handleSetConnected(msg msgSetConnected) {
	was := n.connected
	n.connected = msg.connected
	n.bully.SetConnected(msg.connected)

	if !msg.connected && was {
		if n.coordinatorID != 0 && n.coordinatorID != n.cfg.SelfID {
			n.dispatchDisconnect(n.coordinatorID, wire.DisconnectArgs{NodeID: n.cfg.SelfID})
		}
		if n.coordinatorID == n.cfg.SelfID && n.onCoordinatorDisconnect != nil {
			n.onCoordinatorDisconnect()
		}
	}
	if msg.connected && !was {
		if n.onReconnect != nil {
			n.onReconnect()
		}
		go n.reconnectSequence()
	}
	close(msg.done)
}

// reconnectSequence runs off the mailbox goroutine since it blocks on
// UDP round trips; it only ever talks back to the actor through
// messages, never by touching actor fields directly.
func (n *Node) reconnectSequence() {
	if coordID, ok := n.bully.Ping(); ok {
		n.mailbox <- msgSetCoordinatorID{id: coordID}
	}
	n.mailbox <- msgNotifyConnect{}
	credits, err := n.store.DrainOfflineCredits()
	if err != nil {
		n.log.Log("[Node %d] drain offline credits failed: %v", n.cfg.SelfID, err)
		return
	}
	for _, oc := range credits {
		n.mailbox <- msgReplayCredit{accountID: oc.AccountID, amount: oc.Amount, label: oc.TxID}
	}
}

// handleNotifyConnect tells the current coordinator this node is back,
// re-admitting it to active_peers; it runs after msgSetCoordinatorID
// in reconnectSequence's send order, so coordinatorID already
// reflects whatever the reconnect ping learned.
func (n *Node) handleNotifyConnect() {
	if n.coordinatorID == 0 {
		return
	}
	n.dispatchConnect(n.coordinatorID, wire.ConnectArgs{NodeID: n.cfg.SelfID})
}

func (n *Node) handleReplayCredit(msg msgReplayCredit) {
	if n.coordinatorID == 0 {
		n.log.Log("[Node %d] cannot replay offline credit %s: no coordinator", n.cfg.SelfID, msg.label)
		return
	}
	txID := n.nextTxID()
	n.dispatchFinish(n.coordinatorID, wire.FinishArgs{TxID: txID, Kind: wire.Add, AccountID: msg.accountID, Amount: msg.amount})
	n.log.Log("[Node %d] replayed offline credit %s as %s", n.cfg.SelfID, msg.label, txID)
}

// --- coordinator-role wiring, driven by the process's bully callback ---

func (n *Node) SetCoordinatorID(id int) { n.mailbox <- msgSetCoordinatorID{id: id} }

func (n *Node) SetLocalCoordinator(c roles.LocalCoordinator) {
	n.mailbox <- msgSetLocalCoordinator{coord: c}
}

func (n *Node) ClearLocalCoordinator() {
	n.mailbox <- msgSetLocalCoordinator{coord: nil}
}

// SetBrewFunc overrides the external brew step; tests use this to
// force success or failure deterministically.
func (n *Node) SetBrewFunc(fn func() bool) { n.mailbox <- msgSetBrew{fn: fn} }

// SetCoordinatorDisconnectHook registers the callback run when this
// node disconnects while it is itself the coordinator: main() uses it
// to tear down the coordinator role and its listener so peers see the
// loss instead of waiting out a timeout.
func (n *Node) SetCoordinatorDisconnectHook(fn func()) {
	n.mailbox <- msgSetCoordinatorDisconnectHook{fn: fn}
}

// SetReconnectHook registers the callback run when this node
// reconnects; main() uses it to reopen whatever SetCoordinatorDisconnectHook
// closed.
func (n *Node) SetReconnectHook(fn func()) {
	n.mailbox <- msgSetReconnectHook{fn: fn}
}

// Status reports what this node currently believes about the
// cluster, for the operator console.
func (n *Node) Status() (coordinatorID int, connected bool) {
	resp := make(chan queryResult, 1)
	n.mailbox <- msgQuery{resp: resp}
	r := <-resp
	return r.coordinatorID, r.connected
}

// Balances and OfflineCount read the store directly: Store guards
// itself with its own mutex and is safe to query from any goroutine,
// including the operator console's.
func (n *Node) Balances() (map[uint64]int64, error) { return n.store.AllBalances() }
func (n *Node) OfflineCount() (int, error)          { return n.store.OfflineCreditCount() }

// RPCGateway adapts Node's methods to net/rpc's (args, *reply) error
// signature, registered under the service name "Node" so a remote
// peer can reach Prepare/Execute/Commit/AbortAll over the transaction
// port.
type RPCGateway struct{ node *Node }

func NewRPCGateway(n *Node) *RPCGateway { return &RPCGateway{node: n} }

func (g *RPCGateway) Prepare(args wire.PrepareArgs, reply *wire.PrepareReply) error {
	*reply = g.node.Prepare(args)
	return nil
}

func (g *RPCGateway) Execute(args wire.ExecuteArgs, reply *wire.ExecuteReply) error {
	*reply = g.node.Execute(args)
	return nil
}

func (g *RPCGateway) Commit(args wire.CommitArgs, reply *wire.CommitReply) error {
	*reply = g.node.Commit(args)
	return nil
}

func (g *RPCGateway) AbortAll(args wire.AbortAllArgs, reply *wire.AbortAllReply) error {
	*reply = g.node.AbortAll(args)
	return nil
}
