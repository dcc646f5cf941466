// Package coordinator is the coordinator actor: the per-account FIFO
// debit queue, the account lock, and the two-phase commit fan-out
// that drives every node's replica to the same outcome. Exactly one
// coordinator actor exists cluster-wide at a time, spawned on the
// node that wins a bully election and torn down when it steps down.
// The fan-out (one goroutine per peer, votes collected through a
// channel, a deadline bounding the whole round) follows a
// unanimous-vote, implicit-yes-on-silence rule.
package coordinator

import (
	"time"

	configurations "coffeewards/Configurations"
	ledgererr "coffeewards/Ledgererr"
	logger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	roles "coffeewards/Node/Roles"
	wire "coffeewards/Node/Wire"
)

type txRecord struct {
	txID      wire.TxID
	originID  int
	accountID uint64
	amount    int64
	votes     map[int]bool
	wanted    int
}

type msgStart struct{ args wire.StartArgs }
type msgFinish struct{ args wire.FinishArgs }
type msgAbort struct{ args wire.AbortArgs }
type msgDisconnect struct{ args wire.DisconnectArgs }
type msgConnect struct{ args wire.ConnectArgs }
type msgPeerCallFailed struct{ nodeID int }
type msgPrepareVote struct {
	txID   wire.TxID
	peerID int
	vote   bool
}

// Coordinator is the cluster-wide coordinator role, running on
// whichever node currently holds it. All fields below run() are
// touched only by the run() goroutine.
type Coordinator struct {
	cfg       configurations.Config
	log       *logger.Logger
	localNode roles.LocalNode

	// peers is the same read-only map shared with the colocated node
	// actor (see Node/Peer doc comment); Coordinator never mutates it.
	peers map[int]*peer.Handler

	mailbox chan interface{}
	stop    chan struct{}

	activePeers map[int]bool // every node id believed reachable, including self
	txTable     map[wire.TxID]*txRecord
	queues      map[uint64][]wire.TxID
	accountBusy map[uint64]bool
}

// New constructs a coordinator actor for the node currently winning
// the election and starts its mailbox loop. localNode is that same
// process's node actor (satisfying roles.LocalNode), so the
// coordinator's own vote and commit fan-out never leaves the process
// for its own id.
func New(cfg configurations.Config, log *logger.Logger, localNode roles.LocalNode, peers map[int]*peer.Handler) *Coordinator {
	active := make(map[int]bool, cfg.NMax)
	for id := 1; id <= cfg.NMax; id++ {
		active[id] = true
	}
	c := &Coordinator{
		cfg:         cfg,
		log:         log,
		localNode:   localNode,
		peers:       peers,
		mailbox:     make(chan interface{}, 256),
		stop:        make(chan struct{}),
		activePeers: active,
		txTable:     make(map[wire.TxID]*txRecord),
		queues:      make(map[uint64][]wire.TxID),
		accountBusy: make(map[uint64]bool),
	}
	go c.run()
	return c
}

// Stop ends this coordinator's mailbox loop. Called when the node
// that hosted it steps down after losing an election.
func (c *Coordinator) Stop() { close(c.stop) }

func (c *Coordinator) run() {
	for {
		select {
		case <-c.stop:
			return
		case raw := <-c.mailbox:
			switch msg := raw.(type) {
			case msgStart:
				c.handleStart(msg.args)
			case msgFinish:
				c.handleFinish(msg.args)
			case msgAbort:
				c.handleAbort(msg.args)
			case msgDisconnect:
				c.purgePeer(msg.args.NodeID)
			case msgConnect:
				c.admitPeer(msg.args.NodeID)
			case msgPeerCallFailed:
				c.purgePeer(msg.nodeID)
			case msgPrepareVote:
				c.handlePrepareVote(msg)
			}
		}
	}
}

// --- roles.LocalCoordinator: reached directly by the colocated node
// actor, and via RPCGateway by every other node over the transaction
// port ---

func (c *Coordinator) Start(args wire.StartArgs)           { c.mailbox <- msgStart{args} }
func (c *Coordinator) Finish(args wire.FinishArgs)         { c.mailbox <- msgFinish{args} }
func (c *Coordinator) Abort(args wire.AbortArgs)           { c.mailbox <- msgAbort{args} }
func (c *Coordinator) Disconnect(args wire.DisconnectArgs) { c.mailbox <- msgDisconnect{args} }
func (c *Coordinator) Connect(args wire.ConnectArgs)       { c.mailbox <- msgConnect{args} }

func (c *Coordinator) handleStart(args wire.StartArgs) {
	tx := &txRecord{txID: args.TxID, originID: args.OriginID, accountID: args.AccountID, amount: args.Amount}
	c.txTable[args.TxID] = tx
	c.queues[args.AccountID] = append(c.queues[args.AccountID], args.TxID)
	if !c.accountBusy[args.AccountID] {
		c.accountBusy[args.AccountID] = true
		c.beginPrepare(tx)
	}
}

func (c *Coordinator) handleFinish(args wire.FinishArgs) {
	if args.Kind == wire.Add {
		c.broadcastCommit(wire.CommitArgs{
			TxID: args.TxID, Kind: wire.Add, AccountID: args.AccountID,
			Amount: args.Amount, OriginID: args.TxID.Origin,
		})
		return
	}
	tx, ok := c.txTable[args.TxID]
	if !ok {
		return
	}
	c.broadcastCommit(wire.CommitArgs{
		TxID: tx.txID, Kind: wire.Sub, AccountID: tx.accountID,
		Amount: tx.amount, OriginID: tx.originID,
	})
	c.finishTx(tx.accountID, tx.txID)
}

func (c *Coordinator) handleAbort(args wire.AbortArgs) {
	tx, ok := c.txTable[args.TxID]
	if !ok {
		return
	}
	c.broadcastAbortAll(tx, wire.ReasonBrewFailed)
	c.finishTx(tx.accountID, tx.txID)
}

func (c *Coordinator) finishTx(accountID uint64, txID wire.TxID) {
	delete(c.txTable, txID)
	q := c.queues[accountID]
	if len(q) > 0 && q[0] == txID {
		q = q[1:]
	}
	if len(q) == 0 {
		delete(c.queues, accountID)
		delete(c.accountBusy, accountID)
		return
	}
	c.queues[accountID] = q
	if next, ok := c.txTable[q[0]]; ok {
		c.beginPrepare(next)
	}
}

// --- the 2PC round for one debit ---

func (c *Coordinator) beginPrepare(tx *txRecord) {
	ids := c.activePeerIDs()
	tx.votes = make(map[int]bool, len(ids))
	tx.wanted = len(ids)

	args := wire.PrepareArgs{TxID: tx.txID, AccountID: tx.accountID, Amount: tx.amount, Kind: wire.Sub}
	for _, id := range ids {
		c.dispatchPrepare(id, args)
	}
}

func (c *Coordinator) dispatchPrepare(peerID int, args wire.PrepareArgs) {
	if peerID == c.cfg.SelfID {
		reply := c.localNode.Prepare(args)
		c.mailbox <- msgPrepareVote{txID: args.TxID, peerID: peerID, vote: reply.Vote}
		return
	}
	handler, mailbox, log, deadline := c.peers[peerID], c.mailbox, c.log, c.cfg.TExec
	go func() {
		replyCh := make(chan wire.PrepareReply, 1)
		errCh := make(chan error, 1)
		go func() {
			var reply wire.PrepareReply
			if err := handler.Call("Node.Prepare", args, &reply); err != nil {
				errCh <- err
				return
			}
			replyCh <- reply
		}()
		select {
		case reply := <-replyCh:
			mailbox <- msgPrepareVote{txID: args.TxID, peerID: peerID, vote: reply.Vote}
		case err := <-errCh:
			log.Log("[Coordinator] Prepare to %d failed, treating as implicit yes: %v", peerID, err)
			mailbox <- msgPrepareVote{txID: args.TxID, peerID: peerID, vote: true}
			mailbox <- msgPeerCallFailed{nodeID: peerID}
		case <-time.After(deadline):
			log.Log("[Coordinator] Prepare to %d timed out, treating as implicit yes", peerID)
			mailbox <- msgPrepareVote{txID: args.TxID, peerID: peerID, vote: true}
			mailbox <- msgPeerCallFailed{nodeID: peerID}
		}
	}()
}

func (c *Coordinator) handlePrepareVote(msg msgPrepareVote) {
	tx, ok := c.txTable[msg.txID]
	if !ok {
		return
	}
	if _, already := tx.votes[msg.peerID]; already {
		return
	}
	tx.votes[msg.peerID] = msg.vote

	if !msg.vote {
		c.broadcastAbortAll(tx, wire.ReasonInsufficientFunds)
		c.finishTx(tx.accountID, tx.txID)
		return
	}
	if len(tx.votes) >= tx.wanted {
		c.dispatchExecute(tx)
	}
}

func (c *Coordinator) dispatchExecute(tx *txRecord) {
	args := wire.ExecuteArgs{TxID: tx.txID}
	if tx.originID == c.cfg.SelfID {
		c.localNode.Execute(args)
		return
	}
	handler, mailbox, log, deadline, accountID, txID := c.peers[tx.originID], c.mailbox, c.log, c.cfg.TExec, tx.accountID, tx.txID
	go func() {
		var reply wire.ExecuteReply
		done := make(chan error, 1)
		go func() { done <- handler.Call("Node.Execute", args, &reply) }()
		select {
		case err := <-done:
			if err != nil {
				log.Log("[Coordinator] Execute to origin %d failed: %v", tx.originID, err)
				mailbox <- msgPeerCallFailed{nodeID: tx.originID}
				mailbox <- msgAbort{wire.AbortArgs{TxID: txID, AccountID: accountID}}
				return
			}
			// The origin is brewing; if neither its Finish nor its Abort
			// retires the transaction within TExec, abort it. handleAbort
			// ignores a TxID that is no longer in txTable.
			<-time.After(deadline)
			mailbox <- msgAbort{wire.AbortArgs{TxID: txID, AccountID: accountID}}
		case <-time.After(deadline):
			log.Log("[Coordinator] Execute to origin %d timed out", tx.originID)
			mailbox <- msgAbort{wire.AbortArgs{TxID: txID, AccountID: accountID}}
		}
	}()
}

// --- broadcast of the final outcome ---

func (c *Coordinator) broadcastCommit(args wire.CommitArgs) {
	for _, id := range c.activePeerIDs() {
		c.dispatchCommit(id, args)
	}
}

func (c *Coordinator) dispatchCommit(peerID int, args wire.CommitArgs) {
	if peerID == c.cfg.SelfID {
		c.localNode.Commit(args)
		return
	}
	handler, mailbox, log := c.peers[peerID], c.mailbox, c.log
	go func() {
		var reply wire.CommitReply
		if err := handler.Call("Node.Commit", args, &reply); err != nil {
			log.Log("[Coordinator] Commit to %d failed: %v", peerID, err)
			mailbox <- msgPeerCallFailed{nodeID: peerID}
		}
	}()
}

func (c *Coordinator) broadcastAbortAll(tx *txRecord, reason wire.Reason) {
	args := wire.AbortAllArgs{TxID: tx.txID, AccountID: tx.accountID, Reason: reason}
	for _, id := range c.activePeerIDs() {
		c.dispatchAbortAll(id, args)
	}
}

func (c *Coordinator) dispatchAbortAll(peerID int, args wire.AbortAllArgs) {
	if peerID == c.cfg.SelfID {
		c.localNode.AbortAll(args)
		return
	}
	handler, mailbox, log := c.peers[peerID], c.mailbox, c.log
	go func() {
		var reply wire.AbortAllReply
		if err := handler.Call("Node.AbortAll", args, &reply); err != nil {
			log.Log("[Coordinator] AbortAll to %d failed: %v", peerID, err)
			mailbox <- msgPeerCallFailed{nodeID: peerID}
		}
	}()
}

// --- active-peer bookkeeping ---

func (c *Coordinator) activePeerIDs() []int {
	ids := make([]int, 0, len(c.activePeers))
	for id, ok := range c.activePeers {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Coordinator) purgePeer(nodeID int) {
	if !c.activePeers[nodeID] {
		return
	}
	c.log.Log("[Coordinator] dropping peer %d from active set", nodeID)
	delete(c.activePeers, nodeID)
}

// admitPeer re-adds nodeID to active_peers, undoing any earlier
// purgePeer. Future Prepare/Commit/AbortAll broadcasts reach
// it again; it does not replay any round already in flight when it
// was purged, since the per-account queue has already moved on.
func (c *Coordinator) admitPeer(nodeID int) {
	if c.activePeers[nodeID] {
		return
	}
	c.log.Log("[Coordinator] peer %d reconnected, re-admitting to active set", nodeID)
	c.activePeers[nodeID] = true
}

// RPCGateway adapts Coordinator's methods to net/rpc's (args, *reply)
// error signature, registered under the service name "Coordinator".
// Every node always registers one; when this node does not currently
// hold the role, Coordinator is nil and every method answers
// ErrCoordinatorUnavailable instead of panicking.
type RPCGateway struct {
	get func() *Coordinator
}

// NewRPCGateway takes a getter instead of a fixed *Coordinator because
// the role moves between nodes at runtime; the caller's getter
// returns whatever the current coordinator actor is, or nil.
func NewRPCGateway(get func() *Coordinator) *RPCGateway { return &RPCGateway{get: get} }

func (g *RPCGateway) Start(args wire.StartArgs, reply *wire.StartReply) error {
	c := g.get()
	if c == nil {
		return ledgererr.ErrCoordinatorUnavailable
	}
	c.Start(args)
	return nil
}

func (g *RPCGateway) Finish(args wire.FinishArgs, reply *wire.FinishReply) error {
	c := g.get()
	if c == nil {
		return ledgererr.ErrCoordinatorUnavailable
	}
	c.Finish(args)
	return nil
}

func (g *RPCGateway) Abort(args wire.AbortArgs, reply *wire.AbortReply) error {
	c := g.get()
	if c == nil {
		return ledgererr.ErrCoordinatorUnavailable
	}
	c.Abort(args)
	return nil
}

func (g *RPCGateway) Disconnect(args wire.DisconnectArgs, reply *wire.DisconnectReply) error {
	c := g.get()
	if c == nil {
		return ledgererr.ErrCoordinatorUnavailable
	}
	c.Disconnect(args)
	return nil
}

func (g *RPCGateway) Connect(args wire.ConnectArgs, reply *wire.ConnectReply) error {
	c := g.get()
	if c == nil {
		return ledgererr.ErrCoordinatorUnavailable
	}
	c.Connect(args)
	return nil
}
