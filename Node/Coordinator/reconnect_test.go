package coordinator_test

import (
	"net"
	"net/rpc"
	"sync"
	"testing"
	"time"

	configurations "coffeewards/Configurations"
	coordinator "coffeewards/Node/Coordinator"
	logger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	wire "coffeewards/Node/Wire"
)

// fakePeerNode is a remote peer's Node RPC surface, reachable only
// over a real TCP listener, so its Prepare count reflects whether the
// coordinator's broadcast actually went out over the wire rather than
// a local shortcut.
type fakePeerNode struct {
	mu       sync.Mutex
	prepared int
}

func (f *fakePeerNode) Prepare(args wire.PrepareArgs, reply *wire.PrepareReply) error {
	f.mu.Lock()
	f.prepared++
	f.mu.Unlock()
	*reply = wire.PrepareReply{Vote: true}
	return nil
}

func (f *fakePeerNode) Execute(args wire.ExecuteArgs, reply *wire.ExecuteReply) error {
	*reply = wire.ExecuteReply{}
	return nil
}

func (f *fakePeerNode) Commit(args wire.CommitArgs, reply *wire.CommitReply) error {
	*reply = wire.CommitReply{Ack: true}
	return nil
}

func (f *fakePeerNode) AbortAll(args wire.AbortAllArgs, reply *wire.AbortAllReply) error {
	*reply = wire.AbortAllReply{Ack: true}
	return nil
}

func (f *fakePeerNode) preparedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared
}

// reserveAddr hands back a loopback address nothing is listening on,
// by binding port 0 to learn a free port and immediately releasing it.
func reserveAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve addr: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestPurgedPeerRejoinsActiveSetOnConnect(t *testing.T) {
	addr := reserveAddr(t)

	node := newFakeNode(true)
	peers := map[int]*peer.Handler{2: peer.New(2, addr, logger.GetLogger(930))}
	cfg := configurations.Config{SelfID: 1, NMax: 2, TExec: 150 * time.Millisecond}
	c := coordinator.New(cfg, logger.GetLogger(931), node, peers)
	defer c.Stop()

	// Nothing is listening at peer 2's address yet: its Prepare call
	// fails, counted as an implicit yes, and the coordinator purges it.
	tx1 := wire.TxID{Origin: 1, Seq: 1}
	c.Start(wire.StartArgs{TxID: tx1, AccountID: 7, Amount: 10, OriginID: 1})
	waitUntil(t, time.Second, func() bool { return node.executedCount() == 1 })
	c.Finish(wire.FinishArgs{TxID: tx1, Kind: wire.Sub, AccountID: 7, Amount: 10})
	waitUntil(t, time.Second, func() bool { return node.commitCount() == 1 })

	// Peer 2 comes back; this coordinator learns about it through the
	// reconnect RPC a reconnecting node sends.
	peerNode := &fakePeerNode{}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Node", peerNode); err != nil {
		t.Fatalf("register fake peer: %v", err)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen on reserved addr: %v", err)
	}
	defer l.Close()
	go rpcServer.Accept(l)

	c.Connect(wire.ConnectArgs{NodeID: 2})

	// A fresh debit must now reach peer 2's Prepare again, proving the
	// purge was undone rather than permanent for the coordinator's term.
	tx2 := wire.TxID{Origin: 1, Seq: 2}
	c.Start(wire.StartArgs{TxID: tx2, AccountID: 8, Amount: 5, OriginID: 1})
	waitUntil(t, time.Second, func() bool { return peerNode.preparedCount() >= 1 })
}
