package coordinator_test

import (
	"sync"
	"testing"
	"time"

	configurations "coffeewards/Configurations"
	coordinator "coffeewards/Node/Coordinator"
	logger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	wire "coffeewards/Node/Wire"
)

// fakeNode is a roles.LocalNode stand-in that records every Prepare/
// Execute call it receives and always votes accordingly to fakeNode.vote.
type fakeNode struct {
	mu       sync.Mutex
	vote     bool
	prepared []wire.PrepareArgs
	executed []wire.TxID
	commits  []wire.CommitArgs
	aborts   []wire.AbortAllArgs
}

func newFakeNode(vote bool) *fakeNode { return &fakeNode{vote: vote} }

func (f *fakeNode) Prepare(args wire.PrepareArgs) wire.PrepareReply {
	f.mu.Lock()
	f.prepared = append(f.prepared, args)
	f.mu.Unlock()
	return wire.PrepareReply{Vote: f.vote}
}

func (f *fakeNode) Execute(args wire.ExecuteArgs) wire.ExecuteReply {
	f.mu.Lock()
	f.executed = append(f.executed, args.TxID)
	f.mu.Unlock()
	return wire.ExecuteReply{}
}

func (f *fakeNode) Commit(args wire.CommitArgs) wire.CommitReply {
	f.mu.Lock()
	f.commits = append(f.commits, args)
	f.mu.Unlock()
	return wire.CommitReply{Ack: true}
}

func (f *fakeNode) AbortAll(args wire.AbortAllArgs) wire.AbortAllReply {
	f.mu.Lock()
	f.aborts = append(f.aborts, args)
	f.mu.Unlock()
	return wire.AbortAllReply{Ack: true}
}

func (f *fakeNode) preparedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prepared)
}

func (f *fakeNode) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func (f *fakeNode) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeNode) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborts)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition never became true within %s", timeout)
	}
}

func singleNodeConfig() configurations.Config {
	return configurations.Config{SelfID: 1, NMax: 1, TExec: 200 * time.Millisecond}
}

func TestStartFinishCommitsDebit(t *testing.T) {
	node := newFakeNode(true)
	peers := map[int]*peer.Handler{}
	c := coordinator.New(singleNodeConfig(), logger.GetLogger(920), node, peers)
	defer c.Stop()

	tx := wire.TxID{Origin: 1, Seq: 1}
	c.Start(wire.StartArgs{TxID: tx, AccountID: 7, Amount: 10, OriginID: 1})

	waitUntil(t, time.Second, func() bool { return node.executedCount() == 1 })
	c.Finish(wire.FinishArgs{TxID: tx, Kind: wire.Sub, AccountID: 7, Amount: 10})

	waitUntil(t, time.Second, func() bool { return node.commitCount() == 1 })
	if got := node.commits[0]; got.AccountID != 7 || got.Amount != 10 || got.Kind != wire.Sub {
		t.Fatalf("unexpected commit: %+v", got)
	}
}

func TestInsufficientVoteAbortsWithoutExecute(t *testing.T) {
	node := newFakeNode(false)
	peers := map[int]*peer.Handler{}
	c := coordinator.New(singleNodeConfig(), logger.GetLogger(921), node, peers)
	defer c.Stop()

	tx := wire.TxID{Origin: 1, Seq: 1}
	c.Start(wire.StartArgs{TxID: tx, AccountID: 7, Amount: 10000, OriginID: 1})

	waitUntil(t, time.Second, func() bool { return node.abortCount() == 1 })
	if node.executedCount() != 0 {
		t.Fatalf("a no vote must never reach Execute, got %d calls", node.executedCount())
	}
	if got := node.aborts[0].Reason; got != wire.ReasonInsufficientFunds {
		t.Fatalf("expected ReasonInsufficientFunds, got %v", got)
	}
}

func TestPerAccountQueueIsFIFO(t *testing.T) {
	node := newFakeNode(true)
	peers := map[int]*peer.Handler{}
	c := coordinator.New(singleNodeConfig(), logger.GetLogger(922), node, peers)
	defer c.Stop()

	tx1 := wire.TxID{Origin: 1, Seq: 1}
	tx2 := wire.TxID{Origin: 1, Seq: 2}
	c.Start(wire.StartArgs{TxID: tx1, AccountID: 7, Amount: 10, OriginID: 1})
	c.Start(wire.StartArgs{TxID: tx2, AccountID: 7, Amount: 10, OriginID: 1})

	waitUntil(t, time.Second, func() bool { return node.preparedCount() >= 1 })
	time.Sleep(30 * time.Millisecond)
	if node.preparedCount() != 1 {
		t.Fatalf("second debit on the same account must not be prepared until the first finishes, prepared=%d", node.preparedCount())
	}

	c.Finish(wire.FinishArgs{TxID: tx1, Kind: wire.Sub, AccountID: 7, Amount: 10})
	waitUntil(t, time.Second, func() bool { return node.preparedCount() == 2 })

	c.Finish(wire.FinishArgs{TxID: tx2, Kind: wire.Sub, AccountID: 7, Amount: 10})
	waitUntil(t, time.Second, func() bool { return node.commitCount() == 2 })
}

func TestAsynchronousCreditSkipsPrepare(t *testing.T) {
	node := newFakeNode(true)
	peers := map[int]*peer.Handler{}
	c := coordinator.New(singleNodeConfig(), logger.GetLogger(923), node, peers)
	defer c.Stop()

	tx := wire.TxID{Origin: 1, Seq: 1}
	c.Finish(wire.FinishArgs{TxID: tx, Kind: wire.Add, AccountID: 7, Amount: 25})

	waitUntil(t, time.Second, func() bool { return node.commitCount() == 1 })
	if node.preparedCount() != 0 {
		t.Fatalf("a credit must never go through Prepare, got %d calls", node.preparedCount())
	}
}
