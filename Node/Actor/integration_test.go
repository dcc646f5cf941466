package actor_test

import (
	"testing"
	"time"

	configurations "coffeewards/Configurations"
	ledgererr "coffeewards/Ledgererr"
	actor "coffeewards/Node/Actor"
	bully "coffeewards/Node/Bully"
	coordinator "coffeewards/Node/Coordinator"
	logger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	store "coffeewards/Node/Store"
	wire "coffeewards/Node/Wire"
)

// newSelfCoordinatedNode wires a single node actor as its own
// coordinator, the way Node/node.go does on a one-node cluster (or
// whichever node currently wins a bully election): no TCP round trip,
// but the full Start -> Prepare -> Execute -> Finish -> Commit path
// still runs end to end.
func newSelfCoordinatedNode(t *testing.T) *actor.Node {
	t.Helper()
	cfg := configurations.Config{SelfID: 1, NMax: 1, SaldoInicial: 100, TExec: 300 * time.Millisecond}
	log := logger.GetLogger(950)
	st, err := store.Open(50, cfg.SaldoInicial)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	bl, err := bully.New(cfg, log)
	if err != nil {
		t.Fatalf("bully.New: %v", err)
	}
	t.Cleanup(func() { bl.Close(); st.Close() })

	peers := map[int]*peer.Handler{}
	n := actor.New(cfg, log, st, bl, peers)
	c := coordinator.New(cfg, log, n, peers)
	t.Cleanup(c.Stop)
	n.SetLocalCoordinator(c)
	n.SetCoordinatorID(cfg.SelfID)
	return n
}

func TestDebitRoundTripCommitsThroughSelfCoordinator(t *testing.T) {
	n := newSelfCoordinatedNode(t)

	if err := n.Submit(7, 30, wire.Sub); err != nil {
		t.Fatalf("expected the debit to commit, got %v", err)
	}
	balances, err := n.Balances()
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if balances[7] != 70 {
		t.Fatalf("expected balance 70 after a 30 debit on a 100 opening balance, got %d", balances[7])
	}
}

func TestDebitRoundTripRefusesInsufficientFunds(t *testing.T) {
	n := newSelfCoordinatedNode(t)

	err := n.Submit(7, 1000, wire.Sub)
	if err != ledgererr.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balances, err := n.Balances()
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if balances[7] != 100 {
		t.Fatalf("a refused debit must leave the balance untouched, got %d", balances[7])
	}
}

func TestDebitRoundTripAbortsOnBrewFailure(t *testing.T) {
	n := newSelfCoordinatedNode(t)
	n.SetBrewFunc(func() bool { return false })

	err := n.Submit(7, 10, wire.Sub)
	if err != ledgererr.ErrBrewFailed {
		t.Fatalf("expected ErrBrewFailed, got %v", err)
	}
	balances, err := n.Balances()
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if balances[7] != 100 {
		t.Fatalf("a brew-failure abort must leave the balance untouched, got %d", balances[7])
	}
}
