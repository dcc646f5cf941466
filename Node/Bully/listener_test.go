package bully

import (
	"testing"
	"time"

	configurations "coffeewards/Configurations"
	logger "coffeewards/Node/logger"
)

func testConfig(selfID int) configurations.Config {
	return configurations.Config{
		SelfID:  selfID,
		NMax:    3,
		TBully:  80 * time.Millisecond,
		TExec:   200 * time.Millisecond,
		TClient: 200 * time.Millisecond,
		TPing:   80 * time.Millisecond,
	}
}

// TestElectionConvergesOnHighestID drives a real three-listener,
// real-UDP-loopback election and checks every node lands on the
// highest configured id, per the standard bully tie-break rule.
func TestElectionConvergesOnHighestID(t *testing.T) {
	const n = 3
	listeners := make([]*Listener, n+1)
	known := make([]chan int, n+1)
	for id := 1; id <= n; id++ {
		log := logger.GetLogger(100 + id)
		l, err := New(testConfig(id), log)
		if err != nil {
			t.Fatalf("New(%d): %v", id, err)
		}
		l.SetConnected(true)
		ch := make(chan int, n)
		l.OnCoordinatorKnown = func(coordID int) {
			select {
			case ch <- coordID:
			default:
			}
		}
		listeners[id] = l
		known[id] = ch
	}
	defer func() {
		for id := 1; id <= n; id++ {
			listeners[id].Close()
		}
	}()

	go listeners[1].TriggerElection("test")

	for id := 1; id <= n; id++ {
		select {
		case coordID := <-known[id]:
			if coordID != n {
				t.Errorf("node %d learned coordinator %d, want %d", id, coordID, n)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("node %d never learned a coordinator", id)
		}
	}
}

func TestPingSelfProclaimsWhenNoCoordinatorAnswers(t *testing.T) {
	log := logger.GetLogger(210)
	l, err := New(testConfig(3), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	coordID, ok := l.Ping()
	if !ok {
		t.Fatalf("expected Ping to resolve")
	}
	if coordID != 3 {
		t.Fatalf("highest-id node should self-proclaim on silent Ping, got %d", coordID)
	}
}
