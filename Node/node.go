package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"os"
	"strconv"
	"strings"
	"sync"

	configurations "coffeewards/Configurations"
	actor "coffeewards/Node/Actor"
	branch "coffeewards/Node/Branch"
	bully "coffeewards/Node/Bully"
	coordinator "coffeewards/Node/Coordinator"
	nodelogger "coffeewards/Node/logger"
	peer "coffeewards/Node/Peer"
	store "coffeewards/Node/Store"
	wire "coffeewards/Node/Wire"
)

// coordinatorHolder makes the currently-active coordinator actor
// visible to the RPC gateway (reached from net/rpc's own connection
// goroutines) while the bully callback (reached from the bully
// listener's receive-loop goroutine) replaces it around elections.
type coordinatorHolder struct {
	mu sync.Mutex
	c  *coordinator.Coordinator
}

func (h *coordinatorHolder) get() *coordinator.Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c
}

func (h *coordinatorHolder) set(c *coordinator.Coordinator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.c = c
}

func main() {
	nodeID := flag.Int("id", 0, "node id to start (1.."+strconv.Itoa(configurations.NMax)+")")
	flag.Parse()

	if *nodeID < 1 || *nodeID > configurations.NMax {
		fmt.Printf("id must be between 1 and %d\n", configurations.NMax)
		os.Exit(1)
	}
	cfg := configurations.Default(*nodeID)
	log := nodelogger.GetLogger(cfg.SelfID)

	st, err := store.Open(cfg.SelfID, cfg.SaldoInicial)
	if err != nil {
		fmt.Printf("failed to open store: %v\n", err)
		os.Exit(1)
	}

	peers := make(map[int]*peer.Handler, cfg.NMax-1)
	for id := 1; id <= cfg.NMax; id++ {
		if id == cfg.SelfID {
			continue
		}
		addr := fmt.Sprintf("127.0.0.1:%d", configurations.TCPPort(id))
		peers[id] = peer.New(id, addr, log)
	}

	bl, err := bully.New(cfg, log)
	if err != nil {
		fmt.Printf("failed to start bully listener: %v\n", err)
		os.Exit(1)
	}

	nodeActor := actor.New(cfg, log, st, bl, peers)

	holder := &coordinatorHolder{}
	stepDownAsCoordinator := func() {
		if old := holder.get(); old != nil {
			old.Stop()
			holder.set(nil)
			nodeActor.ClearLocalCoordinator()
			log.Log("[Node %d] stepping down as coordinator", cfg.SelfID)
		}
	}
	bl.OnCoordinatorKnown = func(coordID int) {
		nodeActor.SetCoordinatorID(coordID)
		if coordID == cfg.SelfID {
			if holder.get() == nil {
				c := coordinator.New(cfg, log, nodeActor, peers)
				holder.set(c)
				nodeActor.SetLocalCoordinator(c)
				log.Log("[Node %d] now coordinator", cfg.SelfID)
			}
			return
		}
		stepDownAsCoordinator()
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Node", actor.NewRPCGateway(nodeActor)); err != nil {
		fmt.Printf("failed to register Node service: %v\n", err)
		os.Exit(1)
	}
	if err := rpcServer.RegisterName("Coordinator", coordinator.NewRPCGateway(holder.get)); err != nil {
		fmt.Printf("failed to register Coordinator service: %v\n", err)
		os.Exit(1)
	}

	var (
		listenerMu sync.Mutex
		tcpListen  net.Listener
	)
	startListening := func() error {
		listenerMu.Lock()
		defer listenerMu.Unlock()
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", configurations.TCPPort(cfg.SelfID)))
		if err != nil {
			return err
		}
		tcpListen = l
		go rpcServer.Accept(l)
		return nil
	}
	stopListening := func() {
		listenerMu.Lock()
		defer listenerMu.Unlock()
		if tcpListen != nil {
			tcpListen.Close()
			tcpListen = nil
		}
	}
	if err := startListening(); err != nil {
		fmt.Printf("failed to listen on transaction port: %v\n", err)
		os.Exit(1)
	}

	// A node that disconnects while holding the coordinator role tears
	// down both the role and its inbound transaction listener and
	// closes its outbound node-handler connections, so peers relying
	// on it see a failed or refused call on their next attempt and
	// start an election instead of waiting out their own timeout.
	nodeActor.SetCoordinatorDisconnectHook(func() {
		stepDownAsCoordinator()
		stopListening()
		for _, h := range peers {
			h.Close()
		}
		log.Log("[Node %d] closed node-handler connections after self-disconnect as coordinator", cfg.SelfID)
	})
	nodeActor.SetReconnectHook(func() {
		if err := startListening(); err != nil {
			log.Log("[Node %d] failed to reopen transaction listener on reconnect: %v", cfg.SelfID, err)
		}
	})

	br, err := branch.New(cfg, log, nodeActor.Submit, nodeActor.HandleControl)
	if err != nil {
		fmt.Printf("failed to start branch listener: %v\n", err)
		os.Exit(1)
	}

	go bl.TriggerElection("startup")

	fmt.Printf("coffeewards node %d: transaction=%d bully=%d branch=%d\n",
		cfg.SelfID, configurations.TCPPort(cfg.SelfID), configurations.BullyPort(cfg.SelfID), configurations.BranchPort(cfg.SelfID))

	runConsole(cfg, log, nodeActor)

	br.Close()
	bl.Close()
	stopListening()
	for _, h := range peers {
		h.Close()
	}
	st.Close()
	log.Close()
}

func runConsole(cfg configurations.Config, log *nodelogger.Logger, nodeActor *actor.Node) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("\n1: Print Balance")
		fmt.Println("2: Print View")
		fmt.Println("3: Print Offline Credit Count")
		fmt.Println("4: Disconnect")
		fmt.Println("5: Reconnect")
		fmt.Println("6: Print Log")
		fmt.Println("7: Clear Terminal")
		fmt.Println("8: Exit")
		choice, err := readIntInput(reader, "\nSelect an option: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("\nInput closed, shutting down console.")
			}
			return
		}

		switch choice {
		case 1:
			balances, err := nodeActor.Balances()
			if err != nil {
				fmt.Printf("failed to read balances: %v\n", err)
				break
			}
			if len(balances) == 0 {
				fmt.Println("no accounts referenced yet")
				break
			}
			for _, id := range sortedKeys(balances) {
				fmt.Printf("account %d: %d\n", id, balances[id])
			}
		case 2:
			coordID, connected := nodeActor.Status()
			fmt.Printf("self=%d coordinator=%d connected=%v\n", cfg.SelfID, coordID, connected)
		case 3:
			n, err := nodeActor.OfflineCount()
			if err != nil {
				fmt.Printf("failed to read offline credit count: %v\n", err)
				break
			}
			fmt.Printf("offline credits queued: %d\n", n)
		case 4:
			nodeActor.HandleControl(wire.ControlDisconnect)
			fmt.Println("disconnected")
		case 5:
			nodeActor.HandleControl(wire.ControlConnect)
			fmt.Println("reconnecting")
		case 6:
			fmt.Printf("log file: %s\n", log.Path())
			if err := log.PrintLogContent(); err != nil {
				fmt.Printf("failed to print log: %v\n", err)
			}
		case 7:
			fmt.Print("\033[H\033[2J")
		case 8:
			return
		default:
			fmt.Println("invalid choice")
		}
	}
}

func sortedKeys(m map[uint64]int64) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func readIntInput(reader *bufio.Reader, prompt string) (int, error) {
	for {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			fmt.Printf("input error: %v\n", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, err := strconv.Atoi(line)
		if err != nil {
			fmt.Printf("invalid number: %s\n", line)
			continue
		}
		return value, nil
	}
}
