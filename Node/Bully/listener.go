// Package bully is the UDP-based leader-election and liveness-probe
// component: a goroutine-per-listener accept loop, encoding/gob for
// datagram payloads (the same codec net/rpc already pulls in for the
// TCP transport, so no second serialization library is introduced),
// and the bracketed "[Bully %d] ..." log-line style.
package bully

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	configurations "coffeewards/Configurations"
	logger "coffeewards/Node/logger"
	wire "coffeewards/Node/Wire"
)

// Listener runs one node's bully UDP endpoint.
type Listener struct {
	cfg configurations.Config
	log *logger.Logger

	conn *net.UDPConn

	mu        sync.Mutex
	connected bool
	candidate bool

	okeyCh    chan int
	coordCh   chan int
	pingCordCh chan int

	// OnCoordinatorKnown is invoked with the elected node's id whenever
	// a Coordinator message arrives or this node self-proclaims. A
	// PingCord answer does not invoke it; Ping returns that id instead.
	OnCoordinatorKnown func(coordID int)

	// OnPing is invoked with the sender's id whenever a Ping arrives;
	// the node actor replies via ReplyPingCord if it currently holds
	// the coordinator role.
	OnPing func(senderID int)
}

// New binds the UDP socket for selfID and starts the receive loop.
// The caller must set OnCoordinatorKnown before traffic can usefully
// be handled.
func New(cfg configurations.Config, log *logger.Logger) (*Listener, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: configurations.BullyPort(cfg.SelfID)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		cfg:        cfg,
		log:        log,
		conn:       conn,
		okeyCh:     make(chan int, configurations.NMax),
		coordCh:    make(chan int, configurations.NMax),
		pingCordCh: make(chan int, configurations.NMax),
	}
	go l.receiveLoop()
	return l, nil
}

func (l *Listener) Close() error { return l.conn.Close() }

// SetConnected mirrors the node's own connected flag: a disconnected
// bully listener ignores all incoming traffic and sends none.
func (l *Listener) SetConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
}

func (l *Listener) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func peerAddr(nodeID int) string {
	return fmt.Sprintf("127.0.0.1:%d", configurations.BullyPort(nodeID))
}

func (l *Listener) send(nodeID int, msg wire.BullyMsg) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		l.log.Log("[Bully %d] encode failed: %v", l.cfg.SelfID, err)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", peerAddr(nodeID))
	if err != nil {
		return
	}
	if _, err := l.conn.WriteToUDP(buf.Bytes(), addr); err != nil {
		l.log.Log("[Bully %d] send to %d failed: %v", l.cfg.SelfID, nodeID, err)
	}
}

func (l *Listener) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg wire.BullyMsg
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
			continue
		}
		l.handle(msg)
	}
}

func (l *Listener) handle(msg wire.BullyMsg) {
	if !l.isConnected() {
		return
	}
	switch msg.Type {
	case wire.Election:
		l.log.Log("[Bully %d] Election from %d", l.cfg.SelfID, msg.SenderID)
		l.send(msg.SenderID, wire.BullyMsg{Type: wire.Okey, SenderID: l.cfg.SelfID})
		go l.TriggerElection("received lower-id Election")
	case wire.Okey:
		select {
		case l.okeyCh <- msg.SenderID:
		default:
		}
	case wire.CoordinatorMsg:
		l.log.Log("[Bully %d] Coordinator(%d)", l.cfg.SelfID, msg.CoordID)
		select {
		case l.coordCh <- msg.CoordID:
		default:
		}
		if l.OnCoordinatorKnown != nil {
			l.OnCoordinatorKnown(msg.CoordID)
		}
	case wire.Ping:
		if l.OnPing != nil {
			l.OnPing(msg.SenderID)
		}
	case wire.PingCord:
		select {
		case l.pingCordCh <- msg.CoordID:
		default:
		}
	}
}

// ReplyPingCord answers a Ping from a reconnecting peer. The node
// actor calls this when it receives a Ping and currently believes
// itself to be coordinator.
func (l *Listener) ReplyPingCord(toNodeID int) {
	l.send(toNodeID, wire.BullyMsg{Type: wire.PingCord, SenderID: l.cfg.SelfID, CoordID: l.cfg.SelfID})
}

func (l *Listener) higherIDs() []int {
	var ids []int
	for id := l.cfg.SelfID + 1; id <= l.cfg.NMax; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (l *Listener) allOtherIDs() []int {
	var ids []int
	for id := 1; id <= l.cfg.NMax; id++ {
		if id != l.cfg.SelfID {
			ids = append(ids, id)
		}
	}
	return ids
}

// TriggerElection runs the standard Bully algorithm: Election to
// every higher id, step down on any Okey, self-proclaim after T_bully
// of silence.
func (l *Listener) TriggerElection(reason string) {
	if !l.isConnected() {
		return
	}
	l.mu.Lock()
	if l.candidate {
		l.mu.Unlock()
		return
	}
	l.candidate = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.candidate = false
		l.mu.Unlock()
	}()

	higher := l.higherIDs()
	l.log.Log("[Bully %d] starting election (%s), higher=%v", l.cfg.SelfID, reason, higher)
	if len(higher) == 0 {
		l.selfProclaim()
		return
	}
	for _, id := range higher {
		l.send(id, wire.BullyMsg{Type: wire.Election, SenderID: l.cfg.SelfID})
	}

	select {
	case <-l.okeyCh:
		l.log.Log("[Bully %d] stepped down, awaiting Coordinator", l.cfg.SelfID)
		select {
		case coordID := <-l.coordCh:
			l.log.Log("[Bully %d] learned coordinator %d", l.cfg.SelfID, coordID)
		case <-time.After(l.cfg.TBully * 2):
			l.log.Log("[Bully %d] no Coordinator followed Okey, retrying", l.cfg.SelfID)
			go l.TriggerElection("Coordinator timeout after Okey")
		}
	case <-time.After(l.cfg.TBully):
		l.selfProclaim()
	}
}

func (l *Listener) selfProclaim() {
	l.log.Log("[Bully %d] self-proclaiming coordinator", l.cfg.SelfID)
	for _, id := range l.allOtherIDs() {
		l.send(id, wire.BullyMsg{Type: wire.CoordinatorMsg, SenderID: l.cfg.SelfID, CoordID: l.cfg.SelfID})
	}
	if l.OnCoordinatorKnown != nil {
		l.OnCoordinatorKnown(l.cfg.SelfID)
	}
}

// Ping is used on reconnect: broadcast Ping to every other bully
// listener and return whichever node answers PingCord first. If
// nobody answers within T_ping and this node holds the highest
// configured id, it self-proclaims.
func (l *Listener) Ping() (coordID int, ok bool) {
	l.SetConnected(true)
	for _, id := range l.allOtherIDs() {
		l.send(id, wire.BullyMsg{Type: wire.Ping, SenderID: l.cfg.SelfID})
	}
	select {
	case coordID := <-l.pingCordCh:
		return coordID, true
	case <-time.After(l.cfg.TPing):
		if l.cfg.SelfID == l.cfg.NMax {
			l.selfProclaim()
			return l.cfg.SelfID, true
		}
		return 0, false
	}
}
