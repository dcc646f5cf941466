// Package branch is the UDP endpoint exposed to coffee-machine
// clients of one store, and doubles as the fault-injector's control
// endpoint: a goroutine accept loop, encoding/gob datagrams, one
// goroutine per in-flight client request so a slow 2PC round trip
// never blocks the socket.
package branch

import (
	"bytes"
	"encoding/gob"
	"net"
	"time"

	configurations "coffeewards/Configurations"
	ledgererr "coffeewards/Ledgererr"
	logger "coffeewards/Node/logger"
	wire "coffeewards/Node/Wire"
)

// Submit is the node actor's client-facing entry point: validate and
// execute one order, blocking until terminal.
type Submit func(accountID uint64, amount int64, kind wire.Kind) error

// Control is invoked for a fault-injector Disconnect/Connect datagram.
type Control func(kind wire.ControlKind)

// Listener runs one node's branch UDP endpoint.
type Listener struct {
	cfg     configurations.Config
	log     *logger.Logger
	conn    *net.UDPConn
	submit  Submit
	control Control
}

// New binds the UDP socket for selfID and starts serving requests.
func New(cfg configurations.Config, log *logger.Logger, submit Submit, control Control) (*Listener, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: configurations.BranchPort(cfg.SelfID)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{cfg: cfg, log: log, conn: conn, submit: submit, control: control}
	go l.serve()
	return l, nil
}

func (l *Listener) Close() error { return l.conn.Close() }

func (l *Listener) serve() {
	buf := make([]byte, 4096)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&env); err != nil {
			l.log.Log("[Branch %d] decode failed: %v", l.cfg.SelfID, err)
			continue
		}
		if env.IsControl {
			l.log.Log("[Branch %d] control datagram: kind=%d", l.cfg.SelfID, env.Control.Kind)
			if l.control != nil {
				l.control(env.Control.Kind)
			}
			continue
		}
		go l.handleClientRequest(addr, env.Request)
	}
}

func (l *Listener) handleClientRequest(addr *net.UDPAddr, req wire.ClientRequest) {
	l.log.Log("[Branch %d] order corr=%d account=%d amount=%d kind=%s",
		l.cfg.SelfID, req.CorrID, req.AccountID, req.Amount, req.Kind)

	resultCh := make(chan error, 1)
	go func() { resultCh <- l.submit(req.AccountID, req.Amount, req.Kind) }()

	var status wire.ClientStatus
	select {
	case err := <-resultCh:
		status = statusFromError(err)
	case <-time.After(l.cfg.TClient):
		status = wire.StatusTimeout
	}
	l.reply(addr, wire.ClientReply{CorrID: req.CorrID, Status: status})
}

func (l *Listener) reply(addr *net.UDPAddr, rep wire.ClientReply) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rep); err != nil {
		l.log.Log("[Branch %d] encode reply failed: %v", l.cfg.SelfID, err)
		return
	}
	if _, err := l.conn.WriteToUDP(buf.Bytes(), addr); err != nil {
		l.log.Log("[Branch %d] send reply failed: %v", l.cfg.SelfID, err)
	}
}

func statusFromError(err error) wire.ClientStatus {
	switch {
	case err == nil:
		return wire.StatusOk
	case err == ledgererr.ErrInsufficientFunds:
		return wire.StatusInsufficientFunds
	case err == ledgererr.ErrOffline:
		return wire.StatusOffline
	case err == ledgererr.ErrCoordinatorUnavailable:
		return wire.StatusCoordinatorUnavailable
	case err == ledgererr.ErrBrewFailed:
		return wire.StatusBrewFailed
	case err == ledgererr.ErrTimeout:
		return wire.StatusTimeout
	case err == ledgererr.ErrInvalidAmount:
		return wire.StatusInvalid
	default:
		return wire.StatusInvalid
	}
}
