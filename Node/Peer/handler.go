// Package peer is the node-to-node link: one Handler per peer TCP
// connection, shared read-only (as a map, built once at process
// startup) between a process's node actor and its coordinator actor,
// so a pair of node processes never opens more than one TCP
// connection between them regardless of which local actor is using
// it. One persistent *rpc.Client per peer, dialed lazily and re-dialed
// after a failure.
package peer

import (
	"net/rpc"
	"sync"

	logger "coffeewards/Node/logger"
)

// Handler wraps one outbound connection to a peer node, dialing
// lazily and re-dialing after a prior failure. A failed Call is
// reported only through its returned error; it is each caller's own
// job to decide what that means for its actor's state (coordinator
// lost, peer dropped from active_peers, and so on).
type Handler struct {
	nodeID int
	addr   string
	log    *logger.Logger

	mu     sync.Mutex
	client *rpc.Client
}

// New returns a Handler for the given peer. No connection is made
// until the first Call.
func New(nodeID int, addr string, log *logger.Logger) *Handler {
	return &Handler{nodeID: nodeID, addr: addr, log: log}
}

func (h *Handler) ensureConnectedLocked() error {
	if h.client != nil {
		return nil
	}
	client, err := rpc.Dial("tcp", h.addr)
	if err != nil {
		return err
	}
	h.client = client
	return nil
}

// Call issues one synchronous RPC to the peer, dialing lazily and
// re-dialing after a prior failure.
func (h *Handler) Call(method string, args interface{}, reply interface{}) error {
	h.mu.Lock()
	if err := h.ensureConnectedLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	client := h.client
	h.mu.Unlock()

	err := client.Call(method, args, reply)
	if err != nil {
		h.log.Log("[Peer %d] call %s failed: %v", h.nodeID, method, err)
		h.mu.Lock()
		if h.client == client {
			h.client.Close()
			h.client = nil
		}
		h.mu.Unlock()
	}
	return err
}

// Close tears down the underlying connection, if any.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
}
