// Package ledgererr defines the typed error kinds a client request can
// end in. The teacher repo carries failure reasons as free-form
// strings inside Reply/TxnReply; this repo gives the same small,
// closed set of outcomes proper sentinel errors so callers can use
// errors.Is instead of string comparison.
package ledgererr

import "errors"

var (
	// ErrInsufficientFunds: a debit larger than the coordinator's
	// current view of the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOffline: the target node is disconnected and the request is
	// a debit.
	ErrOffline = errors.New("node offline")

	// ErrCoordinatorUnavailable: no coordinator elected within the
	// client timeout.
	ErrCoordinatorUnavailable = errors.New("coordinator unavailable")

	// ErrBrewFailed: the external brew step reported failure; the
	// transaction was aborted cleanly.
	ErrBrewFailed = errors.New("brew failed")

	// ErrTimeout: the client never got a reply within T_client.
	ErrTimeout = errors.New("client timed out")

	// ErrInvalidAmount: a node-local validation failure (amount <= 0)
	// answered without ever reaching the network.
	ErrInvalidAmount = errors.New("invalid amount")
)
