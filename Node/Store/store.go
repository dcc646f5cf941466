// Package store is the node actor's account ledger: a database/sql +
// go-sqlite3 table of balances plus an offline-credit log, opened
// against an in-memory DSN rather than a file on disk. Balances and
// the offline-credit log live only as long as the process does.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrInsufficientFunds is returned by Debit when the account's
// balance is smaller than the requested amount.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds")

// OfflineCredit is one entry of the offline-credit log, in the order
// it was applied.
type OfflineCredit struct {
	TxID      string
	AccountID uint64
	Amount    int64
}

// Store owns one node's account table and offline-credit log. All
// access is serialized by mu: the node actor's goroutine does most of
// the access, but the actor's reconnect sequence drains the
// offline-credit log from its own goroutine and the operator console
// (Node/node.go) reads it concurrently for introspection.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	saldoInicial int64
}

// Open creates a fresh in-memory account store. dsn is unique per
// process (derived from the node id) so concurrently-run node
// processes in tests don't share the same named in-memory database.
func Open(nodeID int, saldoInicial int64) (*Store, error) {
	dsn := fmt.Sprintf("file:node%d?mode=memory&cache=shared", nodeID)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS balances (
		account_id INTEGER PRIMARY KEY,
		balance INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS offline_credits (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		amount INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, saldoInicial: saldoInicial}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ensureAccountLocked lazily creates an account row at SaldoInicial.
// Caller must hold s.mu.
func (s *Store) ensureAccountLocked(accountID uint64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO balances(account_id, balance) VALUES(?, ?)`,
		accountID, s.saldoInicial)
	return err
}

// Balance returns an account's current balance, creating it at
// SaldoInicial if this is the first reference.
func (s *Store) Balance(accountID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureAccountLocked(accountID); err != nil {
		return 0, err
	}
	var balance int64
	row := s.db.QueryRow(`SELECT balance FROM balances WHERE account_id = ?`, accountID)
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit increases an account's balance by amount and returns the new
// balance. Never fails on account of the amount (I1/I2 only bind
// debits).
func (s *Store) Credit(accountID uint64, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureAccountLocked(accountID); err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`UPDATE balances SET balance = balance + ? WHERE account_id = ?`, amount, accountID); err != nil {
		return 0, err
	}
	var balance int64
	row := s.db.QueryRow(`SELECT balance FROM balances WHERE account_id = ?`, accountID)
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit decreases an account's balance by amount, refusing to drive
// it below zero (I1).
func (s *Store) Debit(accountID uint64, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureAccountLocked(accountID); err != nil {
		return 0, err
	}
	var balance int64
	row := s.db.QueryRow(`SELECT balance FROM balances WHERE account_id = ?`, accountID)
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	if balance < amount {
		return balance, ErrInsufficientFunds
	}
	if _, err := s.db.Exec(`UPDATE balances SET balance = balance - ? WHERE account_id = ?`, amount, accountID); err != nil {
		return 0, err
	}
	return balance - amount, nil
}

// AppendOfflineCredit records a credit applied while disconnected, in
// the order it happened.
func (s *Store) AppendOfflineCredit(txID string, accountID uint64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO offline_credits(tx_id, account_id, amount) VALUES(?, ?, ?)`,
		txID, accountID, amount)
	return err
}

// DrainOfflineCredits returns every logged offline credit in original
// order and clears the log. Called once on reconnect.
func (s *Store) DrainOfflineCredits() ([]OfflineCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT tx_id, account_id, amount FROM offline_credits ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	var out []OfflineCredit
	for rows.Next() {
		var oc OfflineCredit
		if err := rows.Scan(&oc.TxID, &oc.AccountID, &oc.Amount); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if _, err := s.db.Exec(`DELETE FROM offline_credits`); err != nil {
		return nil, err
	}
	return out, nil
}

// OfflineCreditCount reports how many offline credits are queued,
// for operator introspection.
func (s *Store) OfflineCreditCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM offline_credits`)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AllBalances returns a snapshot of every known account's balance,
// for the operator console's Print Balance command.
func (s *Store) AllBalances() (map[uint64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT account_id, balance FROM balances ORDER BY account_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uint64]int64)
	for rows.Next() {
		var id uint64
		var bal int64
		if err := rows.Scan(&id, &bal); err != nil {
			return nil, err
		}
		out[id] = bal
	}
	return out, rows.Err()
}
