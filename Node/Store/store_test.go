package store

import "testing"

func TestBalanceLazyCreation(t *testing.T) {
	s, err := Open(901, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bal, err := s.Balance(7)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 100 {
		t.Fatalf("expected opening balance 100, got %d", bal)
	}
}

func TestCreditIncreasesBalance(t *testing.T) {
	s, err := Open(902, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bal, err := s.Credit(7, 10)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if bal != 110 {
		t.Fatalf("expected 110, got %d", bal)
	}
}

func TestDebitRefusesBelowZero(t *testing.T) {
	s, err := Open(903, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Debit(7, 150); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, err := s.Balance(7)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 100 {
		t.Fatalf("balance should be unchanged after a refused debit, got %d", bal)
	}
}

func TestDebitSucceeds(t *testing.T) {
	s, err := Open(904, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bal, err := s.Debit(7, 40)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal != 60 {
		t.Fatalf("expected 60, got %d", bal)
	}
}

func TestOfflineCreditsDrainInOrder(t *testing.T) {
	s, err := Open(905, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.AppendOfflineCredit("1-1", 7, 10); err != nil {
		t.Fatalf("AppendOfflineCredit: %v", err)
	}
	if err := s.AppendOfflineCredit("1-2", 7, 20); err != nil {
		t.Fatalf("AppendOfflineCredit: %v", err)
	}
	if err := s.AppendOfflineCredit("1-3", 8, 5); err != nil {
		t.Fatalf("AppendOfflineCredit: %v", err)
	}

	n, err := s.OfflineCreditCount()
	if err != nil {
		t.Fatalf("OfflineCreditCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 queued credits, got %d", n)
	}

	credits, err := s.DrainOfflineCredits()
	if err != nil {
		t.Fatalf("DrainOfflineCredits: %v", err)
	}
	if len(credits) != 3 {
		t.Fatalf("expected 3 drained credits, got %d", len(credits))
	}
	wantOrder := []string{"1-1", "1-2", "1-3"}
	for i, c := range credits {
		if c.TxID != wantOrder[i] {
			t.Fatalf("credit %d: expected tx_id %s, got %s", i, wantOrder[i], c.TxID)
		}
	}

	n, err = s.OfflineCreditCount()
	if err != nil {
		t.Fatalf("OfflineCreditCount after drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected log cleared after drain, got %d entries", n)
	}
}

func TestAllBalancesSnapshot(t *testing.T) {
	s, err := Open(906, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Credit(1, 0); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := s.Credit(2, 50); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	balances, err := s.AllBalances()
	if err != nil {
		t.Fatalf("AllBalances: %v", err)
	}
	if balances[1] != 100 || balances[2] != 150 {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}
