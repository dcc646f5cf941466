package wire

import "testing"

func TestKindString(t *testing.T) {
	cases := map[Kind]string{Add: "Add", Sub: "Sub"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestClientStatusString(t *testing.T) {
	cases := map[ClientStatus]string{
		StatusOk:                     "Ok",
		StatusInsufficientFunds:      "InsufficientFunds",
		StatusOffline:                "Offline",
		StatusCoordinatorUnavailable: "CoordinatorUnavailable",
		StatusBrewFailed:             "BrewFailed",
		StatusTimeout:                "Timeout",
		StatusInvalid:                "InvalidRequest",
		ClientStatus(99):             "Unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("ClientStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestTxIDStringAndZero(t *testing.T) {
	var zero TxID
	if !zero.Zero() {
		t.Fatalf("zero-value TxID should report Zero() true")
	}
	id := TxID{Origin: 2, Seq: 7}
	if id.Zero() {
		t.Fatalf("non-empty TxID should report Zero() false")
	}
	if got, want := id.String(), "2-7"; got != want {
		t.Fatalf("TxID.String() = %q, want %q", got, want)
	}
}
