package branch

import (
	"testing"

	ledgererr "coffeewards/Ledgererr"
	wire "coffeewards/Node/Wire"
)

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want wire.ClientStatus
	}{
		{nil, wire.StatusOk},
		{ledgererr.ErrInsufficientFunds, wire.StatusInsufficientFunds},
		{ledgererr.ErrOffline, wire.StatusOffline},
		{ledgererr.ErrCoordinatorUnavailable, wire.StatusCoordinatorUnavailable},
		{ledgererr.ErrBrewFailed, wire.StatusBrewFailed},
		{ledgererr.ErrTimeout, wire.StatusTimeout},
		{ledgererr.ErrInvalidAmount, wire.StatusInvalid},
	}
	for _, c := range cases {
		if got := statusFromError(c.err); got != c.want {
			t.Errorf("statusFromError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
