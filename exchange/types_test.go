package exchange_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pageturn/bookswap/exchange"
)

func TestStatus_ActiveAndSettledSets(t *testing.T) {
	// The predicates are driven by the exported sets; the grid pins the
	// classification of every status.

	cases := []struct {
		status  exchange.Status
		active  bool
		settled bool
	}{
		{exchange.StatusRequested, true, false},
		{exchange.StatusApproved, true, false},
		{exchange.StatusCompleted, false, true},
		{exchange.StatusRejected, false, false},
		{exchange.StatusDisputed, false, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.active, tc.status.IsActive(), "IsActive(%s)", tc.status)
		assert.Equal(t, tc.settled, tc.status.IsSettled(), "IsSettled(%s)", tc.status)
	}

	for _, s := range exchange.ActiveStatuses {
		assert.True(t, s.IsActive())
	}
	for _, s := range exchange.SettledStatuses {
		assert.True(t, s.IsSettled())
	}
}
