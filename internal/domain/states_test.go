package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckoutTransitions(t *testing.T) {
	cases := []struct {
		from    CheckoutStatus
		to      CheckoutStatus
		allowed bool
	}{
		{CheckoutCreated, CheckoutQuoted, true},
		{CheckoutCreated, CheckoutCancelled, true},
		{CheckoutCreated, CheckoutExpired, true},
		{CheckoutCreated, CheckoutApproved, false},
		{CheckoutCreated, CheckoutConfirmed, false},

		{CheckoutQuoted, CheckoutQuoted, true}, // re-quote
		{CheckoutQuoted, CheckoutAwaitingApproval, true},
		{CheckoutQuoted, CheckoutConfirmed, false},
		{CheckoutQuoted, CheckoutFailed, false},

		{CheckoutAwaitingApproval, CheckoutApproved, true},
		{CheckoutAwaitingApproval, CheckoutQuoted, true}, // price change
		{CheckoutAwaitingApproval, CheckoutConfirmed, false},
		{CheckoutAwaitingApproval, CheckoutFailed, false},

		{CheckoutApproved, CheckoutConfirmed, true},
		{CheckoutApproved, CheckoutFailed, true},
		{CheckoutApproved, CheckoutQuoted, true}, // price change
		{CheckoutApproved, CheckoutAwaitingApproval, false},

		{CheckoutConfirmed, CheckoutCancelled, false},
		{CheckoutFailed, CheckoutQuoted, false},
		{CheckoutCancelled, CheckoutCreated, false},
		{CheckoutExpired, CheckoutQuoted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestCheckoutTerminalStates(t *testing.T) {
	for _, s := range []CheckoutStatus{CheckoutConfirmed, CheckoutFailed, CheckoutCancelled, CheckoutExpired} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.False(t, s.IsCancellable())
	}
	for _, s := range []CheckoutStatus{CheckoutCreated, CheckoutQuoted, CheckoutAwaitingApproval, CheckoutApproved} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
		assert.True(t, s.IsCancellable())
		assert.True(t, s.CanTransitionTo(CheckoutCancelled))
		assert.True(t, s.CanTransitionTo(CheckoutExpired))
	}
}

func TestCheckoutFailedOnlyFromApproved(t *testing.T) {
	for _, s := range []CheckoutStatus{CheckoutCreated, CheckoutQuoted, CheckoutAwaitingApproval, CheckoutConfirmed, CheckoutCancelled, CheckoutExpired} {
		assert.False(t, s.CanTransitionTo(CheckoutFailed), "FAILED reachable from %s", s)
	}
	assert.True(t, CheckoutApproved.CanTransitionTo(CheckoutFailed))
}

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderShipped, false},
		{OrderPending, OrderDelivered, false},

		{OrderConfirmed, OrderShipped, true},
		{OrderConfirmed, OrderCancelled, true},
		{OrderConfirmed, OrderDelivered, false},

		{OrderShipped, OrderDelivered, true},
		{OrderShipped, OrderCancelled, true},
		{OrderShipped, OrderRefunded, false},

		{OrderDelivered, OrderReturned, true},
		{OrderDelivered, OrderRefunded, true}, // refund without return
		{OrderDelivered, OrderCancelled, false},

		{OrderReturned, OrderRefunded, true},
		{OrderReturned, OrderDelivered, false},

		{OrderCancelled, OrderConfirmed, false},
		{OrderRefunded, OrderReturned, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOrderTerminalStates(t *testing.T) {
	assert.True(t, OrderCancelled.IsTerminal())
	assert.True(t, OrderRefunded.IsTerminal())
	assert.False(t, OrderDelivered.IsTerminal())
	assert.False(t, OrderReturned.IsTerminal())
}

func TestApprovalTransitions(t *testing.T) {
	for _, target := range []ApprovalStatus{ApprovalApproved, ApprovalRejected, ApprovalExpired} {
		assert.True(t, ApprovalPending.CanTransitionTo(target))
		assert.True(t, target.IsTerminal())
		assert.Empty(t, target.AllowedTransitions())
	}
	assert.False(t, ApprovalApproved.CanTransitionTo(ApprovalRejected))
	assert.True(t, ApprovalApproved.IsResolved())
	assert.True(t, ApprovalRejected.IsResolved())
	assert.False(t, ApprovalExpired.IsResolved())
}
