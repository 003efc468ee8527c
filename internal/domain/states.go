package domain

// CheckoutStatus is the lifecycle state of a checkout session.
//
//	CREATED → QUOTED → AWAITING_APPROVAL → APPROVED → CONFIRMED
//
// AWAITING_APPROVAL and APPROVED can fall back to QUOTED when the live
// price diverges from the frozen receipt. CANCELLED and EXPIRED are
// reachable from every non-terminal state; FAILED only from APPROVED.
type CheckoutStatus string

const (
	CheckoutCreated          CheckoutStatus = "created"
	CheckoutQuoted           CheckoutStatus = "quoted"
	CheckoutAwaitingApproval CheckoutStatus = "awaiting_approval"
	CheckoutApproved         CheckoutStatus = "approved"
	CheckoutConfirmed        CheckoutStatus = "confirmed"
	CheckoutFailed           CheckoutStatus = "failed"
	CheckoutCancelled        CheckoutStatus = "cancelled"
	CheckoutExpired          CheckoutStatus = "expired"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutCreated: {CheckoutQuoted, CheckoutCancelled, CheckoutExpired},
	CheckoutQuoted:  {CheckoutAwaitingApproval, CheckoutQuoted, CheckoutCancelled, CheckoutExpired},
	CheckoutAwaitingApproval: {
		CheckoutApproved,
		CheckoutQuoted, // price changed, back to quoted
		CheckoutCancelled,
		CheckoutExpired,
	},
	CheckoutApproved: {
		CheckoutConfirmed,
		CheckoutFailed,
		CheckoutQuoted, // price changed, back to quoted
		CheckoutCancelled,
		CheckoutExpired,
	},
	CheckoutConfirmed: {},
	CheckoutFailed:    {},
	CheckoutCancelled: {},
	CheckoutExpired:   {},
}

func (s CheckoutStatus) CanTransitionTo(target CheckoutStatus) bool {
	for _, t := range checkoutTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) AllowedTransitions() []CheckoutStatus {
	return checkoutTransitions[s]
}

func (s CheckoutStatus) IsTerminal() bool {
	return len(checkoutTransitions[s]) == 0
}

func (s CheckoutStatus) IsCancellable() bool {
	return !s.IsTerminal()
}

// IsQuotable reports whether a fresh quote can be requested without
// touching a frozen receipt.
func (s CheckoutStatus) IsQuotable() bool {
	return s == CheckoutCreated || s == CheckoutQuoted
}

// RequiresReapproval reports whether a price change in this state must
// push the checkout back to QUOTED for a new approval round.
func (s CheckoutStatus) RequiresReapproval() bool {
	return s == CheckoutAwaitingApproval || s == CheckoutApproved
}

// OrderStatus is the lifecycle state of an order.
//
//	PENDING → CONFIRMED → SHIPPED → DELIVERED → RETURNED → REFUNDED
//
// CANCELLED is reachable from PENDING, CONFIRMED and SHIPPED. DELIVERED
// may refund directly without a return.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderReturned  OrderStatus = "returned"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered, OrderCancelled},
	OrderDelivered: {OrderReturned, OrderRefunded},
	OrderReturned:  {OrderRefunded},
	OrderCancelled: {},
	OrderRefunded:  {},
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return orderTransitions[s]
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

func (s OrderStatus) IsCancellable() bool {
	return s == OrderPending || s == OrderConfirmed || s == OrderShipped
}

func (s OrderStatus) IsFulfillable() bool {
	return s == OrderPending || s == OrderConfirmed || s == OrderShipped
}

// ApprovalStatus is the lifecycle state of an approval request.
// Every state except PENDING is terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending:  {ApprovalApproved, ApprovalRejected, ApprovalExpired},
	ApprovalApproved: {},
	ApprovalRejected: {},
	ApprovalExpired:  {},
}

func (s ApprovalStatus) CanTransitionTo(target ApprovalStatus) bool {
	for _, t := range approvalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s ApprovalStatus) AllowedTransitions() []ApprovalStatus {
	return approvalTransitions[s]
}

func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

func (s ApprovalStatus) IsResolved() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}
