package domain

import (
	"errors"
	"fmt"
)

// Error codes returned in service results. Callers branch on these, never
// on error text.
const (
	CodeCheckoutNotFound   = "CHECKOUT_NOT_FOUND"
	CodeOrderNotFound      = "ORDER_NOT_FOUND"
	CodeOfferNotFound      = "OFFER_NOT_FOUND"
	CodeMerchantNotFound   = "MERCHANT_NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotApproved        = "NOT_APPROVED"
	CodeCheckoutExpired    = "CHECKOUT_EXPIRED"
	CodeReapprovalRequired = "REAPPROVAL_REQUIRED"
	CodeMerchantError      = "MERCHANT_ERROR"
	CodeQuoteRequired      = "QUOTE_REQUIRED"
	CodeCreateFailed       = "CREATE_FAILED"
	CodeQuoteFailed        = "QUOTE_FAILED"
	CodeApprovalFailed     = "APPROVAL_FAILED"
	CodeConfirmFailed      = "CONFIRM_FAILED"
)

var (
	ErrCheckoutNotFound = errors.New("checkout not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOfferNotFound    = errors.New("offer not found")
	ErrMerchantNotFound = errors.New("merchant not found")

	// ErrVersionConflict is returned by repositories when an optimistic
	// update lost the race against a concurrent writer.
	ErrVersionConflict = errors.New("aggregate version conflict")
)

// InvalidStateTransitionError reports an attempted transition that the
// entity's transition table does not allow.
type InvalidStateTransitionError struct {
	EntityType string
	EntityID   string
	Current    string
	Target     string
	Allowed    []string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s (allowed: %v)",
		e.EntityType, e.EntityID, e.Current, e.Target, e.Allowed)
}

// CheckoutExpiredError reports a mutating operation against a checkout
// whose 24h window has passed.
type CheckoutExpiredError struct {
	CheckoutID string
}

func (e *CheckoutExpiredError) Error() string {
	return fmt.Sprintf("checkout %s has expired", e.CheckoutID)
}

// ReapprovalRequiredError reports a price drift between the frozen receipt
// and the current checkout total.
type ReapprovalRequiredError struct {
	CheckoutID   string
	FrozenCents  int64
	CurrentCents int64
}

func (e *ReapprovalRequiredError) Error() string {
	return fmt.Sprintf("checkout %s: price changed from %d to %d cents, re-approval required",
		e.CheckoutID, e.FrozenCents, e.CurrentCents)
}

// NotApprovedError reports a confirm attempt on a checkout that is not in
// the APPROVED state.
type NotApprovedError struct {
	CheckoutID string
	Status     CheckoutStatus
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("checkout %s must be approved before confirmation (current: %s)",
		e.CheckoutID, e.Status)
}

func checkoutStatusStrings(ss []CheckoutStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func orderStatusStrings(ss []OrderStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// ValidateCheckoutTransition returns an InvalidStateTransitionError when
// the checkout transition table forbids current → target.
func ValidateCheckoutTransition(id string, current, target CheckoutStatus) error {
	if !current.CanTransitionTo(target) {
		return &InvalidStateTransitionError{
			EntityType: "Checkout",
			EntityID:   id,
			Current:    string(current),
			Target:     string(target),
			Allowed:    checkoutStatusStrings(current.AllowedTransitions()),
		}
	}
	return nil
}

// ValidateOrderTransition returns an InvalidStateTransitionError when the
// order transition table forbids current → target.
func ValidateOrderTransition(id string, current, target OrderStatus) error {
	if !current.CanTransitionTo(target) {
		return &InvalidStateTransitionError{
			EntityType: "Order",
			EntityID:   id,
			Current:    string(current),
			Target:     string(target),
			Allowed:    orderStatusStrings(current.AllowedTransitions()),
		}
	}
	return nil
}
