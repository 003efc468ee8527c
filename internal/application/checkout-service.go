package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaycart/checkout-service/internal/domain"
	"github.com/relaycart/checkout-service/internal/logger"
	"github.com/relaycart/checkout-service/internal/merchant"
	"github.com/relaycart/checkout-service/internal/repository"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

type CheckoutResult struct {
	Checkout           *domain.Checkout
	Order              *domain.Order
	Success            bool
	Error              string
	ErrorCode          string
	ReapprovalRequired bool
}

func checkoutFailure(code, msg string) CheckoutResult {
	return CheckoutResult{Success: false, Error: msg, ErrorCode: code}
}

type ListCheckoutsResult struct {
	Checkouts []*domain.Checkout
	Total     int
	Page      int
	PageSize  int
	Success   bool
	Error     string
}

// CheckoutService orchestrates the quote → freeze → approve → confirm
// flow between the agent, the merchant gateway and the order lifecycle.
type CheckoutService struct {
	checkouts repository.CheckoutRepo
	offers    repository.OfferRepo
	orders    *OrderService
	merchants merchant.Registry
	publisher EventPublisher
}

func NewCheckoutService(checkouts repository.CheckoutRepo, offers repository.OfferRepo,
	orders *OrderService, merchants merchant.Registry, publisher EventPublisher) *CheckoutService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &CheckoutService{
		checkouts: checkouts,
		offers:    offers,
		orders:    orders,
		merchants: merchants,
		publisher: publisher,
	}
}

// Create opens a new checkout session for an offer. When an idempotency
// key is supplied and a checkout already carries it, that checkout is
// returned instead of creating a second one.
func (s *CheckoutService) Create(ctx context.Context, offerID, idempotencyKey string) CheckoutResult {
	if idempotencyKey != "" {
		existing, err := s.checkouts.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return checkoutFailure(domain.CodeCreateFailed, err.Error())
		}
		if existing != nil {
			logger.Info("checkout create replayed via idempotency key",
				"checkout_id", existing.ID, "idempotency_key", idempotencyKey)
			return CheckoutResult{Checkout: existing, Success: true}
		}
	}

	offer, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return checkoutFailure(domain.CodeCreateFailed, err.Error())
	}
	if offer == nil {
		return checkoutFailure(domain.CodeOfferNotFound, fmt.Sprintf("offer not found: %s", offerID))
	}

	checkout := domain.NewCheckout(offerID, offer.MerchantID, idempotencyKey)
	if err := s.checkouts.Save(ctx, checkout); err != nil {
		logger.Error("failed to save checkout", "offer_id", offerID, "err", err)
		return checkoutFailure(domain.CodeCreateFailed, err.Error())
	}

	logger.Info("checkout created",
		"checkout_id", checkout.ID, "offer_id", offerID, "merchant_id", offer.MerchantID)

	s.publish(ctx, checkout, "checkout.created")
	return CheckoutResult{Checkout: checkout, Success: true}
}

// Quote fetches current pricing from the merchant and applies it. Valid
// while the checkout is in CREATED, QUOTED, AWAITING_APPROVAL or
// APPROVED; in the latter two a changed total rolls the checkout back to
// QUOTED and flags ReapprovalRequired.
func (s *CheckoutService) Quote(ctx context.Context, checkoutID uuid.UUID, items []merchant.QuoteRequestItem, customerEmail string) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}

	if res, expired := s.expireIfOverdue(ctx, checkout); expired {
		return res
	}

	if checkout.Status.IsTerminal() {
		return checkoutFailure(domain.CodeInvalidState,
			fmt.Sprintf("checkout %s is %s, cannot quote", checkoutID, checkout.Status))
	}

	gw := s.merchants.Gateway(checkout.MerchantID)
	if gw == nil {
		return checkoutFailure(domain.CodeMerchantNotFound,
			fmt.Sprintf("no gateway for merchant: %s", checkout.MerchantID))
	}

	quote, err := gw.Quote(ctx, items, customerEmail)
	if err != nil {
		logger.Warn("merchant quote failed", "checkout_id", checkoutID, "err", err)
		return checkoutFailure(domain.CodeMerchantError, err.Error())
	}

	reapproval, err := checkout.SetQuote(quoteToUpdate(quote))
	if err != nil {
		return s.checkoutError(err)
	}
	if customerEmail != "" {
		checkout.CustomerEmail = customerEmail
	}

	if err := s.checkouts.Update(ctx, checkout); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return s.updateError(checkoutID, err)
		}
		return checkoutFailure(domain.CodeQuoteFailed, err.Error())
	}

	logger.Info("checkout quoted",
		"checkout_id", checkoutID, "total_cents", checkout.TotalCents,
		"reapproval_required", reapproval)

	s.publish(ctx, checkout, "checkout.quoted")
	return CheckoutResult{Checkout: checkout, Success: true, ReapprovalRequired: reapproval}
}

// RequestApproval freezes the quoted price into a receipt and parks the
// checkout in AWAITING_APPROVAL.
func (s *CheckoutService) RequestApproval(ctx context.Context, checkoutID uuid.UUID) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	if res, expired := s.expireIfOverdue(ctx, checkout); expired {
		return res
	}

	if _, err := checkout.RequestApproval(); err != nil {
		return s.checkoutError(err)
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	logger.Info("approval requested",
		"checkout_id", checkoutID, "receipt_hash", checkout.FrozenReceipt.Hash,
		"total_cents", checkout.TotalCents)
	return CheckoutResult{Checkout: checkout, Success: true}
}

// Approve records the human decision. A price drift since the freeze is
// rejected with REAPPROVAL_REQUIRED and the checkout rolls back to QUOTED.
func (s *CheckoutService) Approve(ctx context.Context, checkoutID uuid.UUID, approvedBy string) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	if res, expired := s.expireIfOverdue(ctx, checkout); expired {
		return res
	}

	if err := checkout.Approve(approvedBy); err != nil {
		var reapproval *domain.ReapprovalRequiredError
		if errors.As(err, &reapproval) {
			// Drift detected at decision time: the frozen receipt is
			// stale, push back to QUOTED for a new round.
			checkout.NotePriceChange(checkout.TotalCents)
			if uerr := s.checkouts.Update(ctx, checkout); uerr != nil {
				return s.updateError(checkoutID, uerr)
			}
			result := checkoutFailure(domain.CodeReapprovalRequired, err.Error())
			result.Checkout = checkout
			result.ReapprovalRequired = true
			return result
		}
		return s.checkoutError(err)
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	logger.Info("checkout approved", "checkout_id", checkoutID, "approved_by", approvedBy)
	return CheckoutResult{Checkout: checkout, Success: true}
}

// Reject resolves a pending approval negatively by cancelling the checkout.
func (s *CheckoutService) Reject(ctx context.Context, checkoutID uuid.UUID, reason, rejectedBy string) CheckoutResult {
	if reason == "" {
		reason = "approval rejected"
	}
	return s.Cancel(ctx, checkoutID, reason, rejectedBy)
}

type ConfirmParams struct {
	PaymentMethod   string
	CustomerEmail   string
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	CustomerName    string
	IdempotencyKey  string
}

// Confirm executes the approved purchase against the merchant, moves the
// checkout to CONFIRMED and creates the order. Replaying a confirm on an
// already CONFIRMED checkout returns the existing order.
func (s *CheckoutService) Confirm(ctx context.Context, checkoutID uuid.UUID, p ConfirmParams) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}

	if checkout.Status == domain.CheckoutConfirmed {
		existing, err := s.orderForCheckout(ctx, checkout)
		if err != nil {
			return checkoutFailure(domain.CodeConfirmFailed, err.Error())
		}
		logger.Info("checkout confirm replayed", "checkout_id", checkoutID)
		return CheckoutResult{Checkout: checkout, Order: existing, Success: true}
	}

	if res, expired := s.expireIfOverdue(ctx, checkout); expired {
		return res
	}

	if checkout.Status != domain.CheckoutApproved {
		err := &domain.NotApprovedError{CheckoutID: checkoutID.String(), Status: checkout.Status}
		return checkoutFailure(domain.CodeNotApproved, err.Error())
	}
	if checkout.RequiresReapproval() {
		reapproval := checkout.NotePriceChange(checkout.TotalCents)
		if uerr := s.checkouts.Update(ctx, checkout); uerr != nil {
			return s.updateError(checkoutID, uerr)
		}
		result := checkoutFailure(domain.CodeReapprovalRequired,
			fmt.Sprintf("checkout %s: price drifted, re-approval required", checkoutID))
		result.Checkout = checkout
		result.ReapprovalRequired = reapproval
		return result
	}
	if checkout.MerchantCheckoutID == "" {
		return checkoutFailure(domain.CodeQuoteRequired,
			fmt.Sprintf("checkout %s has no merchant quote to confirm", checkoutID))
	}

	gw := s.merchants.Gateway(checkout.MerchantID)
	if gw == nil {
		return checkoutFailure(domain.CodeMerchantNotFound,
			fmt.Sprintf("no gateway for merchant: %s", checkout.MerchantID))
	}

	confirm, err := gw.Confirm(ctx, checkout.MerchantCheckoutID, p.PaymentMethod, p.IdempotencyKey)
	if err != nil {
		if errors.Is(err, merchant.ErrPriceChanged) {
			// The merchant repriced between approval and execution.
			// Force a new quote + approval round.
			if rerr := checkout.RollbackToQuoted("merchant reported price change on confirm"); rerr != nil {
				return s.checkoutError(rerr)
			}
			if uerr := s.checkouts.Update(ctx, checkout); uerr != nil {
				return s.updateError(checkoutID, uerr)
			}
			result := checkoutFailure(domain.CodeReapprovalRequired, err.Error())
			result.Checkout = checkout
			result.ReapprovalRequired = true
			return result
		}
		logger.Warn("merchant confirm failed", "checkout_id", checkoutID, "err", err)
		if ferr := checkout.Fail(domain.CodeMerchantError, err.Error()); ferr == nil {
			if uerr := s.checkouts.Update(ctx, checkout); uerr != nil {
				logger.Error("failed to persist checkout failure", "checkout_id", checkoutID, "err", uerr)
			}
			s.publish(ctx, checkout, "checkout.failed")
		}
		return checkoutFailure(domain.CodeMerchantError, err.Error())
	}

	if err := checkout.Confirm(confirm.MerchantOrderID); err != nil {
		return s.checkoutError(err)
	}
	if p.CustomerEmail != "" {
		checkout.CustomerEmail = p.CustomerEmail
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	email := checkout.CustomerEmail
	if p.CustomerEmail != "" {
		email = p.CustomerEmail
	}
	orderRes := s.orders.CreateFromCheckout(ctx, CreateOrderParams{
		CheckoutID:      checkout.ID,
		MerchantID:      checkout.MerchantID,
		MerchantOrderID: confirm.MerchantOrderID,
		Customer:        domain.Customer{Email: email, Name: p.CustomerName},
		ShippingAddress: p.ShippingAddress,
		BillingAddress:  p.BillingAddress,
		Items:           checkoutItemsToOrderItems(checkout.Items),
		SubtotalCents:   checkout.SubtotalCents,
		TaxCents:        checkout.TaxCents,
		ShippingCents:   checkout.ShippingCents,
		TotalCents:      checkout.TotalCents,
		Currency:        checkout.Currency,
	})
	if !orderRes.Success {
		// The purchase went through at the merchant; surface the order
		// creation failure without un-confirming the checkout.
		logger.Error("order creation failed after confirm",
			"checkout_id", checkoutID, "merchant_order_id", confirm.MerchantOrderID,
			"error", orderRes.Error)
		return checkoutFailure(domain.CodeConfirmFailed, orderRes.Error)
	}

	logger.Info("checkout confirmed",
		"checkout_id", checkoutID, "merchant_order_id", confirm.MerchantOrderID,
		"order_id", orderRes.Order.ID, "total_cents", checkout.TotalCents)

	s.publish(ctx, checkout, "checkout.confirmed")
	return CheckoutResult{Checkout: checkout, Order: orderRes.Order, Success: true}
}

func (s *CheckoutService) Get(ctx context.Context, checkoutID uuid.UUID) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	return CheckoutResult{Checkout: checkout, Success: true}
}

func (s *CheckoutService) List(ctx context.Context, page, pageSize int) ListCheckoutsResult {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	checkouts, total, err := s.checkouts.List(ctx, page, pageSize)
	if err != nil {
		return ListCheckoutsResult{Success: false, Error: err.Error()}
	}
	return ListCheckoutsResult{Checkouts: checkouts, Total: total, Page: page, PageSize: pageSize, Success: true}
}

func (s *CheckoutService) Cancel(ctx context.Context, checkoutID uuid.UUID, reason, cancelledBy string) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	if err := checkout.Cancel(reason, cancelledBy); err != nil {
		return s.checkoutError(err)
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	logger.Info("checkout cancelled", "checkout_id", checkoutID, "reason", reason)
	return CheckoutResult{Checkout: checkout, Success: true}
}

// MarkFailed records a merchant-reported checkout failure, e.g. from a
// checkout.failed webhook.
func (s *CheckoutService) MarkFailed(ctx context.Context, checkoutID uuid.UUID, code, message string) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	if checkout.Status == domain.CheckoutFailed {
		return CheckoutResult{Checkout: checkout, Success: true}
	}
	if err := checkout.Fail(code, message); err != nil {
		return s.checkoutError(err)
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	s.publish(ctx, checkout, "checkout.failed")
	return CheckoutResult{Checkout: checkout, Success: true}
}

// HandlePriceChanged applies a merchant-pushed price change. A checkout
// holding a now-stale frozen receipt rolls back to QUOTED.
func (s *CheckoutService) HandlePriceChanged(ctx context.Context, checkoutID uuid.UUID, newTotalCents int64) CheckoutResult {
	checkout, res := s.load(ctx, checkoutID)
	if checkout == nil {
		return res
	}
	if checkout.Status.IsTerminal() {
		// Nothing to reprice; the merchant's notification arrived late.
		return CheckoutResult{Checkout: checkout, Success: true}
	}

	reapproval := checkout.NotePriceChange(newTotalCents)
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		return s.updateError(checkoutID, err)
	}

	logger.Info("merchant price change applied",
		"checkout_id", checkoutID, "new_total_cents", newTotalCents,
		"reapproval_required", reapproval)
	return CheckoutResult{Checkout: checkout, Success: true, ReapprovalRequired: reapproval}
}

func (s *CheckoutService) load(ctx context.Context, checkoutID uuid.UUID) (*domain.Checkout, CheckoutResult) {
	checkout, err := s.checkouts.Get(ctx, checkoutID)
	if err != nil {
		return nil, checkoutFailure(domain.CodeCheckoutNotFound, err.Error())
	}
	if checkout == nil {
		return nil, checkoutFailure(domain.CodeCheckoutNotFound,
			fmt.Sprintf("checkout not found: %s", checkoutID))
	}
	return checkout, CheckoutResult{}
}

// expireIfOverdue lazily flips an overdue checkout to EXPIRED before the
// requested operation gets a chance to run.
func (s *CheckoutService) expireIfOverdue(ctx context.Context, checkout *domain.Checkout) (CheckoutResult, bool) {
	if !checkout.IsExpired() || checkout.Status.IsTerminal() {
		return CheckoutResult{}, false
	}
	if err := checkout.Expire(); err != nil {
		return checkoutFailure(domain.CodeCheckoutExpired, err.Error()), true
	}
	if err := s.checkouts.Update(ctx, checkout); err != nil {
		logger.Warn("failed to persist checkout expiration", "checkout_id", checkout.ID, "err", err)
	}
	s.publish(ctx, checkout, "checkout.expired")
	result := checkoutFailure(domain.CodeCheckoutExpired,
		fmt.Sprintf("checkout %s has expired", checkout.ID))
	result.Checkout = checkout
	return result, true
}

func (s *CheckoutService) checkoutError(err error) CheckoutResult {
	var (
		expired    *domain.CheckoutExpiredError
		reapproval *domain.ReapprovalRequiredError
		invalid    *domain.InvalidStateTransitionError
		notAppr    *domain.NotApprovedError
	)
	switch {
	case errors.As(err, &expired):
		return checkoutFailure(domain.CodeCheckoutExpired, err.Error())
	case errors.As(err, &reapproval):
		result := checkoutFailure(domain.CodeReapprovalRequired, err.Error())
		result.ReapprovalRequired = true
		return result
	case errors.As(err, &notAppr):
		return checkoutFailure(domain.CodeNotApproved, err.Error())
	case errors.As(err, &invalid):
		return checkoutFailure(domain.CodeInvalidState, err.Error())
	default:
		return checkoutFailure(domain.CodeInvalidState, err.Error())
	}
}

func (s *CheckoutService) updateError(checkoutID uuid.UUID, err error) CheckoutResult {
	if errors.Is(err, domain.ErrVersionConflict) {
		logger.Warn("checkout update lost concurrent race", "checkout_id", checkoutID)
		return checkoutFailure(domain.CodeInvalidState,
			fmt.Sprintf("checkout %s was modified concurrently", checkoutID))
	}
	return checkoutFailure(domain.CodeInvalidState, err.Error())
}

func (s *CheckoutService) orderForCheckout(ctx context.Context, checkout *domain.Checkout) (*domain.Order, error) {
	return s.orders.repo.GetByCheckoutID(ctx, checkout.ID)
}

func (s *CheckoutService) publish(ctx context.Context, checkout *domain.Checkout, eventType string) {
	event := map[string]any{
		"event_type":  eventType,
		"checkout_id": checkout.ID.String(),
		"merchant_id": checkout.MerchantID,
		"offer_id":    checkout.OfferID,
		"status":      checkout.Status,
		"total_cents": checkout.TotalCents,
	}
	if err := s.publisher.Publish(ctx, checkout.ID.String(), event); err != nil {
		logger.Warn("failed to publish checkout event", "checkout_id", checkout.ID, "type", eventType, "err", err)
	}
}

func quoteToUpdate(q *merchant.QuoteResponse) domain.QuoteUpdate {
	items := make([]domain.CheckoutItem, len(q.Items))
	for i, it := range q.Items {
		items[i] = domain.CheckoutItem{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Title:          it.Title,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
			Currency:       it.Currency,
		}
	}
	return domain.QuoteUpdate{
		Items:              items,
		SubtotalCents:      q.SubtotalCents,
		TaxCents:           q.TaxCents,
		ShippingCents:      q.ShippingCents,
		TotalCents:         q.TotalCents,
		Currency:           q.Currency,
		MerchantCheckoutID: q.CheckoutID,
		ReceiptHash:        q.ReceiptHash,
	}
}

func checkoutItemsToOrderItems(items []domain.CheckoutItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, it := range items {
		out[i] = domain.OrderItem{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Title:          it.Title,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
			Currency:       it.Currency,
		}
	}
	return out
}
