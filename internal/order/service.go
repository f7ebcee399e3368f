package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaigon/storefront/internal/catalog"
	"github.com/asaigon/storefront/internal/events"
	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/metrics"
	"github.com/asaigon/storefront/internal/payment/vnpay"
	"github.com/asaigon/storefront/internal/storage"
	"github.com/asaigon/storefront/internal/types/order"
	"github.com/asaigon/storefront/internal/types/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 5 * time.Second
	// maxSettleAttempts bounds re-reads after losing a status compare-and-set.
	maxSettleAttempts = 3
)

type Service struct {
	repo           OrderRepository
	payments       PaymentEventRepository
	gateway        Gateway
	prices         PriceChecker
	publisher      events.Publisher
	gatewayTimeout time.Duration
	now            func() time.Time
}

type Option func(*Service)

// WithPriceChecker makes checkout compare every line against the catalog.
func WithPriceChecker(p PriceChecker) Option {
	return func(s *Service) { s.prices = p }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

func NewService(repo OrderRepository, payments PaymentEventRepository, gateway Gateway, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		payments:       payments,
		gateway:        gateway,
		publisher:      events.Noop{},
		gatewayTimeout: defaultGatewayTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CheckoutRequest struct {
	UserID      string
	Items       []order.Item
	TotalAmount *decimal.Decimal
	ClientIP    string
}

type CheckoutResult struct {
	Order      *order.Order `json:"order"`
	PaymentURL string       `json:"paymentUrl"`
}

// Checkout validates the cart, stores a pending order and returns the
// provider redirect for it. If the redirect cannot be produced the order is
// moved to payment_failed so it never stays pending without a way to pay.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	total, err := s.validateCheckout(ctx, req)
	if err != nil {
		metrics.RecordOrderOperation("checkout", false)
		return nil, err
	}

	o := &order.Order{
		UserID:      req.UserID,
		Items:       req.Items,
		TotalAmount: total,
		Status:      order.StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		metrics.RecordOrderOperation("checkout", false)
		return nil, fmt.Errorf("create order: %w", err)
	}
	logger.Log.Info("order created",
		zap.Int64("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("total", o.TotalAmount.String()),
	)
	s.publish(ctx, events.OrderCreated, o)

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	url, err := s.gateway.BuildPaymentRedirect(gctx, vnpay.PaymentRequest{
		OrderID:   o.ID,
		Amount:    o.TotalAmount,
		OrderInfo: fmt.Sprintf("Thanh toan don hang %d", o.ID),
		ClientIP:  req.ClientIP,
	})
	if err != nil {
		metrics.RecordOrderOperation("checkout", false)
		s.compensateCheckout(ctx, o.ID, err)
		if errors.Is(err, vnpay.ErrMissingSecret) {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	metrics.RecordOrderOperation("checkout", true)
	return &CheckoutResult{Order: o, PaymentURL: url}, nil
}

func (s *Service) validateCheckout(ctx context.Context, req CheckoutRequest) (decimal.Decimal, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return decimal.Zero, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return decimal.Zero, fmt.Errorf("%w: items are required", ErrValidation)
	}
	if req.TotalAmount == nil {
		return decimal.Zero, fmt.Errorf("%w: totalAmount is required", ErrValidation)
	}
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return decimal.Zero, fmt.Errorf("%w: item %d has non-positive quantity", ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: item %d has negative price", ErrValidation, i)
		}
		if s.prices == nil {
			continue
		}
		price, err := s.prices.PriceOf(ctx, it.ProductID)
		if errors.Is(err, catalog.ErrUnavailable) {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("price product %d: %w", it.ProductID, err)
		}
		if !price.Equal(it.UnitPrice) {
			return decimal.Zero, fmt.Errorf("%w: price of product %d changed", ErrValidation, it.ProductID)
		}
	}

	computed := order.ItemsTotal(req.Items)
	if !computed.Equal(*req.TotalAmount) {
		return decimal.Zero, fmt.Errorf("%w: totalAmount %s does not match items total %s",
			ErrValidation, req.TotalAmount.String(), computed.String())
	}
	if !computed.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: totalAmount must be positive", ErrValidation)
	}
	return computed, nil
}

// compensateCheckout runs on a context detached from the request so a
// client disconnect cannot leave the order pending.
func (s *Service) compensateCheckout(ctx context.Context, id int64, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gatewayTimeout)
	defer cancel()

	logger.Log.Warn("payment redirect failed, marking order payment_failed",
		zap.Int64("order_id", id), zap.Error(cause))
	updated, err := s.repo.UpdateOrderStatus(cctx, id, order.StatusPending, order.StatusPaymentFailed, nil)
	if err != nil {
		logger.Log.Error("compensate checkout", zap.Int64("order_id", id), zap.Error(err))
		return
	}
	s.publish(cctx, events.OrderStatusChanged, updated)
}

type CallbackResult struct {
	Order *order.Order
	// NoOp is set when the order already had the resulting status.
	NoOp bool
}

// HandleCallback verifies a provider callback and settles the order. A
// repeated callback for an already settled order is a successful no-op.
func (s *Service) HandleCallback(ctx context.Context, params map[string]string) (*CallbackResult, error) {
	v, err := s.gateway.VerifyCallback(params)
	if err != nil {
		if errors.Is(err, vnpay.ErrMalformedCallback) {
			logger.Log.Warn("signed parameters are not a payment result",
				zap.String("txn_ref", v.OrderRef), zap.Error(err))
			s.recordCallback(ctx, params, v, payment.OutcomeMalformed)
			return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		s.recordCallback(ctx, params, v, payment.OutcomeError)
		if errors.Is(err, vnpay.ErrMissingSecret) {
			logger.Log.Error("payment callback rejected: secret missing")
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, err
	}
	if !v.Valid {
		logger.Log.Warn("payment callback with invalid signature", zap.String("txn_ref", v.OrderRef))
		s.recordCallback(ctx, params, v, payment.OutcomeInvalidSignature)
		return nil, ErrSignature
	}

	res, err := s.settle(ctx, v)
	s.recordCallback(ctx, params, v, callbackOutcome(res, err))
	if err != nil {
		logger.Log.Warn("payment callback not applied",
			zap.String("txn_ref", v.OrderRef),
			zap.String("response_code", v.ResponseCode),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Log.Info("payment callback applied",
		zap.Int64("order_id", res.Order.ID),
		zap.String("status", string(res.Order.Status)),
		zap.Bool("noop", res.NoOp),
	)
	return res, nil
}

func (s *Service) settle(ctx context.Context, v vnpay.Verification) (*CallbackResult, error) {
	id, err := strconv.ParseInt(v.OrderRef, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: txn ref %q", ErrNotFound, v.OrderRef)
	}
	o, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected := o.TotalAmount.Shift(2).IntPart(); v.Amount != expected {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrAmountMismatch, v.Amount, expected)
	}

	target := order.StatusPaymentFailed
	var paymentID *string
	if v.Succeeded() {
		target = order.StatusCompleted
		if v.ProviderTxnID != "" {
			txn := v.ProviderTxnID
			paymentID = &txn
		}
	}

	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		if o.Status == target {
			return &CallbackResult{Order: o, NoOp: true}, nil
		}
		if o.Status == order.StatusCancelled && v.Succeeded() {
			logger.Log.Error("payment succeeded for cancelled order, reconcile manually",
				zap.Int64("order_id", o.ID),
				zap.String("provider_txn_id", v.ProviderTxnID),
				zap.String("pay_date", v.PayDate),
			)
			return nil, fmt.Errorf("%w: order %d", ErrPaidAfterCancel, o.ID)
		}
		if o.Status != order.StatusPending {
			return nil, fmt.Errorf("%w: order %d is %s", ErrAlreadyProcessed, o.ID, o.Status)
		}
		updated, err := s.repo.UpdateOrderStatus(ctx, o.ID, order.StatusPending, target, paymentID)
		if err == nil {
			metrics.RecordOrderOperation("settle", true)
			s.publish(ctx, events.OrderStatusChanged, updated)
			return &CallbackResult{Order: updated}, nil
		}
		if !errors.Is(err, storage.ErrStatusConflict) {
			metrics.RecordOrderOperation("settle", false)
			return nil, fmt.Errorf("update order %d: %w", o.ID, err)
		}
		if o, err = s.findOrder(ctx, id); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: order %d kept changing", ErrAlreadyProcessed, id)
}

func callbackOutcome(res *CallbackResult, err error) payment.Outcome {
	switch {
	case err == nil && res.NoOp:
		return payment.OutcomeDuplicate
	case err == nil:
		return payment.OutcomeAccepted
	case errors.Is(err, ErrNotFound):
		return payment.OutcomeOrderNotFound
	case errors.Is(err, ErrAmountMismatch):
		return payment.OutcomeAmountMismatch
	case errors.Is(err, ErrPaidAfterCancel):
		return payment.OutcomePaidAfterCancel
	case errors.Is(err, ErrAlreadyProcessed):
		return payment.OutcomeAlreadyProcessed
	default:
		return payment.OutcomeError
	}
}

// recordCallback appends to the payment event log. Failures are logged and
// do not change the callback answer.
func (s *Service) recordCallback(ctx context.Context, params map[string]string, v vnpay.Verification, outcome payment.Outcome) {
	metrics.RecordPaymentCallback(string(outcome))
	if s.payments == nil {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte("{}")
	}
	e := &payment.Event{
		OrderRef:      v.OrderRef,
		ProviderTxnID: v.ProviderTxnID,
		ResponseCode:  v.ResponseCode,
		Outcome:       outcome,
		Params:        string(raw),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.payments.SavePaymentEvent(context.WithoutCancel(ctx), e); err != nil {
		logger.Log.Error("save payment event", zap.String("txn_ref", v.OrderRef), zap.Error(err))
	}
}

// CallbackResponse maps a HandleCallback error to the provider's IPN
// response code and message.
func CallbackResponse(err error) (code, message string) {
	switch {
	case err == nil:
		return "00", "Confirm Success"
	case errors.Is(err, ErrNotFound):
		return "01", "Order not found"
	case errors.Is(err, ErrAlreadyProcessed):
		return "02", "Order already confirmed"
	case errors.Is(err, ErrAmountMismatch):
		return "04", "Invalid amount"
	case errors.Is(err, ErrSignature):
		return "97", "Invalid signature"
	default:
		return "99", "Unknown error"
	}
}

// GetOrder returns the order only to its owner; other users get ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, userID string, id int64) (*order.Order, error) {
	o, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]order.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

func (s *Service) ListAllOrders(ctx context.Context) ([]order.Order, error) {
	return s.repo.ListOrders(ctx)
}

// UpdateStatus is the admin transition. Moving an order to its current
// status returns it unchanged.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status order.OrderStatus) (*order.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	o, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		if o.Status == status {
			return o, nil
		}
		if !order.CanTransition(o.Status, status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
		}
		updated, err := s.repo.UpdateOrderStatus(ctx, id, o.Status, status, nil)
		if err == nil {
			metrics.RecordOrderOperation("update_status", true)
			logger.Log.Info("order status updated",
				zap.Int64("order_id", id),
				zap.String("from", string(o.Status)),
				zap.String("to", string(status)),
			)
			s.publish(ctx, events.OrderStatusChanged, updated)
			return updated, nil
		}
		if !errors.Is(err, storage.ErrStatusConflict) {
			metrics.RecordOrderOperation("update_status", false)
			return nil, fmt.Errorf("update order %d: %w", id, err)
		}
		if o, err = s.findOrder(ctx, id); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: order %d kept changing", ErrInvalidTransition, id)
}

// ExpireOrder cancels a pending order whose payment window has passed and
// reports whether it did. Orders that already left pending are left alone.
func (s *Service) ExpireOrder(ctx context.Context, id int64) (bool, error) {
	updated, err := s.repo.UpdateOrderStatus(ctx, id, order.StatusPending, order.StatusCancelled, nil)
	switch {
	case errors.Is(err, storage.ErrStatusConflict):
		return false, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, ErrNotFound
	case err != nil:
		return false, fmt.Errorf("expire order %d: %w", id, err)
	}
	metrics.RecordExpiredOrder()
	s.publish(ctx, events.OrderStatusChanged, updated)
	return true, nil
}

func (s *Service) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	return s.repo.ListStalePendingOrders(ctx, olderThan, limit)
}

func (s *Service) findOrder(ctx context.Context, id int64) (*order.Order, error) {
	o, err := s.repo.FindOrderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find order %d: %w", id, err)
	}
	return o, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, o *order.Order) {
	if o == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		Type:        t,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Occurred:    s.now().UTC(),
	})
	if err != nil {
		logger.Log.Warn("publish order event",
			zap.String("type", string(t)), zap.Int64("order_id", o.ID), zap.Error(err))
	}
}
