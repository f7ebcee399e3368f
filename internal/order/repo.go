package order

import (
	"context"
	"time"

	"github.com/asaigon/storefront/internal/payment/vnpay"
	"github.com/asaigon/storefront/internal/types/order"
	"github.com/asaigon/storefront/internal/types/payment"
	"github.com/shopspring/decimal"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	FindOrderByID(ctx context.Context, id int64) (*order.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to order.OrderStatus, paymentID *string) (*order.Order, error)
	ListStalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error)
}

type PaymentEventRepository interface {
	SavePaymentEvent(ctx context.Context, e *payment.Event) error
}

// Gateway is the payment provider as seen by checkout and callbacks.
type Gateway interface {
	BuildPaymentRedirect(ctx context.Context, req vnpay.PaymentRequest) (string, error)
	VerifyCallback(params map[string]string) (vnpay.Verification, error)
}

// PriceChecker returns the catalog price of a sellable product.
type PriceChecker interface {
	PriceOf(ctx context.Context, productID int64) (decimal.Decimal, error)
}
