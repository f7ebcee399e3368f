package storage

import (
	"context"
	"errors"
	"time"

	"github.com/asaigon/storefront/internal/types/order"
	"github.com/asaigon/storefront/internal/types/payment"
	"github.com/asaigon/storefront/internal/types/product"
	"github.com/asaigon/storefront/internal/types/user"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrDuplicate      = errors.New("already exists")
)

// UserRepository отвечает за операции над пользователями.
type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	FindByLogin(ctx context.Context, login string) (*user.User, error)
}

// OrderRepository stores orders. Ids come from the database sequence and
// UpdateOrderStatus is a single compare-and-set on the current status.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	FindOrderByID(ctx context.Context, id int64) (*order.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to order.OrderStatus, paymentID *string) (*order.Order, error)
	ListStalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error)
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, p *product.Product) error
	FindProductByID(ctx context.Context, id int64) (*product.Product, error)
	FindProductBySlug(ctx context.Context, slug string) (*product.Product, error)
	ListProducts(ctx context.Context, f product.Filter) ([]product.Product, error)
}

// PaymentEventRepository is the append-only callback log.
type PaymentEventRepository interface {
	SavePaymentEvent(ctx context.Context, e *payment.Event) error
}

// Storage объединяет все репозитории.
type Storage interface {
	UserRepository
	OrderRepository
	ProductRepository
	PaymentEventRepository

	// Для управления соединением
	Ping(ctx context.Context) error
	Close() error
}
