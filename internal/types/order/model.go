package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusCompleted     OrderStatus = "completed"
	StatusPaymentFailed OrderStatus = "payment_failed"
	StatusCancelled     OrderStatus = "cancelled"
	StatusDelivered     OrderStatus = "delivered"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:       {StatusCompleted, StatusPaymentFailed, StatusCancelled},
	StatusCompleted:     {StatusDelivered},
	StatusPaymentFailed: {StatusCancelled},
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusPaymentFailed, StatusCancelled, StatusDelivered:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
// Staying in the same status is always allowed and treated as a no-op by callers.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Item struct {
	ProductID int64           `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"imageRef,omitempty"`
	Category  string          `json:"category,omitempty"`
	Size      *string         `json:"size,omitempty"`
}

// Subtotal is unitPrice × quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID          int64           `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"userId"`
	Items       []Item          `db:"items" json:"items"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"totalAmount"`
	Status      OrderStatus     `db:"status" json:"status"`
	PaymentID   *string         `db:"payment_id" json:"paymentId,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   *time.Time      `db:"updated_at" json:"updatedAt,omitempty"`
}

// ItemsTotal sums the subtotals of all line items.
func ItemsTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
