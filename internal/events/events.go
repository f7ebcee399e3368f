// Package events publishes order lifecycle notifications for downstream
// consumers (mailers, fulfilment).
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderCreated       Type = "created"
	OrderStatusChanged Type = "status_changed"
)

type Event struct {
	Type        Type            `json:"type"`
	OrderID     int64           `json:"orderId"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Occurred    time.Time       `json:"occurred"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
