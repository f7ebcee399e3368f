package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `db:"id" json:"id"`
	Slug        string          `db:"slug" json:"slug"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Category    string          `db:"category" json:"category"`
	Image       string          `db:"image" json:"image"`
	InStock     bool            `db:"in_stock" json:"inStock"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// Filter narrows catalog listings. Empty fields match everything.
type Filter struct {
	Category string
	Search   string
}
