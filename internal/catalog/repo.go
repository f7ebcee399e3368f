package catalog

import (
	"context"

	"github.com/asaigon/storefront/internal/types/product"
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, p *product.Product) error
	FindProductByID(ctx context.Context, id int64) (*product.Product, error)
	FindProductBySlug(ctx context.Context, slug string) (*product.Product, error)
	ListProducts(ctx context.Context, f product.Filter) ([]product.Product, error)
}
