package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaigon/storefront/internal/cache"
	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/storage"
	"github.com/asaigon/storefront/internal/types/product"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUnavailable     = errors.New("product is not available for sale")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrSlugTaken       = errors.New("product slug already exists")
)

// outOfStock is cached in place of a price for products that cannot be sold.
const outOfStock = "-"

type Service struct {
	repo     ProductRepository
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewService(repo ProductRepository, c cache.Cache, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, cacheTTL: cacheTTL}
}

func (s *Service) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.ListProducts(ctx, f)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*product.Product, error) {
	p, err := s.repo.FindProductBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

func (s *Service) Create(ctx context.Context, p *product.Product) error {
	p.Slug = strings.TrimSpace(p.Slug)
	p.Name = strings.TrimSpace(p.Name)
	if p.Slug == "" || p.Name == "" {
		return fmt.Errorf("%w: slug and name are required", ErrInvalidProduct)
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidProduct)
	}
	p.CreatedAt = time.Now().UTC()
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

// PriceOf returns the current catalog price of a sellable product. Unknown
// and out-of-stock products yield ErrUnavailable.
func (s *Service) PriceOf(ctx context.Context, productID int64) (decimal.Decimal, error) {
	key := s.cache.GenerateKey("price", strconv.FormatInt(productID, 10))

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Log.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
	}
	switch {
	case cached == outOfStock:
		return decimal.Zero, fmt.Errorf("%w: product %d", ErrUnavailable, productID)
	case cached != "":
		if price, err := decimal.NewFromString(cached); err == nil {
			return price, nil
		}
	}

	p, err := s.repo.FindProductByID(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: product %d", ErrUnavailable, productID)
	}
	if err != nil {
		return decimal.Zero, err
	}

	value := p.Price.String()
	if !p.InStock {
		value = outOfStock
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		logger.Log.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
	}
	if !p.InStock {
		return decimal.Zero, fmt.Errorf("%w: product %d", ErrUnavailable, productID)
	}
	return p.Price, nil
}
