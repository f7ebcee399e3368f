package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asaigon/storefront/internal/cache"
	"github.com/asaigon/storefront/internal/storage"
	"github.com/asaigon/storefront/internal/types/product"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProductRepo struct {
	products map[int64]*product.Product
	lookups  int
	errOnGet error
}

func newStubProductRepo() *stubProductRepo {
	return &stubProductRepo{products: make(map[int64]*product.Product)}
}

func (r *stubProductRepo) CreateProduct(ctx context.Context, p *product.Product) error {
	for _, existing := range r.products {
		if existing.Slug == p.Slug {
			return storage.ErrDuplicate
		}
	}
	p.ID = int64(len(r.products) + 1)
	r.products[p.ID] = p
	return nil
}

func (r *stubProductRepo) FindProductByID(ctx context.Context, id int64) (*product.Product, error) {
	r.lookups++
	if r.errOnGet != nil {
		return nil, r.errOnGet
	}
	p, ok := r.products[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (r *stubProductRepo) FindProductBySlug(ctx context.Context, slug string) (*product.Product, error) {
	for _, p := range r.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *stubProductRepo) ListProducts(ctx context.Context, f product.Filter) ([]product.Product, error) {
	var out []product.Product
	for _, p := range r.products {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func newTestService() (*Service, *stubProductRepo) {
	repo := newStubProductRepo()
	repo.products[1] = &product.Product{ID: 1, Slug: "ao-dai", Name: "Áo dài", Price: decimal.NewFromInt(100000), Category: "ao-dai", InStock: true}
	repo.products[2] = &product.Product{ID: 2, Slug: "non-la", Name: "Nón lá", Price: decimal.NewFromInt(90000), Category: "phu-kien", InStock: false}
	return NewService(repo, cache.NewMemoryCache("test"), time.Minute), repo
}

func TestPriceOf(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	price, err := svc.PriceOf(ctx, 1)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100000)))

	price, err = svc.PriceOf(ctx, 1)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 1, repo.lookups, "second lookup must be served from cache")

	_, err = svc.PriceOf(ctx, 2)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = svc.PriceOf(ctx, 2)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, repo.lookups)

	_, err = svc.PriceOf(ctx, 99)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPriceOfRepoError(t *testing.T) {
	svc, repo := newTestService()
	repo.errOnGet = errors.New("db down")
	_, err := svc.PriceOf(context.Background(), 1)
	assert.EqualError(t, err, "db down")
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p := &product.Product{Slug: " quat-giay ", Name: "Quạt giấy", Price: decimal.NewFromInt(50000)}
	require.NoError(t, svc.Create(ctx, p))
	assert.Equal(t, "quat-giay", p.Slug)
	assert.False(t, p.CreatedAt.IsZero())

	assert.ErrorIs(t, svc.Create(ctx, &product.Product{Slug: "x", Name: "x", Price: decimal.Zero}), ErrInvalidProduct)
	assert.ErrorIs(t, svc.Create(ctx, &product.Product{Name: "x", Price: decimal.NewFromInt(1)}), ErrInvalidProduct)
	assert.ErrorIs(t, svc.Create(ctx, &product.Product{Slug: "ao-dai", Name: "dup", Price: decimal.NewFromInt(1)}), ErrSlugTaken)
}

func TestHandlers(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Get("/api/products", h.ListProducts)
	r.Get("/api/products/{slug}", h.GetProduct)
	r.Post("/api/admin/products", h.CreateProduct)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"list by category", http.MethodGet, "/api/products?category=phu-kien", "", http.StatusOK, `"slug":"non-la"`},
		{"list empty", http.MethodGet, "/api/products?category=none", "", http.StatusOK, `[]`},
		{"get by slug", http.MethodGet, "/api/products/ao-dai", "", http.StatusOK, `"name":"Áo dài"`},
		{"unknown slug", http.MethodGet, "/api/products/missing", "", http.StatusNotFound, ""},
		{"create", http.MethodPost, "/api/admin/products", `{"slug":"khan","name":"Khăn","price":"120000"}`, http.StatusCreated, `"slug":"khan"`},
		{"create duplicate", http.MethodPost, "/api/admin/products", `{"slug":"khan","name":"Khăn","price":"120000"}`, http.StatusConflict, ""},
		{"create invalid", http.MethodPost, "/api/admin/products", `{"slug":"x","name":"x","price":"0"}`, http.StatusBadRequest, ""},
		{"create bad json", http.MethodPost, "/api/admin/products", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}
