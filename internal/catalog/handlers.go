package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/types/product"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := h.svc.List(r.Context(), product.Filter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	})
	if err != nil {
		logger.Log.Error("list products", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if products == nil {
		products = []product.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, ErrProductNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.Error("get product", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p product.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := h.svc.Create(r.Context(), &p)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, p)
	case errors.Is(err, ErrInvalidProduct):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrSlugTaken):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Log.Error("create product", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
