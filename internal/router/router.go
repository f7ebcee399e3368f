package router

import (
	"context"
	"net/http"
	"time"

	"github.com/asaigon/storefront/internal/catalog"
	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/middleware"
	"github.com/asaigon/storefront/internal/order"
	"github.com/asaigon/storefront/internal/user"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(
	userH *user.Handler,
	catalogH *catalog.Handler,
	orderH *order.Handler,
	jwtSecret []byte,
	userRepo middleware.UserFinder,
	db Pinger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(logger.WithLogging)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Prometheus)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthz(db))

	// Provider callbacks are authenticated by their signature, not a token,
	// and must not be gzip-encoded.
	r.Get("/api/payments/vnpay/ipn", orderH.VNPayIPN)
	r.Post("/api/verify-payment", orderH.VerifyPayment)

	r.Group(func(r chi.Router) {
		r.Use(middleware.GzipHandler)

		r.Route("/api/user", func(r chi.Router) {
			r.Post("/register", userH.Register)
			r.Post("/login", userH.Login)
		})

		r.Get("/api/products", catalogH.ListProducts)
		r.Get("/api/products/{slug}", catalogH.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTMiddleware(jwtSecret, userRepo))

			r.Post("/api/orders", orderH.Checkout)
			r.Get("/api/orders", orderH.ListOrders)
			r.Get("/api/orders/{id}", orderH.GetOrder)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/orders", orderH.AdminListOrders)
				r.Put("/orders/{id}", orderH.AdminUpdateStatus)
				r.Post("/products", catalogH.CreateProduct)
			})
		})
	})

	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
