package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaigon/storefront/internal/cache"
	"github.com/asaigon/storefront/internal/catalog"
	"github.com/asaigon/storefront/internal/events"
	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/order"
	"github.com/asaigon/storefront/internal/payment/vnpay"
	"github.com/asaigon/storefront/internal/router"
	"github.com/asaigon/storefront/internal/storage"
	pgstorage "github.com/asaigon/storefront/internal/storage/postgres"
	"github.com/asaigon/storefront/internal/storage/sqlite"
	"github.com/asaigon/storefront/internal/user"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := NewConfig()
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer func() { _ = logger.Log.Sync() }()

	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Log.Warn("failed to close storage", zap.Error(err))
		}
	}()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	userSvc := user.NewService(store, []byte(cfg.JWTSecret), cfg.JWTTTL)
	if cfg.AdminLogin != "" {
		if err := userSvc.EnsureAdmin(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
			return err
		}
	}

	priceCache := cache.NewMemoryCache("storefront")
	if cfg.RedisAddr != "" {
		priceCache = cache.NewRedisCache(cfg.RedisAddr, "storefront")
	}
	catalogSvc := catalog.NewService(store, priceCache, cfg.PriceCacheTTL)

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		mq, err := events.NewRabbitMQ(cfg.RabbitMQURL, cfg.OrderExchange)
		if err != nil {
			return err
		}
		defer func() { _ = mq.Close() }()
		publisher = mq
	}

	gateway := vnpay.NewClient(vnpay.Config{
		TmnCode:     cfg.VNPTmnCode,
		HashSecret:  cfg.VNPHashSecret,
		PayURL:      cfg.VNPURL,
		ReturnURL:   cfg.VNPReturnURL,
		ExpireAfter: cfg.PaymentTTL,
	})
	orderSvc := order.NewService(store, store, gateway,
		order.WithPriceChecker(catalogSvc),
		order.WithPublisher(publisher),
		order.WithGatewayTimeout(cfg.GatewayTimeout),
	)

	r := router.NewRouter(
		user.NewHandler(userSvc),
		catalog.NewHandler(catalogSvc),
		order.NewHandler(orderSvc),
		[]byte(cfg.JWTSecret),
		store,
		store,
	)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go order.DispatcherLoop(ctx, orderSvc, cfg.SweepWorkers, cfg.SweepInterval, cfg.PaymentTTL, cfg.PaymentGrace)

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Log.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Log.Info("server stopped gracefully")
	return nil
}

func openStorage(cfg *Config) (storage.Storage, error) {
	if cfg.usesPostgres() {
		s, err := pgstorage.NewPostgresStorage(cfg.DatabaseConnection)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		return s, nil
	}
	s, err := sqlite.Open(cfg.DatabaseConnection)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite storage: %w", err)
	}
	logger.Log.Info("using embedded sqlite storage", zap.String("path", cfg.DatabaseConnection))
	return s, nil
}
