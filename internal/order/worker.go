package order

import (
	"context"
	"errors"
	"time"

	"github.com/asaigon/storefront/internal/logger"
	"github.com/asaigon/storefront/internal/types/order"
	"go.uber.org/zap"
)

// sweepBatch caps how many stale orders one tick loads.
const sweepBatch = 100

type Expirer interface {
	ExpireOrder(ctx context.Context, id int64) (bool, error)
}

type Sweeper interface {
	Expirer
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error)
}

func workerLoop(
	ctx context.Context,
	id int,
	jobs <-chan int64,
	svc Expirer,
) {
	log := logger.Log.With(zap.Int("worker", id))
	log.Debug("sweeper worker started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("sweeper worker stopped by context")
			return

		case orderID, ok := <-jobs:
			if !ok {
				log.Debug("jobs channel closed, worker exiting")
				return
			}
			expired, err := svc.ExpireOrder(ctx, orderID)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					log.Error("expire order", zap.Int64("order_id", orderID), zap.Error(err))
				}
				continue
			}
			if expired {
				log.Info("pending order expired", zap.Int64("order_id", orderID))
			}
		}
	}
}

// DispatcherLoop cancels pending orders older than ttl plus grace. The
// provider stops accepting payment after ttl; grace leaves room for the IPN
// of a payment made just before that deadline. Every interval it loads a
// batch of stale orders and hands their ids to workerCount workers.
func DispatcherLoop(
	ctx context.Context,
	svc Sweeper,
	workerCount int,
	interval time.Duration,
	ttl time.Duration,
	grace time.Duration,
) {
	if grace < 0 {
		grace = 0
	}
	if workerCount < 1 {
		workerCount = 1
	}
	jobs := make(chan int64, workerCount*3)

	for i := 1; i <= workerCount; i++ {
		go workerLoop(ctx, i, jobs, svc)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Info("sweeper started",
		zap.Int("workers", workerCount),
		zap.Duration("interval", interval),
		zap.Duration("ttl", ttl),
		zap.Duration("grace", grace),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("sweeper stopping")
			close(jobs)
			return
		case <-ticker.C:
			dispatchStale(ctx, svc, jobs, ttl+grace)
		}
	}
}

func dispatchStale(ctx context.Context, svc Sweeper, jobs chan<- int64, age time.Duration) {
	orders, err := svc.ListStale(ctx, time.Now().UTC().Add(-age), sweepBatch)
	if err != nil {
		logger.Log.Error("list stale orders", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}
	logger.Log.Debug("stale pending orders found", zap.Int("count", len(orders)))
	for _, o := range orders {
		select {
		case jobs <- o.ID:
		default:
			logger.Log.Warn("jobs channel full, order deferred to next tick", zap.Int64("order_id", o.ID))
		}
	}
}
