package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sportadm/events-api/internal/repository"
	"github.com/sportadm/events-api/internal/service/dispatch"
	"github.com/sportadm/events-api/pkg/logger"
	"github.com/sportadm/events-api/pkg/metrics"
)

type RetryProcessorConfig struct {
	BatchSize    int
	TickInterval time.Duration
}

// RetryProcessor drives the delivery ledger: it periodically claims FAILED
// attempts whose backoff has elapsed and re-sends them, independent of the
// dispatch loop.
type RetryProcessor struct {
	svc     *dispatch.Service
	locks   repository.LockRepository
	lockKey int64
	config  RetryProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRetryProcessor(
	svc *dispatch.Service,
	locks repository.LockRepository,
	lockKey int64,
	config RetryProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *RetryProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.TickInterval <= 0 {
		panic("TickInterval must be greater than 0")
	}

	return &RetryProcessor{
		svc:     svc,
		locks:   locks,
		lockKey: lockKey,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *RetryProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	p.logger.Info("Starting retry processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down retry processor")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.Error(err, "Retry tick failed")
			}
		}
	}
}

func (p *RetryProcessor) tick(ctx context.Context) error {
	release, acquired, err := p.locks.Acquire(ctx, p.lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := release(); err != nil {
			p.logger.Error(err, "Failed to release retry lock")
		}
	}()

	timer := prometheus.NewTimer(p.metrics.RetryLatency)
	defer timer.ObserveDuration()

	for {
		claimed, err := p.svc.RunRetryBatch(ctx, time.Now(), p.config.BatchSize)
		if err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("retry_batch", "error").Inc()
			return err
		}
		p.metrics.DatabaseOperations.WithLabelValues("retry_batch", "success").Inc()

		p.metrics.RetriesClaimed.Add(float64(claimed))
		if claimed > 0 {
			p.logger.Info("Retried failed deliveries", "claimed", claimed)
		}

		if claimed < p.config.BatchSize {
			return nil
		}
	}
}
