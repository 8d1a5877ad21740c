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

// Advisory-lock names for the two loops. Workers that lose the race skip the
// tick entirely; SKIP LOCKED would partition the batch anyway, the lock just
// keeps redundant instances from polling an empty backlog.
const (
	DispatchLockName = "post_dispatcher"
	RetryLockName    = "post_delivery_retry"
)

type DispatchProcessorConfig struct {
	BatchSize    int
	TickInterval time.Duration
}

// DispatchProcessor runs the periodic dispatch tick: claim a batch of due
// posts, dispatch it, and immediately re-poll while batches come back full so
// a burst backlog drains instead of growing between ticks.
type DispatchProcessor struct {
	svc     *dispatch.Service
	locks   repository.LockRepository
	lockKey int64
	config  DispatchProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatchProcessor(
	svc *dispatch.Service,
	locks repository.LockRepository,
	lockKey int64,
	config DispatchProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *DispatchProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.TickInterval <= 0 {
		panic("TickInterval must be greater than 0")
	}

	return &DispatchProcessor{
		svc:     svc,
		locks:   locks,
		lockKey: lockKey,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *DispatchProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	p.logger.Info("Starting dispatch processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down dispatch processor")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.Error(err, "Dispatch tick failed")
			}
		}
	}
}

func (p *DispatchProcessor) tick(ctx context.Context) error {
	release, acquired, err := p.locks.Acquire(ctx, p.lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		// Another instance is already draining.
		return nil
	}
	defer func() {
		if err := release(); err != nil {
			p.logger.Error(err, "Failed to release dispatch lock")
		}
	}()

	timer := prometheus.NewTimer(p.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	for {
		result, err := p.svc.RunBatch(ctx, time.Now(), p.config.BatchSize)
		if err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("dispatch_batch", "error").Inc()
			return err
		}
		p.metrics.DatabaseOperations.WithLabelValues("dispatch_batch", "success").Inc()

		p.metrics.PostsPublished.Add(float64(result.Published))
		p.metrics.PostsFailed.Add(float64(result.Failed))
		if result.Claimed > 0 {
			p.logger.Info("Dispatched batch",
				"claimed", result.Claimed, "published", result.Published, "failed", result.Failed)
		}

		// A short batch means the due set is drained for this pass.
		if result.Claimed < p.config.BatchSize {
			return nil
		}
	}
}
