package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sportadm/events-api/internal/config"
	"github.com/sportadm/events-api/internal/email"
	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository/postgres"
	"github.com/sportadm/events-api/internal/service/dispatch"
	"github.com/sportadm/events-api/pkg/logger"
	redisbroker "github.com/sportadm/events-api/pkg/messaging/redis"
	"github.com/sportadm/events-api/pkg/metrics"
	"github.com/sportadm/events-api/pkg/telegram"
	"github.com/sportadm/events-api/pkg/worker"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "Failed to load config")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	posts := postgres.NewPostRepository(base)
	deliveries := postgres.NewDeliveryRepository(base)
	events := postgres.NewEventRepository(base)
	subscriptions := postgres.NewSubscriptionRepository(base)
	locks := postgres.NewLockRepository(base)

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
	}, &log.ZL)
	if err != nil {
		log.Fatal(err, "Failed to connect to Redis")
	}
	defer broker.Close()

	senders := map[model.Channel]dispatch.Sender{
		model.ChannelTelegram: telegram.NewClient(telegram.Config{
			Token:      cfg.Telegram.Token,
			APIBaseURL: cfg.Telegram.APIBaseURL,
			SendRate:   cfg.Telegram.SendRate,
			SendBurst:  cfg.Telegram.SendBurst,
		}),
		model.ChannelEmail: email.NewSender(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		model.ChannelInternal: dispatch.NewInternalSender(log),
	}

	defaultTargets := map[model.Channel]string{
		model.ChannelInternal: "internal",
	}
	if cfg.Telegram.DefaultChatID != "" {
		defaultTargets[model.ChannelTelegram] = cfg.Telegram.DefaultChatID
	}
	if cfg.SMTP.DefaultAddress != "" {
		defaultTargets[model.ChannelEmail] = cfg.SMTP.DefaultAddress
	}

	dispatchService := dispatch.NewService(
		posts, deliveries, events, subscriptions,
		senders, broker,
		dispatch.Config{
			DefaultTargets: defaultTargets,
			MaxAttempts:    cfg.Dispatcher.MaxAttempts,
		},
		log,
	)

	m := metrics.New("events_dispatcher")

	dispatchProcessor := worker.NewDispatchProcessor(
		dispatchService, locks, postgres.LockKey(worker.DispatchLockName),
		worker.DispatchProcessorConfig{
			BatchSize:    cfg.Dispatcher.BatchSize,
			TickInterval: cfg.Dispatcher.TickInterval,
		},
		log, m,
	)
	retryProcessor := worker.NewRetryProcessor(
		dispatchService, locks, postgres.LockKey(worker.RetryLockName),
		worker.RetryProcessorConfig{
			BatchSize:    cfg.Dispatcher.RetryBatchSize,
			TickInterval: cfg.Dispatcher.RetryInterval,
		},
		log, m,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatchProcessor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		retryProcessor.Start(ctx)
	}()

	// Ops surface: liveness plus prometheus scrape target.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		log.Info("Starting dispatcher ops server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Ops server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down dispatcher")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Forced ops server shutdown")
	}
}
