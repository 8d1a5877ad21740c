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

	"golang.org/x/time/rate"

	"github.com/sportadm/events-api/internal/config"
	healthhandler "github.com/sportadm/events-api/internal/handler/health"
	posthandler "github.com/sportadm/events-api/internal/handler/post"
	"github.com/sportadm/events-api/internal/repository/postgres"
	"github.com/sportadm/events-api/internal/router"
	postsvc "github.com/sportadm/events-api/internal/service/post"
	"github.com/sportadm/events-api/pkg/auth"
	"github.com/sportadm/events-api/pkg/logger"
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

	postService := postsvc.NewService(posts, deliveries)
	jwtService := auth.NewJWTService(cfg.JWT.Secret)

	engine := router.New(
		router.Config{RateLimit: rate.Limit(100), RateBurst: 200},
		jwtService,
		healthhandler.NewHandler(db),
		posthandler.NewHandler(postService),
	)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info("Starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Forced shutdown")
	}
}
