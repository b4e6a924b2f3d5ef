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

	"checkout-payments/internal/cache"
	"checkout-payments/internal/client"
	"checkout-payments/internal/config"
	"checkout-payments/internal/event"
	"checkout-payments/internal/logger"
	"checkout-payments/internal/metrics"
	"checkout-payments/internal/repository"
	"checkout-payments/internal/server"
	"checkout-payments/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log, cfg.Environment)
	if err != nil {
		fmt.Printf("Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := client.OpenDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	productRepo := repository.NewProductRepository(db)
	if cfg.Database.Seed {
		if err := productRepo.Seed(ctx); err != nil {
			log.Fatal("seed products failed", zap.Error(err))
		}
	}

	var cartCache cache.CartCache = cache.NopCartCache{}
	rdb, err := client.NewRedisClient(ctx, cfg.Redis)
	switch {
	case err != nil:
		log.Warn("redis unavailable; cart cache disabled", zap.Error(err))
	case rdb != nil:
		defer rdb.Close()
		cartCache = cache.NewRedisCache(rdb, cfg.Redis.CartTTL)
	}

	var publisher event.Publisher = event.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	defer publisher.Close()

	if !cfg.Razorpay.Configured() {
		log.Warn("razorpay credentials missing; checkout will report the gateway as unavailable")
	}
	razorpayClient := client.NewRazorpayClient(&cfg.Razorpay, log)
	m := metrics.New()

	orderRepo := repository.NewOrderRepository(db)
	cartRepo := repository.NewCartRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	cartService := service.NewCartService(cartRepo, productRepo, cartCache, log)
	paymentService := service.NewPaymentService(
		service.NewSnapshotter(cartService, productRepo, log),
		cartService,
		razorpayClient,
		orderRepo,
		webhookEventRepo,
		publisher,
		m,
		log,
		cfg.Currency,
	)
	reconciler := service.NewReconciler(orderRepo, razorpayClient, cartService, publisher, m, log, cfg.Reconcile)

	var workers sync.WaitGroup
	if cfg.Reconcile.Enabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			reconciler.Run(ctx)
		}()
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty; authenticated routes will reject every request")
	}

	srv := server.NewServer(server.Deps{
		PaymentService: paymentService,
		CartService:    cartService,
		Sweeper:        reconciler,
		Metrics:        m,
		Logger:         log,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
	})

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	log.Info("Starting HTTP server", zap.String("addr", serverAddr))
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// a sweep in flight finishes before the database and publisher close
	workers.Wait()
	log.Info("Shutdown complete")
}
