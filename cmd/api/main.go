package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-commerce-orders/internal/config"
	"github.com/ariefcatur/go-commerce-orders/internal/courier"
	"github.com/ariefcatur/go-commerce-orders/internal/httpx"
	"github.com/ariefcatur/go-commerce-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-commerce-orders/internal/kafka"
	"github.com/ariefcatur/go-commerce-orders/internal/logger"
	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/postgres"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("db connect", "error", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalw("db migrate", "error", err)
	}

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("postgres", func() error {
		c, done := context.WithTimeout(ctx, time.Second)
		defer done()
		return db.Ping(c)
	})

	// Redis
	var rdb redis.Cmdable
	if cfg.RedisAddr != "" {
		c := redisx.New(cfg.RedisAddr)
		defer c.Close()
		rdb = c
		health.AddReadinessCheck("redis", healthcheck.TCPDialCheck(cfg.RedisAddr, time.Second))
	}

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:       repo,
		Redis:       rdb,
		Log:         log.Named("orders"),
		ServiceName: cfg.ServiceName,
		Pricing: orders.Pricing{
			GSTRate:               cfg.GSTRate,
			FreeDeliveryThreshold: cfg.FreeDeliveryThreshold,
			DeliveryCharge:        cfg.DeliveryCharge,
		},
	}

	// Kafka producer
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("kafka"))
		prod.Start(ctx)
		svc.Producer = prod
	}

	var dispatcher *shipping.Dispatcher
	if cfg.CourierEmail != "" {
		cc := courier.New(courier.Config{
			BaseURL:        cfg.CourierBaseURL,
			Email:          cfg.CourierEmail,
			Password:       cfg.CourierPassword,
			Timeout:        cfg.CourierTimeout,
			TokenTTL:       cfg.CourierTokenTTL,
			PickupLocation: cfg.CourierPickupLocation,
		}, log)
		cc.Redis = rdb
		dispatcher = &shipping.Dispatcher{Orders: svc, Courier: cc, Redis: rdb, Log: log.Named("shipping")}
	} else {
		log.Warn("COURIER_EMAIL not set; shipment endpoints are disabled")
	}
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set; courier webhooks will be rejected")
	}

	router := httpx.NewRouter(log.Named("http"))
	router.Get("/ready", health.ReadyEndpoint)
	(&httpx.OrdersHandler{Orders: svc, Shipping: dispatcher, Log: log}).Register(router)
	(&httpx.ProductsHandler{
		Inventory: &inventory.Service{Repo: repo, Redis: rdb, Log: log.Named("inventory")},
		Log:       log,
	}).Register(router)
	(&httpx.WebhookHandler{
		Reconciler: &shipping.Reconciler{Orders: svc, Redis: rdb, Log: log.Named("webhook")},
		Secret:     cfg.WebhookSecret,
		Log:        log,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infow("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("listen", "error", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // flush & close writer
		cancel()
		prod.WaitClosed()
	}
}
