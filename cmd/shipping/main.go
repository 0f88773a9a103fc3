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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/config"
	"github.com/ariefcatur/go-commerce-orders/internal/courier"
	kafkax "github.com/ariefcatur/go-commerce-orders/internal/kafka"
	"github.com/ariefcatur/go-commerce-orders/internal/logger"
	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/postgres"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

// The shipping worker books accepted orders with the courier and turns idle carts into
// abandoned orders.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName+"-shipping")
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required by the shipping worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("db connect", "error", err)
	}
	defer db.Close()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(1000))
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
	for _, b := range cfg.KafkaBrokers {
		health.AddReadinessCheck("kafka-"+b, healthcheck.TCPDialCheck(b, time.Second))
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("kafka"))
	prod.Start(ctx)

	svc := &orders.Service{
		Store:       &orders.Repo{DB: db},
		Producer:    prod,
		Redis:       rdb,
		Log:         log.Named("orders"),
		ServiceName: cfg.ServiceName + "-shipping",
		Pricing: orders.Pricing{
			GSTRate:               cfg.GSTRate,
			FreeDeliveryThreshold: cfg.FreeDeliveryThreshold,
			DeliveryCharge:        cfg.DeliveryCharge,
		},
	}

	cc := courier.New(courier.Config{
		BaseURL:        cfg.CourierBaseURL,
		Email:          cfg.CourierEmail,
		Password:       cfg.CourierPassword,
		Timeout:        cfg.CourierTimeout,
		TokenTTL:       cfg.CourierTokenTTL,
		PickupLocation: cfg.CourierPickupLocation,
	}, log)
	cc.Redis = rdb

	dispatcher := &shipping.Dispatcher{Orders: svc, Courier: cc, Redis: rdb, Log: log.Named("dispatcher")}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ShippingGroup, orders.TopicOrderStatusChanged, cfg.ShippingWorkers, log.Named("consumer"))
	go func() {
		log.Infow("shipping consumer started",
			"group", cfg.ShippingGroup, "topic", orders.TopicOrderStatusChanged, "workers", cfg.ShippingWorkers)
		if err := cons.Start(ctx, dispatcher.HandleStatusChanged); err != nil {
			log.Errorw("consumer exit", "error", err)
			cancel()
		}
	}()

	go sweep(ctx, svc, cfg.SweepInterval, cfg.AbandonedCartAfter, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.Handler())
	hsrv := &http.Server{Addr: cfg.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("health server", "error", err)
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down worker...")
	cancel()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = hsrv.Shutdown(ctx2)
	prod.WaitClosed()
}

// sweep runs the abandoned-cart sweep once per interval until ctx ends.
func sweep(ctx context.Context, svc *orders.Service, every, idleFor time.Duration, log *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.SweepAbandonedCarts(ctx, idleFor); err != nil {
				log.Warnw("abandoned cart sweep", "error", err)
			}
		}
	}
}
