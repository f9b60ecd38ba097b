package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/order/application"
	orderhttp "storefront/internal/order/infrastructure/http"
	"storefront/internal/order/infrastructure/redisdb"
	"storefront/pkg/bus"
	"storefront/pkg/idempotency"
	"storefront/pkg/logging"
	"storefront/pkg/retry"
	"storefront/pkg/shutdown"
	"storefront/pkg/tracing"
)

type config struct {
	KafkaAddr       string        `env:"KAFKA_ADDR" envDefault:"localhost:9092"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8082"`
	OTLPEndpoint    string        `env:"OTLP_ENDPOINT"`
	Group           string        `env:"CONSUMER_GROUP" envDefault:"order-service"`
	IdemTTL         time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"1h"`
	RetryCount      int           `env:"DB_RETRY_COUNT" envDefault:"5"`
	RetryBackoff    time.Duration `env:"DB_RETRY_BACKOFF" envDefault:"500ms"`
	FindTimeout     time.Duration `env:"FIND_ITEM_TIMEOUT" envDefault:"30s"`
	CheckoutTimeout time.Duration `env:"CHECKOUT_TIMEOUT" envDefault:"500s"`
}

func main() {
	log := logging.New("order-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Error("config parse failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	writer := bus.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	policy := retry.Policy{Attempts: cfg.RetryCount, Backoff: cfg.RetryBackoff}
	repo := redisdb.NewRepository(log, rdb, policy, cfg.IdemTTL)
	idem := idempotency.NewStore(rdb, cfg.IdemTTL)
	pub := bus.NewPublisher(log, writer)
	svc := application.NewService(log, repo, idem, pub, cfg.FindTimeout, cfg.CheckoutTimeout)

	// The response consumer listens on both the stock responses (ItemFound /
	// ItemNotFound for addItem) and the orchestrator's terminal events.
	consumer := bus.NewConsumer(log, []string{cfg.KafkaAddr},
		[]string{event.TopicStockResponses, event.TopicOrchestratorResponses}, cfg.Group,
		bus.EventHandler(log, svc.HandleResponse))
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	handler := orderhttp.NewHandler(log, svc)
	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     handler.Routes(),
		ReadTimeout: 5 * time.Second,
		// Write timeout must outlive the checkout bridge wait.
		WriteTimeout: cfg.CheckoutTimeout + 10*time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = consumer.Close()
	log.Info("order-service shutdown complete")
}
