package main

import (
	"context"
	"os"

	"github.com/caarlos0/env/v11"

	"storefront/internal/event"
	"storefront/internal/orchestrator/application"
	"storefront/internal/saga"
	"storefront/pkg/bus"
	"storefront/pkg/logging"
	"storefront/pkg/shutdown"
	"storefront/pkg/tracing"
)

type config struct {
	KafkaAddr    string `env:"KAFKA_ADDR" envDefault:"localhost:9092"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	Group        string `env:"CONSUMER_GROUP" envDefault:"orchestrator-service"`
}

func main() {
	log := logging.New("orchestrator-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Error("config parse failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "orchestrator-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	writer := bus.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	pub := bus.NewPublisher(log, writer)
	coordinator := application.NewCoordinator(log, saga.NewManager(log), pub)

	consumer := bus.NewConsumer(log, []string{cfg.KafkaAddr},
		[]string{event.TopicOrderOperations, event.TopicStockResponses, event.TopicPaymentResponses},
		cfg.Group,
		bus.EventHandler(log, coordinator.HandleEvent))
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	log.Info("orchestrator running")
	<-ctx.Done()

	_ = consumer.Close()
	log.Info("orchestrator-service shutdown complete")
}
