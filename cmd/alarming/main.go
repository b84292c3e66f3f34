package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/smukkama/water-ingest/internal/alarming"
	"github.com/smukkama/water-ingest/internal/logging"
	"github.com/smukkama/water-ingest/internal/protocol"
	"github.com/smukkama/water-ingest/internal/queue"
	"github.com/smukkama/water-ingest/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger := logging.For("alarming")

	fmt.Println("Starting Alarming Service...")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	stateManager := alarming.NewStateManager(redisClient)
	if active, err := stateManager.ActiveStates(ctx); err == nil {
		fmt.Printf("Active anomalies at startup: %d\n", len(active))
	}

	// Create anomaly producer (for notifications)
	anomalyProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAnomalies)
	defer anomalyProducer.Close()
	fmt.Println("Anomaly notification producer initialized")

	tracker := alarming.NewTracker(stateManager, anomalyProducer)

	// Create consumer for readings
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, "alarming-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	fmt.Println("\n✓ Alarming Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	loop := queue.NewConsumeLoop(consumer, func(ctx context.Context, msg kafka.Message) error {
		event, err := protocol.DecodeReadingEvent(msg.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
		}

		// Evaluation is at-most-once.
		if err := tracker.Evaluate(ctx, event); err != nil {
			logger.WithError(err).WithField("device_id", event.Reading.DeviceID).Error("Failed to evaluate reading")
		}
		return nil
	}, logger)
	go loop.Run(ctx)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
