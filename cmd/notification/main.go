package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/water-ingest/internal/logging"
	"github.com/smukkama/water-ingest/internal/notification"
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
	logger := logging.For("notification")

	fmt.Println("Starting Notification Service...")

	notifier := notification.NewEmailNotifier(&cfg.SMTP)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (notifications will be logged only)\n", err)
	}

	// Create consumer for anomaly notifications
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAnomalies, "notification-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("\n✓ Notification Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	loop := queue.NewConsumeLoop(consumer, func(ctx context.Context, msg kafka.Message) error {
		n, err := protocol.DecodeAnomalyNotification(msg.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
		}
		if _, _, err := notification.Render(n); err != nil {
			return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
		}
		return notifier.SendAnomalyNotification(n)
	}, logger)
	go loop.Run(ctx)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
