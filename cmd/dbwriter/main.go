package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/internal/database"
	"github.com/smukkama/water-ingest/internal/logging"
	"github.com/smukkama/water-ingest/internal/queue"
	"github.com/smukkama/water-ingest/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger := logging.For("dbwriter")

	fmt.Println("Starting Database Writer Service...")
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, "dbwriter-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Archive.BatchSize, cfg.Archive.FlushInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := batchWriter.Start(ctx); err != nil {
		log.Fatalf("Failed to start batch writer: %v", err)
	}
	fmt.Println("Batch writer started")

	// Log consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				logger.WithFields(logrus.Fields{
					"messages": stats.Messages,
					"bytes":    stats.Bytes,
					"errors":   stats.Errors,
				}).Info("Consumer stats")
			}
		}
	}()

	fmt.Println("\n✓ Database Writer Service is running")
	fmt.Println("✓ Archiving readings from Kafka into PostgreSQL")
	fmt.Printf("✓ Batch size: %d messages | Flush interval: %s\n", cfg.Archive.BatchSize, cfg.Archive.FlushInterval)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	fmt.Println("Database Writer Service stopped")
}
