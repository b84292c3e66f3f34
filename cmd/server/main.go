package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/smukkama/water-ingest/internal/ingest"
	"github.com/smukkama/water-ingest/internal/logging"
	"github.com/smukkama/water-ingest/internal/queue"
	"github.com/smukkama/water-ingest/internal/server"
	"github.com/smukkama/water-ingest/internal/store"
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
	logger := logging.For("server")

	fmt.Println("Starting Water Ingest Server...")

	loc, err := cfg.Ingest.Location()
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	opts := []ingest.Option{
		ingest.WithMetadataSource(store.NewMetadataStore(redisClient)),
		ingest.WithLocation(loc),
		ingest.WithDefaultInterval(cfg.Ingest.DefaultIntervalMs),
		ingest.WithRetryPolicy(ingest.RetryPolicy{
			Attempts: cfg.Ingest.RetryAttempts,
			Delay:    cfg.Ingest.RetryDelay,
			MaxDelay: cfg.Ingest.RetryMaxDelay,
			Clock:    clock.WallClock,
		}),
	}

	if cfg.Kafka.Enabled {
		// Create Kafka topics
		if err := queue.EnsureTopics(cfg.Kafka.Brokers,
			queue.TopicConfig(cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions),
			queue.TopicConfig(cfg.Kafka.TopicAnomalies, 1), // single partition for anomalies
		); err != nil {
			logger.WithError(err).Warn("Topic creation failed")
		}

		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
		defer producer.Close()
		opts = append(opts, ingest.WithEventSink(queue.NewReadingPublisher(producer)))
		fmt.Printf("Kafka producer initialized (topic %s)\n", producer.Topic())
	} else {
		fmt.Println("Kafka disabled, reading events will not be published")
	}

	service := ingest.NewService(store.NewReadingStore(redisClient), opts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		service.Collector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.HTTPServer.APIKey == "" {
		logger.Warn("API_KEY is not set, ingest requests will be rejected")
	}

	httpServer := server.NewHTTPServer(&cfg.HTTPServer, service, registry)
	if err := httpServer.Start(); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}

	fmt.Println("\n✓ Water Ingest Server is running")
	fmt.Printf("✓ POST readings to http://localhost:%d%s\n", cfg.HTTPServer.Port, server.IngestPath)
	fmt.Printf("✓ Daily totals use timezone %s\n", loc)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
}
