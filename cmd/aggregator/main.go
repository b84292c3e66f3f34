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
	"github.com/smukkama/water-ingest/internal/aggregation"
	"github.com/smukkama/water-ingest/internal/database"
	"github.com/smukkama/water-ingest/internal/logging"
	"github.com/smukkama/water-ingest/internal/scheduler"
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
	logger := logging.For("aggregator")

	fmt.Println("Starting Aggregation Service...")

	loc, err := cfg.Ingest.Location()
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}
	hour, minute, err := aggregation.ParseTimeOfDay(cfg.Aggregation.DailyTime)
	if err != nil {
		log.Fatalf("Invalid AGGREGATION_DAILY_TIME: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	sched := scheduler.New(nil)
	sched.Start()
	defer sched.Stop()
	fmt.Println("Scheduler started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hourly := aggregation.NewHourlyAggregator(db)
	daily := aggregation.NewDailyAggregator(db, loc)

	scheduleRecurring(ctx, sched, logger, "hourly-aggregation",
		func(now time.Time) time.Time {
			return aggregation.NextHourlyRun(now, cfg.Aggregation.HourlyDelay)
		},
		hourly.AggregatePreviousHour,
	)
	scheduleRecurring(ctx, sched, logger, "daily-aggregation",
		func(now time.Time) time.Time {
			return aggregation.NextDailyRun(now, hour, minute, loc)
		},
		daily.AggregatePreviousDay,
	)

	fmt.Println("\n✓ Aggregation Service is running")
	fmt.Printf("✓ Daily rollups at %s %s\n", cfg.Aggregation.DailyTime, loc)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}

// scheduleRecurring runs job at each time next returns, rescheduling after
// every run
func scheduleRecurring(
	ctx context.Context,
	sched *scheduler.Scheduler,
	logger *logrus.Entry,
	name string,
	next func(now time.Time) time.Time,
	job func(ctx context.Context, now time.Time) error,
) {
	var scheduleNext func()
	scheduleNext = func() {
		nextRun := next(time.Now())
		logger.WithFields(logrus.Fields{"job": name, "at": nextRun}).Info("Next run scheduled")

		err := sched.Schedule(name, nextRun, func() {
			if err := job(ctx, time.Now()); err != nil {
				logger.WithError(err).WithField("job", name).Error("Aggregation failed")
			}
			scheduleNext()
		})
		if err != nil && err != scheduler.ErrStopped {
			logger.WithError(err).WithField("job", name).Error("Failed to schedule")
		}
	}

	scheduleNext()
}
