package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := migrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	log := logrus.WithField("component", "migrations")
	for _, filename := range files {
		log.WithField("file", filename).Info("Running migration")

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	log.WithField("count", len(files)).Info("All migrations completed successfully")
	return nil
}

// migrationFiles lists the .sql files in dir in lexical order
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

// EnsureDevice inserts a device or refreshes its metadata. Null metadata
// never overwrites known values.
func (db *DB) EnsureDevice(ctx context.Context, dev *Device) error {
	query := `
		INSERT INTO devices (device_id, sensor_type, location, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE
		SET sensor_type = COALESCE(EXCLUDED.sensor_type, devices.sensor_type),
		    location = COALESCE(EXCLUDED.location, devices.location),
		    last_seen_at = GREATEST(EXCLUDED.last_seen_at, devices.last_seen_at),
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, dev.DeviceID, dev.SensorType, dev.Location, dev.LastSeenAt)
	return err
}

// UpsertReading archives a reading, replacing any row with the same
// device and timestamp
func (db *DB) UpsertReading(ctx context.Context, row *ReadingRow) error {
	query := `
		INSERT INTO water_readings (
			device_id, reading_ts, reading_time, flow_rate, pulse_count,
			interval_ms, liters_increment, daily_total, anomalies,
			sensor_type, location, created_at, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (device_id, reading_ts) DO UPDATE
		SET reading_time = EXCLUDED.reading_time,
		    flow_rate = EXCLUDED.flow_rate,
		    pulse_count = EXCLUDED.pulse_count,
		    interval_ms = EXCLUDED.interval_ms,
		    liters_increment = EXCLUDED.liters_increment,
		    daily_total = EXCLUDED.daily_total,
		    anomalies = EXCLUDED.anomalies,
		    sensor_type = EXCLUDED.sensor_type,
		    location = EXCLUDED.location,
		    created_at = EXCLUDED.created_at,
		    ingested_at = EXCLUDED.ingested_at
		RETURNING id
	`

	return db.QueryRowContext(
		ctx,
		query,
		row.DeviceID,
		row.ReadingTS,
		row.ReadingTime,
		row.FlowRate,
		row.PulseCount,
		row.IntervalMs,
		row.LitersIncrement,
		row.DailyTotal,
		pq.Array(row.Anomalies),
		row.SensorType,
		row.Location,
		row.CreatedAt,
		row.IngestedAt,
	).Scan(&row.ID)
}
