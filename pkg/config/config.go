package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	HTTPServer  HTTPServerConfig
	Ingest      IngestConfig
	Archive     ArchiveConfig
	Aggregation AggregationConfig
	SMTP        SMTPConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers        []string
	TopicReadings  string
	TopicAnomalies string
	NumPartitions  int
	Enabled        bool
}

type HTTPServerConfig struct {
	Port           int
	APIKey         string
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	DefaultIntervalMs float64
	// Timezone names the calendar used for local day boundaries.
	// "Local" means the process's local zone.
	Timezone      string
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// Location resolves Timezone.
func (i IngestConfig) Location() (*time.Location, error) {
	if i.Timezone == "" || i.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(i.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", i.Timezone, err)
	}
	return loc, nil
}

// ArchiveConfig controls the Kafka to Postgres writer.
type ArchiveConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

type AggregationConfig struct {
	HourlyDelay time.Duration
	DailyTime   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "water_user"),
			Password: getEnv("DB_PASSWORD", "water_pass"),
			DBName:   getEnv("DB_NAME", "water_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings:  getEnv("KAFKA_TOPIC_READINGS", "water.readings"),
			TopicAnomalies: getEnv("KAFKA_TOPIC_ANOMALIES", "water.anomalies"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			Enabled:        getEnvAsBool("KAFKA_ENABLED", true),
		},
		HTTPServer: HTTPServerConfig{
			Port:           getEnvAsInt("HTTP_PORT", 8080),
			APIKey:         getEnv("API_KEY", ""),
			RequestTimeout: getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		Ingest: IngestConfig{
			DefaultIntervalMs: getEnvAsFloat("INGEST_DEFAULT_INTERVAL_MS", 5000),
			Timezone:          getEnv("INGEST_TIMEZONE", "Local"),
			RetryAttempts:     getEnvAsInt("INGEST_RETRY_ATTEMPTS", 3),
			RetryDelay:        getEnvAsDuration("INGEST_RETRY_DELAY", 50*time.Millisecond),
			RetryMaxDelay:     getEnvAsDuration("INGEST_RETRY_MAX_DELAY", time.Second),
		},
		Archive: ArchiveConfig{
			BatchSize:     getEnvAsInt("ARCHIVE_BATCH_SIZE", 100),
			FlushInterval: getEnvAsDuration("ARCHIVE_FLUSH_INTERVAL", 5*time.Second),
		},
		Aggregation: AggregationConfig{
			HourlyDelay: getEnvAsDuration("AGGREGATION_HOURLY_DELAY", 5*time.Minute),
			DailyTime:   getEnv("AGGREGATION_DAILY_TIME", "00:05"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "water-ingest@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if config.Ingest.DefaultIntervalMs <= 0 {
		return nil, fmt.Errorf("INGEST_DEFAULT_INTERVAL_MS must be positive, got %v", config.Ingest.DefaultIntervalMs)
	}
	if config.Ingest.RetryAttempts < 1 {
		config.Ingest.RetryAttempts = 1
	}
	if config.Ingest.RetryDelay <= 0 {
		config.Ingest.RetryDelay = time.Millisecond
	}
	if config.Archive.BatchSize < 1 {
		config.Archive.BatchSize = 1
	}
	if config.Archive.FlushInterval <= 0 {
		return nil, fmt.Errorf("ARCHIVE_FLUSH_INTERVAL must be positive, got %v", config.Archive.FlushInterval)
	}
	if _, err := config.Ingest.Location(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
