package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/fern/pkg/apperror"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" envDefault:"fern-api"`
	Port                          int      `env:"PORT" envDefault:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
	ShutdownTimeoutSeconds        int      `env:"HTTP_SERVER_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"15"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" envDefault:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`

	// Database
	DatabaseDriver                string        `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" envDefault:""`
	DatabasePassword              string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName                  string        `env:"DB_NAME" envDefault:"fern"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabasePath                  string        `env:"DB_PATH" envDefault:"fern.db"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10m"`
	DatabaseMigrationVersion      uint          `env:"DB_MIGRATION_VERSION" envDefault:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" envDefault:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`
	DatabaseAutoMigrate           bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	// Blob store for source bytes
	BlobBackend            string `env:"BLOB_BACKEND" envDefault:"fs"`
	BlobDir                string `env:"BLOB_DIR" envDefault:"data/blobs"`
	BlobS3Bucket           string `env:"BLOB_S3_BUCKET" envDefault:""`
	BlobS3Region           string `env:"BLOB_S3_REGION" envDefault:"us-east-1"`
	BlobS3Endpoint         string `env:"BLOB_S3_ENDPOINT" envDefault:""`
	BlobS3AccessKey        string `env:"BLOB_S3_ACCESS_KEY" envDefault:""`
	BlobS3SecretKey        string `env:"BLOB_S3_SECRET_KEY" envDefault:""`
	BlobGCSBucket          string `env:"BLOB_GCS_BUCKET" envDefault:""`
	BlobGCSCredentialsFile string `env:"BLOB_GCS_CREDENTIALS_FILE" envDefault:""`

	// Snapshot cache
	SnapshotCache           string        `env:"SNAPSHOT_CACHE" envDefault:"memory"`
	SnapshotCacheMaxEntries int           `env:"SNAPSHOT_CACHE_MAX_ENTRIES" envDefault:"10000"`
	SnapshotCacheTTL        time.Duration `env:"SNAPSHOT_CACHE_TTL" envDefault:"1h"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka change events
	KafkaEnabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic         string   `env:"KAFKA_TOPIC" envDefault:"fern-events"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fern-snapshot-worker"`
	KafkaBatchSize     int      `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	KafkaBatchTimeout  int      `env:"KAFKA_BATCH_TIMEOUT_MS" envDefault:"100"`
	KafkaRequiredAcks  int      `env:"KAFKA_REQUIRED_ACKS" envDefault:"1"`
	KafkaCompression   string   `env:"KAFKA_COMPRESSION" envDefault:"snappy"`
	WorkerEnabled      bool     `env:"WORKER_ENABLED" envDefault:"false"`
	WorkerConcurrency  int      `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// Graph projection (Neo4j/Memgraph)
	GraphProjectionEnabled bool   `env:"GRAPH_PROJECTION_ENABLED" envDefault:"false"`
	GraphDBHost            string `env:"GRAPH_DB_HOST" envDefault:"localhost"`
	GraphDBPort            int    `env:"GRAPH_DB_PORT" envDefault:"7687"`
	GraphDBUser            string `env:"GRAPH_DB_USER" envDefault:""`
	GraphDBPassword        string `env:"GRAPH_DB_PASSWORD" envDefault:""`

	// Tracing
	TracingEnabled      bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingOTLPEndpoint string `env:"TRACING_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingOTLPProtocol string `env:"TRACING_OTLP_PROTOCOL" envDefault:"grpc"`
	TracingOTLPInsecure bool   `env:"TRACING_OTLP_INSECURE" envDefault:"true"`

	// Metrics
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Integrity
	AcyclicRelationshipTypes []string `env:"ACYCLIC_RELATIONSHIP_TYPES" envDefault:"part_of,depends_on"`
	IntegrityScanEnabled     bool     `env:"INTEGRITY_SCAN_ENABLED" envDefault:"false"`
	IntegrityScanSchedule    string   `env:"INTEGRITY_SCAN_SCHEDULE" envDefault:"@every 15m"`
	IntegrityScanLockEnabled bool     `env:"INTEGRITY_SCAN_LOCK_ENABLED" envDefault:"false"`

	// Schemas applied at startup
	SchemaSeedFile string `env:"SCHEMA_SEED_FILE" envDefault:""`
}

// Load reads a .env file when present, then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values.
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"DB_DRIVER", c.DatabaseDriver, []string{"postgres", "sqlite3"}},
		{"BLOB_BACKEND", c.BlobBackend, []string{"fs", "s3", "gcs"}},
		{"SNAPSHOT_CACHE", c.SnapshotCache, []string{"memory", "redis", "none"}},
		{"TRACING_OTLP_PROTOCOL", c.TracingOTLPProtocol, []string{"grpc", "http"}},
		{"KAFKA_COMPRESSION", c.KafkaCompression, []string{"none", "gzip", "snappy", "lz4", "zstd"}},
		{"LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"}},
	}

	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return apperror.InvalidArgument("%s must be one of %v, got %q", check.name, check.allowed, check.value)
		}
	}

	if c.WorkerEnabled && !c.KafkaEnabled {
		return apperror.InvalidArgument("WORKER_ENABLED requires KAFKA_ENABLED")
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
