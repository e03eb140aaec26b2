// Package config centralizes application configuration. Settings load
// from environment variables with defaults and are validated on startup
// to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Blob     BlobConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections kept open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// RedisConfig holds job queue settings.
type RedisConfig struct {
	// Addr is the Redis host:port (default: localhost:6379)
	Addr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// Password is the Redis auth password, if any
	Password string `env:"REDIS_PASSWORD"`

	// DB is the Redis database index (default: 0)
	DB int `env:"REDIS_DB" default:"0"`
}

// BlobConfig selects where source files and result artifacts live.
// With an empty bucket, blobs go to the local directory instead of S3.
type BlobConfig struct {
	// S3Bucket enables S3 storage when set
	S3Bucket string `env:"BLOB_S3_BUCKET"`

	// S3Region is the bucket's region (default: eu-central-1)
	S3Region string `env:"BLOB_S3_REGION" default:"eu-central-1"`

	// S3Endpoint overrides the S3 endpoint for S3-compatible stores
	S3Endpoint string `env:"BLOB_S3_ENDPOINT"`

	// LocalDir is the fallback directory for local blob storage (default: ./data/blobs)
	LocalDir string `env:"BLOB_LOCAL_DIR" default:"./data/blobs"`
}

// EngineConfig holds import/export processing settings.
type EngineConfig struct {
	// BatchSize is the number of rows per progress-reporting batch (default: 100)
	BatchSize int `env:"ENGINE_BATCH_SIZE" default:"100"`

	// Workers is the number of concurrent job workers (default: 4)
	Workers int `env:"ENGINE_WORKERS" default:"4"`

	// PollInterval is the worker's idle sleep between empty dequeues (default: 1s)
	PollInterval time.Duration `env:"ENGINE_POLL_INTERVAL" default:"1s"`

	// MaxFileSize is the maximum uploaded file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"ENGINE_MAX_FILE_SIZE" default:"52428800"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
