package storage

import "time"

// Config holds storage backend configuration
type Config struct {
	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Recordings blob store: "filesystem" or "s3"
	RecordingsBackend string
	FilesystemRoot    string

	// S3
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:  25,
		PostgresMinConns:  5,
		PostgresTimeout:   10 * time.Second,
		RedisDB:           0,
		RedisPoolSize:     10,
		RecordingsBackend: "filesystem",
		FilesystemRoot:    "/var/lib/doorstep/recordings",
		S3Region:          "us-east-1",
	}
}
