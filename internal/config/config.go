package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	LockDatabaseURL string
	LockTable       string

	// CatalogDatabaseURL enables catalog lookups when set.
	CatalogDatabaseURL string

	// RedisAddr enables object leases when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ClickHouseHost enables the ClickHouse event sink when set.
	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string

	CopyPollInterval time.Duration
	CopyPollTimeout  time.Duration
	BlockSize        int
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

type ErrInvalidEnvVar struct {
	Name  string
	Value string
	Err   error
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("environment variable %q has invalid value %q: %v", e.Name, e.Value, e.Err)
}

func (e *ErrInvalidEnvVar) Unwrap() error {
	return e.Err
}

// Load reads configuration from environment variables.
// Returns an error if required variables are missing or a value does not parse.
func Load() (*Config, error) {
	config := Config{}

	required := []struct {
		name string
		dst  *string
	}{
		{"MINIO_ENDPOINT", &config.MinIOEndpoint},
		{"MINIO_ACCESS_KEY", &config.MinIOAccessKey},
		{"MINIO_SECRET_KEY", &config.MinIOSecretKey},
		{"LOCK_DATABASE_URL", &config.LockDatabaseURL},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.name)
		if *r.dst == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: r.name}
		}
	}

	config.MinIOUseSSL = os.Getenv("MINIO_USE_SSL") == "true"
	config.LockTable = getenv("LOCK_TABLE", "file_locks")
	config.CatalogDatabaseURL = os.Getenv("CATALOG_DATABASE_URL")

	config.RedisAddr = os.Getenv("REDIS_ADDR")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")

	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	config.ClickHousePort = getenv("CLICKHOUSE_PORT", "9000")
	config.ClickHouseUser = getenv("CLICKHOUSE_USER", "default")
	config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
	config.ClickHouseDatabase = getenv("CLICKHOUSE_DATABASE", "default")

	var err error
	if config.RedisDB, err = intVar("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.CopyPollInterval, err = durationVar("COPY_POLL_INTERVAL", 250*time.Millisecond); err != nil {
		return nil, err
	}
	if config.CopyPollTimeout, err = durationVar("COPY_POLL_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.BlockSize, err = intVar("BLOCK_SIZE", 5<<20); err != nil {
		return nil, err
	}

	return &config, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intVar(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ErrInvalidEnvVar{Name: name, Value: v, Err: err}
	}
	if n < 0 {
		return 0, &ErrInvalidEnvVar{Name: name, Value: v, Err: fmt.Errorf("must not be negative")}
	}
	return n, nil
}

func durationVar(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ErrInvalidEnvVar{Name: name, Value: v, Err: err}
	}
	if d <= 0 {
		return 0, &ErrInvalidEnvVar{Name: name, Value: v, Err: fmt.Errorf("must be positive")}
	}
	return d, nil
}
