package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultDataDir            = "./data"
	DefaultMemTableMaxSize    = 4 << 20
	DefaultMemTableLifetime   = 30 * time.Minute
	DefaultBlockSize          = 4096
	DefaultBloomBitsPerKey    = 10
	DefaultFlushRetryInterval = time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
)

type Config struct {
	DataDir string

	// Storage engine
	MemTableMaxSize     int64
	MemTableMaxLifetime time.Duration
	BlockSize           int
	BloomBitsPerKey     int
	FlushRetryInterval  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		DataDir:             DefaultDataDir,
		MemTableMaxSize:     DefaultMemTableMaxSize,
		MemTableMaxLifetime: DefaultMemTableLifetime,
		BlockSize:           DefaultBlockSize,
		BloomBitsPerKey:     DefaultBloomBitsPerKey,
		FlushRetryInterval:  DefaultFlushRetryInterval,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
	}
}

// LoadConfig reads .env (if present), lets the process environment override
// it and falls back to defaults for anything unset.
func LoadConfig() (Config, error) {
	// godotenv never overrides variables that are already set
	_ = godotenv.Load(".env")

	var errs []error
	cfg := Config{
		DataDir:             getEnv("DKV_DATA_DIR", DefaultDataDir),
		MemTableMaxSize:     getEnvAsInt64("DKV_MEMTABLE_MAX_SIZE", DefaultMemTableMaxSize, &errs),
		MemTableMaxLifetime: getEnvAsDuration("DKV_MEMTABLE_MAX_LIFETIME", DefaultMemTableLifetime, &errs),
		BlockSize:           int(getEnvAsInt64("DKV_BLOCK_SIZE", DefaultBlockSize, &errs)),
		BloomBitsPerKey:     int(getEnvAsInt64("DKV_BLOOM_BITS_PER_KEY", DefaultBloomBitsPerKey, &errs)),
		FlushRetryInterval:  getEnvAsDuration("DKV_FLUSH_RETRY_INTERVAL", DefaultFlushRetryInterval, &errs),
		LogLevel:            getEnv("DKV_LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("DKV_LOG_FORMAT", DefaultLogFormat),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	if c.MemTableMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("memtable max size must be positive, got %d", c.MemTableMaxSize))
	}
	if c.MemTableMaxLifetime < 0 {
		errs = append(errs, fmt.Errorf("memtable max lifetime must not be negative, got %s", c.MemTableMaxLifetime))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size must be positive, got %d", c.BlockSize))
	}
	if c.BloomBitsPerKey <= 0 {
		errs = append(errs, fmt.Errorf("bloom bits per key must be positive, got %d", c.BloomBitsPerKey))
	}
	if c.FlushRetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush retry interval must be positive, got %s", c.FlushRetryInterval))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64, errs *[]error) int64 {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}
