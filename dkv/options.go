package dkv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*settings)

type settings struct {
	memTableMaxSize     int64
	memTableMaxLifetime time.Duration
	blockSize           int
	bloomBitsPerKey     int
	flushRetryInterval  time.Duration
	logger              *zap.Logger
	registerer          prometheus.Registerer
}

// WithMemTableMaxSize sets the approximate byte size at which the active
// memtable is frozen and queued for flushing.
func WithMemTableMaxSize(n int64) Option {
	return func(s *settings) { s.memTableMaxSize = n }
}

// WithMemTableMaxLifetime freezes the active memtable once it is older than d,
// even if it is small. Zero disables the age limit.
func WithMemTableMaxLifetime(d time.Duration) Option {
	return func(s *settings) { s.memTableMaxLifetime = d }
}

func WithBlockSize(n int) Option {
	return func(s *settings) { s.blockSize = n }
}

func WithBloomBitsPerKey(n int) Option {
	return func(s *settings) { s.bloomBitsPerKey = n }
}

// WithFlushRetryInterval paces retries of a failed flush.
func WithFlushRetryInterval(d time.Duration) Option {
	return func(s *settings) { s.flushRetryInterval = d }
}

// WithLogger routes engine logs to logger. Without it the engine is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRegisterer registers the engine's prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}
