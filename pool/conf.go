package pool

import (
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/bulkload/internal/cpu"
	"github.com/utkarsh5026/bulkload/internal/metrics"
)

const (
	DefaultTaskTimeout    = 5 * time.Minute
	DefaultStartupTimeout = 30 * time.Second
	MaxWorkers            = 8
)

// PoolOption is a functional option for configuring the pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	workerCount    int
	taskTimeout    time.Duration
	startupTimeout time.Duration
	rateLimiter    *rate.Limiter
	metrics        *metrics.Metrics
	logger         *log.Entry
}

func createConfig(opts ...PoolOption) poolConfig {
	cfg := poolConfig{
		workerCount:    DefaultWorkerCount(),
		taskTimeout:    DefaultTaskTimeout,
		startupTimeout: DefaultStartupTimeout,
		logger:         log.WithField("component", "pool"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DefaultWorkerCount is the number of CPUs this process may run on, capped at
// MaxWorkers.
func DefaultWorkerCount() int {
	return min(cpu.NumCPU(), MaxWorkers)
}

// WithWorkerCount sets the number of workers. Values below 1 are ignored.
func WithWorkerCount(count int) PoolOption {
	return func(cfg *poolConfig) {
		if count > 0 {
			cfg.workerCount = count
		}
	}
}

// WithTaskTimeout sets how long a dispatched task may stay unresolved before
// the pool fails it.
func WithTaskTimeout(d time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.taskTimeout = d
		}
	}
}

// WithStartupTimeout bounds how long Start waits for workers to report ready.
// Workers still starting after that are killed.
func WithStartupTimeout(d time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.startupTimeout = d
		}
	}
}

// WithRateLimit caps the dispatch rate. Dispatch waits for a token before
// selecting a worker.
//
// Example:
//
//	WithRateLimit(10, 5) // Allow 10 batches/sec with burst of 5
func WithRateLimit(batchesPerSecond float64, burst int) PoolOption {
	return func(cfg *poolConfig) {
		if batchesPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(batchesPerSecond), burst)
		}
	}
}

// WithMetrics records dispatch, outcome and worker metrics into m.
func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(cfg *poolConfig) {
		cfg.metrics = m
	}
}

// WithLogger sets the entry the pool logs through. A nil logger is ignored.
func WithLogger(logger *log.Entry) PoolOption {
	return func(cfg *poolConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}
