package pool

import (
	"testing"
	"time"

	"github.com/utkarsh5026/bulkload/internal/cpu"
)

func TestDefaultWorkerCount(t *testing.T) {
	want := min(cpu.NumCPU(), MaxWorkers)
	if got := DefaultWorkerCount(); got != want {
		t.Errorf("DefaultWorkerCount() = %d, want %d", got, want)
	}
	if got := createConfig().workerCount; got != want {
		t.Errorf("default worker count = %d, want %d", got, want)
	}
}

func TestCreateConfig(t *testing.T) {
	cfg := createConfig(
		WithWorkerCount(3),
		WithWorkerCount(0),
		WithTaskTimeout(time.Second),
		WithRateLimit(10, 2),
		WithLogger(nil),
	)
	if cfg.workerCount != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.workerCount)
	}
	if cfg.taskTimeout != time.Second {
		t.Errorf("expected 1s timeout, got %s", cfg.taskTimeout)
	}
	if cfg.rateLimiter == nil {
		t.Error("expected a rate limiter")
	}
	if cfg.logger == nil {
		t.Error("a nil logger must not replace the default")
	}
}
