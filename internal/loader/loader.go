// Package loader drives a load run: it pages records out of the source,
// pushes them through the backpressure gate into the pool, and tallies what
// the workers report.
package loader

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/bulkload/internal/protocol"
	"github.com/utkarsh5026/bulkload/internal/sink"
	"github.com/utkarsh5026/bulkload/pool"
)

// PageSource yields batches of records until io.EOF.
type PageSource interface {
	Next() ([]protocol.Record, error)
}

// Dispatcher sends one batch to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []protocol.Record) (*pool.Future, error)
}

// Options describes one run.
type Options struct {
	Source PageSource
	Pool   Dispatcher
	// Sink is the coordinator's own connection, used to truncate before and
	// count after the run. Optional.
	Sink sink.Sink
	// ExpectedRows sizes the progress bar and is compared with the final
	// count. 0 means unknown.
	ExpectedRows int64
	Truncate     bool
	MaxInFlight  int
	// Progress receives the progress bar; nil disables it.
	Progress io.Writer
	RunID    string
	Logger   *log.Entry
}

// Summary is the outcome of a run.
type Summary struct {
	RunID          string
	Batches        int
	Succeeded      int
	Failed         int
	RowsRead       int64
	Processed      int64
	Skipped        int64
	ExpectedRows   int64
	StoredRows     int64 // -1 when the sink was not counted
	Truncated      bool
	PeakInFlight   int
	Elapsed        time.Duration
	FailuresByKind map[protocol.ErrorKind]int
	// Failures aggregates every failed batch.
	Failures error
}

type runState struct {
	mu       sync.Mutex
	summary  Summary
	failures *multierror.Error
}

func (s *runState) batchDone(size int, result pool.TaskResult, err error, logger *log.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.summary.Failed++
		s.failures = multierror.Append(s.failures, err)
		kind := protocol.KindExecution
		var taskErr *pool.TaskError
		if errors.As(err, &taskErr) {
			kind = taskErr.Kind
		}
		s.summary.FailuresByKind[kind]++
		logger.WithError(err).WithField("rows", size).Error("batch failed")
		return
	}
	s.summary.Succeeded++
	s.summary.Processed += int64(result.Processed)
	s.summary.Skipped += int64(result.Skipped)
}

// Run loads every page from opts.Source. Failed batches are logged and counted
// but do not stop the run. The run aborts on a source error, on losing every
// worker, or when ctx is cancelled; the returned summary is valid either way.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "loader")
	}
	logger = logger.WithField("run", opts.RunID)

	state := &runState{summary: Summary{
		RunID:          opts.RunID,
		ExpectedRows:   opts.ExpectedRows,
		StoredRows:     -1,
		FailuresByKind: make(map[protocol.ErrorKind]int),
	}}
	start := time.Now()

	if opts.Truncate && opts.Sink != nil {
		if err := opts.Sink.Truncate(ctx); err != nil {
			return state.summary, err
		}
		state.summary.Truncated = true
		logger.Info("target table truncated")
	}

	gate := pool.NewGate(opts.MaxInFlight)
	bar := newProgress(opts.Progress, opts.ExpectedRows)

	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan []protocol.Record, 1)

	g.Go(func() error {
		defer close(pages)
		for {
			page, err := opts.Source.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "reading source")
			}
			select {
			case pages <- page:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for page := range pages {
			size := len(page)
			state.mu.Lock()
			state.summary.Batches++
			state.summary.RowsRead += int64(size)
			state.mu.Unlock()

			err := gate.Dispatch(gctx, func(ctx context.Context) (*pool.Future, error) {
				return opts.Pool.Dispatch(ctx, page)
			}, func(result pool.TaskResult, err error) {
				state.batchDone(size, result, err, logger)
				bar.add(size)
			})
			switch {
			case err == nil:
			case errors.Is(err, pool.ErrNoLiveWorkers), errors.Is(err, pool.ErrPoolClosed), gctx.Err() != nil:
				return err
			default:
				// Rejected before dispatch, e.g. the chosen worker is disconnected.
				state.batchDone(size, pool.TaskResult{}, err, logger)
				bar.add(size)
			}
		}
		return nil
	})

	runErr := g.Wait()
	gate.Wait()
	bar.finish()

	state.mu.Lock()
	summary := state.summary
	summary.Failures = state.failures.ErrorOrNil()
	state.mu.Unlock()
	summary.PeakInFlight = gate.Peak()

	if opts.Sink != nil {
		stored, err := opts.Sink.Count(ctx)
		if err != nil {
			logger.WithError(err).Warn("could not count stored rows")
		} else {
			summary.StoredRows = stored
		}
	}
	summary.Elapsed = time.Since(start)

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		logger.WithError(runErr).Error("run aborted")
	}
	return summary, runErr
}
